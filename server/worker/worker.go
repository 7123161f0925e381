// Package worker executes delivery attempts: it resolves the SCIM operation
// an event implies for a destination, mints a bearer token, translates the
// payload, performs the HTTP call and records the outcome. It also contains
// the event intake that fans local events out into per-destination
// deliveries.
package worker

import (
	"context"
	"fmt"
	"net/http"

	"github.com/WatchBeam/clock"
	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/log/level"
	"github.com/scimrelay/scimrelay/server/contexts/ctxerr"
	"github.com/scimrelay/scimrelay/server/scim"
	"github.com/scimrelay/scimrelay/server/scimrelay"
)

// TokenMinter produces a bearer token for one delivery attempt.
type TokenMinter interface {
	MintForDestination(ctx context.Context, d *scimrelay.Destination, scopes []string) (string, error)
}

// SCIMClient performs one SCIM HTTP request. Implemented by scim.Client.
type SCIMClient interface {
	Do(ctx context.Context, baseURL, token, method, resourcePath, resourceID string, body interface{}) scim.Result
}

// Worker processes claimed deliveries one attempt at a time. Attempts for
// distinct deliveries may run concurrently; a single delivery is only ever
// processed by one goroutine because the store hands each claimed row to
// exactly one caller.
type Worker struct {
	ds     scimrelay.Datastore
	minter TokenMinter
	client SCIMClient
	clock  clock.Clock
	log    kitlog.Logger
}

// NewWorker returns a delivery worker.
func NewWorker(ds scimrelay.Datastore, minter TokenMinter, client SCIMClient, c clock.Clock, logger kitlog.Logger) *Worker {
	if c == nil {
		c = clock.C
	}
	return &Worker{
		ds:     ds,
		minter: minter,
		client: client,
		clock:  c,
		log:    logger,
	}
}

// ProcessDelivery runs one attempt for a claimed delivery and records the
// outcome. The returned error reports only persistence problems; delivery
// outcomes (success, retry, permanent failure) are written to the store and
// are not errors.
func (w *Worker) ProcessDelivery(ctx context.Context, delivery *scimrelay.Delivery) error {
	log := kitlog.With(w.log, "delivery_id", delivery.ID, "event_id", delivery.EventID, "destination_id", delivery.DestinationID)

	dest, err := w.ds.Destination(ctx, delivery.DestinationID)
	if err != nil {
		if scimrelay.IsNotFound(err) {
			return w.ds.MarkDeliveryFailed(ctx, delivery.ID, 0, "destination no longer exists")
		}
		return ctxerr.Wrap(ctx, err, "load destination")
	}
	if !dest.Enabled {
		return w.ds.MarkDeliveryFailed(ctx, delivery.ID, 0, "destination is disabled")
	}

	event, err := w.ds.LocalEvent(ctx, delivery.EventID)
	if err != nil {
		if scimrelay.IsNotFound(err) {
			return w.ds.MarkDeliveryFailed(ctx, delivery.ID, 0, "event snapshot no longer exists")
		}
		return ctxerr.Wrap(ctx, err, "load event")
	}

	op, ok := scimrelay.ResolveOperation(event.ResourceType, event.Kind, dest.DeleteAction)
	if !ok {
		// Membership updates have no SCIM equivalent.
		return w.ds.MarkDeliverySuccess(ctx, delivery.ID, http.StatusOK, "")
	}
	if !dest.EnabledOperations.Contains(op) {
		level.Debug(log).Log("msg", "operation not enabled for destination, skipping", "operation", op)
		return w.ds.MarkDeliverySuccess(ctx, delivery.ID, http.StatusOK, "")
	}

	outcome := w.attempt(ctx, log, dest, event, op)
	return w.record(ctx, delivery, dest, outcome)
}

// outcome is the classification of one attempt.
type outcome struct {
	kind           outcomeKind
	httpStatus     int
	scimResourceID string
	errMsg         string
}

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeSkip                // synthetic success, no network call
	outcomeRetryable
	outcomePermanent
)

func success(status int, scimResourceID string) outcome {
	return outcome{kind: outcomeSuccess, httpStatus: status, scimResourceID: scimResourceID}
}

func skip() outcome {
	return outcome{kind: outcomeSkip, httpStatus: http.StatusOK}
}

func retryable(status int, msg string) outcome {
	return outcome{kind: outcomeRetryable, httpStatus: status, errMsg: msg}
}

func permanent(status int, msg string) outcome {
	return outcome{kind: outcomePermanent, httpStatus: status, errMsg: msg}
}

// attempt performs the network half of one delivery: mapping resolution,
// token mint, translation and the HTTP call. State is written by the caller,
// never while the HTTP request is in flight.
func (w *Worker) attempt(ctx context.Context, log kitlog.Logger, dest *scimrelay.Destination, event *scimrelay.LocalEvent, op scimrelay.OperationKind) outcome {
	method, resourceID, body, out := w.prepare(ctx, log, dest, event, op)
	if out != nil {
		return *out
	}

	token, err := w.minter.MintForDestination(ctx, dest, scimrelay.RequiredScopes([]scimrelay.OperationKind{op}))
	if err != nil {
		return permanent(0, "mint token: "+err.Error())
	}

	result := w.client.Do(ctx, dest.BaseURL, token, method, op.ResourcePath(), resourceID, body)
	return w.classify(ctx, dest, event, op, result)
}

// prepare resolves the request shape for an operation: HTTP method, target
// resource id and body. A non-nil outcome short-circuits the attempt
// (missing mappings, translation errors).
func (w *Worker) prepare(ctx context.Context, log kitlog.Logger, dest *scimrelay.Destination, event *scimrelay.LocalEvent, op scimrelay.OperationKind) (method, resourceID string, body interface{}, out *outcome) {
	fail := func(o outcome) (string, string, interface{}, *outcome) {
		return "", "", nil, &o
	}

	switch op {
	case scimrelay.OpCreateUser, scimrelay.OpCreateGroup:
		view, err := event.SnapshotView()
		if err != nil {
			return fail(permanent(0, "decode snapshot: "+err.Error()))
		}
		payload, err := translate(dest, op, view, "")
		if err != nil {
			return fail(permanent(0, "translate payload: "+err.Error()))
		}
		return http.MethodPost, "", payload, nil

	case scimrelay.OpUpdateUser, scimrelay.OpUpdateGroup:
		mapping, err := w.ds.ResourceMapping(ctx, dest.ID, event.ResourceType, event.ResourceID)
		if err != nil {
			if scimrelay.IsNotFound(err) {
				return fail(permanent(0, fmt.Sprintf("no downstream mapping for %s %s; cannot update", event.ResourceType, event.ResourceID)))
			}
			return fail(retryable(0, "load resource mapping: "+err.Error()))
		}
		view, err := event.SnapshotView()
		if err != nil {
			return fail(permanent(0, "decode snapshot: "+err.Error()))
		}
		payload, err := translate(dest, op, view, mapping.SCIMResourceID)
		if err != nil {
			return fail(permanent(0, "translate payload: "+err.Error()))
		}
		return http.MethodPut, mapping.SCIMResourceID, payload, nil

	case scimrelay.OpDeactivateUser:
		mapping, err := w.ds.ResourceMapping(ctx, dest.ID, event.ResourceType, event.ResourceID)
		if err != nil {
			if scimrelay.IsNotFound(err) {
				// Nothing downstream to deactivate.
				return fail(skip())
			}
			return fail(retryable(0, "load resource mapping: "+err.Error()))
		}
		return http.MethodPatch, mapping.SCIMResourceID, scim.DeactivatePatch(), nil

	case scimrelay.OpDeleteUser, scimrelay.OpDeleteGroup:
		mapping, err := w.ds.ResourceMapping(ctx, dest.ID, event.ResourceType, event.ResourceID)
		if err != nil {
			if scimrelay.IsNotFound(err) {
				// Nothing downstream to delete.
				return fail(skip())
			}
			return fail(retryable(0, "load resource mapping: "+err.Error()))
		}
		return http.MethodDelete, mapping.SCIMResourceID, nil, nil

	case scimrelay.OpAddGroupMember, scimrelay.OpRemoveGroupMember:
		member, err := scimrelay.GroupMemberFromSnapshot(event.Snapshot)
		if err != nil {
			return fail(permanent(0, "decode membership snapshot: "+err.Error()))
		}
		groupMapping, err := w.ds.ResourceMapping(ctx, dest.ID, scimrelay.ResourceTypeGroup, member.GroupID)
		if err != nil {
			if scimrelay.IsNotFound(err) {
				level.Info(log).Log("msg", "skipping membership patch, group has no downstream mapping", "group_id", member.GroupID)
				return fail(permanent(0, fmt.Sprintf("no downstream mapping for group %s; membership patch skipped", member.GroupID)))
			}
			return fail(retryable(0, "load group mapping: "+err.Error()))
		}
		userMapping, err := w.ds.ResourceMapping(ctx, dest.ID, scimrelay.ResourceTypeUser, member.UserID)
		if err != nil {
			if scimrelay.IsNotFound(err) {
				level.Info(log).Log("msg", "skipping membership patch, user has no downstream mapping", "user_id", member.UserID)
				return fail(permanent(0, fmt.Sprintf("no downstream mapping for user %s; membership patch skipped", member.UserID)))
			}
			return fail(retryable(0, "load user mapping: "+err.Error()))
		}
		var patch map[string]interface{}
		if op == scimrelay.OpAddGroupMember {
			patch = scim.AddMemberPatch(userMapping.SCIMResourceID)
		} else {
			patch = scim.RemoveMemberPatch(userMapping.SCIMResourceID)
		}
		return http.MethodPatch, groupMapping.SCIMResourceID, patch, nil
	}

	return fail(permanent(0, "unknown operation "+string(op)))
}

func translate(dest *scimrelay.Destination, op scimrelay.OperationKind, view map[string]interface{}, scimID string) (map[string]interface{}, error) {
	switch op {
	case scimrelay.OpCreateUser, scimrelay.OpUpdateUser:
		return scim.UserPayload(view, dest.AttributeMapping, scimID)
	case scimrelay.OpCreateGroup, scimrelay.OpUpdateGroup:
		return scim.GroupPayload(view, scimID)
	}
	return nil, fmt.Errorf("operation %s carries no payload", op)
}

// classify turns an HTTP result into an outcome and performs the mapping
// side effects of successful CREATE and DELETE calls.
func (w *Worker) classify(ctx context.Context, dest *scimrelay.Destination, event *scimrelay.LocalEvent, op scimrelay.OperationKind, result scim.Result) outcome {
	switch {
	case result.Status >= 200 && result.Status < 300:
		switch op {
		case scimrelay.OpCreateUser, scimrelay.OpCreateGroup:
			if result.SCIMResourceID != "" {
				mapping := &scimrelay.ResourceMapping{
					DestinationID:   dest.ID,
					ResourceType:    event.ResourceType,
					LocalResourceID: event.ResourceID,
					SCIMResourceID:  result.SCIMResourceID,
				}
				if err := w.ds.UpsertResourceMapping(ctx, mapping); err != nil {
					// Without the mapping no later operation can address the
					// resource; retry the whole attempt.
					return retryable(result.Status, "save resource mapping: "+err.Error())
				}
			}
		case scimrelay.OpDeleteUser, scimrelay.OpDeleteGroup, scimrelay.OpDeactivateUser:
			if err := w.ds.DeleteResourceMapping(ctx, dest.ID, event.ResourceType, event.ResourceID); err != nil {
				return retryable(result.Status, "delete resource mapping: "+err.Error())
			}
		}
		return success(result.Status, result.SCIMResourceID)

	case result.Status == 0:
		return retryable(0, result.ErrorMessage)

	case result.Status == http.StatusRequestTimeout,
		result.Status == http.StatusTooManyRequests,
		result.Status >= 500:
		return retryable(result.Status, fmt.Sprintf("downstream returned %d: %s", result.Status, truncateBody(result.Body)))

	case result.Status == http.StatusNotFound && (op == scimrelay.OpDeleteUser || op == scimrelay.OpDeleteGroup):
		// The resource is already gone downstream; treat as success and
		// drop the stale mapping.
		if err := w.ds.DeleteResourceMapping(ctx, dest.ID, event.ResourceType, event.ResourceID); err != nil {
			return retryable(result.Status, "delete stale resource mapping: "+err.Error())
		}
		return success(result.Status, "")

	default:
		return permanent(result.Status, fmt.Sprintf("downstream returned %d: %s", result.Status, truncateBody(result.Body)))
	}
}

// record writes the outcome back to the delivery row.
func (w *Worker) record(ctx context.Context, delivery *scimrelay.Delivery, dest *scimrelay.Destination, out outcome) error {
	switch out.kind {
	case outcomeSuccess, outcomeSkip:
		return w.ds.MarkDeliverySuccess(ctx, delivery.ID, out.httpStatus, out.scimResourceID)

	case outcomePermanent:
		return w.ds.MarkDeliveryFailed(ctx, delivery.ID, out.httpStatus, out.errMsg)

	case outcomeRetryable:
		policy := dest.RetryPolicy
		if policy.IsExhausted(delivery.RetryCount) {
			return w.ds.MarkDeliveryFailed(ctx, delivery.ID, out.httpStatus,
				fmt.Sprintf("retries exhausted after %d attempts: %s", delivery.RetryCount+1, out.errMsg))
		}
		next := w.clock.Now().UTC().Add(policy.Backoff(delivery.RetryCount))
		return w.ds.MarkDeliveryRetry(ctx, delivery.ID, out.httpStatus, out.errMsg, next, delivery.RetryCount+1)
	}
	return nil
}

func truncateBody(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
