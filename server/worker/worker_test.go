package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/WatchBeam/clock"
	kitlog "github.com/go-kit/kit/log"
	"github.com/scimrelay/scimrelay/server/mock"
	"github.com/scimrelay/scimrelay/server/scim"
	"github.com/scimrelay/scimrelay/server/scimrelay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMinter struct {
	minted     int
	lastScopes []string
	err        error
}

func (m *fakeMinter) MintForDestination(ctx context.Context, d *scimrelay.Destination, scopes []string) (string, error) {
	m.minted++
	m.lastScopes = scopes
	if m.err != nil {
		return "", m.err
	}
	return "test-token", nil
}

type scimCall struct {
	baseURL    string
	token      string
	method     string
	path       string
	resourceID string
	body       interface{}
}

type fakeClient struct {
	result scim.Result
	calls  []scimCall
}

func (c *fakeClient) Do(ctx context.Context, baseURL, token, method, resourcePath, resourceID string, body interface{}) scim.Result {
	c.calls = append(c.calls, scimCall{baseURL, token, method, resourcePath, resourceID, body})
	return c.result
}

type recorded struct {
	successID     uint
	successStatus int
	successSCIMID string

	retryID     uint
	retryStatus int
	retryErr    string
	retryNext   time.Time
	retryCount  int

	failedID     uint
	failedStatus int
	failedErr    string
}

func testDestination() *scimrelay.Destination {
	return &scimrelay.Destination{
		ID:                7,
		TenantID:          1,
		ClientAppID:       "app-1",
		Name:              "okta-sandbox",
		BaseURL:           "https://scim.example.com/v2",
		EnabledOperations: scimrelay.OperationList(scimrelay.AllOperations),
		DeleteAction:      scimrelay.DeleteActionDeactivate,
		RetryPolicy:       scimrelay.DefaultRetryPolicy(),
		Enabled:           true,
	}
}

func userEvent(kind scimrelay.EventKind) *scimrelay.LocalEvent {
	return &scimrelay.LocalEvent{
		ID:           "evt-1",
		TenantID:     1,
		ResourceType: scimrelay.ResourceTypeUser,
		ResourceID:   "u-42",
		Kind:         kind,
		Snapshot:     json.RawMessage(`{"user":{"id":"u-42","username":"ann","email":"ann@example.com"}}`),
	}
}

func memberEvent(kind scimrelay.EventKind) *scimrelay.LocalEvent {
	return &scimrelay.LocalEvent{
		ID:           "evt-m-1",
		TenantID:     1,
		ResourceType: scimrelay.ResourceTypeGroupMember,
		ResourceID:   "gm-1",
		Kind:         kind,
		Snapshot:     json.RawMessage(`{"groupMember":{"groupId":"g-9","userId":"u-42"}}`),
	}
}

// newTestWorker wires a worker against a mock store primed with the given
// destination and event, recording every status transition.
func newTestWorker(dest *scimrelay.Destination, event *scimrelay.LocalEvent, client *fakeClient) (*Worker, *mock.Store, *fakeMinter, *recorded, *clock.MockClock) {
	ds := &mock.Store{}
	rec := &recorded{}

	ds.DestinationFunc = func(ctx context.Context, id uint) (*scimrelay.Destination, error) {
		return dest, nil
	}
	ds.LocalEventFunc = func(ctx context.Context, id string) (*scimrelay.LocalEvent, error) {
		return event, nil
	}
	ds.MarkDeliverySuccessFunc = func(ctx context.Context, id uint, httpStatus int, scimResourceID string) error {
		rec.successID, rec.successStatus, rec.successSCIMID = id, httpStatus, scimResourceID
		return nil
	}
	ds.MarkDeliveryRetryFunc = func(ctx context.Context, id uint, httpStatus int, lastError string, nextRetryAt time.Time, retryCount int) error {
		rec.retryID, rec.retryStatus, rec.retryErr, rec.retryNext, rec.retryCount = id, httpStatus, lastError, nextRetryAt, retryCount
		return nil
	}
	ds.MarkDeliveryFailedFunc = func(ctx context.Context, id uint, httpStatus int, lastError string) error {
		rec.failedID, rec.failedStatus, rec.failedErr = id, httpStatus, lastError
		return nil
	}
	ds.ResourceMappingFunc = func(ctx context.Context, destinationID uint, resourceType scimrelay.ResourceType, localResourceID string) (*scimrelay.ResourceMapping, error) {
		return nil, notFoundErr{}
	}
	ds.UpsertResourceMappingFunc = func(ctx context.Context, m *scimrelay.ResourceMapping) error {
		return nil
	}
	ds.DeleteResourceMappingFunc = func(ctx context.Context, destinationID uint, resourceType scimrelay.ResourceType, localResourceID string) error {
		return nil
	}

	minter := &fakeMinter{}
	mockClock := clock.NewMockClock()
	w := NewWorker(ds, minter, client, mockClock, kitlog.NewNopLogger())
	return w, ds, minter, rec, mockClock
}

type notFoundErr struct{}

func (notFoundErr) Error() string    { return "not found" }
func (notFoundErr) IsNotFound() bool { return true }

func delivery(retryCount int) *scimrelay.Delivery {
	return &scimrelay.Delivery{
		ID:            11,
		EventID:       "evt-1",
		DestinationID: 7,
		Status:        scimrelay.DeliveryInProgress,
		RetryCount:    retryCount,
	}
}

func TestProcessDeliveryCreateUser(t *testing.T) {
	client := &fakeClient{result: scim.Result{Status: http.StatusCreated, SCIMResourceID: "scim-123"}}
	dest := testDestination()
	w, ds, minter, rec, _ := newTestWorker(dest, userEvent(scimrelay.EventCreate), client)

	var savedMapping *scimrelay.ResourceMapping
	ds.UpsertResourceMappingFunc = func(ctx context.Context, m *scimrelay.ResourceMapping) error {
		savedMapping = m
		return nil
	}

	require.NoError(t, w.ProcessDelivery(context.Background(), delivery(0)))

	require.Len(t, client.calls, 1)
	call := client.calls[0]
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "Users", call.path)
	assert.Empty(t, call.resourceID)
	assert.Equal(t, dest.BaseURL, call.baseURL)
	assert.Equal(t, "test-token", call.token)

	payload, ok := call.body.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ann", payload["userName"])

	assert.Equal(t, 1, minter.minted)
	assert.Equal(t, []string{scimrelay.ScopeUsersWrite}, minter.lastScopes)

	require.True(t, ds.MarkDeliverySuccessFuncInvoked)
	assert.Equal(t, uint(11), rec.successID)
	assert.Equal(t, http.StatusCreated, rec.successStatus)
	assert.Equal(t, "scim-123", rec.successSCIMID)

	require.NotNil(t, savedMapping)
	assert.Equal(t, uint(7), savedMapping.DestinationID)
	assert.Equal(t, scimrelay.ResourceTypeUser, savedMapping.ResourceType)
	assert.Equal(t, "u-42", savedMapping.LocalResourceID)
	assert.Equal(t, "scim-123", savedMapping.SCIMResourceID)
}

func TestProcessDeliveryUpdateWithoutMapping(t *testing.T) {
	client := &fakeClient{}
	w, ds, minter, rec, _ := newTestWorker(testDestination(), userEvent(scimrelay.EventUpdate), client)

	require.NoError(t, w.ProcessDelivery(context.Background(), delivery(0)))

	// No HTTP call, no token, straight to FAILED.
	assert.Empty(t, client.calls)
	assert.Zero(t, minter.minted)
	require.True(t, ds.MarkDeliveryFailedFuncInvoked)
	assert.Contains(t, rec.failedErr, "no downstream mapping")
}

func TestProcessDeliveryUpdateWithMapping(t *testing.T) {
	client := &fakeClient{result: scim.Result{Status: http.StatusOK, SCIMResourceID: "scim-123"}}
	w, ds, _, rec, _ := newTestWorker(testDestination(), userEvent(scimrelay.EventUpdate), client)

	ds.ResourceMappingFunc = func(ctx context.Context, destinationID uint, resourceType scimrelay.ResourceType, localResourceID string) (*scimrelay.ResourceMapping, error) {
		return &scimrelay.ResourceMapping{SCIMResourceID: "scim-123"}, nil
	}

	require.NoError(t, w.ProcessDelivery(context.Background(), delivery(0)))

	require.Len(t, client.calls, 1)
	call := client.calls[0]
	assert.Equal(t, http.MethodPut, call.method)
	assert.Equal(t, "Users", call.path)
	assert.Equal(t, "scim-123", call.resourceID)

	payload := call.body.(map[string]interface{})
	assert.Equal(t, "scim-123", payload["id"])

	assert.Equal(t, http.StatusOK, rec.successStatus)
}

func TestProcessDeliveryRetryOn503(t *testing.T) {
	client := &fakeClient{result: scim.Result{Status: http.StatusServiceUnavailable, Body: []byte("maintenance")}}
	dest := testDestination()
	w, ds, _, rec, mockClock := newTestWorker(dest, userEvent(scimrelay.EventCreate), client)

	require.NoError(t, w.ProcessDelivery(context.Background(), delivery(2)))

	require.True(t, ds.MarkDeliveryRetryFuncInvoked)
	assert.False(t, ds.MarkDeliveryFailedFuncInvoked)
	assert.Equal(t, http.StatusServiceUnavailable, rec.retryStatus)
	assert.Contains(t, rec.retryErr, "503")
	assert.Contains(t, rec.retryErr, "maintenance")
	assert.Equal(t, 3, rec.retryCount)

	want := mockClock.Now().UTC().Add(dest.RetryPolicy.Backoff(2))
	assert.Equal(t, want, rec.retryNext)
}

func TestProcessDeliveryRetriesExhausted(t *testing.T) {
	client := &fakeClient{result: scim.Result{Status: http.StatusServiceUnavailable}}
	dest := testDestination()
	dest.RetryPolicy.MaxRetries = 3
	w, ds, _, rec, _ := newTestWorker(dest, userEvent(scimrelay.EventCreate), client)

	require.NoError(t, w.ProcessDelivery(context.Background(), delivery(3)))

	assert.False(t, ds.MarkDeliveryRetryFuncInvoked)
	require.True(t, ds.MarkDeliveryFailedFuncInvoked)
	assert.Contains(t, rec.failedErr, "retries exhausted after 4 attempts")
}

func TestProcessDeliveryTransportFailureRetries(t *testing.T) {
	client := &fakeClient{result: scim.Result{Status: 0, ErrorMessage: "dial tcp: connection refused"}}
	w, ds, _, rec, _ := newTestWorker(testDestination(), userEvent(scimrelay.EventCreate), client)

	require.NoError(t, w.ProcessDelivery(context.Background(), delivery(0)))

	require.True(t, ds.MarkDeliveryRetryFuncInvoked)
	assert.Equal(t, 0, rec.retryStatus)
	assert.Contains(t, rec.retryErr, "connection refused")
}

func TestProcessDeliveryPermanentOn400(t *testing.T) {
	client := &fakeClient{result: scim.Result{Status: http.StatusBadRequest, Body: []byte(`{"detail":"bad userName"}`)}}
	w, ds, _, rec, _ := newTestWorker(testDestination(), userEvent(scimrelay.EventCreate), client)

	require.NoError(t, w.ProcessDelivery(context.Background(), delivery(0)))

	assert.False(t, ds.MarkDeliveryRetryFuncInvoked)
	require.True(t, ds.MarkDeliveryFailedFuncInvoked)
	assert.Equal(t, http.StatusBadRequest, rec.failedStatus)
	assert.Contains(t, rec.failedErr, "400")
}

func TestProcessDeliveryDeactivate(t *testing.T) {
	client := &fakeClient{result: scim.Result{Status: http.StatusOK}}
	w, ds, _, rec, _ := newTestWorker(testDestination(), userEvent(scimrelay.EventDelete), client)

	ds.ResourceMappingFunc = func(ctx context.Context, destinationID uint, resourceType scimrelay.ResourceType, localResourceID string) (*scimrelay.ResourceMapping, error) {
		return &scimrelay.ResourceMapping{SCIMResourceID: "scim-123"}, nil
	}
	var deletedMapping bool
	ds.DeleteResourceMappingFunc = func(ctx context.Context, destinationID uint, resourceType scimrelay.ResourceType, localResourceID string) error {
		deletedMapping = true
		return nil
	}

	require.NoError(t, w.ProcessDelivery(context.Background(), delivery(0)))

	require.Len(t, client.calls, 1)
	call := client.calls[0]
	assert.Equal(t, http.MethodPatch, call.method)
	assert.Equal(t, "scim-123", call.resourceID)

	patch := call.body.(map[string]interface{})
	ops := patch["Operations"].([]interface{})
	op := ops[0].(map[string]interface{})
	assert.Equal(t, "replace", op["op"])
	assert.Equal(t, "active", op["path"])
	assert.Equal(t, false, op["value"])

	assert.True(t, deletedMapping)
	assert.Equal(t, http.StatusOK, rec.successStatus)
}

func TestProcessDeliveryDeactivateWithoutMapping(t *testing.T) {
	client := &fakeClient{}
	w, ds, _, rec, _ := newTestWorker(testDestination(), userEvent(scimrelay.EventDelete), client)

	require.NoError(t, w.ProcessDelivery(context.Background(), delivery(0)))

	// Nothing downstream to deactivate: synthetic success, no network call.
	assert.Empty(t, client.calls)
	require.True(t, ds.MarkDeliverySuccessFuncInvoked)
	assert.Equal(t, http.StatusOK, rec.successStatus)
}

func TestProcessDeliveryHardDelete404(t *testing.T) {
	client := &fakeClient{result: scim.Result{Status: http.StatusNotFound}}
	dest := testDestination()
	dest.DeleteAction = scimrelay.DeleteActionHardDelete
	w, ds, _, rec, _ := newTestWorker(dest, userEvent(scimrelay.EventDelete), client)

	ds.ResourceMappingFunc = func(ctx context.Context, destinationID uint, resourceType scimrelay.ResourceType, localResourceID string) (*scimrelay.ResourceMapping, error) {
		return &scimrelay.ResourceMapping{SCIMResourceID: "scim-123"}, nil
	}

	require.NoError(t, w.ProcessDelivery(context.Background(), delivery(0)))

	require.Len(t, client.calls, 1)
	assert.Equal(t, http.MethodDelete, client.calls[0].method)

	// Already gone downstream counts as success; the stale mapping is dropped.
	require.True(t, ds.DeleteResourceMappingFuncInvoked)
	require.True(t, ds.MarkDeliverySuccessFuncInvoked)
	assert.Equal(t, http.StatusNotFound, rec.successStatus)
}

func TestProcessDeliveryAddGroupMember(t *testing.T) {
	client := &fakeClient{result: scim.Result{Status: http.StatusOK}}
	w, ds, _, rec, _ := newTestWorker(testDestination(), memberEvent(scimrelay.EventCreate), client)

	ds.ResourceMappingFunc = func(ctx context.Context, destinationID uint, resourceType scimrelay.ResourceType, localResourceID string) (*scimrelay.ResourceMapping, error) {
		switch resourceType {
		case scimrelay.ResourceTypeGroup:
			require.Equal(t, "g-9", localResourceID)
			return &scimrelay.ResourceMapping{SCIMResourceID: "scim-g-1"}, nil
		case scimrelay.ResourceTypeUser:
			require.Equal(t, "u-42", localResourceID)
			return &scimrelay.ResourceMapping{SCIMResourceID: "scim-u-1"}, nil
		}
		return nil, notFoundErr{}
	}

	require.NoError(t, w.ProcessDelivery(context.Background(), delivery(0)))

	require.Len(t, client.calls, 1)
	call := client.calls[0]
	assert.Equal(t, http.MethodPatch, call.method)
	assert.Equal(t, "Groups", call.path)
	assert.Equal(t, "scim-g-1", call.resourceID)

	patch := call.body.(map[string]interface{})
	ops := patch["Operations"].([]interface{})
	op := ops[0].(map[string]interface{})
	assert.Equal(t, "add", op["op"])
	values := op["value"].([]interface{})
	assert.Equal(t, "scim-u-1", values[0].(map[string]interface{})["value"])

	assert.Equal(t, http.StatusOK, rec.successStatus)
}

func TestProcessDeliveryMemberMissingUserMapping(t *testing.T) {
	client := &fakeClient{}
	w, ds, _, rec, _ := newTestWorker(testDestination(), memberEvent(scimrelay.EventCreate), client)

	ds.ResourceMappingFunc = func(ctx context.Context, destinationID uint, resourceType scimrelay.ResourceType, localResourceID string) (*scimrelay.ResourceMapping, error) {
		if resourceType == scimrelay.ResourceTypeGroup {
			return &scimrelay.ResourceMapping{SCIMResourceID: "scim-g-1"}, nil
		}
		return nil, notFoundErr{}
	}

	require.NoError(t, w.ProcessDelivery(context.Background(), delivery(0)))

	assert.Empty(t, client.calls)
	require.True(t, ds.MarkDeliveryFailedFuncInvoked)
	assert.Contains(t, rec.failedErr, "membership patch skipped")
}

func TestProcessDeliveryMemberUpdateIsNoop(t *testing.T) {
	client := &fakeClient{}
	w, ds, _, rec, _ := newTestWorker(testDestination(), memberEvent(scimrelay.EventUpdate), client)

	require.NoError(t, w.ProcessDelivery(context.Background(), delivery(0)))

	assert.Empty(t, client.calls)
	require.True(t, ds.MarkDeliverySuccessFuncInvoked)
	assert.Equal(t, http.StatusOK, rec.successStatus)
}

func TestProcessDeliveryOperationNotEnabled(t *testing.T) {
	client := &fakeClient{}
	dest := testDestination()
	dest.EnabledOperations = scimrelay.OperationList{scimrelay.OpCreateUser}
	w, ds, _, _, _ := newTestWorker(dest, userEvent(scimrelay.EventUpdate), client)

	require.NoError(t, w.ProcessDelivery(context.Background(), delivery(0)))

	assert.Empty(t, client.calls)
	require.True(t, ds.MarkDeliverySuccessFuncInvoked)
}

func TestProcessDeliveryDestinationDisabled(t *testing.T) {
	client := &fakeClient{}
	dest := testDestination()
	dest.Enabled = false
	w, ds, _, rec, _ := newTestWorker(dest, userEvent(scimrelay.EventCreate), client)

	require.NoError(t, w.ProcessDelivery(context.Background(), delivery(0)))

	assert.Empty(t, client.calls)
	require.True(t, ds.MarkDeliveryFailedFuncInvoked)
	assert.Contains(t, rec.failedErr, "disabled")
}

func TestProcessDeliveryDestinationGone(t *testing.T) {
	client := &fakeClient{}
	w, ds, _, rec, _ := newTestWorker(testDestination(), userEvent(scimrelay.EventCreate), client)
	ds.DestinationFunc = func(ctx context.Context, id uint) (*scimrelay.Destination, error) {
		return nil, notFoundErr{}
	}

	require.NoError(t, w.ProcessDelivery(context.Background(), delivery(0)))

	require.True(t, ds.MarkDeliveryFailedFuncInvoked)
	assert.Contains(t, rec.failedErr, "destination no longer exists")
}

func TestProcessDeliveryMintFailure(t *testing.T) {
	client := &fakeClient{}
	w, ds, minter, rec, _ := newTestWorker(testDestination(), userEvent(scimrelay.EventCreate), client)
	minter.err = assert.AnError

	require.NoError(t, w.ProcessDelivery(context.Background(), delivery(0)))

	assert.Empty(t, client.calls)
	require.True(t, ds.MarkDeliveryFailedFuncInvoked)
	assert.Contains(t, rec.failedErr, "mint token")
}

func TestProcessDeliveryMappingSaveFailureRetries(t *testing.T) {
	client := &fakeClient{result: scim.Result{Status: http.StatusCreated, SCIMResourceID: "scim-123"}}
	w, ds, _, rec, _ := newTestWorker(testDestination(), userEvent(scimrelay.EventCreate), client)
	ds.UpsertResourceMappingFunc = func(ctx context.Context, m *scimrelay.ResourceMapping) error {
		return assert.AnError
	}

	require.NoError(t, w.ProcessDelivery(context.Background(), delivery(0)))

	// The create succeeded downstream but we could not record the mapping;
	// without it no later operation can address the resource.
	require.True(t, ds.MarkDeliveryRetryFuncInvoked)
	assert.Contains(t, rec.retryErr, "save resource mapping")
}
