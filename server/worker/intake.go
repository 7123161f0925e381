package worker

import (
	"context"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/scimrelay/scimrelay/server/scimrelay"
)

// Intake subscribes to the local event bus and fans each SCIM-relevant
// event out into one PENDING delivery per enabled destination of the
// tenant. Failures are logged and swallowed: by contract the producer's
// primary write has already committed, so nothing may propagate back.
type Intake struct {
	ds  scimrelay.Datastore
	bus scimrelay.EventSubscriber
	log kitlog.Logger
}

// NewIntake returns an event intake.
func NewIntake(ds scimrelay.Datastore, bus scimrelay.EventSubscriber, logger kitlog.Logger) *Intake {
	return &Intake{
		ds:  ds,
		bus: bus,
		log: logger,
	}
}

// Run consumes events until ctx is cancelled.
func (in *Intake) Run(ctx context.Context) error {
	events, err := in.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	for event := range events {
		in.OnLocalEvent(ctx, event)
	}
	return nil
}

// OnLocalEvent handles one published event. Non-SCIM-relevant events are
// dropped silently. Inserts are idempotent on (event, destination), so
// duplicate publishes are no-ops.
func (in *Intake) OnLocalEvent(ctx context.Context, event *scimrelay.LocalEvent) {
	if !event.SCIMRelevant() {
		return
	}
	if event.ID == "" {
		// Producers normally assign ids; tolerate ones that don't. Such
		// events lose publish-twice idempotency.
		event.ID = uuid.New().String()
	}

	log := kitlog.With(in.log, "event_id", event.ID, "tenant_id", event.TenantID)

	if err := in.ds.NewLocalEvent(ctx, event); err != nil {
		level.Error(log).Log("msg", "persist event snapshot", "err", err)
		return
	}

	dests, err := in.ds.ListDestinations(ctx, event.TenantID, true)
	if err != nil {
		level.Error(log).Log("msg", "list destinations for fanout", "err", err)
		return
	}

	for _, dest := range dests {
		if _, err := in.ds.InsertPendingDelivery(ctx, event.ID, dest.ID); err != nil {
			// One destination failing to enqueue must not starve the rest.
			level.Error(log).Log("msg", "insert pending delivery", "destination_id", dest.ID, "err", err)
		}
	}
}
