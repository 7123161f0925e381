package worker

import (
	"context"
	"testing"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/scimrelay/scimrelay/server/mock"
	"github.com/scimrelay/scimrelay/server/pubsub"
	"github.com/scimrelay/scimrelay/server/scimrelay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enabledDestinations(ids ...uint) []*scimrelay.Destination {
	dests := make([]*scimrelay.Destination, 0, len(ids))
	for _, id := range ids {
		dests = append(dests, &scimrelay.Destination{ID: id, TenantID: 1, Enabled: true})
	}
	return dests
}

func TestOnLocalEventFanout(t *testing.T) {
	ds := &mock.Store{}
	ds.NewLocalEventFunc = func(ctx context.Context, e *scimrelay.LocalEvent) error {
		return nil
	}
	ds.ListDestinationsFunc = func(ctx context.Context, tenantID uint, onlyEnabled bool) ([]*scimrelay.Destination, error) {
		require.Equal(t, uint(1), tenantID)
		require.True(t, onlyEnabled)
		return enabledDestinations(1, 2, 3), nil
	}

	var inserted []uint
	ds.InsertPendingDeliveryFunc = func(ctx context.Context, eventID string, destinationID uint) (*scimrelay.Delivery, error) {
		require.Equal(t, "evt-1", eventID)
		inserted = append(inserted, destinationID)
		return &scimrelay.Delivery{EventID: eventID, DestinationID: destinationID}, nil
	}

	in := NewIntake(ds, nil, kitlog.NewNopLogger())
	in.OnLocalEvent(context.Background(), userEvent(scimrelay.EventCreate))

	require.True(t, ds.NewLocalEventFuncInvoked)
	assert.Equal(t, []uint{1, 2, 3}, inserted)
}

func TestOnLocalEventAssignsMissingID(t *testing.T) {
	ds := &mock.Store{}
	var persistedID string
	ds.NewLocalEventFunc = func(ctx context.Context, e *scimrelay.LocalEvent) error {
		persistedID = e.ID
		return nil
	}
	ds.ListDestinationsFunc = func(ctx context.Context, tenantID uint, onlyEnabled bool) ([]*scimrelay.Destination, error) {
		return nil, nil
	}

	event := userEvent(scimrelay.EventCreate)
	event.ID = ""

	in := NewIntake(ds, nil, kitlog.NewNopLogger())
	in.OnLocalEvent(context.Background(), event)

	assert.NotEmpty(t, persistedID)
	assert.Equal(t, persistedID, event.ID)
}

func TestOnLocalEventIrrelevantDropped(t *testing.T) {
	ds := &mock.Store{}
	in := NewIntake(ds, nil, kitlog.NewNopLogger())

	in.OnLocalEvent(context.Background(), &scimrelay.LocalEvent{
		ID:           "evt-x",
		TenantID:     1,
		ResourceType: "SESSION",
	})

	assert.False(t, ds.NewLocalEventFuncInvoked)
	assert.False(t, ds.ListDestinationsFuncInvoked)
}

func TestOnLocalEventInsertFailureDoesNotStarveOthers(t *testing.T) {
	ds := &mock.Store{}
	ds.NewLocalEventFunc = func(ctx context.Context, e *scimrelay.LocalEvent) error {
		return nil
	}
	ds.ListDestinationsFunc = func(ctx context.Context, tenantID uint, onlyEnabled bool) ([]*scimrelay.Destination, error) {
		return enabledDestinations(1, 2, 3), nil
	}

	var inserted []uint
	ds.InsertPendingDeliveryFunc = func(ctx context.Context, eventID string, destinationID uint) (*scimrelay.Delivery, error) {
		if destinationID == 2 {
			return nil, assert.AnError
		}
		inserted = append(inserted, destinationID)
		return &scimrelay.Delivery{}, nil
	}

	in := NewIntake(ds, nil, kitlog.NewNopLogger())
	in.OnLocalEvent(context.Background(), userEvent(scimrelay.EventCreate))

	assert.Equal(t, []uint{1, 3}, inserted)
}

func TestOnLocalEventPersistFailureStopsFanout(t *testing.T) {
	ds := &mock.Store{}
	ds.NewLocalEventFunc = func(ctx context.Context, e *scimrelay.LocalEvent) error {
		return assert.AnError
	}

	in := NewIntake(ds, nil, kitlog.NewNopLogger())
	in.OnLocalEvent(context.Background(), userEvent(scimrelay.EventCreate))

	assert.False(t, ds.ListDestinationsFuncInvoked)
	assert.False(t, ds.InsertPendingDeliveryFuncInvoked)
}

func TestIntakeRunConsumesBus(t *testing.T) {
	ds := &mock.Store{}
	ds.NewLocalEventFunc = func(ctx context.Context, e *scimrelay.LocalEvent) error {
		return nil
	}
	ds.ListDestinationsFunc = func(ctx context.Context, tenantID uint, onlyEnabled bool) ([]*scimrelay.Destination, error) {
		return enabledDestinations(1), nil
	}

	done := make(chan string, 64)
	ds.InsertPendingDeliveryFunc = func(ctx context.Context, eventID string, destinationID uint) (*scimrelay.Delivery, error) {
		done <- eventID
		return &scimrelay.Delivery{}, nil
	}

	bus := pubsub.NewInmemEventBus(8)
	in := NewIntake(ds, bus, kitlog.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() { finished <- in.Run(ctx) }()

	// Publishes before the subscriber registered are dropped by the bus, so
	// keep publishing until one makes it through the intake.
	var eventID string
	require.Eventually(t, func() bool {
		_ = bus.Publish(userEvent(scimrelay.EventCreate))
		select {
		case eventID = <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "evt-1", eventID)

	cancel()
	select {
	case err := <-finished:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}
