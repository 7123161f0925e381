// Package mock provides hand-rolled test doubles for the scimrelay
// interfaces. Each method delegates to a settable Func field and records
// that it was invoked.
package mock

import (
	"context"
	"time"

	"github.com/scimrelay/scimrelay/server/scimrelay"
)

var _ scimrelay.Datastore = (*Store)(nil)

// Store is a mock implementation of scimrelay.Datastore.
type Store struct {
	NewDestinationFunc        func(ctx context.Context, d *scimrelay.Destination) (*scimrelay.Destination, error)
	NewDestinationFuncInvoked bool

	DestinationFunc        func(ctx context.Context, id uint) (*scimrelay.Destination, error)
	DestinationFuncInvoked bool

	ListDestinationsFunc        func(ctx context.Context, tenantID uint, onlyEnabled bool) ([]*scimrelay.Destination, error)
	ListDestinationsFuncInvoked bool

	SaveDestinationFunc        func(ctx context.Context, d *scimrelay.Destination) error
	SaveDestinationFuncInvoked bool

	DeleteDestinationFunc        func(ctx context.Context, id uint) error
	DeleteDestinationFuncInvoked bool

	NewLocalEventFunc        func(ctx context.Context, e *scimrelay.LocalEvent) error
	NewLocalEventFuncInvoked bool

	LocalEventFunc        func(ctx context.Context, id string) (*scimrelay.LocalEvent, error)
	LocalEventFuncInvoked bool

	InsertPendingDeliveryFunc        func(ctx context.Context, eventID string, destinationID uint) (*scimrelay.Delivery, error)
	InsertPendingDeliveryFuncInvoked bool

	ClaimDueDeliveriesFunc        func(ctx context.Context, now time.Time, limit int) ([]*scimrelay.Delivery, error)
	ClaimDueDeliveriesFuncInvoked bool

	MarkDeliverySuccessFunc        func(ctx context.Context, id uint, httpStatus int, scimResourceID string) error
	MarkDeliverySuccessFuncInvoked bool

	MarkDeliveryRetryFunc        func(ctx context.Context, id uint, httpStatus int, lastError string, nextRetryAt time.Time, retryCount int) error
	MarkDeliveryRetryFuncInvoked bool

	MarkDeliveryFailedFunc        func(ctx context.Context, id uint, httpStatus int, lastError string) error
	MarkDeliveryFailedFuncInvoked bool

	ReclaimStuckDeliveriesFunc        func(ctx context.Context, threshold time.Time) (int64, error)
	ReclaimStuckDeliveriesFuncInvoked bool

	ListDeliveriesByDestinationFunc        func(ctx context.Context, destinationID uint, opt scimrelay.ListOptions) ([]*scimrelay.Delivery, error)
	ListDeliveriesByDestinationFuncInvoked bool

	ListDeliveriesByEventFunc        func(ctx context.Context, eventID string) ([]*scimrelay.Delivery, error)
	ListDeliveriesByEventFuncInvoked bool

	ResourceMappingFunc        func(ctx context.Context, destinationID uint, resourceType scimrelay.ResourceType, localResourceID string) (*scimrelay.ResourceMapping, error)
	ResourceMappingFuncInvoked bool

	UpsertResourceMappingFunc        func(ctx context.Context, m *scimrelay.ResourceMapping) error
	UpsertResourceMappingFuncInvoked bool

	DeleteResourceMappingFunc        func(ctx context.Context, destinationID uint, resourceType scimrelay.ResourceType, localResourceID string) error
	DeleteResourceMappingFuncInvoked bool

	DeleteResourceMappingsForDestinationFunc        func(ctx context.Context, destinationID uint) error
	DeleteResourceMappingsForDestinationFuncInvoked bool
}

func (s *Store) NewDestination(ctx context.Context, d *scimrelay.Destination) (*scimrelay.Destination, error) {
	s.NewDestinationFuncInvoked = true
	return s.NewDestinationFunc(ctx, d)
}

func (s *Store) Destination(ctx context.Context, id uint) (*scimrelay.Destination, error) {
	s.DestinationFuncInvoked = true
	return s.DestinationFunc(ctx, id)
}

func (s *Store) ListDestinations(ctx context.Context, tenantID uint, onlyEnabled bool) ([]*scimrelay.Destination, error) {
	s.ListDestinationsFuncInvoked = true
	return s.ListDestinationsFunc(ctx, tenantID, onlyEnabled)
}

func (s *Store) SaveDestination(ctx context.Context, d *scimrelay.Destination) error {
	s.SaveDestinationFuncInvoked = true
	return s.SaveDestinationFunc(ctx, d)
}

func (s *Store) DeleteDestination(ctx context.Context, id uint) error {
	s.DeleteDestinationFuncInvoked = true
	return s.DeleteDestinationFunc(ctx, id)
}

func (s *Store) NewLocalEvent(ctx context.Context, e *scimrelay.LocalEvent) error {
	s.NewLocalEventFuncInvoked = true
	return s.NewLocalEventFunc(ctx, e)
}

func (s *Store) LocalEvent(ctx context.Context, id string) (*scimrelay.LocalEvent, error) {
	s.LocalEventFuncInvoked = true
	return s.LocalEventFunc(ctx, id)
}

func (s *Store) InsertPendingDelivery(ctx context.Context, eventID string, destinationID uint) (*scimrelay.Delivery, error) {
	s.InsertPendingDeliveryFuncInvoked = true
	return s.InsertPendingDeliveryFunc(ctx, eventID, destinationID)
}

func (s *Store) ClaimDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*scimrelay.Delivery, error) {
	s.ClaimDueDeliveriesFuncInvoked = true
	return s.ClaimDueDeliveriesFunc(ctx, now, limit)
}

func (s *Store) MarkDeliverySuccess(ctx context.Context, id uint, httpStatus int, scimResourceID string) error {
	s.MarkDeliverySuccessFuncInvoked = true
	return s.MarkDeliverySuccessFunc(ctx, id, httpStatus, scimResourceID)
}

func (s *Store) MarkDeliveryRetry(ctx context.Context, id uint, httpStatus int, lastError string, nextRetryAt time.Time, retryCount int) error {
	s.MarkDeliveryRetryFuncInvoked = true
	return s.MarkDeliveryRetryFunc(ctx, id, httpStatus, lastError, nextRetryAt, retryCount)
}

func (s *Store) MarkDeliveryFailed(ctx context.Context, id uint, httpStatus int, lastError string) error {
	s.MarkDeliveryFailedFuncInvoked = true
	return s.MarkDeliveryFailedFunc(ctx, id, httpStatus, lastError)
}

func (s *Store) ReclaimStuckDeliveries(ctx context.Context, threshold time.Time) (int64, error) {
	s.ReclaimStuckDeliveriesFuncInvoked = true
	return s.ReclaimStuckDeliveriesFunc(ctx, threshold)
}

func (s *Store) ListDeliveriesByDestination(ctx context.Context, destinationID uint, opt scimrelay.ListOptions) ([]*scimrelay.Delivery, error) {
	s.ListDeliveriesByDestinationFuncInvoked = true
	return s.ListDeliveriesByDestinationFunc(ctx, destinationID, opt)
}

func (s *Store) ListDeliveriesByEvent(ctx context.Context, eventID string) ([]*scimrelay.Delivery, error) {
	s.ListDeliveriesByEventFuncInvoked = true
	return s.ListDeliveriesByEventFunc(ctx, eventID)
}

func (s *Store) ResourceMapping(ctx context.Context, destinationID uint, resourceType scimrelay.ResourceType, localResourceID string) (*scimrelay.ResourceMapping, error) {
	s.ResourceMappingFuncInvoked = true
	return s.ResourceMappingFunc(ctx, destinationID, resourceType, localResourceID)
}

func (s *Store) UpsertResourceMapping(ctx context.Context, m *scimrelay.ResourceMapping) error {
	s.UpsertResourceMappingFuncInvoked = true
	return s.UpsertResourceMappingFunc(ctx, m)
}

func (s *Store) DeleteResourceMapping(ctx context.Context, destinationID uint, resourceType scimrelay.ResourceType, localResourceID string) error {
	s.DeleteResourceMappingFuncInvoked = true
	return s.DeleteResourceMappingFunc(ctx, destinationID, resourceType, localResourceID)
}

func (s *Store) DeleteResourceMappingsForDestination(ctx context.Context, destinationID uint) error {
	s.DeleteResourceMappingsForDestinationFuncInvoked = true
	return s.DeleteResourceMappingsForDestinationFunc(ctx, destinationID)
}
