package scimrelay

import (
	"context"
	"time"
)

// Datastore combines the persistence operations the provisioning core
// depends on: destination configuration, local event snapshots, delivery
// state and resource-id mappings.
type Datastore interface {
	// NewDestination creates a destination. The name must be unique within
	// the tenant.
	NewDestination(ctx context.Context, d *Destination) (*Destination, error)
	// Destination retrieves a destination by id.
	Destination(ctx context.Context, id uint) (*Destination, error)
	// ListDestinations returns the tenant's destinations. If onlyEnabled is
	// true, disabled destinations are excluded.
	ListDestinations(ctx context.Context, tenantID uint, onlyEnabled bool) ([]*Destination, error)
	// SaveDestination updates a destination in place.
	SaveDestination(ctx context.Context, d *Destination) error
	// DeleteDestination removes a destination and its resource mappings.
	// Historical deliveries are retained.
	DeleteDestination(ctx context.Context, id uint) error

	// NewLocalEvent persists an event snapshot. Duplicate event ids are
	// no-ops.
	NewLocalEvent(ctx context.Context, e *LocalEvent) error
	// LocalEvent retrieves an event by id.
	LocalEvent(ctx context.Context, id string) (*LocalEvent, error)

	// InsertPendingDelivery inserts a PENDING delivery for the pair,
	// idempotent on (eventID, destinationID).
	InsertPendingDelivery(ctx context.Context, eventID string, destinationID uint) (*Delivery, error)
	// ClaimDueDeliveries atomically claims up to limit deliveries that are
	// PENDING, or RETRYING with next_retry_at <= now, oldest created first,
	// flipping them to IN_PROGRESS. A claimed delivery is owned by exactly
	// one caller until it is marked or reclaimed.
	ClaimDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*Delivery, error)
	// MarkDeliverySuccess finalizes a delivery as SUCCESS. scimResourceID is
	// recorded when non-empty (CREATE responses).
	MarkDeliverySuccess(ctx context.Context, id uint, httpStatus int, scimResourceID string) error
	// MarkDeliveryRetry schedules another attempt.
	MarkDeliveryRetry(ctx context.Context, id uint, httpStatus int, lastError string, nextRetryAt time.Time, retryCount int) error
	// MarkDeliveryFailed finalizes a delivery as FAILED. httpStatus 0 means
	// no HTTP response was involved.
	MarkDeliveryFailed(ctx context.Context, id uint, httpStatus int, lastError string) error
	// ReclaimStuckDeliveries flips IN_PROGRESS deliveries last touched
	// before threshold back to PENDING, returning how many were reclaimed.
	ReclaimStuckDeliveries(ctx context.Context, threshold time.Time) (int64, error)
	// ListDeliveriesByDestination returns a destination's deliveries,
	// newest first.
	ListDeliveriesByDestination(ctx context.Context, destinationID uint, opt ListOptions) ([]*Delivery, error)
	// ListDeliveriesByEvent returns all deliveries fanned out for an event.
	ListDeliveriesByEvent(ctx context.Context, eventID string) ([]*Delivery, error)

	// ResourceMapping retrieves the downstream id bound to a local resource
	// for one destination.
	ResourceMapping(ctx context.Context, destinationID uint, resourceType ResourceType, localResourceID string) (*ResourceMapping, error)
	// UpsertResourceMapping records or replaces the downstream id for a
	// local resource.
	UpsertResourceMapping(ctx context.Context, m *ResourceMapping) error
	// DeleteResourceMapping removes one binding; missing rows are no-ops.
	DeleteResourceMapping(ctx context.Context, destinationID uint, resourceType ResourceType, localResourceID string) error
	// DeleteResourceMappingsForDestination removes every binding of a
	// destination.
	DeleteResourceMappingsForDestination(ctx context.Context, destinationID uint) error
}
