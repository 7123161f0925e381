package scimrelay

import "time"

// DeliveryStatus is the state of one delivery attempt sequence.
//
//	          ┌──────────────┐
//	          ▼              │
//	PENDING─►IN_PROGRESS─►RETRYING
//	              │
//	              ├──────►SUCCESS
//	              └──────►FAILED
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "PENDING"
	DeliveryInProgress DeliveryStatus = "IN_PROGRESS"
	DeliverySuccess    DeliveryStatus = "SUCCESS"
	DeliveryRetrying   DeliveryStatus = "RETRYING"
	DeliveryFailed     DeliveryStatus = "FAILED"
)

// Terminal reports whether the status is one of the two final states.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliverySuccess || s == DeliveryFailed
}

// MaxLastErrorLen is the persisted cap on a delivery's last_error column.
const MaxLastErrorLen = 1000

// Delivery is the durable record of propagating one local event to one
// destination. Exactly one row exists per (event, destination) pair.
type Delivery struct {
	ID             uint           `json:"id" db:"id"`
	EventID        string         `json:"event_id" db:"event_id"`
	DestinationID  uint           `json:"destination_id" db:"destination_id"`
	Status         DeliveryStatus `json:"status" db:"status"`
	SCIMResourceID *string        `json:"scim_resource_id" db:"scim_resource_id"`
	HTTPStatus     *int           `json:"http_status" db:"http_status"`
	RetryCount     int            `json:"retry_count" db:"retry_count"`
	NextRetryAt    *time.Time     `json:"next_retry_at" db:"next_retry_at"`
	LastError      *string        `json:"last_error" db:"last_error"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at" db:"completed_at"`
}

// TruncateError caps an error message to what fits in the last_error column.
func TruncateError(msg string) string {
	if len(msg) > MaxLastErrorLen {
		return msg[:MaxLastErrorLen]
	}
	return msg
}
