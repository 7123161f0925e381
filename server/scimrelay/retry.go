package scimrelay

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// RetryPolicy governs the retry behavior of a destination's deliveries.
// Backoff is deterministic for a given (attempt, policy) pair; no jitter is
// applied so that tests and operators can predict retry times. Persisted as
// a JSON object on the destination row.
type RetryPolicy struct {
	MaxRetries       int     `json:"max_retries"`
	InitialBackoffMs int64   `json:"initial_backoff_ms"`
	MaxBackoffMs     int64   `json:"max_backoff_ms"`
	Multiplier       float64 `json:"multiplier"`
}

// DefaultRetryPolicy is applied to destinations created without an explicit
// policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:       5,
		InitialBackoffMs: 1000,
		MaxBackoffMs:     300000,
		Multiplier:       2.0,
	}
}

// Backoff returns the delay before retry n (zero-based):
// min(initial * multiplier^n, max).
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	ms := float64(p.InitialBackoffMs) * math.Pow(p.Multiplier, float64(n))
	if ms > float64(p.MaxBackoffMs) {
		ms = float64(p.MaxBackoffMs)
	}
	return time.Duration(ms) * time.Millisecond
}

// IsExhausted reports whether a delivery that already retried n times has no
// retries left.
func (p RetryPolicy) IsExhausted(n int) bool {
	return n >= p.MaxRetries
}

func (p RetryPolicy) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *RetryPolicy) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = RetryPolicy{}
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return fmt.Errorf("unsupported type for RetryPolicy: %T", src)
	}
}
