package models

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyStatus is the processing state of an idempotency record
type IdempotencyStatus string

const (
	IdempotencyStatusPending   IdempotencyStatus = "pending"   // a request is executing under this key
	IdempotencyStatusCompleted IdempotencyStatus = "completed" // response stored, replay on retry
	IdempotencyStatusFailed    IdempotencyStatus = "failed"    // server-side failure, retry may re-execute
)

// IdempotencyRecord stores the outcome of a mutating request keyed by the client's Idempotency-Key
type IdempotencyRecord struct {
	Key            string            `db:"key"`
	RequestHash    string            `db:"request_hash"`
	Method         string            `db:"method"`
	Path           string            `db:"path"`
	UserID         *uuid.UUID        `db:"user_id"`
	Status         IdempotencyStatus `db:"status"`
	ResponseStatus *int              `db:"response_status"`
	ResponseBody   []byte            `db:"response_body"`
	LockedUntil    *time.Time        `db:"locked_until"`
	LockToken      string            `db:"lock_token"` // identifies the execution that holds the lock
	ExpiresAt      time.Time         `db:"expires_at"`
	CreatedAt      time.Time         `db:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at"`
}

// IsLocked reports whether a pending record is still owned by an in-flight request
func (r *IdempotencyRecord) IsLocked(now time.Time) bool {
	return r.Status == IdempotencyStatusPending && r.LockedUntil != nil && r.LockedUntil.After(now)
}

// IsExpired reports whether the record is past its retention window
func (r *IdempotencyRecord) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
