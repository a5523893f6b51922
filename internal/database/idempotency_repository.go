package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/santosh227/airline-booking-service/internal/models"
)

// IdempotencyRepository stores idempotency records.
// Acquisition is decided by single atomic statements; callers never lock in process.
type IdempotencyRepository struct {
	db *sqlx.DB
}

// NewIdempotencyRepository creates a new IdempotencyRepository
func NewIdempotencyRepository(db *sqlx.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Acquire inserts a pending record for the key. A record past its retention
// window is overwritten as if it were absent. It reports whether this caller
// now owns the key.
func (r *IdempotencyRepository) Acquire(ctx context.Context, rec *models.IdempotencyRecord, now time.Time) (bool, error) {
	query := `
		INSERT INTO idempotency_records (
			key, request_hash, method, path, user_id, status,
			locked_until, lock_token, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 'pending', $6, $9, $7, $8, $8)
		ON CONFLICT (key) DO UPDATE SET
			request_hash = EXCLUDED.request_hash,
			method = EXCLUDED.method,
			path = EXCLUDED.path,
			user_id = EXCLUDED.user_id,
			status = 'pending',
			response_status = NULL,
			response_body = NULL,
			locked_until = EXCLUDED.locked_until,
			lock_token = EXCLUDED.lock_token,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
		WHERE idempotency_records.expires_at <= $8`

	result, err := r.db.ExecContext(ctx, query,
		rec.Key, rec.RequestHash, rec.Method, rec.Path, rec.UserID,
		rec.LockedUntil, rec.ExpiresAt, now, rec.LockToken,
	)
	if err != nil {
		return false, fmt.Errorf("failed to acquire idempotency key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows == 1, nil
}

// Get returns the record for a key, or nil if none exists
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	query := `
		SELECT key, request_hash, method, path, user_id, status,
			response_status, response_body, locked_until, lock_token, expires_at, created_at, updated_at
		FROM idempotency_records
		WHERE key = $1`

	err := r.db.GetContext(ctx, &rec, query, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}
	return &rec, nil
}

// Reacquire takes over a record whose request was abandoned (lock expired) or failed.
// Completed records and records still locked by a live request are never taken.
// The new lock token fences off the previous holder's Complete/MarkFailed.
func (r *IdempotencyRepository) Reacquire(ctx context.Context, key, requestHash, lockToken string, lockedUntil, now time.Time) (bool, error) {
	query := `
		UPDATE idempotency_records SET
			status = 'pending',
			response_status = NULL,
			response_body = NULL,
			locked_until = $3,
			lock_token = $5,
			updated_at = $4
		WHERE key = $1
		  AND request_hash = $2
		  AND status <> 'completed'
		  AND (locked_until IS NULL OR locked_until <= $4)
		  AND expires_at > $4`

	result, err := r.db.ExecContext(ctx, query, key, requestHash, lockedUntil, now, lockToken)
	if err != nil {
		return false, fmt.Errorf("failed to reacquire idempotency key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows == 1, nil
}

// Complete stores the response for replay and releases the lock.
// Only the holder of lockToken may finish the record.
func (r *IdempotencyRepository) Complete(ctx context.Context, key, lockToken string, statusCode int, body []byte, now time.Time) error {
	return r.finish(ctx, key, lockToken, models.IdempotencyStatusCompleted, statusCode, body, now)
}

// MarkFailed records a server-side failure and releases the lock so a retry may re-execute
func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key, lockToken string, statusCode int, body []byte, now time.Time) error {
	return r.finish(ctx, key, lockToken, models.IdempotencyStatusFailed, statusCode, body, now)
}

func (r *IdempotencyRepository) finish(
	ctx context.Context,
	key string,
	lockToken string,
	status models.IdempotencyStatus,
	statusCode int,
	body []byte,
	now time.Time,
) error {
	query := `
		UPDATE idempotency_records SET
			status = $2,
			response_status = $3,
			response_body = $4,
			locked_until = NULL,
			updated_at = $5
		WHERE key = $1 AND status = 'pending' AND lock_token = $6`

	result, err := r.db.ExecContext(ctx, query, key, status, statusCode, body, now, lockToken)
	if err != nil {
		return fmt.Errorf("failed to store idempotent response: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("idempotency key %q: %w", key, ErrIdempotencyLockLost)
	}
	return nil
}

// DeleteExpired removes records past their retention window
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency records: %w", err)
	}
	return result.RowsAffected()
}
