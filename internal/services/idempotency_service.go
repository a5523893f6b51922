package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/santosh227/airline-booking-service/internal/config"
	"github.com/santosh227/airline-booking-service/internal/database"
	"github.com/santosh227/airline-booking-service/internal/models"
	"github.com/sirupsen/logrus"
)

// IdempotencyStore persists idempotency records with atomic conditional writes
type IdempotencyStore interface {
	Acquire(ctx context.Context, rec *models.IdempotencyRecord, now time.Time) (bool, error)
	Get(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	Reacquire(ctx context.Context, key, requestHash, lockToken string, lockedUntil, now time.Time) (bool, error)
	Complete(ctx context.Context, key, lockToken string, statusCode int, body []byte, now time.Time) error
	MarkFailed(ctx context.Context, key, lockToken string, statusCode int, body []byte, now time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

var (
	// ErrIdempotencyKeyMismatch is returned when a key is reused for a different request
	ErrIdempotencyKeyMismatch = conflictError(
		"idempotency_key_mismatch",
		"Idempotency key conflicts with different request payload",
		nil,
	)

	// ErrRequestInProgress is returned while another request owns the key
	ErrRequestInProgress = conflictError(
		"request_in_progress",
		"Request with this Idempotency-Key is already processing",
		nil,
	)
)

// IdempotencyDecision tells the caller what to do with a request
type IdempotencyDecision int

const (
	// DecisionExecute means the caller owns the key and must run the operation, then Finish
	DecisionExecute IdempotencyDecision = iota
	// DecisionReplay means a stored response exists and must be returned verbatim
	DecisionReplay
)

// IdempotencyRequest identifies one mutating request
type IdempotencyRequest struct {
	Key         string
	RequestHash string
	Method      string
	Path        string
	UserID      *uuid.UUID
}

// IdempotencyResult is the outcome of Begin
type IdempotencyResult struct {
	Decision     IdempotencyDecision
	StatusCode   int    // set for DecisionReplay
	ResponseBody []byte // set for DecisionReplay
	Reacquired   bool   // the key was taken over from an abandoned or failed attempt
	LockToken    string // set for DecisionExecute, passed back to Finish
}

// IdempotencyService coordinates at most one execution per idempotency key.
// All exclusion happens in the store; the service holds no per-key state.
type IdempotencyService struct {
	store      IdempotencyStore
	lockWindow time.Duration
	retention  time.Duration
	logger     *logrus.Logger
	now        func() time.Time
}

// NewIdempotencyService creates a new IdempotencyService
func NewIdempotencyService(store IdempotencyStore, cfg config.IdempotencyConfig, logger *logrus.Logger) *IdempotencyService {
	return &IdempotencyService{
		store:      store,
		lockWindow: cfg.LockWindow,
		retention:  cfg.Retention,
		logger:     logger,
		now:        time.Now,
	}
}

// Begin decides whether the request executes, replays a stored response, or conflicts.
// Conflicts are returned as ErrIdempotencyKeyMismatch or ErrRequestInProgress.
func (s *IdempotencyService) Begin(ctx context.Context, req IdempotencyRequest) (*IdempotencyResult, error) {
	if req.Key == "" {
		return nil, validationError("idempotency_key_required", "Idempotency-Key header is required")
	}

	now := s.now()
	lockedUntil := now.Add(s.lockWindow)
	token := uuid.NewString()
	rec := &models.IdempotencyRecord{
		Key:         req.Key,
		RequestHash: req.RequestHash,
		Method:      req.Method,
		Path:        req.Path,
		UserID:      req.UserID,
		Status:      models.IdempotencyStatusPending,
		LockedUntil: &lockedUntil,
		LockToken:   token,
		ExpiresAt:   now.Add(s.retention),
	}

	// A second round only happens when the record vanished or expired between
	// the insert and the read (e.g. the sweeper ran in between).
	for round := 0; round < 2; round++ {
		owned, err := s.store.Acquire(ctx, rec, now)
		if err != nil {
			return nil, internalError("Failed to record idempotency key", err)
		}
		if owned {
			return &IdempotencyResult{Decision: DecisionExecute, LockToken: token}, nil
		}

		existing, err := s.store.Get(ctx, req.Key)
		if err != nil {
			return nil, internalError("Failed to read idempotency key", err)
		}
		if existing == nil || existing.IsExpired(now) {
			continue
		}

		if existing.RequestHash != req.RequestHash {
			s.logger.WithFields(logrus.Fields{
				"idempotency_key": req.Key,
				"path":            req.Path,
			}).Warn("Idempotency key reused with a different payload")
			return nil, ErrIdempotencyKeyMismatch
		}

		switch existing.Status {
		case models.IdempotencyStatusCompleted:
			if existing.ResponseStatus == nil {
				return nil, internalError("Stored response is incomplete", fmt.Errorf("record %q has no status code", req.Key))
			}
			return &IdempotencyResult{
				Decision:     DecisionReplay,
				StatusCode:   *existing.ResponseStatus,
				ResponseBody: existing.ResponseBody,
			}, nil
		case models.IdempotencyStatusPending:
			if existing.IsLocked(now) {
				return nil, ErrRequestInProgress
			}
		}

		// Abandoned (lock expired) or failed: take it over and execute again
		taken, err := s.store.Reacquire(ctx, req.Key, req.RequestHash, token, lockedUntil, now)
		if err != nil {
			return nil, internalError("Failed to reacquire idempotency key", err)
		}
		if !taken {
			return nil, ErrRequestInProgress
		}

		s.logger.WithFields(logrus.Fields{
			"idempotency_key": req.Key,
			"previous_status": existing.Status,
		}).Info("Idempotency key reacquired")
		return &IdempotencyResult{Decision: DecisionExecute, Reacquired: true, LockToken: token}, nil
	}

	return nil, ErrRequestInProgress
}

// Finish stores the response of an executed request. Server errors (5xx) mark the
// record failed so the client may retry; everything else is kept for replay.
// A request whose lock was taken over gets database.ErrIdempotencyLockLost and
// its response is not stored.
func (s *IdempotencyService) Finish(ctx context.Context, key, lockToken string, statusCode int, body []byte) error {
	now := s.now()
	var err error
	if statusCode >= http.StatusInternalServerError {
		err = s.store.MarkFailed(ctx, key, lockToken, statusCode, body, now)
	} else {
		err = s.store.Complete(ctx, key, lockToken, statusCode, body, now)
	}
	if errors.Is(err, database.ErrIdempotencyLockLost) {
		s.logger.WithFields(logrus.Fields{
			"idempotency_key": key,
			"status":          statusCode,
		}).Warn("Idempotency lock expired before the request finished, response not stored")
	}
	return err
}

// Sweep deletes records past their retention window
func (s *IdempotencyService) Sweep(ctx context.Context) (int64, error) {
	return s.store.DeleteExpired(ctx, s.now())
}
