package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/santosh227/airline-booking-service/internal/services"
	"github.com/sirupsen/logrus"
)

const (
	// IdempotencyKeyHeader is the client supplied key for mutating requests
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader marks a response served from the idempotency store
	ReplayedHeader = "Idempotent-Replayed"
	// IdempotencyKeyContextKey holds the raw client key for handlers
	IdempotencyKeyContextKey = "idempotency_key"

	maxIdempotencyKeyLength = 255
)

// responseRecorder tees everything the handler writes so it can be stored for replay
type responseRecorder struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *responseRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency makes a mutating route execute at most once per key.
// Keys are scoped to the authenticated user so two users can never collide.
// Must run after AuthMiddleware.
func Idempotency(svc *services.IdempotencyService, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
		if key == "" {
			abortWithError(c, http.StatusBadRequest, "idempotency_key_required", "Idempotency-Key header required")
			return
		}
		if len(key) > maxIdempotencyKeyLength {
			abortWithError(c, http.StatusBadRequest, "invalid_idempotency_key", "Idempotency-Key must be at most 255 characters")
			return
		}

		userCtx, exists := GetUserContext(c)
		if !exists {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", "User context not found")
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "invalid_body", "Could not read request body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		scopedKey := userCtx.UserID.String() + ":" + key
		userID := userCtx.UserID
		log := logger.WithFields(logrus.Fields{
			"idempotency_key": key,
			"user_id":         userID,
			"path":            c.Request.URL.Path,
		})

		result, err := svc.Begin(c.Request.Context(), services.IdempotencyRequest{
			Key:         scopedKey,
			RequestHash: services.Fingerprint(c.Request.Method, c.Request.URL.Path, body, c.Request.URL.Query()),
			Method:      c.Request.Method,
			Path:        c.Request.URL.Path,
			UserID:      &userID,
		})
		if err != nil {
			var se *services.ServiceError
			switch {
			case errors.As(err, &se) && se.Kind == services.KindConflict:
				log.WithField("code", se.Code).Info("Idempotency conflict")
				abortWithError(c, http.StatusConflict, se.Code, se.Message)
			case errors.As(err, &se) && se.Kind == services.KindValidation:
				abortWithError(c, http.StatusBadRequest, se.Code, se.Message)
			default:
				log.WithError(err).Error("Idempotency store unavailable")
				abortWithError(c, http.StatusInternalServerError, "internal_error", "Could not process request")
			}
			return
		}

		if result.Decision == services.DecisionReplay {
			log.WithField("status", result.StatusCode).Info("Replaying stored response")
			c.Header(ReplayedHeader, "true")
			c.Data(result.StatusCode, "application/json; charset=utf-8", result.ResponseBody)
			c.Abort()
			return
		}

		recorder := &responseRecorder{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = recorder
		c.Set(IdempotencyKeyContextKey, key)

		c.Next()

		// the client may have gone away; the outcome still has to be stored
		ctx := context.WithoutCancel(c.Request.Context())
		if err := svc.Finish(ctx, scopedKey, result.LockToken, recorder.Status(), recorder.body.Bytes()); err != nil {
			log.WithError(err).Error("Failed to store idempotent response")
		}
	}
}

// GetIdempotencyKey returns the raw client key set by Idempotency
func GetIdempotencyKey(c *gin.Context) string {
	return c.GetString(IdempotencyKeyContextKey)
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   code,
		"message": message,
	})
}
