package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/santosh227/airline-booking-service/internal/services"
	"github.com/sirupsen/logrus"
)

// statusForKind maps a service error kind onto an HTTP status
func statusForKind(kind services.ErrorKind) int {
	switch kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindConflict:
		return http.StatusConflict
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the standard error body for err. Internal errors are
// logged with their cause and never leak it to the client.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	kind := services.KindOf(err)
	status := statusForKind(kind)

	code, message := "internal_error", "An unexpected error occurred"
	var se *services.ServiceError
	if errors.As(err, &se) {
		code, message = se.Code, se.Message
	} else if kind == services.KindConflict {
		code, message = "invalid_transition", err.Error()
	}

	entry := logger.WithFields(logrus.Fields{
		"path":   c.Request.URL.Path,
		"status": status,
		"code":   code,
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	errorJSON(c, status, code, message)
}

func errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error":   code,
		"message": message,
	})
}

// parseUUIDParam reads a UUID path parameter, writing a 400 when it is malformed
func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
