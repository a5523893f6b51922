package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/santosh227/airline-booking-service/internal/utils"
	"github.com/sirupsen/logrus"
)

// RequestLogger logs one entry per request with latency, client and device info
func RequestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		device := utils.ParseUserAgent(utils.GetUserAgent(c))
		fields := logrus.Fields{
			"status":      c.Writer.Status(),
			"method":      c.Request.Method,
			"path":        path,
			"query":       query,
			"ip":          utils.GetRealIP(c),
			"latency_ms":  time.Since(start).Milliseconds(),
			"device_type": device.DeviceType,
			"os":          device.OS,
			"browser":     device.Browser,
			"has_auth":    c.GetHeader("Authorization") != "",
		}

		if userCtx, exists := GetUserContext(c); exists {
			fields["user_id"] = userCtx.UserID
		}
		if key := GetIdempotencyKey(c); key != "" {
			fields["idempotency_key"] = key
		}
		if c.Writer.Header().Get(ReplayedHeader) != "" {
			fields["replayed"] = true
		}

		entry := logger.WithFields(fields)

		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
			return
		}

		status := c.Writer.Status()
		switch {
		case status >= 500:
			entry.Error("Request completed with server error")
		case status >= 400:
			entry.Warn("Request completed with client error")
		default:
			entry.Info("Request completed successfully")
		}
	}
}
