package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/santosh227/airline-booking-service/internal/utils"
	"github.com/sirupsen/logrus"
)

// APIKeyHeader carries the service-to-service key on internal routes
const APIKeyHeader = "X-API-Key"

// RequireAPIKey guards internal routes (inventory ledger) with a shared key.
// Only the bcrypt hash of the key is configured.
func RequireAPIKey(keyHash string, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key is required",
				"code":    "MISSING_API_KEY",
			})
			c.Abort()
			return
		}

		if !utils.VerifyAPIKey(keyHash, key) {
			logger.WithFields(logrus.Fields{
				"path": c.Request.URL.Path,
				"ip":   utils.GetRealIP(c),
			}).Warn("Rejected request with invalid API key")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid API key",
				"code":    "INVALID_API_KEY",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
