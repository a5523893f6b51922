package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/santosh227/airline-booking-service/internal/models"
	"github.com/santosh227/airline-booking-service/internal/services"
	"github.com/santosh227/airline-booking-service/internal/utils"
	"github.com/sirupsen/logrus"
)

// maxWebhookBodyBytes bounds what we read from the payment collaborator
const maxWebhookBodyBytes = 1 << 20

// PaymentReconciler verifies and applies payment events
type PaymentReconciler interface {
	ProcessWebhook(ctx context.Context, req services.WebhookRequest) (*services.WebhookResult, error)
	ListPaymentAudit(ctx context.Context, paymentID string) ([]models.PaymentAudit, error)
}

// PaymentWebhookHandler receives asynchronous payment notifications
type PaymentWebhookHandler struct {
	reconciler PaymentReconciler
	logger     *logrus.Logger
}

// NewPaymentWebhookHandler creates a new PaymentWebhookHandler
func NewPaymentWebhookHandler(reconciler PaymentReconciler, logger *logrus.Logger) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{
		reconciler: reconciler,
		logger:     logger,
	}
}

// HandleWebhook verifies the signature over the raw body and applies the event
// @Summary Payment event webhook
// @Description Called by the payment service. Signed with X-Payment-Signature.
// @Tags Payments
// @Accept json
// @Produce json
// @Success 200 {object} services.WebhookResult
// @Failure 400 {object} map[string]interface{} "Bad signature or malformed event"
// @Router /payments/webhook [post]
func (h *PaymentWebhookHandler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_body", "Could not read request body")
		return
	}

	result, err := h.reconciler.ProcessWebhook(c.Request.Context(), services.WebhookRequest{
		Body:      body,
		Signature: c.GetHeader(services.SignatureHeader),
		IPAddress: utils.GetRealIP(c),
		UserAgent: utils.GetUserAgent(c),
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidSignature) || errors.Is(err, services.ErrMalformedEvent) {
			h.logger.WithFields(logrus.Fields{
				"ip":    utils.GetRealIP(c),
				"error": err.Error(),
			}).Warn("Rejected payment webhook")
		}
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"status":   result.Status,
		"event_id": result.EventID,
		"event":    result.Event,
	})
}

// ListPaymentAudit returns the event trail of one payment (admin only)
// GET /api/v1/payments/:payment_id/audit
func (h *PaymentWebhookHandler) ListPaymentAudit(c *gin.Context) {
	paymentID := c.Param("payment_id")

	entries, err := h.reconciler.ListPaymentAudit(c.Request.Context(), paymentID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"payment_id": paymentID,
		"events":     entries,
	})
}
