package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santosh227/airline-booking-service/internal/config"
	"github.com/sirupsen/logrus"
)

// PaymentGateway is the external payment collaborator.
//
// Implementations MUST be idempotent per IdempotencyKey: a repeated call with the
// same key returns the original outcome without charging or refunding twice. The
// booking saga relies on this when a request is re-executed after its idempotency
// lock expired.
type PaymentGateway interface {
	InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
	RequestRefund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// PaymentRequest asks the collaborator to charge for a booking
type PaymentRequest struct {
	PaymentID        string    `json:"payment_id"` // client transaction reference
	BookingID        uuid.UUID `json:"booking_id"`
	BookingReference string    `json:"booking_reference"`
	UserID           uuid.UUID `json:"user_id"`
	SeatCount        int       `json:"seat_count"`
	Amount           int64     `json:"amount"` // minor units
	Currency         string    `json:"currency"`
	IdempotencyKey   string    `json:"-"`
}

// PaymentOutcome is the collaborator's answer to a charge
type PaymentOutcome string

const (
	PaymentOutcomeCompleted  PaymentOutcome = "completed"  // captured synchronously
	PaymentOutcomeProcessing PaymentOutcome = "processing" // accepted, result arrives by webhook
	PaymentOutcomeDeclined   PaymentOutcome = "declined"
)

// PaymentResult is the result of InitiatePayment
type PaymentResult struct {
	Outcome          PaymentOutcome `json:"outcome"`
	GatewayPaymentID string         `json:"gateway_payment_id"`
	Method           string         `json:"method,omitempty"`
	FailureReason    string         `json:"failure_reason,omitempty"`
}

// RefundRequest asks the collaborator to return money for a cancelled booking
type RefundRequest struct {
	PaymentID      string    `json:"payment_id"`
	BookingID      uuid.UUID `json:"booking_id"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Reason         string    `json:"reason,omitempty"`
	IdempotencyKey string    `json:"-"`
}

// RefundOutcome is the collaborator's answer to a refund request
type RefundOutcome string

const (
	RefundOutcomeCompleted  RefundOutcome = "completed"
	RefundOutcomeProcessing RefundOutcome = "processing" // refund_processed webhook follows
)

// RefundResult is the result of RequestRefund
type RefundResult struct {
	Outcome  RefundOutcome `json:"outcome"`
	RefundID string        `json:"refund_id"`
}

// ============================================================================
// REMOTE PAYMENT SERVICE
// ============================================================================

// PaymentServiceClient talks to the payment service over HTTP JSON
type PaymentServiceClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logrus.Logger
}

// NewPaymentServiceClient creates a new payment service client
func NewPaymentServiceClient(cfg config.PaymentConfig, logger *logrus.Logger) *PaymentServiceClient {
	return &PaymentServiceClient{
		baseURL: strings.TrimRight(cfg.ServiceURL, "/"),
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// InitiatePayment charges the booking. A 402 answer is a decline, not an error.
func (c *PaymentServiceClient) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	s := c.logger.WithFields(logrus.Fields{
		"payment_id":        req.PaymentID,
		"booking_reference": req.BookingReference,
		"amount":            req.Amount,
		"currency":          req.Currency,
	})
	s.Info("Initiating payment")

	var result PaymentResult
	status, raw, err := c.post(ctx, "/payments", req.IdempotencyKey, req, &result)
	if err != nil {
		s.WithError(err).Error("Payment service call failed")
		return nil, err
	}

	if status == http.StatusPaymentRequired {
		if result.FailureReason == "" {
			result.FailureReason = "payment declined"
		}
		result.Outcome = PaymentOutcomeDeclined
		return &result, nil
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusAccepted {
		return nil, fmt.Errorf("payment service returned status %d: %s", status, string(raw))
	}

	switch result.Outcome {
	case PaymentOutcomeCompleted, PaymentOutcomeProcessing, PaymentOutcomeDeclined:
	default:
		return nil, fmt.Errorf("payment service returned unknown outcome %q", result.Outcome)
	}

	s.WithFields(logrus.Fields{
		"outcome":            result.Outcome,
		"gateway_payment_id": result.GatewayPaymentID,
	}).Info("Payment service responded")

	return &result, nil
}

// RequestRefund asks the payment service to refund a captured payment
func (c *PaymentServiceClient) RequestRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	var result RefundResult
	path := fmt.Sprintf("/payments/%s/refunds", req.PaymentID)
	status, raw, err := c.post(ctx, path, req.IdempotencyKey, req, &result)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusAccepted {
		return nil, fmt.Errorf("refund request returned status %d: %s", status, string(raw))
	}
	if result.Outcome != RefundOutcomeCompleted && result.Outcome != RefundOutcomeProcessing {
		return nil, fmt.Errorf("refund request returned unknown outcome %q", result.Outcome)
	}
	return &result, nil
}

func (c *PaymentServiceClient) post(ctx context.Context, path, idempotencyKey string, payload, out interface{}) (int, []byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build payment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to call payment service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read payment response: %w", err)
	}

	if len(bytes.TrimSpace(raw)) > 0 && resp.StatusCode < http.StatusInternalServerError {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, raw, fmt.Errorf("failed to parse payment response: %w", err)
		}
	}
	return resp.StatusCode, raw, nil
}

// ============================================================================
// SIMULATED GATEWAY (development)
// ============================================================================

// SimulatedPaymentGateway completes every charge and refund immediately.
// Payment references starting with "decline_" are declined, which lets the
// failure path be exercised end to end without a payment service.
type SimulatedPaymentGateway struct {
	logger *logrus.Logger
}

// NewSimulatedPaymentGateway creates a new simulated gateway
func NewSimulatedPaymentGateway(logger *logrus.Logger) *SimulatedPaymentGateway {
	return &SimulatedPaymentGateway{logger: logger}
}

// InitiatePayment simulates a synchronous capture
func (g *SimulatedPaymentGateway) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if strings.HasPrefix(req.PaymentID, "decline_") {
		return &PaymentResult{
			Outcome:       PaymentOutcomeDeclined,
			FailureReason: "card declined by simulated gateway",
		}, nil
	}

	g.logger.WithFields(logrus.Fields{
		"payment_id": req.PaymentID,
		"amount":     req.Amount,
		"mode":       "simulated",
	}).Warn("Payment captured by simulated gateway")

	return &PaymentResult{
		Outcome:          PaymentOutcomeCompleted,
		GatewayPaymentID: "sim_" + req.PaymentID,
		Method:           "simulated",
	}, nil
}

// RequestRefund simulates an immediate refund
func (g *SimulatedPaymentGateway) RequestRefund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &RefundResult{
		Outcome:  RefundOutcomeCompleted,
		RefundID: fmt.Sprintf("sim_rfnd_%s_%d", req.PaymentID, time.Now().Unix()),
	}, nil
}
