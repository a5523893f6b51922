package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/santosh227/airline-booking-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

func newTestReconciler(f *orchestratorFixture) *PaymentReconcilerService {
	return NewPaymentReconcilerService(f.payments, f.audits, f.svc, testWebhookSecret, testLogger())
}

func paymentEvent(t *testing.T, id, event, paymentID string, amount int64) []byte {
	t.Helper()
	entity := map[string]interface{}{
		"id":       "gw_" + paymentID,
		"amount":   amount,
		"currency": "INR",
		"notes":    map[string]string{"payment_id": paymentID},
	}
	payload := map[string]interface{}{}
	if event == "refund.processed" || event == "refund_processed" {
		entity["id"] = "rfnd_" + paymentID
		payload["refund"] = map[string]interface{}{"entity": entity}
	} else {
		payload["payment"] = map[string]interface{}{"entity": entity}
	}
	body, err := json.Marshal(map[string]interface{}{"id": id, "event": event, "payload": payload})
	require.NoError(t, err)
	return body
}

func signed(body []byte) WebhookRequest {
	return WebhookRequest{Body: body, Signature: SignPayload(testWebhookSecret, body), IPAddress: "10.0.0.1"}
}

func TestVerifySignature(t *testing.T) {
	r := NewPaymentReconcilerService(nil, nil, nil, testWebhookSecret, testLogger())
	body := []byte(`{"id":"evt_1"}`)
	sig := SignPayload(testWebhookSecret, body)

	assert.True(t, r.VerifySignature(body, sig))
	assert.True(t, r.VerifySignature(body, "sha256="+sig))
	assert.False(t, r.VerifySignature([]byte(`{"id":"evt_2"}`), sig), "tampered body")
	assert.False(t, r.VerifySignature(body, SignPayload("other", body)))
	assert.False(t, r.VerifySignature(body, "not-hex"))
	assert.False(t, r.VerifySignature(body, ""))
}

func TestProcessWebhook_Rejections(t *testing.T) {
	f := newOrchestratorFixture(t, 5)
	r := newTestReconciler(f)
	ctx := context.Background()

	t.Run("Tampered Body", func(t *testing.T) {
		body := paymentEvent(t, "evt_1", "payment.captured", "txn_1", 100)
		req := signed(body)
		req.Body = append([]byte(nil), body...)
		req.Body[len(req.Body)-2] = ' '

		_, err := r.ProcessWebhook(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidSignature)
		assert.Contains(t, f.audits.types(), models.AuditWebhookRejected)
	})

	t.Run("Malformed Payload", func(t *testing.T) {
		_, err := r.ProcessWebhook(ctx, signed([]byte(`{not json`)))
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})

	t.Run("Missing Entity", func(t *testing.T) {
		_, err := r.ProcessWebhook(ctx, signed([]byte(`{"id":"evt_2","event":"payment_completed","payload":{}}`)))
		assert.ErrorIs(t, err, ErrMalformedEvent)
	})

	t.Run("Unknown Event Is Ignored", func(t *testing.T) {
		res, err := r.ProcessWebhook(ctx, signed([]byte(`{"id":"evt_3","event":"order.paid","payload":{}}`)))
		require.NoError(t, err)
		assert.Equal(t, WebhookIgnored, res.Status)
	})

	t.Run("Unknown Payment Is Ignored", func(t *testing.T) {
		res, err := r.ProcessWebhook(ctx, signed(paymentEvent(t, "evt_4", "payment_completed", "txn_missing", 100)))
		require.NoError(t, err)
		assert.Equal(t, WebhookIgnored, res.Status)
	})
}

func TestProcessWebhook_PaymentCompleted(t *testing.T) {
	f := newOrchestratorFixture(t, 5)
	f.gateway.payment = &PaymentResult{Outcome: PaymentOutcomeProcessing}
	outcome, err := f.svc.CreateBooking(context.Background(), f.user, f.request("9A"), "")
	require.NoError(t, err)
	r := newTestReconciler(f)
	body := paymentEvent(t, "evt_10", "payment.captured", outcome.Booking.PaymentID, 450000)

	res, err := r.ProcessWebhook(context.Background(), signed(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, res.Status)
	assert.Equal(t, models.BookingStatusConfirmed, f.bookings.get(outcome.Booking.ID).Status)
	assert.Equal(t, models.PaymentStatusCompleted, f.payments.get(outcome.Booking.PaymentID).Status)

	res, err = r.ProcessWebhook(context.Background(), signed(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, res.Status)
	assert.Equal(t, []string{EventBookingConfirmed}, f.events.types(), "redelivery changes nothing")
	assert.Contains(t, f.audits.types(), models.AuditReconciliationNoop)
}

func TestProcessWebhook_PaymentFailed(t *testing.T) {
	f := newOrchestratorFixture(t, 5)
	f.gateway.payment = &PaymentResult{Outcome: PaymentOutcomeProcessing}
	outcome, err := f.svc.CreateBooking(context.Background(), f.user, f.request("9A", "9B"), "")
	require.NoError(t, err)
	require.Equal(t, 3, f.ledger.available(f.flight.FlightID))
	r := newTestReconciler(f)
	body := paymentEvent(t, "evt_11", "payment.failed", outcome.Booking.PaymentID, 900000)

	res, err := r.ProcessWebhook(context.Background(), signed(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, res.Status)
	assert.Equal(t, models.BookingStatusCancelled, f.bookings.get(outcome.Booking.ID).Status)
	assert.Equal(t, 5, f.ledger.available(f.flight.FlightID))

	res, err = r.ProcessWebhook(context.Background(), signed(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, res.Status)
	assert.Equal(t, 1, f.ledger.releases)
}

func TestProcessWebhook_RefundProcessed(t *testing.T) {
	f := newOrchestratorFixture(t, 5)
	b := f.book(t, "9A")
	_, err := f.svc.CancelBooking(context.Background(), b.ID, f.owner(), "")
	require.NoError(t, err)
	r := newTestReconciler(f)
	body := paymentEvent(t, "evt_12", "refund.processed", b.PaymentID, 450000)

	res, err := r.ProcessWebhook(context.Background(), signed(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, res.Status)
	assert.Equal(t, models.RefundStatusCompleted, f.bookings.get(b.ID).RefundStatus)

	p := f.payments.get(b.PaymentID)
	assert.Equal(t, models.PaymentStatusRefunded, p.Status)
	assert.Equal(t, "rfnd_"+b.PaymentID, *p.RefundID)

	res, err = r.ProcessWebhook(context.Background(), signed(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, res.Status)

	trail, err := r.ListPaymentAudit(context.Background(), b.PaymentID)
	require.NoError(t, err)
	assert.NotEmpty(t, trail)
}
