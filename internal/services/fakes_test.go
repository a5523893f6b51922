package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santosh227/airline-booking-service/internal/database"
	"github.com/santosh227/airline-booking-service/internal/models"
)

// ============================================================================
// BOOKINGS
// ============================================================================

type memoryBookingStore struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*models.Booking
	history  map[uuid.UUID][]models.StatusHistoryEntry

	takenReferences map[string]bool
	createErr       error
	saveErr         func(b *models.Booking, from models.BookingStatus) error
}

func newMemoryBookingStore() *memoryBookingStore {
	return &memoryBookingStore{
		bookings:        map[uuid.UUID]*models.Booking{},
		history:         map[uuid.UUID][]models.StatusHistoryEntry{},
		takenReferences: map[string]bool{},
	}
}

func (m *memoryBookingStore) put(b *models.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = b.Clone()
	m.history[b.ID] = append([]models.StatusHistoryEntry(nil), b.StatusHistory...)
}

func (m *memoryBookingStore) get(id uuid.UUID) *models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil
	}
	c := b.Clone()
	c.StatusHistory = append([]models.StatusHistoryEntry(nil), m.history[id]...)
	return c
}

func (m *memoryBookingStore) only() *models.Booking {
	m.mu.Lock()
	var id uuid.UUID
	for k := range m.bookings {
		id = k
	}
	m.mu.Unlock()
	return m.get(id)
}

func (m *memoryBookingStore) Create(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.bookings {
		if existing.BookingReference == b.BookingReference {
			return database.ErrDuplicateKey
		}
	}
	m.bookings[b.ID] = b.Clone()
	m.bookings[b.ID].StatusHistory = nil
	m.history[b.ID] = append([]models.StatusHistoryEntry(nil), b.StatusHistory...)
	return nil
}

func (m *memoryBookingStore) ReferenceExists(_ context.Context, reference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.takenReferences[reference] {
		return true, nil
	}
	for _, b := range m.bookings {
		if b.BookingReference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryBookingStore) GetByID(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, nil
	}
	c := b.Clone()
	c.StatusHistory = nil
	return c, nil
}

func (m *memoryBookingStore) GetByReference(ctx context.Context, reference string) (*models.Booking, error) {
	m.mu.Lock()
	var id uuid.UUID
	for _, b := range m.bookings {
		if b.BookingReference == reference {
			id = b.ID
		}
	}
	m.mu.Unlock()
	return m.GetByID(ctx, id)
}

func (m *memoryBookingStore) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := []*models.Booking{}
	for _, b := range m.bookings {
		if b.UserID == userID {
			list = append(list, b.Clone())
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if offset >= len(list) {
		return []*models.Booking{}, nil
	}
	list = list[offset:]
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *memoryBookingStore) GetStatusHistory(_ context.Context, bookingID uuid.UUID) ([]models.StatusHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.StatusHistoryEntry(nil), m.history[bookingID]...), nil
}

func (m *memoryBookingStore) SaveTransition(_ context.Context, b *models.Booking, from models.BookingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		if err := m.saveErr(b, from); err != nil {
			return err
		}
	}
	stored, ok := m.bookings[b.ID]
	if !ok || stored.Status != from {
		return database.ErrStaleBooking
	}
	entry, _ := b.LastHistoryEntry()
	c := b.Clone()
	c.StatusHistory = nil
	c.RefundAttempts = stored.RefundAttempts
	m.bookings[b.ID] = c
	m.history[b.ID] = append(m.history[b.ID], entry)
	return nil
}

func (m *memoryBookingStore) MarkSeatsReserved(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.bookings[b.ID]
	if !ok {
		return database.ErrStaleBooking
	}
	stored.SeatsReserved = true
	stored.PricePerSeat = b.PricePerSeat
	stored.TotalCost = b.TotalCost
	stored.Currency = b.Currency
	stored.DepartureAt = b.DepartureAt
	return nil
}

func (m *memoryBookingStore) ClaimDueRefunds(_ context.Context, now, staleBefore time.Time, limit int) ([]*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	claimed := []*models.Booking{}
	for _, b := range m.bookings {
		if len(claimed) == limit {
			break
		}
		switch b.RefundStatus {
		case models.RefundStatusPending:
			if b.RefundNextAttemptAt != nil && b.RefundNextAttemptAt.After(now) {
				continue
			}
		case models.RefundStatusProcessing:
			if b.UpdatedAt.After(staleBefore) {
				continue
			}
		default:
			continue
		}
		b.RefundStatus = models.RefundStatusProcessing
		b.RefundAttempts++
		b.UpdatedAt = now
		claimed = append(claimed, b.Clone())
	}
	return claimed, nil
}

func (m *memoryBookingStore) UpdateRefundStatus(
	_ context.Context,
	bookingID uuid.UUID,
	from []models.RefundStatus,
	to models.RefundStatus,
	lastError *string,
	nextAttemptAt *time.Time,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if b.RefundStatus == s {
			b.RefundStatus = to
			b.RefundLastError = lastError
			b.RefundNextAttemptAt = nextAttemptAt
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryBookingStore) ScheduleRefund(_ context.Context, bookingID uuid.UUID, amount int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok || b.Status != models.BookingStatusCancelled || b.RefundStatus != models.RefundStatusNotApplicable {
		return false, nil
	}
	if amount > b.TotalCost {
		amount = b.TotalCost
	}
	b.RefundAmount = amount
	b.RefundStatus = models.RefundStatusPending
	b.RefundNextAttemptAt = nil
	return true, nil
}

func (m *memoryBookingStore) ListDepartedConfirmed(_ context.Context, cutoff time.Time, limit int) ([]*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := []*models.Booking{}
	for _, b := range m.bookings {
		if b.Status == models.BookingStatusConfirmed && b.DepartureAt != nil && b.DepartureAt.Before(cutoff) {
			list = append(list, b.Clone())
		}
		if len(list) == limit {
			break
		}
	}
	return list, nil
}

// ============================================================================
// PAYMENTS
// ============================================================================

type memoryPaymentStore struct {
	mu       sync.Mutex
	payments map[string]*models.Payment
}

func newMemoryPaymentStore() *memoryPaymentStore {
	return &memoryPaymentStore{payments: map[string]*models.Payment{}}
}

func (m *memoryPaymentStore) get(id string) *models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil
	}
	c := *p
	return &c
}

func (m *memoryPaymentStore) Create(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.ID]; ok {
		return database.ErrDuplicateKey
	}
	c := *p
	if c.RefundStatus == "" {
		c.RefundStatus = models.RefundStatusNotApplicable
	}
	m.payments[p.ID] = &c
	return nil
}

func (m *memoryPaymentStore) GetByID(_ context.Context, id string) (*models.Payment, error) {
	return m.get(id), nil
}

func (m *memoryPaymentStore) GetByBookingID(_ context.Context, bookingID uuid.UUID) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.BookingID == bookingID {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memoryPaymentStore) transition(id string, to models.PaymentStatus, from ...models.PaymentStatus) (*models.Payment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, false
	}
	for _, s := range from {
		if p.Status == s {
			p.Status = to
			return p, true
		}
	}
	return nil, false
}

func (m *memoryPaymentStore) MarkProcessing(_ context.Context, id, gatewayPaymentID string) (bool, error) {
	p, ok := m.transition(id, models.PaymentStatusProcessing, models.PaymentStatusPending)
	if ok && gatewayPaymentID != "" {
		p.GatewayPaymentID = &gatewayPaymentID
	}
	return ok, nil
}

func (m *memoryPaymentStore) MarkCompleted(_ context.Context, id, gatewayPaymentID, method string) (bool, error) {
	p, ok := m.transition(id, models.PaymentStatusCompleted, models.PaymentStatusPending, models.PaymentStatusProcessing)
	if ok && gatewayPaymentID != "" {
		p.GatewayPaymentID = &gatewayPaymentID
	}
	return ok, nil
}

func (m *memoryPaymentStore) MarkFailed(_ context.Context, id, reason string) (bool, error) {
	p, ok := m.transition(id, models.PaymentStatusFailed, models.PaymentStatusPending, models.PaymentStatusProcessing)
	if ok && reason != "" {
		p.FailureReason = &reason
	}
	return ok, nil
}

func (m *memoryPaymentStore) RecordRefund(_ context.Context, id, refundID string, amount int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.RefundStatus == models.RefundStatusCompleted {
		return false, nil
	}
	p.RefundID = &refundID
	p.RefundAmount = amount
	p.RefundStatus = models.RefundStatusCompleted
	if amount >= p.Amount {
		p.Status = models.PaymentStatusRefunded
	}
	return true, nil
}

func (m *memoryPaymentStore) SetRefundStatus(_ context.Context, id string, status models.RefundStatus, amount int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.RefundStatus == models.RefundStatusCompleted {
		return false, nil
	}
	p.RefundStatus = status
	p.RefundAmount = amount
	return true, nil
}

// ============================================================================
// AUDIT, EVENTS, NOTIFIER
// ============================================================================

type memoryAuditStore struct {
	mu      sync.Mutex
	entries []models.PaymentAudit
}

func (m *memoryAuditStore) Log(_ context.Context, a *models.PaymentAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *a)
	return nil
}

func (m *memoryAuditStore) ListByPayment(_ context.Context, paymentID string) ([]models.PaymentAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.PaymentAudit{}
	for _, e := range m.entries {
		if e.PaymentID != nil && *e.PaymentID == paymentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryAuditStore) types() []models.PaymentAuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PaymentAuditEvent, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.EventType
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []BookingEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e BookingEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) Notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
}

func (n *countingNotifier) calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

// ============================================================================
// LEDGER AND GATEWAY
// ============================================================================

// memoryLedger is an atomic seat counter with injectable failures
type memoryLedger struct {
	mu       sync.Mutex
	flights  map[uuid.UUID]*models.FlightInventory
	reserves int
	releases int

	availabilityErr error
	reserveErr      error
	releaseErr      error
}

func newMemoryLedger(flights ...*models.FlightInventory) *memoryLedger {
	l := &memoryLedger{flights: map[uuid.UUID]*models.FlightInventory{}}
	for _, f := range flights {
		c := *f
		l.flights[f.FlightID] = &c
	}
	return l
}

func (l *memoryLedger) available(flightID uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flights[flightID].AvailableSeats
}

func (l *memoryLedger) Availability(_ context.Context, flightID uuid.UUID) (*models.FlightInventory, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.availabilityErr != nil {
		return nil, l.availabilityErr
	}
	f, ok := l.flights[flightID]
	if !ok {
		return nil, database.ErrFlightNotFound
	}
	c := *f
	return &c, nil
}

func (l *memoryLedger) Reserve(_ context.Context, flightID uuid.UUID, seats int) (*models.FlightInventory, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reserveErr != nil {
		return nil, l.reserveErr
	}
	f, ok := l.flights[flightID]
	if !ok {
		return nil, database.ErrFlightNotFound
	}
	if f.AvailableSeats < seats {
		return nil, database.ErrInsufficientCapacity
	}
	f.AvailableSeats -= seats
	l.reserves++
	c := *f
	return &c, nil
}

func (l *memoryLedger) Release(_ context.Context, flightID uuid.UUID, seats int) (*models.FlightInventory, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.releaseErr != nil {
		return nil, l.releaseErr
	}
	f, ok := l.flights[flightID]
	if !ok {
		return nil, database.ErrFlightNotFound
	}
	f.AvailableSeats += seats
	if f.AvailableSeats > f.TotalSeats {
		f.AvailableSeats = f.TotalSeats
	}
	l.releases++
	c := *f
	return &c, nil
}

// scriptedGateway answers with fixed results and records every call
type scriptedGateway struct {
	mu sync.Mutex

	payment    *PaymentResult
	paymentErr error
	refund     *RefundResult
	refundErr  error

	// runs before the scripted answer, while the booking is in payment_processing
	onPayment func(req PaymentRequest)

	paymentCalls []PaymentRequest
	refundCalls  []RefundRequest
}

func (g *scriptedGateway) InitiatePayment(_ context.Context, req PaymentRequest) (*PaymentResult, error) {
	if g.onPayment != nil {
		g.onPayment(req)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paymentCalls = append(g.paymentCalls, req)
	if g.paymentErr != nil {
		return nil, g.paymentErr
	}
	if g.payment == nil {
		return &PaymentResult{Outcome: PaymentOutcomeCompleted, GatewayPaymentID: "gw_" + req.PaymentID, Method: "card"}, nil
	}
	r := *g.payment
	return &r, nil
}

func (g *scriptedGateway) RequestRefund(_ context.Context, req RefundRequest) (*RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls = append(g.refundCalls, req)
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	if g.refund == nil {
		return &RefundResult{Outcome: RefundOutcomeCompleted, RefundID: "rfnd_" + req.PaymentID}, nil
	}
	r := *g.refund
	return &r, nil
}
