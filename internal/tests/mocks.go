package tests

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"carpool/internal/domain"
	"carpool/internal/gateway"
	"carpool/internal/redis"
	"carpool/internal/repository"
	"carpool/internal/service"
)

// ──────────────────────────────────────────────
// MOCK LEDGER
// ──────────────────────────────────────────────

// MockLedger is an in-memory repository.Ledger. Transactions are serialized
// and a failed transaction restores the state it started from.
type MockLedger struct {
	txMu sync.Mutex
	mu   sync.Mutex

	trips    map[string]*domain.Trip
	bookings map[string]*domain.Booking
	paidSeq  map[string]int
	seq      int
	audit    []*domain.AuditEntry

	// Counters
	TxCount int32

	// BeforeTx runs at the start of every transaction.
	BeforeTx func()
}

// NewMockLedger creates an empty ledger.
func NewMockLedger() *MockLedger {
	return &MockLedger{
		trips:    make(map[string]*domain.Trip),
		bookings: make(map[string]*domain.Booking),
		paidSeq:  make(map[string]int),
	}
}

type ledgerState struct {
	trips    map[string]*domain.Trip
	bookings map[string]*domain.Booking
	paidSeq  map[string]int
	seq      int
	audit    []*domain.AuditEntry
}

func (l *MockLedger) snapshot() ledgerState {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := ledgerState{
		trips:    make(map[string]*domain.Trip, len(l.trips)),
		bookings: make(map[string]*domain.Booking, len(l.bookings)),
		paidSeq:  make(map[string]int, len(l.paidSeq)),
		seq:      l.seq,
		audit:    make([]*domain.AuditEntry, 0, len(l.audit)),
	}
	for id, t := range l.trips {
		c := *t
		s.trips[id] = &c
	}
	for id, b := range l.bookings {
		c := *b
		s.bookings[id] = &c
	}
	for id, n := range l.paidSeq {
		s.paidSeq[id] = n
	}
	for _, e := range l.audit {
		c := *e
		s.audit = append(s.audit, &c)
	}
	return s
}

func (l *MockLedger) restore(s ledgerState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trips, l.bookings, l.paidSeq, l.seq, l.audit = s.trips, s.bookings, s.paidSeq, s.seq, s.audit
}

func (l *MockLedger) Stores() repository.Stores {
	return repository.Stores{
		Trips:    &mockTrips{l: l},
		Bookings: &mockBookings{l: l},
		Audit:    &mockAudit{l: l},
	}
}

func (l *MockLedger) WithinTx(ctx context.Context, fn func(repository.Stores) error) error {
	l.txMu.Lock()
	defer l.txMu.Unlock()

	atomic.AddInt32(&l.TxCount, 1)
	if l.BeforeTx != nil {
		l.BeforeTx()
	}

	snap := l.snapshot()
	if err := fn(l.Stores()); err != nil {
		l.restore(snap)
		return err
	}
	return nil
}

// SeedTrip stores a trip as is.
func (l *MockLedger) SeedTrip(t *domain.Trip) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := *t
	l.trips[t.ID] = &c
}

// SeedBooking stores a booking as is. Paid bookings are ordered by seeding order.
func (l *MockLedger) SeedBooking(b *domain.Booking) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := *b
	l.bookings[b.ID] = &c
	if b.Paid() {
		l.seq++
		l.paidSeq[b.ID] = l.seq
	}
}

// BumpPaidVersion changes a trip's paid_version behind the service's back.
func (l *MockLedger) BumpPaidVersion(tripID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.trips[tripID]; ok {
		t.PaidVersion++
	}
}

// Trip returns a copy of a trip (for test assertions).
func (l *MockLedger) Trip(id string) *domain.Trip {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.trips[id]
	if !ok {
		return nil
	}
	c := *t
	return &c
}

// Booking returns a copy of a booking (for test assertions).
func (l *MockLedger) Booking(id string) *domain.Booking {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bookings[id]
	if !ok {
		return nil
	}
	c := *b
	return &c
}

// Entries returns copies of the audit entries matching op, in append order.
// An empty op matches every entry.
func (l *MockLedger) Entries(tripID string, op domain.Operation) []domain.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range l.audit {
		if e.TripID == tripID && (op == "" || e.Operation == op) {
			out = append(out, *e)
		}
	}
	return out
}

// RefundedTotal sums the succeeded refund entries of a booking.
func (l *MockLedger) RefundedTotal(bookingID string) domain.Money {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total domain.Money
	for _, e := range l.audit {
		if e.BookingID == bookingID && e.Operation == domain.OperationRefund && e.Outcome == domain.OutcomeSucceeded {
			total += e.Amount
		}
	}
	return total
}

type mockTrips struct{ l *MockLedger }

func (r *mockTrips) Create(ctx context.Context, trip *domain.Trip) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if _, exists := r.l.trips[trip.ID]; exists {
		return ErrMockDBConstraint
	}
	c := *trip
	r.l.trips[trip.ID] = &c
	return nil
}

func (r *mockTrips) GetByID(ctx context.Context, id string) (*domain.Trip, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	t, ok := r.l.trips[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *mockTrips) GetForUpdate(ctx context.Context, id string) (*domain.Trip, error) {
	return r.GetByID(ctx, id)
}

func (r *mockTrips) Update(ctx context.Context, trip *domain.Trip) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	t, ok := r.l.trips[trip.ID]
	if !ok {
		return repository.ErrNotFound
	}
	// Release columns are only written by MarkFundsReleased.
	t.PayoutDestination = trip.PayoutDestination
	t.SeatsAvailable = trip.SeatsAvailable
	t.TotalPrice = trip.TotalPrice
	t.DepartureAt = trip.DepartureAt
	t.Published = trip.Published
	t.Cancelled = trip.Cancelled
	t.State = trip.State
	t.DriverConfirmed = trip.DriverConfirmed
	t.PayoutAttempts = trip.PayoutAttempts
	t.ReviewRequired = trip.ReviewRequired
	t.ReviewReason = trip.ReviewReason
	t.PaidVersion = trip.PaidVersion
	t.UpdatedAt = trip.UpdatedAt
	return nil
}

func (r *mockTrips) ListDepartedAwaitingPayments(ctx context.Context, before time.Time, limit int) ([]*domain.Trip, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	var out []*domain.Trip
	for _, t := range r.l.trips {
		if t.State == domain.SettlementAwaitingPayments && !t.DepartureAt.After(before) && r.holdsMoney(t.ID) {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureAt.Before(out[j].DepartureAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// holdsMoney reports a paid booking or a pending capture on the trip.
// Callers hold r.l.mu.
func (r *mockTrips) holdsMoney(tripID string) bool {
	for _, b := range r.l.bookings {
		if b.TripID == tripID && b.Status == domain.PaymentStatusCompleted {
			return true
		}
	}
	for _, e := range r.l.audit {
		if e.TripID == tripID && e.Operation == domain.OperationCapture && e.Outcome == domain.OutcomePending {
			return true
		}
	}
	return false
}

func (r *mockTrips) MarkFundsReleased(ctx context.Context, tripID string, s domain.Settlement) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	t, ok := r.l.trips[tripID]
	if !ok {
		return repository.ErrNotFound
	}
	if t.FundsReleased {
		return repository.ErrAlreadyReleased
	}
	t.FundsReleased = true
	t.DriverPayoutAmount = s.DriverAmount
	t.CommissionAmount = s.CommissionAmount
	t.PayoutBatchID = s.PayoutBatchID
	t.ReleasedAt = s.ReleasedAt
	t.State = domain.SettlementFundsReleased
	t.UpdatedAt = s.ReleasedAt
	return nil
}

type mockBookings struct{ l *MockLedger }

func (r *mockBookings) Create(ctx context.Context, b *domain.Booking) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if _, exists := r.l.bookings[b.ID]; exists {
		return ErrMockDBConstraint
	}
	c := *b
	r.l.bookings[b.ID] = &c
	return nil
}

func (r *mockBookings) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	b, ok := r.l.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *b
	return &c, nil
}

func (r *mockBookings) ListByTrip(ctx context.Context, tripID string) ([]*domain.Booking, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	var out []*domain.Booking
	for _, b := range r.l.bookings {
		if b.TripID == tripID {
			c := *b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *mockBookings) ListPaidBookings(ctx context.Context, tripID string) ([]*domain.Booking, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	var out []*domain.Booking
	for _, b := range r.l.bookings {
		if b.TripID == tripID && b.Status == domain.PaymentStatusCompleted {
			c := *b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.l.paidSeq[out[i].ID] < r.l.paidSeq[out[j].ID] })
	return out, nil
}

func (r *mockBookings) Update(ctx context.Context, b *domain.Booking) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	stored, ok := r.l.bookings[b.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.Status = b.Status
	stored.PassengerConfirmed = b.PassengerConfirmed
	stored.ConfirmedAt = b.ConfirmedAt
	stored.CancelledAt = b.CancelledAt
	return nil
}

func (r *mockBookings) RecordPayment(ctx context.Context, bookingID string, amount domain.Money, gatewayPaymentID string, paidAt time.Time) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	b, ok := r.l.bookings[bookingID]
	if !ok {
		return repository.ErrNotFound
	}
	if b.Status != domain.PaymentStatusPending {
		return repository.ErrInvalidTransition
	}
	b.Status = domain.PaymentStatusCompleted
	b.AmountPaid = amount
	b.OriginalAmountPaid = amount
	b.GatewayPaymentID = gatewayPaymentID
	b.PaidAt = paidAt
	r.l.seq++
	r.l.paidSeq[bookingID] = r.l.seq
	return nil
}

func (r *mockBookings) ApplyRefundDelta(ctx context.Context, bookingID string, delta domain.Money, gatewayRefundID string, at time.Time) error {
	if delta <= 0 {
		return repository.ErrNegativeBalance
	}
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	b, ok := r.l.bookings[bookingID]
	if !ok {
		return repository.ErrNotFound
	}
	if b.AmountPaid < delta {
		return repository.ErrNegativeBalance
	}
	b.AmountPaid -= delta
	b.RefundTotal += delta
	b.LastRefundID = gatewayRefundID
	b.LastRefundAt = at
	return nil
}

func (r *mockBookings) MarkSettled(ctx context.Context, tripID string, at time.Time) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	for _, b := range r.l.bookings {
		if b.TripID == tripID && b.Status == domain.PaymentStatusCompleted {
			b.SettledAt = at
		}
	}
	return nil
}

type mockAudit struct{ l *MockLedger }

func (r *mockAudit) Append(ctx context.Context, e *domain.AuditEntry) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	for _, existing := range r.l.audit {
		if existing.IdempotencyKey == e.IdempotencyKey {
			return repository.ErrDuplicateKey
		}
	}
	c := *e
	r.l.audit = append(r.l.audit, &c)
	return nil
}

func (r *mockAudit) GetByIdempotencyKey(ctx context.Context, key string) (*domain.AuditEntry, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	for _, e := range r.l.audit {
		if e.IdempotencyKey == key {
			c := *e
			return &c, nil
		}
	}
	return nil, nil
}

func (r *mockAudit) filter(match func(e *domain.AuditEntry) bool) []*domain.AuditEntry {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	var out []*domain.AuditEntry
	for _, e := range r.l.audit {
		if match(e) {
			c := *e
			out = append(out, &c)
		}
	}
	return out
}

func (r *mockAudit) ListByBooking(ctx context.Context, bookingID string) ([]*domain.AuditEntry, error) {
	return r.filter(func(e *domain.AuditEntry) bool { return e.BookingID == bookingID }), nil
}

func (r *mockAudit) ListByTrip(ctx context.Context, tripID string) ([]*domain.AuditEntry, error) {
	return r.filter(func(e *domain.AuditEntry) bool { return e.TripID == tripID }), nil
}

func (r *mockAudit) ListPendingByTrip(ctx context.Context, tripID string) ([]*domain.AuditEntry, error) {
	return r.filter(func(e *domain.AuditEntry) bool {
		return e.TripID == tripID && e.Outcome == domain.OutcomePending
	}), nil
}

func (r *mockAudit) LatestPayout(ctx context.Context, tripID string) (*domain.AuditEntry, error) {
	payouts := r.filter(func(e *domain.AuditEntry) bool {
		return e.TripID == tripID && e.Operation == domain.OperationPayout
	})
	if len(payouts) == 0 {
		return nil, nil
	}
	return payouts[len(payouts)-1], nil
}

func (r *mockAudit) Finalize(ctx context.Context, id string, outcome domain.Outcome, gatewayRef, failureReason string) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	for _, e := range r.l.audit {
		if e.ID != id {
			continue
		}
		if e.Outcome != domain.OutcomePending {
			return repository.ErrAlreadyFinal
		}
		e.Outcome = outcome
		e.GatewayRef = gatewayRef
		e.FailureReason = failureReason
		e.UpdatedAt = time.Now()
		return nil
	}
	return repository.ErrAlreadyFinal
}

var _ repository.Ledger = (*MockLedger)(nil)

// ──────────────────────────────────────────────
// MOCK GATEWAY
// ──────────────────────────────────────────────

// Behavior scripts the next gateway call of one kind.
type Behavior int

const (
	// Normal forwards the call to the sandbox.
	Normal Behavior = iota
	// TimeoutAfterApply performs the call but reports a timeout.
	TimeoutAfterApply
	// TimeoutBeforeApply reports a timeout without performing the call.
	TimeoutBeforeApply
	// Decline rejects the call.
	Decline
	// NoDestination rejects the call for lack of a refund or payout destination.
	NoDestination
)

// MockGateway wraps the sandbox gateway with scripted failures.
type MockGateway struct {
	*gateway.Sandbox

	mu      sync.Mutex
	capture []Behavior
	refund  []Behavior
	payout  []Behavior

	// QueryUnknown makes every status query report an unknown outcome.
	QueryUnknown bool

	// Counters
	CaptureCallCount int32
	RefundCallCount  int32
	PayoutCallCount  int32
	QueryCallCount   int32
}

// NewMockGateway creates a new mock gateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{Sandbox: gateway.NewSandbox()}
}

// ScriptCapture queues behaviors for the next captures.
func (m *MockGateway) ScriptCapture(b ...Behavior) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capture = append(m.capture, b...)
}

// ScriptRefund queues behaviors for the next refunds.
func (m *MockGateway) ScriptRefund(b ...Behavior) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refund = append(m.refund, b...)
}

// ScriptPayout queues behaviors for the next payouts.
func (m *MockGateway) ScriptPayout(b ...Behavior) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payout = append(m.payout, b...)
}

func next(queue *[]Behavior) Behavior {
	if len(*queue) == 0 {
		return Normal
	}
	b := (*queue)[0]
	*queue = (*queue)[1:]
	return b
}

func (m *MockGateway) behave(queue *[]Behavior, call func() (*gateway.Result, error)) (*gateway.Result, error) {
	m.mu.Lock()
	b := next(queue)
	m.mu.Unlock()

	switch b {
	case TimeoutAfterApply:
		if _, err := call(); err != nil {
			return nil, err
		}
		return nil, gateway.ErrTimeout
	case TimeoutBeforeApply:
		return nil, gateway.ErrTimeout
	case Decline:
		return nil, fmt.Errorf("%w: scripted", gateway.ErrDeclined)
	case NoDestination:
		return nil, gateway.ErrNoDestination
	}
	return call()
}

func (m *MockGateway) Capture(ctx context.Context, req gateway.CaptureRequest) (*gateway.Result, error) {
	atomic.AddInt32(&m.CaptureCallCount, 1)
	return m.behave(&m.capture, func() (*gateway.Result, error) { return m.Sandbox.Capture(ctx, req) })
}

func (m *MockGateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Result, error) {
	atomic.AddInt32(&m.RefundCallCount, 1)
	return m.behave(&m.refund, func() (*gateway.Result, error) { return m.Sandbox.Refund(ctx, req) })
}

func (m *MockGateway) Payout(ctx context.Context, req gateway.PayoutRequest) (*gateway.Result, error) {
	atomic.AddInt32(&m.PayoutCallCount, 1)
	return m.behave(&m.payout, func() (*gateway.Result, error) { return m.Sandbox.Payout(ctx, req) })
}

func (m *MockGateway) QueryStatus(ctx context.Context, ref gateway.OperationRef) (*gateway.Result, error) {
	atomic.AddInt32(&m.QueryCallCount, 1)
	m.mu.Lock()
	unknown := m.QueryUnknown
	m.mu.Unlock()
	if unknown {
		return &gateway.Result{Status: gateway.StatusPending}, nil
	}
	return m.Sandbox.QueryStatus(ctx, ref)
}

// SetQueryUnknown toggles unknown status answers.
func (m *MockGateway) SetQueryUnknown(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueryUnknown = v
}

// Charge captures amount directly on the sandbox, as a payment made outside
// the service would, and returns the charge id.
func (m *MockGateway) Charge(amount domain.Money) string {
	res, err := m.Sandbox.Capture(context.Background(), gateway.CaptureRequest{
		Token:    "external:" + uuid.NewString(),
		Amount:   amount,
		PayerRef: "tok_visa",
	})
	if err != nil {
		panic(err)
	}
	return res.Ref
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is a mock implementation of LockStore.
type MockLockStore struct {
	mu    sync.Mutex
	locks map[string]string

	// Counters
	AcquireCallCount int32
	ReleaseCallCount int32

	// Error injection
	AcquireError error

	// Force lock failure
	ForceAcquireFailure bool
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{
		locks: make(map[string]string),
	}
}

func (m *MockLockStore) AcquireTripLock(ctx context.Context, tripID string, ttl time.Duration) (string, bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AcquireError != nil {
		return "", false, m.AcquireError
	}
	if m.ForceAcquireFailure {
		return "", false, nil
	}
	if _, held := m.locks[tripID]; held {
		return "", false, nil
	}
	token := uuid.NewString()
	m.locks[tripID] = token
	return token, true, nil
}

func (m *MockLockStore) ReleaseTripLock(ctx context.Context, tripID, token string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[tripID] == token {
		delete(m.locks, tripID)
	}
	return nil
}

// IsLocked checks if a trip is locked (for test assertions).
func (m *MockLockStore) IsLocked(tripID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.locks[tripID]
	return held
}

// SetForceAcquireFailure makes every acquire attempt fail.
func (m *MockLockStore) SetForceAcquireFailure(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ForceAcquireFailure = v
}

var _ redis.LockStoreInterface = (*MockLockStore)(nil)

// ──────────────────────────────────────────────
// MOCK NOTIFIER
// ──────────────────────────────────────────────

// MockNotifier records notifications.
type MockNotifier struct {
	mu       sync.Mutex
	Refunds  []domain.Money
	Payouts  []domain.Money
	Failures []service.SettlementFailure
}

// NewMockNotifier creates a new mock notifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) NotifyRefundIssued(ctx context.Context, booking *domain.Booking, amount domain.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Refunds = append(m.Refunds, amount)
	return nil
}

func (m *MockNotifier) NotifyPayoutSent(ctx context.Context, trip *domain.Trip, driverAmount domain.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Payouts = append(m.Payouts, driverAmount)
	return nil
}

func (m *MockNotifier) NotifySettlementFailed(ctx context.Context, failure service.SettlementFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failures = append(m.Failures, failure)
	return nil
}

// PayoutCount returns how many payout notifications were sent.
func (m *MockNotifier) PayoutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Payouts)
}

// FailureCount returns how many settlement failures were reported.
func (m *MockNotifier) FailureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Failures)
}

// ──────────────────────────────────────────────
// MOCK CLOCK
// ──────────────────────────────────────────────

// MockClock is a settable clock.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a clock stopped at now.
func NewMockClock(now time.Time) *MockClock {
	return &MockClock{now: now}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ──────────────────────────────────────────────
// HELPER ERRORS
// ──────────────────────────────────────────────

var (
	ErrMockDBConstraint = errors.New("mock: unique constraint violation")
	ErrMockRedisDown    = errors.New("mock: redis unavailable")
)
