package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Freeeeeet/space_booking/internal/model"
	"github.com/Freeeeeet/space_booking/internal/notification"
	"github.com/Freeeeeet/space_booking/internal/payment"
)

// memBookings эмулирует advisory-блокировку площадки и блокировку строки мьютексами
type memBookings struct {
	mu        sync.Mutex
	propLocks map[uuid.UUID]*sync.Mutex
	rowLocks  map[uuid.UUID]*sync.Mutex
	rows      map[uuid.UUID]model.Booking

	insertErr error
	commitErr error
	updateErr error
}

func newMemBookings() *memBookings {
	return &memBookings{
		propLocks: make(map[uuid.UUID]*sync.Mutex),
		rowLocks:  make(map[uuid.UUID]*sync.Mutex),
		rows:      make(map[uuid.UUID]model.Booking),
	}
}

func (m *memBookings) lockFor(locks map[uuid.UUID]*sync.Mutex, id uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := locks[id]
	if !ok {
		l = &sync.Mutex{}
		locks[id] = l
	}
	return l
}

func (m *memBookings) BeginPropertyTx(_ context.Context, propertyID uuid.UUID) (PropertyTx, error) {
	l := m.lockFor(m.propLocks, propertyID)
	l.Lock()
	return &memPropertyTx{db: m, propertyID: propertyID, lock: l}, nil
}

func (m *memBookings) BeginBookingTx(_ context.Context, bookingID uuid.UUID) (BookingTx, error) {
	l := m.lockFor(m.rowLocks, bookingID)
	l.Lock()

	m.mu.Lock()
	b, ok := m.rows[bookingID]
	m.mu.Unlock()
	if !ok {
		l.Unlock()
		return nil, model.NewNotFoundError("booking not found")
	}
	return &memBookingTx{db: m, booking: &b, lock: l}, nil
}

func (m *memBookings) GetByID(_ context.Context, id uuid.UUID) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *memBookings) ListByUser(_ context.Context, userID string) ([]*model.Booking, error) {
	return m.filter(func(b model.Booking) bool { return b.UserID == userID }), nil
}

func (m *memBookings) ListByProperty(_ context.Context, propertyID uuid.UUID, from, to time.Time) ([]*model.Booking, error) {
	return m.filter(func(b model.Booking) bool {
		return b.PropertyID == propertyID && b.Overlaps(from, to)
	}), nil
}

func (m *memBookings) ListActiveInRange(_ context.Context, propertyID uuid.UUID, from, to time.Time) ([]model.Booking, error) {
	var out []model.Booking
	for _, b := range m.filter(func(b model.Booking) bool {
		return b.PropertyID == propertyID && b.Status.IsActive() && b.Overlaps(from, to)
	}) {
		out = append(out, *b)
	}
	return out, nil
}

func (m *memBookings) filter(keep func(model.Booking) bool) []*model.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Booking
	for _, b := range m.rows {
		if keep(b) {
			b := b
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (m *memBookings) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memBookings) hasActiveOverlap(propertyID uuid.UUID, start, end time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.rows {
		if b.PropertyID == propertyID && b.Status.IsActive() && b.Overlaps(start, end) {
			return true
		}
	}
	return false
}

type memPropertyTx struct {
	db         *memBookings
	propertyID uuid.UUID
	lock       *sync.Mutex
	staged     []model.Booking
	done       bool
}

func (t *memPropertyTx) PropertyID() uuid.UUID { return t.propertyID }

func (t *memPropertyTx) HasActiveOverlap(_ context.Context, start, end time.Time) (bool, error) {
	return t.db.hasActiveOverlap(t.propertyID, start, end), nil
}

func (t *memPropertyTx) Insert(_ context.Context, b *model.Booking) error {
	if t.db.insertErr != nil {
		return t.db.insertErr
	}
	if t.db.hasActiveOverlap(b.PropertyID, b.StartTime, b.EndTime) {
		return model.NewSlotUnavailableError(b.PropertyID, b.StartTime, b.EndTime)
	}
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	t.staged = append(t.staged, *b)
	return nil
}

func (t *memPropertyTx) Commit(_ context.Context) error {
	if t.done {
		return errors.New("tx closed")
	}
	defer t.release()
	if t.db.commitErr != nil {
		return t.db.commitErr
	}
	t.db.mu.Lock()
	for _, b := range t.staged {
		t.db.rows[b.ID] = b
	}
	t.db.mu.Unlock()
	return nil
}

func (t *memPropertyTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.release()
	return nil
}

func (t *memPropertyTx) release() {
	t.done = true
	t.lock.Unlock()
}

type memBookingTx struct {
	db      *memBookings
	booking *model.Booking
	lock    *sync.Mutex
	dirty   bool
	done    bool
}

func (t *memBookingTx) Booking() *model.Booking { return t.booking }

func (t *memBookingTx) UpdateStatus(_ context.Context, status model.BookingStatus, refundID *string) error {
	if t.db.updateErr != nil {
		return t.db.updateErr
	}
	t.booking.Status = status
	if refundID != nil {
		t.booking.RefundID = refundID
	}
	t.dirty = true
	return nil
}

func (t *memBookingTx) Commit(_ context.Context) error {
	if t.done {
		return errors.New("tx closed")
	}
	defer t.release()
	if t.dirty {
		t.db.mu.Lock()
		t.db.rows[t.booking.ID] = *t.booking
		t.db.mu.Unlock()
	}
	return nil
}

func (t *memBookingTx) Rollback(_ context.Context) error {
	if !t.done {
		t.release()
	}
	return nil
}

func (t *memBookingTx) release() {
	t.done = true
	t.lock.Unlock()
}

type memProperties struct {
	mu    sync.Mutex
	items map[uuid.UUID]model.Property
}

func newMemProperties() *memProperties {
	return &memProperties{items: make(map[uuid.UUID]model.Property)}
}

func (m *memProperties) Create(_ context.Context, p *model.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.items[p.ID] = *p
	return nil
}

func (m *memProperties) GetByID(_ context.Context, id uuid.UUID) (*model.Property, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memProperties) ListByHost(_ context.Context, hostID string) ([]*model.Property, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Property
	for _, p := range m.items {
		if p.HostID == hostID {
			p := p
			out = append(out, &p)
		}
	}
	return out, nil
}

type memRules struct {
	mu    sync.Mutex
	items map[uuid.UUID][]model.AvailabilityRule
	loads int
}

func newMemRules() *memRules {
	return &memRules{items: make(map[uuid.UUID][]model.AvailabilityRule)}
}

func (m *memRules) ListByProperty(_ context.Context, propertyID uuid.UUID) ([]model.AvailabilityRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	return append([]model.AvailabilityRule(nil), m.items[propertyID]...), nil
}

func (m *memRules) ReplaceForProperty(_ context.Context, propertyID uuid.UUID, rules []model.AvailabilityRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[propertyID] = append([]model.AvailabilityRule(nil), rules...)
	return nil
}

func (m *memRules) loadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

type memReconciliation struct {
	mu     sync.Mutex
	nextID int64
	items  map[string]*model.ReconciliationItem
}

func newMemReconciliation() *memReconciliation {
	return &memReconciliation{items: make(map[string]*model.ReconciliationItem)}
}

func (m *memReconciliation) Record(_ context.Context, item *model.ReconciliationItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.items[item.IdempotencyKey]; ok {
		existing.Status = model.ReconciliationOpen
		existing.LastError = item.LastError
		*item = *existing
		return nil
	}
	m.nextID++
	item.ID = m.nextID
	item.Status = model.ReconciliationOpen
	cp := *item
	m.items[item.IdempotencyKey] = &cp
	return nil
}

func (m *memReconciliation) ListOpen(_ context.Context, kind model.ReconciliationKind, limit int) ([]*model.ReconciliationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ReconciliationItem
	for _, it := range m.items {
		if it.Kind == kind && it.Status == model.ReconciliationOpen && len(out) < limit {
			cp := *it
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memReconciliation) MarkAttempt(_ context.Context, id int64, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ID == id {
			it.Attempts++
			it.LastError = lastErr
			return nil
		}
	}
	return fmt.Errorf("item %d not found", id)
}

func (m *memReconciliation) Resolve(_ context.Context, key, refundID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[key]; ok && it.Status == model.ReconciliationOpen {
		it.Status = model.ReconciliationResolved
		it.RefundID = refundID
	}
	return nil
}

func (m *memReconciliation) get(key string) (model.ReconciliationItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return model.ReconciliationItem{}, false
	}
	return *it, true
}

type fakePayments struct {
	mu         sync.Mutex
	charges    []payment.ChargeRequest
	refunds    []payment.RefundRequest
	chargeErr  error
	refundErrs []error
}

func (f *fakePayments) Charge(_ context.Context, req payment.ChargeRequest) (payment.PaymentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.charges = append(f.charges, req)
	if f.chargeErr != nil {
		return payment.PaymentResult{Error: f.chargeErr.Error()}, f.chargeErr
	}
	return payment.PaymentResult{Success: true, PaymentID: "pi_" + req.IdempotencyKey, Status: payment.StatusSucceeded}, nil
}

func (f *fakePayments) Refund(_ context.Context, req payment.RefundRequest) (payment.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, req)
	if len(f.refundErrs) > 0 {
		err := f.refundErrs[0]
		f.refundErrs = f.refundErrs[1:]
		return payment.RefundResult{Error: err.Error()}, err
	}
	return payment.RefundResult{Success: true, RefundID: "re_" + req.IdempotencyKey, Status: payment.StatusSucceeded}, nil
}

func (f *fakePayments) chargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.charges)
}

func (f *fakePayments) refundList() []payment.RefundRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]payment.RefundRequest(nil), f.refunds...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []notification.Message
}

func (f *fakeNotifier) Dispatch(msg notification.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return true
}

func (f *fakeNotifier) messages() []notification.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notification.Message(nil), f.msgs...)
}
