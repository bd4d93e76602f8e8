// Package store provides in-memory billing.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/parking-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu            sync.RWMutex
	clients       map[billing.ClientID]billing.Client
	payments      map[billing.PaymentID]billing.Payment
	byClient      map[billing.ClientID][]billing.PaymentID
	priceConfig   string
	notifications map[string]billing.NotificationRecord
	now           func() time.Time
}

var _ billing.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		clients:       make(map[billing.ClientID]billing.Client),
		payments:      make(map[billing.PaymentID]billing.Payment),
		byClient:      make(map[billing.ClientID][]billing.PaymentID),
		notifications: make(map[string]billing.NotificationRecord),
		now:           time.Now,
	}
}

// =============================================================================
// CLIENTS
// =============================================================================

func (m *Memory) SaveClient(_ context.Context, c billing.Client) error {
	if err := c.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[c.ID]; ok {
		return billing.ErrDuplicateClient
	}
	now := m.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	m.clients[c.ID] = c
	return nil
}

func (m *Memory) UpdateClient(_ context.Context, c billing.Client) error {
	if err := c.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.clients[c.ID]
	if !ok {
		return billing.ErrClientNotFound
	}
	if !sameDate(existing.EnrollmentDate, c.EnrollmentDate) && m.hasConfirmedLocked(c.ID) {
		return billing.ErrEnrollmentLocked
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = m.now().UTC()
	m.clients[c.ID] = c
	return nil
}

func (m *Memory) GetClient(_ context.Context, id billing.ClientID) (*billing.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.clients[id]
	if !ok {
		return nil, billing.ErrClientNotFound
	}
	return &c, nil
}

func (m *Memory) ListClients(_ context.Context, activeOnly bool) ([]billing.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]billing.Client, 0, len(m.clients))
	for _, c := range m.clients {
		if activeOnly && !c.Active {
			continue
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) DeactivateClient(_ context.Context, id billing.ClientID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[id]
	if !ok {
		return billing.ErrClientNotFound
	}
	c.Active = false
	c.UpdatedAt = m.now().UTC()
	m.clients[id] = c
	return nil
}

func (m *Memory) hasConfirmedLocked(id billing.ClientID) bool {
	for _, pid := range m.byClient[id] {
		if m.payments[pid].IsConfirmed() {
			return true
		}
	}
	return false
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return billing.Day(*a).Equal(billing.Day(*b))
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Memory) RegisterPayment(_ context.Context, p billing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[p.ClientID]; !ok {
		return billing.ErrClientNotFound
	}
	if _, ok := m.payments[p.ID]; ok {
		return billing.ErrDuplicatePayment
	}
	p.State = billing.PaymentPending
	p.ReviewedBy, p.ReviewedAt = "", nil
	m.payments[p.ID] = p

	// Keep the per-client index ordered by timestamp
	ids := m.byClient[p.ClientID]
	i := sort.Search(len(ids), func(i int) bool {
		return m.payments[ids[i]].Timestamp.After(p.Timestamp)
	})
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = p.ID
	m.byClient[p.ClientID] = ids
	return nil
}

func (m *Memory) GetPayment(_ context.Context, id billing.PaymentID) (*billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, billing.ErrPaymentNotFound
	}
	return &p, nil
}

func (m *Memory) PaymentsByClient(_ context.Context, clientID billing.ClientID) ([]billing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byClient[clientID]
	result := make([]billing.Payment, len(ids))
	for i, id := range ids {
		result[i] = m.payments[id]
	}
	return result, nil
}

func (m *Memory) ConfirmPayment(_ context.Context, id billing.PaymentID, reviewer string, at time.Time) (*billing.Payment, error) {
	return m.review(id, billing.PaymentConfirmed, reviewer, "", at)
}

func (m *Memory) RejectPayment(_ context.Context, id billing.PaymentID, reviewer, reason string, at time.Time) (*billing.Payment, error) {
	return m.review(id, billing.PaymentRejected, reviewer, reason, at)
}

func (m *Memory) review(id billing.PaymentID, state billing.PaymentState, reviewer, note string, at time.Time) (*billing.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, billing.ErrPaymentNotFound
	}
	if p.State != billing.PaymentPending {
		return nil, billing.ErrPaymentNotPending
	}
	at = at.UTC()
	p.State = state
	p.ReviewedBy = reviewer
	p.ReviewedAt = &at
	if note != "" {
		p.Note = note
	}
	m.payments[id] = p
	return &p, nil
}

// =============================================================================
// PRICES & NOTIFICATIONS
// =============================================================================

func (m *Memory) SavePriceConfig(_ context.Context, configJSON string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priceConfig = configJSON
	return nil
}

func (m *Memory) GetPriceConfig(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.priceConfig, nil
}

func (m *Memory) WasNotified(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.notifications[key]
	return ok, nil
}

func (m *Memory) RecordNotification(_ context.Context, rec billing.NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.notifications[rec.Key]; ok {
		return billing.ErrDuplicateNotification
	}
	m.notifications[rec.Key] = rec
	return nil
}
