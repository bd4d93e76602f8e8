/*
store.go - Persistence and notification interfaces

PURPOSE:
  Defines the narrow interfaces between the pure engine and the outside
  world. The engine itself never calls these; the API and the sweep load
  data through them and feed it to GeneratePeriods/Classify.

KEY INTERFACES:
  ClientStore:     Client records (no hard delete, only deactivation)
  PaymentStore:    Payment ledger with pending -> confirmed/rejected review
  PriceStore:      Tariff document (JSON, parsed by the factory package)
  NotificationLog: Idempotency log for delinquency notices
  Notifier:        Outbound notice sink (log, email, broker)

PAYMENT LIFECYCLE:
  RegisterPayment always stores a pending payment. ConfirmPayment and
  RejectPayment only accept pending payments; reviewed payments are
  immutable and return ErrPaymentNotPending.

IMPLEMENTATIONS:
  - billing/store/memory.go: In-memory for testing
  - store/sqlite/sqlite.go: SQLite
*/
package billing

import (
	"context"
	"time"
)

// =============================================================================
// STORES
// =============================================================================

type ClientStore interface {
	// SaveClient creates a client. Returns ErrDuplicateClient if the ID exists.
	SaveClient(ctx context.Context, c Client) error

	// UpdateClient replaces the client's fields. Returns ErrEnrollmentLocked
	// when the enrollment date changes and confirmed payments exist.
	UpdateClient(ctx context.Context, c Client) error

	GetClient(ctx context.Context, id ClientID) (*Client, error)
	ListClients(ctx context.Context, activeOnly bool) ([]Client, error)
	DeactivateClient(ctx context.Context, id ClientID) error
}

type PaymentStore interface {
	RegisterPayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)

	// PaymentsByClient returns all payments of a client ordered by timestamp.
	PaymentsByClient(ctx context.Context, clientID ClientID) ([]Payment, error)

	ConfirmPayment(ctx context.Context, id PaymentID, reviewer string, at time.Time) (*Payment, error)
	RejectPayment(ctx context.Context, id PaymentID, reviewer, reason string, at time.Time) (*Payment, error)
}

type PriceStore interface {
	SavePriceConfig(ctx context.Context, configJSON string) error

	// GetPriceConfig returns "" when nothing has been saved yet.
	GetPriceConfig(ctx context.Context) (string, error)
}

// NotificationRecord is one delivered delinquency notice.
type NotificationRecord struct {
	Key      string
	ClientID ClientID
	State    DelinquencyState
	Due      time.Time
	SentAt   time.Time
	Channels string
}

// NotificationKey identifies one delivery: per client, oldest due date,
// state and channel.
func NotificationKey(clientID ClientID, due time.Time, state DelinquencyState, channel string) string {
	return string(clientID) + "|" + FormatDate(due) + "|" + string(state) + "|" + channel
}

type NotificationLog interface {
	WasNotified(ctx context.Context, key string) (bool, error)

	// RecordNotification returns ErrDuplicateNotification if the key exists.
	RecordNotification(ctx context.Context, rec NotificationRecord) error
}

// Store groups every persistence concern of the service.
type Store interface {
	ClientStore
	PaymentStore
	PriceStore
	NotificationLog
}

// =============================================================================
// NOTIFIER
// =============================================================================

// Notice is what a Notifier delivers about one client.
type Notice struct {
	Client     Client
	Evaluation Evaluation
}

type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notice) error
}

// Fanout is implemented by notifiers made of several channels.
type Fanout interface {
	Channels() []Notifier
}

// Channels returns the delivery channels behind n, flattening nested fan-outs.
func Channels(n Notifier) []Notifier {
	f, ok := n.(Fanout)
	if !ok {
		return []Notifier{n}
	}
	var out []Notifier
	for _, c := range f.Channels() {
		out = append(out, Channels(c)...)
	}
	return out
}
