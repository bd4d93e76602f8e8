/*
Package notify delivers delinquency notices.

NOTIFIERS:
  Log:    structured zap log line per notice
  Email:  Resend transactional email to the client
  Broker: RabbitMQ topic exchange, routing key "morosidad.<state>"
  Multi:  fan-out to several notifiers, errors joined. The sweep expands
          it through billing.Channels and records each channel on its own.

Every notifier implements billing.Notifier. The sweep decides whether a
notice is due; notifiers only deliver it.
*/
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/parking-engine/billing"
	"go.uber.org/zap"
)

// =============================================================================
// EVENT PAYLOAD
// =============================================================================

// DelinquencyEvent is the JSON document published for each notice.
type DelinquencyEvent struct {
	EventID        string                   `json:"event_id"`
	ClientID       billing.ClientID         `json:"client_id"`
	ClientName     string                   `json:"client_name"`
	Plate          string                   `json:"plate,omitempty"`
	State          billing.DelinquencyState `json:"state"`
	DaysOverdue    int                      `json:"days_overdue"`
	OverduePeriods int                      `json:"overdue_periods"`
	OwedAmount     decimal.Decimal          `json:"owed_amount"`
	OldestDue      string                   `json:"oldest_due,omitempty"`
	AsOf           string                   `json:"as_of"`
	OccurredAt     time.Time                `json:"occurred_at"`
}

// NewEvent builds the event for a notice.
func NewEvent(n billing.Notice, now time.Time) DelinquencyEvent {
	ev := DelinquencyEvent{
		EventID:        uuid.NewString(),
		ClientID:       n.Client.ID,
		ClientName:     n.Client.Name,
		Plate:          n.Client.Plate,
		State:          n.Evaluation.State,
		DaysOverdue:    n.Evaluation.DaysOverdue,
		OverduePeriods: n.Evaluation.OverduePeriods,
		OwedAmount:     n.Evaluation.OwedAmount,
		AsOf:           billing.FormatDate(n.Evaluation.AsOf),
		OccurredAt:     now.UTC(),
	}
	if n.Evaluation.OldestDue != nil {
		ev.OldestDue = billing.FormatDate(*n.Evaluation.OldestDue)
	}
	return ev
}

// RoutingKey is the broker routing key of a state.
func RoutingKey(state billing.DelinquencyState) string {
	return "morosidad." + string(state)
}

// =============================================================================
// LOG
// =============================================================================

type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Notify(_ context.Context, n billing.Notice) error {
	fields := []zap.Field{
		zap.String("client_id", string(n.Client.ID)),
		zap.String("client_name", n.Client.Name),
		zap.String("state", string(n.Evaluation.State)),
		zap.Int("days_overdue", n.Evaluation.DaysOverdue),
		zap.Int("overdue_periods", n.Evaluation.OverduePeriods),
		zap.String("owed_amount", n.Evaluation.OwedAmount.String()),
		zap.String("as_of", billing.FormatDate(n.Evaluation.AsOf)),
	}
	if n.Evaluation.OldestDue != nil {
		fields = append(fields, zap.String("oldest_due", billing.FormatDate(*n.Evaluation.OldestDue)))
	}
	l.log.Info("delinquency notice", fields...)
	return nil
}

// =============================================================================
// MULTI
// =============================================================================

// Multi delivers a notice to every notifier, even when some fail.
type Multi struct {
	notifiers []billing.Notifier
}

func NewMulti(notifiers ...billing.Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

func (m *Multi) Name() string {
	return strings.Join(lo.Map(m.notifiers, func(n billing.Notifier, _ int) string {
		return n.Name()
	}), ",")
}

func (m *Multi) Channels() []billing.Notifier {
	return m.notifiers
}

func (m *Multi) Notify(ctx context.Context, n billing.Notice) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}
