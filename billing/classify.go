/*
classify.go - Delinquency (morosidad) classification

PURPOSE:
  Matches a client's confirmed payments to its billing periods and derives
  the aggregate delinquency state, the days overdue and the owed amount.

MATCHING (per period, in order):
  1. PAID if a confirmed payment's timestamp falls in [Start, End).
     The earliest such payment is attributed; further payments in the same
     window do not accumulate (existence-only, no partial payments).
  2. PAID if the period is due on or before the advance paid-through date.
  3. UNPAID otherwise.

AGGREGATE STATE:
  overdueUnpaid = UNPAID periods with Due <= asOf

    none                          -> current   (daysOverdue 0)
    daysOverdue <= UpcomingMaxDays -> upcoming
    daysOverdue <= OverdueMaxDays  -> overdue
    daysOverdue >  OverdueMaxDays  -> delinquent
    daysOverdue >  CriticalAfterDays (when > 0) -> critical

  daysOverdue = asOf - oldest overdue due date, in whole days.
  owedAmount  = len(overdueUnpaid) * monthlyPrice.

GRACE WINDOW:
  A confirmed payment registered after (currentDue - GracePeriodDays), where
  currentDue is the latest due date on or before asOf, forces the state to
  current. The owed amount is still reported.

PURITY:
  Classify reads only its arguments. Payments after asOf are invisible, so
  evaluating the same ledger at the same asOf always gives the same result.
*/
package billing

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// STATES
// =============================================================================

type DelinquencyState string

const (
	StateCurrent    DelinquencyState = "current"    // al_dia
	StateUpcoming   DelinquencyState = "upcoming"   // por_vencer
	StateOverdue    DelinquencyState = "overdue"    // vencido
	StateDelinquent DelinquencyState = "delinquent" // moroso
	StateCritical   DelinquencyState = "critical"
	StateUnknown    DelinquencyState = "unknown"
)

// States lists every state from least to most severe, unknown last.
var States = []DelinquencyState{
	StateCurrent, StateUpcoming, StateOverdue, StateDelinquent, StateCritical, StateUnknown,
}

// NeedsAttention reports whether the state warrants a notification.
func (s DelinquencyState) NeedsAttention() bool {
	switch s {
	case StateUpcoming, StateOverdue, StateDelinquent, StateCritical:
		return true
	}
	return false
}

type PeriodStatusKind string

const (
	PeriodPaid   PeriodStatusKind = "paid"
	PeriodUnpaid PeriodStatusKind = "unpaid"
)

// CoverageSource tells what marked a period as paid.
type CoverageSource string

const (
	CoverageNone    CoverageSource = ""
	CoveragePayment CoverageSource = "payment"
	CoverageAdvance CoverageSource = "advance"
)

// =============================================================================
// RULES
// =============================================================================

// Rules holds the classification thresholds.
type Rules struct {
	// GracePeriodDays is the window before the current due date in which a
	// confirmed payment keeps the client current. Zero disables it.
	GracePeriodDays int

	UpcomingMaxDays int
	OverdueMaxDays  int

	// CriticalAfterDays escalates delinquent clients. Zero disables it.
	CriticalAfterDays int
}

func DefaultRules() Rules {
	return Rules{
		GracePeriodDays:   5,
		UpcomingMaxDays:   5,
		OverdueMaxDays:    15,
		CriticalAfterDays: 60,
	}
}

func (r Rules) Validate() error {
	if r.GracePeriodDays < 0 {
		return &ConfigurationError{Field: "grace_period_days", Reason: "must not be negative"}
	}
	if r.UpcomingMaxDays < 0 {
		return &ConfigurationError{Field: "upcoming_max_days", Reason: "must not be negative"}
	}
	if r.OverdueMaxDays < r.UpcomingMaxDays {
		return &ConfigurationError{Field: "overdue_max_days", Reason: "must be >= upcoming_max_days"}
	}
	if r.CriticalAfterDays != 0 && r.CriticalAfterDays < r.OverdueMaxDays {
		return &ConfigurationError{Field: "critical_after_days", Reason: "must be 0 or >= overdue_max_days"}
	}
	return nil
}

// StateFor maps days past the oldest unpaid due date to a state.
func (r Rules) StateFor(daysOverdue int) DelinquencyState {
	switch {
	case r.CriticalAfterDays > 0 && daysOverdue > r.CriticalAfterDays:
		return StateCritical
	case daysOverdue <= r.UpcomingMaxDays:
		return StateUpcoming
	case daysOverdue <= r.OverdueMaxDays:
		return StateOverdue
	default:
		return StateDelinquent
	}
}

// =============================================================================
// INPUT / OUTPUT
// =============================================================================

type ClassifyInput struct {
	AsOf         time.Time
	MonthlyPrice decimal.Decimal

	// PaidThrough is the advance-payment override. Nil means none.
	PaidThrough *time.Time
}

type PeriodStatus struct {
	Period
	Status    PeriodStatusKind
	Source    CoverageSource
	PaymentID PaymentID
	Overdue   bool
}

type Result struct {
	Periods     []PeriodStatus
	State       DelinquencyState
	DaysOverdue int
	OwedAmount  decimal.Decimal

	OverduePeriods int
	OldestDue      *time.Time

	// GraceApplied is true when a recent payment overrode the band state.
	GraceApplied bool

	Skipped []MalformedPaymentError
}

// =============================================================================
// CLASSIFIER
// =============================================================================

type Classifier struct {
	Rules Rules
	log   *zap.Logger
}

// NewClassifier creates a classifier. A nil logger discards warnings.
func NewClassifier(rules Rules, log *zap.Logger) *Classifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Classifier{Rules: rules, log: log}
}

// Classify assigns each period a paid/unpaid status and derives the
// aggregate delinquency state as of in.AsOf.
func (c *Classifier) Classify(periods []Period, payments []Payment, in ClassifyInput) Result {
	asOf := Day(in.AsOf)
	confirmed, skipped := c.usablePayments(payments, asOf.AddDate(0, 0, 1))

	res := Result{
		Periods:    make([]PeriodStatus, len(periods)),
		State:      StateCurrent,
		OwedAmount: decimal.Zero,
		Skipped:    skipped,
	}

	var oldestDue, currentDue time.Time
	for i, p := range periods {
		st := PeriodStatus{Period: p, Status: PeriodUnpaid}

		if pay, ok := earliestIn(confirmed, p); ok {
			st.Status = PeriodPaid
			st.Source = CoveragePayment
			st.PaymentID = pay.ID
		} else if in.PaidThrough != nil && !p.Due.After(Day(*in.PaidThrough)) {
			st.Status = PeriodPaid
			st.Source = CoverageAdvance
		}

		if p.IsDue(asOf) {
			if p.Due.After(currentDue) {
				currentDue = p.Due
			}
			if st.Status == PeriodUnpaid {
				st.Overdue = true
				res.OverduePeriods++
				if oldestDue.IsZero() || p.Due.Before(oldestDue) {
					oldestDue = p.Due
				}
			}
		}
		res.Periods[i] = st
	}

	if res.OverduePeriods == 0 {
		return res
	}

	res.OwedAmount = in.MonthlyPrice.Mul(decimal.NewFromInt(int64(res.OverduePeriods)))
	res.OldestDue = &oldestDue
	res.DaysOverdue = DaysBetween(oldestDue, asOf)
	res.State = c.Rules.StateFor(res.DaysOverdue)

	if c.paidWithinGrace(confirmed, currentDue) {
		res.State = StateCurrent
		res.DaysOverdue = 0
		res.GraceApplied = true
	}
	return res
}

// usablePayments keeps confirmed, well-formed payments registered before
// horizon, sorted by timestamp. Malformed confirmed payments are skipped.
func (c *Classifier) usablePayments(payments []Payment, horizon time.Time) ([]Payment, []MalformedPaymentError) {
	var usable []Payment
	var skipped []MalformedPaymentError
	for _, p := range payments {
		if !p.IsConfirmed() {
			continue
		}
		if err := p.Validate(); err != nil {
			merr := err.(*MalformedPaymentError)
			skipped = append(skipped, *merr)
			c.log.Warn("skipping malformed payment",
				zap.String("payment_id", string(p.ID)),
				zap.String("client_id", string(p.ClientID)),
				zap.Error(err),
			)
			continue
		}
		if !p.Timestamp.Before(horizon) {
			continue
		}
		usable = append(usable, p)
	}

	sort.SliceStable(usable, func(i, j int) bool {
		if usable[i].Timestamp.Equal(usable[j].Timestamp) {
			return usable[i].ID < usable[j].ID
		}
		return usable[i].Timestamp.Before(usable[j].Timestamp)
	})
	return usable, skipped
}

// earliestIn returns the first payment inside p. payments must be sorted.
func earliestIn(payments []Payment, p Period) (Payment, bool) {
	i := sort.Search(len(payments), func(i int) bool {
		return !payments[i].Timestamp.Before(p.Start)
	})
	if i < len(payments) && p.Contains(payments[i].Timestamp) {
		return payments[i], true
	}
	return Payment{}, false
}

func (c *Classifier) paidWithinGrace(payments []Payment, currentDue time.Time) bool {
	if c.Rules.GracePeriodDays <= 0 || currentDue.IsZero() || len(payments) == 0 {
		return false
	}
	windowStart := AddDays(currentDue, -c.Rules.GracePeriodDays)
	return payments[len(payments)-1].Timestamp.After(windowStart)
}

// =============================================================================
// CLIENT EVALUATION
// =============================================================================

// Evaluation is the classification of one client, as of one instant.
type Evaluation struct {
	ClientID ClientID
	AsOf     time.Time
	Result

	// NextDue is the due date of the period running at asOf.
	NextDue      *time.Time
	DaysUntilDue int
}

// Evaluate generates the client's periods and classifies its payments.
//
// A client without an enrollment date yields StateUnknown with no owed
// amount. A non-positive cycle length is returned as ErrInvalidConfiguration.
func (c *Classifier) Evaluate(client Client, payments []Payment, asOf time.Time) (Evaluation, error) {
	ev := Evaluation{ClientID: client.ID, AsOf: Day(asOf)}

	if client.EnrollmentDate == nil {
		ev.Result = Result{State: StateUnknown, OwedAmount: decimal.Zero}
		c.log.Debug("client has no enrollment date",
			zap.String("client_id", string(client.ID)),
			zap.NamedError("reason", ErrMissingBillingData),
		)
		return ev, nil
	}

	cycle := client.CycleLength()
	periods, err := GeneratePeriods(*client.EnrollmentDate, cycle, asOf)
	if err != nil {
		return ev, fmt.Errorf("client %s: %w", client.ID, err)
	}

	ev.Result = c.Classify(periods, payments, ClassifyInput{
		AsOf:         asOf,
		MonthlyPrice: client.MonthlyPrice,
		PaidThrough:  client.AdvancePaidThrough,
	})

	running, err := PeriodAt(*client.EnrollmentDate, cycle, asOf)
	if err != nil {
		return ev, fmt.Errorf("client %s: %w", client.ID, err)
	}
	next := running.Due
	ev.NextDue = &next
	ev.DaysUntilDue = DaysBetween(asOf, next)
	return ev, nil
}
