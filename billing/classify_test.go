package billing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/parking-engine/billing"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var price = decimal.NewFromInt(25000)

func date(y int, m time.Month, d int) time.Time { return billing.NewDate(y, m, d) }

func at(y int, m time.Month, d, hour int) time.Time {
	return time.Date(y, m, d, hour, 0, 0, 0, time.UTC)
}

func confirmed(id string, ts time.Time) billing.Payment {
	return billing.Payment{
		ID:        billing.PaymentID(id),
		ClientID:  "client-1",
		Amount:    price,
		Timestamp: ts,
		State:     billing.PaymentConfirmed,
	}
}

func noGrace() billing.Rules {
	r := billing.DefaultRules()
	r.GracePeriodDays = 0
	return r
}

func classify(t *testing.T, rules billing.Rules, enrollment time.Time, asOf time.Time, payments []billing.Payment, paidThrough *time.Time) billing.Result {
	t.Helper()
	periods, err := billing.GeneratePeriods(enrollment, 30, asOf)
	require.NoError(t, err)
	return billing.NewClassifier(rules, nil).Classify(periods, payments, billing.ClassifyInput{
		AsOf:         asOf,
		MonthlyPrice: price,
		PaidThrough:  paidThrough,
	})
}

// =============================================================================
// MATCHING TESTS
// =============================================================================

func TestClassify_NoPeriods_Current(t *testing.T) {
	res := classify(t, billing.DefaultRules(), date(2024, 1, 1), date(2024, 1, 1), nil, nil)

	assert.Equal(t, billing.StateCurrent, res.State)
	assert.Equal(t, 0, res.DaysOverdue)
	assert.True(t, res.OwedAmount.IsZero())
	assert.Empty(t, res.Periods)
}

func TestClassify_PaymentInWindow_MarksPaid(t *testing.T) {
	// GIVEN: One elapsed period with a confirmed payment inside it
	payments := []billing.Payment{confirmed("p1", at(2024, 1, 10, 12))}

	// WHEN: Classifying well past the grace window
	res := classify(t, noGrace(), date(2024, 1, 1), date(2024, 2, 10), payments, nil)

	// THEN: Period 1 is paid by p1, period 2 is running and unpaid
	require.Len(t, res.Periods, 2)
	assert.Equal(t, billing.PeriodPaid, res.Periods[0].Status)
	assert.Equal(t, billing.CoveragePayment, res.Periods[0].Source)
	assert.Equal(t, billing.PaymentID("p1"), res.Periods[0].PaymentID)
	assert.Equal(t, billing.PeriodUnpaid, res.Periods[1].Status)
	assert.False(t, res.Periods[1].Overdue, "running period cannot be overdue")
	assert.Equal(t, billing.StateCurrent, res.State)
}

func TestClassify_PaymentOnEndBoundary_BelongsToNextPeriod(t *testing.T) {
	// GIVEN: A payment exactly at 2024-01-31 00:00, the end of period 1
	payments := []billing.Payment{confirmed("p1", date(2024, 1, 31))}

	res := classify(t, noGrace(), date(2024, 1, 1), date(2024, 3, 5), payments, nil)

	require.Len(t, res.Periods, 3)
	assert.Equal(t, billing.PeriodUnpaid, res.Periods[0].Status)
	assert.Equal(t, billing.PeriodPaid, res.Periods[1].Status)
}

func TestClassify_MultiplePaymentsSamePeriod_EarliestAttributed(t *testing.T) {
	payments := []billing.Payment{
		confirmed("late", at(2024, 1, 20, 9)),
		confirmed("early", at(2024, 1, 5, 9)),
	}

	res := classify(t, noGrace(), date(2024, 1, 1), date(2024, 3, 20), payments, nil)

	assert.Equal(t, billing.PaymentID("early"), res.Periods[0].PaymentID)
	// Second payment does not spill over to period 2
	assert.Equal(t, billing.PeriodUnpaid, res.Periods[1].Status)
	assert.Equal(t, 1, res.OverduePeriods)
}

func TestClassify_PendingPayment_DoesNotCount(t *testing.T) {
	// GIVEN: A payment still awaiting administrator review
	pending := confirmed("p1", at(2024, 1, 10, 12))
	pending.State = billing.PaymentPending
	rejected := confirmed("p2", at(2024, 1, 11, 12))
	rejected.State = billing.PaymentRejected

	res := classify(t, noGrace(), date(2024, 1, 1), date(2024, 2, 5), []billing.Payment{pending, rejected}, nil)

	// THEN: No period is marked paid
	for _, ps := range res.Periods {
		assert.Equal(t, billing.PeriodUnpaid, ps.Status)
	}
	assert.Equal(t, billing.StateUpcoming, res.State)
	assert.True(t, res.OwedAmount.Equal(price))
}

func TestClassify_FuturePayment_Invisible(t *testing.T) {
	// GIVEN: A payment registered after asOf
	payments := []billing.Payment{confirmed("p1", at(2024, 1, 25, 9))}

	res := classify(t, noGrace(), date(2024, 1, 1), date(2024, 1, 20), payments, nil)

	require.Len(t, res.Periods, 1)
	assert.Equal(t, billing.PeriodUnpaid, res.Periods[0].Status)
}

func TestClassify_PaymentLaterOnAsOfDay_Visible(t *testing.T) {
	payments := []billing.Payment{confirmed("p1", at(2024, 1, 20, 23))}

	res := classify(t, noGrace(), date(2024, 1, 1), at(2024, 1, 20, 8), payments, nil)

	assert.Equal(t, billing.PeriodPaid, res.Periods[0].Status)
}

func TestClassify_AdvancePaidThrough_OverridesMissingPayments(t *testing.T) {
	// GIVEN: Enrollment such that a period is due 2024-04-15 and an
	// advance covering everything through 2024-06-01
	enrollment := date(2024, 1, 16) // dues: 02-15, 03-16, 04-15, 05-15, 06-14
	paidThrough := date(2024, 6, 1)

	res := classify(t, noGrace(), enrollment, date(2024, 6, 20), nil, &paidThrough)

	// THEN: The period due 2024-04-15 is paid by the advance
	var found bool
	for _, ps := range res.Periods {
		if ps.Due.Equal(date(2024, 4, 15)) {
			found = true
			assert.Equal(t, billing.PeriodPaid, ps.Status)
			assert.Equal(t, billing.CoverageAdvance, ps.Source)
			assert.Empty(t, ps.PaymentID)
		}
	}
	require.True(t, found, "expected a period due 2024-04-15")

	// Only the period due 2024-06-14 is past the advance
	assert.Equal(t, 1, res.OverduePeriods)
	assert.Equal(t, date(2024, 6, 14), *res.OldestDue)
	assert.Equal(t, 6, res.DaysOverdue)
	assert.Equal(t, billing.StateOverdue, res.State)
}

func TestClassify_MalformedPayment_SkippedNotFatal(t *testing.T) {
	bad := confirmed("bad-ts", time.Time{})
	zeroAmount := confirmed("bad-amount", at(2024, 1, 3, 9))
	zeroAmount.Amount = decimal.Zero

	res := classify(t, noGrace(), date(2024, 1, 1), date(2024, 2, 5), []billing.Payment{bad, zeroAmount}, nil)

	require.Len(t, res.Skipped, 2)
	assert.Equal(t, billing.PaymentID("bad-ts"), res.Skipped[0].PaymentID)
	assert.Equal(t, "timestamp", res.Skipped[0].Field)
	assert.Equal(t, "amount", res.Skipped[1].Field)
	assert.ErrorIs(t, &res.Skipped[0], billing.ErrMalformedPaymentRecord)

	// Degraded to unpaid
	assert.Equal(t, billing.PeriodUnpaid, res.Periods[0].Status)
	assert.Equal(t, billing.StateUpcoming, res.State)
}

// =============================================================================
// STATE BAND TESTS
// =============================================================================

func TestClassify_StateBands(t *testing.T) {
	// Period 1 is due 2024-01-31; later periods stay unpaid as well
	tests := []struct {
		asOf        time.Time
		wantState   billing.DelinquencyState
		wantDays    int
		wantPeriods int
	}{
		{date(2024, 1, 30), billing.StateCurrent, 0, 0},
		{date(2024, 1, 31), billing.StateUpcoming, 0, 1},
		{date(2024, 2, 5), billing.StateUpcoming, 5, 1},
		{date(2024, 2, 6), billing.StateOverdue, 6, 1},
		{date(2024, 2, 15), billing.StateOverdue, 15, 1},
		{date(2024, 2, 16), billing.StateDelinquent, 16, 1},
		{date(2024, 3, 31), billing.StateDelinquent, 60, 3},
		{date(2024, 4, 1), billing.StateCritical, 61, 3},
	}

	for _, tt := range tests {
		t.Run(billing.FormatDate(tt.asOf), func(t *testing.T) {
			res := classify(t, noGrace(), date(2024, 1, 1), tt.asOf, nil, nil)
			assert.Equal(t, tt.wantState, res.State)
			assert.Equal(t, tt.wantDays, res.DaysOverdue)
			assert.Equal(t, tt.wantPeriods, res.OverduePeriods)
			assert.True(t, res.OwedAmount.Equal(price.Mul(decimal.NewFromInt(int64(tt.wantPeriods)))))
		})
	}
}

func TestClassify_CriticalDisabled_StaysDelinquent(t *testing.T) {
	rules := noGrace()
	rules.CriticalAfterDays = 0

	res := classify(t, rules, date(2024, 1, 1), date(2024, 12, 1), nil, nil)

	assert.Equal(t, billing.StateDelinquent, res.State)
}

func TestClassify_Scenario_OnePeriodTwentyDaysOverdue(t *testing.T) {
	// GIVEN: Period 1 paid, period 2 (due 2024-03-01) unpaid, asOf 20 days later
	payments := []billing.Payment{confirmed("p1", at(2024, 1, 5, 10))}

	res := classify(t, noGrace(), date(2024, 1, 1), date(2024, 3, 21), payments, nil)

	// THEN: delinquent, one period owed
	assert.Equal(t, billing.StateDelinquent, res.State)
	assert.Equal(t, 20, res.DaysOverdue)
	assert.Equal(t, 1, res.OverduePeriods)
	assert.True(t, res.OwedAmount.Equal(decimal.NewFromInt(25000)), "owed %s", res.OwedAmount)
}

// =============================================================================
// GRACE WINDOW TESTS
// =============================================================================

func TestClassify_GraceWindow_NothingOverdue_NotApplied(t *testing.T) {
	payments := []billing.Payment{confirmed("p1", at(2024, 1, 29, 9))}

	res := classify(t, billing.DefaultRules(), date(2024, 1, 1), date(2024, 2, 2), payments, nil)

	assert.Equal(t, billing.StateCurrent, res.State)
	assert.False(t, res.GraceApplied)
}

func TestClassify_GraceWindow_StartIsExclusive(t *testing.T) {
	// GIVEN: Current due date 03-01, payment exactly at 03-01 - 5d
	payments := []billing.Payment{confirmed("edge", date(2024, 2, 25))}

	res := classify(t, billing.DefaultRules(), date(2024, 1, 1), date(2024, 3, 2), payments, nil)

	// THEN: Not strictly after the window start, bands apply
	assert.False(t, res.GraceApplied)
	assert.Equal(t, billing.StateDelinquent, res.State)
}

func TestClassify_GraceWindow_PaymentAfterDueOverridesBands(t *testing.T) {
	// GIVEN: Periods due 01-31 and 03-01 both unpaid by attribution, but a
	// confirmed payment was registered on 2024-02-27, inside period 2.
	// That pays period 2; period 1 stays overdue since 01-31.
	payments := []billing.Payment{confirmed("recent", at(2024, 2, 27, 15))}

	// WHEN: Evaluated on 2024-03-02 with a 5-day grace window before 03-01
	res := classify(t, billing.DefaultRules(), date(2024, 1, 1), date(2024, 3, 2), payments, nil)

	// THEN: Strict accounting says 31 days overdue, but the recent payment
	// keeps the client current; the owed amount is still reported
	assert.Equal(t, billing.StateCurrent, res.State)
	assert.True(t, res.GraceApplied)
	assert.Equal(t, 0, res.DaysOverdue)
	assert.Equal(t, 1, res.OverduePeriods)
	assert.True(t, res.OwedAmount.Equal(price))

	// AND: Without the grace rule the client is delinquent
	strict := classify(t, noGrace(), date(2024, 1, 1), date(2024, 3, 2), payments, nil)
	assert.Equal(t, billing.StateDelinquent, strict.State)
	assert.Equal(t, 31, strict.DaysOverdue)
}

func TestClassify_GraceWindow_PaymentTooOld(t *testing.T) {
	// Payment on 02-20 is before 03-01 - 5d = 02-25
	payments := []billing.Payment{confirmed("old", at(2024, 2, 20, 15))}

	res := classify(t, billing.DefaultRules(), date(2024, 1, 1), date(2024, 3, 2), payments, nil)

	assert.False(t, res.GraceApplied)
	assert.Equal(t, billing.StateDelinquent, res.State)
}

// =============================================================================
// PROPERTY TESTS
// =============================================================================

func TestClassify_Idempotent(t *testing.T) {
	payments := []billing.Payment{
		confirmed("p1", at(2024, 1, 10, 9)),
		confirmed("p3", at(2024, 3, 10, 9)),
	}
	paidThrough := date(2024, 1, 15)

	first := classify(t, billing.DefaultRules(), date(2024, 1, 1), date(2024, 6, 1), payments, &paidThrough)
	second := classify(t, billing.DefaultRules(), date(2024, 1, 1), date(2024, 6, 1), payments, &paidThrough)

	assert.Equal(t, first, second)
}

func TestClassify_DaysOverdueMonotonic(t *testing.T) {
	classifier := billing.NewClassifier(noGrace(), nil)
	enrollment := date(2024, 1, 1)

	// Fixed unpaid set: the first three periods
	periods, err := billing.GeneratePeriods(enrollment, 30, date(2024, 3, 31))
	require.NoError(t, err)

	prev := -1
	for asOf := date(2024, 1, 1); asOf.Before(date(2024, 6, 1)); asOf = asOf.AddDate(0, 0, 1) {
		res := classifier.Classify(periods, nil, billing.ClassifyInput{AsOf: asOf, MonthlyPrice: price})
		assert.GreaterOrEqual(t, res.DaysOverdue, prev, "asOf %s", billing.FormatDate(asOf))
		prev = res.DaysOverdue
	}
}

func TestClassify_PaymentErasesOverdue(t *testing.T) {
	// GIVEN: Three overdue unpaid periods
	enrollment := date(2024, 1, 1)
	asOf := date(2024, 4, 20)
	before := classify(t, noGrace(), enrollment, asOf, nil, nil)
	require.True(t, before.Periods[1].Overdue)

	// WHEN: A confirmed payment lands inside period 2
	p := before.Periods[1].Period
	payments := []billing.Payment{confirmed("fix", p.Start.Add(36*time.Hour))}
	after := classify(t, noGrace(), enrollment, asOf, payments, nil)

	// THEN: Period 2 is paid and exactly one monthly price is erased
	assert.Equal(t, billing.PeriodPaid, after.Periods[1].Status)
	assert.False(t, after.Periods[1].Overdue)
	assert.True(t, before.OwedAmount.Sub(after.OwedAmount).Equal(price))
}

// =============================================================================
// EVALUATE TESTS
// =============================================================================

func TestEvaluate_MissingEnrollment_Unknown(t *testing.T) {
	client := billing.Client{ID: "c1", MonthlyPrice: price}

	ev, err := billing.NewClassifier(billing.DefaultRules(), nil).Evaluate(client, nil, date(2024, 5, 1))

	require.NoError(t, err)
	assert.Equal(t, billing.StateUnknown, ev.State)
	assert.Equal(t, 0, ev.DaysOverdue)
	assert.True(t, ev.OwedAmount.IsZero())
	assert.Nil(t, ev.NextDue)
}

func TestEvaluate_DefaultCycleAndNextDue(t *testing.T) {
	enrollment := date(2024, 1, 1)
	client := billing.Client{ID: "c1", EnrollmentDate: &enrollment, MonthlyPrice: price}

	ev, err := billing.NewClassifier(noGrace(), nil).Evaluate(client, nil, date(2024, 2, 10))

	require.NoError(t, err)
	assert.Equal(t, billing.StateOverdue, ev.State)
	assert.Equal(t, 10, ev.DaysOverdue)
	require.NotNil(t, ev.NextDue)
	assert.Equal(t, date(2024, 3, 1), *ev.NextDue)
	assert.Equal(t, 20, ev.DaysUntilDue)
}

func TestEvaluate_NegativeCycle_Error(t *testing.T) {
	enrollment := date(2024, 1, 1)
	client := billing.Client{ID: "c1", EnrollmentDate: &enrollment, CycleLengthDays: -1}

	_, err := billing.NewClassifier(billing.DefaultRules(), nil).Evaluate(client, nil, date(2024, 2, 10))

	assert.ErrorIs(t, err, billing.ErrInvalidConfiguration)
}

func TestRules_Validate(t *testing.T) {
	assert.NoError(t, billing.DefaultRules().Validate())

	r := billing.DefaultRules()
	r.OverdueMaxDays = 2
	assert.ErrorIs(t, r.Validate(), billing.ErrInvalidConfiguration)

	r = billing.DefaultRules()
	r.GracePeriodDays = -1
	assert.ErrorIs(t, r.Validate(), billing.ErrInvalidConfiguration)
}
