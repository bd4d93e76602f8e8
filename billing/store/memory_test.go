package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/parking-engine/billing"
)

func newClient(id string) billing.Client {
	enrollment := billing.NewDate(2024, time.January, 1)
	return billing.Client{
		ID:             billing.ClientID(id),
		Name:           "Client " + id,
		VehicleType:    billing.VehicleCar,
		EnrollmentDate: &enrollment,
		MonthlyPrice:   decimal.NewFromInt(25000),
		Active:         true,
	}
}

func newPayment(id, client string, ts time.Time) billing.Payment {
	return billing.Payment{
		ID:        billing.PaymentID(id),
		ClientID:  billing.ClientID(client),
		Amount:    decimal.NewFromInt(25000),
		Timestamp: ts,
	}
}

func TestMemory_ClientLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.SaveClient(ctx, newClient("c1")))
	assert.ErrorIs(t, s.SaveClient(ctx, newClient("c1")), billing.ErrDuplicateClient)

	got, err := s.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Client c1", got.Name)
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, s.SaveClient(ctx, newClient("c0")))
	require.NoError(t, s.DeactivateClient(ctx, "c0"))

	all, err := s.ListClients(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, billing.ClientID("c0"), all[0].ID)

	active, err := s.ListClients(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, billing.ClientID("c1"), active[0].ID)

	_, err = s.GetClient(ctx, "missing")
	assert.ErrorIs(t, err, billing.ErrClientNotFound)
}

func TestMemory_SaveClient_Invalid(t *testing.T) {
	c := newClient("c1")
	c.CycleLengthDays = -3

	err := NewMemory().SaveClient(context.Background(), c)

	assert.ErrorIs(t, err, billing.ErrInvalidConfiguration)
}

func TestMemory_PaymentsOrderedByTimestamp(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.SaveClient(ctx, newClient("c1")))

	// GIVEN: Payments registered out of order
	require.NoError(t, s.RegisterPayment(ctx, newPayment("p2", "c1", billing.NewDate(2024, time.March, 2))))
	require.NoError(t, s.RegisterPayment(ctx, newPayment("p1", "c1", billing.NewDate(2024, time.January, 5))))
	require.NoError(t, s.RegisterPayment(ctx, newPayment("p3", "c1", billing.NewDate(2024, time.April, 1))))

	// WHEN: Listing
	payments, err := s.PaymentsByClient(ctx, "c1")

	// THEN: Sorted by timestamp, all pending
	require.NoError(t, err)
	require.Len(t, payments, 3)
	assert.Equal(t, billing.PaymentID("p1"), payments[0].ID)
	assert.Equal(t, billing.PaymentID("p2"), payments[1].ID)
	assert.Equal(t, billing.PaymentID("p3"), payments[2].ID)
	for _, p := range payments {
		assert.Equal(t, billing.PaymentPending, p.State)
	}
}

func TestMemory_RegisterPayment_Errors(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	err := s.RegisterPayment(ctx, newPayment("p1", "ghost", time.Now()))
	assert.ErrorIs(t, err, billing.ErrClientNotFound)

	require.NoError(t, s.SaveClient(ctx, newClient("c1")))
	require.NoError(t, s.RegisterPayment(ctx, newPayment("p1", "c1", time.Now())))
	assert.ErrorIs(t, s.RegisterPayment(ctx, newPayment("p1", "c1", time.Now())), billing.ErrDuplicatePayment)
}

func TestMemory_ReviewPayment(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.SaveClient(ctx, newClient("c1")))
	require.NoError(t, s.RegisterPayment(ctx, newPayment("p1", "c1", billing.NewDate(2024, time.January, 5))))
	require.NoError(t, s.RegisterPayment(ctx, newPayment("p2", "c1", billing.NewDate(2024, time.January, 6))))
	reviewedAt := time.Date(2024, time.January, 7, 10, 0, 0, 0, time.UTC)

	// WHEN: Confirming p1 and rejecting p2
	p1, err := s.ConfirmPayment(ctx, "p1", "admin", reviewedAt)
	require.NoError(t, err)
	p2, err := s.RejectPayment(ctx, "p2", "admin", "blurry receipt", reviewedAt)
	require.NoError(t, err)

	// THEN: Review metadata is set
	assert.Equal(t, billing.PaymentConfirmed, p1.State)
	assert.Equal(t, "admin", p1.ReviewedBy)
	require.NotNil(t, p1.ReviewedAt)
	assert.Equal(t, reviewedAt, *p1.ReviewedAt)
	assert.Equal(t, billing.PaymentRejected, p2.State)
	assert.Equal(t, "blurry receipt", p2.Note)

	// AND: Reviewed payments are immutable
	_, err = s.ConfirmPayment(ctx, "p2", "admin", reviewedAt)
	assert.ErrorIs(t, err, billing.ErrPaymentNotPending)
	_, err = s.RejectPayment(ctx, "p1", "admin", "", reviewedAt)
	assert.ErrorIs(t, err, billing.ErrPaymentNotPending)

	_, err = s.ConfirmPayment(ctx, "nope", "admin", reviewedAt)
	assert.ErrorIs(t, err, billing.ErrPaymentNotFound)
}

func TestMemory_UpdateClient_EnrollmentLockedAfterConfirmedPayment(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	c := newClient("c1")
	require.NoError(t, s.SaveClient(ctx, c))

	// GIVEN: Enrollment can move while no payment is confirmed
	moved := billing.NewDate(2024, time.February, 1)
	c.EnrollmentDate = &moved
	require.NoError(t, s.UpdateClient(ctx, c))

	require.NoError(t, s.RegisterPayment(ctx, newPayment("p1", "c1", billing.NewDate(2024, time.February, 3))))
	_, err := s.ConfirmPayment(ctx, "p1", "admin", time.Now())
	require.NoError(t, err)

	// WHEN: Moving it again
	again := billing.NewDate(2024, time.March, 1)
	c.EnrollmentDate = &again
	err = s.UpdateClient(ctx, c)

	// THEN: Rejected, but other fields can still change
	assert.ErrorIs(t, err, billing.ErrEnrollmentLocked)

	c.EnrollmentDate = &moved
	c.Phone = "555-0101"
	require.NoError(t, s.UpdateClient(ctx, c))
	got, err := s.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "555-0101", got.Phone)
}

func TestMemory_PriceConfigAndNotifications(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	cfg, err := s.GetPriceConfig(ctx)
	require.NoError(t, err)
	assert.Empty(t, cfg)

	require.NoError(t, s.SavePriceConfig(ctx, `{"currency":"COP"}`))
	cfg, err = s.GetPriceConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"currency":"COP"}`, cfg)

	key := billing.NotificationKey("c1", billing.NewDate(2024, time.January, 31), billing.StateOverdue, "email")
	assert.Equal(t, "c1|2024-01-31|overdue|email", key)

	sent, err := s.WasNotified(ctx, key)
	require.NoError(t, err)
	assert.False(t, sent)

	rec := billing.NotificationRecord{Key: key, ClientID: "c1", State: billing.StateOverdue}
	require.NoError(t, s.RecordNotification(ctx, rec))
	assert.ErrorIs(t, s.RecordNotification(ctx, rec), billing.ErrDuplicateNotification)

	sent, err = s.WasNotified(ctx, key)
	require.NoError(t, err)
	assert.True(t, sent)
}
