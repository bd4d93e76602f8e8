/*
Package billing provides the parking rental billing and delinquency engine.

PURPOSE:
  This package contains the pure core of the system: it turns a client's
  enrollment date, billing cycle and payment ledger into billing periods,
  per-period paid/unpaid statuses and an aggregate delinquency (morosidad)
  state. Stores, notifiers and the HTTP surface live in other packages and
  call into this one.

KEY CONCEPTS IN THIS FILE (types.go):
  - Client: A rented space occupant with its billing fields
  - Payment: A single remittance, pending until an administrator reviews it
  - VehicleType: Car, motorcycle or truck (drives pricing and capacity)
  - Typed identifiers: ClientID, PaymentID

DESIGN PRINCIPLES:
  1. Purity: GeneratePeriods and Classify read nothing but their inputs
  2. Precision: Money uses decimal.Decimal, never float64
  3. Explicit clock: "now" is always passed in as asOf
  4. Conservative reads: bad payment records degrade to "unpaid", never fail

USAGE:
  periods, err := billing.GeneratePeriods(enrollment, 30, asOf)
  result := billing.NewClassifier(billing.DefaultRules(), log).
      Classify(periods, payments, billing.ClassifyInput{AsOf: asOf, MonthlyPrice: price})

SEE ALSO:
  - period.go: Period generation
  - classify.go: Delinquency classification
  - errors.go: Error taxonomy
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCycleLengthDays is the billing cycle used when a client has none.
const DefaultCycleLengthDays = 30

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClientID string
type PaymentID string

// =============================================================================
// VEHICLE TYPE
// =============================================================================

type VehicleType string

const (
	VehicleCar        VehicleType = "car"
	VehicleMotorcycle VehicleType = "motorcycle"
	VehicleTruck      VehicleType = "truck"
)

// VehicleTypes lists the known vehicle types in display order.
var VehicleTypes = []VehicleType{VehicleCar, VehicleMotorcycle, VehicleTruck}

func (v VehicleType) Valid() bool {
	switch v {
	case VehicleCar, VehicleMotorcycle, VehicleTruck:
		return true
	}
	return false
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a parking space occupant.
//
// EnrollmentDate anchors the billing timeline. It is optional because
// clients are often registered before billing starts; a client without it
// evaluates to StateUnknown.
type Client struct {
	ID          ClientID
	Name        string
	Email       string
	Phone       string
	Plate       string
	VehicleType VehicleType

	EnrollmentDate  *time.Time
	CycleLengthDays int
	MonthlyPrice    decimal.Decimal

	// AdvancePaidThrough marks every period due on or before this date as
	// paid, independently of individual payments (adelantos).
	AdvancePaidThrough *time.Time

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CycleLength returns the client's cycle length, applying the default for zero.
func (c Client) CycleLength() int {
	if c.CycleLengthDays == 0 {
		return DefaultCycleLengthDays
	}
	return c.CycleLengthDays
}

// Validate checks the billing invariants of a client record.
func (c Client) Validate() error {
	if c.ID == "" {
		return &ConfigurationError{Field: "id", Reason: "must not be empty"}
	}
	if c.CycleLengthDays < 0 {
		return &ConfigurationError{Field: "cycle_length_days", Reason: "must be >= 1"}
	}
	if c.MonthlyPrice.IsNegative() {
		return &ConfigurationError{Field: "monthly_price", Reason: "must not be negative"}
	}
	if c.VehicleType != "" && !c.VehicleType.Valid() {
		return &ConfigurationError{Field: "vehicle_type", Reason: "unknown vehicle type " + string(c.VehicleType)}
	}
	return nil
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentState string

const (
	PaymentPending   PaymentState = "pending"
	PaymentConfirmed PaymentState = "confirmed"
	PaymentRejected  PaymentState = "rejected"
)

func (s PaymentState) Valid() bool {
	switch s {
	case PaymentPending, PaymentConfirmed, PaymentRejected:
		return true
	}
	return false
}

// Payment is a single remittance registered against one client.
// Only confirmed payments count toward covering periods.
type Payment struct {
	ID        PaymentID
	ClientID  ClientID
	Amount    decimal.Decimal
	Timestamp time.Time
	State     PaymentState

	// Audit fields
	RegisteredBy string
	ReviewedBy   string
	ReviewedAt   *time.Time
	Note         string
}

func (p Payment) IsConfirmed() bool { return p.State == PaymentConfirmed }

// Validate reports a MalformedPaymentError when the record cannot be used
// for period matching.
func (p Payment) Validate() error {
	if p.Timestamp.IsZero() {
		return &MalformedPaymentError{PaymentID: p.ID, Field: "timestamp", Reason: "missing or unparseable"}
	}
	if !p.Amount.IsPositive() {
		return &MalformedPaymentError{PaymentID: p.ID, Field: "amount", Reason: "must be positive"}
	}
	return nil
}
