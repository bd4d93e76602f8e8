/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers wrap these with context and match them with errors.Is/As.

ERROR CATEGORIES:
  1. Configuration errors - fatal to the call (non-positive cycle length)
  2. Data-quality errors - recovered locally (malformed payment records)
  3. Store errors - missing records and lifecycle conflicts

PROPAGATION:
  Configuration errors are returned to the caller. Malformed payments are
  skipped by the classifier and reported in Result.Skipped. A client without
  an enrollment date evaluates to StateUnknown instead of erroring.
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidConfiguration is returned for non-positive cycle lengths,
	// inconsistent rules and invalid price tables.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrMalformedPaymentRecord marks a payment that cannot be matched to a period.
	ErrMalformedPaymentRecord = errors.New("malformed payment record")

	// ErrMissingBillingData is returned when a client has no enrollment date.
	ErrMissingBillingData = errors.New("missing billing data")

	ErrClientNotFound  = errors.New("client not found")
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrPaymentNotPending is returned when reviewing a payment that was
	// already confirmed or rejected. Reviewed payments are immutable.
	ErrPaymentNotPending = errors.New("payment is not pending")

	// ErrEnrollmentLocked is returned when changing the enrollment date of a
	// client that already has confirmed payments billed against it.
	ErrEnrollmentLocked = errors.New("enrollment date is locked by confirmed payments")

	ErrDuplicateClient       = errors.New("client already exists")
	ErrDuplicatePayment      = errors.New("payment already exists")
	ErrDuplicateNotification = errors.New("notification already recorded")

	ErrUnknownVehicleType = errors.New("unknown vehicle type")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError names the offending field.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrInvalidConfiguration }

// MalformedPaymentError describes a payment skipped during classification.
type MalformedPaymentError struct {
	PaymentID PaymentID
	Field     string
	Reason    string
}

func (e *MalformedPaymentError) Error() string {
	return fmt.Sprintf("malformed payment %s: %s %s", e.PaymentID, e.Field, e.Reason)
}

func (e *MalformedPaymentError) Unwrap() error { return ErrMalformedPaymentRecord }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMalformedPaymentRecord) ||
		errors.Is(err, ErrUnknownVehicleType)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}

// IsConflict returns true if the error is a lifecycle or uniqueness conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrPaymentNotPending) ||
		errors.Is(err, ErrEnrollmentLocked) ||
		errors.Is(err, ErrDuplicateClient) ||
		errors.Is(err, ErrDuplicatePayment) ||
		errors.Is(err, ErrDuplicateNotification)
}
