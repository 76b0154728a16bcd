/*
errors.go - Error taxonomy for the billing engine

PURPOSE:
  Every failure the engine can produce has a Kind from a closed set. Callers
  branch on the kind (errors.Is) and never on message text.

ERROR CATEGORIES:
  1. Input validation - malformed amounts or identifiers
  2. Payer eligibility - who may pay, and for how much
  3. State - the current billing state forbids the operation
  4. Consistency - a multi-record write could not be completed or undone

USAGE:
  _, err := svc.AddPayment(ctx, billingID, amount)
  switch {
  case errors.Is(err, billing.ErrOverpayment):
      // amount larger than remaining due
  case billing.IsPayerError(err):
      // reject the payer list
  }

  var be *billing.Error
  if errors.As(err, &be) {
      log.Println(be.Op, be.Reason)
  }

SEE ALSO:
  - api/handlers.go: Maps kinds to HTTP status codes
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// KIND - Closed enumeration, usable as a sentinel with errors.Is()
// =============================================================================

type Kind string

func (k Kind) Error() string { return string(k) }

const (
	// Input validation
	ErrInvalidAmountFormat Kind = "invalid amount format"
	ErrNegativeAmount      Kind = "negative amount"
	ErrNonPositiveAmount   Kind = "non-positive amount"
	ErrInvalidIdentifier   Kind = "invalid identifier"
	ErrEmptySchedule       Kind = "empty schedule"
	ErrInvalidSchedule     Kind = "invalid schedule"

	// Payer eligibility
	ErrDuplicatePayer            Kind = "duplicate payer"
	ErrUnknownPayer              Kind = "unknown payer"
	ErrMultipleStudentPayers     Kind = "multiple student payers"
	ErrCoverageNotHundredPercent Kind = "cost coverage not 100 percent"
	ErrPaymentTypeMismatch       Kind = "payment type mismatch"

	// State
	ErrDuplicateBilling       Kind = "student already has billing"
	ErrBillingNotFound        Kind = "billing not found"
	ErrStudentNotFound        Kind = "student not found"
	ErrReferenceNotFound      Kind = "reference data not found"
	ErrOverpayment            Kind = "overpayment"
	ErrExceedsRemovableAmount Kind = "exceeds removable amount"
	ErrMissingDepositBilling  Kind = "missing deposit billing"
	ErrDepositNotYetPaid      Kind = "deposit not yet paid"

	// Consistency
	ErrOrphanRecord Kind = "orphan record"
	ErrPersistence  Kind = "persistence failure"
)

// =============================================================================
// ERROR - Kind with operation and reason
// =============================================================================

// Error is the structured error returned by the engine.
type Error struct {
	Op     string // operation that failed, e.g. "AddPayment"
	Kind   Kind
	Reason string
	Err    error // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind Kind, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func wrapError(op string, kind Kind, err error, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Reason: fmt.Sprintf(format, args...), Err: err}
}

// withReasonPrefix prefixes the reason of a billing error, e.g. with a field name.
func withReasonPrefix(err error, prefix string) error {
	var be *Error
	if errors.As(err, &be) {
		cp := *be
		cp.Reason = prefix + ": " + be.Reason
		return &cp
	}
	return err
}

// withOp attributes a billing error raised by an inner step to op. The
// step's name moves to the front of the reason.
func withOp(op string, err error) error {
	var be *Error
	if !errors.As(err, &be) || be.Op == op {
		return err
	}
	cp := *be
	cp.Op = op
	if be.Op != "" {
		cp.Reason = be.Op + ": " + be.Reason
	}
	return &cp
}

// persistenceError wraps a store failure. Billing errors are attributed to op.
func persistenceError(op string, err error) error {
	var be *Error
	if errors.As(err, &be) {
		return withOp(op, err)
	}
	return wrapError(op, ErrPersistence, err, "store operation failed")
}

// KindOf returns the kind carried by err, or "" if err is not a billing error.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

func isOneOf(err error, kinds ...Kind) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

// IsValidationError returns true for malformed input.
func IsValidationError(err error) bool {
	return isOneOf(err, ErrInvalidAmountFormat, ErrNegativeAmount, ErrNonPositiveAmount,
		ErrInvalidIdentifier, ErrEmptySchedule, ErrInvalidSchedule)
}

// IsPayerError returns true for any payer eligibility violation.
func IsPayerError(err error) bool {
	return isOneOf(err, ErrDuplicatePayer, ErrUnknownPayer, ErrMultipleStudentPayers,
		ErrCoverageNotHundredPercent, ErrPaymentTypeMismatch)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return isOneOf(err, ErrBillingNotFound, ErrStudentNotFound, ErrReferenceNotFound)
}

// IsStateError returns true if the billing state forbids the operation.
func IsStateError(err error) bool {
	return isOneOf(err, ErrDuplicateBilling, ErrOverpayment, ErrExceedsRemovableAmount,
		ErrMissingDepositBilling, ErrDepositNotYetPaid)
}

// IsConsistencyError returns true for failures that need operator attention.
// These must not be retried automatically.
func IsConsistencyError(err error) bool {
	return isOneOf(err, ErrOrphanRecord)
}
