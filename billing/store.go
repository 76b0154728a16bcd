/*
store.go - Persistence interfaces for billings and reference data

PURPOSE:
  Defines the interface between the billing engine and the database.
  Different implementations can use SQLite, MongoDB, or in-memory storage.

KEY INTERFACES:
  Store:     Billings plus their terms and deposits
  TxStore:   Store with atomic multi-record writes
  Directory: Read-only reference lookups used by the Service
  Catalog:   Directory plus writes, used by the HTTP layer and scenarios

FIND WITH LOOKUP:
  Billings store only references to their installments. Passing
  LookupDeposit and/or LookupTerms to a Find call resolves them inline:

    b, err := store.FindBilling(ctx, id, billing.LookupDeposit, billing.LookupTerms)
    // b.Deposit, b.Terms populated

NOT FOUND:
  Find methods return (nil, nil) when the record does not exist. Callers
  decide which error kind that is.

IMPLEMENTATIONS:
  - billing/store/memory.go: In-memory for testing and -store=memory
  - store/sqlite/sqlite.go: SQLite with goose migrations
  - store/mongo/mongo.go: MongoDB with session transactions

SEE ALSO:
  - service.go: Uses TxStore.WithTx for every operation
*/
package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// Lookup names a sub-object resolved by a Find call.
type Lookup string

const (
	LookupDeposit Lookup = "deposit"
	LookupTerms   Lookup = "terms"
)

// HasLookup reports whether l is among lookups.
func HasLookup(lookups []Lookup, l Lookup) bool {
	for _, x := range lookups {
		if x == l {
			return true
		}
	}
	return false
}

// BillingPatch is a partial update. Nil fields are left unchanged.
type BillingPatch struct {
	PaidAmount   *decimal.Decimal
	RemainingDue *decimal.Decimal
	DepositID    *string
	TermIDs      []string
}

// AmountsPatch builds the patch written after a payment or a reversal.
func AmountsPatch(b Billing) BillingPatch {
	paid, remaining := b.PaidAmount, b.RemainingDue
	return BillingPatch{PaidAmount: &paid, RemainingDue: &remaining}
}

// =============================================================================
// STORE - Billings, terms and deposits
// =============================================================================

type Store interface {
	// FindBilling returns the billing with its requested sub-objects resolved.
	FindBilling(ctx context.Context, id string, lookups ...Lookup) (*Billing, error)

	// FindBillingsByStudent returns the student's billings in creation order.
	FindBillingsByStudent(ctx context.Context, studentID string, lookups ...Lookup) ([]Billing, error)

	CountBillingsByStudent(ctx context.Context, studentID string) (int, error)

	// InsertBilling persists b as given, references included. Deposit and
	// Terms are ignored. An empty ID is assigned by the store.
	InsertBilling(ctx context.Context, b Billing) (Billing, error)

	UpdateBilling(ctx context.Context, id string, patch BillingPatch) error

	// InsertInstallments persists recs and returns them with ids assigned.
	InsertInstallments(ctx context.Context, kind InstallmentKind, recs []Installment) ([]Installment, error)

	// UpdateInstallments writes AmountPaid, RemainingAmount and Status of
	// each record, matched by ID.
	UpdateInstallments(ctx context.Context, kind InstallmentKind, recs []Installment) error

	// LinkInstallments sets the billing reference of the given installments.
	LinkInstallments(ctx context.Context, kind InstallmentKind, ids []string, billingID string) error

	// DeleteBillingsByStudent removes the student's billings and every
	// installment that references one of them.
	DeleteBillingsByStudent(ctx context.Context, studentID string) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// DIRECTORY - Reference data
// =============================================================================

// Directory is the read side of reference data. It also resolves raw payer
// ids for the validator (see PayerResolver).
type Directory interface {
	PayerResolver

	FindStudent(ctx context.Context, id string) (*Student, error)
	FindFinancialSupport(ctx context.Context, id string) (*FinancialSupport, error)
	FindRegistrationProfile(ctx context.Context, id string) (*RegistrationProfile, error)
	FindTerminationOfPayment(ctx context.Context, id string) (*TerminationOfPayment, error)
}

// Catalog adds writes and listings to Directory. Save inserts or replaces
// by ID and assigns an ID when it is empty.
type Catalog interface {
	Directory

	SaveStudent(ctx context.Context, s Student) (Student, error)
	SaveFinancialSupport(ctx context.Context, f FinancialSupport) (FinancialSupport, error)
	SaveRegistrationProfile(ctx context.Context, p RegistrationProfile) (RegistrationProfile, error)
	SaveTerminationOfPayment(ctx context.Context, t TerminationOfPayment) (TerminationOfPayment, error)

	ListStudents(ctx context.Context) ([]Student, error)
	ListFinancialSupports(ctx context.Context, studentID string) ([]FinancialSupport, error)
	ListRegistrationProfiles(ctx context.Context) ([]RegistrationProfile, error)
	ListTerminationOfPayments(ctx context.Context) ([]TerminationOfPayment, error)
}
