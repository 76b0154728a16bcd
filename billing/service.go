/*
service.go - Billing operations over a TxStore

PURPOSE:
  Exposes the three engine operations (GenerateBilling, AddPayment,
  RemovePayment) plus reads. Each operation is serialised per key and runs
  its reads and writes inside one store transaction.

LOCKING:
  GenerateBilling          student:<id>
  AddPayment/RemovePayment billing:<id>

  Payments on different billings proceed in parallel.

GENERATION FLOW:
  1. Student has no billing yet (CheckIfStudentHasBillingOrNot)
  2. Resolve student -> registration profile -> template, compute Fees
  3. ValidatePayers, ComposeBillings
  4. In one transaction: insert deposit/terms, insert billing with
     references, link installments back to the billing
  5. Verify every installment references its billing. On failure, delete
     what was written; if that also fails, return ErrOrphanRecord

SEE ALSO:
  - compose.go, allocate.go, reverse.go: The pure engines
  - store.go: TxStore contract
*/
package billing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Service struct {
	store  TxStore
	dir    Directory
	locks  *keyedMutex
	logger *slog.Logger
	newID  func() string
}

type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIDGenerator replaces the uuid generator used for new records.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func NewService(store TxStore, dir Directory, opts ...Option) *Service {
	s := &Service{
		store:  store,
		dir:    dir,
		locks:  newKeyedMutex(),
		logger: slog.Default(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateRequest is the input of GenerateBilling.
type GenerateRequest struct {
	StudentID   string
	PaymentType PaymentType
	Payers      []PayerInput
}

// =============================================================================
// GENERATION
// =============================================================================

// GenerateBilling creates the billings of a student. It succeeds at most once
// per student.
func (s *Service) GenerateBilling(ctx context.Context, req GenerateRequest) ([]Billing, error) {
	const op = "GenerateBilling"

	if req.StudentID == "" {
		return nil, newError(op, ErrInvalidIdentifier, "student_id cannot be empty")
	}

	unlock := s.locks.Lock(studentKey(req.StudentID))
	defer unlock()

	if err := s.CheckIfStudentHasBillingOrNot(ctx, req.StudentID); err != nil {
		return nil, err
	}

	composeReq, err := s.prepare(ctx, op, req)
	if err != nil {
		return nil, withOp(op, err)
	}
	billings, err := ComposeBillings(composeReq)
	if err != nil {
		return nil, withOp(op, err)
	}

	var saved []Billing
	err = s.store.WithTx(ctx, func(tx Store) error {
		n, err := tx.CountBillingsByStudent(ctx, req.StudentID)
		if err != nil {
			return err
		}
		if n > 0 {
			return newError(op, ErrDuplicateBilling, "student %s already has %d billing(s)", req.StudentID, n)
		}
		saved, err = s.persist(ctx, tx, billings)
		return err
	})
	if err != nil {
		return nil, persistenceError(op, err)
	}

	if err := s.verifyLinks(ctx, saved); err != nil {
		return nil, s.compensate(ctx, op, req.StudentID, err)
	}

	s.logger.Info("billing generated",
		"student_id", req.StudentID,
		"payment_type", string(req.PaymentType),
		"billings", len(saved),
		"total", composeReq.TotalAmount.StringFixed(2))
	return saved, nil
}

// prepare resolves reference data, computes fees and validates payers.
func (s *Service) prepare(ctx context.Context, op string, req GenerateRequest) (ComposeRequest, error) {
	student, err := s.dir.FindStudent(ctx, req.StudentID)
	if err != nil {
		return ComposeRequest{}, persistenceError(op, err)
	}
	if student == nil {
		return ComposeRequest{}, newError(op, ErrStudentNotFound, "student %s", req.StudentID)
	}

	profile, err := s.dir.FindRegistrationProfile(ctx, student.RegistrationProfileID)
	if err != nil {
		return ComposeRequest{}, persistenceError(op, err)
	}
	if profile == nil {
		return ComposeRequest{}, newError(op, ErrReferenceNotFound,
			"registration profile %q of student %s", student.RegistrationProfileID, student.ID)
	}

	template, err := s.dir.FindTerminationOfPayment(ctx, profile.TerminationOfPaymentID)
	if err != nil {
		return ComposeRequest{}, persistenceError(op, err)
	}
	if template == nil {
		return ComposeRequest{}, newError(op, ErrReferenceNotFound,
			"termination of payment %q of registration profile %s", profile.TerminationOfPaymentID, profile.ID)
	}

	fees, err := profile.Fees(*template)
	if err != nil {
		return ComposeRequest{}, err
	}

	payers, err := ValidatePayers(ctx, s.dir, req.Payers, req.PaymentType, *student)
	if err != nil {
		return ComposeRequest{}, err
	}

	return ComposeRequest{
		StudentID:             student.ID,
		RegistrationProfileID: profile.ID,
		Payers:                payers,
		TermPayments:          template.TermPayments,
		TotalAmount:           fees.Total,
		TermAmount:            fees.Term,
		DepositAmount:         fees.Deposit,
	}, nil
}

// persist writes installments first, then the billing carrying their ids,
// then links each installment back to the billing.
func (s *Service) persist(ctx context.Context, tx Store, billings []Billing) ([]Billing, error) {
	out := make([]Billing, 0, len(billings))
	for _, b := range billings {
		b = b.Clone()
		b.ID = s.newID()

		if b.Deposit != nil {
			b.Deposit.ID = s.newID()
			recs, err := tx.InsertInstallments(ctx, KindDeposit, []Installment{*b.Deposit})
			if err != nil {
				return nil, err
			}
			b.Deposit = &recs[0]
			b.DepositID = recs[0].ID
		}

		if len(b.Terms) > 0 {
			for i := range b.Terms {
				b.Terms[i].ID = s.newID()
			}
			recs, err := tx.InsertInstallments(ctx, KindTerm, b.Terms)
			if err != nil {
				return nil, err
			}
			b.Terms = recs
			b.TermIDs = make([]string, len(recs))
			for i, r := range recs {
				b.TermIDs[i] = r.ID
			}
		}

		if _, err := tx.InsertBilling(ctx, b); err != nil {
			return nil, err
		}

		if b.Deposit != nil {
			if err := tx.LinkInstallments(ctx, KindDeposit, []string{b.DepositID}, b.ID); err != nil {
				return nil, err
			}
			b.Deposit.BillingID = b.ID
		}
		if len(b.TermIDs) > 0 {
			if err := tx.LinkInstallments(ctx, KindTerm, b.TermIDs, b.ID); err != nil {
				return nil, err
			}
			for i := range b.Terms {
				b.Terms[i].BillingID = b.ID
			}
		}
		out = append(out, b)
	}
	return out, nil
}

// verifyLinks reloads each billing and checks that its deposit and terms
// resolve and point back at it.
func (s *Service) verifyLinks(ctx context.Context, billings []Billing) error {
	for _, want := range billings {
		got, err := s.store.FindBilling(ctx, want.ID, LookupDeposit, LookupTerms)
		if err != nil {
			return err
		}
		if got == nil {
			return fmt.Errorf("billing %s was not persisted", want.ID)
		}
		if want.Deposit != nil {
			if got.Deposit == nil || got.Deposit.BillingID != got.ID {
				return fmt.Errorf("deposit %s is not linked to billing %s", want.DepositID, want.ID)
			}
		}
		if len(got.Terms) != len(want.Terms) {
			return fmt.Errorf("billing %s resolves %d of %d terms", want.ID, len(got.Terms), len(want.Terms))
		}
		for _, t := range got.Terms {
			if t.BillingID != got.ID {
				return fmt.Errorf("term %s is not linked to billing %s", t.ID, want.ID)
			}
		}
	}
	return nil
}

// compensate deletes a half-linked generation. The returned error is
// ErrPersistence when the cleanup worked and ErrOrphanRecord when it did not.
func (s *Service) compensate(ctx context.Context, op, studentID string, cause error) error {
	if err := s.store.DeleteBillingsByStudent(ctx, studentID); err != nil {
		s.logger.Error("billing compensation failed",
			"student_id", studentID, "cause", cause, "error", err)
		return wrapError(op, ErrOrphanRecord, err,
			"link-back failed (%v) and written records of student %s could not be removed", cause, studentID)
	}
	s.logger.Warn("billing generation rolled back", "student_id", studentID, "cause", cause)
	return wrapError(op, ErrPersistence, cause, "link-back verification failed, written records were removed")
}

// =============================================================================
// PAYMENTS
// =============================================================================

// AddPayment applies amount to the billing and returns it updated.
func (s *Service) AddPayment(ctx context.Context, billingID string, amount decimal.Decimal) (Billing, error) {
	const op = "AddPayment"

	if billingID == "" {
		return Billing{}, newError(op, ErrInvalidIdentifier, "billing_id cannot be empty")
	}
	if err := validatePaymentAmount(op, amount); err != nil {
		return Billing{}, err
	}

	unlock := s.locks.Lock(billingKey(billingID))
	defer unlock()

	var result PaymentResult
	err := s.store.WithTx(ctx, func(tx Store) error {
		b, err := loadBilling(ctx, tx, op, billingID)
		if err != nil {
			return err
		}

		var depositBilling *Billing
		if !b.HasDeposit() {
			depositBilling, err = FindStudentDepositBilling(ctx, tx, b.StudentID)
			if err != nil {
				return err
			}
		}

		result, err = ApplyPayment(*b, amount, depositBilling)
		if err != nil {
			return err
		}
		return saveResult(ctx, tx, result)
	})
	if err != nil {
		return Billing{}, persistenceError(op, err)
	}

	if result.Dropped.IsPositive() {
		s.logger.Warn("payment remainder dropped",
			"billing_id", billingID, "dropped", result.Dropped.StringFixed(2))
	}
	s.logger.Info("payment applied",
		"billing_id", billingID,
		"student_id", result.Billing.StudentID,
		"amount", amount.StringFixed(2),
		"remaining_due", result.Billing.RemainingDue.StringFixed(2))
	return result.Billing, nil
}

// RemovePayment takes amount back from the billing's terms.
func (s *Service) RemovePayment(ctx context.Context, billingID string, amount decimal.Decimal) (Billing, error) {
	const op = "RemovePayment"

	if billingID == "" {
		return Billing{}, newError(op, ErrInvalidIdentifier, "billing_id cannot be empty")
	}
	if err := validatePaymentAmount(op, amount); err != nil {
		return Billing{}, err
	}

	unlock := s.locks.Lock(billingKey(billingID))
	defer unlock()

	var result PaymentResult
	err := s.store.WithTx(ctx, func(tx Store) error {
		b, err := loadBilling(ctx, tx, op, billingID)
		if err != nil {
			return err
		}
		result, err = RemovePayment(*b, amount)
		if err != nil {
			return err
		}
		return saveResult(ctx, tx, result)
	})
	if err != nil {
		return Billing{}, persistenceError(op, err)
	}

	s.logger.Info("payment removed",
		"billing_id", billingID,
		"student_id", result.Billing.StudentID,
		"amount", amount.StringFixed(2),
		"remaining_due", result.Billing.RemainingDue.StringFixed(2))
	return result.Billing, nil
}

func loadBilling(ctx context.Context, st Store, op, id string) (*Billing, error) {
	b, err := st.FindBilling(ctx, id, LookupDeposit, LookupTerms)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, newError(op, ErrBillingNotFound, "billing %s", id)
	}
	return b, nil
}

func saveResult(ctx context.Context, tx Store, r PaymentResult) error {
	if r.Deposit != nil {
		if err := tx.UpdateInstallments(ctx, KindDeposit, []Installment{*r.Deposit}); err != nil {
			return err
		}
	}
	if len(r.Terms) > 0 {
		if err := tx.UpdateInstallments(ctx, KindTerm, r.Terms); err != nil {
			return err
		}
	}
	return tx.UpdateBilling(ctx, r.Billing.ID, AmountsPatch(r.Billing))
}

// =============================================================================
// READS
// =============================================================================

// GetBilling returns the billing with its deposit and terms.
func (s *Service) GetBilling(ctx context.Context, id string) (Billing, error) {
	const op = "GetBilling"
	b, err := loadBilling(ctx, s.store, op, id)
	if err != nil {
		return Billing{}, persistenceError(op, err)
	}
	return *b, nil
}

// ListBillingsByStudent returns the student's billings with deposits and terms.
func (s *Service) ListBillingsByStudent(ctx context.Context, studentID string) ([]Billing, error) {
	const op = "ListBillingsByStudent"
	bs, err := s.store.FindBillingsByStudent(ctx, studentID, LookupDeposit, LookupTerms)
	if err != nil {
		return nil, persistenceError(op, err)
	}
	return bs, nil
}

// CheckIfStudentHasBillingOrNot fails with ErrDuplicateBilling when the
// student already has any billing.
func (s *Service) CheckIfStudentHasBillingOrNot(ctx context.Context, studentID string) error {
	const op = "CheckIfStudentHasBillingOrNot"
	n, err := s.store.CountBillingsByStudent(ctx, studentID)
	if err != nil {
		return persistenceError(op, err)
	}
	if n > 0 {
		return newError(op, ErrDuplicateBilling, "student %s already has %d billing(s)", studentID, n)
	}
	return nil
}

// FindStudentDepositBilling returns the single billing of the student that
// owns a deposit, resolved with its deposit. It returns (nil, nil) when the
// student has no such billing or, inconsistently, more than one.
func FindStudentDepositBilling(ctx context.Context, st Store, studentID string) (*Billing, error) {
	bs, err := st.FindBillingsByStudent(ctx, studentID, LookupDeposit)
	if err != nil {
		return nil, err
	}
	var found *Billing
	for i := range bs {
		if !bs[i].HasDeposit() {
			continue
		}
		if found != nil {
			return nil, nil
		}
		found = &bs[i]
	}
	return found, nil
}
