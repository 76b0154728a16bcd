/*
Package sqlite provides a SQLite-backed implementation of the billing storage
interfaces.

PURPOSE:
  Implements billing.TxStore and billing.Catalog using SQLite. Money is
  stored as TEXT (decimal.Decimal.String()) so no value ever goes through a
  float.

INTERFACES IMPLEMENTED:
  billing.TxStore: Billings, terms, deposits with transactions
  billing.Catalog: Students, financial supports, registration profiles,
                   termination-of-payment templates

KEY TABLES:
  billings:                One row per (student, payer); term ids as JSON
  terms, deposits:         Installments; billing_id set by the link-back step
  students:                Student records
  financial_supports:      Sponsors, linked to a student
  registration_profiles:   Fees + template reference
  termination_of_payments: Templates, entries in term_payments

MIGRATIONS:
  Versioned SQL files in migrations/, embedded in the binary and applied
  with goose on New().

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so a
  transaction and ":memory:" databases always see the same data.

USAGE:
  store, err := sqlite.New("./billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := billing.NewService(store, store)

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
)

//go:embed migrations/*.sql
var migrations embed.FS

// dateLayout keeps stored dates sortable as text.
const dateLayout = "2006-01-02"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies every pending migration.
func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// BILLING STORE (billing.Store interface)
// =============================================================================

func (s *Store) FindBilling(ctx context.Context, id string, lookups ...billing.Lookup) (*billing.Billing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findBilling(ctx, s.db, id, lookups)
}

func (s *Store) FindBillingsByStudent(ctx context.Context, studentID string, lookups ...billing.Lookup) ([]billing.Billing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findBillingsByStudent(ctx, s.db, studentID, lookups)
}

func (s *Store) CountBillingsByStudent(ctx context.Context, studentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countBillingsByStudent(ctx, s.db, studentID)
}

func (s *Store) InsertBilling(ctx context.Context, b billing.Billing) (billing.Billing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertBilling(ctx, s.db, b)
}

func (s *Store) UpdateBilling(ctx context.Context, id string, patch billing.BillingPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateBilling(ctx, s.db, id, patch)
}

func (s *Store) InsertInstallments(ctx context.Context, kind billing.InstallmentKind, recs []billing.Installment) ([]billing.Installment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertInstallments(ctx, s.db, kind, recs)
}

func (s *Store) UpdateInstallments(ctx context.Context, kind billing.InstallmentKind, recs []billing.Installment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateInstallments(ctx, s.db, kind, recs)
}

func (s *Store) LinkInstallments(ctx context.Context, kind billing.InstallmentKind, ids []string, billingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return linkInstallments(ctx, s.db, kind, ids, billingID)
}

// DeleteBillingsByStudent runs in its own transaction.
func (s *Store) DeleteBillingsByStudent(ctx context.Context, studentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := deleteBillingsByStudent(ctx, sqlTx, studentID); err != nil {
		return err
	}
	return sqlTx.Commit()
}

const billingColumns = `id, student_id, registration_profile_id, payer_id, payer_type,
	total_amount, paid_amount, remaining_due, deposit_id, term_ids_json`

func findBilling(ctx context.Context, q querier, id string, lookups []billing.Lookup) (*billing.Billing, error) {
	bs, err := queryBillings(ctx, q, "SELECT "+billingColumns+" FROM billings WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(bs) == 0 {
		return nil, nil
	}
	if err := resolve(ctx, q, &bs[0], lookups); err != nil {
		return nil, err
	}
	return &bs[0], nil
}

func findBillingsByStudent(ctx context.Context, q querier, studentID string, lookups []billing.Lookup) ([]billing.Billing, error) {
	bs, err := queryBillings(ctx, q,
		"SELECT "+billingColumns+" FROM billings WHERE student_id = ? ORDER BY rowid", studentID)
	if err != nil {
		return nil, err
	}
	for i := range bs {
		if err := resolve(ctx, q, &bs[i], lookups); err != nil {
			return nil, err
		}
	}
	return bs, nil
}

func countBillingsByStudent(ctx context.Context, q querier, studentID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM billings WHERE student_id = ?", studentID).Scan(&n)
	return n, err
}

func queryBillings(ctx context.Context, q querier, query string, args ...any) ([]billing.Billing, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []billing.Billing
	for rows.Next() {
		b, err := scanBilling(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func scanBilling(rows *sql.Rows) (billing.Billing, error) {
	var b billing.Billing
	var payerType, total, paid, remaining, termIDs string
	var depositID sql.NullString

	if err := rows.Scan(&b.ID, &b.StudentID, &b.RegistrationProfileID, &b.PayerID, &payerType,
		&total, &paid, &remaining, &depositID, &termIDs); err != nil {
		return b, err
	}

	b.PayerType = billing.PayerType(payerType)
	b.DepositID = depositID.String

	var err error
	if b.TotalAmount, err = parseDecimal("total_amount", total); err != nil {
		return b, err
	}
	if b.PaidAmount, err = parseDecimal("paid_amount", paid); err != nil {
		return b, err
	}
	if b.RemainingDue, err = parseDecimal("remaining_due", remaining); err != nil {
		return b, err
	}
	if err := json.Unmarshal([]byte(termIDs), &b.TermIDs); err != nil {
		return b, fmt.Errorf("billing %s: invalid term_ids_json: %w", b.ID, err)
	}
	return b, nil
}

// resolve fills Deposit and Terms from the billing's references.
func resolve(ctx context.Context, q querier, b *billing.Billing, lookups []billing.Lookup) error {
	if billing.HasLookup(lookups, billing.LookupDeposit) && b.DepositID != "" {
		deps, err := installmentsByID(ctx, q, billing.KindDeposit, []string{b.DepositID})
		if err != nil {
			return err
		}
		if len(deps) == 1 {
			b.Deposit = &deps[0]
		}
	}
	if billing.HasLookup(lookups, billing.LookupTerms) && len(b.TermIDs) > 0 {
		terms, err := installmentsByID(ctx, q, billing.KindTerm, b.TermIDs)
		if err != nil {
			return err
		}
		b.Terms = terms
	}
	return nil
}

func insertBilling(ctx context.Context, q querier, b billing.Billing) (billing.Billing, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	termIDs := b.TermIDs
	if termIDs == nil {
		termIDs = []string{}
	}
	termIDsJSON, err := json.Marshal(termIDs)
	if err != nil {
		return billing.Billing{}, err
	}

	query := `
		INSERT INTO billings (` + billingColumns + `, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		b.ID, b.StudentID, b.RegistrationProfileID, b.PayerID, string(b.PayerType),
		b.TotalAmount.String(), b.PaidAmount.String(), b.RemainingDue.String(),
		nullString(b.DepositID), string(termIDsJSON),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return billing.Billing{}, err
	}
	out := b.Clone()
	out.Deposit = nil
	out.Terms = nil
	return out, nil
}

func updateBilling(ctx context.Context, q querier, id string, patch billing.BillingPatch) error {
	var sets []string
	var args []any
	if patch.PaidAmount != nil {
		sets = append(sets, "paid_amount = ?")
		args = append(args, patch.PaidAmount.String())
	}
	if patch.RemainingDue != nil {
		sets = append(sets, "remaining_due = ?")
		args = append(args, patch.RemainingDue.String())
	}
	if patch.DepositID != nil {
		sets = append(sets, "deposit_id = ?")
		args = append(args, nullString(*patch.DepositID))
	}
	if patch.TermIDs != nil {
		data, err := json.Marshal(patch.TermIDs)
		if err != nil {
			return err
		}
		sets = append(sets, "term_ids_json = ?")
		args = append(args, string(data))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := q.ExecContext(ctx, "UPDATE billings SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	return expectRows(res, 1, "billing "+id)
}

func deleteBillingsByStudent(ctx context.Context, q querier, studentID string) error {
	bs, err := findBillingsByStudent(ctx, q, studentID, nil)
	if err != nil {
		return err
	}
	for _, b := range bs {
		if _, err := q.ExecContext(ctx, "DELETE FROM deposits WHERE billing_id = ? OR id = ?", b.ID, b.DepositID); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM terms WHERE billing_id = ?", b.ID); err != nil {
			return err
		}
		for _, id := range b.TermIDs {
			if _, err := q.ExecContext(ctx, "DELETE FROM terms WHERE id = ?", id); err != nil {
				return err
			}
		}
	}
	_, err = q.ExecContext(ctx, "DELETE FROM billings WHERE student_id = ?", studentID)
	return err
}

// =============================================================================
// INSTALLMENTS - terms and deposits share one shape
// =============================================================================

func installmentTable(kind billing.InstallmentKind) (string, error) {
	switch kind {
	case billing.KindTerm:
		return "terms", nil
	case billing.KindDeposit:
		return "deposits", nil
	}
	return "", fmt.Errorf("unknown installment kind %q", kind)
}

func insertInstallments(ctx context.Context, q querier, kind billing.InstallmentKind, recs []billing.Installment) ([]billing.Installment, error) {
	table, err := installmentTable(kind)
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO ` + table + ` (id, billing_id, payment_date, amount, amount_paid, remaining_amount, payment_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC().Format(time.RFC3339)

	out := make([]billing.Installment, len(recs))
	for i, r := range recs {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		_, err := q.ExecContext(ctx, query,
			r.ID, nullString(r.BillingID), r.Date.Time.Format(dateLayout),
			r.Amount.String(), r.AmountPaid.String(), r.RemainingAmount.String(), string(r.Status),
			now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert %s %s: %w", kind, r.ID, err)
		}
		out[i] = r
	}
	return out, nil
}

func updateInstallments(ctx context.Context, q querier, kind billing.InstallmentKind, recs []billing.Installment) error {
	table, err := installmentTable(kind)
	if err != nil {
		return err
	}
	query := "UPDATE " + table + " SET amount_paid = ?, remaining_amount = ?, payment_status = ? WHERE id = ?"
	for _, r := range recs {
		res, err := q.ExecContext(ctx, query,
			r.AmountPaid.String(), r.RemainingAmount.String(), string(r.Status), r.ID)
		if err != nil {
			return err
		}
		if err := expectRows(res, 1, string(kind)+" "+r.ID); err != nil {
			return err
		}
	}
	return nil
}

func linkInstallments(ctx context.Context, q querier, kind billing.InstallmentKind, ids []string, billingID string) error {
	table, err := installmentTable(kind)
	if err != nil {
		return err
	}
	for _, id := range ids {
		res, err := q.ExecContext(ctx, "UPDATE "+table+" SET billing_id = ? WHERE id = ?", billingID, id)
		if err != nil {
			return err
		}
		if err := expectRows(res, 1, string(kind)+" "+id); err != nil {
			return err
		}
	}
	return nil
}

// installmentsByID returns the installments in the order of ids, skipping
// ids that do not exist.
func installmentsByID(ctx context.Context, q querier, kind billing.InstallmentKind, ids []string) ([]billing.Installment, error) {
	table, err := installmentTable(kind)
	if err != nil {
		return nil, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, billing_id, payment_date, amount, amount_paid, remaining_amount, payment_status
		FROM `+table+` WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]billing.Installment, len(ids))
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		found[inst.ID] = inst
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]billing.Installment, 0, len(ids))
	for _, id := range ids {
		if inst, ok := found[id]; ok {
			result = append(result, inst)
		}
	}
	return result, nil
}

func scanInstallment(rows *sql.Rows) (billing.Installment, error) {
	var inst billing.Installment
	var billingID sql.NullString
	var date, amount, paid, remaining, status string

	if err := rows.Scan(&inst.ID, &billingID, &date, &amount, &paid, &remaining, &status); err != nil {
		return inst, err
	}
	inst.BillingID = billingID.String
	inst.Status = billing.PaymentStatus(status)

	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return inst, fmt.Errorf("installment %s: invalid payment_date %q", inst.ID, date)
	}
	inst.Date = billing.Date{Time: t}

	if inst.Amount, err = parseDecimal("amount", amount); err != nil {
		return inst, err
	}
	if inst.AmountPaid, err = parseDecimal("amount_paid", paid); err != nil {
		return inst, err
	}
	if inst.RemainingAmount, err = parseDecimal("remaining_amount", remaining); err != nil {
		return inst, err
	}
	return inst, nil
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every call through the open transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) FindBilling(ctx context.Context, id string, lookups ...billing.Lookup) (*billing.Billing, error) {
	return findBilling(ctx, ts.tx, id, lookups)
}

func (ts *txStore) FindBillingsByStudent(ctx context.Context, studentID string, lookups ...billing.Lookup) ([]billing.Billing, error) {
	return findBillingsByStudent(ctx, ts.tx, studentID, lookups)
}

func (ts *txStore) CountBillingsByStudent(ctx context.Context, studentID string) (int, error) {
	return countBillingsByStudent(ctx, ts.tx, studentID)
}

func (ts *txStore) InsertBilling(ctx context.Context, b billing.Billing) (billing.Billing, error) {
	return insertBilling(ctx, ts.tx, b)
}

func (ts *txStore) UpdateBilling(ctx context.Context, id string, patch billing.BillingPatch) error {
	return updateBilling(ctx, ts.tx, id, patch)
}

func (ts *txStore) InsertInstallments(ctx context.Context, kind billing.InstallmentKind, recs []billing.Installment) ([]billing.Installment, error) {
	return insertInstallments(ctx, ts.tx, kind, recs)
}

func (ts *txStore) UpdateInstallments(ctx context.Context, kind billing.InstallmentKind, recs []billing.Installment) error {
	return updateInstallments(ctx, ts.tx, kind, recs)
}

func (ts *txStore) LinkInstallments(ctx context.Context, kind billing.InstallmentKind, ids []string, billingID string) error {
	return linkInstallments(ctx, ts.tx, kind, ids, billingID)
}

func (ts *txStore) DeleteBillingsByStudent(ctx context.Context, studentID string) error {
	return deleteBillingsByStudent(ctx, ts.tx, studentID)
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// Reset deletes all data (for demo/testing).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"terms", "deposits", "billings",
		"financial_supports", "students",
		"registration_profiles", "term_payments", "termination_of_payments",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(column, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", column, value, err)
	}
	return d, nil
}

func expectRows(res sql.Result, want int64, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != want {
		return fmt.Errorf("%s not found", what)
	}
	return nil
}
