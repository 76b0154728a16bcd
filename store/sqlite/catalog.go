package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// CATALOG (billing.Catalog interface)
// =============================================================================

func (s *Store) FindStudent(ctx context.Context, id string) (*billing.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st billing.Student
	err := s.db.QueryRowContext(ctx, `
		SELECT id, civility, first_name, last_name, registration_profile_id
		FROM students WHERE id = ?
	`, id).Scan(&st.ID, &st.Civility, &st.FirstName, &st.LastName, &st.RegistrationProfileID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if st.FinancialSupportIDs, err = s.activeSupportIDs(ctx, st.ID); err != nil {
		return nil, err
	}
	return &st, nil
}

// activeSupportIDs lists the non-deleted sponsors of a student in insertion order.
func (s *Store) activeSupportIDs(ctx context.Context, studentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM financial_supports
		WHERE student_id = ? AND status != ?
		ORDER BY rowid
	`, studentID, string(billing.SupportDeleted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) FindFinancialSupport(ctx context.Context, id string) (*billing.FinancialSupport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var f billing.FinancialSupport
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, student_id, civility, first_name, last_name, status
		FROM financial_supports WHERE id = ?
	`, id).Scan(&f.ID, &f.StudentID, &f.Civility, &f.FirstName, &f.LastName, &status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.Status = billing.SupportStatus(status)
	return &f, nil
}

func (s *Store) FindRegistrationProfile(ctx context.Context, id string) (*billing.RegistrationProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, profileQuery+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	p, err := scanProfile(rows)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) FindTerminationOfPayment(ctx context.Context, id string) (*billing.TerminationOfPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t billing.TerminationOfPayment
	var additional string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, description, termination, additional_cost, status
		FROM termination_of_payments WHERE id = ?
	`, id).Scan(&t.ID, &t.Description, &t.Termination, &additional, &t.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if t.AdditionalCost, err = parseDecimal("additional_cost", additional); err != nil {
		return nil, err
	}
	if t.TermPayments, err = s.termPayments(ctx, t.ID); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) termPayments(ctx context.Context, templateID string) ([]billing.TermPayment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_date, percentage FROM term_payments
		WHERE termination_of_payment_id = ?
		ORDER BY position
	`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []billing.TermPayment
	for rows.Next() {
		var date, pct string
		if err := rows.Scan(&date, &pct); err != nil {
			return nil, err
		}
		t, err := time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("template %s: invalid payment_date %q", templateID, date)
		}
		percentage, err := parseDecimal("percentage", pct)
		if err != nil {
			return nil, err
		}
		result = append(result, billing.TermPayment{PaymentDate: billing.Date{Time: t}, Percentage: percentage})
	}
	return result, rows.Err()
}

// FindPayerType classifies an id as a student or a financial support.
func (s *Store) FindPayerType(ctx context.Context, id string) (billing.PayerType, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM students WHERE id = ?", id).Scan(&n); err != nil {
		return "", false, err
	}
	if n > 0 {
		return billing.PayerStudent, true, nil
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM financial_supports WHERE id = ?", id).Scan(&n); err != nil {
		return "", false, err
	}
	if n > 0 {
		return billing.PayerFinancialSupport, true, nil
	}
	return "", false, nil
}

func (s *Store) SaveStudent(ctx context.Context, st billing.Student) (billing.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	query := `
		INSERT INTO students (id, civility, first_name, last_name, registration_profile_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			civility = excluded.civility,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			registration_profile_id = excluded.registration_profile_id
	`
	_, err := s.db.ExecContext(ctx, query,
		st.ID, st.Civility, st.FirstName, st.LastName, st.RegistrationProfileID,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return billing.Student{}, err
	}

	st.FinancialSupportIDs, err = s.activeSupportIDs(ctx, st.ID)
	return st, err
}

func (s *Store) SaveFinancialSupport(ctx context.Context, f billing.FinancialSupport) (billing.FinancialSupport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Status == "" {
		f.Status = billing.SupportActive
	}
	query := `
		INSERT INTO financial_supports (id, student_id, civility, first_name, last_name, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			student_id = excluded.student_id,
			civility = excluded.civility,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			status = excluded.status
	`
	_, err := s.db.ExecContext(ctx, query,
		f.ID, f.StudentID, f.Civility, f.FirstName, f.LastName, string(f.Status),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return billing.FinancialSupport{}, err
	}
	return f, nil
}

func (s *Store) SaveRegistrationProfile(ctx context.Context, p billing.RegistrationProfile) (billing.RegistrationProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	query := `
		INSERT INTO registration_profiles (id, name, scholarship_fee, registration_fee, deposit, termination_of_payment_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			scholarship_fee = excluded.scholarship_fee,
			registration_fee = excluded.registration_fee,
			deposit = excluded.deposit,
			termination_of_payment_id = excluded.termination_of_payment_id
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Name, p.ScholarshipFee.String(), p.RegistrationFee.String(), p.Deposit.String(),
		p.TerminationOfPaymentID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return billing.RegistrationProfile{}, err
	}
	return p, nil
}

// SaveTerminationOfPayment replaces the template and all of its entries.
func (s *Store) SaveTerminationOfPayment(ctx context.Context, t billing.TerminationOfPayment) (billing.TerminationOfPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return billing.TerminationOfPayment{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	query := `
		INSERT INTO termination_of_payments (id, description, termination, additional_cost, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			termination = excluded.termination,
			additional_cost = excluded.additional_cost,
			status = excluded.status
	`
	_, err = sqlTx.ExecContext(ctx, query,
		t.ID, t.Description, t.Termination, t.AdditionalCost.String(), t.Status,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return billing.TerminationOfPayment{}, err
	}

	if _, err := sqlTx.ExecContext(ctx, "DELETE FROM term_payments WHERE termination_of_payment_id = ?", t.ID); err != nil {
		return billing.TerminationOfPayment{}, err
	}
	for i, tp := range t.TermPayments {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO term_payments (termination_of_payment_id, position, payment_date, percentage)
			VALUES (?, ?, ?, ?)
		`, t.ID, i, tp.PaymentDate.Time.Format(dateLayout), tp.Percentage.String())
		if err != nil {
			return billing.TerminationOfPayment{}, err
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return billing.TerminationOfPayment{}, err
	}
	t.TermPayments = append([]billing.TermPayment(nil), t.TermPayments...)
	return t, nil
}

func (s *Store) ListStudents(ctx context.Context) ([]billing.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, civility, first_name, last_name, registration_profile_id
		FROM students ORDER BY rowid
	`)
	if err != nil {
		return nil, err
	}

	result := make([]billing.Student, 0)
	for rows.Next() {
		var st billing.Student
		if err := rows.Scan(&st.ID, &st.Civility, &st.FirstName, &st.LastName, &st.RegistrationProfileID); err != nil {
			rows.Close()
			return nil, err
		}
		result = append(result, st)
	}
	// The single connection must be released before the follow-up queries.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		if result[i].FinancialSupportIDs, err = s.activeSupportIDs(ctx, result[i].ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// ListFinancialSupports lists the supports of studentID, or all of them when
// studentID is empty.
func (s *Store) ListFinancialSupports(ctx context.Context, studentID string) ([]billing.FinancialSupport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, student_id, civility, first_name, last_name, status FROM financial_supports"
	var args []any
	if studentID != "" {
		query += " WHERE student_id = ?"
		args = append(args, studentID)
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY rowid", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]billing.FinancialSupport, 0)
	for rows.Next() {
		var f billing.FinancialSupport
		var status string
		if err := rows.Scan(&f.ID, &f.StudentID, &f.Civility, &f.FirstName, &f.LastName, &status); err != nil {
			return nil, err
		}
		f.Status = billing.SupportStatus(status)
		result = append(result, f)
	}
	return result, rows.Err()
}

const profileQuery = `
	SELECT id, name, scholarship_fee, registration_fee, deposit, termination_of_payment_id
	FROM registration_profiles`

func scanProfile(rows *sql.Rows) (billing.RegistrationProfile, error) {
	var p billing.RegistrationProfile
	var scholarship, registration, deposit string
	if err := rows.Scan(&p.ID, &p.Name, &scholarship, &registration, &deposit, &p.TerminationOfPaymentID); err != nil {
		return p, err
	}
	var err error
	if p.ScholarshipFee, err = parseDecimal("scholarship_fee", scholarship); err != nil {
		return p, err
	}
	if p.RegistrationFee, err = parseDecimal("registration_fee", registration); err != nil {
		return p, err
	}
	if p.Deposit, err = parseDecimal("deposit", deposit); err != nil {
		return p, err
	}
	return p, nil
}

func (s *Store) ListRegistrationProfiles(ctx context.Context) ([]billing.RegistrationProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, profileQuery+" ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]billing.RegistrationProfile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) ListTerminationOfPayments(ctx context.Context) ([]billing.TerminationOfPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, termination, additional_cost, status
		FROM termination_of_payments ORDER BY rowid
	`)
	if err != nil {
		return nil, err
	}

	result := make([]billing.TerminationOfPayment, 0)
	for rows.Next() {
		var t billing.TerminationOfPayment
		var additional string
		if err := rows.Scan(&t.ID, &t.Description, &t.Termination, &additional, &t.Status); err != nil {
			rows.Close()
			return nil, err
		}
		if t.AdditionalCost, err = parseDecimal("additional_cost", additional); err != nil {
			rows.Close()
			return nil, err
		}
		result = append(result, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		if result[i].TermPayments, err = s.termPayments(ctx, result[i].ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}
