// Package store provides in-memory implementations of billing.TxStore and
// billing.Catalog.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	data
}

// data is everything a transaction snapshot must capture.
type data struct {
	billings     map[string]billing.Billing
	billingOrder []string
	installments map[billing.InstallmentKind]map[string]billing.Installment

	students      map[string]billing.Student
	studentOrder  []string
	supports      map[string]billing.FinancialSupport
	supportOrder  []string
	profiles      map[string]billing.RegistrationProfile
	profileOrder  []string
	templates     map[string]billing.TerminationOfPayment
	templateOrder []string
}

func newData() data {
	return data{
		billings: make(map[string]billing.Billing),
		installments: map[billing.InstallmentKind]map[string]billing.Installment{
			billing.KindTerm:    {},
			billing.KindDeposit: {},
		},
		students:  make(map[string]billing.Student),
		supports:  make(map[string]billing.FinancialSupport),
		profiles:  make(map[string]billing.RegistrationProfile),
		templates: make(map[string]billing.TerminationOfPayment),
	}
}

func NewMemory() *Memory {
	return &Memory{data: newData()}
}

// Reset deletes all data (for demo/testing).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newData()
	return nil
}

// =============================================================================
// BILLINGS
// =============================================================================

func (m *Memory) FindBilling(_ context.Context, id string, lookups ...billing.Lookup) (*billing.Billing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findBilling(id, lookups), nil
}

func (m *Memory) FindBillingsByStudent(_ context.Context, studentID string, lookups ...billing.Lookup) ([]billing.Billing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.billingsByStudent(studentID, lookups), nil
}

func (m *Memory) CountBillingsByStudent(_ context.Context, studentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.billingsByStudent(studentID, nil)), nil
}

func (m *Memory) InsertBilling(_ context.Context, b billing.Billing) (billing.Billing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertBilling(b)
}

func (m *Memory) UpdateBilling(_ context.Context, id string, patch billing.BillingPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBilling(id, patch)
}

func (m *Memory) InsertInstallments(_ context.Context, kind billing.InstallmentKind, recs []billing.Installment) ([]billing.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertInstallments(kind, recs)
}

func (m *Memory) UpdateInstallments(_ context.Context, kind billing.InstallmentKind, recs []billing.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateInstallments(kind, recs)
}

func (m *Memory) LinkInstallments(_ context.Context, kind billing.InstallmentKind, ids []string, billingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.linkInstallments(kind, ids, billingID)
}

func (m *Memory) DeleteBillingsByStudent(_ context.Context, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteBillingsByStudent(studentID)
	return nil
}

// ----- unlocked internals, shared with the transactional view -----

func (d *data) findBilling(id string, lookups []billing.Lookup) *billing.Billing {
	b, ok := d.billings[id]
	if !ok {
		return nil
	}
	out := d.resolve(b, lookups)
	return &out
}

func (d *data) billingsByStudent(studentID string, lookups []billing.Lookup) []billing.Billing {
	var result []billing.Billing
	for _, id := range d.billingOrder {
		b := d.billings[id]
		if b.StudentID == studentID {
			result = append(result, d.resolve(b, lookups))
		}
	}
	return result
}

func (d *data) resolve(b billing.Billing, lookups []billing.Lookup) billing.Billing {
	out := b.Clone()
	if billing.HasLookup(lookups, billing.LookupDeposit) && b.DepositID != "" {
		if dep, ok := d.installments[billing.KindDeposit][b.DepositID]; ok {
			out.Deposit = &dep
		}
	}
	if billing.HasLookup(lookups, billing.LookupTerms) {
		for _, id := range b.TermIDs {
			if t, ok := d.installments[billing.KindTerm][id]; ok {
				out.Terms = append(out.Terms, t)
			}
		}
	}
	return out
}

func (d *data) insertBilling(b billing.Billing) (billing.Billing, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if _, exists := d.billings[b.ID]; exists {
		return billing.Billing{}, fmt.Errorf("billing %s already exists", b.ID)
	}
	stored := b.Clone()
	stored.Deposit = nil
	stored.Terms = nil
	d.billings[b.ID] = stored
	d.billingOrder = append(d.billingOrder, b.ID)
	return stored, nil
}

func (d *data) updateBilling(id string, patch billing.BillingPatch) error {
	b, ok := d.billings[id]
	if !ok {
		return fmt.Errorf("billing %s not found", id)
	}
	if patch.PaidAmount != nil {
		b.PaidAmount = *patch.PaidAmount
	}
	if patch.RemainingDue != nil {
		b.RemainingDue = *patch.RemainingDue
	}
	if patch.DepositID != nil {
		b.DepositID = *patch.DepositID
	}
	if patch.TermIDs != nil {
		b.TermIDs = append([]string(nil), patch.TermIDs...)
	}
	d.billings[id] = b
	return nil
}

func (d *data) insertInstallments(kind billing.InstallmentKind, recs []billing.Installment) ([]billing.Installment, error) {
	table, ok := d.installments[kind]
	if !ok {
		return nil, fmt.Errorf("unknown installment kind %q", kind)
	}
	out := make([]billing.Installment, len(recs))
	for i, r := range recs {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if _, exists := table[r.ID]; exists {
			return nil, fmt.Errorf("%s %s already exists", kind, r.ID)
		}
		table[r.ID] = r
		out[i] = r
	}
	return out, nil
}

func (d *data) updateInstallments(kind billing.InstallmentKind, recs []billing.Installment) error {
	table, ok := d.installments[kind]
	if !ok {
		return fmt.Errorf("unknown installment kind %q", kind)
	}
	for _, r := range recs {
		cur, ok := table[r.ID]
		if !ok {
			return fmt.Errorf("%s %s not found", kind, r.ID)
		}
		cur.AmountPaid = r.AmountPaid
		cur.RemainingAmount = r.RemainingAmount
		cur.Status = r.Status
		table[r.ID] = cur
	}
	return nil
}

func (d *data) linkInstallments(kind billing.InstallmentKind, ids []string, billingID string) error {
	table, ok := d.installments[kind]
	if !ok {
		return fmt.Errorf("unknown installment kind %q", kind)
	}
	for _, id := range ids {
		cur, ok := table[id]
		if !ok {
			return fmt.Errorf("%s %s not found", kind, id)
		}
		cur.BillingID = billingID
		table[id] = cur
	}
	return nil
}

func (d *data) deleteBillingsByStudent(studentID string) {
	removed := make(map[string]bool)
	kept := d.billingOrder[:0:0]
	for _, id := range d.billingOrder {
		b := d.billings[id]
		if b.StudentID != studentID {
			kept = append(kept, id)
			continue
		}
		removed[id] = true
		delete(d.installments[billing.KindDeposit], b.DepositID)
		for _, tid := range b.TermIDs {
			delete(d.installments[billing.KindTerm], tid)
		}
		delete(d.billings, id)
	}
	d.billingOrder = kept

	for _, table := range d.installments {
		for id, inst := range table {
			if removed[inst.BillingID] {
				delete(table, id)
			}
		}
	}
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (m *Memory) FindStudent(_ context.Context, id string) (*billing.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return nil, nil
	}
	s = m.withSupports(s)
	return &s, nil
}

func (m *Memory) FindFinancialSupport(_ context.Context, id string) (*billing.FinancialSupport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.supports[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (m *Memory) FindRegistrationProfile(_ context.Context, id string) (*billing.RegistrationProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) FindTerminationOfPayment(_ context.Context, id string) (*billing.TerminationOfPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, nil
	}
	t.TermPayments = append([]billing.TermPayment(nil), t.TermPayments...)
	return &t, nil
}

// FindPayerType classifies an id as a student or a financial support.
func (m *Memory) FindPayerType(_ context.Context, id string) (billing.PayerType, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.students[id]; ok {
		return billing.PayerStudent, true, nil
	}
	if _, ok := m.supports[id]; ok {
		return billing.PayerFinancialSupport, true, nil
	}
	return "", false, nil
}

func (m *Memory) SaveStudent(_ context.Context, s billing.Student) (billing.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, exists := m.students[s.ID]; !exists {
		m.studentOrder = append(m.studentOrder, s.ID)
	}
	s.FinancialSupportIDs = nil
	m.students[s.ID] = s
	return m.withSupports(s), nil
}

func (m *Memory) SaveFinancialSupport(_ context.Context, f billing.FinancialSupport) (billing.FinancialSupport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Status == "" {
		f.Status = billing.SupportActive
	}
	if _, exists := m.supports[f.ID]; !exists {
		m.supportOrder = append(m.supportOrder, f.ID)
	}
	m.supports[f.ID] = f
	return f, nil
}

func (m *Memory) SaveRegistrationProfile(_ context.Context, p billing.RegistrationProfile) (billing.RegistrationProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, exists := m.profiles[p.ID]; !exists {
		m.profileOrder = append(m.profileOrder, p.ID)
	}
	m.profiles[p.ID] = p
	return p, nil
}

func (m *Memory) SaveTerminationOfPayment(_ context.Context, t billing.TerminationOfPayment) (billing.TerminationOfPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, exists := m.templates[t.ID]; !exists {
		m.templateOrder = append(m.templateOrder, t.ID)
	}
	t.TermPayments = append([]billing.TermPayment(nil), t.TermPayments...)
	m.templates[t.ID] = t
	return t, nil
}

func (m *Memory) ListStudents(_ context.Context) ([]billing.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]billing.Student, 0, len(m.studentOrder))
	for _, id := range m.studentOrder {
		result = append(result, m.withSupports(m.students[id]))
	}
	return result, nil
}

// ListFinancialSupports lists the supports of studentID, or all of them when
// studentID is empty.
func (m *Memory) ListFinancialSupports(_ context.Context, studentID string) ([]billing.FinancialSupport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]billing.FinancialSupport, 0)
	for _, id := range m.supportOrder {
		f := m.supports[id]
		if studentID == "" || f.StudentID == studentID {
			result = append(result, f)
		}
	}
	return result, nil
}

func (m *Memory) ListRegistrationProfiles(_ context.Context) ([]billing.RegistrationProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]billing.RegistrationProfile, 0, len(m.profileOrder))
	for _, id := range m.profileOrder {
		result = append(result, m.profiles[id])
	}
	return result, nil
}

func (m *Memory) ListTerminationOfPayments(_ context.Context) ([]billing.TerminationOfPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]billing.TerminationOfPayment, 0, len(m.templateOrder))
	for _, id := range m.templateOrder {
		result = append(result, m.templates[id])
	}
	return result, nil
}

// withSupports fills FinancialSupportIDs from the active supports of s.
func (d *data) withSupports(s billing.Student) billing.Student {
	s.FinancialSupportIDs = nil
	for _, id := range d.supportOrder {
		f := d.supports[id]
		if f.StudentID == s.ID && f.Status != billing.SupportDeleted {
			s.FinancialSupportIDs = append(s.FinancialSupportIDs, f.ID)
		}
	}
	return s
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(billing.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.data.clone()
	if err := fn(&txMemoryView{d: &tm.data}); err != nil {
		tm.data = snapshot
		return err
	}
	return nil
}

func (d *data) clone() data {
	out := newData()
	for k, v := range d.billings {
		out.billings[k] = v.Clone()
	}
	out.billingOrder = append([]string(nil), d.billingOrder...)
	for kind, table := range d.installments {
		for k, v := range table {
			out.installments[kind][k] = v
		}
	}
	// Reference data cannot change while WithTx holds the lock.
	out.students, out.studentOrder = d.students, d.studentOrder
	out.supports, out.supportOrder = d.supports, d.supportOrder
	out.profiles, out.profileOrder = d.profiles, d.profileOrder
	out.templates, out.templateOrder = d.templates, d.templateOrder
	return out
}

// txMemoryView runs against the parent's data while WithTx holds its lock.
type txMemoryView struct {
	d *data
}

func (tv *txMemoryView) FindBilling(_ context.Context, id string, lookups ...billing.Lookup) (*billing.Billing, error) {
	return tv.d.findBilling(id, lookups), nil
}

func (tv *txMemoryView) FindBillingsByStudent(_ context.Context, studentID string, lookups ...billing.Lookup) ([]billing.Billing, error) {
	return tv.d.billingsByStudent(studentID, lookups), nil
}

func (tv *txMemoryView) CountBillingsByStudent(_ context.Context, studentID string) (int, error) {
	return len(tv.d.billingsByStudent(studentID, nil)), nil
}

func (tv *txMemoryView) InsertBilling(_ context.Context, b billing.Billing) (billing.Billing, error) {
	return tv.d.insertBilling(b)
}

func (tv *txMemoryView) UpdateBilling(_ context.Context, id string, patch billing.BillingPatch) error {
	return tv.d.updateBilling(id, patch)
}

func (tv *txMemoryView) InsertInstallments(_ context.Context, kind billing.InstallmentKind, recs []billing.Installment) ([]billing.Installment, error) {
	return tv.d.insertInstallments(kind, recs)
}

func (tv *txMemoryView) UpdateInstallments(_ context.Context, kind billing.InstallmentKind, recs []billing.Installment) error {
	return tv.d.updateInstallments(kind, recs)
}

func (tv *txMemoryView) LinkInstallments(_ context.Context, kind billing.InstallmentKind, ids []string, billingID string) error {
	return tv.d.linkInstallments(kind, ids, billingID)
}

func (tv *txMemoryView) DeleteBillingsByStudent(_ context.Context, studentID string) error {
	tv.d.deleteBillingsByStudent(studentID)
	return nil
}
