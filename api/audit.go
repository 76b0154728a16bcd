/*
audit.go - Periodic billing integrity audit

PURPOSE:
  Walks every student's billings and reports broken invariants
  (paid + remaining != total, installments not linked back, wrong
  status). Findings are logged; nothing is repaired automatically.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - The same audit is available on demand at GET /api/admin/audit
  - The latest result is kept for the endpoint

USAGE:
  auditor := NewAuditScheduler(handler, time.Hour)
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - billing/audit.go: Inconsistencies
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/warp/billing-engine/billing"
)

// Audit checks every billing of every student.
func (h *Handler) Audit(ctx context.Context) (AuditDTO, error) {
	result := AuditDTO{
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
		Problems:  []AuditProblem{},
	}

	students, err := h.Store.ListStudents(ctx)
	if err != nil {
		return result, err
	}
	result.Students = len(students)

	for _, s := range students {
		bs, err := h.Service.ListBillingsByStudent(ctx, s.ID)
		if err != nil {
			return result, err
		}
		result.Billings += len(bs)

		deposits := 0
		for _, b := range bs {
			if b.HasDeposit() {
				deposits++
			}
			for _, p := range billing.Inconsistencies(b) {
				result.Problems = append(result.Problems, AuditProblem{
					StudentID: s.ID,
					BillingID: b.ID,
					Problem:   p,
				})
			}
		}
		if len(bs) > 0 && deposits != 1 {
			result.Problems = append(result.Problems, AuditProblem{
				StudentID: s.ID,
				Problem:   fmt.Sprintf("%d deposit billings, expected 1", deposits),
			})
		}
	}
	return result, nil
}

// RunAudit runs the audit on demand.
// GET /api/admin/audit
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	result, err := h.Audit(r.Context())
	if err != nil {
		writeBillingError(w, "Audit failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// SCHEDULER
// =============================================================================

// AuditScheduler runs the audit periodically.
type AuditScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
	last    *AuditDTO
}

// NewAuditScheduler creates a new scheduler.
func NewAuditScheduler(h *Handler, interval time.Duration) *AuditScheduler {
	return &AuditScheduler{
		Handler:       h,
		CheckInterval: interval,
		Enabled:       interval > 0,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (as *AuditScheduler) Start() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !as.Enabled {
		as.Handler.Logger.Info("audit scheduler disabled")
		return
	}

	if as.started {
		return
	}
	as.started = true

	as.ticker = time.NewTicker(as.CheckInterval)
	as.wg.Add(1)
	go as.run(as.ticker.C)

	as.Handler.Logger.Info("audit scheduler started", "interval", as.CheckInterval)
}

// Stop stops the scheduler and waits for a running audit to finish.
// Safe to call more than once, and before Start.
func (as *AuditScheduler) Stop() {
	as.mu.Lock()
	if !as.started || as.stopped {
		as.mu.Unlock()
		return
	}
	as.stopped = true
	as.ticker.Stop()
	close(as.stop)
	as.mu.Unlock()

	as.wg.Wait()
	as.Handler.Logger.Info("audit scheduler stopped")
}

// Last returns the result of the latest scheduled audit, nil before the first.
func (as *AuditScheduler) Last() *AuditDTO {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.last
}

func (as *AuditScheduler) run(tick <-chan time.Time) {
	defer as.wg.Done()

	// Run immediately on start
	as.check()

	for {
		select {
		case <-tick:
			as.check()
		case <-as.stop:
			return
		}
	}
}

func (as *AuditScheduler) check() {
	logger := as.Handler.Logger
	result, err := as.Handler.Audit(context.Background())
	if err != nil {
		logger.Error("audit failed", "error", err)
		return
	}

	as.mu.Lock()
	as.last = &result
	as.mu.Unlock()

	for _, p := range result.Problems {
		logger.Error("billing inconsistency", "student_id", p.StudentID, "billing_id", p.BillingID, "problem", p.Problem)
	}
	logger.Info("audit complete", "students", result.Students, "billings", result.Billings, "problems", len(result.Problems))
}
