/*
scheduler.go - Background maintenance scheduler

PURPOSE:
  Periodically enforces edit deadlines and keeps the persisted conflict
  scan fresh. Departments whose deadline has passed get their edits
  locked (with an audit record), and the base-year conflict scan is
  re-run so the conflict list reflects recent entry changes.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - First pass fires immediately on Start, then on every tick
  - Locking is idempotent; already-locked departments are skipped

CONFIGURATION:
  - Interval: How often to check (default: 1 minute)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewScheduler(handler, interval, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: LockDepartment endpoint (manual locking)
  - conflict/similarity.go: Detector
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/logx"
)

// =============================================================================
// SCHEDULER
// =============================================================================

// Scheduler runs periodic deadline enforcement and conflict rescans.
type Scheduler struct {
	handler  *Handler
	interval time.Duration
	log      *logx.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. It does not start it.
func NewScheduler(h *Handler, interval time.Duration, log *logx.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		handler:  h,
		interval: interval,
		log:      log.WithComponent("scheduler"),
	}
}

// Start launches the background loop. Safe to call once; repeated calls
// while running are no-ops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})

	s.wg.Add(1)
	go s.loop()

	s.log.Info("scheduler started", "interval", s.interval.String())
}

// Stop signals the loop to exit and waits for it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	// First pass right away so a restart does not leave expired deadlines
	// unenforced for a full interval.
	s.RunNow(context.Background())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow performs one maintenance pass. Exported for manual triggering
// and tests.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.enforceDeadlines(ctx)
	s.rescanConflicts(ctx)
}

// enforceDeadlines locks every department whose edit deadline has passed.
func (s *Scheduler) enforceDeadlines(ctx context.Context) {
	departments, err := s.handler.Store.ListDepartments(ctx)
	if err != nil {
		s.log.Error("failed to list departments", "error", err)
		return
	}

	now := time.Now()
	for _, d := range departments {
		if d.EditsLocked || d.EditDeadline == nil || now.Before(*d.EditDeadline) {
			continue
		}

		audit := budget.AuditEntry{
			ID:     uuid.NewString(),
			Action: budget.AuditDepartmentLocked,
			NewValues: marshalValues(map[string]any{
				"department": d.Code,
				"locked":     true,
				"deadline":   d.EditDeadline.Format(time.RFC3339),
			}),
			Actor:     "scheduler",
			Notes:     "edit deadline passed",
			Timestamp: now.UTC(),
		}
		if err := s.handler.Store.SetDepartmentLock(ctx, d.Code, true, audit); err != nil {
			s.log.Error("failed to lock department", "department", d.Code, "error", err)
			continue
		}
		s.log.Info("department locked after deadline",
			"department", d.Code, "deadline", d.EditDeadline.Format(time.RFC3339))
	}
}

// rescanConflicts refreshes the persisted conflict scan for the base year.
func (s *Scheduler) rescanConflicts(ctx context.Context) {
	records, err := s.handler.Detector.Scan(ctx, s.handler.BaseYear)
	if err != nil {
		s.log.Error("conflict rescan failed", "year", s.handler.BaseYear, "error", err)
		return
	}
	s.log.Debug("conflict rescan complete", "year", s.handler.BaseYear, "detected", len(records))
}
