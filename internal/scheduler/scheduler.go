// Package scheduler runs the cron-based callback reminder sweep.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/msgdesk/msgdesk/internal/query"
)

// CallbackLister lists the unresolved messages whose promised callback
// falls inside the sweep window.
type CallbackLister interface {
	DueCallbacks(ctx context.Context, asOf time.Time, window time.Duration) ([]query.Message, error)
}

// SweepStatus is the externally visible state of the sweep.
type SweepStatus struct {
	Running   bool      `json:"running"`
	Schedule  string    `json:"schedule"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	LastDue   int       `json:"last_due"`
	LastError string    `json:"last_error,omitempty"`
}

// Sweeper periodically lists due callbacks and logs them for the external
// notifier. Delivery is someone else's problem; the sweep only surfaces
// what is due.
type Sweeper struct {
	cron     *cron.Cron
	lister   CallbackLister
	logger   *slog.Logger
	schedule string
	window   time.Duration
	entryID  cron.EntryID

	mu      sync.RWMutex
	running bool
	lastRun time.Time
	lastDue int
	lastErr error

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// New creates a sweeper on the given cron schedule. Returns an error if
// the expression does not parse.
func New(lister CallbackLister, schedule string, window time.Duration) (*Sweeper, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sweeper{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		lister:   lister,
		logger:   slog.Default(),
		schedule: schedule,
		window:   window,
		ctx:      ctx,
		cancel:   cancel,
	}

	entryID, err := s.cron.AddFunc(schedule, func() {
		s.mu.Lock()
		if s.stopped || s.running {
			s.mu.Unlock()
			return
		}
		s.running = true
		s.wg.Add(1)
		s.mu.Unlock()
		s.runSweep()
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	s.entryID = entryID
	return s, nil
}

// WithLogger sets the logger for the sweeper.
func (s *Sweeper) WithLogger(logger *slog.Logger) *Sweeper {
	s.logger = logger
	return s
}

// Start begins executing the scheduled sweep.
func (s *Sweeper) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("reminder sweep started",
		"schedule", s.schedule,
		"window", s.window,
		"next_run", s.cron.Entry(s.entryID).Next)
}

// IsRunning reports whether the sweeper has been started and not stopped.
func (s *Sweeper) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop halts the schedule, cancels an in-flight sweep, and returns a
// context that is done when all work has finished.
func (s *Sweeper) Stop() context.Context {
	s.logger.Info("reminder sweep stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-done
		cancel()
	}()
	return ctx
}

// TriggerSweep runs a sweep now, outside the schedule. Returns an error
// if one is already in flight or the sweeper has been stopped.
func (s *Sweeper) TriggerSweep() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("sweeper is stopped")
	}
	if s.running {
		return fmt.Errorf("sweep already running")
	}

	s.running = true
	s.wg.Add(1)
	go s.runSweep()
	return nil
}

// runSweep executes one sweep. The caller must have set running and
// called wg.Add(1).
func (s *Sweeper) runSweep() {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	due, err := s.lister.DueCallbacks(s.ctx, start, s.window)

	s.mu.Lock()
	s.lastErr = err
	if err == nil {
		s.lastRun = start
		s.lastDue = len(due)
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("reminder sweep failed",
			"duration", time.Since(start),
			"error", err)
		return
	}

	for _, m := range due {
		s.logger.Info("callback due",
			"message_id", m.ID,
			"recipient", m.Recipient,
			"sender", m.SenderName,
			"phone", m.SenderPhone,
			"callback_at", m.CallbackAt)
	}
	s.logger.Info("reminder sweep completed",
		"due", len(due),
		"duration", time.Since(start))
}

// Status returns the current sweep status.
func (s *Sweeper) Status() SweepStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := SweepStatus{
		Running:  s.running,
		Schedule: s.schedule,
		LastRun:  s.lastRun,
		NextRun:  s.cron.Entry(s.entryID).Next,
		LastDue:  s.lastDue,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
