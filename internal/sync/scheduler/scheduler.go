// Package scheduler drives the sync engine on its two triggers: a
// periodic background cycle and a faster foreground cycle while the
// capture UI is active, plus an immediate signal on draft changes.
package scheduler

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/ifirmawan/akvo-mis-sub000/internal/errors"
	"github.com/ifirmawan/akvo-mis-sub000/internal/logging"
	syncpkg "github.com/ifirmawan/akvo-mis-sub000/internal/sync"
)

// Engine is the slice of the sync engine the scheduler drives.
// *sync.Engine satisfies it.
type Engine interface {
	SubmissionSync(ctx context.Context) (*syncpkg.Result, error)
	PullDataPoints(ctx context.Context) error
	ReconcileDrafts(ctx context.Context) error
	CheckFormVersions(ctx context.Context) (int, error)
	DraftsPending() bool
}

// Config holds scheduler configuration.
type Config struct {
	SyncInterval       time.Duration // background cycle period
	ForegroundInterval time.Duration // foreground cycle period while the UI is active
	CycleTimeout       time.Duration // per-cycle deadline
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:       15 * time.Minute,
		ForegroundInterval: 5 * time.Minute,
		CycleTimeout:       5 * time.Minute,
	}
}

// Scheduler owns the background goroutines around the sync engine.
// In-progress guards keep one logical cycle of each kind running at a
// time; overlapping triggers are dropped, not queued.
type Scheduler struct {
	engine             Engine
	syncInterval       time.Duration
	foregroundInterval time.Duration
	cycleTimeout       time.Duration
	stopCh             chan struct{}
	draftCh            chan struct{}
	wg                 sync.WaitGroup

	mu sync.RWMutex
	// baseCtx is the lifetime context detached cycles run under. Trigger
	// endpoints must not borrow a request context: the cycle outlives the
	// request that started it.
	baseCtx        context.Context
	isRunning      bool
	foreground     bool
	syncInProgress bool
	pullInProgress bool
	lastSyncTime   time.Time
	lastSyncError  string
}

// New creates a new Scheduler. A nil config uses defaults.
func New(engine Engine, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		engine:             engine,
		syncInterval:       config.SyncInterval,
		foregroundInterval: config.ForegroundInterval,
		cycleTimeout:       config.CycleTimeout,
		stopCh:             make(chan struct{}),
		// Buffered so a burst of draft edits collapses into one pass.
		draftCh: make(chan struct{}, 1),
		baseCtx: context.Background(),
	}
}

// Start launches the trigger goroutines.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.baseCtx = ctx
	s.mu.Unlock()

	s.wg.Add(2)
	go s.backgroundLoop(ctx)
	go s.foregroundLoop(ctx)

	logging.Info("Sync scheduler started",
		map[string]interface{}{
			"sync_interval":       s.syncInterval.String(),
			"foreground_interval": s.foregroundInterval.String(),
		})
}

// Stop shuts the scheduler down gracefully, waiting for the trigger
// goroutines and any cycle in flight to finish. The store must stay
// open until Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Sync scheduler stopped", nil)
}

// SetForeground flips the foreground trigger on or off. The capture UI
// calls this when it gains or loses focus.
func (s *Scheduler) SetForeground(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.foreground != active {
		logging.Debug("Foreground trigger toggled",
			map[string]interface{}{"active": active})
	}
	s.foreground = active
}

// NotifyDraftChange signals that a draft was created or edited. The
// next foreground wakeup reconciles drafts immediately instead of
// waiting for the periodic cycle.
func (s *Scheduler) NotifyDraftChange() {
	select {
	case s.draftCh <- struct{}{}:
	default:
		// A signal is already pending; one pass covers both edits.
	}
}

// backgroundLoop fires the full cycle on the periodic interval.
func (s *Scheduler) backgroundLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.claimSync() {
				s.wg.Add(1)
				go s.runCycle(ctx)
			}
		}
	}
}

// foregroundLoop fires the cycle on the shorter interval while the UI
// is active, and reacts to draft-change signals.
func (s *Scheduler) foregroundLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.foregroundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.draftCh:
			if s.claimSync() {
				s.wg.Add(1)
				go s.runDraftPass(ctx)
			}
		case <-ticker.C:
			s.mu.RLock()
			active := s.foreground
			s.mu.RUnlock()
			if !active {
				continue
			}
			if s.claimSync() {
				s.wg.Add(1)
				go s.runCycle(ctx)
			}
		}
	}
}

// runCtx returns the context cycles run under: the Start context once
// the scheduler is running, Background before that.
func (s *Scheduler) runCtx() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseCtx
}

// claimSync takes the sync-in-progress guard. Returns false when a
// cycle already holds it.
func (s *Scheduler) claimSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncInProgress {
		logging.Debug("Sync cycle already in progress, skipping", nil)
		return false
	}
	s.syncInProgress = true
	return true
}

func (s *Scheduler) releaseSync(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncInProgress = false
	s.lastSyncTime = time.Now()
	if err != nil {
		s.lastSyncError = err.Error()
	} else {
		s.lastSyncError = ""
	}
}

// runCycle executes one full sync cycle: form version check, draft
// reconciliation when drafts are pending, then submission sync. The
// caller must already hold the sync guard and have added the cycle to
// the WaitGroup.
func (s *Scheduler) runCycle(ctx context.Context) {
	defer s.wg.Done()

	cycleCtx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	err := s.cycle(cycleCtx)
	s.releaseSync(err)

	if err != nil {
		// Offline is the normal state for this device class, worth a
		// debug line at most.
		if apperrors.Is(err, apperrors.ErrOffline) || apperrors.Is(err, apperrors.ErrNetworkRestricted) {
			logging.Debug("Sync cycle skipped", map[string]interface{}{"reason": err.Error()})
			return
		}
		logging.ErrorWithCode("Sync cycle failed", string(apperrors.CodeOf(err)), err, nil)
		return
	}
	logging.Info("Sync cycle completed", nil)
}

func (s *Scheduler) cycle(ctx context.Context) error {
	if _, err := s.engine.CheckFormVersions(ctx); err != nil {
		return err
	}
	if s.engine.DraftsPending() {
		if err := s.engine.ReconcileDrafts(ctx); err != nil {
			return err
		}
	}
	_, err := s.engine.SubmissionSync(ctx)
	return err
}

// runDraftPass reconciles drafts only, in response to a draft-change
// signal. The caller must already hold the sync guard and have added
// the pass to the WaitGroup.
func (s *Scheduler) runDraftPass(ctx context.Context) {
	defer s.wg.Done()

	cycleCtx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	err := s.engine.ReconcileDrafts(cycleCtx)
	s.releaseSync(err)

	if err != nil && !apperrors.Is(err, apperrors.ErrOffline) {
		logging.Warn("Draft reconciliation failed",
			map[string]interface{}{"error": err.Error()})
	}
}

// TriggerSync starts an immediate full cycle on the scheduler's
// lifetime context. Returns false when one is already in progress.
func (s *Scheduler) TriggerSync() bool {
	if !s.claimSync() {
		return false
	}
	s.wg.Add(1)
	go s.runCycle(s.runCtx())
	return true
}

// SyncNow runs a full cycle synchronously and returns its error.
func (s *Scheduler) SyncNow(ctx context.Context) error {
	if !s.claimSync() {
		return apperrors.New(apperrors.ErrSyncFailed, "a sync cycle is already in progress")
	}

	cycleCtx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	err := s.cycle(cycleCtx)
	s.releaseSync(err)
	return err
}

// TriggerPull starts an immediate datapoint pull on the scheduler's
// lifetime context. Returns false when a pull is already in progress.
func (s *Scheduler) TriggerPull() bool {
	s.mu.Lock()
	if s.pullInProgress {
		s.mu.Unlock()
		return false
	}
	s.pullInProgress = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		pullCtx, cancel := context.WithTimeout(s.runCtx(), s.cycleTimeout)
		defer cancel()

		err := s.engine.PullDataPoints(pullCtx)

		s.mu.Lock()
		s.pullInProgress = false
		s.mu.Unlock()

		if err != nil && !apperrors.Is(err, apperrors.ErrOffline) {
			logging.ErrorWithCode("Datapoint pull failed", string(apperrors.CodeOf(err)), err, nil)
		}
	}()
	return true
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	IsRunning      bool       `json:"is_running"`
	Foreground     bool       `json:"foreground"`
	SyncInProgress bool       `json:"sync_in_progress"`
	PullInProgress bool       `json:"pull_in_progress"`
	LastSyncTime   *time.Time `json:"last_sync_time,omitempty"`
	LastSyncError  string     `json:"last_sync_error,omitempty"`
	DraftsPending  bool       `json:"drafts_pending"`
}

// GetStatus returns the current scheduler status.
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		IsRunning:      s.isRunning,
		Foreground:     s.foreground,
		SyncInProgress: s.syncInProgress,
		PullInProgress: s.pullInProgress,
		LastSyncError:  s.lastSyncError,
		DraftsPending:  s.engine.DraftsPending(),
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
