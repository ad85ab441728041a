// Package reconcile re-drives runs whose processing request never reached
// the queue. A run stays in DatasetEnrichmentCompleted when the publish that
// follows enrichment fails; the sweep finds such runs and publishes again.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/evalcore/internal/domain"
	"github.com/animus-labs/evalcore/internal/repo"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule    = "@every 5m"
	DefaultGracePeriod = 10 * time.Minute
	DefaultBatchSize   = 200
)

type Config struct {
	Enabled     bool          `yaml:"enabled"`
	Schedule    string        `yaml:"schedule"`
	GracePeriod time.Duration `yaml:"grace_period"`
	BatchSize   int           `yaml:"batch_size"`
	Timeout     time.Duration `yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Schedule:    DefaultSchedule,
		GracePeriod: DefaultGracePeriod,
		BatchSize:   DefaultBatchSize,
		Timeout:     time.Minute,
	}
}

func (c Config) Validate() error {
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("reconcile schedule %q: %w", c.Schedule, err)
	}
	if c.GracePeriod < 0 {
		return errors.New("reconcile grace period must be >= 0")
	}
	if c.BatchSize < 1 {
		return errors.New("reconcile batch size must be >= 1")
	}
	if c.Timeout <= 0 {
		return errors.New("reconcile timeout must be positive")
	}
	return nil
}

// RunLister pages through runs in a status, ordered by agent then run id.
type RunLister interface {
	ListRunsByStatus(ctx context.Context, status domain.RunStatus, after repo.RunCursor, limit int) ([]domain.EvaluationRun, error)
}

type Artifacts interface {
	EnrichedDatasetExists(ctx context.Context, run domain.EvaluationRun) (bool, error)
	PublishProcessingRequest(ctx context.Context, run domain.EvaluationRun) error
}

// PendingChecker reports whether a message for dedupeKey is still queued.
type PendingChecker interface {
	Pending(ctx context.Context, queueName, dedupeKey string) (bool, error)
}

type Deps struct {
	Runs      RunLister
	Artifacts Artifacts
	Queue     PendingChecker
	Logger    *slog.Logger
}

type Report struct {
	Scanned  int
	Redriven int
	Skipped  int
	Failed   int
}

type Sweeper struct {
	runs      RunLister
	artifacts Artifacts
	queue     PendingChecker
	queueName string
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time

	mu      sync.Mutex
	engine  *cron.Cron
	entryID cron.EntryID
}

func New(deps Deps, queueName string, cfg Config) (*Sweeper, error) {
	if deps.Runs == nil {
		return nil, errors.New("run lister is required")
	}
	if deps.Artifacts == nil {
		return nil, errors.New("artifact service is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if strings.TrimSpace(queueName) == "" {
		return nil, errors.New("queue name is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		runs:      deps.Runs,
		artifacts: deps.Artifacts,
		queue:     deps.Queue,
		queueName: queueName,
		logger:    logger.With("component", "reconcile"),
		cfg:       cfg,
		now:       time.Now,
	}, nil
}

// Start schedules the sweep. Overlapping ticks are skipped while a sweep is
// still running.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		return errors.New("reconcile sweeper already started")
	}
	engine := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	id, err := engine.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		if _, err := s.SweepOnce(ctx); err != nil {
			s.logger.Error("reconcile sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reconcile sweep: %w", err)
	}
	engine.Start()
	s.engine, s.entryID = engine, id
	s.logger.Info("reconcile sweeper started", "schedule", s.cfg.Schedule, "grace_period", s.cfg.GracePeriod.String())
	return nil
}

// Stop unschedules the sweep and waits for a running one to finish or for
// ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	engine := s.engine
	s.engine = nil
	s.mu.Unlock()
	if engine == nil {
		return
	}
	select {
	case <-engine.Stop().Done():
	case <-ctx.Done():
	}
	s.logger.Info("reconcile sweeper stopped")
}

// Next reports when the sweep runs next; zero when not started.
func (s *Sweeper) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return time.Time{}
	}
	return s.engine.Entry(s.entryID).Next
}

// SweepOnce re-publishes processing requests for runs that finished
// enrichment more than a grace period ago, still have their enriched dataset,
// and have nothing waiting in the queue. Every run in that status is visited,
// BatchSize runs per page.
func (s *Sweeper) SweepOnce(ctx context.Context) (Report, error) {
	var (
		report Report
		after  repo.RunCursor
	)
	cutoff := s.now().Add(-s.cfg.GracePeriod)
	for {
		page, err := s.runs.ListRunsByStatus(ctx, domain.StatusDatasetEnrichmentCompleted, after, s.cfg.BatchSize)
		if err != nil {
			return report, fmt.Errorf("list stuck runs: %w", err)
		}
		for _, run := range page {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			s.visit(ctx, run, cutoff, &report)
		}
		if len(page) < s.cfg.BatchSize {
			break
		}
		after = repo.CursorAfter(page[len(page)-1])
	}
	if report.Redriven > 0 || report.Failed > 0 {
		s.logger.Info("reconcile sweep finished", "scanned", report.Scanned, "redriven", report.Redriven, "skipped", report.Skipped, "failed", report.Failed)
	}
	return report, nil
}

func (s *Sweeper) visit(ctx context.Context, run domain.EvaluationRun, cutoff time.Time, report *Report) {
	report.Scanned++
	if run.LastUpdatedOn.After(cutoff) {
		report.Skipped++
		return
	}
	redriven, err := s.redrive(ctx, run)
	switch {
	case err != nil:
		report.Failed++
		s.logger.Warn("reconcile run failed", "eval_run_id", run.EvalRunID, "error", err)
	case redriven:
		report.Redriven++
	default:
		report.Skipped++
	}
}

func (s *Sweeper) redrive(ctx context.Context, run domain.EvaluationRun) (bool, error) {
	pending, err := s.queue.Pending(ctx, s.queueName, run.EvalRunID)
	if err != nil || pending {
		return false, err
	}
	exists, err := s.artifacts.EnrichedDatasetExists(ctx, run)
	if err != nil {
		return false, err
	}
	if !exists {
		s.logger.Warn("stuck run has no enriched dataset", "eval_run_id", run.EvalRunID, "agent_id", run.AgentID)
		return false, nil
	}
	if err := s.artifacts.PublishProcessingRequest(ctx, run); err != nil {
		return false, err
	}
	s.logger.Info("processing request re-driven", "eval_run_id", run.EvalRunID, "agent_id", run.AgentID)
	return true, nil
}
