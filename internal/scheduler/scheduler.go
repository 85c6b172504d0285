// Package scheduler drives rollout runs. Each accepted run executes in
// its own goroutine on a worker pool sized to the run's parallelism.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/switchyard-net/switchyard/internal/console"
	"github.com/switchyard-net/switchyard/internal/event"
	"github.com/switchyard-net/switchyard/internal/faults"
	"github.com/switchyard-net/switchyard/internal/metrics"
	"github.com/switchyard-net/switchyard/internal/models"
	"github.com/switchyard-net/switchyard/internal/run"
	"github.com/switchyard-net/switchyard/internal/worker"
	"github.com/switchyard-net/switchyard/pkg/env"
	"github.com/switchyard-net/switchyard/pkg/log"
	"gorm.io/gorm"
)

// claimRetryInterval is how long a worker waits after a failed claim.
const claimRetryInterval = time.Second

type Config struct {
	DefaultParallelism int
	MaxParallelism     int
	FailurePolicy      string
	Retry              worker.RetrySettings
	PromptTimeout      time.Duration
}

func ConfigFromEnv(vars env.Environment) Config {
	return Config{
		DefaultParallelism: vars.DefaultParallelism,
		MaxParallelism:     vars.MaxParallelism,
		FailurePolicy:      vars.FailurePolicy,
		Retry:              worker.RetryFromEnv(vars),
		PromptTimeout:      vars.PromptTimeout,
	}
}

type Scheduler struct {
	ctx    context.Context
	cfg    Config
	store  *run.Store
	events *event.Log
	bus    event.Bus
	dialer console.Dialer

	runs sync.Map
	wg   sync.WaitGroup
}

// New returns a scheduler whose runs live as long as ctx.
func New(ctx context.Context, db *gorm.DB, bus event.Bus, dialer console.Dialer, cfg Config) *Scheduler {
	if bus == nil {
		bus = event.Nop{}
	}
	if cfg.DefaultParallelism < 1 {
		cfg.DefaultParallelism = 1
	}
	if cfg.MaxParallelism < cfg.DefaultParallelism {
		cfg.MaxParallelism = cfg.DefaultParallelism
	}

	return &Scheduler{
		ctx:    ctx,
		cfg:    cfg,
		store:  run.NewStore(db),
		events: event.NewLog(db, bus),
		bus:    bus,
		dialer: dialer,
	}
}

func (s *Scheduler) Store() *run.Store {
	return s.store
}

func (s *Scheduler) Events() *event.Log {
	return s.events
}

func (s *Scheduler) Bus() event.Bus {
	return s.bus
}

type StartRequest struct {
	JobID         uuid.UUID `json:"job_id" validate:"required"`
	Parallelism   int       `json:"parallelism"`
	FailurePolicy string    `json:"failure_policy"`
}

// Start accepts a run and returns it immediately; devices are pushed
// asynchronously.
func (s *Scheduler) Start(ctx context.Context, req StartRequest) (*models.Run, error) {
	parallelism := req.Parallelism
	if parallelism == 0 {
		parallelism = s.cfg.DefaultParallelism
	}
	if parallelism < 1 || parallelism > s.cfg.MaxParallelism {
		return nil, faults.NewValidationError(faults.Issue{
			Field:   "parallelism",
			Message: fmt.Sprintf("must be between 1 and %d", s.cfg.MaxParallelism),
		})
	}

	policyName := req.FailurePolicy
	if policyName == "" {
		policyName = s.cfg.FailurePolicy
	}
	policy, ok := run.ParseFailurePolicy(policyName)
	if !ok {
		return nil, faults.NewValidationError(faults.Issue{
			Field:      "failure_policy",
			Message:    fmt.Sprintf("unknown failure policy %q", policyName),
			Suggestion: string(run.FailurePolicyContinue) + " or " + string(run.FailurePolicyHalt),
		})
	}

	r, err := s.store.Start(ctx, run.StartRequest{JobID: req.JobID, Parallelism: parallelism, FailurePolicy: policy})
	if err != nil {
		return nil, err
	}

	metrics.RunsActive.Inc()
	s.bus.Publish(event.ForRun(event.TypeRunStarted, r))
	s.note(ctx, r, models.LevelInfo, fmt.Sprintf("run started: %d devices, parallelism %d, failure policy %s", len(r.Devices), r.Parallelism, r.FailurePolicy))

	s.launch(r)
	return r, nil
}

func (s *Scheduler) launch(r *models.Run) {
	runCtx, cancel := context.WithCancel(s.ctx)
	s.runs.Store(r.ID, cancel)
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.runs.Delete(r.ID)
		defer cancel()

		s.execute(run.WithContext(runCtx, r.ID), r)
	}()
}

func (s *Scheduler) execute(ctx context.Context, r *models.Run) {
	pusher := worker.NewPusher(s.dialer, s.store, s.events, s.cfg.Retry, s.cfg.PromptTimeout)
	w := worker.NewWorker(
		worker.NewClaimer(r.ID, s.store),
		worker.NewPool(r.Parallelism),
		claimRetryInterval,
		worker.NewDeviceExecutor(r, s.store, pusher, s.bus, s.events),
	)

	if err := w.Run(ctx); err != nil {
		log.Error("run worker failed", "run_id", r.ID, "error", err)
	}

	if ctx.Err() != nil {
		metrics.RunsActive.Dec()
		log.Info("run interrupted by shutdown; it will be recovered on restart", "run_id", r.ID)
		return
	}

	s.finish(ctx, r.ID)
}

func (s *Scheduler) finish(ctx context.Context, runID uuid.UUID) {
	done, err := s.store.Complete(context.WithoutCancel(ctx), runID)
	metrics.RunsActive.Dec()
	if err != nil {
		log.Error("failed to complete run", "run_id", runID, "error", err)
		return
	}

	s.bus.Publish(event.ForRun(event.TypeRunCompleted, done))
	s.note(ctx, done, models.LevelInfo, "run finished with status "+string(done.Status))
}

// Cancel stops dispatch for a run. In-flight pushes finish; queued
// devices become skipped with CANCELLED.
func (s *Scheduler) Cancel(ctx context.Context, runID uuid.UUID) (*models.Run, error) {
	r, err := s.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return nil, faults.NewConflictError("run", "run already finished with status "+string(r.Status))
	}

	flagged, err := s.store.Cancel(ctx, runID)
	if err != nil {
		return nil, err
	}

	const reason = "run cancelled"
	skipped, err := s.store.SkipQueued(ctx, runID, faults.CodeCancelled, reason)
	if err != nil {
		return nil, err
	}
	for _, rd := range skipped {
		worker.SkippedNotice(ctx, s.bus, s.events, r.JobID, rd, faults.CodeCancelled, reason)
	}

	if flagged {
		s.bus.Publish(event.ForRun(event.TypeRunCancelled, r))
		s.note(ctx, r, models.LevelWarning, fmt.Sprintf("run cancelled: %d queued devices skipped", len(skipped)))
		log.Info("run cancelled", "run_id", runID, "skipped", len(skipped))
	}

	// a run without a live worker has nobody left to complete it
	if _, live := s.runs.Load(runID); !live {
		if _, err := s.store.Complete(ctx, runID); err != nil && !errors.Is(err, faults.ErrPrecondition) {
			return nil, err
		}
	}

	return s.store.Get(ctx, runID)
}

// Recover finalises runs left running by a previous process: running
// devices fail with INTERRUPTED, queued devices are skipped and the run
// status is aggregated.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	runs, err := s.store.List(ctx, run.ListRequest{Status: models.RunStatusRunning})
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, r := range runs {
		if _, live := s.runs.Load(r.ID); live {
			continue
		}

		const reason = "interrupted by process restart"
		failed, err := s.store.FailRunning(ctx, r.ID, faults.CodeInterrupted, reason)
		if err != nil {
			return recovered, err
		}
		skipped, err := s.store.SkipQueued(ctx, r.ID, faults.CodeInterrupted, reason)
		if err != nil {
			return recovered, err
		}
		for _, rd := range failed {
			worker.InterruptedNotice(ctx, s.bus, s.events, r.JobID, rd, reason)
		}
		for _, rd := range skipped {
			worker.SkippedNotice(ctx, s.bus, s.events, r.JobID, rd, faults.CodeInterrupted, reason)
		}

		done, err := s.store.Complete(ctx, r.ID)
		if err != nil {
			return recovered, err
		}

		s.note(ctx, done, models.LevelWarning, fmt.Sprintf("run recovered after restart: %d interrupted, %d skipped", len(failed), len(skipped)))
		s.bus.Publish(event.ForRun(event.TypeRunCompleted, done))
		log.Warn("recovered interrupted run", "run_id", r.ID, "status", done.Status, "interrupted", len(failed), "skipped", len(skipped))
		recovered++
	}

	return recovered, nil
}

// Wait blocks until every run goroutine has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) note(ctx context.Context, r *models.Run, level models.EventLevel, message string) {
	if _, err := s.events.Append(context.WithoutCancel(ctx), event.Entry{
		JobID:   r.JobID,
		RunID:   r.ID,
		Level:   level,
		Message: message,
	}); err != nil {
		log.Error("failed to append run event", "run_id", r.ID, "error", err)
	}
}
