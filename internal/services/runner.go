package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanaraujo-bit/meu-bolso-sub002/internal/log"
)

// RunnerConfig holds configuration for a periodic runner
type RunnerConfig struct {
	// Name identifies the job in logs
	Name string

	// Interval is how often the job runs (default: 1h)
	Interval time.Duration

	// RunOnStart runs the job once immediately after Start (default: true)
	RunOnStart bool
}

// DefaultRunnerConfig returns sensible defaults
func DefaultRunnerConfig(name string) RunnerConfig {
	return RunnerConfig{
		Name:       name,
		Interval:   time.Hour,
		RunOnStart: true,
	}
}

// Runner calls a job on a fixed interval until stopped. Used by the workers
// to execute pending recurrence rules and to sweep the sync backlog.
type Runner struct {
	job    func(ctx context.Context) error
	config RunnerConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewRunner(config RunnerConfig, job func(ctx context.Context) error) *Runner {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	return &Runner{job: job, config: config}
}

// RecurringJob adapts ProcessAllUsers to the runner job signature.
func RecurringJob(p *RecurringProcessor) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		batches, err := p.ProcessAllUsers(ctx)
		if err != nil {
			return err
		}
		created, failed := 0, 0
		for _, b := range batches {
			created += b.CreatedCount()
			failed += b.FailedCount()
		}
		slog.InfoContext(ctx, "Recurring sweep complete",
			log.FieldComponent, log.ComponentRecurring,
			"users", len(batches),
			log.FieldCreated, created,
			log.FieldFailed, failed)
		return nil
	}
}

// Start begins the processing loop. Returns an error if already running.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("runner %s is already running", r.config.Name)
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.runLoop(ctx)

	slog.InfoContext(ctx, "Runner started",
		log.FieldComponent, log.ComponentWorker,
		"job", r.config.Name,
		"interval", r.config.Interval)

	return nil
}

// Stop gracefully stops the runner and waits for the current run to finish.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Runner stopped gracefully", "job", r.config.Name)
	case <-ctx.Done():
		slog.WarnContext(ctx, "Runner stop timed out", "job", r.config.Name)
		return ctx.Err()
	}

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	return nil
}

// IsRunning returns whether the runner is currently running
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// RunOnce executes the job synchronously.
func (r *Runner) RunOnce(ctx context.Context) {
	start := time.Now()
	if err := r.job(ctx); err != nil {
		slog.ErrorContext(ctx, "Runner job failed",
			log.FieldComponent, log.ComponentWorker,
			"job", r.config.Name,
			log.FieldError, err)
		return
	}
	slog.DebugContext(ctx, "Runner job finished",
		"job", r.config.Name,
		log.FieldDuration, time.Since(start).Milliseconds())
}

func (r *Runner) runLoop(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	if r.config.RunOnStart {
		r.RunOnce(ctx)
	}

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}
