// Package jobs runs queued background work: SMS confirmations, business
// discovery, and contact extraction.
package jobs

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/quinnhq/dispatch/internal/model"
	"github.com/quinnhq/dispatch/internal/store"
)

// Handler executes one job and returns a result payload for the job record.
type Handler func(ctx context.Context, job *model.Job) (map[string]any, error)

// Config tunes the processor.
type Config struct {
	PollInterval time.Duration
	RetryDelay   time.Duration
}

// Processor polls the job queue and dispatches jobs to registered handlers.
type Processor struct {
	store    store.Store
	handlers map[model.JobType]Handler
	cfg      Config
}

// NewProcessor creates a job processor.
func NewProcessor(st store.Store, cfg Config) *Processor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	return &Processor{
		store:    st,
		handlers: make(map[model.JobType]Handler),
		cfg:      cfg,
	}
}

// Register binds a handler to a job type.
func (p *Processor) Register(t model.JobType, h Handler) {
	p.handlers[t] = h
}

// Run polls for due jobs until the context is canceled. Due jobs are drained
// back to back; the poll interval only applies to an empty queue.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		ran, err := p.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			zap.L().Error("jobs: tick failed", zap.Error(err))
		}
		if ran {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick claims and runs at most one due job. Returns whether a job ran.
func (p *Processor) Tick(ctx context.Context) (bool, error) {
	job, err := p.store.NextPendingJob(ctx, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	attempts, err := p.store.MarkJobProcessing(ctx, job.ID)
	if err != nil {
		return false, err
	}

	logger := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("job_type", string(job.Type)),
		zap.String("request_id", job.ServiceRequestID),
		zap.Int("attempt", attempts),
	)

	handler, ok := p.handlers[job.Type]
	if !ok {
		logger.Error("jobs: no handler registered")
		return true, p.store.FailJob(ctx, job.ID, "no handler for job type "+string(job.Type))
	}

	result, err := runHandler(ctx, handler, job)
	if err == nil {
		logger.Info("jobs: completed")
		return true, p.store.CompleteJob(ctx, job.ID, result)
	}

	errMsg := eris.ToString(err, false)
	if attempts >= job.MaxAttempts {
		logger.Error("jobs: failed permanently", zap.Error(err))
		return true, p.store.FailJob(ctx, job.ID, errMsg)
	}

	runAt := time.Now().UTC().Add(p.cfg.RetryDelay)
	logger.Warn("jobs: retrying", zap.Error(err), zap.Time("run_at", runAt))
	return true, p.store.RescheduleJob(ctx, job.ID, errMsg, runAt)
}

// runHandler invokes a handler, converting a panic into an error so one bad
// job cannot take down the polling loop.
func runHandler(ctx context.Context, h Handler, job *model.Job) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("jobs: handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}
