package taskqueue

import (
	"context"
	"time"

	"github.com/smallbiznis/entitled/internal/clock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler executes one claimed task. The fulfillment orchestrator is the
// production handler.
type Handler interface {
	Handle(ctx context.Context, task Task) Result
}

// WorkerConfig controls polling cadence and batch size.
type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	return c
}

type Worker struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     WorkerConfig
	repo    *Repository
	handler Handler
	clock   clock.Clock
}

func NewWorker(db *gorm.DB, log *zap.Logger, cfg WorkerConfig, repo *Repository, handler Handler, clk clock.Clock) *Worker {
	return &Worker{
		db:      db,
		log:     log.Named("taskqueue").With(zap.String("component", "worker")),
		cfg:     cfg.withDefaults(),
		repo:    repo,
		handler: handler,
		clock:   clk,
	}
}

// RunForever polls until the context is cancelled.
func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.log.Error("worker pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce claims one batch of due tasks and executes them, returning the
// number of tasks handled.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	now := w.clock.Now()
	claimed, err := w.repo.ClaimDue(ctx, w.db, now, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	for i := range claimed {
		w.execute(ctx, &claimed[i])
	}
	return len(claimed), nil
}

func (w *Worker) execute(ctx context.Context, task *Task) {
	log := w.log.With(
		zap.String("kind", string(task.Kind)),
		zap.Int64("task_id", int64(task.ID)),
		zap.Int64("benefit_id", int64(task.BenefitID)),
		zap.Int64("customer_id", int64(task.CustomerID)),
		zap.Int("attempt", task.Attempts),
	)

	result := w.handler.Handle(ctx, *task)
	now := w.clock.Now()

	var err error
	switch result.Disposition {
	case DispositionSucceeded:
		err = w.repo.MarkSucceeded(ctx, w.db, task, now)
	case DispositionReschedule:
		runAt := now.Add(result.RetryAfter)
		log.Info("task rescheduled",
			zap.Duration("retry_after", result.RetryAfter),
			zap.String("reason", result.Reason),
		)
		err = w.repo.Reschedule(ctx, w.db, task, runAt, result.Reason, now)
	case DispositionActionRequired:
		log.Info("task blocked on customer action", zap.String("reason", result.Reason))
		err = w.repo.MarkActionRequired(ctx, w.db, task, result.Reason, now)
	case DispositionFailed:
		log.Error("task failed permanently", zap.String("reason", result.Reason))
		err = w.repo.MarkFailed(ctx, w.db, task, result.Reason, now)
	}
	if err != nil {
		log.Error("task state update failed", zap.Error(err))
	}
}
