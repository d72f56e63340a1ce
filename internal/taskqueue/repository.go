package taskqueue

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// EnqueueParams describes a grant/revoke job to schedule.
type EnqueueParams struct {
	OrgID          snowflake.ID
	Kind           Kind
	BenefitID      snowflake.ID
	CustomerID     snowflake.ID
	SubscriptionID *snowflake.ID
	OrderID        *snowflake.ID
	IsUpdate       bool
	RunAt          time.Time
}

type Repository struct {
	genID *snowflake.Node
}

func NewRepository(genID *snowflake.Node) *Repository {
	return &Repository{genID: genID}
}

// Enqueue schedules a task. While an identical pending task exists the call
// is a no-op returning the existing row, which keeps fan-out and
// at-least-once redelivery from piling up duplicate work.
func (r *Repository) Enqueue(ctx context.Context, db *gorm.DB, params EnqueueParams) (*Task, error) {
	var existing Task
	err := db.WithContext(ctx).
		Where("benefit_id = ? AND customer_id = ? AND kind = ? AND is_update = ? AND status = ?",
			params.BenefitID, params.CustomerID, params.Kind, params.IsUpdate, StatusPending).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	task := &Task{
		ID:             r.genID.Generate(),
		OrgID:          params.OrgID,
		Kind:           params.Kind,
		BenefitID:      params.BenefitID,
		CustomerID:     params.CustomerID,
		SubscriptionID: params.SubscriptionID,
		OrderID:        params.OrderID,
		IsUpdate:       params.IsUpdate,
		Status:         StatusPending,
		RunAt:          params.RunAt,
	}
	if err := db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

// ClaimDue transitions due pending tasks to running and returns them. The
// optimistic status check makes concurrent workers claim disjoint sets.
func (r *Repository) ClaimDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Task, error) {
	var due []Task
	err := db.WithContext(ctx).
		Where("status = ? AND run_at <= ?", StatusPending, now).
		Order("run_at ASC").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]Task, 0, len(due))
	for _, task := range due {
		res := db.WithContext(ctx).Model(&Task{}).
			Where("id = ? AND status = ?", task.ID, StatusPending).
			Updates(map[string]any{
				"status":     StatusRunning,
				"attempts":   gorm.Expr("attempts + 1"),
				"updated_at": now,
			})
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		task.Status = StatusRunning
		task.Attempts++
		claimed = append(claimed, task)
	}
	return claimed, nil
}

func (r *Repository) MarkSucceeded(ctx context.Context, db *gorm.DB, task *Task, now time.Time) error {
	return r.finish(ctx, db, task, StatusSucceeded, nil, now)
}

func (r *Repository) MarkFailed(ctx context.Context, db *gorm.DB, task *Task, reason string, now time.Time) error {
	return r.finish(ctx, db, task, StatusFailed, &reason, now)
}

func (r *Repository) MarkActionRequired(ctx context.Context, db *gorm.DB, task *Task, reason string, now time.Time) error {
	return r.finish(ctx, db, task, StatusActionRequired, &reason, now)
}

// Reschedule returns a running task to pending with a future run_at.
func (r *Repository) Reschedule(ctx context.Context, db *gorm.DB, task *Task, runAt time.Time, reason string, now time.Time) error {
	return db.WithContext(ctx).Model(&Task{}).
		Where("id = ?", task.ID).
		Updates(map[string]any{
			"status":     StatusPending,
			"run_at":     runAt,
			"last_error": reason,
			"updated_at": now,
		}).Error
}

// Requeue returns a terminal task to pending for immediate re-execution,
// the resume path for action_required and operator-retried failures.
func (r *Repository) Requeue(ctx context.Context, db *gorm.DB, taskID snowflake.ID, now time.Time) (*Task, error) {
	res := db.WithContext(ctx).Model(&Task{}).
		Where("id = ? AND status IN ?", taskID, []Status{StatusFailed, StatusActionRequired}).
		Updates(map[string]any{
			"status":     StatusPending,
			"run_at":     now,
			"attempts":   0,
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	var task Task
	if err := db.WithContext(ctx).First(&task, "id = ?", taskID).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *Repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Task, error) {
	var task Task
	if err := db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *Repository) finish(ctx context.Context, db *gorm.DB, task *Task, status Status, reason *string, now time.Time) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": now,
	}
	if reason != nil {
		updates["last_error"] = *reason
	}
	return db.WithContext(ctx).Model(&Task{}).
		Where("id = ?", task.ID).
		Updates(updates).Error
}
