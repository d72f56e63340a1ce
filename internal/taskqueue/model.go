// Package taskqueue is a database-backed at-least-once job queue for
// benefit grant/revoke work. Producers enqueue tasks; a polling worker
// claims due tasks and hands them to the fulfillment handler.
package taskqueue

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindGrant  Kind = "grant"
	KindRevoke Kind = "revoke"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSucceeded Status = "succeeded"
	// StatusFailed marks a task that exhausted its retry budget or hit a
	// fatal error. Operator-visible; never auto-retried.
	StatusFailed Status = "failed"
	// StatusActionRequired marks a task blocked on a customer-side
	// precondition. Resumed by an external trigger re-enqueueing.
	StatusActionRequired Status = "action_required"
)

type Task struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID  `gorm:"not null" json:"organization_id"`
	Kind           Kind          `gorm:"type:text;not null" json:"kind"`
	BenefitID      snowflake.ID  `gorm:"not null" json:"benefit_id"`
	CustomerID     snowflake.ID  `gorm:"not null" json:"customer_id"`
	SubscriptionID *snowflake.ID `gorm:"" json:"subscription_id,omitempty"`
	OrderID        *snowflake.ID `gorm:"" json:"order_id,omitempty"`
	IsUpdate       bool          `gorm:"not null;default:false" json:"is_update"`
	Status         Status        `gorm:"type:text;not null;default:'pending';index:ix_benefit_tasks_due,priority:1" json:"status"`
	Attempts       int           `gorm:"not null;default:0" json:"attempts"`
	RunAt          time.Time     `gorm:"not null;index:ix_benefit_tasks_due,priority:2" json:"run_at"`
	LastError      *string       `gorm:"" json:"last_error,omitempty"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Task) TableName() string { return "benefit_tasks" }

// Disposition is the worker-facing classification of a handled task.
type Disposition string

const (
	DispositionSucceeded      Disposition = "succeeded"
	DispositionReschedule     Disposition = "reschedule"
	DispositionActionRequired Disposition = "action_required"
	DispositionFailed         Disposition = "failed"
)

// Result tells the worker what to do with a handled task.
type Result struct {
	Disposition Disposition
	// RetryAfter is the minimum delay before the next attempt when the
	// disposition is reschedule.
	RetryAfter time.Duration
	Reason     string
}
