package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
	"github.com/smallbiznis/entitled/internal/clock"
	"github.com/smallbiznis/entitled/internal/config"
	customerdomain "github.com/smallbiznis/entitled/internal/customer/domain"
	grantdomain "github.com/smallbiznis/entitled/internal/grant/domain"
	"github.com/smallbiznis/entitled/internal/notification"
	"github.com/smallbiznis/entitled/internal/observability/metrics"
	"github.com/smallbiznis/entitled/internal/taskqueue"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Orchestrator executes benefit tasks: it loads the benefit, customer and
// grant record, dispatches to the type's fulfiller, persists the resulting
// grant state, and classifies failures for the queue.
type Orchestrator struct {
	db        *gorm.DB
	registry  *Registry
	benefits  benefitdomain.Repository
	customers customerdomain.Repository
	grants    grantdomain.Repository
	policy    *config.RetryPolicyHolder
	notifier  notification.Provider
	clock     clock.Clock
	log       *zap.Logger
}

func NewOrchestrator(
	db *gorm.DB,
	registry *Registry,
	benefits benefitdomain.Repository,
	customers customerdomain.Repository,
	grants grantdomain.Repository,
	policy *config.RetryPolicyHolder,
	notifier notification.Provider,
	clk clock.Clock,
	log *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		db:        db,
		registry:  registry,
		benefits:  benefits,
		customers: customers,
		grants:    grants,
		policy:    policy,
		notifier:  notifier,
		clock:     clk,
		log:       log.Named("fulfillment").With(zap.String("component", "orchestrator")),
	}
}

var _ taskqueue.Handler = (*Orchestrator)(nil)

func (o *Orchestrator) Handle(ctx context.Context, task taskqueue.Task) taskqueue.Result {
	started := time.Now()

	benefit, err := o.benefits.FindByID(ctx, o.db, task.BenefitID)
	if err != nil {
		if errors.Is(err, benefitdomain.ErrNotFound) {
			return taskqueue.Result{Disposition: taskqueue.DispositionFailed, Reason: "benefit no longer exists"}
		}
		return o.transientLoadFailure(task, err)
	}

	kind := string(task.Kind)
	benefitType := string(benefit.Type)
	m := metrics.Fulfillment()
	m.IncTaskRun(kind, benefitType)
	defer func() { m.ObserveTaskDuration(kind, benefitType, time.Since(started)) }()

	customer, err := o.customers.FindByID(ctx, o.db, task.CustomerID)
	if err != nil {
		if errors.Is(err, customerdomain.ErrNotFound) {
			m.IncOutcome(kind, benefitType, "failed")
			return taskqueue.Result{Disposition: taskqueue.DispositionFailed, Reason: "customer no longer exists"}
		}
		return o.transientLoadFailure(task, err)
	}

	fulfiller, err := o.registry.For(benefit.Type)
	if err != nil {
		m.IncOutcome(kind, benefitType, "failed")
		return taskqueue.Result{Disposition: taskqueue.DispositionFailed, Reason: err.Error()}
	}

	log := o.log.With(
		zap.String("kind", kind),
		zap.String("benefit_type", benefitType),
		zap.Int64("benefit_id", int64(benefit.ID)),
		zap.Int64("customer_id", int64(customer.ID)),
		zap.Int("attempt", task.Attempts),
	)

	switch task.Kind {
	case taskqueue.KindGrant:
		return o.grant(ctx, log, m, task, benefit, customer, fulfiller)
	case taskqueue.KindRevoke:
		return o.revoke(ctx, log, m, task, benefit, customer, fulfiller)
	default:
		m.IncOutcome(kind, benefitType, "failed")
		return taskqueue.Result{Disposition: taskqueue.DispositionFailed, Reason: fmt.Sprintf("unknown task kind %q", task.Kind)}
	}
}

func (o *Orchestrator) grant(
	ctx context.Context,
	log *zap.Logger,
	m *metrics.FulfillmentMetrics,
	task taskqueue.Task,
	benefit *benefitdomain.Benefit,
	customer *customerdomain.Customer,
	fulfiller Fulfiller,
) taskqueue.Result {
	record, err := o.grants.FindOrCreate(ctx, o.db, task.OrgID, benefit.ID, customer.ID, grantdomain.Scope{
		SubscriptionID: task.SubscriptionID,
		OrderID:        task.OrderID,
	})
	if err != nil {
		if errors.Is(err, grantdomain.ErrInvalidScope) {
			m.IncOutcome(string(task.Kind), string(benefit.Type), "failed")
			return taskqueue.Result{Disposition: taskqueue.DispositionFailed, Reason: err.Error()}
		}
		return o.transientLoadFailure(task, err)
	}

	props, err := fulfiller.Grant(ctx, benefit, customer, record.Properties, task.IsUpdate, task.Attempts)
	if err != nil {
		return o.failure(ctx, log, m, task, benefit, customer, record, err)
	}

	record.Properties = datatypes.JSONMap(props)
	record.SetGranted(o.clock.Now())
	if err := o.grants.Update(ctx, o.db, record); err != nil {
		return o.transientLoadFailure(task, err)
	}

	log.Info("benefit granted", zap.Bool("update", task.IsUpdate))
	m.IncOutcome(string(task.Kind), string(benefit.Type), "succeeded")
	return taskqueue.Result{Disposition: taskqueue.DispositionSucceeded}
}

func (o *Orchestrator) revoke(
	ctx context.Context,
	log *zap.Logger,
	m *metrics.FulfillmentMetrics,
	task taskqueue.Task,
	benefit *benefitdomain.Benefit,
	customer *customerdomain.Customer,
	fulfiller Fulfiller,
) taskqueue.Result {
	record, err := o.grants.FindByPair(ctx, o.db, benefit.ID, customer.ID)
	if err != nil {
		if errors.Is(err, grantdomain.ErrNotFound) {
			// Nothing was ever granted; revoking it is a no-op.
			m.IncOutcome(string(task.Kind), string(benefit.Type), "succeeded")
			return taskqueue.Result{Disposition: taskqueue.DispositionSucceeded}
		}
		return o.transientLoadFailure(task, err)
	}
	if record.IsRevoked() {
		m.IncOutcome(string(task.Kind), string(benefit.Type), "succeeded")
		return taskqueue.Result{Disposition: taskqueue.DispositionSucceeded}
	}

	props, err := fulfiller.Revoke(ctx, benefit, customer, record.Properties, task.Attempts)
	if err != nil {
		return o.failure(ctx, log, m, task, benefit, customer, record, err)
	}

	record.Properties = datatypes.JSONMap(props)
	record.SetRevoked(o.clock.Now())
	if err := o.grants.Update(ctx, o.db, record); err != nil {
		return o.transientLoadFailure(task, err)
	}

	log.Info("benefit revoked")
	m.IncOutcome(string(task.Kind), string(benefit.Type), "succeeded")
	return taskqueue.Result{Disposition: taskqueue.DispositionSucceeded}
}

// failure classifies a fulfiller error into a queue disposition and applies
// the matching grant-record side effects. The grant state is left untouched
// except for the pending marker on action-required failures.
func (o *Orchestrator) failure(
	ctx context.Context,
	log *zap.Logger,
	m *metrics.FulfillmentMetrics,
	task taskqueue.Task,
	benefit *benefitdomain.Benefit,
	customer *customerdomain.Customer,
	record *grantdomain.Grant,
	err error,
) taskqueue.Result {
	kind := string(task.Kind)
	benefitType := string(benefit.Type)

	var retriable *RetriableError
	if errors.As(err, &retriable) {
		policy := o.policy.Get()
		if task.Attempts >= policy.MaxAttempts {
			log.Error("retry budget exhausted",
				zap.Int("max_attempts", policy.MaxAttempts),
				zap.Error(err),
			)
			m.IncDeadLetter(kind, benefitType)
			m.IncOutcome(kind, benefitType, "dead_letter")
			return taskqueue.Result{
				Disposition: taskqueue.DispositionFailed,
				Reason:      fmt.Sprintf("retry budget exhausted after %d attempts: %v", task.Attempts, err),
			}
		}

		delay := retriable.DeferFor
		if delay <= 0 {
			delay = Backoff(policy, task.Attempts)
		}
		m.IncOutcome(kind, benefitType, "retriable")
		return taskqueue.Result{
			Disposition: taskqueue.DispositionReschedule,
			RetryAfter:  delay,
			Reason:      err.Error(),
		}
	}

	var actionRequired *ActionRequiredError
	if errors.As(err, &actionRequired) {
		record.SetPending(actionRequired.Message)
		if updateErr := o.grants.Update(ctx, o.db, record); updateErr != nil {
			return o.transientLoadFailure(task, updateErr)
		}
		o.notify(ctx, log, customer, actionRequired)
		m.IncOutcome(kind, benefitType, "action_required")
		return taskqueue.Result{
			Disposition: taskqueue.DispositionActionRequired,
			Reason:      actionRequired.Message,
		}
	}

	log.Error("fulfillment failed permanently", zap.Error(err))
	m.IncOutcome(kind, benefitType, "failed")
	return taskqueue.Result{Disposition: taskqueue.DispositionFailed, Reason: err.Error()}
}

func (o *Orchestrator) notify(ctx context.Context, log *zap.Logger, customer *customerdomain.Customer, actionRequired *ActionRequiredError) {
	if actionRequired.Notification == nil {
		return
	}
	payload := *actionRequired.Notification
	if payload.ExtraContext == nil {
		payload.ExtraContext = map[string]string{}
	}
	payload.ExtraContext["CustomerName"] = customer.Name
	payload.ExtraContext["CustomerEmail"] = customer.Email
	if err := o.notifier.Send(ctx, customer, payload); err != nil {
		log.Warn("notification delivery failed", zap.Error(err))
	}
}

// transientLoadFailure reschedules infrastructure errors (database, token
// refresh persistence) under the normal backoff policy instead of failing
// the task outright.
func (o *Orchestrator) transientLoadFailure(task taskqueue.Task, err error) taskqueue.Result {
	policy := o.policy.Get()
	if task.Attempts >= policy.MaxAttempts {
		return taskqueue.Result{
			Disposition: taskqueue.DispositionFailed,
			Reason:      fmt.Sprintf("retry budget exhausted after %d attempts: %v", task.Attempts, err),
		}
	}
	return taskqueue.Result{
		Disposition: taskqueue.DispositionReschedule,
		RetryAfter:  Backoff(policy, task.Attempts),
		Reason:      err.Error(),
	}
}
