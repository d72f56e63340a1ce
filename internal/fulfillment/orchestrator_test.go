package fulfillment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
	benefitrepo "github.com/smallbiznis/entitled/internal/benefit/repository"
	"github.com/smallbiznis/entitled/internal/clock"
	"github.com/smallbiznis/entitled/internal/config"
	customerdomain "github.com/smallbiznis/entitled/internal/customer/domain"
	customerrepo "github.com/smallbiznis/entitled/internal/customer/repository"
	grantdomain "github.com/smallbiznis/entitled/internal/grant/domain"
	grantrepo "github.com/smallbiznis/entitled/internal/grant/repository"
	"github.com/smallbiznis/entitled/internal/notification"
	"github.com/smallbiznis/entitled/internal/taskqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type orchestratorFixture struct {
	db       *gorm.DB
	orch     *Orchestrator
	stub     *stubFulfiller
	grants   grantdomain.Repository
	notifier *captureNotifier
	clock    *clock.FakeClock
	benefit  *benefitdomain.Benefit
	customer *customerdomain.Customer
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	conn := newTestDB(t)
	node := newTestNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	benefit := &benefitdomain.Benefit{
		ID:         node.Generate(),
		OrgID:      node.Generate(),
		Type:       benefitdomain.TypeCustom,
		Properties: map[string]any{},
		CreatedAt:  clk.Now(),
		UpdatedAt:  clk.Now(),
	}
	require.NoError(t, conn.Create(benefit).Error)

	customer := &customerdomain.Customer{
		ID:        node.Generate(),
		OrgID:     benefit.OrgID,
		Email:     "holder@example.com",
		Name:      "Holder",
		CreatedAt: clk.Now(),
		UpdatedAt: clk.Now(),
	}
	require.NoError(t, conn.Create(customer).Error)

	stub := &stubFulfiller{}
	registry := &Registry{fulfillers: map[benefitdomain.Type]Fulfiller{
		benefitdomain.TypeCustom: stub,
	}}

	grants := grantrepo.NewRepository(node)
	notifier := &captureNotifier{}

	var policy *config.RetryPolicyHolder // nil holder falls back to defaults
	orch := NewOrchestrator(
		conn,
		registry,
		benefitrepo.NewRepository(),
		customerrepo.NewRepository(),
		grants,
		policy,
		notifier,
		clk,
		zap.NewNop(),
	)

	return &orchestratorFixture{
		db:       conn,
		orch:     orch,
		stub:     stub,
		grants:   grants,
		notifier: notifier,
		clock:    clk,
		benefit:  benefit,
		customer: customer,
	}
}

func (f *orchestratorFixture) task(kind taskqueue.Kind, attempts int) taskqueue.Task {
	return taskqueue.Task{
		OrgID:      f.benefit.OrgID,
		Kind:       kind,
		BenefitID:  f.benefit.ID,
		CustomerID: f.customer.ID,
		Attempts:   attempts,
	}
}

func TestOrchestratorGrantPersistsProperties(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.stub.grantFn = func(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, update bool, attempt int) (Properties, error) {
		return Properties{"license": "abc"}, nil
	}

	result := f.orch.Handle(context.Background(), f.task(taskqueue.KindGrant, 1))
	assert.Equal(t, taskqueue.DispositionSucceeded, result.Disposition)

	record, err := f.grants.FindByPair(context.Background(), f.db, f.benefit.ID, f.customer.ID)
	require.NoError(t, err)
	assert.True(t, record.IsGranted())
	assert.Nil(t, record.RevokedAt)
	assert.Nil(t, record.PendingReason)
	assert.Equal(t, "abc", record.Properties["license"])
	assert.Equal(t, f.clock.Now(), record.GrantedAt.UTC())
}

func TestOrchestratorGrantPassesPriorPropertiesOnUpdate(t *testing.T) {
	f := newOrchestratorFixture(t)

	var seenPrior Properties
	var seenUpdate bool
	f.stub.grantFn = func(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, update bool, attempt int) (Properties, error) {
		seenPrior = prior
		seenUpdate = update
		return Properties{"v": "2"}, nil
	}

	first := f.task(taskqueue.KindGrant, 1)
	result := f.orch.Handle(context.Background(), first)
	require.Equal(t, taskqueue.DispositionSucceeded, result.Disposition)

	f.stub.grantFn = func(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, update bool, attempt int) (Properties, error) {
		seenPrior = prior
		seenUpdate = update
		return Properties{"v": "3"}, nil
	}
	second := f.task(taskqueue.KindGrant, 1)
	second.IsUpdate = true
	result = f.orch.Handle(context.Background(), second)
	assert.Equal(t, taskqueue.DispositionSucceeded, result.Disposition)
	assert.True(t, seenUpdate)
	assert.Equal(t, "2", seenPrior["v"])
}

func TestOrchestratorRetriableHonorsDeferHint(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.stub.grantFn = func(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, update bool, attempt int) (Properties, error) {
		return nil, Retriable(30*time.Second, errors.New("rate limited"))
	}

	result := f.orch.Handle(context.Background(), f.task(taskqueue.KindGrant, 1))
	assert.Equal(t, taskqueue.DispositionReschedule, result.Disposition)
	assert.Equal(t, 30*time.Second, result.RetryAfter)
}

func TestOrchestratorRetriableFallsBackToPolicyBackoff(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.stub.grantFn = func(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, update bool, attempt int) (Properties, error) {
		return nil, Retriable(0, errors.New("provider unavailable"))
	}

	result := f.orch.Handle(context.Background(), f.task(taskqueue.KindGrant, 3))
	assert.Equal(t, taskqueue.DispositionReschedule, result.Disposition)
	assert.Equal(t, Backoff(config.DefaultRetryPolicy(), 3), result.RetryAfter)
}

func TestOrchestratorRetryBudgetExhausted(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.stub.grantFn = func(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, update bool, attempt int) (Properties, error) {
		return nil, Retriable(0, errors.New("provider unavailable"))
	}

	result := f.orch.Handle(context.Background(), f.task(taskqueue.KindGrant, config.DefaultRetryPolicy().MaxAttempts))
	assert.Equal(t, taskqueue.DispositionFailed, result.Disposition)
	assert.True(t, strings.Contains(result.Reason, "retry budget exhausted"), result.Reason)
}

func TestOrchestratorActionRequiredMarksPendingAndNotifies(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.stub.grantFn = func(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, update bool, attempt int) (Properties, error) {
		return nil, &ActionRequiredError{
			Message: "discord account not linked",
			Notification: &notification.Payload{
				SubjectTemplate: "Action needed",
				BodyTemplate:    "Hi {{.CustomerName}}, link your account.",
			},
		}
	}

	result := f.orch.Handle(context.Background(), f.task(taskqueue.KindGrant, 1))
	assert.Equal(t, taskqueue.DispositionActionRequired, result.Disposition)
	assert.Equal(t, "discord account not linked", result.Reason)

	record, err := f.grants.FindByPair(context.Background(), f.db, f.benefit.ID, f.customer.ID)
	require.NoError(t, err)
	assert.False(t, record.IsGranted())
	require.NotNil(t, record.PendingReason)
	assert.Equal(t, "discord account not linked", *record.PendingReason)

	require.Len(t, f.notifier.payloads, 1)
	assert.Equal(t, "Holder", f.notifier.payloads[0].ExtraContext["CustomerName"])
	assert.Equal(t, "holder@example.com", f.notifier.payloads[0].ExtraContext["CustomerEmail"])
}

func TestOrchestratorFatalErrorFailsWithoutGranting(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.stub.grantFn = func(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, update bool, attempt int) (Properties, error) {
		return nil, errors.New("misconfigured benefit")
	}

	result := f.orch.Handle(context.Background(), f.task(taskqueue.KindGrant, 1))
	assert.Equal(t, taskqueue.DispositionFailed, result.Disposition)

	record, err := f.grants.FindByPair(context.Background(), f.db, f.benefit.ID, f.customer.ID)
	require.NoError(t, err)
	assert.False(t, record.IsGranted())
	assert.Nil(t, record.PendingReason)
}

func TestOrchestratorRevokeWithoutGrantIsNoOp(t *testing.T) {
	f := newOrchestratorFixture(t)

	result := f.orch.Handle(context.Background(), f.task(taskqueue.KindRevoke, 1))
	assert.Equal(t, taskqueue.DispositionSucceeded, result.Disposition)
	assert.Zero(t, f.stub.revokeCalls)
}

func TestOrchestratorRevokeIsIdempotent(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.stub.grantFn = func(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, update bool, attempt int) (Properties, error) {
		return Properties{}, nil
	}

	require.Equal(t, taskqueue.DispositionSucceeded,
		f.orch.Handle(context.Background(), f.task(taskqueue.KindGrant, 1)).Disposition)
	require.Equal(t, taskqueue.DispositionSucceeded,
		f.orch.Handle(context.Background(), f.task(taskqueue.KindRevoke, 1)).Disposition)
	assert.Equal(t, 1, f.stub.revokeCalls)

	// Redelivered revoke must not reach the fulfiller again.
	result := f.orch.Handle(context.Background(), f.task(taskqueue.KindRevoke, 2))
	assert.Equal(t, taskqueue.DispositionSucceeded, result.Disposition)
	assert.Equal(t, 1, f.stub.revokeCalls)

	record, err := f.grants.FindByPair(context.Background(), f.db, f.benefit.ID, f.customer.ID)
	require.NoError(t, err)
	assert.True(t, record.IsRevoked())
	assert.Nil(t, record.GrantedAt)
}

func TestOrchestratorMissingBenefitFails(t *testing.T) {
	f := newOrchestratorFixture(t)

	task := f.task(taskqueue.KindGrant, 1)
	task.BenefitID = task.BenefitID + 1

	result := f.orch.Handle(context.Background(), task)
	assert.Equal(t, taskqueue.DispositionFailed, result.Disposition)
	assert.Equal(t, "benefit no longer exists", result.Reason)
}

func TestOrchestratorMissingCustomerFails(t *testing.T) {
	f := newOrchestratorFixture(t)

	task := f.task(taskqueue.KindGrant, 1)
	task.CustomerID = task.CustomerID + 1

	result := f.orch.Handle(context.Background(), task)
	assert.Equal(t, taskqueue.DispositionFailed, result.Disposition)
	assert.Equal(t, "customer no longer exists", result.Reason)
}
