package fulfillment

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitled/internal/articles"
	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
	"github.com/smallbiznis/entitled/internal/clock"
	customerdomain "github.com/smallbiznis/entitled/internal/customer/domain"
	grantdomain "github.com/smallbiznis/entitled/internal/grant/domain"
	grantrepo "github.com/smallbiznis/entitled/internal/grant/repository"
	"github.com/smallbiznis/entitled/internal/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type articlesFixture struct {
	db        *gorm.DB
	node      *snowflake.Node
	clock     *clock.FakeClock
	store     *articles.Store
	grants    grantdomain.Repository
	fulfiller *ArticlesFulfiller
	orgID     snowflake.ID
	customer  *customerdomain.Customer
}

func newArticlesFixture(t *testing.T) *articlesFixture {
	t.Helper()

	conn := newTestDB(t)
	node := newTestNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := articles.NewStore(conn, clk)
	grants := grantrepo.NewRepository(node)

	orgID := node.Generate()
	customer := &customerdomain.Customer{
		ID:        node.Generate(),
		OrgID:     orgID,
		Email:     "reader@example.com",
		Name:      "Reader",
		CreatedAt: clk.Now(),
		UpdatedAt: clk.Now(),
	}
	require.NoError(t, conn.Create(customer).Error)

	return &articlesFixture{
		db:        conn,
		node:      node,
		clock:     clk,
		store:     store,
		grants:    grants,
		fulfiller: NewArticlesFulfiller(conn, store, grants, lock.NewMemoryLocker(), clk, zap.NewNop()),
		orgID:     orgID,
		customer:  customer,
	}
}

// newArticlesBenefit creates a benefit row plus a granted benefit_grants row
// for the fixture customer, the state other concurrent grants leave behind.
func (f *articlesFixture) newArticlesBenefit(t *testing.T, paid bool, granted bool) *benefitdomain.Benefit {
	t.Helper()

	benefit := &benefitdomain.Benefit{
		ID:         f.node.Generate(),
		OrgID:      f.orgID,
		Type:       benefitdomain.TypeArticles,
		Properties: map[string]any{"paid_articles": paid},
		CreatedAt:  f.clock.Now(),
		UpdatedAt:  f.clock.Now(),
	}
	require.NoError(t, f.db.Create(benefit).Error)

	if granted {
		record, err := f.grants.FindOrCreate(context.Background(), f.db, f.orgID, benefit.ID, f.customer.ID, grantdomain.Scope{})
		require.NoError(t, err)
		record.SetGranted(f.clock.Now())
		require.NoError(t, f.grants.Update(context.Background(), f.db, record))
	}
	return benefit
}

func TestArticlesGrantCreatesAggregate(t *testing.T) {
	f := newArticlesFixture(t)
	benefit := f.newArticlesBenefit(t, true, false)

	props, err := f.fulfiller.Grant(context.Background(), benefit, f.customer, nil, false, 1)
	require.NoError(t, err)
	assert.Equal(t, true, props["paid_articles"])

	sub, err := f.store.Get(context.Background(), f.customer.ID)
	require.NoError(t, err)
	assert.True(t, sub.PaidSubscriber)
	assert.Equal(t, f.orgID, sub.OrgID)
}

func TestArticlesGrantInheritsPaidFromOtherGrants(t *testing.T) {
	f := newArticlesFixture(t)
	f.newArticlesBenefit(t, true, true)
	free := f.newArticlesBenefit(t, false, false)

	// The free benefit's own flag stays false, but the aggregate must stay
	// paid because the paid grant is still active.
	props, err := f.fulfiller.Grant(context.Background(), free, f.customer, nil, false, 1)
	require.NoError(t, err)
	assert.Equal(t, false, props["paid_articles"])

	sub, err := f.store.Get(context.Background(), f.customer.ID)
	require.NoError(t, err)
	assert.True(t, sub.PaidSubscriber)
}

func TestArticlesRevokeRecountsSurvivors(t *testing.T) {
	f := newArticlesFixture(t)
	paid := f.newArticlesBenefit(t, true, true)
	free := f.newArticlesBenefit(t, false, true)
	require.NoError(t, f.store.Upsert(context.Background(), f.orgID, f.customer.ID, true))

	// Revoking the paid grant leaves only the free one; aggregate drops to
	// free but survives. The fulfiller flips the grant row itself, inside
	// its lock.
	_, err := f.fulfiller.Revoke(context.Background(), paid, f.customer, nil, 1)
	require.NoError(t, err)

	record, err := f.grants.FindByPair(context.Background(), f.db, paid.ID, f.customer.ID)
	require.NoError(t, err)
	assert.True(t, record.IsRevoked())

	sub, err := f.store.Get(context.Background(), f.customer.ID)
	require.NoError(t, err)
	assert.False(t, sub.PaidSubscriber)

	// Revoking the last grant removes the aggregate entirely.
	_, err = f.fulfiller.Revoke(context.Background(), free, f.customer, nil, 1)
	require.NoError(t, err)

	_, err = f.store.Get(context.Background(), f.customer.ID)
	assert.ErrorIs(t, err, articles.ErrNotFound)
}

func TestArticlesRevokeKeepsPaidWhilePaidGrantSurvives(t *testing.T) {
	f := newArticlesFixture(t)
	f.newArticlesBenefit(t, true, true)
	free := f.newArticlesBenefit(t, false, true)
	require.NoError(t, f.store.Upsert(context.Background(), f.orgID, f.customer.ID, true))

	_, err := f.fulfiller.Revoke(context.Background(), free, f.customer, nil, 1)
	require.NoError(t, err)

	sub, err := f.store.Get(context.Background(), f.customer.ID)
	require.NoError(t, err)
	assert.True(t, sub.PaidSubscriber)
}

// A customer upgrading (paid grant) while their old tier is cancelled (free
// revoke) must end up with paid access no matter how the two tasks
// interleave. The hostile ordering is: the grant's critical section finishes
// first and the revoke runs before the queue persists the grant's record, so
// the revoke's recount must already see the new paid grant.
func TestArticlesConcurrentUpgradeConverges(t *testing.T) {
	f := newArticlesFixture(t)
	oldTier := f.newArticlesBenefit(t, false, true)
	require.NoError(t, f.store.Upsert(context.Background(), f.orgID, f.customer.ID, false))

	upgrade := f.newArticlesBenefit(t, true, false)
	_, err := f.grants.FindOrCreate(context.Background(), f.db, f.orgID, upgrade.ID, f.customer.ID, grantdomain.Scope{})
	require.NoError(t, err)

	_, err = f.fulfiller.Grant(context.Background(), upgrade, f.customer, nil, false, 1)
	require.NoError(t, err)

	// The grant row is already flagged; the queue's own persistence has not
	// happened yet when the racing revoke executes.
	record, err := f.grants.FindByPair(context.Background(), f.db, upgrade.ID, f.customer.ID)
	require.NoError(t, err)
	require.True(t, record.IsGranted())

	_, err = f.fulfiller.Revoke(context.Background(), oldTier, f.customer, nil, 1)
	require.NoError(t, err)

	sub, err := f.store.Get(context.Background(), f.customer.ID)
	require.NoError(t, err)
	assert.True(t, sub.PaidSubscriber)
}

func TestArticlesGrantRetriableWhenLockHeld(t *testing.T) {
	f := newArticlesFixture(t)
	benefit := f.newArticlesBenefit(t, false, false)

	locker := lock.NewMemoryLocker()
	f.fulfiller = NewArticlesFulfiller(f.db, f.store, f.grants, locker, f.clock, zap.NewNop())

	guard, err := locker.Acquire(context.Background(), articlesLockKey(f.customer.ID), time.Millisecond, time.Minute)
	require.NoError(t, err)
	defer guard.Release(context.Background())

	_, err = f.fulfiller.Grant(context.Background(), benefit, f.customer, nil, false, 1)
	var retriable *RetriableError
	require.ErrorAs(t, err, &retriable)
	assert.ErrorIs(t, retriable.Cause, lock.ErrNotAcquired)
}

func TestArticlesRequiresUpdateNever(t *testing.T) {
	f := newArticlesFixture(t)
	benefit := f.newArticlesBenefit(t, true, false)

	// The aggregate is re-derived on every grant and revoke; even a paid
	// flip needs no re-grant fan-out.
	assert.False(t, f.fulfiller.RequiresUpdate(benefit, Properties{"paid_articles": false}))
	assert.False(t, f.fulfiller.RequiresUpdate(benefit, Properties{"paid_articles": true}))
}

func TestArticlesValidatePropertiesRejectsNonBool(t *testing.T) {
	f := newArticlesFixture(t)

	props, err := f.fulfiller.ValidateProperties(context.Background(), f.orgID, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, false, props["paid_articles"])

	_, err = f.fulfiller.ValidateProperties(context.Background(), f.orgID, map[string]any{"paid_articles": "yes"})
	var validation *ValidationErrors
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, []string{"properties", "paid_articles"}, validation.Errors[0].Loc)
}
