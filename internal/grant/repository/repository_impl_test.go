package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
	"github.com/smallbiznis/entitled/internal/grant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newGrantDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&benefitdomain.Benefit{}, &domain.Grant{}))

	// SQLite needs a real UNIQUE index for the insert-race fallback to fire.
	conn.Exec("DROP INDEX IF EXISTS ux_benefit_grants_pair")
	conn.Exec("CREATE UNIQUE INDEX ux_benefit_grants_pair ON benefit_grants(benefit_id, customer_id)")
	return conn
}

func newBenefit(t *testing.T, conn *gorm.DB, node *snowflake.Node, benefitType benefitdomain.Type, props map[string]any) *benefitdomain.Benefit {
	t.Helper()
	benefit := &benefitdomain.Benefit{
		ID:         node.Generate(),
		OrgID:      node.Generate(),
		Type:       benefitType,
		Properties: props,
	}
	require.NoError(t, conn.Create(benefit).Error)
	return benefit
}

func TestFindOrCreateIsIdempotentPerPair(t *testing.T) {
	conn := newGrantDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo := NewRepository(node)

	benefit := newBenefit(t, conn, node, benefitdomain.TypeCustom, map[string]any{})
	customerID := node.Generate()
	subscriptionID := node.Generate()

	first, err := repo.FindOrCreate(context.Background(), conn, benefit.OrgID, benefit.ID, customerID, domain.Scope{
		SubscriptionID: &subscriptionID,
	})
	require.NoError(t, err)
	require.NotNil(t, first.SubscriptionID)
	assert.Nil(t, first.OrderID)
	assert.False(t, first.IsGranted())

	second, err := repo.FindOrCreate(context.Background(), conn, benefit.OrgID, benefit.ID, customerID, domain.Scope{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	// The existing row keeps its original scope.
	require.NotNil(t, second.SubscriptionID)
	assert.Equal(t, subscriptionID, *second.SubscriptionID)
}

func TestFindOrCreateRejectsDoubleScope(t *testing.T) {
	conn := newGrantDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo := NewRepository(node)

	subscriptionID := node.Generate()
	orderID := node.Generate()
	_, err = repo.FindOrCreate(context.Background(), conn, node.Generate(), node.Generate(), node.Generate(), domain.Scope{
		SubscriptionID: &subscriptionID,
		OrderID:        &orderID,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidScope)
}

func TestFindByPairNotFound(t *testing.T) {
	conn := newGrantDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo := NewRepository(node)

	_, err = repo.FindByPair(context.Background(), conn, node.Generate(), node.Generate())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGrantStateTransitionsAreMutuallyExclusive(t *testing.T) {
	conn := newGrantDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo := NewRepository(node)

	benefit := newBenefit(t, conn, node, benefitdomain.TypeCustom, map[string]any{})
	customerID := node.Generate()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	grant, err := repo.FindOrCreate(context.Background(), conn, benefit.OrgID, benefit.ID, customerID, domain.Scope{})
	require.NoError(t, err)

	grant.SetPending("account not linked")
	require.NoError(t, repo.Update(context.Background(), conn, grant))

	grant.SetGranted(now)
	require.NoError(t, repo.Update(context.Background(), conn, grant))

	stored, err := repo.FindByPair(context.Background(), conn, benefit.ID, customerID)
	require.NoError(t, err)
	assert.True(t, stored.IsGranted())
	assert.Nil(t, stored.RevokedAt)
	assert.Nil(t, stored.PendingReason)

	stored.SetRevoked(now.Add(time.Hour))
	require.NoError(t, repo.Update(context.Background(), conn, stored))

	stored, err = repo.FindByPair(context.Background(), conn, benefit.ID, customerID)
	require.NoError(t, err)
	assert.True(t, stored.IsRevoked())
	assert.False(t, stored.IsGranted())
	assert.Nil(t, stored.GrantedAt)
}

func TestListGrantedByBenefitExcludesRevoked(t *testing.T) {
	conn := newGrantDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo := NewRepository(node)

	benefit := newBenefit(t, conn, node, benefitdomain.TypeCustom, map[string]any{})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	active, err := repo.FindOrCreate(context.Background(), conn, benefit.OrgID, benefit.ID, node.Generate(), domain.Scope{})
	require.NoError(t, err)
	active.SetGranted(now)
	require.NoError(t, repo.Update(context.Background(), conn, active))

	revoked, err := repo.FindOrCreate(context.Background(), conn, benefit.OrgID, benefit.ID, node.Generate(), domain.Scope{})
	require.NoError(t, err)
	revoked.SetGranted(now)
	require.NoError(t, repo.Update(context.Background(), conn, revoked))
	revoked.SetRevoked(now)
	require.NoError(t, repo.Update(context.Background(), conn, revoked))

	// A row that was never granted (still pending) is excluded too.
	_, err = repo.FindOrCreate(context.Background(), conn, benefit.OrgID, benefit.ID, node.Generate(), domain.Scope{})
	require.NoError(t, err)

	granted, err := repo.ListGrantedByBenefit(context.Background(), conn, benefit.ID)
	require.NoError(t, err)
	require.Len(t, granted, 1)
	assert.Equal(t, active.ID, granted[0].ID)
}

func TestListGrantedByCustomerAndTypeJoinsBenefits(t *testing.T) {
	conn := newGrantDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo := NewRepository(node)

	customerID := node.Generate()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	paid := newBenefit(t, conn, node, benefitdomain.TypeArticles, map[string]any{"paid_articles": true})
	free := newBenefit(t, conn, node, benefitdomain.TypeArticles, map[string]any{"paid_articles": false})
	other := newBenefit(t, conn, node, benefitdomain.TypeCustom, map[string]any{})

	for _, b := range []*benefitdomain.Benefit{paid, free, other} {
		grant, err := repo.FindOrCreate(context.Background(), conn, b.OrgID, b.ID, customerID, domain.Scope{})
		require.NoError(t, err)
		grant.SetGranted(now)
		require.NoError(t, repo.Update(context.Background(), conn, grant))
	}

	// Excluding the free benefit leaves only the paid one; the custom
	// benefit never matches the type filter.
	results, err := repo.ListGrantedByCustomerAndType(context.Background(), conn, customerID, benefitdomain.TypeArticles, free.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, paid.ID, results[0].Benefit.ID)
	assert.Equal(t, true, results[0].Benefit.Properties["paid_articles"])

	count, err := repo.CountGrantedByCustomerAndType(context.Background(), conn, customerID, benefitdomain.TypeArticles, free.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
