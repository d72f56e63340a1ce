package fulfillment

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
	"github.com/smallbiznis/entitled/internal/clock"
	customerdomain "github.com/smallbiznis/entitled/internal/customer/domain"
	"github.com/smallbiznis/entitled/internal/licensekey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type licenseKeysFixture struct {
	db        *gorm.DB
	clock     *clock.FakeClock
	keys      *licensekey.Service
	fulfiller *LicenseKeysFulfiller
	benefit   *benefitdomain.Benefit
	customer  *customerdomain.Customer
}

func newLicenseKeysFixture(t *testing.T, props map[string]any) *licenseKeysFixture {
	t.Helper()

	conn := newTestDB(t)
	node := newTestNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	keys := licensekey.NewService(conn, node, clk)

	orgID := node.Generate()
	benefit := &benefitdomain.Benefit{
		ID:         node.Generate(),
		OrgID:      orgID,
		Type:       benefitdomain.TypeLicenseKeys,
		Properties: props,
		CreatedAt:  clk.Now(),
		UpdatedAt:  clk.Now(),
	}
	customer := &customerdomain.Customer{
		ID:    node.Generate(),
		OrgID: orgID,
		Email: "dev@example.com",
		Name:  "Dev",
	}
	require.NoError(t, conn.Create(benefit).Error)
	require.NoError(t, conn.Create(customer).Error)

	return &licenseKeysFixture{
		db:        conn,
		clock:     clk,
		keys:      keys,
		fulfiller: NewLicenseKeysFulfiller(keys, clk, zap.NewNop()),
		benefit:   benefit,
		customer:  customer,
	}
}

func TestLicenseKeysGrantIssuesKey(t *testing.T) {
	f := newLicenseKeysFixture(t, map[string]any{
		"prefix":       "ACME",
		"expires_days": float64(30),
	})

	props, err := f.fulfiller.Grant(context.Background(), f.benefit, f.customer, nil, false, 1)
	require.NoError(t, err)

	rawID, _ := props["license_key_id"].(string)
	id, err := strconv.ParseInt(rawID, 10, 64)
	require.NoError(t, err)

	key, err := f.keys.FindByID(context.Background(), snowflake.ID(id))
	require.NoError(t, err)
	assert.Equal(t, licensekey.StatusGranted, key.Status)
	assert.Equal(t, f.customer.ID, key.CustomerID)
	assert.Equal(t, key.DisplayKey, props["display_key"])
	require.NotNil(t, key.ExpiresAt)
	assert.Equal(t, f.clock.Now().Add(30*24*time.Hour), key.ExpiresAt.UTC())
}

func TestLicenseKeysRevokeKeepsReference(t *testing.T) {
	f := newLicenseKeysFixture(t, map[string]any{"prefix": "ACME"})

	granted, err := f.fulfiller.Grant(context.Background(), f.benefit, f.customer, nil, false, 1)
	require.NoError(t, err)

	revoked, err := f.fulfiller.Revoke(context.Background(), f.benefit, f.customer, granted, 1)
	require.NoError(t, err)
	assert.Equal(t, granted["license_key_id"], revoked["license_key_id"])
	assert.Equal(t, granted["display_key"], revoked["display_key"])

	id, ok := priorKeyID(revoked)
	require.True(t, ok)
	key, err := f.keys.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, licensekey.StatusRevoked, key.Status)
}

func TestLicenseKeysRegrantResumesSameKey(t *testing.T) {
	f := newLicenseKeysFixture(t, map[string]any{"prefix": "ACME"})

	granted, err := f.fulfiller.Grant(context.Background(), f.benefit, f.customer, nil, false, 1)
	require.NoError(t, err)
	revoked, err := f.fulfiller.Revoke(context.Background(), f.benefit, f.customer, granted, 1)
	require.NoError(t, err)

	regranted, err := f.fulfiller.Grant(context.Background(), f.benefit, f.customer, revoked, false, 1)
	require.NoError(t, err)
	assert.Equal(t, granted["license_key_id"], regranted["license_key_id"])

	id, _ := priorKeyID(regranted)
	key, err := f.keys.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, licensekey.StatusGranted, key.Status)
}

func TestLicenseKeysGrantIssuesFreshKeyWhenReferenceMissing(t *testing.T) {
	f := newLicenseKeysFixture(t, map[string]any{"prefix": "ACME"})

	stale := Properties{"license_key_id": "123456789", "display_key": "ACME-****-GONE"}
	props, err := f.fulfiller.Grant(context.Background(), f.benefit, f.customer, stale, false, 1)
	require.NoError(t, err)
	assert.NotEqual(t, stale["license_key_id"], props["license_key_id"])
}

func TestLicenseKeysRevokeWithoutReferenceIsNoOp(t *testing.T) {
	f := newLicenseKeysFixture(t, map[string]any{})

	props, err := f.fulfiller.Revoke(context.Background(), f.benefit, f.customer, nil, 1)
	require.NoError(t, err)
	assert.Empty(t, props)
}

func TestLicenseKeysRequiresUpdateOnLimitChange(t *testing.T) {
	f := newLicenseKeysFixture(t, map[string]any{
		"expires_days":     float64(30),
		"activation_limit": float64(5),
	})

	assert.False(t, f.fulfiller.RequiresUpdate(f.benefit, Properties{
		"expires_days":     float64(30),
		"activation_limit": float64(5),
	}))
	assert.True(t, f.fulfiller.RequiresUpdate(f.benefit, Properties{
		"expires_days":     float64(60),
		"activation_limit": float64(5),
	}))
	// Adding a limit that was previously unset is also a change.
	assert.True(t, f.fulfiller.RequiresUpdate(f.benefit, Properties{
		"expires_days": float64(30),
	}))
	// Prefix changes only affect future keys; existing holders keep theirs.
	assert.False(t, f.fulfiller.RequiresUpdate(f.benefit, Properties{
		"expires_days":     float64(30),
		"activation_limit": float64(5),
		"prefix":           "OLD",
	}))
}

func TestLicenseKeysValidateProperties(t *testing.T) {
	f := newLicenseKeysFixture(t, map[string]any{})

	props, err := f.fulfiller.ValidateProperties(context.Background(), f.benefit.OrgID, map[string]any{
		"prefix":       "ACME",
		"expires_days": float64(14),
	})
	require.NoError(t, err)
	assert.Equal(t, "ACME", props["prefix"])
	assert.Equal(t, 14, props["expires_days"])

	_, err = f.fulfiller.ValidateProperties(context.Background(), f.benefit.OrgID, map[string]any{
		"expires_days": float64(-1),
	})
	var validation *ValidationErrors
	require.ErrorAs(t, err, &validation)

	_, err = f.fulfiller.ValidateProperties(context.Background(), f.benefit.OrgID, map[string]any{
		"prefix": 42,
	})
	require.ErrorAs(t, err, &validation)
}
