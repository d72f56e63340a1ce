package fulfillment

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
	customerdomain "github.com/smallbiznis/entitled/internal/customer/domain"
	grantdomain "github.com/smallbiznis/entitled/internal/grant/domain"
	"github.com/smallbiznis/entitled/internal/articles"
	"github.com/smallbiznis/entitled/internal/downloadable"
	"github.com/smallbiznis/entitled/internal/licensekey"
	"github.com/smallbiznis/entitled/internal/notification"
	"github.com/smallbiznis/entitled/internal/taskqueue"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, conn.AutoMigrate(
		&benefitdomain.Benefit{},
		&customerdomain.Customer{},
		&customerdomain.LinkedAccount{},
		&grantdomain.Grant{},
		&articles.Subscription{},
		&licensekey.LicenseKey{},
		&downloadable.File{},
		&downloadable.DownloadGrant{},
		&taskqueue.Task{},
	))

	// SQLite needs real UNIQUE indexes for ON CONFLICT upserts; the model
	// tags only declare plain composite indexes.
	conn.Exec("DROP INDEX IF EXISTS ux_benefit_grants_pair")
	conn.Exec("CREATE UNIQUE INDEX ux_benefit_grants_pair ON benefit_grants(benefit_id, customer_id)")
	conn.Exec("DROP INDEX IF EXISTS ux_file_download_grants")
	conn.Exec("CREATE UNIQUE INDEX ux_file_download_grants ON file_download_grants(customer_id, file_id, benefit_id)")
	conn.Exec("DROP INDEX IF EXISTS ux_customer_accounts_platform")
	conn.Exec("CREATE UNIQUE INDEX ux_customer_accounts_platform ON customer_accounts(customer_id, platform)")

	return conn
}

func newTestNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// stubFulfiller lets orchestrator tests script each outcome.
type stubFulfiller struct {
	grantFn  func(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, update bool, attempt int) (Properties, error)
	revokeFn func(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, attempt int) (Properties, error)

	grantCalls  int
	revokeCalls int
}

func (s *stubFulfiller) Grant(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, update bool, attempt int) (Properties, error) {
	s.grantCalls++
	if s.grantFn == nil {
		return Properties{}, nil
	}
	return s.grantFn(ctx, benefit, customer, prior, update, attempt)
}

func (s *stubFulfiller) Revoke(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, attempt int) (Properties, error) {
	s.revokeCalls++
	if s.revokeFn == nil {
		return Properties{}, nil
	}
	return s.revokeFn(ctx, benefit, customer, prior, attempt)
}

func (s *stubFulfiller) RequiresUpdate(benefit *benefitdomain.Benefit, previous Properties) bool {
	return false
}

func (s *stubFulfiller) ValidateProperties(ctx context.Context, orgID snowflake.ID, raw map[string]any) (Properties, error) {
	return Properties(raw), nil
}

// captureNotifier records delivered payloads.
type captureNotifier struct {
	payloads []notification.Payload
}

func (n *captureNotifier) Send(ctx context.Context, customer *customerdomain.Customer, payload notification.Payload) error {
	n.payloads = append(n.payloads, payload)
	return nil
}
