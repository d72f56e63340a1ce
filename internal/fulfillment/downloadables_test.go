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
	"github.com/smallbiznis/entitled/internal/downloadable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type downloadablesFixture struct {
	db        *gorm.DB
	node      *snowflake.Node
	clock     *clock.FakeClock
	files     *downloadable.Service
	fulfiller *DownloadablesFulfiller
	orgID     snowflake.ID
	customer  *customerdomain.Customer
}

func newDownloadablesFixture(t *testing.T) *downloadablesFixture {
	t.Helper()

	conn := newTestDB(t)
	node := newTestNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	files := downloadable.NewService(conn, node, clk)

	orgID := node.Generate()
	customer := &customerdomain.Customer{
		ID:    node.Generate(),
		OrgID: orgID,
		Email: "buyer@example.com",
		Name:  "Buyer",
	}
	require.NoError(t, conn.Create(customer).Error)

	return &downloadablesFixture{
		db:        conn,
		node:      node,
		clock:     clk,
		files:     files,
		fulfiller: NewDownloadablesFulfiller(files, zap.NewNop()),
		orgID:     orgID,
		customer:  customer,
	}
}

func (f *downloadablesFixture) newFile(t *testing.T, name string) *downloadable.File {
	t.Helper()
	file := &downloadable.File{
		ID:        f.node.Generate(),
		OrgID:     f.orgID,
		Name:      name,
		CreatedAt: f.clock.Now(),
	}
	require.NoError(t, f.db.Create(file).Error)
	return file
}

func (f *downloadablesFixture) newBenefit(fileIDs ...snowflake.ID) *benefitdomain.Benefit {
	raw := make([]any, 0, len(fileIDs))
	for _, id := range fileIDs {
		raw = append(raw, strconv.FormatInt(int64(id), 10))
	}
	return &benefitdomain.Benefit{
		ID:         f.node.Generate(),
		OrgID:      f.orgID,
		Type:       benefitdomain.TypeDownloadables,
		Properties: map[string]any{"files": raw},
	}
}

func TestDownloadablesGrantRecordsEachFile(t *testing.T) {
	f := newDownloadablesFixture(t)
	first := f.newFile(t, "guide.pdf")
	second := f.newFile(t, "assets.zip")
	benefit := f.newBenefit(first.ID, second.ID)

	props, err := f.fulfiller.Grant(context.Background(), benefit, f.customer, nil, false, 1)
	require.NoError(t, err)

	entries := propMapSlice(props, "files")
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, string(downloadable.StatusGranted), propString(entry, "status"))
		assert.NotEmpty(t, propString(entry, "downloadable_id"))
	}
}

func TestDownloadablesGrantSkipsMissingFiles(t *testing.T) {
	f := newDownloadablesFixture(t)
	existing := f.newFile(t, "guide.pdf")
	benefit := f.newBenefit(existing.ID, f.node.Generate())

	props, err := f.fulfiller.Grant(context.Background(), benefit, f.customer, nil, false, 1)
	require.NoError(t, err)

	entries := propMapSlice(props, "files")
	require.Len(t, entries, 1)
	assert.Equal(t, strconv.FormatInt(int64(existing.ID), 10), propString(entries[0], "file_id"))
}

func TestDownloadablesRevokeFlipsStatus(t *testing.T) {
	f := newDownloadablesFixture(t)
	file := f.newFile(t, "guide.pdf")
	benefit := f.newBenefit(file.ID)

	granted, err := f.fulfiller.Grant(context.Background(), benefit, f.customer, nil, false, 1)
	require.NoError(t, err)

	_, err = f.fulfiller.Revoke(context.Background(), benefit, f.customer, granted, 1)
	require.NoError(t, err)

	stored, err := f.files.RevokeFile(context.Background(), f.orgID, f.customer.ID, benefit.ID, file.ID)
	require.NoError(t, err)
	assert.Equal(t, downloadable.StatusRevoked, stored.Status)
}

func TestDownloadablesRegrantReusesRow(t *testing.T) {
	f := newDownloadablesFixture(t)
	file := f.newFile(t, "guide.pdf")
	benefit := f.newBenefit(file.ID)

	granted, err := f.fulfiller.Grant(context.Background(), benefit, f.customer, nil, false, 1)
	require.NoError(t, err)
	firstID := propString(propMapSlice(granted, "files")[0], "downloadable_id")

	_, err = f.fulfiller.Revoke(context.Background(), benefit, f.customer, granted, 1)
	require.NoError(t, err)

	regranted, err := f.fulfiller.Grant(context.Background(), benefit, f.customer, Properties{}, false, 1)
	require.NoError(t, err)
	entries := propMapSlice(regranted, "files")
	require.Len(t, entries, 1)
	assert.Equal(t, firstID, propString(entries[0], "downloadable_id"))
	assert.Equal(t, string(downloadable.StatusGranted), propString(entries[0], "status"))
}

func TestDownloadablesRequiresUpdateIgnoresOrder(t *testing.T) {
	f := newDownloadablesFixture(t)
	benefit := f.newBenefit(1, 2, 3)

	assert.False(t, f.fulfiller.RequiresUpdate(benefit, Properties{
		"files": []any{"3", "1", "2"},
	}))
	assert.True(t, f.fulfiller.RequiresUpdate(benefit, Properties{
		"files": []any{"1", "2"},
	}))
	assert.True(t, f.fulfiller.RequiresUpdate(benefit, Properties{
		"files": []any{"1", "2", "4"},
	}))
	// Duplicates count: {1,1,2} differs from {1,2,2}.
	dup := f.newBenefit(1, 1, 2)
	assert.True(t, f.fulfiller.RequiresUpdate(dup, Properties{
		"files": []any{"1", "2", "2"},
	}))
}

func TestDownloadablesValidateProperties(t *testing.T) {
	f := newDownloadablesFixture(t)
	file := f.newFile(t, "guide.pdf")

	props, err := f.fulfiller.ValidateProperties(context.Background(), f.orgID, map[string]any{
		"files": []any{strconv.FormatInt(int64(file.ID), 10)},
	})
	require.NoError(t, err)
	assert.Len(t, propStringSlice(props, "files"), 1)

	var validation *ValidationErrors
	_, err = f.fulfiller.ValidateProperties(context.Background(), f.orgID, map[string]any{})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "too_short", validation.Errors[0].Type)

	_, err = f.fulfiller.ValidateProperties(context.Background(), f.orgID, map[string]any{
		"files": []any{"999"},
	})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "value_error", validation.Errors[0].Type)

	otherOrg := &downloadable.File{ID: f.node.Generate(), OrgID: f.node.Generate(), Name: "foreign.pdf", CreatedAt: f.clock.Now()}
	require.NoError(t, f.db.Create(otherOrg).Error)
	_, err = f.fulfiller.ValidateProperties(context.Background(), f.orgID, map[string]any{
		"files": []any{strconv.FormatInt(int64(otherOrg.ID), 10)},
	})
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "file belongs to another organization", validation.Errors[0].Message)
}
