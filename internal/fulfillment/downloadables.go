package fulfillment

import (
	"context"
	"strconv"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
	customerdomain "github.com/smallbiznis/entitled/internal/customer/domain"
	"github.com/smallbiznis/entitled/internal/downloadable"
	"go.uber.org/zap"
)

// DownloadablesFulfiller grants per-file download access. Each file is an
// independent idempotent upsert; files deleted since the benefit was
// configured are skipped rather than failing the whole grant.
type DownloadablesFulfiller struct {
	files *downloadable.Service
	log   *zap.Logger
}

func NewDownloadablesFulfiller(files *downloadable.Service, log *zap.Logger) *DownloadablesFulfiller {
	return &DownloadablesFulfiller{
		files: files,
		log:   log.Named("fulfillment").With(zap.String("component", "downloadables")),
	}
}

func (f *DownloadablesFulfiller) Grant(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, update bool, attempt int) (Properties, error) {
	granted := make([]any, 0)
	for _, raw := range propStringSlice(benefit.Properties, "files") {
		fileID, err := parseFileID(raw)
		if err != nil {
			continue
		}
		if _, err := f.files.FindFile(ctx, fileID); err != nil {
			if err == downloadable.ErrFileNotFound {
				f.log.Warn("skipping missing file",
					zap.String("file_id", raw),
					zap.Int64("benefit_id", int64(benefit.ID)),
				)
				continue
			}
			return nil, err
		}
		grant, err := f.files.GrantFile(ctx, benefit.OrgID, customer.ID, benefit.ID, fileID)
		if err != nil {
			return nil, err
		}
		granted = append(granted, map[string]any{
			"file_id":         raw,
			"downloadable_id": strconv.FormatInt(int64(grant.ID), 10),
			"status":          string(grant.Status),
		})
	}
	return Properties{"files": granted}, nil
}

func (f *DownloadablesFulfiller) Revoke(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, attempt int) (Properties, error) {
	for _, entry := range propMapSlice(prior, "files") {
		fileID, err := parseFileID(propString(entry, "file_id"))
		if err != nil {
			continue
		}
		if _, err := f.files.RevokeFile(ctx, benefit.OrgID, customer.ID, benefit.ID, fileID); err != nil {
			return nil, err
		}
	}
	return Properties{}, nil
}

// RequiresUpdate compares the configured file sets order-independently:
// reordering files is not a change, adding or removing one is.
func (f *DownloadablesFulfiller) RequiresUpdate(benefit *benefitdomain.Benefit, previous Properties) bool {
	current := propStringSlice(benefit.Properties, "files")
	prev := propStringSlice(previous, "files")
	if len(current) != len(prev) {
		return true
	}
	seen := make(map[string]int, len(prev))
	for _, id := range prev {
		seen[id]++
	}
	for _, id := range current {
		if seen[id] == 0 {
			return true
		}
		seen[id]--
	}
	return false
}

func (f *DownloadablesFulfiller) ValidateProperties(ctx context.Context, orgID snowflake.ID, raw map[string]any) (Properties, error) {
	ids := propStringSlice(raw, "files")
	if len(ids) == 0 {
		return nil, invalidProperty([]string{"properties", "files"}, "too_short", "at least one file is required", raw["files"])
	}
	normalized := make([]any, 0, len(ids))
	for i, id := range ids {
		fileID, err := parseFileID(id)
		if err != nil {
			return nil, invalidProperty([]string{"properties", "files", strconv.Itoa(i)}, "int_parsing", "must be a file id", id)
		}
		file, err := f.files.FindFile(ctx, fileID)
		if err != nil {
			if err == downloadable.ErrFileNotFound {
				return nil, invalidProperty([]string{"properties", "files", strconv.Itoa(i)}, "value_error", "file does not exist", id)
			}
			return nil, err
		}
		if file.OrgID != orgID {
			return nil, invalidProperty([]string{"properties", "files", strconv.Itoa(i)}, "value_error", "file belongs to another organization", id)
		}
		normalized = append(normalized, id)
	}
	return Properties{"files": normalized}, nil
}

func parseFileID(raw string) (snowflake.ID, error) {
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return snowflake.ID(parsed), nil
}
