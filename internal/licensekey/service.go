package licensekey

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitled/internal/clock"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(db *gorm.DB, genID *snowflake.Node, clk clock.Clock) *Service {
	return &Service{db: db, genID: genID, clock: clk}
}

// IssueParams carries the benefit configuration applied to a new key.
type IssueParams struct {
	OrgID           snowflake.ID
	CustomerID      snowflake.ID
	BenefitID       snowflake.ID
	Prefix          string
	ActivationLimit *int
	UsageLimit      *int
	ExpiresAt       *time.Time
}

// Issue creates a new key for the customer.
func (s *Service) Issue(ctx context.Context, params IssueParams) (*LicenseKey, error) {
	raw, display, err := generateKey(params.Prefix)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	key := &LicenseKey{
		ID:              s.genID.Generate(),
		OrgID:           params.OrgID,
		CustomerID:      params.CustomerID,
		BenefitID:       params.BenefitID,
		Key:             raw,
		DisplayKey:      display,
		Status:          StatusGranted,
		ActivationLimit: params.ActivationLimit,
		UsageLimit:      params.UsageLimit,
		ExpiresAt:       params.ExpiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		return nil, err
	}
	return key, nil
}

// Reuse reactivates an existing key and refreshes its limits from the
// current benefit configuration. Re-granting after a revoke resumes the same
// key instead of issuing a fresh one.
func (s *Service) Reuse(ctx context.Context, id snowflake.ID, params IssueParams) (*LicenseKey, error) {
	key, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	key.Status = StatusGranted
	key.ActivationLimit = params.ActivationLimit
	key.UsageLimit = params.UsageLimit
	key.ExpiresAt = params.ExpiresAt
	key.UpdatedAt = s.clock.Now()
	if err := s.db.WithContext(ctx).Save(key).Error; err != nil {
		return nil, err
	}
	return key, nil
}

// Revoke marks the key revoked. The row is kept so a later re-grant can
// resume it.
func (s *Service) Revoke(ctx context.Context, id snowflake.ID) error {
	res := s.db.WithContext(ctx).Model(&LicenseKey{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     StatusRevoked,
			"updated_at": s.clock.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) FindByID(ctx context.Context, id snowflake.ID) (*LicenseKey, error) {
	var key LicenseKey
	err := s.db.WithContext(ctx).First(&key, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &key, nil
}

func generateKey(prefix string) (raw string, display string, err error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	encoded := strings.ToUpper(hex.EncodeToString(buf))
	groups := []string{encoded[0:8], encoded[8:16], encoded[16:24], encoded[24:32]}

	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "KEY"
	}
	raw = fmt.Sprintf("%s-%s", prefix, strings.Join(groups, "-"))
	display = fmt.Sprintf("%s-****-%s", prefix, groups[3])
	return raw, display, nil
}
