// Package downloadable manages per-file download grants backing the
// downloadables benefit type.
package downloadable

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitled/internal/clock"
	"github.com/smallbiznis/entitled/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Status string

const (
	StatusGranted Status = "granted"
	StatusRevoked Status = "revoked"
)

type File struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index" json:"organization_id"`
	Name      string       `gorm:"not null" json:"name"`
	DeletedAt *time.Time   `gorm:"" json:"deleted_at,omitempty"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (File) TableName() string { return "files" }

// DownloadGrant is one customer's permission on one file under one benefit.
// The (customer, file, benefit) triple is unique; grant and revoke are
// independent idempotent upserts with no cross-file transactionality.
type DownloadGrant struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID `gorm:"not null" json:"organization_id"`
	CustomerID snowflake.ID `gorm:"not null;index:ux_file_download_grants,priority:1" json:"customer_id"`
	FileID     snowflake.ID `gorm:"not null;index:ux_file_download_grants,priority:2" json:"file_id"`
	BenefitID  snowflake.ID `gorm:"not null;index:ux_file_download_grants,priority:3" json:"benefit_id"`
	Status     Status       `gorm:"type:text;not null;default:'granted'" json:"status"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (DownloadGrant) TableName() string { return "file_download_grants" }

var ErrFileNotFound = errors.New("file_not_found")

type Service struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(conn *gorm.DB, genID *snowflake.Node, clk clock.Clock) *Service {
	return &Service{db: conn, genID: genID, clock: clk}
}

func (s *Service) FindFile(ctx context.Context, id snowflake.ID) (*File, error) {
	var file File
	err := s.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return &file, nil
}

// GrantFile flips the customer's grant on the file to granted, creating the
// row when missing.
func (s *Service) GrantFile(ctx context.Context, orgID, customerID, benefitID, fileID snowflake.ID) (*DownloadGrant, error) {
	return s.upsert(ctx, orgID, customerID, benefitID, fileID, StatusGranted)
}

// RevokeFile flips the grant to revoked. Revoking a file that was never
// granted is a no-op that still records the revoked state.
func (s *Service) RevokeFile(ctx context.Context, orgID, customerID, benefitID, fileID snowflake.ID) (*DownloadGrant, error) {
	return s.upsert(ctx, orgID, customerID, benefitID, fileID, StatusRevoked)
}

func (s *Service) upsert(ctx context.Context, orgID, customerID, benefitID, fileID snowflake.ID, status Status) (*DownloadGrant, error) {
	now := s.clock.Now()
	grant := &DownloadGrant{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		CustomerID: customerID,
		FileID:     fileID,
		BenefitID:  benefitID,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "customer_id"}, {Name: "file_id"}, {Name: "benefit_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
	}).Create(grant).Error
	if err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
	}

	var stored DownloadGrant
	err = s.db.WithContext(ctx).
		Where("customer_id = ? AND file_id = ? AND benefit_id = ?", customerID, fileID, benefitID).
		First(&stored).Error
	if err != nil {
		return nil, err
	}
	return &stored, nil
}
