// Package domain contains the benefit entity: a configured perk an
// organization attaches to a product.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Type is the closed set of benefit variants. Adding a variant means adding
// a constant here, a fulfiller implementation, and a registry entry.
type Type string

const (
	TypeAds              Type = "ads"
	TypeArticles         Type = "articles"
	TypeCustom           Type = "custom"
	TypeDiscord          Type = "discord"
	TypeGitHubRepository Type = "github_repository"
	TypeDownloadables    Type = "downloadables"
	TypeLicenseKeys      Type = "license_keys"
)

func (t Type) Valid() bool {
	switch t {
	case TypeAds, TypeArticles, TypeCustom, TypeDiscord, TypeGitHubRepository, TypeDownloadables, TypeLicenseKeys:
		return true
	default:
		return false
	}
}

type Benefit struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	Type        Type              `gorm:"column:benefit_type;type:text;not null" json:"type"`
	Description string            `gorm:"not null;default:''" json:"description"`
	Properties  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"properties"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Benefit) TableName() string { return "benefits" }
