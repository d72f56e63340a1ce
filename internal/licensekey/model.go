// Package licensekey issues and revokes customer license keys backing the
// license_keys benefit type.
package licensekey

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusGranted Status = "granted"
	StatusRevoked Status = "revoked"
)

type LicenseKey struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID           snowflake.ID `gorm:"not null;index" json:"organization_id"`
	CustomerID      snowflake.ID `gorm:"not null;index" json:"customer_id"`
	BenefitID       snowflake.ID `gorm:"not null;index" json:"benefit_id"`
	Key             string       `gorm:"not null" json:"-"`
	DisplayKey      string       `gorm:"not null" json:"display_key"`
	Status          Status       `gorm:"type:text;not null;default:'granted'" json:"status"`
	ActivationLimit *int         `gorm:"" json:"activation_limit,omitempty"`
	UsageLimit      *int         `gorm:"" json:"usage_limit,omitempty"`
	Usage           int          `gorm:"not null;default:0" json:"usage"`
	ExpiresAt       *time.Time   `gorm:"" json:"expires_at,omitempty"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (LicenseKey) TableName() string { return "license_keys" }

var ErrNotFound = errors.New("license_key_not_found")
