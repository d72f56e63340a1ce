// Package domain contains persistence models for customers and their linked
// external accounts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Customer struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index" json:"organization_id"`
	Email     string       `gorm:"not null" json:"email"`
	Name      string       `gorm:"not null" json:"name"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }

// Platform identifies an external OAuth provider a customer can link.
type Platform string

const (
	PlatformDiscord Platform = "discord"
	PlatformGitHub  Platform = "github"
)

// LinkedAccount is a customer's OAuth identity on an external platform.
// Fulfillers depend on it to address the customer on that platform and to
// authenticate user-scoped API calls.
type LinkedAccount struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	CustomerID      snowflake.ID `gorm:"not null;index:ux_customer_accounts_platform,priority:1" json:"customer_id"`
	Platform        Platform     `gorm:"type:text;not null;index:ux_customer_accounts_platform,priority:2" json:"platform"`
	AccountID       string       `gorm:"not null" json:"account_id"`
	AccountUsername string       `gorm:"not null;default:''" json:"account_username"`
	AccessToken     string       `gorm:"not null;default:''" json:"-"`
	RefreshToken    *string      `gorm:"" json:"-"`
	ExpiresAt       *time.Time   `gorm:"" json:"expires_at,omitempty"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (LinkedAccount) TableName() string { return "customer_accounts" }

// TokenExpired reports whether the access token is past its expiry at the
// given instant. Accounts without an expiry never expire.
func (a *LinkedAccount) TokenExpired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}
