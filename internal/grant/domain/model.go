// Package domain contains the benefit grant entity: the persisted record
// that a customer currently has, or previously had, a specific benefit.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Grant is one row per (benefit, customer) pair. Rows are never hard-deleted;
// revoked grants remain for audit and potential re-grant.
//
// granted_at and revoked_at are mutually exclusive. Properties are fulfiller
// specific and always replaced wholesale on each grant/revoke.
type Grant struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	BenefitID      snowflake.ID      `gorm:"not null;index:ux_benefit_grants_pair,priority:1" json:"benefit_id"`
	CustomerID     snowflake.ID      `gorm:"not null;index:ux_benefit_grants_pair,priority:2" json:"customer_id"`
	SubscriptionID *snowflake.ID     `gorm:"" json:"subscription_id,omitempty"`
	OrderID        *snowflake.ID     `gorm:"" json:"order_id,omitempty"`
	GrantedAt      *time.Time        `gorm:"" json:"granted_at,omitempty"`
	RevokedAt      *time.Time        `gorm:"" json:"revoked_at,omitempty"`
	PendingReason  *string           `gorm:"" json:"pending_reason,omitempty"`
	Properties     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"properties"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Grant) TableName() string { return "benefit_grants" }

func (g *Grant) IsGranted() bool {
	return g.GrantedAt != nil && g.RevokedAt == nil
}

func (g *Grant) IsRevoked() bool {
	return g.RevokedAt != nil
}

// SetGranted marks the grant active, clearing any revocation and pending
// precondition marker.
func (g *Grant) SetGranted(now time.Time) {
	g.GrantedAt = &now
	g.RevokedAt = nil
	g.PendingReason = nil
}

// SetRevoked marks the grant revoked, clearing granted_at to preserve the
// mutual-exclusion invariant.
func (g *Grant) SetRevoked(now time.Time) {
	g.RevokedAt = &now
	g.GrantedAt = nil
	g.PendingReason = nil
}

// SetPending records an unmet customer-side precondition. The grant stays in
// its current state until an external trigger resumes fulfillment.
func (g *Grant) SetPending(reason string) {
	g.PendingReason = &reason
}

// Scope is the purchase a grant is based on. Exactly one of the two fields
// is set when the scope is non-empty.
type Scope struct {
	SubscriptionID *snowflake.ID
	OrderID        *snowflake.ID
}
