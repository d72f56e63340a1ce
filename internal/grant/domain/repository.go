package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
	"gorm.io/gorm"
)

type Repository interface {
	// FindOrCreate returns the grant row for the pair, creating an
	// ungranted one with the given scope when none exists. Concurrent
	// creators converge on the same row through the unique constraint.
	FindOrCreate(ctx context.Context, db *gorm.DB, orgID, benefitID, customerID snowflake.ID, scope Scope) (*Grant, error)
	FindByPair(ctx context.Context, db *gorm.DB, benefitID, customerID snowflake.ID) (*Grant, error)
	// ListGrantedByBenefit returns every non-revoked grant of a benefit,
	// the fan-out set for update-triggered re-grants.
	ListGrantedByBenefit(ctx context.Context, db *gorm.DB, benefitID snowflake.ID) ([]Grant, error)
	// CountGrantedByCustomerAndType counts a customer's active grants of
	// benefits with the given type, excluding one benefit.
	CountGrantedByCustomerAndType(ctx context.Context, db *gorm.DB, customerID snowflake.ID, benefitType benefitdomain.Type, excludeBenefitID snowflake.ID) (int64, error)
	// ListGrantedByCustomerAndType returns the active grants counted above,
	// with their benefit configuration attached.
	ListGrantedByCustomerAndType(ctx context.Context, db *gorm.DB, customerID snowflake.ID, benefitType benefitdomain.Type, excludeBenefitID snowflake.ID) ([]GrantWithBenefit, error)
	Update(ctx context.Context, db *gorm.DB, grant *Grant) error
}

type GrantWithBenefit struct {
	Grant   Grant
	Benefit benefitdomain.Benefit
}

var (
	ErrNotFound     = errors.New("not_found")
	ErrInvalidScope = errors.New("invalid_scope")
)
