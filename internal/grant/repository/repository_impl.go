package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
	"github.com/smallbiznis/entitled/internal/grant/domain"
	"github.com/smallbiznis/entitled/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repository struct {
	genID *snowflake.Node
}

func NewRepository(genID *snowflake.Node) domain.Repository {
	return &repository{genID: genID}
}

func (r *repository) FindOrCreate(ctx context.Context, conn *gorm.DB, orgID, benefitID, customerID snowflake.ID, scope domain.Scope) (*domain.Grant, error) {
	if scope.SubscriptionID != nil && scope.OrderID != nil {
		return nil, domain.ErrInvalidScope
	}

	existing, err := r.FindByPair(ctx, conn, benefitID, customerID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	grant := &domain.Grant{
		ID:             r.genID.Generate(),
		OrgID:          orgID,
		BenefitID:      benefitID,
		CustomerID:     customerID,
		SubscriptionID: scope.SubscriptionID,
		OrderID:        scope.OrderID,
		Properties:     datatypes.JSONMap{},
	}
	if err := conn.WithContext(ctx).Create(grant).Error; err != nil {
		// Lost the insert race; the winner's row is the pair's row.
		if db.IsDuplicateKeyErr(err) {
			return r.FindByPair(ctx, conn, benefitID, customerID)
		}
		return nil, err
	}
	return grant, nil
}

func (r *repository) FindByPair(ctx context.Context, conn *gorm.DB, benefitID, customerID snowflake.ID) (*domain.Grant, error) {
	var grant domain.Grant
	err := conn.WithContext(ctx).
		Where("benefit_id = ? AND customer_id = ?", benefitID, customerID).
		First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &grant, nil
}

func (r *repository) ListGrantedByBenefit(ctx context.Context, conn *gorm.DB, benefitID snowflake.ID) ([]domain.Grant, error) {
	var grants []domain.Grant
	err := conn.WithContext(ctx).
		Where("benefit_id = ? AND granted_at IS NOT NULL AND revoked_at IS NULL", benefitID).
		Find(&grants).Error
	return grants, err
}

func (r *repository) CountGrantedByCustomerAndType(ctx context.Context, conn *gorm.DB, customerID snowflake.ID, benefitType benefitdomain.Type, excludeBenefitID snowflake.ID) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).
		Model(&domain.Grant{}).
		Joins("JOIN benefits ON benefits.id = benefit_grants.benefit_id").
		Where("benefit_grants.customer_id = ?", customerID).
		Where("benefits.benefit_type = ?", benefitType).
		Where("benefit_grants.benefit_id <> ?", excludeBenefitID).
		Where("benefit_grants.granted_at IS NOT NULL AND benefit_grants.revoked_at IS NULL").
		Count(&count).Error
	return count, err
}

func (r *repository) ListGrantedByCustomerAndType(ctx context.Context, conn *gorm.DB, customerID snowflake.ID, benefitType benefitdomain.Type, excludeBenefitID snowflake.ID) ([]domain.GrantWithBenefit, error) {
	var grants []domain.Grant
	err := conn.WithContext(ctx).
		Joins("JOIN benefits ON benefits.id = benefit_grants.benefit_id").
		Where("benefit_grants.customer_id = ?", customerID).
		Where("benefits.benefit_type = ?", benefitType).
		Where("benefit_grants.benefit_id <> ?", excludeBenefitID).
		Where("benefit_grants.granted_at IS NOT NULL AND benefit_grants.revoked_at IS NULL").
		Find(&grants).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.GrantWithBenefit, 0, len(grants))
	for _, g := range grants {
		var benefit benefitdomain.Benefit
		if err := conn.WithContext(ctx).First(&benefit, "id = ?", g.BenefitID).Error; err != nil {
			return nil, err
		}
		out = append(out, domain.GrantWithBenefit{Grant: g, Benefit: benefit})
	}
	return out, nil
}

func (r *repository) Update(ctx context.Context, conn *gorm.DB, grant *domain.Grant) error {
	return conn.WithContext(ctx).Save(grant).Error
}
