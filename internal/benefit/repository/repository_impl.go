package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitled/internal/benefit/domain"
	"gorm.io/gorm"
)

type repository struct{}

func NewRepository() domain.Repository {
	return &repository{}
}

func (r *repository) Create(ctx context.Context, db *gorm.DB, benefit *domain.Benefit) error {
	return db.WithContext(ctx).Create(benefit).Error
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Benefit, error) {
	var benefit domain.Benefit
	err := db.WithContext(ctx).First(&benefit, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &benefit, nil
}

func (r *repository) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.Benefit, error) {
	var benefits []domain.Benefit
	err := db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at DESC").
		Find(&benefits).Error
	return benefits, err
}

func (r *repository) Update(ctx context.Context, db *gorm.DB, benefit *domain.Benefit) error {
	return db.WithContext(ctx).Save(benefit).Error
}
