package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitled/internal/customer/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct{}

func NewRepository() domain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Create(customer).Error
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).First(&customer, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &customer, nil
}

func (r *repository) FindAccount(ctx context.Context, db *gorm.DB, customerID snowflake.ID, platform domain.Platform) (*domain.LinkedAccount, error) {
	var account domain.LinkedAccount
	err := db.WithContext(ctx).
		Where("customer_id = ? AND platform = ?", customerID, platform).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) UpsertAccount(ctx context.Context, db *gorm.DB, account *domain.LinkedAccount) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "customer_id"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"account_id", "account_username", "access_token", "refresh_token", "expires_at", "updated_at",
		}),
	}).Create(account).Error
}

func (r *repository) UpdateAccountToken(ctx context.Context, db *gorm.DB, account *domain.LinkedAccount) error {
	return db.WithContext(ctx).Model(&domain.LinkedAccount{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"access_token":  account.AccessToken,
			"refresh_token": account.RefreshToken,
			"expires_at":    account.ExpiresAt,
			"updated_at":    account.UpdatedAt,
		}).Error
}
