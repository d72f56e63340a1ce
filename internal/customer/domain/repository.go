package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Customer, error)
	FindAccount(ctx context.Context, db *gorm.DB, customerID snowflake.ID, platform Platform) (*LinkedAccount, error)
	UpsertAccount(ctx context.Context, db *gorm.DB, account *LinkedAccount) error
	UpdateAccountToken(ctx context.Context, db *gorm.DB, account *LinkedAccount) error
}

var (
	ErrNotFound        = errors.New("not_found")
	ErrAccountNotFound = errors.New("account_not_found")
)
