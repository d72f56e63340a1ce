package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, benefit *Benefit) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Benefit, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Benefit, error)
	Update(ctx context.Context, db *gorm.DB, benefit *Benefit) error
}
