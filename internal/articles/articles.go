// Package articles maintains the per-customer article subscription
// aggregate backing the articles benefit type.
package articles

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitled/internal/clock"
	"github.com/smallbiznis/entitled/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Subscription is the aggregate "this customer can read articles" row.
// Multiple benefit grants of the articles family fold into one row; the
// paid flag is re-derived from the surviving grants on every change.
type Subscription struct {
	CustomerID     snowflake.ID `gorm:"primaryKey" json:"customer_id"`
	OrgID          snowflake.ID `gorm:"not null;index" json:"organization_id"`
	PaidSubscriber bool         `gorm:"not null;default:false" json:"paid_subscriber"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Subscription) TableName() string { return "article_subscriptions" }

var ErrNotFound = errors.New("article_subscription_not_found")

type Store struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewStore(conn *gorm.DB, clk clock.Clock) *Store {
	return &Store{db: conn, clock: clk}
}

func (s *Store) Get(ctx context.Context, customerID snowflake.ID) (*Subscription, error) {
	var sub Subscription
	err := s.db.WithContext(ctx).First(&sub, "customer_id = ?", customerID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// Upsert creates or updates the aggregate row. Callers must hold the
// customer's article lock.
func (s *Store) Upsert(ctx context.Context, orgID, customerID snowflake.ID, paid bool) error {
	now := s.clock.Now()
	sub := &Subscription{
		CustomerID:     customerID,
		OrgID:          orgID,
		PaidSubscriber: paid,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "customer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"paid_subscriber", "updated_at"}),
	}).Create(sub).Error
	if err != nil && !db.IsDuplicateKeyErr(err) {
		return err
	}
	return nil
}

// Delete removes the aggregate row once no granted articles benefit remains.
func (s *Store) Delete(ctx context.Context, customerID snowflake.ID) error {
	return s.db.WithContext(ctx).
		Delete(&Subscription{}, "customer_id = ?", customerID).Error
}
