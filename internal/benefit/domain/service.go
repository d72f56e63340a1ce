package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	List(ctx context.Context, orgID snowflake.ID) ([]Response, error)
	// Update replaces the benefit's mutable configuration. When the new
	// properties change the external target, grant(update=true) tasks are
	// enqueued for every currently granted holder.
	Update(ctx context.Context, req UpdateRequest) (*Response, error)

	// EnqueueGrant schedules fulfillment of this benefit for a customer.
	// Exactly one of SubscriptionID or OrderID may be set.
	EnqueueGrant(ctx context.Context, req EntitleRequest) (string, error)
	// EnqueueRevoke schedules removal. Revoking a benefit the customer never
	// had succeeds as a no-op.
	EnqueueRevoke(ctx context.Context, req EntitleRequest) (string, error)
}

// EntitleRequest identifies the (benefit, customer) pair a grant or revoke
// task targets, plus the purchase the entitlement is based on.
type EntitleRequest struct {
	BenefitID      string  `json:"benefit_id"`
	CustomerID     string  `json:"customer_id"`
	SubscriptionID *string `json:"subscription_id,omitempty"`
	OrderID        *string `json:"order_id,omitempty"`
}

type CreateRequest struct {
	OrgID       snowflake.ID   `json:"organization_id"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Properties  map[string]any `json:"properties"`
}

type UpdateRequest struct {
	ID          string         `json:"id"`
	Description *string        `json:"description,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

type Response struct {
	ID          string         `json:"id"`
	OrgID       string         `json:"organization_id"`
	Type        Type           `json:"type"`
	Description string         `json:"description"`
	Properties  map[string]any `json:"properties"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidType         = errors.New("invalid_benefit_type")
	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidScope        = errors.New("invalid_scope")
	ErrNotFound            = errors.New("not_found")
)
