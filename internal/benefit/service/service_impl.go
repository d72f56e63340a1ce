// Package service implements benefit configuration management and the entry
// points that schedule grant and revoke work.
package service

import (
	"context"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitled/internal/benefit/domain"
	"github.com/smallbiznis/entitled/internal/clock"
	"github.com/smallbiznis/entitled/internal/fulfillment"
	grantdomain "github.com/smallbiznis/entitled/internal/grant/domain"
	"github.com/smallbiznis/entitled/internal/taskqueue"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type benefitService struct {
	db       *gorm.DB
	genID    *snowflake.Node
	repo     domain.Repository
	grants   grantdomain.Repository
	tasks    *taskqueue.Repository
	registry *fulfillment.Registry
	clock    clock.Clock
	log      *zap.Logger
}

func NewService(
	db *gorm.DB,
	genID *snowflake.Node,
	repo domain.Repository,
	grants grantdomain.Repository,
	tasks *taskqueue.Repository,
	registry *fulfillment.Registry,
	clk clock.Clock,
	log *zap.Logger,
) domain.Service {
	return &benefitService{
		db:       db,
		genID:    genID,
		repo:     repo,
		grants:   grants,
		tasks:    tasks,
		registry: registry,
		clock:    clk,
		log:      log.Named("benefit").With(zap.String("component", "service")),
	}
}

func (s *benefitService) Create(ctx context.Context, req domain.CreateRequest) (*domain.Response, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	benefitType := domain.Type(req.Type)
	if !benefitType.Valid() {
		return nil, domain.ErrInvalidType
	}

	fulfiller, err := s.registry.For(benefitType)
	if err != nil {
		return nil, domain.ErrInvalidType
	}
	props, err := fulfiller.ValidateProperties(ctx, req.OrgID, req.Properties)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	benefit := &domain.Benefit{
		ID:          s.genID.Generate(),
		OrgID:       req.OrgID,
		Type:        benefitType,
		Description: req.Description,
		Properties:  datatypes.JSONMap(props),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, s.db, benefit); err != nil {
		return nil, err
	}

	s.log.Info("benefit created",
		zap.Int64("benefit_id", int64(benefit.ID)),
		zap.String("benefit_type", string(benefit.Type)),
	)
	return toResponse(benefit), nil
}

func (s *benefitService) Get(ctx context.Context, id string) (*domain.Response, error) {
	benefitID, err := parseID(id)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	benefit, err := s.repo.FindByID(ctx, s.db, benefitID)
	if err != nil {
		return nil, err
	}
	return toResponse(benefit), nil
}

func (s *benefitService) List(ctx context.Context, orgID snowflake.ID) ([]domain.Response, error) {
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	benefits, err := s.repo.List(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Response, 0, len(benefits))
	for i := range benefits {
		out = append(out, *toResponse(&benefits[i]))
	}
	return out, nil
}

// Update rewrites the benefit configuration and, when the change repoints the
// external side effect, re-grants every current holder against the new
// configuration.
func (s *benefitService) Update(ctx context.Context, req domain.UpdateRequest) (*domain.Response, error) {
	benefitID, err := parseID(req.ID)
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	benefit, err := s.repo.FindByID(ctx, s.db, benefitID)
	if err != nil {
		return nil, err
	}

	fulfiller, err := s.registry.For(benefit.Type)
	if err != nil {
		return nil, err
	}

	previous := fulfillment.Properties(benefit.Properties)
	if req.Properties != nil {
		props, err := fulfiller.ValidateProperties(ctx, benefit.OrgID, req.Properties)
		if err != nil {
			return nil, err
		}
		benefit.Properties = datatypes.JSONMap(props)
	}
	if req.Description != nil {
		benefit.Description = *req.Description
	}
	benefit.UpdatedAt = s.clock.Now()

	if err := s.repo.Update(ctx, s.db, benefit); err != nil {
		return nil, err
	}

	// One comparison against the old configuration decides the fan-out for
	// every holder.
	if req.Properties != nil && fulfiller.RequiresUpdate(benefit, previous) {
		if err := s.fanOut(ctx, benefit); err != nil {
			return nil, err
		}
	}

	return toResponse(benefit), nil
}

func (s *benefitService) fanOut(ctx context.Context, benefit *domain.Benefit) error {
	holders, err := s.grants.ListGrantedByBenefit(ctx, s.db, benefit.ID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	for i := range holders {
		holder := &holders[i]
		_, err := s.tasks.Enqueue(ctx, s.db, taskqueue.EnqueueParams{
			OrgID:          benefit.OrgID,
			Kind:           taskqueue.KindGrant,
			BenefitID:      benefit.ID,
			CustomerID:     holder.CustomerID,
			SubscriptionID: holder.SubscriptionID,
			OrderID:        holder.OrderID,
			IsUpdate:       true,
			RunAt:          now,
		})
		if err != nil {
			return err
		}
	}
	s.log.Info("benefit update fan-out enqueued",
		zap.Int64("benefit_id", int64(benefit.ID)),
		zap.Int("holders", len(holders)),
	)
	return nil
}

func (s *benefitService) EnqueueGrant(ctx context.Context, req domain.EntitleRequest) (string, error) {
	return s.enqueue(ctx, taskqueue.KindGrant, req)
}

func (s *benefitService) EnqueueRevoke(ctx context.Context, req domain.EntitleRequest) (string, error) {
	return s.enqueue(ctx, taskqueue.KindRevoke, req)
}

func (s *benefitService) enqueue(ctx context.Context, kind taskqueue.Kind, req domain.EntitleRequest) (string, error) {
	if req.SubscriptionID != nil && req.OrderID != nil {
		return "", domain.ErrInvalidScope
	}
	benefitID, err := parseID(req.BenefitID)
	if err != nil {
		return "", domain.ErrInvalidID
	}
	customerID, err := parseID(req.CustomerID)
	if err != nil {
		return "", domain.ErrInvalidID
	}
	benefit, err := s.repo.FindByID(ctx, s.db, benefitID)
	if err != nil {
		return "", err
	}

	params := taskqueue.EnqueueParams{
		OrgID:      benefit.OrgID,
		Kind:       kind,
		BenefitID:  benefit.ID,
		CustomerID: customerID,
		RunAt:      s.clock.Now(),
	}
	if req.SubscriptionID != nil {
		id, err := parseID(*req.SubscriptionID)
		if err != nil {
			return "", domain.ErrInvalidScope
		}
		params.SubscriptionID = &id
	}
	if req.OrderID != nil {
		id, err := parseID(*req.OrderID)
		if err != nil {
			return "", domain.ErrInvalidScope
		}
		params.OrderID = &id
	}

	task, err := s.tasks.Enqueue(ctx, s.db, params)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(int64(task.ID), 10), nil
}

func parseID(raw string) (snowflake.ID, error) {
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return snowflake.ID(parsed), nil
}

func toResponse(benefit *domain.Benefit) *domain.Response {
	return &domain.Response{
		ID:          strconv.FormatInt(int64(benefit.ID), 10),
		OrgID:       strconv.FormatInt(int64(benefit.OrgID), 10),
		Type:        benefit.Type,
		Description: benefit.Description,
		Properties:  benefit.Properties,
		CreatedAt:   benefit.CreatedAt,
		UpdatedAt:   benefit.UpdatedAt,
	}
}
