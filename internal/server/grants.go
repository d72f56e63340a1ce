package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
)

type entitleRequest struct {
	CustomerID     string  `json:"customer_id" binding:"required"`
	SubscriptionID *string `json:"subscription_id,omitempty"`
	OrderID        *string `json:"order_id,omitempty"`
}

// GrantBenefit schedules fulfillment; the task executes asynchronously.
func (s *Server) GrantBenefit(c *gin.Context) {
	var req entitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	taskID, err := s.benefitSvc.EnqueueGrant(c.Request.Context(), benefitdomain.EntitleRequest{
		BenefitID:      c.Param("id"),
		CustomerID:     req.CustomerID,
		SubscriptionID: req.SubscriptionID,
		OrderID:        req.OrderID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}

func (s *Server) RevokeBenefit(c *gin.Context) {
	var req entitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	taskID, err := s.benefitSvc.EnqueueRevoke(c.Request.Context(), benefitdomain.EntitleRequest{
		BenefitID:  c.Param("id"),
		CustomerID: req.CustomerID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}

// ListBenefitGrants returns the currently granted holders of a benefit.
func (s *Server) ListBenefitGrants(c *gin.Context) {
	benefitID, err := parseSnowflake(c.Param("id"))
	if err != nil {
		AbortWithError(c, benefitdomain.ErrInvalidID)
		return
	}
	grants, err := s.grantRepo.ListGrantedByBenefit(c.Request.Context(), s.db, benefitID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grants": grants})
}
