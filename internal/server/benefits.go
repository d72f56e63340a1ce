package server

import (
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
)

type createBenefitRequest struct {
	OrganizationID string         `json:"organization_id" binding:"required"`
	Type           string         `json:"type" binding:"required"`
	Description    string         `json:"description"`
	Properties     map[string]any `json:"properties"`
}

func (s *Server) CreateBenefit(c *gin.Context) {
	var req createBenefitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	orgID, err := parseSnowflake(req.OrganizationID)
	if err != nil {
		AbortWithError(c, benefitdomain.ErrInvalidOrganization)
		return
	}

	resp, err := s.benefitSvc.Create(c.Request.Context(), benefitdomain.CreateRequest{
		OrgID:       orgID,
		Type:        req.Type,
		Description: req.Description,
		Properties:  req.Properties,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) GetBenefitByID(c *gin.Context) {
	resp, err := s.benefitSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ListBenefits(c *gin.Context) {
	orgID, err := parseSnowflake(c.Query("organization_id"))
	if err != nil {
		AbortWithError(c, benefitdomain.ErrInvalidOrganization)
		return
	}
	resp, err := s.benefitSvc.List(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"benefits": resp})
}

type updateBenefitRequest struct {
	Description *string        `json:"description,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

func (s *Server) UpdateBenefit(c *gin.Context) {
	var req updateBenefitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.benefitSvc.Update(c.Request.Context(), benefitdomain.UpdateRequest{
		ID:          c.Param("id"),
		Description: req.Description,
		Properties:  req.Properties,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func parseSnowflake(raw string) (snowflake.ID, error) {
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return snowflake.ID(parsed), nil
}
