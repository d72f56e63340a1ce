package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	customerdomain "github.com/smallbiznis/entitled/internal/customer/domain"
)

type createCustomerRequest struct {
	OrganizationID string `json:"organization_id" binding:"required"`
	Email          string `json:"email" binding:"required,email"`
	Name           string `json:"name"`
}

func (s *Server) CreateCustomer(c *gin.Context) {
	var req createCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	orgID, err := parseSnowflake(req.OrganizationID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	now := s.clock.Now()
	customer := &customerdomain.Customer{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Email:     req.Email,
		Name:      req.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.customerRepo.Insert(c.Request.Context(), s.db, customer); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

func (s *Server) GetCustomerByID(c *gin.Context) {
	customerID, err := parseSnowflake(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	customer, err := s.customerRepo.FindByID(c.Request.Context(), s.db, customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

type linkAccountRequest struct {
	AccountID       string     `json:"account_id" binding:"required"`
	AccountUsername string     `json:"account_username"`
	AccessToken     string     `json:"access_token"`
	RefreshToken    *string    `json:"refresh_token,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// LinkCustomerAccount stores or replaces the customer's identity on an
// external platform. Linking is what unblocks action-required fulfillments.
func (s *Server) LinkCustomerAccount(c *gin.Context) {
	platform := customerdomain.Platform(c.Param("platform"))
	if platform != customerdomain.PlatformDiscord && platform != customerdomain.PlatformGitHub {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	customerID, err := parseSnowflake(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if _, err := s.customerRepo.FindByID(c.Request.Context(), s.db, customerID); err != nil {
		AbortWithError(c, err)
		return
	}

	var req linkAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	now := s.clock.Now()
	account := &customerdomain.LinkedAccount{
		ID:              s.genID.Generate(),
		CustomerID:      customerID,
		Platform:        platform,
		AccountID:       req.AccountID,
		AccountUsername: req.AccountUsername,
		AccessToken:     req.AccessToken,
		RefreshToken:    req.RefreshToken,
		ExpiresAt:       req.ExpiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.customerRepo.UpsertAccount(c.Request.Context(), s.db, account); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}
