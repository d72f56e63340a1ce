package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
	customerdomain "github.com/smallbiznis/entitled/internal/customer/domain"
	"github.com/smallbiznis/entitled/internal/fulfillment"
	grantdomain "github.com/smallbiznis/entitled/internal/grant/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string                      `json:"type"`
	Message string                      `json:"message"`
	Errors  []fulfillment.PropertyError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	// Benefit property validation carries field-level locations; it renders
	// as unprocessable rather than a generic bad request.
	var propErrs *fulfillment.ValidationErrors
	if errors.As(err, &propErrs) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "validation_error",
			Message: "invalid benefit properties",
			Errors:  propErrs.Errors,
		}
	}

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, benefitdomain.ErrInvalidType),
		errors.Is(err, benefitdomain.ErrInvalidID),
		errors.Is(err, benefitdomain.ErrInvalidScope),
		errors.Is(err, benefitdomain.ErrInvalidOrganization),
		errors.Is(err, grantdomain.ErrInvalidScope):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: err.Error(),
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, benefitdomain.ErrNotFound),
		errors.Is(err, customerdomain.ErrNotFound),
		errors.Is(err, customerdomain.ErrAccountNotFound),
		errors.Is(err, grantdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// classifyErrorForLog maps an error to (type, code) for request logs.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status == http.StatusUnprocessableEntity:
		return "validation_error", "invalid_properties"
	case status >= http.StatusInternalServerError:
		return "internal_error", payload.Type
	default:
		return payload.Type, payload.Type
	}
}
