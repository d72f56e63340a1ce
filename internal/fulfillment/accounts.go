package fulfillment

import (
	"context"
	"fmt"

	"github.com/smallbiznis/entitled/internal/clock"
	customerdomain "github.com/smallbiznis/entitled/internal/customer/domain"
	"github.com/smallbiznis/entitled/internal/notification"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// accountResolver looks up a customer's linked account on a platform and
// keeps its access token fresh. A missing account or an unrefreshable token
// is an ActionRequiredError: the customer has to (re)connect before the task
// can proceed.
type accountResolver struct {
	db        *gorm.DB
	customers customerdomain.Repository
	clock     clock.Clock
	oauth     *oauth2.Config
	log       *zap.Logger
}

func (r *accountResolver) resolve(ctx context.Context, customer *customerdomain.Customer, platform customerdomain.Platform) (*customerdomain.LinkedAccount, error) {
	account, err := r.customers.FindAccount(ctx, r.db, customer.ID, platform)
	if err != nil {
		if err == customerdomain.ErrAccountNotFound {
			return nil, &ActionRequiredError{
				Message: fmt.Sprintf("no %s account linked", platform),
				Notification: &notification.Payload{
					SubjectTemplate: fmt.Sprintf("Connect your %s account", platform),
					BodyTemplate:    fmt.Sprintf("Hi {{.CustomerName}}, connect your %s account to receive your benefit.", platform),
				},
			}
		}
		return nil, err
	}

	if !account.TokenExpired(r.clock.Now()) {
		return account, nil
	}

	if r.oauth == nil || account.RefreshToken == nil || *account.RefreshToken == "" {
		return nil, &ActionRequiredError{
			Message: fmt.Sprintf("%s access expired", platform),
			Notification: &notification.Payload{
				SubjectTemplate: fmt.Sprintf("Reconnect your %s account", platform),
				BodyTemplate:    fmt.Sprintf("Hi {{.CustomerName}}, your %s connection expired. Reconnect it to keep your benefit.", platform),
			},
		}
	}

	refreshed, err := r.oauth.TokenSource(ctx, &oauth2.Token{
		RefreshToken: *account.RefreshToken,
	}).Token()
	if err != nil {
		r.log.Warn("token refresh failed",
			zap.String("platform", string(platform)),
			zap.Int64("customer_id", int64(customer.ID)),
			zap.Error(err),
		)
		return nil, &ActionRequiredError{
			Message: fmt.Sprintf("%s token refresh failed", platform),
			Notification: &notification.Payload{
				SubjectTemplate: fmt.Sprintf("Reconnect your %s account", platform),
				BodyTemplate:    fmt.Sprintf("Hi {{.CustomerName}}, we could not renew your %s connection. Reconnect it to keep your benefit.", platform),
			},
		}
	}

	account.AccessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		token := refreshed.RefreshToken
		account.RefreshToken = &token
	}
	if !refreshed.Expiry.IsZero() {
		expiry := refreshed.Expiry.UTC()
		account.ExpiresAt = &expiry
	}
	if err := r.customers.UpdateAccountToken(ctx, r.db, account); err != nil {
		return nil, err
	}
	return account, nil
}
