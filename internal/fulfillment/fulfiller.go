package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
	customerdomain "github.com/smallbiznis/entitled/internal/customer/domain"
)

var ErrUnknownBenefitType = errors.New("unknown_benefit_type")

// Fulfiller is the per-type protocol behind grant and revoke tasks. The
// returned properties replace the grant record's properties wholesale.
//
// Grant reports failures through the error taxonomy: *ValidationErrors for
// bad configuration, *RetriableError for transient provider failures,
// *ActionRequiredError when the customer must act first, anything else is
// permanent.
type Fulfiller interface {
	Grant(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, update bool, attempt int) (Properties, error)
	Revoke(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, attempt int) (Properties, error)

	// RequiresUpdate reports whether a benefit configuration change needs a
	// re-grant of existing holders, given the previous configuration.
	RequiresUpdate(benefit *benefitdomain.Benefit, previous Properties) bool

	// ValidateProperties checks a raw configuration and returns its
	// normalized form, or *ValidationErrors.
	ValidateProperties(ctx context.Context, orgID snowflake.ID, raw map[string]any) (Properties, error)
}

// Registry maps benefit types to their fulfillers. The set is fixed at
// construction; there is no runtime registration.
type Registry struct {
	fulfillers map[benefitdomain.Type]Fulfiller
}

func NewRegistry(
	ads *AdsFulfiller,
	articles *ArticlesFulfiller,
	custom *CustomFulfiller,
	discord *DiscordFulfiller,
	github *GitHubRepositoryFulfiller,
	downloadables *DownloadablesFulfiller,
	licenseKeys *LicenseKeysFulfiller,
) *Registry {
	return &Registry{fulfillers: map[benefitdomain.Type]Fulfiller{
		benefitdomain.TypeAds:              ads,
		benefitdomain.TypeArticles:         articles,
		benefitdomain.TypeCustom:           custom,
		benefitdomain.TypeDiscord:          discord,
		benefitdomain.TypeGitHubRepository: github,
		benefitdomain.TypeDownloadables:    downloadables,
		benefitdomain.TypeLicenseKeys:      licenseKeys,
	}}
}

// For returns the fulfiller for a benefit type.
func (r *Registry) For(t benefitdomain.Type) (Fulfiller, error) {
	f, ok := r.fulfillers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBenefitType, t)
	}
	return f, nil
}
