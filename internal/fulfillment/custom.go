package fulfillment

import (
	"context"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
	customerdomain "github.com/smallbiznis/entitled/internal/customer/domain"
)

// CustomFulfiller backs the custom benefit type: an organization-defined
// perk delivered out of band. Granting only records the entitlement; the
// optional note is surfaced to the customer elsewhere.
type CustomFulfiller struct{}

func NewCustomFulfiller() *CustomFulfiller { return &CustomFulfiller{} }

func (f *CustomFulfiller) Grant(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, update bool, attempt int) (Properties, error) {
	return Properties{}, nil
}

func (f *CustomFulfiller) Revoke(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, attempt int) (Properties, error) {
	return Properties{}, nil
}

func (f *CustomFulfiller) RequiresUpdate(benefit *benefitdomain.Benefit, previous Properties) bool {
	return false
}

func (f *CustomFulfiller) ValidateProperties(ctx context.Context, orgID snowflake.ID, raw map[string]any) (Properties, error) {
	props := Properties{}
	if v, ok := raw["note"]; ok {
		note, isString := v.(string)
		if !isString {
			return nil, invalidProperty([]string{"properties", "note"}, "string_type", "must be a string", v)
		}
		props["note"] = note
	}
	return props, nil
}
