package fulfillment

import (
	"context"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
	customerdomain "github.com/smallbiznis/entitled/internal/customer/domain"
)

// AdsFulfiller backs the ads benefit type. The grant record itself is the
// entitlement; no external side effects exist.
type AdsFulfiller struct{}

func NewAdsFulfiller() *AdsFulfiller { return &AdsFulfiller{} }

func (f *AdsFulfiller) Grant(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, update bool, attempt int) (Properties, error) {
	return Properties{}, nil
}

func (f *AdsFulfiller) Revoke(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, attempt int) (Properties, error) {
	return Properties{}, nil
}

func (f *AdsFulfiller) RequiresUpdate(benefit *benefitdomain.Benefit, previous Properties) bool {
	return false
}

func (f *AdsFulfiller) ValidateProperties(ctx context.Context, orgID snowflake.ID, raw map[string]any) (Properties, error) {
	props := Properties{}
	if v, ok := raw["image_height"]; ok {
		n := propInt(raw, "image_height")
		if n == nil || *n <= 0 {
			return nil, invalidProperty([]string{"properties", "image_height"}, "int_parsing", "must be a positive integer", v)
		}
		props["image_height"] = *n
	}
	if v, ok := raw["image_width"]; ok {
		n := propInt(raw, "image_width")
		if n == nil || *n <= 0 {
			return nil, invalidProperty([]string{"properties", "image_width"}, "int_parsing", "must be a positive integer", v)
		}
		props["image_width"] = *n
	}
	return props, nil
}
