package fulfillment

import (
	"context"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
	"github.com/smallbiznis/entitled/internal/clock"
	customerdomain "github.com/smallbiznis/entitled/internal/customer/domain"
	"github.com/smallbiznis/entitled/internal/licensekey"
	"go.uber.org/zap"
)

// LicenseKeysFulfiller issues one license key per grant. Revoking keeps the
// key row and its reference in the grant properties so a later re-grant
// resumes the same key instead of minting a new one.
type LicenseKeysFulfiller struct {
	keys  *licensekey.Service
	clock clock.Clock
	log   *zap.Logger
}

func NewLicenseKeysFulfiller(keys *licensekey.Service, clk clock.Clock, log *zap.Logger) *LicenseKeysFulfiller {
	return &LicenseKeysFulfiller{
		keys:  keys,
		clock: clk,
		log:   log.Named("fulfillment").With(zap.String("component", "license_keys")),
	}
}

func (f *LicenseKeysFulfiller) Grant(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, update bool, attempt int) (Properties, error) {
	params := f.issueParams(benefit, customer)

	if id, ok := priorKeyID(prior); ok {
		key, err := f.keys.Reuse(ctx, id, params)
		if err == nil {
			return keyProperties(key), nil
		}
		if err != licensekey.ErrNotFound {
			return nil, err
		}
		f.log.Warn("referenced license key missing, issuing a new one",
			zap.Int64("license_key_id", int64(id)),
			zap.Int64("customer_id", int64(customer.ID)),
		)
	}

	key, err := f.keys.Issue(ctx, params)
	if err != nil {
		return nil, err
	}
	return keyProperties(key), nil
}

func (f *LicenseKeysFulfiller) Revoke(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, attempt int) (Properties, error) {
	id, ok := priorKeyID(prior)
	if !ok {
		return Properties{}, nil
	}
	if err := f.keys.Revoke(ctx, id); err != nil && err != licensekey.ErrNotFound {
		return nil, err
	}
	// Keep the key reference so a re-grant resumes it.
	return Properties{
		"license_key_id": strconv.FormatInt(int64(id), 10),
		"display_key":    propString(prior, "display_key"),
	}, nil
}

func (f *LicenseKeysFulfiller) RequiresUpdate(benefit *benefitdomain.Benefit, previous Properties) bool {
	for _, key := range []string{"expires_days", "activation_limit", "usage_limit"} {
		current, currentOK := propInt64(benefit.Properties, key)
		prev, prevOK := propInt64(previous, key)
		if currentOK != prevOK || current != prev {
			return true
		}
	}
	return false
}

func (f *LicenseKeysFulfiller) ValidateProperties(ctx context.Context, orgID snowflake.ID, raw map[string]any) (Properties, error) {
	props := Properties{}
	if v, ok := raw["prefix"]; ok {
		prefix, isString := v.(string)
		if !isString {
			return nil, invalidProperty([]string{"properties", "prefix"}, "string_type", "must be a string", v)
		}
		props["prefix"] = prefix
	}
	for _, key := range []string{"expires_days", "activation_limit", "usage_limit"} {
		if v, ok := raw[key]; ok {
			n := propInt(raw, key)
			if n == nil || *n <= 0 {
				return nil, invalidProperty([]string{"properties", key}, "int_parsing", "must be a positive integer", v)
			}
			props[key] = *n
		}
	}
	return props, nil
}

func (f *LicenseKeysFulfiller) issueParams(benefit *benefitdomain.Benefit, customer *customerdomain.Customer) licensekey.IssueParams {
	params := licensekey.IssueParams{
		OrgID:           benefit.OrgID,
		CustomerID:      customer.ID,
		BenefitID:       benefit.ID,
		Prefix:          propString(benefit.Properties, "prefix"),
		ActivationLimit: propInt(benefit.Properties, "activation_limit"),
		UsageLimit:      propInt(benefit.Properties, "usage_limit"),
	}
	if days := propInt(benefit.Properties, "expires_days"); days != nil {
		expires := f.clock.Now().Add(time.Duration(*days) * 24 * time.Hour)
		params.ExpiresAt = &expires
	}
	return params
}

func priorKeyID(prior Properties) (snowflake.ID, bool) {
	raw, ok := propInt64(prior, "license_key_id")
	if !ok || raw == 0 {
		return 0, false
	}
	return snowflake.ID(raw), true
}

func keyProperties(key *licensekey.LicenseKey) Properties {
	return Properties{
		"license_key_id": strconv.FormatInt(int64(key.ID), 10),
		"display_key":    key.DisplayKey,
	}
}
