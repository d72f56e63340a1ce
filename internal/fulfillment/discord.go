package fulfillment

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
	"github.com/smallbiznis/entitled/internal/clock"
	customerdomain "github.com/smallbiznis/entitled/internal/customer/domain"
	"github.com/smallbiznis/entitled/internal/discord"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// DiscordFulfiller assigns a guild role to the customer's linked Discord
// account. The bot performs the role change; the customer's own OAuth token
// only proves the account link and is kept fresh on every touch.
type DiscordFulfiller struct {
	client   *discord.Client
	accounts *accountResolver
	log      *zap.Logger
}

func NewDiscordFulfiller(db *gorm.DB, client *discord.Client, customers customerdomain.Repository, oauth *oauth2.Config, clk clock.Clock, log *zap.Logger) *DiscordFulfiller {
	named := log.Named("fulfillment").With(zap.String("component", "discord"))
	return &DiscordFulfiller{
		client: client,
		accounts: &accountResolver{
			db:        db,
			customers: customers,
			clock:     clk,
			oauth:     oauth,
			log:       named,
		},
		log: named,
	}
}

func (f *DiscordFulfiller) Grant(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, update bool, attempt int) (Properties, error) {
	account, err := f.accounts.resolve(ctx, customer, customerdomain.PlatformDiscord)
	if err != nil {
		return nil, err
	}

	guildID := propString(benefit.Properties, "guild_id")
	roleID := propString(benefit.Properties, "role_id")

	// A reconfigured benefit leaves the old role assigned; strip it before
	// granting the new one.
	if update && priorDiscordTargetDiffers(prior, guildID, roleID) {
		if _, err := f.Revoke(ctx, benefit, customer, prior, attempt); err != nil {
			return nil, err
		}
	}

	if err := f.client.AddMemberRole(ctx, guildID, account.AccountID, roleID); err != nil {
		return nil, mapDiscordError(err)
	}

	return Properties{
		"guild_id":   guildID,
		"role_id":    roleID,
		"account_id": account.AccountID,
	}, nil
}

// Revoke removes the previously assigned role. It works from the recorded
// grant properties, not the current benefit configuration, so it stays
// correct after the benefit was repointed at another guild or role.
func (f *DiscordFulfiller) Revoke(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, attempt int) (Properties, error) {
	guildID := propString(prior, "guild_id")
	roleID := propString(prior, "role_id")
	accountID := propString(prior, "account_id")
	if guildID == "" || roleID == "" || accountID == "" {
		return Properties{}, nil
	}

	err := f.client.RemoveMemberRole(ctx, guildID, accountID, roleID)
	if err != nil && !discord.IsNotFound(err) {
		return nil, mapDiscordError(err)
	}
	return Properties{}, nil
}

func (f *DiscordFulfiller) RequiresUpdate(benefit *benefitdomain.Benefit, previous Properties) bool {
	return propString(benefit.Properties, "guild_id") != propString(previous, "guild_id") ||
		propString(benefit.Properties, "role_id") != propString(previous, "role_id")
}

// ValidateProperties checks that the role exists in the guild and that the
// bot outranks it. Discord refuses role assignments at or above the bot's
// highest role, so catching that at configuration time beats failing every
// grant later.
func (f *DiscordFulfiller) ValidateProperties(ctx context.Context, orgID snowflake.ID, raw map[string]any) (Properties, error) {
	guildID := propString(raw, "guild_id")
	if guildID == "" {
		return nil, invalidProperty([]string{"properties", "guild_id"}, "missing", "guild_id is required", raw["guild_id"])
	}
	roleID := propString(raw, "role_id")
	if roleID == "" {
		return nil, invalidProperty([]string{"properties", "role_id"}, "missing", "role_id is required", raw["role_id"])
	}

	roles, err := f.client.GuildRoles(ctx, guildID)
	if err != nil {
		if discord.IsNotFound(err) {
			return nil, invalidProperty([]string{"properties", "guild_id"}, "value_error", "bot has no access to this guild", guildID)
		}
		return nil, mapDiscordError(err)
	}

	var target *discord.Role
	for i := range roles {
		if roles[i].ID == roleID {
			target = &roles[i]
			break
		}
	}
	if target == nil {
		return nil, invalidProperty([]string{"properties", "role_id"}, "value_error", "role does not exist in this guild", roleID)
	}

	highest, err := f.client.BotHighestRolePosition(ctx, guildID)
	if err != nil {
		return nil, mapDiscordError(err)
	}
	if target.Position >= highest {
		return nil, invalidProperty([]string{"properties", "role_id"}, "value_error", "role outranks the bot and cannot be assigned", roleID)
	}

	return Properties{"guild_id": guildID, "role_id": roleID}, nil
}

func priorDiscordTargetDiffers(prior Properties, guildID, roleID string) bool {
	priorGuild := propString(prior, "guild_id")
	priorRole := propString(prior, "role_id")
	if priorGuild == "" && priorRole == "" {
		return false
	}
	return priorGuild != guildID || priorRole != roleID
}

func mapDiscordError(err error) error {
	if retryAfter, ok := discord.RetryAfterOf(err); ok {
		return Retriable(retryAfter, err)
	}
	var apiErr *discord.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= http.StatusInternalServerError {
		return Retriable(0, err)
	}
	if isTransportError(err) {
		return Retriable(0, err)
	}
	return err
}

// isTransportError reports network-level failures worth retrying.
func isTransportError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
