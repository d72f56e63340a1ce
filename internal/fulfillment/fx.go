package fulfillment

import (
	"github.com/smallbiznis/entitled/internal/articles"
	"github.com/smallbiznis/entitled/internal/clock"
	"github.com/smallbiznis/entitled/internal/config"
	customerdomain "github.com/smallbiznis/entitled/internal/customer/domain"
	"github.com/smallbiznis/entitled/internal/discord"
	"github.com/smallbiznis/entitled/internal/downloadable"
	"github.com/smallbiznis/entitled/internal/github"
	"github.com/smallbiznis/entitled/internal/licensekey"
	"github.com/smallbiznis/entitled/internal/taskqueue"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

var Module = fx.Module("fulfillment",
	fx.Provide(ProvideDiscordClient),
	fx.Provide(ProvideDiscordOAuth),
	fx.Provide(ProvideGitHubAppClient),
	fx.Provide(articles.NewStore),
	fx.Provide(licensekey.NewService),
	fx.Provide(downloadable.NewService),
	fx.Provide(NewAdsFulfiller),
	fx.Provide(NewArticlesFulfiller),
	fx.Provide(NewCustomFulfiller),
	fx.Provide(NewDiscordFulfiller),
	fx.Provide(ProvideGitHubRepositoryFulfiller),
	fx.Provide(NewDownloadablesFulfiller),
	fx.Provide(NewLicenseKeysFulfiller),
	fx.Provide(NewRegistry),
	fx.Provide(
		fx.Annotate(NewOrchestrator, fx.As(new(taskqueue.Handler))),
	),
)

func ProvideDiscordClient(cfg config.Config) *discord.Client {
	return discord.NewClient(discord.Config{
		BotToken: cfg.DiscordBotToken,
		BaseURL:  cfg.DiscordAPIBase,
	})
}

// ProvideDiscordOAuth builds the OAuth client used to refresh customer
// tokens. Returns nil when the OAuth app is not configured; expired tokens
// then surface as action-required instead of refreshing silently.
func ProvideDiscordOAuth(cfg config.Config) *oauth2.Config {
	if cfg.DiscordClientID == "" || cfg.DiscordClientSecret == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     cfg.DiscordClientID,
		ClientSecret: cfg.DiscordClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.DiscordAPIBase + "/oauth2/authorize",
			TokenURL: cfg.DiscordAPIBase + "/oauth2/token",
		},
	}
}

// ProvideGitHubAppClient returns nil when no app credentials are configured;
// the github_repository fulfiller rejects work in that case.
func ProvideGitHubAppClient(cfg config.Config, log *zap.Logger) (*github.AppClient, error) {
	if cfg.GitHubAppID == "" || cfg.GitHubPrivateKey == "" {
		log.Named("fulfillment").Warn("github app not configured, github_repository benefits disabled")
		return nil, nil
	}
	return github.NewAppClient(github.Config{
		AppID:         cfg.GitHubAppID,
		PrivateKeyPEM: cfg.GitHubPrivateKey,
		BaseURL:       cfg.GitHubAPIBase,
	})
}

func ProvideGitHubRepositoryFulfiller(cfg config.Config, db *gorm.DB, app *github.AppClient, customers customerdomain.Repository, clk clock.Clock, log *zap.Logger) *GitHubRepositoryFulfiller {
	return NewGitHubRepositoryFulfiller(db, app, customers, clk, cfg.GitHubRequireOrgRepos, log)
}
