package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	benefitdomain "github.com/smallbiznis/entitled/internal/benefit/domain"
	"github.com/smallbiznis/entitled/internal/clock"
	customerdomain "github.com/smallbiznis/entitled/internal/customer/domain"
	"github.com/smallbiznis/entitled/internal/github"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errGitHubNotConfigured = errors.New("github app is not configured")

var repositoryPermissions = map[string]bool{
	"pull":     true,
	"triage":   true,
	"push":     true,
	"maintain": true,
	"admin":    true,
}

// GitHubRepositoryFulfiller invites the customer's linked GitHub account as a
// collaborator on a repository. Repositories are addressed by owner and name;
// grants recorded before that convention carried only an installation id and
// are migrated to the canonical form the next time they are touched.
type GitHubRepositoryFulfiller struct {
	app             *github.AppClient
	accounts        *accountResolver
	requireOrgRepos bool
	log             *zap.Logger
}

func NewGitHubRepositoryFulfiller(db *gorm.DB, app *github.AppClient, customers customerdomain.Repository, clk clock.Clock, requireOrgRepos bool, log *zap.Logger) *GitHubRepositoryFulfiller {
	named := log.Named("fulfillment").With(zap.String("component", "github_repository"))
	return &GitHubRepositoryFulfiller{
		app: app,
		accounts: &accountResolver{
			db:        db,
			customers: customers,
			clock:     clk,
			log:       named,
		},
		requireOrgRepos: requireOrgRepos,
		log:             named,
	}
}

func (f *GitHubRepositoryFulfiller) Grant(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, update bool, attempt int) (Properties, error) {
	account, err := f.accounts.resolve(ctx, customer, customerdomain.PlatformGitHub)
	if err != nil {
		return nil, err
	}

	owner := propString(benefit.Properties, "repository_owner")
	name := propString(benefit.Properties, "repository_name")
	permission := propString(benefit.Properties, "permission")

	if update && priorTargetDiffers(prior, owner, name, account.AccountUsername) {
		if _, err := f.Revoke(ctx, benefit, customer, prior, attempt); err != nil {
			return nil, err
		}
		// The prior snapshot, legacy installation reference included, no
		// longer describes live state.
		prior = nil
	}

	client, err := f.installationClient(ctx, owner, name, prior)
	if err != nil {
		return nil, err
	}

	if _, err := client.AddCollaborator(ctx, owner, name, account.AccountUsername, permission); err != nil {
		return nil, mapGitHubError(err)
	}

	// The snapshot is always canonical, which retires any legacy
	// installation_id reference on this grant.
	return Properties{
		"repository_owner":      owner,
		"repository_name":       name,
		"permission":            permission,
		"granted_account_id":    account.AccountID,
		"granted_account_login": account.AccountUsername,
	}, nil
}

// Revoke removes access from the repository recorded on the grant. A pending
// invitation is cancelled; an accepted collaborator is removed. Both paths
// tolerate access that is already gone.
func (f *GitHubRepositoryFulfiller) Revoke(ctx context.Context, benefit *benefitdomain.Benefit, customer *customerdomain.Customer, prior Properties, attempt int) (Properties, error) {
	owner := propString(prior, "repository_owner")
	name := propString(prior, "repository_name")
	if owner == "" || name == "" {
		owner = propString(benefit.Properties, "repository_owner")
		name = propString(benefit.Properties, "repository_name")
	}
	login := propString(prior, "granted_account_login")
	if owner == "" || name == "" || login == "" {
		return Properties{}, nil
	}

	client, err := f.installationClient(ctx, owner, name, prior)
	if err != nil {
		return nil, err
	}

	invitation, err := client.FindInvitation(ctx, owner, name, login)
	if err != nil {
		return nil, mapGitHubError(err)
	}
	if invitation != nil {
		if err := client.DeleteInvitation(ctx, owner, name, invitation.ID); err != nil {
			return nil, mapGitHubError(err)
		}
		return Properties{}, nil
	}

	if err := client.RemoveCollaborator(ctx, owner, name, login); err != nil {
		return nil, mapGitHubError(err)
	}
	return Properties{}, nil
}

func (f *GitHubRepositoryFulfiller) RequiresUpdate(benefit *benefitdomain.Benefit, previous Properties) bool {
	for _, key := range []string{"repository_owner", "repository_name", "permission"} {
		if propString(benefit.Properties, key) != propString(previous, key) {
			return true
		}
	}
	return false
}

func (f *GitHubRepositoryFulfiller) ValidateProperties(ctx context.Context, orgID snowflake.ID, raw map[string]any) (Properties, error) {
	owner := propString(raw, "repository_owner")
	if owner == "" {
		return nil, invalidProperty([]string{"properties", "repository_owner"}, "missing", "repository_owner is required", raw["repository_owner"])
	}
	name := propString(raw, "repository_name")
	if name == "" {
		return nil, invalidProperty([]string{"properties", "repository_name"}, "missing", "repository_name is required", raw["repository_name"])
	}
	permission := propString(raw, "permission")
	if !repositoryPermissions[permission] {
		return nil, invalidProperty([]string{"properties", "permission"}, "value_error", "must be one of pull, triage, push, maintain, admin", raw["permission"])
	}

	if f.app == nil {
		return nil, errGitHubNotConfigured
	}
	installationID, err := f.app.InstallationIDForRepo(ctx, owner, name)
	if err != nil {
		if github.IsNotFound(err) {
			return nil, invalidProperty([]string{"properties", "repository_name"}, "value_error", "app is not installed on this repository", fmt.Sprintf("%s/%s", owner, name))
		}
		return nil, mapGitHubError(err)
	}

	if f.requireOrgRepos {
		token, err := f.app.InstallationToken(ctx, installationID)
		if err != nil {
			return nil, mapGitHubError(err)
		}
		repo, err := f.app.InstallationClient(token).Repository(ctx, owner, name)
		if err != nil {
			return nil, mapGitHubError(err)
		}
		if repo.Owner.Type == "User" {
			return nil, invalidProperty([]string{"properties", "repository_owner"}, "value_error", "personal repositories are not allowed", owner)
		}
	}

	return Properties{
		"repository_owner": owner,
		"repository_name":  name,
		"permission":       permission,
	}, nil
}

// installationClient resolves the app installation covering the repository
// and returns a client authenticated with a fresh installation token. Grants
// written before canonical addressing carry an installation_id; it is trusted
// as-is and retired when the grant snapshot is rewritten.
func (f *GitHubRepositoryFulfiller) installationClient(ctx context.Context, owner, name string, prior Properties) (*github.Client, error) {
	if f.app == nil {
		return nil, errGitHubNotConfigured
	}
	installationID, legacy := propInt64(prior, "installation_id")
	if !legacy {
		id, err := f.app.InstallationIDForRepo(ctx, owner, name)
		if err != nil {
			if github.IsNotFound(err) {
				return nil, fmt.Errorf("app is not installed on %s/%s: %w", owner, name, err)
			}
			return nil, mapGitHubError(err)
		}
		installationID = id
	}

	token, err := f.app.InstallationToken(ctx, installationID)
	if err != nil {
		return nil, mapGitHubError(err)
	}
	return f.app.InstallationClient(token), nil
}

// priorTargetDiffers reports whether the stored snapshot points at a
// different repository or account than this grant is about to apply. A stale
// target gets revoked first so access does not leak on the old repository or
// the old login. Permission is deliberately not compared: AddCollaborator
// updates an existing collaborator's permission in place, so no pre-revoke
// is needed for a permission change.
func priorTargetDiffers(prior Properties, owner, name, login string) bool {
	priorOwner := propString(prior, "repository_owner")
	priorName := propString(prior, "repository_name")
	if priorOwner == "" && priorName == "" {
		return false
	}
	if priorOwner != owner || priorName != name {
		return true
	}
	priorLogin := propString(prior, "granted_account_login")
	return priorLogin != "" && !strings.EqualFold(priorLogin, login)
}

func mapGitHubError(err error) error {
	if retryAfter, ok := github.RetryAfterOf(err); ok {
		return Retriable(retryAfter, err)
	}
	var apiErr *github.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= http.StatusInternalServerError {
		return Retriable(0, err)
	}
	if isTransportError(err) {
		return Retriable(0, err)
	}
	return err
}
