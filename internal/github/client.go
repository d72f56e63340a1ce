// Package github is a minimal GitHub App REST client covering repository
// collaborator management for the github_repository benefit type.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultBaseURL = "https://api.github.com"

// AppClient authenticates as a GitHub App and mints installation tokens.
type AppClient struct {
	httpClient *http.Client
	baseURL    string
	appID      string
	signingKey any
}

type Config struct {
	AppID         string
	PrivateKeyPEM string
	BaseURL       string
	Timeout       time.Duration
}

func NewAppClient(cfg Config) (*AppClient, error) {
	if strings.TrimSpace(cfg.AppID) == "" {
		return nil, errors.New("github app id is required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse github app private key: %w", err)
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AppClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		appID:      strings.TrimSpace(cfg.AppID),
		signingKey: key,
	}, nil
}

func (a *AppClient) appJWT(now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    a.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.signingKey)
}

// InstallationIDForRepo resolves the app installation covering a repository.
// A NotFound response means the app is not installed on that repository.
func (a *AppClient) InstallationIDForRepo(ctx context.Context, owner, name string) (int64, error) {
	token, err := a.appJWT(time.Now())
	if err != nil {
		return 0, err
	}
	var installation struct {
		ID int64 `json:"id"`
	}
	err = doJSON(ctx, a.httpClient, a.baseURL, http.MethodGet,
		fmt.Sprintf("/repos/%s/%s/installation", owner, name),
		"Bearer "+token, nil, &installation)
	if err != nil {
		return 0, err
	}
	return installation.ID, nil
}

// InstallationToken exchanges the app JWT for a short-lived installation
// access token.
func (a *AppClient) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	token, err := a.appJWT(time.Now())
	if err != nil {
		return "", err
	}
	var created struct {
		Token string `json:"token"`
	}
	err = doJSON(ctx, a.httpClient, a.baseURL, http.MethodPost,
		fmt.Sprintf("/app/installations/%d/access_tokens", installationID),
		"Bearer "+token, struct{}{}, &created)
	if err != nil {
		return "", err
	}
	return created.Token, nil
}

// InstallationClient returns a client authenticated with an installation
// token.
func (a *AppClient) InstallationClient(token string) *Client {
	return &Client{
		httpClient: a.httpClient,
		baseURL:    a.baseURL,
		authHeader: "token " + token,
	}
}

// Client performs repository-scoped calls with an installation token.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authHeader string
}

type Repository struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Owner struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"owner"`
}

type Invitation struct {
	ID      int64 `json:"id"`
	Invitee struct {
		Login string `json:"login"`
	} `json:"invitee"`
	Permissions string `json:"permissions"`
}

func (c *Client) Repository(ctx context.Context, owner, name string) (*Repository, error) {
	var repo Repository
	err := doJSON(ctx, c.httpClient, c.baseURL, http.MethodGet,
		fmt.Sprintf("/repos/%s/%s", owner, name), c.authHeader, nil, &repo)
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

// AddCollaborator invites a user to the repository with the given permission
// level. A 201 returns the pending invitation; a 204 means the user is
// already a collaborator and the permission was applied directly.
func (c *Client) AddCollaborator(ctx context.Context, owner, repo, username, permission string) (*Invitation, error) {
	body := map[string]string{"permission": permission}
	var invitation Invitation
	status, err := doJSONStatus(ctx, c.httpClient, c.baseURL, http.MethodPut,
		fmt.Sprintf("/repos/%s/%s/collaborators/%s", owner, repo, username),
		c.authHeader, body, &invitation)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &invitation, nil
}

func (c *Client) RemoveCollaborator(ctx context.Context, owner, repo, username string) error {
	err := doJSON(ctx, c.httpClient, c.baseURL, http.MethodDelete,
		fmt.Sprintf("/repos/%s/%s/collaborators/%s", owner, repo, username),
		c.authHeader, nil, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// FindInvitation returns the pending invitation for a user, or nil when none
// exists.
func (c *Client) FindInvitation(ctx context.Context, owner, repo, username string) (*Invitation, error) {
	var invitations []Invitation
	err := doJSON(ctx, c.httpClient, c.baseURL, http.MethodGet,
		fmt.Sprintf("/repos/%s/%s/invitations", owner, repo), c.authHeader, nil, &invitations)
	if err != nil {
		return nil, err
	}
	for i := range invitations {
		if strings.EqualFold(invitations[i].Invitee.Login, username) {
			return &invitations[i], nil
		}
	}
	return nil, nil
}

func (c *Client) DeleteInvitation(ctx context.Context, owner, repo string, invitationID int64) error {
	err := doJSON(ctx, c.httpClient, c.baseURL, http.MethodDelete,
		fmt.Sprintf("/repos/%s/%s/invitations/%d", owner, repo, invitationID),
		c.authHeader, nil, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// APIError is a non-2xx GitHub response. RetryAfter is populated for rate
// limits from Retry-After or the primary rate limit reset header.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: status %d: %s", e.StatusCode, e.Message)
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// RetryAfterOf returns the provider-supplied retry delay when err is a rate
// limit response.
func RetryAfterOf(err error) (time.Duration, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return 0, false
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		return apiErr.RetryAfter, true
	}
	// Primary rate limits surface as 403 with a reset header.
	if apiErr.StatusCode == http.StatusForbidden && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter, true
	}
	return 0, false
}

func doJSON(ctx context.Context, client *http.Client, baseURL, method, path, auth string, body, out any) error {
	_, err := doJSONStatus(ctx, client, baseURL, method, path, auth, body, out)
	return err
}

func doJSONStatus(ctx context.Context, client *http.Client, baseURL, method, path, auth string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return resp.StatusCode, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
		return resp.StatusCode, nil
	}

	return resp.StatusCode, errorFromResponse(resp)
}

func errorFromResponse(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
		apiErr.Message = payload.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	if header := strings.TrimSpace(resp.Header.Get("Retry-After")); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			apiErr.RetryAfter = time.Duration(seconds) * time.Second
		}
	} else if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining == "0" {
		if reset := strings.TrimSpace(resp.Header.Get("X-RateLimit-Reset")); reset != "" {
			if epoch, err := strconv.ParseInt(reset, 10, 64); err == nil {
				if until := time.Until(time.Unix(epoch, 0)); until > 0 {
					apiErr.RetryAfter = until
				}
			}
		}
	}

	return apiErr
}
