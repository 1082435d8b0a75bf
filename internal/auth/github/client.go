// Package github talks to GitHub's OAuth and user endpoints. It covers the
// three upstream calls the auth service needs: building the authorization
// redirect, exchanging a code for a provider access token, and fetching the
// profile behind that token.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/driftboard/authd/pkg/cryptox"
)

const (
	defaultAuthorizeURL = "https://github.com/login/oauth/authorize"
	defaultTokenURL     = "https://github.com/login/oauth/access_token"
	defaultAPIBaseURL   = "https://api.github.com"

	// read:user for the profile, user:email because the public profile
	// email is often unset.
	oauthScopes = "read:user user:email"

	stateSize = 32
)

// UpstreamError reports a non-2xx response from GitHub.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("github: %s returned status %d", e.Endpoint, e.StatusCode)
}

// Profile is the subset of the GitHub user we persist.
type Profile struct {
	ID        string
	Login     string
	Name      string
	Email     string
	AvatarURL string
}

// Client is a GitHub OAuth client. Endpoint fields default to the public
// GitHub URLs; tests point them at an httptest server.
type Client struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string

	AuthorizeURL string
	TokenURL     string
	APIBaseURL   string

	HTTPClient *http.Client
}

func NewClient(clientID, clientSecret, callbackURL string) *Client {
	return &Client{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		CallbackURL:  callbackURL,
		AuthorizeURL: defaultAuthorizeURL,
		TokenURL:     defaultTokenURL,
		APIBaseURL:   defaultAPIBaseURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// AuthorizationURL builds the redirect URL the browser should visit and the
// fresh state value the caller must hold on to for the callback comparison.
func (c *Client) AuthorizationURL() (string, string, error) {
	state, err := cryptox.GenerateToken(stateSize)
	if err != nil {
		return "", "", fmt.Errorf("generate state: %w", err)
	}

	q := url.Values{}
	q.Set("client_id", c.ClientID)
	q.Set("redirect_uri", c.CallbackURL)
	q.Set("scope", oauthScopes)
	q.Set("state", state)

	return c.AuthorizeURL + "?" + q.Encode(), state, nil
}

// ExchangeCode swaps an authorization code for a provider access token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", c.CallbackURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &UpstreamError{Endpoint: "token", StatusCode: resp.StatusCode}
	}

	var body struct {
		AccessToken      string `json:"access_token"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	// GitHub reports bad codes with 200 + an error field.
	if body.Error != "" {
		return "", fmt.Errorf("github: token exchange rejected: %s", body.Error)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("github: token exchange returned no access token")
	}

	return body.AccessToken, nil
}

// FetchProfile loads the authenticated user's profile. If the public profile
// carries no email it falls back to the primary verified email from
// /user/emails, and the display name falls back to the login handle.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	var user struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := c.getJSON(ctx, accessToken, "/user", &user); err != nil {
		return Profile{}, err
	}

	p := Profile{
		ID:        fmt.Sprintf("%d", user.ID),
		Login:     user.Login,
		Name:      user.Name,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
	}

	if p.Name == "" {
		p.Name = p.Login
	}

	if p.Email == "" {
		email, err := c.fetchPrimaryEmail(ctx, accessToken)
		if err != nil {
			return Profile{}, err
		}
		p.Email = email
	}

	return p, nil
}

func (c *Client) fetchPrimaryEmail(ctx context.Context, accessToken string) (string, error) {
	var emails []struct {
		Email   string `json:"email"`
		Primary bool   `json:"primary"`
	}
	if err := c.getJSON(ctx, accessToken, "/user/emails", &emails); err != nil {
		return "", err
	}

	for _, e := range emails {
		if e.Primary {
			return e.Email, nil
		}
	}
	if len(emails) > 0 {
		return emails[0].Email, nil
	}
	return "", nil
}

func (c *Client) getJSON(ctx context.Context, accessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{Endpoint: path, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
