// Package authclient is the web-tier adapter for the auth service. It signs
// every request body with the shared HMAC secret and models the browser
// session as an explicit state machine.
package authclient

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

	"github.com/driftboard/authd/pkg/cryptox"
)

// ErrInvalidState reports an OAuth callback whose state does not match the
// pending challenge.
var ErrInvalidState = errors.New("authclient: oauth state mismatch")

// TokenBundle mirrors the service's issuance payload.
type TokenBundle struct {
	AccessToken          string    `json:"accessToken"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt"`
	RefreshToken         string    `json:"refreshToken"`
}

// APIError is a non-2xx response from the auth endpoint. The service only
// ever returns generic messages, so the status code is the useful part.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("authclient: auth endpoint returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to the signed /auth endpoint.
type Client struct {
	BaseURL      string
	SharedSecret string
	HTTPClient   *http.Client

	// now is swappable so signed timestamps are testable.
	now func() time.Time
}

func NewClient(baseURL, sharedSecret string) *Client {
	return &Client{
		BaseURL:      strings.TrimSuffix(baseURL, "/"),
		SharedSecret: sharedSecret,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		now: time.Now,
	}
}

// AuthorizeResponse is the sign-in challenge: the provider URL to redirect
// to and the state the caller must hold until the callback.
type AuthorizeResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// Authorize starts the OAuth flow.
func (c *Client) Authorize(ctx context.Context) (AuthorizeResponse, error) {
	var resp AuthorizeResponse
	err := c.do(ctx, map[string]string{"action": "authorize"}, "", &resp)
	return resp, err
}

// Callback completes the OAuth flow, sending both the state echoed by the
// provider and the expected state from the pending challenge.
func (c *Client) Callback(ctx context.Context, code, expectedState, state string) (TokenBundle, error) {
	var bundle TokenBundle
	err := c.do(ctx, map[string]string{
		"action":        "callback",
		"code":          code,
		"state":         state,
		"expectedState": expectedState,
	}, "", &bundle)
	return bundle, err
}

// Refresh exchanges a refresh token for a fresh bundle.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenBundle, error) {
	var bundle TokenBundle
	err := c.do(ctx, map[string]string{
		"action":       "refresh",
		"refreshToken": refreshToken,
	}, "", &bundle)
	return bundle, err
}

// SignOut tears down the session behind the given access token.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, map[string]string{"action": "signout"}, accessToken, nil)
}

// do signs the envelope and posts it. The signature covers the exact bytes
// sent, so the body is marshalled once and reused.
func (c *Client) do(ctx context.Context, envelope map[string]string, bearerToken string, out any) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	timestamp := c.now().UnixMilli()
	signature := cryptox.SignEnvelope(body, timestamp, c.SharedSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/auth", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-auth-timestamp", strconv.FormatInt(timestamp, 10))
	req.Header.Set("x-auth-signature", signature)
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var msg struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &msg) == nil {
			apiErr.Message = msg.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
