package authbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quizwell/authbridge/pkg/slogx"
	"golang.org/x/sync/singleflight"
)

// Remote API auth endpoints.
const (
	guestTokenPath = "/public/auth/token"
	verifyPath     = "/v1/auth/verify"
	refreshPath    = "/v1/auth/refresh"
)

// apiKeyHeader is attached unconditionally to every call the client makes.
const apiKeyHeader = "x-api-key"

// TokenPair is the response of the refresh endpoint. The field casing
// differs from the guest endpoint's access_token; that is the remote API's
// actual contract.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Client calls the remote API's credential endpoints: guest issuance,
// token verification and refresh exchange. It holds no credential state of
// its own; the store does.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	log      *slog.Logger
	coalesce *singleflight.Group
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the static API key header attached to every call.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.APIKey = key }
}

// WithHTTPClient replaces the default HTTP client. Its timeout applies to
// every call including guest issuance and refresh; a timed-out attempt is
// treated identically to an explicit failure response.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.HTTPClient = h }
}

// WithClientLogger sets the logger for request diagnostics.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = slogx.Component(l, "authbridge") }
}

// WithCoalescedIssuance collapses concurrent guest-token requests into a
// single in-flight call. Off by default: redundant guest tokens under a
// request burst are each independently valid, just wasteful.
func WithCoalescedIssuance() ClientOption {
	return func(c *Client) { c.coalesce = &singleflight.Group{} }
}

// NewClient creates a client for the remote API rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: slogx.Component(nil, "authbridge"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IssueGuestToken mints an anonymous bearer token from the public
// endpoint. No credential is attached. Any non-success status or transport
// failure is returned as an error that callers downgrade to "continue
// without a credential" — never a fatal condition.
//
// The issuer does not inspect current credential state; callers are
// responsible for not replacing a valid non-guest credential.
func (c *Client) IssueGuestToken(ctx context.Context) (string, error) {
	if c.coalesce == nil {
		return c.issueGuestToken(ctx)
	}

	v, err, shared := c.coalesce.Do("guest-token", func() (any, error) {
		return c.issueGuestToken(ctx)
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.log.Debug("guest issuance coalesced with in-flight request")
	}
	return v.(string), nil
}

func (c *Client) issueGuestToken(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, guestTokenPath, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("guest token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", decodeAPIError(resp)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode guest token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("guest token response carried no access_token")
	}

	return body.AccessToken, nil
}

// VerifyToken asks the remote API whether it still accepts the bearer
// token. The response carries no payload contract beyond success/failure;
// a 401 unwraps to ErrTokenRejected.
func (c *Client) VerifyToken(ctx context.Context, token string) error {
	req, err := c.newRequest(ctx, http.MethodPost, verifyPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	return nil
}

// Refresh exchanges a refresh token for a new access/refresh pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	payload, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to encode refresh request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, refreshPath, bytes.NewReader(payload))
	if err != nil {
		return TokenPair{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return TokenPair{}, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return TokenPair{}, decodeAPIError(resp)
	}

	var pair TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return TokenPair{}, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if pair.AccessToken == "" {
		return TokenPair{}, fmt.Errorf("refresh response carried no accessToken")
	}

	return pair, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body *bytes.Reader) (*http.Request, error) {
	var req *http.Request
	var err error
	if body == nil {
		req, err = http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.APIKey != "" {
		req.Header.Set(apiKeyHeader, c.APIKey)
	}
	return req, nil
}
