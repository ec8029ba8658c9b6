package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"refsession/internal/credential"
	"refsession/pkg/logging"
)

const (
	// DefaultTimeout bounds each auth request, including the refresh call.
	DefaultTimeout = 30 * time.Second

	loginPath   = "/auth/login"
	refreshPath = "/auth/refresh"
	logoutPath  = "/auth/logout"

	// maxResponseSize limits how much of a response body is read.
	maxResponseSize = 1 << 20
)

// Client talks to the auth endpoints of the backend.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	userAgent  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for auth requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  "refsession",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the server URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Login exchanges username and password for a credential.
func (c *Client) Login(ctx context.Context, username, password string) (*credential.Credential, error) {
	var resp loginResponse
	if err := c.post(ctx, "login", loginPath, "", loginRequest{Username: username, Password: password}, &resp); err != nil {
		return nil, err
	}

	switch {
	case resp.Access == "":
		return nil, &MalformedResponseError{Op: "login", Reason: "missing access token"}
	case resp.Refresh == "":
		return nil, &MalformedResponseError{Op: "login", Reason: "missing refresh token"}
	}

	logging.Debug("AuthClient", "Login succeeded for %s", username)
	return &credential.Credential{
		AccessToken:  resp.Access,
		RefreshToken: resp.Refresh,
		User:         resp.User,
	}, nil
}

// Refresh exchanges a refresh token for a new access token. It makes exactly
// one request and never retries.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	var resp RefreshResult
	if err := c.post(ctx, "refresh", refreshPath, "", refreshRequest{Refresh: refreshToken}, &resp); err != nil {
		return nil, err
	}
	if resp.Access == "" {
		return nil, &MalformedResponseError{Op: "refresh", Reason: "missing access token"}
	}
	return &resp, nil
}

// Logout revokes the refresh token on the server.
func (c *Client) Logout(ctx context.Context, cred credential.Credential) error {
	return c.post(ctx, "logout", logoutPath, cred.AccessToken, refreshRequest{Refresh: cred.RefreshToken}, nil)
}

// post sends body as JSON and decodes a 2xx response into out (if non-nil).
func (c *Client) post(ctx context.Context, op, path, bearer string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	endpoint := c.baseURL.JoinPath(path).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Log the body for debugging but keep it out of the error message.
		logging.Debug("AuthClient", "%s failed: status=%d body=%s", op, resp.StatusCode, string(data))
		var errBody errorResponse
		_ = json.Unmarshal(data, &errBody)
		return &RejectedError{Op: op, StatusCode: resp.StatusCode, Message: errBody.text()}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &MalformedResponseError{Op: op, Reason: "invalid JSON", Err: err}
	}
	return nil
}
