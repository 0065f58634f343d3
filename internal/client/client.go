// Package client talks to a morpheus server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aspect-build/morpheus/internal/logx"
)

// DefaultTimeout covers a request that waits out the whole approval window.
const DefaultTimeout = 11 * time.Minute

// ErrTokenNotFound is returned when the server rejects a pickup token.
var ErrTokenNotFound = errors.New("invalid or expired pickup token")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// RequestResult is the server's answer to a credential request.
type RequestResult struct {
	Service     string `json:"service"`
	Scope       string `json:"scope"`
	RequestID   string `json:"request_id"`
	Approved    bool   `json:"approved"`
	PickupToken string `json:"pickup_token,omitempty"`
	Message     string `json:"message"`
}

// Status is the body of GET /status.
type Status struct {
	Status           string   `json:"status"`
	Services         []string `json:"services"`
	VaultConnected   bool     `json:"vault_connected"`
	DiscordConnected bool     `json:"discord_connected"`
}

// Health is the body of GET /health.
type Health struct {
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	VaultStatus   string `json:"vault_status"`
	DiscordStatus string `json:"discord_status"`
}

// Client is a morpheus API client.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New returns a client for serverURL authenticating with apiKey.
func New(serverURL, apiKey string) *Client {
	if apiKey != "" {
		logx.AddSecrets(apiKey)
	}
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

// Request asks for service/scope and blocks until the server decides.
func (c *Client) Request(ctx context.Context, service, scope, reason string) (*RequestResult, error) {
	body := map[string]string{"service": service, "scope": scope, "reason": reason}
	var out RequestResult
	if err := c.do(ctx, http.MethodPost, "/request", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pickup redeems token for the credential payload.
func (c *Client) Pickup(ctx context.Context, token string) (map[string]any, error) {
	var out struct {
		Credential map[string]any `json:"credential"`
	}
	err := c.do(ctx, http.MethodPost, "/pickup", map[string]string{"token": token}, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return out.Credential, nil
}

// Status fetches GET /status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	logx.Debugf("client %s %s", method, path)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
