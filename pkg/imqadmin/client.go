package imqadmin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultMaxResponseBytes bounds how much of an admin response body Client reads.
	DefaultMaxResponseBytes = int64(1 << 20) // 1 MiB
	// DefaultTimeout bounds a single admin request.
	DefaultTimeout = 5 * time.Second
)

// Client is a thin HTTP client for an imqd admin surface: /healthz only.
// It intentionally carries none of a general-purpose service SDK's
// tenant/auth header plumbing, since multi-tenant auth is out of scope here.
type Client struct {
	BaseURL          string
	HTTP             *http.Client
	MaxResponseBytes int64
}

// NewClient builds a Client with safe defaults.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:          strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:             &http.Client{Timeout: DefaultTimeout},
		MaxResponseBytes: DefaultMaxResponseBytes,
	}
}

// Healthz fetches and decodes the admin server's /healthz document.
func (c *Client) Healthz(ctx context.Context) (healthzResponse, error) {
	var out healthzResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return out, fmt.Errorf("imqadmin: build request: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return out, fmt.Errorf("imqadmin: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.MaxResponseBytes+1))
	if err != nil {
		return out, fmt.Errorf("imqadmin: read response: %w", err)
	}
	if int64(len(body)) > c.MaxResponseBytes {
		return out, fmt.Errorf("imqadmin: response exceeded %d bytes", c.MaxResponseBytes)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("imqadmin: decode response: %w", err)
	}
	return out, nil
}
