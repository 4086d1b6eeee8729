// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bureau-foundation/regmonitor/lib/netutil"
	"github.com/bureau-foundation/regmonitor/lib/secret"
)

// DefaultTimeout bounds each request when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Config holds configuration for creating a Client.
type Config struct {
	// HomeserverURL is the base URL of the homeserver
	// (e.g., "http://localhost:8008"). Required.
	HomeserverURL string

	// AccessToken is the admin bearer token. Required. The Client
	// borrows it; the caller closes it after the Client is done.
	AccessToken *secret.Buffer

	// Timeout bounds every request. Defaults to DefaultTimeout.
	Timeout time.Duration

	// HTTPClient is used for all requests. If nil, a client with no
	// timeout of its own is used (Timeout is applied per request).
	HTTPClient *http.Client

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client issues admin API requests. It holds no per-call state and is
// safe for concurrent use by any number of goroutines.
type Client struct {
	baseURL     string
	accessToken *secret.Buffer
	timeout     time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
}

// New creates a Client.
func New(config Config) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("admin: HomeserverURL is required")
	}
	if _, err := url.Parse(config.HomeserverURL); err != nil {
		return nil, fmt.Errorf("admin: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}
	if config.AccessToken == nil || config.AccessToken.Len() == 0 {
		return nil, fmt.Errorf("admin: AccessToken is required")
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     strings.TrimRight(config.HomeserverURL, "/"),
		accessToken: config.AccessToken,
		timeout:     timeout,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// BaseURL returns the homeserver base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// LogValue describes the client for structured logs without the token.
func (c *Client) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("homeserver_url", c.baseURL),
		slog.Duration("timeout", c.timeout),
	)
}

// ServerVersion returns the homeserver's version string. Used at startup
// to check that the admin API is reachable and the token is accepted.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/_synapse/admin/v1/server_version", nil)
	if err != nil {
		return "", err
	}
	var response struct {
		ServerVersion string `json:"server_version"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("admin: failed to parse server_version response: %w", err)
	}
	return response.ServerVersion, nil
}

// doRequest performs one authenticated request and returns the response
// body. On 2xx it returns the body. On any other status it returns an
// *APIError; when no response arrives it returns a *TransportError.
// requestBody may be nil for requests without a body.
func (c *Client) doRequest(ctx context.Context, method, path string, requestBody any) ([]byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("admin: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("admin: failed to create request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+c.accessToken.String())

	started := time.Now()
	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Debug("admin request failed",
			"method", method,
			"path", path,
			"duration", time.Since(started),
			"error", err,
		)
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: fmt.Errorf("reading response body: %w", err)}
	}

	c.logger.Debug("admin request",
		"method", method,
		"path", path,
		"status", response.StatusCode,
		"duration", time.Since(started),
	)

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	apiErr := &APIError{
		Method:     method,
		Path:       path,
		StatusCode: response.StatusCode,
		Body:       string(responseBody),
	}
	// Non-JSON error bodies (reverse proxy pages) leave Code empty.
	_ = json.Unmarshal(responseBody, apiErr)
	return nil, apiErr
}
