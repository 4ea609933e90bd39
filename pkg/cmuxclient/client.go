// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package cmuxclient provides a Go client library for the cmux bridge's
// control API: the IPC-style request/response operations documented under
// the bridge's HTTP mapping (POST /ipc/<channel>).
//
// Create a client pointing at a running bridge:
//
//	c := cmuxclient.New("http://localhost:4590")
//	projects, err := c.Call(ctx, "projects.list")
//
// Every call returns the op's raw JSON payload on success, or an *APIError
// describing what the bridge reported.
package cmuxclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a cmux bridge control-API client, safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// New creates a Client pointing at the given bridge base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout overrides the default 30 second request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// APIError is returned when the bridge's envelope reports success=false.
type APIError struct {
	Channel string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Channel, e.Message)
}

type ipcRequest struct {
	Args []interface{} `json:"args"`
}

type ipcResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// Call invokes a bridge IPC channel (e.g. "projects.list",
// "workspace.sendMessage") with the given positional arguments and returns
// its raw JSON data payload.
func (c *Client) Call(ctx context.Context, channel string, args ...interface{}) (json.RawMessage, error) {
	if args == nil {
		args = []interface{}{}
	}
	body, err := json.Marshal(ipcRequest{Args: args})
	if err != nil {
		return nil, fmt.Errorf("cmuxclient: marshal args: %w", err)
	}

	url := c.baseURL + "/ipc/" + channel
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("cmuxclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cmuxclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cmuxclient: read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, &APIError{Channel: channel, Message: strings.TrimSpace(string(raw))}
	}

	var env ipcResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("cmuxclient: decode response: %w", err)
	}
	if !env.Success {
		return nil, &APIError{Channel: channel, Message: env.Error}
	}
	return env.Data, nil
}

// CallInto invokes Call and unmarshals the resulting data into v.
func (c *Client) CallInto(ctx context.Context, channel string, v interface{}, args ...interface{}) error {
	data, err := c.Call(ctx, channel, args...)
	if err != nil {
		return err
	}
	if v == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
