// Package client talks to a running gwsup serve over its HTTP API.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"github.com/Dicklesworthstone/gateway_supervisor/internal/api"
	"github.com/Dicklesworthstone/gateway_supervisor/internal/login"
)

// ErrUnavailable is returned when no supervisor answers at the address.
var ErrUnavailable = errors.New("supervisor not reachable")

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("supervisor returned %d", e.StatusCode)
	}
	return fmt.Sprintf("supervisor returned %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client is a typed wrapper over the supervisor API.
type Client struct {
	base string
	http *resty.Client
}

// New creates a client for addr, a host:port or a full http URL.
func New(addr string) *Client {
	base := strings.TrimSuffix(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	rc := resty.New().
		SetBaseURL(base).
		SetTimeout(15 * time.Second).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second)
	return &Client{base: base, http: rc}
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.base
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := c.http.R().SetContext(ctx).SetError(&api.ErrorResponse{})
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%w at %s: %w", ErrUnavailable, c.base, err)
	}
	if resp.IsError() {
		apiErr := &APIError{StatusCode: resp.StatusCode()}
		if e, ok := resp.Error().(*api.ErrorResponse); ok && e.Error != "" {
			apiErr.Message = e.Error
		} else {
			apiErr.Message = strings.TrimSpace(resp.String())
		}
		return apiErr
	}
	return nil
}

func accountPath(sid, action string) string {
	return "/accounts/" + url.PathEscape(sid) + "/" + action
}

// Health returns the supervisor's health summary.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns every account's published state.
func (c *Client) Status(ctx context.Context) (map[string]login.State, error) {
	out := map[string]login.State{}
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Accounts lists the supervised accounts.
func (c *Client) Accounts(ctx context.Context) ([]api.AccountResponse, error) {
	var out []api.AccountResponse
	if err := c.do(ctx, http.MethodGet, "/accounts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Write sends a line to the account's gateway.
func (c *Client) Write(ctx context.Context, sid, text string) error {
	return c.do(ctx, http.MethodPost, accountPath(sid, "write"), text, nil)
}

// Start spawns the account's gateway.
func (c *Client) Start(ctx context.Context, sid string) error {
	return c.do(ctx, http.MethodPost, accountPath(sid, "start"), nil, nil)
}

// Stop kills the account's gateway.
func (c *Client) Stop(ctx context.Context, sid string) error {
	return c.do(ctx, http.MethodPost, accountPath(sid, "stop"), nil, nil)
}

// Ticket submits a slider captcha ticket.
func (c *Client) Ticket(ctx context.Context, ticketPath, sid, ticket string) error {
	if ticketPath == "" {
		ticketPath = "/ticket"
	}
	q := url.Values{"id": {sid}, "ticket": {ticket}}
	return c.do(ctx, http.MethodPost, ticketPath+"?"+q.Encode(), nil, nil)
}

// ExportCredential fetches the account's credential bundle.
func (c *Client) ExportCredential(ctx context.Context, sid string) (string, error) {
	var out api.CredentialBody
	if err := c.do(ctx, http.MethodGet, accountPath(sid, "credential"), nil, &out); err != nil {
		return "", err
	}
	return out.Bundle, nil
}

// ImportCredential installs a credential bundle. The gateway must be stopped.
func (c *Client) ImportCredential(ctx context.Context, sid, bundle string) error {
	return c.do(ctx, http.MethodPut, accountPath(sid, "credential"), api.CredentialBody{Bundle: bundle}, nil)
}

// Events returns the account's journal.
func (c *Client) Events(ctx context.Context, sid string, limit int) (*api.EventsResponse, error) {
	var out api.EventsResponse
	path := accountPath(sid, "events")
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stream opens /status/stream. Messages are delivered until ctx is done or
// the connection drops; the channel is then closed.
func (c *Client) Stream(ctx context.Context) (<-chan api.StreamMessage, error) {
	u, err := url.Parse(c.base + "/status/stream")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w at %s: %w", ErrUnavailable, c.base, err)
	}

	out := make(chan api.StreamMessage, 16)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var msg api.StreamMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
