// Package client talks to a running hashvisr HTTP surface.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Client provides HTTP client functionality to communicate with the hashvisr daemon
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Token    string       // Bearer token for the mutating routes
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	CACert     string // CA certificate file path
	ServerName string // Server name for verification
	SkipVerify bool
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8686/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new API client. A TLS setup error is returned rather than
// silently falling back to an unverified connection.
func New(config Config) (*Client, error) {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.TLS != nil || config.Insecure {
		tc, err := setupClientTLS(config)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tc
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		token:   config.Token,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
	}, nil
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Status(ctx)
	if err != nil {
		c.logger.Debug("daemon unreachable", "url", c.baseURL, "error", err)
	}
	return err == nil
}

// Status lists every kind's lifecycle.
func (c *Client) Status(ctx context.Context) (Overview, error) {
	var out Overview
	err := c.do(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

// Kind returns one kind's lifecycle, console output and stats.
func (c *Client) Kind(ctx context.Context, kind string) (KindStatus, error) {
	var out KindStatus
	err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(kind), nil, &out)
	return out, err
}

func (c *Client) Host(ctx context.Context) (Host, error) {
	var out Host
	err := c.do(ctx, http.MethodGet, "/host", nil, &out)
	return out, err
}

// Schedules lists the daemon's scheduled actions.
func (c *Client) Schedules(ctx context.Context) ([]ScheduleEntry, error) {
	var out []ScheduleEntry
	err := c.do(ctx, http.MethodGet, "/schedule", nil, &out)
	return out, err
}

func (c *Client) Start(ctx context.Context, kind string) error {
	return c.action(ctx, "start", kind)
}

func (c *Client) Stop(ctx context.Context, kind string) error {
	return c.action(ctx, "stop", kind)
}

// Restart returns once the restart is posted, not once the kind is back up.
func (c *Client) Restart(ctx context.Context, kind string) error {
	return c.action(ctx, "restart", kind)
}

// SendStdin writes one console line to the kind's child.
func (c *Client) SendStdin(ctx context.Context, kind, line string) error {
	return c.do(ctx, http.MethodPost, "/stdin/"+url.PathEscape(kind), stdinRequest{Line: line}, nil)
}

func (c *Client) Mode(ctx context.Context) (Mode, error) {
	var out Mode
	err := c.do(ctx, http.MethodGet, "/xvb/mode", nil, &out)
	return out, err
}

// SetMode applies u and returns the resulting setting.
func (c *Client) SetMode(ctx context.Context, u ModeUpdate) (Mode, error) {
	var out Mode
	err := c.do(ctx, http.MethodPost, "/xvb/mode", u, &out)
	return out, err
}

func (c *Client) action(ctx context.Context, op, kind string) error {
	c.logger.Debug("process action", "op", op, "kind", kind)
	return c.do(ctx, http.MethodPost, "/"+op+"/"+url.PathEscape(kind), nil, nil)
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		tc.InsecureSkipVerify = true // #nosec G402 -- opt-in for self-signed local daemons
		return tc, nil
	}
	t := config.TLS
	tc.InsecureSkipVerify = t.SkipVerify // #nosec G402
	tc.ServerName = t.ServerName
	if t.CACert != "" {
		pem, err := os.ReadFile(filepath.Clean(t.CACert))
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse CA certificate %s", t.CACert)
		}
		tc.RootCAs = pool
	}
	return tc, nil
}

// do sends body as JSON and decodes a 200 reply into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var er ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&er)
	c.logger.Debug("API request failed", "status", resp.StatusCode, "error", er.Error)
	return &APIError{StatusCode: resp.StatusCode, Message: er.Error}
}
