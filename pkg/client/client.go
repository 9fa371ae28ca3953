package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

const DefaultBaseURL = "http://localhost:8765/api"

// Client talks to a svcdeck daemon over its REST API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig configures https when the daemon sits behind a TLS proxy.
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 30 * time.Second,
	}
}

// New creates a new svcdeck API client. Stop and restart can block for the
// daemon's stop timeout, so the default request timeout is generous.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: trimSlash(config.BaseURL),
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	ok := resp.StatusCode == http.StatusOK
	c.logger.Debug("Daemon reachability check", "reachable", ok, "status", resp.StatusCode)
	return ok
}

// Health calls /health on the daemon root, i.e. the base URL without its path.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return h, fmt.Errorf("parse base url: %w", err)
	}
	u.Path = "/health"
	u.RawQuery = ""
	err = c.do(ctx, http.MethodGet, u.String(), nil, &h)
	return h, err
}

func (c *Client) Services(ctx context.Context) ([]ServiceSpec, error) {
	var out []ServiceSpec
	err := c.do(ctx, http.MethodGet, c.baseURL+"/services", nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context) ([]ServiceStatus, error) {
	var out []ServiceStatus
	err := c.do(ctx, http.MethodGet, c.baseURL+"/status", nil, &out)
	return out, err
}

func (c *Client) Start(ctx context.Context, name string) (ActionResult, error) {
	var out ActionResult
	err := c.do(ctx, http.MethodPost, c.serviceURL(name, "start"), nil, &out)
	return out, err
}

// Stop stops a service. A zero timeout uses the daemon's default.
func (c *Client) Stop(ctx context.Context, name string, timeout time.Duration) (StopResult, error) {
	var out StopResult
	u := c.serviceURL(name, "stop")
	if timeout > 0 {
		u += "?timeout=" + url.QueryEscape(timeout.String())
	}
	err := c.do(ctx, http.MethodPost, u, nil, &out)
	return out, err
}

func (c *Client) Restart(ctx context.Context, name string) (ActionResult, error) {
	var out ActionResult
	err := c.do(ctx, http.MethodPost, c.serviceURL(name, "restart"), nil, &out)
	return out, err
}

func (c *Client) ScanPorts(ctx context.Context, name string) (ScanResult, error) {
	var out ScanResult
	err := c.do(ctx, http.MethodPost, c.serviceURL(name, "scan-ports"), nil, &out)
	return out, err
}

func (c *Client) Delete(ctx context.Context, name string) (ActionResult, error) {
	var out ActionResult
	err := c.do(ctx, http.MethodDelete, c.baseURL+"/service/"+url.PathEscape(name), nil, &out)
	return out, err
}

func (c *Client) BulkStop(ctx context.Context, kind string) (StopResult, error) {
	var out StopResult
	err := c.do(ctx, http.MethodPost, c.baseURL+"/bulk/stop/"+url.PathEscape(kind), nil, &out)
	return out, err
}

// AddService registers spec. A rejected spec comes back as *ValidationError.
func (c *Client) AddService(ctx context.Context, spec ServiceSpec) (AddResult, error) {
	var out AddResult
	c.logger.Debug("Adding service", "name", spec.Name, "kind", spec.Kind)
	err := c.do(ctx, http.MethodPost, c.baseURL+"/service/add", spec, &out)
	return out, err
}

func (c *Client) Settings(ctx context.Context) (Settings, error) {
	var out Settings
	err := c.do(ctx, http.MethodGet, c.baseURL+"/settings", nil, &out)
	return out, err
}

// UpdateSettings sends a partial update; only the keys present change.
func (c *Client) UpdateSettings(ctx context.Context, patch map[string]any) (ActionResult, error) {
	var out ActionResult
	err := c.do(ctx, http.MethodPost, c.baseURL+"/settings", patch, &out)
	return out, err
}

func (c *Client) Stats(ctx context.Context) (HostStats, error) {
	var out HostStats
	err := c.do(ctx, http.MethodGet, c.baseURL+"/stats", nil, &out)
	return out, err
}

func (c *Client) PortConflicts(ctx context.Context) (ConflictReport, error) {
	var out ConflictReport
	err := c.do(ctx, http.MethodGet, c.baseURL+"/port-conflicts", nil, &out)
	return out, err
}

func (c *Client) serviceURL(name, action string) string {
	return c.baseURL + "/service/" + url.PathEscape(name) + "/" + action
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

// do sends body as JSON (when non-nil) and decodes a 200 response into out.
func (c *Client) do(ctx context.Context, method, u string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
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
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusBadRequest {
		var ve ValidationError
		if err := json.Unmarshal(raw, &ve); err == nil && len(ve.Issues) > 0 {
			return &ve
		}
	}

	var errorResp ErrorResponse
	if err := json.Unmarshal(raw, &errorResp); err != nil || errorResp.Message == "" {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	c.logger.Debug("API request failed", "error", errorResp.Message, "status", resp.StatusCode)
	return fmt.Errorf("API error: %s", errorResp.Message)
}

// IsValidation reports whether err is a rejected add.
func IsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
