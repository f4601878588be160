package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Client is the platform transport consumed by the deployment layer.
// Implementations must return *APIError for non-2xx responses so callers
// can classify failures by status code.
type Client interface {
	// Execute performs one authenticated request and returns the raw
	// response body. A nil body sends no payload.
	Execute(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error)

	// Query runs an encoded query against a table and returns the matching
	// rows. The query uses the platform's native encoding: field=value
	// predicates joined with "^", "^OR" for alternation.
	Query(ctx context.Context, table, query string, limit int) ([]Record, error)

	// Host returns the instance host for logging and diagnostics.
	Host() string
}

// Config holds connection settings for a platform instance.
type Config struct {
	// InstanceURL is the base URL, e.g. "https://dev12345.service-now.com".
	InstanceURL string `json:"instance_url" yaml:"instance_url"`

	// Username for basic authentication.
	Username string `json:"username" yaml:"username"`

	// Password for basic authentication.
	Password string `json:"password" yaml:"-"`

	// Token is an OAuth bearer token. When set it takes precedence over
	// basic authentication.
	Token string `json:"-" yaml:"-"`

	// Timeout is the per-request transport timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent overrides the default User-Agent header.
	UserAgent string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout:   30 * time.Second,
		UserAgent: "glidepush",
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.InstanceURL == "" {
		return fmt.Errorf("instance URL is required")
	}
	u, err := url.Parse(c.InstanceURL)
	if err != nil {
		return fmt.Errorf("invalid instance URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("instance URL must be http or https, got %q", u.Scheme)
	}
	if c.Token == "" && (c.Username == "" || c.Password == "") {
		return fmt.Errorf("either token or username/password is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// HTTPClient is the Table API implementation of Client.
type HTTPClient struct {
	config  *Config
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a new Table API client.
func NewHTTPClient(config *Config) (*HTTPClient, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid platform config: %w", err)
	}

	return &HTTPClient{
		config:  config,
		baseURL: strings.TrimRight(config.InstanceURL, "/"),
		http: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Host returns the instance host for logging and diagnostics.
func (c *HTTPClient) Host() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL
	}
	return u.Host
}

// Execute performs one authenticated request against the instance.
func (c *HTTPClient) Execute(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	} else {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}

	log.Debug().Str("method", method).Str("path", path).Msg("platform request")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
		}
		apiErr.Message, apiErr.Detail = parseErrorEnvelope(data)
		log.Debug().Int("status", resp.StatusCode).Str("path", path).
			Str("message", apiErr.Message).Msg("platform request failed")
		return nil, apiErr
	}

	return json.RawMessage(data), nil
}

// Query runs an encoded query against a table.
func (c *HTTPClient) Query(ctx context.Context, table, query string, limit int) ([]Record, error) {
	if table == "" {
		return nil, fmt.Errorf("table is required")
	}
	if limit <= 0 {
		limit = 10
	}

	params := url.Values{}
	if query != "" {
		params.Set("sysparm_query", query)
	}
	params.Set("sysparm_limit", strconv.Itoa(limit))
	params.Set("sysparm_exclude_reference_link", "true")

	path := "/api/now/table/" + table + "?" + params.Encode()

	raw, err := c.Execute(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Result []Record `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("query %s: decode response: %w", table, err)
	}

	return envelope.Result, nil
}

// parseErrorEnvelope extracts the message and detail from the platform's
// error response shape: {"error": {"message": ..., "detail": ...}}.
func parseErrorEnvelope(data []byte) (message, detail string) {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Detail  string `json:"detail"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		// Non-JSON error bodies are truncated into the message.
		s := strings.TrimSpace(string(data))
		if len(s) > 200 {
			s = s[:200]
		}
		return s, ""
	}
	return envelope.Error.Message, envelope.Error.Detail
}
