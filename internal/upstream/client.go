// Package upstream calls the platform that performs dataset enrichment and
// mirrors evaluation run status.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/evalcore/internal/domain"
	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const maxResponseBytes = 32 << 20

type Config struct {
	BaseURL        string        `yaml:"base_url"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	MaxAttempts    uint          `yaml:"max_attempts"`

	// Client-credentials settings; leave TokenURL empty for unauthenticated calls.
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

func DefaultConfig() Config {
	return Config{
		AttemptTimeout: 10 * time.Second,
		MaxAttempts:    3,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("upstream base url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream base url is invalid: %q", c.BaseURL)
	}
	if c.AttemptTimeout <= 0 {
		return errors.New("upstream attempt timeout must be positive")
	}
	if c.MaxAttempts < 1 {
		return errors.New("upstream max attempts must be >= 1")
	}
	if c.TokenURL != "" && (c.ClientID == "" || c.ClientSecret == "") {
		return errors.New("upstream client id and secret are required with a token url")
	}
	return nil
}

// EnrichmentRequest asks the platform to enrich a dataset for a run.
type EnrichmentRequest struct {
	EvalRunID       string `json:"evalRunId"`
	AgentID         string `json:"agentId"`
	EnvironmentID   string `json:"environmentId"`
	AgentSchemaName string `json:"agentSchemaName"`
	DatasetID       string `json:"datasetId"`
}

type Client struct {
	baseURL        string
	httpClient     *http.Client
	tokens         oauth2.TokenSource
	attemptTimeout time.Duration
	maxAttempts    uint
	newBackOff     func() backoff.BackOff
	logger         *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:     &http.Client{},
		attemptTimeout: cfg.AttemptTimeout,
		maxAttempts:    cfg.MaxAttempts,
		newBackOff:     func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:         logger,
	}
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		c.tokens = cc.TokenSource(context.Background())
	}
	return c, nil
}

// WithTokenSource replaces the credentials used for every call.
func (c *Client) WithTokenSource(ts oauth2.TokenSource) *Client {
	c.tokens = ts
	return c
}

func (c *Client) RequestEnrichment(ctx context.Context, req EnrichmentRequest) error {
	_, err := c.do(ctx, "request_enrichment", http.MethodPost, "/api/v1/enrichment", req)
	return err
}

func (c *Client) SetStatus(ctx context.Context, evalRunID, status string) error {
	path := "/api/v1/eval/runs/" + url.PathEscape(evalRunID) + "/status"
	_, err := c.do(ctx, "set_status", http.MethodPut, path, map[string]string{"status": status})
	return err
}

func (c *Client) FetchDatasetContent(ctx context.Context, datasetID string) (json.RawMessage, error) {
	path := "/api/v1/datasets/" + url.PathEscape(datasetID) + "/content"
	body, err := c.do(ctx, "fetch_dataset_content", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, &domain.UpstreamError{Op: "fetch_dataset_content", URL: c.baseURL + path, Err: errors.New("response is not valid json")}
	}
	return json.RawMessage(body), nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	target := c.baseURL + path
	var encoded []byte
	if payload != nil {
		var err error
		if encoded, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("encode %s request: %w", op, err)
		}
	}

	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		start := time.Now()
		body, status, err := c.attempt(ctx, method, target, encoded)
		attrs := []any{
			"op", op,
			"url", target,
			"status", status,
			"attempt", attempt,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if err == nil && status >= 200 && status < 300 {
			c.logger.Debug("upstream call", attrs...)
			return body, nil
		}

		upErr := &domain.UpstreamError{Op: op, URL: target, StatusCode: status, Err: err}
		if err == nil {
			upErr.Err = fmt.Errorf("unexpected status: %s", strings.TrimSpace(snippet(body)))
		}
		c.logger.Warn("upstream call failed", append(attrs, "error", upErr.Err)...)
		if !retryable(status, err) {
			return nil, backoff.Permanent(upErr)
		}
		return nil, upErr
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxAttempts),
	)
}

func (c *Client) attempt(ctx context.Context, method, target string, payload []byte) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, 0, fmt.Errorf("acquire token: %w", err)
		}
		tok.SetAuthHeader(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return respBody, resp.StatusCode, nil
}

// retryable treats transport errors, timeouts, throttling and 5xx as transient.
func retryable(status int, err error) bool {
	if err != nil {
		return status == 0
	}
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

func snippet(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit])
	}
	return string(body)
}
