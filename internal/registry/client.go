// Package registry is the HTTP client for the community pattern registry.
//
// The registry never learns who a contributor is beyond the anonymous
// contributor id, and the client never sends a pattern that has not been
// through anonymization upstream. The contributor id travels out-of-band in
// a request header, never inside pattern bodies.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/workflowlabs/patternbank/internal/pattern"
	"github.com/workflowlabs/patternbank/internal/usage"
)

const (
	// DefaultBaseURL is the production registry endpoint.
	DefaultBaseURL = "https://registry-api.example/"

	// EnvBaseURL overrides the registry endpoint, primarily for staging and
	// tests.
	EnvBaseURL = "PATTERNBANK_REGISTRY_URL"

	contributorHeader = "x-contributor-id"

	defaultTimeout     = 30 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second
	defaultRateLimit   = 5 // requests per second
	defaultBurst       = 10
	defaultPullLimit   = 50
)

// Config configures the registry client.
type Config struct {
	// BaseURL of the registry API. Empty falls back to EnvBaseURL, then
	// DefaultBaseURL.
	BaseURL string

	// ContributorID is sent on every call unless overridden per push.
	ContributorID string

	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
}

// PushPattern is one anonymized pattern in a push batch. Data is the full
// scrubbed pattern document; Hash lets the registry deduplicate uploads.
type PushPattern struct {
	ID   string          `json:"id"`
	Type pattern.Kind    `json:"type"`
	Data json.RawMessage `json:"data"`
	Hash string          `json:"hash,omitempty"`
}

// PushError is a per-pattern rejection inside an otherwise successful push.
type PushError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// RateLimit reports the remaining push quota.
type RateLimit struct {
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// PushResponse is the registry's accounting for one push batch. Skipped
// counts patterns the registry already had (deduplicated by hash).
type PushResponse struct {
	Pushed    int         `json:"pushed"`
	Skipped   int         `json:"skipped"`
	Errors    []PushError `json:"errors,omitempty"`
	RateLimit RateLimit   `json:"rateLimit"`
}

// PullOptions filters and pages a catalog pull.
type PullOptions struct {
	Type   pattern.Kind
	Limit  int
	Offset int
	Since  time.Time
}

// Pagination describes the window a pull response covers.
type Pagination struct {
	Offset  int  `json:"offset"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// PullResponse is one page of community patterns.
type PullResponse struct {
	Patterns   []json.RawMessage `json:"patterns"`
	Pagination Pagination        `json:"pagination"`
}

// Client talks to the pattern registry.
type Client struct {
	baseURL       string
	contributorID string
	httpClient    *http.Client
	limiter       *rate.Limiter
	maxRetries    int
	baseBackoff   time.Duration
	logger        *zap.Logger
}

// New creates a registry client. The base URL resolution order is explicit
// config, then the PATTERNBANK_REGISTRY_URL environment variable, then the
// production default.
func New(cfg Config, logger *zap.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv(EnvBaseURL)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	baseBackoff := cfg.BaseBackoff
	if baseBackoff == 0 {
		baseBackoff = defaultBaseBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:       baseURL,
		contributorID: cfg.ContributorID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter:     rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
		logger:      logger,
	}
}

// Push uploads an anonymized batch under the given contributor id. An empty
// batch is a no-op and never touches the network.
func (c *Client) Push(ctx context.Context, patterns []PushPattern, contributorID string) (*PushResponse, error) {
	if len(patterns) == 0 {
		return &PushResponse{}, nil
	}

	body := map[string]any{"patterns": patterns}
	var resp PushResponse
	if err := c.do(ctx, http.MethodPost, "/api/patterns/push", contributorID, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches one page of the community catalog.
func (c *Client) Pull(ctx context.Context, opts PullOptions) (*PullResponse, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPullLimit
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(opts.Offset))
	if opts.Type != "" {
		q.Set("type", string(opts.Type))
	}
	if !opts.Since.IsZero() {
		q.Set("since", opts.Since.UTC().Format(time.RFC3339))
	}

	var resp PullResponse
	if err := c.do(ctx, http.MethodGet, "/api/patterns/pull?"+q.Encode(), "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetPattern fetches one community pattern by id. A 404 is not an error:
// both return values are nil.
func (c *Client) GetPattern(ctx context.Context, id string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/patterns/"+url.PathEscape(id), "", nil, &raw)
	if err != nil {
		var regErr *RegistryError
		if errors.As(err, &regErr) && regErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return raw, nil
}

// SendEvents delivers one batch of usage events.
func (c *Client) SendEvents(ctx context.Context, events []usage.Event) error {
	body := map[string]any{"events": events}
	return c.do(ctx, http.MethodPost, "/api/events", "", body, nil)
}

// HealthCheck probes the registry. A nil error means a successful round
// trip.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", "", nil, nil)
}

// do runs one logical request through the rate limiter and the retry loop.
// Transport failures and 5xx responses retry with exponential backoff; 429
// and other 4xx responses are terminal on the first occurrence.
func (c *Client) do(ctx context.Context, method, path, contributorID string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<attempt)
			c.logger.Debug("retrying registry request",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.doRequest(ctx, method, path, contributorID, body, out)
		if err == nil {
			return nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// doRequest performs one HTTP round trip.
func (c *Client) doRequest(ctx context.Context, method, path, contributorID string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if contributorID == "" {
		contributorID = c.contributorID
	}
	if contributorID != "" {
		req.Header.Set(contributorHeader, contributorID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("registry request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	// 429 is never retried: the client must back off until the window
	// resets rather than hammer the registry.
	if resp.StatusCode == http.StatusTooManyRequests {
		return parseRateLimitError(resp, respBody)
	}

	if resp.StatusCode >= 500 {
		return &retryableError{err: &RegistryError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
		}}
	}

	if resp.StatusCode >= 400 {
		return &RegistryError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
		}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// errorMessage extracts the server's message from an error body, falling
// back to the raw body.
func errorMessage(body []byte) string {
	var errResp struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil {
		if errResp.Message != "" {
			return errResp.Message
		}
		if errResp.Error != "" {
			return errResp.Error
		}
	}
	return strings.TrimSpace(string(body))
}

// parseRateLimitError builds a RateLimitError from the 429 body
// {message, resetAt, remaining}, with the Retry-After header as fallback.
func parseRateLimitError(resp *http.Response, body []byte) *RateLimitError {
	var payload struct {
		Message   string    `json:"message"`
		ResetAt   time.Time `json:"resetAt"`
		Remaining int       `json:"remaining"`
	}
	_ = json.Unmarshal(body, &payload)

	resetAt := payload.ResetAt
	if resetAt.IsZero() {
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				resetAt = time.Now().UTC().Add(time.Duration(secs) * time.Second)
			}
		}
	}

	return &RateLimitError{
		Message:   payload.Message,
		ResetAt:   resetAt,
		Remaining: payload.Remaining,
	}
}

var _ usage.Sender = (*Client)(nil)
