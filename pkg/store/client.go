// Package store provides the card API client used by the bulk-mutation
// engine: paged listing plus version-checked delete and update, with rate
// limiting, caching, and error handling.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kartenwerk/bulkops/pkg/cache"
	"github.com/kartenwerk/bulkops/pkg/ratelimit"
)

// Prometheus metrics for card API client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardapi_requests_total",
		Help: "Total card API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cardapi_request_duration_seconds",
		Help:    "Card API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardapi_errors_total",
		Help: "Total card API errors by class",
	}, []string{"class"})
)

// Client is the card API client.
type Client struct {
	httpClient  *http.Client
	redis       *redis.Client
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Redis client for list-page caching and shared rate limit state
	Redis *redis.Client

	// BaseURL of the card API, e.g. "https://api.kartenwerk.dev"
	BaseURL string

	// User-Agent header sent with every request
	UserAgent string

	// Timeout per HTTP request
	Timeout time.Duration

	// PageCacheTTL is the client-side TTL applied to cached list pages when
	// the server sends no Expires header
	PageCacheTTL time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(redisClient *redis.Client, baseURL string) Config {
	return Config{
		Redis:        redisClient,
		BaseURL:      baseURL,
		UserAgent:    "bulkops/0.1.0",
		Timeout:      30 * time.Second,
		PageCacheTTL: 60 * time.Second,
	}
}

// New creates a new card API client.
func New(cfg Config) (*Client, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	if cfg.PageCacheTTL <= 0 {
		cfg.PageCacheTTL = 60 * time.Second
	}

	logger := log.With().Str("component", "card-store").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		redis:       cfg.Redis,
		rateLimiter: ratelimit.NewTracker(cfg.Redis, logger),
		cache:       cache.NewManager(cfg.Redis),
		config:      cfg,
		logger:      logger,
	}, nil
}

// List fetches one page of entities matching filter, consulting the page
// cache first. Page numbering is 1-based. The returned Page carries the
// server-reported total match count for the filter.
func (c *Client) List(ctx context.Context, filter FilterParams, page, pageSize int) (Page, error) {
	if page < 1 {
		return Page{}, fmt.Errorf("page must be >= 1 (got %d)", page)
	}
	if pageSize < 1 {
		return Page{}, fmt.Errorf("page size must be >= 1 (got %d)", pageSize)
	}

	key := cache.Key{Filter: filter.Key(), Page: page, PageSize: pageSize}

	if entry, err := c.cache.Get(ctx, key); err == nil {
		var cached Page
		if err := json.Unmarshal(entry.Data, &cached); err == nil {
			c.logger.Debug().
				Str("filter", filter.Key()).
				Int("page", page).
				Msg("List page served from cache")
			return cached, nil
		}
		c.logger.Warn().Str("key", key.String()).Msg("Discarding undecodable cache entry")
	} else if err != cache.ErrCacheMiss {
		c.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache get error")
	}

	query := filter.Values()
	query.Set("page", fmt.Sprintf("%d", page))
	query.Set("pageSize", fmt.Sprintf("%d", pageSize))

	resp, err := c.do(ctx, http.MethodGet, "/v1/cards", query, nil, 0)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: classFromStatus(resp.StatusCode),
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, fmt.Errorf("read list response: %w", err)
	}

	var result Page
	if err := json.Unmarshal(body, &result); err != nil {
		return Page{}, fmt.Errorf("decode list response: %w", err)
	}

	var expires time.Time
	if expiresStr := resp.Header.Get("Expires"); expiresStr != "" {
		if parsed, perr := http.ParseTime(expiresStr); perr == nil {
			expires = parsed
		}
	}
	entry := cache.NewEntry(body, expires, c.config.PageCacheTTL)
	if err := c.cache.Set(ctx, key, entry); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to cache list page")
	}

	return result, nil
}

// Delete removes an entity if its server-side version still matches
// expectedVersion. The outcome is discriminated, never an ad hoc HTTP shape.
func (c *Client) Delete(ctx context.Context, id string, expectedVersion int) MutationResult {
	if id == "" {
		return MutationResult{Status: StatusTransport, Err: fmt.Errorf("entity id is required")}
	}

	resp, err := c.do(ctx, http.MethodDelete, "/v1/cards/"+url.PathEscape(id), nil, nil, expectedVersion)
	if err != nil {
		return MutationResult{Status: StatusTransport, Err: err}
	}
	defer resp.Body.Close()

	return c.mutationResult(ctx, resp, "delete", id)
}

// Update patches an entity if its server-side version still matches
// expectedVersion and returns the updated record on success.
func (c *Client) Update(ctx context.Context, id string, patch map[string]any, expectedVersion int) (Entity, MutationResult) {
	if id == "" {
		return Entity{}, MutationResult{Status: StatusTransport, Err: fmt.Errorf("entity id is required")}
	}

	body, err := json.Marshal(patch)
	if err != nil {
		return Entity{}, MutationResult{Status: StatusTransport, Err: fmt.Errorf("encode patch: %w", err)}
	}

	resp, err := c.do(ctx, http.MethodPatch, "/v1/cards/"+url.PathEscape(id), nil, body, expectedVersion)
	if err != nil {
		return Entity{}, MutationResult{Status: StatusTransport, Err: err}
	}
	defer resp.Body.Close()

	result := c.mutationResult(ctx, resp, "update", id)
	if !result.OK() {
		return Entity{}, result
	}

	var updated Entity
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		return Entity{}, MutationResult{Status: StatusTransport, Err: fmt.Errorf("decode updated entity: %w", err)}
	}

	return updated, result
}

// mutationResult maps a mutation response to the discriminated result type
// and invalidates the page cache on success.
func (c *Client) mutationResult(ctx context.Context, resp *http.Response, action, id string) MutationResult {
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		if err := c.cache.Invalidate(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to invalidate page cache after mutation")
		}
		return MutationResult{Status: StatusOK}
	case resp.StatusCode == http.StatusConflict:
		c.logger.Debug().Str("action", action).Str("id", id).Msg("Version conflict")
		return MutationResult{Status: StatusVersionConflict}
	case resp.StatusCode == http.StatusNotFound:
		c.logger.Debug().Str("action", action).Str("id", id).Msg("Entity not found")
		return MutationResult{Status: StatusNotFound}
	default:
		return MutationResult{
			Status: StatusTransport,
			Err: &APIError{
				StatusCode: resp.StatusCode,
				ErrorClass: classFromStatus(resp.StatusCode),
				Message:    resp.Status,
			},
		}
	}
}

// do performs an HTTP request with rate limiting, retry, and error handling.
// The request is rebuilt on every attempt so bodies can be resent. Responses
// with 4xx statuses are returned to the caller for mapping; 5xx, 429 and
// network errors are retried.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, expectedVersion int) (*http.Response, error) {
	endpoint := path

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Rate limit check failed")
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		c.logger.Warn().
			Str("endpoint", endpoint).
			Msg("Request blocked by rate limiter")
		requestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
		return nil, ErrRateLimited
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", method).
		Msg("Executing card API request")

	var resp *http.Response
	var errClass ErrorClass

	retryErr := retryWithBackoff(ctx, func() error {
		req, reqErr := c.newRequest(ctx, method, path, query, body, expectedVersion)
		if reqErr != nil {
			errClass = ErrorClassClient
			return reqErr
		}

		resp, reqErr = c.httpClient.Do(req)
		if reqErr != nil {
			c.logger.Error().Err(reqErr).Str("endpoint", endpoint).Msg("HTTP request failed")
			errClass = ErrorClassNetwork
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return reqErr
		}

		if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}

		if resp.StatusCode >= 400 {
			errClass = classFromStatus(resp.StatusCode)
			errorsTotal.WithLabelValues(string(errClass)).Inc()
			requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("error_class", string(errClass)).
				Msg("Card API request error")

			if shouldRetry(errClass) {
				lastErr := &APIError{
					StatusCode: resp.StatusCode,
					ErrorClass: errClass,
					Message:    resp.Status,
				}
				resp.Body.Close() // Close the body before retrying
				return lastErr
			}

			// 4xx carries meaning for the caller (conflict, not found);
			// hand the response back unchanged.
			return nil
		}

		requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()
		return nil
	}, func(err error) ErrorClass {
		return errClass
	})

	if retryErr != nil {
		return nil, retryErr
	}

	return resp, nil
}

// newRequest builds one attempt's HTTP request.
func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body []byte, expectedVersion int) (*http.Request, error) {
	u := strings.TrimRight(c.config.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodDelete || method == http.MethodPatch {
		// Optimistic concurrency: the server rejects the mutation with 409
		// when the entity's version no longer matches.
		req.Header.Set("If-Match", formatVersion(expectedVersion))
	}

	return req, nil
}

// classFromStatus categorizes an HTTP status for observability and retry.
func classFromStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// Close closes the client and releases resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
