package hypixel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/metrics"
	"github.com/avast/retry-go/v4"
)

const (
	HypixelBaseURL   = "https://api.hypixel.net/v2"
	MojangBaseURL    = "https://api.mojang.com"
	SkyHelperBaseURL = "https://api.altpapier.dev"
)

var (
	// ErrNotFound means the player, profile or member data does not exist upstream
	ErrNotFound = errors.New("not found")
	// ErrNotInGuild means the player is not in a Hypixel guild
	ErrNotInGuild = errors.New("player is not in a guild")
)

// APIError is a failed upstream call
type APIError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s API error (HTTP %d)", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s API error (HTTP %d): %s", e.Service, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the call may succeed
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client talks to Mojang, Hypixel and SkyHelper with rate limiting
type Client struct {
	apiKey          string
	hypixelBase     string
	mojangBase      string
	skyHelperBases  []string
	skyHelperKey    string
	skyHelperBearer string
	httpClient      *http.Client
	metrics         *metrics.Recorder

	attempts uint
	backoff  time.Duration

	// Simple rate limiter
	mu          sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithBaseURLs overrides the Hypixel and Mojang endpoints
func WithBaseURLs(hypixel, mojang string) Option {
	return func(c *Client) {
		c.hypixelBase = strings.TrimRight(hypixel, "/")
		c.mojangBase = strings.TrimRight(mojang, "/")
	}
}

// WithSkyHelper sets the SkyHelper mirrors, first one primary, and optional
// query key and bearer token.
func WithSkyHelper(bases []string, key, bearer string) Option {
	return func(c *Client) {
		c.skyHelperBases = c.skyHelperBases[:0]
		for _, b := range bases {
			if b = strings.TrimRight(strings.TrimSpace(b), "/"); b != "" {
				c.skyHelperBases = append(c.skyHelperBases, b)
			}
		}
		if len(c.skyHelperBases) == 0 {
			c.skyHelperBases = []string{SkyHelperBaseURL}
		}
		c.skyHelperKey = key
		c.skyHelperBearer = bearer
	}
}

// WithRetry sets how many attempts a call gets and the initial backoff
func WithRetry(attempts uint, backoff time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.backoff = backoff
	}
}

// WithRateLimit sets the minimum interval between requests
func WithRateLimit(interval time.Duration) Option {
	return func(c *Client) {
		c.minInterval = interval
	}
}

// WithMetrics attaches a metrics recorder
func WithMetrics(rec *metrics.Recorder) Option {
	return func(c *Client) {
		c.metrics = rec
	}
}

// NewClient creates a new client using the Hypixel API key
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:         apiKey,
		hypixelBase:    HypixelBaseURL,
		mojangBase:     MojangBaseURL,
		skyHelperBases: []string{SkyHelperBaseURL},
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		attempts: 3,
		backoff:  750 * time.Millisecond,
		// Hypixel allows 300 requests per 5 minutes per key
		minInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	// retry-go treats zero attempts as unlimited
	if c.attempts == 0 {
		c.attempts = 1
	}
	return c
}

// doRequest performs an HTTP request with rate limiting
func (c *Client) doRequest(ctx context.Context, req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	wait := c.minInterval - time.Since(c.lastRequest)
	c.lastRequest = time.Now().Add(max(wait, 0))
	c.mu.Unlock()

	if wait > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return c.httpClient.Do(req)
}

// get performs a GET request and decodes the JSON response, retrying
// throttled and server-side failures with exponential backoff.
func (c *Client) get(ctx context.Context, service, url string, headers map[string]string, result any) error {
	return retry.Do(
		func() error {
			return c.getOnce(ctx, service, url, headers, result)
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.backoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Temporary()
			}
			return !errors.Is(err, ErrNotFound) && !errors.Is(err, context.Canceled)
		}),
	)
}

func (c *Client) getOnce(ctx context.Context, service, url string, headers map[string]string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.doRequest(ctx, req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", service, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{Service: service, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", service, err)
	}
	return nil
}

func (c *Client) hypixelHeaders() map[string]string {
	return map[string]string{"API-Key": c.apiKey}
}

func (c *Client) skyHelperHeaders() map[string]string {
	if c.skyHelperBearer == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.skyHelperBearer}
}
