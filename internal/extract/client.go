package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	pipeerr "mdetl/internal/errors"
	"mdetl/internal/infrastructure"
	"mdetl/internal/ratelimit"
	"mdetl/internal/retry"
)

const userAgent = "mdetl/1.0"

// bodyCheck inspects a 200-level response body for source-specific error
// envelopes. Sources encode quota exhaustion and auth failures inside
// otherwise successful responses; the returned error's classification
// decides whether the whole attempt is retried.
type bodyCheck func(body []byte) error

// Client is the shared HTTP layer composed into every extractor variant.
// Per source: sliding-window limiter and retry policy. Across sources: an
// optional token-bucket pacer bounding total outbound rate.
type Client struct {
	source     string
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	pacer      *rate.Limiter
	policy     *retry.Policy
	metrics    *infrastructure.Metrics
	logger     *slog.Logger
	checkBody  bodyCheck
	// timeout bounds a single attempt, independent of retry backoff.
	timeout time.Duration
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Source    string
	BaseURL   string
	Limiter   *ratelimit.Limiter
	Pacer     *rate.Limiter
	Policy    *retry.Policy
	Metrics   *infrastructure.Metrics
	Logger    *slog.Logger
	Timeout   time.Duration
	CheckBody bodyCheck
}

// NewClient builds the shared HTTP layer for one source.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Policy == nil {
		opts.Policy = retry.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		source:     opts.Source,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{},
		limiter:    opts.Limiter,
		pacer:      opts.Pacer,
		policy:     opts.Policy,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		checkBody:  opts.CheckBody,
		timeout:    opts.Timeout,
	}
}

// GetJSON performs a rate-limited, retried GET and decodes the JSON
// response into out. Auth failures and non-rate-limit 4xx responses fail
// immediately; network errors, 429 and 5xx are retried per the policy.
func (c *Client) GetJSON(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	operation := fmt.Sprintf("%s %s", c.source, endpoint)
	return c.policy.Do(ctx, operation, func(ctx context.Context) error {
		return c.attempt(ctx, endpoint, query, out)
	})
}

func (c *Client) attempt(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}
	}
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return err
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, u, nil)
	if err != nil {
		return pipeerr.NewPermanent(c.source, "failed to build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("making request",
		slog.String("source", c.source),
		slog.String("endpoint", endpoint))

	resp, err := c.httpClient.Do(req)
	if c.limiter != nil {
		c.limiter.RecordRequest()
	}
	if err != nil {
		c.countRequest("network_error")
		return pipeerr.NewTransient(c.source, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		c.countRequest("read_error")
		return pipeerr.NewTransient(c.source, "failed to read response body", err)
	}

	if err := c.classifyStatus(resp.StatusCode); err != nil {
		c.countRequest(fmt.Sprintf("http_%d", resp.StatusCode))
		return err
	}

	if c.checkBody != nil {
		if err := c.checkBody(body); err != nil {
			c.countRequest("body_error")
			return err
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.countRequest("decode_error")
		return pipeerr.NewExtraction(c.source, "response is not the expected JSON shape", err)
	}

	c.countRequest("success")
	return nil
}

func (c *Client) classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return pipeerr.NewTransient(c.source, "rate limit exceeded (429)", nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pipeerr.NewAuth(c.source, fmt.Sprintf("credentials rejected (%d)", status))
	case status >= 500:
		return pipeerr.NewTransient(c.source, fmt.Sprintf("server error (%d)", status), nil)
	default:
		return pipeerr.NewPermanent(c.source, fmt.Sprintf("unexpected status %d", status), nil)
	}
}

func (c *Client) countRequest(outcome string) {
	if c.metrics != nil {
		c.metrics.HTTPRequests.WithLabelValues(c.source, outcome).Inc()
	}
}
