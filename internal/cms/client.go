package cms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultBaseURL is the Medicare Physician & Other Practitioners by Provider dataset.
const DefaultBaseURL = "https://data.cms.gov/data-api/v1/dataset/8889d81e-2ee7-448f-8713-f071038289b5/data"

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 250 * time.Millisecond
)

// Config holds the connection settings for the CMS data API.
type Config struct {
	BaseURL     string
	Timeout     time.Duration // per attempt
	MaxAttempts int           // total attempts, including the first
	RetryDelay  time.Duration // flat delay between attempts
	UserAgent   string
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		Timeout:     DefaultTimeout,
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
		UserAgent:   "medicare-lookup/1.0",
	}
}

// Filters maps dataset columns to exact-match values.
type Filters map[string]string

// Client queries the CMS data API. It holds no per-request state and is safe
// for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
	tracer     trace.Tracer
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is left as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client. Zero-valued fields in cfg fall back to DefaultConfig.
func NewClient(cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: cfg.Timeout,
		},
		logger: zerolog.Nop(),
		tracer: otel.Tracer("github.com/gyeh/medicare-lookup/internal/cms"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

// Query performs one logical GET against the dataset with the given filters
// and result cap, retrying transient failures up to MaxAttempts times.
func (c *Client) Query(ctx context.Context, filters Filters, maxResults int) ([]Row, error) {
	ctx, span := c.tracer.Start(ctx, "cms.Query", trace.WithAttributes(
		attribute.Int("cms.max_results", maxResults),
		attribute.Int("cms.filter_count", len(filters)),
	))
	defer span.End()

	u, err := c.buildURL(filters, maxResults)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	body, attempts, err := c.fetch(ctx, http.MethodGet, u)
	span.SetAttributes(attribute.Int("cms.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rows, err := decodeRows(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("cms.rows", len(rows)))
	return rows, nil
}

func (c *Client) buildURL(filters Filters, maxResults int) (string, error) {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing CMS base URL: %w", err)
	}
	q := base.Query()
	for col, val := range filters {
		q.Set("filter["+col+"]", val)
	}
	if maxResults > 0 {
		q.Set("size", strconv.Itoa(maxResults))
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// fetch returns the decompressed body of the first 2xx response. The int
// result is the number of attempts made. Only GET, HEAD and OPTIONS are
// retried; any other method gets a single attempt.
func (c *Client) fetch(ctx context.Context, method, u string) ([]byte, int, error) {
	maxAttempts := c.cfg.MaxAttempts
	if !retryableMethod(method) {
		maxAttempts = 1
	}

	var lastErr error
	var lastStatus int
	attempt := 0
	for attempt < maxAttempts {
		if attempt > 0 && c.cfg.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, attempt, ctx.Err()
			case <-time.After(c.cfg.RetryDelay):
			}
		}
		attempt++

		body, status, err := c.do(ctx, method, u)
		if err == nil {
			return body, attempt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempt, ctxErr
		}

		var perm *PermanentFetchError
		var dec *DecodeError
		if errors.As(err, &perm) || errors.As(err, &dec) {
			return nil, attempt, err
		}

		lastErr, lastStatus = err, status
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Msg("CMS request failed, retrying")
	}

	return nil, attempt, &TransientFetchError{StatusCode: lastStatus, Attempts: attempt, Err: lastErr}
}

// do performs a single attempt. *PermanentFetchError and *DecodeError are
// never retried; any other error is transient.
func (c *Client) do(ctx context.Context, method, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, 0, &PermanentFetchError{Body: fmt.Sprintf("creating request: %v", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if retryableStatus(resp.StatusCode) {
			return nil, resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return nil, resp.StatusCode, &PermanentFetchError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	var r io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := newGzipReader(resp.Body)
		if err != nil {
			return nil, resp.StatusCode, &DecodeError{Err: fmt.Errorf("gzip reader: %w", err)}
		}
		defer gz.Close()
		r = gz
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response body: %w", err)
	}
	return body, resp.StatusCode, nil
}
