package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/zombor/invoice-extractor/internal/raster"
)

const defaultTimeout = 60 * time.Second

// ErrDocumentsUnsupported is returned by ExtractDocument when the backend
// only accepts page images.
var ErrDocumentsUnsupported = errors.New("backend does not accept whole documents")

// Backend defines a structured text recognition service
type Backend interface {
	// Analyze recognises the elements on a single page raster
	Analyze(ctx context.Context, page raster.Page) (*PageResponse, error)
	// Close releases the backend resources
	Close() error
}

// DocumentBackend is a Backend that also accepts a whole PDF in one request
type DocumentBackend interface {
	Backend
	// AnalyzeDocument recognises every page of pdf, returning one response
	// per page in page order
	AnalyzeDocument(ctx context.Context, pdf []byte, pageCount int) ([]*PageResponse, error)
}

// Config holds the client settings
type Config struct {
	// Timeout bounds a single backend call
	Timeout time.Duration
	Retry   RetryPolicy
	// RateLimit is the maximum number of backend calls per second, 0 for no limit
	RateLimit float64
	Burst     int
}

// Client calls a Backend with per-call timeouts, rate limiting and retries,
// and sanitizes what comes back.
type Client struct {
	backend Backend
	timeout time.Duration
	retry   RetryPolicy
	limiter *rate.Limiter
	sleep   SleepFunc
	logger  *slog.Logger
}

// NewClient creates a Client
func NewClient(backend Backend, cfg Config, logger *slog.Logger) *Client {
	return NewClientWithDeps(backend, cfg, logger, sleepContext)
}

// NewClientWithDeps creates a Client with an injected sleep function (for testing)
func NewClientWithDeps(backend Backend, cfg Config, logger *slog.Logger, sleep SleepFunc) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		backend: backend,
		timeout: cfg.Timeout,
		retry:   cfg.Retry.withDefaults(),
		limiter: rate.NewLimiter(limit, burst),
		sleep:   sleep,
		logger:  logger,
	}
}

// SupportsDocuments reports whether the backend accepts whole PDFs
func (c *Client) SupportsDocuments() bool {
	_, ok := c.backend.(DocumentBackend)
	return ok
}

// Extract returns the raw response for one page. Failures after retries are
// reported as *BackendError; caller cancellation as the context error.
func (c *Client) Extract(ctx context.Context, page raster.Page) (*PageResponse, error) {
	var resp *PageResponse
	err := c.do(ctx, page.Index, func(ctx context.Context) error {
		r, err := c.backend.Analyze(ctx, page)
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("empty response: %w", ErrMalformedResponse)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	sanitize(resp, page.Index)
	return resp, nil
}

// ExtractDocument sends the whole PDF in one request. The result has one
// entry per page; pages the backend said nothing about get an empty response.
func (c *Client) ExtractDocument(ctx context.Context, pdf []byte, pageCount int) ([]*PageResponse, error) {
	docBackend, ok := c.backend.(DocumentBackend)
	if !ok {
		return nil, ErrDocumentsUnsupported
	}

	var resps []*PageResponse
	err := c.do(ctx, -1, func(ctx context.Context) error {
		r, err := docBackend.AnalyzeDocument(ctx, pdf, pageCount)
		if err != nil {
			return err
		}
		resps = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*PageResponse, pageCount)
	for _, r := range resps {
		if r == nil || r.Page < 0 || r.Page >= pageCount {
			continue
		}
		sanitize(r, r.Page)
		out[r.Page] = r
	}
	for i := range out {
		if out[i] == nil {
			out[i] = &PageResponse{Page: i}
		}
	}
	return out, nil
}

// Close closes the underlying backend
func (c *Client) Close() error {
	return c.backend.Close()
}

func (c *Client) do(ctx context.Context, page int, call func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// the limiter gives up early when the deadline cannot be met
			return &BackendError{Page: page, Attempts: attempt - 1, Retryable: true, Err: fmt.Errorf("waiting for rate limiter: %w", err)}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := call(callCtx)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		retryable := timedOut || IsRetryable(err)
		if !retryable {
			return &BackendError{Page: page, Attempts: attempt, Retryable: false, Err: err}
		}

		delay, ok := c.retry.Next(attempt)
		if !ok {
			return &BackendError{Page: page, Attempts: attempt, Retryable: true, Err: err}
		}

		c.logger.Warn("backend call failed, retrying",
			"page", page,
			"attempt", attempt,
			"max_attempts", c.retry.MaxAttempts,
			"delay_ms", delay.Milliseconds(),
			"error", err)

		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}
