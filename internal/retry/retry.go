// Package retry wraps upstream HTTP reads with bounded exponential backoff.
// All upstream calls in this system are idempotent GETs, so retrying is
// always safe.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TransientError marks a failure worth retrying: network errors, 5xx, 429.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient upstream failure: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a non-retryable upstream rejection (4xx other than 429).
type FatalError struct {
	StatusCode int
	Body       string
}

func (e *FatalError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream rejected request (%d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("upstream rejected request (%d)", e.StatusCode)
}

// Options parameterise the retrying client.
type Options struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration // per-request timeout
	UserAgent      string
}

// Client issues GET requests with retry, backoff with jitter, and timeout.
type Client struct {
	opts   Options
	http   *http.Client
	logger zerolog.Logger
}

// New constructs a retrying client.
func New(opts Options, logger zerolog.Logger) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	return &Client{
		opts:   opts,
		http:   &http.Client{Timeout: opts.Timeout},
		logger: logger.With().Str("component", "retry_client").Logger(),
	}
}

// GetJSON fetches url, retrying transient failures, and returns the body.
// Returns *TransientError once retries are exhausted or *FatalError on a
// non-retryable response.
func (c *Client) GetJSON(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.wait(ctx, attempt); err != nil {
				return nil, err
			}
		}

		body, err := c.getOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var fatal *FatalError
		if errors.As(err, &fatal) {
			return nil, err
		}

		lastErr = err
		c.logger.Warn().Err(err).Str("url", url).Int("attempt", attempt).Msg("upstream call failed")
	}

	return nil, &TransientError{Err: fmt.Errorf("retries exhausted after %d attempts: %w", c.opts.MaxAttempts, lastErr)}
}

func (c *Client) getOnce(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FatalError{StatusCode: 0, Body: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	c.logger.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("upstream request")

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientError{Err: fmt.Errorf("upstream status %d: %s", resp.StatusCode, trimBody(body))}
	default:
		return nil, &FatalError{StatusCode: resp.StatusCode, Body: trimBody(body)}
	}
}

func (c *Client) wait(ctx context.Context, attempt int) error {
	delay := c.opts.InitialBackoff << (attempt - 2)
	if delay > c.opts.MaxBackoff {
		delay = c.opts.MaxBackoff
	}
	// Half fixed, half jitter, so concurrent fetchers spread out.
	delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func trimBody(body []byte) string {
	const max = 512
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
