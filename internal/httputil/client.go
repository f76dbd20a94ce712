package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/lox/extremetemps/internal/metrics"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxElapsed = 2 * time.Minute
	defaultUserAgent  = "extremetemps/1.0"
)

// NewClient returns an HTTP client with standard timeout configuration.
func NewClient() *http.Client {
	return &http.Client{
		Timeout: DefaultTimeout,
	}
}

// StatusError is returned for any non-2xx upstream response.
type StatusError struct {
	Source     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Source, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is an upstream 404.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client performs GETs against one upstream source with retries and a
// circuit breaker. Retries cover transport errors, 429 and 5xx; any other
// non-2xx status is permanent.
type Client struct {
	source      string
	http        *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	userAgent   string
	initialWait time.Duration
	maxElapsed  time.Duration
	tripAfter   uint32
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithRetry overrides the first backoff interval and the total retry budget.
func WithRetry(initial, maxElapsed time.Duration) Option {
	return func(c *Client) {
		c.initialWait = initial
		c.maxElapsed = maxElapsed
	}
}

// WithTripAfter opens the breaker after n consecutive failed attempts.
func WithTripAfter(n uint32) Option {
	return func(c *Client) { c.tripAfter = n }
}

func New(source string, opts ...Option) *Client {
	c := &Client{
		source:      source,
		http:        NewClient(),
		userAgent:   defaultUserAgent,
		initialWait: backoff.DefaultInitialInterval,
		maxElapsed:  DefaultMaxElapsed,
		tripAfter:   5,
	}
	for _, opt := range opts {
		opt(c)
	}

	tripAfter := c.tripAfter
	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        source,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
	return c
}

func (c *Client) Source() string {
	return c.source
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Get fetches url, retrying transient failures until the retry budget or ctx
// runs out.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	var out *Response
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%s: build request: %w", c.source, err))
		}
		req.Header.Set("User-Agent", c.userAgent)

		started := time.Now()
		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.http.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if retryable(r.StatusCode) {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		metrics.SourceAPILatency.WithLabelValues(c.source).Observe(time.Since(started).Seconds())

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.SourceAPICallsTotal.WithLabelValues(c.source, "breaker_open").Inc()
			return backoff.Permanent(fmt.Errorf("%s: %w", c.source, err))
		}
		if resp == nil {
			metrics.SourceAPICallsTotal.WithLabelValues(c.source, "error").Inc()
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("%s: fetch: %w", c.source, err)
		}
		defer resp.Body.Close()
		metrics.SourceAPICallsTotal.WithLabelValues(c.source, strconv.Itoa(resp.StatusCode)).Inc()

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("%s: read body: %w", c.source, readErr)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			se := &StatusError{Source: c.source, URL: url, StatusCode: resp.StatusCode, Body: truncate(body, 200)}
			if retryable(resp.StatusCode) {
				return se
			}
			return backoff.Permanent(se)
		}
		out = &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialWait
	bo.MaxElapsedTime = c.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
