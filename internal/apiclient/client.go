// Package apiclient is an authenticated JSON client for one third-party API.
// Every attempt waits for the per-client minimum interval and fetches fresh
// credential headers; 429s and transient network failures are retried with
// capped exponential backoff. A Retry-After longer than the cap is returned
// to the caller instead of being waited out.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	DefaultMinInterval = 100 * time.Millisecond
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultTimeout     = 30 * time.Second

	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
)

// HeaderProvider returns the authentication headers for one attempt.
type HeaderProvider func(ctx context.Context) (map[string]string, error)

// BackoffFunc observes every retry delay the client is about to sleep.
type BackoffFunc func(attempt int, delay time.Duration)

type Client struct {
	name        string
	baseURL     string
	headers     HeaderProvider
	http        *http.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	baseBackoff time.Duration
	maxBackoff  time.Duration
	maxRetries  uint64
	onBackoff   BackoffFunc
	logger      *slog.Logger

	minInterval      time.Duration
	breakerThreshold uint32
	breakerCooldown  time.Duration
}

type Option func(*Client)

func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithMinInterval sets the minimum spacing between two attempts of this
// client.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) { c.minInterval = d }
}

func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		c.baseBackoff = base
		c.maxBackoff = max
	}
}

func WithMaxRetries(n uint64) Option {
	return func(c *Client) { c.maxRetries = n }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithOnBackoff(fn BackoffFunc) Option {
	return func(c *Client) { c.onBackoff = fn }
}

// WithBreaker opens the circuit after threshold consecutive failed requests
// and keeps it open for cooldown.
func WithBreaker(threshold uint32, cooldown time.Duration) Option {
	return func(c *Client) {
		c.breakerThreshold = threshold
		c.breakerCooldown = cooldown
	}
}

func New(baseURL string, headers HeaderProvider, opts ...Option) *Client {
	c := &Client{
		name:             baseURL,
		baseURL:          strings.TrimRight(baseURL, "/"),
		headers:          headers,
		http:             &http.Client{Timeout: DefaultTimeout},
		baseBackoff:      DefaultBaseBackoff,
		maxBackoff:       DefaultMaxBackoff,
		maxRetries:       DefaultMaxRetries,
		logger:           slog.Default(),
		minInterval:      DefaultMinInterval,
		breakerThreshold: defaultBreakerThreshold,
		breakerCooldown:  defaultBreakerCooldown,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.minInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(c.minInterval), 1)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}

	threshold := c.breakerThreshold
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    c.name,
		Timeout: c.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("api circuit state changed", "client", name, "from", from.String(), "to", to.String())
		},
	})

	return c
}

// Request sends one logical call. body is JSON encoded unless it is already a
// []byte. out receives the decoded JSON answer; a *[]byte receives the raw
// body. endpoint may be absolute, which pagination links often are.
func (c *Client) Request(ctx context.Context, method, endpoint string, body any, headers map[string]string, out any) error {
	var payload []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		payload = b
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		payload = encoded
	}

	url := c.resolve(endpoint)
	_, err := c.breaker.Execute(func() (any, error) {
		err := c.do(ctx, method, url, payload, headers, out)
		if err != nil && ctx.Err() != nil {
			err = &localError{err}
		}
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s %s: %w", method, url, ErrCircuitOpen)
	}
	return err
}

func (c *Client) Get(ctx context.Context, endpoint string, out any) error {
	return c.Request(ctx, http.MethodGet, endpoint, nil, nil, out)
}

func (c *Client) Post(ctx context.Context, endpoint string, body, out any) error {
	return c.Request(ctx, http.MethodPost, endpoint, body, nil, out)
}

func (c *Client) resolve(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte, headers map[string]string, out any) error {
	var (
		attempt int
		hint    time.Duration
	)

	exp := retry.WithCappedDuration(c.maxBackoff, retry.NewExponential(c.baseBackoff))
	backoff := retry.WithMaxRetries(c.maxRetries, retry.BackoffFunc(func() (time.Duration, bool) {
		delay, stop := exp.Next()
		if stop {
			return 0, true
		}
		if hint > 0 {
			delay = hint
			hint = 0
		}
		if c.onBackoff != nil {
			c.onBackoff(attempt, delay)
		}
		c.logger.Debug("api retry scheduled", "client", c.name, "url", url, "attempt", attempt, "delay", delay)
		return delay, false
	}))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		if err := c.limiter.Wait(ctx); err != nil {
			return &localError{fmt.Errorf("wait for request slot: %w", err)}
		}

		err := c.attempt(ctx, method, url, payload, headers, out)
		if err == nil {
			return nil
		}

		var se *StatusError
		switch {
		case ctx.Err() != nil:
			return err
		case errors.As(err, &se) && se.Retryable() && se.retryAfter > c.maxBackoff:
			c.logger.Warn("api retry-after beyond max backoff", "client", c.name, "url", url, "retry_after", se.retryAfter)
			return err
		case errors.As(err, &se) && se.Retryable():
			hint = se.retryAfter
			return retry.RetryableError(se)
		case errors.As(err, &se):
			return err
		case isTransient(err):
			c.logger.Warn("transient api failure", "client", c.name, "url", url, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		default:
			return err
		}
	})
}

func (c *Client) attempt(ctx context.Context, method, url string, payload []byte, extra map[string]string, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.headers != nil {
		auth, err := c.headers(ctx)
		if err != nil {
			return &localError{fmt.Errorf("resolve credentials: %w", err)}
		}
		for k, v := range auth {
			req.Header.Set(k, v)
		}
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := newStatusError(method, url, resp.StatusCode, raw)
		if resp.StatusCode == http.StatusTooManyRequests {
			se.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		}
		return se
	}

	return decode(raw, out)
}

func decode(raw []byte, out any) error {
	if out == nil {
		return nil
	}
	if dst, ok := out.(*[]byte); ok {
		*dst = raw
		return nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
