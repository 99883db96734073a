package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticHeaders(calls *atomic.Int32) HeaderProvider {
	return func(ctx context.Context) (map[string]string, error) {
		if calls != nil {
			calls.Add(1)
		}
		return map[string]string{"Authorization": "Bearer token"}, nil
	}
}

func fastOptions(extra ...Option) []Option {
	return append([]Option{
		WithMinInterval(0),
		WithBackoff(time.Millisecond, 10*time.Millisecond),
	}, extra...)
}

func TestClient_Request_DecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/tickets", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.Equal(t, "yes", r.Header.Get("X-Extra"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":2}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/api/v2/", staticHeaders(nil), fastOptions()...)

	var out struct {
		Count int `json:"count"`
	}
	err := c.Request(context.Background(), http.MethodGet, "/tickets", nil, map[string]string{"X-Extra": "yes"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Count)
}

func TestClient_Request_RawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<p>hello</p>"))
	}))
	defer srv.Close()

	c := New("https://unused.example", nil, fastOptions()...)

	var raw []byte
	require.NoError(t, c.Get(context.Background(), srv.URL+"/file.html", &raw))
	assert.Equal(t, "<p>hello</p>", string(raw))
}

func TestClient_MinimumInterval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	const (
		n        = 5
		interval = 40 * time.Millisecond
	)
	c := New(srv.URL, nil, WithMinInterval(interval))

	start := time.Now()
	for range n {
		require.NoError(t, c.Get(context.Background(), "/ping", nil))
	}
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, time.Duration(n-1)*interval-time.Millisecond)
}

func TestClient_RateLimitBackoffIsMonotonic(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 4 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	var headerCalls atomic.Int32
	c := New(srv.URL, staticHeaders(&headerCalls),
		WithMinInterval(0),
		WithBackoff(2*time.Millisecond, 10*time.Millisecond),
		WithMaxRetries(5),
		WithOnBackoff(func(attempt int, d time.Duration) {
			mu.Lock()
			delays = append(delays, d)
			mu.Unlock()
		}),
	)

	require.NoError(t, c.Get(context.Background(), "/search", nil))

	assert.Equal(t, []time.Duration{
		2 * time.Millisecond,
		4 * time.Millisecond,
		8 * time.Millisecond,
		10 * time.Millisecond,
	}, delays)
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
	}
	assert.Equal(t, int32(5), headerCalls.Load(), "credentials re-fetched on every attempt")
}

func TestClient_RetryAfterHint(t *testing.T) {
	tests := []struct {
		name       string
		maxBackoff time.Duration
		wantErr    bool
		wantDelays []time.Duration
		wantHits   int32
	}{
		{
			name:       "hint within cap is honoured in full",
			maxBackoff: 2 * time.Second,
			wantDelays: []time.Duration{time.Second},
			wantHits:   2,
		},
		{
			name:       "hint beyond cap fails fast",
			maxBackoff: 20 * time.Millisecond,
			wantErr:    true,
			wantHits:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if hits.Add(1) == 1 {
					w.Header().Set("Retry-After", "1")
					w.WriteHeader(http.StatusTooManyRequests)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			}))
			defer srv.Close()

			var got []time.Duration
			c := New(srv.URL, nil,
				WithMinInterval(0),
				WithBackoff(time.Millisecond, tt.maxBackoff),
				WithOnBackoff(func(_ int, d time.Duration) { got = append(got, d) }),
			)

			err := c.Get(context.Background(), "/x", nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsStatus(err, http.StatusTooManyRequests))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantDelays, got)
			assert.Equal(t, tt.wantHits, hits.Load())
		})
	}
}

func TestClient_RateLimitExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, nil, fastOptions(WithMaxRetries(2))...)

	err := c.Get(context.Background(), "/x", nil)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusTooManyRequests))
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_NonRetryableStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(strings.Repeat("x", 2000)))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, fastOptions()...)

	err := c.Get(context.Background(), "/missing", nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Len(t, se.Body, maxErrorBody)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_TransientNetworkErrorRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	var headerCalls atomic.Int32
	c := New(url, staticHeaders(&headerCalls), fastOptions(WithMaxRetries(2))...)

	err := c.Get(context.Background(), "/x", nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), headerCalls.Load())
}

func TestClient_CircuitBreaker(t *testing.T) {
	var (
		hits   atomic.Int32
		status atomic.Int32
	)
	status.Store(http.StatusNotFound)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, fastOptions(WithBreaker(2, time.Minute))...)
	ctx := context.Background()

	for range 3 {
		assert.True(t, IsStatus(c.Get(ctx, "/x", nil), http.StatusNotFound))
	}

	status.Store(http.StatusBadGateway)
	assert.True(t, IsStatus(c.Get(ctx, "/x", nil), http.StatusBadGateway))
	assert.True(t, IsStatus(c.Get(ctx, "/x", nil), http.StatusBadGateway))

	before := hits.Load()
	err := c.Get(ctx, "/x", nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, before, hits.Load(), "open circuit does not reach the upstream")
}

func TestClient_LocalFailuresDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var failCreds atomic.Bool
	failCreds.Store(true)
	headers := func(ctx context.Context) (map[string]string, error) {
		if failCreds.Load() {
			return nil, errors.New("secret store unreachable")
		}
		return map[string]string{"Authorization": "Bearer token"}, nil
	}
	c := New(srv.URL, headers, fastOptions(WithBreaker(2, time.Minute))...)

	for range 3 {
		err := c.Get(context.Background(), "/x", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "resolve credentials")
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for range 3 {
		assert.ErrorIs(t, c.Get(cancelled, "/x", nil), context.Canceled)
	}

	failCreds.Store(false)
	require.NoError(t, c.Get(context.Background(), "/x", nil), "circuit stays closed")
	assert.Equal(t, int32(1), hits.Load())
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 7*time.Second, parseRetryAfter("7", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-3", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
	assert.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}

func TestPool_ReusesClientPerKey(t *testing.T) {
	p := NewPool()
	builds := 0
	build := func() *Client {
		builds++
		return New("https://acme.zendesk.com", nil)
	}

	a := p.Get("zendesk:acme", build)
	b := p.Get("zendesk:acme", build)
	c := p.Get("zendesk:globex", build)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, builds)
	assert.Equal(t, 2, p.Len())
}
