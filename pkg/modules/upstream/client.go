// Package upstream is the HTTP client shared by modules that call remote
// APIs. Requests go through a rate limiter and a circuit breaker, and
// successful bodies can be cached.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 1 << 20

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("upstream temporarily unavailable")

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.Code)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Code, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == code
}

type Options struct {
	Name    string
	BaseURL string
	// Header is sent with every request, e.g. an API key header.
	Header        http.Header
	Timeout       time.Duration
	RatePerMinute int
	CacheTTL      time.Duration
	HTTPClient    *http.Client
	Now           func() time.Time
}

type Client struct {
	name    string
	baseURL string
	header  http.Header
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cache   *Cache
	log     *slog.Logger
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RatePerMinute)/60), opts.RatePerMinute)
	}

	log := slog.Default().With("component", "modules.upstream", "upstream", opts.Name)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "from", from.String(), "to", to.String())
		},
		IsSuccessful: isSuccessful,
	})

	return &Client{
		name:    opts.Name,
		baseURL: strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		header:  opts.Header.Clone(),
		timeout: opts.Timeout,
		http:    httpClient,
		breaker: breaker,
		limiter: limiter,
		cache:   NewCache(opts.CacheTTL, opts.Now),
		log:     log,
	}
}

// GetJSON fetches path with query and decodes the JSON body into out. A
// non-empty cacheKey serves repeated calls from the cache.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, cacheKey string, out any) error {
	if body, ok := c.cache.Get(cacheKey); ok {
		c.log.Debug("upstream cache hit", "path", path)
		return decode(body, out)
	}

	body, err := c.get(ctx, path, query)
	if err != nil {
		return err
	}
	if err := decode(body, out); err != nil {
		return err
	}
	c.cache.Put(cacheKey, body)

	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limit: %w", err)
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	startedAt := time.Now()
	c.log.Debug("upstream request started", "path", path)

	body, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		for key, values := range c.header {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request %s: %w", c.name, err)
		}
		defer resp.Body.Close()

		content, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", c.name, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(content))}
		}

		return content, nil
	})
	if err != nil {
		c.log.Debug("upstream request failed", "path", path, "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s: %w", c.name, ErrUnavailable)
		}
		return nil, err
	}
	c.log.Debug("upstream request completed", "path", path, "duration_ms", time.Since(startedAt).Milliseconds())

	return body.([]byte), nil
}

// State exposes the breaker state for status reporting.
func (c *Client) State() string {
	return c.breaker.State().String()
}

func decode(body []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode upstream response: %w", err)
	}
	return nil
}

// isSuccessful keeps caller cancellation and client errors from tripping the
// breaker. Only transport failures and 5xx responses count.
func isSuccessful(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code < 500
	}

	return false
}
