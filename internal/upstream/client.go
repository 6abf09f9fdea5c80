// Package upstream talks to the remote exchange: OAuth password-grant
// token lifecycle, retrying HTTP GETs, and fetchers for the trade,
// contract, order-book and revision-stream endpoints. Every outbound call
// goes through a shared rate limiter and circuit breaker so one
// misbehaving job cannot hammer the exchange on behalf of the whole
// process.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/nordflow/ingest/internal/config"
	"github.com/nordflow/ingest/internal/errs"
)

const (
	maxRetries     = 5
	retryBaseDelay = 2 * time.Second
	retryMaxDelay  = 60 * time.Second
	requestTimeout = 45 * time.Second
)

// Client is the upstream HTTP client. One Client is shared by every area
// and every ingester in the process; its token and circuit-breaker state
// are process-wide.
type Client struct {
	http     *http.Client
	baseURL  string
	stsURL   string
	username string
	password string

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time

	log zerolog.Logger

	// now is overridable in tests.
	now func() time.Time
}

// NewClient builds a Client from Config. When credentials are empty the
// Client is still constructed (so Read API / replayer code paths that
// never touch it compile and run) but every fetch call returns
// errs.FatalConfig immediately.
func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	return &Client{
		http:     &http.Client{Timeout: requestTimeout},
		baseURL:  strings.TrimRight(cfg.UpstreamBaseURL, "/"),
		stsURL:   cfg.UpstreamSTSURL,
		username: cfg.UpstreamUsername,
		password: cfg.UpstreamPassword,
		limiter:  rate.NewLimiter(rate.Limit(8), 8),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "upstream",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 8
			},
		}),
		log: log.With().Str("component", "upstream").Logger(),
		now: time.Now,
	}
}

// Healthy reports the circuit breaker's state for a process health probe.
func (c *Client) Healthy() bool {
	return c.breaker.State() != gobreaker.StateOpen
}

func (c *Client) enabled() bool {
	return c.username != "" && c.password != ""
}

// refreshToken performs the form-encoded password grant against the STS
// host, authenticating with the static basic client credentials.
func (c *Client) refreshToken(ctx context.Context) error {
	if !c.enabled() {
		return &errs.FatalConfig{Reason: "upstream credentials not configured"}
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("scope", "marketdata_api")
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.stsURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("client_marketdata_api", "client_marketdata_api")

	resp, err := c.http.Do(req)
	if err != nil {
		return &errs.TransportError{Op: "token refresh", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &errs.AuthExpired{Op: fmt.Sprintf("token refresh (HTTP %d): %s", resp.StatusCode, string(body))}
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &errs.ParseError{Context: "token response", Excerpt: excerpt(body), Err: err}
	}
	if parsed.AccessToken == "" {
		return &errs.AuthExpired{Op: "token refresh returned empty access_token"}
	}

	ttl := time.Duration(parsed.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	c.mu.Lock()
	c.token = parsed.AccessToken
	c.tokenExpiry = c.now().Add(ttl)
	c.mu.Unlock()

	return nil
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	tok := c.token
	fresh := tok != "" && c.now().Before(c.tokenExpiry)
	c.mu.Unlock()

	if fresh {
		return tok, nil
	}
	if err := c.refreshToken(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	tok = c.token
	c.mu.Unlock()
	return tok, nil
}

// doRequest issues an authenticated GET with 401-refresh-and-retry-once,
// and retries transport errors/5xx up to maxRetries times with exponential
// backoff.
func (c *Client) doRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if !c.enabled() {
		return nil, &errs.FatalConfig{Reason: "upstream credentials not configured"}
	}

	body, status, err := c.attemptWithRetry(ctx, path, params)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		if err := c.refreshToken(ctx); err != nil {
			return nil, err
		}
		body, status, err = c.attemptWithRetry(ctx, path, params)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, &errs.FatalConfig{Reason: fmt.Sprintf("GET %s still 401 after token refresh", path)}
		}
	}
	if status >= 400 {
		return nil, fmt.Errorf("upstream %s returned HTTP %d: %s", path, status, excerpt(body))
	}
	return body, nil
}

// attemptWithRetry retries transport errors and 5xx responses; a 401 is
// returned immediately (without consuming a retry) so the caller can
// refresh-and-retry-once.
func (c *Client) attemptWithRetry(ctx context.Context, path string, params url.Values) ([]byte, int, error) {
	var lastErr error
	delay := retryBaseDelay

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}

		body, status, err := c.execute(ctx, path, params)
		if err == nil && status == http.StatusUnauthorized {
			return body, status, nil
		}
		if err == nil && status < 500 {
			return body, status, nil
		}
		if err == nil {
			lastErr = fmt.Errorf("upstream %s returned HTTP %d: %s", path, status, excerpt(body))
		} else {
			lastErr = err
		}

		c.log.Warn().Err(lastErr).Str("path", path).Int("attempt", attempt+1).Msg("upstream request failed, retrying")

		if attempt == maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return nil, 0, &errs.TransportError{Op: path, Err: lastErr}
}

func (c *Client) execute(ctx context.Context, path string, params url.Values) ([]byte, int, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		tok, err := c.currentToken(ctx)
		if err != nil {
			return nil, err
		}

		u := c.baseURL + path
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, excerpt(b))
		}
		return rawResponse{body: b, status: resp.StatusCode}, nil
	})
	if err != nil {
		if raw, ok := result.(rawResponse); ok {
			return raw.body, raw.status, nil
		}
		return nil, 0, err
	}
	raw := result.(rawResponse)
	return raw.body, raw.status, nil
}

type rawResponse struct {
	body   []byte
	status int
}

func excerpt(b []byte) string {
	const max = 300
	s := string(bytes.TrimSpace(b))
	if len(s) > max {
		return s[:max]
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

func formatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
