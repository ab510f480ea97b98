package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sawpanic/cryptodash/internal/netlimit"
)

// Response is the outcome of one GetWithRetry call.
type Response struct {
	Body           []byte
	StatusCode     int
	ResponseTimeMs int64
	Attempts       int
}

// Client is the Provider Client (C5): a retrying, rate-limited, pooled HTTP
// client. Grounded on original_source/src/features/external_apis/api_client.rs
// (get_with_retry's attempt loop and backoff rule) with the pooled
// transport shape from internal/infrastructure/async/pool.go.
type Client struct {
	http    *http.Client
	limiter *netlimit.Limiter
	agent   string
}

// NewClient builds a Client sharing one pooled transport across all
// providers (per-host connection reuse), rate-limited per endpoint.
func NewClient(limiter *netlimit.Limiter) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		http:    &http.Client{Transport: transport, Timeout: 30 * time.Second},
		limiter: limiter,
		agent:   "cryptodash/1.0",
	}
}

// GetWithRetry issues a GET against url, pacing through the named endpoint's
// rate limiter/breaker before every attempt. Retry contract (from
// api_client.rs): up to maxRetries attempts; HTTP 429/418 sleeps a fixed 60s
// before the next attempt; any other failure (network error or non-2xx)
// sleeps min(2^(attempt-1), 60) seconds; a non-429 4xx is not retried at
// all, since the request itself is malformed and retrying cannot help.
func (c *Client) GetWithRetry(ctx context.Context, url, endpoint string, maxRetries int) (*Response, error) {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Acquire(ctx, endpoint); err != nil {
			return nil, &ProviderError{Code: ErrCodeCircuitOpen, Provider: endpoint, Message: "rate limiter unavailable", Cause: err}
		}

		start := time.Now()
		resp, err := c.doOnce(ctx, url)
		elapsed := time.Since(start)

		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			resp.Attempts = attempt
			resp.ResponseTimeMs = elapsed.Milliseconds()
			return resp, nil
		}

		if err == nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418) {
			c.limiter.OpenBreaker(endpoint, 60*time.Second)
			lastErr = &ProviderError{Code: ErrCodeRateLimited, Provider: endpoint, Message: fmt.Sprintf("status %d", resp.StatusCode), Temporary: true}
			if attempt >= maxRetries {
				break
			}
			if sleepErr := sleepCtx(ctx, 60*time.Second); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		if err == nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// non-429 4xx: the request itself is wrong, retrying will not help.
			return nil, &ProviderError{Code: ErrCodeSemantic, Provider: endpoint, Message: fmt.Sprintf("status %d", resp.StatusCode)}
		}

		if err != nil {
			lastErr = &ProviderError{Code: ErrCodeTransport, Provider: endpoint, Message: err.Error(), Temporary: true, Cause: err}
		} else {
			lastErr = &ProviderError{Code: ErrCodeTransport, Provider: endpoint, Message: fmt.Sprintf("status %d", resp.StatusCode), Temporary: true}
		}

		if attempt >= maxRetries {
			break
		}
		backoff := calculateBackoff(attempt)
		if sleepErr := sleepCtx(ctx, backoff); sleepErr != nil {
			return nil, sleepErr
		}
	}

	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.agent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{Body: body, StatusCode: resp.StatusCode}, nil
}

// calculateBackoff implements min(2^(attempt-1), 60) seconds.
func calculateBackoff(attempt int) time.Duration {
	seconds := 1 << (attempt - 1)
	if seconds > 60 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DecodeJSON is a small helper shared by concrete provider fetchers.
func DecodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	return dec.Decode(v)
}
