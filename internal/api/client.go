package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	dialTimeout           = 15 * time.Second
	responseHeaderTimeout = 120 * time.Second
	// A fetch is aborted when the body stays silent this long.
	readIdleTimeout = 120 * time.Second
	maxErrorBody          = 512
)

// Client interface for testability
type Client interface {
	Resolve(ctx context.Context, productType string, productDate int64) (*Resolution, error)
	DownloadFile(ctx context.Context, url string, dest io.Writer) (int64, error)
}

type HTTPClient struct {
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	idle       time.Duration
	logger     *zap.Logger
}

// ResolveRequest is the body POSTed to the resolver endpoint.
type ResolveRequest struct {
	ProductType string `json:"productType"`
	ProductDate int64  `json:"productDate"`
}

// Resolution names where an artifact is stored and a time-limited URL to fetch it.
type Resolution struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

func NewClient(endpoint string, ratePerSec int, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		MaxIdleConns:          100,
		MaxConnsPerHost:       10,
		IdleConnTimeout:       90 * time.Second,
	}

	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}

	return &HTTPClient{
		// Downloads are long streams; only the resolve call gets an overall deadline.
		httpClient: &http.Client{Transport: transport},
		endpoint:   endpoint,
		timeout:    timeout,
		limiter:    rate.NewLimiter(limit, max(ratePerSec*2, 1)),
		retryCount: retryCount,
		retryDelay: retryDelay,
		idle:       readIdleTimeout,
		logger:     logger,
	}
}

// Resolve asks the API for the storage key and fetch URL of a product.
// Throttling, 5xx and transport failures are retried within this call.
func (c *HTTPClient) Resolve(ctx context.Context, productType string, productDate int64) (*Resolution, error) {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	payload, err := json.Marshal(ResolveRequest{ProductType: productType, ProductDate: productDate})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	c.logger.Debug("resolving", zap.String("endpoint", c.endpoint), zap.ByteString("payload", payload))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		res, retry, err := c.resolveOnce(ctx, payload)
		if err == nil {
			return res, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *HTTPClient) resolveOnce(ctx context.Context, payload []byte) (*Resolution, bool, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}

	// Read body before closing for error messages
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if readErr != nil {
		return nil, true, readErr
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server error: %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, false, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, maxErrorBody))
	}

	var res Resolution
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, false, fmt.Errorf("decoding response: %w", err)
	}
	if res.Key == "" || res.URL == "" {
		return nil, false, fmt.Errorf("%w: %s", ErrMalformedResolution, truncate(body, maxErrorBody))
	}

	return &res, false, nil
}

// DownloadFile streams the body of url into dest. The transfer fails with
// ErrReadTimeout when no bytes arrive for the idle timeout.
func (c *HTTPClient) DownloadFile(ctx context.Context, url string, dest io.Writer) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body := newIdleReader(resp.Body, c.idle, cancel)
	defer body.stop()

	// Stream to destination
	n, err := io.Copy(dest, body)
	if err != nil && body.expired.Load() {
		return n, fmt.Errorf("%w after %s (%d bytes read)", ErrReadTimeout, c.idle, n)
	}
	return n, err
}

// idleReader cancels the request when no bytes arrive within timeout.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleReader(r io.Reader, timeout time.Duration, cancel context.CancelFunc) *idleReader {
	ir := &idleReader{r: r, timeout: timeout}
	ir.timer = time.AfterFunc(timeout, func() {
		ir.expired.Store(true)
		cancel()
	})
	return ir
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.timer.Reset(ir.timeout)
	}
	return n, err
}

func (ir *idleReader) stop() {
	ir.timer.Stop()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
