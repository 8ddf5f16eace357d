// Package fallback calls the remote QR inference service when local stages
// find nothing. Every failure mode degrades to "not found"; the caller never
// sees a transport error.
package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/qrcascade/internal/version"
)

// ErrDisabled is returned by New when the fallback is switched off.
var ErrDisabled = errors.New("fallback: disabled")

// Reason explains an unsuccessful remote call.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonTimeout     Reason = "timeout"
	ReasonUnreachable Reason = "unreachable"
	ReasonHTTPStatus  Reason = "http_status"
	ReasonBadResponse Reason = "bad_response"
	ReasonNotFound    Reason = "not_found"
	ReasonCancelled   Reason = "cancelled"
	ReasonUnhealthy   Reason = "unhealthy"
)

// Unavailable reports whether the reason means the service itself could not
// answer, as opposed to answering "no QR".
func (r Reason) Unavailable() bool {
	switch r {
	case ReasonTimeout, ReasonUnreachable, ReasonHTTPStatus, ReasonBadResponse, ReasonUnhealthy:
		return true
	}
	return false
}

// StrategyPrefix prefixes the detector model in a remote strategy name.
const StrategyPrefix = "remote"

const maxResponseBytes = 1 << 20

// Response is the wire format of POST /detect.
type Response struct {
	Success          bool     `json:"success"`
	Payload          *string  `json:"payload"`
	DetectorModel    string   `json:"detector_model"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	Confidence       float64  `json:"confidence,omitempty"`
	Stages           []string `json:"stages,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// HealthResponse is the wire format of GET /health.
type HealthResponse struct {
	Status  string          `json:"status"`
	Models  map[string]bool `json:"models,omitempty"`
	Version string          `json:"version,omitempty"`
	Time    string          `json:"time,omitempty"`
}

// Outcome is the result of one Detect call.
type Outcome struct {
	Found         bool
	Payload       string
	Strategy      string
	DetectorModel string
	Reason        Reason
	Elapsed       time.Duration
	Err           error
}

// Config configures the client.
type Config struct {
	Enabled     bool
	URL         string
	Timeout     time.Duration
	HealthCheck bool
	HealthTTL   time.Duration
}

// Client talks to the inference service.
type Client struct {
	base       *url.URL
	timeout    time.Duration
	httpClient *http.Client

	healthCheck bool
	healthTTL   time.Duration
	mu          sync.Mutex
	checkedAt   time.Time
	healthy     bool
	checking    chan struct{} // closed when the running health check stores its result
}

// New validates cfg and builds a client.
func New(cfg Config) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid fallback url %q: %w", cfg.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid fallback url %q: scheme must be http or https", cfg.URL)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("fallback timeout must be positive, got %s", cfg.Timeout)
	}
	ttl := cfg.HealthTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Client{
		base:        u,
		timeout:     cfg.Timeout,
		httpClient:  &http.Client{},
		healthCheck: cfg.HealthCheck,
		healthTTL:   ttl,
	}, nil
}

// URL returns the service base URL.
func (c *Client) URL() string { return c.base.String() }

// Timeout returns the per-request bound.
func (c *Client) Timeout() time.Duration { return c.timeout }

func (c *Client) endpoint(path string) string {
	return c.base.JoinPath(path).String()
}

// Detect posts data to the service. It never retries and never returns an
// error; failures are reported through Outcome.Reason.
func (c *Client) Detect(ctx context.Context, data []byte) Outcome {
	start := time.Now()
	out := c.detect(ctx, data)
	out.Elapsed = time.Since(start)

	requestDuration.Observe(out.Elapsed.Seconds())
	label := string(out.Reason)
	if out.Found {
		label = "success"
	}
	requestsTotal.WithLabelValues(label).Inc()

	switch {
	case out.Found:
		slog.Debug("Remote fallback decoded QR", "detector_model", out.DetectorModel, "elapsed_ms", out.Elapsed.Milliseconds())
	case out.Reason.Unavailable():
		slog.Warn("Remote fallback unavailable", "reason", out.Reason, "error", out.Err, "elapsed_ms", out.Elapsed.Milliseconds())
	default:
		slog.Debug("Remote fallback found nothing", "reason", out.Reason, "elapsed_ms", out.Elapsed.Milliseconds())
	}
	return out
}

func (c *Client) detect(ctx context.Context, data []byte) Outcome {
	if err := ctx.Err(); err != nil {
		return Outcome{Reason: ReasonCancelled, Err: err}
	}
	budget := c.timeout
	if c.healthCheck {
		start := time.Now()
		healthy, err := c.isHealthy(ctx)
		if err != nil {
			return Outcome{Reason: ReasonCancelled, Err: err}
		}
		if !healthy {
			return Outcome{Reason: ReasonUnhealthy, Err: errors.New("inference service not ready")}
		}
		budget -= time.Since(start)
		if budget <= 0 {
			return Outcome{Reason: ReasonTimeout, Err: errors.New("health check used up the request timeout")}
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint("/detect"), bytes.NewReader(data))
	if err != nil {
		return Outcome{Reason: ReasonUnreachable, Err: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{Reason: classify(ctx, reqCtx), Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Outcome{Reason: ReasonHTTPStatus, Err: fmt.Errorf("inference service returned %s", resp.Status)}
	}

	var body Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		if reqCtx.Err() != nil {
			return Outcome{Reason: classify(ctx, reqCtx), Err: err}
		}
		return Outcome{Reason: ReasonBadResponse, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !body.Success || body.Payload == nil || *body.Payload == "" {
		return Outcome{Reason: ReasonNotFound, DetectorModel: body.DetectorModel}
	}
	return Outcome{
		Found:         true,
		Payload:       *body.Payload,
		DetectorModel: body.DetectorModel,
		Strategy:      Strategy(body.DetectorModel),
	}
}

// Strategy names a remote success.
func Strategy(detectorModel string) string {
	if detectorModel == "" {
		return StrategyPrefix
	}
	return StrategyPrefix + ":" + detectorModel
}

// classify tells a caller cancellation apart from our own deadline.
func classify(parent, req context.Context) Reason {
	if parent.Err() != nil {
		return ReasonCancelled
	}
	if errors.Is(req.Err(), context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonUnreachable
}

// Health queries GET /health. A non-200 answer is returned together with
// an error.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.endpoint("/health"), nil)
	if err != nil {
		return HealthResponse{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HealthResponse{}, fmt.Errorf("health request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var h HealthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&h); err != nil {
		return HealthResponse{}, fmt.Errorf("decode health: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return h, fmt.Errorf("inference service health %s (%s)", h.Status, resp.Status)
	}
	return h, nil
}

// isHealthy returns the cached health state, refreshing it when stale.
// Concurrent callers share one in-flight check. The check itself is
// detached from ctx, so a caller giving up early gets ctx.Err() while the
// check still completes and stores its result.
func (c *Client) isHealthy(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if !c.checkedAt.IsZero() && time.Since(c.checkedAt) < c.healthTTL {
		healthy := c.healthy
		c.mu.Unlock()
		return healthy, nil
	}
	done := c.checking
	if done == nil {
		done = make(chan struct{})
		c.checking = done
		go c.refreshHealth(context.WithoutCancel(ctx), done)
	}
	c.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy, nil
}

func (c *Client) refreshHealth(ctx context.Context, done chan struct{}) {
	_, err := c.Health(ctx)
	if err != nil {
		slog.Debug("Inference service health check failed", "error", err)
	}
	c.mu.Lock()
	c.healthy = err == nil
	c.checkedAt = time.Now()
	c.checking = nil
	c.mu.Unlock()
	close(done)
}
