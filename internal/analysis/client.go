// ABOUTME: HTTP client for the external AI analysis service
// ABOUTME: Fixed timeout, one retry on timeout, then a terminal error for the caller to drop

package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/2389/calories-gateway/internal/nutrition"
)

const (
	// DefaultTimeout bounds a single analysis request.
	DefaultTimeout = 10 * time.Second
	// MaxRetries is the number of retries after a timed-out attempt.
	MaxRetries = 1
	// RetryInterval is the pause before retrying.
	RetryInterval = 500 * time.Millisecond

	maxResponseBytes = 1 << 20
)

// ErrUnavailable wraps every terminal failure returned by Analyze.
var ErrUnavailable = errors.New("analysis unavailable")

// Client fetches analysis text for a period.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	retryInterval time.Duration
	logger        *slog.Logger
}

// Config holds Client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewClient creates a Client. Timeout defaults to DefaultTimeout.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:    &http.Client{Timeout: timeout},
		retryInterval: RetryInterval,
		logger:        logger.With("component", "analysis"),
	}
}

// endpointPath maps a period to its analysis route.
func endpointPath(period nutrition.Period) (string, error) {
	switch period {
	case nutrition.PeriodDay:
		return "/api/analyze", nil
	case nutrition.PeriodWeek:
		return "/api/analyze/week", nil
	case nutrition.PeriodMonth:
		return "/api/analyze/month", nil
	default:
		return "", fmt.Errorf("unknown period %q", period)
	}
}

type analysisResponse struct {
	Analysis string `json:"analysis"`
}

// Analyze returns the analysis text for period. A timed-out attempt is
// retried once; any other failure is returned immediately.
func (c *Client) Analyze(ctx context.Context, period nutrition.Period) (string, error) {
	path, err := endpointPath(period)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var (
		text     string
		attempts int
	)
	op := func() error {
		attempts++
		var err error
		text, err = c.fetch(ctx, c.baseURL+path)
		if err != nil && !isTimeout(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("analysis request timed out, retrying", "period", period, "attempt", attempts, "wait", wait)
	}

	if err := backoff.RetryNotify(op, newRetryBackoff(ctx, c.retryInterval), notify); err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w: timed out after %d attempts: %v", ErrUnavailable, attempts, err)
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return text, nil
}

func (c *Client) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var out analysisResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return out.Analysis, nil
}

// newRetryBackoff allows MaxRetries retries at a constant interval, stopping early on ctx cancel.
func newRetryBackoff(ctx context.Context, interval time.Duration) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), MaxRetries), ctx)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Ensure Client satisfies the engine's analyzer contract
var _ nutrition.Analyzer = (*Client)(nil)
