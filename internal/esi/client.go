package esi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/rickgao/eve-market/internal/throttle"
)

// DefaultBaseURL is the public ESI endpoint.
const DefaultBaseURL = "https://esi.evetech.net/latest"

// Client provides access to the ESI REST API.
type Client struct {
	baseURL    string
	datasource string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries int
	errorDelay time.Duration // Minimum sleep after a >= 400 response

	pacer    *rate.Limiter
	budget   *throttle.ErrorBudget
	onBudget func(remaining int, reset time.Duration)
	sleep    func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new ESI client. A nil budget gets a private one.
func NewClient(baseURL string, budget *throttle.ErrorBudget, opts ...ClientOption) *Client {
	if budget == nil {
		budget = throttle.NewErrorBudget()
	}
	c := &Client{
		baseURL:    baseURL,
		datasource: "tranquility",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:     slog.Default(),
		maxRetries: 2,
		errorDelay: 2 * time.Second,
		pacer:      rate.NewLimiter(rate.Limit(20), 20),
		budget:     budget,
		sleep:      sleepCtx,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Budget returns the error budget cell this client writes to.
func (c *Client) Budget() *throttle.ErrorBudget {
	return c.budget
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets how many times a retryable failure is retried.
func WithRetries(max int) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit paces outgoing requests locally. rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.pacer = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.pacer = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithErrorDelay sets the minimum sleep after an error response.
func WithErrorDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.errorDelay = d
	}
}

// WithBudgetHook registers fn to be called after every budget update.
func WithBudgetHook(fn func(remaining int, reset time.Duration)) ClientOption {
	return func(c *Client) {
		c.onBudget = fn
	}
}

// WithDatasource sets the datasource query parameter.
func WithDatasource(ds string) ClientOption {
	return func(c *Client) {
		c.datasource = ds
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
