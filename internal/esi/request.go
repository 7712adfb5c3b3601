package esi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Response headers carrying pagination and error budget state.
const (
	HeaderPages       = "X-Pages"
	HeaderErrorRemain = "X-ESI-Error-Limit-Remain"
	HeaderErrorReset  = "X-ESI-Error-Limit-Reset"
)

// APIError represents an error response from ESI.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("esi error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
// 420 is ESI's error-limited status.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429 || e.StatusCode == 420
}

// Page is one page of a paginated resource.
type Page struct {
	Body        []byte
	TotalPages  int
	NotModified bool
	ETag        string
	Remaining   int           // Error budget remaining, -1 if the header was absent
	Reset       time.Duration // Error budget reset countdown
}

// FetchPage performs one GET of path with the given page number.
// page <= 0 omits the page parameter. Error responses sleep
// max(reset, errorDelay) before being retried or returned.
func (c *Client) FetchPage(ctx context.Context, path string, params url.Values, page int) (*Page, error) {
	return c.fetch(ctx, path, params, page, "")
}

// FetchPageIfNoneMatch is FetchPage with an If-None-Match precondition.
// An unchanged resource returns a Page with NotModified set and no body.
func (c *Client) FetchPageIfNoneMatch(ctx context.Context, path string, params url.Values, page int, etag string) (*Page, error) {
	return c.fetch(ctx, path, params, page, etag)
}

func (c *Client) fetch(ctx context.Context, path string, params url.Values, page int, etag string) (*Page, error) {
	query := url.Values{}
	for k, v := range params {
		query[k] = append([]string(nil), v...)
	}
	if c.datasource != "" && query.Get("datasource") == "" {
		query.Set("datasource", c.datasource)
	}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request", "attempt", attempt, "path", path, "page", page)
		}

		p, err := c.doRequest(ctx, path, query, etag)
		if err == nil {
			return p, nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// doRequest performs a single GET and records the error budget headers.
func (c *Client) doRequest(ctx context.Context, path string, query url.Values, etag string) (*Page, error) {
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for pacer: %w", err)
		}
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	page := &Page{
		TotalPages: headerInt(resp.Header, HeaderPages, 1),
		ETag:       resp.Header.Get("ETag"),
		Remaining:  headerInt(resp.Header, HeaderErrorRemain, -1),
		Reset:      time.Duration(headerInt(resp.Header, HeaderErrorReset, 0)) * time.Second,
	}
	c.observe(resp.Header, page)

	c.logger.Debug("esi response",
		"path", path,
		"status", resp.StatusCode,
		"pages", page.TotalPages,
		"remain", page.Remaining,
	)

	if resp.StatusCode == http.StatusNotModified {
		page.NotModified = true
		return page, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		delay := max(page.Reset, c.errorDelay)
		c.logger.Warn("esi error response, backing off",
			"path", path,
			"status", resp.StatusCode,
			"sleep", delay,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	page.Body = body
	return page, nil
}

// observe writes the error budget headers, when present, into the shared cell.
func (c *Client) observe(h http.Header, p *Page) {
	if h.Get(HeaderErrorRemain) == "" {
		return
	}
	c.budget.Observe(p.Remaining, p.Reset)
	if c.onBudget != nil {
		c.onBudget(p.Remaining, p.Reset)
	}
}

func headerInt(h http.Header, key string, fallback int) int {
	v := h.Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
