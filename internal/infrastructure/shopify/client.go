// Package shopify is a minimal Admin REST client for catalog enumeration
// plus webhook signature checks.
package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/compliancesync/backend/internal/application/catalogsync"
	"github.com/compliancesync/backend/internal/domain/catalog"
	"github.com/compliancesync/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// maxResponseSize is the maximum accepted response body (10MB)
const maxResponseSize = 10 * 1024 * 1024

const productFields = "id,title,status,updated_at"

var _ catalogsync.CatalogSource = (*Client)(nil)

// Client calls the Admin REST API of any installed shop
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
	// baseURL overrides https://{shop} in tests
	baseURL string
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL sends every request to baseURL instead of the shop's domain
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new Admin API client
func NewClient(config Config, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     zap.NewNop(),
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListProducts fetches one page of the shop's products. An empty cursor
// requests the first page; the returned NextCursor is empty on the last.
func (c *Client) ListProducts(ctx context.Context, shopDomain, accessToken, cursor string) (*catalog.Page, error) {
	if shopDomain == "" || accessToken == "" {
		return nil, shared.ErrInvalidInput.WithMessage("Shop domain and access token are required")
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.config.PageSize))
	q.Set("fields", productFields)
	if cursor != "" {
		q.Set("page_info", cursor)
	}
	endpoint := fmt.Sprintf("%s/admin/api/%s/products.json?%s", c.base(shopDomain), c.config.APIVersion, q.Encode())

	body, header, err := c.get(ctx, endpoint, accessToken)
	if err != nil {
		return nil, err
	}

	var resp productsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, shared.ErrPlatformUnavailable.WithMessage("Unreadable products response").WithCause(err)
	}

	page := &catalog.Page{
		Snapshots:  make([]catalog.Snapshot, 0, len(resp.Products)),
		NextCursor: nextPageInfo(header.Get("Link")),
	}
	for _, p := range resp.Products {
		page.Snapshots = append(page.Snapshots, catalog.Snapshot{
			RemoteProductID: p.ID,
			RemoteStatus:    catalog.RemoteStatus(strings.ToLower(p.Status)),
			Title:           p.Title,
			UpdatedAt:       p.UpdatedAt.UTC(),
		})
	}
	return page, nil
}

func (c *Client) base(shopDomain string) string {
	if c.baseURL != "" {
		return c.baseURL
	}
	return "https://" + shopDomain
}

// get performs one GET, waiting out 429 responses up to the retry limit
func (c *Client) get(ctx context.Context, endpoint, accessToken string) ([]byte, http.Header, error) {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("shopify: failed to create request: %w", err)
		}
		req.Header.Set("X-Shopify-Access-Token", accessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, shared.Transient(ctx.Err())
			}
			return nil, nil, shared.ErrPlatformUnavailable.WithCause(err)
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		resp.Body.Close()
		if readErr != nil {
			return nil, nil, shared.ErrPlatformUnavailable.WithMessage("Failed to read platform response").WithCause(readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp.Header.Get("Retry-After"), c.config.MaxRetryAfter)
			if attempt >= c.config.MaxRateLimitRetries {
				return nil, nil, &RateLimitError{RetryAfter: wait}
			}
			c.logger.Debug("Rate limited by platform, waiting", zap.Duration("retry_after", wait))
			if err := c.sleep(ctx, wait); err != nil {
				return nil, nil, shared.Transient(err)
			}
			continue
		}
		if err := statusError(resp.StatusCode, body); err != nil {
			return nil, nil, err
		}
		return body, resp.Header, nil
	}
}

// RateLimitError reports a 429 that outlasted the client's retries
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("shopify: rate limited, retry after %v", e.RetryAfter)
}

// Unwrap classifies the error as transient
func (e *RateLimitError) Unwrap() error {
	return shared.ErrPlatformUnavailable
}

// statusError maps a non-2xx status onto an error kind
func statusError(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := fmt.Sprintf("Platform returned HTTP %d", status)
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Errors != nil {
		msg = fmt.Sprintf("%s: %v", msg, er.Errors)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return shared.ErrUnauthorized.WithMessage(msg)
	case status == http.StatusNotFound:
		return shared.ErrNotFound.WithMessage(msg)
	case status >= 500:
		return shared.ErrPlatformUnavailable.WithMessage(msg)
	default:
		return shared.Permanent(errors.New(msg))
	}
}

// retryAfter parses a Retry-After header in (possibly fractional) seconds
func retryAfter(v string, ceiling time.Duration) time.Duration {
	wait := time.Second
	if secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && secs > 0 {
		wait = time.Duration(secs * float64(time.Second))
	}
	if ceiling > 0 && wait > ceiling {
		wait = ceiling
	}
	return wait
}

var linkNextPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// nextPageInfo extracts the page_info cursor of the rel="next" link
func nextPageInfo(link string) string {
	m := linkNextPattern.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	u, err := url.Parse(m[1])
	if err != nil {
		return ""
	}
	return u.Query().Get("page_info")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
