package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jafarshop/webhookgw/internal/config"
)

// APIVersion is the Admin API version the client talks to
const APIVersion = "2024-10"

const (
	maxAttempts         = 3
	defaultThrottleWait = 2 * time.Second
)

type Client struct {
	shopDomain  string
	accessToken string
	endpoint    string
	httpClient  *http.Client
	logger      *zap.Logger
	wait        func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new Shopify GraphQL Admin client
func NewClient(cfg config.ShopifyConfig, logger *zap.Logger) *Client {
	shopDomain := NormalizeShopDomain(cfg.ShopDomain)
	return &Client{
		shopDomain:  shopDomain,
		accessToken: cfg.AccessToken,
		endpoint:    fmt.Sprintf("https://%s/admin/api/%s/graphql.json", shopDomain, APIVersion),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
		wait:        sleepContext,
	}
}

// NormalizeShopDomain strips scheme and trailing slashes and lowercases the
// domain, which is the form stores are keyed by.
func NormalizeShopDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	return strings.TrimRight(d, "/")
}

// ShopDomain returns the normalized shop domain
func (c *Client) ShopDomain() string {
	return c.shopDomain
}

// GraphQLRequest represents a GraphQL request
type GraphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// GraphQLResponse represents a GraphQL response
type GraphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors,omitempty"`
}

type GraphQLError struct {
	Message string   `json:"message"`
	Path    []string `json:"path,omitempty"`
}

// UserError is a validation error returned inside a mutation payload
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// APIError is a non-200 answer from the Admin API
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopify API error: status %d, body: %s", e.StatusCode, e.Body)
}

// Throttled reports whether the request was rejected by the rate limiter
func (e *APIError) Throttled() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Execute runs a GraphQL query or mutation. Throttled requests are retried
// after the advertised Retry-After, up to maxAttempts.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]interface{}) (*GraphQLResponse, error) {
	payload, err := json.Marshal(GraphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	for attempt := 1; ; attempt++ {
		resp, err := c.post(ctx, payload)
		if err == nil {
			return resp, nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Throttled() || attempt >= maxAttempts {
			return nil, err
		}
		c.logger.Warn("Shopify API throttled, retrying",
			zap.String("shop_domain", c.shopDomain),
			zap.Int("attempt", attempt),
			zap.Duration("retry_after", apiErr.RetryAfter),
		)
		if err := c.wait(ctx, apiErr.RetryAfter); err != nil {
			return nil, err
		}
	}
}

func (c *Client) post(ctx context.Context, payload []byte) (*GraphQLResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if limit := resp.Header.Get("X-Shopify-Shop-Api-Call-Limit"); limit != "" {
		c.logger.Debug("Shopify API call limit", zap.String("shop_domain", c.shopDomain), zap.String("used", limit))
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		if apiErr.Throttled() {
			apiErr.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
		}
		c.logger.Warn("Shopify API returned an error status",
			zap.String("shop_domain", c.shopDomain),
			zap.Int("status", resp.StatusCode),
		)
		return nil, apiErr
	}

	var out GraphQLResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("graphQL errors: %v", out.Errors)
	}
	return &out, nil
}

func retryAfter(raw string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || seconds <= 0 {
		return defaultThrottleWait
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
