// Package delta implements a signed REST client for the Delta Exchange v2 API.
package delta

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultBaseURL is the Delta Exchange India production endpoint.
	DefaultBaseURL = "https://api.india.delta.exchange"

	userAgent = "delta-core/1.0"
)

// Client handles signed and public requests against the Delta REST API.
// Construct one per credential set; nothing is cached across credentials.
type Client struct {
	baseURL     string
	apiKey      string
	apiSecret   string
	httpClient  *http.Client
	timeSync    *TimeSync
	rateLimiter *RateLimiter
}

// NewClient creates a client for the given base URL and credentials.
// Pass empty credentials for public-only endpoints (tickers, products).
func NewClient(baseURL, apiKey, apiSecret string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		timeSync:    &TimeSync{},
		rateLimiter: NewRateLimiter(10000),
	}
}

// CreateOrder places an order. POST /v2/orders.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	var out Order
	if err := c.doSigned(ctx, http.MethodPost, "/v2/orders", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateBracketOrder attaches stop-loss/take-profit legs to an existing
// position. POST /v2/orders/bracket.
func (c *Client) CreateBracketOrder(ctx context.Context, req BracketOrderRequest) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.doSigned(ctx, http.MethodPost, "/v2/orders/bracket", nil, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPosition returns the position for a single product. GET /v2/positions.
func (c *Client) GetPosition(ctx context.Context, productID int) (*Position, error) {
	q := url.Values{}
	q.Set("product_id", strconv.Itoa(productID))
	var out Position
	if err := c.doSigned(ctx, http.MethodGet, "/v2/positions", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAllPositions returns all open margined positions. GET /v2/positions/margined.
func (c *Client) GetAllPositions(ctx context.Context) ([]MarginedPosition, error) {
	var out []MarginedPosition
	if err := c.doSigned(ctx, http.MethodGet, "/v2/positions/margined", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CancelAllOrders cancels all open orders, optionally scoped to a product.
// DELETE /v2/orders/all.
func (c *Client) CancelAllOrders(ctx context.Context, productID int) error {
	body := map[string]any{}
	if productID > 0 {
		body["product_id"] = productID
	}
	return c.doSigned(ctx, http.MethodDelete, "/v2/orders/all", nil, body, nil)
}

// GetLiveOrders returns currently open orders. GET /v2/orders.
func (c *Client) GetLiveOrders(ctx context.Context) ([]Order, error) {
	var out []Order
	if err := c.doSigned(ctx, http.MethodGet, "/v2/orders", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOrderHistory returns past orders with cursor pagination.
// GET /v2/orders/history. The returned string is the next-page cursor
// ("" when exhausted).
func (c *Client) GetOrderHistory(ctx context.Context, page PageQuery) ([]Order, string, error) {
	q := pageValues(page)
	var out []Order
	after, err := c.doSignedPaged(ctx, "/v2/orders/history", q, &out)
	if err != nil {
		return nil, "", err
	}
	return out, after, nil
}

// GetFills returns trade fills with cursor pagination. GET /v2/fills.
func (c *Client) GetFills(ctx context.Context, page PageQuery) ([]Fill, string, error) {
	q := pageValues(page)
	var out []Fill
	after, err := c.doSignedPaged(ctx, "/v2/fills", q, &out)
	if err != nil {
		return nil, "", err
	}
	return out, after, nil
}

// GetTicker returns the public ticker for a symbol. GET /v2/tickers/{symbol}.
func (c *Client) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var out Ticker
	if err := c.doPublic(ctx, "/v2/tickers/"+url.PathEscape(symbol), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProduct returns public product metadata. GET /v2/products/{symbol}.
func (c *Client) GetProduct(ctx context.Context, symbol string) (*Product, error) {
	var out Product
	if err := c.doPublic(ctx, "/v2/products/"+url.PathEscape(symbol), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RateUsage exposes rate limit usage for diagnostics.
func (c *Client) RateUsage() (used, limit int, percentage float64) {
	return c.rateLimiter.GetUsage()
}

func pageValues(page PageQuery) url.Values {
	q := url.Values{}
	if page.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(page.PageSize))
	}
	if page.After != "" {
		q.Set("after", page.After)
	}
	return q
}

func (c *Client) doPublic(ctx context.Context, path string, out any) error {
	_, err := c.do(ctx, http.MethodGet, path, nil, nil, out, false)
	return err
}

func (c *Client) doSigned(ctx context.Context, method, path string, query url.Values, body, out any) error {
	_, err := c.do(ctx, method, path, query, body, out, true)
	return err
}

func (c *Client) doSignedPaged(ctx context.Context, path string, query url.Values, out any) (string, error) {
	env, err := c.do(ctx, http.MethodGet, path, query, nil, out, true)
	if err != nil {
		return "", err
	}
	if env != nil && env.Meta != nil {
		return env.Meta.After, nil
	}
	return "", nil
}

// do performs one request and decodes the standard response envelope.
// Signed requests carry HMAC-SHA256(secret, method+timestamp+path+query+body)
// in the signature header, with the timestamp in unix seconds.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, signed bool) (*envelope, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	queryString := ""
	if len(query) > 0 {
		queryString = "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+queryString, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	if signed {
		if c.apiKey == "" || c.apiSecret == "" {
			return nil, fmt.Errorf("delta: api key/secret required for %s %s", method, path)
		}
		timestamp := strconv.FormatInt(c.timeSync.Now(), 10)
		signature := sign(c.apiSecret, method+timestamp+path+queryString+string(payload))
		req.Header.Set("api-key", c.apiKey)
		req.Header.Set("timestamp", timestamp)
		req.Header.Set("signature", signature)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	c.timeSync.UpdateFromResponse(res)
	c.rateLimiter.UpdateFromHeaders(
		res.Header.Get("X-RATE-LIMIT-LIMIT"),
		res.Header.Get("X-RATE-LIMIT-REMAINING"),
	)

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			if res.StatusCode >= 300 {
				return nil, &APIError{HTTPStatus: res.StatusCode, Body: string(raw)}
			}
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}

	if res.StatusCode >= 300 || (len(raw) > 0 && !env.Success) {
		apiErr := &APIError{HTTPStatus: res.StatusCode, Body: string(raw)}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
		}
		return nil, apiErr
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	return &env, nil
}

func sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
