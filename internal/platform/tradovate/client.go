// Package tradovate contains the venue adapters: a REST client for
// authentication, contract metadata, historical bars, and order management,
// plus a websocket stream for real-time market data and account events.
package tradovate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/quantfarm/futuresbot/internal/domain"
)

// tokenRefreshMargin renews the access token this long before it expires.
const tokenRefreshMargin = 5 * time.Minute

// Client is the REST client for the venue API. It implements
// domain.HistoricalSource, domain.InstrumentSource, and domain.OrderAPI.
type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a REST client.
//
// baseURL is the API root, e.g. "https://demo.tradovateapi.com/v1".
func NewClient(baseURL string, creds Credentials) *Client {
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Authenticate obtains a fresh access token. Callers normally never need
// this; every request fetches or renews the token as required.
func (c *Client) Authenticate(ctx context.Context) error {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.refreshTokenLocked(ctx)
}

// AccessToken returns the current token, renewing it first when it is close
// to expiry. The websocket stream uses this for its auth frame.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token == "" || time.Until(c.tokenExpiry) < tokenRefreshMargin {
		if err := c.refreshTokenLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.token, nil
}

func (c *Client) refreshTokenLocked(ctx context.Context) error {
	body, err := json.Marshal(c.creds)
	if err != nil {
		return fmt.Errorf("tradovate: marshal credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/accesstokenrequest", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("tradovate: create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tradovate: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("tradovate: read auth response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return fmt.Errorf("tradovate: auth: %w", err)
	}

	var tok accessTokenResponse
	if err := json.Unmarshal(respBody, &tok); err != nil {
		return fmt.Errorf("tradovate: decode auth response: %w", err)
	}
	if tok.ErrorText != "" {
		return fmt.Errorf("tradovate: auth: %w: %s", domain.ErrUnauthorized, tok.ErrorText)
	}

	c.token = tok.AccessToken
	c.tokenExpiry = time.Now().Add(24 * time.Hour)
	if t, err := time.Parse(time.RFC3339Nano, tok.ExpirationTime); err == nil {
		c.tokenExpiry = t
	}
	return nil
}

// Instrument looks up contract metadata by symbol.
func (c *Client) Instrument(ctx context.Context, symbol string) (domain.Instrument, error) {
	params := url.Values{}
	params.Set("name", symbol)

	body, err := c.doRequest(ctx, http.MethodGet, "/contract/find?"+params.Encode(), nil)
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("tradovate: find contract %s: %w", symbol, err)
	}

	var contract APIContract
	if err := json.Unmarshal(body, &contract); err != nil {
		return domain.Instrument{}, fmt.Errorf("tradovate: decode contract: %w", err)
	}
	if contract.ID == 0 {
		return domain.Instrument{}, fmt.Errorf("tradovate: contract %s: %w", symbol, domain.ErrNotFound)
	}
	if contract.TickSize <= 0 {
		return domain.Instrument{}, fmt.Errorf("tradovate: contract %s has no tick size", symbol)
	}

	return contract.ToDomainInstrument(), nil
}

// Bars returns historical bars for one timeframe, oldest first.
func (c *Client) Bars(ctx context.Context, contract string, tf domain.Timeframe, days int) ([]domain.Bar, error) {
	params := url.Values{}
	params.Set("symbol", contract)
	params.Set("timeframe", tf.Label)
	params.Set("days", strconv.Itoa(days))

	body, err := c.doRequest(ctx, http.MethodGet, "/md/bars?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("tradovate: get %s bars for %s: %w", tf.Label, contract, err)
	}

	var resp struct {
		Bars []APIBar `json:"bars"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("tradovate: decode bars: %w", err)
	}

	bars := make([]domain.Bar, 0, len(resp.Bars))
	for i := range resp.Bars {
		bars = append(bars, resp.Bars[i].ToDomainBar(tf.Label))
	}
	return bars, nil
}

// doRequest sends an authenticated request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

func itoa64(v int64) string {
	return strconv.FormatInt(v, 10)
}
