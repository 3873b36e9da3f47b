package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/polypulse/polypulse/internal/domain"
)

const (
	defaultClobURL = "https://clob.polymarket.com"
	defaultDataURL = "https://data-api.polymarket.com"
)

// ClobClient reads market data from the Polymarket CLOB and data APIs:
// order books, midpoints and trade history. Books and midpoints are public;
// trade endpoints send L2 auth headers when credentials are set.
type ClobClient struct {
	clobURL    string
	dataURL    string
	httpClient *http.Client
	retry      retryPolicy
	signer     *l2Signer
}

// NewClobClient creates a CLOB market data client. Empty URLs select the
// production endpoints.
func NewClobClient(clobURL, dataURL string) *ClobClient {
	if clobURL == "" {
		clobURL = defaultClobURL
	}
	if dataURL == "" {
		dataURL = defaultDataURL
	}
	return &ClobClient{
		clobURL: clobURL,
		dataURL: dataURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: defaultRetryPolicy(),
	}
}

// SetRetry overrides the transient-failure retry policy.
func (c *ClobClient) SetRetry(max int, base time.Duration) {
	if max >= 0 {
		c.retry.max = max
	}
	if base > 0 {
		c.retry.base = base
	}
}

// SetCredentials installs CLOB API credentials for authenticated endpoints.
func (c *ClobClient) SetCredentials(apiKey, secret, passphrase string) {
	c.signer = &l2Signer{apiKey: apiKey, secret: secret, passphrase: passphrase}
}

// GetOrderBook fetches the current book for one outcome token.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBookSnapshot, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	var raw APIBook
	if err := c.doJSON(ctx, http.MethodGet, c.clobURL+"/book?"+params.Encode(), nil, &raw, false); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("polymarket/clob: get book %s: %w", tokenID, err)
	}
	snap := raw.ToSnapshot()
	if snap.TokenID == "" {
		snap.TokenID = tokenID
	}
	return snap, nil
}

// GetOrderBooks fetches books for many tokens in one request via the batch
// endpoint. Tokens the CLOB does not know are absent from the result.
func (c *ClobClient) GetOrderBooks(ctx context.Context, tokenIDs []string) ([]domain.OrderBookSnapshot, error) {
	if len(tokenIDs) == 0 {
		return nil, nil
	}

	type bookParam struct {
		TokenID string `json:"token_id"`
	}
	payload := make([]bookParam, len(tokenIDs))
	for i, id := range tokenIDs {
		payload[i] = bookParam{TokenID: id}
	}

	var raw []APIBook
	if err := c.doJSON(ctx, http.MethodPost, c.clobURL+"/books", payload, &raw, false); err != nil {
		return nil, fmt.Errorf("polymarket/clob: get books: %w", err)
	}

	snaps := make([]domain.OrderBookSnapshot, 0, len(raw))
	for i := range raw {
		snaps = append(snaps, raw[i].ToSnapshot())
	}
	return snaps, nil
}

// GetMidpoint fetches the CLOB's own bid/ask midpoint for a token.
func (c *ClobClient) GetMidpoint(ctx context.Context, tokenID string) (float64, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	var raw struct {
		Mid string `json:"mid"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.clobURL+"/midpoint?"+params.Encode(), nil, &raw, false); err != nil {
		return 0, fmt.Errorf("polymarket/clob: get midpoint %s: %w", tokenID, err)
	}

	mid, err := strconv.ParseFloat(raw.Mid, 64)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: parse midpoint %q: %w", raw.Mid, err)
	}
	return mid, nil
}

// GetTrades fetches recent fills for a market's condition ID from the data
// API, newest first. after prunes fills at or before the given time; a zero
// time keeps everything the API returns.
func (c *ClobClient) GetTrades(ctx context.Context, marketID, conditionID string, after time.Time, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 500
	}

	params := url.Values{}
	params.Set("market", conditionID)
	params.Set("limit", strconv.Itoa(limit))

	var raw []APITrade
	if err := c.doJSON(ctx, http.MethodGet, c.dataURL+"/trades?"+params.Encode(), nil, &raw, true); err != nil {
		return nil, fmt.Errorf("polymarket/clob: get trades %s: %w", conditionID, err)
	}

	trades := make([]domain.Trade, 0, len(raw))
	for i := range raw {
		t := raw[i].ToTrade(marketID)
		if !after.IsZero() && !t.Timestamp.After(after) {
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// doJSON performs an HTTP request with an optional JSON body and decodes
// the JSON response into out, retrying rate limits and server errors.
// signed attaches the L2 auth headers when credentials are configured.
func (c *ClobClient) doJSON(ctx context.Context, method, u string, body, out any, signed bool) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
	}
	return c.retry.retry(ctx, func() error {
		return c.doOnce(ctx, method, u, data, out, signed)
	})
}

func (c *ClobClient) doOnce(ctx context.Context, method, u string, data []byte, out any, signed bool) error {
	var reader io.Reader
	if data != nil {
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed && c.signer.configured() {
		if err := c.signer.sign(req, data); err != nil {
			return err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkHTTPStatus(resp); err != nil {
		return err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
