package polymarket

import (
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

const defaultGammaURL = "https://gamma-api.polymarket.com"

// GammaClient reads market metadata from the Polymarket Gamma API.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	retry      retryPolicy
}

// NewGammaClient creates a Gamma API client. An empty baseURL selects the
// production endpoint.
func NewGammaClient(baseURL string) *GammaClient {
	if baseURL == "" {
		baseURL = defaultGammaURL
	}
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: defaultRetryPolicy(),
	}
}

// SetRetry overrides the transient-failure retry policy.
func (c *GammaClient) SetRetry(max int, base time.Duration) {
	if max >= 0 {
		c.retry.max = max
	}
	if base > 0 {
		c.retry.base = base
	}
}

// MarketQuery narrows a GetMarkets call. Zero values are omitted from the
// request.
type MarketQuery struct {
	Active    bool
	Closed    *bool
	Category  string
	MinVolume float64
	Limit     int
	Offset    int
}

// GetMarkets fetches a page of markets matching the query.
func (c *GammaClient) GetMarkets(ctx context.Context, q MarketQuery) ([]domain.MarketSnapshot, error) {
	params := url.Values{}
	if q.Active {
		params.Set("active", "true")
	}
	if q.Closed != nil {
		params.Set("closed", strconv.FormatBool(*q.Closed))
	}
	if q.Category != "" {
		params.Set("tag", q.Category)
	}
	if q.MinVolume > 0 {
		params.Set("volume_num_min", strconv.FormatFloat(q.MinVolume, 'f', -1, 64))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}

	var raw []APIMarket
	if err := c.doGet(ctx, "/markets", params, &raw); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get markets: %w", err)
	}

	markets := make([]domain.MarketSnapshot, 0, len(raw))
	for i := range raw {
		markets = append(markets, raw[i].ToSnapshot())
	}
	return markets, nil
}

// GetAllActiveMarkets pages through every active market with at least the
// given volume. pageSize caps each request; 0 uses 100.
func (c *GammaClient) GetAllActiveMarkets(ctx context.Context, minVolume float64, pageSize int) ([]domain.MarketSnapshot, error) {
	if pageSize <= 0 {
		pageSize = 100
	}

	closed := false
	var all []domain.MarketSnapshot
	for offset := 0; ; offset += pageSize {
		page, err := c.GetMarkets(ctx, MarketQuery{
			Active:    true,
			Closed:    &closed,
			MinVolume: minVolume,
			Limit:     pageSize,
			Offset:    offset,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// GetMarket fetches a single market by its Gamma ID.
func (c *GammaClient) GetMarket(ctx context.Context, id string) (domain.MarketSnapshot, error) {
	var raw APIMarket
	if err := c.doGet(ctx, "/markets/"+url.PathEscape(id), nil, &raw); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}
	return raw.ToSnapshot(), nil
}

// GetMarketBySlug fetches a single market by its URL slug.
func (c *GammaClient) GetMarketBySlug(ctx context.Context, slug string) (domain.MarketSnapshot, error) {
	params := url.Values{}
	params.Set("slug", slug)

	var raw []APIMarket
	if err := c.doGet(ctx, "/markets", params, &raw); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("polymarket/gamma: get market by slug %s: %w", slug, err)
	}
	if len(raw) == 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("polymarket/gamma: slug %s: %w", slug, domain.ErrNotFound)
	}
	return raw[0].ToSnapshot(), nil
}

// doGet performs a GET request against the Gamma API and decodes the JSON
// response into out, retrying rate limits and server errors.
func (c *GammaClient) doGet(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return c.retry.retry(ctx, func() error {
		return c.getOnce(ctx, u, out)
	})
}

func (c *GammaClient) getOnce(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkHTTPStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkHTTPStatus maps API error statuses onto domain errors so callers can
// branch with errors.Is rather than parsing status codes.
func checkHTTPStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", errServerStatus, resp.StatusCode, body)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
}
