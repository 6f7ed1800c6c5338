package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zxc3309/lockup-calculator/internal/metrics"
)

// DefaultCoinGeckoURL is the public (keyless) CoinGecko API endpoint.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// CoinGeckoClient reads spot prices and daily history from CoinGecko.
// The free tier needs no key; rate limits are handled by the cache
// layer above, not here.
type CoinGeckoClient struct {
	baseURL string
	http    *http.Client
}

// NewCoinGeckoClient creates a client against baseURL, or the public
// endpoint when baseURL is empty.
func NewCoinGeckoClient(baseURL string) *CoinGeckoClient {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	return &CoinGeckoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *CoinGeckoClient) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues("coingecko", "error").Inc()
		return fmt.Errorf("coingecko: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.ProviderRequests.WithLabelValues("coingecko", "error").Inc()
		return fmt.Errorf("coingecko: %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.ProviderRequests.WithLabelValues("coingecko", "error").Inc()
		return fmt.Errorf("coingecko: decode %s: %w", path, err)
	}

	metrics.ProviderRequests.WithLabelValues("coingecko", "ok").Inc()
	return nil
}

// SpotPrice returns the current USD price for a CoinGecko coin ID.
func (c *CoinGeckoClient) SpotPrice(ctx context.Context, coinID string) (float64, error) {
	q := url.Values{}
	q.Set("ids", coinID)
	q.Set("vs_currencies", "usd")

	var out map[string]map[string]float64
	if err := c.get(ctx, "/simple/price", q, &out); err != nil {
		return 0, err
	}
	price := out[coinID]["usd"]
	if price <= 0 {
		return 0, fmt.Errorf("%w: no usd quote for %s", ErrNoData, coinID)
	}
	return price, nil
}

// PriceHistory returns daily USD closes for the trailing number of
// days, oldest first. Zero or negative points are dropped so the log
// return math downstream stays defined.
func (c *CoinGeckoClient) PriceHistory(ctx context.Context, coinID string, days int) ([]float64, error) {
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("days", strconv.Itoa(days))
	q.Set("interval", "daily")

	var out struct {
		Prices [][2]float64 `json:"prices"`
	}
	if err := c.get(ctx, "/coins/"+url.PathEscape(coinID)+"/market_chart", q, &out); err != nil {
		return nil, err
	}
	if len(out.Prices) == 0 {
		return nil, fmt.Errorf("%w: no price history for %s", ErrNoData, coinID)
	}

	prices := make([]float64, 0, len(out.Prices))
	for _, point := range out.Prices {
		if point[1] > 0 {
			prices = append(prices, point[1])
		}
	}
	return prices, nil
}
