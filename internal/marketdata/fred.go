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

// DefaultFREDURL is the St. Louis Fed FRED API endpoint.
const DefaultFREDURL = "https://api.stlouisfed.org/fred"

// FREDClient reads Treasury constant-maturity yields from FRED. An API
// key is required; without one Rate returns ErrMissingAPIKey and the
// caller falls back to an explicit rate.
type FREDClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewFREDClient creates a client against baseURL, or the public
// endpoint when baseURL is empty.
func NewFREDClient(baseURL, apiKey string) *FREDClient {
	if baseURL == "" {
		baseURL = DefaultFREDURL
	}
	return &FREDClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Treasury series by maturity, shortest first.
var fredBuckets = []struct {
	days   int
	series string
}{
	{90, "DGS3MO"},
	{180, "DGS6MO"},
	{365, "DGS1"},
	{730, "DGS2"},
}

// seriesForTenor picks the Treasury series whose maturity is closest
// to the lockup horizon. Ties go to the shorter maturity.
func seriesForTenor(lockupDays int) string {
	best := fredBuckets[0]
	for _, b := range fredBuckets[1:] {
		if absDays(lockupDays-b.days) < absDays(lockupDays-best.days) {
			best = b
		}
	}
	return best.series
}

func absDays(d int) int {
	if d < 0 {
		return -d
	}
	return d
}

// Rate returns the most recent yield for the series nearest the lockup
// horizon, as a decimal. FRED publishes "." for days with no print
// (holidays, weekends), so the latest few observations are scanned for
// a real value.
func (c *FREDClient) Rate(ctx context.Context, lockupDays int) (float64, error) {
	if c.apiKey == "" {
		return 0, fmt.Errorf("%w: FRED_API_KEY", ErrMissingAPIKey)
	}
	series := seriesForTenor(lockupDays)

	q := url.Values{}
	q.Set("series_id", series)
	q.Set("api_key", c.apiKey)
	q.Set("file_type", "json")
	q.Set("sort_order", "desc")
	q.Set("limit", "10")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/series/observations?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues("fred", "error").Inc()
		return 0, fmt.Errorf("fred: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.ProviderRequests.WithLabelValues("fred", "error").Inc()
		return 0, fmt.Errorf("fred: %s: status %d", series, resp.StatusCode)
	}

	var out struct {
		Observations []struct {
			Date  string `json:"date"`
			Value string `json:"value"`
		} `json:"observations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.ProviderRequests.WithLabelValues("fred", "error").Inc()
		return 0, fmt.Errorf("fred: decode %s: %w", series, err)
	}
	metrics.ProviderRequests.WithLabelValues("fred", "ok").Inc()

	for _, obs := range out.Observations {
		if obs.Value == "." {
			continue
		}
		pct, err := strconv.ParseFloat(obs.Value, 64)
		if err != nil {
			continue
		}
		return pct / 100, nil
	}
	return 0, fmt.Errorf("%w: no usable %s observations", ErrNoData, series)
}
