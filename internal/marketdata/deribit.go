package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zxc3309/lockup-calculator/internal/metrics"
	"github.com/zxc3309/lockup-calculator/internal/model"
)

// DefaultDeribitURL is the public Deribit JSON-RPC-over-HTTP endpoint.
const DefaultDeribitURL = "https://www.deribit.com/api/v2"

// DeribitClient reads public option data from Deribit. No
// authentication is needed for the endpoints used here.
type DeribitClient struct {
	baseURL string
	http    *http.Client
}

// NewDeribitClient creates a client against baseURL, or the public
// endpoint when baseURL is empty.
func NewDeribitClient(baseURL string) *DeribitClient {
	if baseURL == "" {
		baseURL = DefaultDeribitURL
	}
	return &DeribitClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type deribitError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// get performs a GET against a public endpoint and decodes the result
// field of the JSON-RPC envelope into out. Deribit reports failures as
// an error object, usually alongside a non-200 status.
func (c *DeribitClient) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues("deribit", "error").Inc()
		return fmt.Errorf("deribit: %s: %w", path, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *deribitError   `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		metrics.ProviderRequests.WithLabelValues("deribit", "error").Inc()
		return fmt.Errorf("deribit: decode %s: %w", path, err)
	}
	if envelope.Error != nil {
		metrics.ProviderRequests.WithLabelValues("deribit", "error").Inc()
		return fmt.Errorf("deribit: %s: %s (code %d)", path, envelope.Error.Message, envelope.Error.Code)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.ProviderRequests.WithLabelValues("deribit", "error").Inc()
		return fmt.Errorf("deribit: %s: status %d", path, resp.StatusCode)
	}

	metrics.ProviderRequests.WithLabelValues("deribit", "ok").Inc()
	return json.Unmarshal(envelope.Result, out)
}

type deribitInstrument struct {
	InstrumentName      string `json:"instrument_name"`
	ExpirationTimestamp int64  `json:"expiration_timestamp"`
}

// Expiries returns the distinct expiries of all live option
// instruments for a currency, ascending.
func (c *DeribitClient) Expiries(ctx context.Context, currency string) ([]time.Time, error) {
	q := url.Values{}
	q.Set("currency", currency)
	q.Set("kind", "option")
	q.Set("expired", "false")

	var instruments []deribitInstrument
	if err := c.get(ctx, "/public/get_instruments", q, &instruments); err != nil {
		return nil, err
	}
	if len(instruments) == 0 {
		return nil, fmt.Errorf("%w: no listed %s options", ErrNoData, currency)
	}

	seen := make(map[int64]struct{}, len(instruments))
	var expiries []time.Time
	for _, inst := range instruments {
		if _, ok := seen[inst.ExpirationTimestamp]; ok {
			continue
		}
		seen[inst.ExpirationTimestamp] = struct{}{}
		expiries = append(expiries, time.UnixMilli(inst.ExpirationTimestamp).UTC())
	}
	sort.Slice(expiries, func(i, j int) bool { return expiries[i].Before(expiries[j]) })
	return expiries, nil
}

type deribitBookSummary struct {
	InstrumentName  string   `json:"instrument_name"`
	MarkPrice       float64  `json:"mark_price"`
	UnderlyingPrice float64  `json:"underlying_price"`
	BidPrice        *float64 `json:"bid_price"`
	AskPrice        *float64 `json:"ask_price"`
	MarkIV          float64  `json:"mark_iv"`
}

// OptionChain returns the contracts expiring on the given date, call
// and put legs paired by strike. Deribit quotes inverse options in
// coin terms, so USD prices are mark_price * underlying_price. Strikes
// missing either leg or carrying a zero mark are dropped.
func (c *DeribitClient) OptionChain(ctx context.Context, currency string, expiry time.Time) ([]model.OptionContract, error) {
	q := url.Values{}
	q.Set("currency", currency)
	q.Set("kind", "option")

	var summaries []deribitBookSummary
	if err := c.get(ctx, "/public/get_book_summary_by_currency", q, &summaries); err != nil {
		return nil, err
	}

	type legs struct {
		call, put *deribitBookSummary
		expiry    time.Time
	}
	day := expiry.UTC().Truncate(24 * time.Hour)
	byStrike := make(map[float64]*legs)

	for i := range summaries {
		s := &summaries[i]
		inst, err := parseInstrument(s.InstrumentName)
		if err != nil {
			slog.Debug("skipping unparsable instrument", "name", s.InstrumentName, "error", err)
			continue
		}
		if !inst.expiry.Truncate(24 * time.Hour).Equal(day) {
			continue
		}
		l, ok := byStrike[inst.strike]
		if !ok {
			l = &legs{expiry: inst.expiry}
			byStrike[inst.strike] = l
		}
		if inst.isCall {
			l.call = s
		} else {
			l.put = s
		}
	}

	var contracts []model.OptionContract
	for strike, l := range byStrike {
		if l.call == nil || l.put == nil {
			continue
		}
		callUSD := l.call.MarkPrice * l.call.UnderlyingPrice
		putUSD := l.put.MarkPrice * l.put.UnderlyingPrice
		if callUSD <= 0 || putUSD <= 0 {
			continue
		}

		contract := model.OptionContract{
			Strike:     strike,
			CallPrice:  callUSD,
			PutPrice:   putUSD,
			ImpliedVol: (l.call.MarkIV + l.put.MarkIV) / 2,
			Expiry:     l.expiry,
		}
		if l.call.BidPrice != nil {
			contract.CallBid = *l.call.BidPrice * l.call.UnderlyingPrice
		}
		if l.call.AskPrice != nil {
			contract.CallAsk = *l.call.AskPrice * l.call.UnderlyingPrice
		}
		if l.put.BidPrice != nil {
			contract.PutBid = *l.put.BidPrice * l.put.UnderlyingPrice
		}
		if l.put.AskPrice != nil {
			contract.PutAsk = *l.put.AskPrice * l.put.UnderlyingPrice
		}
		contracts = append(contracts, contract)
	}
	if len(contracts) == 0 {
		return nil, fmt.Errorf("%w: no quotable %s contracts expiring %s",
			ErrNoData, currency, expiry.UTC().Format("2006-01-02"))
	}

	sort.Slice(contracts, func(i, j int) bool { return contracts[i].Strike < contracts[j].Strike })
	return contracts, nil
}

// IndexPrice returns the Deribit USD index for a currency.
func (c *DeribitClient) IndexPrice(ctx context.Context, currency string) (float64, error) {
	q := url.Values{}
	q.Set("index_name", strings.ToLower(currency)+"_usd")

	var out struct {
		IndexPrice float64 `json:"index_price"`
	}
	if err := c.get(ctx, "/public/get_index_price", q, &out); err != nil {
		return 0, err
	}
	if out.IndexPrice <= 0 {
		return 0, fmt.Errorf("%w: empty %s index", ErrNoData, currency)
	}
	return out.IndexPrice, nil
}

// Option instrument names look like BTC-26SEP25-100000-C. The month is
// matched by table because time.Parse is case-sensitive about month
// abbreviations and Deribit uppercases them.
var instrumentPattern = regexp.MustCompile(`^([A-Z]+)-(\d{1,2})([A-Z]{3})(\d{2})-(\d+(?:\.\d+)?)-([CP])$`)

var deribitMonths = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

type instrument struct {
	currency string
	expiry   time.Time
	strike   float64
	isCall   bool
}

// parseInstrument splits a Deribit option name into its parts. Expiries
// settle at 08:00 UTC.
func parseInstrument(name string) (instrument, error) {
	m := instrumentPattern.FindStringSubmatch(name)
	if m == nil {
		return instrument{}, fmt.Errorf("deribit: unrecognized instrument %q", name)
	}
	day, _ := strconv.Atoi(m[2])
	month, ok := deribitMonths[m[3]]
	if !ok {
		return instrument{}, fmt.Errorf("deribit: unrecognized month in %q", name)
	}
	year, _ := strconv.Atoi(m[4])
	strike, err := strconv.ParseFloat(m[5], 64)
	if err != nil {
		return instrument{}, fmt.Errorf("deribit: bad strike in %q: %w", name, err)
	}
	return instrument{
		currency: m[1],
		expiry:   time.Date(2000+year, month, day, 8, 0, 0, 0, time.UTC),
		strike:   strike,
		isCall:   m[6] == "C",
	}, nil
}
