package calc_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zxc3309/lockup-calculator/internal/calc"
	"github.com/zxc3309/lockup-calculator/internal/discount"
	"github.com/zxc3309/lockup-calculator/internal/model"
)

// stubSource serves canned market data. Chains are keyed by symbol and
// expiry date so tests can shape each leg independently.
type stubSource struct {
	spot        map[string]float64
	spotErr     error
	expiries    map[string][]time.Time
	expiriesErr error
	chains      map[string][]model.OptionContract
	chainErr    error
	history     map[string][]float64
	historyErr  error
	rate        float64
	rateErr     error
	rateCalls   int
}

func chainKey(symbol string, expiry time.Time) string {
	return symbol + "@" + expiry.UTC().Format("2006-01-02")
}

func (s *stubSource) SpotPrice(_ context.Context, symbol string) (float64, error) {
	if s.spotErr != nil {
		return 0, s.spotErr
	}
	return s.spot[symbol], nil
}

func (s *stubSource) Expiries(_ context.Context, symbol string) ([]time.Time, error) {
	if s.expiriesErr != nil {
		return nil, s.expiriesErr
	}
	return s.expiries[symbol], nil
}

func (s *stubSource) OptionChain(_ context.Context, symbol string, expiry time.Time) ([]model.OptionContract, error) {
	if s.chainErr != nil {
		return nil, s.chainErr
	}
	return s.chains[chainKey(symbol, expiry)], nil
}

func (s *stubSource) PriceHistory(_ context.Context, symbol string, _ int) ([]float64, error) {
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	return s.history[symbol], nil
}

func (s *stubSource) RiskFreeRate(_ context.Context, _ int) (float64, error) {
	s.rateCalls++
	if s.rateErr != nil {
		return 0, s.rateErr
	}
	return s.rate, nil
}

// chainAt builds a minimal option chain at the given strikes.
func chainAt(expiry time.Time, ivPct float64, strikes ...float64) []model.OptionContract {
	out := make([]model.OptionContract, 0, len(strikes))
	for _, k := range strikes {
		out = append(out, model.OptionContract{
			Strike:     k,
			CallPrice:  k * 0.10,
			PutPrice:   k * 0.08,
			ImpliedVol: ivPct,
			Expiry:     expiry,
		})
	}
	return out
}

// priceSeries builds a daily close path from log returns.
func priceSeries(start float64, returns []float64) []float64 {
	prices := make([]float64, 0, len(returns)+1)
	prices = append(prices, start)
	p := start
	for _, r := range returns {
		p *= math.Exp(r)
		prices = append(prices, p)
	}
	return prices
}

// newStubSource builds the baseline fixture: BTC listed at two expiries
// with a shared strike grid, ARB chainless but with price history that
// moves at twice BTC's amplitude.
func newStubSource() *stubSource {
	now := time.Now().UTC()
	shortExpiry := now.AddDate(0, 0, 120)
	longExpiry := now.AddDate(0, 0, 240)

	refReturns := make([]float64, 40)
	tokenReturns := make([]float64, 40)
	for i := range refReturns {
		r := 0.015
		if i%2 == 1 {
			r = -0.015
		}
		refReturns[i] = r
		tokenReturns[i] = 2 * r
	}

	return &stubSource{
		spot: map[string]float64{"BTC": 114770, "ARB": 1.2},
		expiries: map[string][]time.Time{
			"BTC": {shortExpiry, longExpiry},
		},
		chains: map[string][]model.OptionContract{
			chainKey("BTC", shortExpiry): chainAt(shortExpiry, 47, 110000, 115000, 120000),
			chainKey("BTC", longExpiry):  chainAt(longExpiry, 47, 110000, 115000, 120000),
		},
		history: map[string][]float64{
			"BTC": priceSeries(114770, refReturns),
			"ARB": priceSeries(1.2, tokenReturns),
		},
		rate: 0.04,
	}
}

// newTestEnv wires a Service over the stub source behind a chi router.
func newTestEnv(src *stubSource) chi.Router {
	svc := calc.NewService(src, discount.NewEngine(0), nil, nil)

	r := chi.NewRouter()
	r.Get("/api/v1/tokens", svc.ListTokens)
	r.Get("/api/v1/expiries", svc.ListExpiries)
	r.Get("/api/v1/discount", svc.ComputeDiscount)
	r.Get("/api/v1/valuation", svc.ComputeValuation)
	return r
}

func doGet(t *testing.T, router chi.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- Discount tests ---

func TestComputeDiscount_DualExpiry(t *testing.T) {
	router := newTestEnv(newStubSource())

	w := doGet(t, router, "/api/v1/discount?token=BTC&days=180&rate=0.02")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp calc.CalculationResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.ID == "" {
		t.Error("expected non-empty id")
	}
	if resp.Mode != calc.ModeDualExpiry {
		t.Errorf("mode = %q, want %q", resp.Mode, calc.ModeDualExpiry)
	}
	if resp.Token != "BTC" || resp.LockupDays != 180 || resp.RiskFreeRate != 0.02 {
		t.Errorf("request echo mismatch: %+v", resp)
	}
	if resp.SpotPrice != 114770 {
		t.Errorf("spot = %g, want 114770", resp.SpotPrice)
	}

	c := resp.Calculation
	if c == nil {
		t.Fatal("calculation missing from response")
	}
	if c.SingleExpiry {
		t.Error("dual-expiry result marked single_expiry")
	}
	if c.TotalContractsUsed != 3 {
		t.Errorf("contracts used = %d, want 3", c.TotalContractsUsed)
	}
	// Flat 47% vol on both legs interpolates to exactly 47%.
	if math.Abs(c.ExtrapolatedVolPct-47) > 1e-9 {
		t.Errorf("extrapolated vol = %g%%, want 47%%", c.ExtrapolatedVolPct)
	}
	if c.CallDiscountPct <= 5 || c.CallDiscountPct >= 30 {
		t.Errorf("call discount = %g%%, outside plausible range", c.CallDiscountPct)
	}
	if want := c.CallDiscountPct * 365 / 180; math.Abs(c.AnnualizedRatePct-want) > 1e-9 {
		t.Errorf("annualized = %g, want %g", c.AnnualizedRatePct, want)
	}
	if want := 114770 - c.TheoreticalCallPrice; math.Abs(c.FairValue-want) > 1e-6 {
		t.Errorf("fair value = %g, want %g", c.FairValue, want)
	}
	// Nearest strike to spot leads the per-strike rows.
	if c.PerStrikeResults[0].Strike != 115000 {
		t.Errorf("lead strike = %g, want 115000", c.PerStrikeResults[0].Strike)
	}
	for _, row := range c.PerStrikeResults {
		if row.Strategy != model.StrategyInterpolation {
			t.Errorf("strike %g: strategy = %s, want INTERPOLATION", row.Strike, row.Strategy)
		}
	}
}

func TestComputeDiscount_StrikesOverride(t *testing.T) {
	router := newTestEnv(newStubSource())

	w := doGet(t, router, "/api/v1/discount?token=BTC&days=180&rate=0.02&strikes=2")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp calc.CalculationResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Calculation.TotalContractsUsed != 2 {
		t.Errorf("contracts used = %d, want 2", resp.Calculation.TotalContractsUsed)
	}
}

func TestComputeDiscount_TreasuryRateWhenUnspecified(t *testing.T) {
	src := newStubSource()
	router := newTestEnv(src)

	w := doGet(t, router, "/api/v1/discount?token=BTC&days=180")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp calc.CalculationResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.RiskFreeRate != 0.04 {
		t.Errorf("rate = %g, want treasury 0.04", resp.RiskFreeRate)
	}
	if src.rateCalls != 1 {
		t.Errorf("treasury lookups = %d, want 1", src.rateCalls)
	}
}

func TestComputeDiscount_ExplicitRateSkipsTreasury(t *testing.T) {
	src := newStubSource()
	router := newTestEnv(src)

	w := doGet(t, router, "/api/v1/discount?token=BTC&days=180&rate=0.03")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp calc.CalculationResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.RiskFreeRate != 0.03 {
		t.Errorf("rate = %g, want explicit 0.03", resp.RiskFreeRate)
	}
	if src.rateCalls != 0 {
		t.Errorf("treasury consulted %d times despite explicit rate", src.rateCalls)
	}
}

func TestComputeDiscount_FallsBackToSingleExpiry(t *testing.T) {
	src := newStubSource()
	// Re-grid the long leg so the legs share no strikes: dual-expiry
	// matching fails and the service retries on the nearest single chain.
	longExpiry := src.expiries["BTC"][1]
	src.chains[chainKey("BTC", longExpiry)] = chainAt(longExpiry, 47, 111111, 122222)
	router := newTestEnv(src)

	w := doGet(t, router, "/api/v1/discount?token=BTC&days=200&rate=0.02")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp calc.CalculationResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Mode != calc.ModeSingleExpiry {
		t.Errorf("mode = %q, want %q", resp.Mode, calc.ModeSingleExpiry)
	}
	if !resp.Calculation.SingleExpiry {
		t.Error("single-expiry result not flagged")
	}
	// 200 days lands nearer the 240-day expiry than the 120-day one.
	if got := resp.Calculation.PerStrikeResults[0].Strike; got != 111111 {
		t.Errorf("lead strike = %g, want 111111 from the long chain", got)
	}
}

func TestComputeDiscount_BetaDerived(t *testing.T) {
	router := newTestEnv(newStubSource())

	w := doGet(t, router, "/api/v1/discount?token=ARB&days=365&rate=0.02")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp calc.CalculationResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Mode != calc.ModeBetaDerived {
		t.Errorf("mode = %q, want %q", resp.Mode, calc.ModeBetaDerived)
	}
	if resp.Beta == nil {
		t.Fatal("beta evidence missing from response")
	}
	// ARB's fixture returns are exactly 2x BTC's: ratio 2, and BTC's flat
	// 47% surface extrapolated to 1y stays 47%, so derived IV is 94%.
	if math.Abs(resp.Beta.VolRatio-2) > 1e-9 {
		t.Errorf("vol ratio = %g, want 2", resp.Beta.VolRatio)
	}
	if math.Abs(resp.Beta.IVPct-94) > 1e-6 {
		t.Errorf("derived IV = %g%%, want 94%%", resp.Beta.IVPct)
	}
	if !resp.Calculation.SingleExpiry {
		t.Error("beta-derived result should ride the single-expiry path")
	}
	if n := len(resp.Calculation.PerStrikeResults); n != 1 {
		t.Fatalf("per-strike rows = %d, want 1 synthetic contract", n)
	}
	if got := resp.Calculation.PerStrikeResults[0].Strike; got != 1.2 {
		t.Errorf("synthetic strike = %g, want spot 1.2", got)
	}
}

func TestComputeDiscount_AllPathsFail(t *testing.T) {
	src := newStubSource()
	src.expiriesErr = errors.New("venue down")
	router := newTestEnv(src)

	w := doGet(t, router, "/api/v1/discount?token=BTC&days=365&rate=0.02")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["error"] == "" {
		t.Error("expected error detail in body")
	}
}

func TestComputeDiscount_SpotUnavailable(t *testing.T) {
	src := newStubSource()
	src.spotErr = errors.New("all providers down")
	router := newTestEnv(src)

	w := doGet(t, router, "/api/v1/discount?token=BTC&days=365&rate=0.02")
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
}

func TestComputeDiscount_RateUnavailable(t *testing.T) {
	src := newStubSource()
	src.rateErr = errors.New("missing API key")
	router := newTestEnv(src)

	w := doGet(t, router, "/api/v1/discount?token=BTC&days=365")
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestComputeDiscount_BadInputs(t *testing.T) {
	router := newTestEnv(newStubSource())

	tests := []struct {
		name string
		path string
	}{
		{"unknown token", "/api/v1/discount?token=XYZ&days=365"},
		{"missing token", "/api/v1/discount?days=365"},
		{"missing days", "/api/v1/discount?token=BTC"},
		{"zero days", "/api/v1/discount?token=BTC&days=0"},
		{"negative days", "/api/v1/discount?token=BTC&days=-30"},
		{"non-numeric days", "/api/v1/discount?token=BTC&days=soon"},
		{"rate above 1", "/api/v1/discount?token=BTC&days=365&rate=2"},
		{"negative rate", "/api/v1/discount?token=BTC&days=365&rate=-0.01"},
		{"zero strikes", "/api/v1/discount?token=BTC&days=365&strikes=0"},
		{"non-numeric strikes", "/api/v1/discount?token=BTC&days=365&strikes=few"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := doGet(t, router, tt.path); w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

// --- Valuation tests ---

func TestComputeValuation(t *testing.T) {
	router := newTestEnv(newStubSource())

	w := doGet(t, router, "/api/v1/valuation?token=BTC&amount=2&days=180&rate=0.02")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp calc.ValuationResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if got := resp.MarketValue.InexactFloat64(); got != 229540 {
		t.Errorf("market value = %g, want 229540", got)
	}
	if resp.Discount == nil || resp.Discount.Mode != calc.ModeDualExpiry {
		t.Errorf("embedded discount missing or wrong mode: %+v", resp.Discount)
	}
	// fair + cost = market, cents-rounded.
	sum := resp.FairValue.Add(resp.LockupCost)
	if !sum.Equal(resp.MarketValue) {
		t.Errorf("fair %s + cost %s != market %s", resp.FairValue, resp.LockupCost, resp.MarketValue)
	}
	if resp.LockupCost.IsNegative() {
		t.Errorf("lockup cost negative: %s", resp.LockupCost)
	}
}

func TestComputeValuation_BadAmount(t *testing.T) {
	router := newTestEnv(newStubSource())

	for _, path := range []string{
		"/api/v1/valuation?token=BTC&days=180&rate=0.02",
		"/api/v1/valuation?token=BTC&amount=lots&days=180&rate=0.02",
		"/api/v1/valuation?token=BTC&amount=0&days=180&rate=0.02",
		"/api/v1/valuation?token=BTC&amount=-3&days=180&rate=0.02",
	} {
		if w := doGet(t, router, path); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, w.Code)
		}
	}
}

// --- Listing tests ---

func TestListTokens(t *testing.T) {
	router := newTestEnv(newStubSource())

	w := doGet(t, router, "/api/v1/tokens")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Tokens []struct {
			Symbol   string `json:"symbol"`
			HasChain bool   `json:"has_option_chain"`
		} `json:"tokens"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)

	if len(resp.Tokens) == 0 {
		t.Fatal("no tokens listed")
	}
	byName := make(map[string]bool)
	for _, tok := range resp.Tokens {
		byName[tok.Symbol] = tok.HasChain
	}
	if !byName["BTC"] {
		t.Error("BTC should advertise a listed chain")
	}
	if chain, ok := byName["ARB"]; !ok || chain {
		t.Error("ARB should be listed without a chain")
	}
}

func TestListExpiries(t *testing.T) {
	src := newStubSource()
	router := newTestEnv(src)

	w := doGet(t, router, "/api/v1/expiries?token=BTC")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp calc.ExpiriesResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Expiries) != 2 {
		t.Fatalf("expiries = %v, want 2 dates", resp.Expiries)
	}
	want := src.expiries["BTC"][0].UTC().Format("2006-01-02")
	if resp.Expiries[0] != want {
		t.Errorf("first expiry = %s, want %s", resp.Expiries[0], want)
	}
}

func TestListExpiries_NoVenue(t *testing.T) {
	router := newTestEnv(newStubSource())

	if w := doGet(t, router, "/api/v1/expiries?token=ARB"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for chainless token, got %d", w.Code)
	}
	if w := doGet(t, router, "/api/v1/expiries?token=NOPE"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown token, got %d", w.Code)
	}
}

func TestListExpiries_VenueDown(t *testing.T) {
	src := newStubSource()
	src.expiriesErr = errors.New("venue down")
	router := newTestEnv(src)

	if w := doGet(t, router, "/api/v1/expiries?token=BTC"); w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}
