// Package calc provides the HTTP handlers and orchestration for lockup
// discount calculations: resolving market data, choosing the pricing
// path, and shaping API responses.
//
// The pricing ladder per request: dual-expiry first; when two usable
// expiry legs cannot be obtained, single-expiry on the chain nearest
// the unlock date; for tokens with no listed options at all,
// beta-derived vol from the reference asset's surface. A request fails
// only when every rung fails — the service never invents a number.
package calc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zxc3309/lockup-calculator/internal/beta"
	"github.com/zxc3309/lockup-calculator/internal/discount"
	"github.com/zxc3309/lockup-calculator/internal/marketdata"
	"github.com/zxc3309/lockup-calculator/internal/metrics"
	"github.com/zxc3309/lockup-calculator/internal/model"
	"github.com/zxc3309/lockup-calculator/internal/valuation"
)

// Pricing modes reported in responses and broadcasts.
const (
	ModeDualExpiry   = "dual_expiry"
	ModeSingleExpiry = "single_expiry"
	ModeBetaDerived  = "beta_derived"
)

// ReferenceSymbol is the asset whose option surface anchors beta-derived
// vols for tokens without a listed chain.
const ReferenceSymbol = "BTC"

// HistoryDays is how much daily price history feeds the beta estimate.
const HistoryDays = 90

// MaxStrikeCount bounds the per-request strike override.
const MaxStrikeCount = 50

// Service handles calculation requests. It is stateless apart from its
// wiring — market data comes from the injected Source per request — so
// a single Service serves concurrent requests without locking.
type Service struct {
	source marketdata.Source
	engine *discount.Engine
	tokens []marketdata.Token
	bySym  map[string]marketdata.Token
	wsHub  *WSHub // optional WebSocket hub for completed-calculation broadcasts
}

// NewService creates a calculation service over the given market data
// source and engine. An empty token list selects the default set.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(source marketdata.Source, engine *discount.Engine, tokens []marketdata.Token, hub *WSHub) *Service {
	if len(tokens) == 0 {
		tokens = marketdata.DefaultTokens()
	}
	bySym := make(map[string]marketdata.Token, len(tokens))
	for _, t := range tokens {
		bySym[t.Symbol] = t
	}
	return &Service{
		source: source,
		engine: engine,
		tokens: tokens,
		bySym:  bySym,
		wsHub:  hub,
	}
}

// --- Response types ---

// CalculationResponse is the JSON body returned from GET /api/v1/discount.
type CalculationResponse struct {
	ID           string                     `json:"id"`
	Token        string                     `json:"token"`
	LockupDays   int                        `json:"lockup_days"`
	RiskFreeRate float64                    `json:"risk_free_rate"`
	SpotPrice    float64                    `json:"spot_price"`
	Mode         string                     `json:"mode"`
	Calculation  *model.DiscountCalculation `json:"calculation"`
	Beta         *beta.Derivation           `json:"beta,omitempty"`
	ComputedAt   time.Time                  `json:"computed_at"`
}

// ValuationResponse is the JSON body returned from GET /api/v1/valuation.
type ValuationResponse struct {
	valuation.Position
	Discount *CalculationResponse `json:"discount"`
}

// ExpiriesResponse is the JSON body returned from GET /api/v1/expiries.
type ExpiriesResponse struct {
	Token    string   `json:"token"`
	Expiries []string `json:"expiries"`
}

// --- HTTP Handlers ---

// ListTokens handles GET /api/v1/tokens
func (s *Service) ListTokens(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]marketdata.Token{"tokens": s.tokens})
}

// ListExpiries handles GET /api/v1/expiries?token=BTC
func (s *Service) ListExpiries(w http.ResponseWriter, r *http.Request) {
	token, err := s.lookupToken(r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !token.HasChain {
		writeError(w, fmt.Sprintf("%s has no listed options", token.Symbol), http.StatusBadRequest)
		return
	}

	expiries, err := s.source.Expiries(r.Context(), token.Symbol)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}

	dates := make([]string, 0, len(expiries))
	for _, e := range expiries {
		dates = append(dates, e.UTC().Format("2006-01-02"))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ExpiriesResponse{Token: token.Symbol, Expiries: dates})
}

// ComputeDiscount handles GET /api/v1/discount?token=BTC&days=365[&rate=0.02][&strikes=5]
func (s *Service) ComputeDiscount(w http.ResponseWriter, r *http.Request) {
	resp, status, err := s.calculate(r)
	if err != nil {
		writeError(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ComputeValuation handles GET /api/v1/valuation?token=BTC&amount=12.5&days=365[&rate=]
func (s *Service) ComputeValuation(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, "amount must be a decimal number", http.StatusBadRequest)
		return
	}

	resp, status, err := s.calculate(r)
	if err != nil {
		writeError(w, err.Error(), status)
		return
	}

	pos, err := valuation.Value(resp.Token, amount, resp.SpotPrice, resp.Calculation.FairValue)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ValuationResponse{Position: pos, Discount: resp})
}

// calculate runs one full discount calculation from request parameters:
// validation, rate and spot resolution, the pricing ladder, metrics,
// and the WebSocket broadcast. Returns the HTTP status to use on error.
func (s *Service) calculate(r *http.Request) (*CalculationResponse, int, error) {
	q := r.URL.Query()
	ctx := r.Context()

	token, err := s.lookupToken(q.Get("token"))
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	lockupDays, err := parseDays(q.Get("days"))
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	eng, err := s.engineFor(q.Get("strikes"))
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	rate, status, err := s.resolveRate(ctx, q.Get("rate"), lockupDays)
	if err != nil {
		return nil, status, err
	}

	spot, err := s.source.SpotPrice(ctx, token.Symbol)
	if err != nil {
		return nil, http.StatusBadGateway, fmt.Errorf("spot price for %s: %w", token.Symbol, err)
	}

	start := time.Now()
	result, err := s.price(ctx, token, spot, lockupDays, rate, eng)
	if err != nil {
		metrics.CalculationsTotal.WithLabelValues(token.Symbol, primaryMode(token), "error").Inc()
		return nil, http.StatusUnprocessableEntity,
			fmt.Errorf("no discount rate for %s over %d days: %w", token.Symbol, lockupDays, err)
	}
	metrics.CalculationsTotal.WithLabelValues(token.Symbol, result.mode, "ok").Inc()
	metrics.CalculationDuration.WithLabelValues(result.mode).Observe(time.Since(start).Seconds())

	resp := &CalculationResponse{
		ID:           uuid.New().String(),
		Token:        token.Symbol,
		LockupDays:   lockupDays,
		RiskFreeRate: rate,
		SpotPrice:    spot,
		Mode:         result.mode,
		Calculation:  result.calc,
		Beta:         result.beta,
		ComputedAt:   time.Now().UTC(),
	}

	slog.Info("discount computed",
		"token", token.Symbol,
		"mode", result.mode,
		"lockup_days", lockupDays,
		"call_discount_pct", result.calc.CallDiscountPct,
		"annualized_rate_pct", result.calc.AnnualizedRatePct,
		"contracts", result.calc.TotalContractsUsed,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:              "discount_computed",
			Token:             token.Symbol,
			Mode:              result.mode,
			LockupDays:        lockupDays,
			CallDiscountPct:   result.calc.CallDiscountPct,
			PutDiscountPct:    result.calc.PutDiscountPct,
			AnnualizedRatePct: result.calc.AnnualizedRatePct,
			FairValue:         result.calc.FairValue,
		})
	}

	return resp, 0, nil
}

// --- Pricing ladder ---

// priced is one rung's outcome: the calculation, the mode that produced
// it, and the beta evidence when the vol was derived.
type priced struct {
	calc *model.DiscountCalculation
	mode string
	beta *beta.Derivation
}

// price walks the ladder for one token. Chain-listed tokens try
// dual-expiry then single-expiry; chainless tokens go straight to the
// beta derivation. Failures are joined so the caller sees every rung.
func (s *Service) price(ctx context.Context, token marketdata.Token, spot float64, lockupDays int, rate float64, eng *discount.Engine) (priced, error) {
	if !token.HasChain {
		return s.priceBetaDerived(ctx, token, spot, lockupDays, rate, eng)
	}

	calc, dualErr := s.priceDualExpiry(ctx, token.Symbol, spot, lockupDays, rate, eng)
	if dualErr == nil {
		return priced{calc: calc, mode: ModeDualExpiry}, nil
	}
	slog.Warn("dual-expiry pricing failed, falling back to single expiry",
		"token", token.Symbol, "error", dualErr)

	calc, singleErr := s.priceSingleExpiry(ctx, token.Symbol, spot, lockupDays, rate, eng)
	if singleErr == nil {
		return priced{calc: calc, mode: ModeSingleExpiry}, nil
	}

	return priced{}, errors.Join(
		fmt.Errorf("dual-expiry: %w", dualErr),
		fmt.Errorf("single-expiry: %w", singleErr),
	)
}

// priceDualExpiry assembles DualExpiryData from live chains and runs
// the dual-expiry engine: select the anchoring expiry pair for the
// unlock date, fetch both legs, and price.
func (s *Service) priceDualExpiry(ctx context.Context, symbol string, spot float64, lockupDays int, rate float64, eng *discount.Engine) (*model.DiscountCalculation, error) {
	expiries, err := s.source.Expiries(ctx, symbol)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	pair, err := discount.SelectExpiryPair(expiries, now.AddDate(0, 0, lockupDays))
	if err != nil {
		return nil, err
	}

	shortLeg, err := s.fetchLeg(ctx, symbol, pair.ShortExpiry, now)
	if err != nil {
		return nil, err
	}
	longLeg, err := s.fetchLeg(ctx, symbol, pair.LongExpiry, now)
	if err != nil {
		return nil, err
	}

	data := model.DualExpiryData{
		ShortTerm:               shortLeg,
		LongTerm:                longLeg,
		Strategy:                pair.Strategy,
		TargetTimeToExpiryYears: float64(lockupDays) / discount.DaysPerYear,
	}
	return eng.ComputeDualExpiry(data, spot, lockupDays, rate)
}

// priceSingleExpiry prices off the one chain nearest the unlock date —
// the degraded path when dual legs cannot be matched.
func (s *Service) priceSingleExpiry(ctx context.Context, symbol string, spot float64, lockupDays int, rate float64, eng *discount.Engine) (*model.DiscountCalculation, error) {
	expiries, err := s.source.Expiries(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(expiries) == 0 {
		return nil, fmt.Errorf("no listed expiries for %s", symbol)
	}

	target := time.Now().UTC().AddDate(0, 0, lockupDays)
	contracts, err := s.source.OptionChain(ctx, symbol, nearestExpiry(expiries, target))
	if err != nil {
		return nil, err
	}
	return eng.ComputeSingleExpiry(contracts, spot, lockupDays, rate)
}

// priceBetaDerived prices a token with no listed options: borrow the
// reference asset's extrapolated vol at the same tenor, rescale it by
// the realized vol ratio, and push one synthetic at-the-money contract
// through the single-expiry path. Its theoretical prices come from the
// engine's own pricer so the liquidity weigher sees a positive premium.
func (s *Service) priceBetaDerived(ctx context.Context, token marketdata.Token, spot float64, lockupDays int, rate float64, eng *discount.Engine) (priced, error) {
	ref, ok := s.bySym[ReferenceSymbol]
	if !ok || !ref.HasChain {
		return priced{}, fmt.Errorf("reference asset %s not available", ReferenceSymbol)
	}

	refSpot, err := s.source.SpotPrice(ctx, ref.Symbol)
	if err != nil {
		return priced{}, fmt.Errorf("reference spot: %w", err)
	}
	refResult, err := s.price(ctx, ref, refSpot, lockupDays, rate, eng)
	if err != nil {
		return priced{}, fmt.Errorf("reference vol: %w", err)
	}

	tokenHist, err := s.source.PriceHistory(ctx, token.Symbol, HistoryDays)
	if err != nil {
		return priced{}, fmt.Errorf("%s history: %w", token.Symbol, err)
	}
	refHist, err := s.source.PriceHistory(ctx, ref.Symbol, HistoryDays)
	if err != nil {
		return priced{}, fmt.Errorf("%s history: %w", ref.Symbol, err)
	}

	der, err := beta.DeriveImpliedVol(refResult.calc.ExtrapolatedVolPct, tokenHist, refHist)
	if err != nil {
		return priced{}, err
	}

	targetT := float64(lockupDays) / discount.DaysPerYear
	call, put, err := discount.BlackScholes(spot, spot, targetT, rate, der.IVPct/100)
	if err != nil {
		return priced{}, err
	}
	synthetic := model.OptionContract{
		Strike:     spot,
		CallPrice:  call,
		PutPrice:   put,
		ImpliedVol: der.IVPct,
		Expiry:     time.Now().UTC().AddDate(0, 0, lockupDays),
	}

	calc, err := eng.ComputeSingleExpiry([]model.OptionContract{synthetic}, spot, lockupDays, rate)
	if err != nil {
		return priced{}, err
	}
	return priced{calc: calc, mode: ModeBetaDerived, beta: &der}, nil
}

// --- Helpers ---

// fetchLeg loads one expiry's chain and wraps it with its tenor and
// average quoted vol (the backfill for contracts missing their own).
func (s *Service) fetchLeg(ctx context.Context, symbol string, expiry time.Time, now time.Time) (model.ExpiryLeg, error) {
	contracts, err := s.source.OptionChain(ctx, symbol, expiry)
	if err != nil {
		return model.ExpiryLeg{}, err
	}
	return model.ExpiryLeg{
		Expiry:            expiry,
		TimeToExpiryYears: expiry.Sub(now).Hours() / (24 * discount.DaysPerYear),
		AvgImpliedVol:     avgImpliedVol(contracts),
		Contracts:         contracts,
	}, nil
}

// avgImpliedVol is the mean quoted vol over contracts that carry one.
func avgImpliedVol(contracts []model.OptionContract) float64 {
	var sum float64
	var n int
	for _, c := range contracts {
		if c.ImpliedVol > 0 {
			sum += c.ImpliedVol
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// nearestExpiry picks the listed expiry closest to the target date.
func nearestExpiry(expiries []time.Time, target time.Time) time.Time {
	best := expiries[0]
	for _, e := range expiries[1:] {
		if math.Abs(float64(e.Sub(target))) < math.Abs(float64(best.Sub(target))) {
			best = e
		}
	}
	return best
}

func (s *Service) lookupToken(symbol string) (marketdata.Token, error) {
	t, ok := s.bySym[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return marketdata.Token{}, fmt.Errorf("unknown token %q", symbol)
	}
	return t, nil
}

// resolveRate prefers an explicit ?rate= over the Treasury lookup.
// Without a usable FRED key the caller must supply one — the service
// never substitutes a default rate.
func (s *Service) resolveRate(ctx context.Context, raw string, lockupDays int) (float64, int, error) {
	if raw != "" {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil || rate < 0 || rate > 1 {
			return 0, http.StatusBadRequest, fmt.Errorf("rate must be a decimal in [0, 1], got %q", raw)
		}
		return rate, 0, nil
	}

	rate, err := s.source.RiskFreeRate(ctx, lockupDays)
	if err != nil {
		return 0, http.StatusUnprocessableEntity,
			fmt.Errorf("risk-free rate unavailable (pass ?rate= explicitly): %w", err)
	}
	return rate, 0, nil
}

func parseDays(raw string) (int, error) {
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return 0, fmt.Errorf("days must be a positive integer, got %q", raw)
	}
	return days, nil
}

// engineFor returns the default engine, or a per-request one when the
// strikes override is present.
func (s *Service) engineFor(raw string) (*discount.Engine, error) {
	if raw == "" {
		return s.engine, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > MaxStrikeCount {
		return nil, fmt.Errorf("strikes must be an integer in [1, %d], got %q", MaxStrikeCount, raw)
	}
	return discount.NewEngine(n), nil
}

// primaryMode labels failed calculations by the path the token would
// normally take.
func primaryMode(token marketdata.Token) string {
	if token.HasChain {
		return ModeDualExpiry
	}
	return ModeBetaDerived
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
