// Package marketdata fetches the inputs the discount engine needs:
// spot prices, option chains, daily price history, and risk-free
// rates. Providers sit behind the Source interface so the calculation
// service never cares where a number came from. Implementations
// include LiveSource (Deribit + CoinGecko + FRED) and CachedSource
// (read-through cache wrapper).
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zxc3309/lockup-calculator/internal/model"
)

var (
	// ErrUnknownToken is returned for symbols outside the supported set.
	ErrUnknownToken = errors.New("marketdata: unknown token")

	// ErrNoOptionVenue is returned when a token has no listed options
	// and chain-based operations cannot be served.
	ErrNoOptionVenue = errors.New("marketdata: no option venue for token")

	// ErrMissingAPIKey is returned when a provider requires a key that
	// was not configured.
	ErrMissingAPIKey = errors.New("marketdata: missing API key")

	// ErrNoData is returned when a provider answered but had nothing
	// usable for the request.
	ErrNoData = errors.New("marketdata: no data")
)

// Token describes an asset the service can price.
type Token struct {
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	CoinGeckoID string `json:"-"`
	HasChain    bool   `json:"has_option_chain"`
}

// DefaultTokens returns the supported token set. Deribit lists options
// for the first three; the rest are priced through the beta fallback.
func DefaultTokens() []Token {
	return []Token{
		{Symbol: "BTC", Name: "Bitcoin", CoinGeckoID: "bitcoin", HasChain: true},
		{Symbol: "ETH", Name: "Ethereum", CoinGeckoID: "ethereum", HasChain: true},
		{Symbol: "SOL", Name: "Solana", CoinGeckoID: "solana", HasChain: true},
		{Symbol: "ARB", Name: "Arbitrum", CoinGeckoID: "arbitrum", HasChain: false},
		{Symbol: "OP", Name: "Optimism", CoinGeckoID: "optimism", HasChain: false},
		{Symbol: "AVAX", Name: "Avalanche", CoinGeckoID: "avalanche-2", HasChain: false},
		{Symbol: "LINK", Name: "Chainlink", CoinGeckoID: "chainlink", HasChain: false},
		{Symbol: "DOGE", Name: "Dogecoin", CoinGeckoID: "dogecoin", HasChain: false},
		{Symbol: "ADA", Name: "Cardano", CoinGeckoID: "cardano", HasChain: false},
	}
}

// Source is the market data interface consumed by the calculation
// service.
type Source interface {
	// SpotPrice returns the current USD price for a token symbol.
	SpotPrice(ctx context.Context, symbol string) (float64, error)

	// Expiries returns the listed option expiries for a token, sorted
	// ascending. ErrNoOptionVenue when no venue lists the token.
	Expiries(ctx context.Context, symbol string) ([]time.Time, error)

	// OptionChain returns the contracts for one listed expiry with
	// call and put legs paired by strike.
	OptionChain(ctx context.Context, symbol string, expiry time.Time) ([]model.OptionContract, error)

	// PriceHistory returns daily USD closes covering the trailing
	// number of days, oldest first.
	PriceHistory(ctx context.Context, symbol string, days int) ([]float64, error)

	// RiskFreeRate returns the Treasury yield nearest the lockup
	// horizon as a decimal (4.2% -> 0.042).
	RiskFreeRate(ctx context.Context, lockupDays int) (float64, error)
}

// LiveSource stitches the real providers together: Deribit for option
// chains and index prices, CoinGecko for spot and history, FRED for
// Treasury yields.
type LiveSource struct {
	deribit   *DeribitClient
	coingecko *CoinGeckoClient
	fred      *FREDClient
	tokens    map[string]Token
}

// NewLiveSource wires the three provider clients behind one Source.
func NewLiveSource(deribit *DeribitClient, coingecko *CoinGeckoClient, fred *FREDClient) *LiveSource {
	tokens := make(map[string]Token)
	for _, t := range DefaultTokens() {
		tokens[t.Symbol] = t
	}
	return &LiveSource{
		deribit:   deribit,
		coingecko: coingecko,
		fred:      fred,
		tokens:    tokens,
	}
}

func (s *LiveSource) lookup(symbol string) (Token, error) {
	t, ok := s.tokens[strings.ToUpper(symbol)]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}
	return t, nil
}

// SpotPrice prefers the Deribit index for tokens with an option venue
// so spot and chain marks stay consistent, and falls back to CoinGecko
// when the index is unavailable.
func (s *LiveSource) SpotPrice(ctx context.Context, symbol string) (float64, error) {
	t, err := s.lookup(symbol)
	if err != nil {
		return 0, err
	}
	if t.HasChain {
		price, err := s.deribit.IndexPrice(ctx, t.Symbol)
		if err == nil {
			return price, nil
		}
		slog.Warn("deribit index unavailable, using coingecko spot",
			"token", t.Symbol, "error", err)
	}
	return s.coingecko.SpotPrice(ctx, t.CoinGeckoID)
}

func (s *LiveSource) Expiries(ctx context.Context, symbol string) ([]time.Time, error) {
	t, err := s.lookup(symbol)
	if err != nil {
		return nil, err
	}
	if !t.HasChain {
		return nil, fmt.Errorf("%w: %s", ErrNoOptionVenue, t.Symbol)
	}
	return s.deribit.Expiries(ctx, t.Symbol)
}

func (s *LiveSource) OptionChain(ctx context.Context, symbol string, expiry time.Time) ([]model.OptionContract, error) {
	t, err := s.lookup(symbol)
	if err != nil {
		return nil, err
	}
	if !t.HasChain {
		return nil, fmt.Errorf("%w: %s", ErrNoOptionVenue, t.Symbol)
	}
	return s.deribit.OptionChain(ctx, t.Symbol, expiry)
}

func (s *LiveSource) PriceHistory(ctx context.Context, symbol string, days int) ([]float64, error) {
	t, err := s.lookup(symbol)
	if err != nil {
		return nil, err
	}
	return s.coingecko.PriceHistory(ctx, t.CoinGeckoID, days)
}

func (s *LiveSource) RiskFreeRate(ctx context.Context, lockupDays int) (float64, error) {
	return s.fred.Rate(ctx, lockupDays)
}
