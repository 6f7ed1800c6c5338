package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/zxc3309/lockup-calculator/internal/calc"
	"github.com/zxc3309/lockup-calculator/internal/discount"
	"github.com/zxc3309/lockup-calculator/internal/marketdata"
	"github.com/zxc3309/lockup-calculator/internal/metrics"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Market data providers ---
	deribit := marketdata.NewDeribitClient(os.Getenv("DERIBIT_URL"))
	coingecko := marketdata.NewCoinGeckoClient(os.Getenv("COINGECKO_URL"))

	fredKey := os.Getenv("FRED_API_KEY")
	if fredKey == "" {
		slog.Warn("FRED_API_KEY not set, Treasury rate lookups disabled (requests must pass ?rate=)")
	}
	fred := marketdata.NewFREDClient(os.Getenv("FRED_URL"), fredKey)

	live := marketdata.NewLiveSource(deribit, coingecko, fred)

	// --- Cache layer ---
	var cache marketdata.Cache
	var cleanup []func()

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		cache = marketdata.NewRedisCache(rdb)
		slog.Info("Redis cache enabled")
	} else {
		slog.Warn("REDIS_URL not set, using in-memory cache (entries are per-replica)")
		cache = marketdata.NewMemoryCache()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	source := marketdata.NewCachedSource(live, cache, marketdata.DefaultTTLs())

	// --- Discount engine ---
	strikeCount := discount.DefaultStrikeCount
	if raw := os.Getenv("STRIKE_COUNT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			slog.Error("invalid STRIKE_COUNT", "value", raw)
			os.Exit(1)
		}
		strikeCount = n
	}
	engine := discount.NewEngine(strikeCount)

	// --- WebSocket hub ---
	wsHub := calc.NewWSHub()
	go wsHub.Run()

	// --- Calculation service ---
	calcSvc := calc.NewService(source, engine, marketdata.DefaultTokens(), wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"lockup-calculator"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for completed-calculation broadcasts.
		r.Get("/ws", wsHub.HandleWS)

		// Token and expiry discovery.
		r.Get("/tokens", calcSvc.ListTokens)
		r.Get("/expiries", calcSvc.ListExpiries)

		// Pricing.
		r.Get("/discount", calcSvc.ComputeDiscount)
		r.Get("/valuation", calcSvc.ComputeValuation)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("lockup-calculator listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down lockup-calculator...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("lockup-calculator stopped")
}
