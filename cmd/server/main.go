package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/pddkhanh/solfolio-sub005/internal/bridge"
	"github.com/pddkhanh/solfolio-sub005/internal/config"
	"github.com/pddkhanh/solfolio-sub005/internal/domain"
	"github.com/pddkhanh/solfolio-sub005/internal/hub"
	"github.com/pddkhanh/solfolio-sub005/internal/kv"
	"github.com/pddkhanh/solfolio-sub005/internal/logging"
	"github.com/pddkhanh/solfolio-sub005/internal/portfolio"
	"github.com/pddkhanh/solfolio-sub005/internal/scheduler"
	"github.com/pddkhanh/solfolio-sub005/internal/server"
	"github.com/pddkhanh/solfolio-sub005/internal/version"
)

func setupConfig() *config.Config {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// setupKV connects to Redis when configured, otherwise falls back to the
// in-process backend (single-node deployments without cross-instance
// fan-out).
func setupKV(ctx context.Context, cfg *config.Config) (kv.Store, kv.Bus, *kv.Client) {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL not set, using in-process kv backend; cross-instance fan-out disabled")
		return kv.NewMemoryStore(), kv.NewMemoryBus(), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := kv.NewClient(connectCtx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client, client, client
}

func setupSource(cfg *config.Config) *portfolio.StaticSource {
	source := portfolio.NewStaticSource()
	if cfg.AppEnv == "development" {
		seedDemoData(source)
	}
	return source
}

func seedDemoData(source *portfolio.StaticSource) {
	sol := domain.Token{Mint: "So11111111111111111111111111111111111111112", Symbol: "SOL", Name: "Solana", Balance: 12.5, Decimals: 9, Price: 150}
	usdc := domain.Token{Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Symbol: "USDC", Name: "USD Coin", Balance: 420, Decimals: 6, Price: 1}
	sol.Recompute()
	usdc.Recompute()

	source.SetPortfolio(domain.Portfolio{
		Wallet: "DemoWa11et1111111111111111111111111111111111",
		Tokens: []domain.Token{sol, usdc},
		Positions: []domain.Position{
			{Protocol: "Marinade", Type: "staking", Address: "mSoLPos1111111111111111111111111111111111111", Value: 900, APY: 6.8},
		},
	})
}

func runGracefulShutdown(srv *server.Server, ticker *scheduler.PriceTicker, bridgeCancel context.CancelFunc, h *hub.Hub, redisClient *kv.Client) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		ticker.Stop()
		bridgeCancel()
		h.Stop()

		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				slog.Error("Failed to close Redis client", "error", err)
			}
		}

		close(done)
	}()

	return done
}

func main() {
	cfg := setupConfig()
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, bus, redisClient := setupKV(ctx, cfg)

	clock := clockwork.NewRealClock()
	h := hub.NewHub(clock, cfg.MaxClientsPerRoom)
	emitter := hub.NewEmitter()
	emitter.Attach(h)

	br := bridge.New(bus, store, emitter)
	go func() {
		if err := br.Run(ctx); err != nil {
			slog.Error("Bridge stopped", "error", err)
		}
	}()

	source := setupSource(cfg)
	portfolios := portfolio.NewService(source, cfg.PortfolioCacheTTL)

	ticker := scheduler.NewPriceTicker(source, emitter, br, clock, cfg.PriceTickInterval)
	ticker.Start()

	var srv *server.Server
	if redisClient != nil {
		srv = server.NewServer(cfg, portfolios, h, store, redisClient)
	} else {
		srv = server.NewServer(cfg, portfolios, h, store, nil)
	}

	done := runGracefulShutdown(srv, ticker, cancel, h, redisClient)

	build := version.Get()
	slog.Info("Starting server",
		"port", cfg.Port,
		"env", cfg.AppEnv,
		"version", build.Version,
		"commit", build.Commit,
	)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
	slog.Info("Shutdown complete")
}
