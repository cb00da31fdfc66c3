package app

import (
	"context"
	"fmt"

	"github.com/crossvenue/kalshi-poly-arb/internal/bookcache"
	"github.com/crossvenue/kalshi-poly-arb/internal/detector"
	"github.com/crossvenue/kalshi-poly-arb/internal/eventlog"
	"github.com/crossvenue/kalshi-poly-arb/internal/executor"
	"github.com/crossvenue/kalshi-poly-arb/internal/matcher"
	"github.com/crossvenue/kalshi-poly-arb/internal/risk"
	"github.com/crossvenue/kalshi-poly-arb/internal/storage"
	"github.com/crossvenue/kalshi-poly-arb/internal/venue/kalshi"
	"github.com/crossvenue/kalshi-poly-arb/internal/venue/polymarket"
	"github.com/crossvenue/kalshi-poly-arb/pkg/config"
	"github.com/crossvenue/kalshi-poly-arb/pkg/healthprobe"
	"github.com/crossvenue/kalshi-poly-arb/pkg/httpserver"
	"go.uber.org/zap"
)

// New builds the application from configuration.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	kalshiClient, err := setupKalshi(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup kalshi client: %w", err)
	}

	polyClient, err := setupPolymarket(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup polymarket client: %w", err)
	}

	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	books := bookcache.New(cfg.BookFreshness, logger)
	events := eventlog.New(store, cfg.EventQueueSize, logger)

	det, err := detector.New(detector.Config{
		MinProfit:       cfg.MinProfit,
		KalshiTakerRate: cfg.KalshiTakerRate,
		PolyFlatFee:     cfg.PolyFlatFee,
		ProbSpreadGap:   cfg.ProbSpreadGap,
		CacheTTL:        cfg.DetectCacheTTL,
		Logger:          logger,
	}, books)
	if err != nil {
		cancel()
		store.Close()
		return nil, fmt.Errorf("create detector: %w", err)
	}

	gate := risk.New(risk.Config{
		MaxRiskPerTrade: cfg.MaxRiskPerTrade,
		MaxDailyLoss:    cfg.MaxDailyLoss,
		MaxNetExposure:  cfg.MaxNetExposure,
		SyncInterval:    cfg.BalanceSyncEvery,
		Recorder:        events,
		Store:           store,
		Logger:          logger,
	}, balanceFetcher(cfg, kalshiClient))

	exec := executor.New(executor.Config{
		SimulationMode:    cfg.SimulationMode,
		MaxRiskPerTrade:   cfg.MaxRiskPerTrade,
		MinProfit:         cfg.MinProfit,
		KalshiTakerRate:   cfg.KalshiTakerRate,
		PolyFlatFee:       cfg.PolyFlatFee,
		MinPolyOrderValue: cfg.MinPolyOrderValue,
		RequestTimeout:    cfg.RequestTimeout,
		BalanceSyncMaxAge: cfg.BalanceSyncMaxAge,
		Logger:            logger,
	}, kalshiClient, polyClient, books, gate, events)

	health := healthprobe.New()
	health.SetVeto(func() (bool, string) {
		engaged, reason := gate.KillSwitchEngaged()
		if engaged {
			return true, "kill switch engaged: " + reason
		}
		return false, ""
	})

	httpServer := httpserver.New(&httpserver.Config{
		Port:           cfg.HTTPPort,
		Logger:         logger,
		HealthChecker:  health,
		Store:          store,
		Gate:           gate,
		SimulationMode: cfg.SimulationMode,
	})

	match := matcher.New(logger)
	ctrl, err := newController(cfg, logger, kalshiClient, polyClient, books, match, det, exec, gate, events)
	if err != nil {
		cancel()
		store.Close()
		return nil, fmt.Errorf("create controller: %w", err)
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		health:     health,
		httpServer: httpServer,
		kalshi:     kalshiClient,
		poly:       polyClient,
		books:      books,
		matcher:    match,
		detector:   det,
		gate:       gate,
		executor:   exec,
		store:      store,
		events:     events,
		controller: ctrl,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

func setupKalshi(cfg *config.Config, logger *zap.Logger) (*kalshi.Client, error) {
	return kalshi.New(kalshi.Config{
		BaseURL:                 cfg.KalshiBaseURL,
		WSURL:                   cfg.KalshiWSURL,
		KeyID:                   cfg.KalshiKeyID,
		KeyPEM:                  cfg.KalshiKeyPEM,
		Series:                  cfg.KalshiSeries,
		RequestTimeout:          cfg.RequestTimeout,
		WSDialTimeout:           cfg.WSDialTimeout,
		WSPingInterval:          cfg.WSPingInterval,
		WSReconnectInitialDelay: cfg.WSReconnectInitialDelay,
		WSReconnectMaxDelay:     cfg.WSReconnectMaxDelay,
		WSReconnectBackoffMult:  cfg.WSReconnectBackoffMult,
		WSMessageBufferSize:     cfg.WSMessageBufferSize,
		Logger:                  logger,
	})
}

func setupPolymarket(cfg *config.Config, logger *zap.Logger) (*polymarket.Client, error) {
	return polymarket.New(polymarket.Config{
		GammaURL:                cfg.PolyGammaURL,
		ClobURL:                 cfg.PolyClobURL,
		WSURL:                   cfg.PolyWSURL,
		APIKey:                  cfg.PolyAPIKey,
		Secret:                  cfg.PolySecret,
		Passphrase:              cfg.PolyPassphrase,
		PrivateKey:              cfg.PolyPrivateKey,
		ProxyWallet:             cfg.PolyProxyWallet,
		TagID:                   cfg.PolyTagID,
		RequestTimeout:          cfg.RequestTimeout,
		WSDialTimeout:           cfg.WSDialTimeout,
		WSPingInterval:          cfg.WSPingInterval,
		WSReconnectInitialDelay: cfg.WSReconnectInitialDelay,
		WSReconnectMaxDelay:     cfg.WSReconnectMaxDelay,
		WSReconnectBackoffMult:  cfg.WSReconnectBackoffMult,
		WSMessageBufferSize:     cfg.WSMessageBufferSize,
		Logger:                  logger,
	})
}

// balanceFetcher keeps the bankroll off the venue in simulation mode, where
// credentials may be absent, by serving a fixed paper balance.
func balanceFetcher(cfg *config.Config, client *kalshi.Client) risk.BalanceFetcher {
	if cfg.SimulationMode {
		return func(ctx context.Context) (float64, error) {
			return 10_000, nil
		}
	}
	return client.Balance
}
