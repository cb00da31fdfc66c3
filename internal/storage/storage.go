package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/internal/detector"
	"github.com/crossvenue/kalshi-poly-arb/pkg/config"
	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"go.uber.org/zap"
)

// Store persists the session trail: matched pairs, every detection decision,
// executed trades and the daily risk counters. All writes arrive through the
// event log's single writer, so implementations do not need to be tuned for
// write concurrency.
type Store interface {
	InitSchema(ctx context.Context) error

	SaveMatchedMarket(ctx context.Context, pair *types.MarketPair) error
	SaveEvaluation(ctx context.Context, ev *detector.Evaluation) error
	SaveTrade(ctx context.Context, rec *types.TradeRecord) error
	UpsertDailyMetrics(ctx context.Context, m DailyMetrics) error
	GetDailyMetrics(ctx context.Context, date string) (*DailyMetrics, error)

	ListMatchedMarkets(ctx context.Context) ([]MatchedMarketRow, error)
	ListEvaluations(ctx context.Context, limit int) ([]EvaluationRow, error)
	ListTrades(ctx context.Context, limit int) ([]TradeRow, error)
	Stats(ctx context.Context) (*SessionStats, error)

	Close() error
}

// DailyMetrics is one row of the daily risk table, keyed by UTC date.
type DailyMetrics struct {
	Date     string // YYYY-MM-DD
	DailyPnl float64
	Exposure float64
}

// MatchedMarketRow is a persisted pair for the dashboard.
type MatchedMarketRow struct {
	ID             int64     `json:"id"`
	KalshiTicker   string    `json:"k_ticker"`
	PolyTicker     string    `json:"p_ticker"`
	Title          string    `json:"title"`
	ResolutionTime time.Time `json:"resolution_time"`
}

// EvaluationRow is a persisted detection decision for the dashboard.
type EvaluationRow struct {
	ID       int64     `json:"id"`
	PairID   string    `json:"pair_id"`
	At       time.Time `json:"ts"`
	KYes     float64   `json:"k_yes"`
	KNo      float64   `json:"k_no"`
	PYes     float64   `json:"p_yes"`
	PNo      float64   `json:"p_no"`
	Net      float64   `json:"net_profit_best"`
	Decision string    `json:"decision"`
	Reason   string    `json:"reason"`
}

// TradeRow is a persisted execution attempt for the dashboard.
type TradeRow struct {
	ID         int64     `json:"id"`
	PairID     string    `json:"pair_id"`
	OppID      string    `json:"opp_id"`
	Contracts  int       `json:"contracts"`
	KalshiCost float64   `json:"k_cost"`
	PolyCost   float64   `json:"p_cost"`
	TotalCost  float64   `json:"total_cost"`
	Strategy   string    `json:"strategy"`
	ExecutedAt time.Time `json:"executed_at"`
}

// SessionStats aggregates the session for the dashboard.
type SessionStats struct {
	MatchedMarkets int     `json:"matched_markets"`
	Evaluations    int     `json:"evaluations"`
	BuyDecisions   int     `json:"buy_decisions"`
	Trades         int     `json:"trades"`
	TotalCost      float64 `json:"total_cost"`
}

// Open builds the store selected by configuration and initializes its schema.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.StorageMode {
	case "sqlite":
		store, err = NewSQLite(cfg.SQLitePath, logger)
	case "postgres":
		store, err = NewPostgres(cfg, logger)
	case "console":
		store = NewConsole(logger)
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.StorageMode)
	}
	if err != nil {
		return nil, err
	}

	err = store.InitSchema(ctx)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}
