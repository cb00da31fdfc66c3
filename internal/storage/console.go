package storage

import (
	"context"

	"github.com/crossvenue/kalshi-poly-arb/internal/detector"
	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"go.uber.org/zap"
)

// Console is the no-database backend: every record goes to the log and
// nothing is kept. Useful for dry runs and tests.
type Console struct {
	logger *zap.Logger
}

// NewConsole creates the console backend.
func NewConsole(logger *zap.Logger) *Console {
	return &Console{logger: logger}
}

func (c *Console) InitSchema(ctx context.Context) error { return nil }

func (c *Console) SaveMatchedMarket(ctx context.Context, pair *types.MarketPair) error {
	c.logger.Info("matched-market",
		zap.String("pair-id", pair.ID),
		zap.String("kind", string(pair.Kind)))
	return nil
}

func (c *Console) SaveEvaluation(ctx context.Context, ev *detector.Evaluation) error {
	c.logger.Info("evaluation",
		zap.String("pair-id", ev.PairID),
		zap.String("decision", ev.Decision),
		zap.String("reason", ev.Reason),
		zap.Float64("net", ev.Net))
	return nil
}

func (c *Console) SaveTrade(ctx context.Context, rec *types.TradeRecord) error {
	c.logger.Info("trade",
		zap.String("pair-id", rec.PairID),
		zap.String("outcome", string(rec.Outcome)),
		zap.Int("contracts", rec.Contracts),
		zap.Float64("total-cost", rec.TotalCost))
	return nil
}

func (c *Console) UpsertDailyMetrics(ctx context.Context, m DailyMetrics) error {
	c.logger.Info("daily-metrics",
		zap.String("date", m.Date),
		zap.Float64("daily-pnl", m.DailyPnl),
		zap.Float64("exposure", m.Exposure))
	return nil
}

func (c *Console) GetDailyMetrics(ctx context.Context, date string) (*DailyMetrics, error) {
	return nil, nil
}

func (c *Console) ListMatchedMarkets(ctx context.Context) ([]MatchedMarketRow, error) {
	return nil, nil
}

func (c *Console) ListEvaluations(ctx context.Context, limit int) ([]EvaluationRow, error) {
	return nil, nil
}

func (c *Console) ListTrades(ctx context.Context, limit int) ([]TradeRow, error) {
	return nil, nil
}

func (c *Console) Stats(ctx context.Context) (*SessionStats, error) {
	return &SessionStats{}, nil
}

func (c *Console) Close() error { return nil }
