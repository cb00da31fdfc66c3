package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/internal/detector"
	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlStore implements Store over database/sql for both supported drivers.
// Timestamps are stored as RFC 3339 text so the two drivers round-trip them
// identically.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
}

const timeFormat = time.RFC3339Nano

// rebind rewrites ? placeholders into the $n form Postgres expects.
func (s *sqlStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	return err
}

// InitSchema creates the four tables when missing.
func (s *sqlStore) InitSchema(ctx context.Context) error {
	idCol := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == dialectPostgres {
		idCol = "BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS matched_markets (
			id %s,
			k_ticker TEXT NOT NULL,
			p_ticker TEXT NOT NULL,
			title TEXT,
			resolution_time TEXT,
			k_id TEXT,
			p_id TEXT,
			p_title TEXT,
			k_raw TEXT,
			p_raw TEXT,
			UNIQUE (k_ticker, p_ticker)
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS opportunities (
			id %s,
			pair_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			k_yes DOUBLE PRECISION,
			k_no DOUBLE PRECISION,
			p_yes DOUBLE PRECISION,
			p_no DOUBLE PRECISION,
			cost_a DOUBLE PRECISION,
			cost_b DOUBLE PRECISION,
			net_profit_best DOUBLE PRECISION,
			decision TEXT,
			reason TEXT,
			details_json TEXT
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS trades (
			id %s,
			pair_id TEXT NOT NULL,
			opp_id TEXT,
			contracts INTEGER,
			k_cost DOUBLE PRECISION,
			p_cost DOUBLE PRECISION,
			total_cost DOUBLE PRECISION,
			executed_at TEXT,
			strategy TEXT
		)`, idCol),
		`CREATE TABLE IF NOT EXISTS daily_risk_metrics (
			date TEXT PRIMARY KEY,
			daily_pnl DOUBLE PRECISION,
			exposure DOUBLE PRECISION,
			updated_at TEXT
		)`,
	}

	for _, stmt := range statements {
		err := s.exec(ctx, stmt)
		if err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	s.logger.Info("storage-schema-ready")
	return nil
}

// SaveMatchedMarket registers a pair, ignoring a ticker combination that is
// already on file.
func (s *sqlStore) SaveMatchedMarket(ctx context.Context, pair *types.MarketPair) error {
	kRaw, err := json.Marshal(pair.Kalshi)
	if err != nil {
		return fmt.Errorf("marshal kalshi event: %w", err)
	}
	pRaw, err := json.Marshal(pair.Poly)
	if err != nil {
		return fmt.Errorf("marshal poly event: %w", err)
	}

	err = s.exec(ctx, `INSERT INTO matched_markets
		(k_ticker, p_ticker, title, resolution_time, k_id, p_id, p_title, k_raw, p_raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (k_ticker, p_ticker) DO NOTHING`,
		pair.Kalshi.Ticker, pair.Poly.Ticker,
		pair.Kalshi.Title, pair.Kalshi.ResolutionTime.UTC().Format(timeFormat),
		pair.Kalshi.ID, pair.Poly.ID, pair.Poly.Title,
		string(kRaw), string(pRaw))
	if err != nil {
		WriteFailuresTotal.WithLabelValues("matched_markets").Inc()
		return fmt.Errorf("insert matched market: %w", err)
	}

	WritesTotal.WithLabelValues("matched_markets").Inc()
	return nil
}

// SaveEvaluation appends one detection decision.
func (s *sqlStore) SaveEvaluation(ctx context.Context, ev *detector.Evaluation) error {
	var details string
	if ev.Opportunity != nil {
		raw, err := json.Marshal(map[string]interface{}{
			"opportunity_id": ev.Opportunity.ID,
			"strategy":       ev.Opportunity.Strategy,
			"kalshi_side":    ev.Opportunity.KalshiSide,
			"poly_side":      ev.Opportunity.PolySide,
			"poly_token_id":  ev.Opportunity.PolyTokenID,
			"fees":           ev.Opportunity.Fees,
		})
		if err != nil {
			return fmt.Errorf("marshal opportunity details: %w", err)
		}
		details = string(raw)
	}

	err := s.exec(ctx, `INSERT INTO opportunities
		(pair_id, ts, k_yes, k_no, p_yes, p_no, cost_a, cost_b, net_profit_best, decision, reason, details_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.PairID, ev.At.UTC().Format(timeFormat),
		ev.KYes, ev.KNo, ev.PYes, ev.PNo,
		ev.CostA, ev.CostB, ev.Net,
		ev.Decision, ev.Reason, details)
	if err != nil {
		WriteFailuresTotal.WithLabelValues("opportunities").Inc()
		return fmt.Errorf("insert opportunity: %w", err)
	}

	WritesTotal.WithLabelValues("opportunities").Inc()
	return nil
}

// SaveTrade appends one execution attempt.
func (s *sqlStore) SaveTrade(ctx context.Context, rec *types.TradeRecord) error {
	err := s.exec(ctx, `INSERT INTO trades
		(pair_id, opp_id, contracts, k_cost, p_cost, total_cost, executed_at, strategy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.PairID, rec.OpportunityID, rec.Contracts,
		rec.KalshiCost, rec.PolyCost, rec.TotalCost,
		rec.ExecutedAt.UTC().Format(timeFormat), rec.Strategy)
	if err != nil {
		WriteFailuresTotal.WithLabelValues("trades").Inc()
		return fmt.Errorf("insert trade: %w", err)
	}

	WritesTotal.WithLabelValues("trades").Inc()
	return nil
}

// UpsertDailyMetrics writes the day's risk counters, replacing any prior row
// for the same UTC date.
func (s *sqlStore) UpsertDailyMetrics(ctx context.Context, m DailyMetrics) error {
	err := s.exec(ctx, `INSERT INTO daily_risk_metrics (date, daily_pnl, exposure, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (date) DO UPDATE SET
			daily_pnl = excluded.daily_pnl,
			exposure = excluded.exposure,
			updated_at = excluded.updated_at`,
		m.Date, m.DailyPnl, m.Exposure, time.Now().UTC().Format(timeFormat))
	if err != nil {
		WriteFailuresTotal.WithLabelValues("daily_risk_metrics").Inc()
		return fmt.Errorf("upsert daily metrics: %w", err)
	}

	WritesTotal.WithLabelValues("daily_risk_metrics").Inc()
	return nil
}

// GetDailyMetrics returns the stored counters for one UTC date, or nil when
// no row exists for it yet.
func (s *sqlStore) GetDailyMetrics(ctx context.Context, date string) (*DailyMetrics, error) {
	m := DailyMetrics{Date: date}
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT daily_pnl, exposure FROM daily_risk_metrics WHERE date = ?`), date).
		Scan(&m.DailyPnl, &m.Exposure)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query daily metrics: %w", err)
	}
	return &m, nil
}

// ListMatchedMarkets returns all registered pairs, newest first.
func (s *sqlStore) ListMatchedMarkets(ctx context.Context) ([]MatchedMarketRow, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, k_ticker, p_ticker, title, resolution_time
		 FROM matched_markets ORDER BY id DESC`))
	if err != nil {
		return nil, fmt.Errorf("query matched markets: %w", err)
	}
	defer rows.Close()

	var out []MatchedMarketRow
	for rows.Next() {
		var (
			row MatchedMarketRow
			res string
		)
		err = rows.Scan(&row.ID, &row.KalshiTicker, &row.PolyTicker, &row.Title, &res)
		if err != nil {
			return nil, fmt.Errorf("scan matched market: %w", err)
		}
		row.ResolutionTime, _ = time.Parse(timeFormat, res)
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListEvaluations returns the most recent detection decisions.
func (s *sqlStore) ListEvaluations(ctx context.Context, limit int) ([]EvaluationRow, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, pair_id, ts, k_yes, k_no, p_yes, p_no, net_profit_best, decision, reason
		 FROM opportunities ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query opportunities: %w", err)
	}
	defer rows.Close()

	var out []EvaluationRow
	for rows.Next() {
		var (
			row EvaluationRow
			ts  string
		)
		err = rows.Scan(&row.ID, &row.PairID, &ts,
			&row.KYes, &row.KNo, &row.PYes, &row.PNo,
			&row.Net, &row.Decision, &row.Reason)
		if err != nil {
			return nil, fmt.Errorf("scan opportunity: %w", err)
		}
		row.At, _ = time.Parse(timeFormat, ts)
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListTrades returns the most recent execution attempts.
func (s *sqlStore) ListTrades(ctx context.Context, limit int) ([]TradeRow, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, pair_id, opp_id, contracts, k_cost, p_cost, total_cost, executed_at, strategy
		 FROM trades ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRow
	for rows.Next() {
		var (
			row TradeRow
			at  string
		)
		err = rows.Scan(&row.ID, &row.PairID, &row.OppID, &row.Contracts,
			&row.KalshiCost, &row.PolyCost, &row.TotalCost, &at, &row.Strategy)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		row.ExecutedAt, _ = time.Parse(timeFormat, at)
		out = append(out, row)
	}
	return out, rows.Err()
}

// Stats aggregates the session counters for the dashboard.
func (s *sqlStore) Stats(ctx context.Context) (*SessionStats, error) {
	stats := &SessionStats{}

	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT
			(SELECT COUNT(*) FROM matched_markets),
			(SELECT COUNT(*) FROM opportunities),
			(SELECT COUNT(*) FROM opportunities WHERE decision = ?),
			(SELECT COUNT(*) FROM trades),
			(SELECT COALESCE(SUM(total_cost), 0) FROM trades)`),
		detector.DecisionBuy).Scan(
		&stats.MatchedMarkets, &stats.Evaluations, &stats.BuyDecisions,
		&stats.Trades, &stats.TotalCost)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	return stats, nil
}

// Close closes the underlying database.
func (s *sqlStore) Close() error {
	return s.db.Close()
}
