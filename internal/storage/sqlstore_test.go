package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/crossvenue/kalshi-poly-arb/internal/detector"
	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"go.uber.org/zap"
)

func newMockStore(t *testing.T, d dialect) (*sqlStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return &sqlStore{db: db, dialect: d, logger: zap.NewNop()}, mock
}

func testTradeRecord() *types.TradeRecord {
	return &types.TradeRecord{
		PairID:        "KX|poly",
		OpportunityID: "opp-1",
		Contracts:     10,
		KalshiCost:    5.50,
		PolyCost:      3.60,
		TotalCost:     9.17,
		Outcome:       types.TradeFilled,
		Strategy:      "ARB_A",
		ExecutedAt:    time.Now(),
	}
}

func TestRebind(t *testing.T) {
	s := &sqlStore{dialect: dialectPostgres}
	got := s.rebind("INSERT INTO t (a, b) VALUES (?, ?)")
	want := "INSERT INTO t (a, b) VALUES ($1, $2)"
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}

	s.dialect = dialectSQLite
	if got := s.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite rebind altered query: %q", got)
	}
}

func TestSaveMatchedMarket(t *testing.T) {
	s, mock := newMockStore(t, dialectSQLite)

	pair := &types.MarketPair{
		ID: types.PairID("KXBTC15M-1200", "btc-up-12pm"),
		Kalshi: types.MarketEvent{
			Venue:          types.VenueKalshi,
			ID:             "KXBTC15M-1200",
			Ticker:         "KXBTC15M-1200",
			Title:          "Bitcoin up or down",
			ResolutionTime: time.Now().UTC(),
		},
		Poly: types.MarketEvent{
			Venue:  types.VenuePolymarket,
			ID:     "0xcond",
			Ticker: "btc-up-12pm",
			Title:  "Bitcoin Up or Down",
		},
	}

	mock.ExpectExec("INSERT INTO matched_markets").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.SaveMatchedMarket(context.Background(), pair)
	if err != nil {
		t.Fatalf("SaveMatchedMarket: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSaveEvaluation(t *testing.T) {
	s, mock := newMockStore(t, dialectSQLite)

	ev := &detector.Evaluation{
		PairID:   "KX|poly",
		KYes:     0.44,
		KNo:      0.55,
		PYes:     0.36,
		PNo:      0.63,
		CostA:    0.91,
		CostB:    1.07,
		Net:      0.0835,
		Decision: detector.DecisionBuy,
		Reason:   "Net Profit 0.084 > 0.010 (ARB_A)",
		At:       time.Now(),
	}

	mock.ExpectExec("INSERT INTO opportunities").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.SaveEvaluation(context.Background(), ev)
	if err != nil {
		t.Fatalf("SaveEvaluation: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSaveTrade(t *testing.T) {
	s, mock := newMockStore(t, dialectPostgres)

	mock.ExpectExec("INSERT INTO trades").
		WithArgs("KX|poly", "opp-1", 10, 5.50, 3.60, 9.17, sqlmock.AnyArg(), "ARB_A").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.SaveTrade(context.Background(), testTradeRecord())
	if err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpsertDailyMetrics(t *testing.T) {
	s, mock := newMockStore(t, dialectSQLite)

	mock.ExpectExec("INSERT INTO daily_risk_metrics").
		WithArgs("2026-08-24", -12.5, 40.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.UpsertDailyMetrics(context.Background(), DailyMetrics{
		Date:     "2026-08-24",
		DailyPnl: -12.5,
		Exposure: 40.0,
	})
	if err != nil {
		t.Fatalf("UpsertDailyMetrics: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetDailyMetrics(t *testing.T) {
	s, mock := newMockStore(t, dialectSQLite)

	mock.ExpectQuery("SELECT (.+) FROM daily_risk_metrics").
		WithArgs("2026-08-24").
		WillReturnRows(sqlmock.NewRows([]string{"daily_pnl", "exposure"}).
			AddRow(-12.5, 40.0))

	m, err := s.GetDailyMetrics(context.Background(), "2026-08-24")
	if err != nil {
		t.Fatalf("GetDailyMetrics: %v", err)
	}
	if m == nil || m.DailyPnl != -12.5 || m.Exposure != 40.0 {
		t.Errorf("row = %+v, want pnl -12.5 exposure 40", m)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetDailyMetricsMissingRow(t *testing.T) {
	s, mock := newMockStore(t, dialectSQLite)

	mock.ExpectQuery("SELECT (.+) FROM daily_risk_metrics").
		WithArgs("2026-08-25").
		WillReturnRows(sqlmock.NewRows([]string{"daily_pnl", "exposure"}))

	m, err := s.GetDailyMetrics(context.Background(), "2026-08-25")
	if err != nil {
		t.Fatalf("GetDailyMetrics: %v", err)
	}
	if m != nil {
		t.Errorf("row = %+v, want nil for an unseen date", m)
	}
}

func TestListTrades(t *testing.T) {
	s, mock := newMockStore(t, dialectSQLite)

	at := time.Now().UTC().Format(timeFormat)
	mock.ExpectQuery("SELECT (.+) FROM trades").
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "pair_id", "opp_id", "contracts", "k_cost", "p_cost", "total_cost", "executed_at", "strategy",
		}).AddRow(1, "KX|poly", "opp-1", 10, 5.50, 3.60, 9.17, at, "ARB_A"))

	trades, err := s.ListTrades(context.Background(), 50)
	if err != nil {
		t.Fatalf("ListTrades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}
	if trades[0].Contracts != 10 || trades[0].Strategy != "ARB_A" {
		t.Errorf("unexpected row: %+v", trades[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStats(t *testing.T) {
	s, mock := newMockStore(t, dialectSQLite)

	mock.ExpectQuery("SELECT").
		WithArgs(detector.DecisionBuy).
		WillReturnRows(sqlmock.NewRows([]string{"m", "e", "b", "t", "c"}).
			AddRow(4, 120, 3, 2, 18.34))

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.MatchedMarkets != 4 || stats.BuyDecisions != 3 || stats.TotalCost != 18.34 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestWriteFailureSurfaced(t *testing.T) {
	s, mock := newMockStore(t, dialectSQLite)

	mock.ExpectExec("INSERT INTO trades").
		WillReturnError(context.DeadlineExceeded)

	err := s.SaveTrade(context.Background(), testTradeRecord())
	if err == nil {
		t.Fatal("expected error from failed insert")
	}
}
