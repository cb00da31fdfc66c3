package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/internal/bookcache"
	"github.com/crossvenue/kalshi-poly-arb/internal/detector"
	"github.com/crossvenue/kalshi-poly-arb/internal/eventlog"
	"github.com/crossvenue/kalshi-poly-arb/internal/executor"
	"github.com/crossvenue/kalshi-poly-arb/internal/matcher"
	"github.com/crossvenue/kalshi-poly-arb/internal/risk"
	"github.com/crossvenue/kalshi-poly-arb/internal/storage"
	"github.com/crossvenue/kalshi-poly-arb/internal/venue/venuetest"
	"github.com/crossvenue/kalshi-poly-arb/pkg/config"
	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingStore keeps every write in memory so tests can assert on the
// persisted decision trail.
type recordingStore struct {
	mu          sync.Mutex
	pairs       []*types.MarketPair
	evaluations []*detector.Evaluation
	trades      []*types.TradeRecord
	metrics     []storage.DailyMetrics
}

func (s *recordingStore) InitSchema(ctx context.Context) error { return nil }

func (s *recordingStore) SaveMatchedMarket(ctx context.Context, pair *types.MarketPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs = append(s.pairs, pair)
	return nil
}

func (s *recordingStore) SaveEvaluation(ctx context.Context, ev *detector.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluations = append(s.evaluations, ev)
	return nil
}

func (s *recordingStore) SaveTrade(ctx context.Context, rec *types.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, rec)
	return nil
}

func (s *recordingStore) UpsertDailyMetrics(ctx context.Context, m storage.DailyMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, m)
	return nil
}

func (s *recordingStore) GetDailyMetrics(ctx context.Context, date string) (*storage.DailyMetrics, error) {
	return nil, nil
}

func (s *recordingStore) ListMatchedMarkets(ctx context.Context) ([]storage.MatchedMarketRow, error) {
	return nil, nil
}

func (s *recordingStore) ListEvaluations(ctx context.Context, limit int) ([]storage.EvaluationRow, error) {
	return nil, nil
}

func (s *recordingStore) ListTrades(ctx context.Context, limit int) ([]storage.TradeRow, error) {
	return nil, nil
}

func (s *recordingStore) Stats(ctx context.Context) (*storage.SessionStats, error) {
	return &storage.SessionStats{}, nil
}

func (s *recordingStore) Close() error { return nil }

func (s *recordingStore) Evaluations() []*detector.Evaluation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*detector.Evaluation, len(s.evaluations))
	copy(out, s.evaluations)
	return out
}

func (s *recordingStore) Trades() []*types.TradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.TradeRecord, len(s.trades))
	copy(out, s.trades)
	return out
}

func (s *recordingStore) DailyMetricsRows() []storage.DailyMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.DailyMetrics(nil), s.metrics...)
}

func testControllerConfig() *config.Config {
	return &config.Config{
		SimulationMode:    true,
		KalshiTakerRate:   0.01,
		PolyFlatFee:       0.001,
		MaxRiskPerTrade:   0.90,
		MaxDailyLoss:      0.20,
		MaxNetExposure:    1.0,
		MinProfit:         0.01,
		DetectCacheTTL:    50 * time.Millisecond,
		ProbSpreadGap:     0.15,
		CooldownDuration:  60 * time.Second,
		PairCooldown:      15 * time.Second,
		BookFreshness:     2 * time.Second,
		BalanceSyncEvery:  time.Minute,
		BalanceSyncMaxAge: time.Minute,
		RequestTimeout:    2 * time.Second,
		MinPolyOrderValue: 1.00,
		DiscoveryLimit:    100,
		MaxMarketHorizon:  24 * time.Hour,
	}
}

type controllerHarness struct {
	ctrl   *controller
	kalshi *venuetest.Fake
	poly   *venuetest.Fake
	events *eventlog.Log
	store  *recordingStore
}

func newControllerHarness(t *testing.T) *controllerHarness {
	t.Helper()

	cfg := testControllerConfig()
	logger := zap.NewNop()
	resolution := time.Now().UTC().Add(10 * time.Minute)

	kalshi := venuetest.New(types.VenueKalshi)
	kalshi.SetEvents(types.MarketEvent{
		Venue:          types.VenueKalshi,
		ID:             "KXBTC-1",
		Ticker:         "KXBTC-1",
		Title:          "Bitcoin Up or Down at 3:15pm EDT?",
		ResolutionTime: resolution,
		YesAsk:         0.45,
		NoAsk:          0.55,
		Source:         "Coinbase",
	})
	kalshi.SetBook("KXBTC-1", &types.OrderBook{
		Venue:        types.VenueKalshi,
		InstrumentID: "KXBTC-1",
		YesAsks:      []types.Level{{Price: 0.45, Size: 500}},
		NoAsks:       []types.Level{{Price: 0.55, Size: 500}},
	})

	poly := venuetest.New(types.VenuePolymarket)
	poly.SetEvents(types.MarketEvent{
		Venue:          types.VenuePolymarket,
		ID:             "0xcond",
		Ticker:         "bitcoin-up-or-down-315pm",
		Title:          "Bitcoin Up or Down - 3:15pm ET",
		ResolutionTime: resolution,
		YesAsk:         0.48,
		NoAsk:          0.54,
		Source:         "Coinbase",
		Metadata: &types.EventMetadata{
			ClobTokenIDs: []string{"tok-up", "tok-down"},
			Outcomes:     []string{"Up", "Down"},
			MarketID:     "0xcond",
		},
	})
	poly.SetBook("tok-up", &types.OrderBook{
		Venue:        types.VenuePolymarket,
		InstrumentID: "tok-up",
		YesAsks:      []types.Level{{Price: 0.48, Size: 500}},
		NoAsks:       []types.Level{{Price: 0.54, Size: 500}},
	})

	store := &recordingStore{}
	books := bookcache.New(cfg.BookFreshness, logger)
	events := eventlog.New(store, 100, logger)
	events.Start()
	t.Cleanup(events.Close)

	det, err := detector.New(detector.Config{
		MinProfit:       cfg.MinProfit,
		KalshiTakerRate: cfg.KalshiTakerRate,
		PolyFlatFee:     cfg.PolyFlatFee,
		ProbSpreadGap:   cfg.ProbSpreadGap,
		CacheTTL:        cfg.DetectCacheTTL,
		Logger:          logger,
	}, books)
	require.NoError(t, err)
	t.Cleanup(det.Close)

	gate := risk.New(risk.Config{
		MaxRiskPerTrade: cfg.MaxRiskPerTrade,
		MaxDailyLoss:    cfg.MaxDailyLoss,
		MaxNetExposure:  cfg.MaxNetExposure,
		SyncInterval:    cfg.BalanceSyncEvery,
		Recorder:        events,
		Store:           store,
		Logger:          logger,
	}, func(ctx context.Context) (float64, error) { return 100, nil })
	require.NoError(t, gate.SyncBalance(context.Background()))
	t.Cleanup(gate.Close)

	exec := executor.New(executor.Config{
		MaxRiskPerTrade:   cfg.MaxRiskPerTrade,
		MinProfit:         cfg.MinProfit,
		KalshiTakerRate:   cfg.KalshiTakerRate,
		PolyFlatFee:       cfg.PolyFlatFee,
		MinPolyOrderValue: cfg.MinPolyOrderValue,
		RequestTimeout:    cfg.RequestTimeout,
		BalanceSyncMaxAge: cfg.BalanceSyncMaxAge,
		Logger:            logger,
	}, kalshi, poly, books, gate, events)

	ctrl, err := newController(cfg, logger, kalshi, poly, books,
		matcher.New(logger), det, exec, gate, events)
	require.NoError(t, err)
	t.Cleanup(ctrl.close)

	return &controllerHarness{
		ctrl:   ctrl,
		kalshi: kalshi,
		poly:   poly,
		events: events,
		store:  store,
	}
}

// pushBooks installs live books for both legs of the registered pair.
func (h *controllerHarness) pushBooks(t *testing.T, kYes, kNo, pYes, pNo float64) {
	t.Helper()
	now := time.Now()
	h.ctrl.books.Apply(types.BookUpdate{
		Venue:        types.VenueKalshi,
		InstrumentID: "KXBTC-1",
		Type:         types.BookSnapshot,
		YesAsks:      []types.Level{{Price: kYes, Size: 500}},
		NoAsks:       []types.Level{{Price: kNo, Size: 500}},
		ReceivedAt:   now,
	})
	h.ctrl.books.Apply(types.BookUpdate{
		Venue:        types.VenuePolymarket,
		InstrumentID: "tok-up",
		Type:         types.BookSnapshot,
		YesAsks:      []types.Level{{Price: pYes, Size: 500}},
		NoAsks:       []types.Level{{Price: pNo, Size: 500}},
		ReceivedAt:   now,
	})
}

func TestDiscoverRegistersMatchedPair(t *testing.T) {
	h := newControllerHarness(t)
	ctx := context.Background()

	require.NoError(t, h.ctrl.discover(ctx))

	assert.Equal(t, 1, h.ctrl.pairCount())
	assert.True(t, h.kalshi.Subscribed("KXBTC-1"), "kalshi leg not subscribed")
	assert.True(t, h.poly.Subscribed("tok-up"), "poly yes token not subscribed")

	// A second sweep with the same markets must not duplicate the pair.
	require.NoError(t, h.ctrl.discover(ctx))
	assert.Equal(t, 1, h.ctrl.pairCount())
}

func TestScanExecutesOnArbPrices(t *testing.T) {
	h := newControllerHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.discover(ctx))

	// Scenario A: 0.36 + 0.55 gross leaves a clear net edge after fees.
	h.pushBooks(t, 0.45, 0.55, 0.36, 0.66)

	before := time.Now()
	h.ctrl.scan(ctx, before)

	kOrders := h.kalshi.PlacedOrders()
	require.Len(t, kOrders, 1)
	assert.Equal(t, types.SideNo, kOrders[0].Side)
	assert.InDelta(t, 0.55, kOrders[0].LimitPrice, 1e-9)

	pOrders := h.poly.PlacedOrders()
	require.Len(t, pOrders, 1)
	assert.Equal(t, types.SideYes, pOrders[0].Side)
	assert.Equal(t, "tok-up", pOrders[0].TokenID)

	assert.False(t, h.ctrl.cooldownOver(before.Add(30*time.Second)),
		"global cooldown not engaged after execution")
	assert.True(t, h.ctrl.takeRediscover(), "rediscovery not scheduled after execution")

	// The execution leaves a full trail: the trade row and the daily risk
	// counters both reach storage.
	h.events.Close()
	require.Len(t, h.store.Trades(), 1)
	rows := h.store.DailyMetricsRows()
	require.NotEmpty(t, rows, "no daily risk counters persisted after execution")
	last := rows[len(rows)-1]
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), last.Date)
	assert.Greater(t, last.Exposure, 0.0)
}

func TestScanRecordsNoBuyWithoutEdge(t *testing.T) {
	h := newControllerHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.discover(ctx))

	// 0.48 + 0.55 gross: no edge, but every leg is tradable.
	h.pushBooks(t, 0.45, 0.55, 0.48, 0.54)
	h.ctrl.scan(ctx, time.Now())

	assert.Empty(t, h.kalshi.PlacedOrders())
	assert.Empty(t, h.poly.PlacedOrders())

	h.events.Close()
	evs := h.store.Evaluations()
	require.NotEmpty(t, evs)
	assert.Equal(t, detector.DecisionNoBuy, evs[len(evs)-1].Decision)
}

func TestScanRejectsLegOutsideTradableBand(t *testing.T) {
	h := newControllerHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.discover(ctx))

	h.pushBooks(t, 0.95, 0.06, 0.48, 0.54)
	now := time.Now()
	h.ctrl.scan(ctx, now)

	assert.Empty(t, h.kalshi.PlacedOrders())
	assert.Empty(t, h.poly.PlacedOrders())

	h.events.Close()
	evs := h.store.Evaluations()
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, detector.DecisionRejected, last.Decision)
	assert.True(t, strings.Contains(last.Reason, "Kalshi YES too high (95.0%)"),
		"reason = %q", last.Reason)

	// The rejected pair sits out its cooldown.
	assert.Empty(t, h.ctrl.monitoredPairs(now.Add(5*time.Second)))
	assert.Len(t, h.ctrl.monitoredPairs(now.Add(20*time.Second)), 1)
}

func TestGlobalCooldownBlocksScan(t *testing.T) {
	h := newControllerHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.discover(ctx))

	h.pushBooks(t, 0.45, 0.55, 0.36, 0.66)

	now := time.Now()
	h.ctrl.mu.Lock()
	h.ctrl.cooldownUntil = now.Add(time.Minute)
	h.ctrl.mu.Unlock()

	h.ctrl.scan(ctx, now)

	assert.Empty(t, h.kalshi.PlacedOrders(), "scan executed during global cooldown")
}

func TestSweepExpiredUnsubscribesAndForgets(t *testing.T) {
	h := newControllerHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ctrl.discover(ctx))

	h.ctrl.mu.Lock()
	for _, entry := range h.ctrl.pairs {
		entry.pair.Kalshi.ResolutionTime = time.Now().UTC().Add(-time.Minute)
	}
	h.ctrl.mu.Unlock()

	h.ctrl.sweepExpired(ctx)

	assert.Equal(t, 0, h.ctrl.pairCount())
	assert.False(t, h.kalshi.Subscribed("KXBTC-1"))
	assert.False(t, h.poly.Subscribed("tok-up"))
	assert.True(t, h.ctrl.takeRediscover(), "expiry must schedule rediscovery")
}

func TestTokenValidationCachesInvalidVerdict(t *testing.T) {
	h := newControllerHarness(t)
	ctx := context.Background()

	h.poly.SetBookErr("tok-up", types.NewVenueError(types.ErrTransient, types.VenuePolymarket,
		"top-of-book", errors.New("unknown token id")))

	require.NoError(t, h.ctrl.discover(ctx))
	assert.Equal(t, 0, h.ctrl.pairCount())
	require.Equal(t, 1, h.poly.TopOfBookCalls("tok-up"))

	// The verdict is cached: the next sweep skips the CLOB round trip.
	require.NoError(t, h.ctrl.discover(ctx))
	assert.Equal(t, 0, h.ctrl.pairCount())
	assert.Equal(t, 1, h.poly.TopOfBookCalls("tok-up"))
}

func TestTokenValidationCachesValidVerdict(t *testing.T) {
	h := newControllerHarness(t)
	ctx := context.Background()

	require.True(t, h.ctrl.validateToken(ctx, "pair", "tok-up"))
	require.True(t, h.ctrl.validateToken(ctx, "pair", "tok-up"))
	assert.Equal(t, 1, h.poly.TopOfBookCalls("tok-up"))
}

func TestRunAppliesStreamUpdates(t *testing.T) {
	h := newControllerHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.ctrl.run(ctx)
	}()

	// No-edge books: the update flows through apply and scan without trading.
	h.kalshi.Push(types.BookUpdate{
		Venue:        types.VenueKalshi,
		InstrumentID: "KXBTC-1",
		Type:         types.BookSnapshot,
		YesAsks:      []types.Level{{Price: 0.45, Size: 500}},
		NoAsks:       []types.Level{{Price: 0.55, Size: 500}},
		ReceivedAt:   time.Now(),
	})

	require.Eventually(t, func() bool {
		return h.ctrl.books.Fresh(types.VenueKalshi, "KXBTC-1", time.Now())
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not stop on cancel")
	}
}
