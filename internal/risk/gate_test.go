package risk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/internal/storage"
	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"go.uber.org/zap"
)

func newTestGate(t *testing.T, bankroll float64) *Gate {
	t.Helper()

	g := New(Config{
		MaxRiskPerTrade: 0.90,
		MaxDailyLoss:    0.20,
		MaxNetExposure:  0.50,
		SyncInterval:    time.Hour,
		Logger:          zap.NewNop(),
	}, func(ctx context.Context) (float64, error) {
		return bankroll, nil
	})
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(g.Close)

	return g
}

func TestCanExecuteWithinLimits(t *testing.T) {
	g := newTestGate(t, 1000)

	if err := g.CanExecute(400); err != nil {
		t.Errorf("CanExecute(400) = %v, want nil", err)
	}
}

func TestPerTradeLimit(t *testing.T) {
	g := newTestGate(t, 1000)

	err := g.CanExecute(901)
	if !types.IsKind(err, types.ErrRiskRejected) {
		t.Errorf("CanExecute(901) = %v, want RISK_REJECTED", err)
	}
}

func TestNetExposureLimit(t *testing.T) {
	g := newTestGate(t, 1000)

	g.RegisterTrade(400)

	// 400 + 150 > 1000 * 0.50
	err := g.CanExecute(150)
	if !types.IsKind(err, types.ErrRiskRejected) {
		t.Errorf("CanExecute = %v, want RISK_REJECTED", err)
	}

	g.ClosePosition(400)
	if err := g.CanExecute(150); err != nil {
		t.Errorf("CanExecute after close = %v, want nil", err)
	}
}

func TestDailyLossEngagesKillSwitch(t *testing.T) {
	g := newTestGate(t, 1000)

	g.UpdatePnl(-250) // beyond 1000 * 0.20, but bankroll shrinks too

	err := g.CanExecute(10)
	if !types.IsKind(err, types.ErrKillSwitch) {
		t.Fatalf("CanExecute = %v, want KILL_SWITCH", err)
	}

	engaged, reason := g.KillSwitchEngaged()
	if !engaged {
		t.Error("kill switch not engaged after daily loss breach")
	}
	if reason == "" {
		t.Error("kill switch engaged without a reason")
	}

	// Terminal until restart.
	if err := g.CanExecute(1); !types.IsKind(err, types.ErrKillSwitch) {
		t.Errorf("second CanExecute = %v, want KILL_SWITCH", err)
	}
}

func TestManualKillSwitch(t *testing.T) {
	g := newTestGate(t, 1000)

	g.EngageKillSwitch("operator halt")

	err := g.CanExecute(1)
	if !types.IsKind(err, types.ErrKillSwitch) {
		t.Errorf("CanExecute = %v, want KILL_SWITCH", err)
	}
}

func TestDailyReset(t *testing.T) {
	g := newTestGate(t, 1000)

	g.UpdatePnl(-150)
	g.RegisterTrade(300)

	// Pretend the last reset was yesterday.
	g.mu.Lock()
	g.lastResetDate = time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	g.mu.Unlock()

	if err := g.CanExecute(100); err != nil {
		t.Errorf("CanExecute after rollover = %v, want nil", err)
	}
	if pnl := g.DailyPnl(); pnl != 0 {
		t.Errorf("daily pnl after reset = %f, want 0", pnl)
	}
	if exp := g.Exposure(); exp != 0 {
		t.Errorf("exposure after reset = %f, want 0", exp)
	}
}

func TestFailedSyncRetainsBankroll(t *testing.T) {
	calls := 0
	g := New(Config{
		MaxRiskPerTrade: 0.90,
		MaxDailyLoss:    0.20,
		MaxNetExposure:  0.50,
		SyncInterval:    time.Hour,
		Logger:          zap.NewNop(),
	}, func(ctx context.Context) (float64, error) {
		calls++
		if calls > 1 {
			return 0, errors.New("venue unavailable")
		}
		return 1000, nil
	})
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer g.Close()

	if err := g.SyncBalance(context.Background()); err == nil {
		t.Fatal("expected sync failure")
	}
	if got := g.Bankroll(); got != 1000 {
		t.Errorf("bankroll after failed sync = %f, want cached 1000", got)
	}
}

func TestConcurrentMutations(t *testing.T) {
	g := newTestGate(t, 1_000_000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.RegisterTrade(10)
			g.UpdatePnl(1)
			g.ClosePosition(10)
			_ = g.CanExecute(5)
		}()
	}
	wg.Wait()

	if exp := g.Exposure(); exp != 0 {
		t.Errorf("exposure = %f, want 0 after balanced register/close", exp)
	}
	if pnl := g.DailyPnl(); pnl != 50 {
		t.Errorf("daily pnl = %f, want 50", pnl)
	}
}

func TestLastSyncExposed(t *testing.T) {
	g := newTestGate(t, 1000)

	if g.LastSync().IsZero() {
		t.Error("LastSync zero after successful initial sync")
	}
}

// metricsSink collects the counter snapshots a gate emits.
type metricsSink struct {
	mu   sync.Mutex
	rows []storage.DailyMetrics
}

func (m *metricsSink) RecordDailyMetrics(row storage.DailyMetrics) {
	m.mu.Lock()
	m.rows = append(m.rows, row)
	m.mu.Unlock()
}

func (m *metricsSink) all() []storage.DailyMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.DailyMetrics(nil), m.rows...)
}

// metricsFixture serves a canned daily metrics row.
type metricsFixture struct {
	row *storage.DailyMetrics
	err error
}

func (m *metricsFixture) GetDailyMetrics(ctx context.Context, date string) (*storage.DailyMetrics, error) {
	return m.row, m.err
}

func TestMutationsPersistDailyCounters(t *testing.T) {
	sink := &metricsSink{}
	g := New(Config{
		MaxRiskPerTrade: 0.90,
		MaxDailyLoss:    0.20,
		MaxNetExposure:  0.50,
		SyncInterval:    time.Hour,
		Recorder:        sink,
		Logger:          zap.NewNop(),
	}, func(ctx context.Context) (float64, error) {
		return 1000, nil
	})
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(g.Close)

	g.RegisterTrade(300)
	g.UpdatePnl(-40)
	g.ClosePosition(300)

	rows := sink.all()
	if len(rows) != 3 {
		t.Fatalf("snapshots recorded = %d, want 3", len(rows))
	}

	today := time.Now().UTC().Format("2006-01-02")
	if rows[0].Date != today || rows[0].Exposure != 300 {
		t.Errorf("first snapshot = %+v, want exposure 300 on %s", rows[0], today)
	}

	last := rows[len(rows)-1]
	if last.DailyPnl != -40 || last.Exposure != 0 {
		t.Errorf("final snapshot = %+v, want pnl -40 exposure 0", last)
	}
}

func TestStartRestoresTodaysCounters(t *testing.T) {
	today := time.Now().UTC().Format("2006-01-02")
	g := New(Config{
		MaxRiskPerTrade: 0.90,
		MaxDailyLoss:    0.20,
		MaxNetExposure:  0.50,
		SyncInterval:    time.Hour,
		Store:           &metricsFixture{row: &storage.DailyMetrics{Date: today, DailyPnl: -120, Exposure: 80}},
		Logger:          zap.NewNop(),
	}, func(ctx context.Context) (float64, error) {
		return 1000, nil
	})
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(g.Close)

	if pnl := g.DailyPnl(); pnl != -120 {
		t.Errorf("daily pnl after restart = %f, want -120", pnl)
	}
	if exp := g.Exposure(); exp != 80 {
		t.Errorf("exposure after restart = %f, want 80", exp)
	}

	// The restored loss still counts toward the daily limit.
	g.UpdatePnl(-100)
	if err := g.CanExecute(10); !types.IsKind(err, types.ErrKillSwitch) {
		t.Errorf("CanExecute = %v, want KILL_SWITCH after cumulative loss", err)
	}
}

func TestStartSurvivesRestoreFailure(t *testing.T) {
	g := New(Config{
		MaxRiskPerTrade: 0.90,
		MaxDailyLoss:    0.20,
		MaxNetExposure:  0.50,
		SyncInterval:    time.Hour,
		Store:           &metricsFixture{err: errors.New("database unavailable")},
		Logger:          zap.NewNop(),
	}, func(ctx context.Context) (float64, error) {
		return 1000, nil
	})
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(g.Close)

	if pnl := g.DailyPnl(); pnl != 0 {
		t.Errorf("daily pnl after failed restore = %f, want 0", pnl)
	}
}
