package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/internal/storage"
	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"go.uber.org/zap"
)

// BalanceFetcher is the venue call that refreshes the bankroll. In practice
// this is the Kalshi client's Balance method.
type BalanceFetcher func(ctx context.Context) (float64, error)

// MetricsRecorder receives a snapshot of the daily risk counters after each
// mutation. The event log satisfies this; its enqueue never blocks.
type MetricsRecorder interface {
	RecordDailyMetrics(m storage.DailyMetrics)
}

// MetricsLoader reads back a persisted day of counters at startup.
type MetricsLoader interface {
	GetDailyMetrics(ctx context.Context, date string) (*storage.DailyMetrics, error)
}

// Config holds the risk limits, all as fractions of bankroll.
type Config struct {
	MaxRiskPerTrade float64
	MaxDailyLoss    float64
	MaxNetExposure  float64
	SyncInterval    time.Duration
	Recorder        MetricsRecorder // optional, persists counters after each mutation
	Store           MetricsLoader   // optional, restores today's counters at startup
	Logger          *zap.Logger
}

// Gate is the single admission point for trade risk. All mutating operations
// hold one mutex; the consistency of bankroll, exposure and daily PnL matters
// more than lock granularity at this call rate.
type Gate struct {
	config  Config
	logger  *zap.Logger
	fetch   BalanceFetcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu            sync.Mutex
	bankroll      float64
	exposure      float64
	dailyPnl      float64
	killSwitch    bool
	killReason    string
	lastResetDate string // UTC date, YYYY-MM-DD
	lastSync      time.Time
}

// New creates a risk gate. Start launches the background balance sync.
func New(cfg Config, fetch BalanceFetcher) *Gate {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gate{
		config:        cfg,
		logger:        cfg.Logger,
		fetch:         fetch,
		ctx:           ctx,
		cancel:        cancel,
		lastResetDate: time.Now().UTC().Format("2006-01-02"),
	}
}

// Start restores today's persisted counters, runs an initial balance sync and
// then refreshes periodically. The initial sync is fatal when it fails:
// trading with an unknown bankroll is not an option.
func (g *Gate) Start() error {
	if err := g.restoreDailyMetrics(); err != nil {
		// Starting with zeroed counters is survivable; halting is not
		// warranted for a read failure.
		g.logger.Warn("daily-metrics-restore-failed", zap.Error(err))
	}

	err := g.SyncBalance(g.ctx)
	if err != nil {
		return fmt.Errorf("initial balance sync: %w", err)
	}

	g.wg.Add(1)
	go g.syncLoop()

	return nil
}

func (g *Gate) syncLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			err := g.SyncBalance(g.ctx)
			if err != nil {
				// Keep the cached bankroll; a missed sync is not a reason
				// to halt trading.
				g.logger.Warn("balance-sync-failed", zap.Error(err))
				BalanceSyncFailuresTotal.Inc()
			}
		}
	}
}

// SyncBalance refreshes the bankroll from the venue.
func (g *Gate) SyncBalance(ctx context.Context) error {
	balance, err := g.fetch(ctx)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.bankroll = balance
	g.lastSync = time.Now()
	g.mu.Unlock()

	BankrollGauge.Set(balance)
	g.logger.Debug("balance-synced", zap.Float64("bankroll", balance))

	return nil
}

// CanExecute reports whether a trade of the given total cost is admissible.
// The daily reset check runs first so a new UTC day clears yesterday's
// exposure and PnL before any limit fires.
func (g *Gate) CanExecute(amount float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.checkDailyResetLocked(time.Now().UTC())

	if g.killSwitch {
		RejectionsTotal.WithLabelValues("kill_switch").Inc()
		return types.NewVenueError(types.ErrKillSwitch, "", "risk.can-execute",
			fmt.Errorf("kill switch engaged: %s", g.killReason))
	}

	if amount > g.bankroll*g.config.MaxRiskPerTrade {
		RejectionsTotal.WithLabelValues("per_trade_limit").Inc()
		return types.NewVenueError(types.ErrRiskRejected, "", "risk.can-execute",
			fmt.Errorf("amount %.2f exceeds per-trade limit %.2f", amount, g.bankroll*g.config.MaxRiskPerTrade))
	}

	if g.dailyPnl < -g.bankroll*g.config.MaxDailyLoss {
		g.engageKillSwitchLocked(fmt.Sprintf("daily loss %.2f beyond limit", g.dailyPnl))
		RejectionsTotal.WithLabelValues("daily_loss").Inc()
		return types.NewVenueError(types.ErrKillSwitch, "", "risk.can-execute",
			fmt.Errorf("daily loss limit breached: pnl %.2f", g.dailyPnl))
	}

	if g.exposure+amount > g.bankroll*g.config.MaxNetExposure {
		RejectionsTotal.WithLabelValues("net_exposure").Inc()
		return types.NewVenueError(types.ErrRiskRejected, "", "risk.can-execute",
			fmt.Errorf("exposure %.2f + %.2f exceeds limit %.2f", g.exposure, amount, g.bankroll*g.config.MaxNetExposure))
	}

	return nil
}

// RegisterTrade records new exposure after a fill.
func (g *Gate) RegisterTrade(totalCost float64) {
	g.mu.Lock()
	g.exposure += totalCost
	exposure := g.exposure
	g.persistLocked()
	g.mu.Unlock()

	ExposureGauge.Set(exposure)
}

// ClosePosition releases exposure when a position resolves or is unwound.
func (g *Gate) ClosePosition(amount float64) {
	g.mu.Lock()
	g.exposure -= amount
	if g.exposure < 0 {
		g.exposure = 0
	}
	exposure := g.exposure
	g.persistLocked()
	g.mu.Unlock()

	ExposureGauge.Set(exposure)
}

// UpdatePnl applies a realized profit or loss to both bankroll and the
// daily tally.
func (g *Gate) UpdatePnl(delta float64) {
	g.mu.Lock()
	g.bankroll += delta
	g.dailyPnl += delta
	bankroll, pnl := g.bankroll, g.dailyPnl
	g.persistLocked()
	g.mu.Unlock()

	BankrollGauge.Set(bankroll)
	DailyPnlGauge.Set(pnl)
}

// EngageKillSwitch halts all trading until restart.
func (g *Gate) EngageKillSwitch(reason string) {
	g.mu.Lock()
	g.engageKillSwitchLocked(reason)
	g.mu.Unlock()
}

func (g *Gate) engageKillSwitchLocked(reason string) {
	if g.killSwitch {
		return
	}
	g.killSwitch = true
	g.killReason = reason
	KillSwitchGauge.Set(1)
	g.logger.Error("kill-switch-engaged", zap.String("reason", reason))
}

// KillSwitchEngaged reports the kill switch state and its reason.
func (g *Gate) KillSwitchEngaged() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.killSwitch, g.killReason
}

// Bankroll returns the cached bankroll.
func (g *Gate) Bankroll() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bankroll
}

// Exposure returns the current open exposure.
func (g *Gate) Exposure() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exposure
}

// DailyPnl returns today's realized PnL.
func (g *Gate) DailyPnl() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dailyPnl
}

// LastSync returns the time of the last successful balance sync. The
// executor skips its own balance fetch when this is recent enough.
func (g *Gate) LastSync() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastSync
}

// checkDailyResetLocked zeroes the daily counters when the UTC date has
// advanced. Caller holds the mutex.
func (g *Gate) checkDailyResetLocked(now time.Time) {
	today := now.Format("2006-01-02")
	if today == g.lastResetDate {
		return
	}

	g.logger.Info("daily-risk-reset",
		zap.String("date", today),
		zap.Float64("previous-pnl", g.dailyPnl),
		zap.Float64("previous-exposure", g.exposure))

	g.dailyPnl = 0
	g.exposure = 0
	g.lastResetDate = today
	g.persistLocked()

	DailyPnlGauge.Set(0)
	ExposureGauge.Set(0)
	DailyResetsTotal.Inc()
}

// persistLocked queues a snapshot of the daily counters so a restart can pick
// up where today left off. Caller holds the mutex.
func (g *Gate) persistLocked() {
	if g.config.Recorder == nil {
		return
	}
	g.config.Recorder.RecordDailyMetrics(storage.DailyMetrics{
		Date:     g.lastResetDate,
		DailyPnl: g.dailyPnl,
		Exposure: g.exposure,
	})
}

// restoreDailyMetrics reloads today's persisted counters so a restart cannot
// wipe out the daily loss tally.
func (g *Gate) restoreDailyMetrics() error {
	if g.config.Store == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(g.ctx, 5*time.Second)
	defer cancel()

	g.mu.Lock()
	date := g.lastResetDate
	g.mu.Unlock()

	m, err := g.config.Store.GetDailyMetrics(ctx, date)
	if err != nil || m == nil {
		return err
	}

	g.mu.Lock()
	g.dailyPnl = m.DailyPnl
	g.exposure = m.Exposure
	pnl, exposure := g.dailyPnl, g.exposure
	g.mu.Unlock()

	DailyPnlGauge.Set(pnl)
	ExposureGauge.Set(exposure)
	g.logger.Info("daily-metrics-restored",
		zap.String("date", date),
		zap.Float64("daily-pnl", pnl),
		zap.Float64("exposure", exposure))

	return nil
}

// Close stops the background sync.
func (g *Gate) Close() {
	g.cancel()
	g.wg.Wait()
}
