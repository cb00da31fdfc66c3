package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/internal/bookcache"
	"github.com/crossvenue/kalshi-poly-arb/internal/detector"
	"github.com/crossvenue/kalshi-poly-arb/internal/eventlog"
	"github.com/crossvenue/kalshi-poly-arb/internal/executor"
	"github.com/crossvenue/kalshi-poly-arb/internal/matcher"
	"github.com/crossvenue/kalshi-poly-arb/internal/risk"
	"github.com/crossvenue/kalshi-poly-arb/internal/venue"
	"github.com/crossvenue/kalshi-poly-arb/pkg/config"
	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// Tradability bounds: legs priced outside this band are too close to settled
// for the fee model to leave an edge, and fills there are one-sided.
const (
	minTradablePrice = 0.10
	maxTradablePrice = 0.90
)

// discoveryKeywords narrows both venues to the 15-minute up-or-down markets.
var discoveryKeywords = []string{"up or down"}

// maintenanceInterval drives expiry sweeps.
const maintenanceInterval = 30 * time.Second

// scanRecoveryPause is how long the hot loop backs off after a panic.
const scanRecoveryPause = 5 * time.Second

// tokenValidationTTL caps how long a token's valid-or-not verdict is reused.
// The same markets re-match on every discovery sweep; their tokens do not
// need a CLOB round trip each time.
const tokenValidationTTL = 10 * time.Minute

// pairEntry tracks one matched pair through its lifecycle.
type pairEntry struct {
	pair          *types.MarketPair
	state         types.PairState
	polyYesToken  string
	cooldownUntil time.Time
}

// controller runs discovery and the hot detection/execution loop. One
// execution happens at a time; while the global cooldown is active the scan
// only watches.
type controller struct {
	cfg    *config.Config
	logger *zap.Logger

	kalshi venue.Client
	poly   venue.Client
	books  *bookcache.Cache
	match  *matcher.Matcher
	detect *detector.Detector
	exec   *executor.Executor
	gate   *risk.Gate
	events *eventlog.Log

	tokenCache *ristretto.Cache

	mu            sync.Mutex
	pairs         map[string]*pairEntry
	cooldownUntil time.Time
	rediscover    bool
}

func newController(
	cfg *config.Config,
	logger *zap.Logger,
	kalshi, poly venue.Client,
	books *bookcache.Cache,
	match *matcher.Matcher,
	detect *detector.Detector,
	exec *executor.Executor,
	gate *risk.Gate,
	events *eventlog.Log,
) (*controller, error) {
	tokenCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}

	return &controller{
		cfg:        cfg,
		logger:     logger,
		kalshi:     kalshi,
		poly:       poly,
		books:      books,
		match:      match,
		detect:     detect,
		exec:       exec,
		gate:       gate,
		events:     events,
		tokenCache: tokenCache,
		pairs:      make(map[string]*pairEntry),
	}, nil
}

func (c *controller) close() {
	c.tokenCache.Close()
}

// run is the controller's main loop: an initial discovery, then stream
// consumption with periodic maintenance. It returns when ctx is cancelled.
func (c *controller) run(ctx context.Context) error {
	err := c.discover(ctx)
	if err != nil {
		return fmt.Errorf("initial discovery: %w", err)
	}

	kUpdates, err := c.kalshi.Subscribe(ctx, nil)
	if err != nil {
		return fmt.Errorf("kalshi subscribe: %w", err)
	}
	pUpdates, err := c.poly.Subscribe(ctx, nil)
	if err != nil {
		return fmt.Errorf("polymarket subscribe: %w", err)
	}

	maintenance := time.NewTicker(maintenanceInterval)
	defer maintenance.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case u, ok := <-kUpdates:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("kalshi update stream closed")
			}
			c.onUpdate(ctx, u)

		case u, ok := <-pUpdates:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("polymarket update stream closed")
			}
			c.onUpdate(ctx, u)

		case <-maintenance.C:
			c.sweepExpired(ctx)
			if c.takeRediscover() {
				err := c.discover(ctx)
				if err != nil {
					c.logger.Warn("rediscovery-failed", zap.Error(err))
				}
			}
		}
	}
}

// onUpdate applies one stream update and scans every monitored pair. A panic
// anywhere in the scan is recorded and the loop pauses briefly rather than
// taking the process down.
func (c *controller) onUpdate(ctx context.Context, u types.BookUpdate) {
	defer func() {
		if r := recover(); r != nil {
			ScanPanicsTotal.Inc()
			c.logger.Error("scan-panic-recovered",
				zap.Any("panic", r),
				zap.String("venue", string(u.Venue)),
				zap.String("instrument", u.InstrumentID))
			select {
			case <-ctx.Done():
			case <-time.After(scanRecoveryPause):
			}
		}
	}()

	c.books.Apply(u)
	c.scan(ctx, time.Now())
}

// scan walks all monitored pairs and hands at most one BUY to the executor.
func (c *controller) scan(ctx context.Context, now time.Time) {
	if engaged, _ := c.gate.KillSwitchEngaged(); engaged {
		return
	}
	if !c.cooldownOver(now) {
		return
	}

	for _, entry := range c.monitoredPairs(now) {
		ev := c.evaluatePair(entry, now)
		if ev == nil {
			continue
		}

		c.events.RecordEvaluation(ev)

		if ev.Decision != detector.DecisionBuy {
			if ev.Decision == detector.DecisionRejected {
				c.setPairCooldown(entry.pair.ID, now.Add(c.cfg.PairCooldown))
			}
			continue
		}

		c.execute(ctx, entry, ev.Opportunity, now)
		return
	}
}

// evaluatePair applies the tradability filter and then runs detection. A leg
// outside the tradable band produces a REJECTED evaluation so the decision
// trail shows why the pair was passed over.
func (c *controller) evaluatePair(entry *pairEntry, now time.Time) *detector.Evaluation {
	prices := c.currentPrices(entry, now)

	if reason, ok := tradable(prices); !ok {
		RejectedPairsTotal.Inc()
		return &detector.Evaluation{
			PairID:   entry.pair.ID,
			KYes:     prices.kYes,
			KNo:      prices.kNo,
			PYes:     prices.pYes,
			PNo:      prices.pNo,
			Decision: detector.DecisionRejected,
			Reason:   reason,
			At:       now,
		}
	}

	return c.detect.Evaluate(entry.pair, now)
}

// legPrices is the four best asks used by the tradability filter.
type legPrices struct {
	kYes, kNo, pYes, pNo float64
}

// currentPrices reads live books where fresh, discovery snapshots otherwise.
func (c *controller) currentPrices(entry *pairEntry, now time.Time) legPrices {
	p := legPrices{
		kYes: entry.pair.Kalshi.YesAsk,
		kNo:  entry.pair.Kalshi.NoAsk,
		pYes: entry.pair.Poly.YesAsk,
		pNo:  entry.pair.Poly.NoAsk,
	}

	if book, err := c.books.Get(types.VenueKalshi, entry.pair.Kalshi.Ticker, now); err == nil {
		if yes, ok := book.BestYesAsk(); ok {
			p.kYes = yes.Price
		}
		if no, ok := book.BestNoAsk(); ok {
			p.kNo = no.Price
		}
	}
	if book, err := c.books.Get(types.VenuePolymarket, entry.polyYesToken, now); err == nil {
		if yes, ok := book.BestYesAsk(); ok {
			p.pYes = yes.Price
		}
		if no, ok := book.BestNoAsk(); ok {
			p.pNo = no.Price
		}
	}
	return p
}

// tradable checks every leg against the tradable band and names the first
// violation.
func tradable(p legPrices) (string, bool) {
	legs := []struct {
		name  string
		price float64
	}{
		{"Kalshi YES", p.kYes},
		{"Kalshi NO", p.kNo},
		{"Polymarket YES", p.pYes},
		{"Polymarket NO", p.pNo},
	}

	for _, leg := range legs {
		if leg.price > maxTradablePrice {
			return fmt.Sprintf("%s too high (%.1f%%)", leg.name, leg.price*100), false
		}
		if leg.price < minTradablePrice {
			return fmt.Sprintf("%s too low (%.1f%%)", leg.name, leg.price*100), false
		}
	}
	return "", true
}

// execute hands one opportunity to the executor and applies both cooldowns.
// Markets move during the cooldown, so a rediscovery is scheduled as well.
func (c *controller) execute(ctx context.Context, entry *pairEntry, opp *detector.Opportunity, now time.Time) {
	c.setState(entry.pair.ID, types.PairExecuting)

	_, err := c.exec.Execute(ctx, opp)
	if err != nil {
		c.logger.Warn("execution-attempt-failed",
			zap.String("pair-id", entry.pair.ID),
			zap.Error(err))
	}

	c.mu.Lock()
	c.cooldownUntil = now.Add(c.cfg.CooldownDuration)
	c.rediscover = true
	if e, ok := c.pairs[entry.pair.ID]; ok {
		e.state = types.PairCooldown
		e.cooldownUntil = now.Add(c.cfg.PairCooldown)
	}
	c.mu.Unlock()

	ExecutionHandoffsTotal.Inc()
}

// discover pulls both venues, matches the cross product and registers any
// new pairs. Registration is idempotent on the pair id.
func (c *controller) discover(ctx context.Context) error {
	filter := venue.Filter{
		Keywords:   discoveryKeywords,
		MaxHorizon: c.cfg.MaxMarketHorizon,
		Limit:      c.cfg.DiscoveryLimit,
	}

	var (
		wg            sync.WaitGroup
		kEvents       []types.MarketEvent
		pEvents       []types.MarketEvent
		kErr, pErr    error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		kEvents, kErr = c.kalshi.Discover(ctx, filter)
	}()
	go func() {
		defer wg.Done()
		pEvents, pErr = c.poly.Discover(ctx, filter)
	}()
	wg.Wait()

	if kErr != nil {
		return fmt.Errorf("kalshi discovery: %w", kErr)
	}
	if pErr != nil {
		return fmt.Errorf("polymarket discovery: %w", pErr)
	}

	matched := 0
	for _, k := range kEvents {
		for _, p := range pEvents {
			pair, ok := c.match.Match(k, p)
			if !ok {
				continue
			}
			if c.registerPair(ctx, pair) {
				matched++
			}
		}
	}

	DiscoveryRunsTotal.Inc()
	c.logger.Info("discovery-complete",
		zap.Int("kalshi-markets", len(kEvents)),
		zap.Int("polymarket-markets", len(pEvents)),
		zap.Int("new-pairs", matched),
		zap.Int("tracked-pairs", c.pairCount()))
	return nil
}

// registerPair validates the pair's Polymarket tokens, subscribes both book
// streams and records the pair. Already-known pairs are skipped.
func (c *controller) registerPair(ctx context.Context, pair *types.MarketPair) bool {
	c.mu.Lock()
	_, known := c.pairs[pair.ID]
	c.mu.Unlock()
	if known {
		return false
	}

	yesToken, _, _, err := pair.Poly.Metadata.ResolveTokens()
	if err != nil {
		c.logger.Warn("pair-dropped-no-tokens",
			zap.String("pair-id", pair.ID),
			zap.Error(err))
		return false
	}

	if !c.validateToken(ctx, pair.ID, yesToken) {
		return false
	}

	_, err = c.kalshi.Subscribe(ctx, []string{pair.Kalshi.Ticker})
	if err != nil {
		c.logger.Warn("pair-dropped-kalshi-subscribe",
			zap.String("pair-id", pair.ID),
			zap.Error(err))
		return false
	}
	_, err = c.poly.Subscribe(ctx, []string{yesToken})
	if err != nil {
		c.logger.Warn("pair-dropped-poly-subscribe",
			zap.String("pair-id", pair.ID),
			zap.Error(err))
		_ = c.kalshi.Unsubscribe(ctx, []string{pair.Kalshi.Ticker})
		return false
	}

	c.mu.Lock()
	c.pairs[pair.ID] = &pairEntry{
		pair:         pair,
		state:        types.PairMonitoring,
		polyYesToken: yesToken,
	}
	c.mu.Unlock()

	c.events.RecordPair(pair)
	TrackedPairs.Set(float64(c.pairCount()))
	c.logger.Info("pair-registered",
		zap.String("pair-id", pair.ID),
		zap.String("kind", string(pair.Kind)),
		zap.Time("resolution", pair.Kalshi.ResolutionTime))
	return true
}

// validateToken checks that the Polymarket token resolves to a live order
// book. Verdicts are cached both ways with a TTL so repeated sweeps over the
// same markets skip the CLOB round trip.
func (c *controller) validateToken(ctx context.Context, pairID, token string) bool {
	if v, ok := c.tokenCache.Get(token); ok {
		valid, _ := v.(bool)
		if !valid {
			TokenValidationTotal.WithLabelValues("cached_invalid").Inc()
			return false
		}
		TokenValidationTotal.WithLabelValues("cached_valid").Inc()
		return true
	}

	// An unknown token id errors here; an empty book does not.
	_, err := c.poly.TopOfBook(ctx, token)
	if err != nil && !types.IsKind(err, types.ErrNoLiquidity) {
		c.tokenCache.SetWithTTL(token, false, 1, tokenValidationTTL)
		c.tokenCache.Wait()
		TokenValidationTotal.WithLabelValues("invalid").Inc()
		c.logger.Warn("pair-dropped-token-validation",
			zap.String("pair-id", pairID),
			zap.String("token-id", token),
			zap.Error(err))
		return false
	}

	c.tokenCache.SetWithTTL(token, true, 1, tokenValidationTTL)
	c.tokenCache.Wait()
	TokenValidationTotal.WithLabelValues("valid").Inc()
	return true
}

// sweepExpired unsubscribes and forgets pairs whose markets have resolved.
func (c *controller) sweepExpired(ctx context.Context) {
	now := time.Now()

	c.mu.Lock()
	var expired []*pairEntry
	for id, entry := range c.pairs {
		if entry.pair.Kalshi.Expired(now) || entry.pair.Poly.Expired(now) {
			entry.state = types.PairExpired
			expired = append(expired, entry)
			delete(c.pairs, id)
		}
	}
	c.mu.Unlock()

	for _, entry := range expired {
		_ = c.kalshi.Unsubscribe(ctx, []string{entry.pair.Kalshi.Ticker})
		_ = c.poly.Unsubscribe(ctx, []string{entry.polyYesToken})
		c.books.Drop(types.VenueKalshi, entry.pair.Kalshi.Ticker)
		c.books.Drop(types.VenuePolymarket, entry.polyYesToken)
		c.logger.Info("pair-expired", zap.String("pair-id", entry.pair.ID))
	}

	if len(expired) > 0 {
		TrackedPairs.Set(float64(c.pairCount()))
		c.markRediscover()
	}
}

func (c *controller) cooldownOver(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !now.Before(c.cooldownUntil)
}

// monitoredPairs snapshots the entries eligible for scanning.
func (c *controller) monitoredPairs(now time.Time) []*pairEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*pairEntry, 0, len(c.pairs))
	for _, entry := range c.pairs {
		if entry.state == types.PairCooldown && !now.Before(entry.cooldownUntil) {
			entry.state = types.PairMonitoring
		}
		if entry.state != types.PairMonitoring {
			continue
		}
		if now.Before(entry.cooldownUntil) {
			continue
		}
		if entry.pair.Kalshi.Expired(now) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func (c *controller) setState(pairID string, state types.PairState) {
	c.mu.Lock()
	if entry, ok := c.pairs[pairID]; ok {
		entry.state = state
	}
	c.mu.Unlock()
}

func (c *controller) setPairCooldown(pairID string, until time.Time) {
	c.mu.Lock()
	if entry, ok := c.pairs[pairID]; ok {
		entry.cooldownUntil = until
	}
	c.mu.Unlock()
}

func (c *controller) pairCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pairs)
}

func (c *controller) markRediscover() {
	c.mu.Lock()
	c.rediscover = true
	c.mu.Unlock()
}

func (c *controller) takeRediscover() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.rediscover
	c.rediscover = false
	return v
}
