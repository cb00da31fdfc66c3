package executor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/internal/bookcache"
	"github.com/crossvenue/kalshi-poly-arb/internal/detector"
	"github.com/crossvenue/kalshi-poly-arb/internal/eventlog"
	"github.com/crossvenue/kalshi-poly-arb/internal/risk"
	"github.com/crossvenue/kalshi-poly-arb/internal/venue"
	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"go.uber.org/zap"
)

// kalshiPriceFloor rejects legs priced at or below one cent: the venue cannot
// represent them and a fill there is almost certainly a data error.
const kalshiPriceFloor = 0.01

// fillPhaseTimeout bounds the detached poll-and-settle phase. It covers the
// full polling schedule plus an unwind with room to spare.
const fillPhaseTimeout = 60 * time.Second

// pollDelays is the fill-polling schedule, front-loaded because most limit
// orders at top-of-book either fill immediately or not at all.
var pollDelays = []time.Duration{
	100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond,
	500 * time.Millisecond, time.Second, time.Second,
	2 * time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second,
}

// Config holds the execution parameters.
type Config struct {
	SimulationMode    bool
	MaxRiskPerTrade   float64
	MinProfit         float64
	KalshiTakerRate   float64
	PolyFlatFee       float64
	MinPolyOrderValue float64
	RequestTimeout    time.Duration
	BalanceSyncMaxAge time.Duration
	Logger            *zap.Logger
}

// orderAPI is the slice of venue.Client the order lifecycle needs. The
// simulator implements it too, so simulation mode swaps the trading calls
// while market data keeps flowing from the real clients.
type orderAPI interface {
	PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error)
	QueryOrder(ctx context.Context, orderID string) (*types.OrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Executor turns a detected opportunity into two simultaneous limit orders
// and shepherds them to a terminal outcome. One execution runs at a time;
// the controller serializes calls.
type Executor struct {
	config Config
	logger *zap.Logger
	kalshi venue.Client
	poly   venue.Client
	books  *bookcache.Cache
	gate   *risk.Gate
	events *eventlog.Log

	kalshiOrders orderAPI
	polyOrders   orderAPI
}

// New creates an executor. In simulation mode orders are filled internally
// at their limit price and never reach the venues.
func New(cfg Config, kalshi, poly venue.Client, books *bookcache.Cache, gate *risk.Gate, events *eventlog.Log) *Executor {
	e := &Executor{
		config:       cfg,
		logger:       cfg.Logger,
		kalshi:       kalshi,
		poly:         poly,
		books:        books,
		gate:         gate,
		events:       events,
		kalshiOrders: kalshi,
		polyOrders:   poly,
	}
	if cfg.SimulationMode {
		sim := newSimulator(cfg.Logger)
		e.kalshiOrders = sim
		e.polyOrders = sim
	}
	return e
}

// leg is one side of the two-venue trade.
type leg struct {
	venue      types.Venue
	api        orderAPI
	client     venue.Client
	side       types.OrderSide
	instrument string // kalshi ticker, or poly token id
	limit      float64
	contracts  int

	orderID string
	status  *types.OrderStatus
}

func (l *leg) filled() int {
	if l.status == nil {
		return 0
	}
	return l.status.Filled
}

// Execute attempts the opportunity end to end: size, re-validate against live
// books, pass the risk gate, place both legs, poll fills and resolve any
// imbalance. The returned record is already queued for persistence.
func (e *Executor) Execute(ctx context.Context, opp *detector.Opportunity) (*types.TradeRecord, error) {
	start := time.Now()
	rec := &types.TradeRecord{
		PairID:        opp.PairID,
		OpportunityID: opp.ID,
		Strategy:      string(opp.Strategy),
		Outcome:       types.TradeAborted,
		ExecutedAt:    start,
	}

	err := e.execute(ctx, opp, rec)

	rec.ExecutedAt = time.Now()
	ExecutionsTotal.WithLabelValues(string(rec.Outcome)).Inc()
	ExecutionDuration.Observe(time.Since(start).Seconds())
	e.events.RecordTrade(rec)

	if err != nil {
		e.logger.Warn("execution-aborted",
			zap.String("opportunity-id", opp.ID),
			zap.Error(err))
		return rec, err
	}

	e.logger.Info("execution-complete",
		zap.String("opportunity-id", opp.ID),
		zap.String("outcome", string(rec.Outcome)),
		zap.Int("contracts", rec.Contracts),
		zap.Float64("total-cost", rec.TotalCost))
	return rec, nil
}

func (e *Executor) execute(ctx context.Context, opp *detector.Opportunity, rec *types.TradeRecord) error {
	// Everything before the orders are live runs under one deadline; fill
	// polling afterwards is bounded by its own schedule.
	preCtx, cancel := context.WithTimeout(ctx, e.config.RequestTimeout)
	defer cancel()

	err := e.ensureFreshBalance(preCtx)
	if err != nil {
		return err
	}

	contracts, err := e.size(opp, e.gate.Bankroll())
	if err != nil {
		return err
	}
	rec.Contracts = contracts

	kLeg := &leg{
		venue:      types.VenueKalshi,
		api:        e.kalshiOrders,
		client:     e.kalshi,
		side:       opp.KalshiSide,
		instrument: opp.Pair.Kalshi.Ticker,
		contracts:  contracts,
	}
	pLeg := &leg{
		venue:      types.VenuePolymarket,
		api:        e.polyOrders,
		client:     e.poly,
		side:       opp.PolySide,
		instrument: opp.PolyTokenID,
		contracts:  contracts,
	}

	err = e.validateLegs(preCtx, kLeg, pLeg)
	if err != nil {
		return err
	}

	feesPerContract := e.config.PolyFlatFee + kLeg.limit*e.config.KalshiTakerRate
	net := 1 - kLeg.limit - pLeg.limit - feesPerContract
	if net <= e.config.MinProfit {
		AbortsTotal.WithLabelValues("edge_gone").Inc()
		return fmt.Errorf("edge gone at live prices: net %.4f <= %.4f", net, e.config.MinProfit)
	}

	totalCost := float64(contracts)*(kLeg.limit+pLeg.limit) + float64(contracts)*feesPerContract
	err = e.gate.CanExecute(totalCost)
	if err != nil {
		AbortsTotal.WithLabelValues("risk").Inc()
		return err
	}

	err = e.placeLegs(preCtx, kLeg, pLeg)
	if err != nil {
		return err
	}

	// Once the orders are live, finishing the lifecycle matters more than the
	// caller's cancellation: a shutdown mid-poll would leave resting orders
	// and unresolved imbalances behind. Polling and settlement run detached,
	// bounded by their own deadline.
	fillCtx, cancelFill := context.WithTimeout(context.WithoutCancel(ctx), fillPhaseTimeout)
	defer cancelFill()

	e.pollFills(fillCtx, kLeg, pLeg)

	return e.settle(fillCtx, opp, kLeg, pLeg, rec)
}

// ensureFreshBalance syncs the bankroll unless the background loop did so
// recently enough.
func (e *Executor) ensureFreshBalance(ctx context.Context) error {
	if time.Since(e.gate.LastSync()) <= e.config.BalanceSyncMaxAge {
		return nil
	}
	err := e.gate.SyncBalance(ctx)
	if err != nil {
		AbortsTotal.WithLabelValues("balance_sync").Inc()
		return fmt.Errorf("pre-trade balance sync: %w", err)
	}
	return nil
}

// size computes the contract count from the per-trade budget, raising it to
// meet the Polymarket minimum order value when needed. Raising never exceeds
// the budget; when it would, the trade is not worth placing.
func (e *Executor) size(opp *detector.Opportunity, bankroll float64) (int, error) {
	perContract := opp.KalshiPrice + opp.PolyPrice
	if perContract <= 0 {
		return 0, types.NewVenueError(types.ErrBadPrice, "", "executor.size",
			fmt.Errorf("non-positive combined price %.4f", perContract))
	}

	budget := bankroll * e.config.MaxRiskPerTrade
	contracts := int(budget / perContract)
	if contracts < 1 {
		AbortsTotal.WithLabelValues("budget").Inc()
		return 0, types.NewVenueError(types.ErrRiskRejected, "", "executor.size",
			fmt.Errorf("budget %.2f buys no contracts at %.4f", budget, perContract))
	}

	if opp.PolyPrice*float64(contracts) < e.config.MinPolyOrderValue {
		needed := int(math.Ceil(e.config.MinPolyOrderValue / opp.PolyPrice))
		if float64(needed)*perContract > budget {
			AbortsTotal.WithLabelValues("min_order").Inc()
			return 0, types.NewVenueError(types.ErrBelowMinOrder, types.VenuePolymarket, "executor.size",
				fmt.Errorf("raising to %d contracts for the $%.2f minimum exceeds budget %.2f",
					needed, e.config.MinPolyOrderValue, budget))
		}
		e.logger.Debug("contracts-raised-for-min-order",
			zap.Int("from", contracts), zap.Int("to", needed))
		contracts = needed
	}

	return contracts, nil
}

// validateLegs re-reads both books in parallel, preferring the cache and
// falling back to REST when it is stale, then checks price sanity and
// top-of-book depth. Limits are set to the live best asks.
func (e *Executor) validateLegs(ctx context.Context, kLeg, pLeg *leg) error {
	var wg sync.WaitGroup
	errs := make([]error, 2)

	for i, l := range []*leg{kLeg, pLeg} {
		wg.Add(1)
		go func(i int, l *leg) {
			defer wg.Done()
			errs[i] = e.refreshLeg(ctx, l)
		}(i, l)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			AbortsTotal.WithLabelValues("book_fetch").Inc()
			return err
		}
	}

	for _, l := range []*leg{kLeg, pLeg} {
		if l.limit <= 0 {
			AbortsTotal.WithLabelValues("bad_price").Inc()
			return types.NewVenueError(types.ErrBadPrice, l.venue, "executor.validate",
				fmt.Errorf("non-positive ask %.4f on %s", l.limit, l.instrument))
		}
	}
	if kLeg.limit <= kalshiPriceFloor {
		AbortsTotal.WithLabelValues("bad_price").Inc()
		return types.NewVenueError(types.ErrBadPrice, types.VenueKalshi, "executor.validate",
			fmt.Errorf("kalshi ask %.4f at or below floor", kLeg.limit))
	}

	return nil
}

// refreshLeg fills the leg's limit price and checks depth, from the cache
// when fresh, over REST otherwise.
func (e *Executor) refreshLeg(ctx context.Context, l *leg) error {
	now := time.Now()

	book, err := e.books.Get(l.venue, l.instrument, now)
	if err != nil {
		PreTradeSourceTotal.WithLabelValues(string(l.venue), "rest").Inc()
		book, err = l.client.TopOfBook(ctx, l.instrument)
		if err != nil {
			return err
		}
	} else {
		PreTradeSourceTotal.WithLabelValues(string(l.venue), "cache").Inc()
	}

	best, ok := bestForSide(book, l)
	if !ok {
		return types.NewVenueError(types.ErrNoLiquidity, l.venue, "executor.validate",
			fmt.Errorf("no asks on %s", l.instrument))
	}
	if best.Size < float64(l.contracts) {
		return types.NewVenueError(types.ErrNoLiquidity, l.venue, "executor.validate",
			fmt.Errorf("top size %.0f < %d contracts on %s", best.Size, l.contracts, l.instrument))
	}

	l.limit = best.Price
	return nil
}

// bestForSide picks the ask column matching the leg. Polymarket books are
// keyed by the traded token, whose own asks sit on the YES column regardless
// of which outcome the token represents.
func bestForSide(book *types.OrderBook, l *leg) (types.Level, bool) {
	if l.venue == types.VenueKalshi && l.side == types.SideNo {
		return book.BestNoAsk()
	}
	return book.BestYesAsk()
}

// placeLegs submits both orders concurrently. When exactly one submission
// fails the other order is cancelled immediately; anything it filled in the
// meantime is resolved by the partial-fill path.
func (e *Executor) placeLegs(ctx context.Context, kLeg, pLeg *leg) error {
	var wg sync.WaitGroup
	errs := make([]error, 2)

	for i, l := range []*leg{kLeg, pLeg} {
		wg.Add(1)
		go func(i int, l *leg) {
			defer wg.Done()
			id, err := l.api.PlaceOrder(ctx, types.OrderRequest{
				InstrumentID: l.instrument,
				TokenID:      l.instrument,
				Side:         l.side,
				Contracts:    l.contracts,
				LimitPrice:   l.limit,
			})
			if err != nil {
				errs[i] = err
				return
			}
			l.orderID = id
		}(i, l)
	}
	wg.Wait()

	if errs[0] == nil && errs[1] == nil {
		return nil
	}

	for _, l := range []*leg{kLeg, pLeg} {
		if l.orderID == "" {
			continue
		}
		cancelErr := l.api.CancelOrder(ctx, l.orderID)
		if cancelErr != nil {
			e.logger.Error("cancel-after-failed-placement",
				zap.String("venue", string(l.venue)),
				zap.String("order-id", l.orderID),
				zap.Error(cancelErr))
		}
	}

	AbortsTotal.WithLabelValues("placement").Inc()
	for _, err := range errs {
		if err != nil {
			return fmt.Errorf("leg placement: %w", err)
		}
	}
	return nil
}

// pollFills queries both orders on the fixed schedule until both are
// terminal-or-filled or the schedule runs out.
func (e *Executor) pollFills(ctx context.Context, legs ...*leg) {
	for _, delay := range pollDelays {
		done := true
		for _, l := range legs {
			if l.orderID == "" {
				continue
			}
			status, err := l.api.QueryOrder(ctx, l.orderID)
			if err != nil {
				e.logger.Warn("order-query-failed",
					zap.String("venue", string(l.venue)),
					zap.String("order-id", l.orderID),
					zap.Error(err))
				done = false
				continue
			}
			l.status = status
			if status.State == types.OrderOpen || status.State == types.OrderPartially {
				done = false
			}
		}
		if done {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// settle classifies the fill outcome, resolves any leg imbalance, and books
// the resulting exposure.
func (e *Executor) settle(ctx context.Context, opp *detector.Opportunity, kLeg, pLeg *leg, rec *types.TradeRecord) error {
	e.cancelRemainders(ctx, kLeg, pLeg)

	kFilled, pFilled := kLeg.filled(), pLeg.filled()
	matched := kFilled
	if pFilled < matched {
		matched = pFilled
	}

	rec.KalshiCost = float64(kFilled) * kLeg.limit
	rec.PolyCost = float64(pFilled) * pLeg.limit
	fees := float64(kFilled)*kLeg.limit*e.config.KalshiTakerRate + float64(pFilled)*e.config.PolyFlatFee
	rec.TotalCost = rec.KalshiCost + rec.PolyCost + fees

	switch {
	case kFilled == kLeg.contracts && pFilled == pLeg.contracts:
		rec.Outcome = types.TradeFilled
	case kFilled == 0 && pFilled == 0:
		rec.Outcome = types.TradeAborted
		AbortsTotal.WithLabelValues("no_fill").Inc()
		return nil
	default:
		rec.Outcome = types.TradePartial
		excessLeg, excess := kLeg, kFilled-pFilled
		if pFilled > kFilled {
			excessLeg, excess = pLeg, pFilled-kFilled
		}
		action, cost, needsOperator := e.unwindExcess(ctx, opp, excessLeg, excess)
		rec.Unwind = action
		rec.NeedsOperator = needsOperator
		rec.TotalCost += cost
		if cost != 0 {
			// The unwind premium is realized today, unlike the matched edge
			// below which waits for resolution.
			e.gate.UpdatePnl(-cost)
		}
	}

	if rec.TotalCost > 0 {
		e.gate.RegisterTrade(rec.TotalCost)
	}
	if matched > 0 {
		// The matched contracts lock in the detected edge as realized PnL at
		// resolution; it is booked now so the daily limits see it.
		e.gate.UpdatePnl(float64(matched) * (1 - kLeg.limit - pLeg.limit -
			(e.config.PolyFlatFee + kLeg.limit*e.config.KalshiTakerRate)))
	}
	return nil
}

// cancelRemainders cancels whatever is still resting on either leg.
func (e *Executor) cancelRemainders(ctx context.Context, legs ...*leg) {
	for _, l := range legs {
		if l.orderID == "" || l.status == nil {
			continue
		}
		if l.status.State != types.OrderOpen && l.status.State != types.OrderPartially {
			continue
		}
		err := l.api.CancelOrder(ctx, l.orderID)
		if err != nil {
			e.logger.Warn("cancel-remainder-failed",
				zap.String("venue", string(l.venue)),
				zap.String("order-id", l.orderID),
				zap.Error(err))
		}
	}
}
