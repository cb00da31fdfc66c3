package executor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/internal/detector"
	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"go.uber.org/zap"
)

// aggressivePrice is the worst-case limit used when no hedge liquidity is
// visible: crossing the whole book up to 99 cents.
const aggressivePrice = 0.99

// unwindPlan is one candidate exit for excess contracts, with its estimated
// cost. A negative cost means the exit still locks in profit.
type unwindPlan struct {
	action types.UnwindAction
	limit  float64
	cost   float64
}

// unwindExcess resolves contracts filled on one venue without a matching
// fill on the other. The exit is a hedge on the SAME venue: buying the
// opposite outcome locks the payout at $1 per contract, so the cost is
// excess * (fillPrice + hedgePrice - 1). The cheapest available plan runs
// first; the aggressive worst-case limit is the fallback. When even that
// fails, the position is flagged for an operator.
func (e *Executor) unwindExcess(ctx context.Context, opp *detector.Opportunity, excessLeg *leg, excess int) (types.UnwindAction, float64, bool) {
	hedgeInstrument, hedgeSide, err := e.hedgeTarget(opp, excessLeg)
	if err != nil {
		e.logger.Error("unwind-no-hedge-target",
			zap.String("venue", string(excessLeg.venue)),
			zap.Error(err))
		UnwindsTotal.WithLabelValues(string(types.UnwindFailed)).Inc()
		return types.UnwindFailed, 0, true
	}

	plans := e.buildPlans(ctx, excessLeg, hedgeInstrument, hedgeSide, excess)

	for _, plan := range plans {
		cost, err := e.runPlan(ctx, plan, excessLeg, hedgeInstrument, hedgeSide, excess)
		if err != nil {
			e.logger.Warn("unwind-plan-failed",
				zap.String("action", string(plan.action)),
				zap.String("venue", string(excessLeg.venue)),
				zap.Error(err))
			continue
		}

		UnwindsTotal.WithLabelValues(string(plan.action)).Inc()
		e.logger.Info("excess-leg-unwound",
			zap.String("action", string(plan.action)),
			zap.String("venue", string(excessLeg.venue)),
			zap.Int("contracts", excess),
			zap.Float64("cost", cost))
		return plan.action, cost, false
	}

	UnwindsTotal.WithLabelValues(string(types.UnwindFailed)).Inc()
	e.logger.Error("unwind-failed-operator-required",
		zap.String("venue", string(excessLeg.venue)),
		zap.String("instrument", excessLeg.instrument),
		zap.Int("contracts", excess))
	return types.UnwindFailed, 0, true
}

// hedgeTarget resolves the instrument and side that completes the excess leg
// into a full $1 pair on its own venue.
func (e *Executor) hedgeTarget(opp *detector.Opportunity, excessLeg *leg) (string, types.OrderSide, error) {
	if excessLeg.venue == types.VenueKalshi {
		side := types.SideYes
		if excessLeg.side == types.SideYes {
			side = types.SideNo
		}
		return excessLeg.instrument, side, nil
	}

	yesToken, noToken, _, err := opp.Pair.Poly.Metadata.ResolveTokens()
	if err != nil {
		return "", "", fmt.Errorf("resolve hedge token: %w", err)
	}
	if excessLeg.instrument == yesToken {
		return noToken, types.SideYes, nil
	}
	return yesToken, types.SideYes, nil
}

// buildPlans orders the candidate exits by absolute cost, cheapest first.
// The aggressive plan is always present so the slice is never empty.
func (e *Executor) buildPlans(ctx context.Context, excessLeg *leg, hedgeInstrument string, hedgeSide types.OrderSide, excess int) []unwindPlan {
	plans := []unwindPlan{{
		action: types.UnwindAggressive,
		limit:  aggressivePrice,
		cost:   float64(excess) * (excessLeg.limit + aggressivePrice - 1),
	}}

	book, err := excessLeg.client.TopOfBook(ctx, hedgeInstrument)
	if err == nil {
		hedgeLeg := &leg{venue: excessLeg.venue, side: hedgeSide}
		best, ok := bestForSide(book, hedgeLeg)
		if ok && best.Price > 0 && best.Size >= float64(excess) {
			plans = append(plans, unwindPlan{
				action: types.UnwindHedge,
				limit:  best.Price,
				cost:   float64(excess) * (excessLeg.limit + best.Price - 1),
			})
		}
	}

	for i := 1; i < len(plans); i++ {
		if math.Abs(plans[i].cost) < math.Abs(plans[0].cost) {
			plans[0], plans[i] = plans[i], plans[0]
		}
	}
	return plans
}

// runPlan places the hedge order and polls it briefly. A hedge that does not
// fill is cancelled and reported as failed so the next plan can run.
func (e *Executor) runPlan(ctx context.Context, plan unwindPlan, excessLeg *leg, hedgeInstrument string, hedgeSide types.OrderSide, excess int) (float64, error) {
	orderID, err := excessLeg.api.PlaceOrder(ctx, types.OrderRequest{
		InstrumentID: hedgeInstrument,
		TokenID:      hedgeInstrument,
		Side:         hedgeSide,
		Contracts:    excess,
		LimitPrice:   plan.limit,
	})
	if err != nil {
		return 0, err
	}

	hedge := &leg{
		venue:      excessLeg.venue,
		api:        excessLeg.api,
		side:       hedgeSide,
		instrument: hedgeInstrument,
		limit:      plan.limit,
		contracts:  excess,
		orderID:    orderID,
	}
	e.pollFills(ctx, hedge)

	if hedge.status != nil && hedge.status.FullyFilled() {
		price := hedge.status.AvgPrice
		if price == 0 {
			price = plan.limit
		}
		return float64(excess) * (excessLeg.limit + price - 1), nil
	}

	cancelErr := excessLeg.api.CancelOrder(ctx, orderID)
	if cancelErr != nil {
		e.logger.Warn("hedge-cancel-failed",
			zap.String("order-id", orderID),
			zap.Error(cancelErr))
	}
	// Give the cancel a moment before the next plan re-reads the book.
	select {
	case <-ctx.Done():
	case <-time.After(100 * time.Millisecond):
	}
	return 0, fmt.Errorf("hedge order %s did not fill", orderID)
}
