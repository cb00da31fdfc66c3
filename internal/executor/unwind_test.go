package executor

import (
	"context"
	"math"
	"testing"

	"github.com/crossvenue/kalshi-poly-arb/internal/venue/venuetest"
	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"go.uber.org/zap"
)

func TestBuildPlansPrefersCheaperHedge(t *testing.T) {
	fake := venuetest.New(types.VenueKalshi)
	fake.SetBook("KX-1", &types.OrderBook{
		Venue:        types.VenueKalshi,
		InstrumentID: "KX-1",
		YesAsks:      []types.Level{{Price: 0.45, Size: 100}},
		NoAsks:       []types.Level{{Price: 0.55, Size: 100}},
	})

	e := &Executor{config: testConfig(), logger: zap.NewNop()}
	excess := &leg{
		venue:      types.VenueKalshi,
		client:     fake,
		side:       types.SideNo,
		instrument: "KX-1",
		limit:      0.55,
	}

	plans := e.buildPlans(context.Background(), excess, "KX-1", types.SideYes, 4)
	if len(plans) != 2 {
		t.Fatalf("plans = %d, want 2", len(plans))
	}

	// Hedging NO fills at YES 0.45 completes each pair at exactly $1, so it
	// beats the aggressive worst case.
	if plans[0].action != types.UnwindHedge {
		t.Fatalf("first plan = %s, want HEDGE", plans[0].action)
	}
	if math.Abs(plans[0].cost) > 1e-9 {
		t.Errorf("hedge cost = %f, want 0", plans[0].cost)
	}
	if plans[1].action != types.UnwindAggressive {
		t.Errorf("fallback plan = %s, want AGGRESSIVE", plans[1].action)
	}
	wantAggressive := 4 * (0.55 + aggressivePrice - 1)
	if math.Abs(plans[1].cost-wantAggressive) > 1e-9 {
		t.Errorf("aggressive cost = %f, want %f", plans[1].cost, wantAggressive)
	}
}

func TestBuildPlansThinHedgeBookLeavesOnlyAggressive(t *testing.T) {
	fake := venuetest.New(types.VenueKalshi)
	fake.SetBook("KX-1", &types.OrderBook{
		Venue:        types.VenueKalshi,
		InstrumentID: "KX-1",
		YesAsks:      []types.Level{{Price: 0.45, Size: 2}},
		NoAsks:       []types.Level{{Price: 0.55, Size: 2}},
	})

	e := &Executor{config: testConfig(), logger: zap.NewNop()}
	excess := &leg{
		venue:      types.VenueKalshi,
		client:     fake,
		side:       types.SideNo,
		instrument: "KX-1",
		limit:      0.55,
	}

	plans := e.buildPlans(context.Background(), excess, "KX-1", types.SideYes, 10)
	if len(plans) != 1 {
		t.Fatalf("plans = %d, want only aggressive", len(plans))
	}
	if plans[0].action != types.UnwindAggressive {
		t.Errorf("plan = %s, want AGGRESSIVE", plans[0].action)
	}
}

func TestHedgeTargetPolymarketOppositeToken(t *testing.T) {
	e := &Executor{config: testConfig(), logger: zap.NewNop()}
	opp := testOpportunity()

	excess := &leg{venue: types.VenuePolymarket, instrument: "tok-yes", side: types.SideYes}
	instrument, side, err := e.hedgeTarget(opp, excess)
	if err != nil {
		t.Fatalf("hedgeTarget: %v", err)
	}
	if instrument != "tok-no" || side != types.SideYes {
		t.Errorf("hedge = (%s, %s), want (tok-no, YES)", instrument, side)
	}
}
