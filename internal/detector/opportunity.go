package detector

import (
	"time"

	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"github.com/google/uuid"
)

// Strategy names the detection scenario that produced an opportunity.
type Strategy string

const (
	// StrategyArbA buys YES on Polymarket and NO on Kalshi.
	StrategyArbA Strategy = "ARB_A"
	// StrategyArbB buys NO on Polymarket and YES on Kalshi.
	StrategyArbB Strategy = "ARB_B"
	// StrategyProb flags a wide probability spread. Logged, never executed.
	StrategyProb Strategy = "PROB"
)

// Opportunity is one actionable detection result. Leg prices are the best
// asks observed at detection time; the executor re-validates against live
// books before placing anything. Token ids are resolved here so the executor
// never touches metadata on the hot path.
type Opportunity struct {
	ID       string
	PairID   string
	Pair     *types.MarketPair
	Strategy Strategy

	KalshiSide  types.OrderSide
	PolySide    types.OrderSide
	KalshiPrice float64
	PolyPrice   float64
	PolyTokenID string

	Gross float64
	Fees  float64
	Net   float64

	DetectedAt time.Time
}

func newOpportunity(pair *types.MarketPair, strategy Strategy, now time.Time) *Opportunity {
	return &Opportunity{
		ID:         uuid.New().String(),
		PairID:     pair.ID,
		Pair:       pair,
		Strategy:   strategy,
		DetectedAt: now,
	}
}
