package types

import (
	"time"
)

// OrderSide is the outcome being bought.
type OrderSide string

const (
	SideYes OrderSide = "YES"
	SideNo  OrderSide = "NO"
)

// OrderRequest is a venue-agnostic limit order. TokenID is only meaningful
// for outcome-token venues and is resolved from event metadata before the
// hot path.
type OrderRequest struct {
	InstrumentID string
	TokenID      string
	Side         OrderSide
	Contracts    int
	LimitPrice   float64 // probability units
}

// OrderState is the terminal view the executor reasons about.
type OrderState string

const (
	OrderOpen      OrderState = "open"
	OrderFilled    OrderState = "filled"
	OrderPartially OrderState = "partial"
	OrderCanceled  OrderState = "canceled"
	OrderRejected  OrderState = "rejected"
)

// OrderStatus is the result of querying an order.
type OrderStatus struct {
	OrderID   string
	State     OrderState
	Requested int
	Filled    int
	AvgPrice  float64
}

// FullyFilled reports whether every requested contract was matched.
func (s *OrderStatus) FullyFilled() bool {
	return s.Filled >= s.Requested
}

// TradeOutcome classifies a two-leg execution attempt.
type TradeOutcome string

const (
	TradeFilled  TradeOutcome = "FILLED"
	TradePartial TradeOutcome = "PARTIAL"
	TradeAborted TradeOutcome = "ABORTED"
)

// UnwindAction is the exit chosen for an excess leg after a partial fill.
type UnwindAction string

const (
	UnwindNone       UnwindAction = ""
	UnwindCancel     UnwindAction = "CANCEL"
	UnwindHedge      UnwindAction = "HEDGE"
	UnwindAggressive UnwindAction = "AGGRESSIVE"
	UnwindFailed     UnwindAction = "FAILED"
)

// TradeRecord is the append-only record of one execution attempt.
type TradeRecord struct {
	PairID        string
	OpportunityID string
	Contracts     int
	KalshiCost    float64
	PolyCost      float64
	TotalCost     float64 // including fees
	Outcome       TradeOutcome
	Unwind        UnwindAction
	NeedsOperator bool
	Strategy      string
	ExecutedAt    time.Time
}
