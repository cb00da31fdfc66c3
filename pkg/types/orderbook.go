package types

import (
	"time"
)

// Level is one (price, size) entry on a book side. Prices are probability
// units; sizes are contracts.
type Level struct {
	Price float64
	Size  float64
}

// OrderBook holds the price-ascending ask levels for both outcomes of one
// instrument. Venue clients normalize on ingress: Kalshi books carry native
// YES and NO asks, Polymarket books carry the YES token's asks plus NO asks
// derived from its bids (price = 1 - bid). Only top-of-book is consulted by
// detection.
type OrderBook struct {
	Venue        Venue
	InstrumentID string
	YesAsks      []Level
	NoAsks       []Level
	UpdatedAt    time.Time
}

// BestYesAsk returns the top of the YES side, or false when empty.
func (b *OrderBook) BestYesAsk() (Level, bool) {
	if len(b.YesAsks) == 0 {
		return Level{}, false
	}
	return b.YesAsks[0], true
}

// BestNoAsk returns the top of the NO side, or false when empty.
func (b *OrderBook) BestNoAsk() (Level, bool) {
	if len(b.NoAsks) == 0 {
		return Level{}, false
	}
	return b.NoAsks[0], true
}

// Age reports how old the book is relative to now.
func (b *OrderBook) Age(now time.Time) time.Duration {
	return now.Sub(b.UpdatedAt)
}

// BookUpdateType distinguishes full snapshots from incremental deltas.
type BookUpdateType int

const (
	BookSnapshot BookUpdateType = iota
	BookDelta
)

// BookUpdate is one message from a venue stream, already normalized to
// probability prices. Deltas carry only the sides that changed.
type BookUpdate struct {
	Venue        Venue
	InstrumentID string
	Type         BookUpdateType
	YesAsks      []Level
	NoAsks       []Level
	ReceivedAt   time.Time
}
