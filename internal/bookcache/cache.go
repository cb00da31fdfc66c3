package bookcache

import (
	"sort"
	"sync"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"go.uber.org/zap"
)

// Cache holds the latest order book per instrument, fed by the venue streams.
// Published books are immutable: every update builds a fresh *types.OrderBook
// and swaps the map entry, so readers can hold a snapshot without copying.
//
// Get enforces the freshness window. A stale book is worse than no book: the
// hot path must produce no signal rather than act on old prices.
type Cache struct {
	freshness time.Duration
	logger    *zap.Logger
	mu        sync.RWMutex
	books     map[string]*types.OrderBook
}

// New creates a book cache with the given freshness window.
func New(freshness time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		freshness: freshness,
		logger:    logger,
		books:     make(map[string]*types.OrderBook),
	}
}

func key(venue types.Venue, instrumentID string) string {
	return string(venue) + "|" + instrumentID
}

// Apply merges a stream update into the cache. Snapshots replace the book
// outright; deltas merge changed levels into a copy of the current book. A
// delta for an unknown instrument is dropped, since there is no base book to
// merge into.
func (c *Cache) Apply(u types.BookUpdate) {
	k := key(u.Venue, u.InstrumentID)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch u.Type {
	case types.BookSnapshot:
		c.books[k] = &types.OrderBook{
			Venue:        u.Venue,
			InstrumentID: u.InstrumentID,
			YesAsks:      sortLevels(u.YesAsks),
			NoAsks:       sortLevels(u.NoAsks),
			UpdatedAt:    u.ReceivedAt,
		}
		SnapshotsAppliedTotal.WithLabelValues(string(u.Venue)).Inc()

	case types.BookDelta:
		prev, ok := c.books[k]
		if !ok {
			c.logger.Debug("delta-without-snapshot-dropped",
				zap.String("venue", string(u.Venue)),
				zap.String("instrument", u.InstrumentID))
			DeltasDroppedTotal.WithLabelValues(string(u.Venue)).Inc()
			return
		}
		c.books[k] = &types.OrderBook{
			Venue:        u.Venue,
			InstrumentID: u.InstrumentID,
			YesAsks:      mergeLevels(prev.YesAsks, u.YesAsks),
			NoAsks:       mergeLevels(prev.NoAsks, u.NoAsks),
			UpdatedAt:    u.ReceivedAt,
		}
		DeltasAppliedTotal.WithLabelValues(string(u.Venue)).Inc()
	}

	TrackedBooks.Set(float64(len(c.books)))
}

// Get returns the current book for an instrument if it exists and is within
// the freshness window. A missing book is reported as stale too: the caller's
// reaction is the same either way.
func (c *Cache) Get(venue types.Venue, instrumentID string, now time.Time) (*types.OrderBook, error) {
	c.mu.RLock()
	book, ok := c.books[key(venue, instrumentID)]
	c.mu.RUnlock()

	if !ok {
		StaleReadsTotal.WithLabelValues(string(venue), "missing").Inc()
		return nil, types.NewVenueError(types.ErrStale, venue, "bookcache.get", nil)
	}

	if book.Age(now) > c.freshness {
		StaleReadsTotal.WithLabelValues(string(venue), "expired").Inc()
		return nil, types.NewVenueError(types.ErrStale, venue, "bookcache.get", nil)
	}

	return book, nil
}

// Fresh reports whether a live, in-window book exists for the instrument.
func (c *Cache) Fresh(venue types.Venue, instrumentID string, now time.Time) bool {
	_, err := c.Get(venue, instrumentID, now)
	return err == nil
}

// Drop removes an instrument's book, e.g. after its market expires.
func (c *Cache) Drop(venue types.Venue, instrumentID string) {
	c.mu.Lock()
	delete(c.books, key(venue, instrumentID))
	TrackedBooks.Set(float64(len(c.books)))
	c.mu.Unlock()
}

// Len returns the number of tracked books.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.books)
}

// sortLevels returns a price-ascending copy so index 0 is the best ask.
func sortLevels(levels []types.Level) []types.Level {
	out := make([]types.Level, len(levels))
	copy(out, levels)
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

// mergeLevels applies delta levels onto a copy of the base side. A delta
// level replaces the entry at its price; size zero removes it.
func mergeLevels(base, deltas []types.Level) []types.Level {
	if len(deltas) == 0 {
		return base
	}

	byPrice := make(map[float64]float64, len(base)+len(deltas))
	for _, lvl := range base {
		byPrice[lvl.Price] = lvl.Size
	}
	for _, lvl := range deltas {
		if lvl.Size == 0 {
			delete(byPrice, lvl.Price)
			continue
		}
		byPrice[lvl.Price] = lvl.Size
	}

	out := make([]types.Level, 0, len(byPrice))
	for price, size := range byPrice {
		out = append(out, types.Level{Price: price, Size: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}
