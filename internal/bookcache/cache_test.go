package bookcache

import (
	"testing"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"go.uber.org/zap"
)

func newTestCache() *Cache {
	return New(500*time.Millisecond, zap.NewNop())
}

func TestSnapshotThenGet(t *testing.T) {
	c := newTestCache()
	now := time.Now()

	c.Apply(types.BookUpdate{
		Venue:        types.VenueKalshi,
		InstrumentID: "KXBTC15M-26AUG241200-T65000",
		Type:         types.BookSnapshot,
		YesAsks:      []types.Level{{Price: 0.46, Size: 200}, {Price: 0.44, Size: 100}},
		NoAsks:       []types.Level{{Price: 0.55, Size: 150}},
		ReceivedAt:   now,
	})

	book, err := c.Get(types.VenueKalshi, "KXBTC15M-26AUG241200-T65000", now)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	best, ok := book.BestYesAsk()
	if !ok || best.Price != 0.44 {
		t.Errorf("best yes ask = %+v, want price 0.44", best)
	}
}

func TestStaleBookRejected(t *testing.T) {
	c := newTestCache()
	now := time.Now()

	c.Apply(types.BookUpdate{
		Venue:        types.VenuePolymarket,
		InstrumentID: "token-1",
		Type:         types.BookSnapshot,
		YesAsks:      []types.Level{{Price: 0.36, Size: 500}},
		ReceivedAt:   now,
	})

	// Inside the window.
	if _, err := c.Get(types.VenuePolymarket, "token-1", now.Add(499*time.Millisecond)); err != nil {
		t.Errorf("fresh read rejected: %v", err)
	}

	// Just past the window.
	_, err := c.Get(types.VenuePolymarket, "token-1", now.Add(501*time.Millisecond))
	if !types.IsKind(err, types.ErrStale) {
		t.Errorf("stale read error = %v, want STALE", err)
	}
}

func TestMissingBookIsStale(t *testing.T) {
	c := newTestCache()

	_, err := c.Get(types.VenueKalshi, "unknown", time.Now())
	if !types.IsKind(err, types.ErrStale) {
		t.Errorf("missing book error = %v, want STALE", err)
	}
}

func TestDeltaMerge(t *testing.T) {
	c := newTestCache()
	now := time.Now()

	c.Apply(types.BookUpdate{
		Venue:        types.VenueKalshi,
		InstrumentID: "mkt",
		Type:         types.BookSnapshot,
		YesAsks:      []types.Level{{Price: 0.44, Size: 100}, {Price: 0.46, Size: 200}},
		ReceivedAt:   now,
	})

	// Remove the top level, resize the next, add a deeper one.
	c.Apply(types.BookUpdate{
		Venue:        types.VenueKalshi,
		InstrumentID: "mkt",
		Type:         types.BookDelta,
		YesAsks: []types.Level{
			{Price: 0.44, Size: 0},
			{Price: 0.46, Size: 50},
			{Price: 0.48, Size: 300},
		},
		ReceivedAt: now.Add(10 * time.Millisecond),
	})

	book, err := c.Get(types.VenueKalshi, "mkt", now.Add(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	want := []types.Level{{Price: 0.46, Size: 50}, {Price: 0.48, Size: 300}}
	if len(book.YesAsks) != len(want) {
		t.Fatalf("levels = %+v, want %+v", book.YesAsks, want)
	}
	for i := range want {
		if book.YesAsks[i] != want[i] {
			t.Errorf("level %d = %+v, want %+v", i, book.YesAsks[i], want[i])
		}
	}
}

func TestDeltaWithoutSnapshotDropped(t *testing.T) {
	c := newTestCache()
	now := time.Now()

	c.Apply(types.BookUpdate{
		Venue:        types.VenueKalshi,
		InstrumentID: "orphan",
		Type:         types.BookDelta,
		YesAsks:      []types.Level{{Price: 0.50, Size: 10}},
		ReceivedAt:   now,
	})

	if c.Len() != 0 {
		t.Errorf("cache len = %d, want 0 after orphan delta", c.Len())
	}
}

func TestSnapshotsDoNotMutatePublishedBooks(t *testing.T) {
	c := newTestCache()
	now := time.Now()

	c.Apply(types.BookUpdate{
		Venue:        types.VenueKalshi,
		InstrumentID: "mkt",
		Type:         types.BookSnapshot,
		YesAsks:      []types.Level{{Price: 0.44, Size: 100}},
		ReceivedAt:   now,
	})

	held, err := c.Get(types.VenueKalshi, "mkt", now)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	c.Apply(types.BookUpdate{
		Venue:        types.VenueKalshi,
		InstrumentID: "mkt",
		Type:         types.BookDelta,
		YesAsks:      []types.Level{{Price: 0.44, Size: 0}},
		ReceivedAt:   now.Add(time.Millisecond),
	})

	if len(held.YesAsks) != 1 || held.YesAsks[0].Size != 100 {
		t.Errorf("held snapshot mutated: %+v", held.YesAsks)
	}
}

func TestDrop(t *testing.T) {
	c := newTestCache()
	now := time.Now()

	c.Apply(types.BookUpdate{
		Venue:        types.VenueKalshi,
		InstrumentID: "mkt",
		Type:         types.BookSnapshot,
		YesAsks:      []types.Level{{Price: 0.44, Size: 100}},
		ReceivedAt:   now,
	})
	c.Drop(types.VenueKalshi, "mkt")

	if c.Fresh(types.VenueKalshi, "mkt", now) {
		t.Error("dropped book still fresh")
	}
}
