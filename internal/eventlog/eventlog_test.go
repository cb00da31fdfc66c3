package eventlog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/internal/detector"
	"github.com/crossvenue/kalshi-poly-arb/internal/storage"
	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"go.uber.org/zap"
)

// recordingStore counts writes per method, with an optional per-write delay.
type recordingStore struct {
	storage.Console

	mu    sync.Mutex
	pairs int
	evals int
	trades int
	delay time.Duration
}

func (r *recordingStore) SaveMatchedMarket(ctx context.Context, pair *types.MarketPair) error {
	time.Sleep(r.delay)
	r.mu.Lock()
	r.pairs++
	r.mu.Unlock()
	return nil
}

func (r *recordingStore) SaveEvaluation(ctx context.Context, ev *detector.Evaluation) error {
	time.Sleep(r.delay)
	r.mu.Lock()
	r.evals++
	r.mu.Unlock()
	return nil
}

func (r *recordingStore) SaveTrade(ctx context.Context, rec *types.TradeRecord) error {
	time.Sleep(r.delay)
	r.mu.Lock()
	r.trades++
	r.mu.Unlock()
	return nil
}

func (r *recordingStore) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pairs, r.evals, r.trades
}

func TestEventsReachStore(t *testing.T) {
	store := &recordingStore{Console: *storage.NewConsole(zap.NewNop())}
	log := New(store, 100, zap.NewNop())
	log.Start()

	log.RecordPair(&types.MarketPair{ID: "a|b"})
	log.RecordEvaluation(&detector.Evaluation{PairID: "a|b", Decision: detector.DecisionNoBuy})
	log.RecordTrade(&types.TradeRecord{PairID: "a|b"})

	log.Close()

	pairs, evals, trades := store.counts()
	if pairs != 1 || evals != 1 || trades != 1 {
		t.Errorf("counts = (%d, %d, %d), want (1, 1, 1)", pairs, evals, trades)
	}
}

func TestFullQueueDropsWithoutBlocking(t *testing.T) {
	store := &recordingStore{
		Console: *storage.NewConsole(zap.NewNop()),
		delay:   50 * time.Millisecond,
	}
	log := New(store, 2, zap.NewNop())
	// Writer not started: the queue fills and stays full.

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			log.RecordTrade(&types.TradeRecord{PairID: "a|b"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	store := &recordingStore{Console: *storage.NewConsole(zap.NewNop())}
	log := New(store, 100, zap.NewNop())

	for i := 0; i < 20; i++ {
		log.RecordTrade(&types.TradeRecord{PairID: "a|b"})
	}

	log.Start()
	log.Close()

	_, _, trades := store.counts()
	if trades != 20 {
		t.Errorf("trades written = %d, want 20", trades)
	}
}
