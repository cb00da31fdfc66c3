package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/internal/detector"
	"github.com/crossvenue/kalshi-poly-arb/internal/storage"
	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"go.uber.org/zap"
)

// event is one queued write. Exactly one field is set.
type event struct {
	pair       *types.MarketPair
	evaluation *detector.Evaluation
	trade      *types.TradeRecord
	metrics    *storage.DailyMetrics
}

// Log decouples the hot path from storage latency: producers enqueue without
// blocking and a single writer goroutine drains into the store. When the
// queue is full the event is dropped with a warning; losing a record beats
// stalling a stream reader.
type Log struct {
	store    storage.Store
	logger   *zap.Logger
	queue    chan event
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	timeout  time.Duration
}

// New creates an event log with the given queue capacity.
func New(store storage.Store, queueSize int, logger *zap.Logger) *Log {
	return &Log{
		store:   store,
		logger:  logger,
		queue:   make(chan event, queueSize),
		done:    make(chan struct{}),
		timeout: 5 * time.Second,
	}
}

// Start launches the writer goroutine.
func (l *Log) Start() {
	l.wg.Add(1)
	go l.writeLoop()
}

// RecordPair queues a matched pair registration.
func (l *Log) RecordPair(pair *types.MarketPair) {
	l.enqueue(event{pair: pair}, "pair")
}

// RecordEvaluation queues a detection decision.
func (l *Log) RecordEvaluation(ev *detector.Evaluation) {
	l.enqueue(event{evaluation: ev}, "evaluation")
}

// RecordTrade queues an execution attempt.
func (l *Log) RecordTrade(rec *types.TradeRecord) {
	l.enqueue(event{trade: rec}, "trade")
}

// RecordDailyMetrics queues a daily risk counter upsert.
func (l *Log) RecordDailyMetrics(m storage.DailyMetrics) {
	l.enqueue(event{metrics: &m}, "daily_metrics")
}

func (l *Log) enqueue(e event, kind string) {
	select {
	case l.queue <- e:
		EnqueuedTotal.WithLabelValues(kind).Inc()
	default:
		l.logger.Warn("event-queue-full-dropping", zap.String("kind", kind))
		DroppedTotal.WithLabelValues(kind).Inc()
	}
	QueueDepth.Set(float64(len(l.queue)))
}

func (l *Log) writeLoop() {
	defer l.wg.Done()

	for {
		select {
		case e := <-l.queue:
			l.write(e)
		case <-l.done:
			// Drain whatever is already queued, then stop.
			for {
				select {
				case e := <-l.queue:
					l.write(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Log) write(e event) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	var err error
	switch {
	case e.pair != nil:
		err = l.store.SaveMatchedMarket(ctx, e.pair)
	case e.evaluation != nil:
		err = l.store.SaveEvaluation(ctx, e.evaluation)
	case e.trade != nil:
		err = l.store.SaveTrade(ctx, e.trade)
	case e.metrics != nil:
		err = l.store.UpsertDailyMetrics(ctx, *e.metrics)
	}

	if err != nil {
		l.logger.Error("event-write-failed", zap.Error(err))
	}
	QueueDepth.Set(float64(len(l.queue)))
}

// Close drains the queue and stops the writer. Producers must have stopped.
// Safe to call more than once.
func (l *Log) Close() {
	l.stopOnce.Do(func() { close(l.done) })
	l.wg.Wait()
}
