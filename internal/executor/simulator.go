package executor

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"go.uber.org/zap"
)

// simParams shape the simulated fill behavior.
type simParams struct {
	latencyMean     time.Duration
	latencyStd      time.Duration
	minLatency      time.Duration
	slippageProb    float64
	partialProb     float64
	partialFraction float64
}

func defaultSimParams() simParams {
	return simParams{
		latencyMean:     200 * time.Millisecond,
		latencyStd:      50 * time.Millisecond,
		minLatency:      10 * time.Millisecond,
		slippageProb:    0.10,
		partialProb:     0.20,
		partialFraction: 0.90,
	}
}

// simOrder is one in-flight simulated order. The terminal status is decided
// at placement; QueryOrder reports it open until readyAt passes.
type simOrder struct {
	readyAt time.Time
	final   types.OrderStatus
}

// simulator stands in for both venues' order endpoints in simulation mode.
// Fills arrive after a gaussian latency around 200 ms, a slice of orders
// slips and never fills, and an occasional order fills only partially, so
// sizing, polling, unwind, risk and persistence all run unchanged against
// live market data.
type simulator struct {
	logger *zap.Logger
	params simParams

	mu     sync.Mutex
	rng    *rand.Rand
	nextID int
	orders map[string]*simOrder
}

func newSimulator(logger *zap.Logger) *simulator {
	return newSimulatorSeeded(logger, defaultSimParams(), time.Now().UnixNano())
}

func newSimulatorSeeded(logger *zap.Logger, params simParams, seed int64) *simulator {
	return &simulator{
		logger: logger,
		params: params,
		rng:    rand.New(rand.NewSource(seed)),
		orders: make(map[string]*simOrder),
	}
}

func (s *simulator) PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := fmt.Sprintf("sim-%d", s.nextID)

	latency := time.Duration(s.rng.NormFloat64()*float64(s.params.latencyStd) +
		float64(s.params.latencyMean))
	if latency < s.params.minLatency {
		latency = s.params.minLatency
	}

	final := types.OrderStatus{
		OrderID:   id,
		Requested: req.Contracts,
	}
	switch roll := s.rng.Float64(); {
	case roll < s.params.slippageProb:
		// Price moved before the order hit the book; nothing filled.
		final.State = types.OrderCanceled
	case roll < s.params.slippageProb+s.params.partialProb && req.Contracts > 1:
		filled := int(math.Floor(float64(req.Contracts) * s.params.partialFraction))
		if filled >= req.Contracts {
			filled = req.Contracts - 1
		}
		final.State = types.OrderCanceled
		final.Filled = filled
		final.AvgPrice = req.LimitPrice
	default:
		final.State = types.OrderFilled
		final.Filled = req.Contracts
		final.AvgPrice = req.LimitPrice
	}

	s.orders[id] = &simOrder{
		readyAt: time.Now().Add(latency),
		final:   final,
	}

	s.logger.Info("simulated-order-placed",
		zap.String("order-id", id),
		zap.String("instrument", req.InstrumentID),
		zap.String("side", string(req.Side)),
		zap.Int("contracts", req.Contracts),
		zap.Float64("price", req.LimitPrice),
		zap.Duration("latency", latency),
		zap.String("outcome", string(final.State)),
		zap.Int("fills", final.Filled))
	return id, nil
}

func (s *simulator) QueryOrder(ctx context.Context, orderID string) (*types.OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown simulated order %s", orderID)
	}
	if time.Now().Before(order.readyAt) {
		return &types.OrderStatus{
			OrderID:   orderID,
			State:     types.OrderOpen,
			Requested: order.final.Requested,
		}, nil
	}
	cp := order.final
	return &cp, nil
}

func (s *simulator) CancelOrder(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil
	}
	if time.Now().Before(order.readyAt) {
		order.readyAt = time.Now()
		order.final = types.OrderStatus{
			OrderID:   orderID,
			State:     types.OrderCanceled,
			Requested: order.final.Requested,
		}
	}
	return nil
}
