package polymarket

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"github.com/crossvenue/kalshi-poly-arb/pkg/websocket"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// stream maintains the CLOB market channel. Each "book" event is a full
// snapshot; "price_change" events carry absolute level sizes and map onto
// incremental deltas. Instrument ids here are YES token ids.
type stream struct {
	config  Config
	logger  *zap.Logger
	manager *websocket.Manager
	updates chan types.BookUpdate

	mu          sync.Mutex
	subscribed  map[string]bool
	started     bool
	initialSent bool

	wg sync.WaitGroup
}

func newStream(cfg Config, logger *zap.Logger) *stream {
	return &stream{
		config:     cfg,
		logger:     logger,
		updates:    make(chan types.BookUpdate, cfg.WSMessageBufferSize),
		subscribed: make(map[string]bool),
	}
}

func (s *stream) subscribe(ctx context.Context, ids []string) (<-chan types.BookUpdate, error) {
	err := s.ensureStarted()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	fresh := make([]string, 0, len(ids))
	for _, id := range ids {
		if !s.subscribed[id] {
			s.subscribed[id] = true
			fresh = append(fresh, id)
		}
	}
	s.mu.Unlock()

	if len(fresh) == 0 {
		return s.updates, nil
	}

	s.mu.Lock()
	initial := !s.initialSent
	s.initialSent = true
	s.mu.Unlock()

	err = s.sendSubscribe(fresh, initial)
	if err != nil {
		s.mu.Lock()
		for _, id := range fresh {
			delete(s.subscribed, id)
		}
		s.mu.Unlock()
		return nil, types.NewVenueError(types.ErrTransient, types.VenuePolymarket, "subscribe", err)
	}

	s.logger.Info("polymarket-subscribed", zap.Int("tokens", len(fresh)))
	return s.updates, nil
}

// unsubscribe drops local interest and filters further updates; the CLOB's
// per-asset unsubscribe is not relied upon.
func (s *stream) unsubscribe(ctx context.Context, ids []string) error {
	s.mu.Lock()
	for _, id := range ids {
		delete(s.subscribed, id)
	}
	s.mu.Unlock()
	return nil
}

func (s *stream) ensureStarted() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	mgr := websocket.New(websocket.Config{
		Name:                  "polymarket",
		URL:                   s.config.WSURL,
		DialTimeout:           s.config.WSDialTimeout,
		PingInterval:          s.config.WSPingInterval,
		ReconnectInitialDelay: s.config.WSReconnectInitialDelay,
		ReconnectMaxDelay:     s.config.WSReconnectMaxDelay,
		ReconnectBackoffMult:  s.config.WSReconnectBackoffMult,
		MessageBufferSize:     s.config.WSMessageBufferSize,
		Logger:                s.logger,
	})
	mgr.OnReconnect(s.resubscribeAll)

	err := mgr.Start()
	if err != nil {
		return types.NewVenueError(types.ErrTransient, types.VenuePolymarket, "stream.start", err)
	}

	s.manager = mgr
	s.started = true

	s.wg.Add(1)
	go s.parseLoop()

	return nil
}

// sendSubscribe issues the market-channel subscribe. The initial message uses
// the "type" field; later additions on a live socket use "operation".
func (s *stream) sendSubscribe(assetIDs []string, initial bool) error {
	if initial {
		return s.manager.WriteJSON(map[string]interface{}{
			"assets_ids": assetIDs,
			"type":       "market",
		})
	}
	return s.manager.WriteJSON(map[string]interface{}{
		"assets_ids": assetIDs,
		"operation":  "subscribe",
	})
}

func (s *stream) resubscribeAll(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.subscribed))
	for id := range s.subscribed {
		ids = append(ids, id)
	}
	s.initialSent = true
	s.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	return s.sendSubscribe(ids, true)
}

type wsBookEvent struct {
	EventType string      `json:"event_type"`
	AssetID   string      `json:"asset_id"`
	Bids      []bookLevel `json:"bids"`
	Asks      []bookLevel `json:"asks"`
	Changes   []wsChange  `json:"changes"`
}

type wsChange struct {
	Price string `json:"price"`
	Side  string `json:"side"`
	Size  string `json:"size"`
}

func (s *stream) parseLoop() {
	defer s.wg.Done()

	for frame := range s.manager.Frames() {
		// Control frames arrive as bare strings.
		if len(frame) == 0 || frame[0] == '"' {
			continue
		}

		// The channel frames both single events and arrays of events.
		var events []wsBookEvent
		if frame[0] == '[' {
			if err := json.Unmarshal(frame, &events); err != nil {
				s.logger.Debug("polymarket-unparseable-frame", zap.Error(err))
				continue
			}
		} else {
			var ev wsBookEvent
			if err := json.Unmarshal(frame, &ev); err != nil {
				s.logger.Debug("polymarket-unparseable-frame", zap.Error(err))
				continue
			}
			events = append(events, ev)
		}

		for i := range events {
			s.handleEvent(&events[i])
		}
	}
}

func (s *stream) handleEvent(ev *wsBookEvent) {
	s.mu.Lock()
	interested := s.subscribed[ev.AssetID]
	s.mu.Unlock()
	if !interested {
		return
	}

	switch ev.EventType {
	case "book":
		s.emit(types.BookUpdate{
			Venue:        types.VenuePolymarket,
			InstrumentID: ev.AssetID,
			Type:         types.BookSnapshot,
			YesAsks:      parseLevels(ev.Asks, false),
			NoAsks:       parseLevels(ev.Bids, true),
			ReceivedAt:   time.Now(),
		})
	case "price_change":
		update := changesToDelta(ev)
		if update != nil {
			s.emit(*update)
		}
	}
}

// changesToDelta maps price_change entries onto both normalized sides: a SELL
// level is a YES ask at its own price, a BUY level a NO ask at the complement.
// Sizes are absolute, so zero removes the level downstream.
func changesToDelta(ev *wsBookEvent) *types.BookUpdate {
	update := &types.BookUpdate{
		Venue:        types.VenuePolymarket,
		InstrumentID: ev.AssetID,
		Type:         types.BookDelta,
		ReceivedAt:   time.Now(),
	}

	for _, ch := range ev.Changes {
		price, err := strconv.ParseFloat(ch.Price, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(ch.Size, 64)
		if err != nil {
			continue
		}
		switch ch.Side {
		case "SELL":
			update.YesAsks = append(update.YesAsks, types.Level{Price: price, Size: size})
		case "BUY":
			update.NoAsks = append(update.NoAsks, types.Level{Price: 1 - price, Size: size})
		}
	}

	if len(update.YesAsks) == 0 && len(update.NoAsks) == 0 {
		return nil
	}
	sort.Slice(update.YesAsks, func(i, j int) bool { return update.YesAsks[i].Price < update.YesAsks[j].Price })
	sort.Slice(update.NoAsks, func(i, j int) bool { return update.NoAsks[i].Price < update.NoAsks[j].Price })
	return update
}

func (s *stream) emit(u types.BookUpdate) {
	select {
	case s.updates <- u:
	default:
		s.logger.Warn("polymarket-update-channel-full",
			zap.String("token-id", u.InstrumentID))
	}
}

func (s *stream) close() error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}

	err := s.manager.Close()
	s.wg.Wait()
	close(s.updates)
	if err != nil {
		return fmt.Errorf("close polymarket stream: %w", err)
	}
	return nil
}
