package kalshi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"github.com/crossvenue/kalshi-poly-arb/pkg/websocket"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// stream maintains the orderbook_delta subscription. Kalshi publishes bid
// books per side and signed deltas against them, so the stream keeps the raw
// cent-level state per ticker and emits a normalized full snapshot on every
// change; the book cache never sees venue-native framing.
type stream struct {
	config  Config
	signer  *signer
	logger  *zap.Logger
	manager *websocket.Manager
	updates chan types.BookUpdate

	mu         sync.Mutex
	subscribed map[string]bool
	books      map[string]*rawBook
	nextCmdID  int
	started    bool

	wg sync.WaitGroup
}

// rawBook is the venue-native state: resting bid sizes per cent price.
type rawBook struct {
	yesBids map[int]float64
	noBids  map[int]float64
}

func newStream(cfg Config, s *signer, logger *zap.Logger) *stream {
	return &stream{
		config:     cfg,
		signer:     s,
		logger:     logger,
		updates:    make(chan types.BookUpdate, cfg.WSMessageBufferSize),
		subscribed: make(map[string]bool),
		books:      make(map[string]*rawBook),
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

	err = s.sendSubscribe(fresh)
	if err != nil {
		s.mu.Lock()
		for _, id := range fresh {
			delete(s.subscribed, id)
		}
		s.mu.Unlock()
		return nil, types.NewVenueError(types.ErrTransient, types.VenueKalshi, "subscribe", err)
	}

	s.logger.Info("kalshi-subscribed", zap.Int("tickers", len(fresh)))
	return s.updates, nil
}

// unsubscribe drops local interest. The server-side subscription stays; its
// updates are filtered out, which costs a little bandwidth but avoids
// tracking Kalshi subscription sids.
func (s *stream) unsubscribe(ctx context.Context, ids []string) error {
	s.mu.Lock()
	for _, id := range ids {
		delete(s.subscribed, id)
		delete(s.books, id)
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
		Name:                  "kalshi",
		URL:                   s.config.WSURL,
		HeaderFunc:            s.dialHeaders,
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
		return types.NewVenueError(types.ErrTransient, types.VenueKalshi, "stream.start", err)
	}

	s.manager = mgr
	s.started = true

	s.wg.Add(1)
	go s.parseLoop()

	return nil
}

func (s *stream) dialHeaders() (http.Header, error) {
	if s.signer == nil {
		return nil, nil
	}
	return s.signer.headers(http.MethodGet, "/trade-api/ws/v2")
}

type wsCommand struct {
	ID     int      `json:"id"`
	Cmd    string   `json:"cmd"`
	Params wsParams `json:"params"`
}

type wsParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers"`
}

func (s *stream) sendSubscribe(tickers []string) error {
	s.mu.Lock()
	s.nextCmdID++
	id := s.nextCmdID
	s.mu.Unlock()

	return s.manager.WriteJSON(wsCommand{
		ID:  id,
		Cmd: "subscribe",
		Params: wsParams{
			Channels:      []string{"orderbook_delta"},
			MarketTickers: tickers,
		},
	})
}

func (s *stream) resubscribeAll(ctx context.Context) error {
	s.mu.Lock()
	tickers := make([]string, 0, len(s.subscribed))
	for id := range s.subscribed {
		tickers = append(tickers, id)
	}
	// Books are rebuilt from the post-reconnect snapshots.
	s.books = make(map[string]*rawBook)
	s.mu.Unlock()

	if len(tickers) == 0 {
		return nil
	}
	return s.sendSubscribe(tickers)
}

type wsMessage struct {
	Type string `json:"type"`
	Msg  struct {
		MarketTicker string      `json:"market_ticker"`
		Yes          [][]float64 `json:"yes"`
		No           [][]float64 `json:"no"`
		Price        int         `json:"price"`
		Delta        float64     `json:"delta"`
		Side         string      `json:"side"`
	} `json:"msg"`
}

func (s *stream) parseLoop() {
	defer s.wg.Done()

	for frame := range s.manager.Frames() {
		var msg wsMessage
		err := json.Unmarshal(frame, &msg)
		if err != nil {
			s.logger.Debug("kalshi-unparseable-frame", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "orderbook_snapshot":
			s.applySnapshot(&msg)
		case "orderbook_delta":
			s.applyDelta(&msg)
		case "error":
			s.logger.Warn("kalshi-stream-error", zap.ByteString("frame", frame))
		}
	}
}

func (s *stream) applySnapshot(msg *wsMessage) {
	ticker := msg.Msg.MarketTicker

	book := &rawBook{
		yesBids: make(map[int]float64),
		noBids:  make(map[int]float64),
	}
	for _, lvl := range msg.Msg.Yes {
		if len(lvl) >= 2 {
			book.yesBids[int(lvl[0])] = lvl[1]
		}
	}
	for _, lvl := range msg.Msg.No {
		if len(lvl) >= 2 {
			book.noBids[int(lvl[0])] = lvl[1]
		}
	}

	s.mu.Lock()
	if !s.subscribed[ticker] {
		s.mu.Unlock()
		return
	}
	s.books[ticker] = book
	update := s.normalizeLocked(ticker, book)
	s.mu.Unlock()

	s.emit(update)
}

func (s *stream) applyDelta(msg *wsMessage) {
	ticker := msg.Msg.MarketTicker

	s.mu.Lock()
	book, ok := s.books[ticker]
	if !ok || !s.subscribed[ticker] {
		s.mu.Unlock()
		return
	}

	side := book.yesBids
	if msg.Msg.Side == "no" {
		side = book.noBids
	}
	size := side[msg.Msg.Price] + msg.Msg.Delta
	if size <= 0 {
		delete(side, msg.Msg.Price)
	} else {
		side[msg.Msg.Price] = size
	}

	update := s.normalizeLocked(ticker, book)
	s.mu.Unlock()

	s.emit(update)
}

// normalizeLocked converts the raw bid state into ask-side levels: YES asks
// from NO bids, NO asks from YES bids. Caller holds the mutex.
func (s *stream) normalizeLocked(ticker string, book *rawBook) types.BookUpdate {
	return types.BookUpdate{
		Venue:        types.VenueKalshi,
		InstrumentID: ticker,
		Type:         types.BookSnapshot,
		YesAsks:      bidsToAsks(book.noBids),
		NoAsks:       bidsToAsks(book.yesBids),
		ReceivedAt:   time.Now(),
	}
}

func bidsToAsks(bids map[int]float64) []types.Level {
	out := make([]types.Level, 0, len(bids))
	for cents, size := range bids {
		out = append(out, types.Level{
			Price: 1 - float64(cents)/100,
			Size:  size,
		})
	}
	return out
}

func (s *stream) emit(u types.BookUpdate) {
	select {
	case s.updates <- u:
	default:
		s.logger.Warn("kalshi-update-channel-full",
			zap.String("ticker", u.InstrumentID))
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
		return fmt.Errorf("close kalshi stream: %w", err)
	}
	return nil
}
