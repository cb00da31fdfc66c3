package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Manager owns a single WebSocket connection and keeps it alive. It delivers
// raw frames on a buffered channel; parsing is the caller's job since the two
// venues speak different dialects. On reconnect the registered resubscribe
// hook runs before frames flow again.
type Manager struct {
	name            string
	url             string
	conn            *websocket.Conn
	logger          *zap.Logger
	backoff         *Backoff
	config          Config
	frames          chan []byte
	resubscribe     func(ctx context.Context) error
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	mu              sync.RWMutex
	connected       atomic.Bool
	connectionStart atomic.Int64
}

// Config holds WebSocket manager configuration. Name labels logs and metrics
// with the venue this connection serves. HeaderFunc, when set, is invoked on
// every dial so signature timestamps stay current across reconnects.
type Config struct {
	Name                  string
	URL                   string
	HeaderFunc            func() (http.Header, error)
	DialTimeout           time.Duration
	PingInterval          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
	MessageBufferSize     int
	Logger                *zap.Logger
}

// New creates a WebSocket manager. Start must be called before frames flow.
func New(cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		name:   cfg.Name,
		url:    cfg.URL,
		logger: cfg.Logger.With(zap.String("venue", cfg.Name)),
		backoff: NewBackoff(BackoffConfig{
			InitialDelay: cfg.ReconnectInitialDelay,
			MaxDelay:     cfg.ReconnectMaxDelay,
			Multiplier:   cfg.ReconnectBackoffMult,
			JitterFrac:   0.2,
		}),
		config: cfg,
		frames: make(chan []byte, cfg.MessageBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnReconnect registers the hook that restores venue subscriptions after a
// reconnect. Must be called before Start.
func (m *Manager) OnReconnect(fn func(ctx context.Context) error) {
	m.resubscribe = fn
}

// Start dials the venue and launches the read, ping and reconnect loops.
func (m *Manager) Start() error {
	m.logger.Info("websocket-manager-starting", zap.String("url", m.url))

	err := m.connect(m.ctx)
	if err != nil {
		return fmt.Errorf("initial connection: %w", err)
	}

	m.wg.Add(3)
	go m.readLoop()
	go m.pingLoop()
	go m.reconnectLoop()

	return nil
}

func (m *Manager) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.DialTimeout,
	}

	var header http.Header
	if m.config.HeaderFunc != nil {
		var err error
		header, err = m.config.HeaderFunc()
		if err != nil {
			return fmt.Errorf("build dial headers: %w", err)
		}
	}

	conn, _, err := dialer.DialContext(ctx, m.url, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.url, err)
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	m.connected.Store(true)
	m.connectionStart.Store(time.Now().Unix())
	ActiveConnections.WithLabelValues(m.name).Set(1)

	m.logger.Info("websocket-connected")

	return nil
}

// WriteJSON sends a control or subscription payload on the live connection.
func (m *Manager) WriteJSON(v interface{}) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !m.connected.Load() {
		return fmt.Errorf("%s websocket not connected", m.name)
	}

	return conn.WriteJSON(v)
}

// Frames returns the channel of raw frames read from the connection.
func (m *Manager) Frames() <-chan []byte {
	return m.frames
}

// Connected reports whether the underlying connection is live.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

func (m *Manager) readLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		m.mu.RLock()
		conn := m.conn
		m.mu.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			m.logger.Warn("read-error", zap.Error(err))

			startTime := m.connectionStart.Load()
			if startTime > 0 {
				ConnectionDuration.WithLabelValues(m.name).Observe(time.Since(time.Unix(startTime, 0)).Seconds())
			}

			m.connected.Store(false)
			ActiveConnections.WithLabelValues(m.name).Set(0)
			return
		}

		MessagesReceivedTotal.WithLabelValues(m.name).Inc()

		// Non-blocking hand-off: a slow consumer drops frames rather than
		// stalling the read loop and triggering server-side disconnects.
		select {
		case m.frames <- message:
		default:
			m.logger.Warn("frame-channel-full", zap.Int("bytes", len(message)))
			MessagesDroppedTotal.WithLabelValues(m.name, "channel_full").Inc()
		}
	}
}

func (m *Manager) pingLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if !m.connected.Load() {
				continue
			}

			m.mu.RLock()
			conn := m.conn
			m.mu.RUnlock()

			if conn == nil {
				continue
			}

			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
			if err != nil {
				m.logger.Warn("ping-error", zap.Error(err))
			}
		}
	}
}

func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		if m.connected.Load() {
			time.Sleep(time.Second)
			continue
		}

		m.logger.Warn("connection-lost-initiating-reconnect")

		err := m.redial(m.ctx)
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			m.logger.Error("reconnection-failed", zap.Error(err))
			continue
		}

		if m.resubscribe != nil {
			err = m.resubscribe(m.ctx)
			if err != nil {
				m.logger.Error("resubscribe-failed", zap.Error(err))
				m.connected.Store(false)
				continue
			}
		}

		m.logger.Info("reconnection-complete-restarting-read-loop")

		m.wg.Add(1)
		go m.readLoop()
	}
}

// redial retries connect with exponential backoff until success or cancel.
func (m *Manager) redial(ctx context.Context) error {
	for {
		delay := m.backoff.Next()

		m.logger.Info("attempting-reconnection", zap.Duration("backoff", delay))
		ReconnectAttemptsTotal.WithLabelValues(m.name).Inc()

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		err := m.connect(ctx)
		if err == nil {
			m.backoff.Reset()
			return nil
		}

		m.logger.Warn("reconnect-dial-failed", zap.Error(err))
		ReconnectFailuresTotal.WithLabelValues(m.name).Inc()
	}
}

// Close tears down the connection and stops all loops.
func (m *Manager) Close() error {
	m.logger.Info("closing-websocket-manager")

	m.cancel()

	m.mu.RLock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.mu.RUnlock()

	m.wg.Wait()

	close(m.frames)
	ActiveConnections.WithLabelValues(m.name).Set(0)

	m.logger.Info("websocket-manager-closed")

	return nil
}
