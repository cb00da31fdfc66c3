package kalshi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/internal/venue"
	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds the Kalshi client configuration.
type Config struct {
	BaseURL        string
	WSURL          string
	KeyID          string
	KeyPEM         string
	Series         []string
	RequestTimeout time.Duration

	WSDialTimeout           time.Duration
	WSPingInterval          time.Duration
	WSReconnectInitialDelay time.Duration
	WSReconnectMaxDelay     time.Duration
	WSReconnectBackoffMult  float64
	WSMessageBufferSize     int

	Logger *zap.Logger
}

// seriesSource maps the 15-minute crypto series to their settlement feed.
var seriesSource = map[string]string{
	"KXBTC15M": "Coinbase",
	"KXETH15M": "Coinbase",
	"KXSOL15M": "Coinbase",
}

// Client talks to Kalshi over REST and streams books over WebSocket. Prices
// arrive as cent integers and are converted to probability units on ingress.
type Client struct {
	config     Config
	httpClient *http.Client
	signer     *signer
	stream     *stream
	logger     *zap.Logger
}

// New creates a Kalshi client. Credentials are optional: without them the
// public market-data endpoints still work and authenticated calls fail with
// AUTH_FAILURE.
func New(cfg Config) (*Client, error) {
	c := &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     cfg.Logger.With(zap.String("venue", "kalshi")),
	}

	if cfg.KeyID != "" && cfg.KeyPEM != "" {
		s, err := newSigner(cfg.KeyID, cfg.KeyPEM)
		if err != nil {
			return nil, types.NewVenueError(types.ErrAuthFailure, types.VenueKalshi, "init", err)
		}
		c.signer = s
	}

	c.stream = newStream(cfg, c.signer, c.logger)

	return c, nil
}

// Name implements venue.Client.
func (c *Client) Name() types.Venue { return types.VenueKalshi }

type marketModel struct {
	Ticker         string  `json:"ticker"`
	Title          string  `json:"title"`
	YesAsk         int     `json:"yes_ask"`
	NoAsk          int     `json:"no_ask"`
	Volume         float64 `json:"volume"`
	Status         string  `json:"status"`
	CloseTime      string  `json:"close_time"`
	ExpirationTime string  `json:"expiration_time"`
}

type marketsResponse struct {
	Markets []marketModel `json:"markets"`
	Cursor  string        `json:"cursor"`
}

type marketResponse struct {
	Market marketModel `json:"market"`
}

// Discover lists open markets across the configured series.
func (c *Client) Discover(ctx context.Context, f venue.Filter) ([]types.MarketEvent, error) {
	var out []types.MarketEvent
	now := time.Now().UTC()

	for _, series := range c.config.Series {
		path := fmt.Sprintf("/markets?series_ticker=%s&status=open&limit=%d", series, f.Limit)

		var resp marketsResponse
		err := c.get(ctx, path, "/markets", &resp)
		if err != nil {
			return nil, err
		}

		for _, m := range resp.Markets {
			ev, err := c.toEvent(series, m)
			if err != nil {
				c.logger.Debug("skip-unparseable-market",
					zap.String("ticker", m.Ticker), zap.Error(err))
				continue
			}
			if !matchesFilter(ev, f, now) {
				continue
			}
			out = append(out, *ev)
		}
	}

	c.logger.Info("kalshi-discovery-complete", zap.Int("markets", len(out)))
	return out, nil
}

// Refresh re-fetches one market snapshot by ticker.
func (c *Client) Refresh(ctx context.Context, id string) (*types.MarketEvent, error) {
	var resp marketResponse
	err := c.get(ctx, "/markets/"+id, "/markets/"+id, &resp)
	if err != nil {
		return nil, err
	}

	series := seriesOf(id)
	return c.toEvent(series, resp.Market)
}

func (c *Client) toEvent(series string, m marketModel) (*types.MarketEvent, error) {
	// close_time is when trading stops, which is the resolution moment for
	// the short-cadence series; expiration_time can trail it by hours.
	raw := m.CloseTime
	if raw == "" {
		raw = m.ExpirationTime
	}
	res, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("parse close time %q: %w", raw, err)
	}

	return &types.MarketEvent{
		Venue:          types.VenueKalshi,
		ID:             m.Ticker,
		Ticker:         m.Ticker,
		Title:          m.Title,
		ResolutionTime: res.UTC(),
		YesAsk:         centsToProb(m.YesAsk),
		NoAsk:          centsToProb(m.NoAsk),
		Volume:         m.Volume,
		Source:         seriesSource[series],
	}, nil
}

func matchesFilter(ev *types.MarketEvent, f venue.Filter, now time.Time) bool {
	if ev.Expired(now) {
		return false
	}
	if f.MaxHorizon > 0 && ev.ResolutionTime.After(now.Add(f.MaxHorizon)) {
		return false
	}
	if len(f.Keywords) == 0 {
		return true
	}
	title := strings.ToLower(ev.Title)
	for _, kw := range f.Keywords {
		if strings.Contains(title, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func seriesOf(ticker string) string {
	if i := strings.Index(ticker, "-"); i > 0 {
		return ticker[:i]
	}
	return ticker
}

type orderbookResponse struct {
	Orderbook struct {
		Yes [][]float64 `json:"yes"`
		No  [][]float64 `json:"no"`
	} `json:"orderbook"`
}

// TopOfBook fetches the order book over REST. Kalshi publishes resting bids
// per side; an ask on one outcome is the complement of the other outcome's
// bid, so YES asks come from NO bids and vice versa.
func (c *Client) TopOfBook(ctx context.Context, id string) (*types.OrderBook, error) {
	path := "/markets/" + id + "/orderbook"

	var resp orderbookResponse
	err := c.get(ctx, path, path, &resp)
	if err != nil {
		return nil, err
	}

	book := &types.OrderBook{
		Venue:        types.VenueKalshi,
		InstrumentID: id,
		YesAsks:      complementLevels(resp.Orderbook.No),
		NoAsks:       complementLevels(resp.Orderbook.Yes),
		UpdatedAt:    time.Now(),
	}
	return book, nil
}

// complementLevels turns one side's cent bids into the other side's asks,
// best (lowest) first.
func complementLevels(bids [][]float64) []types.Level {
	out := make([]types.Level, 0, len(bids))
	// Kalshi lists bids ascending; the highest bid makes the lowest ask.
	for i := len(bids) - 1; i >= 0; i-- {
		if len(bids[i]) < 2 {
			continue
		}
		out = append(out, types.Level{
			Price: 1 - bids[i][0]/100,
			Size:  bids[i][1],
		})
	}
	return out
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

// Balance returns the available balance in dollars.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	var resp balanceResponse
	err := c.get(ctx, "/portfolio/balance", "/portfolio/balance", &resp)
	if err != nil {
		return 0, err
	}
	return float64(resp.Balance) / 100, nil
}

type createOrderRequest struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Action        string `json:"action"`
	Side          string `json:"side"`
	Count         int    `json:"count"`
	Type          string `json:"type"`
	YesPrice      int    `json:"yes_price,omitempty"`
	NoPrice       int    `json:"no_price,omitempty"`
}

type orderModel struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	InitialCount   int    `json:"initial_count"`
	RemainingCount int    `json:"remaining_count"`
	YesPrice       int    `json:"yes_price"`
	NoPrice        int    `json:"no_price"`
}

type orderResponse struct {
	Order orderModel `json:"order"`
}

// PlaceOrder submits a buy limit order for the requested outcome.
func (c *Client) PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	body := createOrderRequest{
		Ticker:        req.InstrumentID,
		ClientOrderID: uuid.New().String(),
		Action:        "buy",
		Count:         req.Contracts,
		Type:          "limit",
	}
	switch req.Side {
	case types.SideYes:
		body.Side = "yes"
		body.YesPrice = probToCents(req.LimitPrice)
	case types.SideNo:
		body.Side = "no"
		body.NoPrice = probToCents(req.LimitPrice)
	}

	var resp orderResponse
	err := c.do(ctx, http.MethodPost, "/portfolio/orders", "/portfolio/orders", body, &resp)
	if err != nil {
		return "", err
	}

	venue.OrdersPlacedTotal.WithLabelValues("kalshi", string(req.Side)).Inc()
	c.logger.Info("kalshi-order-placed",
		zap.String("order-id", resp.Order.OrderID),
		zap.String("ticker", req.InstrumentID),
		zap.String("side", string(req.Side)),
		zap.Int("contracts", req.Contracts),
		zap.Float64("limit", req.LimitPrice))

	return resp.Order.OrderID, nil
}

// QueryOrder reports the fill state of an order.
func (c *Client) QueryOrder(ctx context.Context, orderID string) (*types.OrderStatus, error) {
	path := "/portfolio/orders/" + orderID

	var resp orderResponse
	err := c.get(ctx, path, path, &resp)
	if err != nil {
		return nil, err
	}

	o := resp.Order
	filled := o.InitialCount - o.RemainingCount

	status := &types.OrderStatus{
		OrderID:   o.OrderID,
		Requested: o.InitialCount,
		Filled:    filled,
	}
	switch {
	case o.Status == "canceled":
		status.State = types.OrderCanceled
	case o.Status == "executed" || o.RemainingCount == 0:
		status.State = types.OrderFilled
	case filled > 0:
		status.State = types.OrderPartially
	default:
		status.State = types.OrderOpen
	}

	if o.YesPrice > 0 {
		status.AvgPrice = centsToProb(o.YesPrice)
	} else {
		status.AvgPrice = centsToProb(o.NoPrice)
	}

	return status, nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := "/portfolio/orders/" + orderID
	return c.do(ctx, http.MethodDelete, path, path, nil, nil)
}

// Subscribe starts streaming book updates for the tickers.
func (c *Client) Subscribe(ctx context.Context, ids []string) (<-chan types.BookUpdate, error) {
	return c.stream.subscribe(ctx, ids)
}

// Unsubscribe stops streaming the tickers.
func (c *Client) Unsubscribe(ctx context.Context, ids []string) error {
	return c.stream.unsubscribe(ctx, ids)
}

// Close shuts the stream down.
func (c *Client) Close() error {
	return c.stream.close()
}

func (c *Client) get(ctx context.Context, path, signPath string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, signPath, nil, out)
}

// do performs one REST call. signPath is the path without query parameters,
// which is what the signature covers.
func (c *Client) do(ctx context.Context, method, path, signPath string, body, out interface{}) error {
	op := method + " " + signPath

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return types.NewVenueError(types.ErrTransient, types.VenueKalshi, op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return types.NewVenueError(types.ErrTransient, types.VenueKalshi, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.signer != nil {
		h, err := c.signer.headers(method, "/trade-api/v2"+signPath)
		if err != nil {
			return types.NewVenueError(types.ErrAuthFailure, types.VenueKalshi, op, err)
		}
		for k, v := range h {
			req.Header[k] = v
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	venue.RequestDuration.WithLabelValues("kalshi", method).Observe(time.Since(start).Seconds())
	if err != nil {
		venue.RequestsTotal.WithLabelValues("kalshi", method, "error").Inc()
		return types.NewVenueError(types.ErrTransient, types.VenueKalshi, op, err)
	}
	defer resp.Body.Close()

	venue.RequestsTotal.WithLabelValues("kalshi", method, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		kind := classifyStatus(resp.StatusCode)
		return types.NewVenueError(kind, types.VenueKalshi, op,
			fmt.Errorf("status %d: %s", resp.StatusCode, string(raw)))
	}

	if out == nil {
		return nil
	}
	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return types.NewVenueError(types.ErrTransient, types.VenueKalshi, op, err)
	}
	return nil
}

func classifyStatus(code int) types.ErrKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return types.ErrAuthFailure
	case code == http.StatusBadRequest:
		return types.ErrBadPrice
	default:
		return types.ErrTransient
	}
}

func centsToProb(cents int) float64 {
	return float64(cents) / 100
}

func probToCents(p float64) int {
	return int(p*100 + 0.5)
}
