package polymarket

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/internal/venue"
	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Config holds the Polymarket client configuration.
type Config struct {
	GammaURL       string
	ClobURL        string
	WSURL          string
	APIKey         string
	Secret         string
	Passphrase     string
	PrivateKey     string
	ProxyWallet    string
	TagID          int
	RequestTimeout time.Duration

	WSDialTimeout           time.Duration
	WSPingInterval          time.Duration
	WSReconnectInitialDelay time.Duration
	WSReconnectMaxDelay     time.Duration
	WSReconnectBackoffMult  float64
	WSMessageBufferSize     int

	Logger *zap.Logger
}

// Client talks to the Gamma API for discovery and the CLOB for books and
// orders. Instrument ids on this venue are CLOB token ids; the YES token
// stands in for the market on the stream and in the book cache.
type Client struct {
	config     Config
	httpClient *http.Client
	signer     *orderSigner
	stream     *stream
	logger     *zap.Logger
}

// New creates a Polymarket client. Trading credentials are optional; market
// data works without them.
func New(cfg Config) (*Client, error) {
	c := &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     cfg.Logger.With(zap.String("venue", "polymarket")),
	}

	if cfg.PrivateKey != "" {
		s, err := newOrderSigner(cfg.APIKey, cfg.Secret, cfg.Passphrase, cfg.PrivateKey, cfg.ProxyWallet)
		if err != nil {
			return nil, types.NewVenueError(types.ErrAuthFailure, types.VenuePolymarket, "init", err)
		}
		c.signer = s
	}

	c.stream = newStream(cfg, c.logger)

	return c, nil
}

// Name implements venue.Client.
func (c *Client) Name() types.Venue { return types.VenuePolymarket }

// gammaMarket is the discovery shape. The list-valued fields arrive as
// JSON-encoded strings, a Gamma API quirk.
type gammaMarket struct {
	ID            string  `json:"id"`
	Question      string  `json:"question"`
	ConditionID   string  `json:"conditionId"`
	Slug          string  `json:"slug"`
	EndDate       string  `json:"endDate"`
	Description   string  `json:"description"`
	Outcomes      string  `json:"outcomes"`
	OutcomePrices string  `json:"outcomePrices"`
	ClobTokenIDs  string  `json:"clobTokenIds"`
	Volume        float64 `json:"volumeNum"`
	Active        bool    `json:"active"`
	Closed        bool    `json:"closed"`
}

type gammaEvent struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Markets []gammaMarket `json:"markets"`
}

// knownSources are the settlement feeds recognized in market descriptions.
var knownSources = []string{"Coinbase", "Binance", "Kraken", "Pyth", "Chainlink"}

// Discover lists open markets under the configured tag.
func (c *Client) Discover(ctx context.Context, f venue.Filter) ([]types.MarketEvent, error) {
	path := fmt.Sprintf("/events?tag_id=%d&closed=false&limit=%d", c.config.TagID, f.Limit)

	var events []gammaEvent
	err := c.get(ctx, c.config.GammaURL, path, nil, &events)
	if err != nil {
		return nil, err
	}

	var out []types.MarketEvent
	now := time.Now().UTC()

	for _, ev := range events {
		for _, m := range ev.Markets {
			if m.Closed || !m.Active {
				continue
			}
			me, err := c.toEvent(m)
			if err != nil {
				c.logger.Debug("skip-unparseable-market",
					zap.String("slug", m.Slug), zap.Error(err))
				continue
			}
			if !matchesFilter(me, f, now) {
				continue
			}
			out = append(out, *me)
		}
	}

	c.logger.Info("polymarket-discovery-complete", zap.Int("markets", len(out)))
	return out, nil
}

// Refresh re-fetches one market snapshot by condition id.
func (c *Client) Refresh(ctx context.Context, id string) (*types.MarketEvent, error) {
	var markets []gammaMarket
	err := c.get(ctx, c.config.GammaURL, "/markets?condition_ids="+id, nil, &markets)
	if err != nil {
		return nil, err
	}
	if len(markets) == 0 {
		return nil, types.NewVenueError(types.ErrTransient, types.VenuePolymarket, "refresh",
			fmt.Errorf("condition %s not found", id))
	}
	return c.toEvent(markets[0])
}

func (c *Client) toEvent(m gammaMarket) (*types.MarketEvent, error) {
	res, err := time.Parse(time.RFC3339, m.EndDate)
	if err != nil {
		return nil, fmt.Errorf("parse end date %q: %w", m.EndDate, err)
	}

	var outcomes, tokenIDs, priceStrs []string
	if m.Outcomes != "" {
		if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err != nil {
			return nil, fmt.Errorf("parse outcomes: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs); err != nil {
		return nil, fmt.Errorf("parse clob token ids: %w", err)
	}
	if m.OutcomePrices != "" {
		if err := json.Unmarshal([]byte(m.OutcomePrices), &priceStrs); err != nil {
			return nil, fmt.Errorf("parse outcome prices: %w", err)
		}
	}

	var yesAsk, noAsk float64
	if len(priceStrs) >= 2 {
		yesAsk, _ = strconv.ParseFloat(priceStrs[0], 64)
		noAsk, _ = strconv.ParseFloat(priceStrs[1], 64)
	}

	return &types.MarketEvent{
		Venue:          types.VenuePolymarket,
		ID:             m.ConditionID,
		Ticker:         m.Slug,
		Title:          m.Question,
		ResolutionTime: res.UTC(),
		YesAsk:         yesAsk,
		NoAsk:          noAsk,
		Volume:         m.Volume,
		Source:         extractSource(m.Description),
		Metadata: &types.EventMetadata{
			ClobTokenIDs: tokenIDs,
			Outcomes:     outcomes,
			MarketID:     m.ConditionID,
		},
	}, nil
}

func extractSource(description string) string {
	lower := strings.ToLower(description)
	for _, src := range knownSources {
		if strings.Contains(lower, strings.ToLower(src)) {
			return src
		}
	}
	return ""
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

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookResponse struct {
	AssetID string      `json:"asset_id"`
	Bids    []bookLevel `json:"bids"`
	Asks    []bookLevel `json:"asks"`
}

// TopOfBook fetches the book for an outcome token over REST. Asks map to the
// YES side directly; bids become NO asks at the complementary price.
func (c *Client) TopOfBook(ctx context.Context, id string) (*types.OrderBook, error) {
	var resp bookResponse
	err := c.get(ctx, c.config.ClobURL, "/book?token_id="+id, nil, &resp)
	if err != nil {
		return nil, err
	}

	book := &types.OrderBook{
		Venue:        types.VenuePolymarket,
		InstrumentID: id,
		YesAsks:      parseLevels(resp.Asks, false),
		NoAsks:       parseLevels(resp.Bids, true),
		UpdatedAt:    time.Now(),
	}

	if len(book.YesAsks) == 0 && len(book.NoAsks) == 0 {
		return nil, types.NewVenueError(types.ErrNoLiquidity, types.VenuePolymarket, "top-of-book",
			fmt.Errorf("empty book for token %s", id))
	}

	return book, nil
}

// parseLevels converts string levels to probability asks, best first.
// complement flips bids into the opposite outcome's asks.
func parseLevels(levels []bookLevel, complement bool) []types.Level {
	out := make([]types.Level, 0, len(levels))
	for _, lvl := range levels {
		price, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(lvl.Size, 64)
		if err != nil {
			continue
		}
		if complement {
			price = 1 - price
		}
		out = append(out, types.Level{Price: price, Size: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

// Balance returns the available USDC collateral in dollars.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	if c.signer == nil {
		return 0, types.NewVenueError(types.ErrAuthFailure, types.VenuePolymarket, "balance",
			fmt.Errorf("no credentials configured"))
	}

	path := "/balance-allowance?asset_type=COLLATERAL"

	var resp balanceResponse
	err := c.get(ctx, c.config.ClobURL, path, c.signer, &resp)
	if err != nil {
		return 0, err
	}

	raw, err := strconv.ParseFloat(resp.Balance, 64)
	if err != nil {
		return 0, types.NewVenueError(types.ErrTransient, types.VenuePolymarket, "balance", err)
	}
	return raw / 1_000_000, nil
}

type orderSubmitResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
}

// PlaceOrder signs and submits a buy limit order for an outcome token.
func (c *Client) PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	if c.signer == nil {
		return "", types.NewVenueError(types.ErrAuthFailure, types.VenuePolymarket, "place-order",
			fmt.Errorf("no credentials configured"))
	}

	order, err := c.signer.buildBuyOrder(req.TokenID, req.LimitPrice, req.Contracts)
	if err != nil {
		return "", types.NewVenueError(types.ErrTransient, types.VenuePolymarket, "place-order", err)
	}

	body := map[string]interface{}{
		"order":     order,
		"owner":     c.config.APIKey,
		"orderType": "GTC",
	}

	var resp orderSubmitResponse
	err = c.post(ctx, c.config.ClobURL, "/order", body, &resp)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", types.NewVenueError(types.ErrBadPrice, types.VenuePolymarket, "place-order",
			fmt.Errorf("order rejected: %s", resp.ErrorMsg))
	}

	venue.OrdersPlacedTotal.WithLabelValues("polymarket", string(req.Side)).Inc()
	c.logger.Info("polymarket-order-placed",
		zap.String("order-id", resp.OrderID),
		zap.String("token-id", req.TokenID),
		zap.String("side", string(req.Side)),
		zap.Int("contracts", req.Contracts),
		zap.Float64("limit", req.LimitPrice))

	return resp.OrderID, nil
}

type orderDataResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
}

// QueryOrder reports the fill state of an order.
func (c *Client) QueryOrder(ctx context.Context, orderID string) (*types.OrderStatus, error) {
	if c.signer == nil {
		return nil, types.NewVenueError(types.ErrAuthFailure, types.VenuePolymarket, "query-order",
			fmt.Errorf("no credentials configured"))
	}

	var resp orderDataResponse
	err := c.get(ctx, c.config.ClobURL, "/data/order/"+orderID, c.signer, &resp)
	if err != nil {
		return nil, err
	}

	requested, _ := strconv.ParseFloat(resp.OriginalSize, 64)
	filled, _ := strconv.ParseFloat(resp.SizeMatched, 64)
	price, _ := strconv.ParseFloat(resp.Price, 64)

	status := &types.OrderStatus{
		OrderID:   resp.ID,
		Requested: int(requested),
		Filled:    int(filled),
		AvgPrice:  price,
	}
	switch {
	case resp.Status == "CANCELED":
		status.State = types.OrderCanceled
	case status.Filled >= status.Requested && status.Requested > 0:
		status.State = types.OrderFilled
	case status.Filled > 0:
		status.State = types.OrderPartially
	default:
		status.State = types.OrderOpen
	}

	return status, nil
}

// CancelOrder cancels an open order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if c.signer == nil {
		return types.NewVenueError(types.ErrAuthFailure, types.VenuePolymarket, "cancel-order",
			fmt.Errorf("no credentials configured"))
	}

	body := map[string]string{"orderID": orderID}
	return c.request(ctx, http.MethodDelete, c.config.ClobURL, "/order", body, c.signer, nil)
}

// Subscribe starts streaming book updates for the tokens.
func (c *Client) Subscribe(ctx context.Context, ids []string) (<-chan types.BookUpdate, error) {
	return c.stream.subscribe(ctx, ids)
}

// Unsubscribe stops streaming the tokens.
func (c *Client) Unsubscribe(ctx context.Context, ids []string) error {
	return c.stream.unsubscribe(ctx, ids)
}

// Close shuts the stream down.
func (c *Client) Close() error {
	return c.stream.close()
}

func (c *Client) get(ctx context.Context, base, path string, signer *orderSigner, out interface{}) error {
	return c.request(ctx, http.MethodGet, base, path, nil, signer, out)
}

func (c *Client) post(ctx context.Context, base, path string, body, out interface{}) error {
	return c.request(ctx, http.MethodPost, base, path, body, c.signer, out)
}

func (c *Client) request(ctx context.Context, method, base, path string, body interface{}, signer *orderSigner, out interface{}) error {
	op := method + " " + path

	var raw []byte
	var reader io.Reader
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return types.NewVenueError(types.ErrTransient, types.VenuePolymarket, op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return types.NewVenueError(types.ErrTransient, types.VenuePolymarket, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if signer != nil {
		h, err := signer.l2Headers(method, path, raw)
		if err != nil {
			return types.NewVenueError(types.ErrAuthFailure, types.VenuePolymarket, op, err)
		}
		for k, v := range h {
			req.Header[k] = v
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	venue.RequestDuration.WithLabelValues("polymarket", method).Observe(time.Since(start).Seconds())
	if err != nil {
		venue.RequestsTotal.WithLabelValues("polymarket", method, "error").Inc()
		return types.NewVenueError(types.ErrTransient, types.VenuePolymarket, op, err)
	}
	defer resp.Body.Close()

	venue.RequestsTotal.WithLabelValues("polymarket", method, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		rawBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.NewVenueError(classifyStatus(resp.StatusCode), types.VenuePolymarket, op,
			fmt.Errorf("status %d: %s", resp.StatusCode, string(rawBody)))
	}

	if out == nil {
		return nil
	}
	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return types.NewVenueError(types.ErrTransient, types.VenuePolymarket, op, err)
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
