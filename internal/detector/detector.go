package detector

import (
	"fmt"
	"math"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/internal/bookcache"
	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// Decision labels for the persisted evaluation trail.
const (
	DecisionBuy      = "BUY"
	DecisionNoBuy    = "NO BUY"
	DecisionRejected = "REJECTED"
)

// Config holds detection thresholds and the fee model.
type Config struct {
	MinProfit       float64
	KalshiTakerRate float64
	PolyFlatFee     float64
	ProbSpreadGap   float64
	CacheTTL        time.Duration
	Logger          *zap.Logger
}

// Evaluation is the full record of one detection run: the four leg prices,
// both scenario costs, and the decision with a human-readable reason. Every
// evaluation is persisted so a session can be reconstructed from the
// opportunity table alone.
type Evaluation struct {
	PairID string
	KYes   float64
	KNo    float64
	PYes   float64
	PNo    float64
	CostA  float64
	CostB  float64
	Net    float64 // best of the two scenarios, after fees

	Decision string
	Reason   string

	Opportunity *Opportunity // non-nil only when Decision is BUY
	At          time.Time
}

// Detector evaluates one pair at a time against the freshest books. Results
// are memoized for a short TTL keyed by the rounded leg prices, which absorbs
// bursts of identical-price updates without re-running the math.
type Detector struct {
	config Config
	logger *zap.Logger
	books  *bookcache.Cache
	memo   *ristretto.Cache
}

// grossCeiling skips opportunity construction when neither scenario can get
// anywhere near profitability.
const grossCeiling = 0.98

// New creates a detector reading from the given book cache.
func New(cfg Config, books *bookcache.Cache) (*Detector, error) {
	memo, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create memo cache: %w", err)
	}

	return &Detector{
		config: cfg,
		logger: cfg.Logger,
		books:  books,
		memo:   memo,
	}, nil
}

// Detect evaluates a pair and returns a hard-arbitrage opportunity, or nil
// when nothing qualifies.
func (d *Detector) Detect(pair *types.MarketPair, now time.Time) *Opportunity {
	ev := d.Evaluate(pair, now)
	if ev == nil {
		return nil
	}
	return ev.Opportunity
}

// Evaluate runs both hard-arbitrage scenarios for a pair and returns the
// evaluation record, or nil when no usable prices exist. Probability-spread
// signals are logged here and never returned.
func (d *Detector) Evaluate(pair *types.MarketPair, now time.Time) *Evaluation {
	yesToken, noToken, positional, err := pair.Poly.Metadata.ResolveTokens()
	if err != nil {
		d.logger.Warn("pair-missing-outcome-tokens",
			zap.String("pair-id", pair.ID),
			zap.Error(err))
		return nil
	}
	if positional {
		d.logger.Warn("outcome-tokens-resolved-positionally",
			zap.String("pair-id", pair.ID),
			zap.Strings("outcomes", pair.Poly.Metadata.Outcomes))
	}

	prices, ok := d.gatherPrices(pair, yesToken, now)
	if !ok {
		return nil
	}

	key := memoKey(pair, prices)
	if cached, hit := d.memo.Get(key); hit {
		MemoHitsTotal.Inc()
		return cached.(*Evaluation)
	}

	ev := d.evaluate(pair, prices, yesToken, noToken, now)

	d.memo.SetWithTTL(key, ev, 1, d.config.CacheTTL)

	d.checkProbSpread(pair, prices)

	return ev
}

// pairPrices is the four best asks a detection run consumes.
type pairPrices struct {
	kYes, kNo float64
	pYes, pNo float64
}

// gatherPrices reads the freshest books for both legs, falling back to the
// prices carried on the discovery snapshots when no live book is available.
func (d *Detector) gatherPrices(pair *types.MarketPair, yesToken string, now time.Time) (pairPrices, bool) {
	var p pairPrices

	kBook, kErr := d.books.Get(types.VenueKalshi, pair.Kalshi.Ticker, now)
	if kErr == nil {
		yes, okY := kBook.BestYesAsk()
		no, okN := kBook.BestNoAsk()
		if okY && okN {
			p.kYes, p.kNo = yes.Price, no.Price
		} else {
			kErr = types.NewVenueError(types.ErrNoLiquidity, types.VenueKalshi, "detect", nil)
		}
	}
	if kErr != nil {
		p.kYes, p.kNo = pair.Kalshi.YesAsk, pair.Kalshi.NoAsk
		PriceSourceTotal.WithLabelValues("kalshi", "snapshot").Inc()
	} else {
		PriceSourceTotal.WithLabelValues("kalshi", "book").Inc()
	}

	pBook, pErr := d.books.Get(types.VenuePolymarket, yesToken, now)
	if pErr == nil {
		yes, okY := pBook.BestYesAsk()
		no, okN := pBook.BestNoAsk()
		if okY && okN {
			p.pYes, p.pNo = yes.Price, no.Price
		} else {
			pErr = types.NewVenueError(types.ErrNoLiquidity, types.VenuePolymarket, "detect", nil)
		}
	}
	if pErr != nil {
		p.pYes, p.pNo = pair.Poly.YesAsk, pair.Poly.NoAsk
		PriceSourceTotal.WithLabelValues("polymarket", "snapshot").Inc()
	} else {
		PriceSourceTotal.WithLabelValues("polymarket", "book").Inc()
	}

	if p.kYes <= 0 || p.kNo <= 0 || p.pYes <= 0 || p.pNo <= 0 {
		return p, false
	}
	return p, true
}

// evaluate runs both scenarios and classifies the result.
func (d *Detector) evaluate(pair *types.MarketPair, p pairPrices, yesToken, noToken string, now time.Time) *Evaluation {
	grossA := p.pYes + p.kNo
	grossB := p.pNo + p.kYes
	feesA := d.config.PolyFlatFee + p.kNo*d.config.KalshiTakerRate
	feesB := d.config.PolyFlatFee + p.kYes*d.config.KalshiTakerRate
	netA := 1 - grossA - feesA
	netB := 1 - grossB - feesB

	ev := &Evaluation{
		PairID: pair.ID,
		KYes:   p.kYes,
		KNo:    p.kNo,
		PYes:   p.pYes,
		PNo:    p.pNo,
		CostA:  grossA,
		CostB:  grossB,
		Net:    math.Max(netA, netB),
		At:     now,
	}

	if math.Min(grossA, grossB) > grossCeiling {
		PrefilterSkipsTotal.Inc()
		ev.Decision = DecisionNoBuy
		ev.Reason = fmt.Sprintf("Net Profit %.3f < %.3f", ev.Net, d.config.MinProfit)
		return ev
	}

	EvaluationsTotal.Inc()

	if ev.Net <= d.config.MinProfit {
		ev.Decision = DecisionNoBuy
		ev.Reason = fmt.Sprintf("Net Profit %.3f < %.3f", ev.Net, d.config.MinProfit)
		return ev
	}

	var opp *Opportunity
	if netA >= netB {
		opp = newOpportunity(pair, StrategyArbA, now)
		opp.PolySide, opp.KalshiSide = types.SideYes, types.SideNo
		opp.PolyPrice, opp.KalshiPrice = p.pYes, p.kNo
		opp.PolyTokenID = yesToken
		opp.Gross, opp.Fees, opp.Net = grossA, feesA, netA
	} else {
		opp = newOpportunity(pair, StrategyArbB, now)
		opp.PolySide, opp.KalshiSide = types.SideNo, types.SideYes
		opp.PolyPrice, opp.KalshiPrice = p.pNo, p.kYes
		opp.PolyTokenID = noToken
		opp.Gross, opp.Fees, opp.Net = grossB, feesB, netB
	}

	ev.Decision = DecisionBuy
	ev.Reason = fmt.Sprintf("Net Profit %.3f > %.3f (%s)", opp.Net, d.config.MinProfit, opp.Strategy)
	ev.Opportunity = opp

	OpportunitiesTotal.WithLabelValues(string(opp.Strategy)).Inc()
	NetProfitGauge.Set(opp.Net)

	d.logger.Info("opportunity-detected",
		zap.String("opportunity-id", opp.ID),
		zap.String("pair-id", pair.ID),
		zap.String("strategy", string(opp.Strategy)),
		zap.Float64("gross", opp.Gross),
		zap.Float64("fees", opp.Fees),
		zap.Float64("net", opp.Net))

	return ev
}

// checkProbSpread logs wide YES-price divergence between the venues. These
// are directional signals, not riskless trades, so they never reach the
// executor.
func (d *Detector) checkProbSpread(pair *types.MarketPair, p pairPrices) {
	spread := math.Abs(p.kYes - p.pYes)
	if spread <= d.config.ProbSpreadGap {
		return
	}

	cheaper := string(types.VenueKalshi)
	if p.pYes < p.kYes {
		cheaper = string(types.VenuePolymarket)
	}

	OpportunitiesTotal.WithLabelValues(string(StrategyProb)).Inc()
	d.logger.Info("probability-spread-detected",
		zap.String("pair-id", pair.ID),
		zap.Float64("spread", spread),
		zap.String("cheaper-venue", cheaper))
}

// memoKey is stable for identical rounded prices on the same pair.
func memoKey(pair *types.MarketPair, p pairPrices) string {
	return fmt.Sprintf("%s|%s|%.4f|%.4f|%.4f|%.4f",
		pair.Kalshi.ID, pair.Poly.ID, p.kYes, p.kNo, p.pYes, p.pNo)
}

// Close releases the memo cache.
func (d *Detector) Close() {
	d.memo.Close()
}
