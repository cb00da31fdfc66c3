package matcher

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"go.uber.org/zap"
)

// Matcher decides whether a Kalshi event and a Polymarket event refer to the
// same real-world outcome. Matching is symmetric: events are oriented by
// venue before any rule runs, so argument order never changes the verdict.
type Matcher struct {
	logger        *zap.Logger
	maxSkew       time.Duration
	minSimilarity float64
}

// New creates a matcher with the standard thresholds.
func New(logger *zap.Logger) *Matcher {
	return &Matcher{
		logger:        logger,
		maxSkew:       60 * time.Second,
		minSimilarity: 0.6,
	}
}

// assetTokens maps the recognized assets to the substrings that imply them.
var assetTokens = map[string][]string{
	"BTC": {"btc", "bitcoin"},
	"ETH": {"eth", "ethereum"},
	"SOL": {"sol", "solana"},
}

// sourceAliases groups resolution-source spellings that mean the same feed.
// Kalshi crypto markets settle on CF Benchmarks, whose rates are built from
// Coinbase-family exchanges among others, so "kalshi" sits in that group.
var sourceAliases = [][]string{
	{"coinbase", "coinbase pro", "gdax"},
	{"binance"},
	{"coingecko"},
	{"cf benchmarks", "kalshi"},
}

// Match reports whether the two events are equivalent and, if so, returns the
// oriented pair. Rules run in order; the first failing rule rejects.
func (m *Matcher) Match(a, b types.MarketEvent) (*types.MarketPair, bool) {
	if a.Venue == b.Venue {
		reject("same_venue")
		return nil, false
	}

	kalshi, poly := a, b
	if kalshi.Venue != types.VenueKalshi {
		kalshi, poly = b, a
	}

	skew := kalshi.ResolutionTime.UTC().Sub(poly.ResolutionTime.UTC())
	if skew < 0 {
		skew = -skew
	}
	if skew > m.maxSkew {
		reject("resolution_skew")
		return nil, false
	}

	kAssets := extractAssets(kalshi.Title + " " + kalshi.Ticker)
	pAssets := extractAssets(poly.Title + " " + poly.Ticker)
	if !intersects(kAssets, pAssets) {
		reject("asset_mismatch")
		return nil, false
	}

	kind, ok := directionParity(kalshi.Title, poly.Title)
	if !ok {
		reject("direction_mismatch")
		return nil, false
	}

	if kalshi.Source != "" && poly.Source != "" {
		if !sourcesCompatible(kalshi.Source, poly.Source) {
			reject("source_mismatch")
			return nil, false
		}
	} else if similarity(normalizeTitle(kalshi.Title), normalizeTitle(poly.Title)) < m.minSimilarity {
		reject("title_dissimilar")
		return nil, false
	}

	now := time.Now().UTC()
	pair := &types.MarketPair{
		ID:        types.PairID(kalshi.Ticker, poly.Ticker),
		Kalshi:    kalshi,
		Poly:      poly,
		Kind:      kind,
		MatchedAt: now,
	}

	MatchesTotal.WithLabelValues(string(kind)).Inc()
	m.logger.Debug("pair-matched",
		zap.String("pair-id", pair.ID),
		zap.String("kind", string(kind)))

	return pair, true
}

func reject(reason string) {
	RejectionsTotal.WithLabelValues(reason).Inc()
}

// extractAssets returns the recognized asset symbols implied by the text.
func extractAssets(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for asset, tokens := range assetTokens {
		for _, tok := range tokens {
			if strings.Contains(lower, tok) {
				out = append(out, asset)
				break
			}
		}
	}
	return out
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// directionParity checks that both titles describe the same kind of question.
// Two up-or-down titles always agree (the 15-minute series omits strikes);
// otherwise both must carry a strike above $500 agreeing within $10.
func directionParity(titleK, titleP string) (types.PairKind, bool) {
	kUpDown := isUpOrDown(titleK)
	pUpDown := isUpOrDown(titleP)

	if kUpDown && pUpDown {
		return types.PairHeuristic15M, true
	}

	kStrike, kHas := extractStrike(titleK)
	pStrike, pHas := extractStrike(titleP)

	if kHas != pHas {
		// Fixed-strike on one side, directional on the other.
		return "", false
	}
	if !kHas {
		return "", false
	}
	if math.Abs(kStrike-pStrike) > 10 {
		return "", false
	}
	return types.PairGeneric, true
}

func isUpOrDown(title string) bool {
	lower := strings.ToLower(title)
	return strings.Contains(lower, "up") && strings.Contains(lower, "down")
}

// extractStrike pulls the first dollar figure above 500 out of a title.
// Accepts "$65,000", "65000" and "65,250.50" spellings.
func extractStrike(title string) (float64, bool) {
	runes := []rune(title)
	for i := 0; i < len(runes); i++ {
		if runes[i] < '0' || runes[i] > '9' {
			continue
		}
		j := i
		for j < len(runes) && (isDigit(runes[j]) || runes[j] == ',' || runes[j] == '.') {
			j++
		}
		raw := strings.ReplaceAll(string(runes[i:j]), ",", "")
		raw = strings.TrimRight(raw, ".")
		val, err := strconv.ParseFloat(raw, 64)
		if err == nil && val > 500 {
			return val, true
		}
		i = j
	}
	return 0, false
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// sourcesCompatible accepts substring containment either way, or membership
// in the same alias group.
func sourcesCompatible(a, b string) bool {
	la := strings.ToLower(strings.TrimSpace(a))
	lb := strings.ToLower(strings.TrimSpace(b))

	if strings.Contains(la, lb) || strings.Contains(lb, la) {
		return true
	}

	for _, group := range sourceAliases {
		var hasA, hasB bool
		for _, alias := range group {
			if strings.Contains(la, alias) {
				hasA = true
			}
			if strings.Contains(lb, alias) {
				hasB = true
			}
		}
		if hasA && hasB {
			return true
		}
	}
	return false
}

func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}
