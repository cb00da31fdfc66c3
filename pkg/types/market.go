package types

import (
	"errors"
	"strings"
	"time"
)

// Venue identifies one of the two exchanges.
type Venue string

const (
	VenueKalshi     Venue = "KALSHI"
	VenuePolymarket Venue = "POLYMARKET"
)

// MarketEvent is an immutable snapshot of one instrument on one venue.
// Prices are probability units in [0, 1]; venue-native cent integers are
// converted on ingress. The current event per instrument is replaced
// atomically on each refresh.
type MarketEvent struct {
	Venue          Venue
	ID             string // stable instrument id on the venue
	Ticker         string
	Title          string
	ResolutionTime time.Time // always UTC
	YesAsk         float64   // best ask for the YES outcome
	NoAsk          float64   // best ask for the NO outcome
	Volume         float64
	Source         string // resolution source, e.g. "Coinbase"
	Metadata       *EventMetadata
}

// EventMetadata carries venue-specific opaque attributes. For Polymarket this
// is the outcome-label to CLOB-token mapping; Kalshi events leave it nil.
type EventMetadata struct {
	ClobTokenIDs []string // positional order as returned by the venue
	Outcomes     []string // declared outcome labels, same order
	MarketID     string   // CLOB market id (condition id)
}

// ErrNoTokens is returned when metadata carries no usable token mapping.
var ErrNoTokens = errors.New("no outcome tokens in metadata")

// ResolveTokens maps the YES and NO outcomes to their CLOB token ids using
// the declared outcome labels. When labels are missing or unrecognized it
// falls back to positional order (YES first); positional reports that the
// caller is trusting venue ordering rather than labels.
func (m *EventMetadata) ResolveTokens() (yes, no string, positional bool, err error) {
	if m == nil || len(m.ClobTokenIDs) < 2 {
		return "", "", false, ErrNoTokens
	}

	if len(m.Outcomes) == len(m.ClobTokenIDs) {
		for i, label := range m.Outcomes {
			switch strings.ToLower(strings.TrimSpace(label)) {
			case "yes", "up":
				yes = m.ClobTokenIDs[i]
			case "no", "down":
				no = m.ClobTokenIDs[i]
			}
		}
		if yes != "" && no != "" {
			return yes, no, false, nil
		}
	}

	return m.ClobTokenIDs[0], m.ClobTokenIDs[1], true, nil
}

// Expired reports whether the instrument's resolution time has passed.
func (e *MarketEvent) Expired(now time.Time) bool {
	return e.ResolutionTime.Before(now.UTC())
}

// PairKind records which matcher rule produced a pair, for observability.
type PairKind string

const (
	PairHeuristic15M PairKind = "HEURISTIC_15M"
	PairGeneric      PairKind = "GENERIC"
)

// MarketPair is an ordered tuple of equivalent events, Kalshi first.
type MarketPair struct {
	ID        string // durable pair id, see PairID
	Kalshi    MarketEvent
	Poly      MarketEvent
	Kind      PairKind
	MatchedAt time.Time
}

// PairID builds the durable identifier used for dedup and persistence.
func PairID(kalshiTicker, polyTicker string) string {
	return kalshiTicker + "|" + polyTicker
}

// PairState is the lifecycle of a pair inside the controller.
type PairState int

const (
	PairDiscovered PairState = iota
	PairSubscribed
	PairMonitoring
	PairDetected
	PairExecuting
	PairCooldown
	PairExpired
)

func (s PairState) String() string {
	switch s {
	case PairDiscovered:
		return "discovered"
	case PairSubscribed:
		return "subscribed"
	case PairMonitoring:
		return "monitoring"
	case PairDetected:
		return "detected"
	case PairExecuting:
		return "executing"
	case PairCooldown:
		return "cooldown"
	case PairExpired:
		return "expired"
	default:
		return "unknown"
	}
}
