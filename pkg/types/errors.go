package types

import (
	"errors"
	"fmt"
)

// ErrKind classifies venue and execution failures. Nothing above the venue
// clients consumes raw HTTP status codes; everything is wrapped into one of
// these kinds at the client boundary.
type ErrKind string

const (
	ErrTransient     ErrKind = "TRANSIENT"      // timeout, 5xx, WS drop: retry with backoff
	ErrStale         ErrKind = "STALE"          // book too old: no signal on the hot path
	ErrNoLiquidity   ErrKind = "NO_LIQUIDITY"   // top-of-book size below required contracts
	ErrBadPrice      ErrKind = "BAD_PRICE"      // zero or sub-floor top price
	ErrBelowMinOrder ErrKind = "BELOW_MIN_ORDER" // venue minimum order value not reachable
	ErrRiskRejected  ErrKind = "RISK_REJECTED"  // risk gate declined; not a system error
	ErrPartialFill   ErrKind = "PARTIAL_FILL"   // handled by unwind, never propagated
	ErrUnwindFailed  ErrKind = "UNWIND_FAILED"  // operator attention required
	ErrAuthFailure   ErrKind = "AUTH_FAILURE"   // fatal at init
	ErrConfigInvalid ErrKind = "CONFIG_INVALID" // fatal at init
	ErrKillSwitch    ErrKind = "KILL_SWITCH"    // terminal until restart
)

// VenueError wraps a failure with its kind and originating venue.
type VenueError struct {
	Kind  ErrKind
	Venue Venue
	Op    string
	Err   error
}

func (e *VenueError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Venue, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Venue, e.Op, e.Kind)
}

func (e *VenueError) Unwrap() error {
	return e.Err
}

// NewVenueError builds a classified error for a venue operation.
func NewVenueError(kind ErrKind, venue Venue, op string, err error) *VenueError {
	return &VenueError{Kind: kind, Venue: venue, Op: op, Err: err}
}

// KindOf extracts the error kind, or empty string for unclassified errors.
func KindOf(err error) ErrKind {
	var ve *VenueError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrKind) bool {
	return KindOf(err) == kind
}
