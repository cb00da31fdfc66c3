package venue

import (
	"context"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
)

// Filter narrows discovery to the markets the bot can pair.
type Filter struct {
	Keywords   []string      // title must contain at least one, case-folded
	MaxHorizon time.Duration // drop markets resolving further out than this
	Limit      int           // page size hint for the venue API
}

// Client is the capability set both venues implement. All network calls
// honor the context deadline; errors are classified VenueErrors at this
// boundary, so nothing above it sees raw HTTP status codes.
type Client interface {
	Name() types.Venue

	// Discover lists open markets passing the filter.
	Discover(ctx context.Context, f Filter) ([]types.MarketEvent, error)

	// Refresh re-fetches a single market snapshot.
	Refresh(ctx context.Context, id string) (*types.MarketEvent, error)

	// Subscribe starts streaming book updates for the instruments. The
	// returned channel is shared across calls and closed by Close.
	Subscribe(ctx context.Context, ids []string) (<-chan types.BookUpdate, error)

	// Unsubscribe stops streaming the instruments.
	Unsubscribe(ctx context.Context, ids []string) error

	// TopOfBook fetches the current book over REST, the fallback when the
	// cache is stale on the execution path.
	TopOfBook(ctx context.Context, id string) (*types.OrderBook, error)

	// Balance returns the available balance in dollars.
	Balance(ctx context.Context) (float64, error)

	// PlaceOrder submits a limit order and returns the venue order id.
	PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error)

	// QueryOrder reports an order's fill state.
	QueryOrder(ctx context.Context, orderID string) (*types.OrderStatus, error)

	// CancelOrder cancels an open order.
	CancelOrder(ctx context.Context, orderID string) error

	Close() error
}
