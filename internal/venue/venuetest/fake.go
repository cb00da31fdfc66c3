// Package venuetest provides an in-memory venue.Client for tests.
package venuetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/internal/venue"
	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
)

// Fake is a scriptable venue.Client. Zero value is not usable; construct
// with New. All methods are safe for concurrent use.
type Fake struct {
	venue types.Venue

	mu          sync.Mutex
	events      []types.MarketEvent
	books       map[string]*types.OrderBook
	bookErrs    map[string]error
	bookCalls   map[string]int
	balance     float64
	balanceErr  error
	placeErr    error
	cancelErr   error
	orders      map[string]*types.OrderStatus
	placed      []types.OrderRequest
	canceled    []string
	fillScripts map[string][]types.OrderStatus // consumed per QueryOrder call
	nextOrderID int
	subscribed  map[string]bool
	updates     chan types.BookUpdate
	closed      bool
}

// New builds a fake for the given venue with a generous balance.
func New(v types.Venue) *Fake {
	return &Fake{
		venue:       v,
		books:       make(map[string]*types.OrderBook),
		bookErrs:    make(map[string]error),
		bookCalls:   make(map[string]int),
		balance:     10_000,
		orders:      make(map[string]*types.OrderStatus),
		fillScripts: make(map[string][]types.OrderStatus),
		subscribed:  make(map[string]bool),
		updates:     make(chan types.BookUpdate, 64),
	}
}

func (f *Fake) Name() types.Venue { return f.venue }

// SetEvents replaces the discovery result.
func (f *Fake) SetEvents(events ...types.MarketEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = events
}

// SetBook installs the book returned by TopOfBook for an instrument.
func (f *Fake) SetBook(id string, book *types.OrderBook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[id] = book
}

// SetBookErr makes TopOfBook fail for one instrument.
func (f *Fake) SetBookErr(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookErrs[id] = err
}

// TopOfBookCalls returns how many times TopOfBook was asked about id.
func (f *Fake) TopOfBookCalls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bookCalls[id]
}

// SetBalance sets the balance and optional error returned by Balance.
func (f *Fake) SetBalance(balance float64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = balance
	f.balanceErr = err
}

// FailPlace makes every PlaceOrder return err.
func (f *Fake) FailPlace(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeErr = err
}

// FailCancel makes every CancelOrder return err.
func (f *Fake) FailCancel(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelErr = err
}

// ScriptFills queues the statuses QueryOrder returns, in order, for the NEXT
// order placed on the instrument. The last status repeats once the script is
// exhausted.
func (f *Fake) ScriptFills(instrumentID string, statuses ...types.OrderStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fillScripts[instrumentID] = statuses
}

// PlacedOrders returns a copy of every order placed so far.
func (f *Fake) PlacedOrders() []types.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.OrderRequest, len(f.placed))
	copy(out, f.placed)
	return out
}

// CanceledOrders returns the ids passed to CancelOrder.
func (f *Fake) CanceledOrders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.canceled))
	copy(out, f.canceled)
	return out
}

// Subscribed reports whether the instrument has an active subscription.
func (f *Fake) Subscribed(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[id]
}

// Push emits a book update to subscribers, as the venue stream would.
func (f *Fake) Push(u types.BookUpdate) {
	f.updates <- u
}

func (f *Fake) Discover(ctx context.Context, filter venue.Filter) ([]types.MarketEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.MarketEvent, len(f.events))
	copy(out, f.events)
	return out, nil
}

func (f *Fake) Refresh(ctx context.Context, id string) (*types.MarketEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.events {
		if f.events[i].ID == id {
			ev := f.events[i]
			return &ev, nil
		}
	}
	return nil, types.NewVenueError(types.ErrTransient, f.venue, "refresh",
		fmt.Errorf("unknown instrument %s", id))
}

func (f *Fake) Subscribe(ctx context.Context, ids []string) (<-chan types.BookUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.subscribed[id] = true
	}
	return f.updates, nil
}

func (f *Fake) Unsubscribe(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.subscribed, id)
	}
	return nil
}

func (f *Fake) TopOfBook(ctx context.Context, id string) (*types.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookCalls[id]++
	if err, ok := f.bookErrs[id]; ok {
		return nil, err
	}
	book, ok := f.books[id]
	if !ok {
		return nil, types.NewVenueError(types.ErrNoLiquidity, f.venue, "top-of-book",
			fmt.Errorf("no book for %s", id))
	}
	cp := *book
	cp.UpdatedAt = time.Now()
	return &cp, nil
}

func (f *Fake) Balance(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.balanceErr
}

func (f *Fake) PlaceOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.placeErr != nil {
		return "", f.placeErr
	}

	f.nextOrderID++
	id := fmt.Sprintf("%s-order-%d", f.venue, f.nextOrderID)
	f.placed = append(f.placed, req)

	key := req.InstrumentID
	if key == "" {
		key = req.TokenID
	}
	if script, ok := f.fillScripts[key]; ok && len(script) > 0 {
		statuses := make([]types.OrderStatus, len(script))
		copy(statuses, script)
		for i := range statuses {
			statuses[i].OrderID = id
			if statuses[i].Requested == 0 {
				statuses[i].Requested = req.Contracts
			}
		}
		f.fillScripts[id] = statuses
		delete(f.fillScripts, key)
	} else {
		// Default: immediate full fill at the limit.
		f.orders[id] = &types.OrderStatus{
			OrderID:   id,
			State:     types.OrderFilled,
			Requested: req.Contracts,
			Filled:    req.Contracts,
			AvgPrice:  req.LimitPrice,
		}
	}
	return id, nil
}

func (f *Fake) QueryOrder(ctx context.Context, orderID string) (*types.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if script, ok := f.fillScripts[orderID]; ok {
		status := script[0]
		if len(script) > 1 {
			f.fillScripts[orderID] = script[1:]
		}
		cp := status
		return &cp, nil
	}

	status, ok := f.orders[orderID]
	if !ok {
		return nil, types.NewVenueError(types.ErrTransient, f.venue, "query-order",
			fmt.Errorf("unknown order %s", orderID))
	}
	cp := *status
	return &cp, nil
}

func (f *Fake) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.canceled = append(f.canceled, orderID)
	if f.cancelErr != nil {
		return f.cancelErr
	}
	if status, ok := f.orders[orderID]; ok && status.State == types.OrderOpen {
		status.State = types.OrderCanceled
	}
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.updates)
	}
	return nil
}
