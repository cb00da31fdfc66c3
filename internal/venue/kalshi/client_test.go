package kalshi

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crossvenue/kalshi-poly-arb/internal/venue"
	"github.com/crossvenue/kalshi-poly-arb/pkg/types"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:        srv.URL,
		Series:         []string{"KXBTC15M"},
		RequestTimeout: 2 * time.Second,
		Logger:         zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestDiscover(t *testing.T) {
	close15 := time.Now().UTC().Add(12 * time.Minute).Format(time.RFC3339)
	closeFar := time.Now().UTC().Add(48 * time.Hour).Format(time.RFC3339)

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("series_ticker"); got != "KXBTC15M" {
			t.Errorf("series_ticker = %q", got)
		}
		w.Write([]byte(`{"markets": [
			{"ticker": "KXBTC15M-1200", "title": "Bitcoin up or down at 12:00?",
			 "yes_ask": 44, "no_ask": 55, "volume": 1200, "status": "open",
			 "close_time": "` + close15 + `"},
			{"ticker": "KXBTC15M-FAR", "title": "Bitcoin up or down tomorrow?",
			 "yes_ask": 50, "no_ask": 51, "volume": 10, "status": "open",
			 "close_time": "` + closeFar + `"},
			{"ticker": "KXBTC15M-OTHER", "title": "Something else entirely",
			 "yes_ask": 50, "no_ask": 51, "volume": 10, "status": "open",
			 "close_time": "` + close15 + `"}
		]}`))
	}))

	events, err := c.Discover(context.Background(), venue.Filter{
		Keywords:   []string{"up or down"},
		MaxHorizon: 24 * time.Hour,
		Limit:      100,
	})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 (horizon and keyword filtered)", len(events))
	}

	ev := events[0]
	if ev.Ticker != "KXBTC15M-1200" {
		t.Errorf("ticker = %s", ev.Ticker)
	}
	if ev.YesAsk != 0.44 || ev.NoAsk != 0.55 {
		t.Errorf("prices = (%f, %f), want (0.44, 0.55)", ev.YesAsk, ev.NoAsk)
	}
	if ev.Source != "Coinbase" {
		t.Errorf("source = %q, want Coinbase", ev.Source)
	}
	if ev.ResolutionTime.Location() != time.UTC {
		t.Error("resolution time not UTC")
	}
}

func TestTopOfBookNormalization(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Bids ascending per Kalshi convention.
		w.Write([]byte(`{"orderbook": {
			"yes": [[40, 100], [44, 200]],
			"no":  [[50, 150], [55, 300]]
		}}`))
	}))

	book, err := c.TopOfBook(context.Background(), "KXBTC15M-1200")
	if err != nil {
		t.Fatalf("TopOfBook: %v", err)
	}

	// Best YES ask = 1 - best NO bid (0.55) = 0.45.
	yes, ok := book.BestYesAsk()
	if !ok || !approx(yes.Price, 0.45) || yes.Size != 300 {
		t.Errorf("best yes ask = %+v, want {0.45 300}", yes)
	}

	// Best NO ask = 1 - best YES bid (0.44) = 0.56.
	no, ok := book.BestNoAsk()
	if !ok || !approx(no.Price, 0.56) || no.Size != 200 {
		t.Errorf("best no ask = %+v, want {0.56 200}", no)
	}
}

func approx(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestBalanceCentsConversion(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"balance": 123456}`))
	}))

	balance, err := c.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 1234.56 {
		t.Errorf("balance = %f, want 1234.56", balance)
	}
}

func TestQueryOrderStates(t *testing.T) {
	tests := []struct {
		name string
		body string
		want types.OrderState
	}{
		{
			name: "resting untouched",
			body: `{"order": {"order_id": "o1", "status": "resting", "initial_count": 10, "remaining_count": 10, "no_price": 55}}`,
			want: types.OrderOpen,
		},
		{
			name: "resting partial",
			body: `{"order": {"order_id": "o1", "status": "resting", "initial_count": 10, "remaining_count": 7, "no_price": 55}}`,
			want: types.OrderPartially,
		},
		{
			name: "executed",
			body: `{"order": {"order_id": "o1", "status": "executed", "initial_count": 10, "remaining_count": 0, "no_price": 55}}`,
			want: types.OrderFilled,
		},
		{
			name: "canceled",
			body: `{"order": {"order_id": "o1", "status": "canceled", "initial_count": 10, "remaining_count": 7, "no_price": 55}}`,
			want: types.OrderCanceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))

			status, err := c.QueryOrder(context.Background(), "o1")
			if err != nil {
				t.Fatalf("QueryOrder: %v", err)
			}
			if status.State != tt.want {
				t.Errorf("state = %s, want %s", status.State, tt.want)
			}
		})
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		code int
		want types.ErrKind
	}{
		{http.StatusUnauthorized, types.ErrAuthFailure},
		{http.StatusForbidden, types.ErrAuthFailure},
		{http.StatusBadRequest, types.ErrBadPrice},
		{http.StatusInternalServerError, types.ErrTransient},
		{http.StatusTooManyRequests, types.ErrTransient},
	}

	for _, tt := range tests {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.code)
		}))

		_, err := c.Balance(context.Background())
		if !types.IsKind(err, tt.want) {
			t.Errorf("status %d classified as %q, want %q", tt.code, types.KindOf(err), tt.want)
		}
	}
}
