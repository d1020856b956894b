package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/auctiond/internal/auction"
	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/config"
	"github.com/jensholdgaard/auctiond/internal/health"
	"github.com/jensholdgaard/auctiond/internal/httpapi"
	"github.com/jensholdgaard/auctiond/internal/notify"
	"github.com/jensholdgaard/auctiond/internal/store"
	"github.com/jensholdgaard/auctiond/internal/store/memory"
)

var epoch = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type server struct {
	router http.Handler
	clock  *clock.Manual
}

func newServer(t *testing.T) *server {
	t.Helper()
	clk := clock.NewManual(epoch)
	repos := memory.New(clk).Repositories()
	eng, err := auction.NewEngine(repos, notify.Nop{}, slog.Default(),
		noop.NewTracerProvider(), metricnoop.NewMeterProvider(), clk, config.Defaults().Bidding)
	require.NoError(t, err)
	return newServerFor(eng, clk)
}

func newServerFor(svc httpapi.Service, clk *clock.Manual) *server {
	probes := health.NewHandler(clk)
	probes.SetReady(true)
	return &server{
		router: httpapi.NewRouter(svc, probes, slog.Default(), noop.NewTracerProvider()),
		clock:  clk,
	}
}

func (s *server) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *server) createItem(t *testing.T, startingPrice string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/items", map[string]any{
		"seller_id":      "seller",
		"title":          "Brass lamp",
		"starting_price": startingPrice,
		"end_time":       epoch.Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var it struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &it))
	require.NotEmpty(t, it.ID)
	return it.ID
}

type apiError struct {
	Error struct {
		Reason   string `json:"reason"`
		Message  string `json:"message"`
		Required string `json:"required"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apiError {
	t.Helper()
	var e apiError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e
}

func TestItemLifecycle(t *testing.T) {
	s := newServer(t)
	id := s.createItem(t, "10")

	rec := s.do(t, http.MethodPost, "/items/"+id+"/bids", map[string]any{"bidder_id": "bob", "amount": "11"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var bid struct {
		BidderID  string `json:"bidder_id"`
		Amount    string `json:"amount"`
		Synthetic bool   `json:"synthetic"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bid))
	require.Equal(t, "bob", bid.BidderID)
	require.Equal(t, "11", bid.Amount)
	require.False(t, bid.Synthetic)

	rec = s.do(t, http.MethodGet, "/items/"+id+"/bids", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 1)

	rec = s.do(t, http.MethodPost, "/items/"+id+"/sell", map[string]any{"seller_id": "seller"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/items/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var item struct {
		Archived  bool   `json:"archived"`
		SoldOut   bool   `json:"sold_out"`
		SoldTo    string `json:"sold_to"`
		SoldPrice string `json:"sold_price"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	require.True(t, item.Archived)
	require.True(t, item.SoldOut)
	require.Equal(t, "bob", item.SoldTo)
	require.Equal(t, "11", item.SoldPrice)
}

func TestPlaceBid_Errors(t *testing.T) {
	tests := []struct {
		name         string
		item         string
		body         map[string]any
		wantCode     int
		wantReason   string
		wantRequired string
	}{
		{
			name:         "below minimum",
			body:         map[string]any{"bidder_id": "bob", "amount": "10"},
			wantCode:     http.StatusBadRequest,
			wantReason:   "bid_too_low",
			wantRequired: "11",
		},
		{
			name:       "seller bids",
			body:       map[string]any{"bidder_id": "seller", "amount": "20"},
			wantCode:   http.StatusForbidden,
			wantReason: "self_bid_forbidden",
		},
		{
			name:       "already highest",
			body:       map[string]any{"bidder_id": "alice", "amount": "30"},
			wantCode:   http.StatusConflict,
			wantReason: "already_highest_bidder",
		},
		{
			name:       "unknown item",
			item:       "missing",
			body:       map[string]any{"bidder_id": "bob", "amount": "30"},
			wantCode:   http.StatusBadRequest,
			wantReason: "item_unavailable",
		},
		{
			name:       "sub-cent amount",
			body:       map[string]any{"bidder_id": "bob", "amount": "30.005"},
			wantCode:   http.StatusBadRequest,
			wantReason: "invalid_amount",
		},
		{
			name:       "missing amount",
			body:       map[string]any{"bidder_id": "bob"},
			wantCode:   http.StatusBadRequest,
			wantReason: "invalid_request",
		},
		{
			name:       "missing bidder",
			body:       map[string]any{"amount": "30"},
			wantCode:   http.StatusBadRequest,
			wantReason: "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t)
			id := s.createItem(t, "10")
			rec := s.do(t, http.MethodPost, "/items/"+id+"/bids", map[string]any{"bidder_id": "alice", "amount": "11"})
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

			if tt.item != "" {
				id = tt.item
			}
			rec = s.do(t, http.MethodPost, "/items/"+id+"/bids", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			e := decodeError(t, rec)
			require.Equal(t, tt.wantReason, e.Error.Reason)
			require.NotEmpty(t, e.Error.Message)
			require.Equal(t, tt.wantRequired, e.Error.Required)
		})
	}
}

func TestAutoBid(t *testing.T) {
	s := newServer(t)
	id := s.createItem(t, "10")
	path := "/items/" + id + "/autobid"

	rec := s.do(t, http.MethodPut, path, map[string]any{"bidder_id": "bob", "max_amount": "50"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var order struct {
		BidderID  string `json:"bidder_id"`
		MaxAmount string `json:"max_amount"`
		Active    bool   `json:"active"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	require.Equal(t, "bob", order.BidderID)
	require.Equal(t, "50", order.MaxAmount)
	require.True(t, order.Active)

	rec = s.do(t, http.MethodGet, path+"?bidder_id=bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/bidders/bob/autobids", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 1)

	rec = s.do(t, http.MethodDelete, path+"?bidder_id=bob", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodDelete, path+"?bidder_id=bob", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", decodeError(t, rec).Error.Reason)

	rec = s.do(t, http.MethodGet, "/bidders/bob/autobids", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())

	rec = s.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAutoBid_MaxTooLow(t *testing.T) {
	s := newServer(t)
	id := s.createItem(t, "10")

	rec := s.do(t, http.MethodPut, "/items/"+id+"/autobid", map[string]any{"bidder_id": "bob", "max_amount": "10"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	e := decodeError(t, rec)
	require.Equal(t, "max_bid_too_low", e.Error.Reason)
	require.Equal(t, "10", e.Error.Required)
}

func TestAutoBid_AnswersManualBid(t *testing.T) {
	s := newServer(t)
	id := s.createItem(t, "10")

	rec := s.do(t, http.MethodPut, "/items/"+id+"/autobid", map[string]any{"bidder_id": "bob", "max_amount": "50"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, "/items/"+id+"/bids", map[string]any{"bidder_id": "alice", "amount": "20"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/items/"+id+"/bids", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []struct {
		BidderID  string `json:"bidder_id"`
		Amount    string `json:"amount"`
		Synthetic bool   `json:"synthetic"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 2)
	require.Equal(t, "bob", history[0].BidderID)
	require.Equal(t, "21", history[0].Amount)
	require.True(t, history[0].Synthetic)
}

func TestSell_NotSeller(t *testing.T) {
	s := newServer(t)
	id := s.createItem(t, "10")

	rec := s.do(t, http.MethodPost, "/items/"+id+"/sell", map[string]any{"seller_id": "mallory"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "not_seller", decodeError(t, rec).Error.Reason)
}

func TestCreateItem_Invalid(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodPost, "/items", map[string]any{
		"seller_id":      "seller",
		"starting_price": "10",
		"end_time":       epoch.Add(-time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_item", decodeError(t, rec).Error.Reason)

	rec = s.do(t, http.MethodPost, "/items", map[string]any{"seller_id": "seller"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", decodeError(t, rec).Error.Reason)
}

func TestGetItem_NotFound(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodGet, "/items/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", decodeError(t, rec).Error.Reason)
}

func TestGetItem_FinalizesExpired(t *testing.T) {
	s := newServer(t)
	id := s.createItem(t, "10")
	rec := s.do(t, http.MethodPost, "/items/"+id+"/bids", map[string]any{"bidder_id": "bob", "amount": "15"})
	require.Equal(t, http.StatusCreated, rec.Code)

	s.clock.Advance(2 * time.Hour)

	rec = s.do(t, http.MethodGet, "/items/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var item struct {
		Archived bool   `json:"archived"`
		SoldTo   string `json:"sold_to"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	require.True(t, item.Archived)
	require.Equal(t, "bob", item.SoldTo)
}

func TestWatchlist(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, http.MethodGet, "/bidders/bob/watchlist", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"item_ids":[]}`, rec.Body.String())

	id := s.createItem(t, "10")
	rec = s.do(t, http.MethodPost, "/items/"+id+"/bids", map[string]any{"bidder_id": "bob", "amount": "11"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/bidders/bob/watchlist", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, fmt.Sprintf(`{"item_ids":[%q]}`, id), rec.Body.String())
}

func TestEvents(t *testing.T) {
	s := newServer(t)
	id := s.createItem(t, "10")

	rec := s.do(t, http.MethodPut, "/items/"+id+"/autobid", map[string]any{"bidder_id": "bob", "max_amount": "50"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, "/items/"+id+"/bids", map[string]any{"bidder_id": "alice", "amount": "20"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var all []struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	rec = s.do(t, http.MethodGet, "/items/"+id+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 3)
	require.Equal(t, "autobid.set", all[0].Type)

	rec = s.do(t, http.MethodGet, "/items/"+id+"/events?type=bid.placed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 2)

	var last struct {
		BidderID  string `json:"bidder_id"`
		Amount    string `json:"amount"`
		Synthetic bool   `json:"synthetic"`
	}
	require.NoError(t, json.Unmarshal(all[1].Data, &last))
	require.Equal(t, "bob", last.BidderID)
	require.Equal(t, "21", last.Amount)
	require.True(t, last.Synthetic)

	rec = s.do(t, http.MethodGet, "/items/missing/events", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProbes(t *testing.T) {
	s := newServer(t)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/readyz", nil).Code)
}

// failingService returns err from GetItem. Other methods are not called.
type failingService struct {
	httpapi.Service
	err error
}

func (f failingService) GetItem(context.Context, string) (*store.Item, error) {
	return nil, f.err
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantReason string
	}{
		{"conflict", fmt.Errorf("placing bid: %w", auction.ErrConflict), http.StatusConflict, "conflict"},
		{"not found", fmt.Errorf("reading: %w", store.ErrNotFound), http.StatusNotFound, "not_found"},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServerFor(failingService{err: tt.err}, clock.NewManual(epoch))

			rec := s.do(t, http.MethodGet, "/items/x", nil)
			require.Equal(t, tt.wantCode, rec.Code)

			e := decodeError(t, rec)
			require.Equal(t, tt.wantReason, e.Error.Reason)
			if tt.wantCode == http.StatusInternalServerError {
				require.NotContains(t, e.Error.Message, "connection reset")
			}
		})
	}
}
