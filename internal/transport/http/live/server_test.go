package livehttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marlin/internal/store/journal"
	"marlin/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBook struct {
	positions map[string]*types.Position
}

func (b *fakeBook) All() []types.Position {
	out := make([]types.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out
}

func (b *fakeBook) Snapshot(symbol string) *types.Position {
	return b.positions[symbol]
}

type fakeInjector struct {
	injected []types.Signal
	err      error
	parked   map[string]bool
}

func (f *fakeInjector) Inject(sig types.Signal) error {
	if f.err != nil {
		return f.err
	}
	f.injected = append(f.injected, sig)
	return nil
}

func (f *fakeInjector) Parked(symbol string) bool { return f.parked[symbol] }

type fakeEvents struct {
	records []journal.Record
}

func (f *fakeEvents) Recent(_ context.Context, _, _ string, _ int) ([]journal.Record, error) {
	return f.records, nil
}

type fakeNudger struct {
	nudged []string
}

func (f *fakeNudger) Nudge(symbol string) { f.nudged = append(f.nudged, symbol) }

func newTestServer(t *testing.T) (*Server, *fakeBook, *fakeInjector, *fakeNudger) {
	t.Helper()
	book := &fakeBook{positions: map[string]*types.Position{
		"BTCUSDT": {Symbol: "BTCUSDT", Quantity: 10, EntryPrice: 100, Status: types.PositionOpen},
	}}
	injector := &fakeInjector{parked: map[string]bool{"ETHUSDT": true}}
	nudger := &fakeNudger{}
	srv, err := NewServer(ServerConfig{
		Addr:     ":0",
		Book:     book,
		Injector: injector,
		Events:   &fakeEvents{records: []journal.Record{{ID: 1, Type: "drift_detected", Symbol: "BTCUSDT"}}},
		Nudger:   nudger,
		Symbols:  []string{"BTCUSDT", "ETHUSDT"},
	})
	require.NoError(t, err)
	return srv, book, injector, nudger
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rec := do(srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetPositions(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := do(srv, http.MethodGet, "/api/admin/positions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Positions []types.Position `json:"positions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Positions, 1)
	assert.Equal(t, "BTCUSDT", resp.Positions[0].Symbol)
}

func TestGetPositionBySymbol(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	// Lowercase input normalizes to the canonical symbol.
	rec := do(srv, http.MethodGet, "/api/admin/positions/btcusdt", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(srv, http.MethodGet, "/api/admin/positions/SOLUSDT", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetParked(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := do(srv, http.MethodGet, "/api/admin/parked", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Parked []string `json:"parked"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"ETHUSDT"}, resp.Parked)
}

func TestGetEvents(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := do(srv, http.MethodGet, "/api/admin/events?symbol=BTCUSDT&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Events []journal.Record `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "drift_detected", resp.Events[0].Type)
}

func TestPostSignal(t *testing.T) {
	srv, _, injector, _ := newTestServer(t)

	t.Run("Accepted", func(t *testing.T) {
		rec := do(srv, http.MethodPost, "/api/admin/signal", `{"symbol":"btc/usdt","side":"buy","price":100,"reason":"manual"}`)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, injector.injected, 1)
		assert.Equal(t, "BTCUSDT", injector.injected[0].Symbol)
		assert.Equal(t, types.SideBuy, injector.injected[0].Side)
		assert.False(t, injector.injected[0].EmittedAt.IsZero())
	})
	t.Run("MissingFields", func(t *testing.T) {
		rec := do(srv, http.MethodPost, "/api/admin/signal", `{"symbol":"BTCUSDT"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("BadSide", func(t *testing.T) {
		rec := do(srv, http.MethodPost, "/api/admin/signal", `{"symbol":"BTCUSDT","side":"HOLD"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("InjectorRejects", func(t *testing.T) {
		injector.err = errors.New("queue full")
		defer func() { injector.err = nil }()
		rec := do(srv, http.MethodPost, "/api/admin/signal", `{"symbol":"BTCUSDT","side":"BUY"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestPostReconcile(t *testing.T) {
	srv, _, _, nudger := newTestServer(t)

	rec := do(srv, http.MethodPost, "/api/admin/reconcile?symbol=BTCUSDT", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"BTCUSDT"}, nudger.nudged)
}

func TestNewServerRequiresBook(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestStartShutsDownOnCancel(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
