package trader

import (
	"context"
	"sync"
	"testing"
	"time"

	"marlin/internal/events"
	"marlin/internal/executor"
	"marlin/internal/gateway/exchange"
	"marlin/internal/gateway/paper"
	"marlin/internal/ledger"
	"marlin/internal/market"
	"marlin/internal/pkg/backoff"
	"marlin/internal/risk"
	"marlin/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures events across worker goroutines.
type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Publish(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) byType(t events.Type) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	venue      *paper.Venue
	book       *ledger.Ledger
	sink       *recordingSink
	dispatcher *Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	venue := paper.New(10_000)
	venue.SetPrice("BTCUSDT", 100)
	venue.SetPrice("ETHUSDT", 50)

	sink := &recordingSink{}
	gate, err := risk.NewGate(risk.Parameters{
		PositionSizeFraction: 0.1,
		MaxOpenPositions:     3,
		StopLossPct:          2,
		TakeProfitPct:        4,
	})
	require.NoError(t, err)

	exec := executor.New(venue, executor.Config{
		MaxAttempts: 2,
		Backoff:     backoff.Policy{Base: time.Millisecond, Max: time.Millisecond},
		CallTimeout: time.Second,
	}, sink, nil)
	book := ledger.New(nil, sink)

	d := NewDispatcher(gate, exec, book, venue, sink, Config{QueueSize: 8, OpTimeout: 5 * time.Second})
	t.Cleanup(d.Stop)
	return &harness{venue: venue, book: book, sink: sink, dispatcher: d}
}

func signal(symbol string, side types.Side, price float64) types.Signal {
	return types.Signal{Symbol: symbol, Side: side, Price: price, Reason: "test", EmittedAt: time.Now()}
}

func TestDispatchOpensPosition(t *testing.T) {
	h := newHarness(t)

	err := h.dispatcher.Inject(signal("BTCUSDT", types.SideBuy, 100))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.book.Snapshot("BTCUSDT") != nil
	}, 2*time.Second, 5*time.Millisecond)

	pos := h.book.Snapshot("BTCUSDT")
	assert.Equal(t, 10.0, pos.Quantity) // 10000 * 0.1 / 100
	assert.Equal(t, 100.0, pos.EntryPrice)
	assert.Equal(t, types.PositionOpen, pos.Status)
	assert.Equal(t, 1, h.venue.OrderCount())
}

func TestDispatchDuplicateBuyRejected(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.dispatcher.Inject(signal("BTCUSDT", types.SideBuy, 100)))
	require.Eventually(t, func() bool {
		return h.book.Snapshot("BTCUSDT") != nil
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.dispatcher.Inject(signal("BTCUSDT", types.SideBuy, 100)))
	require.Eventually(t, func() bool {
		return len(h.sink.byType(events.OrderRejected)) > 0
	}, 2*time.Second, 5*time.Millisecond)

	// The gate rejected the second BUY before submission.
	assert.Equal(t, 1, h.venue.OrderCount())
	assert.Equal(t, 1, h.book.LiveCount())
	rej := h.sink.byType(events.OrderRejected)[0]
	assert.Equal(t, string(risk.PositionAlreadyOpen), rej.Fields["reason"])
}

func TestDispatchCloseRoundTrip(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.dispatcher.Inject(signal("BTCUSDT", types.SideBuy, 100)))
	require.Eventually(t, func() bool {
		return h.book.Snapshot("BTCUSDT") != nil
	}, 2*time.Second, 5*time.Millisecond)

	h.venue.SetPrice("BTCUSDT", 110)
	require.NoError(t, h.dispatcher.Inject(signal("BTCUSDT", types.SideClose, 110)))
	require.Eventually(t, func() bool {
		return h.book.Snapshot("BTCUSDT") == nil
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, h.book.LiveCount())
	assert.Equal(t, 2, h.venue.OrderCount())
	closed := h.sink.byType(events.PositionClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, 100.0, closed[0].Fields["realized_pnl"]) // (110-100)*10
}

func TestDispatchIncompleteIndicators(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.SetRequiredIndicators([]string{"rsi"})

	err := h.dispatcher.Dispatch(signal("BTCUSDT", types.SideBuy, 100), market.IndicatorSet{})
	assert.ErrorIs(t, err, ErrIncompleteData)

	err = h.dispatcher.Dispatch(signal("BTCUSDT", types.SideBuy, 100), market.IndicatorSet{"rsi": 25})
	assert.NoError(t, err)
}

func TestDispatchInvalidSignal(t *testing.T) {
	h := newHarness(t)

	assert.Error(t, h.dispatcher.Inject(signal("", types.SideBuy, 100)))
	assert.Error(t, h.dispatcher.Inject(signal("BTCUSDT", types.Side("HOLD"), 100)))
}

func TestDispatchAfterStop(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.Stop()

	err := h.dispatcher.Inject(signal("BTCUSDT", types.SideBuy, 100))
	assert.ErrorIs(t, err, ErrStopped)
}

func TestSymbolsIsolated(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.dispatcher.Inject(signal("BTCUSDT", types.SideBuy, 100)))
	require.NoError(t, h.dispatcher.Inject(signal("ETHUSDT", types.SideBuy, 50)))

	require.Eventually(t, func() bool {
		return h.book.LiveCount() == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.NotNil(t, h.book.Snapshot("BTCUSDT"))
	assert.NotNil(t, h.book.Snapshot("ETHUSDT"))
}

func TestParkAndResume(t *testing.T) {
	h := newHarness(t)

	w, err := h.dispatcher.workerFor("BTCUSDT")
	require.NoError(t, err)
	w.parked.Store(true)

	assert.True(t, h.dispatcher.Parked("BTCUSDT"))
	h.dispatcher.Resume("BTCUSDT")
	assert.False(t, h.dispatcher.Parked("BTCUSDT"))
}

func TestParkedWorkerDropsSignals(t *testing.T) {
	h := newHarness(t)

	w, err := h.dispatcher.workerFor("BTCUSDT")
	require.NoError(t, err)
	w.parked.Store(true)

	require.NoError(t, h.dispatcher.Inject(signal("BTCUSDT", types.SideBuy, 100)))
	require.Eventually(t, func() bool {
		return len(w.queue) == 0
	}, 2*time.Second, 5*time.Millisecond)

	// Drained but dropped: nothing reached the venue or the book.
	assert.Equal(t, 0, h.venue.OrderCount())
	assert.Nil(t, h.book.Snapshot("BTCUSDT"))

	h.dispatcher.Resume("BTCUSDT")
	require.NoError(t, h.dispatcher.Inject(signal("BTCUSDT", types.SideBuy, 100)))
	require.Eventually(t, func() bool {
		return h.book.Snapshot("BTCUSDT") != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.venue.OrderCount())
}

func TestRequiredIndicatorsSwapDuringDispatch(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.SetRequiredIndicators([]string{"rsi"})

	// Profile reloads swap the required set while the feed goroutine keeps
	// dispatching against it.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			h.dispatcher.SetRequiredIndicators([]string{"rsi", "sma"})
			h.dispatcher.SetRequiredIndicators([]string{"rsi"})
		}
	}()
	for i := 0; i < 500; i++ {
		err := h.dispatcher.Dispatch(signal("BTCUSDT", types.SideBuy, 100), market.IndicatorSet{})
		assert.ErrorIs(t, err, ErrIncompleteData)
	}
	<-done

	// The last stored set wins.
	h.dispatcher.SetRequiredIndicators(nil)
	assert.NoError(t, h.dispatcher.Dispatch(signal("ETHUSDT", types.SideBuy, 50), market.IndicatorSet{}))
}

func TestCheckProtectiveExits(t *testing.T) {
	openAt100 := func(t *testing.T, h *harness) {
		t.Helper()
		require.NoError(t, h.dispatcher.Inject(signal("BTCUSDT", types.SideBuy, 100)))
		require.Eventually(t, func() bool {
			return h.book.Snapshot("BTCUSDT") != nil
		}, 2*time.Second, 5*time.Millisecond)
	}
	candle := func(low, high, last float64) market.Candle {
		return market.Candle{Symbol: "BTCUSDT", Low: low, High: high, Close: last, CloseTime: time.Now()}
	}

	// Entry 100 with the harness gate yields stop loss 98 and take profit 104.
	t.Run("StopLossHit", func(t *testing.T) {
		h := newHarness(t)
		openAt100(t, h)

		h.venue.SetPrice("BTCUSDT", 97)
		h.dispatcher.CheckProtectiveExits(candle(97, 99, 97))

		require.Eventually(t, func() bool {
			return h.book.Snapshot("BTCUSDT") == nil
		}, 2*time.Second, 5*time.Millisecond)
		closed := h.sink.byType(events.PositionClosed)
		require.Len(t, closed, 1)
		assert.Equal(t, -30.0, closed[0].Fields["realized_pnl"]) // (97-100)*10
		assert.Contains(t, closed[0].Fields["reason"], "stop loss")
	})

	t.Run("TakeProfitHit", func(t *testing.T) {
		h := newHarness(t)
		openAt100(t, h)

		h.venue.SetPrice("BTCUSDT", 105)
		h.dispatcher.CheckProtectiveExits(candle(101, 105, 105))

		require.Eventually(t, func() bool {
			return h.book.Snapshot("BTCUSDT") == nil
		}, 2*time.Second, 5*time.Millisecond)
		closed := h.sink.byType(events.PositionClosed)
		require.Len(t, closed, 1)
		assert.Equal(t, 50.0, closed[0].Fields["realized_pnl"]) // (105-100)*10
		assert.Contains(t, closed[0].Fields["reason"], "take profit")
	})

	t.Run("InsideBandNoExit", func(t *testing.T) {
		h := newHarness(t)
		openAt100(t, h)

		h.dispatcher.CheckProtectiveExits(candle(99, 103, 101))

		pos := h.book.Snapshot("BTCUSDT")
		require.NotNil(t, pos)
		assert.Equal(t, types.PositionOpen, pos.Status)
		assert.Equal(t, 1, h.venue.OrderCount())
	})

	t.Run("NoPositionNoExit", func(t *testing.T) {
		h := newHarness(t)

		h.dispatcher.CheckProtectiveExits(candle(1, 2, 1))

		assert.Equal(t, 0, h.venue.OrderCount())
		assert.Empty(t, h.sink.byType(events.PositionClosed))
	})
}

// gatedVenue holds the first SymbolFilters call until released, pinning the
// worker mid-signal while later signals pile up in its queue.
type gatedVenue struct {
	*paper.Venue
	release chan struct{}
	once    sync.Once
}

func (g *gatedVenue) SymbolFilters(ctx context.Context, symbol string) (exchange.SymbolFilters, error) {
	g.once.Do(func() { <-g.release })
	return g.Venue.SymbolFilters(ctx, symbol)
}

func TestQueuedExitSupersedesBuy(t *testing.T) {
	venue := &gatedVenue{Venue: paper.New(10_000), release: make(chan struct{})}
	venue.SetPrice("BTCUSDT", 100)

	sink := &recordingSink{}
	gate, err := risk.NewGate(risk.Parameters{
		PositionSizeFraction: 0.1,
		MaxOpenPositions:     3,
		StopLossPct:          2,
		TakeProfitPct:        4,
	})
	require.NoError(t, err)
	exec := executor.New(venue, executor.Config{
		MaxAttempts: 2,
		Backoff:     backoff.Policy{Base: time.Millisecond, Max: time.Millisecond},
		CallTimeout: time.Second,
	}, sink, nil)
	book := ledger.New(nil, sink)
	d := NewDispatcher(gate, exec, book, venue, sink, Config{QueueSize: 8, OpTimeout: 5 * time.Second})
	t.Cleanup(d.Stop)

	// The first CLOSE blocks inside the venue call; the BUY and the second
	// CLOSE queue up behind it before the worker is released.
	require.NoError(t, d.Inject(signal("BTCUSDT", types.SideClose, 100)))
	require.NoError(t, d.Inject(signal("BTCUSDT", types.SideBuy, 100)))
	require.NoError(t, d.Inject(signal("BTCUSDT", types.SideClose, 100)))
	close(venue.release)

	require.Eventually(t, func() bool {
		return len(sink.byType(events.OrderRejected)) == 2
	}, 2*time.Second, 5*time.Millisecond)

	// Both CLOSEs were gate-rejected (no position) and the BUY between them
	// was dropped without ever reaching the venue.
	assert.Equal(t, 0, venue.OrderCount())
	assert.Equal(t, 0, book.LiveCount())
	for _, rej := range sink.byType(events.OrderRejected) {
		assert.Equal(t, string(risk.NoPositionToClose), rej.Fields["reason"])
	}
}

func TestEnqueueFullQueueRestoresExitCount(t *testing.T) {
	h := newHarness(t)

	// Standalone worker with nothing draining its queue.
	w := newWorker(h.dispatcher, "XRPUSDT")
	for i := 0; i < cap(w.queue); i++ {
		require.NoError(t, w.enqueue(signal("XRPUSDT", types.SideClose, 1)))
	}
	require.Equal(t, int32(cap(w.queue)), w.pendingExits.Load())

	err := w.enqueue(signal("XRPUSDT", types.SideClose, 1))
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int32(cap(w.queue)), w.pendingExits.Load())

	err = w.enqueue(signal("XRPUSDT", types.SideBuy, 1))
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int32(cap(w.queue)), w.pendingExits.Load())
}
