package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	candles map[string][]Candle
}

func (s *stubSource) Candles(_ context.Context, symbol, _ string, _ int) ([]Candle, error) {
	return s.candles[symbol], nil
}

func TestNewFeedRejectsBadInterval(t *testing.T) {
	_, err := NewFeed(&stubSource{}, []string{"BTCUSDT"}, "soon", func(Candle) {})
	assert.Error(t, err)
}

func TestPassDeliversClosedCandleOnce(t *testing.T) {
	closed := Candle{Symbol: "BTCUSDT", Close: 100, CloseTime: time.Now().Add(-time.Minute)}
	forming := Candle{Symbol: "BTCUSDT", Close: 101, CloseTime: time.Now().Add(time.Minute)}
	src := &stubSource{candles: map[string][]Candle{"BTCUSDT": {closed, forming}}}

	var got []Candle
	feed, err := NewFeed(src, []string{"BTCUSDT"}, "1m", func(c Candle) { got = append(got, c) })
	require.NoError(t, err)

	feed.pass(context.Background())
	require.Len(t, got, 1)
	// The still-forming bar is skipped.
	assert.Equal(t, 100.0, got[0].Close)

	// The same close time is not delivered twice.
	feed.pass(context.Background())
	assert.Len(t, got, 1)
}

func TestPassDeliversNewerCandle(t *testing.T) {
	first := Candle{Symbol: "BTCUSDT", Close: 100, CloseTime: time.Now().Add(-2 * time.Minute)}
	src := &stubSource{candles: map[string][]Candle{"BTCUSDT": {first}}}

	var got []Candle
	feed, err := NewFeed(src, []string{"BTCUSDT"}, "1m", func(c Candle) { got = append(got, c) })
	require.NoError(t, err)

	feed.pass(context.Background())
	require.Len(t, got, 1)

	second := Candle{Symbol: "BTCUSDT", Close: 105, CloseTime: time.Now().Add(-time.Minute)}
	src.candles["BTCUSDT"] = []Candle{first, second}
	feed.pass(context.Background())
	require.Len(t, got, 2)
	assert.Equal(t, 105.0, got[1].Close)
}

func TestLatestClosed(t *testing.T) {
	now := time.Now()

	_, ok := latestClosed(nil)
	assert.False(t, ok)

	_, ok = latestClosed([]Candle{{CloseTime: now.Add(time.Hour)}})
	assert.False(t, ok)

	c, ok := latestClosed([]Candle{
		{Close: 1, CloseTime: now.Add(-2 * time.Minute)},
		{Close: 2, CloseTime: now.Add(-time.Minute)},
		{Close: 3, CloseTime: now.Add(time.Minute)},
	})
	require.True(t, ok)
	assert.Equal(t, 2.0, c.Close)
}
