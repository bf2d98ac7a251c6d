package market

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candleAt(openTime int64, o, h, l, c float64) Candle {
	return Candle{OpenTime: openTime, CloseTime: openTime + 59_999, Open: o, High: h, Low: l, Close: c}
}

func TestStorePutMergesForming(t *testing.T) {
	s := NewMemoryCandleStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "EURUSD", "1m", []Candle{
		candleAt(0, 1.10, 1.11, 1.09, 1.105),
		candleAt(60_000, 1.105, 1.12, 1.10, 1.11),
	}, 100))

	// same open time replaces the forming bar
	require.NoError(t, s.Put(ctx, "EURUSD", "1m", []Candle{
		candleAt(60_000, 1.105, 1.13, 1.10, 1.125),
	}, 100))

	got, err := s.Get(ctx, "EURUSD", "1m")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 1.125, got[1].Close, 1e-9)
}

func TestStoreDropsOutOfOrder(t *testing.T) {
	s := NewMemoryCandleStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "EURUSD", "1m", []Candle{candleAt(120_000, 1, 1, 1, 1)}, 100))
	require.NoError(t, s.Put(ctx, "EURUSD", "1m", []Candle{candleAt(60_000, 2, 2, 2, 2)}, 100))

	got, err := s.Get(ctx, "EURUSD", "1m")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(120_000), got[0].OpenTime)
}

func TestStoreBoundsWindow(t *testing.T) {
	s := NewMemoryCandleStore()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Put(ctx, "EURUSD", "1m",
			[]Candle{candleAt(int64(i)*60_000, 1, 1, 1, 1)}, 4))
	}
	got, err := s.Get(ctx, "EURUSD", "1m")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, int64(6*60_000), got[0].OpenTime)
}

func TestStoreKeysBySymbolAndInterval(t *testing.T) {
	s := NewMemoryCandleStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "EURUSD", "1m", []Candle{candleAt(0, 1, 1, 1, 1)}, 100))

	got, err := s.Get(ctx, "EURUSD", "1h")
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = s.Get(ctx, "GBPUSD", "1m")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCandleWicks(t *testing.T) {
	c := candleAt(0, 1.1010, 1.1012, 1.0985, 1.1005)
	assert.InDelta(t, 0.0027, c.Range(), 1e-9)
	assert.InDelta(t, 0.0020, c.LowerWick(), 1e-9)
	assert.InDelta(t, 0.0002, c.UpperWick(), 1e-9)
	assert.False(t, c.Bullish())
}

func TestQuoteSpread(t *testing.T) {
	assert.InDelta(t, 0.0002, Quote{Bid: 1.1000, Ask: 1.1002}.Spread(), 1e-9)
	assert.Zero(t, Quote{Bid: 1.1000}.Spread())
	assert.Zero(t, Quote{Bid: 1.1002, Ask: 1.1000}.Spread())
}

func TestSpreadTrackerAcceptable(t *testing.T) {
	tr := NewSpreadTracker(5)

	// permissive until a baseline exists
	assert.True(t, tr.Acceptable("EURUSD", 0.01, 3))

	for i := 0; i < 5; i++ {
		tr.Observe("EURUSD", 0.0001)
	}
	assert.True(t, tr.Acceptable("EURUSD", 0.0003, 3))
	assert.False(t, tr.Acceptable("EURUSD", 0.0004, 3))

	// window slides: a new normal is accepted eventually
	for i := 0; i < 5; i++ {
		tr.Observe("EURUSD", 0.0004)
	}
	assert.True(t, tr.Acceptable("EURUSD", 0.0004, 3))
}

func TestHighestLowest(t *testing.T) {
	candles := []Candle{
		candleAt(0, 1, 1.2, 0.9, 1.1),
		candleAt(60_000, 1.1, 1.5, 1.0, 1.4),
		candleAt(120_000, 1.4, 1.45, 0.8, 1.0),
	}
	assert.InDelta(t, 1.5, HighestHigh(candles, 0, len(candles)), 1e-9)
	assert.InDelta(t, 0.8, LowestLow(candles, 0, len(candles)), 1e-9)
	assert.InDelta(t, 1.45, HighestHigh(candles, 2, len(candles)), 1e-9)
}
