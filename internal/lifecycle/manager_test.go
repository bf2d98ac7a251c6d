package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/events"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/gateway/broker"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/market"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/risk"
)

type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureSink) Publish(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureSink) byKind(kind events.Kind) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, ev := range c.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func testConfig() Config {
	return Config{
		BreakevenR:      1.5,
		BreakevenBuffer: 0.25,
		PartialR:        2.0,
		PartialFraction: 0.30,
		TrailCandles:    3,
		ModifyRetries:   3,
		CallTimeout:     2 * time.Second,
	}
}

// setup opens a long EURUSD position at 1.1020 with stop 1.0985 on a paper
// venue and attaches it to a fresh manager.
func setup(t *testing.T) (*Manager, *broker.PaperBridge, *captureSink, *risk.State) {
	t.Helper()
	bridge := broker.NewPaperBridge("paper", 10000)
	router := broker.NewRouter(nil)
	venue := router.Register("paper", bridge, []string{"crypto"}, 5, time.Minute)

	ticket, err := bridge.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol:     "EURUSD",
		Direction:  broker.Long,
		Size:       1.0,
		EntryPrice: 1.1020,
		StopLoss:   1.0985,
		TakeProfit: 1.1090,
	})
	require.NoError(t, err)

	state := risk.NewState(1.0, 500)
	sink := &captureSink{}
	m := NewManager(testConfig(), venue, state, nil, sink)
	require.NoError(t, m.Attach(&Position{
		Ticket:       ticket,
		Symbol:       "EURUSD",
		Venue:        "paper",
		Direction:    broker.Long,
		Size:         1.0,
		EntryPrice:   1.1020,
		StopLoss:     1.0985,
		TakeProfit:   1.1090,
		ContractSize: 1,
		OpenedAt:     time.Now().UTC(),
	}))
	return m, bridge, sink, state
}

func TestBreakevenMovesStopWithBuffer(t *testing.T) {
	m, _, _, _ := setup(t)

	// +1.5R on a 0.0035 risk distance is 1.10725
	m.OnQuote(context.Background(), 1.10725)

	pos := m.Open()
	require.NotNil(t, pos)
	assert.Equal(t, StateBreakeven, pos.State)
	// entry + 0.25R buffer
	assert.InDelta(t, 1.1020+0.25*0.0035, pos.StopLoss, 1e-9)
}

func TestBreakevenNotBeforeThreshold(t *testing.T) {
	m, _, _, _ := setup(t)

	m.OnQuote(context.Background(), 1.1060) // ~1.14R

	pos := m.Open()
	require.NotNil(t, pos)
	assert.Equal(t, StateOpen, pos.State)
	assert.InDelta(t, 1.0985, pos.StopLoss, 1e-9)
}

func TestPartialTakenExactlyOnce(t *testing.T) {
	m, bridge, _, _ := setup(t)
	bridge.SetMark("EURUSD", 1.1090)

	// +2.0R: breakeven then partial in one sweep
	m.OnQuote(context.Background(), 1.1090)

	pos := m.Open()
	require.NotNil(t, pos)
	assert.Equal(t, StatePartial, pos.State)
	assert.True(t, pos.PartialDone)
	assert.InDelta(t, 0.70, pos.Size, 1e-9)

	// further quotes above threshold must not take again
	m.OnQuote(context.Background(), 1.1100)
	pos = m.Open()
	require.NotNil(t, pos)
	assert.InDelta(t, 0.70, pos.Size, 1e-9)
}

func TestStopNeverLoosens(t *testing.T) {
	m, _, _, _ := setup(t)
	m.OnQuote(context.Background(), 1.1090) // breakeven + partial

	pos := m.Open()
	require.NotNil(t, pos)
	tightened := pos.StopLoss

	// trailing window whose low is below the current stop must be ignored
	candles := trendingCandles(1.0900, 0.0001, 30)
	m.OnTriggerClose(context.Background(), candles)

	pos = m.Open()
	require.NotNil(t, pos)
	assert.GreaterOrEqual(t, pos.StopLoss, tightened)
}

func TestTrailingTightensBehindRecentLows(t *testing.T) {
	m, _, _, _ := setup(t)
	m.OnQuote(context.Background(), 1.1090) // breakeven + partial

	// steadily rising closed candles well above entry
	candles := trendingCandles(1.1100, 0.0005, 30)
	m.OnTriggerClose(context.Background(), candles)

	pos := m.Open()
	require.NotNil(t, pos)
	assert.Equal(t, StateTrailing, pos.State)

	window := candles[len(candles)-3:]
	want := market.LowestLow(window, 0, len(window))
	assert.InDelta(t, want, pos.StopLoss, 1e-9)
}

func TestTrailingRespectsGlobalToggle(t *testing.T) {
	m, _, _, state := setup(t)
	m.OnQuote(context.Background(), 1.1090)
	state.SetTrailingEnabled(false)

	before := m.Open().StopLoss
	m.OnTriggerClose(context.Background(), trendingCandles(1.1100, 0.0005, 30))

	pos := m.Open()
	require.NotNil(t, pos)
	assert.Equal(t, StatePartial, pos.State)
	assert.InDelta(t, before, pos.StopLoss, 1e-9)
}

func TestStructuralExitClosesAndWins(t *testing.T) {
	m, bridge, sink, _ := setup(t)
	m.OnQuote(context.Background(), 1.1090)

	// uptrend with a clear swing low, then a body close through it
	candles := trendingCandles(1.1100, 0.0005, 20)
	pivot := candles[len(candles)-5]
	breakClose := pivot.Low - 0.0010
	bridge.SetMark("EURUSD", breakClose)
	candles = append(candles, market.Candle{
		OpenTime:  candles[len(candles)-1].OpenTime + 60_000,
		CloseTime: candles[len(candles)-1].CloseTime + 60_000,
		Open:      pivot.Low + 0.0005,
		High:      pivot.Low + 0.0006,
		Low:       breakClose - 0.0002,
		Close:     breakClose,
	})

	m.OnTriggerClose(context.Background(), candles)

	assert.Nil(t, m.Open())
	evs := sink.byKind(events.KindPositionLifecycle)
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, "CLOSED", last.Stage)
	assert.Equal(t, string(CloseStructural), last.Reason)
}

func TestModifyFailuresFlagDegradedNotClosed(t *testing.T) {
	m, bridge, sink, _ := setup(t)
	bridge.FailNext(10, nil) // every modify attempt fails transiently

	m.OnQuote(context.Background(), 1.10725)

	pos := m.Open()
	require.NotNil(t, pos, "degraded position must stay open")
	assert.True(t, pos.Degraded)
	assert.Equal(t, StateOpen, pos.State)
	assert.InDelta(t, 1.0985, pos.StopLoss, 1e-9)
	require.NotEmpty(t, sink.byKind(events.KindAlert))
}

func TestManualCloseBooksRealized(t *testing.T) {
	m, bridge, _, state := setup(t)
	bridge.SetMark("EURUSD", 1.0990)

	require.NoError(t, m.Close(context.Background(), CloseManual, 1.0990))

	assert.Nil(t, m.Open())
	// -0.0030 on 1.0 size against a 500 limit
	assert.InDelta(t, 0.0030, state.RealizedLossToday(), 1e-9)
}

func TestReconcileInfersCloseReason(t *testing.T) {
	m, bridge, sink, _ := setup(t)

	// venue closed the position server-side at the target
	require.NoError(t, bridge.ClosePosition(context.Background(), "EURUSD", 1))
	m.Reconcile(nil, 1.1095)

	assert.Nil(t, m.Open())
	evs := sink.byKind(events.KindPositionLifecycle)
	require.NotEmpty(t, evs)
	assert.Equal(t, string(CloseTakeProfit), evs[len(evs)-1].Reason)
}

func TestReconcileStopLoss(t *testing.T) {
	m, bridge, sink, _ := setup(t)

	require.NoError(t, bridge.ClosePosition(context.Background(), "EURUSD", 1))
	m.Reconcile(nil, 1.0980)

	assert.Nil(t, m.Open())
	evs := sink.byKind(events.KindPositionLifecycle)
	require.NotEmpty(t, evs)
	assert.Equal(t, string(CloseStopLoss), evs[len(evs)-1].Reason)
}

func TestAttachRejectsSecondPosition(t *testing.T) {
	m, _, _, _ := setup(t)
	err := m.Attach(&Position{Symbol: "EURUSD", Ticket: "x"})
	assert.Error(t, err)
}

func TestAdvanceIsMonotonic(t *testing.T) {
	p := &Position{State: StatePartial}
	assert.False(t, p.advance(StateBreakeven))
	assert.Equal(t, StatePartial, p.State)
	assert.True(t, p.advance(StateTrailing))
}

// trendingCandles builds steadily rising closed candles with small pullback
// lows so swing pivots exist.
func trendingCandles(start, step float64, n int) []market.Candle {
	out := make([]market.Candle, 0, n)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC).UnixMilli()
	for i := 0; i < n; i++ {
		o := start + float64(i)*step
		c := o + step
		low := o - step/2
		// every 4th candle digs deeper, carving a swing low
		if i%4 == 2 {
			low = o - step*1.8
		}
		out = append(out, market.Candle{
			OpenTime:  base + int64(i)*60_000,
			CloseTime: base + int64(i+1)*60_000 - 1,
			Open:      o,
			High:      c + step/2,
			Low:       low,
			Close:     c,
			Volume:    100,
		})
	}
	return out
}
