package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/config"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/events"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/gateway/broker"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/market"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/risk"
)

type fakeSource struct {
	mu        sync.Mutex
	histories map[string][]market.Candle
	quote     market.Quote
}

func newFakeSource() *fakeSource {
	return &fakeSource{histories: make(map[string][]market.Candle)}
}

func (f *fakeSource) set(interval string, candles []market.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories[interval] = candles
}

func (f *fakeSource) append(interval string, candles ...market.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories[interval] = append(f.histories[interval], candles...)
}

func (f *fakeSource) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]market.Candle, len(f.histories[interval]))
	copy(out, f.histories[interval])
	return out, nil
}

func (f *fakeSource) GetQuote(ctx context.Context, symbol string) (market.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quote, nil
}

func (f *fakeSource) Stats() market.SourceStats { return market.SourceStats{} }
func (f *fakeSource) Close() error              { return nil }

func pipelineConfig() *config.Config {
	return &config.Config{
		Market: config.MarketConfig{
			ContextInterval: "1h",
			TriggerInterval: "1m",
			ContextWindow:   50,
			TriggerWindow:   100,
			MaxCached:       500,
		},
		Strategy: config.StrategyConfig{
			WickRatioMin:  0.30,
			ShiftWindow:   "4h",
			EntryWindow:   "2h",
			MinRiskReward: 2,
			SpreadWindow:  20,
		},
		Lifecycle: config.LifecycleConfig{
			BreakevenR:       1.5,
			BreakevenBufferR: 0.25,
			PartialR:         2.0,
			PartialFraction:  0.30,
			TrailCandles:     3,
			ModifyRetries:    3,
			TrailingEnabled:  true,
		},
		Trading: config.TradingConfig{MaxPositionsPerSymbol: 1, EmergencyToken: "FLATTEN"},
	}
}

// hourly builds a context window whose base range low is 1.1000, with a
// sell-side sweep candle at the tail: wick to 1.0985, body close 1.1005.
func contextWithSweep(base time.Time) []market.Candle {
	out := make([]market.Candle, 0, 25)
	for i := 0; i < 24; i++ {
		low := 1.1010
		if i == 5 {
			low = 1.1000
		}
		out = append(out, market.Candle{
			OpenTime:  base.Add(time.Duration(i) * time.Hour).UnixMilli(),
			CloseTime: base.Add(time.Duration(i+1)*time.Hour).UnixMilli() - 1,
			Open:      1.1020, High: 1.1040, Low: low, Close: 1.1030,
		})
	}
	out = append(out, market.Candle{
		OpenTime:  base.Add(24 * time.Hour).UnixMilli(),
		CloseTime: base.Add(25*time.Hour).UnixMilli() - 1,
		Open:      1.1010, High: 1.1012, Low: 1.0985, Close: 1.1005,
	})
	return out
}

// triggerWithShift builds a minute window with its last swing high at 1.1010
// and a final body close above it.
func triggerWithShift(base time.Time) []market.Candle {
	highs := []float64{1.1004, 1.1004, 1.1005, 1.1005, 1.1010, 1.1006, 1.1006, 1.1006, 1.1007, 1.1030}
	out := make([]market.Candle, 0, len(highs))
	for i, h := range highs {
		low := 1.1000
		if i == 0 {
			low = 1.0985
		}
		cl := h - 0.0002
		if i == len(highs)-1 {
			cl = 1.1012
		}
		out = append(out, market.Candle{
			OpenTime:  base.Add(time.Duration(i) * time.Minute).UnixMilli(),
			CloseTime: base.Add(time.Duration(i+1)*time.Minute).UnixMilli() - 1,
			Open:      h - 0.0004, High: h, Low: low, Close: cl,
		})
	}
	return out
}

func minuteCandle(base time.Time, i int, o, h, l, c float64) market.Candle {
	return market.Candle{
		OpenTime:  base.Add(time.Duration(i) * time.Minute).UnixMilli(),
		CloseTime: base.Add(time.Duration(i+1)*time.Minute).UnixMilli() - 1,
		Open:      o, High: h, Low: l, Close: c,
	}
}

func newTestPipeline(t *testing.T, cfg *config.Config, source *fakeSource) (*Pipeline, *broker.PaperBridge, *captureSink, *risk.State) {
	t.Helper()
	bridge := broker.NewPaperBridge("paper", 10000)
	router := broker.NewRouter(nil)
	venue := router.Register("paper", bridge, []string{"crypto"}, 5, time.Minute)
	state := risk.NewState(1.0, 500)
	guards := risk.NewGuardrails(state, nil, 30*time.Minute, 5*time.Minute)
	sink := &captureSink{}
	p := newPipeline("EURUSD", "crypto", pipelineDeps{
		cfg:     cfg,
		source:  source,
		store:   market.NewMemoryCandleStore(),
		spreads: market.NewSpreadTracker(cfg.Strategy.SpreadWindow),
		sizer:   risk.NewSizer(cfg.Strategy.MinRiskReward),
		guards:  guards,
		state:   state,
		venue:   venue,
		sink:    sink,
	})
	return p, bridge, sink, state
}

type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureSink) Publish(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureSink) stages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, ev := range c.events {
		if ev.Kind == events.KindSignalStage {
			out = append(out, ev.Stage)
		}
	}
	return out
}

func TestPipelineFullWalkThroughToEntry(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	p, bridge, sink, _ := newTestPipeline(t, pipelineConfig(), source)

	contextBase := time.Now().UTC().Add(-25 * time.Hour).Truncate(time.Hour)
	triggerBase := time.Now().UTC().Add(-15 * time.Minute).Truncate(time.Minute)
	source.quote = market.Quote{Symbol: "EURUSD", Bid: 1.1003, Ask: 1.1004, Last: 1.10035, UpdatedAt: time.Now()}

	// context frame: sweep of the 1.1000 low
	source.set("1h", contextWithSweep(contextBase))
	p.OnContextBar(ctx)
	require.Equal(t, "SWEEP_DETECTED", p.Snapshot().Stage)
	assert.Equal(t, "long", p.Snapshot().Direction)

	// trigger frame: body close above the 1.1010 swing high
	source.set("1m", triggerWithShift(triggerBase))
	p.OnTriggerTick(ctx)
	require.Equal(t, "SHIFT_CONFIRMED", p.Snapshot().Stage)

	// three-candle gap in the discount half of the leg: zone [1.1000, 1.1004]
	source.append("1m",
		minuteCandle(triggerBase, 10, 1.0995, 1.1000, 1.0990, 1.0998),
		minuteCandle(triggerBase, 11, 1.0998, 1.1003, 1.0996, 1.1002),
		minuteCandle(triggerBase, 12, 1.1002, 1.1006, 1.1004, 1.1005),
	)
	p.OnTriggerTick(ctx)
	require.Equal(t, "ENTRY_PENDING", p.Snapshot().Stage)

	// tap-and-reject candle: wick into the zone, bullish close beyond it
	source.append("1m",
		minuteCandle(triggerBase, 13, 1.1006, 1.1011, 1.1001, 1.1010),
	)
	p.OnTriggerTick(ctx)

	st := p.Snapshot()
	assert.Equal(t, "NONE", st.Stage, "signal consumed by the entry")
	require.NotNil(t, st.Position)
	assert.Equal(t, broker.Long, st.Position.Direction)
	assert.InDelta(t, 1.1004, st.Position.EntryPrice, 1e-9)
	assert.InDelta(t, 1.0985, st.Position.InitialStop, 1e-9)

	open, err := bridge.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	assert.Equal(t,
		[]string{"SWEEP_DETECTED", "SHIFT_CONFIRMED", "ENTRY_PENDING"},
		sink.stages())
}

func TestPipelineShiftWindowExpiryClearsSignal(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	cfg := pipelineConfig()
	cfg.Strategy.ShiftWindow = "30m"
	p, _, sink, _ := newTestPipeline(t, cfg, source)

	// sweep happened two hours ago; no shift arrives inside 30 minutes
	contextBase := time.Now().UTC().Add(-27 * time.Hour).Truncate(time.Hour)
	source.set("1h", contextWithSweep(contextBase))
	p.OnContextBar(ctx)
	require.Equal(t, "SWEEP_DETECTED", p.Snapshot().Stage)

	// trigger frame with no confirming break, latest bar far past the window
	triggerBase := time.Now().UTC().Add(-5 * time.Minute).Truncate(time.Minute)
	source.set("1m", []market.Candle{
		minuteCandle(triggerBase, 0, 1.1002, 1.1004, 1.1000, 1.1003),
		minuteCandle(triggerBase, 1, 1.1003, 1.1005, 1.1001, 1.1004),
		minuteCandle(triggerBase, 2, 1.1004, 1.1006, 1.1002, 1.1005),
	})
	p.OnTriggerTick(ctx)

	assert.Equal(t, "NONE", p.Snapshot().Stage)
	stages := sink.stages()
	assert.Equal(t, "NONE", stages[len(stages)-1])
}

func TestPipelineEntryBlockedWhilePaused(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	p, bridge, _, state := newTestPipeline(t, pipelineConfig(), source)

	contextBase := time.Now().UTC().Add(-25 * time.Hour).Truncate(time.Hour)
	triggerBase := time.Now().UTC().Add(-15 * time.Minute).Truncate(time.Minute)
	source.quote = market.Quote{Symbol: "EURUSD", Bid: 1.1003, Ask: 1.1004, Last: 1.10035}

	source.set("1h", contextWithSweep(contextBase))
	p.OnContextBar(ctx)
	source.set("1m", triggerWithShift(triggerBase))
	p.OnTriggerTick(ctx)
	source.append("1m",
		minuteCandle(triggerBase, 10, 1.0995, 1.1000, 1.0990, 1.0998),
		minuteCandle(triggerBase, 11, 1.0998, 1.1003, 1.0996, 1.1002),
		minuteCandle(triggerBase, 12, 1.1002, 1.1006, 1.1004, 1.1005),
	)
	p.OnTriggerTick(ctx)
	require.Equal(t, "ENTRY_PENDING", p.Snapshot().Stage)

	state.Pause(risk.PauseManual)
	source.append("1m",
		minuteCandle(triggerBase, 13, 1.1006, 1.1011, 1.1001, 1.1010),
	)
	p.OnTriggerTick(ctx)

	// pause blocks the entry but keeps the signal alive
	assert.Equal(t, "ENTRY_PENDING", p.Snapshot().Stage)
	open, err := bridge.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestPausedPipelineDetectsNoSweeps(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	p, _, sink, state := newTestPipeline(t, pipelineConfig(), source)

	state.Pause(risk.PauseEmergency)
	contextBase := time.Now().UTC().Add(-25 * time.Hour).Truncate(time.Hour)
	source.set("1h", contextWithSweep(contextBase))
	p.OnContextBar(ctx)

	assert.Equal(t, "NONE", p.Snapshot().Stage)
	assert.Empty(t, sink.stages())
}

func TestPauseHoldsSignalShortOfEntryPending(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	p, bridge, _, state := newTestPipeline(t, pipelineConfig(), source)

	contextBase := time.Now().UTC().Add(-25 * time.Hour).Truncate(time.Hour)
	triggerBase := time.Now().UTC().Add(-15 * time.Minute).Truncate(time.Minute)
	source.quote = market.Quote{Symbol: "EURUSD", Bid: 1.1003, Ask: 1.1004, Last: 1.10035}

	source.set("1h", contextWithSweep(contextBase))
	p.OnContextBar(ctx)
	source.set("1m", triggerWithShift(triggerBase))
	p.OnTriggerTick(ctx)
	require.Equal(t, "SHIFT_CONFIRMED", p.Snapshot().Stage)

	// the gap shows up while trading is paused
	state.Pause(risk.PauseEmergency)
	source.append("1m",
		minuteCandle(triggerBase, 10, 1.0995, 1.1000, 1.0990, 1.0998),
		minuteCandle(triggerBase, 11, 1.0998, 1.1003, 1.0996, 1.1002),
		minuteCandle(triggerBase, 12, 1.1002, 1.1006, 1.1004, 1.1005),
	)
	p.OnTriggerTick(ctx)
	assert.Equal(t, "SHIFT_CONFIRMED", p.Snapshot().Stage)
	open, err := bridge.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	// resume releases the held signal
	state.Resume()
	p.OnTriggerTick(ctx)
	assert.Equal(t, "ENTRY_PENDING", p.Snapshot().Stage)
}

func TestBlownOutSpreadBlocksEntry(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	cfg := pipelineConfig()
	cfg.Strategy.SpreadMultiple = 3
	p, bridge, _, _ := newTestPipeline(t, cfg, source)

	contextBase := time.Now().UTC().Add(-25 * time.Hour).Truncate(time.Hour)
	triggerBase := time.Now().UTC().Add(-15 * time.Minute).Truncate(time.Minute)
	source.quote = market.Quote{Symbol: "EURUSD", Bid: 1.1003, Ask: 1.1004, Last: 1.10035}

	source.set("1h", contextWithSweep(contextBase))
	p.OnContextBar(ctx)
	source.set("1m", triggerWithShift(triggerBase))
	p.OnTriggerTick(ctx)
	source.append("1m",
		minuteCandle(triggerBase, 10, 1.0995, 1.1000, 1.0990, 1.0998),
		minuteCandle(triggerBase, 11, 1.0998, 1.1003, 1.0996, 1.1002),
		minuteCandle(triggerBase, 12, 1.1002, 1.1006, 1.1004, 1.1005),
	)
	p.OnTriggerTick(ctx)
	require.Equal(t, "ENTRY_PENDING", p.Snapshot().Stage)

	// idle ticks keep feeding the one-pip baseline
	for i := 0; i < 3; i++ {
		p.OnTriggerTick(ctx)
	}

	// the tap arrives with a 30-pip quote
	source.quote = market.Quote{Symbol: "EURUSD", Bid: 1.1000, Ask: 1.1030, Last: 1.1015}
	source.append("1m",
		minuteCandle(triggerBase, 13, 1.1006, 1.1011, 1.1001, 1.1010),
	)
	p.OnTriggerTick(ctx)

	assert.Equal(t, "ENTRY_PENDING", p.Snapshot().Stage)
	open, err := bridge.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestForceTestEntryRefusedWhilePaused(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	p, bridge, _, state := newTestPipeline(t, pipelineConfig(), source)

	triggerBase := time.Now().UTC().Add(-5 * time.Minute).Truncate(time.Minute)
	source.set("1m", []market.Candle{
		minuteCandle(triggerBase, 0, 1.1002, 1.1004, 1.1000, 1.1003),
	})
	source.quote = market.Quote{Symbol: "EURUSD", Bid: 1.1003, Ask: 1.1004, Last: 1.10035}

	// a pause landing after the request drops it at fire time
	require.NoError(t, p.ForceTestEntry(broker.Long))
	state.Pause(risk.PauseEmergency)
	p.OnTriggerTick(ctx)
	open, err := bridge.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	// and a fresh request is refused outright
	assert.Error(t, p.ForceTestEntry(broker.Long))
}

func TestForceTestEntryFiresOnNextTick(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	p, bridge, _, _ := newTestPipeline(t, pipelineConfig(), source)

	triggerBase := time.Now().UTC().Add(-5 * time.Minute).Truncate(time.Minute)
	source.set("1m", []market.Candle{
		minuteCandle(triggerBase, 0, 1.1002, 1.1004, 1.1000, 1.1003),
	})
	source.quote = market.Quote{Symbol: "EURUSD", Bid: 1.1003, Ask: 1.1004, Last: 1.10035}

	require.NoError(t, p.ForceTestEntry(broker.Long))
	p.OnTriggerTick(ctx)

	open, err := bridge.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, broker.Long, open[0].Direction)
}

func TestCancelTestEntry(t *testing.T) {
	ctx := context.Background()
	source := newFakeSource()
	p, bridge, _, _ := newTestPipeline(t, pipelineConfig(), source)

	triggerBase := time.Now().UTC().Add(-5 * time.Minute).Truncate(time.Minute)
	source.set("1m", []market.Candle{
		minuteCandle(triggerBase, 0, 1.1002, 1.1004, 1.1000, 1.1003),
	})
	source.quote = market.Quote{Symbol: "EURUSD", Bid: 1.1003, Ask: 1.1004, Last: 1.10035}

	require.NoError(t, p.ForceTestEntry(broker.Short))
	assert.True(t, p.CancelTestEntry())
	assert.False(t, p.CancelTestEntry())

	p.OnTriggerTick(ctx)
	open, err := bridge.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}
