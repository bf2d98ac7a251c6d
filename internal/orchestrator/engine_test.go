package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/command"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/config"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/gateway/broker"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/market"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/risk"
)

func newTestEngine(t *testing.T) (*Engine, *broker.PaperBridge, *fakeSource, *risk.State) {
	t.Helper()
	cfg := pipelineConfig()
	cfg.Sessions = config.SessionsConfig{Crypto: []string{"EURUSD"}}

	bridge := broker.NewPaperBridge("paper", 10000)
	router := broker.NewRouter(nil)
	router.Register("paper", bridge, []string{"crypto"}, 5, time.Minute)

	state := risk.NewState(1.0, 500)
	guards := risk.NewGuardrails(state, nil, 30*time.Minute, 5*time.Minute)
	source := newFakeSource()

	e, err := NewEngine(Deps{
		Config:  cfg,
		Router:  router,
		Sources: map[string]market.Source{"crypto": source},
		State:   state,
		Guards:  guards,
		Sizer:   risk.NewSizer(cfg.Strategy.MinRiskReward),
		Sink:    &captureSink{},
	})
	require.NoError(t, err)
	return e, bridge, source, state
}

func TestApplyRiskCommands(t *testing.T) {
	e, _, _, state := newTestEngine(t)

	require.NoError(t, e.Apply(command.Command{Kind: command.KindPause}))
	assert.True(t, state.Paused())

	require.NoError(t, e.Apply(command.Command{Kind: command.KindResume}))
	assert.False(t, state.Paused())

	require.NoError(t, e.Apply(command.Command{Kind: command.KindSetRisk, Value: 2.5}))
	assert.Equal(t, 2.5, state.RiskPercent())

	require.NoError(t, e.Apply(command.Command{Kind: command.KindSetMaxLoss, Value: 900}))
	assert.Equal(t, 900.0, state.DailyLossLimit())

	require.NoError(t, e.Apply(command.Command{Kind: command.KindSetTrailing, Enabled: false}))
	assert.False(t, state.TrailingEnabled())
}

func TestApplyRejectsUnknownSymbol(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	err := e.Apply(command.Command{Kind: command.KindForceTestEntry, Symbol: "XAUUSD", Direction: "long"})
	assert.Error(t, err)
}

func TestEmergencyCloseAllTokenChecks(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	assert.Error(t, e.EmergencyCloseAll("wrong-token"))

	e.cfg.Trading.EmergencyToken = ""
	assert.Error(t, e.EmergencyCloseAll("FLATTEN"))
}

func TestEmergencyCloseAllFlattensAndPauses(t *testing.T) {
	e, bridge, source, state := newTestEngine(t)

	triggerBase := time.Now().UTC().Add(-5 * time.Minute).Truncate(time.Minute)
	source.set("1m", []market.Candle{
		minuteCandle(triggerBase, 0, 1.1002, 1.1004, 1.1000, 1.1003),
	})
	source.quote = market.Quote{Symbol: "EURUSD", Bid: 1.1003, Ask: 1.1004, Last: 1.10035}

	require.NoError(t, e.Apply(command.Command{Kind: command.KindForceTestEntry, Symbol: "EURUSD", Direction: "long"}))
	e.triggerSweep(context.Background())
	require.Len(t, e.Positions(), 1)

	require.NoError(t, e.Apply(command.Command{Kind: command.KindEmergencyCloseAll, Confirm: "FLATTEN"}))

	assert.Empty(t, e.Positions())
	open, err := bridge.OpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)

	paused, reason := state.PausedFor()
	assert.True(t, paused)
	assert.Equal(t, risk.PauseEmergency, reason)

	// paused is operator-scoped: a second emergency is still honored, and a
	// resume command is required before trading again
	require.NoError(t, e.Apply(command.Command{Kind: command.KindResume}))
	assert.False(t, state.Paused())
}

func TestStatusSnapshot(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	st := e.Status()
	assert.False(t, st.Paused)
	assert.Equal(t, 1.0, st.RiskPercent)
	assert.Equal(t, []string{"EURUSD"}, st.Active)
	require.Len(t, st.Pipelines, 1)
	assert.Equal(t, "NONE", st.Pipelines[0].Stage)
	require.Len(t, st.Venues, 1)
	assert.False(t, st.Venues[0].Degraded)
}
