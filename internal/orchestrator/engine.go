package orchestrator

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/command"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/config"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/events"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/gateway/broker"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/lifecycle"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/logger"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/market"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/risk"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/scheduler"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/store/archive"
)

const heartbeatInterval = 5 * time.Minute

// Deps carries everything the engine needs; main assembles it.
type Deps struct {
	Config  *config.Config
	Router  *broker.Router
	Sources map[string]market.Source // by symbol class
	State   *risk.State
	Guards  *risk.Guardrails
	Sizer   *risk.Sizer
	Sink    events.Sink
	Archive *archive.TradeArchive
}

// Engine owns one pipeline per watched symbol and drives them on the two
// frames. It also implements command.Handler, so the HTTP intake lands here.
type Engine struct {
	cfg       *config.Config
	watch     *Watchlist
	router    *broker.Router
	state     *risk.State
	sink      events.Sink
	pipelines map[string]*Pipeline

	mu     sync.Mutex
	frozen bool
	runCtx context.Context // set by Run, read from the command path
}

func NewEngine(d Deps) (*Engine, error) {
	if d.Config == nil || d.Router == nil {
		return nil, errors.New("orchestrator: config and router are required")
	}
	if d.Sink == nil {
		d.Sink = events.Discard{}
	}
	watch := NewWatchlist(d.Config.Sessions)
	store := market.NewMemoryCandleStore()
	spreads := market.NewSpreadTracker(d.Config.Strategy.SpreadWindow)

	e := &Engine{
		cfg:       d.Config,
		watch:     watch,
		router:    d.Router,
		state:     d.State,
		sink:      d.Sink,
		pipelines: make(map[string]*Pipeline),
	}
	for _, symbol := range watch.All() {
		class := watch.Classify(symbol)
		source, ok := d.Sources[class]
		if !ok {
			return nil, fmt.Errorf("orchestrator: no market source for class %q (symbol %s)", class, symbol)
		}
		venue, err := d.Router.For(symbol)
		if err != nil {
			return nil, err
		}
		e.pipelines[symbol] = newPipeline(symbol, class, pipelineDeps{
			cfg:     d.Config,
			source:  source,
			store:   store,
			spreads: spreads,
			sizer:   d.Sizer,
			guards:  d.Guards,
			state:   d.State,
			venue:   venue,
			sink:    d.Sink,
			archive: d.Archive,
		})
	}
	return e, nil
}

// Run drives all loops until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.runCtx = ctx
	e.mu.Unlock()
	contextInterval, ok := scheduler.ParseIntervalDuration(e.cfg.Market.ContextInterval)
	if !ok {
		return fmt.Errorf("orchestrator: bad context interval %q", e.cfg.Market.ContextInterval)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sched := scheduler.NewAlignedScheduler(gctx, contextInterval, 5*time.Second)
		sched.RunImmediately = true
		sched.Start(func() { e.contextSweep(gctx) })
		return nil
	})
	g.Go(func() error {
		scheduler.TickLoop(gctx, e.cfg.Market.TriggerPoll(), func() { e.triggerSweep(gctx) })
		return nil
	})
	g.Go(func() error {
		scheduler.TickLoop(gctx, time.Minute, func() {
			if e.state.RollDay(time.Now().UTC()) {
				logger.Infof("daily loss counter reset")
				ev := events.New(events.KindAlert, "", "")
				ev.Reason = "daily_reset"
				e.sink.Publish(ev)
			}
		})
		return nil
	})
	g.Go(func() error {
		scheduler.TickLoop(gctx, heartbeatInterval, func() {
			e.sink.Publish(events.New(events.KindHeartbeat, "", "alive"))
		})
		return nil
	})

	logger.Infof("engine running: %d symbols, context=%s trigger=%s",
		len(e.pipelines), e.cfg.Market.ContextInterval, e.cfg.Market.TriggerInterval)
	return g.Wait()
}

// contextSweep runs the context-frame scan on every session-active symbol.
// Symbols fan out in parallel; each pipeline serializes internally.
func (e *Engine) contextSweep(ctx context.Context) {
	if e.isFrozen() {
		return
	}
	var wg sync.WaitGroup
	for _, symbol := range e.watch.Active(time.Now().UTC()) {
		p, ok := e.pipelines[symbol]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(p *Pipeline) {
			defer wg.Done()
			p.OnContextBar(ctx)
		}(p)
	}
	wg.Wait()
}

// triggerSweep runs the fast scan. Unlike the context sweep it covers every
// pipeline, not just session-active ones: open positions are managed even
// after their session closed.
func (e *Engine) triggerSweep(ctx context.Context) {
	if e.isFrozen() {
		return
	}
	active := make(map[string]bool)
	for _, s := range e.watch.Active(time.Now().UTC()) {
		active[s] = true
	}
	var wg sync.WaitGroup
	for symbol, p := range e.pipelines {
		if !active[symbol] && !p.manager.HasOpen() {
			continue
		}
		wg.Add(1)
		go func(p *Pipeline) {
			defer wg.Done()
			p.OnTriggerTick(ctx)
		}(p)
	}
	wg.Wait()
}

// Apply implements command.Handler.
func (e *Engine) Apply(cmd command.Command) error {
	logger.Infof("applying command %s", cmd)
	switch cmd.Kind {
	case command.KindPause:
		e.state.Pause(risk.PauseManual)
	case command.KindResume:
		e.state.Resume()
	case command.KindSetRisk:
		e.state.SetRiskPercent(cmd.Value)
	case command.KindSetMaxLoss:
		e.state.SetDailyLossLimit(cmd.Value)
	case command.KindSetTrailing:
		e.state.SetTrailingEnabled(cmd.Enabled)
	case command.KindForceTestEntry:
		p, ok := e.pipelines[cmd.Symbol]
		if !ok {
			return fmt.Errorf("unknown symbol %s", cmd.Symbol)
		}
		dir := broker.Long
		if cmd.Direction == "short" {
			dir = broker.Short
		}
		return p.ForceTestEntry(dir)
	case command.KindCancelTestEntry:
		p, ok := e.pipelines[cmd.Symbol]
		if !ok {
			return fmt.Errorf("unknown symbol %s", cmd.Symbol)
		}
		if !p.CancelTestEntry() {
			return fmt.Errorf("no pending test entry on %s", cmd.Symbol)
		}
	case command.KindEmergencyCloseAll:
		return e.EmergencyCloseAll(cmd.Confirm)
	default:
		return fmt.Errorf("unsupported command %q", cmd.Kind)
	}
	return nil
}

// EmergencyCloseAll freezes the engine, flattens every venue, and clears all
// signals. The freeze makes the operation linearizable: no scan observes a
// half-flattened book, and nothing re-enters afterwards until resumed.
func (e *Engine) EmergencyCloseAll(confirm string) error {
	expected := e.cfg.Trading.EmergencyToken
	if expected == "" {
		return errors.New("emergency close-all is disabled: no token configured")
	}
	if subtle.ConstantTimeCompare([]byte(confirm), []byte(expected)) != 1 {
		return errors.New("confirmation token mismatch")
	}

	e.mu.Lock()
	e.frozen = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.frozen = false
		e.mu.Unlock()
	}()

	e.state.Pause(risk.PauseEmergency)
	logger.Warnf("EMERGENCY CLOSE ALL: flattening every venue")

	e.mu.Lock()
	ctx := e.runCtx
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var firstErr error
	for _, p := range e.pipelines {
		p.ClearSignal("emergency_close_all")
		if err := p.CloseOpen(cctx, lifecycle.CloseEmergency); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.router.CloseAll(cctx); err != nil && firstErr == nil {
		firstErr = err
	}

	ev := events.New(events.KindAlert, "", "")
	ev.Reason = "emergency_close_all"
	e.sink.Publish(ev)
	return firstErr
}

func (e *Engine) isFrozen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frozen
}

// Status is the snapshot served by the HTTP surface.
type Status struct {
	Paused        bool             `json:"paused"`
	PauseReason   string           `json:"pause_reason,omitempty"`
	RiskPercent   float64          `json:"risk_percent"`
	DailyLossUsed float64          `json:"daily_loss_used"`
	DailyLossMax  float64          `json:"daily_loss_max"`
	Trailing      bool             `json:"trailing_enabled"`
	Active        []string         `json:"active_symbols"`
	Pipelines     []PipelineStatus `json:"pipelines"`
	Venues        []VenueStatus    `json:"venues"`
}

type VenueStatus struct {
	Name     string `json:"name"`
	Degraded bool   `json:"degraded"`
}

func (e *Engine) Status() Status {
	paused, reason := e.state.PausedFor()
	st := Status{
		Paused:        paused,
		PauseReason:   string(reason),
		RiskPercent:   e.state.RiskPercent(),
		DailyLossUsed: e.state.RealizedLossToday(),
		DailyLossMax:  e.state.DailyLossLimit(),
		Trailing:      e.state.TrailingEnabled(),
		Active:        e.watch.Active(time.Now().UTC()),
	}
	for _, p := range e.pipelines {
		st.Pipelines = append(st.Pipelines, p.Snapshot())
	}
	for _, v := range e.router.Venues() {
		st.Venues = append(st.Venues, VenueStatus{Name: v.Name, Degraded: v.Degraded()})
	}
	return st
}

// Positions lists every open position across pipelines.
func (e *Engine) Positions() []lifecycle.Position {
	var out []lifecycle.Position
	for _, p := range e.pipelines {
		if pos := p.manager.Open(); pos != nil {
			out = append(out, *pos)
		}
	}
	return out
}
