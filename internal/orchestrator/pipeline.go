package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/config"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/events"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/gateway/broker"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/lifecycle"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/logger"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/market"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/risk"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/store/archive"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/strategy/smc"
)

// forcedEntry is a pending operator-forced test trade. It fires on the next
// trigger tick with a fixed synthetic geometry instead of a detected setup.
type forcedEntry struct {
	direction broker.Direction
	requested time.Time
}

// Pipeline runs the full decision sequence for one symbol. All stage work is
// strictly sequential per symbol: the mutex makes a context-frame scan and a
// trigger-frame scan mutually exclusive.
type Pipeline struct {
	symbol string
	class  string
	cfg    *config.Config

	source  market.Source
	store   market.CandleStore
	sweeps  *smc.SweepDetector
	shifts  *smc.ShiftDetector
	entry   *smc.EntryLocator
	sizer   *risk.Sizer
	guards  *risk.Guardrails
	state   *risk.State
	venue   *broker.Venue
	manager *lifecycle.Manager
	archive *archive.TradeArchive
	sink    events.Sink

	mu              sync.Mutex
	signal          *smc.Signal
	forced          *forcedEntry
	lastTriggerOpen int64
	lastQuote       market.Quote
	signalDetails   map[string]any
}

type pipelineDeps struct {
	cfg     *config.Config
	source  market.Source
	store   market.CandleStore
	spreads *market.SpreadTracker
	sizer   *risk.Sizer
	guards  *risk.Guardrails
	state   *risk.State
	venue   *broker.Venue
	sink    events.Sink
	archive *archive.TradeArchive
}

func newPipeline(symbol, class string, d pipelineDeps) *Pipeline {
	strat := d.cfg.Strategy
	lc := d.cfg.Lifecycle
	shiftWindow, _ := strat.ShiftWindowDuration()
	manager := lifecycle.NewManager(lifecycle.Config{
		BreakevenR:      lc.BreakevenR,
		BreakevenBuffer: lc.BreakevenBufferR,
		PartialR:        lc.PartialR,
		PartialFraction: lc.PartialFraction,
		TrailCandles:    lc.TrailCandles,
		ModifyRetries:   lc.ModifyRetries,
		CallTimeout:     lc.CallTimeout(),
	}, d.venue, d.state, d.guards, d.sink)

	return &Pipeline{
		symbol: symbol,
		class:  class,
		cfg:    d.cfg,
		source: d.source,
		store:  d.store,
		sweeps: smc.NewSweepDetector(smc.SweepConfig{
			ScanCandles:      strat.SweepScanCandles,
			BaseRangeExclude: strat.BaseRangeExclude,
			ReclaimWindow:    strat.ReclaimWindow,
			WickRatioMin:     strat.WickRatioMin,
		}),
		shifts: smc.NewShiftDetector(smc.ShiftConfig{
			Window:        shiftWindow,
			SwingLookback: strat.SwingLookback,
		}),
		entry: smc.NewEntryLocator(smc.EntryConfig{
			RSIPeriod:      strat.RSIPeriod,
			RSIOverbought:  strat.RSIOverbought,
			RSIOversold:    strat.RSIOversold,
			SpreadMultiple: strat.SpreadMultiple,
			MinRiskReward:  strat.MinRiskReward,
		}, d.spreads),
		sizer:   d.sizer,
		guards:  d.guards,
		state:   d.state,
		venue:   d.venue,
		manager: manager,
		archive: d.archive,
		sink:    d.sink,
	}
}

// OnContextBar runs once per closed context-frame bar: refresh the context
// window and look for a liquidity sweep.
func (p *Pipeline) OnContextBar(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mc := p.cfg.Market
	candles, err := p.source.FetchHistory(ctx, p.symbol, mc.ContextInterval, mc.ContextWindow)
	if err != nil {
		logger.Warnf("%s: context fetch failed: %v", p.symbol, err)
		return
	}
	if err := p.store.Put(ctx, p.symbol, mc.ContextInterval, candles, mc.MaxCached); err != nil {
		logger.Warnf("%s: context store failed: %v", p.symbol, err)
	}
	cached, _ := p.store.Get(ctx, p.symbol, mc.ContextInterval)
	if len(cached) == 0 {
		return
	}

	// a pending sweep dies when a later body close takes its extreme
	if p.signal != nil && p.signal.Stage == smc.StageSweepDetected {
		if p.sweeps.Invalidated(cached, p.signal) {
			p.clearSignalLocked("sweep_invalidated")
		}
	}
	if p.signal != nil || p.manager.HasOpen() {
		return
	}
	// paused means no new signals, not just no new orders
	if p.state.Paused() {
		return
	}

	sweep, ok := p.sweeps.Detect(cached)
	if !ok {
		return
	}
	sig := &smc.Signal{
		Symbol:       p.symbol,
		Side:         sweep.Side,
		Direction:    sweep.Side.Bias(),
		Stage:        smc.StageSweepDetected,
		SweepLevel:   sweep.Level,
		SweepExtreme: sweep.Extreme,
		SweepTime:    sweep.Time,
		CreatedAt:    time.Now().UTC(),
	}
	p.signal = sig
	p.signalDetails = map[string]any{
		"sweep_level":   sweep.Level,
		"sweep_extreme": sweep.Extreme,
		"sweep_side":    string(sweep.Side),
	}
	logger.Infof("%s: sweep detected, side=%s level=%.5f", p.symbol, sweep.Side, sweep.Level)
	p.publishStage(sig, "sweep_detected", map[string]float64{
		"sweep_level":   sweep.Level,
		"sweep_extreme": sweep.Extreme,
	})
}

// OnTriggerTick runs on the fast poll: refresh the trigger window and the
// quote, manage the open position, and advance the signal one stage at most.
func (p *Pipeline) OnTriggerTick(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mc := p.cfg.Market
	candles, err := p.source.FetchHistory(ctx, p.symbol, mc.TriggerInterval, mc.TriggerWindow)
	if err != nil {
		logger.Warnf("%s: trigger fetch failed: %v", p.symbol, err)
		return
	}
	if err := p.store.Put(ctx, p.symbol, mc.TriggerInterval, candles, mc.MaxCached); err != nil {
		logger.Warnf("%s: trigger store failed: %v", p.symbol, err)
	}
	cached, _ := p.store.Get(ctx, p.symbol, mc.TriggerInterval)
	if len(cached) == 0 {
		return
	}

	quote, err := p.source.GetQuote(ctx, p.symbol)
	if err != nil {
		logger.Debugf("%s: quote fetch failed: %v", p.symbol, err)
	} else {
		p.lastQuote = quote
		p.entry.ObserveSpread(quote)
	}

	newBar := false
	lastOpen := cached[len(cached)-1].OpenTime
	if lastOpen > p.lastTriggerOpen {
		newBar = p.lastTriggerOpen != 0
		p.lastTriggerOpen = lastOpen
	}

	p.managePosition(ctx, cached, newBar)

	if p.manager.HasOpen() {
		return
	}
	if p.forced != nil {
		p.fireForcedEntry(ctx)
		return
	}
	if p.signal == nil {
		return
	}

	switch p.signal.Stage {
	case smc.StageSweepDetected:
		p.tryShift(cached)
	case smc.StageShiftConfirmed:
		p.tryZone(cached)
	case smc.StageEntryPending:
		if newBar {
			p.tryEntry(ctx, cached)
		}
	}
}

func (p *Pipeline) managePosition(ctx context.Context, cached []market.Candle, newBar bool) {
	if !p.manager.HasOpen() {
		return
	}
	if positions, err := p.venue.OpenPositions(ctx); err == nil {
		p.manager.Reconcile(positions, p.lastQuote.Last)
	}
	if p.lastQuote.Last > 0 {
		p.manager.OnQuote(ctx, p.lastQuote.Last)
	}
	if newBar {
		p.manager.OnTriggerClose(ctx, cached)
	}
	p.archiveIfClosed()
}

func (p *Pipeline) archiveIfClosed() {
	closed := p.manager.TakeClosed()
	if closed == nil {
		return
	}
	if p.archive != nil {
		if err := p.archive.SaveClosed(*closed, p.signalDetails); err != nil {
			logger.Errorf("%s: archive failed: %v", p.symbol, err)
		}
	}
	p.signalDetails = nil
}

func (p *Pipeline) tryShift(cached []market.Candle) {
	shift, expired := p.shifts.Detect(cached, p.signal.Side, p.signal.SweepTime)
	if expired {
		p.clearSignalLocked("shift_window_expired")
		return
	}
	if shift == nil {
		return
	}
	p.signal.ShiftLevel = shift.Level
	p.signal.ShiftTime = shift.Time
	p.signal.LegHigh = shift.LegHigh
	p.signal.LegLow = shift.LegLow
	p.signal.Advance(smc.StageShiftConfirmed)
	if p.signalDetails == nil {
		p.signalDetails = map[string]any{}
	}
	p.signalDetails["shift_level"] = shift.Level
	logger.Infof("%s: structure shift confirmed at %.5f", p.symbol, shift.Level)
	p.publishStage(p.signal, "shift_confirmed", map[string]float64{
		"shift_level": shift.Level,
		"leg_high":    shift.LegHigh,
		"leg_low":     shift.LegLow,
	})
}

func (p *Pipeline) tryZone(cached []market.Candle) {
	if p.entryWindowExpired() {
		p.clearSignalLocked("entry_window_expired")
		return
	}
	// a signal caught mid-flight by a pause holds at SHIFT_CONFIRMED; it may
	// still expire, but it never reaches ENTRY_PENDING until resume
	if p.state.Paused() {
		return
	}
	zone, ok := p.entry.LocateZone(cached, p.signal.Direction, p.signal.LegHigh, p.signal.LegLow)
	if !ok {
		return
	}
	p.signal.ZoneLow = zone.Low
	p.signal.ZoneHigh = zone.High
	p.signal.Advance(smc.StageEntryPending)
	if p.signalDetails == nil {
		p.signalDetails = map[string]any{}
	}
	p.signalDetails["zone_low"] = zone.Low
	p.signalDetails["zone_high"] = zone.High
	logger.Infof("%s: entry zone located [%.5f, %.5f]", p.symbol, zone.Low, zone.High)
	p.publishStage(p.signal, "entry_pending", map[string]float64{
		"zone_low":  zone.Low,
		"zone_high": zone.High,
	})
}

func (p *Pipeline) tryEntry(ctx context.Context, cached []market.Candle) {
	if p.entryWindowExpired() {
		p.clearSignalLocked("entry_window_expired")
		return
	}
	if allowed, reason := p.guards.EntriesAllowed(p.symbol, time.Now().UTC()); !allowed {
		logger.Debugf("%s: entry blocked, %s", p.symbol, reason)
		return
	}
	sig := p.signal
	zone := smc.Zone{Low: sig.ZoneLow, High: sig.ZoneHigh}
	last := cached[len(cached)-1]
	if !p.entry.TapConfirmed(last, zone, sig.Direction) {
		return
	}
	if !p.entry.MomentumPermits(cached, sig.Direction, true) {
		logger.Debugf("%s: momentum gate rejected entry", p.symbol)
		return
	}
	if p.lastQuote.Spread() > 0 && !p.entry.SpreadAcceptable(p.lastQuote) {
		logger.Debugf("%s: spread too wide, entry skipped", p.symbol)
		return
	}

	entryPrice := zone.Entry(sig.Direction)
	stop, target, rr, ok := p.entry.BuildLevels(sig.Direction, entryPrice, sig.LegHigh, sig.LegLow)
	if !ok {
		p.clearSignalLocked("risk_reward_rejected")
		return
	}
	sig.EntryPrice = entryPrice
	sig.StopLoss = stop
	sig.TakeProfit = target
	sig.RiskReward = rr

	p.placeEntry(ctx, sig)
}

func (p *Pipeline) placeEntry(ctx context.Context, sig *smc.Signal) {
	spec, err := p.venue.ContractSpecs(ctx, p.symbol)
	if err != nil {
		logger.Errorf("%s: contract specs unavailable: %v", p.symbol, err)
		return
	}
	equity, err := p.venue.Equity(ctx)
	if err != nil {
		logger.Errorf("%s: equity unavailable: %v", p.symbol, err)
		return
	}
	req := broker.OrderRequest{
		Symbol:     p.symbol,
		Direction:  sig.Direction,
		EntryPrice: sig.EntryPrice,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
	}
	ticket, size, err := p.sizer.PlaceRiskSized(ctx, p.venue, equity, p.state.RiskPercent(), req, spec)
	if err != nil {
		if errors.Is(err, broker.ErrSizingInvalid) {
			p.clearSignalLocked("sizing_invalid")
			return
		}
		logger.Errorf("%s: order placement failed: %v", p.symbol, err)
		p.clearSignalLocked("placement_failed")
		return
	}

	pos := &lifecycle.Position{
		Ticket:       ticket,
		Symbol:       p.symbol,
		Venue:        p.venue.Name,
		Direction:    sig.Direction,
		Size:         size,
		InitialSize:  size,
		EntryPrice:   sig.EntryPrice,
		InitialStop:  sig.StopLoss,
		StopLoss:     sig.StopLoss,
		TakeProfit:   sig.TakeProfit,
		ContractSize: spec.ContractSize,
		OpenedAt:     time.Now().UTC(),
	}
	if err := p.manager.Attach(pos); err != nil {
		logger.Errorf("%s: attach after fill failed: %v", p.symbol, err)
	}
	logger.Infof("%s: entered %s %.4f @ %.5f stop %.5f target %.5f (rr %.2f)",
		p.symbol, sig.Direction, size, sig.EntryPrice, sig.StopLoss, sig.TakeProfit, sig.RiskReward)
	p.signal = nil
}

// fireForcedEntry places an operator-requested test trade with synthetic
// levels around the live quote: half-percent stop, one-percent target.
func (p *Pipeline) fireForcedEntry(ctx context.Context) {
	forced := p.forced
	p.forced = nil
	if p.state.Paused() {
		logger.Warnf("%s: forced entry dropped, trading paused", p.symbol)
		return
	}
	if p.lastQuote.Last <= 0 {
		logger.Warnf("%s: forced entry dropped, no live quote", p.symbol)
		return
	}
	entry := p.lastQuote.Last
	var stop, target float64
	if forced.direction == broker.Long {
		stop = entry * 0.995
		target = entry * 1.010
	} else {
		stop = entry * 1.005
		target = entry * 0.990
	}
	sig := &smc.Signal{
		Symbol:     p.symbol,
		Direction:  forced.direction,
		Stage:      smc.StageEntryPending,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: target,
		RiskReward: 2,
		CreatedAt:  forced.requested,
	}
	p.signalDetails = map[string]any{"forced": true}
	logger.Infof("%s: forced test entry %s @ %.5f", p.symbol, forced.direction, entry)
	p.placeEntry(ctx, sig)
}

// ForceTestEntry queues a test trade for the next trigger tick.
func (p *Pipeline) ForceTestEntry(direction broker.Direction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.manager.HasOpen() {
		return errors.New("position already open")
	}
	if p.state.Paused() {
		return errors.New("trading is paused")
	}
	p.forced = &forcedEntry{direction: direction, requested: time.Now().UTC()}
	return nil
}

// CancelTestEntry drops a queued test trade that has not fired yet.
func (p *Pipeline) CancelTestEntry() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.forced == nil {
		return false
	}
	p.forced = nil
	return true
}

// ClearSignal drops any in-flight signal, for the emergency stop.
func (p *Pipeline) ClearSignal(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signal != nil {
		p.clearSignalLocked(reason)
	}
	p.forced = nil
}

// CloseOpen flattens the managed position, if any.
func (p *Pipeline) CloseOpen(ctx context.Context, reason lifecycle.CloseReason) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.manager.HasOpen() {
		return nil
	}
	err := p.manager.Close(ctx, reason, p.lastQuote.Last)
	p.archiveIfClosed()
	return err
}

// Snapshot returns the pipeline's externally visible state.
func (p *Pipeline) Snapshot() PipelineStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := PipelineStatus{Symbol: p.symbol, Class: p.class, Stage: smc.StageNone.String()}
	if p.signal != nil {
		st.Stage = p.signal.Stage.String()
		st.Direction = string(p.signal.Direction)
	}
	if pos := p.manager.Open(); pos != nil {
		st.Position = pos
	}
	return st
}

type PipelineStatus struct {
	Symbol    string              `json:"symbol"`
	Class     string              `json:"class"`
	Stage     string              `json:"stage"`
	Direction string              `json:"direction,omitempty"`
	Position  *lifecycle.Position `json:"position,omitempty"`
}

func (p *Pipeline) entryWindowExpired() bool {
	window, err := p.cfg.Strategy.EntryWindowDuration()
	if err != nil || window <= 0 || p.signal.ShiftTime.IsZero() {
		return false
	}
	return time.Now().UTC().Sub(p.signal.ShiftTime) > window
}

func (p *Pipeline) clearSignalLocked(reason string) {
	sig := p.signal
	p.signal = nil
	p.signalDetails = nil
	if sig == nil {
		return
	}
	logger.Infof("%s: signal cleared (%s) from stage %s", p.symbol, reason, sig.Stage)
	ev := events.New(events.KindSignalStage, p.symbol, smc.StageNone.String())
	ev.Direction = string(sig.Direction)
	ev.Reason = reason
	p.sink.Publish(ev)
}

func (p *Pipeline) publishStage(sig *smc.Signal, reason string, prices map[string]float64) {
	ev := events.New(events.KindSignalStage, p.symbol, sig.Stage.String())
	ev.Direction = string(sig.Direction)
	ev.Reason = reason
	ev.Prices = prices
	p.sink.Publish(ev)
}
