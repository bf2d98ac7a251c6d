package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/events"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/gateway/broker"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/logger"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/market"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/risk"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/strategy/smc"
)

// Config carries the lifecycle thresholds, all expressed in R-multiples of
// the position's initial risk distance.
type Config struct {
	BreakevenR      float64
	BreakevenBuffer float64
	PartialR        float64
	PartialFraction float64
	TrailCandles    int
	ModifyRetries   int
	CallTimeout     time.Duration
}

// Manager drives one symbol's position through its lifecycle. It is the only
// writer of the position record; the orchestrator feeds it quotes and closed
// trigger candles and it talks to the venue for stop moves and closes.
type Manager struct {
	cfg    Config
	venue  *broker.Venue
	state  *risk.State
	guards *risk.Guardrails
	sink   events.Sink

	mu  sync.Mutex
	pos *Position
}

func NewManager(cfg Config, venue *broker.Venue, state *risk.State, guards *risk.Guardrails, sink events.Sink) *Manager {
	if cfg.TrailCandles <= 0 {
		cfg.TrailCandles = 3
	}
	if cfg.ModifyRetries <= 0 {
		cfg.ModifyRetries = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if sink == nil {
		sink = events.Discard{}
	}
	return &Manager{cfg: cfg, venue: venue, state: state, guards: guards, sink: sink}
}

// Attach registers a freshly filled position with the manager.
func (m *Manager) Attach(pos *Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos != nil && m.pos.State != StateClosed {
		return fmt.Errorf("lifecycle: %s already has an open position", pos.Symbol)
	}
	pos.State = StateOpen
	if pos.InitialSize == 0 {
		pos.InitialSize = pos.Size
	}
	if pos.InitialStop == 0 {
		pos.InitialStop = pos.StopLoss
	}
	m.pos = pos
	m.publish(pos, "opened", pos.EntryPrice)
	return nil
}

// Open returns a copy of the managed position, or nil when flat.
func (m *Manager) Open() *Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos == nil || m.pos.State == StateClosed {
		return nil
	}
	cp := *m.pos
	return &cp
}

// HasOpen reports whether a non-closed position is attached.
func (m *Manager) HasOpen() bool {
	return m.Open() != nil
}

// TakeClosed detaches and returns the closed position record, once. Callers
// use it to archive the trade; a second call returns nil.
func (m *Manager) TakeClosed() *Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos == nil || m.pos.State != StateClosed {
		return nil
	}
	cp := *m.pos
	m.pos = nil
	return &cp
}

// OnQuote evaluates the price-driven thresholds: breakeven at the configured
// R-multiple and the one-time partial take on the way past it.
func (m *Manager) OnQuote(ctx context.Context, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos := m.pos
	if pos == nil || pos.State == StateClosed || price <= 0 {
		return
	}
	r := pos.CurrentR(price)

	if pos.State == StateOpen && r >= m.cfg.BreakevenR {
		m.moveToBreakevenLocked(ctx, pos, "breakeven_threshold")
	}
	if !pos.PartialDone && pos.State >= StateBreakeven && r >= m.cfg.PartialR {
		m.takePartialLocked(ctx, pos, price)
	}
}

// OnTriggerClose runs once per closed trigger candle: structural exit checks
// come first, then trailing. candles must be closed bars, oldest first.
func (m *Manager) OnTriggerClose(ctx context.Context, candles []market.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos := m.pos
	if pos == nil || pos.State == StateClosed || len(candles) == 0 {
		return
	}

	if m.guards != nil {
		if name, hit := m.guards.ShouldProtect(pos.Symbol, time.Now().UTC()); hit && pos.State == StateOpen {
			logger.Infof("lifecycle: %s protecting position ahead of %s", pos.Symbol, name)
			m.moveToBreakevenLocked(ctx, pos, "event_protection")
		}
	}

	if m.structurallyBroken(pos, candles) {
		m.closeLocked(ctx, pos, 1.0, CloseStructural, candles[len(candles)-1].Close)
		return
	}

	if pos.PartialDone && m.trailingOn() {
		m.trailLocked(ctx, pos, candles)
	}
}

// Close flattens the position at market for an operator-driven reason.
func (m *Manager) Close(ctx context.Context, reason CloseReason, lastPrice float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos := m.pos
	if pos == nil || pos.State == StateClosed {
		return broker.ErrNoPosition
	}
	return m.closeLocked(ctx, pos, 1.0, reason, lastPrice)
}

// Reconcile compares the venue's open positions against ours. A position the
// venue no longer reports was closed server-side (stop or target hit); the
// close reason is inferred from where price went.
func (m *Manager) Reconcile(venuePositions []broker.Position, lastPrice float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos := m.pos
	if pos == nil || pos.State == StateClosed {
		return
	}
	for _, vp := range venuePositions {
		if vp.Ticket == pos.Ticket {
			return
		}
	}

	reason := CloseStopLoss
	exit := pos.StopLoss
	if pos.TakeProfit > 0 {
		hitTP := (pos.Direction == broker.Long && lastPrice >= pos.TakeProfit) ||
			(pos.Direction == broker.Short && lastPrice <= pos.TakeProfit)
		if hitTP {
			reason = CloseTakeProfit
			exit = pos.TakeProfit
		}
	}
	m.finalizeLocked(pos, reason, exit)
}

// moveToBreakevenLocked moves the stop to entry plus a small buffer in the
// trade's favor, so a wick back to entry does not scratch at a loss on costs.
func (m *Manager) moveToBreakevenLocked(ctx context.Context, pos *Position, why string) {
	buffer := m.cfg.BreakevenBuffer * pos.RDistance()
	var stop float64
	if pos.Direction == broker.Long {
		stop = pos.EntryPrice + buffer
	} else {
		stop = pos.EntryPrice - buffer
	}
	if !pos.stopImproves(stop) {
		return
	}
	if err := m.modifyStop(ctx, pos, stop); err != nil {
		m.flagDegraded(pos, err)
		return
	}
	pos.StopLoss = stop
	if pos.advance(StateBreakeven) {
		logger.Infof("lifecycle: %s breakeven (%s), stop %.5f", pos.Symbol, why, stop)
		m.publish(pos, why, stop)
	}
}

func (m *Manager) takePartialLocked(ctx context.Context, pos *Position, price float64) {
	frac := m.cfg.PartialFraction
	if frac <= 0 || frac >= 1 {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	if err := m.venue.ClosePosition(cctx, pos.Symbol, frac); err != nil {
		logger.Errorf("lifecycle: %s partial close failed: %v", pos.Symbol, err)
		m.flagDegraded(pos, err)
		return
	}
	closed := pos.Size * frac
	pnl := m.pnlFor(pos, price, closed)
	pos.Size -= closed
	pos.PartialDone = true
	pos.RealizedPnL += pnl
	if m.state != nil {
		m.state.RecordClose(pnl)
	}
	if pos.advance(StatePartial) {
		logger.Infof("lifecycle: %s partial %.0f%% at %.5f, pnl %.2f", pos.Symbol, frac*100, price, pnl)
		m.publish(pos, "partial_take", price)
	}
}

// trailLocked moves the stop behind the extreme of the last TrailCandles
// closed bars. The stop only ever tightens.
func (m *Manager) trailLocked(ctx context.Context, pos *Position, candles []market.Candle) {
	n := m.cfg.TrailCandles
	if len(candles) < n {
		return
	}
	window := candles[len(candles)-n:]
	var stop float64
	if pos.Direction == broker.Long {
		stop = market.LowestLow(window, 0, len(window))
	} else {
		stop = market.HighestHigh(window, 0, len(window))
	}
	if !pos.stopImproves(stop) {
		return
	}
	if err := m.modifyStop(ctx, pos, stop); err != nil {
		m.flagDegraded(pos, err)
		return
	}
	pos.StopLoss = stop
	if pos.advance(StateTrailing) {
		m.publish(pos, "trailing_started", stop)
	}
	logger.Debugf("lifecycle: %s trailed stop to %.5f", pos.Symbol, stop)
}

// structurallyBroken reports a body close through the most recent swing that
// the position's thesis rests on: below the last swing low for longs, above
// the last swing high for shorts.
func (m *Manager) structurallyBroken(pos *Position, candles []market.Candle) bool {
	last := candles[len(candles)-1]
	if pos.Direction == broker.Long {
		lows := smc.SwingLows(candles[:len(candles)-1], 3)
		if len(lows) == 0 {
			return false
		}
		return last.Close < lows[len(lows)-1].Price
	}
	highs := smc.SwingHighs(candles[:len(candles)-1], 3)
	if len(highs) == 0 {
		return false
	}
	return last.Close > highs[len(highs)-1].Price
}

func (m *Manager) closeLocked(ctx context.Context, pos *Position, frac float64, reason CloseReason, exit float64) error {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	if err := m.venue.ClosePosition(cctx, pos.Symbol, frac); err != nil {
		logger.Errorf("lifecycle: %s close (%s) failed: %v", pos.Symbol, reason, err)
		m.flagDegraded(pos, err)
		return err
	}
	m.finalizeLocked(pos, reason, exit)
	return nil
}

func (m *Manager) finalizeLocked(pos *Position, reason CloseReason, exit float64) {
	pnl := m.pnlFor(pos, exit, pos.Size)
	pos.RealizedPnL += pnl
	if rd := pos.RDistance(); rd > 0 && pos.ContractSize > 0 && pos.InitialSize > 0 {
		pos.RealizedR = pos.RealizedPnL / (rd * pos.InitialSize * pos.ContractSize)
	}
	pos.Size = 0
	pos.CloseReason = reason
	pos.ClosedAt = time.Now().UTC()
	pos.State = StateClosed
	if m.state != nil {
		m.state.RecordClose(pnl)
	}
	logger.Infof("lifecycle: %s closed (%s) at %.5f, pnl %.2f, %.2fR", pos.Symbol, reason, exit, pos.RealizedPnL, pos.RealizedR)
	m.publish(pos, string(reason), exit)
}

// modifyStop pushes a stop move to the venue, retrying transient failures.
// After the retries are exhausted the position is flagged degraded rather
// than closed; an operator alert goes out and the venue-side stop stands.
func (m *Manager) modifyStop(ctx context.Context, pos *Position, stop float64) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(m.cfg.ModifyRetries-1)), ctx)
	return backoff.Retry(func() error {
		cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		defer cancel()
		err := m.venue.ModifyOrder(cctx, pos.Ticket, stop, 0)
		if err == nil {
			return nil
		}
		if !broker.IsTransient(err) {
			return backoff.Permanent(err)
		}
		logger.Warnf("lifecycle: %s modify retry: %v", pos.Symbol, err)
		return err
	}, policy)
}

func (m *Manager) flagDegraded(pos *Position, err error) {
	if pos.Degraded {
		return
	}
	pos.Degraded = true
	logger.Errorf("lifecycle: %s degraded, venue call failed: %v", pos.Symbol, err)
	ev := events.New(events.KindAlert, pos.Symbol, pos.State.String())
	ev.Direction = string(pos.Direction)
	ev.Reason = "position_degraded: " + err.Error()
	m.sink.Publish(ev)
}

func (m *Manager) pnlFor(pos *Position, price, size float64) float64 {
	mult := pos.ContractSize
	if mult <= 0 {
		mult = 1
	}
	diff := price - pos.EntryPrice
	if pos.Direction == broker.Short {
		diff = -diff
	}
	return diff * size * mult
}

func (m *Manager) trailingOn() bool {
	if m.state == nil {
		return true
	}
	return m.state.TrailingEnabled()
}

func (m *Manager) publish(pos *Position, reason string, price float64) {
	ev := events.New(events.KindPositionLifecycle, pos.Symbol, pos.State.String())
	ev.Direction = string(pos.Direction)
	ev.Reason = reason
	ev.Prices = map[string]float64{
		"price": price,
		"stop":  pos.StopLoss,
		"size":  pos.Size,
	}
	m.sink.Publish(ev)
}
