package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PaperBridge is an in-memory venue used for dry runs and tests. Orders fill
// immediately at the requested entry price; closes settle at the mark price.
type PaperBridge struct {
	mu        sync.Mutex
	name      string
	equity    float64
	marginCap float64 // 0 = unlimited notional
	specs     map[string]ContractSpecs
	positions map[string]*Position // keyed by symbol
	closed    map[string]bool      // tickets already closed, for idempotency
	marks     map[string]float64
	failNext  int
	failWith  error
}

func NewPaperBridge(name string, equity float64) *PaperBridge {
	if name == "" {
		name = "paper"
	}
	return &PaperBridge{
		name:      name,
		equity:    equity,
		specs:     make(map[string]ContractSpecs),
		positions: make(map[string]*Position),
		closed:    make(map[string]bool),
		marks:     make(map[string]float64),
	}
}

func (p *PaperBridge) Name() string { return p.name }

// SetSpecs registers contract constraints for a symbol.
func (p *PaperBridge) SetSpecs(spec ContractSpecs) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.specs[strings.ToUpper(spec.Symbol)] = spec
}

// SetMark sets the settlement price used for closes on a symbol.
func (p *PaperBridge) SetMark(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[strings.ToUpper(symbol)] = price
}

// SetMarginCap makes PlaceOrder reject orders whose notional exceeds cap.
func (p *PaperBridge) SetMarginCap(cap float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marginCap = cap
}

// FailNext makes the next n calls fail with err (transient by default).
func (p *PaperBridge) FailNext(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = n
	if err == nil {
		err = Transient(fmt.Errorf("injected failure"))
	}
	p.failWith = err
}

func (p *PaperBridge) maybeFail() error {
	if p.failNext > 0 {
		p.failNext--
		return p.failWith
	}
	return nil
}

func (p *PaperBridge) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.maybeFail(); err != nil {
		return "", err
	}
	if req.Size <= 0 {
		return "", ErrSizingInvalid
	}
	symbol := strings.ToUpper(req.Symbol)
	spec, ok := p.specs[symbol]
	multiplier := 1.0
	if ok && spec.ContractSize > 0 {
		multiplier = spec.ContractSize
	}
	if p.marginCap > 0 && req.Size*req.EntryPrice*multiplier > p.marginCap {
		return "", ErrMarginRejected
	}
	if _, exists := p.positions[symbol]; exists {
		return "", fmt.Errorf("paper: position already open on %s", symbol)
	}
	ticket := uuid.NewString()
	p.positions[symbol] = &Position{
		Ticket:      ticket,
		Symbol:      symbol,
		Direction:   req.Direction,
		Size:        req.Size,
		InitialSize: req.Size,
		EntryPrice:  req.EntryPrice,
		StopLoss:    req.StopLoss,
		TakeProfit:  req.TakeProfit,
		OpenedAt:    time.Now().UTC(),
	}
	if _, ok := p.marks[symbol]; !ok {
		p.marks[symbol] = req.EntryPrice
	}
	return ticket, nil
}

func (p *PaperBridge) ModifyOrder(ctx context.Context, ticket string, newStop, newTarget float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.maybeFail(); err != nil {
		return err
	}
	for _, pos := range p.positions {
		if pos.Ticket != ticket {
			continue
		}
		if newStop > 0 {
			pos.StopLoss = newStop
		}
		if newTarget > 0 {
			pos.TakeProfit = newTarget
		}
		return nil
	}
	if p.closed[ticket] {
		// position already gone, retried modify is a no-op success
		return nil
	}
	return ErrNoPosition
}

func (p *PaperBridge) ClosePosition(ctx context.Context, symbol string, fraction float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.maybeFail(); err != nil {
		return err
	}
	symbol = strings.ToUpper(symbol)
	pos, ok := p.positions[symbol]
	if !ok {
		// idempotent: closing an already-closed symbol is success
		return nil
	}
	if fraction <= 0 || fraction > 1 {
		fraction = 1
	}
	p.settle(pos, pos.Size*fraction)
	return nil
}

func (p *PaperBridge) CloseAll(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.maybeFail(); err != nil {
		return err
	}
	for _, pos := range p.positions {
		p.settle(pos, pos.Size)
	}
	return nil
}

// settle closes amount of pos at the mark price and books realized PnL.
func (p *PaperBridge) settle(pos *Position, amount float64) {
	if amount > pos.Size {
		amount = pos.Size
	}
	mark := p.marks[pos.Symbol]
	if mark <= 0 {
		mark = pos.EntryPrice
	}
	var pnl float64
	if pos.Direction == Long {
		pnl = (mark - pos.EntryPrice) * amount
	} else {
		pnl = (pos.EntryPrice - mark) * amount
	}
	spec, ok := p.specs[pos.Symbol]
	if ok && spec.ContractSize > 0 {
		pnl *= spec.ContractSize
	}
	pos.Size -= amount
	pos.RealizedPnL += pnl
	p.equity += pnl
	if pos.Size <= 1e-12 {
		p.closed[pos.Ticket] = true
		delete(p.positions, pos.Symbol)
	}
}

func (p *PaperBridge) OpenPositions(ctx context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.maybeFail(); err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}

func (p *PaperBridge) Equity(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.maybeFail(); err != nil {
		return 0, err
	}
	return p.equity, nil
}

func (p *PaperBridge) ContractSpecs(ctx context.Context, symbol string) (ContractSpecs, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	spec, ok := p.specs[strings.ToUpper(symbol)]
	if !ok {
		return ContractSpecs{
			Symbol:       strings.ToUpper(symbol),
			TickSize:     0.00001,
			StepSize:     0.01,
			MinSize:      0.01,
			MaxSize:      100,
			ContractSize: 1,
		}, nil
	}
	return spec, nil
}
