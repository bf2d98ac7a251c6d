package binance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/gateway/broker"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/logger"
)

// protection tracks the venue-side protective orders attached to an entry.
type protection struct {
	symbol   string
	stopID   int64
	targetID int64
}

// Bridge implements broker.Bridge on Binance USDT-margined futures. Entries
// fill at market; stops and targets live on the venue as close-position
// conditional orders so protection survives a process restart.
type Bridge struct {
	name   string
	client *futures.Client

	mu      sync.Mutex
	orders  map[string]*protection // ticket -> protective orders
	tickets map[string]string      // symbol -> ticket
	specs   map[string]broker.ContractSpecs
}

func NewBridge(name string, cfg Config) *Bridge {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	if name == "" {
		name = "binance"
	}
	return &Bridge{
		name:    name,
		client:  client,
		orders:  make(map[string]*protection),
		tickets: make(map[string]string),
		specs:   make(map[string]broker.ContractSpecs),
	}
}

func (b *Bridge) Name() string { return b.name }

func (b *Bridge) PlaceOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	symbol := cleanSymbol(req.Symbol)
	spec, err := b.ContractSpecs(ctx, symbol)
	if err != nil {
		return "", err
	}
	qty := formatByStep(req.Size, spec.StepSize)
	side := futures.SideTypeBuy
	if req.Direction == broker.Short {
		side = futures.SideTypeSell
	}
	entry, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		Do(ctx)
	if err != nil {
		return "", classify(err)
	}
	ticket := strconv.FormatInt(entry.OrderID, 10)
	prot := &protection{symbol: symbol}

	exitSide := futures.SideTypeSell
	if req.Direction == broker.Short {
		exitSide = futures.SideTypeBuy
	}
	if req.StopLoss > 0 {
		id, err := b.placeConditional(ctx, symbol, exitSide, futures.OrderTypeStopMarket, req.StopLoss, spec.TickSize)
		if err != nil {
			logger.Errorf("binance: %s stop placement failed after fill: %v", symbol, err)
		} else {
			prot.stopID = id
		}
	}
	if req.TakeProfit > 0 {
		id, err := b.placeConditional(ctx, symbol, exitSide, futures.OrderTypeTakeProfitMarket, req.TakeProfit, spec.TickSize)
		if err != nil {
			logger.Errorf("binance: %s target placement failed after fill: %v", symbol, err)
		} else {
			prot.targetID = id
		}
	}

	b.mu.Lock()
	b.orders[ticket] = prot
	b.tickets[symbol] = ticket
	b.mu.Unlock()
	return ticket, nil
}

func (b *Bridge) placeConditional(ctx context.Context, symbol string, side futures.SideType, typ futures.OrderType, price, tick float64) (int64, error) {
	res, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(typ).
		StopPrice(formatByStep(price, tick)).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return 0, classify(err)
	}
	return res.OrderID, nil
}

func (b *Bridge) ModifyOrder(ctx context.Context, ticket string, newStop, newTarget float64) error {
	b.mu.Lock()
	prot, ok := b.orders[ticket]
	b.mu.Unlock()
	if !ok {
		return broker.ErrNoPosition
	}
	spec, err := b.ContractSpecs(ctx, prot.symbol)
	if err != nil {
		return err
	}
	pos, err := b.positionFor(ctx, prot.symbol)
	if err != nil {
		return err
	}
	exitSide := futures.SideTypeSell
	if pos.Direction == broker.Short {
		exitSide = futures.SideTypeBuy
	}

	if newStop > 0 {
		if err := b.replaceConditional(ctx, prot.symbol, exitSide, futures.OrderTypeStopMarket, newStop, spec.TickSize, &prot.stopID); err != nil {
			return err
		}
	}
	if newTarget > 0 {
		if err := b.replaceConditional(ctx, prot.symbol, exitSide, futures.OrderTypeTakeProfitMarket, newTarget, spec.TickSize, &prot.targetID); err != nil {
			return err
		}
	}
	return nil
}

// replaceConditional places the new protective order before cancelling the old
// one, so the position is never unprotected in between.
func (b *Bridge) replaceConditional(ctx context.Context, symbol string, side futures.SideType, typ futures.OrderType, price, tick float64, orderID *int64) error {
	newID, err := b.placeConditional(ctx, symbol, side, typ, price, tick)
	if err != nil {
		return err
	}
	old := *orderID
	*orderID = newID
	if old == 0 {
		return nil
	}
	if _, err := b.client.NewCancelOrderService().Symbol(symbol).OrderID(old).Do(ctx); err != nil {
		if !orderGone(err) {
			logger.Warnf("binance: %s stale protective order %d not cancelled: %v", symbol, old, err)
		}
	}
	return nil
}

func (b *Bridge) ClosePosition(ctx context.Context, symbol string, fraction float64) error {
	symbol = cleanSymbol(symbol)
	if fraction <= 0 || fraction > 1 {
		fraction = 1
	}
	pos, err := b.positionFor(ctx, symbol)
	if err != nil {
		if errors.Is(err, broker.ErrNoPosition) {
			// already flat, close is idempotent
			return nil
		}
		return err
	}
	spec, err := b.ContractSpecs(ctx, symbol)
	if err != nil {
		return err
	}
	qty := pos.Size * fraction
	if fraction >= 1 {
		qty = pos.Size
	}
	exitSide := futures.SideTypeSell
	if pos.Direction == broker.Short {
		exitSide = futures.SideTypeBuy
	}
	_, err = b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(exitSide).
		Type(futures.OrderTypeMarket).
		Quantity(formatByStep(qty, spec.StepSize)).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return classify(err)
	}
	if fraction >= 1 {
		if err := b.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
			logger.Warnf("binance: %s cancel open orders after close: %v", symbol, err)
		}
		b.mu.Lock()
		if ticket, ok := b.tickets[symbol]; ok {
			delete(b.orders, ticket)
			delete(b.tickets, symbol)
		}
		b.mu.Unlock()
	}
	return nil
}

func (b *Bridge) CloseAll(ctx context.Context) error {
	positions, err := b.OpenPositions(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for _, pos := range positions {
		if err := b.ClosePosition(ctx, pos.Symbol, 1); err != nil {
			logger.Errorf("binance: close all, %s failed: %v", pos.Symbol, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (b *Bridge) OpenPositions(ctx context.Context) ([]broker.Position, error) {
	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	b.mu.Lock()
	tickets := make(map[string]string, len(b.tickets))
	for k, v := range b.tickets {
		tickets[k] = v
	}
	b.mu.Unlock()

	var out []broker.Position
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		dir := broker.Long
		if amt < 0 {
			dir = broker.Short
			amt = -amt
		}
		ticket := tickets[r.Symbol]
		if ticket == "" {
			ticket = "ext-" + r.Symbol
		}
		out = append(out, broker.Position{
			Ticket:     ticket,
			Symbol:     r.Symbol,
			Direction:  dir,
			Size:       amt,
			EntryPrice: parseFloat(r.EntryPrice),
		})
	}
	return out, nil
}

func (b *Bridge) Equity(ctx context.Context) (float64, error) {
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, classify(err)
	}
	return parseFloat(acct.TotalMarginBalance), nil
}

func (b *Bridge) ContractSpecs(ctx context.Context, symbol string) (broker.ContractSpecs, error) {
	symbol = cleanSymbol(symbol)
	b.mu.Lock()
	if spec, ok := b.specs[symbol]; ok {
		b.mu.Unlock()
		return spec, nil
	}
	b.mu.Unlock()

	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return broker.ContractSpecs{}, classify(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range info.Symbols {
		s := &info.Symbols[i]
		spec := broker.ContractSpecs{Symbol: s.Symbol, ContractSize: 1}
		if f := s.LotSizeFilter(); f != nil {
			spec.StepSize = parseFloat(f.StepSize)
			spec.MinSize = parseFloat(f.MinQuantity)
			spec.MaxSize = parseFloat(f.MaxQuantity)
		}
		if f := s.PriceFilter(); f != nil {
			spec.TickSize = parseFloat(f.TickSize)
		}
		b.specs[s.Symbol] = spec
	}
	spec, ok := b.specs[symbol]
	if !ok {
		return broker.ContractSpecs{}, fmt.Errorf("no contract specs for %s", symbol)
	}
	return spec, nil
}

func (b *Bridge) positionFor(ctx context.Context, symbol string) (broker.Position, error) {
	positions, err := b.OpenPositions(ctx)
	if err != nil {
		return broker.Position{}, err
	}
	for _, pos := range positions {
		if pos.Symbol == symbol {
			return pos, nil
		}
	}
	return broker.Position{}, broker.ErrNoPosition
}

// formatByStep renders v truncated to the step's precision, the way the
// exchange expects quantities and prices.
func formatByStep(v, step float64) string {
	if step <= 0 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	prec := 0
	if step < 1 {
		prec = int(math.Ceil(-math.Log10(step)))
	}
	d := decimal.NewFromFloat(v).Truncate(int32(prec))
	return d.StringFixed(int32(prec))
}

// classify maps exchange API errors onto the broker error vocabulary so the
// sizing retry and the venue breaker react correctly.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -2018, -2019: // balance / margin insufficient
			return fmt.Errorf("%w: %s", broker.ErrMarginRejected, apiErr.Message)
		case -1013, -4003, -4164: // quantity or notional out of range
			return fmt.Errorf("%w: %s", broker.ErrSizingInvalid, apiErr.Message)
		case -1000, -1001, -1003, -1007, -1016: // server side, retryable
			return broker.Transient(err)
		}
		return err
	}
	if broker.IsTransient(err) {
		return broker.Transient(err)
	}
	return err
}

// orderGone reports the cancel race where the order was already filled or
// removed.
func orderGone(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == -2011
}

var _ broker.Bridge = (*Bridge)(nil)
