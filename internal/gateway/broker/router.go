package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/logger"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/pkg/circuit"
)

var ErrNoVenue = errors.New("no venue routes this symbol")

// Venue couples a bridge with its health breaker. Calls that create new
// exposure go through Allow; deterministic rejections (sizing, margin) do not
// count against venue health, only transport-level failures do.
type Venue struct {
	Name    string
	Bridge  Bridge
	Breaker *circuit.Breaker
	classes map[string]bool
}

func (v *Venue) Serves(class string) bool {
	return v.classes[strings.ToLower(class)]
}

func (v *Venue) Degraded() bool {
	return v.Breaker != nil && v.Breaker.Degraded()
}

func (v *Venue) record(err error) {
	if v.Breaker == nil {
		return
	}
	if err == nil {
		v.Breaker.RecordSuccess()
		return
	}
	if IsTransient(err) {
		v.Breaker.RecordFailure()
		return
	}
	// the venue answered, even if it said no
	v.Breaker.RecordSuccess()
}

// PlaceOrder routes a new entry through the breaker. A degraded venue refuses
// new exposure immediately; existing positions are left for their lifecycle
// managers, which keep calling the venue directly.
func (v *Venue) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if v.Breaker != nil && !v.Breaker.Allow() {
		return "", ErrVenueDegraded
	}
	ticket, err := v.Bridge.PlaceOrder(ctx, req)
	v.record(err)
	return ticket, err
}

func (v *Venue) ModifyOrder(ctx context.Context, ticket string, newStop, newTarget float64) error {
	err := v.Bridge.ModifyOrder(ctx, ticket, newStop, newTarget)
	v.record(err)
	return err
}

func (v *Venue) ClosePosition(ctx context.Context, symbol string, fraction float64) error {
	err := v.Bridge.ClosePosition(ctx, symbol, fraction)
	v.record(err)
	return err
}

func (v *Venue) Equity(ctx context.Context) (float64, error) {
	eq, err := v.Bridge.Equity(ctx)
	v.record(err)
	return eq, err
}

func (v *Venue) ContractSpecs(ctx context.Context, symbol string) (ContractSpecs, error) {
	spec, err := v.Bridge.ContractSpecs(ctx, symbol)
	v.record(err)
	return spec, err
}

func (v *Venue) OpenPositions(ctx context.Context) ([]Position, error) {
	out, err := v.Bridge.OpenPositions(ctx)
	v.record(err)
	return out, err
}

// Router maps symbols to venues through a class classifier. First registered
// venue serving the symbol's class wins.
type Router struct {
	venues   []*Venue
	classify func(symbol string) string
}

func NewRouter(classify func(string) string) *Router {
	if classify == nil {
		classify = func(string) string { return "crypto" }
	}
	return &Router{classify: classify}
}

func (r *Router) Register(name string, bridge Bridge, classes []string, threshold int, cooldown time.Duration) *Venue {
	set := make(map[string]bool, len(classes))
	for _, c := range classes {
		set[strings.ToLower(strings.TrimSpace(c))] = true
	}
	v := &Venue{
		Name:    name,
		Bridge:  bridge,
		Breaker: circuit.NewBreaker("venue."+name, threshold, cooldown),
		classes: set,
	}
	r.venues = append(r.venues, v)
	return v
}

// For returns the venue serving symbol's class.
func (r *Router) For(symbol string) (*Venue, error) {
	class := r.classify(symbol)
	for _, v := range r.venues {
		if v.Serves(class) {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s (class=%s)", ErrNoVenue, symbol, class)
}

func (r *Router) Venues() []*Venue {
	out := make([]*Venue, len(r.venues))
	copy(out, r.venues)
	return out
}

// CloseAll issues close-everything on every venue, continuing past failures
// so one degraded venue cannot block flattening the rest.
func (r *Router) CloseAll(ctx context.Context) error {
	var firstErr error
	for _, v := range r.venues {
		if err := v.Bridge.CloseAll(ctx); err != nil {
			logger.Errorf("close all failed on venue %s: %v", v.Name, err)
			v.record(err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		v.record(nil)
	}
	return firstErr
}
