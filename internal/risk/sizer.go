package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/gateway/broker"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/logger"
)

// Sizer converts risk percentage and stop distance into a venue-valid size.
// All rounding goes through decimals so a 0.0699999 never slips past a 0.07.
type Sizer struct {
	MinRiskReward float64
}

func NewSizer(minRR float64) *Sizer {
	if minRR <= 0 {
		minRR = 2
	}
	return &Sizer{MinRiskReward: minRR}
}

// CheckRiskReward validates the entry/stop/target geometry.
func (s *Sizer) CheckRiskReward(entry, stop, target float64) bool {
	riskDec := decimal.NewFromFloat(entry).Sub(decimal.NewFromFloat(stop)).Abs()
	if riskDec.IsZero() {
		return false
	}
	rewardDec := decimal.NewFromFloat(target).Sub(decimal.NewFromFloat(entry)).Abs()
	rr, _ := rewardDec.Div(riskDec).Float64()
	return rr >= s.MinRiskReward
}

// Calculate returns the order size for the requested risk. The raw size
// (equity x risk%) / (stop distance x multiplier) is floored to the venue's
// step, then capped at the venue maximum. A size below the venue minimum, a
// zero rounded size, or a non-positive stop distance is broker.ErrSizingInvalid;
// the minimum is never substituted for the computed size.
func (s *Sizer) Calculate(equity, riskPercent, entry, stop float64, spec broker.ContractSpecs) (float64, error) {
	dist := decimal.NewFromFloat(entry).Sub(decimal.NewFromFloat(stop)).Abs()
	if !dist.IsPositive() {
		return 0, fmt.Errorf("%w: stop distance must be positive", broker.ErrSizingInvalid)
	}
	if equity <= 0 || riskPercent <= 0 {
		return 0, fmt.Errorf("%w: equity=%v risk=%v", broker.ErrSizingInvalid, equity, riskPercent)
	}
	multiplier := decimal.NewFromFloat(spec.ContractSize)
	if !multiplier.IsPositive() {
		multiplier = decimal.NewFromInt(1)
	}
	riskAmount := decimal.NewFromFloat(equity).
		Mul(decimal.NewFromFloat(riskPercent)).
		Div(decimal.NewFromInt(100))
	raw := riskAmount.Div(dist.Mul(multiplier))

	step := decimal.NewFromFloat(spec.StepSize)
	size := raw
	if step.IsPositive() {
		size = raw.Div(step).Floor().Mul(step)
	}
	if !size.IsPositive() {
		return 0, fmt.Errorf("%w: size rounds to zero (raw=%s step=%s)", broker.ErrSizingInvalid, raw, step)
	}
	if spec.MinSize > 0 && size.LessThan(decimal.NewFromFloat(spec.MinSize)) {
		return 0, fmt.Errorf("%w: size %s below venue minimum %v", broker.ErrSizingInvalid, size, spec.MinSize)
	}
	if spec.MaxSize > 0 && size.GreaterThan(decimal.NewFromFloat(spec.MaxSize)) {
		size = decimal.NewFromFloat(spec.MaxSize)
	}
	out, _ := size.Float64()
	return out, nil
}

// Placer is the slice of the execution contract the sizer needs.
type Placer interface {
	PlaceOrder(ctx context.Context, req broker.OrderRequest) (string, error)
}

// PlaceRiskSized sizes and submits req. On a margin rejection it retries
// exactly once at half the original risk percentage; a second rejection is
// returned and the caller drops the signal.
func (s *Sizer) PlaceRiskSized(ctx context.Context, placer Placer, equity, riskPercent float64, req broker.OrderRequest, spec broker.ContractSpecs) (string, float64, error) {
	size, err := s.Calculate(equity, riskPercent, req.EntryPrice, req.StopLoss, spec)
	if err != nil {
		return "", 0, err
	}
	req.Size = size
	ticket, err := placer.PlaceOrder(ctx, req)
	if err == nil {
		return ticket, size, nil
	}
	if !errors.Is(err, broker.ErrMarginRejected) {
		return "", 0, err
	}

	halfRisk := riskPercent / 2
	logger.Warnf("margin rejected for %s, retrying once at half risk (%.2f%%)", req.Symbol, halfRisk)
	size, sizeErr := s.Calculate(equity, halfRisk, req.EntryPrice, req.StopLoss, spec)
	if sizeErr != nil {
		return "", 0, fmt.Errorf("half-risk retry unsizable: %w", sizeErr)
	}
	req.Size = size
	ticket, retryErr := placer.PlaceOrder(ctx, req)
	if retryErr != nil {
		return "", 0, fmt.Errorf("half-risk retry failed: %w", retryErr)
	}
	return ticket, size, nil
}
