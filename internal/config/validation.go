package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Strategy.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Lifecycle.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := validateVenues(c.Venues); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (s *StrategyConfig) validate() error {
	if strings.TrimSpace(s.ShiftWindow) == "" {
		return fmt.Errorf("strategy.shift_window is required (no canonical default exists)")
	}
	if _, ok := parseWindow(s.ShiftWindow); !ok {
		return fmt.Errorf("strategy.shift_window is not a valid duration: %q", s.ShiftWindow)
	}
	if _, ok := parseWindow(s.EntryWindow); !ok {
		return fmt.Errorf("strategy.entry_window is not a valid duration: %q", s.EntryWindow)
	}
	if s.WickRatioMin <= 0 || s.WickRatioMin >= 1 {
		return fmt.Errorf("strategy.wick_ratio_min must be in (0,1), got %v", s.WickRatioMin)
	}
	if s.MinRiskReward < 1 {
		return fmt.Errorf("strategy.min_risk_reward must be >= 1, got %v", s.MinRiskReward)
	}
	if s.RSIOversold >= s.RSIOverbought {
		return fmt.Errorf("strategy.rsi_oversold must be below rsi_overbought")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.RiskPercent > 5 {
		return fmt.Errorf("risk.risk_percent %v exceeds the 5%% hard cap", r.RiskPercent)
	}
	return nil
}

func (l *LifecycleConfig) validate() error {
	if l.PartialFraction <= 0 || l.PartialFraction >= 1 {
		return fmt.Errorf("lifecycle.partial_fraction must be in (0,1), got %v", l.PartialFraction)
	}
	if l.BreakevenR >= l.PartialR {
		return fmt.Errorf("lifecycle.breakeven_r must be below partial_r")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	// The engine owns a single position slot per symbol. The knob exists so
	// the constraint is explicit in configuration rather than implicit.
	if t.MaxPositionsPerSymbol != 1 {
		return fmt.Errorf("trading.max_positions_per_symbol only supports 1, got %d", t.MaxPositionsPerSymbol)
	}
	return nil
}

func validateVenues(venues []VenueConfig) error {
	if len(venues) == 0 {
		return fmt.Errorf("at least one venue must be configured")
	}
	seen := make(map[string]bool, len(venues))
	for _, v := range venues {
		name := strings.TrimSpace(v.Name)
		if name == "" {
			return fmt.Errorf("venue entry missing name")
		}
		if seen[name] {
			return fmt.Errorf("duplicate venue name: %s", name)
		}
		seen[name] = true
		switch v.Driver {
		case "binance", "paper":
		default:
			return fmt.Errorf("venue %s: unknown driver %q", name, v.Driver)
		}
		if len(v.Classes) == 0 {
			return fmt.Errorf("venue %s: classes cannot be empty", name)
		}
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram enabled but bot_token/chat_id missing")
		}
	}
	return nil
}
