package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads, defaults and validates the operator configuration.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", abs, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ShiftWindowDuration returns the structure-shift confirmation window.
// Validation guarantees the value parses, so errors here mean Load was skipped.
func (s StrategyConfig) ShiftWindowDuration() (time.Duration, error) {
	d, ok := parseWindow(s.ShiftWindow)
	if !ok {
		return 0, fmt.Errorf("strategy.shift_window is not a valid duration: %q", s.ShiftWindow)
	}
	return d, nil
}

// EntryWindowDuration returns how long a confirmed signal may wait for a
// zone tap before it expires.
func (s StrategyConfig) EntryWindowDuration() (time.Duration, error) {
	d, ok := parseWindow(s.EntryWindow)
	if !ok {
		return 0, fmt.Errorf("strategy.entry_window is not a valid duration: %q", s.EntryWindow)
	}
	return d, nil
}

func parseWindow(raw string) (time.Duration, bool) {
	if raw == "" {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func (l LifecycleConfig) CallTimeout() time.Duration {
	if l.CallTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(l.CallTimeoutSeconds) * time.Second
}

func (m MarketConfig) TriggerPoll() time.Duration {
	if m.TriggerPollSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(m.TriggerPollSeconds) * time.Second
}
