package config

// Config is the main configuration carrier for the operator.
type Config struct {
	App       AppConfig       `toml:"app"`
	Market    MarketConfig    `toml:"market"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Risk      RiskConfig      `toml:"risk"`
	Lifecycle LifecycleConfig `toml:"lifecycle"`
	Trading   TradingConfig   `toml:"trading"`
	Sessions  SessionsConfig  `toml:"sessions"`
	Venues    []VenueConfig   `toml:"venues"`
	Notify    NotifyConfig    `toml:"notify"`
	Store     StoreConfig     `toml:"store"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// MarketConfig describes the two candle frames every symbol pipeline runs on.
type MarketConfig struct {
	ContextInterval    string `toml:"context_interval"`
	TriggerInterval    string `toml:"trigger_interval"`
	ContextWindow      int    `toml:"context_window"`
	TriggerWindow      int    `toml:"trigger_window"`
	TriggerPollSeconds int    `toml:"trigger_poll_seconds"`
	MaxCached          int    `toml:"max_cached"`
}

// StrategyConfig carries the sweep / structure-shift / entry parameters.
type StrategyConfig struct {
	// SwingLookback is the total pivot width, in candles, for swing detection.
	SwingLookback    int `toml:"swing_lookback"`
	SweepScanCandles int `toml:"sweep_scan_candles"`
	BaseRangeExclude int `toml:"base_range_exclude"`
	// ReclaimWindow is how many candles a sweep has to body-close back
	// inside the swept level, counting the sweep candle itself.
	ReclaimWindow int     `toml:"reclaim_window"`
	WickRatioMin  float64 `toml:"wick_ratio_min"`
	// ShiftWindow is a required policy parameter. Documentation of the source
	// strategy disagrees on its value (1h / 90m / 4h), so it must come from
	// the config file and is never defaulted in code.
	ShiftWindow   string  `toml:"shift_window"`
	EntryWindow   string  `toml:"entry_window"`
	MinRiskReward float64 `toml:"min_risk_reward"`
	RSIPeriod     int     `toml:"rsi_period"`
	RSIOverbought float64 `toml:"rsi_overbought"`
	RSIOversold   float64 `toml:"rsi_oversold"`
	SpreadMultiple float64 `toml:"spread_multiple"`
	SpreadWindow   int     `toml:"spread_window"`
}

type RiskConfig struct {
	RiskPercent         float64 `toml:"risk_percent"`
	DailyLossLimit      float64 `toml:"daily_loss_limit"`
	EventLockoutMinutes int     `toml:"event_lockout_minutes"`
	ProtectLeadMinutes  int     `toml:"protect_lead_minutes"`
	CalendarPath        string  `toml:"calendar_path"`
}

type LifecycleConfig struct {
	BreakevenR         float64 `toml:"breakeven_r"`
	BreakevenBufferR   float64 `toml:"breakeven_buffer_r"`
	PartialR           float64 `toml:"partial_r"`
	PartialFraction    float64 `toml:"partial_fraction"`
	TrailCandles       int     `toml:"trail_candles"`
	TrailingEnabled    bool    `toml:"trailing_enabled"`
	ModifyRetries      int     `toml:"modify_retries"`
	CallTimeoutSeconds int     `toml:"call_timeout_seconds"`
}

type TradingConfig struct {
	MaxPositionsPerSymbol int    `toml:"max_positions_per_symbol"`
	DryRun                bool   `toml:"dry_run"`
	EmergencyToken        string `toml:"emergency_token"`
}

// SessionsConfig selects the active watchlist by UTC hour. Crypto symbols are
// watched around the clock; each forex session contributes its own list.
type SessionsConfig struct {
	Crypto []string        `toml:"crypto"`
	Forex  []SessionWindow `toml:"forex"`
}

type SessionWindow struct {
	Name      string   `toml:"name"`
	StartHour int      `toml:"start_hour"`
	EndHour   int      `toml:"end_hour"`
	Symbols   []string `toml:"symbols"`
}

// VenueConfig is one entry of the execution routing table. Symbols are routed
// to the first venue whose class list contains the symbol's class.
type VenueConfig struct {
	Name               string   `toml:"name"`
	Driver             string   `toml:"driver"` // "binance" | "paper"
	Classes            []string `toml:"classes"`
	RESTBaseURL        string   `toml:"rest_base_url"`
	APIKey             string   `toml:"api_key"`
	APISecret          string   `toml:"api_secret"`
	HTTPTimeoutSeconds int      `toml:"http_timeout_seconds"`
	DegradedThreshold  int      `toml:"degraded_threshold"`
	DegradedCooldownSeconds int `toml:"degraded_cooldown_seconds"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type StoreConfig struct {
	ArchivePath string `toml:"archive_path"`
	JournalPath string `toml:"journal_path"`
}
