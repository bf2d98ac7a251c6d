package config

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9985"
	defaultAppLogPath  = "/data/logs/operator-live.log"

	defaultContextInterval = "1h"
	defaultTriggerInterval = "5m"
	defaultContextWindow   = 50
	defaultTriggerWindow   = 200
	defaultTriggerPollSec  = 5
	defaultMaxCached       = 300

	defaultSwingLookback    = 3
	defaultSweepScanCandles = 3
	defaultBaseRangeExclude = 5
	defaultReclaimWindow    = 3
	defaultWickRatioMin     = 0.30
	defaultEntryWindow      = "1h"
	defaultMinRiskReward    = 2.0
	defaultRSIPeriod        = 14
	defaultRSIOverbought    = 70.0
	defaultRSIOversold      = 30.0
	defaultSpreadMultiple   = 3.0
	defaultSpreadWindow     = 20

	defaultRiskPercent    = 1.0
	defaultDailyLossLimit = 100.0
	defaultEventLockout   = 30
	defaultProtectLead    = 5

	defaultBreakevenR       = 1.5
	defaultBreakevenBuffer  = 0.25
	defaultPartialR         = 2.0
	defaultPartialFraction  = 0.30
	defaultTrailCandles     = 3
	defaultModifyRetries    = 3
	defaultCallTimeoutSec   = 10
	defaultMaxPerSymbol     = 1
	defaultArchivePath      = "/data/db/trades.db"
	defaultJournalPath      = "/data/db/events.db"
	defaultDegradedFailures = 5
	defaultDegradedCooldown = 120
)

func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Market.applyDefaults()
	c.Strategy.applyDefaults()
	c.Risk.applyDefaults()
	c.Lifecycle.applyDefaults()
	c.Trading.applyDefaults()
	c.Store.applyDefaults()
	for i := range c.Venues {
		c.Venues[i].applyDefaults()
	}
}

func (a *AppConfig) applyDefaults() {
	if a.Env == "" {
		a.Env = defaultAppEnv
	}
	if a.LogLevel == "" {
		a.LogLevel = defaultAppLogLevel
	}
	if a.HTTPAddr == "" {
		a.HTTPAddr = defaultAppHTTPAddr
	}
	if a.LogPath == "" {
		a.LogPath = defaultAppLogPath
	}
}

func (m *MarketConfig) applyDefaults() {
	if m.ContextInterval == "" {
		m.ContextInterval = defaultContextInterval
	}
	if m.TriggerInterval == "" {
		m.TriggerInterval = defaultTriggerInterval
	}
	if m.ContextWindow <= 0 {
		m.ContextWindow = defaultContextWindow
	}
	if m.TriggerWindow <= 0 {
		m.TriggerWindow = defaultTriggerWindow
	}
	if m.TriggerPollSeconds <= 0 {
		m.TriggerPollSeconds = defaultTriggerPollSec
	}
	if m.MaxCached <= 0 {
		m.MaxCached = defaultMaxCached
	}
}

func (s *StrategyConfig) applyDefaults() {
	if s.SwingLookback <= 0 {
		s.SwingLookback = defaultSwingLookback
	}
	if s.SweepScanCandles <= 0 {
		s.SweepScanCandles = defaultSweepScanCandles
	}
	if s.BaseRangeExclude <= 0 {
		s.BaseRangeExclude = defaultBaseRangeExclude
	}
	if s.ReclaimWindow <= 0 {
		s.ReclaimWindow = defaultReclaimWindow
	}
	if s.WickRatioMin <= 0 {
		s.WickRatioMin = defaultWickRatioMin
	}
	if s.EntryWindow == "" {
		s.EntryWindow = defaultEntryWindow
	}
	if s.MinRiskReward <= 0 {
		s.MinRiskReward = defaultMinRiskReward
	}
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = defaultRSIPeriod
	}
	if s.RSIOverbought <= 0 {
		s.RSIOverbought = defaultRSIOverbought
	}
	if s.RSIOversold <= 0 {
		s.RSIOversold = defaultRSIOversold
	}
	if s.SpreadMultiple <= 0 {
		s.SpreadMultiple = defaultSpreadMultiple
	}
	if s.SpreadWindow <= 0 {
		s.SpreadWindow = defaultSpreadWindow
	}
	// shift_window deliberately has no default, see types.go
}

func (r *RiskConfig) applyDefaults() {
	if r.RiskPercent <= 0 {
		r.RiskPercent = defaultRiskPercent
	}
	if r.DailyLossLimit <= 0 {
		r.DailyLossLimit = defaultDailyLossLimit
	}
	if r.EventLockoutMinutes <= 0 {
		r.EventLockoutMinutes = defaultEventLockout
	}
	if r.ProtectLeadMinutes <= 0 {
		r.ProtectLeadMinutes = defaultProtectLead
	}
}

func (l *LifecycleConfig) applyDefaults() {
	if l.BreakevenR <= 0 {
		l.BreakevenR = defaultBreakevenR
	}
	if l.BreakevenBufferR <= 0 {
		l.BreakevenBufferR = defaultBreakevenBuffer
	}
	if l.PartialR <= 0 {
		l.PartialR = defaultPartialR
	}
	if l.PartialFraction <= 0 {
		l.PartialFraction = defaultPartialFraction
	}
	if l.TrailCandles <= 0 {
		l.TrailCandles = defaultTrailCandles
	}
	if l.ModifyRetries <= 0 {
		l.ModifyRetries = defaultModifyRetries
	}
	if l.CallTimeoutSeconds <= 0 {
		l.CallTimeoutSeconds = defaultCallTimeoutSec
	}
}

func (t *TradingConfig) applyDefaults() {
	if t.MaxPositionsPerSymbol <= 0 {
		t.MaxPositionsPerSymbol = defaultMaxPerSymbol
	}
}

func (s *StoreConfig) applyDefaults() {
	if s.ArchivePath == "" {
		s.ArchivePath = defaultArchivePath
	}
	if s.JournalPath == "" {
		s.JournalPath = defaultJournalPath
	}
}

func (v *VenueConfig) applyDefaults() {
	if v.HTTPTimeoutSeconds <= 0 {
		v.HTTPTimeoutSeconds = 10
	}
	if v.DegradedThreshold <= 0 {
		v.DegradedThreshold = defaultDegradedFailures
	}
	if v.DegradedCooldownSeconds <= 0 {
		v.DegradedCooldownSeconds = defaultDegradedCooldown
	}
}
