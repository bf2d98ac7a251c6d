// Package app assembles the operator from configuration: venues and routing,
// market sources, risk state, event sinks, the engine, and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/command"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/config"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/events"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/gateway/binance"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/gateway/broker"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/gateway/notifier"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/logger"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/market"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/orchestrator"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/risk"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/store/archive"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/store/journal"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/transport/httpapi"
)

const paperEquity = 10000

type App struct {
	cfg      *config.Config
	engine   *orchestrator.Engine
	server   *httpapi.Server
	calendar *risk.Calendar
	journal  *journal.Journal
	archive  *archive.TradeArchive
}

func NewApp(cfg *config.Config) (*App, error) {
	state := risk.NewState(cfg.Risk.RiskPercent, cfg.Risk.DailyLossLimit)
	state.SetTrailingEnabled(cfg.Lifecycle.TrailingEnabled)

	calendar, err := risk.NewCalendar(cfg.Risk.CalendarPath)
	if err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}
	guards := risk.NewGuardrails(state, calendar,
		time.Duration(cfg.Risk.EventLockoutMinutes)*time.Minute,
		time.Duration(cfg.Risk.ProtectLeadMinutes)*time.Minute)

	bus := events.NewBus()
	app := &App{cfg: cfg, calendar: calendar}

	if cfg.Store.JournalPath != "" {
		jnl, err := journal.Open(cfg.Store.JournalPath)
		if err != nil {
			return nil, err
		}
		bus.Subscribe(jnl.Publish)
		app.journal = jnl
	}
	if cfg.Store.ArchivePath != "" {
		arc, err := archive.NewTradeArchive(cfg.Store.ArchivePath)
		if err != nil {
			return nil, err
		}
		app.archive = arc
	}
	if tg := cfg.Notify.Telegram; tg.Enabled {
		sink := notifier.NewEventSink(notifier.NewTelegram(tg.BotToken, tg.ChatID))
		bus.Subscribe(sink.Publish)
		logger.Infof("telegram notifications enabled")
	}

	watch := orchestrator.NewWatchlist(cfg.Sessions)
	router := broker.NewRouter(watch.Classify)
	var marketCfg binance.Config
	for _, vc := range cfg.Venues {
		bridge, bcfg, err := buildBridge(vc, cfg.Trading.DryRun)
		if err != nil {
			return nil, err
		}
		router.Register(vc.Name, bridge, vc.Classes, vc.DegradedThreshold,
			time.Duration(vc.DegradedCooldownSeconds)*time.Second)
		if vc.Driver == "binance" && marketCfg.RESTBaseURL == "" {
			marketCfg = bcfg
		}
	}

	// every class reads candles through the same source; paper-routed classes
	// still need real market data to scan
	source := binance.NewSource(marketCfg)
	sources := make(map[string]market.Source)
	for _, symbol := range watch.All() {
		sources[watch.Classify(symbol)] = source
	}

	engine, err := orchestrator.NewEngine(orchestrator.Deps{
		Config:  cfg,
		Router:  router,
		Sources: sources,
		State:   state,
		Guards:  guards,
		Sizer:   risk.NewSizer(cfg.Strategy.MinRiskReward),
		Sink:    bus,
		Archive: app.archive,
	})
	if err != nil {
		return nil, err
	}
	app.engine = engine

	server, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:    cfg.App.HTTPAddr,
		Engine:  engine,
		Intake:  command.NewIntake(engine),
		Archive: app.archive,
		Journal: app.journal,
	})
	if err != nil {
		return nil, err
	}
	app.server = server
	return app, nil
}

func buildBridge(vc config.VenueConfig, dryRun bool) (broker.Bridge, binance.Config, error) {
	bcfg := binance.Config{
		APIKey:      vc.APIKey,
		APISecret:   vc.APISecret,
		RESTBaseURL: vc.RESTBaseURL,
		HTTPTimeout: time.Duration(vc.HTTPTimeoutSeconds) * time.Second,
	}
	switch vc.Driver {
	case "paper":
		return broker.NewPaperBridge(vc.Name, paperEquity), bcfg, nil
	case "binance":
		if dryRun {
			logger.Warnf("dry run: venue %s executes on paper", vc.Name)
			return broker.NewPaperBridge(vc.Name, paperEquity), bcfg, nil
		}
		return binance.NewBridge(vc.Name, bcfg), bcfg, nil
	default:
		return nil, bcfg, fmt.Errorf("unknown venue driver %q", vc.Driver)
	}
}

// Run blocks until ctx is cancelled or a loop fails.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.engine.Run(gctx) })
	g.Go(func() error { return a.server.Start(gctx) })
	logger.Infof("operator up, http on %s", a.server.Addr())
	return g.Wait()
}

func (a *App) close() {
	if a.calendar != nil {
		a.calendar.Close()
	}
	if a.journal != nil {
		a.journal.Close()
	}
	if a.archive != nil {
		a.archive.Close()
	}
}
