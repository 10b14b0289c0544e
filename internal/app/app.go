// Package app wires the dispatch engine together: config, logging, contacts,
// channel adapters, strategy table, delivery log, campaigns, and the
// supervisor that keeps the background loops alive.
package app

import (
	"context"
	"fmt"
	"time"

	"courier/internal/campaign"
	"courier/internal/config"
	"courier/internal/contacts"
	"courier/internal/deliverylog"
	"courier/internal/dispatch"
	"courier/internal/eventbus"
	"courier/internal/ops"
	"courier/internal/runtime/supervisor"
	kit "courier/internal/transport"
	"courier/internal/transport/botapi"
	"courier/internal/transport/email"
	"courier/internal/transport/sms"
	"courier/internal/transport/telegram"
	logx "courier/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm   *config.Manager
	sup    *supervisor.Supervisor
	runCtx context.Context

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store     deliverylog.Store
	stats     *deliverylog.Stats
	directory *contacts.Directory
	registry  *kit.Registry

	orch      *dispatch.Orchestrator
	engine    *dispatch.Service
	campaigns *campaign.Service
	opsSrv    *ops.Service

	cfgUpdates chan *config.Config
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logs, log := logx.New(cfg.BuildLogging())
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	dlCfg, err := cfg.BuildDeliveryLog()
	if err != nil {
		return nil, err
	}
	store, err := deliverylog.Open(dlCfg, log.With(logx.String("comp", "deliverylog")))
	if err != nil {
		return nil, err
	}
	stats := deliverylog.NewStats()

	dir, err := contacts.Load(cfg.Contacts.Path, log.With(logx.String("comp", "contacts")))
	if err != nil {
		return nil, err
	}

	registry, err := buildRegistry(cfg.Channels, log)
	if err != nil {
		return nil, err
	}

	table, err := cfg.BuildStrategyTable()
	if err != nil {
		return nil, err
	}
	if err := checkStrategyChannels(table, registry); err != nil {
		return nil, err
	}

	bus := eventbus.New()
	orch := dispatch.NewOrchestrator(registry, dir, table, store, stats, log.With(logx.String("comp", "dispatch")))
	engine := dispatch.NewService(cfg.BuildEngine(), orch, log.With(logx.String("comp", "engine")), bus)
	campaigns := campaign.New(cfg.BuildCampaigns(), engine, log.With(logx.String("comp", "campaign")))

	opsCfg, err := cfg.BuildOps()
	if err != nil {
		return nil, err
	}
	opsSrv := ops.New(opsCfg, engine, stats, log.With(logx.String("comp", "ops")))

	app := &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logs,
		bus:       bus,
		store:     store,
		stats:     stats,
		directory: dir,
		registry:  registry,
		orch:      orch,
		engine:    engine,
		campaigns: campaigns,
		opsSrv:    opsSrv,
	}

	// Reloads are transactional: a config that fails here never replaces the
	// running one.
	cfgm.SetValidator(func(ctx context.Context, next *config.Config) error {
		return app.validateReload(next)
	})

	return app, nil
}

// Engine exposes the async dispatch engine for callers that submit work
// (campaigns do this internally; embedders and tools use this).
func (a *App) Engine() *dispatch.Service { return a.engine }

// Dispatch runs one synchronous dispatch, bypassing the queue. Intended for
// CLI one-shots where the caller wants the terminal Result.
func (a *App) Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error) {
	return a.orch.Dispatch(ctx, req)
}

// Stats returns the in-memory per-channel delivery counters.
func (a *App) Stats() []deliverylog.ChannelStats { return a.stats.Snapshot() }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))
	runCtx := a.sup.Context()
	a.runCtx = runCtx

	a.engine.Start(runCtx)
	a.campaigns.Start(runCtx)
	if a.opsSrv.Enabled() {
		a.sup.GoRestart("ops-http", a.opsSrv.Run)
	}

	a.cfgUpdates = a.cfgm.Subscribe(4)
	a.sup.Go0("config-watch", func(ctx context.Context) {
		_ = a.cfgm.Watch(ctx)
	})
	a.sup.Go0("config-apply", a.applyLoop)
	a.sup.Go0("contacts-refresh", a.contactsRefreshLoop)
	a.sup.Go0("event-log", a.eventLogLoop)

	a.log.Info("courier started",
		logx.Any("channels", a.registry.Channels()),
		logx.Int("recipients", a.directory.Len()),
		logx.Bool("engine", a.engine.Enabled()),
		logx.Bool("campaigns", a.campaigns.Enabled()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	// Intake first, then the queue drain, then the background loops.
	a.campaigns.Stop(ctx)
	a.engine.Stop(ctx)

	if a.sup != nil {
		_ = a.sup.Stop(ctx)
	}
	if a.cfgUpdates != nil {
		a.cfgm.Unsubscribe(a.cfgUpdates)
		a.cfgUpdates = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("delivery log close failed", logx.Err(err))
		}
	}
	a.log.Info("courier stopped")
	_ = a.logs.Close()
	return nil
}

// eventLogLoop mirrors dispatch lifecycle events onto the app log at debug.
// Subscriber loss is acceptable; the authoritative trail is the delivery log.
func (a *App) eventLogLoop(ctx context.Context) {
	ch, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			a.log.Debug("dispatch event", logx.String("type", ev.Type), logx.Any("data", ev.Data))
		}
	}
}

func buildRegistry(ch config.ChannelsConfig, log logx.Logger) (*kit.Registry, error) {
	var adapters []kit.Adapter

	if ch.Telegram != nil {
		ad, err := telegram.New(telegram.Config{
			Token:      ch.Telegram.Token,
			ParseMode:  ch.Telegram.ParseMode,
			RatePerSec: ch.Telegram.RatePerSec,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("channels.telegram: %w", err)
		}
		adapters = append(adapters, ad)
	}
	if ch.Bot != nil {
		ad, err := botapi.New(botapi.Config{
			URL:        ch.Bot.URL,
			Token:      ch.Bot.Token,
			RatePerSec: ch.Bot.RatePerSec,
		}, log.With(logx.String("comp", "botapi")))
		if err != nil {
			return nil, fmt.Errorf("channels.bot: %w", err)
		}
		adapters = append(adapters, ad)
	}
	if ch.SMS != nil {
		ad, err := sms.New(sms.Config{
			URL:        ch.SMS.URL,
			APIKey:     ch.SMS.APIKey,
			Sender:     ch.SMS.Sender,
			RatePerSec: ch.SMS.RatePerSec,
		}, log.With(logx.String("comp", "sms")))
		if err != nil {
			return nil, fmt.Errorf("channels.sms: %w", err)
		}
		adapters = append(adapters, ad)
	}
	if ch.Email != nil {
		ad, err := email.New(email.Config{
			Host:     ch.Email.Host,
			Port:     ch.Email.Port,
			Username: ch.Email.Username,
			Password: ch.Email.Password,
			From:     ch.Email.From,
			StartTLS: ch.Email.StartTLS,
		}, log.With(logx.String("comp", "email")))
		if err != nil {
			return nil, fmt.Errorf("channels.email: %w", err)
		}
		adapters = append(adapters, ad)
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("channels: at least one channel must be configured")
	}
	return kit.NewRegistry(adapters...)
}

// checkStrategyChannels rejects a table that references a channel without a
// configured adapter. Done at startup so a dispatch never discovers the gap.
func checkStrategyChannels(table dispatch.Table, reg *kit.Registry) error {
	for _, ch := range table.Channels() {
		if !reg.Has(ch) {
			return fmt.Errorf("strategies reference channel %q but it is not configured under channels", ch)
		}
	}
	return nil
}

// Shutdown-safe default used when Stop is invoked without a deadline.
const stopGrace = 15 * time.Second

// StopWithGrace is Stop with a bounded default deadline.
func (a *App) StopWithGrace() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()
	return a.Stop(ctx)
}
