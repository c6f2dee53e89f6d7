// Package app wires the bot together: config, logging, storage, the quiz
// engine, the schedule scanner and the Telegram adapter, plus the update
// dispatch and hot-reload loops.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quizbot/internal/config"
	"quizbot/internal/eventbus"
	"quizbot/internal/quiz"
	"quizbot/internal/runtime/supervisor"
	"quizbot/internal/services/scanner"
	"quizbot/internal/storage"
	"quizbot/internal/transport"
	"quizbot/internal/transport/telegram"
	logx "quizbot/pkg/logx"
)

const (
	updateQueueSize = 256
	sendTimeout     = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

type App struct {
	mgr    *config.Manager
	logSvc *logx.Service
	log    logx.Logger
	bus    eventbus.Bus

	store    storage.Store
	catalog  *quiz.Catalog
	registry *quiz.Registry
	engine   *quiz.Engine
	scanner  *scanner.Service
	adapter  transport.Adapter

	// mu guards the reloadable bits read on the message path.
	mu         sync.Mutex
	tele       config.TelegramConfig
	storageCfg config.StorageConfig
	parseOpts  quiz.ParseOptions
	loc        *time.Location

	updates chan transport.Update
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logSvc, log := logx.New(logConfigFrom(cfg.Logging))
	mgr.SetLogger(log.With(logx.String("comp", "config")))
	mgr.SetValidator(func(ctx context.Context, c *config.Config) error { return validate(c) })

	a := &App{
		mgr:        mgr,
		logSvc:     logSvc,
		log:        log,
		bus:        eventbus.New(),
		tele:       cfg.Telegram,
		storageCfg: cfg.Storage,
		parseOpts:  parseOptionsFrom(cfg.Quiz),
		loc:        loadLocation(cfg.Scanner.Timezone, log),
		updates:    make(chan transport.Update, updateQueueSize),
	}

	stCfg, err := storageConfigFrom(cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(stCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	// Typed-nil guard: a disabled store must stay a nil interface downstream.
	var (
		sw quiz.SetWriter
		dw quiz.ScheduleWriter
	)
	if a.store != nil {
		sw = a.store
		dw = a.store
	}
	a.catalog = quiz.NewCatalog(sw)
	a.registry = quiz.NewRegistry(dw)

	if a.store != nil {
		bctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		sets, err := a.store.LoadQuestionSets(bctx)
		if err != nil {
			return nil, fmt.Errorf("load question sets: %w", err)
		}
		descs, err := a.store.LoadSchedules(bctx)
		if err != nil {
			return nil, fmt.Errorf("load schedules: %w", err)
		}
		a.catalog.Load(sets)
		a.registry.Load(descs)
		log.Info("state restored",
			logx.Int("question_sets", a.catalog.Len()),
			logx.Int("schedules", a.registry.Len()))
	}

	tgCfg, err := telegramConfigFrom(cfg.Telegram)
	if err != nil {
		return nil, err
	}
	a.adapter, err = telegram.New(tgCfg, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	eCfg, err := engineConfigFrom(cfg.Quiz)
	if err != nil {
		return nil, err
	}
	a.engine = quiz.NewEngine(eCfg, a.catalog, a.registry, groupSink{app: a},
		log.With(logx.String("comp", "engine")), a.bus)
	if a.store != nil {
		a.engine.SetResultRecorder(a.store)
	}

	sCfg, err := scannerConfigFrom(cfg.Scanner)
	if err != nil {
		return nil, err
	}
	a.scanner = scanner.New(sCfg, a.registry, a.engine, scanSink{app: a},
		log.With(logx.String("comp", "scanner")), a.bus)

	return a, nil
}

// Run starts everything and blocks until ctx is cancelled, then shuts the
// components down in dependency order.
func (a *App) Run(ctx context.Context) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "app"))),
		supervisor.WithCancelOnError(true),
	)

	if err := a.adapter.Start(sup.Context(), a.updates); err != nil {
		sup.Cancel()
		return fmt.Errorf("start telegram: %w", err)
	}
	sup.Go("updates.dispatch", a.dispatchLoop)

	if err := a.scanner.Start(sup.Context()); err != nil {
		sup.Cancel()
		return fmt.Errorf("start scanner: %w", err)
	}

	sup.Go("config.watch", a.mgr.Watch)
	reloads := a.mgr.Subscribe(2)
	sup.Go0("config.reload", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-reloads:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	})

	events, unsub := a.bus.Subscribe(64)
	sup.Go0("events.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", ev.Type), logx.Any("data", ev.Data))
			}
		}
	})

	a.log.Info("quizbot running",
		logx.Int64("group_id", a.groupTarget().ChatID),
		logx.Int("question_sets", a.catalog.Len()),
		logx.Int("schedules", a.registry.Len()),
		logx.Bool("scanner", a.scanner.Enabled()))

	<-sup.Context().Done()
	return a.shutdown(sup)
}

func (a *App) shutdown(sup *supervisor.Supervisor) error {
	a.log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.scanner.Stop(ctx); err != nil {
		a.log.Warn("scanner stop", logx.Err(err))
	}
	if err := a.adapter.Stop(ctx); err != nil {
		a.log.Warn("adapter stop", logx.Err(err))
	}

	// Flush state so a restart resumes exactly where this run left off.
	if err := a.catalog.Persist(ctx); err != nil {
		a.log.Warn("catalog persist on shutdown", logx.Err(err))
	}
	if err := a.registry.Persist(ctx); err != nil {
		a.log.Warn("registry persist on shutdown", logx.Err(err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close", logx.Err(err))
		}
	}

	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && err != context.Canceled {
		a.log.Warn("supervisor wait", logx.Err(err))
	}

	a.log.Info("bye")
	return a.logSvc.Close()
}

// applyConfig pushes a validated reload into the running components.
// Transport identity (token, chat ids) is intentionally not hot-swappable.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logSvc.Apply(logConfigFrom(cfg.Logging))

	if eCfg, err := engineConfigFrom(cfg.Quiz); err == nil {
		a.engine.Apply(eCfg)
	}
	if sCfg, err := scannerConfigFrom(cfg.Scanner); err == nil {
		if err := a.scanner.Apply(sCfg); err != nil {
			a.log.Warn("scanner reload failed", logx.Err(err))
		}
	}

	a.mu.Lock()
	changedIdentity := cfg.Telegram.Token != a.tele.Token || cfg.Telegram.GroupID != a.tele.GroupID
	changedStorage := cfg.Storage != a.storageCfg
	old := a.tele
	a.tele = cfg.Telegram
	// The live bot keeps its token and primary group until restart.
	a.tele.Token = old.Token
	a.tele.GroupID = old.GroupID
	a.parseOpts = parseOptionsFrom(cfg.Quiz)
	a.loc = loadLocation(cfg.Scanner.Timezone, a.log)
	a.mu.Unlock()

	if changedIdentity {
		a.log.Warn("telegram token/group change requires a restart")
	}
	if changedStorage {
		a.log.Warn("storage config change requires a restart")
	}

	a.log.Info("config applied")
}

func (a *App) groupTarget() transport.ChatTarget {
	a.mu.Lock()
	defer a.mu.Unlock()
	return transport.ChatTarget{ChatID: a.tele.GroupID}
}

func (a *App) channelTarget() (transport.ChatTarget, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return transport.ChatTarget{ChatID: a.tele.ChannelID}, a.tele.InviteLink
}

func (a *App) isOwner(userID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range a.tele.OwnerUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (a *App) parseOptions() quiz.ParseOptions {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.parseOpts
}

func (a *App) location() *time.Location {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loc
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
