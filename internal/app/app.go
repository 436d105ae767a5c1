package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"carrierwatch/internal/chat"
	"carrierwatch/internal/collect"
	"carrierwatch/internal/config"
	"carrierwatch/internal/dedup"
	"carrierwatch/internal/directory"
	"carrierwatch/internal/mail"
	"carrierwatch/internal/notify"
	"carrierwatch/internal/orders"
	"carrierwatch/internal/run"
	"carrierwatch/internal/schedule"
	logx "carrierwatch/pkg/logx"
)

// App wires the whole pipeline: config -> logging -> dedup store ->
// mail source -> order lookup -> chat delivery -> run coordinator ->
// schedule trigger.
type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	src   *mail.IMAPSource
	store dedup.Store
	notif *notify.Notifier
	coord *run.Coordinator
	sched *schedule.Service

	pollEvery time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	// Dedup store
	busyTimeout, err := config.ParseDurationField("dedup.busy_timeout", cfg.Dedup.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := dedup.Open(dedup.Config{
		Driver:      cfg.Dedup.Driver,
		Path:        cfg.Dedup.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "dedup")))
	if err != nil {
		return nil, err
	}

	// Mail source
	src, err := mail.NewIMAPSource(mail.IMAPConfig{
		Addr:     cfg.Mail.IMAPAddr,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.ResolvePassword(),
		Mailbox:  cfg.Mail.Mailbox,
	}, log.With(logx.String("comp", "mail")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	lookback, err := config.ParseDurationOrDefault("mail.lookback", cfg.Mail.Lookback, 14*24*time.Hour)
	if err != nil {
		return nil, err
	}
	collector := collect.New(src, collect.Config{
		FromDomains:       cfg.Mail.FromDomains,
		Lookback:          lookback,
		SearchLimit:       cfg.Mail.SearchLimit,
		MaxPerRun:         cfg.Run.MaxPerRun,
		SnippetMax:        cfg.Run.SnippetMax,
		PermalinkTemplate: cfg.Mail.PermalinkTemplate,
	}, log.With(logx.String("comp", "collect")))

	// Chat delivery
	retryBase, err := config.ParseDurationField("chat.retry_base", cfg.Chat.RetryBase)
	if err != nil {
		return nil, err
	}
	taskDue, err := config.ParseDurationField("run.task_due", cfg.Run.TaskDue)
	if err != nil {
		return nil, err
	}
	chatClient, err := chat.New(chat.Config{
		BaseURL:    cfg.Chat.BaseURL,
		Token:      cfg.Chat.ResolveToken(),
		RatePerSec: cfg.Chat.RatePerSec,
	}, log.With(logx.String("comp", "chat")))
	if err != nil {
		_ = src.Close()
		_ = store.Close()
		return nil, err
	}
	notif := notify.New(chatClient, notify.Config{
		RoomID:    cfg.Chat.RoomID,
		RetryMax:  cfg.Chat.RetryMax,
		RetryBase: retryBase,
		TaskDue:   taskDue,
	}, log.With(logx.String("comp", "notify")))

	// Order lookup (optional: stays disabled without credentials)
	ordersClient := orders.New(orders.Config{
		BaseURL:    cfg.Orders.ResolveBaseURL(),
		ServiceKey: cfg.Orders.ResolveServiceKey(),
		Table:      cfg.Orders.Table,
		ChunkSize:  cfg.Orders.ChunkSize,
	}, log.With(logx.String("comp", "orders")))
	var lookup run.OrderLookup
	if ordersClient.Enabled() {
		lookup = ordersClient
		log.Info("order lookup enabled")
	}

	var dir directory.Directory
	if strings.TrimSpace(cfg.Directory.Path) != "" {
		dir = directory.NewCSVFile(cfg.Directory.Path, log.With(logx.String("comp", "directory")))
	}

	lockWait, err := config.ParseDurationField("run.lock_wait", cfg.Run.LockWait)
	if err != nil {
		return nil, err
	}
	coord := run.New(run.Config{
		LockWait:             lockWait,
		DedupMaxEntries:      cfg.Dedup.MaxEntries,
		RoleInvoiceConfirmed: cfg.Directory.Role,
	}, run.Deps{
		Store:     store,
		Collector: collector,
		Orders:    lookup,
		Notifier:  notif,
		Directory: dir,
	}, log.With(logx.String("comp", "run")))

	pollEvery, err := config.ParseDurationOrDefault("schedule.every", cfg.Schedule.Every, 5*time.Minute)
	if err != nil {
		return nil, err
	}

	return &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		src:       src,
		store:     store,
		notif:     notif,
		coord:     coord,
		sched:     schedule.New(log.With(logx.String("comp", "schedule"))),
		pollEvery: pollEvery,
	}, nil
}

// RunOnce executes a single poll pass (manual trigger).
func (a *App) RunOnce(ctx context.Context) error {
	return a.coord.Run(ctx)
}

// SendTestMessage posts a connectivity probe through the normal
// delivery path, including retry handling.
func (a *App) SendTestMessage(ctx context.Context, text string) error {
	return a.notif.SendBatch(ctx, text)
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.sched.Register("poll", a.pollEvery, func(c context.Context) {
		if err := a.coord.Run(c); err != nil {
			a.log.Error("poll run failed", logx.Err(err))
		}
	}); err != nil {
		cancel()
		return err
	}
	a.sched.Start(runCtx)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-runCtx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				sections, attrs := config.SummarizeChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}

				// Only logging applies live; everything else needs a restart.
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				for _, s := range sections {
					if s != "logging" {
						a.log.Warn("config changed; restart required for changes to take effect",
							logx.String("section", s))
					}
				}

				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(runCtx)
	}()

	a.log.Info("app started", logx.Duration("poll_every", a.pollEvery))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	if a.cancel != nil {
		a.cancel()
	}
	a.sched.Stop()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("stop deadline reached before background loops finished")
	}

	if err := a.src.Close(); err != nil {
		a.log.Warn("mail source close failed", logx.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("dedup store close failed", logx.Err(err))
	}

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// validate rejects configs that would break the next poll before they
// are committed or published.
func validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Mail.IMAPAddr) == "" {
		return fmt.Errorf("mail.imap_addr is required")
	}
	if strings.TrimSpace(cfg.Chat.RoomID) == "" {
		return fmt.Errorf("chat.room_id is required")
	}
	if strings.TrimSpace(cfg.Dedup.Path) == "" {
		return fmt.Errorf("dedup.path is required")
	}
	for _, f := range []struct{ path, raw string }{
		{"mail.lookback", cfg.Mail.Lookback},
		{"chat.retry_base", cfg.Chat.RetryBase},
		{"dedup.busy_timeout", cfg.Dedup.BusyTimeout},
		{"run.lock_wait", cfg.Run.LockWait},
		{"run.task_due", cfg.Run.TaskDue},
		{"schedule.every", cfg.Schedule.Every},
	} {
		if _, err := config.ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}
