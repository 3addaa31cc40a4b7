package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/jonboulle/clockwork"

	"sharebot/internal/batch"
	"sharebot/internal/config"
	"sharebot/internal/eventbus"
	"sharebot/internal/notifier"
	rtsup "sharebot/internal/runtime/supervisor"
	"sharebot/internal/share"
	"sharebot/internal/storage"
	"sharebot/internal/task/scheduler"
	kit "sharebot/internal/transport"
	telegram "sharebot/internal/transport/telegram/adapter"
	logx "sharebot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	clock clockwork.Clock

	sender kit.Sender
	notif  *notifier.Service
	task   *share.Task
	runner *batch.Runner
	sched  *scheduler.Service

	shareTask scheduler.Task
}

type options struct {
	clock clockwork.Clock
	env   func(string) (string, bool)
}

type Option func(*options)

// WithClock drives the schedule and run timestamps from clock.
func WithClock(clock clockwork.Clock) Option { return func(o *options) { o.clock = clock } }

// WithEnv replaces the environment lookup used for config overrides.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(o *options) { o.env = lookup }
}

func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}

	cfgm := config.NewConfigManager(cfgPath)
	if o.env != nil {
		cfgm.SetEnv(o.env)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("comp", "app"))
	if !cfgm.FromFile() {
		log.Info("config file not found; using defaults", logx.String("path", cfgPath))
	}

	bus := eventbus.New()

	store, err := storage.Open(mapStorage(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
	}

	// The bot client exists only when a token is configured; the notifier
	// stays a no-op without it.
	var sender kit.Sender
	if tc := mapTelegram(cfg); tc.Token != "" {
		ad, err := telegram.New(tc, log.With(logx.String("comp", "telegram")))
		if err != nil {
			closeQuiet(store)
			logSvc.Close()
			return nil, err
		}
		sender = ad
	}

	ncfg, err := mapNotifier(cfg)
	if err != nil {
		closeQuiet(store)
		logSvc.Close()
		return nil, err
	}
	notif := notifier.New(ncfg, sender, log.With(logx.String("comp", "notifier")), bus)

	taskOpts := []share.TaskOption{
		share.WithNotifier(notif),
		share.WithClock(o.clock.Now),
	}
	if store != nil {
		taskOpts = append(taskOpts, share.WithRecorder(store))
	}
	task := share.NewTask(mapShare(cfg), log.With(logx.String("comp", "share")), taskOpts...)

	runner := batch.NewRunner(mapSource(cfg), task, log.With(logx.String("comp", "batch")), bus)
	sched := scheduler.New(mapScheduler(cfg), o.clock, log.With(logx.String("comp", "scheduler")))

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		clock:  o.clock,
		sender: sender,
		notif:  notif,
		task:   task,
		runner: runner,
		sched:  sched,
	}
	a.shareTask = mapShareTask(cfg, func(ctx context.Context) error {
		a.runner.Tick(ctx)
		return nil
	})
	return a, nil
}

func closeQuiet(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// Reject reloads the notifier could not apply.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := mapNotifier(cfg)
		return err
	})

	if a.notif.Enabled() {
		a.startNotifier()
	}
	a.logLastRun(ctx)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Keep this debug-level; ticks fire every minute.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	// A broken watcher must not take the schedule down with it.
	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)

	a.sup.Go("share.schedule", func(c context.Context) error {
		return a.sched.Run(c, a.shareTask)
	})

	a.log.Info(startupMessage(a.shareTask.Schedule), logx.String("schedule", a.shareTask.Schedule))
	a.sdNotify(daemon.SdNotifyReady)
	return nil
}

// startNotifier runs the workers detached from the app context so Stop can
// drain queued reports after the schedule is cancelled.
func (a *App) startNotifier() {
	if a.sender == nil {
		a.log.Warn("telegram enabled without a bot client; restart required")
		return
	}
	a.notif.Start(context.WithoutCancel(a.sup.Context()))
}

func (a *App) logLastRun(ctx context.Context) {
	if a.store == nil {
		return
	}
	runs, err := a.store.RecentRuns(ctx, 1)
	if err != nil {
		a.log.Warn("reading run history failed", logx.Err(err))
		return
	}
	if len(runs) == 0 {
		return
	}
	last := runs[0]
	a.log.Info("last recorded run",
		logx.Time("at", last.At),
		logx.String("identity", last.Identity),
		logx.String("status", last.Status),
	)
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("keys", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogging(newCfg))
	a.task.Apply(mapShare(newCfg))

	prevEnabled := a.notif.Enabled()
	ncfg, err := mapNotifier(newCfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
		switch {
		case prevEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prevEnabled && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.startNotifier()
		}
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sdNotify(daemon.SdNotifyStopping)

	// Cancel first so the schedule stops firing and in-flight requests abort.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
				}
			}()
		}
	}

	// The supervisor owns the schedule, so waiting on it waits for the
	// in-flight tick; its reports are queued before the notifier drains.
	step("supervisor", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
