// Package app wires configuration, the capture action, the retry loop and the
// daily scheduler into one process.
package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"portalshot/internal/capture"
	"portalshot/internal/config"
	"portalshot/internal/diag"
	"portalshot/internal/eventbus"
	"portalshot/internal/notifier"
	"portalshot/internal/retry"
	"portalshot/internal/runtime/sdnotify"
	"portalshot/internal/runtime/supervisor"
	"portalshot/internal/schedule"
	"portalshot/internal/storage"
	logx "portalshot/pkg/logx"
)

const (
	JobName        = "screenshot"
	TriggerStartup = "startup"
	TriggerSched   = "schedule"

	shutdownGrace = 5 * time.Second
)

type Option func(*App)

// WithClock drives the scheduler, the retry delays and file names from c.
func WithClock(c schedule.Clock) Option {
	return func(a *App) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithShooter replaces the browser, mostly for tests.
func WithShooter(s capture.Shooter) Option {
	return func(a *App) { a.shooter = s }
}

// WithNotifySender replaces the Telegram sender.
func WithNotifySender(s notifier.Sender) Option {
	return func(a *App) { a.notifySender = s }
}

// WithLogger skips the configured sinks and logs to log instead.
func WithLogger(log logx.Logger) Option {
	return func(a *App) { a.fixedLog = log }
}

type App struct {
	cfgm *config.Manager
	res  *config.Resolved

	logs *logx.Service
	log  logx.Logger

	clock  schedule.Clock
	policy retry.Policy
	capt   *capture.Capturer
	sched  *schedule.Scheduler
	bus    eventbus.Bus
	store  storage.Store
	notif  *notifier.Service
	sd     *sdnotify.Notifier

	stop atomic.Bool

	shooter      capture.Shooter
	notifySender notifier.Sender
	fixedLog     logx.Logger
}

// New loads the config at cfgPath and builds every component. Any error is
// fatal; configuration problems satisfy errors.Is(err, config.ErrInvalid).
func New(cfgPath string, opts ...Option) (*App, error) {
	a := &App{clock: schedule.RealClock}
	for _, o := range opts {
		o(a)
	}

	a.cfgm = config.NewManager(cfgPath)
	cfg, r, err := a.cfgm.Load()
	if err != nil {
		return nil, err
	}
	a.res = r

	if a.fixedLog.IsZero() {
		a.logs, a.log = logx.New(cfg.Logging.Logx())
	} else {
		a.log = a.fixedLog
	}
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.log.Info("config loaded", logx.String("path", a.cfgm.Path()))

	a.policy, err = retry.NewPolicy(r.MaxAttempts, r.RetryDelay)
	if err != nil {
		a.closeLogs()
		return nil, &config.Error{Path: cfgPath, Err: err}
	}

	capOpts := []capture.Option{
		capture.WithLogger(a.log.With(logx.String("comp", "capture"))),
		capture.WithClock(a.clock.Now),
	}
	if a.shooter != nil {
		capOpts = append(capOpts, capture.WithShooter(a.shooter))
	}
	a.capt = capture.New(captureSettings(cfg, r), capOpts...)

	a.sched = schedule.New(
		schedule.WithClock(a.clock),
		schedule.WithLocation(r.Location),
		schedule.WithLogger(a.log.With(logx.String("comp", "scheduler"))),
		schedule.WithErrorHook(func(job schedule.JobInfo, err error) {
			a.log.Debug("job error hook", logx.String("job", job.Name), logx.Int("fired", job.Fired), logx.Err(err))
		}),
	)

	a.bus = eventbus.New()

	a.store, err = storage.Open(storageConfig(r), a.log.With(logx.String("comp", "storage")))
	if err != nil {
		a.closeLogs()
		return nil, err
	}
	if a.store != nil {
		a.log.Info("run history enabled", logx.String("driver", r.StorageDriver), logx.String("path", r.StoragePath))
	}

	var nopts []notifier.Option
	if a.notifySender != nil {
		nopts = append(nopts, notifier.WithSender(a.notifySender))
	}
	a.notif, err = notifier.New(notifierConfig(cfg), a.log, nopts...)
	switch {
	case errors.Is(err, notifier.ErrDisabled):
		a.notif = nil
	case err != nil:
		a.closeStore()
		a.closeLogs()
		return nil, err
	}

	a.sd = sdnotify.New(r.SystemdNotify, a.log)
	return a, nil
}

// Stop asks the loop to exit after its current sleep. A run already in
// progress is never interrupted.
func (a *App) Stop() { a.stop.Store(true) }

// Bus exposes run events to additional observers.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Store is the run history, or nil when disabled.
func (a *App) Store() storage.Store { return a.store }

// Run performs one capture immediately, then fires it daily at the configured
// time until ctx is canceled or Stop is called. Cancellation is checked once
// per poll and never aborts a run in progress.
func (a *App) Run(ctx context.Context) error {
	defer a.closeLogs()
	defer a.closeStore()

	// Background goroutines outlive ctx until the loop has returned.
	sup := supervisor.New(context.WithoutCancel(ctx), supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))
	a.startBackground(ctx, sup)

	runCtx := context.WithoutCancel(ctx)
	a.logDiagnostics("startup diagnostics")

	if err := a.runOnce(runCtx, TriggerStartup); err != nil {
		a.log.Error("startup run failed", logx.Err(err))
	}

	if _, err := a.sched.ScheduleDaily(JobName, a.res.At, func(c context.Context) error {
		return a.runOnce(c, TriggerSched)
	}); err != nil {
		a.stopBackground(sup)
		return err
	}

	a.sd.Ready()
	a.sdStatus()
	a.log.Info("scheduler running", logx.String("at", a.res.At.String()), logx.Duration("poll", a.res.PollInterval))

	a.sched.RunForever(runCtx, a.res.PollInterval, a.stop.Load)

	a.log.Info("scheduler stopped")
	a.sd.Stopping()
	a.stopBackground(sup)
	return nil
}

func (a *App) startBackground(ctx context.Context, sup *supervisor.Supervisor) {
	// Only the stop flag crosses from the signal context into the loop.
	sup.Go0("stop.signal", func(c context.Context) {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown requested; exiting after the current tick")
			a.Stop()
		case <-c.Done():
		}
	})

	sup.GoRestart("config.watch", time.Second, 30*time.Second, a.cfgm.Watch)
	sub := a.cfgm.Subscribe(4)
	sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.applyConfigLoop(c, sub)
	})

	events, unsub := a.bus.Subscribe(64)
	sup.Go0("events.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if a.notif != nil {
		nevents, nunsub := a.bus.Subscribe(16)
		sup.Go0("notifier", func(c context.Context) {
			defer nunsub()
			a.notif.Run(c, nevents)
		})
	}

	if a.res.SystemdWatchdog {
		sup.Go0("sd.watchdog", a.sd.Watchdog)
	}
}

func (a *App) stopBackground(sup *supervisor.Supervisor) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := sup.Stop(ctx); err != nil {
		a.log.Warn("background shutdown incomplete", logx.Err(err))
	}
	c := sup.Counters()
	a.log.Info("background stopped",
		logx.Int64("active", c.Active),
		logx.Uint64("started", c.Started),
		logx.Uint64("panics", c.Panics),
		logx.Uint64("events_dropped", a.bus.Dropped()),
	)
}

func (a *App) sdStatus() {
	for _, j := range a.sched.Snapshot() {
		a.sd.Status("next " + j.Name + " at " + j.Next.Format(time.RFC3339))
	}
}

func (a *App) logDiagnostics(msg string) {
	cfg, _ := a.cfgm.Get()
	if cfg == nil || !cfg.Diagnostics.Enabled {
		return
	}
	diag.Log(a.log.With(logx.String("comp", "diag")), msg, cfg.Diagnostics.DumpEnv)
}

func (a *App) closeStore() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("run history close failed", logx.Err(err))
	}
	a.store = nil
}

func (a *App) closeLogs() {
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
