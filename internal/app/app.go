// Package app wires the configuration into the running daemon: feed client,
// monitor, notifier, scheduler, bot commands and the ops server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"thingwatch/internal/config"
	"thingwatch/internal/feed"
	"thingwatch/internal/metrics"
	"thingwatch/internal/monitor"
	"thingwatch/internal/notifier"
	"thingwatch/internal/observability/ops"
	"thingwatch/internal/runtime/supervisor"
	"thingwatch/internal/scheduler"
	kit "thingwatch/internal/transport"
	telegram "thingwatch/internal/transport/telegram/adapter"
	"thingwatch/internal/transport/telegram/router"
	logx "thingwatch/pkg/logx"
)

type options struct {
	envFiles   []string
	lookup     config.LookupFunc
	adapter    kit.Adapter
	triggers   TriggerFactory
	httpClient *http.Client
}

type Option func(*options)

// WithEnvFiles loads .env files before reading the environment.
func WithEnvFiles(paths ...string) Option { return func(o *options) { o.envFiles = paths } }

// WithLookup replaces os.LookupEnv.
func WithLookup(fn config.LookupFunc) Option { return func(o *options) { o.lookup = fn } }

// WithAdapter replaces the Telegram adapter.
func WithAdapter(a kit.Adapter) Option { return func(o *options) { o.adapter = a } }

func WithTriggers(fn TriggerFactory) Option { return func(o *options) { o.triggers = fn } }

// WithHTTPClient replaces the feed client's HTTP client.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

type App struct {
	cfgm     *config.Manager
	triggers TriggerFactory

	log  logx.Logger
	logs *logx.Service
	sd   systemdNotifier

	adapter kit.Adapter
	metrics *metrics.Metrics
	feed    *feed.Client
	notif   *notifier.Service
	mon     *monitor.Monitor
	sched   *scheduler.Service
	router  *router.Router
	ops     *ops.Server

	commands bool
	updates  chan kit.Update

	mu        sync.Mutex
	sup       *supervisor.Supervisor
	startedAt time.Time
}

// New loads the configuration from cfgPath ("" for environment only) and
// builds every component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{triggers: CronTriggers}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath, o.envFiles...)
	if o.lookup != nil {
		cfgm.SetLookup(o.lookup)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	loc := location(cfg)

	ad := o.adapter
	if ad == nil {
		bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
		tg, err := telegram.New(adapterConfig(cfg), bootLog)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		ad = tg
	}

	// Start with the Telegram sink off, point it at the log chat, then enable.
	lc := logConfig(cfg)
	boot := lc
	boot.Telegram.Enabled = false
	logSvc, log := logx.New(boot, ad)
	logSvc.SetTelegramTarget(logTarget(cfg))
	logSvc.Apply(lc)

	a := &App{
		cfgm:     cfgm,
		triggers: o.triggers,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		sd:       systemdNotifier{log: log.With(logx.String("comp", "systemd"))},
		adapter:  ad,
		metrics:  metrics.New(),
		commands: cfg.Telegram.Commands,
		updates:  make(chan kit.Update, 64),
	}

	a.feed = feed.New(feedConfig(cfg), o.httpClient, log.With(logx.String("comp", "feed")))

	a.notif = notifier.New(notifierConfig(cfg), ad, log.With(logx.String("comp", "notifier")))
	a.notif.SetObserver(func(err error) {
		a.metrics.SendsTotal.WithLabelValues(metrics.Result(err)).Inc()
	})

	a.mon = monitor.New(a.feed, a.notif, definitions(cfg, loc),
		monitor.WithLogger(log.With(logx.String("comp", "monitor"))),
		monitor.WithMetrics(a.metrics),
	)

	schedLog := log.With(logx.String("comp", "scheduler"))
	trig, err := a.triggers(cfg, loc, schedLog)
	if err != nil {
		return nil, fmt.Errorf("schedule.cron: %w", err)
	}
	a.sched = scheduler.New(schedulerConfig(cfg), trig, a.mon.Check, schedLog)

	var botName string
	if u, ok := ad.(interface{ Username() string }); ok {
		botName = u.Username()
	}
	a.router = router.New(router.Config{Chat: chatTarget(cfg), BotUsername: botName}, ad,
		log.With(logx.String("comp", "commands")))
	a.router.Register(router.Builtins(router.Deps{Monitor: a.mon, Scheduler: a.sched, Location: loc})...)

	a.ops = ops.New(opsConfig(cfg), a.metrics.Registry, a.health, log.With(logx.String("comp", "ops")))
	return a, nil
}

// Done is closed once the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return sup.Context().Done()
}

// Err returns the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.sup != nil {
		a.mu.Unlock()
		return errors.New("app already started")
	}
	sup := supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.sup = sup
	a.startedAt = time.Now()
	a.mu.Unlock()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validateReload)

	if err := a.adapter.Start(sup.Context(), a.updates); err != nil {
		sup.Cancel()
		return fmt.Errorf("telegram start: %w", err)
	}
	if a.commands {
		if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
			mctx, cancel := context.WithTimeout(sup.Context(), 10*time.Second)
			if err := mu.UpdateMenuCommands(mctx, a.router.MenuCommands()); err != nil {
				a.log.Warn("command menu update failed", logx.Err(err))
			}
			cancel()
		}
		sup.Go("commands.dispatch", func(c context.Context) error {
			return a.router.Run(c, a.updates)
		})
	}

	if err := a.sched.Start(sup.Context()); err != nil {
		sup.Cancel()
		return fmt.Errorf("scheduler start: %w", err)
	}
	a.ops.Start(sup.Context())

	sub := a.cfgm.Subscribe(4)
	sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	sup.Go("config.watch", a.cfgm.Watch)

	a.sd.ready()
	sup.Go0("systemd.watchdog", a.sd.watchdog)

	cfg := a.cfgm.Get()
	a.log.Info("thingwatch started",
		logx.String("channel_id", cfg.ThingSpeak.ChannelID.String()),
		logx.Int("metrics", len(cfg.Metrics)),
		logx.String("schedule", a.sched.Info().Schedule),
		logx.Bool("commands", a.commands),
		logx.String("ops_addr", cfg.Ops.Addr),
	)
	return nil
}

// Stop shuts the components down in reverse dependency order. Each step is
// bounded so one component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason string) error {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", reason))
	a.sd.stopping()
	sup.Cancel()

	a.step(ctx, "scheduler", 5*time.Second, a.sched.Stop)
	a.step(ctx, "ops", 2*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "telegram", 3*time.Second, a.adapter.Stop)
	a.step(ctx, "supervisor", 2*time.Second, sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = max(rem, 0)
		}
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

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
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}

// validateReload rejects configs whose schedule cannot be built.
func (a *App) validateReload(_ context.Context, cfg *config.Config) error {
	if _, err := a.triggers(cfg, location(cfg), logx.Nop()); err != nil {
		return fmt.Errorf("schedule.cron: %w", err)
	}
	return nil
}
