package app

import (
	"context"
	"strings"

	"thingwatch/internal/config"
	logx "thingwatch/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config matters.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			if next == nil {
				continue
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig pushes a validated config into the running components.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	ch := config.SummarizeChange(prev, next)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	loc := location(next)

	if ch.Has("logging") || ch.Has("telegram") {
		a.logs.SetTelegramTarget(logTarget(next))
		a.logs.Apply(logConfig(next))
	}

	if ch.Has("telegram") {
		a.notif.Apply(notifierConfig(next))
		a.router.SetChat(chatTarget(next))
	}

	// The night window and the timezone feed the threshold functions.
	if ch.Has("metrics") || ch.Has("night") || ch.Has("schedule") {
		a.mon.Apply(definitions(next, loc))
	}

	if ch.Has("schedule") {
		a.sched.Apply(schedulerConfig(next))
		if prev.Schedule.Cron != next.Schedule.Cron || prev.Schedule.Timezone != next.Schedule.Timezone {
			trig, err := a.triggers(next, loc, a.log.With(logx.String("comp", "scheduler")))
			if err == nil {
				err = a.sched.Reschedule(ctx, trig)
			}
			if err != nil {
				a.log.Error("schedule change failed; keeping previous", logx.Err(err))
			}
		}
	}

	if ch.Has("ops") {
		a.ops.Reconfigure(ctx, opsConfig(next))
	}

	if len(ch.NeedsRestart) > 0 {
		a.log.Warn("some changes need a restart to take effect",
			logx.String("keys", strings.Join(ch.NeedsRestart, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config reloaded", fields...)
}
