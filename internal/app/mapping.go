package app

import (
	"strings"
	"time"

	"thingwatch/internal/alert"
	"thingwatch/internal/config"
	"thingwatch/internal/feed"
	"thingwatch/internal/monitor"
	"thingwatch/internal/notifier"
	"thingwatch/internal/observability/ops"
	"thingwatch/internal/scheduler"
	kit "thingwatch/internal/transport"
	telegram "thingwatch/internal/transport/telegram/adapter"
	logx "thingwatch/pkg/logx"
)

// TriggerFactory builds the poll trigger for a config. Tests swap in a
// manual trigger.
type TriggerFactory func(cfg *config.Config, loc *time.Location, log logx.Logger) (scheduler.Trigger, error)

// CronTriggers is the production TriggerFactory.
func CronTriggers(cfg *config.Config, loc *time.Location, log logx.Logger) (scheduler.Trigger, error) {
	s, err := scheduler.ParseSchedule(cfg.Schedule.Cron)
	if err != nil {
		return nil, err
	}
	return scheduler.NewCronTrigger(s, loc, log), nil
}

func location(cfg *config.Config) *time.Location {
	loc, err := config.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func chatTarget(cfg *config.Config) kit.ChatTarget {
	id, _ := cfg.Telegram.ChatID.Int64()
	return kit.ChatTarget{ChatID: id, ThreadID: cfg.Telegram.ThreadID}
}

// logTarget falls back to the alert chat when no log chat is configured.
func logTarget(cfg *config.Config) kit.ChatTarget {
	lt := cfg.Logging.Telegram
	if id, err := lt.ChatID.Int64(); err == nil && id != 0 {
		return kit.ChatTarget{ChatID: id, ThreadID: lt.ThreadID}
	}
	to := chatTarget(cfg)
	if lt.ThreadID != 0 {
		to.ThreadID = lt.ThreadID
	}
	return to
}

func logConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func feedConfig(cfg *config.Config) feed.Config {
	return feed.Config{
		BaseURL:   cfg.ThingSpeak.BaseURL,
		ChannelID: cfg.ThingSpeak.ChannelID.String(),
		APIKey:    cfg.ThingSpeak.APIKey,
		Timeout:   config.MustDuration(cfg.ThingSpeak.Timeout, 15*time.Second),
	}
}

func adapterConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.MustDuration(cfg.Telegram.PollTimeout, 10*time.Second),
		Polling:     cfg.Telegram.Commands,
	}
}

func notifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		Target:     chatTarget(cfg),
		RatePerSec: cfg.Telegram.RatePerSec,
		Silent:     cfg.Telegram.Silent,
	}
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		RunOnStart: cfg.Schedule.RunOnStart,
		Timeout:    config.MustDuration(cfg.Schedule.Timeout, 0),
	}
}

func opsConfig(cfg *config.Config) ops.Config {
	return ops.Config{
		Addr:         strings.TrimSpace(cfg.Ops.Addr),
		Pprof:        cfg.Ops.Pprof,
		Token:        cfg.Ops.Token,
		ReadTimeout:  config.MustDuration(cfg.Ops.ReadTimeout, 10*time.Second),
		WriteTimeout: config.MustDuration(cfg.Ops.WriteTimeout, time.Minute),
	}
}

// definitions turns the metric list into monitor definitions. Built-in
// metrics start from their preset; configured fields override it. A metric
// with a night threshold switches inside the night window.
func definitions(cfg *config.Config, loc *time.Location) []monitor.Definition {
	window := alert.NightWindow{
		StartHour: cfg.Night.StartHour,
		EndHour:   cfg.Night.EndHour,
		Location:  loc,
	}
	out := make([]monitor.Definition, 0, len(cfg.Metrics))
	for _, mc := range cfg.Metrics {
		if mc.Threshold == nil {
			continue
		}
		m, _ := alert.Preset(mc.Name)
		m.Name = mc.Name
		m.Field = config.ResolveField(mc)
		if mc.Label != "" {
			m.Label = mc.Label
		}
		if mc.Unit != "" {
			m.Unit = mc.Unit
		}
		if mc.ExceededText != "" {
			m.ExceededText = mc.ExceededText
		}
		if mc.NormalizedText != "" {
			m.NormalizedText = mc.NormalizedText
		}

		th := alert.Fixed(*mc.Threshold)
		if mc.NightThreshold != nil {
			th = alert.DayNight(*mc.Threshold, *mc.NightThreshold, window)
		}
		out = append(out, monitor.Definition{Metric: m, Threshold: th})
	}
	return out
}
