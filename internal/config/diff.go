package config

import (
	"reflect"
	"strings"

	logx "thingwatch/pkg/logx"
)

// Change describes what a reload touched.
type Change struct {
	// Sections lists the top-level keys that differ.
	Sections []string
	// Fields are safe to log; tokens and API keys are never included.
	Fields []logx.Field
	// NeedsRestart lists changed keys that only take effect on restart.
	NeedsRestart []string
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeChange compares two configs section by section.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	if oldCfg.ThingSpeak != newCfg.ThingSpeak {
		ch.Sections = append(ch.Sections, "thingspeak")
		ch.Fields = append(ch.Fields,
			logx.String("thingspeak.channel_id", newCfg.ThingSpeak.ChannelID.String()),
			logx.Bool("thingspeak.api_key_set", newCfg.ThingSpeak.APIKey != ""),
		)
		ch.NeedsRestart = append(ch.NeedsRestart, "thingspeak")
	}

	// Chat target, rate and silence apply live; the bot session does not.
	if oldCfg.Telegram != newCfg.Telegram {
		ch.Sections = append(ch.Sections, "telegram")
		ch.Fields = append(ch.Fields,
			logx.String("telegram.chat_id", newCfg.Telegram.ChatID.String()),
			logx.Int("telegram.thread_id", newCfg.Telegram.ThreadID),
			logx.Bool("telegram.commands", newCfg.Telegram.Commands),
		)
		if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
			oldCfg.Telegram.Commands != newCfg.Telegram.Commands ||
			strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
			ch.NeedsRestart = append(ch.NeedsRestart, "telegram.token/commands/poll_timeout")
		}
	}

	if oldCfg.Schedule != newCfg.Schedule {
		ch.Sections = append(ch.Sections, "schedule")
		ch.Fields = append(ch.Fields,
			logx.String("schedule.cron", newCfg.Schedule.Cron),
			logx.String("schedule.timezone", newCfg.Schedule.Timezone),
		)
	}

	if oldCfg.Night != newCfg.Night {
		ch.Sections = append(ch.Sections, "night")
		ch.Fields = append(ch.Fields,
			logx.Int("night.start_hour", newCfg.Night.StartHour),
			logx.Int("night.end_hour", newCfg.Night.EndHour),
		)
	}

	if !reflect.DeepEqual(oldCfg.Metrics, newCfg.Metrics) {
		ch.Sections = append(ch.Sections, "metrics")
		names := make([]string, 0, len(newCfg.Metrics))
		for _, m := range newCfg.Metrics {
			names = append(names, m.Name)
		}
		ch.Fields = append(ch.Fields, logx.Strings("metrics", names))
	}

	if oldCfg.Logging != newCfg.Logging {
		ch.Sections = append(ch.Sections, "logging")
		ch.Fields = append(ch.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Ops != newCfg.Ops {
		ch.Sections = append(ch.Sections, "ops")
		ch.Fields = append(ch.Fields,
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
			logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
		)
	}

	return ch
}
