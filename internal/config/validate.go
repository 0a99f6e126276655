package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"thingwatch/internal/alert"
	"thingwatch/internal/feed"
	"thingwatch/internal/scheduler"
	logx "thingwatch/pkg/logx"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Validate checks cfg and reports every problem by key path.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// thingspeak
	if cfg.ThingSpeak.ChannelID == "" {
		add("thingspeak.channel_id: required (THINGSPEAK_CHANNEL_ID)")
	} else if _, err := cfg.ThingSpeak.ChannelID.Int64(); err != nil {
		add("thingspeak.channel_id: %q is not numeric", cfg.ThingSpeak.ChannelID)
	}
	if raw := strings.TrimSpace(cfg.ThingSpeak.BaseURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("thingspeak.base_url: %q is not an http(s) URL", raw)
		}
	}
	if _, err := ParseDurationField("thingspeak.timeout", cfg.ThingSpeak.Timeout); err != nil {
		errs = append(errs, err)
	}

	// telegram
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token: required (TELEGRAM_TOKEN)")
	}
	if cfg.Telegram.ChatID == "" {
		add("telegram.chat_id: required (TELEGRAM_CHAT_ID)")
	} else if _, err := cfg.Telegram.ChatID.Int64(); err != nil {
		add("telegram.chat_id: %q is not a numeric chat id", cfg.Telegram.ChatID)
	}
	if cfg.Telegram.ThreadID < 0 {
		add("telegram.thread_id: must be >= 0")
	}
	if cfg.Telegram.RatePerSec < 0 {
		add("telegram.rate_per_sec: must be >= 0")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	// schedule
	if _, err := scheduler.ParseSchedule(cfg.Schedule.Cron); err != nil {
		add("schedule.cron: %v", err)
	}
	if _, err := LoadLocation(cfg.Schedule.Timezone); err != nil {
		add("schedule.timezone: %v", err)
	}
	if _, err := ParseDurationField("schedule.timeout", cfg.Schedule.Timeout); err != nil {
		errs = append(errs, err)
	}

	// night window
	if cfg.Night.StartHour < 0 || cfg.Night.StartHour > 23 {
		add("night.start_hour: %d out of range 0..23", cfg.Night.StartHour)
	}
	if cfg.Night.EndHour < 0 || cfg.Night.EndHour > 24 {
		add("night.end_hour: %d out of range 0..24", cfg.Night.EndHour)
	}

	// metrics
	if len(cfg.Metrics) == 0 {
		add("metrics: at least one metric with a threshold is required (AIR_QUALITY_THRESHOLD)")
	}
	seen := make(map[string]bool, len(cfg.Metrics))
	for i, m := range cfg.Metrics {
		key := fmt.Sprintf("metrics[%d]", i)
		name := strings.TrimSpace(m.Name)
		if name == "" {
			add("%s.name: required", key)
		} else {
			key = "metrics." + name
			if seen[name] {
				add("%s: duplicate metric name", key)
			}
			seen[name] = true
		}
		if field := ResolveField(m); field == "" {
			add("%s.field: required for custom metrics", key)
		} else if !feed.ValidField(field) {
			add("%s.field: %q is not field1..field8", key, field)
		}
		if m.Threshold == nil {
			add("%s.threshold: required", key)
		} else if !finite(*m.Threshold) {
			add("%s.threshold: must be a finite number", key)
		}
		if m.NightThreshold != nil && !finite(*m.NightThreshold) {
			add("%s.night_threshold: must be a finite number", key)
		}
	}

	// logging
	if !logx.ValidLevel(cfg.Logging.Level) {
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if !logx.ValidLevel(cfg.Logging.Telegram.MinLevel) {
		add("logging.telegram.min_level: unknown level %q", cfg.Logging.Telegram.MinLevel)
	}
	if id := cfg.Logging.Telegram.ChatID; id != "" {
		if _, err := id.Int64(); err != nil {
			add("logging.telegram.chat_id: %q is not a numeric chat id", id)
		}
	}

	// ops
	if _, err := ParseDurationField("ops.read_timeout", cfg.Ops.ReadTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("ops.write_timeout", cfg.Ops.WriteTimeout); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// ResolveField returns the metric's feed field, falling back to the
// built-in preset of the same name.
func ResolveField(m MetricConfig) string {
	if f := strings.TrimSpace(m.Field); f != "" {
		return f
	}
	if p, ok := alert.Preset(strings.TrimSpace(m.Name)); ok {
		return p.Field
	}
	return ""
}

// LoadLocation resolves an IANA zone name; empty means the host zone.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}
