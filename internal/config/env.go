package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadEnvFiles loads the given .env files into the process environment.
// Missing files are skipped; variables that are already set win.
func LoadEnvFiles(paths ...string) error {
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		existing = append(existing, p)
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// envMetric binds the per-metric environment keys to a built-in metric name.
type envMetric struct {
	name      string
	threshold string
	night     string
	field     string
}

var envMetrics = []envMetric{
	{name: "air_pollution", threshold: "AIR_QUALITY_THRESHOLD", night: "AIR_QUALITY_THRESHOLD_NIGHT", field: "AIR_QUALITY_FIELD"},
	{name: "temperature", threshold: "TEMPERATURE_THRESHOLD", night: "TEMPERATURE_THRESHOLD_NIGHT", field: "TEMPERATURE_FIELD"},
}

// ApplyEnv overlays environment variables onto cfg. Malformed values are
// reported by key; all of them are collected before returning.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	e := envReader{lookup: lookup}

	e.str("THINGSPEAK_API_KEY", &cfg.ThingSpeak.APIKey)
	e.id("THINGSPEAK_CHANNEL_ID", &cfg.ThingSpeak.ChannelID)
	e.str("THINGSPEAK_BASE_URL", &cfg.ThingSpeak.BaseURL)
	e.str("THINGSPEAK_TIMEOUT", &cfg.ThingSpeak.Timeout)

	e.str("TELEGRAM_TOKEN", &cfg.Telegram.Token)
	e.id("TELEGRAM_CHAT_ID", &cfg.Telegram.ChatID)
	e.integer("TELEGRAM_THREAD_ID", &cfg.Telegram.ThreadID)
	e.boolean("TELEGRAM_COMMANDS", &cfg.Telegram.Commands)

	e.str("CRON_EXPRESSION", &cfg.Schedule.Cron)
	e.str("TIMEZONE", &cfg.Schedule.Timezone)
	e.boolean("RUN_ON_START", &cfg.Schedule.RunOnStart)
	e.str("POLL_TIMEOUT", &cfg.Schedule.Timeout)

	e.integer("NIGHT_START_HOUR", &cfg.Night.StartHour)
	e.integer("NIGHT_END_HOUR", &cfg.Night.EndHour)

	for _, em := range envMetrics {
		var (
			th, night float64
			field     string
		)
		hasTh := e.number(em.threshold, &th)
		hasNight := e.number(em.night, &night)
		hasField := e.str(em.field, &field)
		if !hasTh && !hasNight && !hasField {
			continue
		}
		m := cfg.upsertMetric(em.name)
		if hasTh {
			m.Threshold = &th
		}
		if hasNight {
			m.NightThreshold = &night
		}
		if hasField {
			m.Field = field
		}
	}

	e.str("LOG_LEVEL", &cfg.Logging.Level)
	var logFile string
	if e.str("LOG_FILE", &logFile) {
		cfg.Logging.File.Enabled = logFile != ""
		cfg.Logging.File.Path = logFile
	}

	e.str("OPS_ADDR", &cfg.Ops.Addr)
	e.boolean("OPS_PPROF", &cfg.Ops.Pprof)
	e.str("OPS_TOKEN", &cfg.Ops.Token)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(key string, dst *string) bool {
	v, ok := e.get(key)
	if !ok {
		return false
	}
	*dst = v
	return true
}

func (e *envReader) id(key string, dst *ID) bool {
	v, ok := e.get(key)
	if !ok {
		return false
	}
	*dst = ID(v)
	return true
}

func (e *envReader) integer(key string, dst *int) bool {
	v, ok := e.get(key)
	if !ok || v == "" {
		return false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return false
	}
	*dst = n
	return true
}

func (e *envReader) number(key string, dst *float64) bool {
	v, ok := e.get(key)
	if !ok || v == "" {
		return false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return false
	}
	*dst = f
	return true
}

func (e *envReader) boolean(key string, dst *bool) bool {
	v, ok := e.get(key)
	if !ok || v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return false
	}
	*dst = b
	return true
}
