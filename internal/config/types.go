package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Config is the daemon configuration. Durations are strings ("15s") and are
// parsed during validation so file and environment sources share one format.
type Config struct {
	ThingSpeak ThingSpeakConfig `json:"thingspeak"`
	Telegram   TelegramConfig   `json:"telegram"`
	Schedule   ScheduleConfig   `json:"schedule"`
	Night      NightConfig      `json:"night"`
	Metrics    []MetricConfig   `json:"metrics,omitempty"`
	Logging    LoggingConfig    `json:"logging"`
	Ops        OpsConfig        `json:"ops"`
}

type ThingSpeakConfig struct {
	BaseURL   string `json:"base_url,omitempty"`
	ChannelID ID     `json:"channel_id"`
	// APIKey is optional: public channels are readable without one.
	APIKey  string `json:"api_key,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   ID     `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// Commands enables long polling for /status, /check and /help.
	Commands    bool   `json:"commands"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	Silent      bool   `json:"silent,omitempty"`
}

type ScheduleConfig struct {
	// Cron accepts 5 or 6 field cron, descriptors (@hourly) and intervals
	// ("10m", "every:10m", "00:10").
	Cron       string `json:"cron"`
	Timezone   string `json:"timezone,omitempty"`
	RunOnStart bool   `json:"run_on_start"`
	Timeout    string `json:"timeout,omitempty"`
}

// NightConfig is the half-open hour window [StartHour, EndHour) in which
// night thresholds apply.
type NightConfig struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

type MetricConfig struct {
	Name  string `json:"name"`
	Field string `json:"field,omitempty"`
	Label string `json:"label,omitempty"`
	Unit  string `json:"unit,omitempty"`

	Threshold      *float64 `json:"threshold"`
	NightThreshold *float64 `json:"night_threshold,omitempty"`

	ExceededText   string `json:"exceeded_text,omitempty"`
	NormalizedText string `json:"normalized_text,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingTelegram mirrors warnings and errors into the alert chat, or into
// ChatID when set.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     ID     `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// OpsConfig controls the optional HTTP server for /metrics, /healthz and pprof.
// An empty Addr disables it.
type OpsConfig struct {
	Addr  string `json:"addr,omitempty"`
	Pprof bool   `json:"pprof,omitempty"`
	// Token, when set, is required as a bearer token on every route.
	Token        string `json:"token,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

const (
	DefaultBaseURL     = "https://api.thingspeak.com"
	DefaultFeedTimeout = "15s"
	DefaultCron        = "*/10 * * * *"
	DefaultPollTimeout = "10s"
)

// Defaults returns the configuration every source is layered on. Metrics
// are left empty: they come from the file or the environment.
func Defaults() *Config {
	return &Config{
		ThingSpeak: ThingSpeakConfig{
			BaseURL: DefaultBaseURL,
			Timeout: DefaultFeedTimeout,
		},
		Telegram: TelegramConfig{
			Commands:    true,
			PollTimeout: DefaultPollTimeout,
			RatePerSec:  1,
		},
		Schedule: ScheduleConfig{
			Cron:       DefaultCron,
			RunOnStart: true,
		},
		Night: NightConfig{StartHour: 0, EndHour: 8},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Telegram: LoggingTelegram{
				MinLevel:   "error",
				RatePerSec: 1,
			},
		},
	}
}

// Metric returns the metric named name, or nil.
func (c *Config) Metric(name string) *MetricConfig {
	for i := range c.Metrics {
		if c.Metrics[i].Name == name {
			return &c.Metrics[i]
		}
	}
	return nil
}

func (c *Config) upsertMetric(name string) *MetricConfig {
	if m := c.Metric(name); m != nil {
		return m
	}
	c.Metrics = append(c.Metrics, MetricConfig{Name: name})
	return &c.Metrics[len(c.Metrics)-1]
}

// ID is a numeric identifier that may be written bare (YAML, JSON numbers)
// or quoted (env, JSON strings).
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*id = ""
		return nil
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(v))
		return nil
	}
	if _, err := strconv.ParseInt(s, 10, 64); err != nil {
		return fmt.Errorf("invalid id %s", s)
	}
	*id = ID(s)
	return nil
}

func (id ID) String() string { return string(id) }

// Int64 parses the id; empty is an error.
func (id ID) Int64() (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(string(id)), 10, 64)
}
