package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(kv map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

var baseEnv = map[string]string{
	"THINGSPEAK_CHANNEL_ID": "2243133",
	"TELEGRAM_TOKEN":        "123:abc",
	"TELEGRAM_CHAT_ID":      "-1001234567890",
	"AIR_QUALITY_THRESHOLD": "50",
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestBuildFromEnvironmentOnly(t *testing.T) {
	m := NewManager("")
	m.SetLookup(envMap(baseEnv))
	cfg, err := m.Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.ThingSpeak.BaseURL != DefaultBaseURL || cfg.Schedule.Cron != DefaultCron || !cfg.Schedule.RunOnStart {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	mt := cfg.Metric("air_pollution")
	if mt == nil || mt.Threshold == nil || *mt.Threshold != 50 || mt.NightThreshold != nil {
		t.Fatalf("air_pollution = %+v", mt)
	}
	if ResolveField(*mt) != "field3" {
		t.Fatalf("ResolveField() = %q", ResolveField(*mt))
	}
	if id, _ := cfg.Telegram.ChatID.Int64(); id != -1001234567890 {
		t.Fatalf("chat id = %d", id)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "thingwatch.yaml", `
thingspeak:
  channel_id: 2243133
telegram:
  token: "123:abc"
  chat_id: -1001234567890
  commands: false
schedule:
  cron: "*/5 * * * *"
  timezone: Europe/Berlin
night:
  start_hour: 22
  end_hour: 6
metrics:
  - name: air_pollution
    threshold: 50
    night_threshold: 80
  - name: humidity
    field: field2
    label: Humidity
    unit: "%"
    threshold: 90
`)
	env := map[string]string{"AIR_QUALITY_THRESHOLD": "45", "CRON_EXPRESSION": "every:15m"}
	m := NewManager(path)
	m.SetLookup(envMap(env))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ThingSpeak.ChannelID != "2243133" || cfg.Telegram.Commands {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.Schedule.Cron != "every:15m" || cfg.Schedule.Timezone != "Europe/Berlin" {
		t.Fatalf("schedule = %+v", cfg.Schedule)
	}
	air := cfg.Metric("air_pollution")
	if *air.Threshold != 45 || *air.NightThreshold != 80 {
		t.Fatalf("air_pollution = %v/%v", *air.Threshold, *air.NightThreshold)
	}
	if h := cfg.Metric("humidity"); h == nil || h.Field != "field2" {
		t.Fatalf("humidity = %+v", h)
	}
	if cfg.Night != (NightConfig{StartHour: 22, EndHour: 6}) {
		t.Fatalf("night = %+v", cfg.Night)
	}
	if m.Get() != cfg {
		t.Fatal("Load() did not commit")
	}
}

func TestFileRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "thingwatch.json", `{"thingspeak": {"channel": "1"}}`)
	m := NewManager(path)
	m.SetLookup(envMap(nil))
	if _, err := m.Build(); err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("Build() error = %v, want unknown field", err)
	}
}

func TestFileRejectsTrailingData(t *testing.T) {
	path := writeFile(t, "thingwatch.json", `{} {}`)
	m := NewManager(path)
	m.SetLookup(envMap(nil))
	if _, err := m.Build(); err == nil {
		t.Fatal("Build() accepted trailing data")
	}
}

func TestEnvReportsMalformedValues(t *testing.T) {
	cfg := Defaults()
	err := ApplyEnv(cfg, envMap(map[string]string{
		"AIR_QUALITY_THRESHOLD": "fifty",
		"NIGHT_START_HOUR":      "ten",
		"RUN_ON_START":          "maybe",
	}))
	if err == nil {
		t.Fatal("ApplyEnv() error = nil")
	}
	for _, key := range []string{"AIR_QUALITY_THRESHOLD", "NIGHT_START_HOUR", "RUN_ON_START"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error %q does not name %s", err, key)
		}
	}
}

func TestValidateNamesKeyPaths(t *testing.T) {
	bad := 1.0
	cfg := Defaults()
	cfg.ThingSpeak.ChannelID = "abc"
	cfg.Telegram.ChatID = "@mychannel"
	cfg.Schedule.Cron = "61 * * * *"
	cfg.Schedule.Timezone = "Mars/Olympus"
	cfg.Night.StartHour = 24
	cfg.Metrics = []MetricConfig{
		{Name: "air_pollution"},
		{Name: "wind", Threshold: &bad},
		{Name: "air_pollution", Field: "field9", Threshold: &bad},
	}

	err := Validate(cfg)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Validate() error = %v, want ErrInvalid", err)
	}
	for _, want := range []string{
		"thingspeak.channel_id",
		"telegram.token",
		"telegram.chat_id",
		"schedule.cron",
		"schedule.timezone",
		"night.start_hour",
		"metrics.air_pollution.threshold",
		"metrics.wind.field",
		"metrics.air_pollution: duplicate",
		"metrics.air_pollution.field",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %q:\n%v", want, err)
		}
	}
}

func TestValidateRequiresMetric(t *testing.T) {
	m := NewManager("")
	m.SetLookup(envMap(map[string]string{
		"THINGSPEAK_CHANNEL_ID": "1",
		"TELEGRAM_TOKEN":        "t",
		"TELEGRAM_CHAT_ID":      "42",
	}))
	if _, err := m.Load(); err == nil || !strings.Contains(err.Error(), "metrics:") {
		t.Fatalf("Load() error = %v, want metrics error", err)
	}
}

func TestIDUnmarshal(t *testing.T) {
	var v struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a": -100123, "b": " 42 ", "c": null}`), &v); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if v.A != "-100123" || v.B != "42" || v.C != "" {
		t.Fatalf("got %+v", v)
	}
	if err := json.Unmarshal([]byte(`{"a": 1.5}`), &v); err == nil {
		t.Fatal("fractional id accepted")
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	path := writeFile(t, "thingwatch.json", `{"metrics": [{"name": "air_pollution", "threshold": 50}]}`)
	m := NewManager(path)
	env := map[string]string{"THINGSPEAK_CHANNEL_ID": "1", "TELEGRAM_TOKEN": "t", "TELEGRAM_CHAT_ID": "42"}
	m.SetLookup(envMap(env))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if ok, err := m.Reload(context.Background()); ok || err != nil {
		t.Fatalf("Reload() unchanged = %v, %v", ok, err)
	}

	if err := os.WriteFile(path, []byte(`{"metrics": [{"name": "air_pollution", "threshold": 60}]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	ok, err := m.Reload(context.Background())
	if !ok || err != nil {
		t.Fatalf("Reload() = %v, %v", ok, err)
	}
	got := <-ch
	if *got.Metric("air_pollution").Threshold != 60 {
		t.Fatalf("published threshold = %v", *got.Metric("air_pollution").Threshold)
	}

	// An invalid file is rejected and the committed config stays.
	if err := os.WriteFile(path, []byte(`{"metrics": []}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if ok, err := m.Reload(context.Background()); ok || !errors.Is(err, ErrInvalid) {
		t.Fatalf("Reload() invalid = %v, %v", ok, err)
	}
	if *m.Get().Metric("air_pollution").Threshold != 60 {
		t.Fatal("rejected config was committed")
	}
}

func TestReloadRunsValidator(t *testing.T) {
	path := writeFile(t, "thingwatch.json", `{"metrics": [{"name": "air_pollution", "threshold": 50}]}`)
	m := NewManager(path)
	m.SetLookup(envMap(map[string]string{"THINGSPEAK_CHANNEL_ID": "1", "TELEGRAM_TOKEN": "t", "TELEGRAM_CHAT_ID": "42"}))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	veto := errors.New("veto")
	m.SetValidator(func(context.Context, *Config) error { return veto })
	_ = os.WriteFile(path, []byte(`{"metrics": [{"name": "air_pollution", "threshold": 70}]}`), 0o600)
	if _, err := m.Reload(context.Background()); !errors.Is(err, veto) {
		t.Fatalf("Reload() error = %v, want veto", err)
	}
}

func TestWatchPicksUpFileChange(t *testing.T) {
	path := writeFile(t, "thingwatch.json", `{"metrics": [{"name": "air_pollution", "threshold": 50}]}`)
	m := NewManager(path)
	m.SetLookup(envMap(map[string]string{"THINGSPEAK_CHANNEL_ID": "1", "TELEGRAM_TOKEN": "t", "TELEGRAM_CHAT_ID": "42"}))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Keep writing until the watcher is up and the change lands.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if *cfg.Metric("air_pollution").Threshold != 65 {
				t.Fatalf("threshold = %v", *cfg.Metric("air_pollution").Threshold)
			}
			return
		case <-tick.C:
			_ = os.WriteFile(path, []byte(`{"metrics": [{"name": "air_pollution", "threshold": 65}]}`), 0o600)
		case <-deadline:
			t.Fatal("watch did not publish the change")
		}
	}
}

func TestLoadEnvFilesDoesNotOverride(t *testing.T) {
	const keep, fresh = "THINGWATCH_TEST_KEEP", "THINGWATCH_TEST_FRESH"
	t.Setenv(keep, "from-env")
	t.Cleanup(func() { _ = os.Unsetenv(fresh) })

	path := writeFile(t, ".env", keep+"=from-file\n"+fresh+"=loaded\n")
	if err := LoadEnvFiles(path, filepath.Join(t.TempDir(), "missing.env"), ""); err != nil {
		t.Fatalf("LoadEnvFiles() error: %v", err)
	}
	if got := os.Getenv(keep); got != "from-env" {
		t.Fatalf("%s = %q", keep, got)
	}
	if got := os.Getenv(fresh); got != "loaded" {
		t.Fatalf("%s = %q", fresh, got)
	}
}

func TestSummarizeChange(t *testing.T) {
	th := 50.0
	oldCfg := Defaults()
	oldCfg.Telegram.Token = "old"
	oldCfg.Metrics = []MetricConfig{{Name: "air_pollution", Threshold: &th}}

	newCfg := Defaults()
	newCfg.Telegram.Token = "new"
	newTh := 55.0
	newCfg.Metrics = []MetricConfig{{Name: "air_pollution", Threshold: &newTh}}
	newCfg.Logging.Level = "debug"

	ch := SummarizeChange(oldCfg, newCfg)
	for _, s := range []string{"telegram", "metrics", "logging"} {
		if !ch.Has(s) {
			t.Errorf("section %s not reported: %v", s, ch.Sections)
		}
	}
	if ch.Has("schedule") || ch.Has("thingspeak") {
		t.Errorf("unexpected sections: %v", ch.Sections)
	}
	if len(ch.NeedsRestart) != 1 {
		t.Errorf("NeedsRestart = %v", ch.NeedsRestart)
	}
}
