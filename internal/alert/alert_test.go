package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	texts []string
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, text string) error {
	r.texts = append(r.texts, text)
	return r.err
}

var plain = Metric{
	Name:           "aqi",
	Field:          "field3",
	ExceededText:   "exceeded {value}",
	NormalizedText: "normalized {value}",
}

func at(hour int) time.Time {
	return time.Date(2026, 10, 19, hour, 30, 0, 0, time.UTC)
}

func TestDecideFromNormal(t *testing.T) {
	for _, r := range []float64{-10, 0, 49.99, 50} {
		next, kind := Decide(State{}, r, 50)
		assert.Equal(t, KindNone, kind, "reading %v", r)
		assert.False(t, next.Alerting)
		assert.Equal(t, r, next.LastValue)
	}
	for _, r := range []float64{50.01, 60, 1e6} {
		next, kind := Decide(State{}, r, 50)
		assert.Equal(t, KindExceeded, kind, "reading %v", r)
		assert.True(t, next.Alerting)
	}
}

func TestDecideFromAlerting(t *testing.T) {
	tests := []struct {
		name     string
		last     float64
		reading  float64
		want     Kind
		alerting bool
	}{
		{name: "rising", last: 60, reading: 61, want: KindExceeded, alerting: true},
		{name: "equal", last: 60, reading: 60, want: KindNone, alerting: true},
		{name: "falling above", last: 60, reading: 55, want: KindNone, alerting: true},
		{name: "at threshold clears", last: 60, reading: 50, want: KindNormalized, alerting: false},
		{name: "below clears", last: 60, reading: 10, want: KindNormalized, alerting: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, kind := Decide(State{LastValue: tt.last, Alerting: true}, tt.reading, 50)
			assert.Equal(t, tt.want, kind)
			assert.Equal(t, tt.alerting, next.Alerting)
			assert.Equal(t, tt.reading, next.LastValue)
		})
	}
}

func runSequence(t *testing.T, threshold float64, readings []float64) ([]string, *Evaluator) {
	t.Helper()
	n := &recordingNotifier{}
	ev := NewEvaluator(plain, Fixed(threshold), n)
	for _, r := range readings {
		ev.Evaluate(context.Background(), r, at(12))
	}
	return n.texts, ev
}

func TestScenarioRiseAndRecover(t *testing.T) {
	texts, ev := runSequence(t, 50, []float64{30, 60, 75, 40})
	assert.Equal(t, []string{"exceeded 60", "exceeded 75", "normalized 40"}, texts)
	assert.Equal(t, State{LastValue: 40}, ev.State())
}

func TestScenarioNoRepeatWhileFalling(t *testing.T) {
	texts, ev := runSequence(t, 50, []float64{60, 55})
	assert.Equal(t, []string{"exceeded 60"}, texts)
	assert.Equal(t, State{LastValue: 55, Alerting: true}, ev.State())
}

func TestEvaluateNotifyFailureStillAdvances(t *testing.T) {
	n := &recordingNotifier{err: errors.New("telegram down")}
	ev := NewEvaluator(plain, Fixed(50), n)

	res := ev.Evaluate(context.Background(), 70, at(12))
	require.Error(t, res.Err)
	assert.True(t, res.Notified())
	assert.Equal(t, Normal, res.From)
	assert.Equal(t, Alerting, res.To)
	assert.Equal(t, State{LastValue: 70, Alerting: true}, ev.State())

	// Not rising, so no retry of the failed alert either.
	res = ev.Evaluate(context.Background(), 65, at(12))
	assert.False(t, res.Notified())
	assert.Len(t, n.texts, 1)
}

func TestEvaluateSeededState(t *testing.T) {
	n := &recordingNotifier{}
	ev := NewEvaluator(plain, Fixed(50), n, WithState(State{LastValue: 80, Alerting: true}))
	res := ev.Evaluate(context.Background(), 70, at(12))
	assert.Equal(t, KindNone, res.Kind)
	assert.Empty(t, n.texts)
}

func TestEvaluateUsesNightThreshold(t *testing.T) {
	n := &recordingNotifier{}
	ev := NewEvaluator(plain, DayNight(100, 40, DefaultNightWindow), n)

	res := ev.Evaluate(context.Background(), 60, at(3))
	assert.Equal(t, 40.0, res.Threshold)
	assert.Equal(t, KindExceeded, res.Kind)

	res = ev.Evaluate(context.Background(), 60, at(9))
	assert.Equal(t, 100.0, res.Threshold)
	assert.Equal(t, KindNormalized, res.Kind)
	assert.Equal(t, []string{"exceeded 60", "normalized 60"}, n.texts)
}

func TestSetThresholdKeepsState(t *testing.T) {
	n := &recordingNotifier{}
	ev := NewEvaluator(plain, Fixed(50), n)
	ev.Evaluate(context.Background(), 60, at(12))
	ev.SetThreshold(Fixed(70))

	snap := ev.Snapshot(at(12))
	assert.Equal(t, 70.0, snap.Threshold)
	assert.True(t, snap.State.Alerting)
	assert.Equal(t, uint64(1), snap.Evaluations)

	res := ev.Evaluate(context.Background(), 65, at(12))
	assert.Equal(t, KindNormalized, res.Kind)
}

func TestNightWindow(t *testing.T) {
	w := DefaultNightWindow
	for h := 0; h < 24; h++ {
		assert.Equal(t, h < 8, w.Contains(h), "hour %d", h)
	}

	wrap := NightWindow{StartHour: 22, EndHour: 6}
	assert.True(t, wrap.Contains(23))
	assert.True(t, wrap.Contains(0))
	assert.True(t, wrap.Contains(5))
	assert.False(t, wrap.Contains(6))
	assert.False(t, wrap.Contains(21))

	assert.False(t, NightWindow{StartHour: 3, EndHour: 3}.Contains(3))

	require.Error(t, NightWindow{StartHour: 24}.Validate())
	require.Error(t, NightWindow{EndHour: -1}.Validate())
	require.NoError(t, NightWindow{StartHour: 22, EndHour: 24}.Validate())
}

func TestDayNightBoundaries(t *testing.T) {
	fn := DayNight(50, 30, DefaultNightWindow)
	assert.Equal(t, 30.0, fn(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 30.0, fn(time.Date(2026, 1, 1, 7, 59, 59, 0, time.UTC)))
	assert.Equal(t, 50.0, fn(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, 50.0, fn(time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC)))
}

func TestNightWindowLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	w := NightWindow{StartHour: 0, EndHour: 8, Location: loc}
	// 22:00 UTC is 01:00 at UTC+3.
	assert.True(t, w.At(time.Date(2026, 1, 1, 22, 0, 0, 0, time.UTC)))
	assert.False(t, w.At(time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)))
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "⚠️ Attention! Air pollution index exceeded: 63.2 😷", AirPollution.Message(KindExceeded, 63.2, 50))
	assert.Equal(t, "✅ Air quality has normalized: 40", AirPollution.Message(KindNormalized, 40, 50))
	assert.Equal(t, "✅ Temperature has normalized: 21.5°C", Temperature.Message(KindNormalized, 21.5, 30))
	assert.Empty(t, AirPollution.Message(KindNone, 1, 2))

	custom := Metric{Name: "humidity", Unit: "%"}
	assert.Equal(t, "⚠️ Attention! humidity exceeded: 91% (threshold 80%)", custom.Message(KindExceeded, 91, 80))
	assert.Equal(t, "✅ humidity has normalized: 75%", custom.Message(KindNormalized, 75, 80))
}

func TestPreset(t *testing.T) {
	m, ok := Preset("temperature")
	require.True(t, ok)
	assert.Equal(t, "field1", m.Field)
	_, ok = Preset("humidity")
	assert.False(t, ok)
}
