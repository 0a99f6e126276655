package alert

import (
	"strconv"
	"strings"
)

// Metric describes one monitored feed field and how its notifications read.
//
// Templates may use {label}, {value}, {threshold} and {unit}.
type Metric struct {
	Name  string
	Field string
	Label string
	Unit  string

	ExceededText   string
	NormalizedText string
}

const (
	defaultExceededText   = "⚠️ Attention! {label} exceeded: {value}{unit} (threshold {threshold}{unit})"
	defaultNormalizedText = "✅ {label} has normalized: {value}{unit}"
)

// Presets for the two metrics the station publishes.
var (
	AirPollution = Metric{
		Name:           "air_pollution",
		Field:          "field3",
		Label:          "Air pollution index",
		ExceededText:   "⚠️ Attention! Air pollution index exceeded: {value} 😷",
		NormalizedText: "✅ Air quality has normalized: {value}",
	}
	Temperature = Metric{
		Name:           "temperature",
		Field:          "field1",
		Label:          "Temperature",
		Unit:           "°C",
		ExceededText:   "🌡️ Attention! Temperature exceeded: {value}{unit} 🥵",
		NormalizedText: "✅ Temperature has normalized: {value}{unit}",
	}
)

// Preset returns the built-in metric with the given name.
func Preset(name string) (Metric, bool) {
	switch name {
	case AirPollution.Name:
		return AirPollution, true
	case Temperature.Name:
		return Temperature, true
	}
	return Metric{}, false
}

// Message renders the notification text for kind, or "" for KindNone.
func (m Metric) Message(kind Kind, value, threshold float64) string {
	var tmpl string
	switch kind {
	case KindExceeded:
		tmpl = m.ExceededText
		if strings.TrimSpace(tmpl) == "" {
			tmpl = defaultExceededText
		}
	case KindNormalized:
		tmpl = m.NormalizedText
		if strings.TrimSpace(tmpl) == "" {
			tmpl = defaultNormalizedText
		}
	default:
		return ""
	}
	label := m.Label
	if label == "" {
		label = m.Name
	}
	return strings.NewReplacer(
		"{label}", label,
		"{value}", FormatValue(value),
		"{threshold}", FormatValue(threshold),
		"{unit}", m.Unit,
	).Replace(tmpl)
}

// FormatValue prints v without trailing zeros (60, 63.2).
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
