package alert

import (
	"fmt"
	"time"
)

// ThresholdFunc returns the threshold that applies at the given instant.
type ThresholdFunc func(now time.Time) float64

// Fixed ignores the clock.
func Fixed(v float64) ThresholdFunc {
	return func(time.Time) float64 { return v }
}

// NightWindow is the half-open hour range [StartHour, EndHour) during which
// the night threshold applies. A window may wrap midnight (22 → 6). Equal
// bounds mean there is no night.
type NightWindow struct {
	StartHour int
	EndHour   int
	// Location is used to read the wall-clock hour; nil keeps the instant's own zone.
	Location *time.Location
}

// DefaultNightWindow covers midnight to 08:00.
var DefaultNightWindow = NightWindow{StartHour: 0, EndHour: 8}

func (w NightWindow) Validate() error {
	if w.StartHour < 0 || w.StartHour > 23 {
		return fmt.Errorf("night start hour %d out of range 0..23", w.StartHour)
	}
	if w.EndHour < 0 || w.EndHour > 24 {
		return fmt.Errorf("night end hour %d out of range 0..24", w.EndHour)
	}
	return nil
}

// Contains reports whether hour (0..23) falls inside the window.
func (w NightWindow) Contains(hour int) bool {
	switch {
	case w.StartHour == w.EndHour:
		return false
	case w.StartHour < w.EndHour:
		return hour >= w.StartHour && hour < w.EndHour
	default:
		return hour >= w.StartHour || hour < w.EndHour
	}
}

// At reports whether the instant falls inside the window.
func (w NightWindow) At(now time.Time) bool {
	if w.Location != nil {
		now = now.In(w.Location)
	}
	return w.Contains(now.Hour())
}

// DayNight selects night inside w and day otherwise.
func DayNight(day, night float64, w NightWindow) ThresholdFunc {
	return func(now time.Time) float64 {
		if w.At(now) {
			return night
		}
		return day
	}
}
