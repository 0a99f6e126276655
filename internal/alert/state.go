// Package alert holds the per-metric threshold state machine.
package alert

// Status is the alert toggle of one metric.
type Status int

const (
	Normal Status = iota
	Alerting
)

func (s Status) String() string {
	if s == Alerting {
		return "alerting"
	}
	return "normal"
}

// Kind says which notification, if any, an evaluation emits.
type Kind int

const (
	KindNone Kind = iota
	KindExceeded
	KindNormalized
)

func (k Kind) String() string {
	switch k {
	case KindExceeded:
		return "exceeded"
	case KindNormalized:
		return "normalized"
	default:
		return "none"
	}
}

// State is the in-memory alert state of one metric. The zero value is the
// process-start state: no previous value and not alerting.
type State struct {
	LastValue float64
	Alerting  bool
}

func (s State) Status() Status {
	if s.Alerting {
		return Alerting
	}
	return Normal
}

// Decide applies one reading to s.
//
//	Normal   + value >  threshold → Alerting, exceeded
//	Alerting + value >  threshold → Alerting, exceeded only if value > LastValue
//	Alerting + value <= threshold → Normal, normalized
//	Normal   + value <= threshold → Normal, nothing
//
// LastValue always becomes value.
func Decide(s State, value, threshold float64) (State, Kind) {
	next := State{LastValue: value}
	kind := KindNone

	if value > threshold {
		next.Alerting = true
		if !s.Alerting || value > s.LastValue {
			kind = KindExceeded
		}
	} else if s.Alerting {
		kind = KindNormalized
	}
	return next, kind
}
