package alert

import (
	"context"
	"sync"
	"time"

	"thingwatch/pkg/logx"
)

// Notifier delivers a rendered alert message.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Result describes one evaluation.
type Result struct {
	Metric    string
	Value     float64
	Threshold float64
	From      Status
	To        Status
	Kind      Kind
	Message   string
	// Err is the delivery error, if a notification was attempted and failed.
	Err error
}

// Notified reports whether a notification was attempted.
func (r Result) Notified() bool { return r.Kind != KindNone }

// Snapshot is a read-only view of an evaluator for status output.
type Snapshot struct {
	Metric      Metric
	State       State
	Threshold   float64
	Evaluations uint64
	UpdatedAt   time.Time
}

// Evaluator owns the alert state of one metric.
type Evaluator struct {
	metric   Metric
	notifier Notifier
	log      logx.Logger

	mu          sync.Mutex
	threshold   ThresholdFunc
	state       State
	evaluations uint64
	updatedAt   time.Time
}

type Option func(*Evaluator)

// WithState seeds the evaluator, e.g. to carry state across a config reload.
func WithState(s State) Option {
	return func(e *Evaluator) { e.state = s }
}

func WithLogger(log logx.Logger) Option {
	return func(e *Evaluator) { e.log = log }
}

func NewEvaluator(m Metric, threshold ThresholdFunc, n Notifier, opts ...Option) *Evaluator {
	e := &Evaluator{
		metric:    m,
		notifier:  n,
		threshold: threshold,
		log:       logx.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With(logx.String("metric", m.Name))
	return e
}

func (e *Evaluator) Metric() Metric { return e.metric }

func (e *Evaluator) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetThreshold swaps the threshold strategy; state is kept.
func (e *Evaluator) SetThreshold(fn ThresholdFunc) {
	e.mu.Lock()
	e.threshold = fn
	e.mu.Unlock()
}

func (e *Evaluator) Snapshot(now time.Time) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Metric:      e.metric,
		State:       e.state,
		Threshold:   e.threshold(now),
		Evaluations: e.evaluations,
		UpdatedAt:   e.updatedAt,
	}
}

// Evaluate applies value to the state and sends the resulting notification.
// State advances even when delivery fails.
func (e *Evaluator) Evaluate(ctx context.Context, value float64, now time.Time) Result {
	e.mu.Lock()
	threshold := e.threshold(now)
	prev := e.state
	next, kind := Decide(prev, value, threshold)
	e.state = next
	e.evaluations++
	e.updatedAt = now
	e.mu.Unlock()

	res := Result{
		Metric:    e.metric.Name,
		Value:     value,
		Threshold: threshold,
		From:      prev.Status(),
		To:        next.Status(),
		Kind:      kind,
	}
	fields := []logx.Field{
		logx.Float64("value", value),
		logx.Float64("threshold", threshold),
		logx.String("state", res.To.String()),
	}

	if kind == KindNone {
		if res.To == Alerting {
			e.log.Info("still above threshold, not rising", append(fields, logx.Float64("last_value", prev.LastValue))...)
		} else {
			e.log.Info("reading within threshold", fields...)
		}
		return res
	}

	res.Message = e.metric.Message(kind, value, threshold)
	if e.notifier != nil {
		res.Err = e.notifier.Notify(ctx, res.Message)
	}
	fields = append(fields, logx.String("kind", kind.String()))
	if res.Err != nil {
		e.log.Error("notification failed", append(fields, logx.Err(res.Err))...)
		return res
	}
	e.log.Info("notification sent", append(fields, logx.String("text", res.Message))...)
	return res
}
