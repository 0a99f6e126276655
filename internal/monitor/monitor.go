// Package monitor runs one poll cycle: fetch the newest feed entry once,
// then evaluate every configured metric against it.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"thingwatch/internal/alert"
	"thingwatch/internal/feed"
	"thingwatch/internal/metrics"
	"thingwatch/pkg/logx"
)

// ErrBusy is returned when a cycle is requested while another one runs.
var ErrBusy = errors.New("poll already in progress")

// Fetcher returns the newest feed entry.
type Fetcher interface {
	Latest(ctx context.Context) (feed.Entry, error)
}

// Definition is one metric with its threshold strategy.
type Definition struct {
	Metric    alert.Metric
	Threshold alert.ThresholdFunc
}

// RunInfo summarises the last poll cycle.
type RunInfo struct {
	ID      string
	At      time.Time
	Took    time.Duration
	EntryID int64
	EntryAt time.Time
	Err     string
}

type Snapshot struct {
	Metrics []alert.Snapshot
	Last    RunInfo
	Runs    uint64
}

type Monitor struct {
	feed     Fetcher
	notifier alert.Notifier
	log      logx.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	run sync.Mutex // held for the duration of Check

	mu    sync.RWMutex
	evals []*alert.Evaluator
	last  RunInfo
	runs  uint64
}

type Option func(*Monitor)

func WithLogger(log logx.Logger) Option { return func(m *Monitor) { m.log = log } }

func WithMetrics(mx *metrics.Metrics) Option { return func(m *Monitor) { m.metrics = mx } }

// WithClock replaces time.Now, e.g. to pin the hour in tests.
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

func New(f Fetcher, n alert.Notifier, defs []Definition, opts ...Option) *Monitor {
	m := &Monitor{
		feed:     f,
		notifier: n,
		log:      logx.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	m.evals = m.build(defs, nil)
	return m
}

func (m *Monitor) build(defs []Definition, prev map[string]*alert.Evaluator) []*alert.Evaluator {
	out := make([]*alert.Evaluator, 0, len(defs))
	for _, d := range defs {
		opts := []alert.Option{alert.WithLogger(m.log)}
		// Keep the alert toggle when a reload leaves the metric's field alone.
		if old, ok := prev[d.Metric.Name]; ok && old.Metric().Field == d.Metric.Field {
			opts = append(opts, alert.WithState(old.State()))
		}
		out = append(out, alert.NewEvaluator(d.Metric, d.Threshold, m.notifier, opts...))
	}
	return out
}

// Apply replaces the metric definitions. Metrics that keep their name and
// field keep their alert state; removed metrics are forgotten.
func (m *Monitor) Apply(defs []Definition) {
	// Wait out a running cycle so the carried state is final.
	m.run.Lock()
	defer m.run.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := make(map[string]*alert.Evaluator, len(m.evals))
	for _, ev := range m.evals {
		prev[ev.Metric().Name] = ev
	}
	m.evals = m.build(defs, prev)
	if m.metrics != nil {
		for name := range prev {
			if !hasMetric(defs, name) {
				m.metrics.Value.DeleteLabelValues(name)
				m.metrics.Threshold.DeleteLabelValues(name)
				m.metrics.Alerting.DeleteLabelValues(name)
			}
		}
	}
}

func hasMetric(defs []Definition, name string) bool {
	for _, d := range defs {
		if d.Metric.Name == name {
			return true
		}
	}
	return false
}

func (m *Monitor) evaluators() []*alert.Evaluator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*alert.Evaluator(nil), m.evals...)
}

// Check runs one poll cycle. Any fetch failure, including a missing or
// non-numeric field for one of the metrics, is logged once and returned;
// nothing is evaluated and no state changes in that case.
func (m *Monitor) Check(ctx context.Context) error {
	if !m.run.TryLock() {
		m.observePoll("skipped", 0)
		return ErrBusy
	}
	defer m.run.Unlock()

	info := RunInfo{ID: uuid.NewString(), At: m.now()}
	log := m.log.With(logx.String("run_id", info.ID))
	start := time.Now()

	entry, err := m.feed.Latest(ctx)
	if err != nil {
		m.fail(log, info, start, "", err)
		return err
	}
	info.EntryID = entry.ID
	info.EntryAt = entry.CreatedAt

	evals := m.evaluators()
	values := make([]float64, len(evals))
	for i, ev := range evals {
		mt := ev.Metric()
		v, err := entry.Float(mt.Field)
		if err != nil {
			log = log.With(
				logx.String("metric", mt.Name),
				logx.String("field", mt.Field),
				logx.Int64("entry_id", entry.ID),
			)
			m.fail(log, info, start, mt.Name, err)
			return err
		}
		values[i] = v
	}

	for i, ev := range evals {
		res := ev.Evaluate(ctx, values[i], info.At)
		m.observeResult(res)
	}

	info.Took = time.Since(start)
	m.finish(info)
	m.observePoll("ok", info.Took)
	log.Debug("poll finished", logx.Int64("entry_id", entry.ID), logx.Duration("took", info.Took))
	return nil
}

// fail records a skipped cycle. metric is empty when the feed itself failed.
func (m *Monitor) fail(log logx.Logger, info RunInfo, start time.Time, metric string, err error) {
	info.Took = time.Since(start)
	info.Err = err.Error()
	m.finish(info)
	m.observePoll("fetch_failed", info.Took)
	if m.metrics != nil {
		m.metrics.FetchFailures.WithLabelValues(metric).Inc()
	}
	log.Error("feed fetch failed, skipping cycle", logx.Err(err))
}

func (m *Monitor) finish(info RunInfo) {
	m.mu.Lock()
	m.last = info
	m.runs++
	m.mu.Unlock()
}

func (m *Monitor) observePoll(result string, took time.Duration) {
	if m.metrics == nil {
		return
	}
	m.metrics.PollsTotal.WithLabelValues(result).Inc()
	if took > 0 {
		m.metrics.PollDuration.Observe(took.Seconds())
	}
}

func (m *Monitor) observeResult(res alert.Result) {
	if m.metrics == nil {
		return
	}
	m.metrics.Value.WithLabelValues(res.Metric).Set(res.Value)
	m.metrics.Threshold.WithLabelValues(res.Metric).Set(res.Threshold)
	m.metrics.Alerting.WithLabelValues(res.Metric).Set(metrics.Bool(res.To == alert.Alerting))
	if res.Notified() {
		m.metrics.NotificationsTotal.WithLabelValues(res.Metric, res.Kind.String(), metrics.Result(res.Err)).Inc()
	}
}

// Snapshot returns the current state of every metric and the last run.
func (m *Monitor) Snapshot() Snapshot {
	now := m.now()
	evals := m.evaluators()
	snap := Snapshot{Metrics: make([]alert.Snapshot, 0, len(evals))}
	for _, ev := range evals {
		snap.Metrics = append(snap.Metrics, ev.Snapshot(now))
	}
	m.mu.RLock()
	snap.Last = m.last
	snap.Runs = m.runs
	m.mu.RUnlock()
	return snap
}
