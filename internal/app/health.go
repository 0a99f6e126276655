package app

import (
	"time"

	"thingwatch/internal/runtime/supervisor"
	"thingwatch/internal/scheduler"
)

type metricHealth struct {
	Name        string    `json:"name"`
	Field       string    `json:"field"`
	Status      string    `json:"status"`
	Value       *float64  `json:"value,omitempty"`
	Threshold   float64   `json:"threshold"`
	Evaluations uint64    `json:"evaluations"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type pollHealth struct {
	ID      string    `json:"id,omitempty"`
	At      time.Time `json:"at,omitempty"`
	TookMS  int64     `json:"took_ms"`
	EntryID int64     `json:"entry_id,omitempty"`
	Error   string    `json:"error,omitempty"`
}

type healthReport struct {
	Status        string              `json:"status"`
	UptimeSec     int64               `json:"uptime_sec"`
	Polls         uint64              `json:"polls"`
	LastPoll      pollHealth          `json:"last_poll"`
	Metrics       []metricHealth      `json:"metrics"`
	Scheduler     scheduler.Info      `json:"scheduler"`
	Notifications map[string]uint64   `json:"notifications"`
	Goroutines    supervisor.Counters `json:"goroutines"`
	Error         string              `json:"error,omitempty"`
}

// health backs /healthz. The daemon is unhealthy only after a fatal error;
// a failing feed is reported as "degraded".
func (a *App) health() (any, bool) {
	a.mu.Lock()
	sup := a.sup
	startedAt := a.startedAt
	a.mu.Unlock()

	snap := a.mon.Snapshot()
	sent, failed := a.notif.Counts()
	r := healthReport{
		Status: "ok",
		Polls:  snap.Runs,
		LastPoll: pollHealth{
			ID:      snap.Last.ID,
			At:      snap.Last.At,
			TookMS:  snap.Last.Took.Milliseconds(),
			EntryID: snap.Last.EntryID,
			Error:   snap.Last.Err,
		},
		Metrics:       make([]metricHealth, 0, len(snap.Metrics)),
		Scheduler:     a.sched.Info(),
		Notifications: map[string]uint64{"sent": sent, "failed": failed},
		Goroutines:    sup.Counters(),
	}
	if !startedAt.IsZero() {
		r.UptimeSec = int64(time.Since(startedAt).Seconds())
	}
	for _, m := range snap.Metrics {
		mh := metricHealth{
			Name:        m.Metric.Name,
			Field:       m.Metric.Field,
			Status:      m.State.Status().String(),
			Threshold:   m.Threshold,
			Evaluations: m.Evaluations,
			UpdatedAt:   m.UpdatedAt,
		}
		if m.Evaluations > 0 {
			v := m.State.LastValue
			mh.Value = &v
		}
		r.Metrics = append(r.Metrics, mh)
	}
	if snap.Last.Err != "" {
		r.Status = "degraded"
	}

	ok := true
	if sup == nil {
		r.Status = "starting"
	} else if err := sup.Err(); err != nil {
		r.Status = "failed"
		r.Error = err.Error()
		ok = false
	}
	return r, ok
}
