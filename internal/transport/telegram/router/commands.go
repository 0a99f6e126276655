package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"thingwatch/internal/alert"
	"thingwatch/internal/monitor"
	"thingwatch/internal/scheduler"
)

type StatusSource interface {
	Snapshot() monitor.Snapshot
}

type Scheduler interface {
	Info() scheduler.Info
	RunNow(ctx context.Context, reason string) error
}

// Deps are the services the built-in commands read from.
type Deps struct {
	Monitor   StatusSource
	Scheduler Scheduler
	// Location formats timestamps; nil means time.Local.
	Location *time.Location
}

// Builtins returns /status and /check.
func Builtins(d Deps) []Command {
	return []Command{
		{
			Name:        "status",
			Description: "Current readings, thresholds and alert state",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, FormatStatus(d.Monitor.Snapshot(), d.Scheduler.Info(), d.Location))
			},
		},
		{
			Name:        "check",
			Description: "Poll the channel now",
			Timeout:     time.Minute,
			Handle: func(ctx context.Context, req *Request) error {
				err := d.Scheduler.RunNow(ctx, "command")
				switch {
				case errors.Is(err, monitor.ErrBusy):
					return req.Reply(ctx, "⏳ A poll is already running, try again in a moment.")
				case err != nil:
					return req.Reply(ctx, "❌ Check failed: "+err.Error())
				}
				return req.Reply(ctx, FormatStatus(d.Monitor.Snapshot(), d.Scheduler.Info(), d.Location))
			},
		},
	}
}

const stampLayout = "2006-01-02 15:04:05"

// FormatStatus renders the /status reply.
func FormatStatus(snap monitor.Snapshot, info scheduler.Info, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	var b strings.Builder
	b.WriteString("📊 Status\n")
	for _, m := range snap.Metrics {
		label := m.Metric.Label
		if label == "" {
			label = m.Metric.Name
		}
		unit := m.Metric.Unit
		th := alert.FormatValue(m.Threshold) + unit
		if m.Evaluations == 0 {
			fmt.Fprintf(&b, "• %s: no reading yet (threshold %s)\n", label, th)
			continue
		}
		mark := "✅ normal"
		if m.State.Alerting {
			mark = "⚠️ alerting"
		}
		fmt.Fprintf(&b, "• %s: %s%s %s (threshold %s)\n", label, alert.FormatValue(m.State.LastValue), unit, mark, th)
	}

	if snap.Last.At.IsZero() {
		b.WriteString("Last poll: never\n")
	} else {
		fmt.Fprintf(&b, "Last poll: %s (%s)", snap.Last.At.In(loc).Format(stampLayout), snap.Last.Took.Round(time.Millisecond))
		if snap.Last.EntryID > 0 {
			fmt.Fprintf(&b, ", entry #%d", snap.Last.EntryID)
		}
		b.WriteString("\n")
		if snap.Last.Err != "" {
			fmt.Fprintf(&b, "Last error: %s\n", snap.Last.Err)
		}
	}
	if !info.Next.IsZero() {
		fmt.Fprintf(&b, "Next poll: %s (%s)\n", info.Next.In(loc).Format(stampLayout), info.Schedule)
	}
	return strings.TrimRight(b.String(), "\n")
}
