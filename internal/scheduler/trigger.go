package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"thingwatch/pkg/logx"
)

// Trigger decides when the job fires.
type Trigger interface {
	// Start begins calling fn. It must not block.
	Start(fn func()) error
	// Stop prevents further calls and waits for running ones or ctx.
	Stop(ctx context.Context) error
	// Next is the next planned call, zero when unknown.
	Next() time.Time
	String() string
}

// CronTrigger fires on a cron or interval schedule. Ticks that arrive while
// the previous call is still running are dropped, and panics are recovered.
type CronTrigger struct {
	sched Schedule
	loc   *time.Location
	log   logx.Logger

	mu       sync.Mutex
	c        *cron.Cron
	id       cron.EntryID
	compiled cron.Schedule
}

func NewCronTrigger(s Schedule, loc *time.Location, log logx.Logger) *CronTrigger {
	if loc == nil {
		loc = time.Local
	}
	return &CronTrigger{sched: s, loc: loc, log: log}
}

func (t *CronTrigger) Start(fn func()) error {
	compiled, err := t.sched.compile()
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return fmt.Errorf("trigger already started")
	}
	cl := cronLogger{log: t.log}
	c := cron.New(
		cron.WithLocation(t.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	t.id = c.Schedule(compiled, cron.FuncJob(fn))
	c.Start()
	t.c = c
	t.compiled = compiled
	return nil
}

func (t *CronTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	c := t.c
	t.c = nil
	t.mu.Unlock()
	if c == nil {
		return nil
	}
	done := c.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *CronTrigger) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c == nil {
		return time.Time{}
	}
	if next := t.c.Entry(t.id).Next; !next.IsZero() {
		return next
	}
	// The cron loop fills Entry.Next asynchronously after Start.
	return t.compiled.Next(time.Now().In(t.loc))
}

func (t *CronTrigger) String() string {
	if t.loc != nil && t.loc != time.Local {
		return t.sched.String() + " (" + t.loc.String() + ")"
	}
	return t.sched.String()
}

// cronLogger routes robfig/cron's logr-style calls into logx. Its chatty
// lifecycle messages go to debug; dropped ticks are worth an info line.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	if msg == "skip" {
		l.log.Info("tick skipped, previous poll still running")
		return
	}
	l.log.Debug("cron "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}

// ManualTrigger fires only when Fire is called, so tests can drive a
// Service synchronously.
type ManualTrigger struct {
	mu   sync.Mutex
	fn   func()
	next time.Time
}

func (m *ManualTrigger) Start(fn func()) error {
	m.mu.Lock()
	m.fn = fn
	m.mu.Unlock()
	return nil
}

func (m *ManualTrigger) Stop(context.Context) error {
	m.mu.Lock()
	m.fn = nil
	m.mu.Unlock()
	return nil
}

// Fire calls the job in the caller's goroutine. It reports false when the
// trigger is not running.
func (m *ManualTrigger) Fire() bool {
	m.mu.Lock()
	fn := m.fn
	m.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

func (m *ManualTrigger) SetNext(t time.Time) {
	m.mu.Lock()
	m.next = t
	m.mu.Unlock()
}

func (m *ManualTrigger) Next() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}

func (m *ManualTrigger) String() string { return "manual" }
