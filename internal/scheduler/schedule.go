package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Kind int

const (
	KindCron Kind = iota
	KindInterval
)

// Schedule is a parsed schedule string.
//
// Accepted forms:
//   - cron: "*/10 * * * *", "0 */5 * * * *" (optional seconds), "@hourly", "@every 10m"
//   - interval duration: "10m", "1h30m"
//   - interval HH:MM: "00:10" (ten minutes), "02:30"
//
// "cron:" forces cron parsing; "every:" or "interval:" force an interval.
type Schedule struct {
	Kind  Kind
	Expr  string
	Every time.Duration
	Raw   string
}

func (s Schedule) String() string {
	if s.Kind == KindInterval {
		return "every " + s.Every.String()
	}
	return s.Expr
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule parses and validates raw. Cron expressions are compiled
// here so a bad expression fails at load time, not at the first tick.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}

	var (
		out Schedule
		err error
	)
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		out = Schedule{Kind: KindCron, Expr: strings.TrimSpace(s[len("cron:"):])}
	case strings.HasPrefix(low, "every:"):
		out.Every, err = parseInterval(s[len("every:"):])
		out.Kind = KindInterval
	case strings.HasPrefix(low, "interval:"):
		out.Every, err = parseInterval(s[len("interval:"):])
		out.Kind = KindInterval
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		out = Schedule{Kind: KindCron, Expr: s}
	default:
		out.Every, err = parseInterval(s)
		out.Kind = KindInterval
		if err != nil {
			err = fmt.Errorf("invalid schedule %q (use cron like '*/10 * * * *', HH:MM like '00:10' or a duration like '10m')", raw)
		}
	}
	if err != nil {
		return Schedule{}, err
	}
	out.Raw = s
	if _, err := out.compile(); err != nil {
		return Schedule{}, err
	}
	return out, nil
}

func (s Schedule) compile() (cron.Schedule, error) {
	if s.Kind == KindInterval {
		if s.Every < time.Second {
			return nil, fmt.Errorf("interval must be at least 1s")
		}
		return cron.Every(s.Every), nil
	}
	if s.Expr == "" {
		return nil, fmt.Errorf("cron expression required")
	}
	sched, err := cronParser.Parse(s.Expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", s.Expr, err)
	}
	return sched, nil
}

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return 0, fmt.Errorf("interval must be > 0")
		}
		return d, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use HH:MM or a duration like '10m')", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
