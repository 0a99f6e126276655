// Package notifier delivers alert messages to the configured chat.
//
// Delivery is synchronous: the poll cycle that produced an alert waits for
// the send (bounded by the token bucket and ctx) so the result can be logged
// next to the reading. There is exactly one destination and no retry; a
// failed send surfaces as ErrNotify and the next poll carries on.
//
// A small in-memory history of recent messages and send counters back /healthz.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"thingwatch/internal/transport"
	"thingwatch/pkg/logx"
)

var (
	// ErrNotify marks a rejected or failed send.
	ErrNotify = errors.New("notification failed")

	ErrNoTarget = errors.New("notifier has no target chat")
)

const historySize = 50

type Config struct {
	Target     transport.ChatTarget
	RatePerSec int
	Silent     bool
}

type HistoryItem struct {
	At   time.Time
	Text string
	Err  string
}

// Observer is told about every attempt. Metrics hook in here.
type Observer func(err error)

type Service struct {
	sender  transport.Sender
	log     logx.Logger
	observe Observer

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	history []HistoryItem
	sent    uint64
	failed  uint64
}

func New(cfg Config, sender transport.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log}
	s.applyLocked(cfg)
	return s
}

// SetObserver installs a hook called after every send attempt.
func (s *Service) SetObserver(fn Observer) {
	s.mu.Lock()
	s.observe = fn
	s.mu.Unlock()
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		// Telegram allows roughly one message per second per chat.
		cfg.RatePerSec = 1
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Target() transport.ChatTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Target
}

// Notify sends text to the configured chat. Errors wrap ErrNotify.
func (s *Service) Notify(ctx context.Context, text string) error {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	observe := s.observe
	s.mu.Unlock()

	err := s.send(ctx, cfg, lim, text)
	s.record(text, err)
	if observe != nil {
		observe(err)
	}
	return err
}

func (s *Service) send(ctx context.Context, cfg Config, lim *rate.Limiter, text string) error {
	if cfg.Target.IsZero() {
		return fmt.Errorf("%w: %w", ErrNotify, ErrNoTarget)
	}
	if s.sender == nil {
		return fmt.Errorf("%w: no sender", ErrNotify)
	}
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit: %w", ErrNotify, err)
	}
	start := time.Now()
	ref, err := s.sender.SendText(ctx, cfg.Target, text, &transport.SendOptions{DisablePreview: true, Silent: cfg.Silent})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotify, err)
	}
	s.log.Debug("message delivered",
		logx.Int64("chat_id", ref.ChatID),
		logx.Int("message_id", ref.MessageID),
		logx.Duration("took", time.Since(start)),
	)
	return nil
}

func (s *Service) record(text string, err error) {
	it := HistoryItem{At: time.Now(), Text: text}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		it.Err = err.Error()
		s.failed++
	} else {
		s.sent++
	}
	s.history = append(s.history, it)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
}

// History returns the most recent attempts, oldest first.
func (s *Service) History() []HistoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

// Counts returns delivered and failed totals since start.
func (s *Service) Counts() (sent, failed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent, s.failed
}
