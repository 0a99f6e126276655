package logx

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"thingwatch/internal/transport"
)

const chatQueueSize = 128

type chatLine struct {
	to   transport.ChatTarget
	text string
}

// chatSink is a zerolog.LevelWriter that forwards entries to a Telegram
// chat. Writes never block: lines over the rate limit or beyond the queue
// are dropped.
type chatSink struct {
	sender transport.Sender
	queue  chan chatLine

	mu      sync.Mutex
	to      transport.ChatTarget
	min     zerolog.Level
	limiter *rate.Limiter

	once sync.Once
	stop context.CancelFunc
	done chan struct{}
}

func newChatSink(sender transport.Sender) *chatSink {
	return &chatSink{
		sender: sender,
		queue:  make(chan chatLine, chatQueueSize),
		min:    zerolog.WarnLevel,
	}
}

func (c *chatSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	c.mu.Lock()
	c.min = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()
}

func (c *chatSink) setTarget(to transport.ChatTarget) {
	c.mu.Lock()
	c.to = to
	c.mu.Unlock()
}

// run starts the delivery goroutine once. After close it does nothing.
func (c *chatSink) run() {
	c.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.stop = cancel
		c.done = make(chan struct{})
		go c.deliver(ctx)
	})
}

func (c *chatSink) close() {
	c.once.Do(func() {})
	if c.stop != nil {
		c.stop()
		<-c.done
	}
}

func (c *chatSink) deliver(ctx context.Context) {
	defer close(c.done)
	opts := &transport.SendOptions{DisablePreview: true, Silent: true}
	for {
		select {
		case <-ctx.Done():
			return
		case ln := <-c.queue:
			if _, err := c.sender.SendText(ctx, ln.to, ln.text, opts); err != nil && ctx.Err() == nil {
				// Logging this through the service would loop back here.
				fmt.Fprintf(os.Stderr, "logx: chat delivery failed: %v\n", err)
			}
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.InfoLevel, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	to, ok := c.admit(level)
	if !ok {
		return len(p), nil
	}
	text := formatTelegramJSON(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case c.queue <- chatLine{to: to, text: text}:
	default:
	}
	return len(p), nil
}

func (c *chatSink) admit(level zerolog.Level) (transport.ChatTarget, bool) {
	if c.sender == nil {
		return transport.ChatTarget{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.to.IsZero() || c.limiter == nil || level < c.min {
		return transport.ChatTarget{}, false
	}
	return c.to, c.limiter.Allow()
}
