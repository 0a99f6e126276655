package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"thingwatch/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string // default ./thingwatch.log
}

type TelegramConfig struct {
	Enabled    bool
	MinLevel   string // default warn
	RatePerSec int
}

// Service owns the log sinks. Apply rebuilds them; every Logger derived
// from the service sees the new set on its next call.
type Service struct {
	root atomic.Pointer[zerolog.Logger]
	chat *chatSink

	mu   sync.Mutex // serializes Apply and Close
	file *os.File
}

// New applies cfg and returns the service with its root logger. sender may
// be nil, in which case the chat sink drops everything.
func New(cfg Config, sender transport.Sender) (*Service, Logger) {
	s := &Service{chat: newChatSink(sender)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// SetTelegramTarget picks the chat that receives forwarded log lines.
func (s *Service) SetTelegramTarget(to transport.ChatTarget) { s.chat.setTarget(to) }

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, newConsoleWriter(os.Stdout))
	}

	// The old file stays open until the new logger is live.
	old := s.file
	s.file = nil
	if cfg.File.Enabled {
		f, err := openLogFile(cfg.File.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}

	if cfg.Telegram.Enabled {
		s.chat.configure(cfg.Telegram)
		s.chat.run()
		sinks = append(sinks, s.chat)
	}

	if len(sinks) == 0 {
		sinks = append(sinks, newConsoleWriter(os.Stdout))
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)

	if old != nil {
		_ = old.Close()
	}
}

// Close stops chat delivery and closes the log file. Lines still queued for
// the chat are dropped.
func (s *Service) Close() error {
	s.chat.close()

	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "./thingwatch.log"
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}
