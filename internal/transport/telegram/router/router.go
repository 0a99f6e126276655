// Package router dispatches bot commands from the configured chat to their
// handlers on a small worker pool.
package router

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"thingwatch/internal/runtime/supervisor"
	kit "thingwatch/internal/transport"
	logx "thingwatch/pkg/logx"
)

type Command struct {
	Name        string
	Description string
	// Timeout overrides the router default for this command.
	Timeout time.Duration
	Handle  HandlerFunc
	// Hidden commands work but stay out of the menu and /help.
	Hidden bool
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Logger  logx.Logger

	sender kit.Sender
}

// Reply sends text back to the chat and thread the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

type Config struct {
	// Chat is the only chat whose commands are served.
	Chat kit.ChatTarget
	// BotUsername lets "/status@name" addressed to other bots be ignored.
	BotUsername string
	Workers     int
	Timeout     time.Duration
}

type Router struct {
	log    logx.Logger
	sender kit.Sender

	mu   sync.RWMutex
	cfg  Config
	cmds map[string]Command

	jobs chan func(context.Context)
}

func New(cfg Config, sender kit.Sender, log logx.Logger) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	r := &Router{
		log:    log,
		sender: sender,
		cfg:    cfg,
		cmds:   make(map[string]Command),
		jobs:   make(chan func(context.Context), 16),
	}
	help := Command{Name: "help", Description: "List commands", Handle: r.handleHelp}
	r.cmds["help"] = help
	start := help
	start.Name, start.Hidden = "start", true
	r.cmds["start"] = start
	return r
}

// Register adds or replaces commands.
func (r *Router) Register(cmds ...Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		r.cmds[name] = c
	}
}

// SetChat changes the served chat, e.g. after a config reload.
func (r *Router) SetChat(to kit.ChatTarget) {
	r.mu.Lock()
	r.cfg.Chat = to
	r.mu.Unlock()
}

// MenuCommands lists the visible commands for setMyCommands, sorted by name.
func (r *Router) MenuCommands() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(r.cmds))
	for _, c := range r.cmds {
		if c.Hidden {
			continue
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

func (r *Router) handleHelp(ctx context.Context, req *Request) error {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range r.MenuCommands() {
		b.WriteString("/" + c.Command + " - " + c.Description + "\n")
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

// Run consumes updates until ctx is done or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(r.log))
	for i := 0; i < r.cfg.Workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					job(c)
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command router started", logx.Int("workers", r.cfg.Workers))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(up)
		}
	}
}

func (r *Router) route(up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	m := up.Message

	r.mu.RLock()
	allowed := r.cfg.Chat
	botName := r.cfg.BotUsername
	timeout := r.cfg.Timeout
	r.mu.RUnlock()

	name, args, ok := parseCommand(m.Text, botName)
	if !ok {
		return
	}
	if m.ChatID != allowed.ChatID {
		r.log.Debug("command from foreign chat ignored",
			logx.Int64("chat_id", m.ChatID),
			logx.Int64("from_id", m.FromID),
			logx.String("cmd", name),
		)
		return
	}

	r.mu.RLock()
	cmd, found := r.cmds[name]
	r.mu.RUnlock()
	if !found {
		r.log.Debug("unknown command", logx.String("cmd", name))
		return
	}
	if cmd.Timeout > 0 {
		timeout = cmd.Timeout
	}

	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID},
		FromID:  m.FromID,
		Command: name,
		Args:    args,
		Logger:  r.log.With(logx.String("cmd", name)),
		sender:  r.sender,
	}
	h := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)

	select {
	case r.jobs <- func(ctx context.Context) { _ = h(ctx, req) }:
	default:
		r.log.Warn("command dropped (queue full)", logx.String("cmd", name), logx.Int("queue_cap", cap(r.jobs)))
	}
}

// parseCommand splits "/status@bot arg" into ("status", ["arg"]). Commands
// addressed to another bot are rejected.
func parseCommand(text, botUsername string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	word := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		target := word[i+1:]
		word = word[:i]
		if botUsername != "" && !strings.EqualFold(target, botUsername) {
			return "", nil, false
		}
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), fields[1:], true
}
