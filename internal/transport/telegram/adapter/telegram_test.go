package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	kit "thingwatch/internal/transport"
	logx "thingwatch/pkg/logx"
)

func TestSplitTelegramTextShort(t *testing.T) {
	got := splitTelegramText("✅ Air quality has normalized: 40", 100, "")
	if len(got) != 1 || got[0] != "✅ Air quality has normalized: 40" {
		t.Fatalf("split = %q", got)
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	line := strings.Repeat("a", 30)
	text := strings.Join([]string{line, line, line, line}, "\n")
	got := splitTelegramText(text, 70, "")
	if len(got) != 2 {
		t.Fatalf("chunks = %d: %q", len(got), got)
	}
	for _, c := range got {
		if len([]rune(c)) > 70 {
			t.Fatalf("chunk too long: %d", len([]rune(c)))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk keeps newline edges: %q", c)
		}
	}
	if got[0] != line+"\n"+line {
		t.Fatalf("first chunk = %q", got[0])
	}
}

func TestSplitTelegramTextAvoidsTags(t *testing.T) {
	text := strings.Repeat("x", 18) + "<b>bold</b>"
	got := splitTelegramText(text, 20, "HTML")
	if got[0] != strings.Repeat("x", 18) {
		t.Fatalf("first chunk = %q", got[0])
	}
	if strings.Join(got, "") != text {
		t.Fatalf("chunks lost text: %q", got)
	}
}

func TestSplitTelegramTextRunes(t *testing.T) {
	text := strings.Repeat("😷", 25)
	got := splitTelegramText(text, 10, "")
	if len(got) != 3 || len([]rune(got[2])) != 5 {
		t.Fatalf("split = %q", got)
	}
}

// fakeBotAPI answers getMe and sendMessage and records sendMessage bodies.
type fakeBotAPI struct {
	mu    sync.Mutex
	sends []map[string]any
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"thingwatch","username":"thingwatch_bot"}}`)
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.sends = append(f.sends, body)
		n := len(f.sends)
		f.mu.Unlock()
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":0,"chat":{"id":-100,"type":"supergroup"},"text":"x"}}`, 100+n)
	default:
		http.NotFound(w, r)
	}
}

func TestSendTextMapsOptions(t *testing.T) {
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	a, err := New(Config{Token: "123:abc", URL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if a.Username() != "thingwatch_bot" {
		t.Fatalf("Username() = %q", a.Username())
	}

	to := kit.ChatTarget{ChatID: -100, ThreadID: 7}
	ref, err := a.SendText(context.Background(), to, "⚠️ Attention! Air pollution index exceeded: 60 😷", &kit.SendOptions{Silent: true, DisablePreview: true})
	if err != nil {
		t.Fatalf("SendText() error: %v", err)
	}
	if ref.MessageID != 101 || ref.ChatID != -100 || ref.ThreadID != 7 {
		t.Fatalf("ref = %+v", ref)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.sends) != 1 {
		t.Fatalf("sendMessage calls = %d", len(api.sends))
	}
	body := api.sends[0]
	checks := map[string]string{
		"chat_id":              "-100",
		"text":                 "⚠️ Attention! Air pollution index exceeded: 60 😷",
		"disable_notification": "true",
		"message_thread_id":    "7",
	}
	for k, want := range checks {
		if got := fmt.Sprint(body[k]); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
}

func TestSendTextSplitsLongMessages(t *testing.T) {
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	a, err := New(Config{Token: "123:abc", URL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	text := strings.Repeat("status line\n", 600)
	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: -100}, text, nil)
	if err != nil {
		t.Fatalf("SendText() error: %v", err)
	}
	if ref.MessageID != 101 {
		t.Fatalf("ref should point at the first chunk: %+v", ref)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.sends) != 2 {
		t.Fatalf("sendMessage calls = %d, want 2", len(api.sends))
	}
}

func TestStartWithoutPollingIsSendOnly(t *testing.T) {
	srv := httptest.NewServer(&fakeBotAPI{})
	defer srv.Close()

	a, err := New(Config{Token: "123:abc", URL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	out := make(chan kit.Update, 1)
	if err := a.Start(context.Background(), out); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{Token: " "}, logx.Nop()); err == nil {
		t.Fatal("New() accepted an empty token")
	}
}
