package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"thingwatch/pkg/logx"
)

const sampleFeed = `{
  "channel": {"id": 12345, "name": "Backyard station", "field1": "Temperature", "field3": "AQI"},
  "feeds": [
    {"created_at": "2026-10-19T06:15:00Z", "entry_id": 981, "field1": "21.5", "field2": null, "field3": "63.20"}
  ]
}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, ChannelID: "12345", APIKey: "READKEY"}, srv.Client(), logx.Nop())
}

func TestLatestParsesNewestEntry(t *testing.T) {
	var gotPath, gotKey, gotResults string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("api_key")
		gotResults = r.URL.Query().Get("results")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleFeed))
	})

	e, err := c.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest() error: %v", err)
	}
	if gotPath != "/channels/12345/feeds.json" || gotKey != "READKEY" || gotResults != "1" {
		t.Fatalf("unexpected request: path=%s api_key=%s results=%s", gotPath, gotKey, gotResults)
	}
	if e.ID != 981 || e.Channel != "Backyard station" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if !e.CreatedAt.Equal(time.Date(2026, 10, 19, 6, 15, 0, 0, time.UTC)) {
		t.Fatalf("CreatedAt = %v", e.CreatedAt)
	}

	aqi, err := e.Float("field3")
	if err != nil || aqi != 63.2 {
		t.Fatalf("field3 = %v, %v", aqi, err)
	}
	temp, err := e.Float("field1")
	if err != nil || temp != 21.5 {
		t.Fatalf("field1 = %v, %v", temp, err)
	}
	if _, err := e.Float("field2"); !errors.Is(err, ErrField) || !errors.Is(err, ErrFetch) {
		t.Fatalf("null field2 error = %v", err)
	}
}

func TestLatestFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "empty feeds", status: http.StatusOK, body: `{"channel":{},"feeds":[]}`, wantErr: ErrEmptyFeed},
		{name: "non 2xx", status: http.StatusBadRequest, body: `-1`, wantErr: ErrStatus},
		{name: "malformed json", status: http.StatusOK, body: `{"feeds":`, wantErr: ErrFetch},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Latest(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Latest() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrFetch) {
				t.Fatalf("Latest() error = %v, want it to wrap ErrFetch", err)
			}
		})
	}
}

func TestLatestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(Config{BaseURL: url, ChannelID: "1"}, nil, logx.Nop())
	if _, err := c.Latest(context.Background()); !errors.Is(err, ErrFetch) {
		t.Fatalf("Latest() error = %v, want ErrFetch", err)
	}
}

func TestEntryFloatNonNumeric(t *testing.T) {
	e := Entry{Fields: map[string]string{
		"field1": "n/a",
		"field2": "NaN",
		"field3": "Inf",
		"field5": "-Infinity",
		"field6": "  ",
	}}
	for _, field := range []string{"field1", "field2", "field3", "field4", "field5", "field6"} {
		if v, err := e.Float(field); !errors.Is(err, ErrField) || !errors.Is(err, ErrFetch) {
			t.Fatalf("Float(%s) = %v, %v, want ErrField", field, v, err)
		}
	}
	ok := Entry{Fields: map[string]string{"field1": " -3.5 ", "field2": "1e3"}}
	if v, err := ok.Float("field1"); err != nil || v != -3.5 {
		t.Fatalf("Float(field1) = %v, %v, want -3.5", v, err)
	}
	if v, err := ok.Float("field2"); err != nil || v != 1000 {
		t.Fatalf("Float(field2) = %v, %v, want 1000", v, err)
	}
}

func TestURLOmitsEmptyAPIKey(t *testing.T) {
	c := New(Config{ChannelID: "99"}, nil, logx.Nop())
	if got, want := c.URL(), "https://api.thingspeak.com/channels/99/feeds.json?results=1"; got != want {
		t.Fatalf("URL() = %s, want %s", got, want)
	}
}

func TestValidField(t *testing.T) {
	for name, want := range map[string]bool{"field1": true, "field8": true, "field0": false, "field9": false, "temp": false} {
		if got := ValidField(name); got != want {
			t.Fatalf("ValidField(%q) = %v, want %v", name, got, want)
		}
	}
}
