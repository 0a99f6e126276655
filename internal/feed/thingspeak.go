package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"thingwatch/pkg/logx"
)

const DefaultBaseURL = "https://api.thingspeak.com"

type Config struct {
	BaseURL   string
	ChannelID string
	APIKey    string // empty for public channels
	Timeout   time.Duration
}

// Client fetches channel feeds over HTTP. It is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, httpClient *http.Client, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, http: httpClient, log: log}
}

// URL returns the request URL for the newest entry.
func (c *Client) URL() string {
	q := url.Values{}
	if c.cfg.APIKey != "" {
		q.Set("api_key", c.cfg.APIKey)
	}
	q.Set("results", "1")
	return c.cfg.BaseURL + "/channels/" + url.PathEscape(c.cfg.ChannelID) + "/feeds.json?" + q.Encode()
}

// Latest returns the newest channel entry. Every error wraps ErrFetch.
func (c *Client) Latest(ctx context.Context) (Entry, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(), http.NoBody)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Entry{}, fmt.Errorf("%w: %w: http %d: %s", ErrFetch, ErrStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out feedsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Entry{}, fmt.Errorf("%w: decode: %w", ErrFetch, err)
	}
	if len(out.Feeds) == 0 {
		return Entry{}, fmt.Errorf("%w: %w", ErrFetch, ErrEmptyFeed)
	}

	// results=1 yields one entry; take the last one in case the server ignores it.
	last := out.Feeds[len(out.Feeds)-1]
	e := Entry{
		ID:        last.EntryID,
		CreatedAt: last.CreatedAt,
		Channel:   out.Channel.Name,
		Fields:    last.fields(),
	}
	c.log.Debug("feed entry fetched",
		logx.Int64("entry_id", e.ID),
		logx.Time("created_at", e.CreatedAt),
		logx.Duration("took", time.Since(start)),
	)
	return e, nil
}
