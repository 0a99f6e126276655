// Package feed reads the newest entry of a ThingSpeak channel.
package feed

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrFetch marks every failure to obtain a usable reading. Callers log
	// it and skip the poll cycle.
	ErrFetch = errors.New("feed fetch failed")

	ErrStatus    = errors.New("unexpected status")
	ErrEmptyFeed = errors.New("feed has no entries")
	ErrField     = errors.New("field missing or not numeric")
)

// Entry is the newest data point of a channel. Field values are kept as the
// raw strings ThingSpeak returns; Float converts them on demand.
type Entry struct {
	ID        int64
	CreatedAt time.Time
	Channel   string
	Fields    map[string]string
}

// Float returns the named field ("field1".."field8") as a float64.
// NaN and infinities are rejected like any other non-numeric text.
func (e Entry) Float(field string) (float64, error) {
	raw, ok := e.Fields[field]
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return 0, fmt.Errorf("%w: %w: %s is empty", ErrFetch, ErrField, field)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %w: %s=%q", ErrFetch, ErrField, field, raw)
	}
	return v, nil
}

// Wire format of GET /channels/{id}/feeds.json.
type feedsResponse struct {
	Channel struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"channel"`
	Feeds []feedEntry `json:"feeds"`
}

type feedEntry struct {
	CreatedAt time.Time `json:"created_at"`
	EntryID   int64     `json:"entry_id"`
	Field1    *string   `json:"field1"`
	Field2    *string   `json:"field2"`
	Field3    *string   `json:"field3"`
	Field4    *string   `json:"field4"`
	Field5    *string   `json:"field5"`
	Field6    *string   `json:"field6"`
	Field7    *string   `json:"field7"`
	Field8    *string   `json:"field8"`
}

func (f feedEntry) fields() map[string]string {
	out := make(map[string]string, 8)
	for i, v := range []*string{f.Field1, f.Field2, f.Field3, f.Field4, f.Field5, f.Field6, f.Field7, f.Field8} {
		if v != nil {
			out["field"+strconv.Itoa(i+1)] = *v
		}
	}
	return out
}

// ValidField reports whether name is one of ThingSpeak's eight data fields.
func ValidField(name string) bool {
	if !strings.HasPrefix(name, "field") {
		return false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, "field"))
	return err == nil && n >= 1 && n <= 8
}
