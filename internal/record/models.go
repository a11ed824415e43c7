package record

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Document is the daily census record for a single date. Data holds the
// mutable tree (beds keyed by bed id, staff rosters, discharge lists, ...);
// Date and LastUpdated are kept outside of it so patches cannot touch them.
type Document struct {
	Date        string
	LastUpdated time.Time
	Data        map[string]any
}

// Patch maps dot-separated paths ("beds.R1.patientName") to the value that
// should be assigned there. A nil value is assigned as-is.
type Patch map[string]any

const (
	fieldDate        = "date"
	fieldLastUpdated = "lastUpdated"
)

// New returns an empty record for date.
func New(date string) *Document {
	return &Document{Date: date, Data: map[string]any{}}
}

// Version is the optimistic-concurrency token of the document.
func (d *Document) Version() time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.LastUpdated
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{Date: d.Date, LastUpdated: d.LastUpdated}
	if d.Data != nil {
		out.Data = CloneValue(d.Data).(map[string]any)
	} else {
		out.Data = map[string]any{}
	}
	return out
}

// Lookup walks a dot path through Data.
func (d *Document) Lookup(path string) (any, bool) {
	if d == nil {
		return nil, false
	}
	var cur any = d.Data
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// NewerThan reports whether d carries a strictly later version than other.
func (d *Document) NewerThan(other *Document) bool {
	return d.Version().After(other.Version())
}

func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Data)+2)
	for k, v := range d.Data {
		out[k] = v
	}
	out[fieldDate] = d.Date
	if !d.LastUpdated.IsZero() {
		out[fieldLastUpdated] = d.LastUpdated.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}

func (d *Document) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	date, _ := raw[fieldDate].(string)
	d.Date = date
	d.LastUpdated = time.Time{}
	if s, ok := raw[fieldLastUpdated].(string); ok && s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("lastUpdated: %w", err)
		}
		d.LastUpdated = t.UTC()
	}
	delete(raw, fieldDate)
	delete(raw, fieldLastUpdated)
	d.Data = raw
	return nil
}

// NextStamp returns the lastUpdated value for a mutation made at now on top
// of a document stamped prev. Stamps have millisecond precision and never
// repeat or go backwards, even when the wall clock does.
func NextStamp(prev, now time.Time) time.Time {
	t := now.UTC().Truncate(time.Millisecond)
	if !t.After(prev) {
		t = prev.UTC().Truncate(time.Millisecond).Add(time.Millisecond)
	}
	return t
}

// CloneValue deep-copies the JSON-like values stored in a document.
// Anything that is not a map or slice is returned unchanged.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = CloneValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = CloneValue(vv)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = CloneValue(vv)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return v
	}
}
