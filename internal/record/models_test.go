package record

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDocumentJSONFlattensData(t *testing.T) {
	ts := time.Date(2025, 1, 1, 10, 30, 0, 123000000, time.UTC)
	d := &Document{Date: "2025-01-01", LastUpdated: ts, Data: map[string]any{
		"beds": map[string]any{"R1": map[string]any{"patientName": "Juan"}},
	}}
	b, err := json.Marshal(d)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	require.Equal(t, "2025-01-01", raw["date"])
	require.Equal(t, "2025-01-01T10:30:00.123Z", raw["lastUpdated"])
	require.Contains(t, raw, "beds")

	var back Document
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, d.Date, back.Date)
	require.True(t, d.LastUpdated.Equal(back.LastUpdated))
	require.NotContains(t, back.Data, "date")
	require.NotContains(t, back.Data, "lastUpdated")
}

func TestCloneIsDeep(t *testing.T) {
	d := &Document{Date: "d", Data: map[string]any{
		"beds": map[string]any{"R1": map[string]any{"n": "a"}},
		"list": []any{map[string]any{"x": 1}},
	}}
	c := d.Clone()
	c.Data["beds"].(map[string]any)["R1"].(map[string]any)["n"] = "b"
	c.Data["list"].([]any)[0].(map[string]any)["x"] = 2
	v, _ := d.Lookup("beds.R1.n")
	require.Equal(t, "a", v)
	require.Equal(t, 1, d.Data["list"].([]any)[0].(map[string]any)["x"])
}

func TestNextStampStrictlyIncreases(t *testing.T) {
	prev := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	require.Equal(t, prev.Add(time.Second), NextStamp(prev, prev.Add(time.Second)))
	require.Equal(t, prev.Add(time.Millisecond), NextStamp(prev, prev))
	require.Equal(t, prev.Add(time.Millisecond), NextStamp(prev, prev.Add(-time.Hour)))
	require.Equal(t, prev.Add(time.Millisecond), NextStamp(prev, prev.Add(300*time.Microsecond)))
}

func TestErrorClassification(t *testing.T) {
	ce := &ConcurrencyError{Key: "2025-01-01"}
	require.True(t, IsConflict(ce))
	require.True(t, IsConflict(Transient("write", "k", ce)))

	err := Transient("write", "2025-01-01", errors.New("connection reset"))
	var te *TransientIOError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "write", te.Op)
	require.False(t, IsConflict(err))

	require.ErrorIs(t, Transient("fetch", "k", ErrNotFound), ErrNotFound)
	require.NoError(t, Transient("fetch", "k", nil))
	require.True(t, IsMalformed(&MalformedPatchError{Path: "x"}))
}
