package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/censo/censo/backend/go-services/internal/record"
	"github.com/censo/censo/backend/go-services/internal/record/cache"
	"github.com/censo/censo/backend/go-services/internal/record/notify"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	t0 := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)
	older := docAt(t0, nil)
	newer := docAt(t0.Add(time.Second), nil)
	same := docAt(t0, nil)

	cases := []struct {
		name          string
		local, remote *record.Document
		want          Decision
	}{
		{"both absent", nil, nil, DecisionNoop},
		{"local only", older, nil, DecisionPushLocal},
		{"remote only", nil, older, DecisionAdopt},
		{"remote newer", older, newer, DecisionAdopt},
		{"local newer", newer, older, DecisionPushNewer},
		{"tie keeps local", older, same, DecisionKeepLocal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Decide(tc.local, tc.remote))
		})
	}
}

func TestDeepSync_PushesLocalOnlyRecord(t *testing.T) {
	lc := cache.NewMemoryCache()
	local := docAt(time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC), map[string]any{"schemaVersion": 2})
	require.NoError(t, lc.Put(context.Background(), testDate, local))

	h := newHarness(t, nil, lc, testOptions())

	require.Eventually(t, func() bool { return h.remote.get(testDate) != nil }, time.Second, 5*time.Millisecond)
	require.True(t, h.remote.get(testDate).LastUpdated.Equal(local.LastUpdated))
	require.True(t, h.remote.writes()[0].IsZero())
	require.True(t, h.o.Document().LastUpdated.Equal(local.LastUpdated))
}

func TestDeepSync_AdoptsRemoteOnlyRecord(t *testing.T) {
	remote := newFakeRemote()
	theirs := docAt(time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC), map[string]any{"nursesNightShift": []any{"Rosa"}})
	remote.set(theirs)

	h := newHarness(t, remote, nil, testOptions())

	require.Equal(t, []any{"Rosa"}, h.o.Document().Data["nursesNightShift"])
	require.Equal(t, []any{"Rosa"}, h.cached(t).Data["nursesNightShift"])
	require.Empty(t, remote.writes())
}

func TestDeepSync_NewerWins(t *testing.T) {
	t0 := time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)

	t.Run("remote newer", func(t *testing.T) {
		remote := newFakeRemote()
		remote.set(docAt(t0.Add(time.Minute), map[string]any{"schemaVersion": "remote"}))
		lc := cache.NewMemoryCache()
		require.NoError(t, lc.Put(context.Background(), testDate, docAt(t0, map[string]any{"schemaVersion": "local"})))

		h := newHarness(t, remote, lc, testOptions())
		require.Equal(t, "remote", h.o.Document().Data["schemaVersion"])
		require.Equal(t, "remote", h.cached(t).Data["schemaVersion"])
	})

	t.Run("local newer", func(t *testing.T) {
		remote := newFakeRemote()
		remote.set(docAt(t0, map[string]any{"schemaVersion": "remote"}))
		lc := cache.NewMemoryCache()
		require.NoError(t, lc.Put(context.Background(), testDate, docAt(t0.Add(time.Minute), map[string]any{"schemaVersion": "local"})))

		h := newHarness(t, remote, lc, testOptions())
		require.Equal(t, "local", h.o.Document().Data["schemaVersion"])
		require.Eventually(t, func() bool {
			return remote.get(testDate).Data["schemaVersion"] == "local"
		}, time.Second, 5*time.Millisecond)
		require.Len(t, remote.writes(), 1)
		require.True(t, remote.writes()[0].Equal(t0))
		require.Eventually(t, func() bool { return h.notes.Count(notify.LevelSuccess) == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("local newer but remote moved", func(t *testing.T) {
		remote := newFakeRemote()
		remote.set(docAt(t0, map[string]any{"schemaVersion": "remote"}))
		lc := cache.NewMemoryCache()
		require.NoError(t, lc.Put(context.Background(), testDate, docAt(t0.Add(time.Minute), map[string]any{"schemaVersion": "local"})))
		started, release := remote.hold()

		h := newHarness(t, remote, lc, testOptions())
		<-started
		// another device commits while the push is on the wire
		remote.set(docAt(t0.Add(30*time.Second), map[string]any{"schemaVersion": "other"}))
		release()

		require.Eventually(t, func() bool { return h.notes.Count(notify.LevelWarning) == 1 }, time.Second, 5*time.Millisecond)
		require.Equal(t, "other", remote.get(testDate).Data["schemaVersion"])
		require.Eventually(t, func() bool {
			return h.o.Document().Data["schemaVersion"] == "other"
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("tie keeps local", func(t *testing.T) {
		remote := newFakeRemote()
		remote.set(docAt(t0, map[string]any{"schemaVersion": "remote"}))
		lc := cache.NewMemoryCache()
		require.NoError(t, lc.Put(context.Background(), testDate, docAt(t0, map[string]any{"schemaVersion": "local"})))

		h := newHarness(t, remote, lc, testOptions())
		require.Equal(t, "local", h.o.Document().Data["schemaVersion"])
	})
}

func TestDeepSync_ReconnectPushesOfflineEdit(t *testing.T) {
	h := newHarness(t, nil, nil, testOptions())
	ctx := context.Background()
	require.NoError(t, h.o.ApplyPatch(ctx, record.Patch{"beds.R1.patientName": "Ana"}))

	h.remote.setWriteErr(errors.New("network unreachable"))
	h.o.SetOnline(false)
	require.NoError(t, h.o.ApplyPatch(ctx, record.Patch{"beds.R1.patientName": "Juan"}))
	require.Equal(t, StatusError, h.o.Status())
	require.Equal(t, "Ana", lookup(h.remote.get(testDate), "beds.R1.patientName"))

	h.remote.setWriteErr(nil)
	h.o.SetOnline(true)

	require.Eventually(t, func() bool {
		return lookup(h.remote.get(testDate), "beds.R1.patientName") == "Juan"
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.o.Status() != StatusError }, time.Second, 5*time.Millisecond)
	require.True(t, h.remote.get(testDate).LastUpdated.Equal(h.o.Document().LastUpdated))
	require.True(t, h.cached(t).LastUpdated.Equal(h.o.Document().LastUpdated))
}

func TestDeepSync_TieWritesMemoryBackToCache(t *testing.T) {
	remote := newFakeRemote()
	lc := cache.NewMemoryCache()
	h := newHarness(t, remote, lc, testOptions())
	ctx := context.Background()
	require.NoError(t, h.o.ApplyPatch(ctx, record.Patch{"beds.R1.patientName": "Ana"}))

	require.NoError(t, lc.Delete(ctx, testDate))
	require.NoError(t, h.o.DeepSync(ctx))

	require.Equal(t, "Ana", lookup(h.cached(t), "beds.R1.patientName"))
	require.Len(t, remote.writes(), 1)
}

func TestDeepSync_PushSkippedWhileWriteInFlight(t *testing.T) {
	h := newHarness(t, nil, nil, testOptions())
	ctx := context.Background()
	require.NoError(t, h.o.ApplyPatch(ctx, record.Patch{"beds.R1.patientName": "Ana"}))

	started, release := h.remote.hold()
	done, err := h.o.ApplyPatchAsync(ctx, record.Patch{"beds.R1.patientName": "Juan"})
	require.NoError(t, err)
	<-started

	// memory is ahead of the remote, but the pending write already carries it
	require.NoError(t, h.o.DeepSync(ctx))
	release()
	require.NoError(t, <-done)

	require.Len(t, h.remote.writes(), 2)
	require.Equal(t, "Juan", lookup(h.remote.get(testDate), "beds.R1.patientName"))
}

func TestClose_DuringDeepSyncPush(t *testing.T) {
	lc := cache.NewMemoryCache()
	require.NoError(t, lc.Put(context.Background(), testDate, docAt(time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC), nil)))
	remote := newFakeRemote()
	started, release := remote.hold()
	defer release()

	o := New(testDate, lc, remote, notify.NewRecorder(), testOptions())
	require.NoError(t, o.Start(context.Background()))
	<-started

	closed := make(chan struct{})
	go func() {
		o.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a pending deep sync push")
	}
	require.Empty(t, remote.writes())
}

func TestDeepSync_IsIdempotent(t *testing.T) {
	h := newHarness(t, nil, nil, testOptions())
	ctx := context.Background()
	require.NoError(t, h.o.ApplyPatch(ctx, record.Patch{"beds.R1.patientName": "Ana"}))
	before := h.o.Document()

	require.NoError(t, h.o.DeepSync(ctx))
	require.NoError(t, h.o.DeepSync(ctx))

	require.Equal(t, before, h.o.Document())
	require.Len(t, h.remote.writes(), 1)
}

func TestDeepSync_DecisionDiscardedAfterLocalMutation(t *testing.T) {
	h := newHarness(t, nil, nil, testOptions())
	ctx := context.Background()
	seq := h.o.seq.Load()

	require.NoError(t, h.o.ApplyPatch(ctx, record.Patch{"beds.R1.patientName": "Ana"}))

	reply := make(chan error, 1)
	stale := docAt(time.Now().Add(time.Hour), map[string]any{"beds": map[string]any{}})
	require.True(t, h.o.post(adoptEvent{seq: seq, reason: "deepsync", adopt: stale, reply: reply}))
	require.NoError(t, <-reply)

	require.Equal(t, "Ana", lookup(h.o.Document(), "beds.R1.patientName"))
}

func TestDeepSync_RemoteFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, nil, nil, testOptions())
	ctx := context.Background()
	require.NoError(t, h.o.ApplyPatch(ctx, record.Patch{"beds.R1.patientName": "Ana"}))
	before := h.o.Document()

	h.remote.mu.Lock()
	h.remote.fetchErr = errors.New("unreachable")
	h.remote.mu.Unlock()

	err := h.o.DeepSync(ctx)
	var te *record.TransientIOError
	require.ErrorAs(t, err, &te)
	require.Equal(t, before, h.o.Document())
}

func TestSetOnline_ResubscribesAndSyncs(t *testing.T) {
	remote := newFakeRemote()
	remote.subErr = errors.New("offline")
	h := newHarness(t, remote, nil, testOptions())
	require.Eventually(t, func() bool { return !h.o.Snapshot().Online }, time.Second, 5*time.Millisecond)

	remote.mu.Lock()
	remote.subErr = nil
	remote.mu.Unlock()
	remote.set(docAt(time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC), map[string]any{"schemaVersion": 3}))

	h.o.SetOnline(true)
	require.Eventually(t, func() bool { return h.o.Document() != nil }, time.Second, 5*time.Millisecond)
	require.True(t, h.o.Snapshot().Online)

	theirs := docAt(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC), map[string]any{"schemaVersion": 4})
	remote.push(theirs, false)
	require.Eventually(t, func() bool { return h.o.Document().Data["schemaVersion"] == 4 }, time.Second, 5*time.Millisecond)
}
