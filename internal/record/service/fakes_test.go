package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/censo/censo/backend/go-services/internal/record"
	"github.com/censo/censo/backend/go-services/internal/record/cache"
	"github.com/censo/censo/backend/go-services/internal/record/notify"
	"github.com/censo/censo/backend/go-services/internal/record/patch"
	"github.com/stretchr/testify/require"
)

const testDate = "2025-03-14"

// fakeRemote is a controllable record.RemoteStore. Pushes are delivered
// only when a test calls push.
type fakeRemote struct {
	mu       sync.Mutex
	docs     map[string]*record.Document
	subs     map[int]record.UpdateFunc
	nextSub  int
	expected []time.Time
	writeErr error
	fetchErr error
	subErr   error
	gate     chan struct{}
	started  chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{docs: map[string]*record.Document{}, subs: map[int]record.UpdateFunc{}}
}

func (f *fakeRemote) Fetch(ctx context.Context, key string) (*record.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, record.Transient("fetch", key, f.fetchErr)
	}
	return f.docs[key].Clone(), nil
}

func (f *fakeRemote) Write(ctx context.Context, key string, doc *record.Document, expected time.Time) error {
	f.mu.Lock()
	gate, started := f.gate, f.started
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.expected = append(f.expected, expected)
	if f.writeErr != nil {
		return record.Transient("write", key, f.writeErr)
	}
	if cur := f.docs[key]; cur != nil && !cur.LastUpdated.Equal(expected) {
		return &record.ConcurrencyError{Key: key, Expected: expected, Current: cur.LastUpdated}
	}
	f.docs[key] = doc.Clone()
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, key)
	return nil
}

func (f *fakeRemote) Subscribe(ctx context.Context, key string, fn record.UpdateFunc) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, record.Transient("subscribe", key, f.subErr)
	}
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}, nil
}

func (f *fakeRemote) push(doc *record.Document, echo bool) {
	f.mu.Lock()
	fns := make([]record.UpdateFunc, 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(doc.Clone(), echo)
	}
}

func (f *fakeRemote) set(doc *record.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.Date] = doc.Clone()
}

func (f *fakeRemote) get(key string) *record.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[key].Clone()
}

func (f *fakeRemote) writes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, len(f.expected))
	copy(out, f.expected)
	return out
}

func (f *fakeRemote) setWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

// hold makes writes block until the returned release func is called.
func (f *fakeRemote) hold() (started <-chan struct{}, release func()) {
	gate := make(chan struct{})
	st := make(chan struct{}, 1)
	f.mu.Lock()
	f.gate = gate
	f.started = st
	f.mu.Unlock()
	var once sync.Once
	return st, func() { once.Do(func() { close(gate) }) }
}

func testOptions() Options {
	return Options{
		SavedResetDelay:      40 * time.Millisecond,
		SavingLockRelease:    20 * time.Millisecond,
		EchoGuardWindow:      time.Nanosecond,
		ConflictRefreshDelay: 30 * time.Millisecond,
		IOTimeout:            time.Second,
		Schema:               patch.CensusSchema(),
	}
}

type harness struct {
	o      *Orchestrator
	remote *fakeRemote
	cache  *cache.MemoryCache
	notes  *notify.Recorder
}

func newHarness(t *testing.T, remote *fakeRemote, lc *cache.MemoryCache, opts Options) *harness {
	t.Helper()
	if remote == nil {
		remote = newFakeRemote()
	}
	if lc == nil {
		lc = cache.NewMemoryCache()
	}
	rec := notify.NewRecorder()
	o := New(testDate, lc, remote, rec, opts)
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(o.Close)
	return &harness{o: o, remote: remote, cache: lc, notes: rec}
}

func (h *harness) cached(t *testing.T) *record.Document {
	t.Helper()
	d, err := h.cache.Get(context.Background(), testDate)
	require.NoError(t, err)
	return d
}

func docAt(ts time.Time, data map[string]any) *record.Document {
	return &record.Document{Date: testDate, LastUpdated: ts, Data: data}
}

func lookup(d *record.Document, path string) any {
	v, _ := d.Lookup(path)
	return v
}
