// Package service implements the record synchronization engine: one
// Orchestrator per open date keeps the in-memory record, the device's local
// cache and the shared remote store consistent.
//
// All state of an Orchestrator is owned by a single event loop. Local
// mutations, pushed remote updates, write results, timers and deep-sync
// decisions are all delivered to that loop as events, so they are applied
// one at a time and in arrival order. I/O never runs on the loop except for
// the local cache, which is treated as fast and always available.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/censo/censo/backend/go-services/internal/record"
	"github.com/censo/censo/backend/go-services/internal/record/patch"
	"github.com/censo/censo/backend/go-services/pkg/logger"
	"github.com/censo/censo/backend/go-services/pkg/metrics"
)

const (
	titleSaveFailed   = "Error al guardar"
	titleConflict     = "Conflicto de edición"
	detailConflict    = "Otra persona modificó este registro. Se cargará la versión más reciente."
	titleSynchronized = "Cambios sincronizados"
)

type timerKind int

const (
	timerIdle timerKind = iota
	timerLock
	timerRefresh
)

type mutateEvent struct {
	patch   record.Patch
	replace *record.Document
	reply   chan mutateReply
}

type mutateReply struct {
	done <-chan error
	err  error
}

type remoteEvent struct {
	doc  *record.Document
	echo bool
}

type timerEvent struct {
	kind timerKind
	gen  uint64
}

type markEvent struct{}

type onlineEvent struct{ online bool }

// adoptEvent carries a decision made off-loop from fetched snapshots. It is
// discarded when a local mutation happened after seq was read.
type adoptEvent struct {
	seq    uint64
	reason string
	adopt  *record.Document
	push   *record.Document
	pushOn time.Time
	reply  chan error
}

type closeEvent struct{ done chan struct{} }

// Orchestrator synchronizes the record of a single date.
type Orchestrator struct {
	key      string
	cache    record.LocalCache
	remote   record.RemoteStore
	notifier record.Notifier
	opts     Options

	events chan any
	ctx    context.Context
	cancel context.CancelFunc
	loopWG sync.WaitGroup
	writer *writer

	snap   atomic.Pointer[Snapshot]
	seq    atomic.Uint64
	online atomic.Bool

	watchMu  sync.Mutex
	watchers map[int]chan Snapshot
	watchID  int

	subMu sync.Mutex
	unsub func()

	syncing atomic.Bool

	// owned by the loop goroutine
	doc               *record.Document
	status            Status
	lastSyncTime      time.Time
	lastLocalChangeAt time.Time
	savingNow         bool
	inFlight          int
	refreshPending    bool
	timers            [3]*time.Timer
	timerGen          [3]uint64
}

// New creates an orchestrator for key. Call Start before using it.
func New(key string, cache record.LocalCache, remote record.RemoteStore, notifier record.Notifier, opts Options) *Orchestrator {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		key:      key,
		cache:    cache,
		remote:   remote,
		notifier: notifier,
		opts:     opts.withDefaults(),
		events:   make(chan any, 64),
		ctx:      ctx,
		cancel:   cancel,
		watchers: make(map[int]chan Snapshot),
		status:   StatusIdle,
	}
	o.writer = newWriter(key, remote, o.opts.WriteTimeout, func(r writeResult) bool { return o.post(r) })
	o.publish()
	return o
}

// Key is the date this orchestrator owns.
func (o *Orchestrator) Key() string { return o.key }

// Start loads the cached record, subscribes to remote updates and runs the
// first deep sync. Remote failures are logged and leave the orchestrator
// working offline from the local cache.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.loopWG.Add(2)
	go o.loop()
	go func() {
		defer o.loopWG.Done()
		o.writer.run(o.ctx)
	}()

	cctx, cancel := context.WithTimeout(ctx, o.opts.IOTimeout)
	cached, err := o.cache.Get(cctx, o.key)
	cancel()
	if err != nil {
		metrics.CacheFailures.WithLabelValues("get").Inc()
		logger.Warnf("record %s: reading local cache failed: %v", o.key, err)
	} else if cached != nil {
		reply := make(chan error, 1)
		if o.post(adoptEvent{seq: o.seq.Load(), reason: "cache", adopt: cached, reply: reply}) {
			_ = o.wait(ctx, reply)
		}
	}

	o.online.Store(true)
	if err := o.ensureSubscribed(ctx); err != nil {
		logger.Warnf("record %s: subscribe failed, working offline: %v", o.key, err)
		o.online.Store(false)
		o.publishOnline()
		return nil
	}
	o.publishOnline()
	if err := o.DeepSync(ctx); err != nil {
		logger.Warnf("record %s: initial deep sync failed: %v", o.key, err)
	}
	return nil
}

// Close stops the orchestrator. Writes still queued are abandoned; their
// callers receive record.ErrClosed.
func (o *Orchestrator) Close() {
	done := make(chan struct{})
	if o.post(closeEvent{done: done}) {
		<-done
	}
	o.cancel()
	o.loopWG.Wait()

	o.subMu.Lock()
	if o.unsub != nil {
		o.unsub()
		o.unsub = nil
	}
	o.subMu.Unlock()

	o.watchMu.Lock()
	for id, ch := range o.watchers {
		close(ch)
		delete(o.watchers, id)
	}
	o.watchMu.Unlock()
}

// Snapshot returns the current document, status and last sync time.
func (o *Orchestrator) Snapshot() Snapshot {
	return *o.snap.Load()
}

// Document returns a copy of the in-memory record, or nil before one exists.
func (o *Orchestrator) Document() *record.Document {
	return o.Snapshot().Document.Clone()
}

// Status returns the current save status.
func (o *Orchestrator) Status() Status {
	return o.Snapshot().Status
}

// Watch streams snapshots until ctx is done. Slow receivers only see the
// latest snapshot.
func (o *Orchestrator) Watch(ctx context.Context) <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	ch <- o.Snapshot()

	o.watchMu.Lock()
	if o.ctx.Err() != nil {
		o.watchMu.Unlock()
		close(ch)
		return ch
	}
	id := o.watchID
	o.watchID++
	o.watchers[id] = ch
	o.watchMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-o.ctx.Done():
		}
		o.watchMu.Lock()
		defer o.watchMu.Unlock()
		if _, ok := o.watchers[id]; ok {
			delete(o.watchers, id)
			close(ch)
		}
	}()
	return ch
}

// ApplyPatch applies p to the in-memory record, caches it and waits for the
// remote write to settle. It returns a *record.MalformedPatchError for an
// unusable patch and a *record.ConcurrencyError when another device wrote
// first. Other I/O failures are reported through the status and the
// notifier, not returned.
func (o *Orchestrator) ApplyPatch(ctx context.Context, p record.Patch) error {
	done, err := o.ApplyPatchAsync(ctx, p)
	if err != nil {
		return err
	}
	return o.wait(ctx, done)
}

// ApplyPatchAsync is ApplyPatch without waiting for the remote write: it
// returns once the in-memory record reflects p. The channel yields the
// write outcome.
func (o *Orchestrator) ApplyPatchAsync(ctx context.Context, p record.Patch) (<-chan error, error) {
	return o.mutate(ctx, mutateEvent{patch: p})
}

// ReplaceAll swaps the whole record for doc, for compound edits that must
// land together. doc.Date must be empty or equal to the orchestrator key.
func (o *Orchestrator) ReplaceAll(ctx context.Context, doc *record.Document) error {
	done, err := o.ReplaceAllAsync(ctx, doc)
	if err != nil {
		return err
	}
	return o.wait(ctx, done)
}

// ReplaceAllAsync is the non-waiting form of ReplaceAll.
func (o *Orchestrator) ReplaceAllAsync(ctx context.Context, doc *record.Document) (<-chan error, error) {
	if doc == nil {
		return nil, &record.MalformedPatchError{Path: "", Reason: "nil document"}
	}
	if doc.Date != "" && doc.Date != o.key {
		return nil, &record.MalformedPatchError{Path: "date", Reason: fmt.Sprintf("date is immutable (have %s, got %s)", o.key, doc.Date)}
	}
	return o.mutate(ctx, mutateEvent{replace: doc.Clone()})
}

// MarkLocalChange hints that a local edit is about to be made, so pushes
// racing with it are held back by the echo guard.
func (o *Orchestrator) MarkLocalChange() {
	o.post(markEvent{})
}

// Refresh reloads the record from the remote store into memory and the
// local cache. A local mutation made while the fetch was in flight wins
// over the fetched copy.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	seq := o.seq.Load()
	fctx, cancel := context.WithTimeout(ctx, o.opts.IOTimeout)
	doc, err := o.remote.Fetch(fctx, o.key)
	cancel()
	if err != nil {
		logger.Warnf("record %s: refresh failed: %v", o.key, err)
		return err
	}
	if doc == nil {
		return record.ErrNotFound
	}
	reply := make(chan error, 1)
	if !o.post(adoptEvent{seq: seq, reason: "refresh", adopt: doc, reply: reply}) {
		return record.ErrClosed
	}
	return o.wait(ctx, reply)
}

// SetOnline reports connectivity changes. Going online triggers a deep
// sync.
func (o *Orchestrator) SetOnline(online bool) {
	o.post(onlineEvent{online: online})
}

func (o *Orchestrator) mutate(ctx context.Context, ev mutateEvent) (<-chan error, error) {
	ev.reply = make(chan mutateReply, 1)
	select {
	case o.events <- ev:
	case <-o.ctx.Done():
		return nil, record.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-ev.reply:
		return r.done, r.err
	case <-o.ctx.Done():
		return nil, record.ErrClosed
	}
}

func (o *Orchestrator) wait(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-o.ctx.Done():
		return record.ErrClosed
	}
}

// post hands ev to the loop; false means the orchestrator is closed.
func (o *Orchestrator) post(ev any) bool {
	if o.ctx.Err() != nil {
		return false
	}
	select {
	case o.events <- ev:
		return true
	case <-o.ctx.Done():
		return false
	}
}

func (o *Orchestrator) loop() {
	defer o.loopWG.Done()

	var tick <-chan time.Time
	if o.opts.ReconcileInterval > 0 {
		t := time.NewTicker(o.opts.ReconcileInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-o.ctx.Done():
			o.stopTimers()
			return
		case <-tick:
			if o.online.Load() {
				go o.backgroundDeepSync("tick")
			}
		case ev := <-o.events:
			switch e := ev.(type) {
			case mutateEvent:
				o.handleMutate(e)
			case writeResult:
				o.handleWriteResult(e)
			case remoteEvent:
				o.handleRemote(e)
			case adoptEvent:
				o.handleAdopt(e)
			case timerEvent:
				o.handleTimer(e)
			case markEvent:
				o.lastLocalChangeAt = o.opts.Now()
				o.savingNow = true
				o.schedule(timerLock, o.opts.SavingLockRelease)
			case onlineEvent:
				o.handleOnline(e.online)
			case refreshFailed:
				o.refreshPending = false
			case closeEvent:
				o.stopTimers()
				close(e.done)
			}
		}
	}
}

func (o *Orchestrator) handleMutate(ev mutateEvent) {
	prev := o.doc
	base := prev
	if base == nil {
		base = record.New(o.key)
	}

	var next *record.Document
	if ev.replace != nil {
		next = ev.replace
	} else {
		var err error
		next, err = patch.Apply(base, ev.patch, o.opts.Schema)
		if err != nil {
			ev.reply <- mutateReply{err: err}
			return
		}
	}
	now := o.opts.Now()
	next.Date = o.key
	next.LastUpdated = record.NextStamp(prev.Version(), now)
	if next.Data == nil {
		next.Data = map[string]any{}
	}

	o.doc = next
	o.seq.Add(1)
	o.lastLocalChangeAt = now
	o.savingNow = true
	o.cancelTimer(timerLock)
	o.setStatus(StatusSaving)
	o.putCache(next)

	done := make(chan error, 1)
	o.inFlight++
	o.writer.enqueue(writeJob{doc: next.Clone(), expected: prev.Version(), done: done})
	o.publish()
	ev.reply <- mutateReply{done: done}
}

func (o *Orchestrator) handleWriteResult(r writeResult) {
	o.inFlight -= len(r.jobs)
	o.schedule(timerLock, o.opts.SavingLockRelease)

	var callerErr error
	switch {
	case r.err == nil:
		metrics.RemoteWrites.WithLabelValues("ok").Inc()
		o.lastSyncTime = o.opts.Now()
		if o.inFlight == 0 {
			o.setStatus(StatusSaved)
			o.schedule(timerIdle, o.opts.SavedResetDelay)
		}
	case record.IsConflict(r.err):
		metrics.RemoteWrites.WithLabelValues("conflict").Inc()
		logger.Warnf("record %s: write rejected: %v", o.key, r.err)
		o.setStatus(StatusError)
		if !o.refreshPending {
			o.refreshPending = true
			o.notifier.Warning(titleConflict, detailConflict)
			o.schedule(timerRefresh, o.opts.ConflictRefreshDelay)
		}
		callerErr = r.err
	case errors.Is(r.err, context.Canceled) && o.ctx.Err() != nil:
		callerErr = record.ErrClosed
	default:
		metrics.RemoteWrites.WithLabelValues("error").Inc()
		logger.Errorf("record %s: write failed: %v", o.key, r.err)
		o.setStatus(StatusError)
		o.notifier.Error(titleSaveFailed, r.err.Error())
	}
	o.publish()
	for _, j := range r.jobs {
		j.done <- callerErr
	}
}

func (o *Orchestrator) handleRemote(ev remoteEvent) {
	doc := ev.doc
	if doc.Date != "" && doc.Date != o.key {
		logger.Warnf("record %s: ignoring pushed record for %s", o.key, doc.Date)
		return
	}
	if ev.echo {
		metrics.RemoteUpdates.WithLabelValues("echo").Inc()
		return
	}
	now := o.opts.Now()
	if o.savingNow && now.Sub(o.lastLocalChangeAt) < o.opts.EchoGuardWindow {
		metrics.RemoteUpdates.WithLabelValues("guarded").Inc()
		logger.Debugf("record %s: push held back by echo guard", o.key)
		return
	}
	if o.doc != nil && o.doc.NewerThan(doc) {
		metrics.RemoteUpdates.WithLabelValues("stale").Inc()
		return
	}
	metrics.RemoteUpdates.WithLabelValues("accepted").Inc()
	next := doc.Clone()
	next.Date = o.key
	o.doc = next
	o.putCache(next)
	o.lastSyncTime = now
	o.setStatus(StatusSaved)
	o.schedule(timerIdle, o.opts.SavedResetDelay)
	o.publish()
}

func (o *Orchestrator) handleAdopt(ev adoptEvent) {
	reply := func(err error) {
		if ev.reply != nil {
			ev.reply <- err
		}
	}
	if ev.reason == "refresh" {
		o.refreshPending = false
	}
	if ev.seq != o.seq.Load() {
		metrics.DeepSyncs.WithLabelValues("superseded").Inc()
		logger.Debugf("record %s: %s decision discarded, local record changed", o.key, ev.reason)
		reply(nil)
		return
	}

	switch {
	case ev.adopt != nil:
		next := ev.adopt.Clone()
		next.Date = o.key
		o.doc = next
		if ev.reason != "cache" {
			o.putCache(next)
			o.lastSyncTime = o.opts.Now()
			if o.inFlight == 0 && o.status != StatusSaving {
				o.setStatus(StatusIdle)
			}
		}
	case ev.push != nil:
		// a write still in flight carries the local record, and an update
		// adopted since the fetch makes the decision stale
		if o.inFlight > 0 || (o.doc != nil && o.doc.NewerThan(ev.push)) {
			metrics.DeepSyncs.WithLabelValues("superseded").Inc()
			reply(nil)
			return
		}
		next := ev.push.Clone()
		next.Date = o.key
		o.doc = next
		o.putCache(next)
		o.setStatus(StatusSaving)
		o.inFlight++
		done := make(chan error, 1)
		o.writer.enqueue(writeJob{doc: next.Clone(), expected: ev.pushOn, done: done})
		go func() {
			select {
			case err := <-done:
				if err == nil {
					o.notifier.Success(titleSynchronized, "El registro local se envió al servidor.")
				}
			case <-o.ctx.Done():
			}
		}()
	}
	o.publish()
	reply(nil)
}

func (o *Orchestrator) handleTimer(ev timerEvent) {
	if ev.gen != o.timerGen[ev.kind] {
		return
	}
	o.timers[ev.kind] = nil
	switch ev.kind {
	case timerIdle:
		if o.status == StatusSaved {
			o.setStatus(StatusIdle)
			o.publish()
		}
	case timerLock:
		o.savingNow = false
	case timerRefresh:
		go func() {
			if err := o.Refresh(o.ctx); err != nil {
				logger.Warnf("record %s: automatic refresh after conflict failed: %v", o.key, err)
				o.post(refreshFailed{})
			}
		}()
	}
}

type refreshFailed struct{}

func (o *Orchestrator) handleOnline(online bool) {
	was := o.online.Swap(online)
	if online && !was {
		go o.backgroundDeepSync("reconnect")
	}
	o.publish()
}

func (o *Orchestrator) backgroundDeepSync(trigger string) {
	if !o.syncing.CompareAndSwap(false, true) {
		return
	}
	defer o.syncing.Store(false)
	if err := o.ensureSubscribed(o.ctx); err != nil {
		logger.Warnf("record %s: resubscribe on %s failed: %v", o.key, trigger, err)
		return
	}
	if err := o.DeepSync(o.ctx); err != nil {
		logger.Warnf("record %s: deep sync on %s failed: %v", o.key, trigger, err)
	}
}

func (o *Orchestrator) ensureSubscribed(ctx context.Context) error {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	if o.unsub != nil {
		return nil
	}
	unsub, err := o.remote.Subscribe(ctx, o.key, func(doc *record.Document, echo bool) {
		o.post(remoteEvent{doc: doc, echo: echo})
	})
	if err != nil {
		return err
	}
	o.unsub = unsub
	return nil
}

func (o *Orchestrator) putCache(doc *record.Document) {
	ctx, cancel := context.WithTimeout(o.ctx, o.opts.IOTimeout)
	defer cancel()
	if err := o.cache.Put(ctx, o.key, doc); err != nil {
		metrics.CacheFailures.WithLabelValues("put").Inc()
		logger.Warnf("record %s: local cache write failed: %v", o.key, err)
	}
}

func (o *Orchestrator) setStatus(s Status) {
	o.status = s
	if s != StatusSaved {
		o.cancelTimer(timerIdle)
	}
}

func (o *Orchestrator) schedule(kind timerKind, d time.Duration) {
	o.cancelTimer(kind)
	gen := o.timerGen[kind]
	o.timers[kind] = time.AfterFunc(d, func() {
		o.post(timerEvent{kind: kind, gen: gen})
	})
}

func (o *Orchestrator) cancelTimer(kind timerKind) {
	if t := o.timers[kind]; t != nil {
		t.Stop()
		o.timers[kind] = nil
	}
	o.timerGen[kind]++
}

func (o *Orchestrator) stopTimers() {
	for k := range o.timers {
		o.cancelTimer(timerKind(k))
	}
}

func (o *Orchestrator) publish() {
	s := &Snapshot{
		Key:          o.key,
		Document:     o.doc.Clone(),
		Status:       o.status,
		LastSyncTime: o.lastSyncTime,
		Online:       o.online.Load(),
	}
	o.snap.Store(s)

	o.watchMu.Lock()
	defer o.watchMu.Unlock()
	for _, ch := range o.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- *s
	}
}

func (o *Orchestrator) publishOnline() {
	o.post(onlineEvent{online: o.online.Load()})
}

type nopNotifier struct{}

func (nopNotifier) Success(string, string) {}
func (nopNotifier) Warning(string, string) {}
func (nopNotifier) Error(string, string)   {}
