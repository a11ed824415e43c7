package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/censo/censo/backend/go-services/internal/record"
	"github.com/censo/censo/backend/go-services/pkg/logger"
)

// ErrInvalidDate is returned for keys that are not YYYY-MM-DD dates.
var ErrInvalidDate = errors.New("invalid record date")

const DateLayout = "2006-01-02"

// CarryOverKeys are copied from a previous day's record when a new day is
// initialized from it: the bed layout with its patients and the staff
// rosters.
var CarryOverKeys = []string{
	"beds",
	"activeExtraBeds",
	"nursesDayShift",
	"nursesNightShift",
	"tensDayShift",
	"tensNightShift",
}

// Archiver keeps a copy of a record before it is deleted.
type Archiver interface {
	ArchiveRecord(ctx context.Context, doc *record.Document) error
}

// Restorer reads archived records back. RecordArchive implements it.
type Restorer interface {
	LoadArchived(ctx context.Context, date string) (*record.Document, error)
	ArchivedDates(ctx context.Context) ([]string, error)
}

type lister interface {
	List(ctx context.Context) ([]string, error)
}

type keyLister interface {
	Keys(ctx context.Context) ([]string, error)
}

// Manager owns one Orchestrator per open date.
type Manager struct {
	cache    record.LocalCache
	remote   record.RemoteStore
	notifier record.Notifier
	opts     Options
	archiver Archiver

	mu     sync.Mutex
	open   map[string]*Orchestrator
	online bool
}

func NewManager(cache record.LocalCache, remote record.RemoteStore, notifier record.Notifier, opts Options) *Manager {
	return &Manager{
		cache:    cache,
		remote:   remote,
		notifier: notifier,
		opts:     opts,
		open:     make(map[string]*Orchestrator),
		online:   true,
	}
}

// SetArchiver enables archiving of deleted records.
func (m *Manager) SetArchiver(a Archiver) {
	m.mu.Lock()
	m.archiver = a
	m.mu.Unlock()
}

// ValidateDate checks that date is a YYYY-MM-DD key.
func ValidateDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return nil
}

// Open returns the orchestrator for date, starting one if needed.
func (m *Manager) Open(ctx context.Context, date string) (*Orchestrator, error) {
	if err := ValidateDate(date); err != nil {
		return nil, err
	}
	if o, ok := m.Get(date); ok {
		return o, nil
	}

	o := New(date, m.cache, m.remote, m.notifier, m.opts)
	if err := o.Start(ctx); err != nil {
		o.Close()
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.open[date]; ok {
		m.mu.Unlock()
		o.Close()
		return existing, nil
	}
	m.open[date] = o
	online := m.online
	m.mu.Unlock()

	if !online {
		o.SetOnline(false)
	}
	logger.Debugf("manager: opened record %s", date)
	return o, nil
}

// Get returns an already open orchestrator.
func (m *Manager) Get(date string) (*Orchestrator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.open[date]
	return o, ok
}

// Opened lists the dates with a running orchestrator.
func (m *Manager) Opened() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.open))
	for k := range m.open {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Close stops and forgets the orchestrator for date.
func (m *Manager) Close(date string) {
	m.mu.Lock()
	o, ok := m.open[date]
	delete(m.open, date)
	m.mu.Unlock()
	if ok {
		o.Close()
	}
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.open
	m.open = make(map[string]*Orchestrator)
	m.mu.Unlock()
	for _, o := range all {
		o.Close()
	}
}

// SetOnline forwards a connectivity change to every open orchestrator.
func (m *Manager) SetOnline(online bool) {
	m.mu.Lock()
	m.online = online
	list := make([]*Orchestrator, 0, len(m.open))
	for _, o := range m.open {
		list = append(list, o)
	}
	m.mu.Unlock()
	for _, o := range list {
		o.SetOnline(online)
	}
}

// Initialize creates the record for date. When from is set, the layout
// keys of that day's record are carried over.
func (m *Manager) Initialize(ctx context.Context, date, from string) (*Orchestrator, error) {
	if from != "" {
		if err := ValidateDate(from); err != nil {
			return nil, err
		}
	}
	o, err := m.Open(ctx, date)
	if err != nil {
		return nil, err
	}
	if o.Document() != nil {
		return o, fmt.Errorf("%w: %s", record.ErrExists, date)
	}

	doc := record.New(date)
	if from != "" {
		prev, err := m.load(ctx, from)
		if err != nil {
			return o, err
		}
		for _, k := range CarryOverKeys {
			if v, ok := prev.Data[k]; ok {
				doc.Data[k] = record.CloneValue(v)
			}
		}
	}
	if err := o.ReplaceAll(ctx, doc); err != nil {
		return o, err
	}
	logger.Infof("manager: initialized record %s (from %q)", date, from)
	return o, nil
}

// load finds the freshest copy of a record without opening it.
func (m *Manager) load(ctx context.Context, date string) (*record.Document, error) {
	if o, ok := m.Get(date); ok {
		if d := o.Document(); d != nil {
			return d, nil
		}
	}
	var best *record.Document
	remote, err := m.remote.Fetch(ctx, date)
	if err != nil {
		logger.Warnf("manager: fetch %s failed: %v", date, err)
	} else {
		best = remote
	}
	cached, err := m.cache.Get(ctx, date)
	if err != nil {
		logger.Warnf("manager: cache read %s failed: %v", date, err)
	} else if cached != nil && (best == nil || cached.NewerThan(best)) {
		best = cached
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s", record.ErrNotFound, date)
	}
	return best, nil
}

// Delete removes the record for date from both stores, archiving it first
// when an archiver is set.
func (m *Manager) Delete(ctx context.Context, date string) error {
	if err := ValidateDate(date); err != nil {
		return err
	}
	m.mu.Lock()
	archiver := m.archiver
	m.mu.Unlock()

	if archiver != nil {
		doc, err := m.load(ctx, date)
		switch {
		case errors.Is(err, record.ErrNotFound):
		case err != nil:
			return err
		default:
			if err := archiver.ArchiveRecord(ctx, doc); err != nil {
				return record.Transient("archive", date, err)
			}
		}
	}

	m.Close(date)
	if err := m.remote.Delete(ctx, date); err != nil {
		return err
	}
	if err := m.cache.Delete(ctx, date); err != nil {
		logger.Warnf("manager: cache delete %s failed: %v", date, err)
	}
	logger.Infof("manager: deleted record %s", date)
	return nil
}

// Dates lists the records known to the remote store. When the store cannot
// list or is unreachable, the dates in the local cache and the open ones are
// returned instead.
func (m *Manager) Dates(ctx context.Context) ([]string, error) {
	if l, ok := m.remote.(lister); ok {
		dates, err := l.List(ctx)
		if err == nil {
			return dates, nil
		}
		logger.Warnf("manager: listing remote records failed, using local cache: %v", err)
	}
	return m.localDates(ctx)
}

func (m *Manager) localDates(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	for _, d := range m.Opened() {
		seen[d] = true
	}
	if kl, ok := m.cache.(keyLister); ok {
		keys, err := kl.Keys(ctx)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			seen[k] = true
		}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Manager) restorer() (Restorer, error) {
	m.mu.Lock()
	a := m.archiver
	m.mu.Unlock()
	r, ok := a.(Restorer)
	if !ok {
		return nil, fmt.Errorf("%w: no record archive configured", record.ErrNotFound)
	}
	return r, nil
}

// Restore recreates a deleted record from its archived copy. The date must
// not have a live record.
func (m *Manager) Restore(ctx context.Context, date string) (*Orchestrator, error) {
	r, err := m.restorer()
	if err != nil {
		return nil, err
	}
	o, err := m.Open(ctx, date)
	if err != nil {
		return nil, err
	}
	if o.Document() != nil {
		return o, fmt.Errorf("%w: %s", record.ErrExists, date)
	}
	archived, err := r.LoadArchived(ctx, date)
	if err != nil {
		return o, err
	}
	doc := record.New(date)
	for k, v := range archived.Data {
		doc.Data[k] = record.CloneValue(v)
	}
	if err := o.ReplaceAll(ctx, doc); err != nil {
		return o, err
	}
	logger.Infof("manager: restored record %s from archive", date)
	return o, nil
}

// ArchivedDates lists the dates that can be restored.
func (m *Manager) ArchivedDates(ctx context.Context) ([]string, error) {
	r, err := m.restorer()
	if err != nil {
		return nil, err
	}
	return r.ArchivedDates(ctx)
}
