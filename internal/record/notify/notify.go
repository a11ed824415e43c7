// Package notify provides the user-facing notification sinks used by the
// sync orchestrator.
package notify

import (
	"sync"
	"time"

	"github.com/censo/censo/backend/go-services/internal/record"
	"github.com/censo/censo/backend/go-services/pkg/logger"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a single message shown to the user.
type Notification struct {
	Level  Level     `json:"level"`
	Title  string    `json:"title"`
	Detail string    `json:"detail"`
	Time   time.Time `json:"time"`
}

// LogNotifier writes notifications to the service log.
type LogNotifier struct{}

var _ record.Notifier = LogNotifier{}

func (LogNotifier) Success(title, detail string) { logger.Infof("notify: %s: %s", title, detail) }
func (LogNotifier) Warning(title, detail string) { logger.Warnf("notify: %s: %s", title, detail) }
func (LogNotifier) Error(title, detail string)   { logger.Errorf("notify: %s: %s", title, detail) }

// Recorder keeps every notification in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

var _ record.Notifier = (*Recorder)(nil)

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) add(l Level, title, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, Notification{Level: l, Title: title, Detail: detail, Time: time.Now()})
}

func (r *Recorder) Success(title, detail string) { r.add(LevelSuccess, title, detail) }
func (r *Recorder) Warning(title, detail string) { r.add(LevelWarning, title, detail) }
func (r *Recorder) Error(title, detail string)   { r.add(LevelError, title, detail) }

// All returns a copy of the recorded notifications, oldest first.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Count returns how many notifications of level were recorded.
func (r *Recorder) Count(l Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, it := range r.items {
		if it.Level == l {
			n++
		}
	}
	return n
}

// Broadcaster fans notifications out to subscribers and forwards them to
// an optional next notifier. Subscribers that fall behind lose messages.
type Broadcaster struct {
	next record.Notifier

	mu     sync.Mutex
	nextID int
	subs   map[int]chan Notification
}

var _ record.Notifier = (*Broadcaster)(nil)

const subscriberBuffer = 16

func NewBroadcaster(next record.Notifier) *Broadcaster {
	return &Broadcaster{next: next, subs: make(map[int]chan Notification)}
}

// Subscribe returns a channel of notifications and a cancel func that
// closes it.
func (b *Broadcaster) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, subscriberBuffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

func (b *Broadcaster) send(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

func (b *Broadcaster) Success(title, detail string) {
	b.send(Notification{Level: LevelSuccess, Title: title, Detail: detail, Time: time.Now()})
	if b.next != nil {
		b.next.Success(title, detail)
	}
}

func (b *Broadcaster) Warning(title, detail string) {
	b.send(Notification{Level: LevelWarning, Title: title, Detail: detail, Time: time.Now()})
	if b.next != nil {
		b.next.Warning(title, detail)
	}
}

func (b *Broadcaster) Error(title, detail string) {
	b.send(Notification{Level: LevelError, Title: title, Detail: detail, Time: time.Now()})
	if b.next != nil {
		b.next.Error(title, detail)
	}
}
