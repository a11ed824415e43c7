package service

import (
	"time"

	"github.com/censo/censo/backend/go-services/internal/record/patch"
)

// Options tunes the orchestrator's timers. Zero durations fall back to the
// defaults, except ReconcileInterval and WriteTimeout where zero disables
// the periodic deep sync and the write deadline respectively.
type Options struct {
	// SavedResetDelay is how long "saved" is shown before returning to idle.
	SavedResetDelay time.Duration
	// SavingLockRelease is how long the saving lock outlives the latest
	// settled write.
	SavingLockRelease time.Duration
	// EchoGuardWindow drops unflagged pushes arriving this soon after a
	// local change while the saving lock is held.
	EchoGuardWindow time.Duration
	// ConflictRefreshDelay is the pause between a rejected write and the
	// automatic reload from the remote store.
	ConflictRefreshDelay time.Duration
	// ReconcileInterval runs a deep sync periodically while online.
	ReconcileInterval time.Duration
	// WriteTimeout bounds a single remote write.
	WriteTimeout time.Duration
	// IOTimeout bounds cache operations and remote fetches.
	IOTimeout time.Duration

	// Schema validates patch paths; nil accepts any well-formed path.
	Schema *patch.Schema
	// Now is the wall clock; tests may replace it.
	Now func() time.Time
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		SavedResetDelay:      2 * time.Second,
		SavingLockRelease:    time.Second,
		EchoGuardWindow:      500 * time.Millisecond,
		ConflictRefreshDelay: 2 * time.Second,
		IOTimeout:            10 * time.Second,
		Schema:               patch.CensusSchema(),
		Now:                  time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SavedResetDelay <= 0 {
		o.SavedResetDelay = d.SavedResetDelay
	}
	if o.SavingLockRelease <= 0 {
		o.SavingLockRelease = d.SavingLockRelease
	}
	if o.EchoGuardWindow <= 0 {
		o.EchoGuardWindow = d.EchoGuardWindow
	}
	if o.ConflictRefreshDelay <= 0 {
		o.ConflictRefreshDelay = d.ConflictRefreshDelay
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = d.IOTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
