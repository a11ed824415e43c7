package service

import (
	"time"

	"github.com/censo/censo/backend/go-services/internal/record"
)

// Status is the save indicator exposed to callers.
//
//	idle -> saving -> saved -> idle
//	saving -> error
//
// The saved -> idle step is cosmetic and must not be used as a
// synchronization signal.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusSaving Status = "saving"
	StatusSaved  Status = "saved"
	StatusError  Status = "error"
)

// Snapshot is an immutable view of an orchestrator's state.
type Snapshot struct {
	Key          string           `json:"key"`
	Document     *record.Document `json:"document"`
	Status       Status           `json:"status"`
	LastSyncTime time.Time        `json:"lastSyncTime"`
	Online       bool             `json:"online"`
}
