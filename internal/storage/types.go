package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Outcome values recorded in the journal.
const (
	OutcomeDelivered    = "delivered"
	OutcomeQueued       = "queued"
	OutcomeFiltered     = "filtered"
	OutcomeSkipped      = "skipped"
	OutcomeRetried      = "retried"
	OutcomeResolved     = "resolved"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeFailed       = "failed"
)

// Entry records one delivery outcome.
// Keep it compact and schema-stable.
type Entry struct {
	At          time.Time `json:"at"`
	Destination string    `json:"destination"`
	Outcome     string    `json:"outcome"`
	Tag         string    `json:"tag,omitempty"`
	Severity    string    `json:"severity,omitempty"`
	Site        string    `json:"site,omitempty"`
	Target      string    `json:"target,omitempty"`
	Record      string    `json:"record,omitempty"`
	Attempts    int       `json:"attempts,omitempty"`
	Error       string    `json:"error,omitempty"`
	TookMS      int64     `json:"took_ms,omitempty"`
}
