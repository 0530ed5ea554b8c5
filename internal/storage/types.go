package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage. If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one finished run of the capture action.
// Keep it compact and schema-stable.
type RunRecord struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	Started    time.Time `json:"started"`
	DurationMS int64     `json:"duration_ms"`
	Attempts   int       `json:"attempts"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	File       string    `json:"file,omitempty"`
}

// Store is the persistence API used by the app.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	// RecentRuns returns up to limit records, newest first.
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}
