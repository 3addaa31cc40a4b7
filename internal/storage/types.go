package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Outcome values stored in RunRecord.Status.
const (
	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusNoBalance = "no_balance"
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver string
	Path   string
	// Retain caps how many records are kept. 0 means 1000.
	Retain      int
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one account attempt within a tick.
// Proxy is stored redacted.
type RunRecord struct {
	At       time.Time `json:"at"`
	TickID   string    `json:"tick_id"`
	Index    int       `json:"index"`
	Identity string    `json:"identity"`
	Proxy    string    `json:"proxy"`
	Quality  int       `json:"quality"`
	Balance  float64   `json:"balance,omitempty"`
	Message  string    `json:"message,omitempty"`
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
}

func retainOrDefault(n int) int {
	if n <= 0 {
		return 1000
	}
	return n
}
