package auth

import (
	"sync"
	"time"
)

// FailureRecord represents a single failed authentication attempt
type FailureRecord struct {
	Account   string
	RemoteIP  string
	Timestamp time.Time
}

// FailureTracker counts failed authentication attempts per account
type FailureTracker interface {
	// RecordFailure records a failed attempt and returns the number of failures for the account within the window
	RecordFailure(account string, remoteIP string, timestamp time.Time) int
	// IsLockedOut reports whether the account reached the lockout threshold within the window ending at now
	IsLockedOut(account string, now time.Time) bool
	// Reset forgets all failures of the account, typically after a successful attempt
	Reset(account string)
}

// LockoutSettings holds configuration for temporary account lockout
type LockoutSettings struct {
	Threshold  int           // Number of failures within TimeWindow that lock the account (0 disables lockout)
	TimeWindow time.Duration // Sliding window for counting failures
}

type nopFailureTracker struct{}

var NopFailureTracker FailureTracker = &nopFailureTracker{}

func (n *nopFailureTracker) RecordFailure(account string, remoteIP string, timestamp time.Time) int {
	return 0
}

func (n *nopFailureTracker) IsLockedOut(account string, now time.Time) bool {
	return false
}

func (n *nopFailureTracker) Reset(account string) {}

type memoryFailureTracker struct {
	settings LockoutSettings
	failures map[string][]FailureRecord
	mu       sync.Mutex
}

// NewMemoryFailureTracker creates a new in-memory failure tracker
func NewMemoryFailureTracker(settings LockoutSettings) FailureTracker {
	return &memoryFailureTracker{
		settings: settings,
		failures: make(map[string][]FailureRecord),
	}
}

func (t *memoryFailureTracker) RecordFailure(account string, remoteIP string, timestamp time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	records := append(t.failures[account], FailureRecord{
		Account:   account,
		RemoteIP:  remoteIP,
		Timestamp: timestamp,
	})
	records = t.withinWindow(records, timestamp)
	t.failures[account] = records

	return len(records)
}

func (t *memoryFailureTracker) IsLockedOut(account string, now time.Time) bool {
	if t.settings.Threshold <= 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	records := t.withinWindow(t.failures[account], now)
	if len(records) == 0 {
		delete(t.failures, account)
		return false
	}
	t.failures[account] = records

	return len(records) >= t.settings.Threshold
}

func (t *memoryFailureTracker) Reset(account string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.failures, account)
}

// withinWindow drops records older than the window ending at now. Caller holds the lock.
func (t *memoryFailureTracker) withinWindow(records []FailureRecord, now time.Time) []FailureRecord {
	cutoff := now.Add(-t.settings.TimeWindow)
	kept := records[:0]
	for _, record := range records {
		if !record.Timestamp.Before(cutoff) {
			kept = append(kept, record)
		}
	}
	return kept
}
