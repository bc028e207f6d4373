package ratelimit

import (
	"encoding/json"
	"sort"
	"time"
)

// maxStoredAttempts bounds an entry regardless of the configured policy.
const maxStoredAttempts = 64

// Entry is the persisted failure history for one logical action key.
type Entry struct {
	Attempts     []time.Time `json:"attempts"`
	BlockedUntil *time.Time  `json:"blocked_until,omitempty"`
	// Strikes counts threshold crossings since the last success.
	Strikes int `json:"strikes,omitempty"`
}

func (e Entry) IsZero() bool {
	return len(e.Attempts) == 0 && e.BlockedUntil == nil && e.Strikes == 0
}

func (e Entry) blockedAt(now time.Time) bool {
	return e.BlockedUntil != nil && e.BlockedUntil.After(now)
}

// decodeEntry parses a persisted entry. Corrupt or mismatched data yields an empty entry and false.
func decodeEntry(raw []byte) (Entry, bool) {
	if len(raw) == 0 {
		return Entry{}, true
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false
	}

	attempts := entry.Attempts[:0]
	for _, ts := range entry.Attempts {
		if !ts.IsZero() {
			attempts = append(attempts, ts)
		}
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].Before(attempts[j]) })
	entry.Attempts = attempts
	if entry.BlockedUntil != nil && entry.BlockedUntil.IsZero() {
		entry.BlockedUntil = nil
	}
	if entry.Strikes < 0 {
		entry.Strikes = 0
	}
	entry.trim(maxStoredAttempts)
	return entry, true
}

func encodeEntry(entry Entry) ([]byte, error) {
	return json.Marshal(entry)
}

// trim keeps the newest n attempts.
func (e *Entry) trim(n int) {
	if n <= 0 || len(e.Attempts) <= n {
		return
	}
	e.Attempts = append([]time.Time(nil), e.Attempts[len(e.Attempts)-n:]...)
}
