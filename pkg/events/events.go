// Package events implements the observable event log: an append-only,
// hash-chained record of everything the engine does. External watchers
// subscribe via handlers; the log is never used for internal control
// flow.
package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrEntryNotFound is returned when no entry matches a lookup.
	ErrEntryNotFound = errors.New("event entry not found")
)

// EventType categorizes log entries.
type EventType string

const (
	EventCampaignCreated    EventType = "campaign_created"
	EventVoteRecorded       EventType = "vote_recorded"
	EventCommitmentRecorded EventType = "commitment_recorded"
	EventRevealRecorded     EventType = "reveal_recorded"
	EventResultComputed     EventType = "result_computed"
	EventRequestCreated     EventType = "request_created"
	EventRequestResolved    EventType = "request_resolved"
	EventOwnershipChanged   EventType = "ownership_changed"
)

// Entry is a single immutable entry in the event log.
//
// Tick is the engine tick at which the operation ran; the log carries
// no wall-clock time so replays are deterministic.
type Entry struct {
	EntryID      string          `json:"entry_id"`
	Sequence     uint64          `json:"sequence"`
	Tick         uint64          `json:"tick"`
	Type         EventType       `json:"type"`
	Subject      string          `json:"subject"`
	Payload      json.RawMessage `json:"payload"`
	PayloadHash  string          `json:"payload_hash"`
	PreviousHash string          `json:"previous_hash"`
	EntryHash    string          `json:"entry_hash"`
}

// Handler is called synchronously for every appended entry.
type Handler func(entry *Entry)

// Log is an append-only event log with hash chaining.
type Log struct {
	mu        sync.RWMutex
	entries   []*Entry
	entryByID map[string]*Entry
	sequence  uint64
	chainHead string
	handlers  []Handler
}

// NewLog creates an empty event log.
func NewLog() *Log {
	return &Log{
		entries:   make([]*Entry, 0),
		entryByID: make(map[string]*Entry),
		chainHead: "genesis",
	}
}

// RegisterHandler subscribes a handler to future appends.
func (l *Log) RegisterHandler(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// Append adds an entry to the log and notifies handlers.
func (l *Log) Append(tick uint64, t EventType, subject string, payload any) (*Entry, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("events: serialize payload: %w", err)
	}

	l.mu.Lock()

	l.sequence++
	entry := &Entry{
		EntryID:      uuid.New().String(),
		Sequence:     l.sequence,
		Tick:         tick,
		Type:         t,
		Subject:      subject,
		Payload:      payloadBytes,
		PayloadHash:  computeHash(payloadBytes),
		PreviousHash: l.chainHead,
	}
	entryHash, err := computeEntryHash(entry)
	if err != nil {
		l.sequence--
		l.mu.Unlock()
		return nil, fmt.Errorf("events: hash entry: %w", err)
	}
	entry.EntryHash = entryHash
	l.chainHead = entryHash

	l.entries = append(l.entries, entry)
	l.entryByID[entry.EntryID] = entry
	handlers := l.handlers

	l.mu.Unlock()

	for _, h := range handlers {
		h(entry)
	}
	return entry, nil
}

// Get retrieves an entry by ID.
func (l *Log) Get(entryID string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entryByID[entryID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return entry, nil
}

// Length returns the number of entries.
func (l *Log) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// ChainHead returns the current head hash.
func (l *Log) ChainHead() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chainHead
}

// Entries returns a snapshot of all entries in append order.
func (l *Log) Entries() []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Query returns entries of the given type, all types if t is empty.
func (l *Log) Query(t EventType) []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Entry
	for _, e := range l.entries {
		if t == "" || e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Verify checks the integrity of the whole chain.
func (l *Log) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prevHash := "genesis"
	for i, entry := range l.entries {
		if entry.PreviousHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PreviousHash)
		}
		if computeHash(entry.Payload) != entry.PayloadHash {
			return false, fmt.Sprintf("payload hash mismatch at entry %d", i+1)
		}
		computed, err := computeEntryHash(entry)
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d", i+1)
		}
		if computed != entry.EntryHash {
			return false, fmt.Sprintf("entry hash mismatch at entry %d", i+1)
		}
		prevHash = entry.EntryHash
	}
	return true, "chain verified"
}

func computeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// computeEntryHash hashes the chained fields of an entry. EntryID is
// excluded so the chain depends only on content and order.
func computeEntryHash(entry *Entry) (string, error) {
	hashable := struct {
		Sequence     uint64    `json:"sequence"`
		Tick         uint64    `json:"tick"`
		Type         EventType `json:"type"`
		Subject      string    `json:"subject"`
		PayloadHash  string    `json:"payload_hash"`
		PreviousHash string    `json:"previous_hash"`
	}{
		Sequence:     entry.Sequence,
		Tick:         entry.Tick,
		Type:         entry.Type,
		Subject:      entry.Subject,
		PayloadHash:  entry.PayloadHash,
		PreviousHash: entry.PreviousHash,
	}
	data, err := json.Marshal(hashable)
	if err != nil {
		return "", fmt.Errorf("marshal entry for hashing: %w", err)
	}
	return computeHash(data), nil
}
