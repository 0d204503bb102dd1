// Package ledger is an append-only, hash-chained record of committed
// marketplace transitions.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
)

// Genesis is the previous-hash of the first entry.
const Genesis = "genesis"

// Event types.
const (
	EventJobCreated       = "job_created"
	EventProfileCreated   = "profile_created"
	EventSkillAdded       = "skill_added"
	EventBidPlaced        = "bid_placed"
	EventWorkerSelected   = "worker_selected"
	EventWorkSubmitted    = "work_submitted"
	EventWorkConfirmed    = "work_confirmed"
	EventComplaintFiled   = "complaint_filed"
	EventDisputeResolved  = "dispute_resolved"
	EventJobRated         = "job_rated"
	EventFundsDeposited   = "funds_deposited"
	EventCapabilityMinted = "capability_minted"
)

var ErrNotFound = errors.New("ledger entry not found")

// Entry is one immutable ledger record.
type Entry struct {
	Sequence    uint64         `json:"sequence"`
	Type        string         `json:"type"`
	JobID       string         `json:"job_id,omitempty"`
	Author      string         `json:"author,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	PrevHash    string         `json:"prev_hash"`
	ContentHash string         `json:"content_hash"`
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	entries []Entry
	head    string
	clock   func() time.Time
}

func New() *Ledger {
	return &Ledger{head: Genesis, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

func contentHash(e Entry) (string, error) {
	raw, err := json.Marshal(struct {
		Seq    uint64         `json:"seq"`
		Type   string         `json:"type"`
		JobID  string         `json:"job_id"`
		Author string         `json:"author"`
		Data   map[string]any `json:"data"`
		Time   int64          `json:"ts"`
		Prev   string         `json:"prev"`
	}{e.Sequence, e.Type, e.JobID, e.Author, e.Data, e.Timestamp.UnixNano(), e.PrevHash})
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize entry: %w", err)
	}
	h := sha256.Sum256(canon)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}

// Append records an event and returns the stored entry.
func (l *Ledger) Append(eventType, jobID, author string, data map[string]any) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		Sequence:  uint64(len(l.entries)) + 1,
		Type:      eventType,
		JobID:     jobID,
		Author:    author,
		Data:      data,
		Timestamp: l.clock(),
		PrevHash:  l.head,
	}
	h, err := contentHash(e)
	if err != nil {
		return Entry{}, err
	}
	e.ContentHash = h

	l.entries = append(l.entries, e)
	l.head = h
	return e, nil
}

// Get returns the entry with sequence seq.
func (l *Ledger) Get(seq uint64) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq == 0 || seq > uint64(len(l.entries)) {
		return Entry{}, fmt.Errorf("entry %d: %w", seq, ErrNotFound)
	}
	return l.entries[seq-1], nil
}

// Entries returns entries with sequence > after, optionally filtered by job.
func (l *Ledger) Entries(after uint64, jobID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []Entry{}
	for _, e := range l.entries {
		if e.Sequence <= after || (jobID != "" && e.JobID != jobID) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head
}

func (l *Ledger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Verify recomputes the chain and reports the first broken entry.
func (l *Ledger) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return VerifyChain(l.entries)
}

// VerifyChain checks a sequence of entries starting at genesis.
func VerifyChain(entries []Entry) error {
	prev := Genesis
	for i, e := range entries {
		if e.PrevHash != prev {
			return fmt.Errorf("chain broken at entry %d: expected prev %s, got %s", i+1, prev, e.PrevHash)
		}
		h, err := contentHash(e)
		if err != nil {
			return err
		}
		if h != e.ContentHash {
			return fmt.Errorf("hash mismatch at entry %d", i+1)
		}
		prev = e.ContentHash
	}
	return nil
}
