// Package audit keeps an append-only, hash-chained journal of every action
// record transition, optionally mirrored to SQL.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/madaxer/devopsAgent/pkg/contracts"
)

// GenesisHash is the previous hash of the first entry.
const GenesisHash = "genesis"

const (
	// DefaultCapacity is the number of entries kept in memory.
	DefaultCapacity = 10_000
	// DefaultSinkQueue is the number of entries buffered for the sink writer.
	DefaultSinkQueue = 4096

	sinkWriteTimeout = 10 * time.Second
)

var (
	// ErrChainBroken is returned by VerifyChain when an entry does not link to its predecessor.
	ErrChainBroken = errors.New("hash chain is broken")
	// ErrSinkBacklog is returned by Append when the sink queue is full. The
	// entry is still chained in memory but will not reach the sink.
	ErrSinkBacklog = errors.New("journal sink queue is full")
)

// Entry is one immutable journal entry.
type Entry struct {
	EntryID      string                 `json:"entry_id"`
	Sequence     uint64                 `json:"sequence"`
	Timestamp    time.Time              `json:"timestamp"`
	RequestID    uuid.UUID              `json:"request_id"`
	Action       contracts.ActionName   `json:"action"`
	Environment  contracts.Environment  `json:"environment"`
	RequestedBy  string                 `json:"requested_by"`
	Status       contracts.ActionStatus `json:"status"`
	Detail       string                 `json:"detail,omitempty"`
	PreviousHash string                 `json:"previous_hash"`
	EntryHash    string                 `json:"entry_hash"`
}

// Sink receives every appended entry.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Journal is an append-only, hash-chained log of action transitions.
// Only the most recent entries are kept in memory; the chain head and
// sequence keep advancing past evicted entries.
type Journal struct {
	mu        sync.RWMutex
	entries   []Entry
	capacity  int
	anchor    string // previous hash of entries[0]
	chainHead string
	sequence  uint64

	sink      Sink
	queue     chan Entry
	queueSize int
	closed    bool
	drained   chan struct{}

	logger *slog.Logger
	clock  func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithSink mirrors entries to s. Writes happen on a background goroutine;
// call Close to flush them.
func WithSink(s Sink) Option {
	return func(j *Journal) { j.sink = s }
}

// WithSinkQueue sets how many entries may wait for the sink writer.
func WithSinkQueue(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.queueSize = n
		}
	}
}

// WithCapacity bounds the in-memory entries.
func WithCapacity(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.capacity = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(j *Journal) { j.clock = clock }
}

// NewJournal creates an empty journal.
func NewJournal(opts ...Option) *Journal {
	j := &Journal{
		capacity:  DefaultCapacity,
		anchor:    GenesisHash,
		chainHead: GenesisHash,
		queueSize: DefaultSinkQueue,
		logger:    slog.Default().With("component", "audit"),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.sink != nil {
		j.queue = make(chan Entry, j.queueSize)
		j.drained = make(chan struct{})
		go j.writeLoop()
	}
	return j
}

// writeLoop mirrors queued entries to the sink in sequence order. Each write
// runs under its own deadline, independent of the appending caller.
func (j *Journal) writeLoop() {
	defer close(j.drained)
	for e := range j.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
		err := j.sink.Write(ctx, e)
		cancel()
		if err != nil {
			j.logger.Error("journal sink write failed",
				"sequence", e.Sequence,
				"request_id", e.RequestID,
				"error", err,
			)
		}
	}
}

// Close stops accepting sink writes and waits for queued entries to be
// written. Entries appended afterwards stay in memory only.
func (j *Journal) Close(ctx context.Context) error {
	if j.queue == nil {
		return nil
	}
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.queue)
	}
	j.mu.Unlock()

	select {
	case <-j.drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("journal sink flush: %w", ctx.Err())
	}
}

// Record implements coordinator.Recorder. It never waits on the sink and
// failures are logged only.
func (j *Journal) Record(ctx context.Context, req contracts.ActionRequest, rec contracts.ActionRecord) {
	detail := ""
	switch {
	case rec.Error != nil:
		detail = *rec.Error
	case rec.Summary != nil:
		detail = *rec.Summary
	}
	if _, err := j.Append(ctx, Entry{
		RequestID:   req.RequestID,
		Action:      req.Action,
		Environment: req.Environment,
		RequestedBy: req.RequestedBy,
		Status:      rec.Status,
		Detail:      detail,
	}); err != nil {
		j.logger.ErrorContext(ctx, "journal append failed", "request_id", req.RequestID, "error", err)
	}
}

// Append assigns sequence, timestamp and hashes to e and stores it, then
// queues it for the sink without waiting. The entry is stored even when the
// queue is full, in which case ErrSinkBacklog is returned.
func (j *Journal) Append(_ context.Context, e Entry) (Entry, error) {
	j.mu.Lock()
	e.EntryID = uuid.New().String()
	e.Sequence = j.sequence + 1
	e.Timestamp = j.clock().UTC()
	e.PreviousHash = j.chainHead

	hash, err := computeEntryHash(e)
	if err != nil {
		j.mu.Unlock()
		return Entry{}, fmt.Errorf("failed to compute entry hash: %w", err)
	}
	e.EntryHash = hash

	j.sequence = e.Sequence
	j.chainHead = hash
	j.entries = append(j.entries, e)
	if over := len(j.entries) - j.capacity; over > 0 {
		j.anchor = j.entries[over].PreviousHash
		j.entries = append([]Entry(nil), j.entries[over:]...)
	}
	// Enqueue under the lock so the sink sees entries in chain order.
	var queueErr error
	if j.queue != nil && !j.closed {
		select {
		case j.queue <- e:
		default:
			queueErr = ErrSinkBacklog
		}
	}
	j.mu.Unlock()

	return e, queueErr
}

// Latest returns up to n most recent entries, newest first.
func (j *Journal) Latest(n int) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if n <= 0 || n > len(j.entries) {
		n = len(j.entries)
	}
	out := make([]Entry, 0, n)
	for i := len(j.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, j.entries[i])
	}
	return out
}

// ChainHead returns the hash of the last entry, or GenesisHash.
func (j *Journal) ChainHead() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.chainHead
}

// Len returns the number of entries held in memory.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// VerifyChain recomputes every retained entry hash and checks the links.
func (j *Journal) VerifyChain() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return verify(j.entries, j.anchor)
}

func verify(entries []Entry, anchor string) error {
	expectedPrev := anchor
	for i, entry := range entries {
		if entry.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s but expected %s",
				ErrChainBroken, entry.Sequence, entry.PreviousHash, expectedPrev)
		}
		computed, err := computeEntryHash(entry)
		if err != nil {
			return fmt.Errorf("%w: entry %d hash computation failed: %w", ErrChainBroken, i, err)
		}
		if computed != entry.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)",
				ErrChainBroken, entry.Sequence, computed, entry.EntryHash)
		}
		expectedPrev = entry.EntryHash
	}
	return nil
}

func computeEntryHash(e Entry) (string, error) {
	hashable := struct {
		Sequence     uint64                 `json:"sequence"`
		Timestamp    time.Time              `json:"timestamp"`
		RequestID    uuid.UUID              `json:"request_id"`
		Action       contracts.ActionName   `json:"action"`
		Environment  contracts.Environment  `json:"environment"`
		RequestedBy  string                 `json:"requested_by"`
		Status       contracts.ActionStatus `json:"status"`
		Detail       string                 `json:"detail"`
		PreviousHash string                 `json:"previous_hash"`
	}{
		Sequence:     e.Sequence,
		Timestamp:    e.Timestamp,
		RequestID:    e.RequestID,
		Action:       e.Action,
		Environment:  e.Environment,
		RequestedBy:  e.RequestedBy,
		Status:       e.Status,
		Detail:       e.Detail,
		PreviousHash: e.PreviousHash,
	}
	data, err := json.Marshal(hashable)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
