// Package metasource declares the MetadataSource collaborator: the cache
// that owns the actual metadata, dirty lists, and strays that drive
// segment expiry. The journal core only ever calls through this
// interface; it never reaches into cache internals directly.
package metasource

import (
	"sync"

	"github.com/cephmds/mdjournal/pkg/event"
	"github.com/cephmds/mdjournal/pkg/segment"
)

// Priority is the I/O urgency hint passed to TryToExpire; Trimmer ramps
// it linearly from PriorityLow to PriorityHigh as the count of expiring
// segments approaches MaxExpiring.
type Priority int

const (
	PriorityLow  Priority = 0
	PriorityHigh Priority = 100
)

// MetadataSource is the cache-side half of the journal: it knows how to
// apply a replayed event, how to flush the dirty work pinning a segment,
// and how to manufacture the SUBTREE_MAP that opens a new one.
type MetadataSource interface {
	// Lock and Unlock guard the single coarse source_lock; callers must
	// hold it across any multi-step sequence and must drop it before
	// blocking on journal I/O.
	Lock()
	Unlock()

	NodeID() uint64
	MetadataPoolID() uint64

	// Replay applies one event read back from the journal during
	// recovery. Replay must be idempotent against partially-applied
	// state left over from a previous crash.
	Replay(e *event.Event) error

	// TryToExpire kicks off whatever asynchronous work (dirty list
	// flushes, stray reintegration) must complete before seg can expire.
	// Work in flight when TryToExpire returns must register against
	// gather before returning; prio hints how aggressively to schedule it.
	TryToExpire(seg *segment.LogSegment, gather *Gather, prio Priority)

	// AdvanceStray rotates the stray directory fragment used to receive
	// unlinked-but-still-open inodes, bounding how much of the stray
	// namespace a single segment can pin.
	AdvanceStray()

	// CreateSubtreeMap builds the SUBTREE_MAP event that must open every
	// new segment.
	CreateSubtreeMap() *event.Event

	// Trim asks the cache to proactively flush up to limit items of
	// dirty work, independent of any particular segment's expiry.
	Trim(limit int)
}

// MemSource is an in-memory reference MetadataSource: replayed events are
// recorded rather than applied to real state, and TryToExpire simulates
// an asynchronous flush for every dirty-list handle on the segment. It is
// the standalone source cmd/mdlogd falls back to when no richer cache is
// wired in.
type MemSource struct {
	mu sync.Mutex

	nodeID   uint64
	poolID   uint64
	replayed []*event.Event
	strays   int
	trimmed  int
	subtrees int
}

// NewMemSource returns a MemSource identified by nodeID/poolID.
func NewMemSource(nodeID, poolID uint64) *MemSource {
	return &MemSource{nodeID: nodeID, poolID: poolID}
}

func (m *MemSource) Lock()   { m.mu.Lock() }
func (m *MemSource) Unlock() { m.mu.Unlock() }

func (m *MemSource) NodeID() uint64         { return m.nodeID }
func (m *MemSource) MetadataPoolID() uint64 { return m.poolID }

func (m *MemSource) Replay(e *event.Event) error {
	m.replayed = append(m.replayed, e)
	return nil
}

// Replayed returns every event passed to Replay so far, for assertions in
// tests; it does not copy the slice.
func (m *MemSource) Replayed() []*event.Event { return m.replayed }

// TryToExpire launches one goroutine per dirty-list handle that completes
// the gather after a trivial delay, standing in for the real flush I/O a
// disk-backed MetadataSource would issue.
func (m *MemSource) TryToExpire(seg *segment.LogSegment, gather *Gather, prio Priority) {
	handles := make([]string, 0, len(seg.DirtyLists))
	for handle := range seg.DirtyLists {
		handles = append(handles, handle)
	}
	for _, h := range handles {
		done := gather.Add()
		handle := h
		go func() {
			m.mu.Lock()
			delete(seg.DirtyLists, handle)
			m.mu.Unlock()
			done()
		}()
	}
}

func (m *MemSource) AdvanceStray() {
	m.mu.Lock()
	m.strays++
	m.mu.Unlock()
}

// StrayCount reports how many times AdvanceStray has run.
func (m *MemSource) StrayCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strays
}

func (m *MemSource) CreateSubtreeMap() *event.Event {
	m.mu.Lock()
	m.subtrees++
	m.mu.Unlock()
	return &event.Event{Type: event.SubtreeMap, Payload: []byte("subtreemap")}
}

func (m *MemSource) Trim(limit int) {
	m.mu.Lock()
	m.trimmed += limit
	m.mu.Unlock()
}

// TrimCalls reports the cumulative limit argument passed across every
// Trim call, for assertions in tests.
func (m *MemSource) TrimCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trimmed
}

var _ MetadataSource = (*MemSource)(nil)
