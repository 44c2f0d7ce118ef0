package mdlog

import (
	"github.com/cephmds/mdjournal/pkg/metasource"
	"github.com/cephmds/mdjournal/pkg/metrics"
	"github.com/cephmds/mdjournal/pkg/objectjournal"
	"github.com/cephmds/mdjournal/pkg/segment"
)

// StandbyTrim trims segments a standby replica holds purely to tail an
// active writer's journal, once the writer's expire_pos has advanced past
// them. Unlike Trimmer, it never runs try_expire: the dirty lists pertain
// to in-memory cache state the standby never populated.
type StandbyTrim struct {
	oj  objectjournal.ObjectJournal
	idx *segment.Index
	src metasource.MetadataSource
}

// NewStandbyTrim wires a StandbyTrim over the journal and index a replay
// loop is tailing.
func NewStandbyTrim(oj objectjournal.ObjectJournal, idx *segment.Index, src metasource.MetadataSource) *StandbyTrim {
	return &StandbyTrim{oj: oj, idx: idx, src: src}
}

// Trim removes every segment whose End is at or before the journaler's
// current expire_pos, clears their dirty lists, and asks the metadata
// source to trim its cache if anything was removed. Caller must not be
// holding source_lock.
func (st *StandbyTrim) Trim() {
	st.src.Lock()
	expire := st.oj.ExpirePos()
	removed := 0
	for {
		oldest := st.idx.Oldest()
		if oldest == nil || oldest.End > expire {
			break
		}
		seg, ok := st.idx.Remove(oldest.Offset)
		if !ok {
			break
		}
		for handle := range seg.DirtyLists {
			delete(seg.DirtyLists, handle)
		}
		removed++
	}
	if removed > 0 {
		metrics.Segments.Set(float64(st.idx.Len()))
	}
	st.src.Unlock()

	if removed > 0 {
		st.src.Trim(removed)
	}
}

// standbyTrim is the convenience entry point ReplayEngine's EINVAL-resync
// branch calls; it builds a throwaway StandbyTrim rather than requiring
// every caller to keep one alive.
func standbyTrim(oj objectjournal.ObjectJournal, idx *segment.Index, src metasource.MetadataSource) {
	NewStandbyTrim(oj, idx, src).Trim()
}
