package mdlog

import (
	"time"

	"github.com/cephmds/mdjournal/pkg/config"
	"github.com/cephmds/mdjournal/pkg/metasource"
	"github.com/cephmds/mdjournal/pkg/metrics"
	"github.com/cephmds/mdjournal/pkg/objectjournal"
	"github.com/cephmds/mdjournal/pkg/segment"
	"github.com/cephmds/mdjournal/util"
)

// Trimmer bounds resident segment and event counts to configured maxima
// while preserving durability and ordering.
type Trimmer struct {
	cfg    *config.Config
	oj     objectjournal.ObjectJournal
	idx    *segment.Index
	src    metasource.MetadataSource
	capped func() bool
}

// NewTrimmer wires a Trimmer against the same collaborators an
// EventPipeline uses. capped reports whether the log has been Cap()'d,
// enforcing the capped-log rule that the current segment never expires
// while the log is still open for writes.
func NewTrimmer(cfg *config.Config, oj objectjournal.ObjectJournal, idx *segment.Index, src metasource.MetadataSource, capped func() bool) *Trimmer {
	return &Trimmer{cfg: cfg, oj: oj, idx: idx, src: src, capped: capped}
}

// Trim iterates the segment index in ascending offset order, kicking off
// try_expire for every eligible segment, then runs _trim_expired_segments.
// budget bounds wall-clock time spent; zero uses the configured default.
func (tr *Trimmer) Trim(budget time.Duration) {
	if budget <= 0 {
		budget = tr.cfg.TrimBudget
	}
	deadline := time.Now().Add(budget)

	tr.src.Lock()
	for _, off := range tr.idx.Ascending() {
		if time.Now().After(deadline) {
			break
		}

		live := tr.idx.Len() - tr.idx.ExpiringCount() - tr.idx.ExpiredCount()
		withinBounds := live <= tr.cfg.MaxSegments && tr.idx.NumEvents() <= tr.cfg.MaxEvents
		if withinBounds {
			break
		}
		if tr.idx.ExpiringCount() >= tr.cfg.MaxExpiring {
			break
		}

		seg, ok := tr.idx.Get(off)
		if !ok || tr.idx.IsExpiring(off) || tr.idx.IsExpired(off) {
			continue
		}
		if seg.End > tr.oj.SafePos() {
			break // oldest remaining segment isn't durable yet
		}
		if seg == tr.idx.Current() && !tr.capped() {
			continue // capped-log rule: never expire the writer's active segment
		}

		prio := interpolatePriority(tr.idx.ExpiringCount(), tr.cfg.MaxExpiring)
		tr.tryExpire(seg, prio)
	}
	tr.reportGaugesLocked()
	tr.src.Unlock()

	if tr.trimExpiredSegments() {
		if err := tr.oj.WriteHead(); err != nil {
			util.Error("mdlog: trimmer failed to persist new expire_pos: %v", err)
		}
	}
}

// tryExpire delegates to MetadataSource.TryToExpire. Caller must hold
// source_lock. If the gather comes back empty, the segment moves directly
// to expired; otherwise it is promoted to expiring and maybeExpired runs
// the second pass once every sub-operation completes.
func (tr *Trimmer) tryExpire(seg *segment.LogSegment, prio metasource.Priority) {
	gather := metasource.NewGather()
	tr.src.TryToExpire(seg, gather, prio)

	if !gather.HasSubs() {
		tr.idx.MarkExpired(seg.Offset)
		metrics.SegmentsExpired.Inc()
		metrics.EventsExpired.Add(float64(seg.NumEvents))
		return
	}

	tr.idx.MarkExpiring(seg.Offset)
	gather.SetFinisher(func() { tr.maybeExpired(seg) })
	gather.Activate()
}

// maybeExpired runs the second try_expire pass once every sub-operation
// registered on the first pass has completed; it typically finds no new
// work and marks the segment expired.
func (tr *Trimmer) maybeExpired(seg *segment.LogSegment) {
	tr.src.Lock()
	defer tr.src.Unlock()

	if !tr.idx.IsExpiring(seg.Offset) {
		return // already removed by a concurrent trim pass
	}
	tr.idx.UnmarkExpiring(seg.Offset)
	tr.tryExpire(seg, metasource.PriorityHigh)
}

// trimExpiredSegments removes the oldest expired segments in order,
// advancing expire_pos as it goes. Returns whether anything was removed.
func (tr *Trimmer) trimExpiredSegments() bool {
	tr.src.Lock()
	defer tr.src.Unlock()

	removedAny := false
	for {
		oldest := tr.idx.Oldest()
		if oldest == nil || !tr.idx.IsExpired(oldest.Offset) {
			break
		}
		seg, ok := tr.idx.Remove(oldest.Offset)
		if !ok {
			break
		}
		tr.oj.SetExpirePos(seg.End)
		metrics.EventsTrimmed.Add(float64(seg.NumEvents))
		metrics.SegmentsTrimmed.Inc()
		removedAny = true
	}
	if removedAny {
		metrics.ExpirePos.Set(float64(tr.oj.ExpirePos()))
		metrics.Segments.Set(float64(tr.idx.Len()))
	}
	return removedAny
}

func (tr *Trimmer) reportGaugesLocked() {
	metrics.SegmentsExpiring.Set(float64(tr.idx.ExpiringCount()))
	metrics.SegmentsExpiredGauge.Set(float64(tr.idx.ExpiredCount()))
	metrics.EventsExpiring.Set(float64(tr.idx.ExpiringEvents()))
	metrics.EventsExpiredCount.Set(float64(tr.idx.ExpiredEvents()))
}

// interpolatePriority linearly ramps from PriorityLow to PriorityHigh as
// the count of currently-expiring segments approaches max.
func interpolatePriority(current, max int) metasource.Priority {
	if max <= 0 {
		return metasource.PriorityHigh
	}
	frac := float64(current) / float64(max)
	if frac > 1 {
		frac = 1
	}
	span := float64(metasource.PriorityHigh - metasource.PriorityLow)
	return metasource.PriorityLow + metasource.Priority(frac*span)
}
