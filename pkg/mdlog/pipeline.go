// Package mdlog composes ObjectJournal, SegmentIndex, MetadataSource, and
// JournalPointer into the metadata journal subsystem: EventPipeline,
// Trimmer, RecoveryEngine, ReformatEngine, ReplayEngine, and StandbyTrim.
// Log is the composition root wiring them together behind one constructor.
package mdlog

import (
	"sync"
	"time"

	"github.com/cephmds/mdjournal/pkg/config"
	"github.com/cephmds/mdjournal/pkg/event"
	"github.com/cephmds/mdjournal/pkg/journalerr"
	"github.com/cephmds/mdjournal/pkg/metasource"
	"github.com/cephmds/mdjournal/pkg/metrics"
	"github.com/cephmds/mdjournal/pkg/objectjournal"
	"github.com/cephmds/mdjournal/pkg/segment"
	"github.com/cephmds/mdjournal/util"
)

type safeWaiter struct {
	atOffset uint64
	cb       func()
}

// EventPipeline is the submit path: start_entry/submit_entry one at a
// time, segment rotation after every submit, and ordered on_safe delivery
// once the backend reports durability.
type EventPipeline struct {
	mu  sync.Mutex
	cfg *config.Config
	oj  objectjournal.ObjectJournal
	idx *segment.Index
	src metasource.MetadataSource

	curEvent  *event.Event
	resolving bool // suppresses rotation for IMPORT_FINISH issued during resolve
	capped    bool

	safeWaiters []safeWaiter

	// onInvariantViolation is called instead of panicking directly so
	// tests can observe the assertion without killing the test binary.
	// Production wiring points this at util.Fatal: an invariant violation
	// here means the writer protocol was broken and the process must die.
	onInvariantViolation func(format string, args ...interface{})

	done chan struct{}
	wg   sync.WaitGroup
}

// NewEventPipeline wires a pipeline over an already-created/recovered
// ObjectJournal, a segment index, and a MetadataSource.
func NewEventPipeline(cfg *config.Config, oj objectjournal.ObjectJournal, idx *segment.Index, src metasource.MetadataSource) *EventPipeline {
	p := &EventPipeline{
		cfg:                  cfg,
		oj:                   oj,
		idx:                  idx,
		src:                  src,
		onInvariantViolation: util.Fatal,
		done:                 make(chan struct{}),
	}
	p.wg.Add(1)
	go p.safeWaiterLoop()
	return p
}

// SetResolving toggles the resolve-time IMPORT_FINISH rotation
// suppression. Callers flip this around the resolve phase of subtree
// migration; it is otherwise false.
func (p *EventPipeline) SetResolving(resolving bool) {
	p.mu.Lock()
	p.resolving = resolving
	p.mu.Unlock()
}

// IsCapped reports whether Cap has been called.
func (p *EventPipeline) IsCapped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capped
}

// StartEntry assigns e.start_off and marks an entry in progress. It is a
// programming error to call StartEntry again before the matching
// SubmitEntry completes.
func (p *EventPipeline) StartEntry(e *event.Event) {
	p.mu.Lock()
	if p.curEvent != nil {
		p.mu.Unlock()
		p.onInvariantViolation("mdlog: start_entry called while entry already in progress")
		return
	}
	e.StartOff = p.oj.WritePos()
	if cur := p.idx.Current(); cur != nil {
		e.SegKey = cur.Offset
	} else {
		p.idx.Open(e.StartOff)
		e.SegKey = e.StartOff
	}
	p.curEvent = e
	p.mu.Unlock()
}

// SubmitEntry encodes and appends e, attaches it to the current segment,
// and evaluates rotation. onSafe, if non-nil, fires once the append is
// durable, in submit order relative to other on_safe callbacks.
func (p *EventPipeline) SubmitEntry(e *event.Event, onSafe func()) error {
	p.mu.Lock()
	if p.curEvent != e {
		p.mu.Unlock()
		p.onInvariantViolation("mdlog: submit_entry called without a matching start_entry")
		return journalerr.New(journalerr.IoError)
	}
	p.mu.Unlock()

	start := time.Now()
	body := e.EncodeWithHeader()
	_, err := p.oj.AppendEntry(body)
	metrics.JournalLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		p.mu.Lock()
		p.curEvent = nil
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	seg, ok := p.idx.Get(e.SegKey)
	if !ok {
		seg = p.idx.Open(e.SegKey)
	}
	p.idx.Attach(seg, p.oj.WritePos())
	if onSafe != nil {
		p.safeWaiters = append(p.safeWaiters, safeWaiter{atOffset: p.oj.WritePos(), cb: onSafe})
	}
	p.curEvent = nil
	numEvents := p.idx.NumEvents()
	writePos := p.oj.WritePos()
	p.mu.Unlock()

	metrics.EventsAdded.Inc()
	metrics.Events.Set(float64(numEvents))
	metrics.WritePos.Set(float64(writePos))

	p.maybeRotate(e)
	return nil
}

// maybeRotate evaluates the segment rotation policy after every
// successful submit. SUBTREE_MAP never rotates (starting a segment
// submits one, which would otherwise recurse), nor does IMPORT_FINISH
// while resolving; otherwise a new segment opens whenever write_pos
// crosses a layout-period boundary.
func (p *EventPipeline) maybeRotate(e *event.Event) {
	p.mu.Lock()
	suppressed := e.Type == event.SubtreeMap || (e.Type == event.ImportFinish && p.resolving)
	cur := p.idx.Current()
	period := p.oj.LayoutPeriod()
	if period == 0 {
		period = 1
	}
	writePos := p.oj.WritePos()
	needsRotation := !suppressed && cur != nil && writePos/period != cur.Offset/period
	debugInject := p.cfg != nil && p.cfg.DebugSubtrees && e.Type != event.SubtreeMapTest
	p.mu.Unlock()

	if needsRotation {
		p.startNewSegment()
	}
	if debugInject {
		test := &event.Event{Type: event.SubtreeMapTest, Payload: []byte("debug-injected")}
		p.StartEntry(test)
		if err := p.SubmitEntry(test, nil); err != nil {
			util.Warn("mdlog: debug SUBTREEMAP_TEST submit failed: %v", err)
		}
	}
}

// startNewSegment opens a LogSegment at write_pos, advances the stray
// pointer, and submits a fresh SUBTREE_MAP so the new segment is
// independently replayable.
func (p *EventPipeline) startNewSegment() {
	p.mu.Lock()
	off := p.oj.WritePos()
	p.idx.Open(off)
	segCount := p.idx.Len()
	p.mu.Unlock()

	metrics.SegmentsAdded.Inc()
	metrics.Segments.Set(float64(segCount))

	p.src.AdvanceStray()
	sm := p.src.CreateSubtreeMap()
	p.StartEntry(sm)
	if err := p.SubmitEntry(sm, nil); err != nil {
		util.Error("mdlog: failed to submit subtree map opening new segment: %v", err)
	}
}

// WaitForSafe registers cb to fire once every submit issued before this
// call is durable.
func (p *EventPipeline) WaitForSafe(cb func()) {
	p.mu.Lock()
	p.safeWaiters = append(p.safeWaiters, safeWaiter{atOffset: p.oj.WritePos(), cb: cb})
	p.mu.Unlock()
}

// Flush forces the backend to drain pending appends.
func (p *EventPipeline) Flush() {
	p.oj.Flush()
}

// Cap closes the log to further writes; the current segment becomes
// eligible for expiry once capped.
func (p *EventPipeline) Cap() {
	p.mu.Lock()
	p.capped = true
	p.mu.Unlock()
}

func (p *EventPipeline) fireSafeWaiters() {
	p.mu.Lock()
	safe := p.oj.SafePos()
	var ready []func()
	for len(p.safeWaiters) > 0 && p.safeWaiters[0].atOffset <= safe {
		ready = append(ready, p.safeWaiters[0].cb)
		p.safeWaiters = p.safeWaiters[1:]
	}
	p.mu.Unlock()

	for _, cb := range ready {
		cb()
	}
}

// safeWaiterLoop re-registers a WaitForFlush callback against the
// backend on every cycle, delivering on_safe completions in
// non-decreasing order of their submit-time write_pos as safe_pos
// advances.
func (p *EventPipeline) safeWaiterLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		default:
		}

		flushed := make(chan struct{})
		p.oj.WaitForFlush(func(error) { close(flushed) })
		select {
		case <-flushed:
			p.fireSafeWaiters()
		case <-p.done:
			return
		}
	}
}

// Close stops the background safe-waiter delivery loop.
func (p *EventPipeline) Close() {
	close(p.done)
	p.wg.Wait()
}
