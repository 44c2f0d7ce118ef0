package mdlog

import (
	"github.com/cephmds/mdjournal/pkg/config"
	"github.com/cephmds/mdjournal/pkg/event"
	"github.com/cephmds/mdjournal/pkg/journalerr"
	"github.com/cephmds/mdjournal/pkg/metasource"
	"github.com/cephmds/mdjournal/pkg/metrics"
	"github.com/cephmds/mdjournal/pkg/objectjournal"
	"github.com/cephmds/mdjournal/pkg/segment"
	"github.com/cephmds/mdjournal/util"
)

// ReplayEngine sequentially reads events from read_pos to write_pos and
// dispatches them to MetadataSource.Replay, rebuilding the SegmentIndex
// as it goes.
type ReplayEngine struct {
	cfg *config.Config
	oj  objectjournal.ObjectJournal
	idx *segment.Index
	src metasource.MetadataSource

	// fatal is called instead of panicking/exiting directly on an
	// unskippable decode failure, so tests can observe the abort without
	// killing the test binary; production wiring points this at
	// util.Fatal, matching EventPipeline.onInvariantViolation.
	fatal func(format string, args ...interface{})
}

// NewReplayEngine wires a ReplayEngine over an already-recovered journal
// and the (initially empty) segment index it will populate.
func NewReplayEngine(cfg *config.Config, oj objectjournal.ObjectJournal, idx *segment.Index, src metasource.MetadataSource) *ReplayEngine {
	return &ReplayEngine{cfg: cfg, oj: oj, idx: idx, src: src, fatal: util.Fatal}
}

// Run executes the replay loop. It returns journalerr.Retry when the
// caller should restart replay against an advancing writer (the resync
// path exhausted its budget), and any other error fatally.
func (re *ReplayEngine) Run() error {
	resyncAttempts := 0

	for {
		re.src.Lock()
		readPos := re.oj.ReadPos()
		writePos := re.oj.WritePos()
		re.src.Unlock()
		if readPos >= writePos {
			break
		}

		readable := make(chan error, 1)
		re.oj.WaitForReadable(func(err error) { readable <- err })
		if err := <-readable; err != nil {
			if journalerr.Is(err, journalerr.Retry) {
				continue
			}
			return err
		}

		if err := re.readAndApplyOne(&resyncAttempts); err != nil {
			return err
		}
	}

	re.src.Lock()
	metrics.ExpirePos.Set(float64(re.oj.ExpirePos()))
	metrics.ReadPos.Set(float64(re.oj.ReadPos()))
	re.src.Unlock()
	return nil
}

// readAndApplyOne reads one entry, decodes it, attaches it to the current
// segment (opening a new one on a segment-boundary event type), and
// replays it. A nil return with nothing applied tells Run to loop and wait
// again; journalerr.Retry is passed up to Run's caller.
func (re *ReplayEngine) readAndApplyOne(resyncAttempts *int) error {
	re.src.Lock()
	posBefore := re.oj.ReadPos()
	body, err := re.oj.TryReadEntry()
	re.src.Unlock()

	if err != nil {
		return re.handleReadError(err, resyncAttempts)
	}

	e, derr := event.Decode(body)
	if derr != nil {
		if re.cfg.SkipCorruptEvents {
			util.Warn("mdlog: skipping corrupt event at offset %d", posBefore)
			return nil
		}
		re.fatal("mdlog: corrupt event at offset %d during replay: %v", posBefore, derr)
		return journalerr.Wrap(journalerr.CorruptEvent, derr)
	}
	e.StartOff = posBefore

	re.src.Lock()
	defer re.src.Unlock()

	if e.Type.IsSegmentBoundary() {
		re.idx.Open(posBefore)
	}
	cur := re.idx.Current()
	if cur == nil {
		// An event arrived before any SUBTREE_MAP ever opened a segment;
		// skip it rather than attach it to nothing.
		return nil
	}

	e.SegKey = cur.Offset
	re.idx.Attach(cur, re.oj.ReadPos())

	if err := re.src.Replay(e); err != nil {
		util.Error("mdlog: replay of event at offset %d failed: %v", posBefore, err)
	}
	return nil
}

// handleReadError sorts TryReadEntry failures: NotFound becomes
// Retry-to-caller (the journal was trimmed out from under a standby); a
// backend error observed while read_pos trails expire_pos triggers the
// head-reread-and-resync dance, bounded by cfg.ReplayResyncLimit; any
// other error aborts replay fatally.
func (re *ReplayEngine) handleReadError(err error, resyncAttempts *int) error {
	if journalerr.Is(err, journalerr.Retry) {
		return nil // not readable yet; Run waits and tries again
	}
	if journalerr.Is(err, journalerr.NotFound) {
		return journalerr.New(journalerr.Retry)
	}

	re.src.Lock()
	behindExpire := re.oj.ReadPos() < re.oj.ExpirePos()
	re.src.Unlock()
	if !behindExpire {
		return err
	}

	if *resyncAttempts >= re.cfg.ReplayResyncLimit {
		return journalerr.New(journalerr.Retry)
	}
	*resyncAttempts++

	if rerr := re.oj.RereadHead(); rerr != nil {
		return rerr
	}
	standbyTrim(re.oj, re.idx, re.src)

	// Whether or not the reread caught read_pos up to the writer's new
	// expire_pos, loop again; the attempt counter bounds how long a writer
	// advancing faster than replay can keep us here.
	return nil
}
