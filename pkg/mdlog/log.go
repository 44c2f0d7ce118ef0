package mdlog

import (
	"sync"
	"time"

	"github.com/cephmds/mdjournal/pkg/config"
	"github.com/cephmds/mdjournal/pkg/event"
	"github.com/cephmds/mdjournal/pkg/journalerr"
	"github.com/cephmds/mdjournal/pkg/metasource"
	"github.com/cephmds/mdjournal/pkg/objectjournal"
	"github.com/cephmds/mdjournal/pkg/pointer"
	"github.com/cephmds/mdjournal/pkg/respawn"
	"github.com/cephmds/mdjournal/pkg/segment"
	"github.com/cephmds/mdjournal/util"
)

// Log is the composition root of the journal subsystem: it owns the
// collaborators RecoveryEngine, ReformatEngine, and ReplayEngine need at
// startup, then hands off to an EventPipeline and a periodic Trimmer for
// normal operation.
type Log struct {
	cfg        *config.Config
	store      pointer.Store
	newJournal JournalFactory
	src        metasource.MetadataSource
	resp       respawn.Handler

	mu       sync.Mutex
	oj       objectjournal.ObjectJournal
	idx      *segment.Index
	pipeline *EventPipeline
	trimmer  *Trimmer

	done chan struct{}
	wg   sync.WaitGroup
}

// New returns a Log that has not yet recovered or opened a journal; call
// Start to run the startup sequence. resp may be nil, which installs
// respawn.Default.
func New(cfg *config.Config, store pointer.Store, newJournal JournalFactory, src metasource.MetadataSource, resp respawn.Handler) *Log {
	if resp == nil {
		resp = respawn.Default{}
	}
	return &Log{
		cfg:        cfg,
		store:      store,
		newJournal: newJournal,
		src:        src,
		resp:       resp,
		done:       make(chan struct{}),
	}
}

// Start runs RecoveryEngine, optionally ReformatEngine, then ReplayEngine,
// and once replay completes, wires the EventPipeline and the periodic
// Trimmer and begins normal operation. Must be called exactly once, before
// any Submit call.
func (l *Log) Start() error {
	rec := NewRecoveryEngine(l.cfg, l.store, l.newJournal, l.src)
	result, err := rec.Run()
	if err != nil {
		return err
	}

	front := result.Front
	ptr := result.Pointer
	if result.NeedsReformat {
		util.Info("mdlog: node %d journal format %d trails configured %d, reformatting",
			l.src.NodeID(), front.StreamFormat(), l.cfg.JournalFormat)
		ref := NewReformatEngine(l.cfg, l.store, l.newJournal, l.src)
		newFront, err := ref.Run(ptr, front)
		if err != nil {
			return err
		}
		front = newFront
	}

	idx := segment.New()
	replay := NewReplayEngine(l.cfg, front, idx, l.src)
	if err := replay.Run(); err != nil {
		return err
	}

	pipeline := NewEventPipeline(l.cfg, front, idx, l.src)
	trimmer := NewTrimmer(l.cfg, front, idx, l.src, pipeline.IsCapped)

	l.mu.Lock()
	l.oj = front
	l.idx = idx
	l.pipeline = pipeline
	l.trimmer = trimmer
	l.mu.Unlock()

	front.SetWriteErrorHandler(l.handleWriteError)

	l.wg.Add(1)
	go l.trimLoop()
	return nil
}

// handleWriteError is the front journal's write-error callback: fencing
// triggers respawn, any other backend write error triggers suicide.
func (l *Log) handleWriteError(err error) {
	if journalerr.Is(err, journalerr.Fenced) {
		l.resp.Respawn(err.Error())
		return
	}
	l.resp.Suicide(err)
}

func (l *Log) trimLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.TrimPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Trimmer().Trim(0)
		case <-l.done:
			return
		}
	}
}

// Submit starts and submits e as one call, for callers that don't need to
// hold the one-at-a-time start_entry/submit_entry split open across a
// goroutine boundary.
func (l *Log) Submit(e *event.Event, onSafe func()) error {
	p := l.Pipeline()
	p.StartEntry(e)
	return p.SubmitEntry(e, onSafe)
}

// Pipeline, Trimmer, Index, and ObjectJournal expose the collaborators
// wired by Start for callers that need the lower-level submit and trim
// operations directly.
func (l *Log) Pipeline() *EventPipeline {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pipeline
}

func (l *Log) Trimmer() *Trimmer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.trimmer
}

func (l *Log) Index() *segment.Index {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.idx
}

func (l *Log) ObjectJournal() objectjournal.ObjectJournal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.oj
}

// Close stops the trim loop and the pipeline's safe-waiter loop, then
// closes the underlying journal.
func (l *Log) Close() error {
	close(l.done)
	l.wg.Wait()

	l.mu.Lock()
	p, oj := l.pipeline, l.oj
	l.mu.Unlock()

	if p != nil {
		p.Close()
	}
	if oj != nil {
		oj.Flush()
		if err := oj.WriteHead(); err != nil {
			util.Error("mdlog: failed to persist head on close: %v", err)
		}
		return oj.Close()
	}
	return nil
}
