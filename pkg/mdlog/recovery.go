package mdlog

import (
	"time"

	"github.com/cephmds/mdjournal/pkg/config"
	"github.com/cephmds/mdjournal/pkg/journalerr"
	"github.com/cephmds/mdjournal/pkg/metasource"
	"github.com/cephmds/mdjournal/pkg/objectjournal"
	"github.com/cephmds/mdjournal/pkg/pointer"
	"github.com/cephmds/mdjournal/util"
)

// DefaultJournalFactory builds the disk-backed reference ObjectJournal
// under cfg.JournalDir for node nodeID, the factory cmd/mdlogd wires into
// mdlog.New when no richer RADOS-backed client is available.
func DefaultJournalFactory(cfg *config.Config, nodeID uint64) JournalFactory {
	return func(ino uint64) objectjournal.ObjectJournal {
		return objectjournal.New(cfg.JournalDir, nodeID, ino, 50*time.Millisecond)
	}
}

// JournalFactory builds an unrecovered ObjectJournal bound to inode ino.
// RecoveryEngine and ReformatEngine both use it instead of constructing
// objectjournal.DiskJournal directly, so a RADOS-backed ObjectJournal can
// be swapped in later by handing Log a different factory.
type JournalFactory func(ino uint64) objectjournal.ObjectJournal

// RecoveryResult is what RecoveryEngine hands to the startup orchestrator:
// the resolved pointer, the opened front journal, and whether its stream
// format trails the configured target.
type RecoveryResult struct {
	Pointer       *pointer.JournalPointer
	Front         objectjournal.ObjectJournal
	NeedsReformat bool
}

// RecoveryEngine resolves the JournalPointer and opens the front journal,
// cleaning up an orphaned back journal left by a reformat that crashed
// mid-flight.
type RecoveryEngine struct {
	cfg        *config.Config
	store      pointer.Store
	newJournal JournalFactory
	src        metasource.MetadataSource
}

// NewRecoveryEngine wires a RecoveryEngine over the given pointer store,
// journal factory, and metadata source.
func NewRecoveryEngine(cfg *config.Config, store pointer.Store, newJournal JournalFactory, src metasource.MetadataSource) *RecoveryEngine {
	return &RecoveryEngine{cfg: cfg, store: store, newJournal: newJournal, src: src}
}

// Run executes the single-shot recovery sequence. source_lock is held
// across the pointer-store and metadata-source calls, but dropped before
// every call that can block on the backend (Recover, Erase).
func (r *RecoveryEngine) Run() (*RecoveryResult, error) {
	nodeID := r.src.NodeID()

	r.src.Lock()
	ptr, err := r.store.Load(nodeID)
	r.src.Unlock()

	if err == pointer.ErrAbsent {
		ptr = &pointer.JournalPointer{Front: pointer.DefaultIno(nodeID), Back: 0}
		r.src.Lock()
		err := r.store.Save(nodeID, ptr)
		r.src.Unlock()
		if err != nil {
			return nil, err
		}
		util.Info("mdlog: no journal pointer for node %d, initialized front=%d", nodeID, ptr.Front)
	} else if err != nil {
		return nil, err
	}

	if ptr.HasBack() {
		if err := r.cleanOrphanBack(nodeID, ptr); err != nil {
			return nil, err
		}
	}

	front := r.newJournal(ptr.Front)
	if err := front.Recover(); err != nil {
		if !journalerr.Is(err, journalerr.NotFound) {
			return nil, err
		}
		layout := objectjournal.Layout{ObjectSize: r.cfg.LayoutObjSize, Period: r.cfg.LayoutPeriod}
		if err := front.Create(layout, r.cfg.JournalFormat); err != nil {
			return nil, err
		}
		util.Info("mdlog: node %d has no existing front journal, created ino=%d at format=%d", nodeID, ptr.Front, r.cfg.JournalFormat)
	}

	// Replay starts from the oldest position not yet expired.
	front.SetReadPos(front.ExpirePos())

	needsReformat := front.StreamFormat() < r.cfg.JournalFormat
	return &RecoveryResult{Pointer: ptr, Front: front, NeedsReformat: needsReformat}, nil
}

// cleanOrphanBack erases the partially-written back journal left by a
// reformat that crashed after persisting the pointer but before flipping
// it; the front journal is untouched and remains authoritative.
func (r *RecoveryEngine) cleanOrphanBack(nodeID uint64, ptr *pointer.JournalPointer) error {
	util.Warn("mdlog: node %d has orphan back journal ino=%d, cleaning up", nodeID, ptr.Back)

	back := r.newJournal(ptr.Back)
	if err := back.Recover(); err != nil && !journalerr.Is(err, journalerr.NotFound) {
		return err
	}
	if err := back.Erase(); err != nil {
		return err
	}
	if err := back.Close(); err != nil {
		util.Warn("mdlog: closing orphan back journal ino=%d: %v", ptr.Back, err)
	}

	r.src.Lock()
	defer r.src.Unlock()
	ptr.Back = 0
	return r.store.Save(nodeID, ptr)
}
