package mdlog

import (
	"github.com/cephmds/mdjournal/pkg/config"
	"github.com/cephmds/mdjournal/pkg/journalerr"
	"github.com/cephmds/mdjournal/pkg/metasource"
	"github.com/cephmds/mdjournal/pkg/objectjournal"
	"github.com/cephmds/mdjournal/pkg/pointer"
	"github.com/cephmds/mdjournal/util"
)

// ReformatEngine transcribes an old-format front journal into a new back
// journal at the configured format and atomically flips the pointer.
// Every intermediate point is recoverable: RecoveryEngine observes a
// non-zero Back and cleans up on the next start.
type ReformatEngine struct {
	cfg        *config.Config
	store      pointer.Store
	newJournal JournalFactory
	src        metasource.MetadataSource
}

// NewReformatEngine wires a ReformatEngine over the same collaborators a
// RecoveryEngine uses.
func NewReformatEngine(cfg *config.Config, store pointer.Store, newJournal JournalFactory, src metasource.MetadataSource) *ReformatEngine {
	return &ReformatEngine{cfg: cfg, store: store, newJournal: newJournal, src: src}
}

// Run reformats oldFront (already recovered, installed as ptr.Front) and
// returns the new front journal once the pointer flip has committed.
func (re *ReformatEngine) Run(ptr *pointer.JournalPointer, oldFront objectjournal.ObjectJournal) (objectjournal.ObjectJournal, error) {
	nodeID := re.src.NodeID()

	backIno := pointer.AltIno(nodeID)
	if ptr.Front == pointer.AltIno(nodeID) {
		backIno = pointer.DefaultIno(nodeID)
	}

	re.src.Lock()
	ptr.Back = backIno
	saveErr := re.store.Save(nodeID, ptr)
	re.src.Unlock()
	if saveErr != nil {
		return nil, saveErr
	}
	util.Info("mdlog: reformat node=%d front=%d -> back=%d format %d", nodeID, ptr.Front, backIno, re.cfg.JournalFormat)

	back := re.newJournal(backIno)
	layout := oldFront.GetLayout()
	if err := back.Create(layout, re.cfg.JournalFormat); err != nil {
		return nil, err
	}
	if err := back.WriteHead(); err != nil {
		return nil, err
	}

	if err := re.transcribe(oldFront, back); err != nil {
		return nil, err
	}

	back.Flush()
	if err := back.GetError(); err != nil {
		return nil, err
	}

	re.src.Lock()
	ptr.Swap()
	saveErr = re.store.Save(nodeID, ptr)
	re.src.Unlock()
	if saveErr != nil {
		return nil, saveErr
	}
	util.Info("mdlog: reformat node=%d pointer flipped, new front=%d", nodeID, ptr.Front)

	if err := oldFront.Erase(); err != nil {
		return nil, err
	}
	if err := oldFront.Close(); err != nil {
		util.Warn("mdlog: closing old front after reformat: %v", err)
	}

	re.src.Lock()
	ptr.Back = 0
	saveErr = re.store.Save(nodeID, ptr)
	re.src.Unlock()
	if saveErr != nil {
		return nil, saveErr
	}

	return back, nil
}

// transcribe drains oldJournal entry-by-entry into newJournal, dropping
// source_lock around every backend wait so beacons and other I/O can
// progress.
func (re *ReformatEngine) transcribe(oldJournal, newJournal objectjournal.ObjectJournal) error {
	for {
		re.src.Lock()
		atEOF := oldJournal.ReadPos() >= oldJournal.WritePos()
		ojErr := oldJournal.GetError()
		re.src.Unlock()
		if ojErr != nil {
			return ojErr
		}
		if atEOF {
			return nil
		}

		readable := make(chan error, 1)
		oldJournal.WaitForReadable(func(err error) { readable <- err })
		if err := <-readable; err != nil {
			if journalerr.Is(err, journalerr.Retry) {
				continue
			}
			return err
		}

		body, err := oldJournal.TryReadEntry()
		if err != nil {
			if journalerr.Is(err, journalerr.Retry) {
				continue
			}
			return err
		}

		if _, err := newJournal.AppendEntry(body); err != nil {
			return err
		}
	}
}
