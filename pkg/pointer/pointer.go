// Package pointer implements JournalPointer: the tiny durable record
// naming the active ("front") and, mid-reformat, the in-progress ("back")
// journal inode. Its Store is deliberately the same local-file shape the
// disk-backed ObjectJournal uses for everything else: one small file per
// node under the journal directory.
package pointer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cephmds/mdjournal/util"
)

// JournalPointer names the front (always present once initialized) and
// back (zero unless a reformat is in progress or crashed mid-flight)
// journal inodes, plus a Format field that Save and Load carry through.
// Neither RecoveryEngine nor ReformatEngine assigns Format, so it stays
// zero unless a caller sets it.
type JournalPointer struct {
	Front  uint64 `json:"front"`
	Back   uint64 `json:"back"`
	Format uint32 `json:"format"`
}

// HasBack reports whether a reformat is in progress or crashed mid-flight;
// Back is non-zero only in that window.
func (p *JournalPointer) HasBack() bool { return p.Back != 0 }

// Swap exchanges front and back, the atomic commit point of a reformat.
func (p *JournalPointer) Swap() { p.Front, p.Back = p.Back, p.Front }

// Store persists and reloads a JournalPointer for one node. Saves must be
// serialized by the caller under the metadata-source lock; Store itself
// does no locking of its own.
type Store interface {
	Load(nodeID uint64) (*JournalPointer, error)
	Save(nodeID uint64, p *JournalPointer) error
}

// ErrAbsent is returned by Load when no pointer object exists yet for the
// node; the caller should treat this as a fresh node and initialize one.
var ErrAbsent = fmt.Errorf("pointer: no journal pointer object for this node")

// FileStore is the reference Store: one JSON file per node under dir,
// written via a temp-file-plus-rename so a crash mid-save leaves either
// the old pointer or the new one, never a half-written file. The
// pointer-flip commit of a reformat depends on exactly that guarantee.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir, creating it if absent.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pointer: mkdir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(nodeID uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("pointer_%020d.json", nodeID))
}

func (s *FileStore) Load(nodeID uint64) (*JournalPointer, error) {
	raw, err := os.ReadFile(s.path(nodeID))
	if os.IsNotExist(err) {
		return nil, ErrAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("pointer: read: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrAbsent
	}

	var p JournalPointer
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("pointer: decode: %w", err)
	}
	return &p, nil
}

func (s *FileStore) Save(nodeID uint64, p *JournalPointer) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("pointer: encode: %w", err)
	}

	final := s.path(nodeID)
	tmp := final + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("pointer: open temp: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		return fmt.Errorf("pointer: write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("pointer: sync temp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("pointer: close temp: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("pointer: commit rename: %w", err)
	}

	util.Debug("pointer: saved node=%d front=%d back=%d format=%d", nodeID, p.Front, p.Back, p.Format)
	return nil
}

var _ Store = (*FileStore)(nil)

// DefaultIno computes the journal inode a fresh, never-reformatted node
// is initialized with.
func DefaultIno(nodeID uint64) uint64 {
	const mdsJournalBase = 0x200
	return mdsJournalBase + nodeID
}

// AltIno computes the alternate journal inode a reformat writes its new
// "back" journal to when the front is currently at DefaultIno.
func AltIno(nodeID uint64) uint64 {
	const mdsJournalBackupBase = 0x300
	return mdsJournalBackupBase + nodeID
}
