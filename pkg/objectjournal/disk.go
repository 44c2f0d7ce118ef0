package objectjournal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/mmap"

	"github.com/cephmds/mdjournal/pkg/journalerr"
	"github.com/cephmds/mdjournal/util"
)

// headerSize is the u32 length prefix DiskJournal adds in front of every
// body handed to AppendEntry. The type tag and payload arrive pre-encoded
// from pkg/event, so the full on-disk frame is [length|type-tag|payload].
const headerSize = 4

type onDiskHead struct {
	Format    uint32 `json:"format"`
	Layout    Layout `json:"layout"`
	ReadPos   uint64 `json:"read_pos"`
	WritePos  uint64 `json:"write_pos"`
	SafePos   uint64 `json:"safe_pos"`
	ExpirePos uint64 `json:"expire_pos"`

	// WriterID identifies the writer instance that last wrote this head.
	// A writeable journal that rereads a head stamped by someone else has
	// been fenced: another writer claimed the journal out from under it.
	WriterID string `json:"writer_id"`
}

// DiskJournal is the reference ObjectJournal: one append-only data file
// plus one small JSON head file per (node, ino), under dir. Writes go
// through a buffered writer drained by a background flush loop on a
// ticker.
type DiskJournal struct {
	dir      string
	nodeID   uint64
	ino      uint64
	writerID string

	mu         sync.Mutex // positions, format, layout, readonly, error state
	cond       *sync.Cond // signaled whenever writePos advances
	ioMu       sync.Mutex // file, writer, reader
	format     uint32
	layout     Layout
	readPos    uint64
	writePos   uint64
	safePos    uint64
	expirePos  uint64
	readonly   bool
	claimed    bool // this instance has stamped its writerID into the head
	writeErr   error
	errHandler func(error)

	pendingFlush []func(error)

	file   *os.File
	writer *bufio.Writer
	reader *mmap.ReaderAt

	flushEvery time.Duration
	done       chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// New returns a DiskJournal for ino under dir, not yet created or
// recovered. flushEvery controls the background flush loop's period.
func New(dir string, nodeID, ino uint64, flushEvery time.Duration) *DiskJournal {
	if flushEvery <= 0 {
		flushEvery = 50 * time.Millisecond
	}
	j := &DiskJournal{
		dir:        dir,
		nodeID:     nodeID,
		ino:        ino,
		writerID:   uuid.New().String(),
		flushEvery: flushEvery,
		done:       make(chan struct{}),
	}
	j.cond = sync.NewCond(&j.mu)
	return j
}

func (j *DiskJournal) dataPath() string {
	return filepath.Join(j.dir, fmt.Sprintf("journal_%020d.data", j.ino))
}

func (j *DiskJournal) headPath() string {
	return filepath.Join(j.dir, fmt.Sprintf("journal_%020d.head", j.ino))
}

func (j *DiskJournal) Create(layout Layout, format uint32) error {
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return journalerr.Wrap(journalerr.IoError, err)
	}

	j.ioMu.Lock()
	f, err := os.OpenFile(j.dataPath(), os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		j.ioMu.Unlock()
		return journalerr.Wrap(journalerr.IoError, err)
	}
	j.file = f
	j.writer = bufio.NewWriter(f)
	j.ioMu.Unlock()

	j.mu.Lock()
	j.format = format
	j.layout = layout
	j.readPos, j.writePos, j.safePos, j.expirePos = 0, 0, 0, 0
	j.readonly = false
	j.mu.Unlock()

	if err := j.WriteHead(); err != nil {
		return err
	}
	j.startFlushLoop()
	return nil
}

func (j *DiskJournal) Recover() error {
	raw, err := os.ReadFile(j.headPath())
	if os.IsNotExist(err) {
		return journalerr.New(journalerr.NotFound)
	}
	if err != nil {
		return journalerr.Wrap(journalerr.IoError, err)
	}

	var h onDiskHead
	if err := json.Unmarshal(raw, &h); err != nil {
		return journalerr.Wrap(journalerr.CorruptEvent, err)
	}

	j.ioMu.Lock()
	f, err := os.OpenFile(j.dataPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		j.ioMu.Unlock()
		return journalerr.Wrap(journalerr.IoError, err)
	}
	// Appends must resume at write_pos, not the file's start; a torn tail
	// past write_pos is overwritten by the next append.
	if _, err := f.Seek(int64(h.WritePos), io.SeekStart); err != nil {
		f.Close()
		j.ioMu.Unlock()
		return journalerr.Wrap(journalerr.IoError, err)
	}
	j.file = f
	j.writer = bufio.NewWriter(f)
	if err := j.refreshReaderLocked(); err != nil {
		util.Debug("objectjournal: refreshReader on recover: %v", err)
	}
	j.ioMu.Unlock()

	j.mu.Lock()
	j.format = h.Format
	j.layout = h.Layout
	j.readPos, j.writePos, j.safePos, j.expirePos = h.ReadPos, h.WritePos, h.SafePos, h.ExpirePos
	j.mu.Unlock()

	j.startFlushLoop()
	return nil
}

func (j *DiskJournal) RereadHead() error {
	raw, err := os.ReadFile(j.headPath())
	if err != nil {
		return journalerr.Wrap(journalerr.IoError, err)
	}
	var h onDiskHead
	if err := json.Unmarshal(raw, &h); err != nil {
		return journalerr.Wrap(journalerr.CorruptEvent, err)
	}

	j.mu.Lock()
	fenced := !j.readonly && j.claimed && h.WriterID != "" && h.WriterID != j.writerID
	j.mu.Unlock()
	if fenced {
		ferr := journalerr.New(journalerr.Fenced)
		j.recordWriteError(ferr)
		return ferr
	}

	j.mu.Lock()
	j.format = h.Format
	j.layout = h.Layout
	j.readPos, j.writePos, j.safePos, j.expirePos = h.ReadPos, h.WritePos, h.SafePos, h.ExpirePos
	j.mu.Unlock()
	return nil
}

func (j *DiskJournal) WriteHead() error {
	j.mu.Lock()
	h := onDiskHead{
		Format:    j.format,
		Layout:    j.layout,
		ReadPos:   j.readPos,
		WritePos:  j.writePos,
		SafePos:   j.safePos,
		ExpirePos: j.expirePos,
		WriterID:  j.writerID,
	}
	j.claimed = true
	j.mu.Unlock()

	raw, err := json.Marshal(h)
	if err != nil {
		return journalerr.Wrap(journalerr.IoError, err)
	}

	final := j.headPath()
	tmp := final + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return journalerr.Wrap(journalerr.IoError, err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		return journalerr.Wrap(journalerr.IoError, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return journalerr.Wrap(journalerr.IoError, err)
	}
	if err := f.Close(); err != nil {
		return journalerr.Wrap(journalerr.IoError, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return journalerr.Wrap(journalerr.IoError, err)
	}
	return nil
}

func (j *DiskJournal) Erase() error {
	j.stopFlushLoop()

	j.ioMu.Lock()
	if j.reader != nil {
		j.reader.Close()
		j.reader = nil
	}
	if j.file != nil {
		j.file.Close()
		j.file = nil
	}
	j.ioMu.Unlock()

	var firstErr error
	if err := os.Remove(j.dataPath()); err != nil && !os.IsNotExist(err) {
		firstErr = err
	}
	if err := os.Remove(j.headPath()); err != nil && !os.IsNotExist(err) && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return journalerr.Wrap(journalerr.IoError, firstErr)
	}
	return nil
}

// AppendEntry frames body with a u32 length prefix and buffers it for the
// next flush cycle, returning the offset the entry starts at.
func (j *DiskJournal) AppendEntry(body []byte) (uint64, error) {
	j.mu.Lock()
	if j.readonly {
		j.mu.Unlock()
		return 0, journalerr.Wrap(journalerr.IoError, errReadOnly)
	}
	startOff := j.writePos
	j.mu.Unlock()

	var lenBuf [headerSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	j.ioMu.Lock()
	if j.writer == nil {
		j.ioMu.Unlock()
		return 0, journalerr.Wrap(journalerr.IoError, fmt.Errorf("objectjournal: not open for write"))
	}
	if _, err := j.writer.Write(lenBuf[:]); err != nil {
		j.ioMu.Unlock()
		j.recordWriteError(err)
		return 0, journalerr.Wrap(journalerr.IoError, err)
	}
	if _, err := j.writer.Write(body); err != nil {
		j.ioMu.Unlock()
		j.recordWriteError(err)
		return 0, journalerr.Wrap(journalerr.IoError, err)
	}
	j.ioMu.Unlock()

	j.mu.Lock()
	j.writePos += uint64(headerSize + len(body))
	j.cond.Broadcast()
	j.mu.Unlock()

	return startOff, nil
}

func (j *DiskJournal) recordWriteError(err error) {
	j.mu.Lock()
	j.writeErr = err
	handler := j.errHandler
	j.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

// TryReadEntry reads the next length-prefixed entry at read_pos and
// advances it. It returns journalerr.Retry when read_pos has caught up to
// what has actually been flushed; the caller should WaitForReadable and
// try again.
func (j *DiskJournal) TryReadEntry() ([]byte, error) {
	j.mu.Lock()
	pos := j.readPos
	safe := j.safePos
	j.mu.Unlock()

	if pos >= safe {
		return nil, journalerr.New(journalerr.Retry)
	}

	j.ioMu.Lock()
	reader := j.reader
	j.ioMu.Unlock()
	if reader == nil {
		return nil, journalerr.New(journalerr.Retry)
	}

	lenBuf := make([]byte, headerSize)
	if _, err := reader.ReadAt(lenBuf, int64(pos)); err != nil {
		if err == io.EOF {
			return nil, journalerr.New(journalerr.Retry)
		}
		return nil, journalerr.Wrap(journalerr.IoError, err)
	}
	bodyLen := binary.BigEndian.Uint32(lenBuf)

	body := make([]byte, bodyLen)
	if _, err := reader.ReadAt(body, int64(pos)+headerSize); err != nil {
		if err == io.EOF {
			return nil, journalerr.New(journalerr.Retry)
		}
		return nil, journalerr.Wrap(journalerr.IoError, err)
	}

	j.mu.Lock()
	j.readPos = pos + uint64(headerSize) + uint64(bodyLen)
	j.mu.Unlock()

	return body, nil
}

// WaitForReadable blocks in a goroutine until write_pos advances past the
// current read_pos, then invokes cb. It never blocks the caller itself.
func (j *DiskJournal) WaitForReadable(cb func(error)) {
	go func() {
		j.mu.Lock()
		for j.writePos <= j.readPos {
			select {
			case <-j.done:
				j.mu.Unlock()
				cb(journalerr.New(journalerr.Retry))
				return
			default:
			}
			j.cond.Wait()
		}
		j.mu.Unlock()
		cb(nil)
	}()
}

// WaitForFlush registers cb to fire after the next flush cycle completes.
func (j *DiskJournal) WaitForFlush(cb func(error)) {
	j.mu.Lock()
	j.pendingFlush = append(j.pendingFlush, cb)
	j.mu.Unlock()
}

// Flush synchronously drains the buffered writer to disk and advances
// safe_pos to the current write_pos, then fires any pending WaitForFlush
// callbacks in registration order.
func (j *DiskJournal) Flush() {
	j.ioMu.Lock()
	var err error
	if j.writer != nil {
		err = j.writer.Flush()
	}
	if err == nil && j.file != nil {
		err = j.file.Sync()
	}
	if err == nil {
		err = j.refreshReaderLocked()
	}
	j.ioMu.Unlock()

	j.mu.Lock()
	if err == nil {
		j.safePos = j.writePos
	}
	pending := j.pendingFlush
	j.pendingFlush = nil
	j.mu.Unlock()

	if err != nil {
		j.recordWriteError(err)
	}
	for _, cb := range pending {
		cb(err)
	}
}

// refreshReaderLocked reopens the mmap view over the data file so reads
// see bytes written since the last flush.
func (j *DiskJournal) refreshReaderLocked() error {
	if j.reader != nil {
		j.reader.Close()
		j.reader = nil
	}
	r, err := mmap.Open(j.dataPath())
	if err != nil {
		return err
	}
	j.reader = r
	return nil
}

func (j *DiskJournal) ReadPos() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readPos
}

func (j *DiskJournal) WritePos() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writePos
}

func (j *DiskJournal) SafePos() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.safePos
}

func (j *DiskJournal) ExpirePos() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.expirePos
}

func (j *DiskJournal) SetExpirePos(off uint64) {
	j.mu.Lock()
	j.expirePos = off
	j.mu.Unlock()
}

func (j *DiskJournal) SetReadPos(off uint64) {
	j.mu.Lock()
	j.readPos = off
	j.mu.Unlock()
}

func (j *DiskJournal) SetWriteable() {
	j.mu.Lock()
	j.readonly = false
	j.mu.Unlock()
}

func (j *DiskJournal) SetReadonly() {
	j.mu.Lock()
	j.readonly = true
	j.mu.Unlock()
}

func (j *DiskJournal) GetError() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writeErr
}

func (j *DiskJournal) StreamFormat() uint32 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.format
}

func (j *DiskJournal) GetLayout() Layout {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.layout
}

func (j *DiskJournal) LayoutPeriod() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.layout.Period == 0 {
		return j.layout.ObjectSize
	}
	return j.layout.Period
}

func (j *DiskJournal) SetWriteErrorHandler(cb func(error)) {
	j.mu.Lock()
	j.errHandler = cb
	j.mu.Unlock()
}

func (j *DiskJournal) startFlushLoop() {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.flushEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				j.Flush()
			case <-j.done:
				j.Flush()
				return
			}
		}
	}()
}

func (j *DiskJournal) stopFlushLoop() {
	j.closeOnce.Do(func() {
		close(j.done)
	})
	j.wg.Wait()
	j.mu.Lock()
	j.cond.Broadcast()
	j.mu.Unlock()
}

func (j *DiskJournal) Close() error {
	j.stopFlushLoop()

	j.ioMu.Lock()
	defer j.ioMu.Unlock()
	if j.reader != nil {
		j.reader.Close()
		j.reader = nil
	}
	if j.file != nil {
		err := j.file.Close()
		j.file = nil
		if err != nil {
			return journalerr.Wrap(journalerr.IoError, err)
		}
	}
	return nil
}

var errReadOnly = fmt.Errorf("objectjournal: journal is read-only")

var _ ObjectJournal = (*DiskJournal)(nil)
