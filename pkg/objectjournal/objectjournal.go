// Package objectjournal implements the ObjectJournal collaborator: the
// append-only, length-prefixed byte stream the rest of the subsystem
// treats as its durable backend. The reference implementation is
// disk-backed rather than RADOS-backed, but keeps the same contract
// (positions, head persistence, readability waits), so swapping in a real
// object-store client later only means a new implementation of this
// interface, not a change to any caller.
package objectjournal

// Layout describes the striping parameters a journal was created with:
// object size and the rotation period EventPipeline floors write_pos
// against to decide when to open a new segment.
type Layout struct {
	ObjectSize uint64 `json:"object_size"`
	Period     uint64 `json:"period"`
}

// ObjectJournal is every operation EventPipeline, Trimmer,
// RecoveryEngine, ReformatEngine, and ReplayEngine need from the backend,
// and nothing else.
type ObjectJournal interface {
	Create(layout Layout, format uint32) error
	Recover() error
	Erase() error
	WriteHead() error
	RereadHead() error

	AppendEntry(body []byte) (startOff uint64, err error)
	TryReadEntry() ([]byte, error)
	WaitForReadable(cb func(err error))
	WaitForFlush(cb func(err error))
	Flush()

	ReadPos() uint64
	WritePos() uint64
	SafePos() uint64
	ExpirePos() uint64
	SetExpirePos(off uint64)
	SetReadPos(off uint64)

	SetWriteable()
	SetReadonly()

	GetError() error
	StreamFormat() uint32
	GetLayout() Layout
	LayoutPeriod() uint64

	SetWriteErrorHandler(cb func(err error))

	// Close stops the journal's background flush loop and releases file
	// handles.
	Close() error
}
