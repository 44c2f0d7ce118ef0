// Package event defines the journal's wire-level unit: a type-tagged,
// self-describing record with an immutable start offset once submitted.
// Event bodies are opaque to this package; it only knows how to frame and
// unframe them.
package event

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Type is the fixed enumeration of event kinds the journal core must
// recognize, plus Other for everything it does not.
type Type uint32

const (
	Other Type = iota
	SubtreeMap
	ImportFinish
	ResetJournal
	SubtreeMapTest
)

func (t Type) String() string {
	switch t {
	case SubtreeMap:
		return "SUBTREE_MAP"
	case ImportFinish:
		return "IMPORT_FINISH"
	case ResetJournal:
		return "RESET_JOURNAL"
	case SubtreeMapTest:
		return "SUBTREEMAP_TEST"
	case Other:
		return "OTHER"
	default:
		return fmt.Sprintf("Type(%d)", uint32(t))
	}
}

// Event is an ordered unit submitted to the journal. StartOff is assigned
// once, at submit time, and is immutable thereafter. SegKey names the
// owning segment by its offset key into SegmentIndex rather than holding
// a pointer back to it, so segment and event lifetimes stay acyclic.
type Event struct {
	Type     Type
	Payload  []byte
	StartOff uint64
	Stamp    time.Time
	SegKey   uint64
}

const headerSize = 4 // type tag only; length framing belongs to the stream, not the event.

// EncodeWithHeader returns the type-tagged body ObjectJournal.AppendEntry
// will frame with a length prefix, so the full record on disk reads
// [length | type-tag | payload] split across the two layers.
func (e *Event) EncodeWithHeader() []byte {
	buf := make([]byte, headerSize+len(e.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(e.Type))
	copy(buf[4:], e.Payload)
	return buf
}

// ErrCorrupt is returned by Decode when body is too short to contain a
// type tag.
var ErrCorrupt = fmt.Errorf("event: corrupt or truncated record")

// Decode parses a type-tagged body previously produced by EncodeWithHeader.
func Decode(body []byte) (*Event, error) {
	if len(body) < headerSize {
		return nil, ErrCorrupt
	}
	t := Type(binary.BigEndian.Uint32(body[0:4]))
	payload := make([]byte, len(body)-headerSize)
	copy(payload, body[headerSize:])
	return &Event{Type: t, Payload: payload}, nil
}

// IsSegmentBoundary reports whether an event of this type starts a new
// LogSegment on replay.
func (t Type) IsSegmentBoundary() bool {
	return t == SubtreeMap || t == ResetJournal
}
