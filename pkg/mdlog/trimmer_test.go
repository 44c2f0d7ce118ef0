package mdlog

import (
	"testing"
	"time"

	"github.com/cephmds/mdjournal/pkg/config"
	"github.com/cephmds/mdjournal/pkg/metasource"
	"github.com/cephmds/mdjournal/pkg/objectjournal"
	"github.com/cephmds/mdjournal/pkg/segment"
)

// TestTrimmerBoundsResidentSegments: with max_segments=2 and five
// segments whose End is already durable, trim() must leave at most 3
// segments resident and advance expire_pos to the oldest surviving
// segment's offset.
func TestTrimmerBoundsResidentSegments(t *testing.T) {
	dir := t.TempDir()
	oj := objectjournal.New(dir, 21, 0x200, time.Hour)
	if err := oj.Create(objectjournal.Layout{ObjectSize: 4096, Period: 4096}, 1); err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer oj.Close()

	// Push write_pos/safe_pos past every segment boundary used below.
	if _, err := oj.AppendEntry(make([]byte, 600)); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}
	oj.Flush()
	if oj.SafePos() < 500 {
		t.Fatalf("SafePos() = %d, want >= 500 for this test setup", oj.SafePos())
	}

	idx := segment.New()
	offsets := []uint64{0, 100, 200, 300, 400}
	for _, off := range offsets {
		seg := idx.Open(off)
		idx.Attach(seg, off+100)
	}
	if idx.Len() != 5 {
		t.Fatalf("idx.Len() = %d, want 5 before trim", idx.Len())
	}

	cfg := &config.Config{MaxSegments: 2, MaxEvents: 1000, MaxExpiring: 10}
	cfg.Normalize()
	src := metasource.NewMemSource(21, 0)
	tr := NewTrimmer(cfg, oj, idx, src, func() bool { return false })

	tr.Trim(time.Second)

	if idx.Len() > 3 {
		t.Fatalf("idx.Len() = %d after trim, want at most 3", idx.Len())
	}
	oldest := idx.Oldest()
	if oldest == nil {
		t.Fatalf("idx.Oldest() = nil after trim, want a surviving segment")
	}
	if oj.ExpirePos() != oldest.Offset {
		t.Errorf("ExpirePos() = %d, want it to equal the oldest surviving segment's offset %d", oj.ExpirePos(), oldest.Offset)
	}
	// The current (last-opened) segment must never be expired while the
	// log isn't capped, regardless of how far over max_segments we are.
	if _, ok := idx.Get(400); !ok {
		t.Errorf("current segment at offset 400 was removed, want kept (capped-log rule)")
	}
}

// TestTrimmerLeavesCurrentSegmentWhenNotCapped exercises the capped-log
// guard in isolation: a single segment, however far past its safe offset,
// is never expired while capped() reports false.
func TestTrimmerLeavesCurrentSegmentWhenNotCapped(t *testing.T) {
	dir := t.TempDir()
	oj := objectjournal.New(dir, 22, 0x200, time.Hour)
	if err := oj.Create(objectjournal.Layout{ObjectSize: 4096, Period: 4096}, 1); err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer oj.Close()
	if _, err := oj.AppendEntry(make([]byte, 50)); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}
	oj.Flush()

	idx := segment.New()
	seg := idx.Open(0)
	idx.Attach(seg, 10)

	cfg := &config.Config{}
	cfg.Normalize()
	cfg.MaxSegments = 0 // force live(1) > max_segments so the loop actually considers this segment
	src := metasource.NewMemSource(22, 0)
	tr := NewTrimmer(cfg, oj, idx, src, func() bool { return false })

	tr.Trim(time.Second)

	if idx.Len() != 1 {
		t.Errorf("idx.Len() = %d, want 1 (sole segment is current and log isn't capped)", idx.Len())
	}
}

// TestTrimmerExpiresCurrentSegmentOnceCapped is the other half of the
// capped-log rule: after cap(), even the current segment may expire and be
// trimmed away.
func TestTrimmerExpiresCurrentSegmentOnceCapped(t *testing.T) {
	dir := t.TempDir()
	oj := objectjournal.New(dir, 23, 0x200, time.Hour)
	if err := oj.Create(objectjournal.Layout{ObjectSize: 4096, Period: 4096}, 1); err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer oj.Close()
	if _, err := oj.AppendEntry(make([]byte, 50)); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}
	oj.Flush()

	idx := segment.New()
	seg := idx.Open(0)
	idx.Attach(seg, 10)

	cfg := &config.Config{}
	cfg.Normalize()
	cfg.MaxSegments = 0
	src := metasource.NewMemSource(23, 0)
	tr := NewTrimmer(cfg, oj, idx, src, func() bool { return true })

	tr.Trim(time.Second)

	if idx.Len() != 0 {
		t.Errorf("idx.Len() = %d, want 0 (capped log may trim its current segment)", idx.Len())
	}
	if oj.ExpirePos() != 10 {
		t.Errorf("ExpirePos() = %d, want 10 (End of the trimmed segment)", oj.ExpirePos())
	}
}
