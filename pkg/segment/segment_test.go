package segment_test

import (
	"testing"

	"github.com/cephmds/mdjournal/pkg/segment"
)

func TestOpenAndCurrent(t *testing.T) {
	idx := segment.New()
	idx.Open(0)
	s100 := idx.Open(100)

	if idx.Current() != s100 {
		t.Fatalf("Current() should be the highest-offset segment")
	}
	if idx.Oldest().Offset != 0 {
		t.Fatalf("Oldest().Offset = %d, want 0", idx.Oldest().Offset)
	}
}

func TestFindContaining(t *testing.T) {
	idx := segment.New()
	idx.Open(0)
	idx.Open(1000)
	idx.Open(2000)

	cases := map[uint64]uint64{
		0:    0,
		500:  0,
		999:  0,
		1000: 1000,
		1500: 1000,
		2500: 2000,
	}
	for off, want := range cases {
		seg, ok := idx.FindContaining(off)
		if !ok {
			t.Fatalf("FindContaining(%d) not found", off)
		}
		if seg.Offset != want {
			t.Errorf("FindContaining(%d).Offset = %d, want %d", off, seg.Offset, want)
		}
	}
}

func TestAttachTracksTotals(t *testing.T) {
	idx := segment.New()
	seg := idx.Open(0)
	idx.Attach(seg, 50)
	idx.Attach(seg, 120)

	if seg.NumEvents != 2 {
		t.Errorf("seg.NumEvents = %d, want 2", seg.NumEvents)
	}
	if seg.End != 120 {
		t.Errorf("seg.End = %d, want 120", seg.End)
	}
	if idx.NumEvents() != 2 {
		t.Errorf("idx.NumEvents() = %d, want 2", idx.NumEvents())
	}
}

func TestExpiringExpiredDisjoint(t *testing.T) {
	idx := segment.New()
	seg := idx.Open(0)
	idx.Attach(seg, 10)

	idx.MarkExpiring(0)
	if !idx.IsExpiring(0) || idx.IsExpired(0) {
		t.Fatalf("expected segment 0 to be expiring only")
	}

	idx.MarkExpired(0)
	if idx.IsExpiring(0) {
		t.Errorf("MarkExpired should remove from expiring set")
	}
	if !idx.IsExpired(0) {
		t.Errorf("MarkExpired should add to expired set")
	}
}

func TestRemoveSubtractsEvents(t *testing.T) {
	idx := segment.New()
	seg0 := idx.Open(0)
	idx.Attach(seg0, 10)
	seg1 := idx.Open(10)
	idx.Attach(seg1, 30)

	if idx.NumEvents() != 2 {
		t.Fatalf("setup: NumEvents() = %d, want 2", idx.NumEvents())
	}

	removed, ok := idx.Remove(0)
	if !ok || removed.Offset != 0 {
		t.Fatalf("Remove(0) failed")
	}
	if idx.NumEvents() != 1 {
		t.Errorf("NumEvents() after Remove = %d, want 1", idx.NumEvents())
	}
	if idx.Len() != 1 {
		t.Errorf("Len() after Remove = %d, want 1", idx.Len())
	}
}
