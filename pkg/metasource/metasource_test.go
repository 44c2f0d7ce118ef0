package metasource_test

import (
	"testing"
	"time"

	"github.com/cephmds/mdjournal/pkg/event"
	"github.com/cephmds/mdjournal/pkg/metasource"
	"github.com/cephmds/mdjournal/pkg/segment"
)

func TestMemSourceReplayRecords(t *testing.T) {
	src := metasource.NewMemSource(1, 0)
	e := &event.Event{Type: event.ImportFinish}
	if err := src.Replay(e); err != nil {
		t.Fatalf("Replay returned error: %v", err)
	}
	if got := src.Replayed(); len(got) != 1 || got[0] != e {
		t.Fatalf("Replayed() = %v, want [e]", got)
	}
}

func TestMemSourceCreateSubtreeMapIsBoundary(t *testing.T) {
	src := metasource.NewMemSource(1, 0)
	e := src.CreateSubtreeMap()
	if !e.Type.IsSegmentBoundary() {
		t.Fatalf("CreateSubtreeMap() type %v is not a segment boundary", e.Type)
	}
}

func TestMemSourceAdvanceStrayCounts(t *testing.T) {
	src := metasource.NewMemSource(1, 0)
	src.AdvanceStray()
	src.AdvanceStray()
	if src.StrayCount() != 2 {
		t.Errorf("StrayCount() = %d, want 2", src.StrayCount())
	}
}

func TestMemSourceTryToExpireDrainsDirtyLists(t *testing.T) {
	idx := segment.New()
	seg := idx.Open(0)
	seg.DirtyLists["inode:1"] = struct{}{}
	seg.DirtyLists["inode:2"] = struct{}{}

	src := metasource.NewMemSource(1, 0)
	g := metasource.NewGather()

	done := make(chan struct{})
	g.SetFinisher(func() { close(done) })

	src.TryToExpire(seg, g, metasource.PriorityHigh)
	g.Activate()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("gather finisher never fired")
	}

	if seg.HasDirtyWork() {
		t.Errorf("expected dirty lists drained, got %v", seg.DirtyLists)
	}
}

func TestMemSourceTryToExpireNoWorkFiresImmediately(t *testing.T) {
	idx := segment.New()
	seg := idx.Open(0)

	src := metasource.NewMemSource(1, 0)
	g := metasource.NewGather()
	fired := false
	g.SetFinisher(func() { fired = true })

	src.TryToExpire(seg, g, metasource.PriorityLow)
	g.Activate()

	if !fired {
		t.Errorf("expected finisher to fire immediately when no dirty work exists")
	}
	if g.HasSubs() {
		t.Errorf("HasSubs() = true, want false")
	}
}
