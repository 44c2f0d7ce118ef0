package mdlog

import (
	"testing"
	"time"

	"github.com/cephmds/mdjournal/pkg/config"
	"github.com/cephmds/mdjournal/pkg/event"
	"github.com/cephmds/mdjournal/pkg/metasource"
	"github.com/cephmds/mdjournal/pkg/pointer"
)

func logTestConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		JournalDir:    dir,
		JournalFormat: 1,
		LayoutPeriod:  1 << 20,
		LayoutObjSize: 4096,
		TrimPeriod:    time.Hour, // keep the background trim loop quiet during the test
	}
	cfg.Normalize()
	return cfg
}

// TestLogStartSubmitClose exercises the full startup sequence (recovery,
// no-op reformat since the journal is already at the configured format,
// replay of an empty journal) followed by a live Submit and a clean Close.
func TestLogStartSubmitClose(t *testing.T) {
	dir := t.TempDir()
	cfg := logTestConfig(t, dir)
	store, err := pointer.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	src := metasource.NewMemSource(1, 0)

	jlog := New(cfg, store, DefaultJournalFactory(cfg, 1), src, nil)
	if err := jlog.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan error, 1)
	e := &event.Event{Type: event.Other, Payload: []byte("hello")}
	if err := jlog.Submit(e, func() { done <- nil }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("onSafe callback reported error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event to become safe")
	}

	if jlog.Index().NumEvents() != 1 {
		t.Errorf("Index().NumEvents() = %d, want 1", jlog.Index().NumEvents())
	}

	if err := jlog.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// TestLogRestartReplaysPriorEvents checks the composition root end to
// end: events written in one Log lifetime are recovered and replayed into
// a fresh MetadataSource after a simulated restart.
func TestLogRestartReplaysPriorEvents(t *testing.T) {
	dir := t.TempDir()
	cfg := logTestConfig(t, dir)
	store, err := pointer.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	firstSrc := metasource.NewMemSource(2, 0)
	first := New(cfg, store, DefaultJournalFactory(cfg, 2), firstSrc, nil)
	if err := first.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	// The first event must open a segment (SUBTREE_MAP) for replay to
	// have anywhere to attach the OTHER events that follow; a real cache
	// always opens a subtree map before logging ordinary work.
	for _, e := range []*event.Event{
		{Type: event.SubtreeMap, Payload: []byte("a")},
		{Type: event.Other, Payload: []byte("b")},
		{Type: event.Other, Payload: []byte("c")},
	} {
		done := make(chan struct{})
		if err := first.Submit(e, func() { close(done) }); err != nil {
			t.Fatalf("Submit(%q): %v", e.Payload, err)
		}
		<-done
	}
	if err := first.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}

	secondSrc := metasource.NewMemSource(2, 0)
	second := New(cfg, store, DefaultJournalFactory(cfg, 2), secondSrc, nil)
	if err := second.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	defer second.Close()

	got := secondSrc.Replayed()
	if len(got) != 3 {
		t.Fatalf("replayed %d events after restart, want 3", len(got))
	}
	if got[0].Type != event.SubtreeMap {
		t.Errorf("first replayed event type = %v, want SUBTREE_MAP", got[0].Type)
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(got[i].Payload) != want {
			t.Errorf("event %d payload = %q, want %q", i, got[i].Payload, want)
		}
	}
}
