package event_test

import (
	"bytes"
	"testing"

	"github.com/cephmds/mdjournal/pkg/event"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := &event.Event{Type: event.SubtreeMap, Payload: []byte("subtree-payload")}
	body := e.EncodeWithHeader()

	got, err := event.Decode(body)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if got.Type != event.SubtreeMap {
		t.Errorf("Type = %v, want %v", got.Type, event.SubtreeMap)
	}
	if !bytes.Equal(got.Payload, e.Payload) {
		t.Errorf("Payload = %q, want %q", got.Payload, e.Payload)
	}
}

func TestDecodeTruncatedIsCorrupt(t *testing.T) {
	if _, err := event.Decode([]byte{0x01, 0x02}); err != event.ErrCorrupt {
		t.Fatalf("Decode(short) error = %v, want ErrCorrupt", err)
	}
}

func TestIsSegmentBoundary(t *testing.T) {
	cases := map[event.Type]bool{
		event.SubtreeMap:     true,
		event.ResetJournal:   true,
		event.ImportFinish:   false,
		event.SubtreeMapTest: false,
		event.Other:          false,
	}
	for typ, want := range cases {
		if got := typ.IsSegmentBoundary(); got != want {
			t.Errorf("%v.IsSegmentBoundary() = %v, want %v", typ, got, want)
		}
	}
}
