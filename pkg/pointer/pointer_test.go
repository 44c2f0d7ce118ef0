package pointer_test

import (
	"os"
	"testing"

	"github.com/cephmds/mdjournal/pkg/pointer"
)

func TestFileStoreLoadAbsent(t *testing.T) {
	dir := t.TempDir()
	store, err := pointer.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := store.Load(1); err != pointer.ErrAbsent {
		t.Fatalf("Load on fresh node = %v, want ErrAbsent", err)
	}
}

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := pointer.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	p := &pointer.JournalPointer{Front: pointer.DefaultIno(3), Back: 0, Format: 1}
	if err := store.Save(3, p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(3)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *got != *p {
		t.Errorf("Load() = %+v, want %+v", got, p)
	}
}

func TestSwapExchangesFrontAndBack(t *testing.T) {
	p := &pointer.JournalPointer{Front: 10, Back: 20, Format: 2}
	p.Swap()
	if p.Front != 20 || p.Back != 10 {
		t.Errorf("Swap() = %+v, want front=20 back=10", p)
	}
	if !p.HasBack() {
		t.Errorf("HasBack() = false after swap leaving Back=10")
	}
}

func TestSaveLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	store, _ := pointer.NewFileStore(dir)
	if err := store.Save(1, &pointer.JournalPointer{Front: pointer.DefaultIno(1)}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "pointer_00000000000000000001.json" {
			t.Errorf("unexpected leftover file %s", e.Name())
		}
	}
}
