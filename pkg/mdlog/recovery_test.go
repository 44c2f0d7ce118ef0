package mdlog

import (
	"testing"
	"time"

	"github.com/cephmds/mdjournal/pkg/config"
	"github.com/cephmds/mdjournal/pkg/journalerr"
	"github.com/cephmds/mdjournal/pkg/metasource"
	"github.com/cephmds/mdjournal/pkg/objectjournal"
	"github.com/cephmds/mdjournal/pkg/pointer"
)

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg := &config.Config{JournalDir: dir, JournalFormat: 2, LayoutPeriod: 256, LayoutObjSize: 1024}
	cfg.Normalize()
	return cfg
}

func testFactory(cfg *config.Config, nodeID uint64) JournalFactory {
	return func(ino uint64) objectjournal.ObjectJournal {
		return objectjournal.New(cfg.JournalDir, nodeID, ino, 5*time.Millisecond)
	}
}

func TestRecoveryFreshNodeInitializesPointerAndJournal(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	store, err := pointer.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	src := metasource.NewMemSource(7, 0)

	rec := NewRecoveryEngine(cfg, store, testFactory(cfg, 7), src)
	result, err := rec.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer result.Front.Close()

	if result.Pointer.Front != pointer.DefaultIno(7) {
		t.Errorf("Pointer.Front = %d, want DefaultIno(7)=%d", result.Pointer.Front, pointer.DefaultIno(7))
	}
	if result.Pointer.HasBack() {
		t.Errorf("fresh node pointer has non-zero Back = %d", result.Pointer.Back)
	}
	if result.NeedsReformat {
		t.Errorf("NeedsReformat = true, want false (a fresh journal is created directly at configured format %d)", cfg.JournalFormat)
	}
	if result.Front.StreamFormat() != cfg.JournalFormat {
		t.Errorf("Front.StreamFormat() = %d, want %d", result.Front.StreamFormat(), cfg.JournalFormat)
	}

	saved, err := store.Load(7)
	if err != nil {
		t.Fatalf("Load after recovery: %v", err)
	}
	if *saved != *result.Pointer {
		t.Errorf("saved pointer %+v != returned pointer %+v", saved, result.Pointer)
	}
}

func TestRecoveryIdempotentOnCleanPointer(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	store, _ := pointer.NewFileStore(dir)
	src := metasource.NewMemSource(3, 0)

	rec := NewRecoveryEngine(cfg, store, testFactory(cfg, 3), src)
	first, err := rec.Run()
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	first.Front.Close()

	second, err := rec.Run()
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	defer second.Front.Close()

	if second.Pointer.HasBack() {
		t.Errorf("second recovery pass has non-zero Back = %d", second.Pointer.Back)
	}
	if second.Pointer.Front != first.Pointer.Front {
		t.Errorf("second recovery front = %d, want unchanged %d", second.Pointer.Front, first.Pointer.Front)
	}
}

func TestRecoveryCleansOrphanBack(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	store, _ := pointer.NewFileStore(dir)
	src := metasource.NewMemSource(9, 0)

	factory := testFactory(cfg, 9)
	front := factory(pointer.DefaultIno(9))
	if err := front.Create(objectjournal.Layout{ObjectSize: 1024, Period: 256}, 2); err != nil {
		t.Fatalf("Create front: %v", err)
	}
	front.Close()

	back := factory(pointer.AltIno(9))
	if err := back.Create(objectjournal.Layout{ObjectSize: 1024, Period: 256}, 2); err != nil {
		t.Fatalf("Create orphan back: %v", err)
	}
	back.Close()

	ptr := &pointer.JournalPointer{Front: pointer.DefaultIno(9), Back: pointer.AltIno(9)}
	if err := store.Save(9, ptr); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec := NewRecoveryEngine(cfg, store, factory, src)
	result, err := rec.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer result.Front.Close()

	if result.Pointer.HasBack() {
		t.Errorf("Pointer.Back = %d after crash recovery, want 0", result.Pointer.Back)
	}

	orphan := factory(pointer.AltIno(9))
	if err := orphan.Recover(); !journalerr.Is(err, journalerr.NotFound) {
		t.Errorf("orphan back journal Recover() error = %v, want NotFound (erased)", err)
	}
}
