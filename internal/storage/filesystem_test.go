package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestCreateExclusiveWritesOnce(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	entry, err := store.CreateExclusive(context.Background(), "abc.png", strings.NewReader("first"))
	if err != nil {
		t.Fatalf("CreateExclusive: %v", err)
	}
	if entry.Name != "abc.png" || entry.Size != 5 {
		t.Fatalf("entry = %+v, want abc.png/5", entry)
	}

	_, err = store.CreateExclusive(context.Background(), "abc.png", strings.NewReader("second"))
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("second CreateExclusive error = %v, want fs.ErrExist", err)
	}
	full, _ := store.Path("abc.png")
	data, err := os.ReadFile(full)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "first" {
		t.Fatalf("file content = %q, want first", data)
	}
}

func TestCreateExclusiveConcurrentWriters(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	created, existed := 0, 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateExclusive(context.Background(), "race.png", strings.NewReader("payload"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, fs.ErrExist):
				existed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if created != 1 || existed != writers-1 {
		t.Fatalf("created=%d existed=%d, want 1/%d", created, existed, writers-1)
	}
}

func TestListSkipsTempFilesAndDirectories(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	mustWrite(t, filepath.Join(dir, "b.png"), "bb")
	mustWrite(t, filepath.Join(dir, "a.png"), "a")
	mustWrite(t, filepath.Join(dir, TempPrefix+"inflight"), "zzz")
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	entries, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "a.png" || entries[1].Name != "b.png" {
		t.Fatalf("List() = %+v, want [a.png b.png]", entries)
	}
	if entries[1].Size != 2 {
		t.Fatalf("b.png size = %d, want 2", entries[1].Size)
	}
}

func TestListMissingDirectory(t *testing.T) {
	store := OpenFileStore(filepath.Join(t.TempDir(), "absent"))
	entries, err := store.List()
	if err != nil {
		t.Fatalf("List on missing dir returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("List on missing dir = %+v, want empty", entries)
	}
}

func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	for _, key := range []string{"", "..", "../x.png", "a/b.png", `a\b.png`} {
		if _, err := sanitizeKey(key); err == nil {
			t.Fatalf("sanitizeKey(%q) expected error", key)
		}
	}
	if got, err := sanitizeKey(" ok.png "); err != nil || got != "ok.png" {
		t.Fatalf("sanitizeKey(ok.png) = %q, %v", got, err)
	}
}

func TestRemoveAndExists(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFileStore(dir)
	mustWrite(t, filepath.Join(dir, "gone.png"), "x")
	if !store.Exists("gone.png") {
		t.Fatalf("Exists(gone.png) = false, want true")
	}
	if err := store.Remove("gone.png"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if store.Exists("gone.png") {
		t.Fatalf("Exists after Remove = true")
	}
	if err := store.Remove("gone.png"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("second Remove error = %v, want fs.ErrNotExist", err)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestFileStoreOpenRejectsTempAndDirectories(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.png"), []byte("png"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, TempPrefix+"x"), []byte("partial"), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	f, entry, err := store.Open("a.png")
	if err != nil {
		t.Fatalf("Open(a.png) error: %v", err)
	}
	f.Close()
	if entry.Size != 3 {
		t.Fatalf("entry.Size = %d, want 3", entry.Size)
	}
	for _, name := range []string{TempPrefix + "x", "sub", "../a.png", "missing.png"} {
		if _, _, err := store.Open(name); err == nil {
			t.Fatalf("Open(%q) expected error", name)
		}
	}
}
