package retention

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photobooth/internal/artifact"
	"photobooth/internal/domain"
	"photobooth/internal/storage"
)

const gib = int64(1024 * 1024 * 1024)

var fixedNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

// memCatalog holds entries in memory so size scenarios need no real bytes.
type memCatalog struct {
	mu      sync.Mutex
	entries map[string]storage.Entry
	failOn  map[string]bool
	evicted []string
}

func newMemCatalog(entries ...storage.Entry) *memCatalog {
	c := &memCatalog{entries: map[string]storage.Entry{}, failOn: map[string]bool{}}
	for _, e := range entries {
		c.entries[e.Name] = e
	}
	return c
}

func (c *memCatalog) List() ([]storage.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]storage.Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out, nil
}

func (c *memCatalog) Evict(_ context.Context, name, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOn[name] {
		return errors.New("permission denied")
	}
	delete(c.entries, name)
	c.evicted = append(c.evicted, name)
	return nil
}

func (c *memCatalog) remaining() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newJanitor(t *testing.T, c *memCatalog, policy Policy) *Janitor {
	t.Helper()
	j, err := New(Options{Catalog: c, Evictor: c, Policy: policy, Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)
	return j
}

func daysAgo(d int) time.Time {
	return fixedNow.Add(-time.Duration(d) * 24 * time.Hour)
}

func TestRunCycleDeletesByAge(t *testing.T) {
	c := newMemCatalog(
		storage.Entry{Name: "fresh.png", Size: 10, ModTime: daysAgo(1)},
		storage.Entry{Name: "old.png", Size: 10, ModTime: daysAgo(10)},
		storage.Entry{Name: "ancient.png", Size: 10, ModTime: daysAgo(30)},
	)
	j := newJanitor(t, c, Policy{MaxAge: 7 * 24 * time.Hour, MaxBytes: 5 * gib})

	report, err := j.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh.png"}, c.remaining())
	assert.Equal(t, 2, report.DeletedByAge)
	assert.Equal(t, 0, report.DeletedBySize)
	assert.EqualValues(t, 30, report.BytesBefore)
	assert.EqualValues(t, 10, report.BytesAfter)
}

func TestRunCycleDeletesOldestUntilUnderBudget(t *testing.T) {
	var entries []storage.Entry
	for i := 0; i < 5; i++ {
		entries = append(entries, storage.Entry{
			Name:    string(rune('a'+i)) + ".png",
			Size:    2 * gib,
			ModTime: fixedNow.Add(-time.Duration(5-i) * time.Hour),
		})
	}
	c := newMemCatalog(entries...)
	j := newJanitor(t, c, Policy{MaxAge: 7 * 24 * time.Hour, MaxBytes: 5 * gib})

	report, err := j.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.png", "c.png"}, c.evicted, "oldest first")
	assert.Equal(t, []string{"d.png", "e.png"}, c.remaining())
	assert.Equal(t, 3, report.DeletedBySize)
	assert.Equal(t, 4*gib, report.BytesAfter)
}

func TestRunCycleIsIdempotent(t *testing.T) {
	c := newMemCatalog(
		storage.Entry{Name: "a.png", Size: 3 * gib, ModTime: daysAgo(2)},
		storage.Entry{Name: "b.png", Size: 3 * gib, ModTime: daysAgo(1)},
		storage.Entry{Name: "c.png", Size: 1, ModTime: daysAgo(9)},
	)
	j := newJanitor(t, c, Policy{MaxAge: 7 * 24 * time.Hour, MaxBytes: 5 * gib})

	first, err := j.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Deleted())

	second, err := j.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Deleted())
	assert.Equal(t, []string{"b.png"}, c.remaining())
}

func TestRunCycleContinuesAfterFailure(t *testing.T) {
	c := newMemCatalog(
		storage.Entry{Name: "locked.png", Size: 2 * gib, ModTime: daysAgo(3)},
		storage.Entry{Name: "next.png", Size: 2 * gib, ModTime: daysAgo(2)},
		storage.Entry{Name: "newest.png", Size: 2 * gib, ModTime: daysAgo(1)},
	)
	c.failOn["locked.png"] = true
	j := newJanitor(t, c, Policy{MaxBytes: 3 * gib})

	report, err := j.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failures)
	// The failed file still counts, so both younger files go to reach the budget.
	assert.Equal(t, []string{"next.png", "newest.png"}, c.evicted)
	assert.Equal(t, 2*gib, report.BytesAfter)
}

func TestRunCycleDisabledPolicies(t *testing.T) {
	c := newMemCatalog(storage.Entry{Name: "a.png", Size: 10 * gib, ModTime: daysAgo(100)})
	j := newJanitor(t, c, Policy{})

	report, err := j.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Deleted())
}

func TestRunCycleMissingDirectory(t *testing.T) {
	files := storage.OpenFileStore(filepath.Join(t.TempDir(), "absent"))
	j, err := New(Options{Catalog: files, Evictor: newMemCatalog(), Policy: Policy{MaxAge: time.Hour}})
	require.NoError(t, err)

	report, err := j.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
}

func TestRunCycleEvictsThroughArtifactStore(t *testing.T) {
	dir := t.TempDir()
	files, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	index := artifact.NewMemoryIndex()
	store, err := artifact.NewStore(artifact.Options{Files: files, Index: index})
	require.NoError(t, err)

	ctx := context.Background()
	for name, age := range map[string]int{"fresh": 1, "stale": 10, "ancient": 30} {
		path := filepath.Join(dir, artifact.FileName(name))
		require.NoError(t, os.WriteFile(path, []byte("png"), 0o644))
		mtime := time.Now().Add(-time.Duration(age) * 24 * time.Hour)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	_, err = store.Reconcile(ctx)
	require.NoError(t, err)

	j, err := New(Options{Catalog: files, Evictor: store, Policy: Policy{MaxAge: 7 * 24 * time.Hour}})
	require.NoError(t, err)
	report, err := j.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.DeletedByAge)

	_, err = store.Lookup(ctx, "fresh")
	assert.NoError(t, err)
	for _, id := range []string{"stale", "ancient"} {
		_, err = store.Lookup(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound, id)
		_, err = index.Get(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound, id)
	}
}

func TestRunIsSingleInstanceAndStopsOnCancel(t *testing.T) {
	c := newMemCatalog(storage.Entry{Name: "old.png", Size: 1, ModTime: daysAgo(30)})
	j, err := New(Options{Catalog: c, Evictor: c, Policy: Policy{MaxAge: 24 * time.Hour}, Interval: 10 * time.Millisecond, Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()
	require.Eventually(t, j.Running, time.Second, time.Millisecond)

	// A second Run returns immediately while the first is active.
	j.Run(ctx)

	require.Eventually(t, func() bool { return len(c.remaining()) == 0 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	assert.False(t, j.Running())
}
