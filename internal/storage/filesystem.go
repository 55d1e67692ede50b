package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempPrefix marks in-flight writes. Listings skip these files.
const TempPrefix = ".tmp-"

// FileStore keeps flat, write-once files in a single directory. Keys are bare
// file names; anything that would escape the directory is rejected.
type FileStore struct {
	basePath string
}

// Entry describes one stored file.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// NewFileStore initializes a FileStore rooted at basePath, creating it when missing.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// OpenFileStore returns a store for basePath without creating the directory.
func OpenFileStore(basePath string) *FileStore {
	return &FileStore{basePath: strings.TrimSpace(basePath)}
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Path resolves name inside the store.
func (s *FileStore) Path(name string) (string, error) {
	clean, err := sanitizeKey(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, clean), nil
}

// Stat returns the entry for name, or fs.ErrNotExist.
func (s *FileStore) Stat(name string) (Entry, error) {
	full, err := s.Path(name)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return Entry{}, err
	}
	if info.IsDir() {
		return Entry{}, fmt.Errorf("storage: %s is a directory: %w", name, fs.ErrNotExist)
	}
	return Entry{Name: info.Name(), Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Exists reports whether name is present as a regular file.
func (s *FileStore) Exists(name string) bool {
	_, err := s.Stat(name)
	return err == nil
}

// Open opens name for reading. Directories and unfinished temp files report
// fs.ErrNotExist.
func (s *FileStore) Open(name string) (*os.File, Entry, error) {
	if strings.HasPrefix(strings.TrimSpace(name), TempPrefix) {
		return nil, Entry{}, fs.ErrNotExist
	}
	entry, err := s.Stat(name)
	if err != nil {
		return nil, Entry{}, err
	}
	full, _ := s.Path(name)
	f, err := os.Open(full)
	if err != nil {
		return nil, Entry{}, err
	}
	return f, entry, nil
}

// CreateExclusive copies r into name. The bytes land in a hidden temp file
// first and are published with a hard link, which fails if name exists, so a
// concurrent writer sees fs.ErrExist instead of a half-written file.
func (s *FileStore) CreateExclusive(ctx context.Context, name string, r io.Reader) (Entry, error) {
	if s == nil {
		return Entry{}, errors.New("storage: no store configured")
	}
	full, err := s.Path(name)
	if err != nil {
		return Entry{}, err
	}
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if err := os.MkdirAll(s.basePath, 0o755); err != nil {
		return Entry{}, fmt.Errorf("storage: ensure base path: %w", err)
	}

	tmpPath := filepath.Join(s.basePath, TempPrefix+uuid.NewString())
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Entry{}, fmt.Errorf("storage: create temp file: %w", err)
	}
	defer os.Remove(tmpPath)

	n, copyErr := io.Copy(tmp, r)
	syncErr := tmp.Sync()
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, syncErr, closeErr); err != nil {
		return Entry{}, fmt.Errorf("storage: write %s: %w", name, err)
	}

	if err := os.Link(tmpPath, full); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Entry{}, fmt.Errorf("storage: %s: %w", name, fs.ErrExist)
		}
		// Some filesystems refuse hard links; fall back to an exclusive rename target.
		if err := publishExclusive(tmpPath, full); err != nil {
			return Entry{}, err
		}
	}

	entry := Entry{Name: filepath.Base(full), Size: n, ModTime: time.Now()}
	if info, err := os.Stat(full); err == nil {
		entry.ModTime = info.ModTime()
	}
	return entry, nil
}

func publishExclusive(tmpPath, full string) error {
	dst, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("storage: publish %s: %w", filepath.Base(full), err)
	}
	src, err := os.Open(tmpPath)
	if err != nil {
		dst.Close()
		os.Remove(full)
		return fmt.Errorf("storage: reopen temp file: %w", err)
	}
	defer src.Close()
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(full)
		return fmt.Errorf("storage: publish %s: %w", filepath.Base(full), err)
	}
	return dst.Close()
}

// Remove deletes name. Removing a missing file returns fs.ErrNotExist.
func (s *FileStore) Remove(name string) error {
	full, err := s.Path(name)
	if err != nil {
		return err
	}
	return os.Remove(full)
}

// List returns the regular files in the store, skipping directories and
// in-flight temp files. A missing directory yields an empty listing.
func (s *FileStore) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.basePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: read dir: %w", err)
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasPrefix(de.Name(), TempPrefix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		entries = append(entries, Entry{Name: de.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// sanitizeKey accepts only bare file names so callers cannot escape the root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	return key, nil
}
