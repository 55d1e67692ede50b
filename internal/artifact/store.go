package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/singleflight"

	"photobooth/internal/domain"
	"photobooth/internal/events"
	"photobooth/internal/infra"
	"photobooth/internal/storage"
)

// DefaultURLPrefix is the public route under which stored files are served.
const DefaultURLPrefix = "/storage/images/"

const sniffLen = 3072

var errTooLarge = errors.New("artifact exceeds size limit")

// Options configures a Store.
type Options struct {
	Files        *storage.FileStore
	Index        Index
	Sources      *SourcePolicy
	HTTPClient   *http.Client
	MaxBytes     int64
	FetchTimeout time.Duration
	URLPrefix    string
	Events       events.Publisher
	Logger       *infra.Logger
}

// Store downloads remote artifacts once per id and serves the local copy
// afterwards. All mutations of one id, including evictions, are serialized.
type Store struct {
	files        *storage.FileStore
	index        Index
	sources      *SourcePolicy
	httpClient   *http.Client
	maxBytes     int64
	fetchTimeout time.Duration
	urlPrefix    string
	events       events.Publisher
	logger       *infra.Logger

	group singleflight.Group
	locks *keyLock
}

// ReconcileReport summarizes a Reconcile pass.
type ReconcileReport struct {
	Dropped int
	Adopted int
}

func NewStore(opts Options) (*Store, error) {
	if opts.Files == nil {
		return nil, errors.New("artifact: file store is required")
	}
	if opts.Index == nil {
		return nil, errors.New("artifact: index is required")
	}
	s := &Store{
		files:        opts.Files,
		index:        opts.Index,
		sources:      opts.Sources,
		httpClient:   opts.HTTPClient,
		maxBytes:     opts.MaxBytes,
		fetchTimeout: opts.FetchTimeout,
		urlPrefix:    opts.URLPrefix,
		events:       opts.Events,
		logger:       infra.OrDiscard(opts.Logger),
		locks:        newKeyLock(),
	}
	if s.sources == nil {
		s.sources = NewSourcePolicy(nil)
	}
	s.httpClient = s.sources.Client(s.httpClient)
	if s.maxBytes <= 0 {
		s.maxBytes = 50 << 20
	}
	if s.fetchTimeout <= 0 {
		s.fetchTimeout = 2 * time.Minute
	}
	if s.urlPrefix == "" {
		s.urlPrefix = DefaultURLPrefix
	}
	if !strings.HasSuffix(s.urlPrefix, "/") {
		s.urlPrefix += "/"
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	return s, nil
}

// Files exposes the directory the store writes to.
func (s *Store) Files() *storage.FileStore {
	return s.files
}

// Store returns the local record for id, downloading remoteURL only when no
// local copy exists. Concurrent calls for one id share a single download; a
// caller that gives up does not cancel it for the others.
func (s *Store) Store(ctx context.Context, id, remoteURL string) (Record, error) {
	if err := ValidateID(id); err != nil {
		return Record{}, err
	}
	ch := s.group.DoChan(id, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		return s.store(ctx, id, remoteURL)
	})
	select {
	case <-ctx.Done():
		return Record{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Record{}, res.Err
		}
		return res.Val.(Record), nil
	}
}

func (s *Store) store(ctx context.Context, id, remoteURL string) (Record, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	if rec, ok, err := s.cached(ctx, id); err != nil || ok {
		return rec, err
	}

	name := FileName(id)
	if entry, err := s.files.Stat(name); err == nil {
		s.logger.Info().Str("artifact_id", id).Msg("artifact: adopting file already on disk")
		return s.register(ctx, s.newRecord(id, remoteURL, entry))
	}

	src, err := s.sources.Resolve(remoteURL)
	if err != nil {
		return Record{}, &domain.FetchError{URL: remoteURL, Err: err}
	}
	entry, err := s.fetchTo(ctx, src.String(), name)
	if errors.Is(err, fs.ErrExist) {
		entry, err = s.files.Stat(name)
	}
	if err != nil {
		return Record{}, err
	}
	return s.register(ctx, s.newRecord(id, src.String(), entry))
}

// cached returns the indexed record when its file is still present. Entries
// whose file disappeared are dropped so the caller re-fetches.
func (s *Store) cached(ctx context.Context, id string) (Record, bool, error) {
	rec, err := s.index.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	if s.files.Exists(rec.FileName) {
		return rec, true, nil
	}
	s.logger.Warn().Str("artifact_id", id).Msg("artifact: dropping index entry without file")
	if err := s.index.Delete(ctx, id); err != nil {
		return Record{}, false, err
	}
	return Record{}, false, nil
}

func (s *Store) newRecord(id, remoteURL string, entry storage.Entry) Record {
	return Record{
		ID:        id,
		RemoteURL: remoteURL,
		FileName:  entry.Name,
		LocalURL:  s.urlPrefix + entry.Name,
		CreatedAt: entry.ModTime.UTC(),
		SizeBytes: entry.Size,
	}
}

func (s *Store) register(ctx context.Context, rec Record) (Record, error) {
	stored, inserted, err := s.index.PutIfAbsent(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	if inserted {
		s.logger.Info().
			Str("artifact_id", stored.ID).
			Int64("bytes", stored.SizeBytes).
			Str("local_url", stored.LocalURL).
			Msg("artifact: stored")
		s.publish(ctx, events.Event{
			Type:       events.TypeStored,
			ArtifactID: stored.ID,
			FileName:   stored.FileName,
			RemoteURL:  stored.RemoteURL,
			SizeBytes:  stored.SizeBytes,
		})
	}
	return stored, nil
}

func (s *Store) fetchTo(ctx context.Context, rawURL, name string) (storage.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return storage.Entry{}, &domain.FetchError{URL: rawURL, Err: err}
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return storage.Entry{}, &domain.FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return storage.Entry{}, &domain.FetchError{URL: rawURL, Status: resp.StatusCode}
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return storage.Entry{}, &domain.FetchError{URL: rawURL, Err: err}
	}
	if n == 0 {
		return storage.Entry{}, &domain.FetchError{URL: rawURL, Err: errors.New("empty body")}
	}
	head = head[:n]
	if mt := mimetype.Detect(head); !strings.HasPrefix(mt.String(), "image/") {
		return storage.Entry{}, &domain.FetchError{URL: rawURL, Err: fmt.Errorf("not an image: %s", mt.String())}
	}

	body := &cappedReader{r: io.MultiReader(bytes.NewReader(head), resp.Body), remaining: s.maxBytes}
	entry, err := s.files.CreateExclusive(ctx, name, body)
	if errors.Is(err, errTooLarge) {
		return storage.Entry{}, &domain.FetchError{URL: rawURL, Err: fmt.Errorf("%w (%d bytes)", errTooLarge, s.maxBytes)}
	}
	if err != nil && !errors.Is(err, fs.ErrExist) {
		return storage.Entry{}, &domain.FetchError{URL: rawURL, Err: err}
	}
	return entry, err
}

// Lookup returns the record for id when its file still exists.
func (s *Store) Lookup(ctx context.Context, id string) (Record, error) {
	if err := ValidateID(id); err != nil {
		return Record{}, err
	}
	rec, err := s.index.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if s.files.Exists(rec.FileName) {
		return rec, nil
	}

	unlock := s.locks.Lock(id)
	defer unlock()
	rec, ok, err := s.cached(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, domain.ErrNotFound
	}
	return rec, nil
}

// Evict deletes a stored file and its index entry. Files that vanished in the
// meantime are not an error. Names that do not belong to an artifact are
// removed without touching the index.
func (s *Store) Evict(ctx context.Context, fileName, reason string) error {
	id, ok := IDFromFileName(fileName)
	if !ok {
		if err := s.files.Remove(fileName); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("artifact: remove %s: %w", fileName, err)
		}
		return nil
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	entry, _ := s.files.Stat(fileName)
	if err := s.files.Remove(fileName); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("artifact: remove %s: %w", fileName, err)
	}
	if err := s.index.Delete(ctx, id); err != nil {
		return fmt.Errorf("artifact: unindex %s: %w", id, err)
	}
	s.publish(ctx, events.Event{
		Type:       events.TypeEvicted,
		ArtifactID: id,
		FileName:   fileName,
		SizeBytes:  entry.Size,
		Reason:     reason,
	})
	return nil
}

// Reconcile aligns the index with the directory: entries without a file are
// dropped, and artifact files without an entry are adopted.
func (s *Store) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	records, err := s.index.List(ctx)
	if err != nil {
		return report, fmt.Errorf("artifact: list index: %w", err)
	}
	for _, rec := range records {
		if s.files.Exists(rec.FileName) {
			continue
		}
		unlock := s.locks.Lock(rec.ID)
		if !s.files.Exists(rec.FileName) {
			if err := s.index.Delete(ctx, rec.ID); err != nil {
				unlock()
				return report, fmt.Errorf("artifact: drop %s: %w", rec.ID, err)
			}
			report.Dropped++
		}
		unlock()
	}

	entries, err := s.files.List()
	if err != nil {
		return report, err
	}
	for _, entry := range entries {
		id, ok := IDFromFileName(entry.Name)
		if !ok {
			continue
		}
		unlock := s.locks.Lock(id)
		_, inserted, err := s.index.PutIfAbsent(ctx, s.newRecord(id, "", entry))
		unlock()
		if err != nil {
			return report, fmt.Errorf("artifact: adopt %s: %w", id, err)
		}
		if inserted {
			report.Adopted++
		}
	}
	s.logger.Info().Int("dropped", report.Dropped).Int("adopted", report.Adopted).Msg("artifact: index reconciled")
	return report, nil
}

func (s *Store) publish(ctx context.Context, ev events.Event) {
	ev.At = time.Now().UTC()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("artifact_id", ev.ArtifactID).Str("type", ev.Type).Msg("artifact: publish event failed")
	}
}

type cappedReader struct {
	r         io.Reader
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, errTooLarge
	}
	return n, err
}
