// Package retention evicts stored artifacts by age and by total size.
package retention

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"photobooth/internal/infra"
	"photobooth/internal/storage"
)

// Eviction reasons passed to the Evictor.
const (
	ReasonAge  = "age"
	ReasonSize = "size"
)

// Catalog lists the files under retention.
type Catalog interface {
	List() ([]storage.Entry, error)
}

// Evictor deletes one file along with whatever else refers to it.
type Evictor interface {
	Evict(ctx context.Context, name, reason string) error
}

// Policy holds the limits. A zero or negative limit disables that rule.
type Policy struct {
	MaxAge   time.Duration
	MaxBytes int64
}

// Options configures a Janitor.
type Options struct {
	Catalog  Catalog
	Evictor  Evictor
	Policy   Policy
	Interval time.Duration
	Logger   *infra.Logger
	Now      func() time.Time
}

// Janitor runs eviction cycles.
type Janitor struct {
	catalog  Catalog
	evictor  Evictor
	policy   Policy
	interval time.Duration
	logger   *infra.Logger
	now      func() time.Time
	running  atomic.Bool
}

// Report summarizes one cycle.
type Report struct {
	Scanned       int
	DeletedByAge  int
	DeletedBySize int
	Failures      int
	BytesBefore   int64
	BytesAfter    int64
}

// Deleted is the total number of evicted files.
func (r Report) Deleted() int {
	return r.DeletedByAge + r.DeletedBySize
}

func New(opts Options) (*Janitor, error) {
	if opts.Catalog == nil || opts.Evictor == nil {
		return nil, errors.New("retention: catalog and evictor are required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Janitor{
		catalog:  opts.Catalog,
		evictor:  opts.Evictor,
		policy:   opts.Policy,
		interval: interval,
		logger:   infra.OrDiscard(opts.Logger),
		now:      now,
	}, nil
}

// RunCycle makes one oldest-first pass. Each file is first checked against the
// age limit and then, if it survived, against the running total size. A file
// that fails to delete is counted and skipped; its bytes stay in the total.
func (j *Janitor) RunCycle(ctx context.Context) (Report, error) {
	var report Report
	entries, err := j.catalog.List()
	if err != nil {
		return report, err
	}
	sort.Slice(entries, func(a, b int) bool {
		if entries[a].ModTime.Equal(entries[b].ModTime) {
			return entries[a].Name < entries[b].Name
		}
		return entries[a].ModTime.Before(entries[b].ModTime)
	})

	var total int64
	for _, e := range entries {
		total += e.Size
	}
	report.Scanned = len(entries)
	report.BytesBefore = total

	now := j.now()
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			report.BytesAfter = total
			return report, err
		}
		var reason string
		switch {
		case j.policy.MaxAge > 0 && now.Sub(e.ModTime) > j.policy.MaxAge:
			reason = ReasonAge
		case j.policy.MaxBytes > 0 && total > j.policy.MaxBytes:
			reason = ReasonSize
		default:
			continue
		}
		if err := j.evictor.Evict(ctx, e.Name, reason); err != nil {
			report.Failures++
			j.logger.Error().Err(err).Str("file", e.Name).Str("reason", reason).Msg("retention: delete failed")
			continue
		}
		total -= e.Size
		if reason == ReasonAge {
			report.DeletedByAge++
		} else {
			report.DeletedBySize++
		}
		j.logger.Info().
			Str("file", e.Name).
			Str("reason", reason).
			Str("size", humanize.IBytes(uint64(e.Size))).
			Str("age", humanize.RelTime(e.ModTime, now, "old", "from now")).
			Msg("retention: deleted file")
	}
	report.BytesAfter = total
	return report, nil
}

// Run performs a cycle immediately and then once per interval until ctx is
// done. A Run that starts while another is active returns at once.
func (j *Janitor) Run(ctx context.Context) {
	if !j.running.CompareAndSwap(false, true) {
		j.logger.Debug().Msg("retention: janitor already running")
		return
	}
	defer j.running.Store(false)

	j.logger.Info().
		Dur("interval", j.interval).
		Dur("max_age", j.policy.MaxAge).
		Str("max_size", humanize.IBytes(uint64(max(j.policy.MaxBytes, 0)))).
		Msg("retention: janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		j.cycle(ctx)
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("retention: janitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// Running reports whether Run is active.
func (j *Janitor) Running() bool {
	return j.running.Load()
}

func (j *Janitor) cycle(ctx context.Context) {
	start := time.Now()
	report, err := j.RunCycle(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		j.logger.Error().Err(err).Msg("retention: cycle failed")
		return
	}
	j.logger.Info().
		Int("scanned", report.Scanned).
		Int("deleted_age", report.DeletedByAge).
		Int("deleted_size", report.DeletedBySize).
		Int("failures", report.Failures).
		Str("before", humanize.IBytes(uint64(report.BytesBefore))).
		Str("after", humanize.IBytes(uint64(report.BytesAfter))).
		Dur("took", time.Since(start)).
		Msg("retention: cycle complete")
}
