// Package scanner walks a managed repository and dispatches its files to consumers.
package scanner

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/apache/archiva-sub036/pkg/filetypes"
	"github.com/apache/archiva-sub036/pkg/fileutil"
	"github.com/apache/archiva-sub036/pkg/metrics"
	"github.com/apache/archiva-sub036/pkg/types"
)

const defaultLimit = 8

// StatisticsStore persists the result of complete scans.
type StatisticsStore interface {
	InsertScanStatistics(stats types.ScanStatistics) error
}

type Option struct {
	Limit     int // concurrent ProcessFile calls
	FileTypes *filetypes.FileTypes
	Stats     StatisticsStore
	Clock     clock.PassiveClock
	// Progress is called after every walked file, possibly concurrently.
	Progress func(path string)
}

// Consumers groups the consumers of one scan. Known consumers receive the
// files matching their patterns, invalid consumers the files no known
// consumer accepts.
type Consumers struct {
	Known   []KnownConsumer
	Invalid []Consumer
}

func (c Consumers) all() []Consumer {
	all := make([]Consumer, 0, len(c.Known)+len(c.Invalid))
	for _, k := range c.Known {
		all = append(all, k)
	}
	return append(all, c.Invalid...)
}

type Scanner struct {
	limit     int
	fileTypes *filetypes.FileTypes
	stats     StatisticsStore
	clock     clock.PassiveClock
	progress  func(path string)
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(opt Option) *Scanner {
	if opt.Limit <= 0 {
		opt.Limit = defaultLimit
	}
	if opt.FileTypes == nil {
		opt.FileTypes = filetypes.New(nil)
	}
	if opt.Clock == nil {
		opt.Clock = clock.RealClock{}
	}
	return &Scanner{
		limit:     opt.Limit,
		fileTypes: opt.FileTypes,
		stats:     opt.Stats,
		clock:     opt.Clock,
		progress:  opt.Progress,
		metrics:   metrics.Get(),
		logger:    slog.Default().With(slog.String("component", "scanner")),
	}
}

// run holds the counters of one scan.
type run struct {
	repo   types.ManagedRepository
	entire bool

	total, newFiles, invalid, errs, size atomic.Int64
	perConsumer                          map[string]*atomic.Int64
}

// Scan walks the repository and dispatches every file to the consumers. A
// zero since scans the entire repository; otherwise only files modified after
// since are dispatched, except to consumers processing unmodified files.
// Consumer failures are logged and counted, they never abort the scan.
func (s *Scanner) Scan(ctx context.Context, repo types.ManagedRepository, consumers Consumers, since time.Time) (types.ScanStatistics, error) {
	logger := s.logger.With(slog.String("repository", repo.ID))
	if info, err := os.Stat(repo.Location); err != nil {
		return types.ScanStatistics{}, xerrors.Errorf("unable to scan %s: %w", repo.ID, err)
	} else if !info.IsDir() {
		return types.ScanStatistics{}, xerrors.Errorf("repository location %s is not a directory", repo.Location)
	}

	whenGathered := s.clock.Now()
	r := s.newRun(repo, consumers, since.IsZero())
	logger.Info("Starting repository scan", slog.Bool("entire_repository", r.entire),
		slog.Int("known_consumers", len(consumers.Known)), slog.Int("invalid_consumers", len(consumers.Invalid)))

	for _, c := range consumers.all() {
		if err := c.BeginScan(ctx, repo, whenGathered, r.entire); err != nil {
			return types.ScanStatistics{}, xerrors.Errorf("consumer %s failed to begin scan: %w", c.ID(), err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)

	walkErr := fileutil.Walk(repo.Location, s.skip, func(path string, d fs.DirEntry) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil // removed by a consumer, e.g. purged with a sibling
		} else if err != nil {
			return xerrors.Errorf("file info error: %w", err)
		}
		rel, err := filepath.Rel(repo.Location, path)
		if err != nil {
			return xerrors.Errorf("relative path error: %w", err)
		}
		rel = filepath.ToSlash(rel)

		r.total.Add(1)
		r.size.Add(info.Size())
		s.metrics.RecordScannedFile(repo.ID)
		modified := r.entire || info.ModTime().After(since)
		if modified {
			r.newFiles.Add(1)
		}

		if n := r.total.Load(); n%10000 == 0 {
			logger.Info("Scanning", slog.Int64("files", n))
		}

		g.Go(func() error {
			_ = s.dispatch(gctx, r, consumers, rel, modified)
			if s.progress != nil {
				s.progress(rel)
			}
			return gctx.Err()
		})
		return nil
	})
	if err := g.Wait(); err != nil && walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		return types.ScanStatistics{}, xerrors.Errorf("scan of %s aborted: %w", repo.ID, walkErr)
	}

	for _, c := range consumers.all() {
		if err := c.CompleteScan(ctx, r.entire); err != nil {
			r.errs.Add(1)
			s.metrics.RecordConsumerError(c.ID())
			logger.Error("Consumer failed to complete scan", slog.String("consumer", c.ID()), slog.Any("error", err))
		}
	}

	stats := r.statistics(whenGathered, s.clock.Now())
	s.metrics.RecordScan(repo.ID, stats.Duration())
	logger.Info("Repository scan completed",
		slog.Int64("files", stats.TotalFileCount),
		slog.Int64("new_files", stats.NewFileCount),
		slog.Int64("invalid_files", stats.InvalidFileCount),
		slog.Int64("errors", stats.ErrorCount),
		slog.Duration("duration", stats.Duration()))

	if s.stats != nil {
		if err := s.stats.InsertScanStatistics(stats); err != nil {
			return stats, xerrors.Errorf("failed to save scan statistics: %w", err)
		}
	}
	return stats, nil
}

// ScanFile dispatches a single repository path, e.g. after a deployment.
// Consumer errors are returned joined.
func (s *Scanner) ScanFile(ctx context.Context, repo types.ManagedRepository, consumers Consumers, path string) error {
	full := repo.Abs(path)
	info, err := os.Stat(full)
	if err != nil {
		return xerrors.Errorf("unable to scan %s: %w", path, err)
	} else if info.IsDir() {
		return nil
	}
	rel := filepath.ToSlash(filepath.Clean(filepath.FromSlash(path)))
	if s.skip(rel, fs.FileInfoToDirEntry(info)) {
		return nil
	}

	whenGathered := s.clock.Now()
	for _, c := range consumers.all() {
		if err = c.BeginScan(ctx, repo, whenGathered, false); err != nil {
			return xerrors.Errorf("consumer %s failed to begin scan: %w", c.ID(), err)
		}
	}

	r := s.newRun(repo, consumers, false)
	errs := []error{s.dispatch(ctx, r, consumers, rel, true)}
	for _, c := range consumers.all() {
		if err = c.CompleteScan(ctx, false); err != nil {
			errs = append(errs, xerrors.Errorf("consumer %s: %w", c.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scanner) newRun(repo types.ManagedRepository, consumers Consumers, entire bool) *run {
	r := &run{
		repo:        repo,
		entire:      entire,
		perConsumer: make(map[string]*atomic.Int64),
	}
	for _, c := range consumers.all() {
		r.perConsumer[c.ID()] = &atomic.Int64{}
	}
	return r
}

func (r *run) statistics(started, finished time.Time) types.ScanStatistics {
	stats := types.ScanStatistics{
		RepositoryID:     r.repo.ID,
		Started:          started,
		Finished:         finished,
		TotalFileCount:   r.total.Load(),
		NewFileCount:     r.newFiles.Load(),
		InvalidFileCount: r.invalid.Load(),
		ErrorCount:       r.errs.Load(),
		TotalSize:        r.size.Load(),
		Consumers:        make(map[string]int64, len(r.perConsumer)),
	}
	for id, n := range r.perConsumer {
		stats.Consumers[id] = n.Load()
	}
	return stats
}

// dispatch hands one file to the matching known consumers, or to the invalid
// consumers when none matches.
func (s *Scanner) dispatch(ctx context.Context, r *run, consumers Consumers, rel string, modified bool) error {
	var errs []error
	var known bool
	for _, c := range consumers.Known {
		if !Wants(c, rel) {
			continue
		}
		known = true
		if !modified && !c.ProcessUnmodified() {
			continue
		}
		errs = append(errs, s.process(ctx, r, c, rel))
	}
	if known {
		return errors.Join(errs...)
	}

	r.invalid.Add(1)
	for _, c := range consumers.Invalid {
		if !modified && !c.ProcessUnmodified() {
			continue
		}
		errs = append(errs, s.process(ctx, r, c, rel))
	}
	return errors.Join(errs...)
}

func (s *Scanner) process(ctx context.Context, r *run, c Consumer, rel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.ProcessFile(ctx, rel, r.entire); err != nil {
		if ctx.Err() != nil {
			return err
		}
		r.errs.Add(1)
		s.metrics.RecordConsumerError(c.ID())
		s.logger.Warn("Consumer failed to process file", slog.String("repository", r.repo.ID),
			slog.String("consumer", c.ID()), slog.String("path", rel), slog.Any("error", err))
		return xerrors.Errorf("consumer %s: %w", c.ID(), err)
	}
	r.perConsumer[c.ID()].Add(1)
	return nil
}

// Count returns the number of files a scan of repo would visit.
func (s *Scanner) Count(repo types.ManagedRepository) (int, error) {
	n, err := fileutil.Count(repo.Location, s.skip)
	if err != nil {
		return 0, xerrors.Errorf("count error: %w", err)
	}
	return n, nil
}

func (s *Scanner) skip(rel string, _ fs.DirEntry) bool {
	return fileutil.IsHidden(rel) || s.fileTypes.Matches(filetypes.Ignored, rel)
}

// Wants reports whether a known consumer accepts a repository path.
func Wants(c KnownConsumer, rel string) bool {
	return filetypes.MatchAny(c.Includes(), rel) && !filetypes.MatchAny(c.Excludes(), rel)
}
