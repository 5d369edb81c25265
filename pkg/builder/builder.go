// Package builder rebuilds the artifact index of managed repositories from
// their content on disk.
package builder

import (
	"context"
	"log/slog"
	"time"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/apache/archiva-sub036/pkg/consumers"
	"github.com/apache/archiva-sub036/pkg/db"
	"github.com/apache/archiva-sub036/pkg/filetypes"
	"github.com/apache/archiva-sub036/pkg/metadata"
	"github.com/apache/archiva-sub036/pkg/scanner"
	"github.com/apache/archiva-sub036/pkg/types"
)

const updateInterval = time.Hour * 24 // full rebuild once a day

type Option struct {
	Known     []string // known consumer ids, consumers.DefaultKnown when empty
	Invalid   []string
	FileTypes *filetypes.FileTypes
	Limit     int
	// Quiet disables the progress bar.
	Quiet bool
	Clock clock.PassiveClock
}

type Builder struct {
	db      *db.DB
	meta    db.Client
	opt     Option
	factory *consumers.Factory
	clock   clock.PassiveClock
}

func NewBuilder(dbc *db.DB, meta db.Client, opt Option) Builder {
	if len(opt.Known) == 0 {
		opt.Known = consumers.DefaultKnown
	}
	if len(opt.Invalid) == 0 {
		opt.Invalid = consumers.DefaultInvalid
	}
	if opt.FileTypes == nil {
		opt.FileTypes = filetypes.New(nil)
	}
	if opt.Clock == nil {
		opt.Clock = clock.RealClock{}
	}
	c := opt.Clock
	return Builder{
		db:   dbc,
		meta: meta,
		opt:  opt,
		factory: consumers.NewFactory(consumers.Option{
			Index:     dbc,
			Metadata:  metadata.NewUpdater(c),
			FileTypes: opt.FileTypes,
			Clock:     c,
		}),
		clock: c,
	}
}

// Build scans every repository entirely, then compacts the database and
// records the rebuild in the metadata file.
func (b *Builder) Build(ctx context.Context, repos []types.ManagedRepository) ([]types.ScanStatistics, error) {
	var stats []types.ScanStatistics
	built := make(map[string]time.Time)
	for _, repo := range repos {
		s, err := b.build(ctx, repo)
		if err != nil {
			return stats, xerrors.Errorf("failed to build %s: %w", repo.ID, err)
		}
		stats = append(stats, s)
		built[repo.ID] = b.clock.Now().UTC()
	}

	if err := b.db.VacuumDB(); err != nil {
		return stats, xerrors.Errorf("failed to vacuum db: %w", err)
	}

	// save metadata
	metaDB := db.Metadata{
		Version:      db.SchemaVersion,
		NextUpdate:   b.clock.Now().UTC().Add(updateInterval),
		UpdatedAt:    b.clock.Now().UTC(),
		Repositories: built,
	}
	if err := b.meta.Update(metaDB); err != nil {
		return stats, xerrors.Errorf("failed to update metadata: %w", err)
	}
	slog.Info("Build completed", slog.Int("repositories", len(repos)))
	return stats, nil
}

func (b *Builder) build(ctx context.Context, repo types.ManagedRepository) (types.ScanStatistics, error) {
	c, err := b.factory.Build(b.opt.Known, b.opt.Invalid)
	if err != nil {
		return types.ScanStatistics{}, xerrors.Errorf("consumer error: %w", err)
	}

	var bar *pb.ProgressBar
	opt := scanner.Option{
		Limit:     b.opt.Limit,
		FileTypes: b.opt.FileTypes,
		Stats:     b.db,
		Clock:     b.clock,
	}
	if !b.opt.Quiet {
		count, err := scanner.New(opt).Count(repo)
		if err != nil {
			return types.ScanStatistics{}, err
		}
		bar = pb.StartNew(count)
		defer bar.Finish()
		opt.Progress = func(string) { bar.Increment() }
	}

	return scanner.New(opt).Scan(ctx, repo, c, time.Time{})
}
