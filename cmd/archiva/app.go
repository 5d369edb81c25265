package main

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/apache/archiva-sub036/pkg/consumers"
	"github.com/apache/archiva-sub036/pkg/db"
	"github.com/apache/archiva-sub036/pkg/downloader"
	"github.com/apache/archiva-sub036/pkg/filetypes"
	"github.com/apache/archiva-sub036/pkg/metadata"
	"github.com/apache/archiva-sub036/pkg/scanner"
	"github.com/apache/archiva-sub036/pkg/scheduler"
	"github.com/apache/archiva-sub036/pkg/types"
)

// app holds the components shared by the subcommands.
type app struct {
	db        *db.DB
	clock     clock.Clock
	fileTypes *filetypes.FileTypes
	metadata  *metadata.Updater
	factory   *consumers.Factory
	scanner   *scanner.Scanner
}

func newApp() (*app, error) {
	dbc, err := db.New(cfg.CacheDir)
	if err != nil {
		return nil, xerrors.Errorf("db error: %w", err)
	}
	if err = dbc.Init(); err != nil {
		_ = dbc.Close()
		return nil, xerrors.Errorf("db init error: %w", err)
	}

	c := clock.RealClock{}
	ft := filetypes.New(cfg.Scanner.FileTypes)
	updater := metadata.NewUpdater(c)
	return &app{
		db:        &dbc,
		clock:     c,
		fileTypes: ft,
		metadata:  updater,
		factory: consumers.NewFactory(consumers.Option{
			Index:     &dbc,
			Metadata:  updater,
			FileTypes: ft,
			Clock:     c,
		}),
		scanner: scanner.New(scanner.Option{
			Limit:     cfg.Scanner.Limit,
			FileTypes: ft,
			Stats:     &dbc,
			Clock:     c,
		}),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func (a *app) executor() *scheduler.RepositoryExecutor {
	return scheduler.NewExecutor(scheduler.ExecutorOption{
		Scanner:   a.scanner,
		Factory:   a.factory,
		Known:     cfg.Scanner.KnownConsumers,
		Invalid:   cfg.Scanner.InvalidConsumers,
		LastScans: a.db,
	})
}

func (a *app) downloader(throttle bool) *downloader.Downloader {
	opt := downloader.Option{
		RetryMax: cfg.Proxy.RetryMax,
		Timeout:  cfg.Proxy.Timeout,
	}
	if throttle {
		opt.Throttle = cfg.Crawler.Throttle
	}
	return downloader.New(opt)
}

// runConsumers scans repo entirely with only the given known consumers.
func (a *app) runConsumers(ctx context.Context, repo types.ManagedRepository, known ...string) (types.ScanStatistics, error) {
	c, err := a.factory.Build(known, nil)
	if err != nil {
		return types.ScanStatistics{}, err
	}
	return scanner.New(scanner.Option{
		Limit:     cfg.Scanner.Limit,
		FileTypes: a.fileTypes,
		Clock:     a.clock,
	}).Scan(ctx, repo, c, time.Time{})
}

// repositories resolves repository ids; no ids means every repository.
func repositories(ids []string) ([]types.ManagedRepository, error) {
	if len(ids) == 0 {
		return cfg.Repositories, nil
	}
	var repos []types.ManagedRepository
	for _, id := range ids {
		repo, ok := cfg.Repository(id)
		if !ok {
			return nil, xerrors.Errorf("unknown repository %q", id)
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

func logStats(stats types.ScanStatistics) {
	slog.Info("Scan completed",
		slog.String("repository", stats.RepositoryID),
		slog.Int64("files", stats.TotalFileCount),
		slog.Int64("new", stats.NewFileCount),
		slog.Int64("invalid", stats.InvalidFileCount),
		slog.Int64("errors", stats.ErrorCount),
		slog.Duration("duration", stats.Duration()))
}

func (a *app) metaClient() db.Client {
	return db.NewMetadata(cfg.CacheDir)
}
