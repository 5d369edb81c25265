package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/proxy"
	"github.com/apache/archiva-sub036/pkg/scheduler"
	"github.com/apache/archiva-sub036/pkg/security"
	"github.com/apache/archiva-sub036/pkg/server"
	"github.com/apache/archiva-sub036/pkg/types"
	"github.com/apache/archiva-sub036/pkg/watcher"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the managed repositories over HTTP",
	Long: `Serve the managed repositories over HTTP and run their scheduled scans.

Missing files of repositories with proxy connectors are fetched from the
remote repositories. With server.watch enabled, files changed on disk are
scanned as soon as they settle.

Examples:
  # Serve with a configuration file
  archiva serve --config archiva.yaml

  # Override the port
  ARCHIVA_SERVER_PORT=8081 archiva serve --config archiva.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	executor := a.executor()
	sched, err := scheduler.New(scheduler.Option{
		Repositories: cfg.Repositories,
		Executor:     executor,
		Clock:        a.clock,
	})
	if err != nil {
		return xerrors.Errorf("scheduler error: %w", err)
	}

	srv := server.New(server.Option{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		Repositories: cfg.Repositories,
		Security:     security.New(cfg.Users, cfg.GuestReadable()),
		Index:        a.db,
		Scheduler:    sched,
		Processor:    executor,
		Proxy: proxy.New(proxy.Option{
			Connectors:  cfg.Connectors,
			Remotes:     cfg.Remotes,
			Downloader:  a.downloader(false),
			Metadata:    a.metadata,
			Clock:       a.clock,
			NegativeTTL: cfg.Proxy.NegativeTTL,
		}),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(ctx)
	})
	if cfg.Server.Watch {
		w, err := watcher.New(watcher.Option{
			Repositories: scanned(cfg.Repositories),
			Queue:        sched,
			Debounce:     cfg.Server.WatchDebounce,
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// catch up with changes made while the server was down
	for _, repo := range scanned(cfg.Repositories) {
		if _, err = sched.QueueScan(repo.ID, false); err != nil {
			slog.Error("Unable to queue scan", slog.String("repository", repo.ID), slog.Any("error", err))
		}
	}

	if err = g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func scanned(repos []types.ManagedRepository) []types.ManagedRepository {
	var s []types.ManagedRepository
	for _, r := range repos {
		if r.Scanned {
			s = append(s, r)
		}
	}
	return s
}
