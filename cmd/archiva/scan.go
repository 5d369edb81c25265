package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/builder"
)

var (
	scanFull   bool
	scanFile   string
	buildQuiet bool
)

func init() {
	scanCmd.Flags().BoolVar(&scanFull, "full", false, "process every file, not only those modified since the last scan")
	scanCmd.Flags().StringVar(&scanFile, "file", "", "process a single repository relative path")
	buildCmd.Flags().BoolVarP(&buildQuiet, "quiet", "q", false, "don't show the progress bar")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(buildCmd)
}

var scanCmd = &cobra.Command{
	Use:   "scan [repository...]",
	Short: "Scan managed repositories",
	Long: `Run the configured consumers over managed repositories.

Without arguments every repository is scanned. Scans are incremental unless
--full is given or the repository was never scanned.

Examples:
  # Incremental scan of every repository
  archiva scan

  # Full scan of one repository
  archiva scan internal --full

  # Process a single deployed file
  archiva scan internal --file org/foo/bar/1.0/bar-1.0.jar`,
	RunE: runScan,
}

var buildCmd = &cobra.Command{
	Use:   "build [repository...]",
	Short: "Rebuild the artifact index",
	Long: `Rebuild the artifact index of managed repositories from their content,
then compact the database.

Examples:
  archiva build
  archiva build internal snapshots --quiet`,
	RunE: runBuild,
}

func runScan(cmd *cobra.Command, args []string) error {
	repos, err := repositories(args)
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	executor := a.executor()
	if scanFile != "" {
		if len(repos) != 1 {
			return xerrors.New("--file requires exactly one repository")
		}
		return executor.ScanFile(cmd.Context(), repos[0], scanFile)
	}
	for _, repo := range repos {
		if err = executor.Scan(cmd.Context(), repo, scanFull); err != nil {
			return xerrors.Errorf("scan of %s failed: %w", repo.ID, err)
		}
		stats, found, err := a.db.LastScan(repo.ID)
		if err != nil {
			return err
		} else if found {
			logStats(stats)
		}
	}
	return nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	repos, err := repositories(args)
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	b := builder.NewBuilder(a.db, a.metaClient(), builder.Option{
		Known:     cfg.Scanner.KnownConsumers,
		Invalid:   cfg.Scanner.InvalidConsumers,
		FileTypes: a.fileTypes,
		Limit:     cfg.Scanner.Limit,
		Quiet:     buildQuiet,
		Clock:     a.clock,
	})
	stats, err := b.Build(cmd.Context(), repos)
	for _, s := range stats {
		logStats(s)
	}
	return err
}
