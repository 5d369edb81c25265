package main

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/converter"
	"github.com/apache/archiva-sub036/pkg/fileutil"
	"github.com/apache/archiva-sub036/pkg/layout"
	"github.com/apache/archiva-sub036/pkg/types"
)

var (
	convertLegacy string
	convertTarget string
	convertDryRun bool
	convertForce  bool
	convertQuiet  bool
)

func init() {
	convertCmd.Flags().StringVar(&convertLegacy, "legacy", "", "legacy repository id or directory (required)")
	convertCmd.Flags().StringVar(&convertTarget, "target", "", "default layout repository id or directory (required)")
	convertCmd.Flags().BoolVar(&convertDryRun, "dry-run", false, "report what would be converted without writing")
	convertCmd.Flags().BoolVar(&convertForce, "force", false, "overwrite target files with different content")
	convertCmd.Flags().BoolVarP(&convertQuiet, "quiet", "q", false, "don't show the progress bar")
	_ = convertCmd.MarkFlagRequired("legacy")
	_ = convertCmd.MarkFlagRequired("target")

	rootCmd.AddCommand(convertCmd)
}

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a legacy (Maven 1) repository to the default layout",
	Long: `Copy every artifact of a legacy repository to its default layout path,
converting v3 POMs, creating missing POMs and checksums and regenerating the
project metadata of the target repository.

Examples:
  # Convert a directory
  archiva convert --legacy /srv/maven1 --target /srv/maven2

  # Report only
  archiva convert --legacy legacy --target internal --dry-run`,
	Args: cobra.NoArgs,
	RunE: runConvert,
}

// resolveRepository returns the configured repository named arg, or an
// unconfigured repository located at the directory arg.
func resolveRepository(arg, defaultLayout string) (types.ManagedRepository, error) {
	if repo, ok := cfg.Repository(arg); ok {
		return repo, nil
	}
	dir, err := filepath.Abs(arg)
	if err != nil {
		return types.ManagedRepository{}, xerrors.Errorf("invalid repository %q: %w", arg, err)
	}
	return types.ManagedRepository{
		ID:        filepath.Base(dir),
		Location:  dir,
		Layout:    defaultLayout,
		Releases:  true,
		Snapshots: true,
	}, nil
}

func runConvert(cmd *cobra.Command, _ []string) error {
	legacy, err := resolveRepository(convertLegacy, types.LegacyLayout)
	if err != nil {
		return err
	}
	target, err := resolveRepository(convertTarget, types.DefaultLayout)
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	opt := converter.Option{
		Force:    convertForce,
		DryRun:   convertDryRun,
		Metadata: a.metadata,
	}
	if !convertQuiet {
		total, err := fileutil.Count(legacy.Location, func(rel string, d fs.DirEntry) bool {
			return fileutil.IsHidden(rel) || (!d.IsDir() && (layout.IsSupportFile(rel) || layout.IsMetadata(rel)))
		})
		if err != nil {
			return err
		}
		bar := pb.StartNew(total)
		opt.Progress = func(converter.Result) { bar.Increment() }
		defer bar.Finish()
	}

	report, err := converter.New(opt).Convert(cmd.Context(), legacy, target)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, res := range report.Results {
		switch {
		case res.Status == converter.Failed:
			fmt.Fprintf(out, "FAILED   %s: %v\n", res.Path, res.Err)
		case len(res.Warnings) > 0:
			for _, w := range res.Warnings {
				fmt.Fprintf(out, "WARNING  %s: %s\n", res.Path, w)
			}
		}
	}
	fmt.Fprintf(out, "converted: %d, skipped: %d, failed: %d\n",
		report.Count(converter.Converted), report.Count(converter.Skipped), report.Count(converter.Failed))
	if n := report.Count(converter.Failed); n > 0 {
		return xerrors.Errorf("%d artifacts failed to convert", n)
	}
	return nil
}
