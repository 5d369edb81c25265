package main

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/checksum"
	"github.com/apache/archiva-sub036/pkg/fileutil"
	"github.com/apache/archiva-sub036/pkg/layout"
)

var (
	checksumFix   bool
	checksumQuiet bool
)

func init() {
	checksumCmd.Flags().BoolVar(&checksumFix, "fix", false, "rewrite missing and invalid checksum files")
	checksumCmd.Flags().BoolVarP(&checksumQuiet, "quiet", "q", false, "don't show the progress bar")

	rootCmd.AddCommand(checksumCmd)
}

var checksumCmd = &cobra.Command{
	Use:   "checksum <repository>",
	Short: "Verify the checksum files of a repository",
	Long: `Verify the .sha1 and .md5 files of every file in a repository and list
those that are missing or don't match.

Examples:
  archiva checksum internal
  archiva checksum internal --fix`,
	Args: cobra.ExactArgs(1),
	RunE: runChecksum,
}

func checksummed(rel string, d fs.DirEntry) bool {
	return fileutil.IsHidden(rel) || (!d.IsDir() && (layout.IsSupportFile(rel) || layout.IsMetadata(rel)))
}

func runChecksum(cmd *cobra.Command, args []string) error {
	repos, err := repositories(args)
	if err != nil {
		return err
	}
	repo := repos[0]

	var bar *pb.ProgressBar
	if !checksumQuiet {
		total, err := fileutil.Count(repo.Location, checksummed)
		if err != nil {
			return err
		}
		bar = pb.StartNew(total)
	}

	var problems []string
	results := make(chan string)
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(cfg.Scanner.Limit, 1) + 1)
	g.Go(func() error {
		return fileutil.Walk(repo.Location, checksummed, func(path string, _ fs.DirEntry) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			g.Go(func() error {
				defer func() {
					if bar != nil {
						bar.Increment()
					}
				}()
				return verify(repo.Location, path, results)
			})
			return nil
		})
	})
	done := make(chan struct{})
	go func() {
		for r := range results {
			problems = append(problems, r)
		}
		close(done)
	}()
	err = g.Wait()
	close(results)
	<-done
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return xerrors.Errorf("checksum verification failed: %w", err)
	}

	slices.Sort(problems)
	for _, p := range problems {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	if len(problems) > 0 && !checksumFix {
		return xerrors.Errorf("%d files with missing or invalid checksums", len(problems))
	}
	return nil
}

func verify(root, path string, results chan<- string) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return err
	}
	rel = filepath.ToSlash(rel)

	status, err := checksum.Verify(path, checksum.All...)
	if err != nil {
		return err
	}
	var bad []string
	for _, alg := range checksum.All {
		if s := status[alg.Ext]; s != checksum.Valid {
			bad = append(bad, alg.Ext+" "+s.String())
		}
	}
	if len(bad) == 0 {
		return nil
	}
	if checksumFix {
		if _, err = checksum.Fix(path, checksum.All...); err != nil {
			return err
		}
		bad = append(bad, "fixed")
	}
	results <- rel + ": " + strings.Join(bad, ", ")
	return nil
}
