package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/index"
)

var exportOutput string

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file, stdout when empty")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}

var importCmd = &cobra.Command{
	Use:   "import <repository> <file>",
	Short: "Import index rows from a TSV dump",
	Long: `Import the rows of a tab separated dump (path, groupId, artifactId,
version, sha1) into the index of a repository. The repository may be a
managed or a remote repository.

Examples:
  archiva import central central.tsv`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

var exportCmd = &cobra.Command{
	Use:   "export <repository>",
	Short: "Export the index rows of a repository as TSV",
	Long: `Write the index rows of a repository as a tab separated dump readable by
the import command.

Examples:
  archiva export internal -o internal.tsv`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func knownRepository(id string) bool {
	_, managed := cfg.Repository(id)
	_, remote := cfg.Remote(id)
	return managed || remote
}

func runImport(_ *cobra.Command, args []string) error {
	repoID := args[0]
	if !knownRepository(repoID) {
		return xerrors.Errorf("unknown repository %q", repoID)
	}
	r, err := index.Open(args[1])
	if err != nil {
		return err
	}
	defer r.Close()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := index.Import(r, repoID, a.db, cfg.Crawler.BatchSize)
	if err != nil {
		return xerrors.Errorf("import error: %w", err)
	}
	if err = a.metaClient().RecordImport(a.clock.Now().UTC()); err != nil {
		return xerrors.Errorf("failed to update metadata: %w", err)
	}
	slog.Info("Import finished", slog.String("repository", repoID), slog.Int("rows", n))
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	repoID := args[0]
	if !knownRepository(repoID) {
		return xerrors.Errorf("unknown repository %q", repoID)
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.db.SelectIndexesByRepository(repoID)
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return xerrors.Errorf("unable to create %s: %w", exportOutput, err)
		}
		defer f.Close()
		out = f
	}
	if _, err = fmt.Fprintln(out, "# path\tgroupId\tartifactId\tversion\tsha1"); err != nil {
		return err
	}
	return index.NewWriter(out).Write(rows...)
}
