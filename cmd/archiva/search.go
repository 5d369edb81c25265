package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/types"
)

var (
	searchLimit int
	searchSHA1  bool
	searchClass bool
)

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 30, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchSHA1, "sha1", false, "find the artifact with the given SHA-1")
	searchCmd.Flags().BoolVar(&searchClass, "class", false, "find the artifacts containing the given class")
	searchCmd.MarkFlagsMutuallyExclusive("sha1", "class")

	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search the artifact index",
	Long: `Search the artifact index by coordinates, name or class.

Examples:
  archiva search commons-lang
  archiva search --class StringUtils
  archiva search --sha1 0ce1edb914c94ebc388f086c6827e8bdeec71ac2`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	term := args[0]
	var rows []types.Index
	switch {
	case searchSHA1:
		row, err := a.db.SelectIndexBySha1(strings.ToLower(term))
		if err != nil {
			return err
		}
		if row.ArtifactID != "" {
			rows = append(rows, row)
		}
	case searchClass:
		rows, err = a.db.SelectByClass(term)
	default:
		rows, err = a.db.Search(term, searchLimit)
	}
	if err != nil {
		return xerrors.Errorf("search error: %w", err)
	}
	return printIndexes(cmd.OutOrStdout(), rows)
}

func printIndexes(out io.Writer, rows []types.Index) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REPOSITORY\tGROUP\tARTIFACT\tVERSION\tTYPE\tSHA1\tPATH")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RepositoryID, r.GroupID, r.ArtifactID, r.Version, r.Type, hex.EncodeToString(r.SHA1), r.Path)
	}
	return w.Flush()
}
