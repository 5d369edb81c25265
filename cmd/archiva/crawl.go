package main

import (
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/apache/archiva-sub036/pkg/crawler"
)

func init() {
	rootCmd.AddCommand(crawlCmd)
}

var crawlCmd = &cobra.Command{
	Use:   "crawl <remote>",
	Short: "Index the artifacts of a remote repository",
	Long: `Walk the HTML directory listing of a remote repository and add the
artifacts it finds to the index, under the remote repository id. Paths
already indexed are not fetched again.

Examples:
  archiva crawl central`,
	Args: cobra.ExactArgs(1),
	RunE: runCrawl,
}

func runCrawl(cmd *cobra.Command, args []string) error {
	remote, ok := cfg.Remote(args[0])
	if !ok {
		return xerrors.Errorf("unknown remote repository %q", args[0])
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	c := crawler.NewCrawler(crawler.Option{
		Limit:      cfg.Crawler.Limit,
		Remote:     remote,
		Downloader: a.downloader(true),
		Index:      a.db,
		BatchSize:  cfg.Crawler.BatchSize,
	})
	n, err := c.Crawl(cmd.Context())
	if err != nil {
		return xerrors.Errorf("crawl error: %w", err)
	}
	slog.Info("Crawl finished", slog.String("remote", remote.ID), slog.Int("indexed", n))
	return nil
}
