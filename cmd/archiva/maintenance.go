package main

import (
	"github.com/spf13/cobra"

	"github.com/apache/archiva-sub036/pkg/consumers"
)

func init() {
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(metadataCmd)
}

var purgeCmd = &cobra.Command{
	Use:   "purge [repository...]",
	Short: "Apply the snapshot purge policies",
	Long: `Remove old snapshots according to the days_older, retention_count and
delete_released_snapshots settings of each repository.

Examples:
  archiva purge snapshots`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConsumers(cmd, args, consumers.RepositoryPurgeID)
	},
}

var metadataCmd = &cobra.Command{
	Use:   "metadata [repository...]",
	Short: "Regenerate maven-metadata.xml files",
	Long: `Regenerate the project and version metadata of every artifact found in
the repositories.

Examples:
  archiva metadata internal`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConsumers(cmd, args, consumers.MetadataUpdaterID)
	},
}

func runConsumers(cmd *cobra.Command, args []string, known ...string) error {
	repos, err := repositories(args)
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	for _, repo := range repos {
		stats, err := a.runConsumers(cmd.Context(), repo, known...)
		if err != nil {
			return err
		}
		logStats(stats)
	}
	return nil
}
