package main

import (
	"github.com/spf13/cobra"

	"github.com/dshills/finrag/internal/storage"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := map[string]string{
			"version":    version,
			"build_time": buildTime,
			"build_mode": storage.BuildMode,
			"driver":     storage.DriverName,
		}
		if !humanOutput {
			return outputJSON(info)
		}
		outputHuman("finrag %s\n", version)
		outputHuman("Build Time: %s\n", buildTime)
		outputHuman("Build Mode: %s\n", storage.BuildMode)
		outputHuman("SQLite Driver: %s\n", storage.DriverName)
		return nil
	},
}
