package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/wikimedia/rcstream/core/config"
)

// initCmd initializes the stream server configuration
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the configuration in the current directory.",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		logger := log.New(cmd.ErrOrStderr(), "", 0)

		return config.Initialize(cfgPath, logger)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
