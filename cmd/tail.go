package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/wikimedia/rcstream/core/backend"
	"github.com/wikimedia/rcstream/core/logger"
)

var (
	tailRedis   string
	tailPattern string
)

// tailCmd follows the raw change stream, useful for checking that Redis is
// actually publishing before pointing clients at the server.
var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow the live change stream from Redis.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		redisAddr := tailRedis
		pattern := tailPattern
		if redisAddr == "" || pattern == "" {
			configuration, err := loadConfig()
			if err != nil {
				return err
			}
			if redisAddr == "" {
				redisAddr = configuration.Redis
			}
			if pattern == "" {
				pattern = configuration.Pattern
			}
		}

		wikiColor := color.New(color.FgCyan, color.Bold)
		out := cmd.OutOrStdout()
		handler := func(change backend.Change) {
			wiki := change.Wiki
			if wiki == "" {
				wiki = "(unknown)"
			}
			fmt.Fprintf(out, "%s %s\n", wikiColor.Sprint(wiki), change.Data)
		}

		sub := backend.NewSubscriber(redisAddr, pattern, handler, logger.NewNopLogger().Sessionless())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := sub.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tailCmd)

	tailCmd.Flags().StringVar(&tailRedis, "redis", "", "Redis address, host:port or redis:// URL.")
	tailCmd.Flags().StringVar(&tailPattern, "pattern", "", "Channel pattern to subscribe to.")
}
