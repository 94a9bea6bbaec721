package cmd

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/wikimedia/rcstream/core"
	"github.com/wikimedia/rcstream/core/config"
	"github.com/wikimedia/rcstream/core/logger"
)

var (
	serveBind  string
	servePorts string
	serveRedis string
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the stream servers on the configured ports.",
	Long:  ``,
	RunE: func(cmd *cobra.Command, args []string) error {
		os.Stdin.Close()
		cmd.SilenceUsage = true
		log.Println("Initializing server...")

		configuration, err := loadConfig()
		if err != nil {
			return err
		}

		if serveBind != "" {
			configuration.BindAddress = serveBind
		}
		if servePorts != "" {
			ports, err := config.ParsePorts(servePorts)
			if err != nil {
				return err
			}
			configuration.Ports = ports
		}
		if serveRedis != "" {
			configuration.Redis = serveRedis
		}
		if err := configuration.Validate(); err != nil {
			return err
		}

		log.Println("Starting logger...")
		appLog, err := configuration.OpenAppLog()
		if err != nil {
			return err
		}
		defer appLog.Close()
		events := logger.NewJsonLinesLogRecorder(appLog)

		fleet := core.NewFleet(configuration, events)

		go func() {
			if err := fleet.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal(err)
			}
		}()

		sigs := make(chan os.Signal, 1)

		log.Println("- Starting interrupt handler")
		signal.Notify(sigs, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigs
		log.Printf("Got signal %q, terminating...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := fleet.Shutdown(ctx); err != nil {
			log.Fatalf("Server shutdown failed: %s", err)
		}
		log.Print("Server exited")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveBind, "bind", "", "Override the configured bind address.")
	serveCmd.Flags().StringVar(&servePorts, "ports", "", "Override the configured ports, comma-separated.")
	serveCmd.Flags().StringVar(&serveRedis, "redis", "", "Override the configured Redis address.")
}
