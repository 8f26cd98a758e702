package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/openlab-aux/openlab-app-rest2/cmd/openlabapi/internal/config"
)

var (
	cfg          *config.Config
	configPath   string
	debugLogging bool
)

var rootCmd = &cobra.Command{
	Use:   "openlabapi",
	Short: "Presence API for the openlab hackspace",
	Long: `openlabapi tracks who plans to come to the space and who is there right now.
All state lives in memory only and expires on its own; POST /panic wipes it at once.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ReadFile(configPath); err != nil {
			return err
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if debugLogging {
			cfg.Log.Level = "debug"
		}
		slog.SetDefault(newLogger(os.Stderr, cfg.Log))
		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "Path to the YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "Enable debug logging (overrides log.level)")
}

// newLogger builds the process logger from the log section of the config.
func newLogger(w io.Writer, c config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
