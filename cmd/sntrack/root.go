package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/uber-go/tally"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/safetynet/internal/config"
	"github.com/joshuapare/safetynet/internal/logger"
	"github.com/joshuapare/safetynet/track"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	jsonOut    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "sntrack",
	Short: "Exercise and inspect the safetynet tracking allocator",
	Long: `sntrack drives a safetynet tracker from the command line. It can run
concurrent allocation workloads, dump tracked blocks to files and mount files
back into tracked memory.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads --config when given, then applies SN_* overrides.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return cfg, err
		}
	}
	return config.FromEnv(cfg)
}

// newTracker builds a tracker from the loaded configuration. Logging goes to
// stderr when --verbose is set.
func newTracker(scope tally.Scope, extra ...track.Option) (*track.Tracker, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	level, _ := logger.ParseLevel(cfg.Log.Level)
	if verbose {
		level = slog.LevelDebug
	}
	if err := logger.Init(logger.Options{
		Enabled: verbose,
		Writer:  os.Stderr,
		Level:   level,
		JSON:    cfg.Log.JSON,
	}); err != nil {
		return nil, err
	}

	opts := []track.Option{track.WithConfig(cfg), track.WithLogger(logger.L)}
	if scope != nil {
		opts = append(opts, track.WithMetrics(scope))
	}
	return track.New(append(opts, extra...)...)
}

// Helper functions for output

var printer = message.NewPrinter(language.English)

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		printer.Fprintf(os.Stdout, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		printer.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
