package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"drizzlesim/internal/logging"
	"drizzlesim/pkg/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries the loaded configuration from the root command to its children
type app struct {
	configPath string
	verbose    bool
	cfg        *config.Config
}

func run(args []string) error {
	root := newRootCommand(&app{})
	root.SetArgs(args)
	return root.Execute()
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "drizzlesim",
		Short:         "Simulate dithered mosaiced exposures and reconstruct them by drizzle stacking",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("verbose") {
				cfg.Output.Verbose = a.verbose
			}
			a.cfg = cfg
			installLogger(cfg.Output.Verbose)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "config.yaml", "Configuration file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log per-frame details")

	root.AddCommand(
		newSimulateCommand(a),
		newReconstructCommand(a),
		newPatternCommand(a),
		newScoreCommand(a),
		newConfigCommand(a),
	)
	return root
}

// installLogger routes library logging to stderr
func installLogger(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logging.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
