package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/OnlineMo/DeepResearch-Web/pkg/config"
	"github.com/OnlineMo/DeepResearch-Web/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "deepresearch",
	Short: "Parse, index and search the DeepResearch report archive",
	Long: "deepresearch works directly on the report archive and the report store: " +
		"it parses archive documents, crawls the archive and answers search queries offline.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			level = "debug"
		}
		// Results go to stdout, diagnostics to stderr.
		slog.SetDefault(logger.New(os.Stderr, level, "text"))
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (defaults plus DR_* environment when empty)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
