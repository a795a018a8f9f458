// kwforge is the keyword intelligence CLI: it fans seed terms out to the
// configured providers, runs the processing pipeline and reports the
// surviving candidates.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"keywordforge/internal/config"
	"keywordforge/internal/logging"
)

var (
	cfgPath string
	verbose bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kwforge",
	Short: "kwforge - multi-source keyword intelligence",
	Long: `kwforge collects keyword candidates from suggestion APIs, ad planners
and community sites, then normalizes, enriches, scores and validates them
into a ranked candidate set.

Every upstream call goes through a shared cache, per-provider rate limits
and a circuit breaker, so a single misbehaving provider degrades that
provider only, never the run.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}

		var categories map[string]bool
		if len(cfg.Logging.Categories) > 0 {
			categories = make(map[string]bool, len(cfg.Logging.Categories))
			for _, c := range cfg.Logging.Categories {
				categories[c] = true
			}
		}
		return logging.Initialize(logging.Options{
			Level:      cfg.Logging.Level,
			JSONFormat: cfg.Logging.Format == "json",
			Categories: categories,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "kwforge.yaml", "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
