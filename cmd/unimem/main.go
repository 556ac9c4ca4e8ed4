package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"unimem/internal/config"
	"unimem/internal/logging"
	"unimem/internal/unified"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose    bool
	configPath string
	timeout    time.Duration

	// Set up by PersistentPreRunE
	cfg    *config.Config
	logger *logging.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "unimem",
	Short: "unimem - unified agent memory",
	Long: `unimem puts a graph-fact store, a markdown notebook, a learning ledger
and a multi-hop reasoner behind one query and write interface.

Queries are classified and routed to the sources best suited to them;
writes are replicated to a primary destination and best-effort secondaries.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			loaded.Logging.Level = "debug"
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", configPath, err)
		}

		l, err := logging.New(logging.Options{
			Level:      loaded.Logging.Level,
			Format:     loaded.Logging.Format,
			File:       loaded.Logging.File,
			DebugMode:  loaded.Logging.DebugMode,
			Categories: loaded.Logging.Categories,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		cfg = loaded
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".unimem/config.yaml", "Config file (defaults apply when missing)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(hopCmd)
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(watchCmd)
}

// openStack builds the memory stack and initializes every source. The
// returned cleanup closes the stack and cancels the context.
func openStack(cmd *cobra.Command, withTimeout bool) (context.Context, *unified.Stack, func(), error) {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if withTimeout && timeout > 0 {
		ctx, cancel = context.WithTimeout(base, timeout)
	} else {
		ctx, cancel = context.WithCancel(base)
	}

	stack, err := unified.Open(ctx, cfg, logger)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	avail := stack.Memory.Initialize(ctx)
	for src, ok := range avail {
		if !ok {
			logger.For(logging.CategoryBoot).Warn("Source %s unavailable", src)
		}
	}

	cleanup := func() {
		// Close on a fresh context so an expired deadline still flushes.
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := stack.Close(closeCtx); err != nil {
			logger.For(logging.CategoryBoot).Error("Close failed: %v", err)
		}
		cancel()
	}
	return ctx, stack, cleanup, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
