package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"unimem/internal/logging"
	"unimem/internal/markdown"

	"github.com/spf13/cobra"
)

// watchCmd keeps the memory stack alive: it reloads edited markdown notes
// and runs the decay loop until interrupted.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch markdown notes and run learning decay until interrupted",
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stack, cleanup, err := openStack(cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.For(logging.CategoryMarkdown)
	if cfg.Markdown.Watch {
		w, err := markdown.NewWatcher(stack.Markdown, cfg.Markdown.GetDebounce(), func(rel string) {
			log.Info("Reloaded %s", rel)
			stack.Memory.ClearCache()
		})
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer w.Stop()
	}

	stack.Memory.StartMaintenance(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (decay every %s). Press Ctrl+C to stop.\n",
		stack.Markdown.Root(), cfg.Learning.GetDecayInterval())

	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "Shutting down")
	return nil
}
