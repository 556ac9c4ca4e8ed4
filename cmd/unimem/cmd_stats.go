package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statsCmd shows per-source stats
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show source availability and stats",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, stack, cleanup, err := openStack(cmd, true)
	if err != nil {
		return err
	}
	defer cleanup()

	st := stack.Memory.Stats(ctx)
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "unimem memory status")
	fmt.Fprintln(out, "====================")
	fmt.Fprintf(out, "Data dir: %s\n\n", cfg.DataDir)

	for _, src := range stack.Bus.Sources() {
		if !st.Available[src] {
			fmt.Fprintf(out, "✗ %-12s unavailable\n", src)
			continue
		}
		s, ok := st.Sources[src]
		switch {
		case !ok:
			fmt.Fprintf(out, "✓ %-12s\n", src)
		case s.LastSync.IsZero():
			fmt.Fprintf(out, "✓ %-12s %d item(s)\n", src, s.Count)
		default:
			fmt.Fprintf(out, "✓ %-12s %d item(s), last sync %s\n", src, s.Count, s.LastSync.Local().Format("2006-01-02 15:04"))
		}
	}

	ls := stack.Learning.Stats()
	fmt.Fprintf(out, "\nLearnings: %d active, %d deprecated, avg confidence %.2f\n", ls.Active, ls.Deprecated, ls.AvgConfidence)
	return nil
}
