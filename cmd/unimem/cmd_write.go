package main

import (
	"fmt"
	"sort"
	"strings"

	"unimem/internal/memory"

	"github.com/spf13/cobra"
)

var (
	writeKey  string
	writeTo   []string
	writeMeta []string
)

// writeCmd stores a memory through the write router
var writeCmd = &cobra.Command{
	Use:   "write [type] [content]",
	Short: "Write a memory (fact, episode, learning, win, decision, goal, improvement)",
	Long: `Writes content to the destinations for its type. The first destination
is primary and must succeed; the others are best effort.

Examples:
  unimem write fact "The staging DB runs Postgres 16"
  unimem write decision "We use UUIDv4 for ids" --key ids
  unimem write learning "Retry flaky e2e tests once" --to learning`,
	Args: cobra.MinimumNArgs(2),
	RunE: runWrite,
}

func init() {
	writeCmd.Flags().StringVarP(&writeKey, "key", "k", "", "Optional key")
	writeCmd.Flags().StringSliceVar(&writeTo, "to", nil, "Explicit destinations, primary first")
	writeCmd.Flags().StringArrayVarP(&writeMeta, "meta", "m", nil, "Metadata as key=value (repeatable)")
}

func runWrite(cmd *cobra.Command, args []string) error {
	wt := memory.WriteType(strings.ToLower(args[0]))
	if !wt.Valid() {
		return fmt.Errorf("unknown write type %q", args[0])
	}
	meta, err := parseMeta(writeMeta)
	if err != nil {
		return err
	}

	ctx, stack, cleanup, err := openStack(cmd, true)
	if err != nil {
		return err
	}
	defer cleanup()

	res := stack.Memory.Write(ctx, memory.WritePayload{
		Type:         wt,
		Content:      strings.Join(args[1:], " "),
		Key:          writeKey,
		Metadata:     meta,
		Destinations: toSources(writeTo),
	})

	out := cmd.OutOrStdout()
	for _, src := range res.Written {
		fmt.Fprintf(out, "✓ %s: %s\n", src, res.IDs[src])
	}
	failed := make([]string, 0, len(res.Errors))
	for src := range res.Errors {
		failed = append(failed, string(src))
	}
	sort.Strings(failed)
	for _, src := range failed {
		fmt.Fprintf(out, "✗ %s: %v\n", src, res.Errors[memory.Source(src)])
	}
	if !res.Success {
		return fmt.Errorf("write failed: %w", res.Err)
	}
	return nil
}

func parseMeta(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("metadata %q is not key=value", p)
		}
		meta[k] = strings.TrimSpace(v)
	}
	return meta, nil
}
