package main

import (
	"fmt"
	"io"
	"strings"

	"unimem/internal/memory"
	"unimem/internal/unified"

	"github.com/spf13/cobra"
)

var (
	queryType     string
	queryLimit    int
	queryMinScore float64
	querySources  []string

	contextMaxTokens int
	contextRaw       bool

	hopMaxHops int
)

// queryCmd searches every suitable source
var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Query memory across sources",
	Long: `Classifies the query (multi-hop, temporal, graph, keyword or semantic),
routes it to the matching sources and prints merged results.

Examples:
  unimem query "why did the deploy fail"
  unimem query retry policy --type keyword
  unimem query "auth service" --source graph-store --source markdown`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

// contextCmd assembles a token-bounded context bundle
var contextCmd = &cobra.Command{
	Use:   "context [topic]",
	Short: "Assemble a token-bounded context about a topic",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runContext,
}

// hopCmd forces a multi-hop traversal
var hopCmd = &cobra.Command{
	Use:   "hop [text]",
	Short: "Chain related facts with a multi-hop traversal",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runHop,
}

func init() {
	queryCmd.Flags().StringVarP(&queryType, "type", "t", "", "Query type (multi-hop, temporal, graph, keyword, semantic); detected when empty")
	queryCmd.Flags().IntVarP(&queryLimit, "limit", "n", 0, "Maximum results (default from config)")
	queryCmd.Flags().Float64Var(&queryMinScore, "min-score", 0, "Minimum score (default from config)")
	queryCmd.Flags().StringSliceVarP(&querySources, "source", "s", nil, "Restrict to sources")

	contextCmd.Flags().IntVar(&contextMaxTokens, "max-tokens", 0, "Token budget (default from config)")
	contextCmd.Flags().BoolVar(&contextRaw, "raw", false, "Print markdown without rendering")

	hopCmd.Flags().IntVar(&hopMaxHops, "max-hops", 0, "Hop cap 1-5 (default from config)")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, stack, cleanup, err := openStack(cmd, true)
	if err != nil {
		return err
	}
	defer cleanup()

	text := strings.Join(args, " ")
	req := unified.Request{
		Query:    text,
		Type:     unified.QueryType(queryType),
		Limit:    queryLimit,
		MinScore: queryMinScore,
		Sources:  toSources(querySources),
	}
	if req.Type == "" {
		req.Type = unified.DetectQueryType(text)
	}
	results := stack.Memory.Query(ctx, req)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s query: %d result(s)\n", req.Type, len(results))
	printResults(out, results)
	return nil
}

func runContext(cmd *cobra.Command, args []string) error {
	ctx, stack, cleanup, err := openStack(cmd, true)
	if err != nil {
		return err
	}
	defer cleanup()

	c := stack.Memory.GetContext(ctx, strings.Join(args, " "), contextMaxTokens)
	md := c.Markdown()
	if contextRaw {
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), renderMarkdown(md))
	return nil
}

func runHop(cmd *cobra.Command, args []string) error {
	ctx, stack, cleanup, err := openStack(cmd, true)
	if err != nil {
		return err
	}
	defer cleanup()

	results := stack.Memory.MultiHopQuery(ctx, strings.Join(args, " "), hopMaxHops)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "multi-hop: %d result(s)\n", len(results))
	printResults(out, results)
	return nil
}

func toSources(names []string) []memory.Source {
	var out []memory.Source
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, memory.Source(n))
		}
	}
	return out
}

func printResults(w io.Writer, results []memory.Result) {
	for i, r := range results {
		fmt.Fprintf(w, "%2d. [%s %.2f] %s\n", i+1, r.Source, r.Score, oneLine(r.Content, 100))
		if trace, ok := r.Metadata[memory.MetaReasoning].(string); ok && trace != "" {
			fmt.Fprintf(w, "    path: %s\n", trace)
		}
	}
}

// oneLine flattens s and caps it at n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
