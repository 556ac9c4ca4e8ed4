package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"unimem/internal/learning"

	"github.com/spf13/cobra"
)

var (
	learnEntities   []string
	learnTriggers   []string
	learnConfidence float64
	learnBenefit    float64

	listType   string
	listStatus string
)

// learnCmd manages the learning ledger directly
var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Manage the learning ledger",
}

var learnAddCmd = &cobra.Command{
	Use:   "add [type] [insight]",
	Short: "Record a learning (merged into an existing one with the same entities)",
	Long: `Records a learning. A learning with the same type and entity set that is
still active absorbs the new evidence instead of being duplicated.

Example:
  unimem learn add tooling "Prefer table-driven tests" --entity skill:testing --trigger test`,
	Args: cobra.MinimumNArgs(2),
	RunE: runLearnAdd,
}

var learnEvidenceCmd = &cobra.Command{
	Use:   "evidence [id] [positive|negative] [description]",
	Short: "Attach evidence to a learning",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runLearnEvidence,
}

var learnApplyCmd = &cobra.Command{
	Use:   "apply [id] [success|failure]",
	Short: "Record an application of a learning and its outcome",
	Args:  cobra.ExactArgs(2),
	RunE:  runLearnApply,
}

var learnListCmd = &cobra.Command{
	Use:   "list",
	Short: "List learnings",
	RunE:  runLearnList,
}

var learnDecayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Apply confidence decay to idle learnings once",
	RunE:  runLearnDecay,
}

func init() {
	learnAddCmd.Flags().StringSliceVarP(&learnEntities, "entity", "e", nil, "Entity as type:id (repeatable)")
	learnAddCmd.Flags().StringSliceVar(&learnTriggers, "trigger", nil, "Trigger keyword (repeatable)")
	learnAddCmd.Flags().Float64Var(&learnConfidence, "confidence", 0.5, "Initial confidence 0-1")
	learnAddCmd.Flags().Float64Var(&learnBenefit, "benefit", 0.5, "Expected benefit 0-1")

	learnListCmd.Flags().StringVar(&listType, "type", "", "Only this learning type")
	learnListCmd.Flags().StringVar(&listStatus, "status", "", "Only this status (active, deprecated)")

	learnCmd.AddCommand(learnAddCmd)
	learnCmd.AddCommand(learnEvidenceCmd)
	learnCmd.AddCommand(learnApplyCmd)
	learnCmd.AddCommand(learnListCmd)
	learnCmd.AddCommand(learnDecayCmd)
}

func runLearnAdd(cmd *cobra.Command, args []string) error {
	entities, err := parseEntities(learnEntities)
	if err != nil {
		return err
	}
	var triggers []learning.TriggerCondition
	for _, t := range learnTriggers {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			triggers = append(triggers, learning.TriggerCondition{Kind: learning.TriggerKeyword, Value: t, Weight: 1})
		}
	}

	ctx, stack, cleanup, err := openStack(cmd, true)
	if err != nil {
		return err
	}
	defer cleanup()

	l, err := stack.Learning.Create(ctx, learning.NewLearning{
		Type:              args[0],
		Insight:           strings.Join(args[1:], " "),
		Confidence:        learnConfidence,
		TriggerConditions: triggers,
		Entities:          entities,
		ExpectedBenefit:   learnBenefit,
		Evidence: []learning.Evidence{{
			Outcome:     learning.OutcomePositive,
			Description: "recorded from cli",
			Source:      "cli",
			ObservedAt:  time.Now(),
		}},
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s confidence=%.2f evidence=%d\n", l.ID, l.Confidence, l.EvidenceCount)
	return nil
}

func runLearnEvidence(cmd *cobra.Command, args []string) error {
	var outcome learning.Outcome
	switch strings.ToLower(args[1]) {
	case "positive", "+":
		outcome = learning.OutcomePositive
	case "negative", "-":
		outcome = learning.OutcomeNegative
	default:
		return fmt.Errorf("outcome must be positive or negative, got %q", args[1])
	}

	ctx, stack, cleanup, err := openStack(cmd, true)
	if err != nil {
		return err
	}
	defer cleanup()

	l, err := stack.Learning.AddEvidence(ctx, args[0], []learning.Evidence{{
		Outcome:     outcome,
		Description: strings.Join(args[2:], " "),
		Source:      "cli",
		ObservedAt:  time.Now(),
	}})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s confidence=%.2f evidence=%d\n", l.ID, l.Confidence, l.EvidenceCount)
	return nil
}

func runLearnApply(cmd *cobra.Command, args []string) error {
	var success bool
	switch strings.ToLower(args[1]) {
	case "success", "ok":
		success = true
	case "failure", "fail":
	default:
		return fmt.Errorf("outcome must be success or failure, got %q", args[1])
	}

	ctx, stack, cleanup, err := openStack(cmd, true)
	if err != nil {
		return err
	}
	defer cleanup()

	l, err := stack.Learning.RecordApplication(ctx, args[0], success)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s applications=%d benefit=%.2f status=%s\n", l.ID, l.ApplicationCount, l.Benefit(), l.Status)
	return nil
}

func runLearnList(cmd *cobra.Command, args []string) error {
	_, stack, cleanup, err := openStack(cmd, true)
	if err != nil {
		return err
	}
	defer cleanup()

	list := stack.Learning.List(learning.Filter{Type: listType, Status: learning.Status(listStatus)})
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tCONF\tEVID\tINSIGHT")
	for _, l := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%d\t%s\n", l.ID, l.Type, l.Status, l.Confidence, l.EvidenceCount, oneLine(l.Insight, 60))
	}
	return w.Flush()
}

func runLearnDecay(cmd *cobra.Command, args []string) error {
	ctx, stack, cleanup, err := openStack(cmd, true)
	if err != nil {
		return err
	}
	defer cleanup()

	n := stack.Memory.Maintainer().RunOnce(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "decayed %d learning(s)\n", n)
	return nil
}

func parseEntities(raw []string) ([]learning.Entity, error) {
	var out []learning.Entity
	for _, r := range raw {
		typ, id, ok := strings.Cut(strings.TrimSpace(r), ":")
		if !ok || typ == "" || id == "" {
			return nil, fmt.Errorf("entity %q is not type:id", r)
		}
		out = append(out, learning.Entity{Type: typ, ID: id})
	}
	return out, nil
}
