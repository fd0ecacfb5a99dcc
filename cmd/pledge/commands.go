package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/pledge/internal/domain"
	"github.com/eliteGoblin/focusd/pledge/internal/infra"
	"github.com/eliteGoblin/focusd/pledge/internal/policy"
	"github.com/eliteGoblin/focusd/pledge/internal/usecase"
)

var (
	ruleFile   string
	importFile string
	exportFile string
)

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Manage blocking rules",
}

var ruleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules",
	Args:  cobra.NoArgs,
	RunE:  runRuleList,
}

var ruleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new rule from a JSON file (- for stdin)",
	Long: `Adds a new rule. New rules apply immediately. If the file has no "id",
one is generated.`,
	Args: cobra.NoArgs,
	RunE: runRuleAdd,
}

var ruleApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Replace an existing rule with the JSON in a file (- for stdin)",
	Long: `Submits an edit of an existing rule. Stricter edits apply immediately;
weaker ones are held for the configured change delay.`,
	Args: cobra.NoArgs,
	RunE: runRuleApply,
}

var ruleDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Request deletion of a rule (delayed)",
	Args:  cobra.ExactArgs(1),
	RunE:  runRuleDelete,
}

var ruleDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Request disabling a rule (delayed)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetEnabled(args[0], false)
	},
}

var ruleEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a rule (immediate)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetEnabled(args[0], true)
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Inspect or cancel delayed changes",
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending changes",
	Args:  cobra.NoArgs,
	RunE:  runPendingList,
}

var pendingCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a pending change",
	Args:  cobra.ExactArgs(1),
	RunE:  runPendingCancel,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Evaluate every rule once and print the result",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Apply pending changes whose delay has elapsed",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export rules and pending changes as JSON",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import rules from a JSON file",
	Long: `Imports rules. Unknown rules are created; known rules are proposed as
edits, so weakening an existing rule through import is still delayed.
Older rule file layouts are accepted.`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

func init() {
	ruleAddCmd.Flags().StringVarP(&ruleFile, "file", "f", "", "Rule JSON file")
	ruleApplyCmd.Flags().StringVarP(&ruleFile, "file", "f", "", "Rule JSON file")
	_ = ruleAddCmd.MarkFlagRequired("file")
	_ = ruleApplyCmd.MarkFlagRequired("file")

	importCmd.Flags().StringVarP(&importFile, "file", "f", "", "Rules JSON file")
	_ = importCmd.MarkFlagRequired("file")
	exportCmd.Flags().StringVarP(&exportFile, "output", "o", "", "Output file (default stdout)")

	ruleCmd.AddCommand(ruleListCmd, ruleAddCmd, ruleApplyCmd, ruleDeleteCmd, ruleDisableCmd, ruleEnableCmd)
	pendingCmd.AddCommand(pendingListCmd, pendingCancelCmd)
}

func runRuleList(cmd *cobra.Command, args []string) error {
	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.load(context.Background()); err != nil {
		return err
	}

	rules := a.engine.Rules()
	if len(rules) == 0 {
		fmt.Println("No rules. Add one with 'pledge rule add -f rule.json'.")
		return nil
	}

	pendingByRule := make(map[string]domain.PendingChange)
	for _, p := range a.engine.Pending() {
		pendingByRule[p.RuleID] = p
	}

	fmt.Println("\n=== Rules ===")
	for _, r := range rules {
		state := "enabled"
		if !r.Enabled {
			state = "disabled"
		}
		fmt.Printf("\n[%s] %s (%s)\n", r.ID, r.Mode, state)
		fmt.Printf("  Items: %s\n", strings.Join(r.DisplayItems(), ", "))
		if n := r.ExceptionCount(); n > 0 {
			fmt.Printf("  Exceptions: %d\n", n)
		}
		fmt.Println("  Conditions:")
		for _, c := range r.Conditions {
			fmt.Printf("    - %s\n", describeCondition(c))
		}
		if p, ok := pendingByRule[r.ID]; ok {
			fmt.Printf("  Pending %s: effective in %s\n", p.Kind, p.Remaining(time.Now()).Round(time.Second))
		}
	}
	fmt.Println("\n=============")
	return nil
}

func runRuleAdd(cmd *cobra.Command, args []string) error {
	rule, err := readRuleFile(ruleFile, true)
	if err != nil {
		return err
	}

	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	var created domain.Rule
	err = a.mutate(ctx, func() error {
		var err error
		created, err = a.engine.Create(ctx, rule)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Printf("Added rule %s\n", created.ID)
	return nil
}

func runRuleApply(cmd *cobra.Command, args []string) error {
	rule, err := readRuleFile(ruleFile, false)
	if err != nil {
		return err
	}

	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	var outcome usecase.Outcome
	err = a.mutate(ctx, func() error {
		var err error
		outcome, err = a.engine.Propose(ctx, rule)
		return err
	})
	if err != nil {
		return err
	}
	printOutcome(rule.ID, outcome)
	return nil
}

func runRuleDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	var outcome usecase.Outcome
	err = a.mutate(ctx, func() error {
		var err error
		outcome, err = a.engine.Delete(ctx, args[0])
		return err
	})
	if err != nil {
		return err
	}
	printOutcome(args[0], outcome)
	return nil
}

func runSetEnabled(id string, enabled bool) error {
	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	var outcome usecase.Outcome
	err = a.mutate(ctx, func() error {
		var err error
		outcome, err = a.engine.SetEnabled(ctx, id, enabled)
		return err
	})
	if err != nil {
		return err
	}
	printOutcome(id, outcome)
	return nil
}

func runPendingList(cmd *cobra.Command, args []string) error {
	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.load(context.Background()); err != nil {
		return err
	}

	pending := a.engine.Pending()
	if len(pending) == 0 {
		fmt.Println("No pending changes.")
		return nil
	}

	now := time.Now()
	fmt.Println("\n=== Pending Changes ===")
	for _, p := range pending {
		fmt.Printf("\n[%s] %s rule %s\n", p.ID, p.Kind, p.RuleID)
		fmt.Printf("  Requested: %s\n", p.RequestedAt.Local().Format(time.RFC1123))
		if p.IsReady(now) {
			fmt.Println("  Effective: ready, applied on next sweep")
		} else {
			fmt.Printf("  Effective: %s (in %s)\n",
				p.EffectiveAt().Local().Format(time.RFC1123),
				p.Remaining(now).Round(time.Second))
		}
	}
	fmt.Println("\n=======================")
	return nil
}

func runPendingCancel(cmd *cobra.Command, args []string) error {
	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	var entry domain.PendingChange
	err = a.mutate(ctx, func() error {
		var err error
		entry, err = a.engine.Cancel(ctx, args[0])
		return err
	})
	if err != nil {
		return err
	}
	fmt.Printf("Cancelled pending %s of rule %s\n", entry.Kind, entry.RuleID)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if err := a.load(ctx); err != nil {
		return err
	}

	snap, err := infra.NewFileSnapshotSource(a.cfg.SnapshotPath).Snapshot(ctx)
	if err != nil {
		fmt.Printf("Warning: %v (evaluating with empty snapshot)\n", err)
		snap = domain.ProgressSnapshot{}
	}

	fmt.Println("\n=== pledge Status ===")
	registry := infra.NewPIDFile(a.cfg.DataDir)
	if alive, _ := registry.IsAlive(); alive {
		if d, err := registry.Get(); err == nil && d != nil {
			fmt.Printf("Daemon: RUNNING (pid %d, up %s)\n", d.PID, time.Since(d.StartedAt).Round(time.Second))
		} else {
			fmt.Println("Daemon: RUNNING")
		}
	} else {
		fmt.Println("Daemon: NOT RUNNING (run 'pledge run' to keep decisions fresh)")
	}

	decisions := a.engine.Evaluate(snap)
	if len(decisions.Rules) == 0 {
		fmt.Println("\nNo enabled rules.")
	}
	for _, r := range a.engine.Rules() {
		d, ok := decisions.Rules[r.ID]
		if !ok {
			continue
		}
		state := "ALLOWED"
		if d.Blocked {
			state = "BLOCKED"
		}
		fmt.Printf("\n[%s] %s\n", r.ID, state)
		fmt.Printf("  %s\n", d.Status)
		for _, res := range policy.EvaluateConditions(r, snap, decisions.GeneratedAt) {
			mark := " "
			if res.Met {
				mark = "x"
			}
			fmt.Printf("    [%s] %s\n", mark, res.Status)
		}
	}

	if n := len(a.engine.Pending()); n > 0 {
		fmt.Printf("\nPending changes: %d (see 'pledge pending list')\n", n)
	}
	fmt.Println("=====================")
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	var result usecase.SweepResult
	err = a.mutate(ctx, func() error {
		var err error
		result, err = a.engine.Sweep(ctx)
		return err
	})
	if err != nil {
		return err
	}

	if len(result.Applied) == 0 && len(result.Dropped) == 0 {
		fmt.Println("Nothing ready.")
		return nil
	}
	for _, p := range result.Applied {
		fmt.Printf("Applied %s of rule %s\n", p.Kind, p.RuleID)
	}
	if n := len(result.Dropped); n > 0 {
		fmt.Printf("Dropped %d pending changes for rules that no longer exist\n", n)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.load(context.Background()); err != nil {
		return err
	}

	doc := &infra.RulesDocument{Rules: infra.EncodeRules(a.engine.Rules())}
	for _, p := range a.engine.Pending() {
		doc.Pending = append(doc.Pending, domain.NewPendingRecord(p))
	}

	if exportFile != "" {
		if err := infra.WriteRulesDocument(exportFile, doc); err != nil {
			return fmt.Errorf("failed to write %s: %w", exportFile, err)
		}
		fmt.Printf("Exported %d rules to %s\n", len(doc.Rules), exportFile)
		return nil
	}

	doc.Version = 1
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := readInput(importFile)
	if err != nil {
		return err
	}
	doc, err := infra.ParseRulesDocument(data)
	if err != nil {
		return err
	}
	rules, err := infra.DecodeRules(doc.Rules)
	if err != nil {
		return err
	}

	a, err := openApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	var outcomes []usecase.Outcome
	err = a.mutate(ctx, func() error {
		var err error
		outcomes, err = a.engine.Import(ctx, rules)
		return err
	})
	for i, out := range outcomes {
		printOutcome(rules[i].ID, out)
	}
	if err != nil {
		return err
	}
	if len(doc.Pending) > 0 {
		fmt.Printf("Ignored %d pending changes in the import file\n", len(doc.Pending))
	}
	return nil
}

// readRuleFile decodes one rule. When generateID is set, a rule without an
// id gets a fresh one.
func readRuleFile(path string, generateID bool) (domain.Rule, error) {
	data, err := readInput(path)
	if err != nil {
		return domain.Rule{}, err
	}
	var rec domain.RuleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.Rule{}, fmt.Errorf("failed to decode rule: %w", err)
	}
	if rec.ID == "" {
		if !generateID {
			return domain.Rule{}, errors.New(`rule file must contain the "id" of the rule to change`)
		}
		rec.ID = uuid.New().String()
	}
	return rec.ToRule()
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func printOutcome(ruleID string, out usecase.Outcome) {
	if out.Superseded != nil {
		fmt.Printf("Rule %s: cancelled pending %s (superseded by this change)\n", ruleID, out.Superseded.Kind)
	}
	switch {
	case out.Pending != nil:
		fmt.Printf("Rule %s: %s delayed until %s (pending id %s)\n",
			ruleID, out.Pending.Kind,
			out.Pending.EffectiveAt().Local().Format(time.Kitchen),
			out.Pending.ID)
		for _, r := range out.Reasons {
			fmt.Printf("  - %s\n", r)
		}
		fmt.Printf("Cancel with 'pledge pending cancel %s'\n", out.Pending.ID)
	case out.Applied:
		fmt.Printf("Rule %s: applied\n", ruleID)
	}
}

func describeCondition(c domain.Condition) string {
	switch v := c.(type) {
	case domain.StepsCondition:
		return fmt.Sprintf("walk %d steps", v.Target)
	case domain.TimeOfDayCondition:
		return fmt.Sprintf("after %s", v.Target)
	case domain.TimeRangeCondition:
		return fmt.Sprintf("between %s and %s", v.Start, v.End)
	case domain.WorkoutCondition:
		return fmt.Sprintf("work out for %d min", v.Minutes)
	case domain.LocationCondition:
		return fmt.Sprintf("be within %.0f m of %s", v.RadiusMeters, v.Name)
	case domain.DayRolloverCondition:
		return "until tomorrow"
	case domain.PasswordCondition:
		return "password"
	case domain.ScheduleCondition:
		return fmt.Sprintf("on weekdays %v", v.Weekdays)
	}
	return string(c.Kind())
}
