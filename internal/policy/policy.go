// Package policy evaluates rules against progress snapshots and classifies
// rule edits by whether they weaken protection.
// Everything here is a pure function of its inputs.
package policy

import (
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/pledge/internal/domain"
)

// ConditionResult is the outcome of one condition in a rule.
type ConditionResult struct {
	Kind   domain.ConditionKind
	Met    bool
	Status string
}

// EvaluateConditions evaluates every condition of the rule independently.
func EvaluateConditions(rule domain.Rule, snap domain.ProgressSnapshot, now time.Time) []ConditionResult {
	results := make([]ConditionResult, 0, len(rule.Conditions))
	for _, c := range rule.Conditions {
		met, status := EvaluateCondition(c, snap, now)
		results = append(results, ConditionResult{Kind: c.Kind(), Met: met, Status: status})
	}
	return results
}

// AllMet is the AND of every condition. A rule with no conditions is
// treated as day_rollover, which is never met here.
func AllMet(results []ConditionResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.Met {
			return false
		}
	}
	return true
}

// BlockedFor maps the combined condition state to a block per mode.
func BlockedFor(mode domain.Mode, allMet bool) bool {
	switch mode {
	case domain.ModeDuring:
		return allMet
	case domain.ModeUntil, domain.ModeAllowDuring:
		return !allMet
	}
	// Unknown modes block.
	return true
}

// IsBlocked reports whether the rule blocks its items at now.
// It is stateless: nothing is latched between calls.
func IsBlocked(rule domain.Rule, snap domain.ProgressSnapshot, now time.Time) bool {
	return BlockedFor(rule.Mode, AllMet(EvaluateConditions(rule, snap, now)))
}

// Status returns a human-readable summary of the rule's state at now.
func Status(rule domain.Rule, snap domain.ProgressSnapshot, now time.Time) string {
	results := EvaluateConditions(rule, snap, now)
	return statusLine(rule.Mode, results, BlockedFor(rule.Mode, AllMet(results)))
}

// Evaluate produces the decision for one rule.
func Evaluate(rule domain.Rule, snap domain.ProgressSnapshot, now time.Time) domain.Decision {
	results := EvaluateConditions(rule, snap, now)
	blocked := BlockedFor(rule.Mode, AllMet(results))
	return domain.Decision{
		RuleID:     rule.ID,
		Blocked:    blocked,
		Status:     statusLine(rule.Mode, results, blocked),
		Mode:       rule.Mode,
		Items:      rule.DisplayItems(),
		Exceptions: append([]string(nil), rule.Exceptions...),
	}
}

// EvaluateAll evaluates every enabled rule.
func EvaluateAll(rules []domain.Rule, snap domain.ProgressSnapshot, now time.Time) domain.DecisionSet {
	set := domain.DecisionSet{
		GeneratedAt: now,
		Rules:       make(map[string]domain.Decision, len(rules)),
	}
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		set.Rules[r.ID] = Evaluate(r, snap, now)
	}
	return set
}

func statusLine(mode domain.Mode, results []ConditionResult, blocked bool) string {
	var b strings.Builder
	switch {
	case mode == domain.ModeUntil && blocked:
		b.WriteString("blocked until: ")
		b.WriteString(joinStatuses(results, false))
	case mode == domain.ModeUntil:
		b.WriteString("unlocked")
	case mode == domain.ModeDuring && blocked:
		b.WriteString("blocked during: ")
		b.WriteString(joinStatuses(results, true))
	case mode == domain.ModeDuring:
		b.WriteString("allowed: ")
		b.WriteString(joinStatuses(results, false))
	case mode == domain.ModeAllowDuring && blocked:
		b.WriteString("blocked, allowed only when: ")
		b.WriteString(joinStatuses(results, false))
	case mode == domain.ModeAllowDuring:
		b.WriteString("allowed during: ")
		b.WriteString(joinStatuses(results, true))
	default:
		b.WriteString("blocked")
	}
	return b.String()
}

// joinStatuses lists the statuses of conditions whose Met equals met.
func joinStatuses(results []ConditionResult, met bool) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r.Met == met {
			parts = append(parts, r.Status)
		}
	}
	return strings.Join(parts, ", ")
}
