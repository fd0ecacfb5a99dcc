package policy

import (
	"fmt"

	"github.com/eliteGoblin/focusd/pledge/internal/domain"
)

// Assessment explains how an edit affects protection.
type Assessment struct {
	Weakening bool
	Kind      domain.ChangeKind // set only when Weakening
	Reasons   []string
}

// IsWeakening reports whether replacing original with candidate reduces
// protection. A nil original is a new rule; a nil candidate is a deletion.
func IsWeakening(original, candidate *domain.Rule) bool {
	return Assess(original, candidate).Weakening
}

// ClassifyChange returns the change kind for a weakening edit.
func ClassifyChange(original, candidate *domain.Rule) (domain.ChangeKind, bool) {
	a := Assess(original, candidate)
	return a.Kind, a.Weakening
}

// Assess applies the fixed weakening rules:
//   - deleting a rule
//   - disabling it
//   - adding always-allowed exceptions
//   - relaxing until to allow_during
//   - lowering a steps or workout target, or moving a time-of-day earlier
//   - dropping conditions
//
// Thresholds are compared between conditions of the same kind, aligned by
// their order within that kind, so reordering conditions of different kinds
// neither hides nor invents a change. Nothing else counts as weakening.
func Assess(original, candidate *domain.Rule) Assessment {
	if original == nil {
		return Assessment{}
	}
	if candidate == nil {
		return Assessment{Weakening: true, Kind: domain.ChangeDelete, Reasons: []string{"rule deleted"}}
	}

	var a Assessment
	flag := func(kind domain.ChangeKind, reason string) {
		if !a.Weakening {
			a.Weakening = true
			a.Kind = kind
		}
		a.Reasons = append(a.Reasons, reason)
	}

	if original.Enabled && !candidate.Enabled {
		flag(domain.ChangeDisable, "rule disabled")
	}
	if n, m := original.ExceptionCount(), candidate.ExceptionCount(); m > n {
		flag(domain.ChangeAddException, fmt.Sprintf("exceptions grew from %d to %d", n, m))
	}
	if original.Mode == domain.ModeUntil && candidate.Mode == domain.ModeAllowDuring {
		flag(domain.ChangeWeaken, "mode relaxed from until to allow_during")
	}
	for _, reason := range loweredThresholds(original.Conditions, candidate.Conditions) {
		flag(domain.ChangeWeaken, reason)
	}
	if n, m := len(original.Conditions), len(candidate.Conditions); m < n {
		flag(domain.ChangeWeaken, fmt.Sprintf("conditions reduced from %d to %d", n, m))
	}
	return a
}

func loweredThresholds(original, candidate []domain.Condition) []string {
	origByKind := groupByKind(original)
	candByKind := groupByKind(candidate)

	var reasons []string
	// Iterate in original order so reasons are deterministic.
	seen := make(map[domain.ConditionKind]bool)
	for _, c := range original {
		kind := c.Kind()
		if seen[kind] {
			continue
		}
		seen[kind] = true

		orig, cand := origByKind[kind], candByKind[kind]
		for i := 0; i < len(orig) && i < len(cand); i++ {
			if reason, ok := lowered(orig[i], cand[i]); ok {
				reasons = append(reasons, reason)
			}
		}
	}
	return reasons
}

func groupByKind(conds []domain.Condition) map[domain.ConditionKind][]domain.Condition {
	out := make(map[domain.ConditionKind][]domain.Condition)
	for _, c := range conds {
		if c == nil {
			continue
		}
		out[c.Kind()] = append(out[c.Kind()], c)
	}
	return out
}

// lowered compares two conditions of the same kind.
func lowered(orig, cand domain.Condition) (string, bool) {
	switch o := orig.(type) {
	case domain.StepsCondition:
		if c, ok := cand.(domain.StepsCondition); ok && c.Target < o.Target {
			return fmt.Sprintf("steps target lowered from %d to %d", o.Target, c.Target), true
		}
	case domain.WorkoutCondition:
		if c, ok := cand.(domain.WorkoutCondition); ok && c.Minutes < o.Minutes {
			return fmt.Sprintf("workout target lowered from %d to %d min", o.Minutes, c.Minutes), true
		}
	case domain.TimeOfDayCondition:
		if c, ok := cand.(domain.TimeOfDayCondition); ok && c.Target.MinuteOfDay() < o.Target.MinuteOfDay() {
			return fmt.Sprintf("unlock time moved from %s to %s", o.Target, c.Target), true
		}
	}
	return "", false
}
