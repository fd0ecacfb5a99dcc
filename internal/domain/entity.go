// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"time"
)

// DefaultChangeDelay is the cool-down applied to weakening edits.
const DefaultChangeDelay = time.Hour

// Mode decides how a rule's conditions translate into a block.
type Mode string

const (
	// ModeUntil blocks until all conditions are met.
	ModeUntil Mode = "until"
	// ModeDuring blocks while all conditions are met.
	ModeDuring Mode = "during"
	// ModeAllowDuring allows access only while all conditions are met.
	ModeAllowDuring Mode = "allow_during"
)

// ParseMode maps a persisted tag to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeUntil, ModeDuring, ModeAllowDuring:
		return m, nil
	}
	return "", fmt.Errorf("%w: mode %q", ErrUnknownTag, s)
}

// Rule is a blocking directive over a set of items.
type Rule struct {
	ID         string
	Items      []string    // Blocked item identifiers, display order
	Mode       Mode
	Conditions []Condition // AND-combined, never empty after Normalize
	Exceptions []string    // Always-allowed items, treated as a set
	Enabled    bool
	CreatedAt  time.Time
}

// Normalize applies the fail-safe defaults: a rule without conditions
// blocks until the next day.
func (r *Rule) Normalize() {
	if len(r.Conditions) == 0 {
		r.Conditions = []Condition{DayRolloverCondition{}}
	}
	if r.Mode == "" {
		r.Mode = ModeUntil
	}
}

// Validate checks the rule invariants.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: rule %s blocks no items", ErrInvalidRule, r.ID)
	}
	if _, err := ParseMode(string(r.Mode)); err != nil {
		return fmt.Errorf("%w: rule %s: %v", ErrInvalidRule, r.ID, err)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("%w: rule %s has no conditions", ErrInvalidRule, r.ID)
	}
	for i, c := range r.Conditions {
		if c == nil {
			return fmt.Errorf("%w: rule %s condition %d is nil", ErrInvalidRule, r.ID, i)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%w: rule %s condition %d (%s): %v", ErrInvalidRule, r.ID, i, c.Kind(), err)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (r Rule) Clone() Rule {
	out := r
	out.Items = cloneStrings(r.Items)
	out.Exceptions = cloneStrings(r.Exceptions)
	if r.Conditions != nil {
		out.Conditions = make([]Condition, len(r.Conditions))
		for i, c := range r.Conditions {
			if c != nil {
				out.Conditions[i] = c.clone()
			}
		}
	}
	return out
}

// DisplayItems returns Items with duplicates collapsed, first occurrence wins.
func (r Rule) DisplayItems() []string {
	return dedupe(r.Items)
}

// ExceptionCount returns the number of distinct exceptions.
func (r Rule) ExceptionCount() int {
	return len(dedupe(r.Exceptions))
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// GeoPoint is a WGS84 coordinate in degrees.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// ProgressSnapshot is the set of externally observed facts for one
// evaluation pass.
type ProgressSnapshot struct {
	StepsToday          uint
	WorkoutMinutesToday uint
	CurrentLocation     *GeoPoint // nil when unknown
	WorkoutActive       bool
}

// ChangeKind describes why a pending change weakens a rule.
type ChangeKind string

const (
	ChangeDelete       ChangeKind = "delete"
	ChangeDisable      ChangeKind = "disable"
	ChangeWeaken       ChangeKind = "weaken"
	ChangeAddException ChangeKind = "add_exception"
)

// ParseChangeKind maps a persisted tag to a ChangeKind.
func ParseChangeKind(s string) (ChangeKind, error) {
	switch k := ChangeKind(s); k {
	case ChangeDelete, ChangeDisable, ChangeWeaken, ChangeAddException:
		return k, nil
	}
	return "", fmt.Errorf("%w: change type %q", ErrUnknownTag, s)
}

// PendingChange is a weakening edit waiting out its delay.
type PendingChange struct {
	ID          string
	RuleID      string
	Kind        ChangeKind
	Original    *Rule // nil only for brand-new rules, which never get here
	Candidate   *Rule // nil means the rule is deleted
	RequestedAt time.Time
	Delay       time.Duration
}

// EffectiveAt is when the change may be applied.
func (p PendingChange) EffectiveAt() time.Time {
	return p.RequestedAt.Add(p.Delay)
}

// IsReady reports whether the delay has elapsed at now.
func (p PendingChange) IsReady(now time.Time) bool {
	return !now.Before(p.EffectiveAt())
}

// Remaining returns the time left before the change is ready.
func (p PendingChange) Remaining(now time.Time) time.Duration {
	if d := p.EffectiveAt().Sub(now); d > 0 {
		return d
	}
	return 0
}

// Clone returns a deep copy.
func (p PendingChange) Clone() PendingChange {
	out := p
	if p.Original != nil {
		o := p.Original.Clone()
		out.Original = &o
	}
	if p.Candidate != nil {
		c := p.Candidate.Clone()
		out.Candidate = &c
	}
	return out
}

// Decision is the evaluated state of one enabled rule.
type Decision struct {
	RuleID     string
	Blocked    bool
	Status     string
	Mode       Mode
	Items      []string
	Exceptions []string
}

// DecisionSet is the output consumed by the enforcement layer.
type DecisionSet struct {
	GeneratedAt time.Time
	Rules       map[string]Decision
}

// Daemon represents the running evaluation daemon.
type Daemon struct {
	PID        int
	StartedAt  time.Time
	AppVersion string
}
