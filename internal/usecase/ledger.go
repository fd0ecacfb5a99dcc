package usecase

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eliteGoblin/focusd/pledge/internal/domain"
	"github.com/eliteGoblin/focusd/pledge/internal/policy"
)

// Outcome describes what happened to a proposed edit.
type Outcome struct {
	// Applied is true when the edit reached the live rule set immediately.
	Applied bool

	// Pending is the delayed entry for a weakening edit.
	Pending *domain.PendingChange

	// Superseded is a pending entry dropped because a strengthening edit
	// to the same rule was applied first.
	Superseded *domain.PendingChange

	// Reasons lists why the edit was classified as weakening.
	Reasons []string
}

// SweepResult lists what a sweep did.
type SweepResult struct {
	Applied []domain.PendingChange
	Dropped []domain.PendingChange // target rule no longer exists
}

// Ledger holds weakening edits until their delay elapses.
// At most one entry per rule is outstanding; a second weakening proposal for
// the same rule is rejected until the first is applied or cancelled.
type Ledger struct {
	mu      sync.Mutex
	rules   *RuleSet
	entries map[string]domain.PendingChange // pending ID -> entry
	byRule  map[string]string               // rule ID -> pending ID
	held    map[string]bool                 // stored rules that failed to load
	delay   time.Duration
	clock   domain.Clock
	newID   func() string
}

// NewLedger creates a ledger that applies changes to rules.
func NewLedger(rules *RuleSet, delay time.Duration) *Ledger {
	if delay <= 0 {
		delay = domain.DefaultChangeDelay
	}
	return &Ledger{
		rules:   rules,
		entries: make(map[string]domain.PendingChange),
		byRule:  make(map[string]string),
		delay:   delay,
		clock:   time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock domain.Clock) *Ledger {
	l.clock = clock
	return l
}

// Delay returns the configured cool-down.
func (l *Ledger) Delay() time.Duration {
	return l.delay
}

// Restore replaces the ledger contents with previously persisted entries.
// If several entries target one rule, the earliest requested wins; the
// shadowed ones are returned so the caller can discard them.
func (l *Ledger) Restore(entries []domain.PendingChange) []domain.PendingChange {
	l.mu.Lock()
	defer l.mu.Unlock()

	sorted := append([]domain.PendingChange(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RequestedAt.Before(sorted[j].RequestedAt)
	})

	var shadowed []domain.PendingChange
	l.entries = make(map[string]domain.PendingChange, len(sorted))
	l.byRule = make(map[string]string, len(sorted))
	for _, e := range sorted {
		if _, ok := l.byRule[e.RuleID]; ok {
			shadowed = append(shadowed, e.Clone())
			continue
		}
		l.entries[e.ID] = e.Clone()
		l.byRule[e.RuleID] = e.ID
	}
	return shadowed
}

// Hold marks rules that exist in storage but could not be loaded. Their
// pending entries stay in the ledger and are neither applied nor dropped by
// Sweep.
func (l *Ledger) Hold(ruleIDs []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.held = make(map[string]bool, len(ruleIDs))
	for _, id := range ruleIDs {
		l.held[id] = true
	}
}

// Held reports whether ruleID is stored but could not be loaded.
func (l *Ledger) Held(ruleID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[ruleID]
}

// Propose routes an edit. Strengthening or neutral edits are applied to the
// live rule set at once; weakening edits become pending entries.
// original nil means candidate is a new rule; candidate nil means delete.
func (l *Ledger) Propose(original, candidate *domain.Rule) (Outcome, error) {
	ruleID, err := targetID(original, candidate)
	if err != nil {
		return Outcome{}, err
	}

	var next *domain.Rule
	if candidate != nil {
		c := candidate.Clone()
		c.Normalize()
		if original != nil {
			// id and created_at are fixed at creation.
			c.CreatedAt = original.CreatedAt
		}
		if err := c.Validate(); err != nil {
			return Outcome{}, err
		}
		next = &c
	}

	assessment := policy.Assess(original, next)

	l.mu.Lock()
	defer l.mu.Unlock()

	existingID, hasPending := l.byRule[ruleID]

	if assessment.Weakening {
		if hasPending {
			return Outcome{}, fmt.Errorf("%w: rule %s (pending %s)", domain.ErrPendingChangeExists, ruleID, existingID)
		}
		orig := original.Clone()
		entry := domain.PendingChange{
			ID:          l.newID(),
			RuleID:      ruleID,
			Kind:        assessment.Kind,
			Original:    &orig,
			Candidate:   next,
			RequestedAt: l.clock(),
			Delay:       l.delay,
		}
		l.entries[entry.ID] = entry
		l.byRule[ruleID] = entry.ID
		out := entry.Clone()
		return Outcome{Pending: &out, Reasons: assessment.Reasons}, nil
	}

	var outcome Outcome
	if hasPending {
		superseded := l.entries[existingID].Clone()
		l.remove(existingID)
		outcome.Superseded = &superseded
	}
	l.apply(ruleID, next)
	outcome.Applied = true
	return outcome, nil
}

// Cancel drops a pending entry without applying it.
func (l *Ledger) Cancel(pendingID string) (domain.PendingChange, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[pendingID]
	if !ok {
		return domain.PendingChange{}, fmt.Errorf("%w: %s", domain.ErrPendingNotFound, pendingID)
	}
	l.remove(pendingID)
	return entry.Clone(), nil
}

// Sweep applies every entry that is ready at now. It is idempotent: applied
// and dropped entries leave the ledger, so a repeated sweep does nothing.
func (l *Ledger) Sweep(now time.Time) SweepResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	var result SweepResult
	for _, entry := range l.sortedLocked() {
		if !entry.IsReady(now) || l.held[entry.RuleID] {
			continue
		}
		l.remove(entry.ID)
		if _, ok := l.rules.Get(entry.RuleID); !ok {
			result.Dropped = append(result.Dropped, entry.Clone())
			continue
		}
		l.apply(entry.RuleID, entry.Candidate)
		result.Applied = append(result.Applied, entry.Clone())
	}
	return result
}

// List returns all pending entries ordered by when they become effective.
func (l *Ledger) List() []domain.PendingChange {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.sortedLocked()
	out := make([]domain.PendingChange, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}

// Get returns a pending entry by ID.
func (l *Ledger) Get(pendingID string) (domain.PendingChange, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[pendingID]
	if !ok {
		return domain.PendingChange{}, false
	}
	return e.Clone(), true
}

// ForRule returns the outstanding entry for a rule, if any.
func (l *Ledger) ForRule(ruleID string) (domain.PendingChange, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, ok := l.byRule[ruleID]
	if !ok {
		return domain.PendingChange{}, false
	}
	return l.entries[id].Clone(), true
}

func (l *Ledger) apply(ruleID string, next *domain.Rule) {
	if next == nil {
		l.rules.Remove(ruleID)
		return
	}
	l.rules.Put(*next)
}

func (l *Ledger) remove(pendingID string) {
	if e, ok := l.entries[pendingID]; ok {
		delete(l.byRule, e.RuleID)
	}
	delete(l.entries, pendingID)
}

func (l *Ledger) sortedLocked() []domain.PendingChange {
	out := make([]domain.PendingChange, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		ei, ej := out[i].EffectiveAt(), out[j].EffectiveAt()
		if ei.Equal(ej) {
			return out[i].ID < out[j].ID
		}
		return ei.Before(ej)
	})
	return out
}

func targetID(original, candidate *domain.Rule) (string, error) {
	switch {
	case original == nil && candidate == nil:
		return "", fmt.Errorf("%w: nothing to propose", domain.ErrInvalidRule)
	case original == nil:
		return candidate.ID, nil
	case candidate == nil:
		return original.ID, nil
	case original.ID != candidate.ID:
		return "", fmt.Errorf("%w: rule id is immutable (%s -> %s)", domain.ErrInvalidRule, original.ID, candidate.ID)
	}
	return original.ID, nil
}
