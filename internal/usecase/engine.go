// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/pledge/internal/domain"
	"github.com/eliteGoblin/focusd/pledge/internal/policy"
)

// EngineConfig holds engine configuration.
type EngineConfig struct {
	ChangeDelay time.Duration // Cool-down for weakening edits (default 1h)
}

// DefaultEngineConfig returns default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{ChangeDelay: domain.DefaultChangeDelay}
}

// Engine is the single writer over the live rule set and the pending-change
// ledger. Every mutation is serialized and persisted through the repository;
// evaluation reads a consistent copy of the rules and never blocks writers
// for long.
type Engine struct {
	mu     sync.Mutex
	rules  *RuleSet
	ledger *Ledger
	repo   domain.RuleRepository
	clock  domain.Clock
	logger *zap.Logger
}

// NewEngine creates an engine backed by repo. Call Load before use.
func NewEngine(repo domain.RuleRepository, config EngineConfig, logger *zap.Logger) *Engine {
	rules := NewRuleSet()
	return &Engine{
		rules:  rules,
		ledger: NewLedger(rules, config.ChangeDelay),
		repo:   repo,
		clock:  time.Now,
		logger: logger,
	}
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock domain.Clock) *Engine {
	e.clock = clock
	e.ledger.WithClock(clock)
	return e
}

// Load replaces in-memory state with what the repository holds. Stored
// records that cannot be decoded are logged and skipped; their rule IDs stay
// reserved and their pending changes are left untouched. Duplicate pending
// entries for one rule are deleted, keeping the earliest.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadLocked(ctx)
}

func (e *Engine) loadLocked(ctx context.Context) error {
	rules, rulesErr := e.repo.LoadRules(ctx)
	if rulesErr != nil && !errors.Is(rulesErr, domain.ErrUndecodableRecord) {
		return fmt.Errorf("failed to load rules: %w", rulesErr)
	}
	pending, pendingErr := e.repo.LoadPending(ctx)
	if pendingErr != nil && !errors.Is(pendingErr, domain.ErrUndecodableRecord) {
		return fmt.Errorf("failed to load pending changes: %w", pendingErr)
	}

	var held []string
	for _, rec := range domain.RecordErrors(errors.Join(rulesErr, pendingErr)) {
		e.logger.Error("skipped undecodable stored record",
			zap.String(rec.Kind, rec.ID),
			zap.Error(rec.Err))
		if rec.Kind == "rule" {
			held = append(held, rec.ID)
		}
	}

	e.rules.Replace(rules)
	e.ledger.Hold(held)
	for _, dup := range e.ledger.Restore(pending) {
		if err := e.repo.DeletePending(ctx, dup.ID); err != nil {
			e.logger.Warn("failed to discard duplicate pending change",
				zap.String("rule", dup.RuleID),
				zap.String("pending", dup.ID),
				zap.Error(err))
			continue
		}
		e.logger.Warn("discarded duplicate pending change",
			zap.String("rule", dup.RuleID),
			zap.String("pending", dup.ID))
	}
	e.logger.Debug("engine state loaded",
		zap.Int("rules", len(rules)),
		zap.Int("pending", len(pending)),
		zap.Int("skipped", len(held)))
	return nil
}

// Rules returns copies of all live rules in insertion order.
func (e *Engine) Rules() []domain.Rule {
	return e.rules.Snapshot()
}

// Rule returns a live rule by ID.
func (e *Engine) Rule(id string) (domain.Rule, error) {
	r, ok := e.rules.Get(id)
	if !ok {
		return domain.Rule{}, fmt.Errorf("%w: %s", domain.ErrRuleNotFound, id)
	}
	return r, nil
}

// Pending returns all outstanding pending changes.
func (e *Engine) Pending() []domain.PendingChange {
	return e.ledger.List()
}

// Create adds a brand-new rule. New rules never weaken protection, so they
// apply immediately. An empty ID is replaced with a generated one.
func (e *Engine) Create(ctx context.Context, rule domain.Rule) (domain.Rule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.createLocked(ctx, rule)
}

func (e *Engine) createLocked(ctx context.Context, rule domain.Rule) (domain.Rule, error) {
	candidate := rule.Clone()
	if candidate.ID == "" {
		candidate.ID = uuid.New().String()
	}
	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = e.clock()
	}
	if _, ok := e.rules.Get(candidate.ID); ok || e.ledger.Held(candidate.ID) {
		return domain.Rule{}, fmt.Errorf("%w: %s", domain.ErrRuleExists, candidate.ID)
	}

	outcome, err := e.ledger.Propose(nil, &candidate)
	if err != nil {
		return domain.Rule{}, err
	}
	if err := e.persistOutcome(ctx, candidate.ID, outcome); err != nil {
		return domain.Rule{}, err
	}

	created, _ := e.rules.Get(candidate.ID)
	e.logger.Info("rule created",
		zap.String("rule", created.ID),
		zap.String("mode", string(created.Mode)),
		zap.Strings("items", created.Items))
	return created, nil
}

// Propose submits an edit of an existing rule.
func (e *Engine) Propose(ctx context.Context, candidate domain.Rule) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	original, ok := e.rules.Get(candidate.ID)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", domain.ErrRuleNotFound, candidate.ID)
	}
	return e.proposeLocked(ctx, &original, &candidate)
}

// Delete requests deletion of a rule. Deletion always waits out the delay.
func (e *Engine) Delete(ctx context.Context, id string) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	original, ok := e.rules.Get(id)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", domain.ErrRuleNotFound, id)
	}
	return e.proposeLocked(ctx, &original, nil)
}

// SetEnabled enables or disables a rule. Disabling waits out the delay.
func (e *Engine) SetEnabled(ctx context.Context, id string, enabled bool) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	original, ok := e.rules.Get(id)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", domain.ErrRuleNotFound, id)
	}
	candidate := original.Clone()
	candidate.Enabled = enabled
	return e.proposeLocked(ctx, &original, &candidate)
}

// Import creates unknown rules and proposes edits for known ones, so an
// imported file can never bypass the cool-down.
func (e *Engine) Import(ctx context.Context, rules []domain.Rule) ([]Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	outcomes := make([]Outcome, 0, len(rules))
	for _, r := range rules {
		out, err := e.importOneLocked(ctx, r)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (e *Engine) importOneLocked(ctx context.Context, r domain.Rule) (Outcome, error) {
	original, ok := e.rules.Get(r.ID)
	if !ok || r.ID == "" {
		if _, err := e.createLocked(ctx, r); err != nil {
			return Outcome{}, err
		}
		return Outcome{Applied: true}, nil
	}
	return e.proposeLocked(ctx, &original, &r)
}

func (e *Engine) proposeLocked(ctx context.Context, original, candidate *domain.Rule) (Outcome, error) {
	outcome, err := e.ledger.Propose(original, candidate)
	if err != nil {
		return Outcome{}, err
	}
	if err := e.persistOutcome(ctx, original.ID, outcome); err != nil {
		return Outcome{}, err
	}

	switch {
	case outcome.Pending != nil:
		e.logger.Info("weakening change delayed",
			zap.String("rule", original.ID),
			zap.String("pending", outcome.Pending.ID),
			zap.String("kind", string(outcome.Pending.Kind)),
			zap.Time("effective_at", outcome.Pending.EffectiveAt()),
			zap.Strings("reasons", outcome.Reasons))
	case outcome.Applied:
		e.logger.Info("rule change applied", zap.String("rule", original.ID))
	}
	if outcome.Superseded != nil {
		e.logger.Info("pending change superseded by strengthening edit",
			zap.String("rule", original.ID),
			zap.String("pending", outcome.Superseded.ID))
	}
	return outcome, nil
}

// Cancel withdraws a pending change before it takes effect.
func (e *Engine) Cancel(ctx context.Context, pendingID string) (domain.PendingChange, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, err := e.ledger.Cancel(pendingID)
	if err != nil {
		return domain.PendingChange{}, err
	}
	if err := e.repo.DeletePending(ctx, entry.ID); err != nil {
		return domain.PendingChange{}, e.resync(ctx, fmt.Errorf("failed to delete pending change: %w", err))
	}
	e.logger.Info("pending change cancelled",
		zap.String("rule", entry.RuleID),
		zap.String("pending", entry.ID))
	return entry, nil
}

// Sweep applies every pending change whose delay has elapsed. Safe to call
// on every tick.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := e.ledger.Sweep(e.clock())

	for _, entry := range result.Applied {
		var err error
		if entry.Candidate == nil {
			err = e.repo.DeleteRule(ctx, entry.RuleID)
		} else {
			err = e.repo.SaveRule(ctx, *entry.Candidate)
		}
		if err == nil {
			err = e.repo.DeletePending(ctx, entry.ID)
		}
		if err != nil {
			return result, e.resync(ctx, fmt.Errorf("failed to persist applied change %s: %w", entry.ID, err))
		}
		e.logger.Info("pending change applied",
			zap.String("rule", entry.RuleID),
			zap.String("pending", entry.ID),
			zap.String("kind", string(entry.Kind)))
	}
	for _, entry := range result.Dropped {
		if err := e.repo.DeletePending(ctx, entry.ID); err != nil {
			return result, e.resync(ctx, fmt.Errorf("failed to drop orphaned change %s: %w", entry.ID, err))
		}
		e.logger.Debug("dropped pending change for missing rule",
			zap.String("rule", entry.RuleID),
			zap.String("pending", entry.ID))
	}
	return result, nil
}

// Evaluate computes decisions for every enabled rule at the engine clock.
func (e *Engine) Evaluate(snap domain.ProgressSnapshot) domain.DecisionSet {
	return policy.EvaluateAll(e.rules.Snapshot(), snap, e.clock())
}

func (e *Engine) persistOutcome(ctx context.Context, ruleID string, outcome Outcome) error {
	var err error
	switch {
	case outcome.Pending != nil:
		err = e.repo.SavePending(ctx, *outcome.Pending)
	case outcome.Applied:
		if r, ok := e.rules.Get(ruleID); ok {
			err = e.repo.SaveRule(ctx, r)
		} else {
			err = e.repo.DeleteRule(ctx, ruleID)
		}
	}
	if err == nil && outcome.Superseded != nil {
		err = e.repo.DeletePending(ctx, outcome.Superseded.ID)
	}
	if err != nil {
		return e.resync(ctx, fmt.Errorf("failed to persist change for rule %s: %w", ruleID, err))
	}
	return nil
}

// resync reloads from the repository after a failed write so memory never
// runs ahead of what is persisted.
func (e *Engine) resync(ctx context.Context, cause error) error {
	if err := e.loadLocked(ctx); err != nil {
		e.logger.Error("failed to resync after write error",
			zap.Error(err),
			zap.NamedError("cause", cause))
		return errors.Join(cause, err)
	}
	return cause
}
