package usecase

import (
	"sync"

	"github.com/eliteGoblin/focusd/pledge/internal/domain"
)

// RuleSet is the authoritative, ordered collection of live rules.
// Reads return deep copies so evaluation never sees a rule mid-mutation.
type RuleSet struct {
	mu    sync.RWMutex
	order []string
	rules map[string]domain.Rule
}

// NewRuleSet creates a rule set holding the given rules in order.
func NewRuleSet(rules ...domain.Rule) *RuleSet {
	s := &RuleSet{rules: make(map[string]domain.Rule)}
	s.Replace(rules)
	return s
}

// Replace swaps the whole collection.
func (s *RuleSet) Replace(rules []domain.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = make([]string, 0, len(rules))
	s.rules = make(map[string]domain.Rule, len(rules))
	for _, r := range rules {
		if _, ok := s.rules[r.ID]; !ok {
			s.order = append(s.order, r.ID)
		}
		s.rules[r.ID] = r.Clone()
	}
}

// Get returns a copy of the rule with the given ID.
func (s *RuleSet) Get(id string) (domain.Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return domain.Rule{}, false
	}
	return r.Clone(), true
}

// Put inserts a rule at the end, or replaces it in place.
func (s *RuleSet) Put(rule domain.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[rule.ID]; !ok {
		s.order = append(s.order, rule.ID)
	}
	s.rules[rule.ID] = rule.Clone()
}

// Remove deletes a rule and reports whether it existed.
func (s *RuleSet) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return false
	}
	delete(s.rules, id)
	for i, rid := range s.order {
		if rid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Snapshot returns copies of all rules in insertion order.
func (s *RuleSet) Snapshot() []domain.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Rule, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.rules[id].Clone())
	}
	return out
}

// Len returns the number of rules.
func (s *RuleSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
