package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/eliteGoblin/focusd/pledge/internal/domain"
)

const (
	jsonStoreName    = "rules.json"
	jsonStoreVersion = 1
)

// RulesDocument is the on-disk shape of a JSON rule file. It is also the
// import/export format.
type RulesDocument struct {
	Version int                    `json:"version"`
	Rules   []domain.RuleRecord    `json:"rules"`
	Pending []domain.PendingRecord `json:"pending,omitempty"`
}

// JSONRuleStore implements domain.RuleRepository with a plain JSON file.
// Every write rewrites the file atomically (write temp + rename).
type JSONRuleStore struct {
	mu   sync.Mutex
	path string
}

// NewJSONRuleStore creates a store at <dataDir>/rules.json.
func NewJSONRuleStore(dataDir string) (*JSONRuleStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &JSONRuleStore{path: filepath.Join(dataDir, jsonStoreName)}, nil
}

// NewJSONRuleStoreWithPath creates a store at a specific path (for testing).
func NewJSONRuleStoreWithPath(path string) *JSONRuleStore {
	return &JSONRuleStore{path: path}
}

// Path returns the file path.
func (s *JSONRuleStore) Path() string {
	return s.path
}

func (s *JSONRuleStore) LoadRules(ctx context.Context) ([]domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return DecodeRules(doc.Rules)
}

func (s *JSONRuleStore) SaveRule(ctx context.Context, rule domain.Rule) error {
	return s.update(func(doc *RulesDocument) {
		rec := domain.NewRuleRecord(rule)
		for i := range doc.Rules {
			if doc.Rules[i].ID == rule.ID {
				doc.Rules[i] = rec
				return
			}
		}
		doc.Rules = append(doc.Rules, rec)
	})
}

func (s *JSONRuleStore) DeleteRule(ctx context.Context, id string) error {
	return s.update(func(doc *RulesDocument) {
		kept := doc.Rules[:0]
		for _, r := range doc.Rules {
			if r.ID != id {
				kept = append(kept, r)
			}
		}
		doc.Rules = kept
	})
}

func (s *JSONRuleStore) LoadPending(ctx context.Context) ([]domain.PendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return DecodePending(doc.Pending)
}

func (s *JSONRuleStore) SavePending(ctx context.Context, change domain.PendingChange) error {
	return s.update(func(doc *RulesDocument) {
		rec := domain.NewPendingRecord(change)
		for i := range doc.Pending {
			if doc.Pending[i].ID == change.ID {
				doc.Pending[i] = rec
				return
			}
		}
		doc.Pending = append(doc.Pending, rec)
	})
}

func (s *JSONRuleStore) DeletePending(ctx context.Context, id string) error {
	return s.update(func(doc *RulesDocument) {
		kept := doc.Pending[:0]
		for _, p := range doc.Pending {
			if p.ID != id {
				kept = append(kept, p)
			}
		}
		doc.Pending = kept
	})
}

// Close is a no-op; the file is not held open.
func (s *JSONRuleStore) Close() error {
	return nil
}

func (s *JSONRuleStore) update(mutate func(doc *RulesDocument)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	mutate(doc)
	return WriteRulesDocument(s.path, doc)
}

func (s *JSONRuleStore) read() (*RulesDocument, error) {
	doc, err := ReadRulesDocument(s.path)
	if os.IsNotExist(err) {
		return &RulesDocument{Version: jsonStoreVersion}, nil
	}
	return doc, err
}

// ReadRulesDocument parses a rules file. It accepts either a RulesDocument
// or a bare JSON array of rule records.
func ReadRulesDocument(path string) (*RulesDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRulesDocument(data)
}

// ParseRulesDocument parses rules file content.
func ParseRulesDocument(data []byte) (*RulesDocument, error) {
	var doc RulesDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		var bare []domain.RuleRecord
		if errBare := json.Unmarshal(data, &bare); errBare != nil {
			return nil, fmt.Errorf("failed to parse rules document: %w", err)
		}
		doc = RulesDocument{Version: jsonStoreVersion, Rules: bare}
	}
	return &doc, nil
}

// WriteRulesDocument writes doc to path atomically.
func WriteRulesDocument(path string, doc *RulesDocument) error {
	if doc.Version == 0 {
		doc.Version = jsonStoreVersion
	}
	if doc.Rules == nil {
		doc.Rules = []domain.RuleRecord{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(path, data, 0600)
}

// DecodeRules converts rule records to rules. Records that fail to decode
// are skipped and reported as *domain.RecordError values joined into err;
// the rules that did decode are returned either way.
func DecodeRules(records []domain.RuleRecord) ([]domain.Rule, error) {
	rules := make([]domain.Rule, 0, len(records))
	var skipped []error
	for _, rec := range records {
		r, err := rec.ToRule()
		if err != nil {
			skipped = append(skipped, &domain.RecordError{Kind: "rule", ID: rec.ID, Err: err})
			continue
		}
		rules = append(rules, r)
	}
	return rules, errors.Join(skipped...)
}

// DecodePending is DecodeRules for pending change records.
func DecodePending(records []domain.PendingRecord) ([]domain.PendingChange, error) {
	changes := make([]domain.PendingChange, 0, len(records))
	var skipped []error
	for _, rec := range records {
		p, err := rec.ToPendingChange()
		if err != nil {
			skipped = append(skipped, &domain.RecordError{Kind: "pending", ID: rec.ID, Err: err})
			continue
		}
		changes = append(changes, p)
	}
	return changes, errors.Join(skipped...)
}

// EncodeRules converts rules to their persisted records.
func EncodeRules(rules []domain.Rule) []domain.RuleRecord {
	records := make([]domain.RuleRecord, 0, len(rules))
	for _, r := range rules {
		records = append(records, domain.NewRuleRecord(r))
	}
	return records
}

// Ensure JSONRuleStore implements domain.RuleRepository.
var _ domain.RuleRepository = (*JSONRuleStore)(nil)
