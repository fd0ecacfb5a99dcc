package infra

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eliteGoblin/focusd/pledge/internal/domain"
)

// DecisionsDocument is the JSON handed to the enforcement layer.
type DecisionsDocument struct {
	GeneratedAt time.Time                 `json:"generated_at"`
	Rules       map[string]DecisionRecord `json:"rules"`
}

// DecisionRecord is one rule's decision.
type DecisionRecord struct {
	Blocked    bool     `json:"blocked"`
	Status     string   `json:"status"`
	Mode       string   `json:"mode"`
	Items      []string `json:"items"`
	Exceptions []string `json:"exceptions"`
}

// NewDecisionsDocument converts a decision set to its JSON shape.
func NewDecisionsDocument(set domain.DecisionSet) DecisionsDocument {
	doc := DecisionsDocument{
		GeneratedAt: set.GeneratedAt.UTC(),
		Rules:       make(map[string]DecisionRecord, len(set.Rules)),
	}
	for id, d := range set.Rules {
		rec := DecisionRecord{
			Blocked:    d.Blocked,
			Status:     d.Status,
			Mode:       string(d.Mode),
			Items:      d.Items,
			Exceptions: d.Exceptions,
		}
		if rec.Items == nil {
			rec.Items = []string{}
		}
		if rec.Exceptions == nil {
			rec.Exceptions = []string{}
		}
		doc.Rules[id] = rec
	}
	return doc
}

// FileDecisionSink implements domain.DecisionSink by atomically rewriting a
// JSON file after every evaluation.
type FileDecisionSink struct {
	path string
}

// NewFileDecisionSink creates a sink writing to path.
func NewFileDecisionSink(path string) *FileDecisionSink {
	return &FileDecisionSink{path: path}
}

// Publish writes the decisions.
func (s *FileDecisionSink) Publish(ctx context.Context, decisions domain.DecisionSet) error {
	data, err := json.MarshalIndent(NewDecisionsDocument(decisions), "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.path, data, 0644)
}

// Ensure FileDecisionSink implements domain.DecisionSink.
var _ domain.DecisionSink = (*FileDecisionSink)(nil)
