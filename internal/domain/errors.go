package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRuleNotFound is returned when a rule ID is not in the live set.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRuleExists is returned when creating a rule whose ID is taken.
	ErrRuleExists = errors.New("rule already exists")

	// ErrInvalidRule wraps every rule validation failure.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrPendingNotFound is returned when a pending change ID is unknown
	// (never proposed, already applied, or already cancelled).
	ErrPendingNotFound = errors.New("pending change not found")

	// ErrPendingChangeExists is returned when a rule already has an
	// outstanding weakening change.
	ErrPendingChangeExists = errors.New("rule already has a pending change")

	// ErrUnknownTag is returned when persisted data names a mode, condition
	// type or change type this build does not know.
	ErrUnknownTag = errors.New("unknown tag")

	// ErrKeyNotFound is returned by a KeyProvider with nothing provisioned.
	ErrKeyNotFound = errors.New("encryption key not found")

	// ErrUndecodableRecord marks a stored record that could not be decoded.
	// A load that returns it still returns every record that did decode.
	ErrUndecodableRecord = errors.New("undecodable stored record")
)

// RecordError reports one stored rule or pending change that failed to
// decode. It matches both ErrUndecodableRecord and the decode error.
type RecordError struct {
	Kind string // "rule" or "pending"
	ID   string
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("stored %s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *RecordError) Unwrap() []error {
	return []error{ErrUndecodableRecord, e.Err}
}

// RecordErrors collects every RecordError inside err, including those
// combined with errors.Join.
func RecordErrors(err error) []*RecordError {
	var out []*RecordError
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		if re, ok := err.(*RecordError); ok {
			out = append(out, re)
			return
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				walk(e)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}
