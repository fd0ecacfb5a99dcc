package domain

import (
	"context"
	"time"
)

// RuleRepository persists the live rule set and the pending-change ledger.
// Implementations: EncryptedRuleStore (SQLCipher), JSONRuleStore (file).
type RuleRepository interface {
	// LoadRules returns all rules in insertion order. Records that cannot be
	// decoded are left out and reported through an error matching
	// ErrUndecodableRecord, alongside the rules that did decode.
	LoadRules(ctx context.Context) ([]Rule, error)

	// SaveRule inserts or replaces a rule, keeping its original position.
	SaveRule(ctx context.Context, rule Rule) error

	// DeleteRule removes a rule. Deleting a missing rule is not an error.
	DeleteRule(ctx context.Context, id string) error

	// LoadPending returns all outstanding pending changes, with the same
	// partial-result contract as LoadRules.
	LoadPending(ctx context.Context) ([]PendingChange, error)

	// SavePending inserts or replaces a pending change.
	SavePending(ctx context.Context, change PendingChange) error

	// DeletePending removes a pending change. Missing is not an error.
	DeletePending(ctx context.Context, id string) error

	// Close releases resources (e.g., database connection).
	Close() error
}

// SnapshotSource supplies the latest progress facts from external
// health/location collaborators.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (ProgressSnapshot, error)
}

// DecisionSink hands computed decisions to the enforcement layer.
type DecisionSink interface {
	Publish(ctx context.Context, decisions DecisionSet) error
}

// WriterLock serializes rule mutation across processes.
type WriterLock interface {
	// Lock blocks until the lock is held.
	Lock() error

	// Unlock releases the lock.
	Unlock() error
}

// DaemonRegistry records the running daemon for status reporting.
type DaemonRegistry interface {
	// Register records the current daemon.
	Register(daemon Daemon) error

	// Get returns the registered daemon, or nil if none.
	Get() (*Daemon, error)

	// IsAlive checks if the registered daemon process is running.
	IsAlive() (bool, error)

	// Clear removes the registration.
	Clear() error
}

// KeyProvider supplies the database encryption key.
type KeyProvider interface {
	// LoadKey returns the key, or an error wrapping ErrKeyNotFound when none
	// has been provisioned yet.
	LoadKey() ([]byte, error)

	// SaveKey provisions a newly generated key.
	SaveKey(key []byte) error
}

// Clock returns the current time. Injected so tests control the cool-down.
type Clock func() time.Time
