package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Register the sqlcipher driver.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/pledge/internal/domain"
)

const (
	rulesDBName   = "rules.db"
	schemaVersion = "1"
)

// EncryptedRuleStore implements domain.RuleRepository using a SQLCipher
// encrypted SQLite database. Rules and pending changes are stored as their
// persisted JSON records, so the on-disk format matches import/export.
type EncryptedRuleStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedRuleStore opens (or creates) the encrypted rule database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedRuleStore(dataDir string, key []byte) (*EncryptedRuleStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, rulesDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// A wrong key only surfaces on first read.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	store := &EncryptedRuleStore{db: db, dbPath: dbPath}
	if err := store.createTables(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *EncryptedRuleStore) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_changes (
		id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL,
		body TEXT NOT NULL,
		effective_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)`, schemaVersion)
	return err
}

// LoadRules returns all rules in insertion order. Rows that fail to decode
// are skipped and reported as *domain.RecordError values.
func (s *EncryptedRuleStore) LoadRules(ctx context.Context) ([]domain.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, body FROM rules ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.Rule
	var skipped []error
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		r, err := domain.UnmarshalRule([]byte(body))
		if err != nil {
			skipped = append(skipped, &domain.RecordError{Kind: "rule", ID: id, Err: err})
			continue
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rules, errors.Join(skipped...)
}

// SaveRule inserts or replaces a rule, keeping its row position.
func (s *EncryptedRuleStore) SaveRule(ctx context.Context, rule domain.Rule) error {
	body, err := domain.MarshalRule(rule)
	if err != nil {
		return fmt.Errorf("failed to encode rule %s: %w", rule.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (id, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		rule.ID, string(body), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save rule %s: %w", rule.ID, err)
	}
	return nil
}

// DeleteRule removes a rule.
func (s *EncryptedRuleStore) DeleteRule(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	return nil
}

// LoadPending returns all pending changes, earliest effective first.
func (s *EncryptedRuleStore) LoadPending(ctx context.Context) ([]domain.PendingChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, body FROM pending_changes ORDER BY effective_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending changes: %w", err)
	}
	defer rows.Close()

	var changes []domain.PendingChange
	var skipped []error
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		p, err := domain.UnmarshalPendingChange([]byte(body))
		if err != nil {
			skipped = append(skipped, &domain.RecordError{Kind: "pending", ID: id, Err: err})
			continue
		}
		changes = append(changes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return changes, errors.Join(skipped...)
}

// SavePending inserts or replaces a pending change.
func (s *EncryptedRuleStore) SavePending(ctx context.Context, change domain.PendingChange) error {
	body, err := domain.MarshalPendingChange(change)
	if err != nil {
		return fmt.Errorf("failed to encode pending change %s: %w", change.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pending_changes (id, rule_id, body, effective_at)
		VALUES (?, ?, ?, ?)`,
		change.ID, change.RuleID, string(body), change.EffectiveAt().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save pending change %s: %w", change.ID, err)
	}
	return nil
}

// DeletePending removes a pending change.
func (s *EncryptedRuleStore) DeletePending(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_changes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete pending change %s: %w", id, err)
	}
	return nil
}

// Path returns the database file path.
func (s *EncryptedRuleStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *EncryptedRuleStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure EncryptedRuleStore implements domain.RuleRepository.
var _ domain.RuleRepository = (*EncryptedRuleStore)(nil)
