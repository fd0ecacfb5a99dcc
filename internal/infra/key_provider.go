package infra

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/focusd/pledge/internal/domain"
)

const (
	keyFileName = ".key"
	keySize     = 32 // SQLCipher raw key

	// EnvDBKey supplies the key as hex instead of the key file.
	EnvDBKey = "PLEDGE_DB_KEY"
)

// KeyFile keeps the hex-encoded key next to the database, readable by the
// owner only.
type KeyFile struct {
	path string
}

// NewKeyFile returns the key file inside dataDir.
func NewKeyFile(dataDir string) *KeyFile {
	return &KeyFile{path: filepath.Join(dataDir, keyFileName)}
}

// LoadKey reads and decodes the key file.
func (k *KeyFile) LoadKey() ([]byte, error) {
	data, err := os.ReadFile(k.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrKeyNotFound, k.path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return decodeKey(string(data))
}

// SaveKey writes key, refusing to replace an existing file: losing the old
// key makes the database unreadable.
func (k *KeyFile) SaveKey(key []byte) error {
	if len(key) != keySize {
		return fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	if _, err := os.Stat(k.path); err == nil {
		return fmt.Errorf("key file %s already exists", k.path)
	}
	if err := atomicWrite(k.path, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// EnvKey reads the key from an environment variable. It cannot be
// provisioned from inside the process.
type EnvKey struct {
	name   string
	lookup func(string) (string, bool)
}

// NewEnvKey reads the key from the named variable.
func NewEnvKey(name string) *EnvKey {
	return &EnvKey{name: name, lookup: os.LookupEnv}
}

// LoadKey decodes the variable's value.
func (k *EnvKey) LoadKey() ([]byte, error) {
	v, ok := k.lookup(k.name)
	if !ok || strings.TrimSpace(v) == "" {
		return nil, fmt.Errorf("%w: $%s is not set", domain.ErrKeyNotFound, k.name)
	}
	key, err := decodeKey(v)
	if err != nil {
		return nil, fmt.Errorf("$%s: %w", k.name, err)
	}
	return key, nil
}

// SaveKey always fails.
func (k *EnvKey) SaveKey([]byte) error {
	return fmt.Errorf("key from $%s is read-only", k.name)
}

// KeyProviderFor picks the environment key when EnvDBKey is set and the key
// file otherwise.
func KeyProviderFor(dataDir string) domain.KeyProvider {
	if v, ok := os.LookupEnv(EnvDBKey); ok && v != "" {
		return NewEnvKey(EnvDBKey)
	}
	return NewKeyFile(dataDir)
}

func decodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(key), keySize)
	}
	return key, nil
}

// GenerateKey creates a new random 256-bit encryption key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	return key, nil
}

// EnsureKey returns the provisioned key, generating and saving one if the
// provider has none.
func EnsureKey(provider domain.KeyProvider) ([]byte, error) {
	key, err := provider.LoadKey()
	if err == nil || !errors.Is(err, domain.ErrKeyNotFound) {
		return key, err
	}
	if key, err = GenerateKey(); err != nil {
		return nil, err
	}
	if err := provider.SaveKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

var (
	_ domain.KeyProvider = (*KeyFile)(nil)
	_ domain.KeyProvider = (*EnvKey)(nil)
)
