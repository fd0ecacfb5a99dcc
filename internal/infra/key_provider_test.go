package infra

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/pledge/internal/domain"
)

func TestKeyFile(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, dataDir string)
		testFn func(t *testing.T, kf *KeyFile)
	}{
		{
			name: "missing file is ErrKeyNotFound",
			testFn: func(t *testing.T, kf *KeyFile) {
				_, err := kf.LoadKey()
				assert.ErrorIs(t, err, domain.ErrKeyNotFound)
			},
		},
		{
			name: "saved key loads back with 0600 perms",
			testFn: func(t *testing.T, kf *KeyFile) {
				key, err := GenerateKey()
				require.NoError(t, err)
				require.NoError(t, kf.SaveKey(key))

				info, err := os.Stat(kf.path)
				require.NoError(t, err)
				assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

				got, err := kf.LoadKey()
				require.NoError(t, err)
				assert.Equal(t, key, got)
			},
		},
		{
			name: "refuses to overwrite an existing key",
			testFn: func(t *testing.T, kf *KeyFile) {
				key, err := GenerateKey()
				require.NoError(t, err)
				require.NoError(t, kf.SaveKey(key))

				other, err := GenerateKey()
				require.NoError(t, err)
				assert.Error(t, kf.SaveKey(other))

				got, err := kf.LoadKey()
				require.NoError(t, err)
				assert.Equal(t, key, got)
			},
		},
		{
			name: "rejects wrong key size",
			testFn: func(t *testing.T, kf *KeyFile) {
				err := kf.SaveKey([]byte("tooshort"))
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid key size")
			},
		},
		{
			name: "not hex",
			setup: func(t *testing.T, dataDir string) {
				writeKeyFile(t, dataDir, "zz-not-hex")
			},
			testFn: func(t *testing.T, kf *KeyFile) {
				_, err := kf.LoadKey()
				require.Error(t, err)
				assert.Contains(t, err.Error(), "failed to decode key")
				assert.NotErrorIs(t, err, domain.ErrKeyNotFound)
			},
		},
		{
			name: "truncated key",
			setup: func(t *testing.T, dataDir string) {
				writeKeyFile(t, dataDir, "abcd")
			},
			testFn: func(t *testing.T, kf *KeyFile) {
				_, err := kf.LoadKey()
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid key size")
			},
		},
		{
			name: "surrounding whitespace is ignored",
			setup: func(t *testing.T, dataDir string) {
				writeKeyFile(t, dataDir, "  "+hex.EncodeToString(make([]byte, keySize))+"\n\n")
			},
			testFn: func(t *testing.T, kf *KeyFile) {
				got, err := kf.LoadKey()
				require.NoError(t, err)
				assert.Equal(t, make([]byte, keySize), got)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dataDir := t.TempDir()
			if tt.setup != nil {
				tt.setup(t, dataDir)
			}
			tt.testFn(t, NewKeyFile(dataDir))
		})
	}
}

func writeKeyFile(t *testing.T, dataDir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, keyFileName), []byte(content), 0600))
}

func TestEnvKey(t *testing.T) {
	valid := hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

	tests := []struct {
		name     string
		env      map[string]string
		want     []byte
		notFound bool
		wantErr  bool
	}{
		{name: "unset", notFound: true},
		{name: "blank", env: map[string]string{"K": "  "}, notFound: true},
		{name: "valid", env: map[string]string{"K": valid}, want: []byte("0123456789abcdef0123456789abcdef")},
		{name: "garbage", env: map[string]string{"K": "nope"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := &EnvKey{name: "K", lookup: func(n string) (string, bool) {
				v, ok := tt.env[n]
				return v, ok
			}}
			got, err := k.LoadKey()
			switch {
			case tt.notFound:
				assert.ErrorIs(t, err, domain.ErrKeyNotFound)
			case tt.wantErr:
				require.Error(t, err)
				assert.NotErrorIs(t, err, domain.ErrKeyNotFound)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}

	assert.Error(t, NewEnvKey("K").SaveKey(make([]byte, keySize)))
}

func TestEnsureKey(t *testing.T) {
	t.Run("generates and saves on first use", func(t *testing.T) {
		kf := NewKeyFile(t.TempDir())

		key, err := EnsureKey(kf)
		require.NoError(t, err)
		assert.Len(t, key, keySize)

		again, err := EnsureKey(kf)
		require.NoError(t, err)
		assert.Equal(t, key, again)
	})

	t.Run("corrupt key is not replaced", func(t *testing.T) {
		dataDir := t.TempDir()
		writeKeyFile(t, dataDir, "corrupt")

		_, err := EnsureKey(NewKeyFile(dataDir))
		require.Error(t, err)

		data, err := os.ReadFile(filepath.Join(dataDir, keyFileName))
		require.NoError(t, err)
		assert.Equal(t, "corrupt", string(data))
	})

	t.Run("unset env key cannot be provisioned", func(t *testing.T) {
		k := &EnvKey{name: "K", lookup: func(string) (string, bool) { return "", false }}
		_, err := EnsureKey(k)
		assert.Error(t, err)
	})
}

func TestKeyProviderFor(t *testing.T) {
	dataDir := t.TempDir()

	t.Setenv(EnvDBKey, "")
	assert.IsType(t, &KeyFile{}, KeyProviderFor(dataDir))

	t.Setenv(EnvDBKey, hex.EncodeToString(make([]byte, keySize)))
	assert.IsType(t, &EnvKey{}, KeyProviderFor(dataDir))
}

func TestGenerateKey(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		key, err := GenerateKey()
		require.NoError(t, err)
		require.Len(t, key, keySize)
		assert.False(t, seen[string(key)], "duplicate key generated")
		seen[string(key)] = true
	}
}
