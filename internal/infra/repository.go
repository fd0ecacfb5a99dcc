package infra

import (
	"fmt"

	"github.com/eliteGoblin/focusd/pledge/internal/config"
	"github.com/eliteGoblin/focusd/pledge/internal/domain"
)

// OpenRepository opens the rule repository selected by cfg.Storage.
// The encrypted backend generates its key on first use.
func OpenRepository(cfg config.Config) (domain.RuleRepository, error) {
	switch cfg.Storage {
	case config.StorageEncrypted:
		key, err := EnsureKey(KeyProviderFor(cfg.DataDir))
		if err != nil {
			return nil, err
		}
		return NewEncryptedRuleStore(cfg.DataDir, key)
	case config.StorageFile:
		return NewJSONRuleStore(cfg.DataDir)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
}
