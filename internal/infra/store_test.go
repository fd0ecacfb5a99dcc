package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/pledge/internal/domain"
)

// newTestStores returns one of each repository backend in fresh temp dirs.
func newTestStores(t *testing.T) map[string]func(t *testing.T) domain.RuleRepository {
	return map[string]func(t *testing.T) domain.RuleRepository{
		"json": func(t *testing.T) domain.RuleRepository {
			store, err := NewJSONRuleStore(t.TempDir())
			require.NoError(t, err)
			return store
		},
		"encrypted": func(t *testing.T) domain.RuleRepository {
			key, err := GenerateKey()
			require.NoError(t, err)
			store, err := NewEncryptedRuleStore(t.TempDir(), key)
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			return store
		},
	}
}

func TestRuleRepositoryContract(t *testing.T) {
	ctx := context.Background()

	for name, open := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("empty store loads nothing", func(t *testing.T) {
				repo := open(t)
				rules, err := repo.LoadRules(ctx)
				require.NoError(t, err)
				assert.Empty(t, rules)

				pending, err := repo.LoadPending(ctx)
				require.NoError(t, err)
				assert.Empty(t, pending)
			})

			t.Run("rules round trip in insertion order", func(t *testing.T) {
				repo := open(t)
				require.NoError(t, repo.SaveRule(ctx, sampleRule("b")))
				require.NoError(t, repo.SaveRule(ctx, sampleRule("a")))

				updated := sampleRule("b")
				updated.Enabled = false
				require.NoError(t, repo.SaveRule(ctx, updated))

				rules, err := repo.LoadRules(ctx)
				require.NoError(t, err)
				require.Len(t, rules, 2)
				assert.Equal(t, updated, rules[0])
				assert.Equal(t, sampleRule("a"), rules[1])
			})

			t.Run("delete rule", func(t *testing.T) {
				repo := open(t)
				require.NoError(t, repo.SaveRule(ctx, sampleRule("a")))
				require.NoError(t, repo.DeleteRule(ctx, "a"))
				require.NoError(t, repo.DeleteRule(ctx, "never-existed"))

				rules, err := repo.LoadRules(ctx)
				require.NoError(t, err)
				assert.Empty(t, rules)
			})

			t.Run("pending round trip", func(t *testing.T) {
				repo := open(t)
				p1 := samplePending("p1", "a", testTime)
				p2 := samplePending("p2", "b", testTime.Add(time.Minute))
				del := domain.PendingChange{
					ID: "p3", RuleID: "c", Kind: domain.ChangeDelete,
					Original:    func() *domain.Rule { r := sampleRule("c"); return &r }(),
					RequestedAt: testTime, Delay: 2 * time.Hour,
				}
				require.NoError(t, repo.SavePending(ctx, p1))
				require.NoError(t, repo.SavePending(ctx, p2))
				require.NoError(t, repo.SavePending(ctx, del))

				pending, err := repo.LoadPending(ctx)
				require.NoError(t, err)
				byID := make(map[string]domain.PendingChange)
				for _, p := range pending {
					byID[p.ID] = p
				}
				require.Len(t, byID, 3)
				assert.Equal(t, p1, byID["p1"])
				assert.Equal(t, p2, byID["p2"])
				assert.Equal(t, del, byID["p3"])
				assert.Nil(t, byID["p3"].Candidate)

				require.NoError(t, repo.DeletePending(ctx, "p1"))
				pending, err = repo.LoadPending(ctx)
				require.NoError(t, err)
				assert.Len(t, pending, 2)
			})
		})
	}
}

func TestEncryptedRuleStoreReopen(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	key, err := GenerateKey()
	require.NoError(t, err)

	store, err := NewEncryptedRuleStore(dataDir, key)
	require.NoError(t, err)
	require.NoError(t, store.SaveRule(ctx, sampleRule("a")))
	require.NoError(t, store.SavePending(ctx, samplePending("p1", "a", testTime)))
	require.NoError(t, store.Close())

	reopened, err := NewEncryptedRuleStore(dataDir, key)
	require.NoError(t, err)
	defer reopened.Close()

	rules, err := reopened.LoadRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Rule{sampleRule("a")}, rules)

	pending, err := reopened.LoadPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestEncryptedRuleStoreWrongKey(t *testing.T) {
	dataDir := t.TempDir()
	key, err := GenerateKey()
	require.NoError(t, err)

	store, err := NewEncryptedRuleStore(dataDir, key)
	require.NoError(t, err)
	require.NoError(t, store.SaveRule(context.Background(), sampleRule("a")))
	require.NoError(t, store.Close())

	otherKey, err := GenerateKey()
	require.NoError(t, err)
	_, err = NewEncryptedRuleStore(dataDir, otherKey)
	assert.Error(t, err)
}
