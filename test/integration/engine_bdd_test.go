//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/pledge/internal/config"
	"github.com/eliteGoblin/focusd/pledge/internal/daemon"
	"github.com/eliteGoblin/focusd/pledge/internal/domain"
	"github.com/eliteGoblin/focusd/pledge/internal/infra"
	"github.com/eliteGoblin/focusd/pledge/internal/usecase"
)

func morningRule() domain.Rule {
	return domain.Rule{
		ID:    "morning",
		Items: []string{"com.example.social"},
		Mode:  domain.ModeUntil,
		Conditions: []domain.Condition{
			domain.StepsCondition{Target: 10000},
			domain.WorkoutCondition{Minutes: 30},
		},
		Enabled: true,
	}
}

var _ = Describe("Rule engine", func() {
	var (
		ctx     context.Context
		cfg     config.Config
		now     time.Time
		clock   domain.Clock
		repo    domain.RuleRepository
		engine  *usecase.Engine
		t0      time.Time
		logger  *zap.Logger
		openErr error
	)

	openEngine := func() *usecase.Engine {
		e := usecase.NewEngine(repo, usecase.EngineConfig{ChangeDelay: cfg.ChangeDelay}, logger).WithClock(clock)
		Expect(e.Load(ctx)).To(Succeed())
		return e
	}

	BeforeEach(func() {
		ctx = context.Background()
		logger = zap.NewNop()
		t0 = time.Date(2026, 10, 16, 7, 0, 0, 0, time.UTC)
		now = t0
		clock = func() time.Time { return now }

		cfg = config.Default()
		cfg.DataDir = GinkgoT().TempDir()
		cfg.Storage = config.StorageEncrypted

		repo, openErr = infra.OpenRepository(cfg)
		Expect(openErr).NotTo(HaveOccurred())
		DeferCleanup(func() { repo.Close() })

		engine = openEngine()
		_, err := engine.Create(ctx, morningRule())
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("evaluation", func() {
		It("blocks until every condition is met", func() {
			set := engine.Evaluate(domain.ProgressSnapshot{StepsToday: 12000, WorkoutMinutesToday: 10})
			Expect(set.Rules["morning"].Blocked).To(BeTrue())

			set = engine.Evaluate(domain.ProgressSnapshot{StepsToday: 12000, WorkoutMinutesToday: 30})
			Expect(set.Rules["morning"].Blocked).To(BeFalse())
			Expect(set.Rules["morning"].Status).To(Equal("unlocked"))
		})
	})

	Describe("weakening edits", func() {
		Context("when a steps target is lowered", func() {
			It("waits out the delay, surviving a restart", func() {
				weaker := morningRule()
				weaker.Conditions[0] = domain.StepsCondition{Target: 2000}

				out, err := engine.Propose(ctx, weaker)
				Expect(err).NotTo(HaveOccurred())
				Expect(out.Pending).NotTo(BeNil())
				Expect(out.Pending.EffectiveAt()).To(Equal(t0.Add(time.Hour)))

				// A fresh engine over the same store sees the pending entry.
				now = t0.Add(59 * time.Minute)
				restarted := openEngine()
				Expect(restarted.Pending()).To(HaveLen(1))

				result, err := restarted.Sweep(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Applied).To(BeEmpty())

				now = t0.Add(61 * time.Minute)
				result, err = restarted.Sweep(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Applied).To(HaveLen(1))

				rule, err := openEngine().Rule("morning")
				Expect(err).NotTo(HaveOccurred())
				Expect(rule.Conditions[0]).To(Equal(domain.StepsCondition{Target: 2000}))
			})
		})

		Context("when the pending change is cancelled", func() {
			It("leaves the stored rule untouched", func() {
				out, err := engine.Delete(ctx, "morning")
				Expect(err).NotTo(HaveOccurred())

				_, err = engine.Cancel(ctx, out.Pending.ID)
				Expect(err).NotTo(HaveOccurred())

				now = t0.Add(3 * time.Hour)
				result, err := openEngine().Sweep(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Applied).To(BeEmpty())

				rules, err := repo.LoadRules(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(rules).To(HaveLen(1))
			})
		})

		Context("when a second weakening is proposed", func() {
			It("is rejected while the first is pending", func() {
				_, err := engine.SetEnabled(ctx, "morning", false)
				Expect(err).NotTo(HaveOccurred())

				_, err = engine.Delete(ctx, "morning")
				Expect(err).To(MatchError(domain.ErrPendingChangeExists))
			})
		})
	})

	Describe("daemon pass", func() {
		It("applies ready changes and writes decisions", func() {
			_, err := engine.SetEnabled(ctx, "morning", false)
			Expect(err).NotTo(HaveOccurred())

			snapshotPath := filepath.Join(cfg.DataDir, "snapshot.json")
			Expect(os.WriteFile(snapshotPath, []byte(`{"steps_today":500}`), 0600)).To(Succeed())

			decisionsPath := filepath.Join(cfg.DataDir, "decisions.json")
			watcher := daemon.NewWatcher(
				daemon.DefaultWatcherConfig(),
				engine,
				infra.NewFileSnapshotSource(snapshotPath),
				infra.NewFileDecisionSink(decisionsPath),
				infra.NewFileLock(cfg.DataDir),
				nil,
				logger,
			)

			readDecisions := func() infra.DecisionsDocument {
				data, err := os.ReadFile(decisionsPath)
				Expect(err).NotTo(HaveOccurred())
				var doc infra.DecisionsDocument
				Expect(json.Unmarshal(data, &doc)).To(Succeed())
				return doc
			}

			watcher.RunOnce(ctx)
			doc := readDecisions()
			Expect(doc.Rules).To(HaveKey("morning"))
			Expect(doc.Rules["morning"].Blocked).To(BeTrue())

			now = t0.Add(time.Hour)
			watcher.RunOnce(ctx)
			Expect(readDecisions().Rules).To(BeEmpty())
		})
	})
})

var _ = Describe("Loading a damaged rule file", func() {
	It("still blocks with the rules that decode", func() {
		ctx := context.Background()
		dataDir := GinkgoT().TempDir()

		doc := `{"version":1,"rules":[
		  {"id":"good","items":["com.example.social"],"mode":"until","conditions":[{"type":"steps","steps_target":10000}]},
		  {"id":"bad","items":["com.example.video"],"mode":"until","conditions":[{"type":"meditation"}]}
		]}`
		Expect(os.WriteFile(filepath.Join(dataDir, "rules.json"), []byte(doc), 0600)).To(Succeed())

		cfg := config.Default()
		cfg.DataDir = dataDir
		cfg.Storage = config.StorageFile
		repo, err := infra.OpenRepository(cfg)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { repo.Close() })

		engine := usecase.NewEngine(repo, usecase.DefaultEngineConfig(), zap.NewNop())
		decisionsPath := filepath.Join(dataDir, "decisions.json")
		watcher := daemon.NewWatcher(
			daemon.DefaultWatcherConfig(),
			engine,
			infra.NewFileSnapshotSource(filepath.Join(dataDir, "snapshot.json")),
			infra.NewFileDecisionSink(decisionsPath),
			infra.NewFileLock(dataDir),
			nil,
			zap.NewNop(),
		)
		watcher.RunOnce(ctx)

		data, err := os.ReadFile(decisionsPath)
		Expect(err).NotTo(HaveOccurred())
		var decisions infra.DecisionsDocument
		Expect(json.Unmarshal(data, &decisions)).To(Succeed())
		Expect(decisions.Rules).To(HaveKey("good"))
		Expect(decisions.Rules["good"].Blocked).To(BeTrue())
		Expect(decisions.Rules).NotTo(HaveKey("bad"))
	})
})
