package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildforge/internal/capabilities"
	"buildforge/internal/coordinator"
	"buildforge/internal/model"
	"buildforge/internal/pipeline"
)

type scriptedBuilder struct {
	ok      bool
	delay   time.Duration
	onStart func()
	onEnd   func()
}

func (b *scriptedBuilder) RunBuild(ctx context.Context, path string) (capabilities.BuildResult, error) {
	if b.onStart != nil {
		b.onStart()
	}
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if b.onEnd != nil {
		b.onEnd()
	}
	if !b.ok {
		return capabilities.BuildResult{OK: false, Stderr: "scripted failure"}, nil
	}
	return capabilities.BuildResult{OK: true}, nil
}

type passTester struct{}

func (passTester) RunTests(ctx context.Context, path string) (capabilities.TestResult, error) {
	return capabilities.TestResult{OK: true}, nil
}

type passQuality struct{}

func (passQuality) RunQuality(ctx context.Context, path string) (capabilities.QualityCheckResult, error) {
	return capabilities.QualityCheckResult{Passed: true}, nil
}

type passRegistry struct{}

func (passRegistry) Lookup(ctx context.Context, name string) (capabilities.RegistryLookup, error) {
	return capabilities.RegistryLookup{Published: false}, nil
}
func (passRegistry) Publish(ctx context.Context, name, path, token string) (capabilities.PublishResult, error) {
	return capabilities.PublishResult{OK: true}, nil
}

type resolvingExecutor struct{}

func (resolvingExecutor) Execute(ctx context.Context, agentPath string, ac capabilities.AgentExecutionContext) (capabilities.AgentExecutionResult, error) {
	return capabilities.AgentExecutionResult{Success: true, Resolved: true}, nil
}

// scaffoldOnlyCoordinator registers a single agent, for PACKAGE_SCAFFOLDING,
// that always reports resolved: scaffolding succeeds, and every other
// problem type is an immediate ESCALATE ("no handler").
func scaffoldOnlyCoordinator() *coordinator.Coordinator {
	return coordinator.New(coordinator.NewRegistry([]model.AgentRegistryEntry{
		{Name: "scaffolder", Path: "/agents/scaffolder", ProblemTypes: []model.ProblemType{model.ProblemPackageScaffolding}, Priority: 10},
	}), resolvingExecutor{})
}

func pipelineWithBuilder(b capabilities.BuildRunner) *pipeline.Pipeline {
	return pipeline.New(pipeline.DefaultConfig(), pipeline.Deps{
		Registry:    passRegistry{},
		Builder:     b,
		Tester:      passTester{},
		Quality:     passQuality{},
		Coordinator: scaffoldOnlyCoordinator(),
	})
}

func TestRun_PublishedCurrentSkipsPipelineEntirely(t *testing.T) {
	specs := []PackageSpec{{Name: "widgets", Category: "core"}}
	o := New(DefaultConfig(), func() *pipeline.Pipeline {
		t.Fatal("pipeline should never be constructed for a published-current package")
		return nil
	})
	classify := func(ctx context.Context, name, localPath, planText string) (model.PreflightVerdict, error) {
		return model.VerdictPublishedCurrent, nil
	}
	report := o.Run(context.Background(), "build-1", specs, classify)
	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Packages, 1)
	assert.Equal(t, model.ReportSuccess, report.Packages[0].Status)
}

func TestRun_FailedDependencyBlocksDownstream(t *testing.T) {
	specs := []PackageSpec{
		{Name: "base", Category: "core"},
		{Name: "dependent", Category: "core", Deps: []string{"base"}},
	}
	o := New(Config{MaxConcurrentBuilds: 2}, func() *pipeline.Pipeline {
		return pipelineWithBuilder(&scriptedBuilder{ok: false})
	})
	classify := func(ctx context.Context, name, localPath, planText string) (model.PreflightVerdict, error) {
		return model.VerdictFresh, nil
	}
	report := o.Run(context.Background(), "build-2", specs, classify)

	assert.Equal(t, 0, report.Successful)
	assert.Equal(t, 2, report.Failed)

	var sawBase, sawDependent bool
	for _, f := range report.PackageFailures {
		if f.PackageName == "base" {
			sawBase = true
			assert.Equal(t, "build", f.FailedPhase)
		}
		if f.PackageName == "dependent" {
			sawDependent = true
			assert.Equal(t, "dependency not satisfied", f.Reason)
		}
	}
	assert.True(t, sawBase)
	assert.True(t, sawDependent)
}

func TestRun_IndependentPackagesAllSucceed(t *testing.T) {
	specs := []PackageSpec{
		{Name: "a", Category: "core"},
		{Name: "b", Category: "core"},
		{Name: "c", Category: "core"},
	}
	o := New(Config{MaxConcurrentBuilds: 4}, func() *pipeline.Pipeline {
		return pipelineWithBuilder(&scriptedBuilder{ok: true})
	})
	classify := func(ctx context.Context, name, localPath, planText string) (model.PreflightVerdict, error) {
		return model.VerdictFresh, nil
	}
	report := o.Run(context.Background(), "build-3", specs, classify)
	assert.Equal(t, 3, report.Successful)
	assert.Equal(t, 0, report.Failed)
}

func TestRun_ConcurrencyCapRespected(t *testing.T) {
	var mu sync.Mutex
	var current, max int32

	specs := make([]PackageSpec, 0, 6)
	for i := 0; i < 6; i++ {
		specs = append(specs, PackageSpec{Name: string(rune('a' + i)), Category: "core"})
	}

	o := New(Config{MaxConcurrentBuilds: 2}, func() *pipeline.Pipeline {
		return pipelineWithBuilder(&scriptedBuilder{
			ok:    true,
			delay: 10 * time.Millisecond,
			onStart: func() {
				mu.Lock()
				current++
				if current > atomic.LoadInt32(&max) {
					atomic.StoreInt32(&max, current)
				}
				mu.Unlock()
			},
			onEnd: func() {
				mu.Lock()
				current--
				mu.Unlock()
			},
		})
	})
	classify := func(ctx context.Context, name, localPath, planText string) (model.PreflightVerdict, error) {
		return model.VerdictFresh, nil
	}
	report := o.Run(context.Background(), "build-4", specs, classify)
	assert.Equal(t, 6, report.Successful)
	assert.LessOrEqual(t, int(atomic.LoadInt32(&max)), 2)
}

func TestRun_ClassifyErrorTreatsPackageAsFresh(t *testing.T) {
	specs := []PackageSpec{{Name: "widgets", Category: "core"}}
	o := New(DefaultConfig(), func() *pipeline.Pipeline {
		return pipelineWithBuilder(&scriptedBuilder{ok: true})
	})
	classify := func(ctx context.Context, name, localPath, planText string) (model.PreflightVerdict, error) {
		return "", errors.New("registry unreachable")
	}
	report := o.Run(context.Background(), "build-5", specs, classify)
	assert.Equal(t, 1, report.Successful)
}

func TestTopNByDuration_ReturnsSlowestFirst(t *testing.T) {
	reports := []model.PackageBuildReport{
		{PackageName: "fast", Duration: 1 * time.Second},
		{PackageName: "slowest", Duration: 10 * time.Second},
		{PackageName: "medium", Duration: 5 * time.Second},
	}
	top := topNByDuration(reports, 2)
	assert.Equal(t, []string{"slowest", "medium"}, top)
}

func TestTopNByDuration_FewerThanN(t *testing.T) {
	reports := []model.PackageBuildReport{
		{PackageName: "only", Duration: 1 * time.Second},
	}
	top := topNByDuration(reports, 5)
	assert.Equal(t, []string{"only"}, top)
}

func TestTopNByFixAttempts_OrdersByCount(t *testing.T) {
	reports := []model.PackageBuildReport{
		{PackageName: "none"},
		{PackageName: "many", FixAttempts: []model.FixAttempt{{}, {}, {}}},
		{PackageName: "one", FixAttempts: []model.FixAttempt{{}}},
	}
	top := topNByFixAttempts(reports, 3)
	assert.Equal(t, []string{"many", "one", "none"}, top)
}
