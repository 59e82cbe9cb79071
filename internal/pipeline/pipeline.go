// Package pipeline implements the per-package build pipeline (C5): the
// phase state machine PREFLIGHT → SCAFFOLD → BUILD → TEST → QUALITY →
// PUBLISH → PUSH, with commit checkpoints and bounded coordinator-assisted
// retry loops on each failable phase.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"buildforge/internal/capabilities"
	"buildforge/internal/classify"
	"buildforge/internal/coordinator"
	"buildforge/internal/logging"
	"buildforge/internal/metrics"
	"buildforge/internal/model"
)

// Phase names, used both for logging and for the failedPhase field on a report.
const (
	PhasePreflight = "preflight"
	PhaseScaffold  = "scaffold"
	PhaseBuild     = "build"
	PhaseTest      = "test"
	PhaseQuality   = "quality"
	PhasePublish   = "publish"
	PhasePush      = "push"
)

// Config bounds the pipeline's retry loops, defaulted per the concurrency model.
type Config struct {
	MaxCoordinatorAttempts int
	MaxQualityFixAttempts  int
	ScaffoldAgentPath      string
	GitRemote              string
	GitBranch              string
	RegistryToken          string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxCoordinatorAttempts: 3,
		MaxQualityFixAttempts:  3,
		ScaffoldAgentPath:      "scaffold-agent",
		GitRemote:              "origin",
		GitBranch:              "main",
	}
}

// Deps bundles the collaborator capabilities one pipeline instance needs.
type Deps struct {
	Registry    capabilities.RegistryClient
	Builder     capabilities.BuildRunner
	Tester      capabilities.TestRunner
	Quality     capabilities.QualityRunner
	Git         capabilities.SourceControl
	Status      capabilities.StatusSink
	Coordinator *coordinator.Coordinator
}

// Pipeline runs one package through every phase to a terminal report.
type Pipeline struct {
	cfg  Config
	deps Deps
}

// New builds a pipeline instance bound to a fixed set of collaborators.
func New(cfg Config, deps Deps) *Pipeline {
	return &Pipeline{cfg: cfg, deps: deps}
}

// Run executes the full phase sequence for one package and always returns a
// report, even on failure.
func (p *Pipeline) Run(ctx context.Context, in model.PackageBuildInput, planText string) model.PackageBuildReport {
	m := metrics.Get()
	m.PipelinesInFlight.Inc()
	defer m.PipelinesInFlight.Dec()

	report := model.PackageBuildReport{
		PackageName:  in.Name,
		StartTime:    time.Now(),
		Dependencies: append([]string(nil), in.Deps...),
	}

	verdict, _, err := classify.Classify(ctx, p.deps.Registry, in.Name, in.Path, planText)
	if err != nil {
		return p.fail(report, PhasePreflight, fmt.Errorf("preflight: %w", err))
	}

	if verdict == model.VerdictPublishedCurrent {
		// Idempotent re-entry: still produce a uniform synthetic success report.
		report.Quality = model.QualityResult{Passed: true}
		report.Status = model.ReportSuccess
		report.EndTime = time.Now()
		report.Duration = report.EndTime.Sub(report.StartTime)
		p.notify(ctx, in.Name, "skipped-published-current", nil)
		return report
	}

	var audit *model.PackageAuditContext
	if verdict == model.VerdictPartial || verdict == model.VerdictNeedsUpgrade {
		a := classify.AuditContext(in.Path, expectedFiles())
		audit = &a
	}

	if err := p.scaffold(ctx, in, audit, &report); err != nil {
		return p.fail(report, PhaseScaffold, err)
	}

	if err := p.build(ctx, in, &report); err != nil {
		return p.fail(report, PhaseBuild, err)
	}

	if err := p.test(ctx, in, &report); err != nil {
		return p.fail(report, PhaseTest, err)
	}

	if err := p.quality(ctx, in, &report); err != nil {
		return p.fail(report, PhaseQuality, err)
	}

	if err := p.publish(ctx, in, &report); err != nil {
		return p.fail(report, PhasePublish, err)
	}

	p.push(ctx, in)

	report.Status = model.ReportSuccess
	report.EndTime = time.Now()
	report.Duration = report.EndTime.Sub(report.StartTime)
	p.notify(ctx, in.Name, "success", nil)
	return report
}

func expectedFiles() []string {
	return []string{"package.json", "src"}
}

func (p *Pipeline) notify(ctx context.Context, name, status string, errDetails *capabilities.StatusErrorDetails) {
	if p.deps.Status == nil {
		return
	}
	p.deps.Status.UpdateStatus(ctx, name, status, errDetails)
}

func (p *Pipeline) commit(ctx context.Context, repoPath, commitType, subject string) {
	if p.deps.Git == nil {
		return
	}
	msg := commitType + ": " + subject
	if _, err := p.deps.Git.Commit(ctx, repoPath, msg); err != nil {
		logging.S().Warnw("pipeline: commit failed, continuing", "path", repoPath, "err", err)
	}
}

// scaffold hands one PACKAGE_SCAFFOLDING problem to the coordinator. RESOLVED
// or RETRY commits the scaffold and returns nil; any other decision fails the
// phase without another attempt.
func (p *Pipeline) scaffold(ctx context.Context, in model.PackageBuildInput, audit *model.PackageAuditContext, report *model.PackageBuildReport) error {
	attempt := 0
	for {
		attempt++
		prob := model.Problem{
			Type: model.ProblemPackageScaffolding,
			Error: model.ProblemError{
				Message: "package requires scaffolding",
			},
			Context: model.ProblemContext{
				PackageName:   in.Name,
				PackagePath:   in.Path,
				PlanPath:      in.PlanPath,
				Phase:         PhaseScaffold,
				AttemptNumber: attempt,
				Audit:         audit,
			},
		}
		fixStart := time.Now()
		action := p.deps.Coordinator.Decide(ctx, prob, attempt, p.cfg.MaxCoordinatorAttempts)
		report.FixAttempts = append(report.FixAttempts, model.FixAttempt{
			Count:           1,
			Types:           []string{string(model.ProblemPackageScaffolding)},
			AgentPromptUsed: action.Task,
			FixDuration:     time.Since(fixStart),
		})

		switch action.Decision {
		case model.DecisionResolved, model.DecisionRetry:
			p.commit(ctx, in.Path, "feat", "scaffold "+in.Name)
			return nil
		default:
			return fmt.Errorf("scaffold: %s", action.Reasoning)
		}
	}
}

func (p *Pipeline) build(ctx context.Context, in model.PackageBuildInput, report *model.PackageBuildReport) error {
	attempt := 0
	for {
		attempt++
		start := time.Now()
		res, err := p.deps.Builder.RunBuild(ctx, in.Path)
		report.BuildMetrics.BuildTime += time.Since(start)
		if err != nil {
			class := capabilities.ClassifyError(err)
			if class == capabilities.ErrorClassUnknown {
				metrics.Get().RecordPhaseOutcome(in.Name, PhaseBuild, "error", time.Since(start))
				return fmt.Errorf("Build failed: %w", err)
			}
			prob := model.Problem{
				Type:  model.ProblemEnvironmentError,
				Error: model.ProblemError{Message: "Build failed: " + string(class), Stderr: err.Error()},
				Context: model.ProblemContext{
					PackageName: in.Name, PackagePath: in.Path, PlanPath: in.PlanPath,
					Phase: PhaseBuild, AttemptNumber: attempt,
				},
			}
			action := p.deps.Coordinator.Decide(ctx, prob, attempt, p.cfg.MaxCoordinatorAttempts)
			if action.Decision != model.DecisionRetry && action.Decision != model.DecisionResolved || attempt >= p.cfg.MaxCoordinatorAttempts {
				metrics.Get().RecordPhaseOutcome(in.Name, PhaseBuild, "error", time.Since(start))
				return fmt.Errorf("Build failed: %w", err)
			}
			continue
		}
		if res.OK {
			metrics.Get().RecordPhaseOutcome(in.Name, PhaseBuild, "ok", time.Since(start))
			return nil
		}

		prob := model.Problem{
			Type:  model.ProblemBuildFailure,
			Error: model.ProblemError{Message: "Build failed", Stderr: res.Stderr, Stdout: res.Stdout},
			Context: model.ProblemContext{
				PackageName: in.Name, PackagePath: in.Path, PlanPath: in.PlanPath,
				Phase: PhaseBuild, AttemptNumber: attempt,
			},
		}
		fixStart := time.Now()
		action := p.deps.Coordinator.Decide(ctx, prob, attempt, p.cfg.MaxCoordinatorAttempts)
		report.FixAttempts = append(report.FixAttempts, model.FixAttempt{
			Count:           1,
			Types:           []string{string(model.ProblemBuildFailure)},
			AgentPromptUsed: action.Task,
			FixDuration:     time.Since(fixStart),
		})

		if action.Decision != model.DecisionRetry && action.Decision != model.DecisionResolved {
			metrics.Get().RecordPhaseOutcome(in.Name, PhaseBuild, "failed", time.Since(start))
			return fmt.Errorf("Build failed: %s", action.Reasoning)
		}
		if attempt >= p.cfg.MaxCoordinatorAttempts {
			metrics.Get().RecordPhaseOutcome(in.Name, PhaseBuild, "failed", time.Since(start))
			return fmt.Errorf("Build failed: exhausted attempts")
		}
	}
}

func (p *Pipeline) test(ctx context.Context, in model.PackageBuildInput, report *model.PackageBuildReport) error {
	attempt := 0
	for {
		attempt++
		start := time.Now()
		res, err := p.deps.Tester.RunTests(ctx, in.Path)
		report.BuildMetrics.TestTime += time.Since(start)
		if err != nil {
			class := capabilities.ClassifyError(err)
			if class == capabilities.ErrorClassUnknown {
				metrics.Get().RecordPhaseOutcome(in.Name, PhaseTest, "error", time.Since(start))
				return fmt.Errorf("Tests failed: %w", err)
			}
			prob := model.Problem{
				Type:  model.ProblemEnvironmentError,
				Error: model.ProblemError{Message: "Tests failed: " + string(class), Stderr: err.Error()},
				Context: model.ProblemContext{
					PackageName: in.Name, PackagePath: in.Path, PlanPath: in.PlanPath,
					Phase: PhaseTest, AttemptNumber: attempt,
				},
			}
			action := p.deps.Coordinator.Decide(ctx, prob, attempt, p.cfg.MaxCoordinatorAttempts)
			if action.Decision != model.DecisionRetry && action.Decision != model.DecisionResolved || attempt >= p.cfg.MaxCoordinatorAttempts {
				metrics.Get().RecordPhaseOutcome(in.Name, PhaseTest, "error", time.Since(start))
				return fmt.Errorf("Tests failed: %w", err)
			}
			continue
		}
		if res.OK {
			report.Quality.TestCoverage = float64(res.CoveragePct)
			p.commit(ctx, in.Path, "test", "tests passing for "+in.Name)
			metrics.Get().RecordPhaseOutcome(in.Name, PhaseTest, "ok", time.Since(start))
			return nil
		}

		prob := model.Problem{
			Type:  model.ProblemTestFailure,
			Error: model.ProblemError{Message: "Tests failed", Stderr: res.Stderr, Stdout: res.Stdout},
			Context: model.ProblemContext{
				PackageName: in.Name, PackagePath: in.Path, PlanPath: in.PlanPath,
				Phase: PhaseTest, AttemptNumber: attempt,
			},
		}
		fixStart := time.Now()
		action := p.deps.Coordinator.Decide(ctx, prob, attempt, p.cfg.MaxCoordinatorAttempts)
		report.FixAttempts = append(report.FixAttempts, model.FixAttempt{
			Count:           1,
			Types:           []string{string(model.ProblemTestFailure)},
			AgentPromptUsed: action.Task,
			FixDuration:     time.Since(fixStart),
		})

		if action.Decision != model.DecisionRetry && action.Decision != model.DecisionResolved {
			metrics.Get().RecordPhaseOutcome(in.Name, PhaseTest, "failed", time.Since(start))
			return fmt.Errorf("Tests failed: %s", action.Reasoning)
		}
		if attempt >= p.cfg.MaxCoordinatorAttempts {
			metrics.Get().RecordPhaseOutcome(in.Name, PhaseTest, "failed", time.Since(start))
			return fmt.Errorf("Tests failed: exhausted attempts")
		}
	}
}

// quality re-runs the quality checks after up to MaxQualityFixAttempts fix
// attempts. Each fix attempt hands a QUALITY_FAILURE problem to the
// coordinator, which picks and runs the fix agent; an ESCALATE or FAIL
// decision ends the phase at once.
func (p *Pipeline) quality(ctx context.Context, in model.PackageBuildInput, report *model.PackageBuildReport) error {
	for attempt := 1; ; attempt++ {
		start := time.Now()
		res, err := p.deps.Quality.RunQuality(ctx, in.Path)
		report.BuildMetrics.QualityCheckTime += time.Since(start)
		if err != nil {
			metrics.Get().RecordPhaseOutcome(in.Name, PhaseQuality, "error", time.Since(start))
			return fmt.Errorf("Quality checks failed: %w", err)
		}
		if res.Passed {
			report.Quality.Passed = true
			metrics.Get().RecordPhaseOutcome(in.Name, PhaseQuality, "ok", time.Since(start))
			return nil
		}
		if attempt > p.cfg.MaxQualityFixAttempts {
			metrics.Get().RecordPhaseOutcome(in.Name, PhaseQuality, "failed", time.Since(start))
			return fmt.Errorf("Quality checks failed: %d unresolved findings after %d fix attempts", len(res.Failures), attempt-1)
		}

		prob := model.Problem{
			Type:  model.ProblemQualityFailure,
			Error: model.ProblemError{Message: "Quality checks failed", Stdout: qualitySummary(res.Failures)},
			Context: model.ProblemContext{
				PackageName: in.Name, PackagePath: in.Path, PlanPath: in.PlanPath,
				Phase: PhaseQuality, AttemptNumber: attempt,
			},
		}
		fixStart := time.Now()
		action := p.deps.Coordinator.Decide(ctx, prob, attempt, p.cfg.MaxQualityFixAttempts)
		report.FixAttempts = append(report.FixAttempts, model.FixAttempt{
			Count:           1,
			Types:           []string{string(model.ProblemQualityFailure)},
			AgentPromptUsed: action.Task,
			FixDuration:     time.Since(fixStart),
		})
		if action.Decision == model.DecisionEscalate || action.Decision == model.DecisionFail {
			return fmt.Errorf("Quality checks failed: %s", action.Reasoning)
		}
	}
}

func qualitySummary(failures []capabilities.QualityFailure) string {
	var b strings.Builder
	for _, f := range failures {
		fmt.Fprintf(&b, "%s:%d: %s\n", f.File, f.Line, f.Message)
	}
	return b.String()
}

func (p *Pipeline) publish(ctx context.Context, in model.PackageBuildInput, report *model.PackageBuildReport) error {
	start := time.Now()
	res, err := p.deps.Registry.Publish(ctx, in.Name, in.Path, p.cfg.RegistryToken)
	report.BuildMetrics.PublishTime = time.Since(start)
	if err != nil {
		return fmt.Errorf("Publish failed: %w", err)
	}
	if !res.OK {
		return fmt.Errorf("Publish failed: %s", res.Stdout)
	}
	return nil
}

// push is non-fatal by contract: a failed push still leaves the package
// considered published.
func (p *Pipeline) push(ctx context.Context, in model.PackageBuildInput) {
	if p.deps.Git == nil {
		return
	}
	if err := p.deps.Git.Push(ctx, in.Path, p.cfg.GitRemote, p.cfg.GitBranch, false); err != nil {
		logging.S().Warnw("pipeline: push failed, package remains considered published", "package", in.Name, "err", err)
	}
}

// failedPhaseFromError infers the phase from the error message substring,
// matching the reference system's string-sniffed classification exactly.
func failedPhaseFromError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Build failed"):
		return PhaseBuild
	case strings.Contains(msg, "Tests failed"):
		return PhaseTest
	case strings.Contains(msg, "Quality checks failed"):
		return PhaseQuality
	case strings.Contains(msg, "Publish failed"):
		return PhasePublish
	default:
		return PhaseBuild
	}
}

func (p *Pipeline) fail(report model.PackageBuildReport, phase string, err error) model.PackageBuildReport {
	report.Status = model.ReportFailed
	report.Error = err.Error()
	report.FailedPhase = failedPhaseFromError(err)
	report.EndTime = time.Now()
	report.Duration = report.EndTime.Sub(report.StartTime)
	logging.S().Warnw("pipeline: package failed", "package", report.PackageName, "phase", phase, "err", err)
	return report
}
