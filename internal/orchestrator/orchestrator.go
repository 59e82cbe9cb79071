// Package orchestrator implements the build orchestrator (C6): the
// PLAN/BUILD/VERIFY/COMPLETE loop that classifies packages, computes a
// layered dependency plan, and schedules per-package pipelines under a
// bounded concurrency budget.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"buildforge/internal/graph"
	"buildforge/internal/logging"
	"buildforge/internal/model"
	"buildforge/internal/pipeline"
)

// Config bounds orchestrator-level concurrency.
type Config struct {
	MaxConcurrentBuilds int
}

// DefaultConfig returns the documented default of 4 concurrent builds.
func DefaultConfig() Config {
	return Config{MaxConcurrentBuilds: 4}
}

// PackageSpec is one input package before graph construction: its name,
// raw category token, declared dependencies, working path, and plan text.
type PackageSpec struct {
	Name     string
	Category string
	Deps     []string
	Path     string
	PlanPath string
	PlanText string
}

// Orchestrator runs the full build for a set of packages against one
// pipeline factory (so every package gets an identically configured, but
// independent, pipeline instance bound to its own working directory).
type Orchestrator struct {
	cfg     Config
	newPipe func() *pipeline.Pipeline
}

// New builds an orchestrator. newPipe is called once per admitted package
// to obtain a pipeline instance; callers typically close over shared
// capability adapters and return a fresh *pipeline.Pipeline each time so
// that no two pipelines share mutable state.
func New(cfg Config, newPipe func() *pipeline.Pipeline) *Orchestrator {
	if cfg.MaxConcurrentBuilds <= 0 {
		cfg.MaxConcurrentBuilds = DefaultConfig().MaxConcurrentBuilds
	}
	return &Orchestrator{cfg: cfg, newPipe: newPipe}
}

// packageState tracks one package's position in the BUILD loop.
type packageState struct {
	node   *model.PackageNode
	spec   PackageSpec
	status model.BuildStatus
}

// pipelineResult is what a completed pipeline instance reports back through
// the result channel; the orchestrator never lets a pipeline mutate shared
// state directly.
type pipelineResult struct {
	name   string
	report model.PackageBuildReport
	err    error
}

// classifyFn matches classify.Classify's signature so the orchestrator can
// take a fake in tests without depending on a live registry.
type classifyFn func(ctx context.Context, name, localPath, planText string) (model.PreflightVerdict, error)

// Run executes PLAN, BUILD, VERIFY, COMPLETE and returns the aggregate report.
func (o *Orchestrator) Run(ctx context.Context, buildID string, specs []PackageSpec, classifyPkg classifyFn) model.BuildReport {
	report := model.BuildReport{BuildID: buildID}
	start := time.Now()

	// PLAN
	graphSpecs := make([]graph.Spec, 0, len(specs))
	byName := make(map[string]PackageSpec, len(specs))
	for _, s := range specs {
		graphSpecs = append(graphSpecs, graph.Spec{Name: s.Name, Category: s.Category, Deps: s.Deps})
		byName[s.Name] = s
	}
	nodes, err := graph.Build(graphSpecs)
	if err != nil {
		logging.S().Errorw("orchestrator: plan phase failed to build dependency graph", "err", err)
		report.TotalPackages = len(specs)
		report.Failed = len(specs)
		for _, s := range specs {
			report.PackageFailures = append(report.PackageFailures, model.PackageFailure{
				PackageName: s.Name, Reason: err.Error(), FailedPhase: "preflight",
			})
		}
		report.TotalDuration = time.Since(start)
		return report
	}

	states := make(map[string]*packageState, len(nodes))
	var active []string
	for _, n := range nodes {
		spec := byName[n.Name]
		verdict := model.VerdictFresh
		if classifyPkg != nil {
			v, cErr := classifyPkg(ctx, n.Name, spec.Path, spec.PlanText)
			if cErr != nil {
				logging.S().Warnw("orchestrator: classify failed, treating as fresh", "package", n.Name, "err", cErr)
			} else {
				verdict = v
			}
		}
		if verdict == model.VerdictPublishedCurrent {
			report.Successful++
			report.Packages = append(report.Packages, model.PackageBuildReport{
				PackageName: n.Name,
				Status:      model.ReportSuccess,
				Quality:     model.QualityResult{Passed: true},
			})
			continue
		}
		st := &packageState{node: n, spec: spec, status: model.StatusPending}
		states[n.Name] = st
		active = append(active, n.Name)
	}
	report.TotalPackages = len(specs)

	// BUILD
	completed := make(map[string]struct{})
	resultCh := make(chan pipelineResult)
	inFlight := 0
	var mu sync.Mutex

	isReady := func(name string) bool {
		st := states[name]
		if st.status != model.StatusPending {
			return false
		}
		for dep := range st.node.Dependencies {
			if _, ok := completed[dep]; !ok {
				return false
			}
		}
		return true
	}

	admit := func() {
		for inFlight < o.cfg.MaxConcurrentBuilds {
			var pick string
			for _, name := range active {
				if isReady(name) {
					pick = name
					break
				}
			}
			if pick == "" {
				return
			}
			st := states[pick]
			st.status = model.StatusBuilding
			inFlight++
			go func(spec PackageSpec) {
				p := o.newPipe()
				in := model.PackageBuildInput{
					Name:     spec.Name,
					Path:     spec.Path,
					PlanPath: spec.PlanPath,
					Category: model.PackageCategory(spec.Category),
					Deps:     spec.Deps,
				}
				rpt := p.Run(ctx, in, spec.PlanText)
				var rErr error
				if rpt.Status == model.ReportFailed {
					rErr = errString(rpt.Error)
				}
				resultCh <- pipelineResult{name: spec.Name, report: rpt, err: rErr}
			}(st.spec)
		}
	}

	mu.Lock()
	admit()
	mu.Unlock()

	for inFlight > 0 {
		res := <-resultCh
		mu.Lock()
		inFlight--
		st := states[res.name]
		report.Packages = append(report.Packages, res.report)
		if res.report.Status == model.ReportSuccess {
			st.status = model.StatusCompleted
			completed[res.name] = struct{}{}
			report.Successful++
		} else {
			st.status = model.StatusFailed
			report.Failed++
			report.PackageFailures = append(report.PackageFailures, model.PackageFailure{
				PackageName: res.name, Reason: res.report.Error, FailedPhase: res.report.FailedPhase,
			})
		}
		admit()
		mu.Unlock()
	}

	// Stuck-on-deps: anything still pending never became ready.
	for _, name := range active {
		st := states[name]
		if st.status == model.StatusPending {
			report.Failed++
			report.PackageFailures = append(report.PackageFailures, model.PackageFailure{
				PackageName: name, Reason: "dependency not satisfied", FailedPhase: "preflight",
			})
		}
	}

	// VERIFY is reserved for integration tests; currently a no-op.

	// COMPLETE
	report.TotalDuration = time.Since(start)
	report.SlowestTop5 = topNByDuration(report.Packages, 5)
	report.MostFixesTop5 = topNByFixAttempts(report.Packages, 5)
	return report
}

type errString string

func (e errString) Error() string { return string(e) }

func topNByDuration(reports []model.PackageBuildReport, n int) []string {
	sorted := append([]model.PackageBuildReport(nil), reports...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Duration < sorted[j].Duration; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return namesOf(sorted, n)
}

func topNByFixAttempts(reports []model.PackageBuildReport, n int) []string {
	sorted := append([]model.PackageBuildReport(nil), reports...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && len(sorted[j-1].FixAttempts) < len(sorted[j].FixAttempts); j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return namesOf(sorted, n)
}

func namesOf(reports []model.PackageBuildReport, n int) []string {
	if n > len(reports) {
		n = len(reports)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, reports[i].PackageName)
	}
	return out
}

// ClassifyAdapter converts a caller-supplied classification function to the
// unexported classifyFn type Run accepts; it does no adapting of its own.
// Callers typically pass a closure over classify.Classify and a live
// registry client, so the orchestrator package never imports capabilities.
func ClassifyAdapter(classifyPkg func(ctx context.Context, name, localPath, planText string) (model.PreflightVerdict, error)) classifyFn {
	return classifyPkg
}
