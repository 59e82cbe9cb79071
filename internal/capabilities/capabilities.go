// Package capabilities declares the external collaborator interfaces the
// orchestration core depends on (C1): agent execution, source control,
// build/test/quality runners, registry lookups, and the status sink. The
// core only ever talks to these interfaces; concrete adapters in this
// package wire them to a local toolchain, Docker, exec'd git, an npm-style
// registry HTTP API, and Redis/webhook delivery.
package capabilities

import (
	"context"
	"time"
)

// AgentExecutionContext carries everything a repair or scaffolding agent
// needs to operate on one package; it is the AgentExecutorInput the
// pipeline builds from a model.PackageBuildInput.
type AgentExecutionContext struct {
	PackageName   string
	PackagePath   string
	PlanPath      string
	WorkspaceRoot string
	Category      string
	Task          string
	CorrectionHints []string
	IsRetry       bool
	AttemptNumber int
}

// AgentExecutionResult is what an agent run reports back. Success means
// the agent completed without a framework error, not that the emitted
// code is correct — that judgment belongs to the next pipeline phase.
type AgentExecutionResult struct {
	Success bool
	Changes []string
	Output  string
	Resolved bool // "resolved; no retry needed" (e.g. scaffolding complete)
	Err     error
}

// AgentExecutor runs an external coding agent against one package.
type AgentExecutor interface {
	Execute(ctx context.Context, agentPath string, ac AgentExecutionContext) (AgentExecutionResult, error)
}

// SourceControl is the minimal local git surface the pipeline needs.
// Commit on an empty working tree is a no-op success; push failure is
// non-fatal by contract.
type SourceControl interface {
	ConfigureUser(ctx context.Context, repoPath, name, email string) error
	CreateBranch(ctx context.Context, repoPath, branch string) error
	Commit(ctx context.Context, repoPath, message string) (committed bool, err error)
	Push(ctx context.Context, repoPath, remote, branch string, force bool) error
}

// BuildResult is the outcome of one build attempt.
type BuildResult struct {
	OK       bool
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// BuildRunner invokes the package's build step (e.g. `npm run build`).
type BuildRunner interface {
	RunBuild(ctx context.Context, path string) (BuildResult, error)
}

// TestResult is the outcome of one test run, with coverage parsed from
// stdout per the `/Coverage:\s*(\d+)%/` contract.
type TestResult struct {
	OK         bool
	CoveragePct int
	Stdout     string
	Stderr     string
	Duration   time.Duration
}

// TestRunner invokes the package's test suite.
type TestRunner interface {
	RunTests(ctx context.Context, path string) (TestResult, error)
}

// QualityFailure is one lint/type-check finding.
type QualityFailure struct {
	Type    string
	File    string
	Line    int
	Message string
}

// QualityCheckResult is the outcome of lint/quality gating.
type QualityCheckResult struct {
	Passed   bool
	Failures []QualityFailure
	Duration time.Duration
}

// QualityRunner invokes lint/type-check/static-analysis tooling.
type QualityRunner interface {
	RunQuality(ctx context.Context, path string) (QualityCheckResult, error)
}

// RegistryLookup is the result of a single registry GET.
type RegistryLookup struct {
	Published bool
	Version   string
}

// PublishResult is the outcome of a publish attempt.
type PublishResult struct {
	OK       bool
	Stdout   string
	Duration time.Duration
}

// RegistryClient talks to the package registry (npm, PyPI, or an internal
// equivalent) for lookups and publishing.
type RegistryClient interface {
	Lookup(ctx context.Context, name string) (RegistryLookup, error)
	Publish(ctx context.Context, name, path, token string) (PublishResult, error)
}

// StatusErrorDetails is the optional error payload sent with a failed status update.
type StatusErrorDetails struct {
	Phase   string
	Message string
}

// StatusSink is a fire-and-forget, at-least-once delivery channel for
// build status updates (the MCP status sink in the reference system).
type StatusSink interface {
	UpdateStatus(ctx context.Context, packageName, status string, errDetails *StatusErrorDetails)
}
