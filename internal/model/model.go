// Package model defines the core data types shared across the build
// orchestrator: package graph nodes, pipeline inputs, coordinator
// messages, and the per-package and aggregate reports.
package model

import "time"

// PackageCategory orders packages into dependency layers. The numeric
// layer is derived from the category, never declared directly.
type PackageCategory string

const (
	CategoryValidator PackageCategory = "validator"
	CategoryCore      PackageCategory = "core"
	CategoryUtility   PackageCategory = "utility"
	CategoryService   PackageCategory = "service"
	CategoryUI        PackageCategory = "ui"
	CategorySuite     PackageCategory = "suite"
)

var categoryLayer = map[PackageCategory]int{
	CategoryValidator: 0,
	CategoryCore:      1,
	CategoryUtility:   2,
	CategoryService:   3,
	CategoryUI:        4,
	CategorySuite:     5,
}

// defaultLayer is used for categories that don't match any known token.
const defaultLayer = 3

// specificityOrder resolves ambiguous category strings that contain more
// than one known token (e.g. "suite-ui") to the most specific match.
var specificityOrder = []PackageCategory{
	CategorySuite, CategoryValidator, CategoryCore, CategoryUtility, CategoryService, CategoryUI,
}

// LayerForCategory returns the numeric layer for a raw category token,
// falling back to the service layer for unrecognized input and resolving
// multi-token strings to the most specific category per specificityOrder.
func LayerForCategory(raw string) (PackageCategory, int) {
	for _, cat := range specificityOrder {
		if containsToken(raw, string(cat)) {
			return cat, categoryLayer[cat]
		}
	}
	return PackageCategory(raw), defaultLayer
}

func containsToken(haystack, token string) bool {
	if haystack == token {
		return true
	}
	for i := 0; i+len(token) <= len(haystack); i++ {
		if equalFold(haystack[i:i+len(token)], token) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// BuildStatus is the lifecycle state of a PackageNode as seen by the orchestrator.
type BuildStatus string

const (
	StatusPending   BuildStatus = "pending"
	StatusBuilding  BuildStatus = "building"
	StatusCompleted BuildStatus = "completed"
	StatusFailed    BuildStatus = "failed"
)

// PackageNode is the identity of a package in the build graph. It is
// created during graph construction and mutated only by the orchestrator.
type PackageNode struct {
	Name         string
	Category     PackageCategory
	Layer        int
	Dependencies map[string]struct{}
	BuildStatus  BuildStatus
}

// DependencyNames returns the node's dependencies as a sorted slice.
func (n *PackageNode) DependencyNames() []string {
	out := make([]string, 0, len(n.Dependencies))
	for d := range n.Dependencies {
		out = append(out, d)
	}
	sortStrings(out)
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// PackageBuildInput is what a pipeline instance receives to start work on a package.
type PackageBuildInput struct {
	Name          string
	Path          string
	PlanPath      string
	Category      PackageCategory
	Deps          []string
	WorkspaceRoot string
	Config        map[string]string
}

// ProblemType classifies why a phase failed, feeding the coordinator's decision table.
type ProblemType string

const (
	ProblemBuildFailure        ProblemType = "BUILD_FAILURE"
	ProblemTestFailure         ProblemType = "TEST_FAILURE"
	ProblemQualityFailure      ProblemType = "QUALITY_FAILURE"
	ProblemEnvironmentError    ProblemType = "ENVIRONMENT_ERROR"
	ProblemPackageScaffolding  ProblemType = "PACKAGE_SCAFFOLDING"
)

// ProblemError carries the raw failure detail handed to the coordinator.
type ProblemError struct {
	Message string
	Stderr  string
	Stdout  string
	Code    int
}

// ProblemContext identifies where in the build a Problem originated.
type ProblemContext struct {
	PackageName   string
	PackagePath   string
	PlanPath      string
	Phase         string
	AttemptNumber int
	// Audit carries the existing/missing-file partition for a partial or
	// needs-upgrade package, so the scaffold agent knows what's already
	// there instead of regenerating a complete package from scratch.
	Audit *PackageAuditContext
}

// Problem is a failure report handed to the coordinator.
type Problem struct {
	Type    ProblemType
	Error   ProblemError
	Context ProblemContext
}

// Decision is the coordinator's fixed vocabulary of outcomes.
type Decision string

const (
	DecisionRetry    Decision = "RETRY"
	DecisionDelegate Decision = "DELEGATE"
	DecisionEscalate Decision = "ESCALATE"
	DecisionFail     Decision = "FAIL"
	DecisionResolved Decision = "RESOLVED"
)

// Escalation explains why the coordinator gave up on a package.
type Escalation struct {
	Reason     string
	ReportPath string
}

// Modification records one file changed by a repair agent.
type Modification struct {
	Path   string
	Change string
}

// CoordinatorAction is the coordinator's decision, returned to the pipeline.
type CoordinatorAction struct {
	Decision      Decision
	Agent         string
	Task          string
	Escalation    *Escalation
	Modifications []Modification
	Reasoning     string
}

// AgentRegistryEntry describes one repair agent available to the coordinator.
type AgentRegistryEntry struct {
	Name         string
	Path         string
	Capabilities []string
	ProblemTypes []ProblemType
	Priority     int
}

// AuditStatus marks whether an audit context believes a package is complete.
type AuditStatus string

const (
	AuditComplete   AuditStatus = "complete"
	AuditIncomplete AuditStatus = "incomplete"
)

// PackageAuditContext is passed to the scaffolder for partial packages.
type PackageAuditContext struct {
	CompletionPercentage int
	ExistingFiles        []string
	MissingFiles         []string
	NextSteps            []string
	Status               AuditStatus
}

// NewPackageAuditContext derives CompletionPercentage from the existing/missing
// file partition, per the round-trip law in the testable properties.
func NewPackageAuditContext(existing, missing, nextSteps []string) PackageAuditContext {
	status := AuditIncomplete
	pct := 0
	total := len(existing) + len(missing)
	if total > 0 {
		pct = int(roundHalfUp(float64(len(existing)) / float64(total) * 100))
	}
	if len(missing) == 0 && len(existing) > 0 {
		status = AuditComplete
	}
	return PackageAuditContext{
		CompletionPercentage: pct,
		ExistingFiles:        existing,
		MissingFiles:         missing,
		NextSteps:            nextSteps,
		Status:               status,
	}
}

func roundHalfUp(f float64) float64 {
	if f < 0 {
		return -roundHalfUp(-f)
	}
	i := float64(int64(f))
	if f-i >= 0.5 {
		return i + 1
	}
	return i
}

// BuildMetrics tracks wall-clock time spent in each pipeline phase.
type BuildMetrics struct {
	BuildTime        time.Duration
	TestTime         time.Duration
	QualityCheckTime time.Duration
	PublishTime      time.Duration
}

// QualityResult summarizes the package's final quality gate outcome.
type QualityResult struct {
	LintScore        float64
	TestCoverage      float64
	TypeScriptErrors int
	Passed            bool
}

// FixAttempt records one coordinator-assisted repair cycle.
type FixAttempt struct {
	Count           int
	Types           []string
	AgentPromptUsed string
	FixDuration     time.Duration
}

// ReportStatus is the terminal outcome of a single package's pipeline.
type ReportStatus string

const (
	ReportSuccess ReportStatus = "success"
	ReportFailed  ReportStatus = "failed"
)

// PackageBuildReport is the per-package artifact written by the pipeline at completion.
type PackageBuildReport struct {
	PackageName  string
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	BuildMetrics BuildMetrics
	Quality      QualityResult
	FixAttempts  []FixAttempt
	Status       ReportStatus
	Error        string
	FailedPhase  string
	Dependencies []string
	WaitedFor    []string
}

// PackageFailure records why a package never reached completion at the orchestrator level.
type PackageFailure struct {
	PackageName string
	Reason      string
	FailedPhase string
}

// BuildReport is the aggregate artifact written at orchestrator completion.
type BuildReport struct {
	BuildID         string
	TotalPackages   int
	Successful      int
	Failed          int
	TotalDuration   time.Duration
	Packages        []PackageBuildReport
	PackageFailures []PackageFailure
	SlowestTop5     []string
	MostFixesTop5   []string
}

// PreflightVerdict is the classifier's per-package outcome (C3).
type PreflightVerdict string

const (
	VerdictFresh             PreflightVerdict = "fresh"
	VerdictPartial           PreflightVerdict = "partial"
	VerdictPublishedCurrent  PreflightVerdict = "published-current"
	VerdictNeedsUpgrade      PreflightVerdict = "needs-upgrade"
)
