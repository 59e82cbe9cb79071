package capabilities

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// ExecRunner runs build/test/quality commands directly on the
// orchestrator host via os/exec, install → build/test/lint, for packages
// that don't need container isolation (local development, CI runners
// that are themselves already sandboxed).
type ExecRunner struct {
	installCmd   []string
	buildCmd     []string
	testCmd      []string
	qualityCmd   []string
	buildTimeout time.Duration
	testTimeout  time.Duration
}

// NewExecRunner builds a local command runner. installCmd runs once ahead
// of each phase's command (e.g. "npm install"); pass nil to skip it.
func NewExecRunner(installCmd, buildCmd, testCmd, qualityCmd []string) *ExecRunner {
	return &ExecRunner{
		installCmd:   installCmd,
		buildCmd:     buildCmd,
		testCmd:      testCmd,
		qualityCmd:   qualityCmd,
		buildTimeout: 10 * time.Minute,
		testTimeout:  10 * time.Minute,
	}
}

// runOnce runs the install step (if configured) followed by cmd, both in
// path, and reduces the result to (stdout, stderr, exitCode, duration).
// A non-nil error here means the command never produced an exit code at
// all (binary missing, working directory invalid) — an ordinary nonzero
// exit is reported via exitCode, not error, matching DockerRunner.
func (e *ExecRunner) runOnce(ctx context.Context, path string, cmd []string, timeout time.Duration) (string, string, int, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if len(e.installCmd) > 0 {
		if _, _, code, _, err := e.run(ctx, path, e.installCmd); err != nil || code != 0 {
			return "", "", code, time.Since(start), err
		}
	}
	stdout, stderr, code, _, err := e.run(ctx, path, cmd)
	return stdout, stderr, code, time.Since(start), err
}

func (e *ExecRunner) run(ctx context.Context, path string, argv []string) (string, string, int, time.Duration, error) {
	start := time.Now()
	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Dir = path
	c.Env = append(os.Environ(), "CI=true")

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	dur := time.Since(start)

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), stderr.String(), exitErr.ExitCode(), dur, nil
	}
	if err != nil {
		return stdout.String(), stderr.String(), -1, dur, err
	}
	return stdout.String(), stderr.String(), 0, dur, nil
}

func (e *ExecRunner) RunBuild(ctx context.Context, path string) (BuildResult, error) {
	stdout, stderr, code, dur, err := e.runOnce(ctx, path, e.buildCmd, e.buildTimeout)
	if err != nil {
		return BuildResult{}, err
	}
	return BuildResult{OK: code == 0, Stdout: stdout, Stderr: stderr, Duration: dur}, nil
}

func (e *ExecRunner) RunTests(ctx context.Context, path string) (TestResult, error) {
	stdout, stderr, code, dur, err := e.runOnce(ctx, path, e.testCmd, e.testTimeout)
	if err != nil {
		return TestResult{}, err
	}
	coverage := 0
	if m := coverageRe.FindStringSubmatch(stdout); m != nil {
		if v, convErr := strconv.Atoi(m[1]); convErr == nil {
			coverage = v
		}
	}
	return TestResult{OK: code == 0, CoveragePct: coverage, Stdout: stdout, Stderr: stderr, Duration: dur}, nil
}

func (e *ExecRunner) RunQuality(ctx context.Context, path string) (QualityCheckResult, error) {
	stdout, _, code, dur, err := e.runOnce(ctx, path, e.qualityCmd, e.buildTimeout)
	if err != nil {
		return QualityCheckResult{}, err
	}
	var failures []QualityFailure
	for _, m := range lintRe.FindAllStringSubmatch(stdout, -1) {
		line, _ := strconv.Atoi(m[2])
		failures = append(failures, QualityFailure{Type: "lint", File: m[1], Line: line, Message: m[3]})
	}
	passed := code == 0 && len(failures) == 0
	return QualityCheckResult{Passed: passed, Failures: failures, Duration: dur}, nil
}

var (
	_ BuildRunner   = (*ExecRunner)(nil)
	_ TestRunner    = (*ExecRunner)(nil)
	_ QualityRunner = (*ExecRunner)(nil)
)
