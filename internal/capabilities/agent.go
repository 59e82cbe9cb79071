package capabilities

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/creack/pty"

	"buildforge/internal/logging"
)

// PTYAgentExecutor runs an external coding-agent CLI as an interactive
// subprocess over a pseudo-terminal — many agent CLIs detect a non-tty
// stdout and drop into a restricted non-interactive mode, so a real pty
// is needed to get full tool-use behavior out of them.
type PTYAgentExecutor struct {
	Timeout time.Duration
}

// NewPTYAgentExecutor returns an executor bounded by the 30-minute agent
// execution timeout from the concurrency model.
func NewPTYAgentExecutor() *PTYAgentExecutor {
	return &PTYAgentExecutor{Timeout: 30 * time.Minute}
}

// Execute runs agentPath as a subprocess, feeding it the task as a single
// line of stdin and capturing everything it writes to the pty.
func (e *PTYAgentExecutor) Execute(ctx context.Context, agentPath string, ac AgentExecutionContext) (AgentExecutionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, agentPath,
		"--package", ac.PackageName,
		"--path", ac.PackagePath,
		"--workspace", ac.WorkspaceRoot,
	)
	cmd.Dir = ac.PackagePath

	f, err := pty.Start(cmd)
	if err != nil {
		return AgentExecutionResult{}, fmt.Errorf("agent executor: pty start: %w", err)
	}
	defer f.Close()

	if _, err := f.Write([]byte(ac.Task + "\n")); err != nil {
		logging.S().Warnw("agent executor: failed writing task to pty", "package", ac.PackageName, "err", err)
	}

	var out bytes.Buffer
	copyDone := make(chan struct{})
	go func() {
		io.Copy(&out, f)
		close(copyDone)
	}()

	waitErr := cmd.Wait()
	select {
	case <-copyDone:
	case <-time.After(2 * time.Second):
		// pty read can block past process exit on some platforms; don't
		// hang the pipeline waiting for the copy goroutine to notice.
	}

	output := out.String()
	result := AgentExecutionResult{Output: output}

	if waitErr != nil {
		if ctx.Err() != nil {
			return result, fmt.Errorf("agent executor: timed out after %s", e.Timeout)
		}
		result.Success = false
		result.Err = fmt.Errorf("agent executor: %w", waitErr)
		return result, nil
	}

	result.Success = true
	result.Changes = parseChangedFiles(output)
	result.Resolved = containsResolvedMarker(output)
	return result, nil
}

func parseChangedFiles(output string) []string {
	var changes []string
	for _, line := range splitLines(output) {
		if len(line) > 8 && line[:8] == "CHANGED:" {
			changes = append(changes, trimSpace(line[8:]))
		}
	}
	return changes
}

func containsResolvedMarker(output string) bool {
	for _, line := range splitLines(output) {
		if trimSpace(line) == "RESOLVED: no retry needed" {
			return true
		}
	}
	return false
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && (s[i] == ' ' || s[i] == '\t' || s[i] == '\r') {
		i++
	}
	for j > i && (s[j-1] == ' ' || s[j-1] == '\t' || s[j-1] == '\r') {
		j--
	}
	return s[i:j]
}

var _ AgentExecutor = (*PTYAgentExecutor)(nil)
