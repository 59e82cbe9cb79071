package capabilities

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"buildforge/internal/logging"
)

// ExecGit is a SourceControl implementation that shells out to the local
// git CLI against a package's working tree, rather than talking to a
// hosted git API — the pipeline owns a real checkout per package, not a
// remote repository record.
type ExecGit struct{}

// NewExecGit returns the local-git SourceControl adapter.
func NewExecGit() *ExecGit { return &ExecGit{} }

func (g *ExecGit) run(ctx context.Context, repoPath string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoPath
	var out strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("%v: %w: %s", cmd.Args, err, out.String())
	}
	return out.String(), nil
}

func (g *ExecGit) ConfigureUser(ctx context.Context, repoPath, name, email string) error {
	if _, err := g.run(ctx, repoPath, "config", "user.name", name); err != nil {
		return err
	}
	_, err := g.run(ctx, repoPath, "config", "user.email", email)
	return err
}

func (g *ExecGit) CreateBranch(ctx context.Context, repoPath, branch string) error {
	out, err := g.run(ctx, repoPath, "branch", "--format", "%(refname:short)")
	if err != nil {
		return err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == branch {
			_, err := g.run(ctx, repoPath, "checkout", branch)
			return err
		}
	}
	_, err = g.run(ctx, repoPath, "checkout", "-b", branch)
	return err
}

// Commit stages everything and commits. An empty working tree is a no-op
// success, matching the pipeline's "no changes" contract.
func (g *ExecGit) Commit(ctx context.Context, repoPath, message string) (bool, error) {
	if _, err := g.run(ctx, repoPath, "add", "-A"); err != nil {
		return false, err
	}
	status, err := g.run(ctx, repoPath, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(status) == "" {
		return false, nil
	}
	if _, err := g.run(ctx, repoPath, "commit", "-m", message); err != nil {
		return false, err
	}
	return true, nil
}

// Push is non-fatal by contract: the caller logs failures but treats the
// package as published regardless.
func (g *ExecGit) Push(ctx context.Context, repoPath, remote, branch string, force bool) error {
	args := []string{"push", remote, branch}
	if force {
		args = append(args, "--force")
	}
	_, err := g.run(ctx, repoPath, args...)
	if err != nil {
		logging.S().Warnw("push failed, continuing (push is non-fatal)", "repo", repoPath, "remote", remote, "branch", branch, "err", err)
	}
	return err
}

// CommitMessage builds a conventional-commit message: <type>(<scope>): <subject>.
func CommitMessage(commitType, scope, subject string) string {
	if scope == "" {
		return fmt.Sprintf("%s: %s", commitType, subject)
	}
	return fmt.Sprintf("%s(%s): %s", commitType, scope, subject)
}

var _ SourceControl = (*ExecGit)(nil)

// DefaultGitUserName/-Email are a default identity for ConfigureUser callers;
// nothing in this module passes them to ConfigureUser automatically.
const (
	DefaultGitUserName  = "buildforge-bot"
	DefaultGitUserEmail = "buildforge-bot@localhost"
)

func init() {
	// Ensure a sane default PATH lookup for git in minimal container images.
	if os.Getenv("PATH") == "" {
		os.Setenv("PATH", "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
	}
}
