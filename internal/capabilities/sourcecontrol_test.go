package capabilities

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available on PATH")
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	g := NewExecGit()
	ctx := context.Background()
	out, err := g.run(ctx, dir, "init")
	require.NoError(t, err, out)
	require.NoError(t, g.ConfigureUser(ctx, dir, "Test Bot", "bot@test.local"))
	return dir
}

func TestExecGit_CommitOnEmptyTreeIsNoOpSuccess(t *testing.T) {
	requireGit(t)
	g := NewExecGit()
	dir := initRepo(t)
	committed, err := g.Commit(context.Background(), dir, "chore: nothing to do")
	require.NoError(t, err)
	assert.False(t, committed)
}

func TestExecGit_CommitWithChangesCommits(t *testing.T) {
	requireGit(t)
	g := NewExecGit()
	dir := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0644))

	committed, err := g.Commit(context.Background(), dir, "feat: add readme")
	require.NoError(t, err)
	assert.True(t, committed)

	committed, err = g.Commit(context.Background(), dir, "feat: add readme again")
	require.NoError(t, err)
	assert.False(t, committed)
}

func TestExecGit_CreateBranchSwitchesOrCreates(t *testing.T) {
	requireGit(t)
	g := NewExecGit()
	dir := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644))
	_, err := g.Commit(context.Background(), dir, "feat: seed commit")
	require.NoError(t, err)

	require.NoError(t, g.CreateBranch(context.Background(), dir, "feature-x"))
	require.NoError(t, g.CreateBranch(context.Background(), dir, "feature-x"))
}

func TestCommitMessage_WithAndWithoutScope(t *testing.T) {
	assert.Equal(t, "feat: add widget", CommitMessage("feat", "", "add widget"))
	assert.Equal(t, "feat(widgets): add widget", CommitMessage("feat", "widgets", "add widget"))
}
