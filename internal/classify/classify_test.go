package classify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildforge/internal/capabilities"
	"buildforge/internal/model"
)

type fakeRegistry struct {
	lookup capabilities.RegistryLookup
	err    error
}

func (f *fakeRegistry) Lookup(ctx context.Context, name string) (capabilities.RegistryLookup, error) {
	return f.lookup, f.err
}

func (f *fakeRegistry) Publish(ctx context.Context, name, path, token string) (capabilities.PublishResult, error) {
	return capabilities.PublishResult{OK: true}, nil
}

func TestClassify_VerdictCombinations(t *testing.T) {
	existingDir := t.TempDir()

	tests := []struct {
		name     string
		localDir string
		lookup   capabilities.RegistryLookup
		planText string
		want     model.PreflightVerdict
	}{
		{
			name:     "never published, no local dir, is fresh",
			localDir: filepath.Join(existingDir, "does-not-exist"),
			lookup:   capabilities.RegistryLookup{Published: false},
			want:     model.VerdictFresh,
		},
		{
			name:     "never published, local dir exists, is partial",
			localDir: existingDir,
			lookup:   capabilities.RegistryLookup{Published: false},
			want:     model.VerdictPartial,
		},
		{
			name:     "published with no upgrade language is published-current",
			localDir: existingDir,
			lookup:   capabilities.RegistryLookup{Published: true, Version: "1.0.0"},
			planText: "add a new helper function",
			want:     model.VerdictPublishedCurrent,
		},
		{
			name:     "published with upgrade language needs upgrade",
			localDir: existingDir,
			lookup:   capabilities.RegistryLookup{Published: true, Version: "1.0.0"},
			planText: "this is a breaking change",
			want:     model.VerdictNeedsUpgrade,
		},
		{
			name:     "published with version-to-version language needs upgrade",
			localDir: existingDir,
			lookup:   capabilities.RegistryLookup{Published: true, Version: "1.0.0"},
			planText: "bump version 1.0.0 to 2.0.0",
			want:     model.VerdictNeedsUpgrade,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := &fakeRegistry{lookup: tt.lookup}
			verdict, lookup, err := Classify(context.Background(), reg, "pkg", tt.localDir, tt.planText)
			require.NoError(t, err)
			assert.Equal(t, tt.want, verdict)
			assert.Equal(t, tt.lookup, lookup)
		})
	}
}

func TestClassify_RegistryErrorPropagates(t *testing.T) {
	reg := &fakeRegistry{err: assertError("boom")}
	_, _, err := Classify(context.Background(), reg, "pkg", "", "")
	assert.Error(t, err)
}

func TestHasUpgradeIndicator(t *testing.T) {
	assert.True(t, HasUpgradeIndicator("please UPGRADE this package"))
	assert.True(t, HasUpgradeIndicator("migration needed"))
	assert.False(t, HasUpgradeIndicator("just add a helper"))
}

func TestAuditContext_ExistingAndMissingAreDisjoint(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte("{}"), 0644))

	ctx := AuditContext(dir, []string{"package.json", "src"})
	assert.Equal(t, []string{"package.json"}, ctx.ExistingFiles)
	assert.Equal(t, []string{"src"}, ctx.MissingFiles)
	assert.Equal(t, 50, ctx.CompletionPercentage)
}

type assertError string

func (e assertError) Error() string { return string(e) }
