package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPackageAuditContext_RoundTrip(t *testing.T) {
	tests := []struct {
		name        string
		existing    []string
		missing     []string
		wantPct     int
		wantStatus  AuditStatus
	}{
		{
			name:       "fully complete",
			existing:   []string{"package.json", "src/index.ts"},
			missing:    nil,
			wantPct:    100,
			wantStatus: AuditComplete,
		},
		{
			name:       "half done rounds half up",
			existing:   []string{"package.json"},
			missing:    []string{"src/index.ts"},
			wantPct:    50,
			wantStatus: AuditIncomplete,
		},
		{
			name:       "two of three rounds up",
			existing:   []string{"a", "b"},
			missing:    []string{"c"},
			wantPct:    67,
			wantStatus: AuditIncomplete,
		},
		{
			name:       "nothing exists and nothing expected",
			existing:   nil,
			missing:    nil,
			wantPct:    0,
			wantStatus: AuditIncomplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := NewPackageAuditContext(tt.existing, tt.missing, nil)
			assert.Equal(t, tt.wantPct, ctx.CompletionPercentage)
			assert.Equal(t, tt.wantStatus, ctx.Status)

			existingSet := map[string]bool{}
			for _, f := range ctx.ExistingFiles {
				existingSet[f] = true
			}
			for _, f := range ctx.MissingFiles {
				assert.False(t, existingSet[f], "existing and missing files must be disjoint: %s", f)
			}
		})
	}
}

func TestPackageNode_DependencyNames_SortedAndDeterministic(t *testing.T) {
	n := &PackageNode{
		Dependencies: map[string]struct{}{"z-pkg": {}, "a-pkg": {}, "m-pkg": {}},
	}
	got := n.DependencyNames()
	assert.Equal(t, []string{"a-pkg", "m-pkg", "z-pkg"}, got)

	got2 := n.DependencyNames()
	assert.Equal(t, got, got2)
}
