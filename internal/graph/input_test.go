package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAuditReport_RootNameRequired(t *testing.T) {
	_, err := ParseAuditReport([]byte(`{"rootPackage":{"path":"/ws/widgets"}}`))
	assert.Error(t, err)
}

func TestParseAuditReport_DecodesRootAndDependencies(t *testing.T) {
	doc := []byte(`{
		"rootPackage": {"name": "widgets", "path": "/ws/widgets", "category": "core"},
		"dependencies": [
			{"name": "validators", "path": "/ws/validators", "category": "validator"}
		]
	}`)
	report, err := ParseAuditReport(doc)
	require.NoError(t, err)
	assert.Equal(t, "widgets", report.RootPackage.Name)
	require.Len(t, report.Dependencies, 1)
	assert.Equal(t, "validators", report.Dependencies[0].Name)
}

func TestRefsFromAuditReport_RootDependsOnEachNamedDependency(t *testing.T) {
	report := AuditReport{
		RootPackage: PackageRef{Name: "widgets", Path: "/ws/widgets", Category: "core"},
		Dependencies: []PackageRef{
			{Name: "validators", Category: "validator"},
			{Name: "utils", Category: "utility"},
		},
	}
	refs := RefsFromAuditReport(report)
	require.Len(t, refs, 3)
	assert.Equal(t, "widgets", refs[0].Name)
	assert.Equal(t, []string{"validators", "utils"}, refs[0].Deps)
}

func TestRefsFromAuditReport_FeedsBuildWithoutCycle(t *testing.T) {
	report := AuditReport{
		RootPackage:  PackageRef{Name: "widgets", Category: "core"},
		Dependencies: []PackageRef{{Name: "validators", Category: "validator"}},
	}
	nodes, err := Build(SpecsFromRefs(RefsFromAuditReport(report)))
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "validators", nodes[0].Name)
	assert.Equal(t, "widgets", nodes[1].Name)
}

func TestJSONPlanParser_ParsesFeatureListIntoRefs(t *testing.T) {
	doc := []byte(`{
		"features": [
			{"id": "f1", "name": "widgets", "category": "core", "dependencies": ["validators"]},
			{"id": "f2", "name": "validators", "category": "validator"}
		]
	}`)
	refs, err := JSONPlanParser{}.ParsePlan(doc)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "widgets", refs[0].Name)
	assert.Equal(t, []string{"validators"}, refs[0].Deps)
}

func TestJSONPlanParser_FallsBackToIDWhenNameMissing(t *testing.T) {
	refs, err := JSONPlanParser{}.ParsePlan([]byte(`{"features":[{"id":"f1","category":"core"}]}`))
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "f1", refs[0].Name)
}

func TestJSONPlanParser_NoFeaturesIsFatal(t *testing.T) {
	_, err := JSONPlanParser{}.ParsePlan([]byte(`{"features":[]}`))
	assert.Error(t, err)
}

func TestJSONPlanParser_MissingIDAndNameIsFatal(t *testing.T) {
	_, err := JSONPlanParser{}.ParsePlan([]byte(`{"features":[{"category":"core"}]}`))
	assert.Error(t, err)
}
