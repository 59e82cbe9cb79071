package capabilities

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoverageRe_ExtractsPercentage(t *testing.T) {
	m := coverageRe.FindStringSubmatch("running tests...\nCoverage: 87%\nPASS\n")
	require.NotNil(t, m)
	pct, err := strconv.Atoi(m[1])
	require.NoError(t, err)
	assert.Equal(t, 87, pct)
}

func TestCoverageRe_NoMatchWhenAbsent(t *testing.T) {
	m := coverageRe.FindStringSubmatch("running tests...\nPASS\n")
	assert.Nil(t, m)
}

func TestLintRe_ExtractsFileLineMessage(t *testing.T) {
	out := "LINT ERROR: src/index.ts:42 - unused variable 'x'\n"
	matches := lintRe.FindAllStringSubmatch(out, -1)
	require.Len(t, matches, 1)
	assert.Equal(t, "src/index.ts", matches[0][1])
	assert.Equal(t, "42", matches[0][2])
	assert.Equal(t, "unused variable 'x'", matches[0][3])
}

func TestLintRe_MatchesMultipleFindings(t *testing.T) {
	out := "LINT ERROR: a.ts:1 - problem one\nLINT ERROR: b.ts:2 - problem two\n"
	matches := lintRe.FindAllStringSubmatch(out, -1)
	assert.Len(t, matches, 2)
}
