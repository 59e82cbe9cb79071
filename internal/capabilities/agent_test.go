package capabilities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseChangedFiles_ExtractsChangedLines(t *testing.T) {
	out := "some log noise\nCHANGED: src/index.ts\nCHANGED:  package.json \nnot a marker\n"
	assert.Equal(t, []string{"src/index.ts", "package.json"}, parseChangedFiles(out))
}

func TestParseChangedFiles_NoneWhenAbsent(t *testing.T) {
	assert.Nil(t, parseChangedFiles("nothing to see here"))
}

func TestContainsResolvedMarker_DetectsExactLine(t *testing.T) {
	assert.True(t, containsResolvedMarker("doing work\nRESOLVED: no retry needed\n"))
	assert.False(t, containsResolvedMarker("doing work\nstill broken\n"))
}

func TestSplitLines_HandlesTrailingAndNoTrailingNewline(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitLines("a\nb\nc"))
	assert.Equal(t, []string{"a", "b"}, splitLines("a\nb\n"))
	assert.Nil(t, splitLines(""))
}

func TestTrimSpace_StripsLeadingAndTrailingWhitespace(t *testing.T) {
	assert.Equal(t, "hello", trimSpace("  hello \t\r"))
	assert.Equal(t, "", trimSpace("   "))
	assert.Equal(t, "mid dle", trimSpace("mid dle"))
}
