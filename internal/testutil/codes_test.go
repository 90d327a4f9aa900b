package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptedCodes_ScriptThenFallback(t *testing.T) {
	c := NewScriptedCodes("ABCDEFGH", "ABCDEFGH")
	for _, want := range []string{"ABCDEFGH", "ABCDEFGH", "C0000001", "C0000002"} {
		got, err := c.Generate(8)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := c.Generate(6)
	require.NoError(t, err)
	assert.Equal(t, "C00003", got)
}

func TestScriptedCodes_CopiesScript(t *testing.T) {
	script := []string{"AAAAAAAA"}
	c := NewScriptedCodes(script...)
	script[0] = "ZZZZZZZZ"

	got, err := c.Generate(8)
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAA", got)
}
