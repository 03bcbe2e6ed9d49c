package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForWriteRequiresUserOrAgent(t *testing.T) {
	_, err := ForWrite(Request{RunID: "r1"})
	assert.ErrorIs(t, err, ErrMissingScope)

	r, err := ForWrite(Request{UserID: "  u1  "})
	require.NoError(t, err)
	assert.Equal(t, "u1", r.Scope.UserID)

	r, err = ForWrite(Request{AgentID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, "a1", r.Scope.AgentID)
}

func TestForReadUnfilteredRequiresInternalFlag(t *testing.T) {
	_, err := ForRead(Request{})
	assert.ErrorIs(t, err, ErrMissingScope)

	r, err := ForRead(Request{Unfiltered: true})
	require.NoError(t, err)
	assert.True(t, r.Scope.IsZero())
}

func TestForReadGroupScopes(t *testing.T) {
	r, err := ForRead(Request{AgentID: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, "agent-1", r.Filter.Scope.AgentID)
	assert.Empty(t, r.Filter.Scope.UserID)

	r, err = ForRead(Request{UserID: "user-1", AgentID: "agent-1", RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, "user-1", r.Filter.Scope.UserID)
	assert.Equal(t, "agent-1", r.Filter.Scope.AgentID)
	assert.Equal(t, "run-1", r.Filter.Scope.RunID)
}

func TestCanonicalizationTreatsWhitespaceAsAbsent(t *testing.T) {
	_, err := ForWrite(Request{UserID: "   "})
	assert.ErrorIs(t, err, ErrMissingScope)
}
