package facts

import (
	"context"
	"testing"

	"github.com/powermem/powermem/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	reply string
	err   error
}

func (p scriptedProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	if p.err != nil {
		return llm.Message{}, p.err
	}
	return llm.Message{Role: "assistant", Content: p.reply}, nil
}

func (p scriptedProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	return nil
}

func TestExtractBypassStoresVerbatim(t *testing.T) {
	e := New(scriptedProvider{}, "test-model", "")
	out, warns, err := e.Extract(context.Background(), Input{Raw: "the sky is blue", Infer: false})
	require.NoError(t, err)
	assert.Empty(t, warns)
	require.Len(t, out, 1)
	assert.Equal(t, "the sky is blue", out[0].Content)
}

func TestExtractParsesJSONWithSurroundingProse(t *testing.T) {
	reply := "Sure, here you go:\n```json\n{\"facts\": [\"user likes pizza\", \"user lives in Berlin\"]}\n```\nLet me know if that helps."
	e := New(scriptedProvider{reply: reply}, "test-model", "")
	out, warns, err := e.Extract(context.Background(), Input{Raw: "some conversation", Infer: true})
	require.NoError(t, err)
	assert.Empty(t, warns)
	require.Len(t, out, 2)
	assert.Equal(t, "user likes pizza", out[0].Content)
}

func TestExtractEmptyFactsListIsValid(t *testing.T) {
	e := New(scriptedProvider{reply: `{"facts": []}`}, "test-model", "")
	out, warns, err := e.Extract(context.Background(), Input{Raw: "just noise", Infer: true})
	require.NoError(t, err)
	assert.Empty(t, warns)
	assert.Empty(t, out)
}

func TestExtractNeverRaisesOnParseFailure(t *testing.T) {
	e := New(scriptedProvider{reply: "not json at all"}, "test-model", "")
	out, warns, err := e.Extract(context.Background(), Input{Raw: "x", Infer: true})
	require.NoError(t, err)
	assert.Empty(t, out)
	require.Len(t, warns, 1)
	assert.Equal(t, KindParseWarning, warns[0].Kind)
}

func TestExtractNeverRaisesOnLLMFailure(t *testing.T) {
	e := New(scriptedProvider{err: assertErr{"boom"}}, "test-model", "")
	out, warns, err := e.Extract(context.Background(), Input{Raw: "x", Infer: true})
	require.NoError(t, err)
	assert.Empty(t, out)
	require.Len(t, warns, 1)
}

func TestExtractFlattensTurnsWhenRawAbsent(t *testing.T) {
	e := New(scriptedProvider{}, "test-model", "")
	out, _, err := e.Extract(context.Background(), Input{
		Turns: []Turn{{Role: RoleUser, Content: "hello"}, {Role: RoleAssistant, Content: "hi there"}},
		Infer: false,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Content, "hello")
	assert.Contains(t, out[0].Content, "hi there")
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
