package prompt

import (
	"testing"

	"cyborg-chat-be/pkg/llm"
	"cyborg-chat-be/pkg/rag/retrieval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildWithContext(t *testing.T) {
	page := 4
	b := NewContextualBuilder([]retrieval.ContextChunk{
		{Filename: "report.pdf", ChunkIndex: 7, PageNumber: &page, Content: "  Revenue grew 12%.  "},
		{Filename: "notes.txt", ChunkIndex: 0, Content: "Meeting on Monday."},
	})

	got := b.Build()
	assert.Contains(t, got, "<reference_material>")
	assert.Contains(t, got, `<source index="1" file="report.pdf" chunk="7" page="4">`)
	assert.Contains(t, got, "Revenue grew 12%.\n</source>")
	assert.Contains(t, got, `<source index="2" file="notes.txt" chunk="0">`)
}

func TestBuildWithoutContext(t *testing.T) {
	got := NewContextualBuilder(nil).Build()
	assert.NotContains(t, got, "<reference_material>")
	assert.Contains(t, got, "No documents were selected")
}

func TestMessagesOrder(t *testing.T) {
	history := []llm.Message{
		{Role: llm.RoleSystem, Content: "stale"},
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
	}

	msgs := NewContextualBuilder(nil).Messages(history, "what now?")
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, "hello", msgs[2].Content)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "what now?"}, msgs[3])
}
