package prompt

import (
	"fmt"
	"strings"

	"cyborg-chat-be/pkg/llm"
	"cyborg-chat-be/pkg/rag/retrieval"
)

// ContextualBuilder builds the system prompt around retrieved document chunks
type ContextualBuilder struct {
	contexts []retrieval.ContextChunk
}

// NewContextualBuilder creates a new contextual prompt builder
func NewContextualBuilder(contexts []retrieval.ContextChunk) *ContextualBuilder {
	return &ContextualBuilder{contexts: contexts}
}

// Build creates the system prompt. Without context it still describes the
// assistant, so plain conversation works.
func (b *ContextualBuilder) Build() string {
	var prompt strings.Builder

	b.writeTask(&prompt)
	b.writeReferenceMaterial(&prompt)
	b.writeGuidelines(&prompt)

	return prompt.String()
}

// Messages assembles the chat sent to the model: system prompt, prior turns
// without system messages, then the new question.
func (b *ContextualBuilder) Messages(history []llm.Message, query string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: b.Build()})
	for _, m := range history {
		if m.Role == llm.RoleSystem {
			continue
		}
		messages = append(messages, m)
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: query})
}

func (b *ContextualBuilder) writeTask(prompt *strings.Builder) {
	prompt.WriteString("<task>\n")
	prompt.WriteString("You are a knowledgeable assistant helping the user understand the documents they uploaded to this chat.\n")
	prompt.WriteString("Answer the user's latest question using the reference material when it is relevant.\n")
	prompt.WriteString("</task>\n\n")
}

func (b *ContextualBuilder) writeReferenceMaterial(prompt *strings.Builder) {
	if len(b.contexts) == 0 {
		return
	}

	prompt.WriteString("<reference_material>\n")
	for i, c := range b.contexts {
		prompt.WriteString(fmt.Sprintf("<source index=\"%d\" file=\"%s\" chunk=\"%d\"", i+1, c.Filename, c.ChunkIndex))
		if c.PageNumber != nil {
			prompt.WriteString(fmt.Sprintf(" page=\"%d\"", *c.PageNumber))
		}
		prompt.WriteString(">\n")
		prompt.WriteString(strings.TrimSpace(c.Content))
		prompt.WriteString("\n</source>\n")
	}
	prompt.WriteString("</reference_material>\n\n")
}

func (b *ContextualBuilder) writeGuidelines(prompt *strings.Builder) {
	prompt.WriteString("<guidelines>\n")
	if len(b.contexts) > 0 {
		prompt.WriteString("1. Base your answer on the reference material provided\n")
		prompt.WriteString("2. Mention the file name (and page when given) of the sources you rely on\n")
		prompt.WriteString("3. If the material doesn't contain what's being asked, say so honestly\n")
	} else {
		prompt.WriteString("1. No documents were selected for this question; answer from the conversation\n")
		prompt.WriteString("2. If you are not sure, say so honestly\n")
	}
	prompt.WriteString("Be clear and well-organized in your presentation.\n")
	prompt.WriteString("</guidelines>\n")
}
