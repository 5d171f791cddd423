package rag

import (
	"fmt"
	"strings"
)

// systemPrompt is the fixed grounding instruction sent with every query.
// It binds answers to the supplied context and shapes a graceful decline
// when the context is insufficient.
const systemPrompt = `You are a helpful assistant that answers questions about a private document collection.

Ground every answer in the context passages provided in the user message. When the context does not contain the information needed, say that you don't have information about that topic in the indexed documents — do not guess and do not answer from general knowledge. Cite the source filenames you relied on when it helps the reader. Keep answers concise.`

// contextSeparator divides context passages in the composed prompt.
const contextSeparator = "\n\n---\n\n"

// buildUserMessage composes the single user message: the retrieved context
// with source labels, followed by the question. With zero hits the context
// section says so explicitly, which steers the model into the decline shaped
// by the system prompt.
func buildUserMessage(hits []Result, query string) string {
	var b strings.Builder

	b.WriteString("Context:\n\n")
	if len(hits) == 0 {
		b.WriteString("(no matching passages were found in the document collection)")
	} else {
		for i, h := range hits {
			if i > 0 {
				b.WriteString(contextSeparator)
			}
			fmt.Fprintf(&b, "[source: %s, part %d/%d]\n", h.Metadata.Filename, h.Metadata.ChunkIndex+1, h.Metadata.TotalChunks)
			b.WriteString(h.Text)
		}
	}

	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	return b.String()
}

// sourceList returns the ordered deduplication of the retrieved chunks'
// filenames. Order follows retrieval rank, so the most relevant source
// comes first. The result is never nil — clients receive [] rather than
// null for a context-free answer.
func sourceList(hits []Result) []string {
	sources := make([]string, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		name := h.Metadata.Filename
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		sources = append(sources, name)
	}
	return sources
}
