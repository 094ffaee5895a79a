package rag

import (
	"fmt"
	"strings"
)

// ContextBlock is the retrieved text handed to the generator.
type ContextBlock struct {
	Text string
	// Tokens is a whitespace word count, the budget unit.
	Tokens int
	// Sources is the number of distinct documents cited.
	Sources int
}

// Citation labels a chunk the way answers cite it: doc:<source>#<ordinal>.
func Citation(c DocumentChunk) string {
	return fmt.Sprintf("doc:%s#%d", c.Source(), c.Ordinal)
}

// BuildContext lays hits out best first under a CONTEXT header, one cited
// entry per hit, until budget words are used. A budget of zero or less is
// unlimited. The entry that crosses the budget is cut at a word boundary and
// later hits are dropped.
func BuildContext(hits []RetrievalHit, budget int) ContextBlock {
	var (
		b     strings.Builder
		block ContextBlock
		docs  = make(map[string]struct{})
	)
	for _, hit := range hits {
		text := strings.TrimSpace(hit.Chunk.Text)
		words := strings.Fields(text)
		if len(words) == 0 {
			continue
		}
		if budget > 0 {
			left := budget - block.Tokens
			if left <= 0 {
				break
			}
			if len(words) > left {
				words = words[:left]
				text = strings.Join(words, " ")
			}
		}

		if b.Len() == 0 {
			b.WriteString("CONTEXT")
		}
		fmt.Fprintf(&b, "\n[%s] %s", Citation(hit.Chunk), text)
		block.Tokens += len(words)
		docs[hit.Chunk.DocumentID] = struct{}{}
	}
	block.Text = b.String()
	block.Sources = len(docs)
	return block
}

// ContextTexts returns the trimmed chunk texts of hits, in order.
func ContextTexts(hits []RetrievalHit) []string {
	out := make([]string, 0, len(hits))
	for _, hit := range hits {
		if text := strings.TrimSpace(hit.Chunk.Text); text != "" {
			out = append(out, text)
		}
	}
	return out
}
