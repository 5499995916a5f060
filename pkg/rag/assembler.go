package rag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/finside/bankrag/internal/models"
)

// Assemble turns ranked retrieval results into a size-bounded, cited
// context block. Results are admitted greedily in rank order until the
// next rendered entry would exceed maxContextChars; a chunk is either
// included whole or not at all. Citation indices are 1-based in order
// of inclusion.
func Assemble(results []models.RetrievalResult, maxContextChars int) models.ContextBlock {
	block := models.ContextBlock{Budget: maxContextChars}

	for _, res := range sortByRank(results) {
		citation := len(block.Entries) + 1
		rendered := renderEntry(citation, res)

		n := len([]rune(rendered))
		if len(block.Entries) > 0 {
			n += 2 // separating blank line
		}
		if block.Chars+n > maxContextChars {
			break
		}

		block.Entries = append(block.Entries, models.ContextEntry{Citation: citation, Result: res})
		block.Chars += n
	}

	return block
}

// RenderContext renders the block the way the generation prompt embeds
// it, one numbered passage per entry.
func RenderContext(block models.ContextBlock) string {
	parts := make([]string, 0, len(block.Entries))
	for _, e := range block.Entries {
		parts = append(parts, renderEntry(e.Citation, e.Result))
	}
	return strings.Join(parts, "\n\n")
}

func renderEntry(citation int, res models.RetrievalResult) string {
	label := res.Chunk.SourceID
	if filename := res.Chunk.Metadata["filename"]; filename != "" {
		label = filename
	}

	var header strings.Builder
	fmt.Fprintf(&header, "[%d] (source: %s", citation, label)
	if page := res.Chunk.Metadata["page"]; page != "" {
		fmt.Fprintf(&header, ", page %s", page)
	}
	fmt.Fprintf(&header, ", relevance: %.2f)", res.Score)

	return header.String() + "\n" + res.Chunk.Text
}

// sortByRank restores score-descending, id-ascending order. Citation
// stability requires it even when a store returns results pre-ordered.
func sortByRank(results []models.RetrievalResult) []models.RetrievalResult {
	sorted := make([]models.RetrievalResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Chunk.ID < sorted[j].Chunk.ID
	})
	return sorted
}
