// Package chunker splits raw document text into overlapping,
// sentence-aware segments sized for embedding. Chunking is fully
// deterministic: identical input and parameters always produce identical
// boundaries, which keeps chunk ids stable across re-ingestion.
package chunker

import (
	"strings"
	"unicode"

	"github.com/finside/bankrag/internal/models"
)

type Chunker struct {
	maxChars     int
	overlapChars int
}

// New creates a Chunker. maxChars must be positive and overlapChars must
// satisfy 0 <= overlapChars < maxChars.
func New(maxChars, overlapChars int) (*Chunker, error) {
	if maxChars <= 0 {
		return nil, &models.ValidationError{Field: "maxChars", Message: "must be positive"}
	}
	if overlapChars < 0 || overlapChars >= maxChars {
		return nil, &models.ValidationError{Field: "overlapChars", Message: "must be non-negative and smaller than maxChars"}
	}
	return &Chunker{maxChars: maxChars, overlapChars: overlapChars}, nil
}

// Chunk splits text into ordered segments. Sentences are accumulated
// until the next one would exceed the budget; each new segment starts
// with up to overlapChars of trailing content from the previous one,
// sentence-aligned when the trailing sentences fit, raw runes otherwise.
// A single sentence longer than the budget is hard-split, never dropped.
// The budget is soft: a segment may exceed maxChars by its overlap seed.
// Empty or whitespace-only input yields no segments.
func (c *Chunker) Chunk(text string) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string

	// cur holds the segment being accumulated. Entries before newStart
	// are overlap carried from the previous segment; a segment is only
	// emitted once it holds at least one new sentence.
	var cur []string
	curLen := 0
	newStart := 0

	emit := func() {
		chunks = append(chunks, strings.Join(cur, " "))
		tail, tailLen := overlapTail(cur, c.overlapChars)
		cur = tail
		curLen = tailLen
		newStart = len(cur)
	}

	for _, sentence := range sentences {
		runes := []rune(sentence)

		if len(runes) > c.maxChars {
			if len(cur) > newStart {
				emit()
			}
			cur = nil
			curLen = 0
			newStart = 0

			// The remainder always carries content beyond the last
			// emitted window, so it counts as new, not as overlap.
			rest := c.hardSplit(runes, &chunks)
			if len(rest) > 0 {
				cur = []string{string(rest)}
				curLen = len(rest)
			}
			continue
		}

		candidate := curLen + len(runes)
		if curLen > 0 {
			candidate++ // joining space
		}
		if candidate > c.maxChars && len(cur) > newStart {
			emit()
			candidate = curLen + len(runes)
			if curLen > 0 {
				candidate++
			}
		}

		cur = append(cur, sentence)
		curLen = candidate
	}

	if len(cur) > newStart {
		chunks = append(chunks, strings.Join(cur, " "))
	}

	return chunks
}

// hardSplit emits maxChars-sized windows of an oversized sentence,
// stepping maxChars-overlapChars so consecutive windows overlap. The
// final partial window is returned to seed the next segment.
func (c *Chunker) hardSplit(runes []rune, chunks *[]string) []rune {
	step := c.maxChars - c.overlapChars
	i := 0
	for ; i+c.maxChars <= len(runes); i += step {
		*chunks = append(*chunks, string(runes[i:i+c.maxChars]))
		if i+c.maxChars == len(runes) {
			return nil
		}
	}
	return runes[i:]
}

// overlapTail picks trailing sentences of the emitted segment totalling
// at most budget runes. When even the last sentence is too long, it
// falls back to the raw trailing budget runes of the segment.
func overlapTail(sents []string, budget int) ([]string, int) {
	if budget <= 0 || len(sents) == 0 {
		return nil, 0
	}

	var tail []string
	total := 0
	for i := len(sents) - 1; i >= 0; i-- {
		n := len([]rune(sents[i]))
		if total > 0 {
			n++ // joining space
		}
		if total+n > budget {
			break
		}
		tail = append([]string{sents[i]}, tail...)
		total += n
	}
	if len(tail) > 0 {
		return tail, total
	}

	joined := []rune(strings.Join(sents, " "))
	if len(joined) > budget {
		joined = joined[len(joined)-budget:]
	}
	return []string{string(joined)}, len(joined)
}

// splitSentences breaks text on sentence terminators (. ! ?) followed by
// whitespace or end of input. Trailing text without a terminator forms a
// final sentence. Results are trimmed; blanks are dropped.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			sentences = append(sentences, s)
		}
		cur.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
	}
	flush()

	return sentences
}
