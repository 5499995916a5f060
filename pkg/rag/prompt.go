package rag

import (
	"fmt"

	"github.com/finside/bankrag/internal/models"
)

// DefaultSystemInstructions steer the model toward grounded, factual
// answers in a banking register. Callers may override per request or
// via configuration.
const DefaultSystemInstructions = `You are a banking assistant with access to a knowledge base of bank documents.

Guidelines:
1. Answer using the numbered context passages when they are relevant, and cite them as [1], [2], and so on.
2. If the context does not contain the answer, say so clearly instead of guessing.
3. Be concise but thorough, and use professional banking terminology where appropriate.
4. For questions about a customer's own accounts or transactions, direct them to log in or contact support.
5. Never invent facts that are not in the context or common banking knowledge.`

// buildPrompt renders the user-facing part of the generation request.
// With an empty context block the prompt switches to no-context mode:
// the model is told the knowledge base had nothing relevant rather than
// being handed fabricated context.
func buildPrompt(query string, block models.ContextBlock) string {
	if block.Empty() {
		return fmt.Sprintf(`No relevant passages were found in the knowledge base for this question. State clearly that the knowledge base has no information on the topic before answering from general banking knowledge, if you answer at all.

QUESTION: %s`, query)
	}

	return fmt.Sprintf(`Use the context passages below to answer the question. Cite the passages you rely on by their number, like [1] or [2].

CONTEXT:
%s

QUESTION: %s`, RenderContext(block), query)
}
