package generator

import (
	"fmt"
	"strings"

	"github.com/knoguchi/ragsentinel/internal/domain"
)

// MaxEvidenceChunks is the maximum number of candidates placed in the
// numbered evidence block (spec §4.8: "up to 10 chunks").
const MaxEvidenceChunks = 10

// FormatEvidenceBlock renders candidates as a numbered `[1] ..., [2] ...`
// block, capped at MaxEvidenceChunks. Exported so the verifier bank can
// build the identical block its prompts reference the same way the
// generator's prompt does.
func FormatEvidenceBlock(candidates []domain.RetrievalCandidate) string {
	n := len(candidates)
	if n > MaxEvidenceChunks {
		n = MaxEvidenceChunks
	}
	var sb strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s", i+1, candidates[i].Chunk.Content)
	}
	return sb.String()
}

// formatDecompositionContext renders the sub-question plan so the
// generation prompt can ask the model to address every aspect, per
// original_source/generation/prompt_templates.py's
// format_decomposition_context. Returns "" when there is nothing to add
// (no decomposition, or only one sub-question).
func formatDecompositionContext(decomposition *domain.DecomposedQuery) string {
	if decomposition == nil || len(decomposition.SubQuestions) <= 1 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Consider these aspects:\n")
	for i, sq := range decomposition.SubQuestions {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, sq)
	}
	if decomposition.SynthesisInstruction != "" {
		fmt.Fprintf(&sb, "\nSynthesis approach: %s", decomposition.SynthesisInstruction)
	}
	return sb.String()
}
