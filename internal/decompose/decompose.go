// Package decompose implements the Query Decomposition stage (spec §4,
// stage 2): splitting a multi-hop query into up to 5 independent
// sub-questions plus a free-text synthesis instruction describing how to
// recombine their answers. Grounded on
// original_source/query/decomposition.py for the structured-output-with-
// manual-JSON-fallback idiom and the "never return zero sub-questions"
// guarantee.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/knoguchi/ragsentinel/internal/domain"
	"github.com/knoguchi/ragsentinel/internal/llm"
)

// MaxSubQuestions caps how many sub-questions a decomposition can produce,
// matching original_source's MAX_SUBQUESTIONS.
const MaxSubQuestions = 5

const decompositionPrompt = `Break the following complex question into simpler, independent sub-questions that can be answered individually.
Return a JSON object with:
- "sub_questions": list of simple questions (max 5)
- "synthesis_instruction": how to combine the sub-answers into a final answer

If the question is already simple, return it as the only sub-question.

Question: %s`

type decompositionResponse struct {
	SubQuestions         []string `json:"sub_questions"`
	SynthesisInstruction string   `json:"synthesis_instruction"`
}

// Decomposer asks an LLM to split a query into sub-questions.
type Decomposer struct {
	llmClient llm.LLM
	model     string
	logger    *slog.Logger
}

// New creates a Decomposer backed by llmClient.
func New(llmClient llm.LLM, model string, logger *slog.Logger) *Decomposer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decomposer{llmClient: llmClient, model: model, logger: logger}
}

// Decompose returns a DecomposedQuery for query. On any LLM or parse
// failure it degrades to a single-sub-question decomposition containing
// just the original query — decomposition quality is an enhancement, not a
// required stage, and this stage must never fail the request (spec §7).
func (d *Decomposer) Decompose(ctx context.Context, query string) domain.DecomposedQuery {
	prompt := fmt.Sprintf(decompositionPrompt, query)

	var resp decompositionResponse
	err := d.llmClient.GenerateStructured(ctx, prompt, llm.GenerateOptions{Model: d.model, Temperature: 0.0}, &resp)
	if err != nil {
		raw, genErr := d.llmClient.Generate(ctx, prompt, llm.GenerateOptions{Model: d.model, Temperature: 0.0})
		if genErr != nil {
			d.logger.Warn("decomposition_failed", "query", query, "error", genErr)
			return singleQuestion(query)
		}
		if jsonErr := json.Unmarshal([]byte(raw), &resp); jsonErr != nil {
			d.logger.Warn("decomposition_parse_failed", "query", query, "error", jsonErr)
			return singleQuestion(query)
		}
	}

	subQuestions := resp.SubQuestions
	if len(subQuestions) > MaxSubQuestions {
		subQuestions = subQuestions[:MaxSubQuestions]
	}
	if len(subQuestions) == 0 {
		subQuestions = []string{query}
	}

	d.logger.Info("decomposed", "original", query, "sub_questions", len(subQuestions))

	return domain.DecomposedQuery{
		Original:             query,
		SubQuestions:         subQuestions,
		SynthesisInstruction: resp.SynthesisInstruction,
		Decomposed:           len(subQuestions) > 1,
	}
}

func singleQuestion(query string) domain.DecomposedQuery {
	return domain.DecomposedQuery{
		Original:     query,
		SubQuestions: []string{query},
		Decomposed:   false,
	}
}
