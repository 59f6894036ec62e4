package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knoguchi/ragsentinel/internal/domain"
	"github.com/knoguchi/ragsentinel/internal/generator"
	"github.com/knoguchi/ragsentinel/internal/llm"
)

// DocConflict describes a contradiction found between two evidence
// passages.
type DocConflict struct {
	PassageA    int    `json:"passage_a"`
	PassageB    int    `json:"passage_b"`
	Description string `json:"description"`
}

type docContradictionResponse struct {
	Contradictions    []DocConflict `json:"contradictions"`
	ContradictionRate float64       `json:"contradiction_rate"`
}

type answerContradictionResponse struct {
	Contradictions    []map[string]any `json:"contradictions"`
	ContradictionRate float64          `json:"contradiction_rate"`
}

// maxConflictPassages bounds how many evidence chunks are compared for
// doc-vs-doc contradictions, matching original_source's chunks[:5].
const maxConflictPassages = 5

// ContradictionDetector finds conflicts between evidence passages and
// between an answer and its evidence.
type ContradictionDetector struct {
	llmClient llm.LLM
	model     string
	logger    *slog.Logger
}

// NewContradictionDetector creates a ContradictionDetector backed by llmClient.
func NewContradictionDetector(llmClient llm.LLM, model string, logger *slog.Logger) *ContradictionDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContradictionDetector{llmClient: llmClient, model: model, logger: logger}
}

// DetectDocConflicts looks for contradictions among the top evidence
// chunks themselves. Fewer than two chunks can never contradict, so it
// returns immediately in that case.
func (d *ContradictionDetector) DetectDocConflicts(ctx context.Context, evidence []domain.RetrievalCandidate) []DocConflict {
	if len(evidence) < 2 {
		return nil
	}
	n := len(evidence)
	if n > maxConflictPassages {
		n = maxConflictPassages
	}

	var sb strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Passage %d: %s", i+1, evidence[i].Chunk.Content)
	}
	prompt := fmt.Sprintf(docContradictionPrompt, sb.String())

	var resp docContradictionResponse
	err := d.llmClient.GenerateStructured(ctx, prompt, llm.GenerateOptions{Model: d.model, Temperature: 0.0}, &resp)
	if err != nil {
		raw, genErr := d.llmClient.Generate(ctx, prompt, llm.GenerateOptions{Model: d.model, Temperature: 0.0})
		if genErr != nil {
			d.logger.Warn("doc_conflict_detection_failed", "error", genErr)
			return nil
		}
		if jsonErr := json.Unmarshal([]byte(raw), &resp); jsonErr != nil {
			d.logger.Warn("doc_conflict_detection_failed", "error", jsonErr)
			return nil
		}
	}
	return resp.Contradictions
}

// DetectAnswerConflicts returns the rate, in [0,1], at which answer
// contradicts its evidence. Any LLM or parse failure degrades to 0.0 (no
// contradiction found) rather than failing the request.
func (d *ContradictionDetector) DetectAnswerConflicts(ctx context.Context, answer string, evidence []domain.RetrievalCandidate) float64 {
	evidenceBlock := generator.FormatEvidenceBlock(evidence)
	prompt := fmt.Sprintf(answerContradictionPrompt, answer, evidenceBlock)

	var resp answerContradictionResponse
	err := d.llmClient.GenerateStructured(ctx, prompt, llm.GenerateOptions{Model: d.model, Temperature: 0.0}, &resp)
	if err != nil {
		raw, genErr := d.llmClient.Generate(ctx, prompt, llm.GenerateOptions{Model: d.model, Temperature: 0.0})
		if genErr != nil {
			d.logger.Warn("answer_conflict_detection_failed", "error", genErr)
			return 0.0
		}
		if jsonErr := json.Unmarshal([]byte(raw), &resp); jsonErr != nil {
			d.logger.Warn("answer_conflict_detection_failed", "error", jsonErr)
			return 0.0
		}
	}

	rate := clamp01(resp.ContradictionRate)
	d.logger.Info("answer_contradiction_rate", "rate", rate)
	return rate
}
