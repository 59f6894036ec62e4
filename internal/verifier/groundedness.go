// Package verifier implements the Verifier Bank and Verification Decision
// Maker (spec §4.9–4.10): groundedness scoring, doc-vs-doc and
// answer-vs-evidence contradiction detection, and self-consistency
// comparison, combined into a pass/warn/abstain decision. Grounded on
// original_source/verification/{groundedness,contradiction,
// self_consistency,decision}.py.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/knoguchi/ragsentinel/internal/domain"
	"github.com/knoguchi/ragsentinel/internal/generator"
	"github.com/knoguchi/ragsentinel/internal/llm"
)

type groundednessResponse struct {
	Score              float64  `json:"score"`
	UnsupportedClaims  []string `json:"unsupported_claims"`
}

// GroundednessChecker scores how well an answer is supported by its
// evidence.
type GroundednessChecker struct {
	llmClient llm.LLM
	model     string
	logger    *slog.Logger
}

// NewGroundednessChecker creates a GroundednessChecker backed by llmClient.
func NewGroundednessChecker(llmClient llm.LLM, model string, logger *slog.Logger) *GroundednessChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &GroundednessChecker{llmClient: llmClient, model: model, logger: logger}
}

// Check returns a groundedness score in [0,1] for answer given its
// evidence. Any LLM or parse failure degrades to the neutral default 0.5
// rather than failing the request (spec §7).
func (c *GroundednessChecker) Check(ctx context.Context, query, answer string, evidence []domain.RetrievalCandidate) (float64, []string) {
	evidenceBlock := generator.FormatEvidenceBlock(evidence)
	prompt := fmt.Sprintf(groundednessCheckPrompt, answer, evidenceBlock)

	var resp groundednessResponse
	err := c.llmClient.GenerateStructured(ctx, prompt, llm.GenerateOptions{Model: c.model, Temperature: 0.0}, &resp)
	if err != nil {
		raw, genErr := c.llmClient.Generate(ctx, prompt, llm.GenerateOptions{Model: c.model, Temperature: 0.0})
		if genErr != nil {
			c.logger.Warn("groundedness_check_failed", "error", genErr)
			return 0.5, nil
		}
		if jsonErr := json.Unmarshal([]byte(raw), &resp); jsonErr != nil {
			c.logger.Warn("groundedness_check_failed", "error", jsonErr)
			return 0.5, nil
		}
	}

	score := clamp01(resp.Score)
	c.logger.Info("groundedness", "score", score)
	return score, resp.UnsupportedClaims
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
