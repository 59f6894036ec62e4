package verifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knoguchi/ragsentinel/internal/domain"
	"github.com/knoguchi/ragsentinel/internal/generator"
	"github.com/knoguchi/ragsentinel/internal/llm"
)

// selfConsistencyTemperature matches original_source's
// SELF_CONSISTENCY_TEMPERATURE constant: the regeneration is sampled
// slightly, not greedily, so the comparison is meaningful.
const selfConsistencyTemperature = 0.3

// SelfConsistencyChecker regenerates a brief answer and compares it
// against the original to estimate how stable the model's output is for
// the same evidence.
type SelfConsistencyChecker struct {
	llmClient llm.LLM
	model     string
	logger    *slog.Logger
}

// NewSelfConsistencyChecker creates a SelfConsistencyChecker backed by llmClient.
func NewSelfConsistencyChecker(llmClient llm.LLM, model string, logger *slog.Logger) *SelfConsistencyChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SelfConsistencyChecker{llmClient: llmClient, model: model, logger: logger}
}

// Check regenerates a brief answer for query/evidence and returns its
// textual similarity to originalAnswer in [0,1]. Any LLM failure degrades
// to the neutral default 0.5.
func (c *SelfConsistencyChecker) Check(ctx context.Context, query string, evidence []domain.RetrievalCandidate, originalAnswer string) float64 {
	evidenceBlock := generator.FormatEvidenceBlock(evidence)
	prompt := fmt.Sprintf(selfConsistencyPrompt, query, evidenceBlock)

	brief, err := c.llmClient.Generate(ctx, prompt, llm.GenerateOptions{Model: c.model, Temperature: selfConsistencyTemperature})
	if err != nil {
		c.logger.Warn("self_consistency_check_failed", "error", err)
		return 0.5
	}

	similarity := compare(originalAnswer, brief)
	c.logger.Info("self_consistency", "score", similarity)
	return similarity
}

// compare scores textual similarity the way Python's
// difflib.SequenceMatcher.ratio() does: 2*M / T, where M is the total
// length of matching blocks found by recursively taking the longest
// common substring, and T is the combined length of both strings.
func compare(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0.0
	}
	matched := matchingBlockLength([]rune(a), []rune(b))
	total := len([]rune(a)) + len([]rune(b))
	if total == 0 {
		return 0.0
	}
	return float64(2*matched) / float64(total)
}

// matchingBlockLength sums the lengths of the matching blocks the
// Ratcliff/Obershelp algorithm finds between a and b: find the single
// longest common substring, then recurse on the unmatched portions
// before and after it.
func matchingBlockLength(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	aStart, bStart, length := longestCommonSubstring(a, b)
	if length == 0 {
		return 0
	}
	total := length
	total += matchingBlockLength(a[:aStart], b[:bStart])
	total += matchingBlockLength(a[aStart+length:], b[bStart+length:])
	return total
}

func longestCommonSubstring(a, b []rune) (aStart, bStart, length int) {
	// dp[j] holds the length of the common suffix ending at a[i-1], b[j-1].
	dp := make([]int, len(b)+1)
	prev := make([]int, len(b)+1)
	best := 0
	bestA, bestB := 0, 0

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				dp[j] = prev[j-1] + 1
				if dp[j] > best {
					best = dp[j]
					bestA = i - best
					bestB = j - best
				}
			} else {
				dp[j] = 0
			}
		}
		prev, dp = dp, prev
	}
	return bestA, bestB, best
}
