package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/knoguchi/ragsentinel/internal/domain"
	"github.com/knoguchi/ragsentinel/internal/llm"
)

// LLMReranker uses an LLM to re-score query-candidate pairs, acting as a
// cross-encoder: the model sees the query and candidate text together,
// which ordinary embedding similarity cannot do.
type LLMReranker struct {
	llmClient llm.LLM
	model     string
}

// LLMRerankerOption is a functional option for configuring LLMReranker.
type LLMRerankerOption func(*LLMReranker)

// WithModel sets the model to use for reranking.
func WithModel(model string) LLMRerankerOption {
	return func(r *LLMReranker) {
		r.model = model
	}
}

// NewLLMReranker creates a new LLM-based reranker.
func NewLLMReranker(llmClient llm.LLM, opts ...LLMRerankerOption) *LLMReranker {
	r := &LLMReranker{
		llmClient: llmClient,
		model:     "llama3.2",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type relevanceScore struct {
	DocIndex int     `json:"doc_index"`
	Score    float32 `json:"score"`
	Reason   string  `json:"reason,omitempty"`
}

type rerankResponse struct {
	Scores []relevanceScore `json:"scores"`
}

// Rerank uses the LLM to score each candidate's relevance to the query. On
// any parse failure it falls back to the candidates' original fused scores
// rather than failing the request — reranking is a quality improvement, not
// a required stage (spec §4.4).
func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate, topK int) ([]ScoredCandidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if len(candidates) <= topK {
		topK = len(candidates)
	}

	prompt := r.buildRerankPrompt(query, candidates)
	opts := llm.GenerateOptions{
		Model:       r.model,
		Temperature: 0.0,
		MaxTokens:   1024,
	}

	response, err := r.llmClient.Generate(ctx, prompt, opts)
	if err != nil {
		return nil, fmt.Errorf("LLM reranking failed: %w", err)
	}

	scores, err := r.parseRerankResponse(response, len(candidates))
	if err != nil {
		return r.fallbackScoring(candidates, topK), nil
	}

	scored := make([]ScoredCandidate, len(candidates))
	for i, c := range candidates {
		scored[i] = ScoredCandidate{RetrievalCandidate: c, RerankerScore: scores[i]}
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].RerankerScore > scored[j].RerankerScore
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (r *LLMReranker) buildRerankPrompt(query string, candidates []domain.RetrievalCandidate) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance scoring system. Score each document's relevance to the query.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	sb.WriteString("Documents to score:\n")
	for i, c := range candidates {
		content := c.Chunk.Content
		if len(content) > 500 {
			content = content[:500] + "..."
		}
		sb.WriteString(fmt.Sprintf("[Doc %d]: %s\n\n", i, content))
	}

	sb.WriteString(`Score each document from 0.0 to 1.0 based on relevance to the query.
Output ONLY valid JSON in this exact format:
{"scores": [{"doc_index": 0, "score": 0.9}, {"doc_index": 1, "score": 0.3}, ...]}

Be strict: irrelevant documents should score below 0.3, somewhat relevant 0.3-0.7, highly relevant above 0.7.
Output only JSON, no explanation:`)

	return sb.String()
}

func (r *LLMReranker) parseRerankResponse(response string, numResults int) ([]float32, error) {
	response = strings.TrimSpace(response)

	if idx := strings.Index(response, "```json"); idx != -1 {
		start := idx + 7
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	} else if idx := strings.Index(response, "```"); idx != -1 {
		start := idx + 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	}

	response = strings.TrimSpace(response)

	var parsed rerankResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse rerank response: %w", err)
	}

	scores := make([]float32, numResults)
	for i := range scores {
		scores[i] = 0.5
	}

	for _, s := range parsed.Scores {
		if s.DocIndex >= 0 && s.DocIndex < numResults {
			score := s.Score
			if score < 0 {
				score = 0
			}
			if score > 1 {
				score = 1
			}
			scores[s.DocIndex] = score
		}
	}

	return scores, nil
}

func (r *LLMReranker) fallbackScoring(candidates []domain.RetrievalCandidate, topK int) []ScoredCandidate {
	scored := make([]ScoredCandidate, len(candidates))
	for i, c := range candidates {
		scored[i] = ScoredCandidate{RetrievalCandidate: c, RerankerScore: float32(c.Score)}
	}
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

var _ Reranker = (*LLMReranker)(nil)
