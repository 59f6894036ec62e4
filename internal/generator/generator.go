// Package generator implements the Answer Generator (spec §4.8): it
// builds a numbered evidence block from the reranked candidate list,
// prompts the LLM for a cited answer, and parses `[n]` citation markers
// back into the evidence chunks they reference. Grounded on
// original_source/generation/{answer_generator,prompt_templates}.py for
// the exact prompt wording and citation-marker contract, and on the
// teacher's internal/service/rag.go buildRAGPrompt for the numbered-
// evidence-block idiom this generalizes.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"

	"github.com/knoguchi/ragsentinel/internal/domain"
	"github.com/knoguchi/ragsentinel/internal/llm"
)

const answerSystemPrompt = `You are a precise, factual assistant. Answer questions using ONLY the provided evidence.
Rules:
- Cite evidence using [1], [2], etc. markers matching the evidence numbers.
- If the evidence doesn't contain enough information, say so clearly.
- Never make up information not present in the evidence.
- Be concise and direct.`

const answerSystemPromptStrict = `You are a precise, factual assistant operating in STRICT mode.
Rules:
- ONLY state facts that are DIRECTLY and EXPLICITLY supported by the evidence.
- Cite every claim with [1], [2], etc.
- If ANY doubt exists about whether the evidence supports a claim, do NOT include it.
- If evidence is insufficient, state exactly what information is missing.
- Never infer, extrapolate, or generalize beyond the evidence.`

const answerPromptTemplate = "Question: %s\n\nEvidence:\n%s\n\n%s\n\nProvide a clear, well-cited answer based on the evidence above."

var citationMarker = regexp.MustCompile(`\[(\d+)\]`)

// Generator produces cited answers from a query and its reranked evidence.
type Generator struct {
	llmClient llm.LLM
	model     string
	logger    *slog.Logger
}

// New creates a Generator backed by llmClient.
func New(llmClient llm.LLM, model string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{llmClient: llmClient, model: model, logger: logger}
}

// Generate produces a GenerationResult for query given its evidence
// candidates. decomposition may be nil. A failed LLM call is fatal and
// returned as an error — spec §7 treats generation failure as
// non-recoverable, unlike verification's neutral-default degradation.
func (g *Generator) Generate(ctx context.Context, query string, evidence []domain.RetrievalCandidate, decomposition *domain.DecomposedQuery, mode domain.Mode) (domain.GenerationResult, error) {
	prompt, system := g.buildPrompt(query, evidence, decomposition, mode)

	answer, err := g.llmClient.Generate(ctx, prompt, llm.GenerateOptions{Model: g.model, SystemPrompt: system, Temperature: 0.3})
	if err != nil {
		return domain.GenerationResult{}, err
	}

	citations := parseCitations(answer, evidence)
	g.logger.Info("generated_answer", "query_len", len(query), "answer_len", len(answer), "citations", len(citations))

	return domain.GenerationResult{Answer: answer, Citations: citations, Done: true}, nil
}

// GenerateStream yields successive text fragments on the returned channel
// as the LLM streams them, then a final item with Done=true carrying the
// fully-assembled GenerationResult (spec §4.8's incremental-generation
// contract). The channel is closed after the terminal item or an error.
func (g *Generator) GenerateStream(ctx context.Context, query string, evidence []domain.RetrievalCandidate, decomposition *domain.DecomposedQuery, mode domain.Mode) (<-chan domain.GenerationResult, error) {
	prompt, system := g.buildPrompt(query, evidence, decomposition, mode)

	chunks, err := g.llmClient.GenerateStream(ctx, prompt, llm.GenerateOptions{Model: g.model, SystemPrompt: system, Temperature: 0.3})
	if err != nil {
		return nil, err
	}

	out := make(chan domain.GenerationResult)
	go func() {
		defer close(out)
		var full []byte
		for c := range chunks {
			if c.Error != nil {
				out <- domain.GenerationResult{Err: c.Error, Done: true}
				return
			}
			if c.Token != "" {
				full = append(full, c.Token...)
				select {
				case out <- domain.GenerationResult{Answer: c.Token}:
				case <-ctx.Done():
					return
				}
			}
			if c.Done {
				break
			}
		}
		answer := string(full)
		citations := parseCitations(answer, evidence)
		g.logger.Info("generated_answer_stream", "query_len", len(query), "answer_len", len(answer), "citations", len(citations))
		out <- domain.GenerationResult{Answer: answer, Citations: citations, Done: true}
	}()
	return out, nil
}

func (g *Generator) buildPrompt(query string, evidence []domain.RetrievalCandidate, decomposition *domain.DecomposedQuery, mode domain.Mode) (prompt, system string) {
	evidenceBlock := FormatEvidenceBlock(evidence)
	decompContext := formatDecompositionContext(decomposition)

	system = answerSystemPrompt
	if mode == domain.ModeStrict {
		system = answerSystemPromptStrict
	}

	prompt = fmt.Sprintf(answerPromptTemplate, query, evidenceBlock, decompContext)
	return prompt, system
}

// parseCitations extracts `[n]` markers from answer and maps each
// 1-indexed position back to the evidence list it refers to. Indices
// outside the evidence list's bounds are ignored (spec §4.8). Citations
// are returned sorted by marker so the caller doesn't depend on first-
// occurrence order in the answer text.
func parseCitations(answer string, evidence []domain.RetrievalCandidate) []domain.Citation {
	matches := citationMarker.FindAllStringSubmatch(answer, -1)
	seen := make(map[int]struct{})
	var markers []int
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		markers = append(markers, n)
	}
	sort.Ints(markers)

	citations := make([]domain.Citation, 0, len(markers))
	for _, n := range markers {
		if n < 1 || n > len(evidence) {
			continue
		}
		chunk := evidence[n-1].Chunk
		snippet := chunk.Content
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		citations = append(citations, domain.Citation{
			Marker:      n,
			DocID:       chunk.DocumentID,
			ChunkID:     chunk.ID,
			TextSnippet: snippet,
		})
	}
	return citations
}
