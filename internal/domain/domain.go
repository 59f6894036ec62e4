// Package domain holds the core value types shared by every pipeline stage:
// chunks, retrieval candidates and results, decomposed and processed queries,
// generation and verification results, and the trace record persisted for
// each request.
package domain

import (
	"time"
)

// Chunk is a retrievable unit of corpus text together with the metadata
// needed to cite it back to the user.
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Content    string            `json:"content"`
	Source     string            `json:"source"`
	Position   int               `json:"position"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// RetrievalCandidate is a chunk scored by one retrieval path (lexical,
// dense, or the fused result of both) for one sub-question.
type RetrievalCandidate struct {
	Chunk      Chunk   `json:"chunk"`
	Score      float64 `json:"score"`
	SubQuery   string  `json:"sub_query"`
	FromLexical bool   `json:"from_lexical"`
	FromDense   bool   `json:"from_dense"`
}

// RetrievalResult is the output of the Hybrid Retriever for the full set of
// sub-questions belonging to one request: the fused, reranked, deduplicated
// candidate list plus the bookkeeping needed for RQ scoring.
type RetrievalResult struct {
	Candidates      []RetrievalCandidate `json:"candidates"`
	UniqueDocuments int                  `json:"unique_documents"`
	Expanded        bool                 `json:"expanded"`
}

// DecomposedQuery is the output of the Decomposition stage: the original
// query plus zero or more sub-questions an LLM judged useful to retrieve
// against independently.
type DecomposedQuery struct {
	Original               string   `json:"original"`
	SubQuestions           []string `json:"sub_questions"`
	SynthesisInstruction   string   `json:"synthesis_instruction,omitempty"`
	Decomposed             bool     `json:"decomposed"`
}

// ProcessedQuery is the output of the Understanding stage.
type ProcessedQuery struct {
	Raw         string            `json:"raw"`
	Normalized  string            `json:"normalized"`
	Language    string            `json:"language"`
	Intent      Intent            `json:"intent"`
	Constraints map[string]string `json:"constraints,omitempty"`
}

// Intent is the coarse classification Understanding assigns to a query.
type Intent string

const (
	IntentComparison Intent = "comparison"
	IntentHowTo      Intent = "how_to"
	IntentFactual    Intent = "factual"
	IntentCausal     Intent = "causal"
	IntentList       Intent = "list"
	IntentGeneral    Intent = "general"
)

// Citation ties a numbered marker in a generated answer back to the evidence
// chunk it cites, plus the bits of the chunk the external response surfaces
// (spec §6: `citations[{doc_id, chunk_id, text_snippet}]`).
type Citation struct {
	Marker      int    `json:"marker"`
	DocID       string `json:"doc_id"`
	ChunkID     string `json:"chunk_id"`
	TextSnippet string `json:"text_snippet"`
}

// GenerationResult is the output of the Answer Generator.
type GenerationResult struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Done      bool       `json:"done"`
	Err       error      `json:"-"`
}

// VerificationResult is the output of the Verifier Bank and Verification
// Decision Maker.
type VerificationResult struct {
	Groundedness      float64          `json:"groundedness"`
	ContradictionRate float64          `json:"contradiction_rate"`
	SelfConsistency   float64          `json:"self_consistency"`
	RanSelfConsistency bool            `json:"ran_self_consistency"`
	Decision          VerificationDecision `json:"decision"`
	ReasonCodes       []string         `json:"reason_codes,omitempty"`
}

// VerificationDecision is the outcome of the Verification Decision Maker.
type VerificationDecision string

const (
	VerificationPass    VerificationDecision = "pass"
	VerificationWarn    VerificationDecision = "warn"
	VerificationAbstain VerificationDecision = "abstain"
)

// RetrievalDecision is the outcome of the Decision Gate.
type RetrievalDecision string

const (
	DecisionProceed  RetrievalDecision = "proceed"
	DecisionClarify  RetrievalDecision = "clarify"
	DecisionFallback RetrievalDecision = "fallback"
	DecisionAbstain  RetrievalDecision = "abstain"
)

// Mode selects which threshold set the Decision Gate and Verification
// Decision Maker apply.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeStrict Mode = "strict"
)

// FallbackOutcome records whether the Fallback Manager improved things.
type FallbackOutcome string

const (
	FallbackUsed   FallbackOutcome = "fallback_used"
	FallbackFailed FallbackOutcome = "fallback_failed"
	FallbackNone   FallbackOutcome = "none"
)

// FinalDecision is the answer returned to the external caller.
type FinalDecision string

const (
	FinalAnswer   FinalDecision = "answer"
	FinalClarify  FinalDecision = "clarify"
	FinalAbstain  FinalDecision = "abstain"
)

// Reason codes, the closed vocabulary used across RQ scoring, verification,
// and decisioning (spec §6).
const (
	ReasonLowRelevance    = "LOW_RELEVANCE"
	ReasonLowMargin       = "LOW_MARGIN"
	ReasonLowCoverage     = "LOW_COVERAGE"
	ReasonLowConsistency  = "LOW_CONSISTENCY"
	ReasonNoResults       = "NO_RESULTS"
	ReasonLowGroundedness = "LOW_GROUNDEDNESS"
	ReasonContradiction   = "CONTRADICTION_FOUND"
	ReasonSelfInconsistent = "SELF_INCONSISTENCY"
	ReasonFallbackUsed    = "FALLBACK_USED"
	ReasonFallbackFailed  = "FALLBACK_FAILED"
)

// Span is one named stage timing within a Trace.
type Span struct {
	Name     string        `json:"name"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// Trace is the full record of one request's pipeline execution, persisted
// fire-and-forget after the response is returned (spec §5).
type Trace struct {
	ID                string            `json:"id"`
	Query             string            `json:"query"`
	Mode              Mode              `json:"mode"`
	Spans             []Span            `json:"spans"`
	RQ                float64           `json:"rq"`
	RQReasonCodes     []string          `json:"rq_reason_codes,omitempty"`
	RetrievalDecision RetrievalDecision `json:"retrieval_decision"`
	FallbackOutcome   FallbackOutcome   `json:"fallback_outcome"`
	Verification      *VerificationResult `json:"verification,omitempty"`
	Confidence        float64           `json:"confidence"`
	Final             FinalDecision     `json:"final"`
	CreatedAt         time.Time         `json:"created_at"`
}

// QueryRequest is the external request body for POST /query (spec §6).
type QueryRequest struct {
	Query           string `json:"query"`
	Context         string `json:"context,omitempty"`
	Mode            Mode   `json:"mode,omitempty"`
	LatencyBudgetMs int    `json:"latency_budget_ms,omitempty"`
}

// DebugInfo carries the diagnostic fields spec §6 attaches to every
// response: the RQ score, the top rerank scores, and enough to find the
// full Trace later.
type DebugInfo struct {
	RetrievalQuality float64   `json:"retrieval_quality"`
	RerankTopScores  []float64 `json:"rerank_top_scores"`
	TraceID          string    `json:"trace_id"`
	LatencyMs        float64   `json:"latency_ms"`
}

// QueryResponse is the external response body for POST /query.
type QueryResponse struct {
	Answer     string        `json:"answer"`
	Citations  []Citation    `json:"citations"`
	Confidence float64       `json:"confidence"`
	Decision   FinalDecision `json:"decision"`
	Reasons    []string      `json:"reasons"`
	Debug      DebugInfo     `json:"debug"`
}

// StreamEvent is one item on the channel POST /query/stream drains into
// SSE events (spec §6): either a textual answer fragment (mapped to a
// `token` event) or, exactly once as the terminal item, the fully
// decided response (mapped to a `metadata` event followed by `done`).
type StreamEvent struct {
	Token string         `json:"token,omitempty"`
	Final *QueryResponse `json:"final,omitempty"`
}
