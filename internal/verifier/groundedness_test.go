package verifier

import (
	"context"
	"errors"
	"testing"

	"github.com/knoguchi/ragsentinel/internal/domain"
)

func sampleEvidence() []domain.RetrievalCandidate {
	return []domain.RetrievalCandidate{
		{Chunk: domain.Chunk{ID: "c1", DocumentID: "doc1", Content: "Go was released in 2009."}},
	}
}

func TestGroundednessCheckClampsScore(t *testing.T) {
	stub := &stubLLM{structuredFill: func(out any) {
		resp := out.(*groundednessResponse)
		resp.Score = 1.5
	}}
	c := NewGroundednessChecker(stub, "test-model", nil)

	score, _ := c.Check(context.Background(), "query", "answer", sampleEvidence())
	if score != 1.0 {
		t.Errorf("score = %v, want clamped to 1.0", score)
	}
}

func TestGroundednessCheckFallsBackToManualParse(t *testing.T) {
	stub := &stubLLM{
		structuredErr: errors.New("no json mode"),
		generateOut:   `{"score": 0.8, "unsupported_claims": ["x"]}`,
	}
	c := NewGroundednessChecker(stub, "test-model", nil)

	score, claims := c.Check(context.Background(), "query", "answer", sampleEvidence())
	if score != 0.8 {
		t.Errorf("score = %v, want 0.8", score)
	}
	if len(claims) != 1 || claims[0] != "x" {
		t.Errorf("claims = %v, want [x]", claims)
	}
}

func TestGroundednessCheckDegradesToNeutralOnTotalFailure(t *testing.T) {
	stub := &stubLLM{
		structuredErr: errors.New("unreachable"),
		generateErr:   errors.New("also unreachable"),
	}
	c := NewGroundednessChecker(stub, "test-model", nil)

	score, claims := c.Check(context.Background(), "query", "answer", sampleEvidence())
	if score != 0.5 {
		t.Errorf("score = %v, want neutral default 0.5", score)
	}
	if claims != nil {
		t.Errorf("claims = %v, want nil", claims)
	}
}
