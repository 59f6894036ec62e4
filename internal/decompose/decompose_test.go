package decompose

import (
	"context"
	"errors"
	"testing"

	"github.com/knoguchi/ragsentinel/internal/llm"
)

type stubLLM struct {
	structuredErr  error
	structuredFill func(out any)
	generateOut    string
	generateErr    error
}

func (s *stubLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	return s.generateOut, s.generateErr
}

func (s *stubLLM) GenerateStream(ctx context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("not implemented")
}

func (s *stubLLM) GenerateStructured(ctx context.Context, prompt string, opts llm.GenerateOptions, out any) error {
	if s.structuredErr != nil {
		return s.structuredErr
	}
	if s.structuredFill != nil {
		s.structuredFill(out)
	}
	return nil
}

func TestDecomposeUsesStructuredOutput(t *testing.T) {
	stub := &stubLLM{
		structuredFill: func(out any) {
			resp := out.(*decompositionResponse)
			resp.SubQuestions = []string{"who wrote it", "when was it written"}
			resp.SynthesisInstruction = "combine both facts"
		},
	}
	d := New(stub, "test-model", nil)

	got := d.Decompose(context.Background(), "who wrote it and when")

	if !got.Decomposed {
		t.Errorf("Decomposed = false, want true for 2 sub-questions")
	}
	if len(got.SubQuestions) != 2 {
		t.Fatalf("len(SubQuestions) = %d, want 2", len(got.SubQuestions))
	}
	if got.SynthesisInstruction != "combine both facts" {
		t.Errorf("SynthesisInstruction = %q", got.SynthesisInstruction)
	}
}

func TestDecomposeCapsAtMaxSubQuestions(t *testing.T) {
	stub := &stubLLM{
		structuredFill: func(out any) {
			resp := out.(*decompositionResponse)
			resp.SubQuestions = []string{"a", "b", "c", "d", "e", "f", "g"}
		},
	}
	d := New(stub, "test-model", nil)

	got := d.Decompose(context.Background(), "some query")

	if len(got.SubQuestions) != MaxSubQuestions {
		t.Errorf("len(SubQuestions) = %d, want %d", len(got.SubQuestions), MaxSubQuestions)
	}
}

func TestDecomposeFallsBackOnStructuredFailure(t *testing.T) {
	stub := &stubLLM{
		structuredErr: errors.New("model does not support json mode"),
		generateOut:   `{"sub_questions": ["a", "b"], "synthesis_instruction": "merge"}`,
	}
	d := New(stub, "test-model", nil)

	got := d.Decompose(context.Background(), "original query")

	if len(got.SubQuestions) != 2 {
		t.Fatalf("len(SubQuestions) = %d, want 2", len(got.SubQuestions))
	}
	if got.SynthesisInstruction != "merge" {
		t.Errorf("SynthesisInstruction = %q, want merge", got.SynthesisInstruction)
	}
}

func TestDecomposeDegradesToSingleQuestionOnTotalFailure(t *testing.T) {
	stub := &stubLLM{
		structuredErr: errors.New("unreachable"),
		generateErr:   errors.New("also unreachable"),
	}
	d := New(stub, "test-model", nil)

	got := d.Decompose(context.Background(), "original query")

	if got.Decomposed {
		t.Errorf("Decomposed = true, want false on total failure")
	}
	if len(got.SubQuestions) != 1 || got.SubQuestions[0] != "original query" {
		t.Errorf("SubQuestions = %v, want [original query]", got.SubQuestions)
	}
}

func TestDecomposeDegradesOnUnparsableFallback(t *testing.T) {
	stub := &stubLLM{
		structuredErr: errors.New("no json mode"),
		generateOut:   "not json at all",
	}
	d := New(stub, "test-model", nil)

	got := d.Decompose(context.Background(), "original query")

	if len(got.SubQuestions) != 1 || got.SubQuestions[0] != "original query" {
		t.Errorf("SubQuestions = %v, want [original query]", got.SubQuestions)
	}
}
