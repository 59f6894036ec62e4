package verifier

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/knoguchi/ragsentinel/internal/llm"
)

// stubLLM is shared by this package's tests: GenerateStructured can be
// made to fail (to exercise the manual-JSON fallback) while Generate
// returns a canned JSON string for the fallback path to parse.
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
		return nil
	}
	return json.Unmarshal([]byte(s.generateOut), out)
}
