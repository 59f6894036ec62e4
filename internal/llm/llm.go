// Package llm provides interfaces and implementations for Large Language Model clients.
package llm

import (
	"context"
	"errors"
)

// errNoJSON is returned by ExtractJSON when no balanced JSON value is found.
var errNoJSON = errors.New("llm: no JSON value found in response")

// GenerateOptions configures the LLM generation request.
type GenerateOptions struct {
	// Model specifies the LLM model to use (e.g., "llama3.2", "mistral").
	Model string

	// SystemPrompt sets the system-level instructions for the model.
	SystemPrompt string

	// Temperature controls randomness in generation (0.0 = deterministic, 1.0 = creative).
	Temperature float32

	// MaxTokens limits the maximum number of tokens in the response.
	MaxTokens int
}

// StreamChunk represents a single chunk of streamed response from the LLM.
type StreamChunk struct {
	// Token contains the generated text fragment.
	Token string

	// Done indicates whether this is the final chunk in the stream.
	Done bool

	// Error contains any error that occurred during streaming.
	Error error
}

// LLM defines the interface for Large Language Model clients.
type LLM interface {
	// Generate sends a prompt to the LLM and returns the complete response.
	// It blocks until the full response is received or an error occurs.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// GenerateStream sends a prompt to the LLM and returns a channel that streams
	// response chunks as they are generated. The channel is closed when generation
	// completes or an error occurs. Callers should check StreamChunk.Error and
	// StreamChunk.Done to detect completion and errors.
	GenerateStream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamChunk, error)

	// GenerateStructured asks the model to return JSON conforming to the given
	// schema description, embedded into the prompt, and unmarshals the result
	// into out. Implementations should request JSON mode where the backend
	// supports it and otherwise extract the first top-level JSON object or
	// array found in the raw response text.
	GenerateStructured(ctx context.Context, prompt string, opts GenerateOptions, out any) error
}

// ExtractJSON returns the first balanced top-level JSON object or array
// substring of s, or an error if none is found. Used by GenerateStructured
// implementations as the manual-extraction fallback when a model ignores a
// JSON-mode instruction and wraps its answer in prose or a markdown fence.
func ExtractJSON(s string) (string, error) {
	start := -1
	var open byte
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if start == -1 {
			if c == '{' || c == '[' {
				start = i
				open = c
				depth = 1
			}
			continue
		}
		close := byte('}')
		if open == '[' {
			close = ']'
		}
		switch c {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errNoJSON
}
