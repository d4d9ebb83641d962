package ai

import "context"

// EmbeddingMode selects how the provider prepares a text for retrieval.
// Vectors produced in different modes must not be mixed.
type EmbeddingMode string

const (
	ModeDocument EmbeddingMode = "document"
	ModeQuery    EmbeddingMode = "query"
)

// Embedder converts text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string, mode EmbeddingMode) ([]float32, error)
	Dimension() int
}

// Generator produces a text completion for a prompt.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}
