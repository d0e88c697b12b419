package types

import (
	"context"

	"github.com/xhad/prepbot/internal/models"
)

// Embedder maps text to fixed-dimension vectors. Its method set matches
// langchaingo's embeddings.Embedder so those implementations plug in directly.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Generator turns a fully rendered prompt into completion text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Retriever returns the k chunks most similar to query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]models.Chunk, error)
}

// ScoredRetriever also reports the cosine distance of every hit.
type ScoredRetriever interface {
	Retriever
	SearchWithScores(ctx context.Context, query string, k int) ([]models.ScoredChunk, error)
}
