// Package store persists chunk embeddings under named namespaces and answers
// nearest-neighbour queries.
//
// Distances are cosine distances, 1 - cos(a, b), in the range [0, 2]. A zero
// vector has cosine 0 with everything, so its distance is 1. Results are
// ordered by ascending distance; ties keep insertion order.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/xhad/prepbot/internal/models"
	"github.com/xhad/prepbot/internal/types"
)

const DefaultTopK = 3

// Index is an open handle on one namespace.
type Index interface {
	types.ScoredRetriever
	Namespace() string
	Len() int
	Close() error
}

// Backend creates, reopens and deletes namespaces.
type Backend interface {
	// Build embeds chunks and stores them under namespace, replacing any
	// entries the namespace already holds.
	Build(ctx context.Context, namespace string, chunks []models.Chunk, emb types.Embedder, opts ...BuildOption) (Index, error)
	// Open returns a handle on a namespace built earlier.
	Open(ctx context.Context, namespace string, emb types.Embedder) (Index, error)
	// Destroy removes a namespace. Destroying a missing namespace is not an error.
	Destroy(ctx context.Context, namespace string) error
	Close() error
}

type buildOptions struct {
	batchSize int
	progress  func(done, total int)
}

type BuildOption func(*buildOptions)

// WithBatchSize sets how many chunks are sent to the embedder at once.
func WithBatchSize(n int) BuildOption {
	return func(o *buildOptions) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithProgress registers a callback invoked after every embedded batch.
func WithProgress(fn func(done, total int)) BuildOption {
	return func(o *buildOptions) {
		o.progress = fn
	}
}

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,63}$`)

// NewNamespace returns a fresh namespace name of the form db_<8 hex>.
func NewNamespace() string {
	return "db_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func ValidateNamespace(ns string) error {
	if !namespacePattern.MatchString(ns) {
		return fmt.Errorf("%w: namespace %q must match %s", types.ErrInvalidInput, ns, namespacePattern)
	}
	return nil
}

// Similarity maps a cosine distance to a [0, 1] score.
func Similarity(distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	return math.Max(0, math.Min(1, 1-distance))
}

// CosineDistance returns 1 - cos(a, b). Vectors of different length are
// compared over their common prefix.
func CosineDistance(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return 1 - math.Max(-1, math.Min(1, cos))
}

func embedChunks(ctx context.Context, emb types.Embedder, chunks []models.Chunk, o buildOptions) ([][]float32, error) {
	if o.batchSize <= 0 {
		o.batchSize = 32
	}
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += o.batchSize {
		end := min(start+o.batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}

		batch, err := emb.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, providerError(err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts", types.ErrProviderUnavailable, len(batch), len(texts))
		}
		vectors = append(vectors, batch...)
		if o.progress != nil {
			o.progress(len(vectors), len(chunks))
		}
	}

	for i, v := range vectors {
		if len(v) != len(vectors[0]) {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d", types.ErrProviderUnavailable, i, len(v), len(vectors[0]))
		}
	}
	return vectors, nil
}

func embedQuery(ctx context.Context, emb types.Embedder, query string) ([]float32, error) {
	v, err := emb.EmbedQuery(ctx, query)
	if err != nil {
		return nil, providerError(err)
	}
	return v, nil
}

func providerError(err error) error {
	if errors.Is(err, types.ErrProviderUnavailable) || errors.Is(err, types.ErrAuthentication) {
		return err
	}
	return fmt.Errorf("%w: %v", types.ErrProviderUnavailable, err)
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %v", types.ErrIndexStorage, op, err)
}

func chunksOf(scored []models.ScoredChunk) []models.Chunk {
	out := make([]models.Chunk, len(scored))
	for i, s := range scored {
		out[i] = s.Chunk
	}
	return out
}
