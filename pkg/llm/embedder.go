package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/xhad/prepbot/internal/types"
)

const (
	EmbedderHashing = "hashing"
	EmbedderOllama  = "ollama"
	EmbedderOpenAI  = "openai"
)

type EmbedderConfig struct {
	Type      string
	Model     string
	BaseURL   string
	APIKey    string
	Dimension int // hashing only
	BatchSize int
}

// NewEmbedder builds the configured embedding provider.
func NewEmbedder(config EmbedderConfig) (types.Embedder, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}

	switch strings.ToLower(config.Type) {
	case "", EmbedderHashing:
		return NewHashingEmbedder(config.Dimension), nil
	case EmbedderOllama:
		if config.Model == "" {
			config.Model = defaultEmbedderModel
		}
		if config.BaseURL == "" {
			config.BaseURL = DefaultOllamaURL
		}
		client, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("%w: failed to initialize ollama embedder: %v", types.ErrProviderUnavailable, err)
		}
		return wrapEmbedder("ollama", client, config.BatchSize)
	case EmbedderOpenAI:
		key := ResolveAPIKey(ProviderOpenAI, config.APIKey)
		if key == "" {
			return nil, fmt.Errorf("%w: no API key for openai embeddings (set %s)", types.ErrAuthentication, apiKeyEnv(ProviderOpenAI))
		}
		if config.Model == "" {
			config.Model = "text-embedding-3-small"
		}
		opts := []openai.Option{openai.WithToken(key), openai.WithEmbeddingModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		client, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to initialize openai embedder: %v", types.ErrProviderUnavailable, err)
		}
		return wrapEmbedder("openai", client, config.BatchSize)
	default:
		return nil, fmt.Errorf("%w: unsupported embedder %q", types.ErrInvalidInput, config.Type)
	}
}

// providerEmbedder tags every failure of a remote embedder as ErrProviderUnavailable.
type providerEmbedder struct {
	name  string
	inner embeddings.Embedder
}

func wrapEmbedder(name string, client embeddings.EmbedderClient, batch int) (*providerEmbedder, error) {
	e, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(batch))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrProviderUnavailable, name, err)
	}
	return &providerEmbedder{name: name, inner: e}, nil
}

func (p *providerEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.inner.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s embeddings: %v", types.ErrProviderUnavailable, p.name, err)
	}
	return vecs, nil
}

func (p *providerEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := p.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s embeddings: %v", types.ErrProviderUnavailable, p.name, err)
	}
	return vec, nil
}
