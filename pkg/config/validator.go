package config

import (
	"fmt"
	"net/url"

	"github.com/xhad/prepbot/internal/models"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, format string, args ...any) {
		errors = append(errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch c.LLM.Provider {
	case "groq", "openai", "ollama":
	default:
		add("llm.provider", "unsupported provider %q (want groq, openai or ollama)", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", "temperature must be between 0 and 2")
	}
	if c.LLM.MaxTokens < 0 || c.LLM.MaxTokens > 32768 {
		add("llm.max_tokens", "max_tokens must be between 0 and 32768")
	}
	if c.LLM.BaseURL != "" && !validURL(c.LLM.BaseURL) {
		add("llm.base_url", "invalid URL")
	}

	switch c.Embedder.Type {
	case "hashing", "ollama", "openai":
	default:
		add("embedder.type", "unsupported embedder %q (want hashing, ollama or openai)", c.Embedder.Type)
	}
	if c.Embedder.Dimension < 1 {
		add("embedder.dimension", "dimension must be positive")
	}
	if c.Embedder.BaseURL != "" && !validURL(c.Embedder.BaseURL) {
		add("embedder.base_url", "invalid URL")
	}

	switch c.Store.Type {
	case "local":
		if c.Store.Dir == "" {
			add("store.dir", "dir is required for the local store")
		}
	case "pgvector":
		if c.Store.URL == "" {
			add("store.url", "url is required for the pgvector store")
		} else if _, err := url.Parse(c.Store.URL); err != nil {
			add("store.url", "invalid database URL")
		}
	default:
		add("store.type", "unsupported store %q (want local or pgvector)", c.Store.Type)
	}
	if c.Store.BatchSize < 1 {
		add("store.batch_size", "batch_size must be positive")
	}

	if c.Processor.ChunkSize < 1 {
		add("processor.chunk_size", "chunk_size must be positive")
	}
	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		add("processor.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}

	if c.Retrieval.TopK < 1 {
		add("retrieval.top_k", "top_k must be positive")
	}

	if _, err := models.ParseAnswerMode(c.Answer.Mode); err != nil {
		add("answer.mode", "%v", err)
	}
	if _, err := models.ParseAnswerLength(c.Answer.Length); err != nil {
		add("answer.length", "%v", err)
	}

	if c.Scraper.MaxDepth < 0 {
		add("scraper.max_depth", "max_depth cannot be negative")
	}
	if c.Scraper.RateLimit <= 0 {
		add("scraper.rate_limit", "rate_limit must be positive")
	}
	if c.Scraper.TimeoutSecs < 1 {
		add("scraper.timeout_secs", "timeout_secs must be positive")
	}

	if c.Log.Dir == "" {
		add("log.dir", "dir is required")
	}

	return errors
}

func validURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
