// Package rag answers interview questions from retrieved context.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/xhad/prepbot/internal/logger"
	"github.com/xhad/prepbot/internal/models"
	"github.com/xhad/prepbot/internal/types"
	"github.com/xhad/prepbot/pkg/store"
)

// ErrorAnswerPrefix starts every answer produced from a generation failure.
const ErrorAnswerPrefix = "Error generating answer: "

const DefaultTopK = 3

type Option func(*Engine)

func WithMode(m models.AnswerMode) Option {
	return func(e *Engine) { e.mode = m }
}

func WithLength(l models.AnswerLength) Option {
	return func(e *Engine) { e.length = l }
}

func WithTopK(k int) Option {
	return func(e *Engine) { e.topK = k }
}

// Engine binds a retriever, a generator and one prompt variant. Changing the
// answer mode or length means building a new Engine.
type Engine struct {
	retriever types.Retriever
	generator types.Generator
	mode      models.AnswerMode
	length    models.AnswerLength
	topK      int
	prompt    prompts.PromptTemplate
}

func NewEngine(retriever types.Retriever, generator types.Generator, opts ...Option) (*Engine, error) {
	if retriever == nil || generator == nil {
		return nil, fmt.Errorf("%w: retriever and generator are required", types.ErrInvalidInput)
	}
	e := &Engine{
		retriever: retriever,
		generator: generator,
		mode:      models.ModeDefault,
		length:    models.LengthMedium,
		topK:      DefaultTopK,
	}
	for _, opt := range opts {
		opt(e)
	}

	if _, err := models.ParseAnswerMode(string(e.mode)); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	if _, err := models.ParseAnswerLength(string(e.length)); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	if e.topK <= 0 {
		e.topK = DefaultTopK
	}
	e.prompt = NewPromptTemplate(e.mode, e.length)
	return e, nil
}

func (e *Engine) Mode() models.AnswerMode     { return e.mode }
func (e *Engine) Length() models.AnswerLength { return e.length }

// Answer retrieves context for question and generates an answer. A
// generation failure is reported in the answer text, never as an error; the
// returned error is reserved for retrieval failures.
func (e *Engine) Answer(ctx context.Context, question, history string) (models.QueryResult, error) {
	chunks, scores, err := e.retrieve(ctx, question)
	if err != nil {
		return models.QueryResult{}, fmt.Errorf("failed to retrieve context: %w", err)
	}

	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}

	fullQuestion := question
	if history != "" {
		fullQuestion = fmt.Sprintf("Previous conversation:\n%s\n\nCurrent question: %s", history, question)
	}

	result := models.QueryResult{SourceChunks: chunks, SimilarityScores: scores}

	prompt, err := e.prompt.Format(map[string]any{
		"context":  strings.Join(contents, "\n\n"),
		"question": fullQuestion,
	})
	if err != nil {
		return failGeneration(result, err), nil
	}

	answer, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		logger.Warn("generation failed: %v", err)
		return failGeneration(result, err), nil
	}
	result.Answer = answer
	return result, nil
}

// failGeneration reports err in the answer text and keeps it, wrapped in
// types.ErrGeneration, for callers that inspect the result.
func failGeneration(result models.QueryResult, err error) models.QueryResult {
	result.Answer = ErrorAnswerPrefix + err.Error()
	result.GenerationErr = fmt.Errorf("%w: %w", types.ErrGeneration, err)
	return result
}

func (e *Engine) retrieve(ctx context.Context, question string) ([]models.Chunk, []float64, error) {
	if scored, ok := e.retriever.(types.ScoredRetriever); ok {
		hits, err := scored.SearchWithScores(ctx, question, e.topK)
		if err == nil {
			chunks := make([]models.Chunk, len(hits))
			scores := make([]float64, len(hits))
			for i, h := range hits {
				chunks[i] = h.Chunk
				scores[i] = store.Similarity(h.Distance)
			}
			return chunks, scores, nil
		}
		if errors.Is(err, types.ErrProviderUnavailable) || errors.Is(err, types.ErrAuthentication) {
			return nil, nil, err
		}
		logger.Debug("scored search unavailable, using placeholder scores: %v", err)
	}

	chunks, err := e.retriever.Retrieve(ctx, question, e.topK)
	if err != nil {
		return nil, nil, err
	}
	return chunks, PlaceholderScores(len(chunks)), nil
}

// PlaceholderScores returns 0.85, 0.80, 0.75, ... (never below zero) for n
// chunks whose real similarity is unknown.
func PlaceholderScores(n int) []float64 {
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = max(0, float64(85-5*i)/100)
	}
	return scores
}

// IsErrorAnswer reports whether answer came from a generation failure.
func IsErrorAnswer(answer string) bool {
	return strings.HasPrefix(answer, ErrorAnswerPrefix)
}
