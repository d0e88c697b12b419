// Package evaluator scores interview answers with a language model.
package evaluator

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/xhad/prepbot/internal/logger"
	"github.com/xhad/prepbot/internal/models"
	"github.com/xhad/prepbot/internal/types"
)

const (
	DefaultFeedback   = "Evaluation completed."
	ErrorPrefix       = "Error during evaluation: "
	noContext         = "No context provided"
	maxContextRunes   = 500
	excerptRunes      = 300
	excerptChunkCount = 2
)

const evaluationTemplate = `You are an expert interview coach evaluating an interview answer. Rate the answer on three criteria (0-10 scale) and provide specific feedback.

Question: {question}

Answer to Evaluate:
{answer}

Context Used (if available):
{context}

Evaluate the answer on:
1. **Relevance** (0-10): How well does the answer address the question? Is it specific to the role/context?
2. **Clarity** (0-10): Is the answer clear, well-structured, and easy to follow?
3. **STAR Completeness** (0-10): Does it follow STAR method (Situation, Task, Action, Result) when appropriate? Does it include measurable results?

Provide your evaluation in this EXACT format:
SCORE_RELEVANCE: [0-10]
SCORE_CLARITY: [0-10]
SCORE_STAR: [0-10]
FEEDBACK: [Your detailed feedback with specific strengths and areas for improvement, using ✔ for strengths and ✖ for weaknesses]
OVERALL_SCORE: [Average of three scores, rounded to 1 decimal]

Be specific and actionable in your feedback.`

type Evaluator struct {
	generator types.Generator
	prompt    prompts.PromptTemplate
}

func New(generator types.Generator) *Evaluator {
	return &Evaluator{
		generator: generator,
		prompt: prompts.PromptTemplate{
			Template:       evaluationTemplate,
			InputVariables: []string{"question", "answer", "context"},
			TemplateFormat: prompts.TemplateFormatFString,
		},
	}
}

// Evaluate never fails: problems are reported through the feedback text
// with all scores left at zero.
func (e *Evaluator) Evaluate(ctx context.Context, question, answer, contextText string) models.Evaluation {
	contextText = truncate(contextText, maxContextRunes)
	if contextText == "" {
		contextText = noContext
	}

	prompt, err := e.prompt.Format(map[string]any{
		"question": question,
		"answer":   answer,
		"context":  contextText,
	})
	if err != nil {
		return failed(err)
	}

	text, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		logger.Warn("evaluation failed: %v", err)
		return failed(err)
	}

	eval, err := Parse(text)
	if err != nil {
		logger.Debug("%v; raw response: %q", err, text)
	}
	return eval
}

func failed(err error) models.Evaluation {
	return models.Evaluation{Feedback: ErrorPrefix + err.Error()}
}

// Parse reads the SCORE_*/FEEDBACK/OVERALL_SCORE line format. Unparseable
// values stay at zero, scores are clamped to [0, 10], and a missing or zero
// overall score is derived from the three rubric scores. The returned error
// only signals that no field was recognised; the evaluation is usable anyway.
func Parse(text string) (models.Evaluation, error) {
	var (
		eval       models.Evaluation
		feedback   []string
		inFeedback bool
		recognised bool
	)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "SCORE_RELEVANCE:"):
			eval.Relevance, recognised = fieldScore(line), true
		case strings.HasPrefix(line, "SCORE_CLARITY:"):
			eval.Clarity, recognised = fieldScore(line), true
		case strings.HasPrefix(line, "SCORE_STAR:"):
			eval.Star, recognised = fieldScore(line), true
		case strings.HasPrefix(line, "OVERALL_SCORE:"):
			eval.Overall, recognised = fieldScore(line), true
		case strings.HasPrefix(line, "FEEDBACK:"):
			inFeedback, recognised = true, true
			feedback = append(feedback, strings.TrimSpace(strings.TrimPrefix(line, "FEEDBACK:")))
		case inFeedback && line != "":
			feedback = append(feedback, line)
		}
	}

	eval.Feedback = DefaultFeedback
	if len(feedback) > 0 {
		eval.Feedback = strings.Join(feedback, "\n")
	}
	if eval.Overall == 0 {
		eval.Overall = math.Round((eval.Relevance+eval.Clarity+eval.Star)/3*10) / 10
	}

	if !recognised {
		return eval, types.ErrMalformedEvaluation
	}
	return eval, nil
}

// fieldScore parses the text between the first and second colon.
func fieldScore(line string) float64 {
	parts := strings.Split(line, ":")
	if len(parts) < 2 {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(10, v))
}

// ContextExcerpt joins the first 300 characters of the two best chunks.
func ContextExcerpt(chunks []models.Chunk) string {
	if len(chunks) > excerptChunkCount {
		chunks = chunks[:excerptChunkCount]
	}
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = truncate(c.Content, excerptRunes)
	}
	return strings.Join(parts, "\n\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Summary renders an evaluation as a short report.
func Summary(e models.Evaluation) string {
	return fmt.Sprintf("Relevance %.1f/10 | Clarity %.1f/10 | STAR %.1f/10 | Overall %.1f/10\n%s",
		e.Relevance, e.Clarity, e.Star, e.Overall, e.Feedback)
}
