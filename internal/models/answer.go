package models

import (
	"fmt"
	"strings"
)

type AnswerMode string

const (
	ModeDefault AnswerMode = "default"
	ModeStar    AnswerMode = "star"
	ModeBullet  AnswerMode = "bullet"
)

type AnswerLength string

const (
	LengthShort  AnswerLength = "short"
	LengthMedium AnswerLength = "medium"
	LengthLong   AnswerLength = "long"
)

// ParseAnswerMode accepts a case-insensitive mode name. Empty means default.
func ParseAnswerMode(s string) (AnswerMode, error) {
	switch m := AnswerMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeDefault, nil
	case ModeDefault, ModeStar, ModeBullet:
		return m, nil
	default:
		return "", fmt.Errorf("unknown answer mode %q (want default, star or bullet)", s)
	}
}

// ParseAnswerLength accepts a case-insensitive length name. Empty means medium.
func ParseAnswerLength(s string) (AnswerLength, error) {
	switch l := AnswerLength(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return LengthMedium, nil
	case LengthShort, LengthMedium, LengthLong:
		return l, nil
	default:
		return "", fmt.Errorf("unknown answer length %q (want short, medium or long)", s)
	}
}

// QueryResult is what the RAG engine produces for one question.
type QueryResult struct {
	Answer           string    `json:"result"`
	SourceChunks     []Chunk   `json:"source_documents"`
	SimilarityScores []float64 `json:"similarity_scores"`
	// GenerationErr is set when Answer holds an in-band error message.
	GenerationErr error `json:"-"`
}

// Evaluation holds rubric scores on a 0-10 scale.
type Evaluation struct {
	Relevance float64 `json:"relevance"`
	Clarity   float64 `json:"clarity"`
	Star      float64 `json:"star"`
	Overall   float64 `json:"overall"`
	Feedback  string  `json:"feedback"`
}

// Turn is one question/answer exchange of a chat session.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// LogEntry is one line of the query log.
type LogEntry struct {
	Timestamp    string      `json:"timestamp"`
	Question     string      `json:"question"`
	AnswerLength int         `json:"answer_length"`
	SourcesCount int         `json:"sources_count"`
	AnswerMode   AnswerMode  `json:"answer_mode"`
	Evaluation   *Evaluation `json:"evaluation"`
}

// Stats summarises the query log directory.
type Stats struct {
	TotalQueries int      `json:"total_queries"`
	TotalDays    int      `json:"total_days"`
	Files        []string `json:"files"`
}
