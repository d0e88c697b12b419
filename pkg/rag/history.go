package rag

import (
	"fmt"
	"strings"

	"github.com/xhad/prepbot/internal/models"
)

const (
	historyTurns     = 3
	historyAnswerMax = 200
)

// HistorySummary condenses the last three turns into "Q: ...\nA: ..." lines,
// each answer cut to its first 200 characters.
func HistorySummary(turns []models.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	if len(turns) > historyTurns {
		turns = turns[len(turns)-historyTurns:]
	}

	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, fmt.Sprintf("Q: %s\nA: %s...", t.Question, truncate(t.Answer, historyAnswerMax)))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
