// Package querylog appends answered questions to daily JSON Lines files and
// summarises them.
package querylog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/xhad/prepbot/internal/logger"
	"github.com/xhad/prepbot/internal/models"
)

const DefaultDir = "logs"

type Logger struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

func New(dir string) *Logger {
	if dir == "" {
		dir = DefaultDir
	}
	return &Logger{dir: dir, now: time.Now}
}

func (l *Logger) Dir() string { return l.dir }

// NewEntry builds a log entry; AnswerLength is the answer's character count.
func NewEntry(question, answer string, sourcesCount int, mode models.AnswerMode, eval *models.Evaluation) models.LogEntry {
	if mode == "" {
		mode = models.ModeDefault
	}
	return models.LogEntry{
		Question:     question,
		AnswerLength: utf8.RuneCountInString(answer),
		SourcesCount: sourcesCount,
		AnswerMode:   mode,
		Evaluation:   eval,
	}
}

// FileFor returns the log file that entries written at t go to.
func (l *Logger) FileFor(t time.Time) string {
	return filepath.Join(l.dir, fmt.Sprintf("queries_%s.jsonl", t.Format("2006-01-02")))
}

// Log appends entry as one JSON line. Failures are swallowed.
func (l *Logger) Log(entry models.LogEntry) {
	if err := l.write(entry); err != nil {
		logger.Debug("query log write failed: %v", err)
	}
}

func (l *Logger) write(entry models.LogEntry) error {
	now := l.now()
	if entry.Timestamp == "" {
		entry.Timestamp = now.Format(time.RFC3339Nano)
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.FileFor(now), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

// Stats counts logged queries and log files. Unreadable files contribute
// nothing and a missing directory yields zero stats.
func (l *Logger) Stats() models.Stats {
	stats := models.Stats{Files: []string{}}

	paths, err := filepath.Glob(filepath.Join(l.dir, "queries_*.jsonl"))
	if err != nil {
		return stats
	}
	sort.Strings(paths)

	stats.TotalDays = len(paths)
	for _, p := range paths {
		stats.Files = append(stats.Files, filepath.Base(p))
		n, err := countLines(p)
		if err != nil {
			logger.Debug("skipping unreadable log %s: %v", p, err)
			continue
		}
		stats.TotalQueries += n
	}
	return stats
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			n++
		}
		if err != nil {
			break
		}
	}
	return n, nil
}
