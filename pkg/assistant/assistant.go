// Package assistant owns one user's interview-preparation session: the
// loaded knowledge base, chat history and answer preferences.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xhad/prepbot/internal/logger"
	"github.com/xhad/prepbot/internal/models"
	"github.com/xhad/prepbot/internal/types"
	"github.com/xhad/prepbot/pkg/evaluator"
	"github.com/xhad/prepbot/pkg/loader"
	"github.com/xhad/prepbot/pkg/processor"
	"github.com/xhad/prepbot/pkg/querylog"
	"github.com/xhad/prepbot/pkg/rag"
	"github.com/xhad/prepbot/pkg/scraper"
	"github.com/xhad/prepbot/pkg/store"
)

// Sources lists everything a knowledge base is built from.
type Sources struct {
	PastedText string   `json:"text,omitempty"`
	Files      []string `json:"files,omitempty"`
	CVFiles    []string `json:"cv_files,omitempty"`
	URLs       []string `json:"urls,omitempty"`
}

func (s Sources) Empty() bool {
	return strings.TrimSpace(s.PastedText) == "" && len(s.Files) == 0 && len(s.CVFiles) == 0 && len(s.URLs) == 0
}

// SourceFailure records one input that could not be loaded.
type SourceFailure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// IngestReport describes a finished knowledge-base build.
type IngestReport struct {
	Namespace string          `json:"namespace"`
	Documents int             `json:"documents"`
	Chunks    int             `json:"chunks"`
	Sources   []string        `json:"sources"`
	Failures  []SourceFailure `json:"failures,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
}

// Reply is the outcome of one question.
type Reply struct {
	models.QueryResult
	Evaluation *models.Evaluation `json:"evaluation,omitempty"`
}

// Stage names passed to Options.OnStage.
const (
	StageLoading   = "loading"
	StageChunking  = "chunking"
	StageEmbedding = "embedding"
	StageCleanup   = "cleanup"
)

type Options struct {
	Backend   store.Backend
	Embedder  types.Embedder
	Generator types.Generator
	Processor *processor.Processor
	Scraper   *scraper.Scraper
	QueryLog  *querylog.Logger

	Mode      models.AnswerMode
	Length    models.AnswerLength
	TopK      int
	Evaluate  bool
	BatchSize int

	// SettleDelay is waited between closing the old index and deleting it.
	SettleDelay time.Duration

	OnStage    func(stage, detail string)
	OnEmbedded func(done, total int)
}

// Assistant serialises every operation; it models a single user.
type Assistant struct {
	mu   sync.Mutex
	opts Options

	evaluator *evaluator.Evaluator
	index     store.Index
	engine    *rag.Engine
	history   []models.Turn
}

func New(opts Options) (*Assistant, error) {
	if opts.Backend == nil || opts.Embedder == nil || opts.Generator == nil {
		return nil, fmt.Errorf("%w: backend, embedder and generator are required", types.ErrInvalidInput)
	}
	if opts.Mode == "" {
		opts.Mode = models.ModeDefault
	}
	if opts.Length == "" {
		opts.Length = models.LengthMedium
	}
	if opts.Processor == nil {
		p := processor.NewWithConfig(processor.ProcessorConfig{})
		opts.Processor = &p
	}
	if opts.Scraper == nil {
		opts.Scraper = scraper.New()
	}
	if opts.QueryLog == nil {
		opts.QueryLog = querylog.New("")
	}

	return &Assistant{
		opts:      opts,
		evaluator: evaluator.New(opts.Generator),
	}, nil
}

func (a *Assistant) stage(stage, format string, args ...any) {
	detail := fmt.Sprintf(format, args...)
	logger.Info("%s: %s", stage, detail)
	if a.opts.OnStage != nil {
		a.opts.OnStage(stage, detail)
	}
}

// LoadKnowledge builds a new knowledge base from src under a fresh namespace
// and swaps it in. The previous knowledge base stays active if the build
// fails; once replaced it is closed and deleted, and a failed deletion only
// produces a warning. Chat history is reset on success.
func (a *Assistant) LoadKnowledge(ctx context.Context, src Sources) (*IngestReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	report := &IngestReport{}
	docs := a.collect(ctx, src, report)
	if len(docs) == 0 {
		if len(report.Failures) > 0 {
			return report, fmt.Errorf("%w: none of the %d source(s) could be loaded", types.ErrInvalidInput, len(report.Failures))
		}
		return report, fmt.Errorf("%w: no documents to index", types.ErrInvalidInput)
	}
	report.Documents = len(docs)

	a.stage(StageChunking, "splitting %d document(s)", len(docs))
	chunks, err := a.opts.Processor.Split(docs)
	if err != nil {
		return report, err
	}
	if len(chunks) == 0 {
		return report, fmt.Errorf("%w: documents contain no text", types.ErrInvalidInput)
	}
	report.Chunks = len(chunks)

	ix, err := a.build(ctx, chunks)
	if err != nil {
		return report, err
	}
	report.Namespace = ix.Namespace()

	if old := a.index; old != nil {
		if w := a.retire(ctx, old); w != "" {
			report.Warnings = append(report.Warnings, w)
		}
	}
	a.index = ix
	a.engine = nil
	a.history = nil
	return report, nil
}

func (a *Assistant) collect(ctx context.Context, src Sources, report *IngestReport) []models.Document {
	var docs []models.Document
	add := func(source string, loaded []models.Document, err error) {
		if err != nil {
			logger.Warn("skipping %s: %v", source, err)
			report.Failures = append(report.Failures, SourceFailure{Source: source, Error: err.Error()})
			return
		}
		docs = append(docs, loaded...)
		report.Sources = append(report.Sources, source)
	}

	if strings.TrimSpace(src.PastedText) != "" {
		d, err := loader.FromText(src.PastedText, loader.PastedTextSource)
		add(loader.PastedTextSource, []models.Document{d}, err)
	}
	for _, path := range src.Files {
		a.stage(StageLoading, "%s", path)
		d, err := loader.Load(ctx, path)
		add(path, d, err)
	}
	for _, path := range src.CVFiles {
		a.stage(StageLoading, "CV %s", path)
		d, err := loader.Load(ctx, path)
		add(loader.CVPrefix+path, loader.PrefixSource(d, loader.CVPrefix), err)
	}
	for _, u := range src.URLs {
		a.stage(StageLoading, "%s", u)
		d, err := a.opts.Scraper.Scrape(ctx, u)
		if err == nil && len(d) == 0 {
			err = errors.New("no readable text on page")
		}
		add(u, d, err)
	}
	return docs
}

func (a *Assistant) build(ctx context.Context, chunks []models.Chunk) (store.Index, error) {
	opts := []store.BuildOption{store.WithBatchSize(a.opts.BatchSize)}
	if a.opts.OnEmbedded != nil {
		opts = append(opts, store.WithProgress(a.opts.OnEmbedded))
	}

	ns := store.NewNamespace()
	a.stage(StageEmbedding, "indexing %d chunk(s) into %s", len(chunks), ns)
	ix, err := a.opts.Backend.Build(ctx, ns, chunks, a.opts.Embedder, opts...)
	if errors.Is(err, types.ErrIndexStorage) {
		logger.Warn("namespace %s unusable, retrying with a fresh one: %v", ns, err)
		_ = a.opts.Backend.Destroy(ctx, ns)
		ns = store.NewNamespace()
		ix, err = a.opts.Backend.Build(ctx, ns, chunks, a.opts.Embedder, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build knowledge base: %w", err)
	}
	return ix, nil
}

// retire releases old, waits for the storage to settle and deletes it.
func (a *Assistant) retire(ctx context.Context, old store.Index) string {
	ns := old.Namespace()
	a.stage(StageCleanup, "removing previous knowledge base %s", ns)
	if err := old.Close(); err != nil {
		logger.Warn("closing %s: %v", ns, err)
	}

	if a.opts.SettleDelay > 0 {
		select {
		case <-time.After(a.opts.SettleDelay):
		case <-ctx.Done():
		}
	}

	if err := a.opts.Backend.Destroy(context.WithoutCancel(ctx), ns); err != nil {
		logger.Warn("could not delete %s: %v", ns, err)
		return fmt.Sprintf("could not clear old knowledge base %s (using new one): %v", ns, err)
	}
	return ""
}

// OpenKnowledge switches to a namespace persisted by an earlier run.
func (a *Assistant) OpenKnowledge(ctx context.Context, namespace string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ix, err := a.opts.Backend.Open(ctx, namespace, a.opts.Embedder)
	if err != nil {
		return err
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			logger.Warn("closing %s: %v", a.index.Namespace(), err)
		}
	}
	a.index = ix
	a.engine = nil
	a.history = nil
	return nil
}

// Ask answers question against the loaded knowledge base, records the turn,
// optionally evaluates the answer and writes the query log.
func (a *Assistant) Ask(ctx context.Context, question string) (*Reply, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", types.ErrInvalidInput)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.index == nil {
		return nil, types.ErrNotReady
	}
	if a.engine == nil {
		engine, err := rag.NewEngine(a.index, a.opts.Generator,
			rag.WithMode(a.opts.Mode), rag.WithLength(a.opts.Length), rag.WithTopK(a.opts.TopK))
		if err != nil {
			return nil, err
		}
		a.engine = engine
	}

	result, err := a.engine.Answer(ctx, question, rag.HistorySummary(a.history))
	if err != nil {
		return nil, err
	}
	a.history = append(a.history, models.Turn{Question: question, Answer: result.Answer})

	reply := &Reply{QueryResult: result}
	if a.opts.Evaluate && result.GenerationErr == nil {
		eval := a.evaluator.Evaluate(ctx, question, result.Answer, evaluator.ContextExcerpt(result.SourceChunks))
		reply.Evaluation = &eval
	}

	a.opts.QueryLog.Log(querylog.NewEntry(question, result.Answer, len(result.SourceChunks), a.opts.Mode, reply.Evaluation))
	return reply, nil
}

// SetStyle changes the answer mode and length used by later questions.
func (a *Assistant) SetStyle(mode, length string) error {
	m, err := models.ParseAnswerMode(mode)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	l, err := models.ParseAnswerLength(length)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if m != a.opts.Mode || l != a.opts.Length {
		a.opts.Mode, a.opts.Length = m, l
		a.engine = nil
	}
	return nil
}

func (a *Assistant) Style() (models.AnswerMode, models.AnswerLength) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opts.Mode, a.opts.Length
}

func (a *Assistant) SetEvaluation(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opts.Evaluate = on
}

func (a *Assistant) ClearHistory() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
}

func (a *Assistant) History() []models.Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Turn(nil), a.history...)
}

// Namespace returns the active namespace, or "" before any knowledge base is loaded.
func (a *Assistant) Namespace() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.index == nil {
		return ""
	}
	return a.index.Namespace()
}

func (a *Assistant) Stats() models.Stats {
	return a.opts.QueryLog.Stats()
}

// Close releases the active index handle. Persisted data is kept.
func (a *Assistant) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.index == nil {
		return nil
	}
	err := a.index.Close()
	a.index, a.engine = nil, nil
	return err
}
