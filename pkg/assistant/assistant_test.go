package assistant_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/prepbot/internal/models"
	"github.com/xhad/prepbot/internal/types"
	"github.com/xhad/prepbot/pkg/assistant"
	"github.com/xhad/prepbot/pkg/llm"
	"github.com/xhad/prepbot/pkg/querylog"
	"github.com/xhad/prepbot/pkg/rag"
	"github.com/xhad/prepbot/pkg/store"
)

const evalReply = `SCORE_RELEVANCE: 8
SCORE_CLARITY: 7
SCORE_STAR: 6
FEEDBACK: ✔ concrete example
OVERALL_SCORE: 7.0`

type fakeGenerator struct {
	mu      sync.Mutex
	answer  string
	err     error
	prompts []string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if strings.Contains(prompt, "SCORE_RELEVANCE") {
		return evalReply, nil
	}
	return g.answer, g.err
}

func (g *fakeGenerator) lastAnswerPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.prompts) - 1; i >= 0; i-- {
		if !strings.Contains(g.prompts[i], "SCORE_RELEVANCE") {
			return g.prompts[i]
		}
	}
	return ""
}

type fixture struct {
	assistant *assistant.Assistant
	gen       *fakeGenerator
	storeDir  string
	logDir    string
}

func newFixture(t *testing.T, evaluate bool) *fixture {
	t.Helper()
	storeDir, logDir := t.TempDir(), t.TempDir()
	backend, err := store.NewLocal(store.LocalConfig{Dir: storeDir})
	require.NoError(t, err)

	gen := &fakeGenerator{answer: "Lead with the migration project and its measurable result."}
	a, err := assistant.New(assistant.Options{
		Backend:   backend,
		Embedder:  llm.NewHashingEmbedder(64),
		Generator: gen,
		QueryLog:  querylog.New(logDir),
		Evaluate:  evaluate,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	return &fixture{assistant: a, gen: gen, storeDir: storeDir, logDir: logDir}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := assistant.New(assistant.Options{})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestAskBeforeLoad(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.assistant.Ask(context.Background(), "Tell me about yourself")
	assert.ErrorIs(t, err, types.ErrNotReady)
	assert.Empty(t, f.assistant.Namespace())
}

func TestLoadAndAsk(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	cv := writeFile(t, "cv.txt", "Led a Postgres to Cloud SQL migration that cut costs by 30 percent.")

	report, err := f.assistant.LoadKnowledge(ctx, assistant.Sources{
		PastedText: "Senior backend engineer. Requirements: Go, Kubernetes, on-call experience.",
		CVFiles:    []string{cv},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, 2, report.Chunks)
	assert.Empty(t, report.Failures)
	assert.Equal(t, report.Namespace, f.assistant.Namespace())
	assert.DirExists(t, filepath.Join(f.storeDir, report.Namespace))

	reply, err := f.assistant.Ask(ctx, "Which migration did you lead?")
	require.NoError(t, err)
	assert.Equal(t, f.gen.answer, reply.Answer)
	require.Len(t, reply.SourceChunks, 2)
	assert.Len(t, reply.SimilarityScores, 2)
	sources := []string{reply.SourceChunks[0].Source(), reply.SourceChunks[1].Source()}
	assert.ElementsMatch(t, []string{"CV: cv.txt", "pasted_text"}, sources)

	require.NotNil(t, reply.Evaluation)
	assert.Equal(t, 8.0, reply.Evaluation.Relevance)
	assert.Equal(t, 7.0, reply.Evaluation.Overall)

	assert.Equal(t, []models.Turn{{Question: "Which migration did you lead?", Answer: f.gen.answer}}, f.assistant.History())

	stats := f.assistant.Stats()
	assert.Equal(t, 1, stats.TotalQueries)
	assert.Equal(t, 1, stats.TotalDays)
}

func TestHistoryFeedsFollowUps(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.assistant.LoadKnowledge(ctx, assistant.Sources{PastedText: "Platform team, Go and Terraform."})
	require.NoError(t, err)

	_, err = f.assistant.Ask(ctx, "What stack do they use?")
	require.NoError(t, err)
	assert.NotContains(t, f.gen.lastAnswerPrompt(), "Previous conversation:")

	_, err = f.assistant.Ask(ctx, "And what about infra?")
	require.NoError(t, err)
	prompt := f.gen.lastAnswerPrompt()
	assert.Contains(t, prompt, "Previous conversation:\nQ: What stack do they use?")
	assert.Contains(t, prompt, "Current question: And what about infra?")

	f.assistant.ClearHistory()
	assert.Empty(t, f.assistant.History())
	_, err = f.assistant.Ask(ctx, "Anything else?")
	require.NoError(t, err)
	assert.NotContains(t, f.gen.lastAnswerPrompt(), "Previous conversation:")
}

func TestReloadReplacesKnowledgeBase(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	first, err := f.assistant.LoadKnowledge(ctx, assistant.Sources{PastedText: "First job description."})
	require.NoError(t, err)
	_, err = f.assistant.Ask(ctx, "What is the role?")
	require.NoError(t, err)

	second, err := f.assistant.LoadKnowledge(ctx, assistant.Sources{PastedText: "Second job description."})
	require.NoError(t, err)
	assert.NotEqual(t, first.Namespace, second.Namespace)
	assert.Empty(t, second.Warnings)
	assert.NoDirExists(t, filepath.Join(f.storeDir, first.Namespace))
	assert.DirExists(t, filepath.Join(f.storeDir, second.Namespace))
	assert.Empty(t, f.assistant.History())

	reply, err := f.assistant.Ask(ctx, "What is the role?")
	require.NoError(t, err)
	require.Len(t, reply.SourceChunks, 1)
	assert.Equal(t, "Second job description.", reply.SourceChunks[0].Content)
}

func TestFailedLoadKeepsPreviousKnowledge(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	first, err := f.assistant.LoadKnowledge(ctx, assistant.Sources{PastedText: "Data engineer, Spark and Airflow."})
	require.NoError(t, err)

	report, err := f.assistant.LoadKnowledge(ctx, assistant.Sources{Files: []string{writeFile(t, "notes.docx", "x")}})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Error, types.ErrUnsupportedFormat.Error())

	assert.Equal(t, first.Namespace, f.assistant.Namespace())
	assert.DirExists(t, filepath.Join(f.storeDir, first.Namespace))
}

func TestPartialLoadReportsFailures(t *testing.T) {
	f := newFixture(t, false)

	report, err := f.assistant.LoadKnowledge(context.Background(), assistant.Sources{
		PastedText: "Frontend role using React.",
		Files:      []string{filepath.Join(t.TempDir(), "missing.txt")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pasted_text"}, report.Sources)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Source, "missing.txt")
}

func TestLoadEmptySources(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.assistant.LoadKnowledge(context.Background(), assistant.Sources{PastedText: "   "})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	assert.True(t, assistant.Sources{PastedText: " "}.Empty())
}

func TestGenerationFailureIsInBand(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.assistant.LoadKnowledge(ctx, assistant.Sources{PastedText: "SRE role."})
	require.NoError(t, err)

	f.gen.err = errors.New("rate limited")
	reply, err := f.assistant.Ask(ctx, "Why SRE?")
	require.NoError(t, err)
	assert.True(t, rag.IsErrorAnswer(reply.Answer))
	assert.Contains(t, reply.Answer, "rate limited")
	assert.ErrorIs(t, reply.GenerationErr, types.ErrGeneration)
	assert.Nil(t, reply.Evaluation)
	assert.Equal(t, 1, f.assistant.Stats().TotalQueries)
}

func TestAskRejectsBlankQuestion(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.assistant.Ask(context.Background(), "  ")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestSetStyle(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.assistant.LoadKnowledge(ctx, assistant.Sources{PastedText: "Security engineer."})
	require.NoError(t, err)

	assert.ErrorIs(t, f.assistant.SetStyle("haiku", "short"), types.ErrInvalidInput)
	assert.ErrorIs(t, f.assistant.SetStyle("star", "epic"), types.ErrInvalidInput)

	require.NoError(t, f.assistant.SetStyle("Bullet", "short"))
	mode, length := f.assistant.Style()
	assert.Equal(t, models.ModeBullet, mode)
	assert.Equal(t, models.LengthShort, length)

	_, err = f.assistant.Ask(ctx, "Strengths?")
	require.NoError(t, err)
	assert.Contains(t, f.gen.lastAnswerPrompt(), "bullet points")
}

func TestOpenKnowledge(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	report, err := f.assistant.LoadKnowledge(ctx, assistant.Sources{PastedText: "Mobile developer, Kotlin."})
	require.NoError(t, err)
	require.NoError(t, f.assistant.Close())
	assert.Empty(t, f.assistant.Namespace())

	assert.ErrorIs(t, f.assistant.OpenKnowledge(ctx, "db_missing"), types.ErrNotFound)

	require.NoError(t, f.assistant.OpenKnowledge(ctx, report.Namespace))
	assert.Equal(t, report.Namespace, f.assistant.Namespace())
	reply, err := f.assistant.Ask(ctx, "Which language?")
	require.NoError(t, err)
	assert.Len(t, reply.SourceChunks, 1)
}

func TestProgressCallbacks(t *testing.T) {
	backend, err := store.NewLocal(store.LocalConfig{Dir: t.TempDir()})
	require.NoError(t, err)

	var stages []string
	var embedded [][2]int
	a, err := assistant.New(assistant.Options{
		Backend:    backend,
		Embedder:   llm.NewHashingEmbedder(32),
		Generator:  &fakeGenerator{answer: "ok"},
		QueryLog:   querylog.New(t.TempDir()),
		OnStage:    func(stage, _ string) { stages = append(stages, stage) },
		OnEmbedded: func(done, total int) { embedded = append(embedded, [2]int{done, total}) },
	})
	require.NoError(t, err)

	_, err = a.LoadKnowledge(context.Background(), assistant.Sources{Files: []string{writeFile(t, "jd.txt", "Staff engineer.")}})
	require.NoError(t, err)
	assert.Equal(t, []string{assistant.StageLoading, assistant.StageChunking, assistant.StageEmbedding}, stages)
	assert.Equal(t, [][2]int{{1, 1}}, embedded)
}

// flakyBackend wraps a real backend with injected Build and Destroy failures.
type flakyBackend struct {
	store.Backend
	buildFailures int
	destroyErr    error
	built         []string
}

func (b *flakyBackend) Build(ctx context.Context, ns string, chunks []models.Chunk, emb types.Embedder, opts ...store.BuildOption) (store.Index, error) {
	b.built = append(b.built, ns)
	if b.buildFailures > 0 {
		b.buildFailures--
		return nil, fmt.Errorf("%w: database is locked", types.ErrIndexStorage)
	}
	return b.Backend.Build(ctx, ns, chunks, emb, opts...)
}

func (b *flakyBackend) Destroy(ctx context.Context, ns string) error {
	if b.destroyErr != nil {
		return b.destroyErr
	}
	return b.Backend.Destroy(ctx, ns)
}

func newFlakyAssistant(t *testing.T, backend *flakyBackend) *assistant.Assistant {
	t.Helper()
	a, err := assistant.New(assistant.Options{
		Backend:   backend,
		Embedder:  llm.NewHashingEmbedder(64),
		Generator: &fakeGenerator{answer: "ok"},
		QueryLog:  querylog.New(t.TempDir()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestStorageFailureRetriesUnderFreshNamespace(t *testing.T) {
	dir := t.TempDir()
	local, err := store.NewLocal(store.LocalConfig{Dir: dir})
	require.NoError(t, err)
	backend := &flakyBackend{Backend: local, buildFailures: 1}
	a := newFlakyAssistant(t, backend)

	report, err := a.LoadKnowledge(context.Background(), assistant.Sources{PastedText: "Backend engineer, Go."})
	require.NoError(t, err)
	require.Len(t, backend.built, 2)
	assert.NotEqual(t, backend.built[0], backend.built[1])
	assert.Equal(t, backend.built[1], report.Namespace)
	assert.Equal(t, report.Namespace, a.Namespace())
	assert.DirExists(t, filepath.Join(dir, report.Namespace))
	assert.NoDirExists(t, filepath.Join(dir, backend.built[0]))
}

func TestStorageFailureRetriesOnlyOnce(t *testing.T) {
	local, err := store.NewLocal(store.LocalConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	backend := &flakyBackend{Backend: local, buildFailures: 2}
	a := newFlakyAssistant(t, backend)

	_, err = a.LoadKnowledge(context.Background(), assistant.Sources{PastedText: "Backend engineer, Go."})
	assert.ErrorIs(t, err, types.ErrIndexStorage)
	assert.Len(t, backend.built, 2)
	assert.Empty(t, a.Namespace())
}

func TestFailedCleanupIsAWarning(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	local, err := store.NewLocal(store.LocalConfig{Dir: dir})
	require.NoError(t, err)
	backend := &flakyBackend{Backend: local}
	a := newFlakyAssistant(t, backend)

	first, err := a.LoadKnowledge(ctx, assistant.Sources{PastedText: "First posting: data engineer."})
	require.NoError(t, err)

	backend.destroyErr = fmt.Errorf("%w: directory in use", types.ErrIndexStorage)
	second, err := a.LoadKnowledge(ctx, assistant.Sources{PastedText: "Second posting: site reliability engineer."})
	require.NoError(t, err)
	require.Len(t, second.Warnings, 1)
	assert.Contains(t, second.Warnings[0], first.Namespace)
	assert.Contains(t, second.Warnings[0], "directory in use")

	assert.Equal(t, second.Namespace, a.Namespace())
	assert.DirExists(t, filepath.Join(dir, first.Namespace))

	reply, err := a.Ask(ctx, "Which role?")
	require.NoError(t, err)
	require.Len(t, reply.SourceChunks, 1)
	assert.Equal(t, "Second posting: site reliability engineer.", reply.SourceChunks[0].Content)
}
