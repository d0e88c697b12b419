package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/xhad/prepbot/internal/logger"
	"github.com/xhad/prepbot/pkg/assistant"
	cfgPkg "github.com/xhad/prepbot/pkg/config"
	"github.com/xhad/prepbot/pkg/llm"
	"github.com/xhad/prepbot/pkg/processor"
	"github.com/xhad/prepbot/pkg/querylog"
	"github.com/xhad/prepbot/pkg/scraper"
	"github.com/xhad/prepbot/pkg/store"
)

var (
	configPath string
	verbose    bool
	provider   string
	apiKey     string
	model      string
	answerMode string
	answerLen  string
	noEval     bool

	sourceFiles []string
	cvFiles     []string
	sourceURLs  []string
	sourceText  string
	namespace   string

	cfg *cfgPkg.Config
)

var rootCmd = &cobra.Command{
	Use:   "prepbot",
	Short: "Interview preparation assistant",
	Long: `prepbot indexes job descriptions, CVs and job postings and answers
interview questions grounded in them, optionally scoring every answer.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to config file")
	pf.BoolVarP(&verbose, "verbose", "v", false, "print diagnostic logs")
	pf.StringVar(&provider, "provider", "", "LLM provider: groq, openai or ollama")
	pf.StringVar(&apiKey, "api-key", "", "API key for the LLM provider (defaults to <PROVIDER>_API_KEY)")
	pf.StringVar(&model, "model", "", "model name")
	pf.StringVar(&answerMode, "mode", "", "answer mode: default, star or bullet")
	pf.StringVar(&answerLen, "length", "", "answer length: short, medium or long")
	pf.BoolVar(&noEval, "no-eval", false, "skip answer evaluation")
}

// addSourceFlags registers the knowledge-base inputs on commands that ingest.
func addSourceFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringArrayVarP(&sourceFiles, "file", "f", nil, "job description or notes file (.pdf or .txt), repeatable")
	f.StringArrayVar(&cvFiles, "cv", nil, "CV file (.pdf or .txt), repeatable")
	f.StringArrayVar(&sourceURLs, "url", nil, "job posting URL, repeatable")
	f.StringVar(&sourceText, "text", "", "job description text")
	f.StringVar(&namespace, "namespace", "", "reopen a previously built knowledge base instead of ingesting")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	// A missing .env is fine.
	_ = godotenv.Load()

	c, err := cfgPkg.LoadConfig(configPath)
	if err != nil {
		return err
	}

	if provider != "" {
		c.LLM.Provider = provider
	}
	if apiKey != "" {
		c.LLM.APIKey = apiKey
	}
	if model != "" {
		c.LLM.Model = model
	}
	if answerMode != "" {
		c.Answer.Mode = answerMode
	}
	if answerLen != "" {
		c.Answer.Length = answerLen
	}
	if noEval {
		off := false
		c.Answer.Evaluate = &off
	}
	if verbose {
		c.Log.Verbose = true
	}

	if errs := c.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}

	logger.SetVerbose(c.Log.Verbose)
	cfg = c
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newBackend(ctx context.Context) (store.Backend, error) {
	switch cfg.Store.Type {
	case "pgvector":
		return store.NewPGVector(ctx, store.PGVectorConfig{
			ConnString:  cfg.Store.URL,
			TablePrefix: cfg.Store.TablePrefix,
		})
	default:
		return store.NewLocal(store.LocalConfig{Dir: cfg.Store.Dir})
	}
}

func embedderAPIKey() string {
	key := ""
	if strings.EqualFold(cfg.LLM.Provider, cfg.Embedder.Type) {
		key = cfg.LLM.APIKey
	}
	return llm.ResolveAPIKey(cfg.Embedder.Type, key)
}

// newAssistant wires a session from cfg. The returned cleanup closes the
// session and the storage backend.
func newAssistant(ctx context.Context, progress *ingestProgress) (*assistant.Assistant, func(), error) {
	generator, err := llm.NewGenerator(llm.GeneratorConfig{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize chat model: %w", err)
	}

	embedder, err := llm.NewEmbedder(llm.EmbedderConfig{
		Type:      cfg.Embedder.Type,
		Model:     cfg.Embedder.Model,
		BaseURL:   cfg.Embedder.BaseURL,
		APIKey:    embedderAPIKey(),
		Dimension: cfg.Embedder.Dimension,
		BatchSize: cfg.Store.BatchSize,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	backend, err := newBackend(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	proc := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.ChunkOverlap,
	})

	opts := assistant.Options{
		Backend:   backend,
		Embedder:  embedder,
		Generator: generator,
		Processor: &proc,
		Scraper: scraper.NewWithConfig(scraper.ScraperConfig{
			MaxDepth:       cfg.Scraper.MaxDepth,
			RateLimit:      cfg.Scraper.RateLimit,
			IgnorePatterns: cfg.Scraper.IgnorePatterns,
			Timeout:        cfg.ScraperTimeout(),
			OnProgress:     progress.scraped,
		}),
		QueryLog:    querylog.New(cfg.Log.Dir),
		TopK:        cfg.Retrieval.TopK,
		Evaluate:    cfg.EvaluateAnswers(),
		BatchSize:   cfg.Store.BatchSize,
		SettleDelay: cfg.SettleDelay(),
		OnStage:     progress.stage,
		OnEmbedded:  progress.embedded,
	}

	a, err := assistant.New(opts)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}
	if err := a.SetStyle(cfg.Answer.Mode, cfg.Answer.Length); err != nil {
		backend.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing session: %v", err)
		}
		if err := backend.Close(); err != nil {
			logger.Warn("closing vector store: %v", err)
		}
	}
	return a, cleanup, nil
}

func sourcesFromFlags() assistant.Sources {
	return assistant.Sources{
		PastedText: sourceText,
		Files:      sourceFiles,
		CVFiles:    cvFiles,
		URLs:       sourceURLs,
	}
}

// prepareKnowledge reopens --namespace or ingests the source flags.
// requireSources makes an empty source set an error.
func prepareKnowledge(ctx context.Context, a *assistant.Assistant, progress *ingestProgress, requireSources bool) error {
	if namespace != "" {
		if err := a.OpenKnowledge(ctx, namespace); err != nil {
			return fmt.Errorf("failed to open knowledge base %s: %w", namespace, err)
		}
		progress.done("Reopened knowledge base %s", namespace)
		return nil
	}

	src := sourcesFromFlags()
	if src.Empty() {
		if requireSources {
			return errors.New("no knowledge sources: pass --file, --cv, --url, --text or --namespace")
		}
		return nil
	}

	report, err := a.LoadKnowledge(ctx, src)
	progress.finish()
	if report != nil {
		for _, f := range report.Failures {
			color.Yellow("⚠ Skipped %s: %s", f.Source, f.Error)
		}
		for _, w := range report.Warnings {
			color.Yellow("⚠ %s", w)
		}
	}
	if err != nil {
		return err
	}
	progress.done("Indexed %d chunks from %d documents into %s", report.Chunks, report.Documents, report.Namespace)
	return nil
}
