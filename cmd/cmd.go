package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/xhad/prepbot/internal/models"
	"github.com/xhad/prepbot/pkg/assistant"
	"github.com/xhad/prepbot/pkg/evaluator"
	"github.com/xhad/prepbot/pkg/rag"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Practice interview questions interactively",
	Long: `Builds a knowledge base from the given sources and starts an interactive
session. Without sources a job description can be pasted at the prompt.

Commands inside the session:
  :mode <default|star|bullet>   change the answer mode
  :length <short|medium|long>   change the answer length
  :sources                      toggle display of retrieved context
  :clear                        forget the conversation so far
  :stats                        show usage statistics
  exit                          quit`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	addSourceFlags(chatCmd)
	rootCmd.AddCommand(chatCmd)
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// withSpinner animates a spinner while fn runs.
func withSpinner(description string, fn func()) {
	spinner := getSpinner(description)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = spinner.Add(1)
			}
		}
	}()

	fn()
	close(stop)
	wg.Wait()
	_ = spinner.Finish()
	_ = spinner.Clear()
	fmt.Fprint(os.Stderr, "\r")
}

// ingestProgress renders assistant ingestion callbacks on the terminal.
type ingestProgress struct {
	mu        sync.Mutex
	scrapeBar *progressbar.ProgressBar
	embedBar  *progressbar.ProgressBar
}

func (p *ingestProgress) stage(stage, detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stage != assistant.StageLoading && p.scrapeBar != nil {
		_ = p.scrapeBar.Finish()
		p.scrapeBar = nil
		fmt.Fprintln(os.Stderr)
	}
	if stage == assistant.StageEmbedding {
		return
	}
	color.Blue("→ %s %s", stage, detail)
}

func (p *ingestProgress) scraped(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scrapeBar == nil {
		p.scrapeBar = getSpinner("Scraping job posting...")
	}
	_ = p.scrapeBar.Add(1)
	p.scrapeBar.Describe(color.CyanString("Scraping %s", url))
}

func (p *ingestProgress) embedded(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.embedBar == nil {
		p.embedBar = getProgressBar(total, "Embedding knowledge base")
	}
	_ = p.embedBar.Set(done)
}

func (p *ingestProgress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, bar := range []*progressbar.ProgressBar{p.scrapeBar, p.embedBar} {
		if bar != nil {
			_ = bar.Finish()
			fmt.Fprintln(os.Stderr)
		}
	}
	p.scrapeBar, p.embedBar = nil, nil
}

func (p *ingestProgress) done(format string, args ...any) {
	color.Green("✓ "+format, args...)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	progress := &ingestProgress{}
	a, cleanup, err := newAssistant(ctx, progress)
	if err != nil {
		return err
	}
	defer cleanup()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	if err := prepareKnowledge(ctx, a, progress, false); err != nil {
		return err
	}
	if a.Namespace() == "" {
		text := readPasted(scanner)
		if text == "" {
			return errors.New("no job description provided")
		}
		report, err := a.LoadKnowledge(ctx, assistant.Sources{PastedText: text})
		progress.finish()
		if err != nil {
			return err
		}
		progress.done("Indexed %d chunks into %s", report.Chunks, report.Namespace)
	}

	mode, length := a.Style()
	color.Cyan("\nAsk interview questions (mode %s, length %s; type 'exit' to quit)", mode, length)

	userPrompt := color.New(color.FgGreen).PrintfFunc()
	showSources := false

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		switch {
		case query == "":
			continue
		case strings.EqualFold(query, "exit"), strings.EqualFold(query, "quit"):
			return nil
		case strings.HasPrefix(query, ":"):
			showSources = runChatCommand(a, query, showSources)
			continue
		}

		var (
			reply  *assistant.Reply
			askErr error
		)
		withSpinner("Thinking...", func() {
			reply, askErr = a.Ask(ctx, query)
		})
		if askErr != nil {
			if errors.Is(askErr, context.Canceled) {
				return nil
			}
			color.Red("Error: %v", askErr)
			continue
		}
		printReply(reply, showSources)
	}
	return scanner.Err()
}

// readPasted reads lines until the first empty one.
func readPasted(scanner *bufio.Scanner) string {
	color.Cyan("Paste the job description, then an empty line:")
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			break
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// runChatCommand handles a ':' command and returns the new source display setting.
func runChatCommand(a *assistant.Assistant, line string, showSources bool) bool {
	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	mode, length := a.Style()

	switch fields[0] {
	case ":clear":
		a.ClearHistory()
		color.Green("✓ Conversation cleared")
	case ":mode":
		if err := a.SetStyle(arg, string(length)); err != nil {
			color.Red("%v", err)
			break
		}
		m, _ := a.Style()
		color.Green("✓ Answer mode: %s", m)
	case ":length":
		if err := a.SetStyle(string(mode), arg); err != nil {
			color.Red("%v", err)
			break
		}
		_, l := a.Style()
		color.Green("✓ Answer length: %s", l)
	case ":sources":
		showSources = !showSources
		color.Green("✓ Show sources: %t", showSources)
	case ":stats":
		printStats(a.Stats())
	default:
		color.Yellow("Unknown command %s (try :mode, :length, :sources, :clear, :stats)", fields[0])
	}
	return showSources
}

func printReply(reply *assistant.Reply, showSources bool) {
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()
	assistantPrompt("\nAssistant: ")
	if rag.IsErrorAnswer(reply.Answer) {
		color.Red("%s", reply.Answer)
	} else {
		fmt.Println(reply.Answer)
	}

	if showSources {
		color.Blue("\nSources:")
		for i, chunk := range reply.SourceChunks {
			score := 0.0
			if i < len(reply.SimilarityScores) {
				score = reply.SimilarityScores[i]
			}
			preview := []rune(strings.Join(strings.Fields(chunk.Content), " "))
			if len(preview) > 160 {
				preview = append(preview[:160], '…')
			}
			fmt.Printf("  [%d] %s (%.0f%% match)\n      %s\n", i+1, chunk.Source(), score*100, string(preview))
		}
	}

	if reply.Evaluation != nil {
		color.Yellow("\n%s", evaluator.Summary(*reply.Evaluation))
	}
}

func printStats(stats models.Stats) {
	if stats.TotalQueries == 0 {
		color.Cyan("No queries logged yet")
		return
	}
	color.Cyan("Total queries: %d", stats.TotalQueries)
	color.Cyan("Days active:   %d", stats.TotalDays)
	for _, f := range stats.Files {
		fmt.Printf("  %s\n", f)
	}
}
