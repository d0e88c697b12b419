package processor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/xhad/prepbot/internal/models"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 100
)

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
	// Separators are tried in order; the last one should be "" so any text can be split.
	Separators []string
}

// Processor splits documents into overlapping chunks.
type Processor struct {
	config   ProcessorConfig
	splitter textsplitter.RecursiveCharacter
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = min(DefaultChunkOverlap, config.ChunkSize/5)
	}
	if len(config.Separators) == 0 {
		config.Separators = []string{"\n\n", "\n", " ", ""}
	}

	return Processor{
		config: config,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ChunkSize),
			textsplitter.WithChunkOverlap(config.ChunkOverlap),
			textsplitter.WithSeparators(config.Separators),
		),
	}
}

func (p Processor) Config() ProcessorConfig {
	return p.config
}

// Split chunks every document in order. Each chunk carries a copy of its
// parent's metadata and is at most ChunkSize characters long.
func (p Processor) Split(docs []models.Document) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for _, doc := range docs {
		pieces, err := p.splitText(doc.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to split %q: %w", doc.Source(), err)
		}
		for _, piece := range pieces {
			chunks = append(chunks, models.Chunk{
				Content:  piece,
				Metadata: models.CloneMetadata(doc.Metadata),
			})
		}
	}
	return chunks, nil
}

func (p Processor) splitText(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(text) <= p.config.ChunkSize {
		return []string{text}, nil
	}

	pieces, err := p.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		out = append(out, hardWrap(piece, p.config.ChunkSize)...)
	}
	return out, nil
}

// hardWrap cuts s into rune windows of at most size.
func hardWrap(s string, size int) []string {
	runes := []rune(s)
	if len(runes) <= size {
		return []string{s}
	}
	var out []string
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}
