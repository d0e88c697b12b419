// Package loader turns files and pasted text into documents.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"

	"github.com/xhad/prepbot/internal/logger"
	"github.com/xhad/prepbot/internal/models"
	"github.com/xhad/prepbot/internal/types"
)

const (
	// PastedTextSource labels documents typed or pasted by the user.
	PastedTextSource = "pasted_text"
	// CVPrefix is prepended to the source of CV documents.
	CVPrefix = "CV: "
)

// Load reads a .pdf (one document per page) or .txt (one document) file.
func Load(ctx context.Context, path string) ([]models.Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf", ".txt":
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnsupportedFormat, filepath.Base(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var raw []schema.Document
	if ext == ".pdf" {
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		raw, err = documentloaders.NewPDF(f, info.Size()).Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read pdf %s: %w", path, err)
		}
	} else {
		raw, err = documentloaders.NewText(f).Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read text %s: %w", path, err)
		}
	}

	source := filepath.Base(path)
	docs := make([]models.Document, 0, len(raw))
	for i, d := range raw {
		meta := map[string]string{models.SourceKey: source}
		if ext == ".pdf" {
			meta["page"] = pageNumber(d.Metadata, i)
		}
		docs = append(docs, models.Document{Content: d.PageContent, Metadata: meta})
	}
	logger.Debug("loaded %d document(s) from %s", len(docs), source)
	return docs, nil
}

// FromText wraps pasted text as a single document.
func FromText(text, source string) (models.Document, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Document{}, fmt.Errorf("%w: empty text", types.ErrInvalidInput)
	}
	if source == "" {
		source = PastedTextSource
	}
	return models.Document{
		Content:  text,
		Metadata: map[string]string{models.SourceKey: source},
	}, nil
}

// PrefixSource returns copies of docs whose source label starts with prefix.
func PrefixSource(docs []models.Document, prefix string) []models.Document {
	out := make([]models.Document, len(docs))
	for i, d := range docs {
		meta := models.CloneMetadata(d.Metadata)
		meta[models.SourceKey] = prefix + d.Source()
		out[i] = models.Document{Content: d.Content, Metadata: meta}
	}
	return out
}

func pageNumber(meta map[string]any, idx int) string {
	if p, ok := meta["page"]; ok {
		return fmt.Sprint(p)
	}
	return strconv.Itoa(idx + 1)
}
