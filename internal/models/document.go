package models

// Document is a unit of loaded text. Metadata always carries a "source" key.
type Document struct {
	Content  string            `json:"page_content"`
	Metadata map[string]string `json:"metadata"`
}

// Chunk is a contiguous slice of a Document's content with the parent's metadata.
type Chunk struct {
	Content  string            `json:"page_content"`
	Metadata map[string]string `json:"metadata"`
}

// ScoredChunk pairs a chunk with its cosine distance to a query.
type ScoredChunk struct {
	Chunk
	Distance float64 `json:"distance"`
}

const SourceKey = "source"

// Source returns the document's source label.
func (d Document) Source() string {
	return d.Metadata[SourceKey]
}

// Source returns the chunk's source label.
func (c Chunk) Source() string {
	return c.Metadata[SourceKey]
}

// CloneMetadata returns an independent copy of m.
func CloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
