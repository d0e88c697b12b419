package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/xhad/prepbot/internal/logger"
	"github.com/xhad/prepbot/internal/models"
	"github.com/xhad/prepbot/internal/types"
)

const indexFile = "index.db"

const localSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	position  INTEGER PRIMARY KEY,
	content   TEXT NOT NULL,
	metadata  TEXT NOT NULL,
	embedding BLOB NOT NULL
)`

type LocalConfig struct {
	// Dir holds one sub-directory per namespace.
	Dir string
}

// LocalStore keeps every namespace in its own SQLite file and searches
// vectors in memory.
type LocalStore struct {
	config LocalConfig
}

func NewLocal(config LocalConfig) (*LocalStore, error) {
	if config.Dir == "" {
		config.Dir = "db"
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, storageError("create index root", err)
	}
	return &LocalStore{config: config}, nil
}

func (s *LocalStore) Dir() string { return s.config.Dir }

func (s *LocalStore) nsDir(namespace string) string {
	return filepath.Join(s.config.Dir, namespace)
}

func (s *LocalStore) Build(ctx context.Context, namespace string, chunks []models.Chunk, emb types.Embedder, opts ...BuildOption) (Index, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	vectors, err := embedChunks(ctx, emb, chunks, o)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.nsDir(namespace), 0o755); err != nil {
		return nil, storageError("create namespace directory", err)
	}
	db, err := openSQLite(filepath.Join(s.nsDir(namespace), indexFile))
	if err != nil {
		return nil, err
	}

	entries := make([]entry, len(chunks))
	if err := writeEntries(ctx, db, chunks, vectors, entries); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("built namespace %s with %d chunks", namespace, len(entries))
	return &localIndex{namespace: namespace, db: db, embedder: emb, entries: entries}, nil
}

func writeEntries(ctx context.Context, db *sql.DB, chunks []models.Chunk, vectors [][]float32, entries []entry) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storageError("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, localSchema); err != nil {
		return storageError("create schema", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return storageError("clear namespace", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO chunks (position, content, metadata, embedding) VALUES (?, ?, ?, ?)")
	if err != nil {
		return storageError("prepare insert", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		meta := models.CloneMetadata(c.Metadata)
		raw, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, i, c.Content, string(raw), encodeVector(vectors[i])); err != nil {
			return storageError("insert chunk", err)
		}
		entries[i] = entry{chunk: models.Chunk{Content: c.Content, Metadata: meta}, vector: vectors[i]}
	}

	if err := tx.Commit(); err != nil {
		return storageError("commit", err)
	}
	return nil
}

func (s *LocalStore) Open(ctx context.Context, namespace string, emb types.Embedder) (Index, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	path := filepath.Join(s.nsDir(namespace), indexFile)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: namespace %s", types.ErrNotFound, namespace)
		}
		return nil, storageError("stat index", err)
	}

	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	entries, err := readEntries(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &localIndex{namespace: namespace, db: db, embedder: emb, entries: entries}, nil
}

func readEntries(ctx context.Context, db *sql.DB) ([]entry, error) {
	rows, err := db.QueryContext(ctx, "SELECT content, metadata, embedding FROM chunks ORDER BY position")
	if err != nil {
		return nil, storageError("read chunks", err)
	}
	defer rows.Close()

	var entries []entry
	for rows.Next() {
		var (
			content, rawMeta string
			blob             []byte
		)
		if err := rows.Scan(&content, &rawMeta, &blob); err != nil {
			return nil, storageError("scan chunk", err)
		}
		meta := map[string]string{}
		if err := json.Unmarshal([]byte(rawMeta), &meta); err != nil {
			return nil, storageError("decode metadata", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, storageError("decode embedding", err)
		}
		entries = append(entries, entry{chunk: models.Chunk{Content: content, Metadata: meta}, vector: vec})
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("read chunks", err)
	}
	return entries, nil
}

func (s *LocalStore) Destroy(_ context.Context, namespace string) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if err := os.RemoveAll(s.nsDir(namespace)); err != nil {
		return storageError("remove namespace "+namespace, err)
	}
	logger.Debug("destroyed namespace %s", namespace)
	return nil
}

func (s *LocalStore) Close() error { return nil }

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, storageError("open "+path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storageError("open "+path, err)
	}
	return db, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

type entry struct {
	chunk  models.Chunk
	vector []float32
}

// localIndex is read-only after construction; the lock only guards Close.
type localIndex struct {
	mu        sync.RWMutex
	namespace string
	db        *sql.DB
	embedder  types.Embedder
	entries   []entry
	closed    bool
}

func (ix *localIndex) Namespace() string { return ix.namespace }

func (ix *localIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

func (ix *localIndex) SearchWithScores(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	q, err := embedQuery(ctx, ix.embedder, query)
	if err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return nil, types.ErrIndexClosed
	}

	scored := make([]models.ScoredChunk, len(ix.entries))
	for i, e := range ix.entries {
		scored[i] = models.ScoredChunk{
			Chunk:    models.Chunk{Content: e.chunk.Content, Metadata: models.CloneMetadata(e.chunk.Metadata)},
			Distance: CosineDistance(q, e.vector),
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Distance < scored[j].Distance
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (ix *localIndex) Retrieve(ctx context.Context, query string, k int) ([]models.Chunk, error) {
	scored, err := ix.SearchWithScores(ctx, query, k)
	if err != nil {
		return nil, err
	}
	return chunksOf(scored), nil
}

func (ix *localIndex) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil
	}
	ix.closed = true
	if err := ix.db.Close(); err != nil {
		return storageError("close "+ix.namespace, err)
	}
	return nil
}
