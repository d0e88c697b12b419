package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/prepbot/internal/logger"
	"github.com/xhad/prepbot/internal/models"
	"github.com/xhad/prepbot/internal/types"
)

type PGVectorConfig struct {
	ConnString  string
	TablePrefix string
}

// PGVectorStore keeps each namespace in its own PostgreSQL table and lets
// pgvector's <=> operator rank rows by cosine distance.
type PGVectorStore struct {
	config PGVectorConfig
	pool   *pgxpool.Pool
}

func NewPGVector(ctx context.Context, config PGVectorConfig) (*PGVectorStore, error) {
	if config.TablePrefix == "" {
		config.TablePrefix = "prepbot_"
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, storageError("connect to database", err)
	}
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, storageError("create vector extension", err)
	}

	return &PGVectorStore{config: config, pool: pool}, nil
}

// maxIdentifierLen is PostgreSQL's NAMEDATALEN-1; longer names are truncated.
const maxIdentifierLen = 63

// tableName keeps the namespace's case; the sanitized identifier is quoted.
func (s *PGVectorStore) tableName(namespace string) string {
	return s.config.TablePrefix + namespace
}

func (s *PGVectorStore) validateNamespace(namespace string) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if n := len(s.tableName(namespace)); n > maxIdentifierLen {
		return fmt.Errorf("%w: table name for namespace %q is %d bytes, PostgreSQL allows %d",
			types.ErrInvalidInput, namespace, n, maxIdentifierLen)
	}
	return nil
}

// TableName returns the quoted table holding namespace.
func (s *PGVectorStore) TableName(namespace string) string {
	return pgx.Identifier{s.tableName(namespace)}.Sanitize()
}

func (s *PGVectorStore) Build(ctx context.Context, namespace string, chunks []models.Chunk, emb types.Embedder, opts ...BuildOption) (Index, error) {
	if err := s.validateNamespace(namespace); err != nil {
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

	table := s.TableName(namespace)
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storageError("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			position  INTEGER PRIMARY KEY,
			content   TEXT NOT NULL,
			metadata  TEXT NOT NULL,
			embedding vector
		)`, table)
	if _, err := tx.Exec(ctx, createTable); err != nil {
		return nil, storageError("create table", err)
	}
	if _, err := tx.Exec(ctx, "TRUNCATE "+table); err != nil {
		return nil, storageError("clear namespace", err)
	}

	insert := fmt.Sprintf("INSERT INTO %s (position, content, metadata, embedding) VALUES ($1, $2, $3, $4)", table)
	for i, c := range chunks {
		raw, err := json.Marshal(c.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
		if _, err := tx.Exec(ctx, insert, i, sanitizeUTF8(c.Content), sanitizeUTF8(string(raw)), pgvector.NewVector(vectors[i])); err != nil {
			return nil, storageError("insert chunk", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageError("commit", err)
	}

	logger.Debug("built pgvector namespace %s (%s) with %d chunks", namespace, table, len(chunks))
	return &pgIndex{namespace: namespace, table: table, pool: s.pool, embedder: emb, size: len(chunks)}, nil
}

func (s *PGVectorStore) Open(ctx context.Context, namespace string, emb types.Embedder) (Index, error) {
	if err := s.validateNamespace(namespace); err != nil {
		return nil, err
	}

	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`, s.tableName(namespace)).Scan(&exists)
	if err != nil {
		return nil, storageError("look up namespace", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: namespace %s", types.ErrNotFound, namespace)
	}

	table := s.TableName(namespace)
	var size int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM "+table).Scan(&size); err != nil {
		return nil, storageError("count chunks", err)
	}
	return &pgIndex{namespace: namespace, table: table, pool: s.pool, embedder: emb, size: size}, nil
}

func (s *PGVectorStore) Destroy(ctx context.Context, namespace string) error {
	if err := s.validateNamespace(namespace); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+s.TableName(namespace)); err != nil {
		return storageError("drop namespace "+namespace, err)
	}
	return nil
}

func (s *PGVectorStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

type pgIndex struct {
	mu        sync.RWMutex
	namespace string
	table     string
	pool      *pgxpool.Pool
	embedder  types.Embedder
	size      int
	closed    bool
}

func (ix *pgIndex) Namespace() string { return ix.namespace }
func (ix *pgIndex) Len() int          { return ix.size }

func (ix *pgIndex) SearchWithScores(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	ix.mu.RLock()
	closed := ix.closed
	ix.mu.RUnlock()
	if closed {
		return nil, types.ErrIndexClosed
	}

	q, err := embedQuery(ctx, ix.embedder, query)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT content, metadata, COALESCE(NULLIF(embedding <=> $1, 'NaN'::float8), 1) AS distance
		FROM %s
		ORDER BY distance, position
		LIMIT $2`, ix.table)
	rows, err := ix.pool.Query(ctx, sql, pgvector.NewVector(q), k)
	if err != nil {
		return nil, storageError("query namespace "+ix.namespace, err)
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var (
			content, rawMeta string
			distance         float64
		)
		if err := rows.Scan(&content, &rawMeta, &distance); err != nil {
			return nil, storageError("scan row", err)
		}
		meta := map[string]string{}
		if err := json.Unmarshal([]byte(rawMeta), &meta); err != nil {
			return nil, storageError("decode metadata", err)
		}
		out = append(out, models.ScoredChunk{Chunk: models.Chunk{Content: content, Metadata: meta}, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("query namespace "+ix.namespace, err)
	}
	return out, nil
}

func (ix *pgIndex) Retrieve(ctx context.Context, query string, k int) ([]models.Chunk, error) {
	scored, err := ix.SearchWithScores(ctx, query, k)
	if err != nil {
		return nil, err
	}
	return chunksOf(scored), nil
}

// Close marks the handle unusable. The pool belongs to the store.
func (ix *pgIndex) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.closed = true
	return nil
}

// sanitizeUTF8 drops invalid byte sequences, which PostgreSQL rejects in TEXT.
func sanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "")
}
