package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/prepbot/internal/types"
	"github.com/xhad/prepbot/pkg/llm"
	"github.com/xhad/prepbot/pkg/store"
)

// Needs a PostgreSQL server with the pgvector extension available.
func newPGVector(t *testing.T) *store.PGVectorStore {
	t.Helper()
	url := os.Getenv("PREPBOT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PREPBOT_TEST_DATABASE_URL not set")
	}
	s, err := store.NewPGVector(context.Background(), store.PGVectorConfig{ConnString: url, TablePrefix: "prepbot_test_"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPGVectorTableNameKeepsCase(t *testing.T) {
	s := &store.PGVectorStore{}
	assert.Equal(t, `"DB_ABC"`, s.TableName("DB_ABC"))
	assert.NotEqual(t, s.TableName("db_A"), s.TableName("db_a"))
}

func TestPGVectorStore(t *testing.T) {
	ctx := context.Background()
	s := newPGVector(t)
	emb := llm.NewHashingEmbedder(64)
	ns := store.NewNamespace()
	t.Cleanup(func() { s.Destroy(ctx, ns) })

	ix, err := s.Build(ctx, ns, interviewChunks, emb)
	require.NoError(t, err)
	assert.Equal(t, len(interviewChunks), ix.Len())

	hits, err := ix.SearchWithScores(ctx, interviewChunks[3].Content, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, interviewChunks[3].Content, hits[0].Content)
	assert.Equal(t, "questions.txt", hits[0].Source())
	assert.LessOrEqual(t, hits[0].Distance, hits[1].Distance)
	require.NoError(t, ix.Close())

	reopened, err := s.Open(ctx, ns, emb)
	require.NoError(t, err)
	assert.Equal(t, len(interviewChunks), reopened.Len())

	require.NoError(t, s.Destroy(ctx, ns))
	require.NoError(t, s.Destroy(ctx, ns))
	_, err = s.Open(ctx, ns, emb)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPGVectorStore_ZeroQueryRanksLikeLocal(t *testing.T) {
	ctx := context.Background()
	s := newPGVector(t)
	emb := llm.NewHashingEmbedder(64)
	ns := store.NewNamespace()
	t.Cleanup(func() { s.Destroy(ctx, ns) })

	ix, err := s.Build(ctx, ns, interviewChunks, emb)
	require.NoError(t, err)
	defer ix.Close()

	// No tokens, so the query embeds to the zero vector.
	hits, err := ix.SearchWithScores(ctx, "?!", len(interviewChunks))
	require.NoError(t, err)
	require.Len(t, hits, len(interviewChunks))
	for i, h := range hits {
		assert.Equal(t, 1.0, h.Distance)
		assert.Equal(t, interviewChunks[i].Content, h.Content)
	}
}
