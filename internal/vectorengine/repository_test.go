package vectorengine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T, opt ChunkingOptions) (*Repository, *MemoryIndex) {
	t.Helper()
	idx := NewMemoryIndex()
	require.NoError(t, idx.EnsureCollection(context.Background(), "intel", 32))
	emb := NewDeterministicEmbedder(32, true, 1)
	return newRepository("intel", idx, emb, opt), idx
}

// S6: shortening a document's text and re-upserting must not leave
// orphan chunks behind — the collection holds exactly the chunk count
// of the new, shorter text.
func TestRepository_ShorteningReducesChunkCountNoOrphans(t *testing.T) {
	ctx := context.Background()
	repo, idx := newTestRepo(t, ChunkingOptions{ChunkSize: 40, ChunkOverlap: 5})

	long := strings.Repeat("alpha beta gamma delta epsilon zeta eta theta. ", 20)
	n1, err := repo.Upsert(ctx, "doc-1", long, map[string]any{"informant": "feedx"})
	require.NoError(t, err)
	require.Greater(t, n1, 1)

	short := "just one short sentence."
	n2, err := repo.Upsert(ctx, "doc-1", short, map[string]any{"informant": "feedx"})
	require.NoError(t, err)
	require.Less(t, n2, n1)

	count, err := idx.Count(ctx, "intel", map[string]any{"parent_doc_id": "doc-1"})
	require.NoError(t, err)
	require.Equal(t, int64(n2), count)
}

// S7: searching must collapse multiple matching chunks from the same
// parent document down to a single result row holding the
// highest-scoring chunk.
func TestRepository_SearchCollapsesToHighestScoringChunkPerParent(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t, ChunkingOptions{ChunkSize: 20, ChunkOverlap: 0})

	text := "the quick brown fox jumps over the lazy dog near the river bank today"
	_, err := repo.Upsert(ctx, "doc-a", text, map[string]any{"informant": "feedx", "text": "chunk"})
	require.NoError(t, err)

	results, err := repo.Search(ctx, "the quick brown fox", 5, 0, nil)
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, r := range results {
		seen[r.ParentDocID]++
	}
	for parent, count := range seen {
		require.Equalf(t, 1, count, "parent %s appeared %d times, want collapsed to 1", parent, count)
	}
}

func TestRepository_DeleteRemovesAllChunks(t *testing.T) {
	ctx := context.Background()
	repo, idx := newTestRepo(t, ChunkingOptions{ChunkSize: 16, ChunkOverlap: 0})

	_, err := repo.Upsert(ctx, "doc-z", "some reasonably long bit of text to split into chunks", nil)
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, "doc-z"))
	count, err := idx.Count(ctx, "intel", map[string]any{"parent_doc_id": "doc-z"})
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestBuildMetadata_OmitsPubTimestampWhenNil(t *testing.T) {
	archived := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := BuildMetadata("feedx", "positive", 0.87, nil, archived)
	_, ok := m["pub_timestamp"]
	require.False(t, ok)
	require.Equal(t, "feedx", m["informant"])
	require.Equal(t, archived.Unix(), m["archived_timestamp"])
}

func TestBuildMetadata_IncludesPubTimestampWhenPresent(t *testing.T) {
	pub := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	archived := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := BuildMetadata("feedx", "neutral", 0.5, &pub, archived)
	require.Equal(t, pub.Unix(), m["pub_timestamp"])
}
