package vectorengine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func genWords(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("word")
	}
	return b.String()
}

func TestRecursiveSplitter_RespectsChunkSize(t *testing.T) {
	text := genWords(2000)
	chunks := RecursiveSplitter{}.Split(text, ChunkingOptions{ChunkSize: 200, ChunkOverlap: 20})
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		if i == len(chunks)-1 {
			continue
		}
		require.LessOrEqual(t, len([]rune(c.Text)), 200+20)
	}
}

func TestRecursiveSplitter_IndicesAreSequential(t *testing.T) {
	text := genWords(500)
	chunks := RecursiveSplitter{}.Split(text, ChunkingOptions{ChunkSize: 100})
	for i, c := range chunks {
		require.Equal(t, i, c.Index)
	}
}

func TestRecursiveSplitter_PrefersParagraphBoundary(t *testing.T) {
	text := "first paragraph of reasonable length here.\n\nsecond paragraph of reasonable length here."
	chunks := RecursiveSplitter{}.Split(text, ChunkingOptions{ChunkSize: 50, ChunkOverlap: 0})
	require.GreaterOrEqual(t, len(chunks), 2)
}

func TestRecursiveSplitter_EmptyText(t *testing.T) {
	chunks := RecursiveSplitter{}.Split("   ", ChunkingOptions{ChunkSize: 100})
	require.Empty(t, chunks)
}

func TestRecursiveSplitter_ShorteningReducesChunkCount(t *testing.T) {
	long := genWords(1000)
	short := genWords(20)
	longChunks := RecursiveSplitter{}.Split(long, ChunkingOptions{ChunkSize: 200, ChunkOverlap: 10})
	shortChunks := RecursiveSplitter{}.Split(short, ChunkingOptions{ChunkSize: 200, ChunkOverlap: 10})
	require.Greater(t, len(longChunks), len(shortChunks))
	require.Len(t, shortChunks, 1)
}
