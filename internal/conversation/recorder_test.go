package conversation

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecorder_IndicesAreMonotonic(t *testing.T) {
	r, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer r.Close()

	rec1, err := r.Record(context.Background(), Exchange{UserMessage: "first"})
	require.NoError(t, err)
	rec2, err := r.Record(context.Background(), Exchange{UserMessage: "second"})
	require.NoError(t, err)

	require.Equal(t, int64(0), rec1.Index)
	require.Equal(t, int64(1), rec2.Index)
}

func TestRecorder_ArtifactFileIsReadable(t *testing.T) {
	r, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Record(context.Background(), Exchange{UserMessage: "hello", Response: "world"})
	require.NoError(t, err)

	data, err := os.ReadFile(rec.Path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
	require.Contains(t, string(data), "world")
}

func TestRecorder_LookupReturnsArtifactPath(t *testing.T) {
	r, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Record(context.Background(), Exchange{UserMessage: "x"})
	require.NoError(t, err)

	path, err := r.Lookup(rec.Index)
	require.NoError(t, err)
	require.Equal(t, rec.Path, path)
}

func TestRecorder_RepeatedCallsGetDistinctIndices(t *testing.T) {
	r, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer r.Close()

	ex := Exchange{UserMessage: "same", Response: "same-response"}
	rec1, err := r.Record(context.Background(), ex)
	require.NoError(t, err)
	rec2, err := r.Record(context.Background(), ex)
	require.NoError(t, err)
	require.NotEqual(t, rec1.Index, rec2.Index)
}
