package vectorengine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"intelhub/internal/hubtypes"
)

func TestService_BecomesReady(t *testing.T) {
	emb := NewDeterministicEmbedder(16, true, 7)
	svc := NewService(context.Background(), emb, func() (VectorIndex, error) {
		return NewMemoryIndex(), nil
	}, t.TempDir(), nil)

	status, err := svc.WaitUntilReady(time.Second)
	require.NoError(t, err)
	require.Equal(t, StatusReady, status)
}

func TestService_InitFailureIsTerminal(t *testing.T) {
	emb := NewDeterministicEmbedder(16, true, 7)
	boom := errors.New("boom")
	svc := NewService(context.Background(), emb, func() (VectorIndex, error) {
		return nil, boom
	}, t.TempDir(), nil)

	status, err := svc.WaitUntilReady(time.Second)
	require.Equal(t, StatusError, status)
	require.ErrorIs(t, err, boom)
}

func TestService_RepositoryUnavailableBeforeReady(t *testing.T) {
	emb := NewDeterministicEmbedder(16, true, 7)
	block := make(chan struct{})
	svc := NewService(context.Background(), emb, func() (VectorIndex, error) {
		<-block
		return NewMemoryIndex(), nil
	}, t.TempDir(), nil)
	defer close(block)

	_, err := svc.Repository(context.Background(), "intel", ChunkingOptions{})
	require.ErrorIs(t, err, hubtypes.ErrServiceUnavailable)
}

func TestService_RepositoryReturnsSameHandleForSameName(t *testing.T) {
	emb := NewDeterministicEmbedder(16, true, 7)
	svc := NewService(context.Background(), emb, func() (VectorIndex, error) {
		return NewMemoryIndex(), nil
	}, t.TempDir(), nil)
	_, err := svc.WaitUntilReady(time.Second)
	require.NoError(t, err)

	r1, err := svc.Repository(context.Background(), "intel", ChunkingOptions{})
	require.NoError(t, err)
	r2, err := svc.Repository(context.Background(), "intel", ChunkingOptions{})
	require.NoError(t, err)
	require.Same(t, r1, r2)
}
