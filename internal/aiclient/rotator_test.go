package aiclient

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	balances map[string]float64
	errs     map[string]error
}

func (p *fakeProber) Probe(ctx context.Context, key string) (float64, error) {
	if err, ok := p.errs[key]; ok {
		return 0, err
	}
	return p.balances[key], nil
}

func writeKeysFile(t *testing.T, keys ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.txt")
	var content string
	for _, k := range keys {
		content += k + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRotator_SwitchesAwayFromDepletedKey(t *testing.T) {
	path := writeKeysFile(t, "key-a", "key-b", "key-c")
	prober := &fakeProber{balances: map[string]float64{"key-a": 0.01, "key-b": 5.0, "key-c": 0.02}}
	r, err := NewRotator(path, 0.1, prober, nil)
	require.NoError(t, err)
	require.Equal(t, "key-a", r.ActiveKey())

	r.Probe(context.Background())
	require.Equal(t, "key-b", r.ActiveKey())
}

func TestRotator_StaysOnHealthyKey(t *testing.T) {
	path := writeKeysFile(t, "key-a", "key-b")
	prober := &fakeProber{balances: map[string]float64{"key-a": 5.0, "key-b": 5.0}}
	r, err := NewRotator(path, 0.1, prober, nil)
	require.NoError(t, err)

	r.Probe(context.Background())
	require.Equal(t, "key-a", r.ActiveKey())
}

func TestRotator_ProbeErrorTriggersRotation(t *testing.T) {
	path := writeKeysFile(t, "key-a", "key-b")
	prober := &fakeProber{
		balances: map[string]float64{"key-b": 5.0},
		errs:     map[string]error{"key-a": errors.New("probe failed")},
	}
	r, err := NewRotator(path, 0.1, prober, nil)
	require.NoError(t, err)

	r.Probe(context.Background())
	require.Equal(t, "key-b", r.ActiveKey())
}
