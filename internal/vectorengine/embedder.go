package vectorengine

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"intelhub/internal/config"
	"intelhub/internal/embedding"
)

// Embedder produces vector embeddings for a batch of chunk texts. It is
// the single embedding model the vector service façade loads once at
// startup.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
	Dimension() int
	Ping(ctx context.Context) error
}

// clientEmbedder wraps the shared HTTP embedding client, rate-limited to
// avoid overwhelming small self-hosted embedding servers (llama.cpp-style
// backends misbehave under burst concurrency), batching one item at a
// time for the same reason.
type clientEmbedder struct {
	cfg      config.EmbeddingConfig
	dim      int
	mu       sync.Mutex
	lastCall time.Time
	minDelay time.Duration
}

// NewClientEmbedder wraps the configured embedding HTTP endpoint.
func NewClientEmbedder(cfg config.EmbeddingConfig, dim int) Embedder {
	return &clientEmbedder{cfg: cfg, dim: dim, minDelay: 20 * time.Millisecond}
}

func (e *clientEmbedder) Name() string    { return "client:" + e.cfg.Model }
func (e *clientEmbedder) Dimension() int  { return e.dim }

func (e *clientEmbedder) Ping(ctx context.Context) error {
	return embedding.CheckReachability(ctx, e.cfg)
}

func (e *clientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		e.throttle()
		vecs, err := embedding.EmbedText(ctx, e.cfg, []string{t})
		if err != nil {
			return nil, err
		}
		out = append(out, vecs[0])
	}
	return out, nil
}

func (e *clientEmbedder) throttle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	wait := e.minDelay - time.Since(e.lastCall)
	if wait > 0 {
		time.Sleep(wait)
	}
	e.lastCall = time.Now()
}

// deterministicEmbedder is a seeded, hash-based embedder for tests: no
// network calls, stable output for a given input, optionally L2-normalized.
type deterministicEmbedder struct {
	dim       int
	normalize bool
	seed      uint32
}

// NewDeterministicEmbedder returns a test-only Embedder that hashes
// 3-grams of the input text into a fixed-size vector.
func NewDeterministicEmbedder(dim int, normalize bool, seed uint32) Embedder {
	return &deterministicEmbedder{dim: dim, normalize: normalize, seed: seed}
}

func (e *deterministicEmbedder) Name() string   { return "deterministic" }
func (e *deterministicEmbedder) Dimension() int { return e.dim }
func (e *deterministicEmbedder) Ping(ctx context.Context) error { return nil }

func (e *deterministicEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embedOne(t)
	}
	return out, nil
}

func (e *deterministicEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dim)
	grams := threeGrams(text)
	for _, g := range grams {
		h := fnv.New32a()
		_, _ = h.Write([]byte{byte(e.seed), byte(e.seed >> 8)})
		_, _ = h.Write([]byte(g))
		idx := int(h.Sum32()) % e.dim
		if idx < 0 {
			idx += e.dim
		}
		vec[idx] += 1
	}
	if e.normalize {
		normalizeL2(vec)
	}
	return vec
}

func threeGrams(s string) []string {
	if len(s) < 3 {
		return []string{s}
	}
	var out []string
	for i := 0; i+3 <= len(s); i++ {
		out = append(out, s[i:i+3])
	}
	return out
}

func normalizeL2(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := math.Sqrt(sumSq)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
