package vectorengine

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-memory VectorIndex for hub tests: brute-force
// cosine similarity, exact metadata-equality filtering.
type MemoryIndex struct {
	mu   sync.Mutex
	data map[string]map[string]VectorPoint // collection -> id -> point
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{data: make(map[string]map[string]VectorPoint)}
}

func (m *MemoryIndex) coll(name string) map[string]VectorPoint {
	c, ok := m.data[name]
	if !ok {
		c = make(map[string]VectorPoint)
		m.data[name] = c
	}
	return c
}

func (m *MemoryIndex) EnsureCollection(ctx context.Context, collection string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coll(collection)
	return nil
}

func (m *MemoryIndex) Upsert(ctx context.Context, collection string, points []VectorPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		m.coll(collection)[p.ID] = p
	}
	return nil
}

func (m *MemoryIndex) DeleteWhere(ctx context.Context, collection string, filter map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.coll(collection) {
		if metaMatches(p.Metadata, filter) {
			delete(m.coll(collection), id)
		}
	}
	return nil
}

func (m *MemoryIndex) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.coll(collection), id)
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, collection string, vector []float32, limit int, filter map[string]any) ([]VectorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []VectorRecord
	for id, p := range m.coll(collection) {
		if !metaMatches(p.Metadata, filter) {
			continue
		}
		out = append(out, VectorRecord{ID: id, Score: cosine(vector, p.Vector), Metadata: p.Metadata})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryIndex) Count(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.coll(collection) {
		if metaMatches(p.Metadata, filter) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryIndex) List(ctx context.Context, collection string, limit, offset int) ([]VectorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []VectorRecord
	i := 0
	for id, p := range m.coll(collection) {
		if i < offset {
			i++
			continue
		}
		out = append(out, VectorRecord{ID: id, Metadata: p.Metadata})
		i++
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryIndex) Close() error { return nil }

func metaMatches(meta map[string]any, filter map[string]any) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
