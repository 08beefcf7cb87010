package docstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by hub tests in place of
// Postgres, mirroring the collapsed (collection, id) -> doc shape of
// PostgresStore so dedupe/query semantics match in tests.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]map[string]Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]Document)}
}

func (m *MemoryStore) coll(name string) map[string]Document {
	c, ok := m.data[name]
	if !ok {
		c = make(map[string]Document)
		m.data[name] = c
	}
	return c
}

func (m *MemoryStore) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, _ := idOf(doc)
	if id == "" {
		id = NewID()
		doc["UUID"] = id
	}
	cp := make(Document, len(doc))
	for k, v := range doc {
		cp[k] = v
	}
	m.coll(collection)[id] = cp
	return id, nil
}

func (m *MemoryStore) BulkInsert(ctx context.Context, collection string, docs []Document) ([]string, error) {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		id, err := m.Insert(ctx, collection, d)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *MemoryStore) FindOne(ctx context.Context, collection string, filter Filter) (Document, bool, error) {
	docs, err := m.FindMany(ctx, collection, filter, "", false, 1)
	if err != nil || len(docs) == 0 {
		return nil, false, err
	}
	return docs[0], true, nil
}

func (m *MemoryStore) FindMany(ctx context.Context, collection string, filter Filter, sortField string, sortDesc bool, limit int) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Document
	for _, d := range m.coll(collection) {
		if matches(d, filter) {
			cp := make(Document, len(d))
			for k, v := range d {
				cp[k] = v
			}
			out = append(out, cp)
		}
	}
	if sortField != "" {
		sort.Slice(out, func(i, j int) bool {
			less := fieldLess(out[i][sortField], out[j][sortField])
			if sortDesc {
				return !less
			}
			return less
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Update(ctx context.Context, collection string, filter Filter, patch Document) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, d := range m.coll(collection) {
		if !matches(d, filter) {
			continue
		}
		for k, v := range patch {
			d[k] = v
		}
		m.coll(collection)[id] = d
		n++
	}
	return n, nil
}

func (m *MemoryStore) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	docs, err := m.FindMany(ctx, collection, filter, "", false, 0)
	return int64(len(docs)), err
}

func (m *MemoryStore) Aggregate(ctx context.Context, collection string, pipeline []map[string]any) ([]Document, error) {
	filter := Filter{}
	limit := 0
	for _, stage := range pipeline {
		if f, ok := stage["$match"].(Filter); ok {
			for k, v := range f {
				filter[k] = v
			}
		}
		if l, ok := stage["$limit"].(int); ok {
			limit = l
		}
	}
	return m.FindMany(ctx, collection, filter, "", false, limit)
}

func (m *MemoryStore) Close(ctx context.Context) error { return nil }

func (m *MemoryStore) ExportByTimeRange(ctx context.Context, collection, timeField string, from, to time.Time, destPath string) error {
	return exportStream(ctx, destPath, func(yield func(Document) error) error {
		// to is exclusive: a document stamped exactly at to is left out.
		docs, err := m.FindMany(ctx, collection, Filter{timeField: map[string]any{"$gte": from, "$lte": to.Add(-time.Nanosecond)}}, timeField, false, 0)
		if err != nil {
			return err
		}
		for _, d := range docs {
			if err := yield(d); err != nil {
				return err
			}
		}
		return nil
	})
}

func matches(d Document, filter Filter) bool {
	for k, v := range filter {
		switch k {
		case "id":
			raw, _ := v.(string)
			id, ok := CoerceID(raw)
			if !ok {
				return false
			}
			got, _ := idOf(d)
			if got != id {
				return false
			}
		case "$or":
			subs, _ := v.([]Filter)
			matched := false
			for _, sub := range subs {
				if matches(d, sub) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		default:
			if rng, ok := v.(map[string]any); ok {
				val := d[k]
				if gte, ok := rng["$gte"]; ok && fieldLess(val, gte) {
					return false
				}
				if lte, ok := rng["$lte"]; ok && fieldLess(lte, val) {
					return false
				}
				continue
			}
			if d[k] != v {
				return false
			}
		}
	}
	return true
}

func fieldLess(a, b any) bool {
	at, aok := a.(time.Time)
	bt, bok := b.(time.Time)
	if aok && bok {
		return at.Before(bt)
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as < bs
	}
	return false
}
