package vectorengine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"intelhub/internal/hubtypes"
)

// SearchResult is one collapsed row from Repository.Search: a parent
// document id, its best chunk similarity, and that chunk's text.
type SearchResult struct {
	ParentDocID string
	Score       float64
	ChunkText   string
	Metadata    map[string]any
}

// Repository is a per-named-collection handle: chunking config plus the
// shared embedder and index client. Upsert is delete-then-insert-by-
// parent so shortening a document cannot leave orphan chunks.
type Repository struct {
	name     string
	index    VectorIndex
	embedder Embedder
	splitter ChunkSplitter
	opt      ChunkingOptions
}

func newRepository(name string, index VectorIndex, embedder Embedder, opt ChunkingOptions) *Repository {
	return &Repository{name: name, index: index, embedder: embedder, splitter: RecursiveSplitter{}, opt: opt}
}

// Upsert splits text, embeds every chunk, and replaces all chunks
// belonging to parentDocID as a single unit.
func (r *Repository) Upsert(ctx context.Context, parentDocID, text string, metadata map[string]any) (totalChunks int, err error) {
	if err := r.index.DeleteWhere(ctx, r.name, map[string]any{"parent_doc_id": parentDocID}); err != nil {
		return 0, fmt.Errorf("vectorengine: %w: %v", hubtypes.ErrPostProcess, err)
	}
	chunks := r.splitter.Split(text, r.opt)
	if len(chunks) == 0 {
		return 0, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("vectorengine: embed: %w", err)
	}
	points := make([]VectorPoint, len(chunks))
	for i, c := range chunks {
		meta := make(map[string]any, len(metadata)+3)
		for k, v := range metadata {
			meta[k] = v
		}
		meta["parent_doc_id"] = parentDocID
		meta["chunk_index"] = c.Index
		meta["total_chunks"] = len(chunks)
		meta["text"] = c.Text
		points[i] = VectorPoint{
			ID:       fmt.Sprintf("%s#chunk_%d", parentDocID, c.Index),
			Vector:   vectors[i],
			Metadata: meta,
		}
	}
	if err := r.index.Upsert(ctx, r.name, points); err != nil {
		return 0, fmt.Errorf("vectorengine: %w: %v", hubtypes.ErrPostProcess, err)
	}
	return len(chunks), nil
}

// Search embeds the query, asks the index for topN*3 metadata-filtered
// candidates, converts distance to similarity, drops below threshold,
// and collapses candidates to one row per parent document, keeping the
// highest-scoring chunk.
func (r *Repository) Search(ctx context.Context, query string, topN int, scoreThreshold float64, filter map[string]any) ([]SearchResult, error) {
	vecs, err := r.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("vectorengine: embed query: %w", err)
	}
	candidates, err := r.index.Search(ctx, r.name, vecs[0], topN*3, filter)
	if err != nil {
		return nil, fmt.Errorf("vectorengine: search: %w", err)
	}

	best := make(map[string]SearchResult)
	for _, c := range candidates {
		sim := similarityFromScore(float64(c.Score))
		if sim < scoreThreshold {
			continue
		}
		parent, _ := c.Metadata["parent_doc_id"].(string)
		if parent == "" {
			parent = c.ID
		}
		text, _ := c.Metadata["text"].(string)
		cur, ok := best[parent]
		if !ok || sim > cur.Score {
			best[parent] = SearchResult{ParentDocID: parent, Score: sim, ChunkText: text, Metadata: c.Metadata}
		}
	}

	out := make([]SearchResult, 0, len(best))
	for _, v := range best {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

// similarityFromScore converts the index's native distance/score into a
// [0,1] similarity. MemoryIndex already returns cosine similarity
// directly; QdrantIndex's Query API also returns a similarity-oriented
// score for cosine collections, so this is the identity for a score in
// [0,1]. A negative score (an opposed vector) maps to 0, and a score
// above 1 is read as a distance and maps to 1-d, floored at 0; a
// distance that itself lies in [0,1] is returned unchanged.
func similarityFromScore(score float64) float64 {
	if score >= 0 && score <= 1 {
		return score
	}
	if score < 0 {
		return 0
	}
	sim := 1 - score
	if sim < 0 {
		return 0
	}
	return sim
}

func (r *Repository) Exists(ctx context.Context, parentDocID string) (bool, error) {
	n, err := r.index.Count(ctx, r.name, map[string]any{"parent_doc_id": parentDocID})
	return n > 0, err
}

func (r *Repository) Delete(ctx context.Context, parentDocID string) error {
	return r.index.DeleteWhere(ctx, r.name, map[string]any{"parent_doc_id": parentDocID})
}

func (r *Repository) Clear(ctx context.Context) error {
	return r.index.DeleteWhere(ctx, r.name, nil)
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	return r.index.Count(ctx, r.name, nil)
}

func (r *Repository) List(ctx context.Context, limit, offset int) ([]VectorRecord, error) {
	return r.index.List(ctx, r.name, limit, offset)
}

// BuildMetadata produces the metadata schema for intelligence collections:
// informant, max_rate_class, max_rate_score, archived_timestamp (always
// present) and pub_timestamp (omitted entirely when the source value
// could not be parsed, per the documented exclusion policy).
func BuildMetadata(informant, maxRateClass string, maxRateScore float64, pubTime *time.Time, archivedAt time.Time) map[string]any {
	m := map[string]any{
		"informant":          informant,
		"max_rate_class":     maxRateClass,
		"max_rate_score":     maxRateScore,
		"archived_timestamp": archivedAt.Unix(),
	}
	if pubTime != nil {
		m["pub_timestamp"] = pubTime.Unix()
	}
	return m
}
