package hub

import (
	"context"
	"fmt"
	"sort"

	"intelhub/internal/docstore"
	"intelhub/internal/hubtypes"
	"intelhub/internal/vectorengine"
)

// SubmitCollected enqueues a freshly collected item for analysis. A
// missing UUID is assigned here so the caller can use it to poll for
// the resulting archived item. The duplicate check runs synchronously
// so a submitter gets an immediate rejection (spec §8 S2) rather than
// discovering it later via statistics; the analysis worker repeats the
// check before archiving as a defense against a race between two
// concurrent submissions of the same item.
func (h *Hub) SubmitCollected(ctx context.Context, item hubtypes.CollectedItem) (string, error) {
	if item.UUID == "" {
		item.UUID = docstore.NewID()
	}
	dup, err := h.checkDuplicate(ctx, item.UUID, item.Informant)
	if err != nil {
		return item.UUID, err
	}
	if dup {
		return item.UUID, fmt.Errorf("%w: Collected message duplicated %s.", hubtypes.ErrDuplicate, item.UUID)
	}
	h.originalQueue.Push(item)
	return item.UUID, nil
}

// SubmitArchived stores an already-analyzed item directly, bypassing
// the analysis pipeline (spec §6's "/submit/archived" operation, used
// by out-of-band ingestion paths).
func (h *Hub) SubmitArchived(ctx context.Context, item hubtypes.ArchivedItem) error {
	if item.UUID == "" {
		item.UUID = docstore.NewID()
	}
	class, score := hubtypes.MaxRate(item.Rate, rateKeyOrder(item.Rate, item.RateKeysInOrder), hubtypes.MaxRateExcludeKey)
	item.Appendix.MaxRateClass = class
	item.Appendix.MaxRateScore = score
	item.Appendix.Archived = hubtypes.FlagArchived
	now := h.clock.Now()
	item.Appendix.ArchiveTime = &now

	if _, err := h.store.Insert(ctx, archiveCollection, toArchiveDocument(item)); err != nil {
		return fmt.Errorf("hub: store archived item: %w", err)
	}
	h.stats.incArchived()
	return nil
}

// Get fetches a single document by UUID from either the cache or
// archive collection (spec §6's "/intelligence/:id?db=" operation).
func (h *Hub) Get(ctx context.Context, db, id string) (docstore.Document, bool, error) {
	collection, err := resolveCollection(db)
	if err != nil {
		return nil, false, err
	}
	return h.store.FindOne(ctx, collection, docstore.Filter{"UUID": id})
}

// QueryParams bounds a Query call. Skip is applied client-side since
// docstore.FindMany has no offset parameter.
type QueryParams struct {
	DB        string
	Filter    docstore.Filter
	SortField string
	SortDesc  bool
	Skip      int
	Limit     int
}

// Query runs a filtered, sorted, paginated read over one collection.
func (h *Hub) Query(ctx context.Context, p QueryParams) ([]docstore.Document, error) {
	collection, err := resolveCollection(p.DB)
	if err != nil {
		return nil, err
	}
	fetchLimit := 0
	if p.Limit > 0 {
		fetchLimit = p.Skip + p.Limit
	}
	docs, err := h.store.FindMany(ctx, collection, p.Filter, p.SortField, p.SortDesc, fetchLimit)
	if err != nil {
		return nil, fmt.Errorf("hub: query: %w", err)
	}
	if p.Skip > 0 {
		if p.Skip >= len(docs) {
			return nil, nil
		}
		docs = docs[p.Skip:]
	}
	if p.Limit > 0 && len(docs) > p.Limit {
		docs = docs[:p.Limit]
	}
	return docs, nil
}

func resolveCollection(db string) (string, error) {
	switch db {
	case "", "cache":
		return cacheCollection, nil
	case "archive":
		return archiveCollection, nil
	default:
		return "", fmt.Errorf("%w: unknown db %q", hubtypes.ErrValidation, db)
	}
}

// VectorSearchResult merges a match from either the summary or
// full-text repository, keeping the higher score when both hit the
// same archived item.
type VectorSearchResult struct {
	ArchivedID string
	Score      float64
	Source     string
	ChunkText  string
}

// VectorSearch queries both vector repositories and collapses results
// by archived id, keeping the best-scoring source per id — the same
// collapse vectorengine.Repository.Search performs one level down, for
// items that exist in both the summary and full-text index.
func (h *Hub) VectorSearch(ctx context.Context, query string, topN int, scoreThreshold float64, filter map[string]any) ([]VectorSearchResult, error) {
	summaryRepo, fullTextRepo, ok := h.vectorRepos()
	if !ok {
		return nil, fmt.Errorf("%w: vector search unavailable", hubtypes.ErrServiceUnavailable)
	}

	best := map[string]VectorSearchResult{}

	summaryHits, err := summaryRepo.Search(ctx, query, topN, scoreThreshold, filter)
	if err != nil {
		return nil, fmt.Errorf("hub: summary vector search: %w", err)
	}
	mergeVectorHits(best, summaryHits, "summary")

	fullTextHits, err := fullTextRepo.Search(ctx, query, topN, scoreThreshold, filter)
	if err != nil {
		return nil, fmt.Errorf("hub: full-text vector search: %w", err)
	}
	mergeVectorHits(best, fullTextHits, "fulltext")

	out := make([]VectorSearchResult, 0, len(best))
	for _, v := range best {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

func mergeVectorHits(best map[string]VectorSearchResult, hits []vectorengine.SearchResult, source string) {
	for _, hit := range hits {
		cur, exists := best[hit.ParentDocID]
		if !exists || hit.Score > cur.Score {
			best[hit.ParentDocID] = VectorSearchResult{ArchivedID: hit.ParentDocID, Score: hit.Score, Source: source, ChunkText: hit.ChunkText}
		}
	}
}

// Count reports the number of documents in a collection matching
// filter (spec §6's "/statistics" operation draws on this).
func (h *Hub) Count(ctx context.Context, db string, filter docstore.Filter) (int64, error) {
	collection, err := resolveCollection(db)
	if err != nil {
		return 0, err
	}
	return h.store.Count(ctx, collection, filter)
}

// Aggregate runs a raw aggregation pipeline against one collection.
func (h *Hub) Aggregate(ctx context.Context, db string, pipeline []map[string]any) ([]docstore.Document, error) {
	collection, err := resolveCollection(db)
	if err != nil {
		return nil, err
	}
	return h.store.Aggregate(ctx, collection, pipeline)
}

// Summary returns the hub's running counters.
func (h *Hub) Summary() StatsSnapshot {
	return h.stats.Snapshot()
}

// Recommendations returns the most recent stored digest.
func (h *Hub) Recommendations(ctx context.Context) (docstore.Document, bool, error) {
	docs, err := h.store.FindMany(ctx, "recommendations", docstore.Filter{}, "generated_at", true, 1)
	if err != nil {
		return nil, false, fmt.Errorf("hub: recommendations: %w", err)
	}
	if len(docs) == 0 {
		return nil, false, nil
	}
	return docs[0], true, nil
}

// SubmitManualRating overrides an archived item's rating with a
// reviewer-supplied value (spec §6's "/rating/:id" operation). It does
// not recompute MaxRate; manual_rating is tracked alongside the
// model-derived rate as an explicit override flag for downstream
// consumers to honor.
func (h *Hub) SubmitManualRating(ctx context.Context, id string, rating float64) error {
	n, err := h.store.Update(ctx, archiveCollection, docstore.Filter{"UUID": id}, docstore.Document{"manual_rating": rating})
	if err != nil {
		return fmt.Errorf("hub: submit manual rating: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: no archived item with id %q", hubtypes.ErrValidation, id)
	}
	return nil
}
