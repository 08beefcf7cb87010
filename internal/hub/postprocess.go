package hub

import (
	"context"
	"fmt"
	"time"

	"intelhub/internal/docstore"
	"intelhub/internal/hubtypes"
	"intelhub/internal/vectorengine"
)

// processedItem pairs the original submission with its analyzed
// ArchivedItem, the unit the post-process worker consumes.
type processedItem struct {
	Item     hubtypes.CollectedItem
	Archived hubtypes.ArchivedItem
}

const postProcessPopTimeout = 1 * time.Second

func (h *Hub) postProcessWorker(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		pi, ok := h.processedQueue.PopWait(postProcessPopTimeout)
		if !ok {
			continue
		}
		h.finalizeArchived(ctx, pi)
	}
}

// finalizeArchived computes the max-rate class, stamps archival
// metadata, indexes the item's vectors (skipped while vector indexing is
// disabled), and persists the archive document. Any failure, including
// a vector upsert error, leaves the item unarchived and downgrades the
// outcome to FlagError rather than losing the item silently.
func (h *Hub) finalizeArchived(ctx context.Context, pi processedItem) {
	class, score := hubtypes.MaxRate(pi.Archived.Rate, rateKeyOrder(pi.Archived.Rate, pi.Archived.RateKeysInOrder), hubtypes.MaxRateExcludeKey)
	now := h.clock.Now()

	pi.Archived.Appendix.MaxRateClass = class
	pi.Archived.Appendix.MaxRateScore = score
	pi.Archived.Appendix.Archived = hubtypes.FlagArchived
	pi.Archived.Appendix.ArchiveTime = &now

	if err := h.upsertVectorChunks(ctx, pi.Item, pi.Archived, class, score, now); err != nil {
		h.log.Error("hub: vector indexing failed", map[string]any{"uuid": pi.Archived.UUID, "error": err.Error()})
		h.stats.incError()
		if cacheErr := h.storeFlaggedCache(ctx, pi.Item, hubtypes.FlagError); cacheErr != nil {
			h.log.Error("hub: failed to persist flagged cache entry", map[string]any{"error": cacheErr.Error()})
		}
		return
	}

	if _, err := h.store.Insert(ctx, archiveCollection, toArchiveDocument(pi.Archived)); err != nil {
		h.log.Error("hub: failed to store archived item", map[string]any{"uuid": pi.Archived.UUID, "error": err.Error()})
		h.stats.incError()
		if cacheErr := h.storeFlaggedCache(ctx, pi.Item, hubtypes.FlagError); cacheErr != nil {
			h.log.Error("hub: failed to persist flagged cache entry", map[string]any{"error": cacheErr.Error()})
		}
		return
	}

	pi.Item.Appendix = pi.Archived.Appendix
	if err := h.storeFlaggedCache(ctx, pi.Item, hubtypes.FlagArchived); err != nil {
		h.log.Error("hub: failed to mark cache entry archived", map[string]any{"error": err.Error()})
	}
	h.stats.incArchived()
}

// upsertVectorChunks indexes the item's summary (brief) and full text
// into the hub's two repositories. It uses the ORIGINAL item's PubTime,
// not the resolved fallback on the archived item, so an untrusted or
// absent source timestamp stays excluded from vector metadata's
// time-range filters (spec §4.2) rather than silently backfilled with
// "now".
func (h *Hub) upsertVectorChunks(ctx context.Context, item hubtypes.CollectedItem, archived hubtypes.ArchivedItem, class string, score float64, archivedAt time.Time) error {
	summaryRepo, fullTextRepo, ok := h.vectorRepos()
	if !ok {
		return nil
	}

	metadata := vectorengine.BuildMetadata(item.Informant, class, score, item.PubTime, archivedAt)
	if _, err := summaryRepo.Upsert(ctx, archived.UUID, archived.Brief, metadata); err != nil {
		return fmt.Errorf("summary upsert: %w", err)
	}

	fullText := archived.EventText
	if h.cfg.FullTextUsesRawContent {
		fullText = item.Content
	}
	if _, err := fullTextRepo.Upsert(ctx, archived.UUID, fullText, metadata); err != nil {
		return fmt.Errorf("full-text upsert: %w", err)
	}
	return nil
}

// storeFlaggedCache upserts the cache document for an item that did
// not make it to (or, on FlagArchived, did make it to) the archive
// collection, so the cache always reflects the item's terminal state.
func (h *Hub) storeFlaggedCache(ctx context.Context, item hubtypes.CollectedItem, flag hubtypes.ArchiveFlag) error {
	item.Appendix.Archived = flag
	if flag.Terminal() {
		now := h.clock.Now()
		item.Appendix.ArchiveTime = &now
	}
	doc := toCacheDocument(item)
	n, err := h.store.Update(ctx, cacheCollection, docstore.Filter{"UUID": item.UUID}, doc)
	if err != nil {
		return err
	}
	if n == 0 {
		_, err = h.store.Insert(ctx, cacheCollection, doc)
	}
	return err
}
