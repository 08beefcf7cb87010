package hub

import (
	"context"

	"intelhub/internal/vectorengine"
)

// vectorInitWorker waits for the vector engine to report ready (or
// error) and provisions the hub's two repositories exactly once. The
// analysis and post-process workers run regardless of vector
// readiness; they simply skip vector upserts while vectorOff is set, so
// an engine that is not ready disables indexing without blocking
// archival (an upsert error on a provisioned repository still fails
// the item; see finalizeArchived).
func (h *Hub) vectorInitWorker(ctx context.Context) {
	defer h.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-h.stopCh:
		return
	case <-h.vectorService.ReadyCh():
	}
	h.provisionCollections(ctx)
}

func (h *Hub) provisionCollections(ctx context.Context) {
	status, err := h.vectorService.GetStatus()
	if err != nil || status != vectorengine.StatusReady {
		h.log.Error("hub: vector engine not ready, vector indexing disabled", map[string]any{"error": errString(err)})
		h.vectorOff.Store(true)
		return
	}

	summaryRepo, err := h.vectorService.Repository(ctx, h.cfg.SummaryCollection, h.cfg.SummaryChunking)
	if err != nil {
		h.log.Error("hub: failed to provision summary vector repository", map[string]any{"error": err.Error()})
		h.vectorOff.Store(true)
		return
	}
	fullTextRepo, err := h.vectorService.Repository(ctx, h.cfg.FullTextCollection, h.cfg.FullTextChunking)
	if err != nil {
		h.log.Error("hub: failed to provision full-text vector repository", map[string]any{"error": err.Error()})
		h.vectorOff.Store(true)
		return
	}

	h.summaryRepo.Store(summaryRepo)
	h.fullTextRepo.Store(fullTextRepo)
	h.signalVectorReady()
}

func (h *Hub) signalVectorReady() {
	h.vectorReadyOnce.Do(func() { close(h.vectorReady) })
}

func (h *Hub) vectorRepos() (summary, fullText *vectorengine.Repository, ok bool) {
	if h.vectorOff.Load() {
		return nil, nil, false
	}
	summary = h.summaryRepo.Load()
	fullText = h.fullTextRepo.Load()
	if summary == nil || fullText == nil {
		return nil, nil, false
	}
	return summary, fullText, true
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
