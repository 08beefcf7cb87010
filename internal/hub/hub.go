// Package hub is the intelligence hub core (C7): it owns the
// collected/archived item lifecycle end to end — ingest, dedupe,
// analyze, rate, vector-index, and archive — plus the query surface
// the HTTP layer exposes (spec §§4-6).
package hub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"intelhub/internal/aiclient"
	"intelhub/internal/analyzer"
	"intelhub/internal/docstore"
	"intelhub/internal/hubtypes"
	"intelhub/internal/obs"
	"intelhub/internal/recommend"
	"intelhub/internal/scheduler"
	"intelhub/internal/vectorengine"
)

const defaultAnalysisWorkers = 3
const defaultVectorPollInterval = 2 * time.Second

// Config parameterizes one hub instance.
type Config struct {
	AnalysisWorkers int
	SystemPrompt    string

	SummaryCollection string
	SummaryChunking   vectorengine.ChunkingOptions

	FullTextCollection string
	FullTextChunking   vectorengine.ChunkingOptions
	// FullTextUsesRawContent selects whether the full-text vector
	// repository indexes the original submission body or the model's
	// EVENT_TEXT summary. Spec §9(c) leaves this to the deployment;
	// both are reasonable, so it is a config field rather than a
	// hardcoded choice.
	FullTextUsesRawContent bool

	VectorPollInterval time.Duration
	ExportRoot         string

	// VectorReadyWaitTimeout bounds how long each analysis-worker loop
	// iteration waits for the vector-service readiness event before
	// proceeding regardless (spec §4.6 step 1: "Wait until the
	// vector-service readiness event fires (or timeout; proceed
	// regardless)"). Kept within spec §5's "shutdown observed within
	// ≤2s" bound, since it is one of the loop's blocking waits.
	VectorReadyWaitTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.AnalysisWorkers <= 0 {
		c.AnalysisWorkers = defaultAnalysisWorkers
	}
	if c.SummaryCollection == "" {
		c.SummaryCollection = "summary_vectors"
	}
	if c.FullTextCollection == "" {
		c.FullTextCollection = "fulltext_vectors"
	}
	if c.VectorPollInterval <= 0 {
		c.VectorPollInterval = defaultVectorPollInterval
	}
	if c.ExportRoot == "" {
		c.ExportRoot = "exports"
	}
	if c.VectorReadyWaitTimeout <= 0 {
		c.VectorReadyWaitTimeout = 2 * time.Second
	}
	return c
}

// Hub coordinates the ingestion queues, the analysis/post-process
// worker pools, and the query surface over the cache/archive
// collections. All counters live on Stats and all mutations to it go
// through a single mutex (spec §5).
type Hub struct {
	cfg Config

	store         docstore.Store
	vectorService *vectorengine.Service
	aiManager     *aiclient.Manager
	analyzerProxy *analyzer.Proxy
	recommender   *recommend.Manager
	scheduler     *scheduler.Scheduler
	clock         obs.Clock
	log           obs.Logger

	originalQueue   *fifo[hubtypes.CollectedItem]
	unarchivedQueue *fifo[hubtypes.CollectedItem]
	processedQueue  *fifo[processedItem]

	stats Stats

	vectorReady     chan struct{}
	vectorReadyOnce sync.Once
	vectorOff       atomic.Bool
	summaryRepo     atomic.Pointer[vectorengine.Repository]
	fullTextRepo    atomic.Pointer[vectorengine.Repository]

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New wires a Hub. recommender and sched may be nil (the hub runs,
// just without digest generation or scheduled exports).
func New(
	store docstore.Store,
	vectorService *vectorengine.Service,
	aiManager *aiclient.Manager,
	analyzerProxy *analyzer.Proxy,
	recommender *recommend.Manager,
	sched *scheduler.Scheduler,
	clock obs.Clock,
	log obs.Logger,
	cfg Config,
) *Hub {
	if clock == nil {
		clock = obs.SystemClock{}
	}
	if log == nil {
		log = obs.NewNoopLogger()
	}
	return &Hub{
		cfg:             cfg.withDefaults(),
		store:           store,
		vectorService:   vectorService,
		aiManager:       aiManager,
		analyzerProxy:   analyzerProxy,
		recommender:     recommender,
		scheduler:       sched,
		clock:           clock,
		log:             log,
		originalQueue:   newFIFO[hubtypes.CollectedItem](),
		unarchivedQueue: newFIFO[hubtypes.CollectedItem](),
		processedQueue:  newFIFO[processedItem](),
		vectorReady:     make(chan struct{}),
		stopCh:          make(chan struct{}),
	}
}

// Startup loads any items the cache left unarchived from a prior run,
// spawns the worker pools, and registers the recurring digest/export
// tasks on the scheduler, if one was provided.
func (h *Hub) Startup(ctx context.Context) error {
	unarchived, err := h.store.FindMany(ctx, cacheCollection, docstore.Filter{"__ARCHIVED__": ""}, "", false, 0)
	if err != nil {
		return fmt.Errorf("hub: load unarchived cache items: %w", err)
	}
	for _, doc := range unarchived {
		h.unarchivedQueue.Push(fromCacheDocument(doc))
	}
	h.log.Info("hub: resumed unarchived items", map[string]any{"count": len(unarchived)})

	h.wg.Add(1)
	go h.vectorInitWorker(ctx)

	for i := 0; i < h.cfg.AnalysisWorkers; i++ {
		h.wg.Add(1)
		go h.analysisWorker(ctx, i)
	}

	h.wg.Add(1)
	go h.postProcessWorker(ctx)

	if h.scheduler != nil {
		h.registerScheduledTasks()
	}
	return nil
}

func (h *Hub) registerScheduledTasks() {
	if h.recommender != nil {
		if err := h.scheduler.AddHourlyTask("hub.recommendations", func(ctx context.Context) error {
			_, err := h.recommender.Generate(ctx)
			return err
		}); err != nil {
			h.log.Error("hub: failed to register recommendation task", map[string]any{"error": err.Error()})
		}
	}

	if err := h.scheduler.AddWeeklyTask("hub.export.weekly", time.Sunday, func(ctx context.Context) error {
		now := h.clock.Now()
		from, to := isoWeekBounds(now)
		return h.exportPeriod(ctx, from, to, "weekly-"+from.Format("2006-01-02"))
	}); err != nil {
		h.log.Error("hub: failed to register weekly export task", map[string]any{"error": err.Error()})
	}

	if err := h.scheduler.AddMonthlyTask("hub.export.monthly", 1, func(ctx context.Context) error {
		now := h.clock.Now()
		from, to := previousMonthBounds(now)
		return h.exportPeriod(ctx, from, to, "monthly-"+from.Format("2006-01"))
	}); err != nil {
		h.log.Error("hub: failed to register monthly export task", map[string]any{"error": err.Error()})
	}
}

// Shutdown stops accepting new work: it discards original_queue
// without analyzing it (spec §5's documented shutdown contract),
// stops the scheduler, and waits up to timeout for in-flight workers
// to finish before closing the store.
func (h *Hub) Shutdown(ctx context.Context, timeout time.Duration) error {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.originalQueue.Drain()
	})
	if h.scheduler != nil {
		h.scheduler.Stop()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		h.log.Warn("hub: shutdown timed out waiting for workers", nil)
	}
	return h.store.Close(ctx)
}
