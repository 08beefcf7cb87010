package hub

import (
	"context"
	"errors"
	"time"

	"intelhub/internal/aiclient"
	"intelhub/internal/analyzer"
	"intelhub/internal/docstore"
	"intelhub/internal/hubtypes"
)

const analysisPopTimeout = 1 * time.Second

// analysisWorker waits for the vector-service readiness event (or a
// bounded timeout, proceeding regardless) and then drains the
// high-priority original queue ahead of the low-priority unarchived
// queue, analyzing one item at a time (spec §4.6 step 1-2 / §5:
// "original_queue items are strictly preferred over unarchived_queue
// items — a worker only touches the low-priority queue after observing
// the high-priority queue empty in the current iteration").
func (h *Hub) analysisWorker(ctx context.Context, id int) {
	defer h.wg.Done()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-h.vectorReady:
		case <-time.After(h.cfg.VectorReadyWaitTimeout):
		case <-h.stopCh:
			return
		case <-ctx.Done():
			return
		}

		item, ok := h.originalQueue.PopWait(analysisPopTimeout)
		if !ok {
			item, ok = h.unarchivedQueue.PopNonBlocking()
		}
		if !ok {
			continue
		}
		h.processCollected(ctx, item)
	}
}

func (h *Hub) processCollected(ctx context.Context, item hubtypes.CollectedItem) {
	if item.UUID == "" {
		item.UUID = docstore.NewID()
	}

	dup, err := h.checkDuplicate(ctx, item.UUID, item.Informant)
	if err != nil {
		h.log.Error("hub: duplicate check failed", map[string]any{"error": err.Error(), "uuid": item.UUID})
		h.stats.incError()
		return
	}
	if dup {
		h.stats.incDropped()
		return
	}

	result, analyzeErr := h.analyzerProxy.Analyze(ctx, "hub.analysisWorker", h.cfg.SystemPrompt, item)
	if analyzeErr != nil {
		flag := classifyAnalysisError(analyzeErr)
		h.finalizeFailed(ctx, item, flag, analyzeErr)
		return
	}
	h.stats.incConversation()

	eventText, _ := result.Fields["EVENT_TEXT"].(string)
	if eventText == "" {
		h.finalizeFailed(ctx, item, hubtypes.FlagDropped, hubtypes.ErrNoValue)
		return
	}

	archived, buildErr := buildArchivedItem(item, result, h.clock.Now())
	if buildErr != nil {
		h.finalizeFailed(ctx, item, hubtypes.FlagError, buildErr)
		return
	}
	archived.Warning = result.Warning
	archived.ConvIndex = result.RecordIndex

	h.processedQueue.Push(processedItem{Item: item, Archived: archived})
}

// finalizeFailed records a terminal outcome directly (without going
// through the post-process worker, since there is no archived item to
// post-process) and bumps the matching counter.
func (h *Hub) finalizeFailed(ctx context.Context, item hubtypes.CollectedItem, flag hubtypes.ArchiveFlag, cause error) {
	h.log.Warn("hub: analysis did not produce an archivable item", map[string]any{
		"uuid": item.UUID, "flag": string(flag), "error": cause.Error(),
	})
	switch flag {
	case hubtypes.FlagDropped:
		h.stats.incDropped()
	default:
		h.stats.incError()
	}
	if err := h.storeFlaggedCache(ctx, item, flag); err != nil {
		h.log.Error("hub: failed to persist flagged cache entry", map[string]any{"error": err.Error()})
	}
}

// classifyAnalysisError maps a failure from the analyzer/aiclient
// pipeline onto the cache archival flag taxonomy (spec §7).
func classifyAnalysisError(err error) hubtypes.ArchiveFlag {
	var chatErr *aiclient.ChatError
	if errors.As(err, &chatErr) {
		if chatErr.Verdict == aiclient.VerdictTerminalSensitive {
			return hubtypes.FlagSensitive
		}
		return hubtypes.FlagError
	}
	if errors.Is(err, hubtypes.ErrNoValue) {
		return hubtypes.FlagDropped
	}
	return hubtypes.FlagError
}

// buildArchivedItem turns a model response into an ArchivedItem,
// restoring the original UUID/informant the model may have echoed
// back incorrectly (spec §4.7 step 8) and validating the required
// fields.
func buildArchivedItem(item hubtypes.CollectedItem, result analyzer.Result, now time.Time) (hubtypes.ArchivedItem, error) {
	title, _ := result.Fields["TITLE"].(string)
	brief, _ := result.Fields["BRIEF"].(string)
	eventText, _ := result.Fields["EVENT_TEXT"].(string)
	if title == "" || brief == "" || eventText == "" {
		return hubtypes.ArchivedItem{}, hubtypes.ErrValidation
	}

	rate := map[string]float64{}
	if raw, ok := result.Fields["RATE"].(map[string]any); ok {
		for k, v := range raw {
			if f, ok := toFloat64(v); ok {
				rate[k] = f
			}
		}
	}
	if len(rate) == 0 {
		return hubtypes.ArchivedItem{}, hubtypes.ErrValidation
	}

	// result.RateKeysInOrder was captured from the model's raw JSON
	// text, ahead of the map[string]any decode above discarding order;
	// keep only the keys that actually survived into rate, in the
	// order the model emitted them, for MaxRate's tie-break rule.
	rateKeysInOrder := make([]string, 0, len(rate))
	seen := make(map[string]bool, len(rate))
	for _, k := range result.RateKeysInOrder {
		if _, ok := rate[k]; ok && !seen[k] {
			rateKeysInOrder = append(rateKeysInOrder, k)
			seen[k] = true
		}
	}

	pubTime := now
	if item.PubTime != nil && !item.PubTime.After(now) {
		pubTime = *item.PubTime
	}

	return hubtypes.ArchivedItem{
		UUID:            item.UUID,
		Title:           title,
		Brief:           brief,
		EventText:       eventText,
		Rate:            rate,
		RateKeysInOrder: rateKeysInOrder,
		PubTime:         pubTime,
		Informant:       item.Informant,
		RawData:         &item,
		Submitter:       item.Informant,
	}, nil
}
