package hub

import (
	"sort"
	"time"

	"intelhub/internal/docstore"
	"intelhub/internal/hubtypes"
)

const (
	cacheCollection = "cache"
	archiveCollection = "archive"
)

// toCacheDocument flattens a CollectedItem (plus its Appendix) into the
// document shape the cache collection stores, matching the flat-key
// convention the archive collection and internal/recommend already use
// rather than nesting APPENDIX as a sub-document.
func toCacheDocument(item hubtypes.CollectedItem) docstore.Document {
	doc := docstore.Document{
		"UUID":        item.UUID,
		"content":     item.Content,
		"informant":   item.Informant,
		"__ARCHIVED__": string(item.Appendix.Archived),
	}
	if item.Title != "" {
		doc["title"] = item.Title
	}
	if len(item.Authors) > 0 {
		doc["authors"] = item.Authors
	}
	if item.PubTime != nil {
		doc["pub_time"] = *item.PubTime
	}
	if item.Appendix.ArchiveTime != nil {
		doc["archive_time"] = *item.Appendix.ArchiveTime
	}
	if item.Appendix.MaxRateClass != "" {
		doc["max_rate_class"] = item.Appendix.MaxRateClass
	}
	if item.Appendix.MaxRateScore != 0 {
		doc["max_rate_score"] = item.Appendix.MaxRateScore
	}
	if item.Appendix.ManualRating != nil {
		doc["manual_rating"] = *item.Appendix.ManualRating
	}
	if item.Appendix.ParentItem != "" {
		doc["__PARENT_ITEM__"] = item.Appendix.ParentItem
	}
	if len(item.Appendix.ChildItems) > 0 {
		doc["__CHILD_ITEMS__"] = item.Appendix.ChildItems
	}
	if len(item.Extra) > 0 {
		doc["extra"] = item.Extra
	}
	return doc
}

func fromCacheDocument(doc docstore.Document) hubtypes.CollectedItem {
	item := hubtypes.CollectedItem{
		UUID:      stringField(doc, "UUID"),
		Content:   stringField(doc, "content"),
		Informant: stringField(doc, "informant"),
		Title:     stringField(doc, "title"),
	}
	if authors, ok := doc["authors"].([]string); ok {
		item.Authors = authors
	} else if raw, ok := doc["authors"].([]any); ok {
		for _, a := range raw {
			if s, ok := a.(string); ok {
				item.Authors = append(item.Authors, s)
			}
		}
	}
	if t, ok := timeField(doc, "pub_time"); ok {
		item.PubTime = &t
	}
	item.Appendix = appendixFromDocument(doc)
	if extra, ok := doc["extra"].(map[string]any); ok {
		item.Extra = extra
	}
	return item
}

// appendixFromDocument rebuilds an Appendix from the flat keys
// toCacheDocument wrote.
func appendixFromDocument(doc docstore.Document) hubtypes.Appendix {
	a := hubtypes.Appendix{Archived: hubtypes.ArchiveFlag(stringField(doc, "__ARCHIVED__"))}
	if t, ok := timeField(doc, "archive_time"); ok {
		a.ArchiveTime = &t
	}
	a.MaxRateClass = stringField(doc, "max_rate_class")
	if score, ok := toFloat64(doc["max_rate_score"]); ok {
		a.MaxRateScore = score
	}
	if rating, ok := toFloat64(doc["manual_rating"]); ok {
		a.ManualRating = &rating
	}
	a.ParentItem = stringField(doc, "__PARENT_ITEM__")
	if children, ok := doc["__CHILD_ITEMS__"].([]string); ok {
		a.ChildItems = children
	} else if raw, ok := doc["__CHILD_ITEMS__"].([]any); ok {
		for _, c := range raw {
			if s, ok := c.(string); ok {
				a.ChildItems = append(a.ChildItems, s)
			}
		}
	}
	return a
}

// toArchiveDocument flattens an ArchivedItem the same way, so the
// archive collection and cache collection share one key convention
// across the query/recommend/export surfaces.
func toArchiveDocument(item hubtypes.ArchivedItem) docstore.Document {
	rate := make(map[string]any, len(item.Rate))
	for k, v := range item.Rate {
		rate[k] = v
	}
	doc := docstore.Document{
		"UUID":           item.UUID,
		"TITLE":          item.Title,
		"BRIEF":          item.Brief,
		"EVENT_TEXT":     item.EventText,
		"RATE":           rate,
		"PUB_TIME":       item.PubTime,
		"informant":      item.Informant,
		"SUBMITTER":      item.Submitter,
		"max_rate_class": item.Appendix.MaxRateClass,
		"max_rate_score": item.Appendix.MaxRateScore,
	}
	if item.Appendix.ArchiveTime != nil {
		doc["archive_time"] = *item.Appendix.ArchiveTime
	}
	if item.Appendix.ManualRating != nil {
		doc["manual_rating"] = *item.Appendix.ManualRating
	}
	if item.Warning != "" {
		doc["warning"] = item.Warning
	}
	if item.ConvIndex != 0 {
		doc["conversation_index"] = item.ConvIndex
	}
	return doc
}

func stringField(doc docstore.Document, key string) string {
	s, _ := doc[key].(string)
	return s
}

func timeField(doc docstore.Document, key string) (time.Time, bool) {
	switch v := doc[key].(type) {
	case time.Time:
		return v, true
	default:
		return time.Time{}, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// sortedKeys returns a rating map's keys in alphabetical order. Used
// only as a last-resort fallback for items with no recoverable source
// JSON ordering (e.g. hand-built in tests): it gives MaxRate's
// tie-break a deterministic order, but NOT the insertion order
// invariant 5 actually calls for. Prefer rateKeyOrder wherever the
// item came through JSON.
func sortedKeys(rate map[string]float64) []string {
	keys := make([]string, 0, len(rate))
	for k := range rate {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// rateKeyOrder returns item.RateKeysInOrder — the key-emission order
// captured from the source JSON — when available, falling back to
// alphabetical order only when that capture is empty (no source JSON
// order was recoverable). Satisfies invariant 5's first-encountered
// tie-break whenever an order was actually captured.
func rateKeyOrder(rate map[string]float64, keysInOrder []string) []string {
	if len(keysInOrder) > 0 {
		return keysInOrder
	}
	return sortedKeys(rate)
}
