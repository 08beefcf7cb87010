package hub

import (
	"context"
	"fmt"

	"intelhub/internal/docstore"
	"intelhub/internal/hubtypes"
)

// checkDuplicate reports whether an item with the same identity is
// already archived or in flight in one of the hub's queues. Identity
// matches on UUID or on informant (spec §9(b)): two items from the same
// informant are treated as duplicates even without a shared UUID. The
// in-flight scan compares only a non-empty informant; the archive query
// keeps the informant branch of its OR-clause even when informant is
// empty, so an empty informant matches archived items whose informant
// is also empty, matching the docstore contract it queries against.
func (h *Hub) checkDuplicate(ctx context.Context, id, informant string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: empty identifier", hubtypes.ErrValidation)
	}
	if h.matchesInFlight(id, informant) {
		return true, nil
	}

	filter := docstore.Filter{"$or": []docstore.Filter{
		{"UUID": id},
		{"informant": informant},
	}}
	n, err := h.store.Count(ctx, archiveCollection, filter)
	if err != nil {
		return false, fmt.Errorf("%w: %v", hubtypes.ErrInfrastructure, err)
	}
	return n > 0, nil
}

// matchesInFlight scans the in-memory queues, which hold items the
// archive collection does not know about yet.
func (h *Hub) matchesInFlight(id, informant string) bool {
	for _, item := range h.originalQueue.Snapshot() {
		if sameIdentity(item, id, informant) {
			return true
		}
	}
	for _, item := range h.unarchivedQueue.Snapshot() {
		if sameIdentity(item, id, informant) {
			return true
		}
	}
	for _, pi := range h.processedQueue.Snapshot() {
		if sameIdentity(pi.Item, id, informant) {
			return true
		}
	}
	return false
}

func sameIdentity(item hubtypes.CollectedItem, id, informant string) bool {
	if item.UUID == id {
		return true
	}
	return informant != "" && item.Informant == informant
}
