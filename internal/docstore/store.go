// Package docstore is the typed document-store adapter (C1): insert,
// update, find, count, aggregate, and streamed range-export, with
// automatic timezone normalization and identifier coercion on every path.
package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"intelhub/internal/hubtypes"
)

// Document is an opaque JSON-shaped record. Callers pass and receive
// map[string]any; the adapter does not assume a fixed schema beyond the
// conventions documented on Store.
type Document map[string]any

// Filter selects documents. Recognized keys:
//   - "id": exact identifier match (coerced; malformed values yield a
//     zero result set rather than an error).
//   - "$or": []Filter, at least one of which must match.
//   - any other key: exact-match against the corresponding document field,
//     or a nested map with "$gte"/"$lte" for a range comparison.
type Filter map[string]any

// SplitPeriod names the export batching granularity.
type SplitPeriod string

const (
	SplitNone  SplitPeriod = "none"
	SplitYear  SplitPeriod = "year"
	SplitMonth SplitPeriod = "month"
	SplitWeek  SplitPeriod = "week"
)

// Store is the typed wrapper over the document database used by every
// collection (cache, archive, recommendations).
type Store interface {
	Insert(ctx context.Context, collection string, doc Document) (id string, err error)
	BulkInsert(ctx context.Context, collection string, docs []Document) (ids []string, err error)
	FindOne(ctx context.Context, collection string, filter Filter) (Document, bool, error)
	FindMany(ctx context.Context, collection string, filter Filter, sortField string, sortDesc bool, limit int) ([]Document, error)
	Update(ctx context.Context, collection string, filter Filter, patch Document) (matched int64, err error)
	Count(ctx context.Context, collection string, filter Filter) (int64, error)
	Aggregate(ctx context.Context, collection string, pipeline []map[string]any) ([]Document, error)
	Close(ctx context.Context) error

	// ExportByTimeRange streams documents in [from, to) on timeField into
	// destPath as a JSON array, atomically (write to destPath+".tmp",
	// rename on success, remove the partial file on error).
	ExportByTimeRange(ctx context.Context, collection, timeField string, from, to time.Time, destPath string) error
}

// CoerceID validates an opaque identifier string. Malformed identifiers
// are not errors — per the contract, the caller should treat them as
// producing a zero result set. The hub's own identifiers are UUIDs
// (generated via google/uuid when a CollectedItem arrives without one),
// so a non-UUID string here signals a caller mistake rather than a
// legitimate lookup.
func CoerceID(raw string) (id string, ok bool) {
	if raw == "" {
		return "", false
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", false
	}
	return raw, true
}

// NewID generates a fresh identifier for a CollectedItem missing one.
func NewID() string {
	return uuid.NewString()
}

func wrapConnectErr(op string, err error) error {
	return fmt.Errorf("docstore %s: %w: %v", op, hubtypes.ErrConnect, err)
}

func wrapOpErr(op string, err error) error {
	return fmt.Errorf("docstore %s: %w: %v", op, hubtypes.ErrOperation, err)
}
