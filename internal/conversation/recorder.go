// Package conversation records every AI exchange as an append-only,
// content-addressed text artifact on disk, with a badger-backed
// sidecar index assigning each artifact a monotonic integer record
// index so downstream logs can cite "conversation record #N" (spec
// §4.6 step 11 / §4.7 step 6).
package conversation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"intelhub/internal/obs"
	"intelhub/internal/observability"
)

// Exchange is one recorded AI call: the rendered prompt, the assistant
// response, and enough metadata to reconstruct the analyzer step that
// produced it.
type Exchange struct {
	Variant      string    `json:"variant"` // "aggressive" | "recommendation" | "" (default)
	SystemPrompt string    `json:"system_prompt"`
	UserMessage  string    `json:"user_message"`
	Response     string    `json:"response"`
	Model        string    `json:"model"`
	Warning      string    `json:"warning,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Record is a stored Exchange plus its assigned index and the path of
// the artifact file holding it.
type Record struct {
	Index     int64
	Path      string
	Hash      string
	Exchange  Exchange
}

var nextIndexKey = []byte("sys:next_index")

// Recorder is the conversation recorder (C8).
type Recorder struct {
	dir string
	db  *badger.DB
	mu  sync.Mutex
	log obs.Logger
}

// Open opens (creating if absent) the recorder's artifact directory
// and badger sidecar index at dir.
func Open(dir string, log obs.Logger) (*Recorder, error) {
	if log == nil {
		log = obs.NewNoopLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("conversation: create dir: %w", err)
	}
	opts := badger.DefaultOptions(filepath.Join(dir, "index"))
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("conversation: open index: %w", err)
	}
	return &Recorder{dir: dir, db: db, log: log}, nil
}

func (r *Recorder) Close() error {
	return r.db.Close()
}

// Record writes the exchange as a content-addressed artifact (a file
// named by its sha256 hash, skipped if it already exists) and assigns
// it the next monotonic index, returning both.
func (r *Recorder) Record(ctx context.Context, ex Exchange) (Record, error) {
	ex.RecordedAt = r.now()

	payload, err := json.MarshalIndent(ex, "", "  ")
	if err != nil {
		return Record{}, fmt.Errorf("conversation: marshal exchange: %w", err)
	}
	sum := sha256.Sum256(payload)
	hash := hex.EncodeToString(sum[:])
	path := filepath.Join(r.dir, hash+".json")

	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			return Record{}, fmt.Errorf("conversation: write artifact: %w", err)
		}
	}

	idx, err := r.nextIndex()
	if err != nil {
		return Record{}, err
	}

	r.mu.Lock()
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(indexKey(idx), []byte(path))
	})
	r.mu.Unlock()
	if err != nil {
		return Record{}, fmt.Errorf("conversation: index artifact: %w", err)
	}

	r.log.Debug("conversation: recorded exchange", map[string]any{
		"index": idx, "variant": ex.Variant, "warning": ex.Warning,
		"preview": redactedPreview(payload),
	})
	return Record{Index: idx, Path: path, Hash: hash, Exchange: ex}, nil
}

func (r *Recorder) nextIndex() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idx int64
	err := r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(nextIndexKey)
		if err == badger.ErrKeyNotFound {
			idx = 0
		} else if err != nil {
			return err
		} else {
			if err := item.Value(func(v []byte) error {
				var cur int64
				if _, err := fmt.Sscanf(string(v), "%d", &cur); err != nil {
					return err
				}
				idx = cur
				return nil
			}); err != nil {
				return err
			}
		}
		return txn.Set(nextIndexKey, []byte(fmt.Sprintf("%d", idx+1)))
	})
	return idx, err
}

// Lookup reads back the artifact path recorded at index.
func (r *Recorder) Lookup(idx int64) (string, error) {
	var path string
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(idx))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			path = string(v)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("conversation: lookup %d: %w", idx, err)
	}
	return path, nil
}

func (r *Recorder) now() time.Time { return time.Now() }

func indexKey(idx int64) []byte {
	return []byte(fmt.Sprintf("rec:%020d", idx))
}

// redactedPreview returns the exchange payload run through
// observability's key-based redaction before it reaches a log line —
// a prompt-injected response can echo back config values verbatim, and
// the debug log should not be the channel that leaks them.
func redactedPreview(payload []byte) string {
	return string(observability.RedactJSON(payload))
}
