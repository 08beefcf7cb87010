// Package hubtypes holds the domain types shared across the intelligence
// hub: collected/archived items, their appendix envelope, recommendations,
// conversation records, and the vector-chunk metadata schema.
package hubtypes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ArchiveFlag is the one-character archival-flag state described in the
// data model: A=archived, D=dropped, E=error, S=sensitive/permanently-refused.
type ArchiveFlag string

const (
	FlagNone      ArchiveFlag = ""
	FlagArchived  ArchiveFlag = "A"
	FlagDropped   ArchiveFlag = "D"
	FlagError     ArchiveFlag = "E"
	FlagSensitive ArchiveFlag = "S"
)

// Terminal reports whether the flag is a terminal state (A, D, S). E is not
// terminal: a re-analyze may overwrite it with A.
func (f ArchiveFlag) Terminal() bool {
	switch f {
	case FlagArchived, FlagDropped, FlagSensitive:
		return true
	default:
		return false
	}
}

// CollectedItem is an incoming candidate before AI analysis.
type CollectedItem struct {
	UUID      string         `json:"UUID" bson:"UUID"`
	Content   string         `json:"content" bson:"content"`
	Informant string         `json:"informant" bson:"informant"`
	Title     string         `json:"title,omitempty" bson:"title,omitempty"`
	Authors   []string       `json:"authors,omitempty" bson:"authors,omitempty"`
	PubTime   *time.Time     `json:"pub_time,omitempty" bson:"pub_time,omitempty"`
	Appendix  Appendix       `json:"APPENDIX" bson:"APPENDIX"`
	Extra     map[string]any `json:"extra,omitempty" bson:"extra,omitempty"`
}

// Appendix is the per-record metadata envelope: archive instant,
// max-rating summary, archival flag, and parent/child links.
type Appendix struct {
	Archived     ArchiveFlag `json:"__ARCHIVED__" bson:"__ARCHIVED__"`
	ArchiveTime  *time.Time  `json:"archive_time,omitempty" bson:"archive_time,omitempty"`
	MaxRateClass string      `json:"max_rate_class,omitempty" bson:"max_rate_class,omitempty"`
	MaxRateScore float64     `json:"max_rate_score,omitempty" bson:"max_rate_score,omitempty"`
	ManualRating *float64    `json:"manual_rating,omitempty" bson:"manual_rating,omitempty"`
	ParentItem   string      `json:"__PARENT_ITEM__,omitempty" bson:"__PARENT_ITEM__,omitempty"`
	ChildItems   []string    `json:"__CHILD_ITEMS__,omitempty" bson:"__CHILD_ITEMS__,omitempty"`
}

// MaxRateExcludeKey is the category name excluded from the max-rate computation.
const MaxRateExcludeKey = "__OVERALL__"

// ArchivedItem is the enriched output of AI analysis.
type ArchivedItem struct {
	UUID      string             `json:"UUID" bson:"UUID"`
	Title     string             `json:"TITLE" bson:"TITLE"`
	Brief     string             `json:"BRIEF" bson:"BRIEF"`
	EventText string             `json:"EVENT_TEXT" bson:"EVENT_TEXT"`
	Rate      map[string]float64 `json:"RATE" bson:"RATE"`
	PubTime   time.Time          `json:"PUB_TIME" bson:"PUB_TIME"`
	Informant string             `json:"informant" bson:"informant"`
	RawData   *CollectedItem     `json:"RAW_DATA,omitempty" bson:"RAW_DATA,omitempty"`
	Submitter string             `json:"SUBMITTER,omitempty" bson:"SUBMITTER,omitempty"`
	Appendix  Appendix           `json:"APPENDIX" bson:"APPENDIX"`
	Warning   string             `json:"warning,omitempty" bson:"warning,omitempty"`
	ConvIndex int64              `json:"conversation_index,omitempty" bson:"conversation_index,omitempty"`

	// RateKeysInOrder records the order RATE's keys were emitted in the
	// source JSON (the model's response, or a submitted item's raw
	// request body), for MaxRate's first-encountered-wins tie-break
	// (invariant 5). Never persisted: callers without a source JSON to
	// derive this from (e.g. a hand-built ArchivedItem in a test) leave
	// it empty, and MaxRate callers fall back to a deterministic order
	// of their own choosing.
	RateKeysInOrder []string `json:"-" bson:"-"`
}

// MaxRate computes the argmax category and numeric value over item.Rate,
// ignoring the excluded key and any non-numeric entries (callers already
// hold a map[string]float64 so "non-numeric" only applies upstream, at the
// point raw AI output is coerced into this map). Ties are broken by
// first-encountered insertion order, so callers should pass keys in the
// order they appeared in the source response.
func MaxRate(rate map[string]float64, keysInOrder []string, exclude string) (class string, score float64) {
	first := true
	for _, k := range keysInOrder {
		if k == exclude {
			continue
		}
		v, ok := rate[k]
		if !ok {
			continue
		}
		if first || v > score {
			class, score = k, v
			first = false
		}
	}
	return class, score
}

// DecodeOrderedRate parses a JSON object of category->rating pairs,
// preserving the key order the source JSON emitted them in rather than
// the randomized order a plain map[string]any decode would give —
// invariant 5's "ties broken by first-encountered insertion order"
// means the order the model (or submitter) actually wrote the keys in,
// not an order reconstructed after the fact. Non-numeric entries are
// skipped (spec §9: "ignored, neither error nor contribution"), and a
// repeated key keeps only its first position.
func DecodeOrderedRate(raw json.RawMessage) (values map[string]float64, keysInOrder []string, err error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]float64{}, nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("hubtypes: DecodeOrderedRate: expected a JSON object")
	}

	values = make(map[string]float64)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, _ := keyTok.(string)

		valTok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		if err := skipRemainingNestedValue(dec, valTok); err != nil {
			return nil, nil, err
		}

		num, ok := valTok.(json.Number)
		if !ok {
			continue
		}
		f, convErr := num.Float64()
		if convErr != nil {
			continue
		}
		if _, seen := values[key]; !seen {
			keysInOrder = append(keysInOrder, key)
		}
		values[key] = f
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return nil, nil, err
	}
	return values, keysInOrder, nil
}

// skipRemainingNestedValue consumes the rest of an array/object value
// whose opening delimiter was already read as tok, keeping the
// decoder's token stream aligned with the next object key. A scalar
// tok is a no-op: it was fully consumed by the single Token() call.
func skipRemainingNestedValue(dec *json.Decoder, tok any) error {
	delim, ok := tok.(json.Delim)
	if !ok || (delim != '{' && delim != '[') {
		return nil
	}
	depth := 1
	for depth > 0 {
		next, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := next.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}

// Recommendation is a generated, ranked set of archived-item references.
type Recommendation struct {
	ID         string               `json:"id" bson:"id"`
	Generated  time.Time            `json:"generated_at" bson:"generated_at"`
	Items      []RecommendationItem `json:"items" bson:"items"`
}

// RecommendationItem is one entry in a Recommendation's ranked list.
type RecommendationItem struct {
	ArchivedID string `json:"archived_id" bson:"archived_id"`
	Rationale  string `json:"rationale" bson:"rationale"`
	Rank       int    `json:"rank" bson:"rank"`
}

// ConversationRecord is a monotonically numbered prompt/response artifact.
type ConversationRecord struct {
	Index        int64     `json:"index"`
	Category     string    `json:"category"`
	SystemPrompt string    `json:"system_prompt"`
	UserPayload  string    `json:"user_payload"`
	RawReply     string    `json:"raw_reply"`
	RecordedAt   time.Time `json:"recorded_at"`
	Path         string    `json:"path"`
}

// VectorChunkMetadata is the metadata schema attached to every chunk of an
// intelligence collection.
type VectorChunkMetadata struct {
	ParentDocID     string  `json:"parent_doc_id"`
	ChunkIndex      int     `json:"chunk_index"`
	TotalChunks     int     `json:"total_chunks"`
	Informant       string  `json:"informant,omitempty"`
	MaxRateClass    string  `json:"max_rate_class,omitempty"`
	MaxRateScore    float64 `json:"max_rate_score,omitempty"`
	PubTimestamp    *int64  `json:"pub_timestamp,omitempty"`
	ArchivedTimestamp int64 `json:"archived_timestamp"`
}

// ClientPriority orders AI clients within the manager's selection rule:
// freebie clients are preferred over normal, which are preferred over
// expensive.
type ClientPriority int

const (
	PriorityExpensive ClientPriority = iota
	PriorityNormal
	PriorityFreebie
)

func (p ClientPriority) String() string {
	switch p {
	case PriorityFreebie:
		return "freebie"
	case PriorityNormal:
		return "normal"
	case PriorityExpensive:
		return "expensive"
	default:
		return "unknown"
	}
}
