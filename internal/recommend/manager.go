// Package recommend is the periodic digest generator (C9): it pulls
// recent archives above a rating threshold, asks the analyzer proxy for
// a ranked recommendation set, and stores the result (spec §4.6 hourly
// task / §2 C9).
package recommend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"intelhub/internal/analyzer"
	"intelhub/internal/docstore"
	"intelhub/internal/hubtypes"
	"intelhub/internal/obs"
)

const (
	archiveCollection         = "archive"
	recommendationsCollection = "recommendations"
	archiveTimeField          = "archive_time"

	defaultLookback        = 24 * time.Hour
	defaultRatingThreshold = 6.0
	defaultLimit           = 500

	leaseOwner = "recommend.Manager"
)

// Config bounds one digest run: the last cfg.Lookback of archives rated
// at or above cfg.RatingThreshold, capped to cfg.Limit candidates.
type Config struct {
	SystemPrompt    string
	RatingThreshold float64
	Limit           int
	Lookback        time.Duration
}

func (c Config) withDefaults() Config {
	if c.Lookback <= 0 {
		c.Lookback = defaultLookback
	}
	if c.Limit <= 0 {
		c.Limit = defaultLimit
	}
	if c.RatingThreshold <= 0 {
		c.RatingThreshold = defaultRatingThreshold
	}
	return c
}

// Manager runs the recommendation digest on demand; the scheduler is
// expected to invoke Generate on an hourly cadence.
type Manager struct {
	store docstore.Store
	proxy *analyzer.Proxy
	clock obs.Clock
	log   obs.Logger
	cfg   Config
}

// New returns a Manager. A zero-value field in cfg falls back to the
// spec default (24h lookback, rating threshold 6, limit 500).
func New(store docstore.Store, proxy *analyzer.Proxy, clock obs.Clock, log obs.Logger, cfg Config) *Manager {
	if clock == nil {
		clock = obs.SystemClock{}
	}
	if log == nil {
		log = obs.NewNoopLogger()
	}
	return &Manager{store: store, proxy: proxy, clock: clock, log: log, cfg: cfg.withDefaults()}
}

// Generate runs one digest cycle: gather eligible archives, ask the
// model to rank them, and persist the resulting Recommendation. A
// window with no eligible archives is not an error; it yields a
// Recommendation with an empty Items list and is still stored, so
// "no news" is visible to callers of recommendations().
func (m *Manager) Generate(ctx context.Context) (hubtypes.Recommendation, error) {
	now := m.clock.Now()
	from := now.Add(-m.cfg.Lookback)

	docs, err := m.store.FindMany(ctx, archiveCollection,
		docstore.Filter{archiveTimeField: map[string]any{"$gte": from}},
		archiveTimeField, true, 0)
	if err != nil {
		return hubtypes.Recommendation{}, fmt.Errorf("recommend: list archives: %w", err)
	}

	candidates := filterByRating(docs, m.cfg.RatingThreshold)
	if len(candidates) > m.cfg.Limit {
		candidates = candidates[:m.cfg.Limit]
	}

	rec := hubtypes.Recommendation{ID: docstore.NewID(), Generated: now}
	if len(candidates) > 0 {
		table := buildArchivedTable(candidates)
		result, err := m.proxy.Recommendation(ctx, leaseOwner, m.cfg.SystemPrompt, table)
		if err != nil {
			return hubtypes.Recommendation{}, fmt.Errorf("recommend: analyze: %w", err)
		}
		items, err := parseRecommendationItems(result.Fields)
		if err != nil {
			return hubtypes.Recommendation{}, fmt.Errorf("recommend: parse response: %w", err)
		}
		rec.Items = items
	}

	if _, err := m.store.Insert(ctx, recommendationsCollection, recommendationDocument(rec)); err != nil {
		return hubtypes.Recommendation{}, fmt.Errorf("recommend: store: %w", err)
	}

	m.log.Info("recommend: digest generated", map[string]any{
		"candidates": len(candidates),
		"items":      len(rec.Items),
	})
	return rec, nil
}

func filterByRating(docs []docstore.Document, threshold float64) []docstore.Document {
	var out []docstore.Document
	for _, d := range docs {
		score, ok := toFloat64(d["max_rate_score"])
		if !ok || score < threshold {
			continue
		}
		out = append(out, d)
	}
	return out
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

// buildArchivedTable renders candidates as the markdown table the
// recommendation-variant prompt expects (spec §4.7 "recommendation"
// variant).
func buildArchivedTable(docs []docstore.Document) string {
	var sb strings.Builder
	sb.WriteString("| UUID | Title | Brief | Rate Class | Rate Score |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, d := range docs {
		fmt.Fprintf(&sb, "| %v | %v | %v | %v | %v |\n",
			d["UUID"], d["TITLE"], d["BRIEF"], d["max_rate_class"], d["max_rate_score"])
	}
	return sb.String()
}

// parseRecommendationItems decodes the model's {"items": [{"archived_id",
// "rationale", "rank"}, ...]} response shape.
func parseRecommendationItems(fields map[string]any) ([]hubtypes.RecommendationItem, error) {
	raw, ok := fields["items"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: response missing \"items\" array", hubtypes.ErrNoValue)
	}
	items := make([]hubtypes.RecommendationItem, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["archived_id"].(string)
		if id == "" {
			continue
		}
		rationale, _ := m["rationale"].(string)
		rank, _ := toFloat64(m["rank"])
		items = append(items, hubtypes.RecommendationItem{
			ArchivedID: id,
			Rationale:  rationale,
			Rank:       int(rank),
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Rank < items[j].Rank })
	return items, nil
}

func recommendationDocument(rec hubtypes.Recommendation) docstore.Document {
	items := make([]map[string]any, 0, len(rec.Items))
	for _, it := range rec.Items {
		items = append(items, map[string]any{
			"archived_id": it.ArchivedID,
			"rationale":   it.Rationale,
			"rank":        it.Rank,
		})
	}
	return docstore.Document{
		"UUID":         rec.ID,
		"generated_at": rec.Generated,
		"items":        items,
	}
}
