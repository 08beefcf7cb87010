package recommend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"intelhub/internal/aiclient"
	"intelhub/internal/analyzer"
	"intelhub/internal/conversation"
	"intelhub/internal/docstore"
	"intelhub/internal/hubtypes"
)

// fakeClient is a minimal aiclient.Client returning a fixed response,
// shared shape with the analyzer package's own test fake.
type fakeClient struct {
	response aiclient.Response
	inFlight int32
}

func (f *fakeClient) Chat(ctx context.Context, messages []aiclient.Message, temperature float64, maxTokens int) (aiclient.Response, error) {
	return f.response, nil
}
func (f *fakeClient) CurrentModel() string        { return "fake-model" }
func (f *fakeClient) CurrentBaseURL() string      { return "https://example.invalid" }
func (f *fakeClient) CurrentToken() string        { return "fake-token" }
func (f *fakeClient) Priority() aiclient.Priority { return hubtypes.PriorityNormal }
func (f *fakeClient) GroupID() string             { return "fake-group" }
func (f *fakeClient) Name() string                { return "fake" }
func (f *fakeClient) IsAvailable() bool           { return true }
func (f *fakeClient) SetAvailable(bool)           {}
func (f *fakeClient) InFlight() int32             { return f.inFlight }
func (f *fakeClient) Acquire()                    { f.inFlight++ }
func (f *fakeClient) Release()                    { f.inFlight-- }
func (f *fakeClient) UpdateBalance(float64)       {}

func newTestProxy(t *testing.T, responseContent string) *analyzer.Proxy {
	t.Helper()
	manager := aiclient.NewManager(nil, nil)
	manager.RegisterClient(&fakeClient{response: aiclient.Response{Content: responseContent}})

	recorder, err := conversation.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { recorder.Close() })

	return analyzer.New(manager, recorder, 0, nil)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func seedArchive(t *testing.T, store docstore.Store, uuid, title string, archivedAt time.Time, rateClass string, rateScore float64) {
	t.Helper()
	_, err := store.Insert(context.Background(), archiveCollection, docstore.Document{
		"UUID":           uuid,
		"TITLE":          title,
		"BRIEF":          "brief for " + title,
		"archive_time":   archivedAt,
		"max_rate_class": rateClass,
		"max_rate_score": rateScore,
	})
	require.NoError(t, err)
}

func TestManager_GenerateRanksEligibleArchivesAndStoresRecommendation(t *testing.T) {
	store := docstore.NewMemoryStore()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	seedArchive(t, store, "a", "Alpha", now.Add(-1*time.Hour), "security", 9)
	seedArchive(t, store, "b", "Below threshold", now.Add(-2*time.Hour), "security", 3)
	seedArchive(t, store, "c", "Too old", now.Add(-48*time.Hour), "security", 9)

	proxy := newTestProxy(t, `{"items": [{"archived_id": "a", "rationale": "high impact", "rank": 1}]}`)
	mgr := New(store, proxy, fixedClock{now: now}, nil, Config{SystemPrompt: "rank these"})

	rec, err := mgr.Generate(context.Background())
	require.NoError(t, err)
	require.Len(t, rec.Items, 1)
	require.Equal(t, "a", rec.Items[0].ArchivedID)

	stored, found, err := store.FindOne(context.Background(), recommendationsCollection, docstore.Filter{"UUID": rec.ID})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, rec.ID, stored["UUID"])
}

func TestManager_GenerateWithNoEligibleArchivesYieldsEmptyRecommendation(t *testing.T) {
	store := docstore.NewMemoryStore()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	seedArchive(t, store, "b", "Below threshold", now.Add(-1*time.Hour), "security", 1)

	proxy := newTestProxy(t, `{"items": []}`)
	mgr := New(store, proxy, fixedClock{now: now}, nil, Config{SystemPrompt: "rank these"})

	rec, err := mgr.Generate(context.Background())
	require.NoError(t, err)
	require.Empty(t, rec.Items)
}

func TestManager_GenerateRanksItemsByRankField(t *testing.T) {
	store := docstore.NewMemoryStore()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	seedArchive(t, store, "a", "Alpha", now.Add(-1*time.Hour), "security", 9)

	proxy := newTestProxy(t, `{"items": [{"archived_id": "a", "rationale": "second", "rank": 2}, {"archived_id": "b", "rationale": "first", "rank": 1}]}`)
	mgr := New(store, proxy, fixedClock{now: now}, nil, Config{SystemPrompt: "rank these"})

	rec, err := mgr.Generate(context.Background())
	require.NoError(t, err)
	require.Len(t, rec.Items, 2)
	require.Equal(t, "b", rec.Items[0].ArchivedID)
	require.Equal(t, "a", rec.Items[1].ArchivedID)
}

func TestConfig_WithDefaultsFillsZeroValues(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, defaultLookback, cfg.Lookback)
	require.Equal(t, defaultLimit, cfg.Limit)
	require.Equal(t, defaultRatingThreshold, cfg.RatingThreshold)
}
