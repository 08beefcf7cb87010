package hub

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
	"intelhub/internal/vectorengine"
)

type fakeClient struct {
	response aiclient.Response
	err      error
	inFlight int32
}

func (f *fakeClient) Chat(ctx context.Context, messages []aiclient.Message, temperature float64, maxTokens int) (aiclient.Response, error) {
	if f.err != nil {
		return aiclient.Response{}, f.err
	}
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

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestHub(t *testing.T, responseContent string, chatErr error) (*Hub, docstore.Store) {
	t.Helper()
	store := docstore.NewMemoryStore()

	manager := aiclient.NewManager(nil, nil)
	manager.RegisterClient(&fakeClient{response: aiclient.Response{Content: responseContent}, err: chatErr})

	recorder, err := conversation.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { recorder.Close() })
	proxy := analyzer.New(manager, recorder, 0, nil)

	vecService := vectorengine.NewService(context.Background(), vectorengine.NewDeterministicEmbedder(16, true, 1),
		func() (vectorengine.VectorIndex, error) { return vectorengine.NewMemoryIndex(), nil }, "", nil)
	_, err = vecService.WaitUntilReady(time.Second)
	require.NoError(t, err)

	h := New(store, vecService, manager, proxy, nil, nil, fixedClock{now: time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)}, nil, Config{
		AnalysisWorkers: 1,
		SystemPrompt:    "analyze this",
	})
	require.NoError(t, h.Startup(context.Background()))
	t.Cleanup(func() { h.Shutdown(context.Background(), 2*time.Second) })
	return h, store
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Fail(t, "condition not met before timeout")
}

// S1: happy path. A valid analysis response should land in the archive
// collection with a non-empty EVENT_TEXT and an incremented archived
// counter.
func TestHub_HappyPathArchivesItem(t *testing.T) {
	h, store := newTestHub(t, `{"UUID": "a", "TITLE": "T", "BRIEF": "B", "EVENT_TEXT": "something happened", "RATE": {"security": 8}}`, nil)

	id, err := h.SubmitCollected(context.Background(), hubtypes.CollectedItem{UUID: "a", Informant: "https://x/1", Content: "…text…"})
	require.NoError(t, err)
	require.Equal(t, "a", id)

	waitFor(t, 2*time.Second, func() bool {
		return h.Summary().Archived == 1
	})

	doc, found, err := store.FindOne(context.Background(), archiveCollection, docstore.Filter{"UUID": "a"})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "something happened", doc["EVENT_TEXT"])
}

// S2: duplicate submission is rejected synchronously on the second
// SubmitCollected call.
func TestHub_DuplicateSubmissionRejected(t *testing.T) {
	h, store := newTestHub(t, `{"UUID": "a", "TITLE": "T", "BRIEF": "B", "EVENT_TEXT": "something happened", "RATE": {"security": 8}}`, nil)

	_, err := h.SubmitCollected(context.Background(), hubtypes.CollectedItem{UUID: "a", Informant: "https://x/1", Content: "text"})
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool {
		return h.Summary().Archived == 1
	})

	_, err = h.SubmitCollected(context.Background(), hubtypes.CollectedItem{UUID: "a", Informant: "https://x/1", Content: "text"})
	require.Error(t, err)
	require.ErrorIs(t, err, hubtypes.ErrDuplicate)

	n, err := store.Count(context.Background(), archiveCollection, docstore.Filter{"UUID": "a"})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

// S3: a response with no EVENT_TEXT is dropped, not archived.
func TestHub_NoValueResponseIsDropped(t *testing.T) {
	h, store := newTestHub(t, `{"UUID": "b"}`, nil)

	_, err := h.SubmitCollected(context.Background(), hubtypes.CollectedItem{UUID: "b", Informant: "https://x/2", Content: "text"})
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool {
		return h.Summary().Dropped == 1
	})

	_, found, err := store.FindOne(context.Background(), archiveCollection, docstore.Filter{"UUID": "b"})
	require.NoError(t, err)
	require.False(t, found)

	doc, found, err := store.FindOne(context.Background(), cacheCollection, docstore.Filter{"UUID": "b"})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, string(hubtypes.FlagDropped), doc["__ARCHIVED__"])
}

func TestHub_GetAndQueryRoundTripArchivedDocuments(t *testing.T) {
	h, _ := newTestHub(t, `{"UUID": "a", "TITLE": "T", "BRIEF": "B", "EVENT_TEXT": "something happened", "RATE": {"security": 8}}`, nil)

	_, err := h.SubmitCollected(context.Background(), hubtypes.CollectedItem{UUID: "a", Informant: "https://x/1", Content: "text"})
	require.NoError(t, err)
	waitFor(t, 2*time.Second, func() bool { return h.Summary().Archived == 1 })

	doc, found, err := h.Get(context.Background(), "archive", "a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "a", doc["UUID"])

	docs, err := h.Query(context.Background(), QueryParams{DB: "archive", Filter: docstore.Filter{}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestHub_SubmitArchivedBypassesAnalysis(t *testing.T) {
	h, store := newTestHub(t, "unused", nil)

	err := h.SubmitArchived(context.Background(), hubtypes.ArchivedItem{
		UUID:      "direct",
		Title:     "T",
		Brief:     "B",
		EventText: "already analyzed",
		Rate:      map[string]float64{"security": 9},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), h.Summary().Archived)

	doc, found, err := store.FindOne(context.Background(), archiveCollection, docstore.Filter{"UUID": "direct"})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "security", doc["max_rate_class"])
}
