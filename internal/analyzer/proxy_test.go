package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"intelhub/internal/aiclient"
	"intelhub/internal/conversation"
	"intelhub/internal/hubtypes"
)

func TestBuildUserMessage_SortsKeysAndAppendsContentHeader(t *testing.T) {
	msg := BuildUserMessage(map[string]any{"b": 2, "a": 1}, "body text")
	require.Equal(t, "- a: 1\n- b: 2\n\n## content\nbody text", msg)
}

func TestMetadataOf_OmitsEmptyOptionalFields(t *testing.T) {
	item := hubtypes.CollectedItem{Informant: "feedX", Content: "c"}
	m := metadataOf(item)
	require.Equal(t, "feedX", m["informant"])
	_, hasTitle := m["title"]
	require.False(t, hasTitle)
}

func TestMetadataOf_IncludesPubTimeWhenPresent(t *testing.T) {
	pt := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	item := hubtypes.CollectedItem{Informant: "feedX", Title: "T", PubTime: &pt}
	m := metadataOf(item)
	require.Equal(t, "T", m["title"])
	require.Contains(t, m["pub_time"], "2026-07-31")
}

func TestCleanAssistantText_StripsThinkBlock(t *testing.T) {
	raw := "<think>reasoning here</think>{\"a\": 1}"
	require.Equal(t, `{"a": 1}`, cleanAssistantText(raw))
}

func TestCleanAssistantText_UnwrapsAnswerTag(t *testing.T) {
	raw := "<think>ignore</think>\n<answer>{\"a\": 1}</answer>"
	require.Equal(t, `{"a": 1}`, cleanAssistantText(raw))
}

func TestCleanAssistantText_StripsCodeFence(t *testing.T) {
	raw := "```json\n{\"a\": 1}\n```"
	require.Equal(t, `{"a": 1}`, cleanAssistantText(raw))
}

func TestParseLenient_StrictSuccessHasNoWarning(t *testing.T) {
	fields, warning, err := parseLenient(`{"a": 1}`)
	require.NoError(t, err)
	require.Empty(t, warning)
	require.Equal(t, float64(1), fields["a"])
}

func TestParseLenient_RepairPathSetsWarning(t *testing.T) {
	fields, warning, err := parseLenient(`{"a": 1,}`)
	require.NoError(t, err)
	require.Equal(t, "json_repaired", warning)
	require.Equal(t, float64(1), fields["a"])
}

func TestParseLenient_UnrecoverableReturnsError(t *testing.T) {
	_, _, err := parseLenient("")
	require.Error(t, err)
}

func TestParseLenient_MissingEventTextFieldIsVisibleToCaller(t *testing.T) {
	fields, _, err := parseLenient(`{"UUID": "b"}`)
	require.NoError(t, err)
	_, hasEventText := fields["EVENT_TEXT"]
	require.False(t, hasEventText)
}

// fakeClient is a minimal aiclient.Client that always returns a fixed
// response, used to exercise the proxy's exchange pipeline end to end.
type fakeClient struct {
	name     string
	response aiclient.Response
	inFlight int32
}

func (f *fakeClient) Chat(ctx context.Context, messages []aiclient.Message, temperature float64, maxTokens int) (aiclient.Response, error) {
	return f.response, nil
}
func (f *fakeClient) CurrentModel() string      { return "fake-model" }
func (f *fakeClient) CurrentBaseURL() string    { return "https://example.invalid" }
func (f *fakeClient) CurrentToken() string      { return "fake-token" }
func (f *fakeClient) Priority() aiclient.Priority { return hubtypes.PriorityNormal }
func (f *fakeClient) GroupID() string           { return "fake-group" }
func (f *fakeClient) Name() string              { return f.name }
func (f *fakeClient) IsAvailable() bool         { return true }
func (f *fakeClient) SetAvailable(bool)         {}
func (f *fakeClient) InFlight() int32           { return f.inFlight }
func (f *fakeClient) Acquire()                  { f.inFlight++ }
func (f *fakeClient) Release()                  { f.inFlight-- }
func (f *fakeClient) UpdateBalance(float64)     {}

func newTestProxy(t *testing.T, responseContent string) *Proxy {
	t.Helper()
	manager := aiclient.NewManager(nil, nil)
	manager.RegisterClient(&fakeClient{name: "fake", response: aiclient.Response{Content: responseContent}})

	recorder, err := conversation.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { recorder.Close() })

	return New(manager, recorder, 0, nil)
}

func TestProxy_AnalyzeParsesStrictJSONAndRecordsExchange(t *testing.T) {
	p := newTestProxy(t, `{"UUID": "a", "EVENT_TEXT": "something happened"}`)
	item := hubtypes.CollectedItem{UUID: "a", Informant: "feedX", Content: "raw body"}

	result, err := p.Analyze(context.Background(), "worker-1", "system prompt", item)
	require.NoError(t, err)
	require.Empty(t, result.Warning)
	require.Equal(t, "something happened", result.Fields["EVENT_TEXT"])
	require.GreaterOrEqual(t, result.RecordIndex, int64(0))
}

func TestProxy_AnalyzeMarksJSONRepairedWarningOnLenientRecovery(t *testing.T) {
	p := newTestProxy(t, "```json\n{'UUID': 'a', 'EVENT_TEXT': 'x',}\n```")
	item := hubtypes.CollectedItem{UUID: "a", Informant: "feedX", Content: "raw body"}

	result, err := p.Analyze(context.Background(), "worker-1", "system prompt", item)
	require.NoError(t, err)
	require.Equal(t, "json_repaired", result.Warning)
	require.Equal(t, "x", result.Fields["EVENT_TEXT"])
}

// TestProxy_AnalyzeUnparseableResponseIsTransientNotDropped exercises
// spec §4.3/§4.6 step 6-7: a response that is still unparseable after
// lenient repair is transient, not an immediate drop — it shares the
// same 3-attempt retry budget as an HTTP failure and only becomes a
// permanent failure once that budget is exhausted.
func TestProxy_AnalyzeUnparseableResponseIsTransientNotDropped(t *testing.T) {
	p := newTestProxy(t, "not json at all, just prose with no braces")
	item := hubtypes.CollectedItem{UUID: "a", Informant: "feedX", Content: "raw body"}

	_, err := p.Analyze(context.Background(), "worker-1", "system prompt", item)
	require.Error(t, err)
	require.ErrorIs(t, err, hubtypes.ErrTransientProvider)
	require.NotErrorIs(t, err, hubtypes.ErrNoValue)
}
