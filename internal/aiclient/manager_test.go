package aiclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"intelhub/internal/hubtypes"
)

// fakeClient is a test double satisfying Client without any network
// calls, used to exercise the manager's selection rule in isolation.
type fakeClient struct {
	baseClient
	resp   Response
	err    error
	onChat func()
}

func newFakeClient(name string, priority Priority, group string) *fakeClient {
	return &fakeClient{baseClient: newBaseClient(name, priority, group)}
}

func (f *fakeClient) CurrentModel() string   { return "fake-model" }
func (f *fakeClient) CurrentBaseURL() string { return "http://fake" }
func (f *fakeClient) CurrentToken() string   { return "fake-token" }

func (f *fakeClient) Chat(ctx context.Context, messages []Message, temperature float64, maxTokens int) (Response, error) {
	if f.onChat != nil {
		f.onChat()
	}
	if f.err != nil {
		return Response{}, f.err
	}
	return f.resp, nil
}

func TestManager_SelectsHighestPriorityFirst(t *testing.T) {
	m := NewManager(nil, nil)
	expensive := newFakeClient("expensive", hubtypes.PriorityExpensive, "g")
	freebie := newFakeClient("freebie", hubtypes.PriorityFreebie, "g")
	m.RegisterClient(expensive)
	m.RegisterClient(freebie)

	client, release, err := m.GetAvailableClient("owner-1")
	require.NoError(t, err)
	require.Equal(t, "freebie", client.Name())
	release()
}

func TestManager_PrefersSmallestInFlightWithinSameClass(t *testing.T) {
	m := NewManager(nil, nil)
	busy := newFakeClient("busy", hubtypes.PriorityNormal, "g")
	idle := newFakeClient("idle", hubtypes.PriorityNormal, "g")
	m.RegisterClient(busy)
	m.RegisterClient(idle)

	busy.Acquire()
	defer busy.Release()

	client, release, err := m.GetAvailableClient("owner-1")
	require.NoError(t, err)
	require.Equal(t, "idle", client.Name())
	release()
}

func TestManager_GroupLimitExcludesClientsOverCapacity(t *testing.T) {
	m := NewManager(nil, nil)
	m.SetGroupLimit("g", 1)
	a := newFakeClient("a", hubtypes.PriorityNormal, "g")
	b := newFakeClient("b", hubtypes.PriorityNormal, "g")
	m.RegisterClient(a)
	m.RegisterClient(b)

	_, release1, err := m.GetAvailableClient("owner-1")
	require.NoError(t, err)

	_, _, err = m.GetAvailableClient("owner-2")
	require.ErrorIs(t, err, hubtypes.ErrNoClient)

	release1()
	_, release2, err := m.GetAvailableClient("owner-2")
	require.NoError(t, err)
	release2()
}

func TestManager_NoClientsReturnsErrNoClient(t *testing.T) {
	m := NewManager(nil, nil)
	_, _, err := m.GetAvailableClient("owner")
	require.ErrorIs(t, err, hubtypes.ErrNoClient)
}

func TestManager_UnavailableClientExcluded(t *testing.T) {
	m := NewManager(nil, nil)
	c := newFakeClient("down", hubtypes.PriorityNormal, "g")
	c.SetAvailable(false)
	m.RegisterClient(c)

	_, _, err := m.GetAvailableClient("owner")
	require.ErrorIs(t, err, hubtypes.ErrNoClient)
}

func TestManager_AcquireWithRetrySucceedsOnceReleased(t *testing.T) {
	m := NewManager(nil, nil)
	m.SetGroupLimit("g", 1)
	c := newFakeClient("solo", hubtypes.PriorityNormal, "g")
	m.RegisterClient(c)

	_, release, err := m.GetAvailableClient("first")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client, release2, err := m.AcquireWithRetry(ctx, "second")
	require.NoError(t, err)
	require.Equal(t, "solo", client.Name())
	release2()
}

// TestManager_ChatRetriesThreeTimesWithGrowingBackoff exercises scenario
// S5: a client whose every call comes back as a transient verdict must be
// tried exactly 3 times in total, with inter-attempt gaps of at least 1s
// and then at least 2s (base 1s, exponential growth, 30s cap).
func TestManager_ChatRetriesThreeTimesWithGrowingBackoff(t *testing.T) {
	m := NewManager(nil, nil)
	c := newFakeClient("flaky", hubtypes.PriorityNormal, "g")
	c.err = &ChatError{Verdict: VerdictTransient, Err: context.DeadlineExceeded}
	m.RegisterClient(c)

	var attemptTimes []time.Time
	c.onChat = func() { attemptTimes = append(attemptTimes, time.Now()) }

	_, err := m.Chat(context.Background(), "owner", []Message{{Role: "user", Content: "hi"}}, 0, 0, nil)
	require.Error(t, err)
	require.Len(t, attemptTimes, 3)
	require.GreaterOrEqual(t, attemptTimes[1].Sub(attemptTimes[0]), time.Second)
	require.GreaterOrEqual(t, attemptTimes[2].Sub(attemptTimes[1]), 2*time.Second)
}
