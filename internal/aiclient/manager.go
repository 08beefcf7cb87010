package aiclient

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"intelhub/internal/hubtypes"
	"intelhub/internal/obs"
)

// Manager holds the set of registered clients and picks one per
// request per the priority/group-limit selection rule (spec §4.4).
type Manager struct {
	mu          sync.RWMutex
	clients     []Client
	groupLimits map[string]int
	groupInUse  map[string]int32

	clock obs.Clock
	log   obs.Logger
}

// NewManager returns an empty client pool.
func NewManager(clock obs.Clock, log obs.Logger) *Manager {
	if clock == nil {
		clock = obs.SystemClock{}
	}
	if log == nil {
		log = obs.NewNoopLogger()
	}
	return &Manager{groupLimits: make(map[string]int), groupInUse: make(map[string]int32), clock: clock, log: log}
}

// RegisterClient adds a client to the pool.
func (m *Manager) RegisterClient(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients = append(m.clients, c)
}

// SetGroupLimit caps the number of simultaneously in-flight requests a
// client group may hold.
func (m *Manager) SetGroupLimit(group string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groupLimits[group] = n
}

func (m *Manager) groupLimit(group string) int {
	if n, ok := m.groupLimits[group]; ok {
		return n
	}
	return 1 << 30 // effectively unlimited when unset
}

// GetAvailableClient implements the §4.4 selection rule: filter to
// available clients under their group limit, sort by priority class
// descending then smallest in-flight then least-recently-used, and
// atomically lease the winner. release() must be called exactly once.
func (m *Manager) GetAvailableClient(leaseOwner string) (client Client, release func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type candidate struct {
		c       Client
		lastUse time.Time
	}
	var candidates []candidate
	for _, c := range m.clients {
		if !c.IsAvailable() {
			continue
		}
		group := c.GroupID()
		if int(m.groupInUse[group]) >= m.groupLimit(group) {
			continue
		}
		lastUse := time.Time{}
		if lu, ok := c.(interface{ LastUsedAt() time.Time }); ok {
			lastUse = lu.LastUsedAt()
		}
		candidates = append(candidates, candidate{c: c, lastUse: lastUse})
	}
	if len(candidates) == 0 {
		return nil, nil, hubtypes.ErrNoClient
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := candidates[i].c.Priority(), candidates[j].c.Priority()
		if pi != pj {
			return pi > pj // freebie(2) > normal(1) > expensive(0)
		}
		ii, ij := candidates[i].c.InFlight(), candidates[j].c.InFlight()
		if ii != ij {
			return ii < ij
		}
		if !candidates[i].lastUse.Equal(candidates[j].lastUse) {
			return candidates[i].lastUse.Before(candidates[j].lastUse)
		}
		return candidates[i].c.Name() < candidates[j].c.Name()
	})

	winner := candidates[0].c
	winner.Acquire()
	m.groupInUse[winner.GroupID()]++

	released := false
	release = func() {
		if released {
			return
		}
		released = true
		m.mu.Lock()
		defer m.mu.Unlock()
		winner.Release()
		m.groupInUse[winner.GroupID()]--
	}
	m.log.Debug("aiclient: leased client", map[string]any{"owner": leaseOwner, "client": winner.Name()})
	return winner, release, nil
}

// AcquireWithRetry blocks, retrying GetAvailableClient with a jittered
// 1.0s+up to 0.5s uniform delay, until a lease is obtained or ctx is
// done. It logs every 10th failed attempt.
func (m *Manager) AcquireWithRetry(ctx context.Context, leaseOwner string) (Client, func(), error) {
	attempt := 0
	for {
		client, release, err := m.GetAvailableClient(leaseOwner)
		if err == nil {
			return client, release, nil
		}
		attempt++
		if attempt%10 == 0 {
			m.log.Warn("aiclient: still waiting for an available client", map[string]any{"owner": leaseOwner, "attempts": attempt})
		}
		delay := time.Second + time.Duration(rand.Float64()*float64(500*time.Millisecond))
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Chat acquires a client, performs the call, and releases it, retrying
// across the pool on transient verdicts via an exponential backoff
// policy. Terminal verdicts (sensitive/auth) are returned immediately.
//
// validate, if non-nil, runs against every successful HTTP response
// inside the same retry budget as HTTP-level failures: a non-nil
// return is treated exactly like a transient ChatError and consumes
// one of the three attempts, so a response that fails downstream
// parsing gets retried instead of being handed to the caller as a
// permanent failure on the first bad body (spec §4.3/§4.6 step 6-7:
// "Non-JSON or unparseable body after repair → transient unless
// repair attempts exhausted").
func (m *Manager) Chat(ctx context.Context, leaseOwner string, messages []Message, temperature float64, maxTokens int, validate func(Response) error) (Response, error) {
	op := func() (Response, error) {
		client, release, err := m.AcquireWithRetry(ctx, leaseOwner)
		if err != nil {
			return Response{}, backoff.Permanent(err)
		}
		defer release()

		resp, err := client.Chat(ctx, messages, temperature, maxTokens)
		if err == nil {
			if validate != nil {
				if verr := validate(resp); verr != nil {
					return Response{}, verr
				}
			}
			return resp, nil
		}

		var chatErr *ChatError
		if ce, ok := err.(*ChatError); ok {
			chatErr = ce
		}
		if chatErr == nil {
			return Response{}, err
		}
		if chatErr.Verdict == VerdictTerminalAuth {
			client.SetAvailable(false)
		}
		if !chatErr.Retryable() {
			return Response{}, backoff.Permanent(chatErr)
		}
		return Response{}, chatErr
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second
	bo.RandomizationFactor = 0

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(3),
	)
	if err != nil {
		return Response{}, fmt.Errorf("aiclient: chat: %w", err)
	}
	return resp, nil
}

// StartMonitoring spawns a background poller that invokes probe for
// every registered client at the given interval, updating its balance
// and availability from the result.
func (m *Manager) StartMonitoring(ctx context.Context, interval time.Duration, probe func(ctx context.Context, c Client) (balance float64, available bool, err error)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.pollOnce(ctx, probe)
			}
		}
	}()
}

func (m *Manager) pollOnce(ctx context.Context, probe func(ctx context.Context, c Client) (float64, bool, error)) {
	m.mu.RLock()
	clients := make([]Client, len(m.clients))
	copy(clients, m.clients)
	m.mu.RUnlock()

	for _, c := range clients {
		bal, available, err := probe(ctx, c)
		if err != nil {
			m.log.Warn("aiclient: balance probe failed", map[string]any{"client": c.Name(), "error": err.Error()})
			continue
		}
		c.UpdateBalance(bal)
		c.SetAvailable(available)
	}
}
