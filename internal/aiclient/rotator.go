package aiclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"intelhub/internal/hubtypes"
	"intelhub/internal/obs"
)

// keyBalanceProber checks one candidate key's remaining balance/quota.
// Concrete AI-service backends (SiliconFlow, ModelScope, ...) each
// implement this against their own account endpoint.
type keyBalanceProber interface {
	Probe(ctx context.Context, key string) (balance float64, err error)
}

// Rotator restores the original's background ServiceRotator: it loads a
// pool of candidate keys from a file, periodically probes each one's
// balance, and swaps the active key into whichever OuterTokenRotating
// client it is bound to whenever the current key's balance falls below
// threshold. It is driven externally (by internal/scheduler) rather
// than owning its own goroutine, so its probe cadence is configured in
// one place alongside every other scheduled task.
type Rotator struct {
	keysFile  string
	threshold float64
	prober    keyBalanceProber
	log       obs.Logger

	mu         sync.RWMutex
	keys       []string
	activeIdx  int
	activeBal  float64
}

// NewRotator loads the candidate key pool from keysFile (one key per
// line, blank lines and '#' comments ignored).
func NewRotator(keysFile string, threshold float64, prober keyBalanceProber, log obs.Logger) (*Rotator, error) {
	if log == nil {
		log = obs.NewNoopLogger()
	}
	keys, err := loadKeys(keysFile)
	if err != nil {
		return nil, err
	}
	return &Rotator{keysFile: keysFile, threshold: threshold, prober: prober, log: log, keys: keys}, nil
}

func loadKeys(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var keys []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keys = append(keys, line)
	}
	return keys, scanner.Err()
}

// ActiveKey returns the key currently considered healthy.
func (r *Rotator) ActiveKey() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.keys) == 0 {
		return ""
	}
	return r.keys[r.activeIdx]
}

// Probe checks the current active key's balance and, if below
// threshold, scans the rest of the pool for the first key whose
// balance clears the threshold and swaps to it. Called periodically by
// the scheduler; failures are logged and never propagated to the
// scheduler loop (spec §4.5: a task's failure must not affect other
// tasks).
func (r *Rotator) Probe(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) == 0 {
		return
	}

	bal, err := r.prober.Probe(ctx, r.keys[r.activeIdx])
	if err == nil {
		r.activeBal = bal
	}
	if err == nil && bal >= r.threshold {
		return
	}
	if err != nil {
		r.log.Warn("aiclient: rotator probe failed for active key", map[string]any{"error": err.Error()})
	} else {
		r.log.Info("aiclient: active key below balance threshold, rotating", map[string]any{"balance": bal, "threshold": r.threshold})
	}

	for i := 1; i <= len(r.keys); i++ {
		idx := (r.activeIdx + i) % len(r.keys)
		candBal, err := r.prober.Probe(ctx, r.keys[idx])
		if err != nil {
			continue
		}
		if candBal >= r.threshold {
			r.activeIdx = idx
			r.activeBal = candBal
			r.log.Info("aiclient: rotator switched active key", map[string]any{"index": idx, "balance": candBal})
			return
		}
	}
	r.log.Error("aiclient: no candidate key clears balance threshold", map[string]any{"threshold": r.threshold, "pool_size": len(r.keys)})
}

// ActiveBalance returns the last-probed balance of the active key.
func (r *Rotator) ActiveBalance() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeBal
}

// HTTPBalanceProber implements keyBalanceProber against an
// OpenAI-compatible account-balance endpoint (the shape SiliconFlow and
// ModelScope both expose: a GET request bearing the key, returning a
// JSON body with a numeric balance field).
type HTTPBalanceProber struct {
	BalanceURL string
	Client     *http.Client
}

type balanceResponse struct {
	Balance     float64 `json:"balance"`
	TotalBalance float64 `json:"total_balance"`
}

// Probe issues the balance request using key as the bearer token.
func (p *HTTPBalanceProber) Probe(ctx context.Context, key string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BalanceURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", hubtypes.ErrInfrastructure, err)
	}
	req.Header.Set("Authorization", "Bearer "+key)

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", hubtypes.ErrConnect, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: balance probe returned status %d", hubtypes.ErrInfrastructure, resp.StatusCode)
	}

	var body balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: %v", hubtypes.ErrInfrastructure, err)
	}
	if body.Balance != 0 {
		return body.Balance, nil
	}
	return body.TotalBalance, nil
}
