package hub

import "sync"

// Stats holds the hub's shared counters. All mutations happen under a
// single mutex, per the concurrency model's "Counters... all mutations
// under a single hub-wide mutex" (spec §5).
type Stats struct {
	mu sync.Mutex

	archived     int64
	dropped      int64
	errored      int64
	conversation int64
}

func (s *Stats) incArchived() {
	s.mu.Lock()
	s.archived++
	s.mu.Unlock()
}

func (s *Stats) incDropped() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

func (s *Stats) incError() {
	s.mu.Lock()
	s.errored++
	s.mu.Unlock()
}

func (s *Stats) incConversation() {
	s.mu.Lock()
	s.conversation++
	s.mu.Unlock()
}

// StatsSnapshot is a point-in-time copy of Stats, safe to pass by value.
type StatsSnapshot struct {
	Archived     int64
	Dropped      int64
	Error        int64
	Conversation int64
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Archived:     s.archived,
		Dropped:      s.dropped,
		Error:        s.errored,
		Conversation: s.conversation,
	}
}
