package live

import (
	"sync"
	"time"
)

// Clock abstracts time for the playback scheduler so tests can pin it.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Scheduler assigns gapless start times to incoming model audio chunks.
// Each chunk starts at the end of the previous one, or immediately if the
// queue has drained. An interrupt flushes the accumulated end time so the
// next chunk starts fresh.
type Scheduler struct {
	mu     sync.Mutex
	clock  Clock
	nextAt time.Time
}

func NewScheduler(clock Clock) *Scheduler {
	if clock == nil {
		clock = realClock{}
	}
	return &Scheduler{clock: clock}
}

// Schedule returns the start time for a chunk of the given duration and
// advances the accumulated end time past it.
func (s *Scheduler) Schedule(d time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	start := s.nextAt
	if start.Before(now) {
		start = now
	}
	s.nextAt = start.Add(d)
	return start
}

// Flush resets the accumulated end time. Queued audio that was scheduled
// before the flush is the sink's responsibility to discard.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	s.nextAt = time.Time{}
	s.mu.Unlock()
}
