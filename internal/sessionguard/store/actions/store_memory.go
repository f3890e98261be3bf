package actions

import (
	"context"
	"sync"
	"time"
)

// InMemoryCounter counts actions per key over a sliding window.
type InMemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
}

type slidingWindow struct {
	timestamps []time.Time
}

func NewInMemoryCounter() *InMemoryCounter {
	return &InMemoryCounter{windows: make(map[string]*slidingWindow)}
}

// Record adds one action at now and returns how many actions fall inside
// (now-window, now].
func (s *InMemoryCounter) Record(_ context.Context, key string, now time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sw := s.windows[key]
	if sw == nil {
		sw = &slidingWindow{}
		s.windows[key] = sw
	}
	sw.cleanup(now, window)
	sw.timestamps = append(sw.timestamps, now)
	return len(sw.timestamps), nil
}

// Count returns the actions inside the window without recording one.
func (s *InMemoryCounter) Count(_ context.Context, key string, now time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sw := s.windows[key]
	if sw == nil {
		return 0, nil
	}
	sw.cleanup(now, window)
	return len(sw.timestamps), nil
}

func (s *InMemoryCounter) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// cleanup drops timestamps at or before now-window. Timestamps are appended in order.
func (sw *slidingWindow) cleanup(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}
