// Package ratelimit enforces a sliding-window request cap per API key.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimited matches every *Error through errors.Is.
var ErrRateLimited = errors.New("rate limit exceeded")

// Error is returned when a key exhausted its window. It is retryable after
// RetryAfter.
type Error struct {
	Key        string
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %s, retry after %s", e.Limit, e.Window, e.RetryAfter)
}

func (e *Error) Is(target error) bool { return target == ErrRateLimited }

// Temporary marks the failure as retryable.
func (e *Error) Temporary() bool { return true }

// Limiter admits or rejects one request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) error
}

// SlidingWindow keeps request timestamps per key in process.
type SlidingWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewSlidingWindow admits at most limit requests per key within window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{limit: limit, window: window, now: time.Now, hits: make(map[string][]time.Time)}
}

func (s *SlidingWindow) Allow(ctx context.Context, key string) error {
	now := s.now()
	cutoff := now.Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()
	hits := s.hits[key]
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]
	if len(hits) >= s.limit {
		s.hits[key] = hits
		return &Error{Key: key, Limit: s.limit, Window: s.window, RetryAfter: hits[0].Add(s.window).Sub(now)}
	}
	s.hits[key] = append(hits, now)
	return nil
}

// Prune forgets every key whose last hit left the window.
func (s *SlidingWindow) Prune() {
	cutoff := s.now().Add(-s.window)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, hits := range s.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(s.hits, k)
		}
	}
}

// Run prunes once per window until ctx is done.
func (s *SlidingWindow) Run(ctx context.Context) {
	if s.window <= 0 {
		return
	}
	ticker := time.NewTicker(s.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Prune()
		}
	}
}
