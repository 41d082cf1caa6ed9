// Package testutil provides deterministic fixtures shared by tests:
// a stepping wall clock, sequential id generation, and bar-series
// builders. Production code never imports this package.
package testutil

import (
	"fmt"
	"sync"
	"time"
)

// Clock is a deterministic wall clock for tests. Every Now call returns
// the current instant and advances it by a fixed step, so timestamps in
// recorded metadata are reproducible and strictly increasing.
//
// Thread-safety: all methods are safe for concurrent use via an
// internal mutex, matching how worker pools call injected clocks.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewClock creates a clock starting at start, advancing by step per
// Now call. A zero step freezes the clock.
func NewClock(start time.Time, step time.Duration) *Clock {
	return &Clock{now: start, step: step}
}

// FrozenClock returns a clock pinned to the harness epoch,
// 2025-06-02T09:30:00Z. Every Now call returns the same instant.
func FrozenClock() *Clock {
	return NewClock(time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC), 0)
}

// Now returns the current instant and advances the clock by one step.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the current instant without advancing.
func (c *Clock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// SequentialIDs returns an id generator producing prefix-0001,
// prefix-0002, ... so run and batch ids are stable across reruns.
//
// Thread-safety: the returned function is safe for concurrent use.
func SequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%04d", prefix, n)
	}
}
