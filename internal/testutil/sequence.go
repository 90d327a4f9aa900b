// Package testutil provides deterministic generators for scenario runs and
// tests.
package testutil

import (
	"fmt"
	"sync"
)

// Sequence is a thread-safe monotonic counter.
//
// The first call to Next returns 1. Reset starts over, so the same scenario
// can run repeatedly with identical ids.
type Sequence struct {
	mu  sync.Mutex
	seq int64
}

// Next increments and returns the next value.
func (s *Sequence) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// Current returns the last value handed out, or 0.
func (s *Sequence) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Reset resets the counter to 0.
func (s *Sequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = 0
}

// SequenceIDs yields row ids prefix-0001, prefix-0002, ...
//
// Implements model.IDGenerator. Safe for concurrent use.
type SequenceIDs struct {
	prefix string
	seq    Sequence
}

// NewSequenceIDs creates an id generator with the given prefix.
func NewSequenceIDs(prefix string) *SequenceIDs {
	return &SequenceIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceIDs) Generate() string {
	return fmt.Sprintf("%s-%04d", g.prefix, g.seq.Next())
}
