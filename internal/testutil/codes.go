package testutil

import (
	"fmt"
	"sync"
)

// ScriptedCodes hands out predetermined referral codes in order, then
// C0000001, C0000002, ... zero-padded to the requested length.
//
// A script that repeats a code exercises the registry's collision retry.
// Implements registry.CodeGenerator. Safe for concurrent use.
type ScriptedCodes struct {
	mu       sync.Mutex
	codes    []string
	fallback Sequence
}

// NewScriptedCodes creates a generator that returns codes first.
func NewScriptedCodes(codes ...string) *ScriptedCodes {
	return &ScriptedCodes{codes: append([]string(nil), codes...)}
}

// Generate returns the next code.
func (s *ScriptedCodes) Generate(length int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.codes) > 0 {
		c := s.codes[0]
		s.codes = s.codes[1:]
		return c, nil
	}
	return fmt.Sprintf("C%0*d", length-1, s.fallback.Next()), nil
}
