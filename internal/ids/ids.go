// Package ids generates identifiers for sessions and audit entries.
package ids

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator produces unique identifiers.
// Implemented by UUIDv7 (production) and Sequence (tests).
type Generator interface {
	NewID() string
}

// UUIDv7 generates time-sortable UUIDv7 identifiers, so audit entries and
// sessions sort by creation time when listed by id.
//
// Stateless and safe for concurrent use.
type UUIDv7 struct{}

// NewID panics only if the system random source fails.
func (UUIDv7) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Sequence returns "<prefix>-1", "<prefix>-2", ... for deterministic tests.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequence creates a sequence generator with the given prefix.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// NewID returns the next identifier in the sequence.
func (s *Sequence) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}
