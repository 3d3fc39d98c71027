package parser

import (
	"fmt"
	"sync/atomic"

	"github.com/BTreeMap/TutorPipe/internal/util"
)

// Sequence is a monotonic IDGenerator. Ids share a random prefix so sequences from
// different sessions do not collide.
type Sequence struct {
	prefix string
	n      atomic.Uint64
}

// NewSequence creates a sequence with a random prefix.
func NewSequence() *Sequence {
	return &Sequence{prefix: util.GenerateRandomID("m_", 8)}
}

// NewSequenceWithPrefix creates a sequence with a fixed prefix.
func NewSequenceWithPrefix(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// NextMistakeID returns the next id.
func (s *Sequence) NextMistakeID() string {
	return fmt.Sprintf("%s_%06d", s.prefix, s.n.Add(1))
}
