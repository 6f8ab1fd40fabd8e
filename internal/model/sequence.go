package model

import "sync/atomic"

// Sequence hands out consecutive IDs for findings and HTTP exchanges.
// A scan session owns exactly one Sequence; a new session starts again at 1,
// so IDs are unique within a scan but not across scans.
type Sequence struct {
	n atomic.Int64
}

// NewSequence returns a sequence whose first ID is 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next ID. It is safe for concurrent use.
func (s *Sequence) Next() int64 {
	return s.n.Add(1)
}

// Current returns the last ID handed out, or 0 if none.
func (s *Sequence) Current() int64 {
	return s.n.Load()
}

// Reset restarts the sequence at 1.
func (s *Sequence) Reset() {
	s.n.Store(0)
}
