package server

import (
	"context"
	"sync/atomic"

	"github.com/jmylchreest/klarvia/pkg/reply"
)

// Stats counts dispatched replies. It is a reply.Observer; /health reports
// its counters when the server is given one.
type Stats struct {
	replies  atomic.Int64
	degraded atomic.Int64
}

// NewStats returns zeroed counters.
func NewStats() *Stats { return &Stats{} }

// OnReply implements reply.Observer.
func (s *Stats) OnReply(_ context.Context, e reply.CallEvent) {
	s.replies.Add(1)
	if e.Degraded {
		s.degraded.Add(1)
	}
}

// Replies returns the number of dispatched replies.
func (s *Stats) Replies() int64 { return s.replies.Load() }

// Degraded returns how many replies fell back to the rule-based responder.
func (s *Stats) Degraded() int64 { return s.degraded.Load() }
