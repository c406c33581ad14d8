package reply

import (
	"context"
	"time"

	"github.com/jmylchreest/klarvia/internal/logger"
)

// Observer receives a notification after every reply that reached a backend
// dispatch. Implementations should not block.
type Observer interface {
	OnReply(ctx context.Context, event CallEvent)
}

// CallEvent describes one dispatched reply.
type CallEvent struct {
	// Strategy that served the call (the cached one, even when degraded)
	Strategy Kind

	// Backend handle name, empty for rule-based replies
	Backend string

	// Characters of trimmed input and produced reply
	InputLen  int
	OutputLen int

	// Degraded is set when the backend failed and a rule-based reply was
	// returned instead.
	Degraded bool

	// Err is the backend failure behind a degraded call
	Err error

	Duration  time.Duration
	StartedAt time.Time
}

// ObserverFunc is a convenience type for using a function as an Observer.
type ObserverFunc func(ctx context.Context, event CallEvent)

// OnReply implements Observer.
func (f ObserverFunc) OnReply(ctx context.Context, event CallEvent) {
	f(ctx, event)
}

// MultiObserver dispatches each event to several observers in order.
type MultiObserver struct {
	observers []Observer
}

// NewMultiObserver creates an observer that fans out to observers. The set
// is fixed at construction; nil observers are skipped.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	m := &MultiObserver{}
	for _, obs := range observers {
		if obs != nil {
			m.observers = append(m.observers, obs)
		}
	}
	return m
}

// OnReply implements Observer.
func (m *MultiObserver) OnReply(ctx context.Context, event CallEvent) {
	for _, obs := range m.observers {
		obs.OnReply(ctx, event)
	}
}

// LogObserver logs every dispatched reply at debug level, and degraded
// replies at warn.
func LogObserver() Observer {
	log := logger.Component("reply")
	return ObserverFunc(func(ctx context.Context, e CallEvent) {
		args := []any{
			"strategy", e.Strategy.String(),
			"backend", e.Backend,
			"input_len", e.InputLen,
			"output_len", e.OutputLen,
			"duration", e.Duration,
		}
		if e.Degraded {
			log.WarnContext(ctx, "reply degraded", append(args, "error", e.Err)...)
			return
		}
		log.DebugContext(ctx, "reply served", args...)
	})
}
