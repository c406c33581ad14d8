package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/klarvia/internal/logger"
)

// Resolver picks the inference strategy once and caches it. It is safe for
// concurrent use; callers arriving during the first resolution block until it
// completes.
type Resolver struct {
	load   LoaderFunc
	probes map[Kind]Probe

	mu       sync.Mutex
	strategy Strategy
	cfg      Config
	attempts []Attempt
	ready    atomic.Bool
}

// NewResolver creates a resolver over the given probes. When two probes
// report the same kind the later one wins.
func NewResolver(load LoaderFunc, probes ...Probe) *Resolver {
	if load == nil {
		load = StaticLoader(DefaultConfig())
	}
	r := &Resolver{
		load:   load,
		probes: make(map[Kind]Probe, len(probes)),
	}
	for _, p := range probes {
		if p == nil {
			continue
		}
		r.probes[p.Kind()] = p
	}
	return r
}

// Resolve returns the cached strategy, resolving it on the first call.
// Resolution never fails; when nothing else works the result is RuleBased.
func (r *Resolver) Resolve(ctx context.Context) Strategy {
	s, _ := r.resolve(ctx)
	return s
}

// Ready reports whether resolution has completed. It never blocks.
func (r *Resolver) Ready() bool {
	return r.ready.Load()
}

// Strategy returns the resolved strategy, or nil before resolution.
func (r *Resolver) Strategy() Strategy {
	if !r.ready.Load() {
		return nil
	}
	return r.strategy
}

// Config returns the configuration snapshot the resolution used. The zero
// Config is returned before resolution.
func (r *Resolver) Config() Config {
	if !r.ready.Load() {
		return Config{}
	}
	return r.cfg
}

// Attempts returns the recorded outcome of each probe tried.
func (r *Resolver) Attempts() []Attempt {
	if !r.ready.Load() {
		return nil
	}
	out := make([]Attempt, len(r.attempts))
	copy(out, r.attempts)
	return out
}

func (r *Resolver) resolve(ctx context.Context) (Strategy, Config) {
	if r.ready.Load() {
		return r.strategy, r.cfg
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready.Load() {
		return r.strategy, r.cfg
	}

	log := logger.Component("resolver")
	ctx = context.WithoutCancel(ctx)

	cfg, err := r.load()
	if err != nil {
		log.Warn("configuration unavailable, using rule-based replies", "error", err)
		r.settle(log, RuleBased{}, DefaultConfig())
		return r.strategy, r.cfg
	}

	hint, known := ParseHint(string(cfg.Hint))
	if !known {
		log.Warn("unknown implementation hint, falling back to auto", "hint", cfg.Hint)
	}
	cfg.Hint = hint

	if kind, explicit := hint.Kind(); explicit {
		s := r.try(ctx, log, kind, cfg)
		if s == nil {
			s = RuleBased{}
		}
		r.settle(log, s, cfg)
		return r.strategy, r.cfg
	}

	for _, kind := range autoOrder {
		if s := r.try(ctx, log, kind, cfg); s != nil {
			r.settle(log, s, cfg)
			return r.strategy, r.cfg
		}
	}
	r.settle(log, RuleBased{}, cfg)
	return r.strategy, r.cfg
}

func (r *Resolver) settle(log *slog.Logger, s Strategy, cfg Config) {
	r.strategy = s
	r.cfg = cfg
	log.Info("inference strategy resolved",
		"strategy", s.Kind().String(),
		"backend", s.Backend(),
		"hint", string(cfg.Hint),
		"attempts", len(r.attempts),
	)
	r.ready.Store(true)
}

// try runs one probe and records the attempt. It returns nil on failure.
func (r *Resolver) try(ctx context.Context, log *slog.Logger, kind Kind, cfg Config) Strategy {
	start := time.Now()
	s, err := r.open(ctx, kind, cfg)
	a := Attempt{Kind: kind, Duration: time.Since(start), Err: err}
	if err != nil {
		r.attempts = append(r.attempts, a)
		log.Warn("backend unavailable", "kind", kind.String(), "error", err)
		return nil
	}
	a.Backend = s.Backend()
	r.attempts = append(r.attempts, a)
	log.Info("backend initialized", "kind", kind.String(), "backend", a.Backend, "duration", a.Duration)
	return s
}

func (r *Resolver) open(ctx context.Context, kind Kind, cfg Config) (s Strategy, err error) {
	p, ok := r.probes[kind]
	if !ok {
		return nil, &ResolutionError{Kind: kind, Stage: StagePrecondition, Err: fmt.Errorf("%w: no probe registered", ErrPrecondition)}
	}

	stage := StagePrecondition
	defer func() {
		if rec := recover(); rec != nil {
			s = nil
			err = &ResolutionError{Kind: kind, Stage: stage, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	if err := p.Check(cfg); err != nil {
		if !errors.Is(err, ErrPrecondition) {
			err = fmt.Errorf("%w: %w", ErrPrecondition, err)
		}
		return nil, &ResolutionError{Kind: kind, Stage: StagePrecondition, Err: err}
	}

	stage = StageInit
	if cfg.InitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.InitTimeout)
		defer cancel()
	}

	s, err = p.Open(ctx, cfg)
	if err != nil {
		return nil, &ResolutionError{Kind: kind, Stage: StageInit, Err: err}
	}
	if s == nil || s.Kind() != kind || !hasHandle(s) {
		return nil, &ResolutionError{Kind: kind, Stage: StageInit, Err: errors.New("probe returned an unusable strategy")}
	}
	return s, nil
}
