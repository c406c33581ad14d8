package reply

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPrecondition marks a probe whose backend is not available at all, as
// opposed to one that was available but failed to initialize.
var ErrPrecondition = errors.New("precondition not met")

// Stage names where a resolution attempt failed.
type Stage string

const (
	StagePrecondition Stage = "precondition"
	StageInit         Stage = "init"
)

// Probe checks and opens one backend kind. Implementations live next to the
// backends they build.
type Probe interface {
	Kind() Kind
	// Check is a cheap availability test that must not load anything.
	Check(cfg Config) error
	// Open initializes the backend and returns its strategy.
	Open(ctx context.Context, cfg Config) (Strategy, error)
}

// ProbeFuncs adapts a pair of functions into a Probe.
type ProbeFuncs struct {
	K         Kind
	CheckFunc func(cfg Config) error
	OpenFunc  func(ctx context.Context, cfg Config) (Strategy, error)
}

func (p ProbeFuncs) Kind() Kind { return p.K }

func (p ProbeFuncs) Check(cfg Config) error {
	if p.CheckFunc == nil {
		return nil
	}
	return p.CheckFunc(cfg)
}

func (p ProbeFuncs) Open(ctx context.Context, cfg Config) (Strategy, error) {
	if p.OpenFunc == nil {
		return nil, fmt.Errorf("%s: no open function", p.K)
	}
	return p.OpenFunc(ctx, cfg)
}

// LoaderFunc produces the configuration snapshot for a resolution.
type LoaderFunc func() (Config, error)

// StaticLoader returns a LoaderFunc that always yields cfg.
func StaticLoader(cfg Config) LoaderFunc {
	return func() (Config, error) { return cfg, nil }
}

// ResolutionError records why a backend kind could not be selected.
type ResolutionError struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Attempt is the outcome of trying one backend kind during resolution.
type Attempt struct {
	Kind     Kind          `json:"kind" yaml:"kind"`
	Backend  string        `json:"backend,omitempty" yaml:"backend,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Err      error         `json:"-" yaml:"-"`
}

// OK reports whether the attempt produced a strategy.
func (a Attempt) OK() bool { return a.Err == nil }
