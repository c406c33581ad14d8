// Package reply turns a line of user text into a reply string. It resolves
// an inference strategy once per process, from a fine-tuned chat model down
// to keyword rules, and degrades to the rules whenever a backend fails.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmylchreest/klarvia/internal/logger"
)

// Service produces replies. A single Service is shared by all callers.
type Service struct {
	resolver *Resolver
	observer Observer
}

// Option configures a Service.
type Option func(*Service)

// WithObserver sets the observer notified after each dispatched reply.
func WithObserver(obs Observer) Option {
	return func(s *Service) {
		s.observer = obs
	}
}

// NewService creates a Service over r.
func NewService(r *Resolver, opts ...Option) *Service {
	s := &Service{resolver: r}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolver returns the resolver behind the service.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Ready reports whether the strategy has been resolved.
func (s *Service) Ready() bool {
	return s.resolver.Ready()
}

// Warm resolves the strategy ahead of the first reply.
func (s *Service) Warm(ctx context.Context) Strategy {
	return s.resolver.Resolve(ctx)
}

// Reply returns a displayable reply for input. It never fails; inputs that
// are not strings get a fixed apology.
func (s *Service) Reply(ctx context.Context, input any) string {
	strategy, cfg := s.resolver.resolve(ctx)

	raw, ok := input.(string)
	if !ok {
		return NonTextReply
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return EmptyInputReply
	}

	start := time.Now()
	out, err := s.dispatch(ctx, strategy, cfg, text)
	degraded := err != nil
	if degraded {
		logger.Component("reply").ErrorContext(ctx, "inference failed, using rule-based reply",
			"strategy", strategy.Kind().String(),
			"error", err,
		)
		out = RuleReply(text)
	}

	s.notify(ctx, CallEvent{
		Strategy:  strategy.Kind(),
		Backend:   strategy.Backend(),
		InputLen:  len(text),
		OutputLen: len(out),
		Degraded:  degraded,
		Err:       err,
		Duration:  time.Since(start),
		StartedAt: start,
	})
	return out
}

// notify delivers ev to the observer. A panicking observer is logged and
// never affects the reply.
func (s *Service) notify(ctx context.Context, ev CallEvent) {
	if s.observer == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.Component("reply").ErrorContext(ctx, "observer panic", "panic", fmt.Sprint(rec))
		}
	}()
	s.observer.OnReply(ctx, ev)
}

// ReplyText is Reply for callers that already hold a string.
func (s *Service) ReplyText(ctx context.Context, text string) string {
	return s.Reply(ctx, text)
}

func (s *Service) dispatch(ctx context.Context, strategy Strategy, cfg Config, text string) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = "", fmt.Errorf("%s backend panic: %v", strategy.Kind(), rec)
		}
	}()

	switch st := strategy.(type) {
	case Advanced:
		return advancedReply(ctx, st.Model, cfg, text)
	case Generic:
		return genericReply(ctx, st.Pipeline, cfg, text)
	case Classic:
		return classicReply(ctx, st.Predictor, text)
	case RuleBased:
		return RuleReply(text), nil
	default:
		return "", errors.New("unknown strategy")
	}
}

func advancedReply(ctx context.Context, m ChatModel, cfg Config, text string) (string, error) {
	persona := cfg.Persona
	if persona == "" {
		persona = DefaultPersona
	}
	prompt, err := m.RenderChat([]Message{
		{Role: RoleSystem, Content: persona},
		{Role: RoleUser, Content: text},
	})
	if err != nil {
		return "", fmt.Errorf("render chat: %w", err)
	}

	gen, err := m.Generate(ctx, prompt, Sampling{
		Temperature:  cfg.Temperature,
		TopP:         cfg.TopP,
		MaxNewTokens: cfg.NewTokens(AdvancedMaxNewTokens),
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	out := strings.TrimSpace(StripTokens(gen.Text, m.SpecialTokens()))
	if out == "" {
		return EmptyAdvancedReply, nil
	}
	return out, nil
}

func genericReply(ctx context.Context, p Pipeline, cfg Config, text string) (string, error) {
	gen, err := p.Continue(ctx, text, cfg.NewTokens(GenericMaxNewTokens))
	if err != nil {
		return "", fmt.Errorf("continue: %w", err)
	}
	out := stripEcho(strings.TrimSpace(gen), text)
	if out == "" {
		return RuleReply(text), nil
	}
	return out, nil
}

func classicReply(ctx context.Context, p Predictor, text string) (string, error) {
	label, err := p.Predict(ctx, text)
	if err != nil {
		return "", fmt.Errorf("predict: %w", err)
	}
	out := strings.TrimSpace(label)
	if out == "" {
		return RuleReply(text), nil
	}
	return out, nil
}
