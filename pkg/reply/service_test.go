package reply

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jmylchreest/klarvia/internal/logger"
)

type fakeChatModel struct {
	text      string
	err       error
	panicMsg  string
	tokens    []string
	rendered  []Message
	sampling  Sampling
	renderErr error
}

func (f *fakeChatModel) Name() string { return "fake-chat" }

func (f *fakeChatModel) RenderChat(messages []Message) (string, error) {
	f.rendered = messages
	if f.renderErr != nil {
		return "", f.renderErr
	}
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(string(m.Role) + ": " + m.Content + "\n")
	}
	b.WriteString("assistant: ")
	return b.String(), nil
}

func (f *fakeChatModel) Generate(_ context.Context, _ string, s Sampling) (Generation, error) {
	f.sampling = s
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return Generation{}, f.err
	}
	return Generation{Text: f.text, DoneReason: "stop"}, nil
}

func (f *fakeChatModel) SpecialTokens() []string { return f.tokens }

// serviceWith returns a service already resolved to strategy s.
func serviceWith(s Strategy, opts ...Option) *Service {
	var probe Probe
	hint := HintAuto
	if k := s.Kind(); k != KindRuleBased {
		probe = ProbeFuncs{K: k, OpenFunc: func(context.Context, Config) (Strategy, error) { return s, nil }}
		switch k {
		case KindAdvanced:
			hint = HintAdvanced
		case KindGeneric:
			hint = HintGeneric
		case KindClassic:
			hint = HintClassic
		}
	}
	return NewService(NewResolver(StaticLoader(hintConfig(hint)), probe), opts...)
}

// --- Input validation ---

func TestReply_Scenario_NoBackends(t *testing.T) {
	svc := NewService(NewResolver(StaticLoader(DefaultConfig())))
	ctx := context.Background()

	if svc.Ready() {
		t.Fatal("should not be ready before the first reply")
	}

	tests := []struct {
		input any
		want  string
	}{
		{input: "Hi there", want: GreetingReply},
		{input: "", want: EmptyInputReply},
		{input: "   \t\n", want: EmptyInputReply},
		{input: 42, want: NonTextReply},
		{input: nil, want: NonTextReply},
		{input: []byte("hello"), want: NonTextReply},
	}
	for _, tt := range tests {
		if got := svc.Reply(ctx, tt.input); got != tt.want {
			t.Errorf("Reply(%#v) = %q, want %q", tt.input, got, tt.want)
		}
	}

	if !svc.Ready() {
		t.Error("should be ready after the first reply")
	}
}

func TestReply_NonStringFirstCallStillResolves(t *testing.T) {
	svc := NewService(NewResolver(StaticLoader(DefaultConfig())))

	if got := svc.Reply(context.Background(), 3.14); got != NonTextReply {
		t.Fatalf("unexpected reply %q", got)
	}
	if !svc.Ready() {
		t.Error("readiness should hold after any first call")
	}
}

// --- Rule-based ---

func TestRuleReply(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "hello", text: "hello", want: GreetingReply},
		{name: "hey with punctuation", text: "Hey!", want: GreetingReply},
		{name: "hi mid sentence", text: "well hi there", want: GreetingReply},
		{name: "help", text: "I need help", want: SupportReply},
		{name: "support uppercase", text: "SUPPORT please", want: SupportReply},
		{name: "greeting before support", text: "hello, can you help?", want: GreetingReply},
		{name: "echo", text: "xyz123", want: "You said: 'xyz123'. Tell me more about that."},
		{name: "greeting inside word", text: "hiya", want: GreetingReply},
		{name: "stretched greeting", text: "Heyyy", want: GreetingReply},
		{name: "support inside word", text: "I feel helpless", want: SupportReply},
		{name: "supportive", text: "supportive friends?", want: SupportReply},
		{name: "greeting substring wins", text: "this is helpful", want: GreetingReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RuleReply(tt.text); got != tt.want {
				t.Errorf("RuleReply(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestStripTokens(t *testing.T) {
	got := StripTokens("<|im_start|>Hello there<|im_end|></s>", []string{"<|im_start|>", "<|im_end|>", "</s>", ""})
	if got != "Hello there" {
		t.Errorf("StripTokens = %q", got)
	}
	if StripTokens("keep", nil) != "keep" {
		t.Error("no tokens should leave input unchanged")
	}
}

// --- Advanced ---

func TestReply_Advanced(t *testing.T) {
	model := &fakeChatModel{
		text:   "  That sounds hard.<|eot_id|> ",
		tokens: []string{"<|eot_id|>"},
	}
	svc := serviceWith(Advanced{Model: model})

	got := svc.Reply(context.Background(), "  I feel low  ")
	if got != "That sounds hard." {
		t.Errorf("unexpected reply %q", got)
	}
	if len(model.rendered) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(model.rendered))
	}
	if model.rendered[0].Role != RoleSystem || model.rendered[0].Content != DefaultPersona {
		t.Errorf("unexpected system message %+v", model.rendered[0])
	}
	if model.rendered[1].Role != RoleUser || model.rendered[1].Content != "I feel low" {
		t.Errorf("unexpected user message %+v", model.rendered[1])
	}
	want := Sampling{Temperature: DefaultTemperature, TopP: DefaultTopP, MaxNewTokens: AdvancedMaxNewTokens}
	if model.sampling != want {
		t.Errorf("sampling = %+v, want %+v", model.sampling, want)
	}
}

func TestReply_AdvancedEmptyOutput(t *testing.T) {
	svc := serviceWith(Advanced{Model: &fakeChatModel{text: " <|eot_id|> ", tokens: []string{"<|eot_id|>"}}})

	if got := svc.Reply(context.Background(), "anything"); got != EmptyAdvancedReply {
		t.Errorf("expected warm fallback line, got %q", got)
	}
}

func TestReply_AdvancedMaxNewTokensOverride(t *testing.T) {
	model := &fakeChatModel{text: "ok"}
	cfg := hintConfig(HintAdvanced)
	cfg.MaxNewTokens = 32
	probe := ProbeFuncs{K: KindAdvanced, OpenFunc: func(context.Context, Config) (Strategy, error) {
		return Advanced{Model: model}, nil
	}}
	svc := NewService(NewResolver(StaticLoader(cfg), probe))

	svc.Reply(context.Background(), "hi")
	if model.sampling.MaxNewTokens != 32 {
		t.Errorf("expected 32 new tokens, got %d", model.sampling.MaxNewTokens)
	}
}

// --- Generic ---

func TestReply_Generic(t *testing.T) {
	tests := []struct {
		name  string
		input string
		out   string
		want  string
	}{
		{name: "echo prefix stripped", input: "Tell me a story", out: "Tell me a story about a fox.", want: "about a fox."},
		{name: "raw output kept", input: "Tell me a story", out: "Once upon a time", want: "Once upon a time"},
		{name: "partial echo kept raw", input: "Tell me a story", out: "tell me a story twice", want: "tell me a story twice"},
		{name: "only echo is rule-based", input: "hello", out: "hello   ", want: GreetingReply},
		{name: "empty is rule-based", input: "xyz", out: "", want: "You said: 'xyz'. Tell me more about that."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := serviceWith(Generic{Pipeline: &fakePipeline{out: tt.out}})
			if got := svc.Reply(context.Background(), tt.input); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// --- Classic ---

func TestReply_Classic(t *testing.T) {
	tests := []struct {
		name  string
		label string
		want  string
	}{
		{name: "label", label: " anxiety\n", want: "anxiety"},
		{name: "empty label is rule-based", label: "  ", want: SupportReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := serviceWith(Classic{Predictor: &fakePredictor{label: tt.label}})
			if got := svc.Reply(context.Background(), "please help"); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// --- Soft degradation ---

func TestReply_SoftDegradation(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
	}{
		{name: "advanced error", strategy: Advanced{Model: &fakeChatModel{err: errors.New("runtime busy")}}},
		{name: "advanced render error", strategy: Advanced{Model: &fakeChatModel{renderErr: errors.New("bad template")}}},
		{name: "advanced panic", strategy: Advanced{Model: &fakeChatModel{panicMsg: "cuda oom"}}},
		{name: "generic error", strategy: Generic{Pipeline: &fakePipeline{err: errors.New("503")}}},
		{name: "classic error", strategy: Classic{Predictor: &fakePredictor{err: errors.New("bad input")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []CallEvent
			svc := serviceWith(tt.strategy, WithObserver(ObserverFunc(func(_ context.Context, e CallEvent) {
				events = append(events, e)
			})))

			if got := svc.Reply(context.Background(), "hello"); got != GreetingReply {
				t.Errorf("expected rule-based greeting, got %q", got)
			}
			if kind := svc.Resolver().Strategy().Kind(); kind != tt.strategy.Kind() {
				t.Errorf("strategy demoted to %s", kind)
			}
			if len(events) != 1 || !events[0].Degraded || events[0].Err == nil {
				t.Errorf("expected one degraded event, got %+v", events)
			}
		})
	}
}

func TestReply_RetriesBackendAfterFailure(t *testing.T) {
	pipe := &fakePipeline{err: errors.New("transient")}
	svc := serviceWith(Generic{Pipeline: pipe})
	ctx := context.Background()

	if got := svc.Reply(ctx, "xyz"); got != "You said: 'xyz'. Tell me more about that." {
		t.Fatalf("expected degraded reply, got %q", got)
	}
	pipe.err = nil
	pipe.out = "recovered"
	if got := svc.Reply(ctx, "xyz"); got != "recovered" {
		t.Errorf("expected backend reply on retry, got %q", got)
	}
	if pipe.calls.Load() != 2 {
		t.Errorf("expected 2 backend calls, got %d", pipe.calls.Load())
	}
}

// --- Observer ---

func TestReply_ObserverEvents(t *testing.T) {
	var mu sync.Mutex
	var seen []CallEvent
	record := ObserverFunc(func(_ context.Context, e CallEvent) {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	})
	var second int
	multi := NewMultiObserver(record, nil, ObserverFunc(func(context.Context, CallEvent) { second++ }))

	svc := serviceWith(Classic{Predictor: &fakePredictor{label: "grief"}}, WithObserver(multi))
	ctx := context.Background()
	svc.Reply(ctx, "I lost someone")
	svc.Reply(ctx, "")
	svc.Reply(ctx, 7)

	if len(seen) != 1 {
		t.Fatalf("expected only dispatched calls to be observed, got %d", len(seen))
	}
	e := seen[0]
	if e.Strategy != KindClassic || e.Backend != "fake-predictor" || e.Degraded {
		t.Errorf("unexpected event %+v", e)
	}
	if e.OutputLen != len("grief") {
		t.Errorf("expected output length %d, got %d", len("grief"), e.OutputLen)
	}
	if second != 1 {
		t.Errorf("second observer saw %d events", second)
	}
}

func TestReply_ObserverPanicDoesNotEscape(t *testing.T) {
	svc := serviceWith(Classic{Predictor: &fakePredictor{label: "grief"}}, WithObserver(
		ObserverFunc(func(context.Context, CallEvent) { panic("observer broke") }),
	))

	for range 2 {
		if got := svc.Reply(context.Background(), "I lost someone"); got != "grief" {
			t.Errorf("expected backend reply despite observer panic, got %q", got)
		}
	}
}

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	logger.Init(logger.Options{Debug: true, Output: &buf})
	t.Cleanup(func() { logger.Init(logger.Options{}) })

	obs := LogObserver()
	ctx := context.Background()
	obs.OnReply(ctx, CallEvent{Strategy: KindGeneric, Backend: "tiny", OutputLen: 5})
	obs.OnReply(ctx, CallEvent{Strategy: KindClassic, Degraded: true, Err: errors.New("bad input")})

	out := buf.String()
	for _, want := range []string{"reply served", "backend=tiny", "reply degraded", "bad input"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in log output:\n%s", want, out)
		}
	}
}

func TestReply_Concurrent(t *testing.T) {
	pipe := &fakePipeline{out: "steady"}
	svc := serviceWith(Generic{Pipeline: pipe})

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := svc.ReplyText(context.Background(), "go"); got != "steady" {
				t.Errorf("unexpected reply %q", got)
			}
		}()
	}
	wg.Wait()
}

// --- Hint ---

func TestParseHint(t *testing.T) {
	tests := []struct {
		in    string
		want  Hint
		known bool
	}{
		{in: "", want: HintAuto, known: true},
		{in: "AUTO", want: HintAuto, known: true},
		{in: "unsloth", want: HintAdvanced, known: true},
		{in: " transformers ", want: HintGeneric, known: true},
		{in: "sklearn", want: HintClassic, known: true},
		{in: "joblib", want: HintClassic, known: true},
		{in: "quantum", want: HintAuto, known: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, known := ParseHint(tt.in)
			if got != tt.want || known != tt.known {
				t.Errorf("ParseHint(%q) = %q, %v; want %q, %v", tt.in, got, known, tt.want, tt.known)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	want := map[Kind]string{
		KindRuleBased: "rule-based",
		KindClassic:   "classic",
		KindAdvanced:  "advanced-lora",
		KindGeneric:   "generic",
		Kind(99):      "unknown",
	}
	for k, s := range want {
		if k.String() != s {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), k.String(), s)
		}
	}
}
