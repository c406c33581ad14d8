package reply

import "context"

// Kind identifies a backend family.
type Kind int

const (
	KindRuleBased Kind = iota
	KindClassic
	KindAdvanced
	KindGeneric
)

// String returns the kind tag used in logs and reports.
func (k Kind) String() string {
	switch k {
	case KindRuleBased:
		return "rule-based"
	case KindClassic:
		return "classic"
	case KindAdvanced:
		return "advanced-lora"
	case KindGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// autoOrder is the descending-sophistication ladder used by HintAuto.
var autoOrder = []Kind{KindClassic, KindAdvanced, KindGeneric}

// Strategy is the resolved inference strategy. The set of implementations is
// closed: Advanced, Generic, Classic and RuleBased.
type Strategy interface {
	Kind() Kind
	// Backend names the handle behind the strategy, empty for RuleBased.
	Backend() string
	strategy()
}

// Advanced replies through a fine-tuned conversational model.
type Advanced struct {
	Model ChatModel
}

// Generic replies through a text-continuation pipeline.
type Generic struct {
	Pipeline Pipeline
}

// Classic replies with a single predicted label.
type Classic struct {
	Predictor Predictor
}

// RuleBased replies with keyword-matched canned responses.
type RuleBased struct{}

func (Advanced) Kind() Kind  { return KindAdvanced }
func (Generic) Kind() Kind   { return KindGeneric }
func (Classic) Kind() Kind   { return KindClassic }
func (RuleBased) Kind() Kind { return KindRuleBased }

func (s Advanced) Backend() string { return handleName(s.Model) }
func (s Generic) Backend() string  { return handleName(s.Pipeline) }
func (s Classic) Backend() string  { return handleName(s.Predictor) }
func (RuleBased) Backend() string  { return "" }

func (Advanced) strategy()  {}
func (Generic) strategy()   {}
func (Classic) strategy()   {}
func (RuleBased) strategy() {}

type named interface{ Name() string }

func handleName[T named](h T) string {
	if any(h) == nil {
		return ""
	}
	return h.Name()
}

// hasHandle reports whether a non-rule strategy carries its handle.
func hasHandle(s Strategy) bool {
	switch v := s.(type) {
	case Advanced:
		return v.Model != nil
	case Generic:
		return v.Pipeline != nil
	case Classic:
		return v.Predictor != nil
	case RuleBased:
		return true
	default:
		return false
	}
}

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    Role
	Content string
}

// Sampling holds per-call generation parameters.
type Sampling struct {
	Temperature  float64
	TopP         float64
	MaxNewTokens int
}

// Generation is the continuation produced by a ChatModel.
type Generation struct {
	Text         string
	PromptTokens int
	OutputTokens int
	DoneReason   string
}

// ChatModel is a conversational model with its own chat template.
type ChatModel interface {
	Name() string
	// RenderChat applies the model's chat template, ending with the
	// assistant generation prompt.
	RenderChat(messages []Message) (string, error)
	// Generate runs bounded generation on a rendered prompt and returns only
	// the newly generated text.
	Generate(ctx context.Context, prompt string, s Sampling) (Generation, error)
	// SpecialTokens lists control tokens to strip from decoded output.
	SpecialTokens() []string
}

// Pipeline is a generic text-continuation backend. Its output usually starts
// with the prompt.
type Pipeline interface {
	Name() string
	Continue(ctx context.Context, prompt string, maxNewTokens int) (string, error)
}

// Predictor is a classical single-shot model.
type Predictor interface {
	Name() string
	Predict(ctx context.Context, text string) (string, error)
}
