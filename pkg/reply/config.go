package reply

import (
	"strings"
	"time"
)

// Hint selects how the resolver picks a backend.
type Hint string

const (
	HintAuto     Hint = "auto"
	HintAdvanced Hint = "advanced"
	HintGeneric  Hint = "generic"
	HintClassic  Hint = "classic"
)

// hintAliases maps the older implementation names onto hints.
var hintAliases = map[string]Hint{
	"auto":         HintAuto,
	"":             HintAuto,
	"advanced":     HintAdvanced,
	"unsloth":      HintAdvanced,
	"lora":         HintAdvanced,
	"generic":      HintGeneric,
	"transformers": HintGeneric,
	"classic":      HintClassic,
	"sklearn":      HintClassic,
	"joblib":       HintClassic,
}

// ParseHint normalizes an implementation hint. The boolean is false when the
// value is not recognized, in which case HintAuto is returned.
func ParseHint(s string) (Hint, bool) {
	h, ok := hintAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return HintAuto, false
	}
	return h, true
}

// Kind returns the backend kind an explicit hint names. The boolean is false
// for HintAuto.
func (h Hint) Kind() (Kind, bool) {
	switch h {
	case HintAdvanced:
		return KindAdvanced, true
	case HintGeneric:
		return KindGeneric, true
	case HintClassic:
		return KindClassic, true
	default:
		return KindRuleBased, false
	}
}

// Defaults.
const (
	DefaultModelName         = "sshleifer/tiny-gpt2"
	DefaultTemperature       = 0.7
	DefaultTopP              = 0.9
	DefaultMaxSequenceLength = 4096
	DefaultRuntimeHost       = "http://localhost:11434"
	DefaultGenericBaseURL    = "http://localhost:8000/v1"
	DefaultPersona           = "You are a warm, empathetic counsellor named Klarvia."
	DefaultInitTimeout       = 30 * time.Second

	// AdvancedMaxNewTokens and GenericMaxNewTokens apply when
	// Config.MaxNewTokens is zero.
	AdvancedMaxNewTokens = 200
	GenericMaxNewTokens  = 60
)

// Config is the read-only option snapshot a resolution runs against.
type Config struct {
	Hint              Hint          `json:"implementation_hint" yaml:"implementation_hint" mapstructure:"implementation_hint"`
	ModelPath         string        `json:"model_path,omitempty" yaml:"model_path,omitempty" mapstructure:"model_path"`
	ModelName         string        `json:"model_name" yaml:"model_name" mapstructure:"model_name" validate:"required"`
	MaxNewTokens      int           `json:"max_new_tokens" yaml:"max_new_tokens" mapstructure:"max_new_tokens" validate:"gte=0"`
	Temperature       float64       `json:"temperature" yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
	TopP              float64       `json:"top_p" yaml:"top_p" mapstructure:"top_p" validate:"gt=0,lte=1"`
	Quantize          bool          `json:"quantization" yaml:"quantization" mapstructure:"quantization"`
	MaxSequenceLength int           `json:"max_sequence_length" yaml:"max_sequence_length" mapstructure:"max_sequence_length" validate:"gt=0"`
	ClassicModelPath  string        `json:"classic_model_path,omitempty" yaml:"classic_model_path,omitempty" mapstructure:"classic_model_path"`
	ArtifactIndex     string        `json:"artifact_index,omitempty" yaml:"artifact_index,omitempty" mapstructure:"artifact_index"`
	ArtifactCacheDir  string        `json:"artifact_cache_dir,omitempty" yaml:"artifact_cache_dir,omitempty" mapstructure:"artifact_cache_dir"`
	RuntimeHost       string        `json:"runtime_host" yaml:"runtime_host" mapstructure:"runtime_host" validate:"required,url"`
	GenericBaseURL    string        `json:"generic_base_url" yaml:"generic_base_url" mapstructure:"generic_base_url" validate:"required,url"`
	GenericAPIKey     string        `json:"-" yaml:"-" mapstructure:"generic_api_key"`
	Device            string        `json:"device" yaml:"device" mapstructure:"device" validate:"omitempty,oneof=auto cpu cuda metal"`
	Persona           string        `json:"persona" yaml:"persona" mapstructure:"persona" validate:"required"`
	InitTimeout       time.Duration `json:"init_timeout" yaml:"init_timeout" mapstructure:"init_timeout" validate:"gte=0"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Hint:              HintAuto,
		ModelName:         DefaultModelName,
		Temperature:       DefaultTemperature,
		TopP:              DefaultTopP,
		Quantize:          true,
		MaxSequenceLength: DefaultMaxSequenceLength,
		RuntimeHost:       DefaultRuntimeHost,
		GenericBaseURL:    DefaultGenericBaseURL,
		Device:            "auto",
		Persona:           DefaultPersona,
		InitTimeout:       DefaultInitTimeout,
	}
}

// NewTokens returns the generation bound for a backend, falling back to def
// when MaxNewTokens is unset.
func (c Config) NewTokens(def int) int {
	if c.MaxNewTokens > 0 {
		return c.MaxNewTokens
	}
	return def
}
