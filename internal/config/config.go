// Package config binds klarvia's settings to viper and decodes them into a
// validated reply.Config.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/jmylchreest/klarvia/pkg/artifact"
	"github.com/jmylchreest/klarvia/pkg/reply"
)

// EnvPrefix is the prefix of klarvia's own environment variables.
const EnvPrefix = "KLARVIA"

// binding maps a config key to the environment variables that set it, in
// order of precedence.
type binding struct {
	key string
	env []string
}

var bindings = []binding{
	{key: "implementation_hint", env: []string{"KLARVIA_MODEL_IMPL", "MODEL_IMPL"}},
	{key: "model_path", env: []string{"KLARVIA_MODEL_PATH", "MODEL_PATH", "UNSLOTH_MODEL_PATH"}},
	{key: "model_name", env: []string{"KLARVIA_MODEL_NAME", "MODEL_NAME"}},
	{key: "max_new_tokens", env: []string{"KLARVIA_MAX_NEW_TOKENS", "MAX_NEW_TOKENS"}},
	{key: "temperature", env: []string{"KLARVIA_TEMPERATURE", "TEMPERATURE"}},
	{key: "top_p", env: []string{"KLARVIA_TOP_P", "TOP_P"}},
	{key: "quantization", env: []string{"KLARVIA_LOAD_IN_4BIT", "LOAD_IN_4BIT"}},
	{key: "max_sequence_length", env: []string{"KLARVIA_MAX_SEQ_LENGTH", "MAX_SEQ_LENGTH"}},
	{key: "classic_model_path", env: []string{"KLARVIA_CLASSIC_MODEL_PATH", "SKLEARN_MODEL_PATH", "JOBLIB_PATH"}},
	{key: "artifact_index", env: []string{"KLARVIA_ARTIFACT_INDEX"}},
	{key: "artifact_cache_dir", env: []string{"KLARVIA_ARTIFACT_CACHE"}},
	{key: "runtime_host", env: []string{"KLARVIA_RUNTIME_HOST", "OLLAMA_HOST"}},
	{key: "generic_base_url", env: []string{"KLARVIA_GENERIC_BASE_URL"}},
	{key: "generic_api_key", env: []string{"KLARVIA_GENERIC_API_KEY", "OPENAI_API_KEY"}},
	{key: "device", env: []string{"KLARVIA_DEVICE"}},
	{key: "persona", env: []string{"KLARVIA_PERSONA"}},
	{key: "init_timeout", env: []string{"KLARVIA_INIT_TIMEOUT"}},
}

// Bind registers defaults and environment bindings on v.
func Bind(v *viper.Viper) {
	d := reply.DefaultConfig()
	v.SetDefault("implementation_hint", string(d.Hint))
	v.SetDefault("model_path", "")
	v.SetDefault("model_name", d.ModelName)
	v.SetDefault("max_new_tokens", 0)
	v.SetDefault("temperature", d.Temperature)
	v.SetDefault("top_p", d.TopP)
	v.SetDefault("quantization", d.Quantize)
	v.SetDefault("max_sequence_length", d.MaxSequenceLength)
	v.SetDefault("classic_model_path", "")
	v.SetDefault("artifact_index", "")
	v.SetDefault("artifact_cache_dir", artifact.DefaultCacheDir())
	v.SetDefault("runtime_host", d.RuntimeHost)
	v.SetDefault("generic_base_url", d.GenericBaseURL)
	v.SetDefault("generic_api_key", "")
	v.SetDefault("device", d.Device)
	v.SetDefault("persona", d.Persona)
	v.SetDefault("init_timeout", d.InitTimeout)

	for _, b := range bindings {
		_ = v.BindEnv(append([]string{b.key}, b.env...)...)
	}
}

// Keys returns every config key klarvia reads.
func Keys() []string {
	keys := make([]string, len(bindings))
	for i, b := range bindings {
		keys[i] = b.key
	}
	return keys
}

// EnvNames returns the environment variables that set key.
func EnvNames(key string) []string {
	for _, b := range bindings {
		if b.key == key {
			return b.env
		}
	}
	return nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (reply.Config, error) {
	var cfg reply.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return reply.Config{}, fmt.Errorf("decode configuration: %w", err)
	}

	cfg.Hint = reply.Hint(strings.ToLower(strings.TrimSpace(string(cfg.Hint))))
	cfg.Device = strings.ToLower(strings.TrimSpace(cfg.Device))
	cfg.RuntimeHost = normalizeHost(cfg.RuntimeHost)

	if err := validator.New().Struct(cfg); err != nil {
		return reply.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Loader returns a LoaderFunc that reads v on each call.
func Loader(v *viper.Viper) reply.LoaderFunc {
	return func() (reply.Config, error) {
		return Load(v)
	}
}

// normalizeHost accepts the bare host:port form OLLAMA_HOST is often set to.
func normalizeHost(h string) string {
	h = strings.TrimSpace(h)
	if h == "" || strings.Contains(h, "://") {
		return h
	}
	if strings.HasPrefix(h, "0.0.0.0") {
		h = "127.0.0.1" + strings.TrimPrefix(h, "0.0.0.0")
	}
	if !strings.Contains(h, ":") {
		h += ":11434"
	}
	return "http://" + h
}
