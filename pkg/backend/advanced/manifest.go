// Package advanced serves a fine-tuned conversational model through a local
// Ollama runtime. The adapter directory carries a manifest describing the
// served model tag and its chat template.
package advanced

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/klarvia/pkg/reply"
)

// ManifestFile is the manifest name looked up inside an adapter directory.
const ManifestFile = "adapter.yaml"

// Manifest describes a fine-tuned adapter served by the runtime.
type Manifest struct {
	// Name is the model tag the runtime serves the merged adapter under.
	Name string `yaml:"name" validate:"required"`

	// Quantized is an optional tag for a 4-bit build of the same model.
	Quantized string `yaml:"quantized,omitempty"`

	// Adapter is the adapter weights file, relative to the manifest.
	Adapter string `yaml:"adapter,omitempty"`

	// Template renders []reply.Message into a prompt that ends with the
	// assistant turn.
	Template string `yaml:"template" validate:"required"`

	SpecialTokens []string `yaml:"special_tokens,omitempty" validate:"dive,required"`
	Stop          []string `yaml:"stop,omitempty" validate:"dive,required"`
	ContextLength int      `yaml:"context_length,omitempty" validate:"gte=0"`

	dir string
}

// ManifestPath returns the manifest location for a model path, which may be
// the adapter directory or the manifest itself.
func ManifestPath(modelPath string) (string, error) {
	st, err := os.Stat(modelPath)
	if err != nil {
		return "", err
	}
	if st.IsDir() {
		return filepath.Join(modelPath, ManifestFile), nil
	}
	return modelPath, nil
}

// LoadManifest reads and validates the manifest for modelPath.
func LoadManifest(modelPath string) (*Manifest, error) {
	path, err := ManifestPath(modelPath)
	if err != nil {
		return nil, fmt.Errorf("model path: %w", err)
	}
	data, err := os.ReadFile(path) //#nosec G304
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := validator.New().Struct(m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	m.dir = filepath.Dir(path)

	if m.Adapter != "" {
		if _, err := os.Stat(m.AdapterPath()); err != nil {
			return nil, fmt.Errorf("adapter weights: %w", err)
		}
	}
	return &m, nil
}

// AdapterPath returns the absolute location of the adapter weights, or ""
// when none are declared.
func (m *Manifest) AdapterPath() string {
	if m.Adapter == "" {
		return ""
	}
	if filepath.IsAbs(m.Adapter) {
		return m.Adapter
	}
	return filepath.Join(m.dir, m.Adapter)
}

// Tag returns the runtime model tag, preferring the quantized build when
// requested and available.
func (m *Manifest) Tag(quantize bool) string {
	if quantize && m.Quantized != "" {
		return m.Quantized
	}
	return m.Name
}

// chatTemplate renders chat messages with a Go template.
type chatTemplate struct {
	tmpl *template.Template
}

type templateData struct {
	Messages            []reply.Message
	AddGenerationPrompt bool
}

func compileTemplate(src string) (*chatTemplate, error) {
	tmpl, err := template.New("chat").Option("missingkey=error").Funcs(template.FuncMap{
		"trim": strings.TrimSpace,
	}).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse chat template: %w", err)
	}
	return &chatTemplate{tmpl: tmpl}, nil
}

func (c *chatTemplate) render(messages []reply.Message) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("no messages to render")
	}
	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, templateData{Messages: messages, AddGenerationPrompt: true}); err != nil {
		return "", fmt.Errorf("render chat template: %w", err)
	}
	return buf.String(), nil
}
