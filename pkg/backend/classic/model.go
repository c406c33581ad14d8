// Package classic implements single-shot text classification with a
// multinomial naive Bayes model loaded from a JSON or YAML artifact.
package classic

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Label is one class of the model.
type Label struct {
	Label    string             `json:"label" yaml:"label" validate:"required"`
	LogPrior float64            `json:"log_prior" yaml:"log_prior" validate:"lte=0"`
	LogProbs map[string]float64 `json:"log_probs" yaml:"log_probs"`
}

// Model is a trained naive Bayes text classifier.
type Model struct {
	ModelName      string  `json:"name,omitempty" yaml:"name,omitempty"`
	Labels         []Label `json:"labels" yaml:"labels" validate:"required,min=1,dive"`
	UnknownLogProb float64 `json:"unknown_log_prob" yaml:"unknown_log_prob" validate:"lte=0"`
	Lowercase      bool    `json:"lowercase" yaml:"lowercase"`
}

// Load reads a model artifact. Files ending in .yaml or .yml are parsed as
// YAML, anything else as JSON.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path) //#nosec G304
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}

	var m Model
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	default:
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("parse model %s: %w", filepath.Base(path), err)
	}

	if m.ModelName == "" {
		m.ModelName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the model structure.
func (m *Model) Validate() error {
	if err := validator.New().Struct(m); err != nil {
		return fmt.Errorf("invalid model: %w", err)
	}
	seen := make(map[string]bool, len(m.Labels))
	for _, l := range m.Labels {
		if seen[l.Label] {
			return fmt.Errorf("invalid model: duplicate label %q", l.Label)
		}
		seen[l.Label] = true
		for tok, p := range l.LogProbs {
			if p > 0 || math.IsNaN(p) {
				return fmt.Errorf("invalid model: label %q token %q has log probability %v", l.Label, tok, p)
			}
		}
	}
	return nil
}

// Name returns the model name.
func (m *Model) Name() string {
	return "naive-bayes:" + m.ModelName
}

// Predict returns the most likely label for text. Ties go to the label
// declared first.
func (m *Model) Predict(_ context.Context, text string) (string, error) {
	scores := m.Scores(text)
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return m.Labels[best].Label, nil
}

// Scores returns the log score of each label, in declaration order.
func (m *Model) Scores(text string) []float64 {
	tokens := m.tokenize(text)
	scores := make([]float64, len(m.Labels))
	for i, l := range m.Labels {
		s := l.LogPrior
		for _, tok := range tokens {
			if p, ok := l.LogProbs[tok]; ok {
				s += p
			} else {
				s += m.UnknownLogProb
			}
		}
		scores[i] = s
	}
	return scores
}

func (m *Model) tokenize(text string) []string {
	if m.Lowercase {
		text = strings.ToLower(text)
	}
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
