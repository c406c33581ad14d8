// Package generic provides a text-continuation pipeline served by any
// OpenAI-compatible completions endpoint (vLLM, TGI, llama.cpp server).
package generic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/jmylchreest/klarvia/internal/logger"
	"github.com/jmylchreest/klarvia/internal/version"
	"github.com/jmylchreest/klarvia/pkg/backend/device"
	"github.com/jmylchreest/klarvia/pkg/reply"
)

// Pipeline continues text with a named model. Its output starts with the
// prompt, the way a local text-generation pipeline returns it.
type Pipeline struct {
	client      openai.Client
	model       string
	temperature float64
	topP        float64
}

// Name returns the model identifier.
func (p *Pipeline) Name() string { return p.model }

// Continue generates up to maxNewTokens tokens after prompt.
func (p *Pipeline) Continue(ctx context.Context, prompt string, maxNewTokens int) (string, error) {
	params := openai.CompletionNewParams{
		Model:       openai.CompletionNewParamsModel(p.model),
		Prompt:      openai.CompletionNewParamsPromptUnion{OfString: openai.String(prompt)},
		Echo:        openai.Bool(true),
		Temperature: openai.Float(p.temperature),
		TopP:        openai.Float(p.topP),
	}
	if maxNewTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxNewTokens))
	}

	resp, err := p.client.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("completion for model %s: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion choices returned")
	}
	return resp.Choices[0].Text, nil
}

// Probe opens the generic backend.
type Probe struct {
	httpClient *http.Client
	maxRetries int
}

// ProbeOption configures a Probe.
type ProbeOption func(*Probe)

// WithHTTPClient sets the client used to reach the endpoint.
func WithHTTPClient(c *http.Client) ProbeOption {
	return func(p *Probe) { p.httpClient = c }
}

// WithMaxRetries sets how often a failed request is retried.
func WithMaxRetries(n int) ProbeOption {
	return func(p *Probe) { p.maxRetries = n }
}

// NewProbe returns the generic probe.
func NewProbe(opts ...ProbeOption) *Probe {
	p := &Probe{maxRetries: 2}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Probe) Kind() reply.Kind { return reply.KindGeneric }

// Check requires a model identifier and endpoint.
func (p *Probe) Check(cfg reply.Config) error {
	if cfg.ModelName == "" {
		return fmt.Errorf("%w: no model name configured", reply.ErrPrecondition)
	}
	if cfg.GenericBaseURL == "" {
		return fmt.Errorf("%w: no completions endpoint configured", reply.ErrPrecondition)
	}
	return nil
}

// Open connects to the endpoint and confirms it serves the model.
func (p *Probe) Open(ctx context.Context, cfg reply.Config) (reply.Strategy, error) {
	baseURL := cfg.GenericBaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	apiKey := cfg.GenericAPIKey
	if apiKey == "" {
		// Self-hosted servers usually ignore the key but the client requires one.
		apiKey = "klarvia"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(p.maxRetries),
		option.WithHeader("User-Agent", version.UserAgent()),
	}
	if p.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(p.httpClient))
	}
	client := openai.NewClient(opts...)

	if _, err := client.Models.Get(ctx, cfg.ModelName); err != nil {
		return nil, fmt.Errorf("model %s not served at %s: %w", cfg.ModelName, cfg.GenericBaseURL, err)
	}

	logger.Component("generic").Info("generic pipeline ready",
		"model", cfg.ModelName,
		"endpoint", cfg.GenericBaseURL,
		"device", device.Detect(cfg.Device).String(),
	)
	return reply.Generic{Pipeline: &Pipeline{
		client:      client,
		model:       cfg.ModelName,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
	}}, nil
}
