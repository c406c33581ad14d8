package advanced

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/jmylchreest/klarvia/internal/logger"
	"github.com/jmylchreest/klarvia/pkg/backend/device"
	"github.com/jmylchreest/klarvia/pkg/reply"
)

// Model is a reply.ChatModel backed by an Ollama runtime.
type Model struct {
	client   *api.Client
	tag      string
	manifest *Manifest
	tmpl     *chatTemplate
	device   device.Device
	numCtx   int
}

// Name returns the served model tag.
func (m *Model) Name() string { return m.tag }

// Device returns the device generation runs on.
func (m *Model) Device() device.Device { return m.device }

// SpecialTokens returns the control tokens declared by the manifest.
func (m *Model) SpecialTokens() []string { return m.manifest.SpecialTokens }

// RenderChat applies the manifest chat template.
func (m *Model) RenderChat(messages []reply.Message) (string, error) {
	return m.tmpl.render(messages)
}

// Generate runs bounded generation on a rendered prompt. The prompt is sent
// raw so the runtime does not apply a template of its own.
func (m *Model) Generate(ctx context.Context, prompt string, s reply.Sampling) (reply.Generation, error) {
	stream := false
	opts := map[string]any{
		"temperature": s.Temperature,
		"top_p":       s.TopP,
		"num_predict": s.MaxNewTokens,
		"num_ctx":     m.numCtx,
	}
	if len(m.manifest.Stop) > 0 {
		opts["stop"] = m.manifest.Stop
	}
	if !m.device.Accelerated() {
		opts["num_gpu"] = 0
	}

	req := &api.GenerateRequest{
		Model:   m.tag,
		Prompt:  prompt,
		Raw:     true,
		Stream:  &stream,
		Options: opts,
	}

	var (
		content string
		final   api.GenerateResponse
	)
	err := m.client.Generate(ctx, req, func(gr api.GenerateResponse) error {
		content += gr.Response
		if gr.Done {
			final = gr
		}
		return nil
	})
	if err != nil {
		return reply.Generation{}, fmt.Errorf("ollama generate for model %s: %w", m.tag, err)
	}
	if !final.Done {
		return reply.Generation{}, fmt.Errorf("no completion received from ollama for model %s", m.tag)
	}

	switch final.DoneReason {
	case "stop", "length", "":
	default:
		return reply.Generation{}, fmt.Errorf("unexpected completion reason %q for model %s", final.DoneReason, m.tag)
	}

	return reply.Generation{
		Text:         content,
		PromptTokens: final.PromptEvalCount,
		OutputTokens: final.EvalCount,
		DoneReason:   final.DoneReason,
	}, nil
}

// Probe opens the advanced backend.
type Probe struct {
	httpClient *http.Client
	env        device.Environment
}

// ProbeOption configures a Probe.
type ProbeOption func(*Probe)

// WithHTTPClient sets the client used to reach the runtime.
func WithHTTPClient(c *http.Client) ProbeOption {
	return func(p *Probe) { p.httpClient = c }
}

// WithDeviceEnvironment overrides host detection.
func WithDeviceEnvironment(env device.Environment) ProbeOption {
	return func(p *Probe) { p.env = env }
}

// NewProbe returns the advanced probe.
func NewProbe(opts ...ProbeOption) *Probe {
	p := &Probe{
		httpClient: http.DefaultClient,
		env:        device.Host(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Probe) Kind() reply.Kind { return reply.KindAdvanced }

// Check requires the model path to exist.
func (p *Probe) Check(cfg reply.Config) error {
	if cfg.ModelPath == "" {
		return fmt.Errorf("%w: no model path configured", reply.ErrPrecondition)
	}
	if _, err := ManifestPath(cfg.ModelPath); err != nil {
		return fmt.Errorf("%w: %w", reply.ErrPrecondition, err)
	}
	return nil
}

// Open loads the manifest and confirms the runtime serves the model.
func (p *Probe) Open(ctx context.Context, cfg reply.Config) (reply.Strategy, error) {
	manifest, err := LoadManifest(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	tmpl, err := compileTemplate(manifest.Template)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(cfg.RuntimeHost)
	if err != nil {
		return nil, fmt.Errorf("invalid runtime host %q: %w", cfg.RuntimeHost, err)
	}
	client := api.NewClient(u, p.httpClient)
	if err := client.Heartbeat(ctx); err != nil {
		return nil, fmt.Errorf("runtime %s unreachable: %w", cfg.RuntimeHost, err)
	}

	tag := manifest.Tag(cfg.Quantize)
	if _, err := client.Show(ctx, &api.ShowRequest{Model: tag}); err != nil {
		return nil, fmt.Errorf("model %s not available on runtime: %w", tag, err)
	}

	numCtx := cfg.MaxSequenceLength
	if manifest.ContextLength > 0 && (numCtx <= 0 || manifest.ContextLength < numCtx) {
		numCtx = manifest.ContextLength
	}

	m := &Model{
		client:   client,
		tag:      tag,
		manifest: manifest,
		tmpl:     tmpl,
		device:   p.env.Detect(cfg.Device),
		numCtx:   numCtx,
	}
	logger.Component("advanced").Info("advanced model ready",
		"model", tag,
		"adapter", manifest.AdapterPath(),
		"device", m.device.String(),
		"num_ctx", numCtx,
	)
	return reply.Advanced{Model: m}, nil
}
