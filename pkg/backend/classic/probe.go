package classic

import (
	"context"
	"fmt"
	"os"

	"github.com/jmylchreest/klarvia/internal/logger"
	"github.com/jmylchreest/klarvia/pkg/artifact"
	"github.com/jmylchreest/klarvia/pkg/backend/device"
	"github.com/jmylchreest/klarvia/pkg/reply"
)

// Probe opens the classic backend.
type Probe struct{}

// NewProbe returns the classic probe.
func NewProbe() Probe { return Probe{} }

func (Probe) Kind() reply.Kind { return reply.KindClassic }

// Check requires a model reference that is either a file on disk or a name
// an artifact index can supply.
func (Probe) Check(cfg reply.Config) error {
	if cfg.ClassicModelPath == "" {
		return fmt.Errorf("%w: no classic model path configured", reply.ErrPrecondition)
	}
	if _, err := os.Stat(cfg.ClassicModelPath); err != nil && cfg.ArtifactIndex == "" {
		return fmt.Errorf("%w: classic model %s: %w", reply.ErrPrecondition, cfg.ClassicModelPath, err)
	}
	return nil
}

// Open loads the model artifact.
func (Probe) Open(ctx context.Context, cfg reply.Config) (reply.Strategy, error) {
	path, err := artifact.Resolve(ctx, cfg.ClassicModelPath, cfg.ArtifactIndex, cfg.ArtifactCacheDir)
	if err != nil {
		return nil, err
	}
	m, err := Load(path)
	if err != nil {
		return nil, err
	}

	logger.Component("classic").Info("classic model loaded",
		"model", m.ModelName,
		"labels", len(m.Labels),
		"device", device.Detect(cfg.Device).String(),
	)
	return reply.Classic{Predictor: m}, nil
}
