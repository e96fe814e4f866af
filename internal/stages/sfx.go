package stages

import (
	"context"
	"fmt"
	"log/slog"

	"fabula/internal/logging"
	"fabula/internal/pipeline"
	"fabula/internal/services/sfx"
)

// EffectDetector is the sound-effect service surface the sfx stage needs.
type EffectDetector interface {
	Detect(ctx context.Context, text, narrativeContext string) ([]sfx.EffectSpec, error)
	IsCached(ctx context.Context, effectKey string) (bool, error)
}

// EffectPlanner detects sound-effect slots in scene text and records cache
// readiness per effect. With the feature disabled the stage completes
// immediately with an empty plan.
type EffectPlanner struct {
	svc     EffectDetector
	enabled bool
	logger  *slog.Logger
}

// NewEffectPlanner wires the sfx stage.
func NewEffectPlanner(svc EffectDetector, enabled bool, logger *slog.Logger) *EffectPlanner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &EffectPlanner{svc: svc, enabled: enabled, logger: logger}
}

func (s *EffectPlanner) ID() pipeline.StageID { return pipeline.StageSFX }

func (s *EffectPlanner) Run(ctx context.Context, _ *pipeline.Run, content pipeline.Content, progress pipeline.ProgressFunc) (pipeline.StageResult, error) {
	if !s.enabled {
		payload, err := pipeline.MarshalPayload(pipeline.SFXPayload{Enabled: false})
		if err != nil {
			return pipeline.StageResult{}, err
		}
		progress(1, "Sound effects disabled")
		return pipeline.StageResult{Payload: payload, Summary: "sound effects disabled"}, nil
	}

	progress(0, "Detecting sound effects")
	specs, err := s.svc.Detect(ctx, content.Text, content.Context)
	if err != nil {
		return pipeline.StageResult{}, err
	}

	statuses := make([]pipeline.EffectStatus, 0, len(specs))
	for i, spec := range specs {
		ready, err := s.svc.IsCached(ctx, spec.Key)
		if err != nil {
			return pipeline.StageResult{}, err
		}
		statuses = append(statuses, pipeline.EffectStatus{
			Key:         spec.Key,
			Description: spec.Description,
			Offset:      spec.Offset,
			Ready:       ready,
		})
		progress(float64(i+1)/float64(len(specs)), fmt.Sprintf("Checked %d/%d effects", i+1, len(specs)))
	}

	result := pipeline.SFXPayload{Enabled: true, Effects: statuses}
	payload, err := pipeline.MarshalPayload(result)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	s.logger.Info("effect plan built",
		logging.Int("detected", len(statuses)),
		logging.Int("cached", result.ReadyCount()))
	return pipeline.StageResult{
		Payload: payload,
		Summary: fmt.Sprintf("%d effects detected, %d cached", len(statuses), result.ReadyCount()),
	}, nil
}
