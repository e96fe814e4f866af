package stages

import (
	"context"
	"log/slog"

	"fabula/internal/logging"
	"fabula/internal/pipeline"
	"fabula/internal/services"
	"fabula/internal/services/safety"
)

// SafetyAnalyzer is the review-service surface the qa stage needs.
type SafetyAnalyzer interface {
	Analyze(ctx context.Context, text, policy string) (safety.ScoreReport, error)
	Adjust(ctx context.Context, text string, report safety.ScoreReport) (string, error)
}

// ContentReviewer scores scene text against the content policy. Flagged
// text gets one adjustment pass and a re-score; text that still fails is a
// non-retryable stage failure, since re-running the same input cannot help.
type ContentReviewer struct {
	svc    SafetyAnalyzer
	policy string
	logger *slog.Logger
}

// NewContentReviewer wires the qa stage.
func NewContentReviewer(svc SafetyAnalyzer, policy string, logger *slog.Logger) *ContentReviewer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ContentReviewer{svc: svc, policy: policy, logger: logger}
}

func (s *ContentReviewer) ID() pipeline.StageID { return pipeline.StageQA }

func (s *ContentReviewer) Run(ctx context.Context, _ *pipeline.Run, content pipeline.Content, progress pipeline.ProgressFunc) (pipeline.StageResult, error) {
	progress(0, "Analyzing scene text")
	report, err := s.svc.Analyze(ctx, content.Text, s.policy)
	if err != nil {
		return pipeline.StageResult{}, err
	}

	result := pipeline.QAPayload{
		Passed:  report.Passed,
		Scores:  report.Scores,
		Flagged: report.Flagged,
		Text:    content.Text,
	}

	if !report.Passed {
		s.logger.Info("scene text flagged", logging.Any("flags", report.Flagged))
		progress(0.5, "Adjusting flagged text")
		adjusted, err := s.svc.Adjust(ctx, content.Text, report)
		if err != nil {
			return pipeline.StageResult{}, err
		}
		progress(0.75, "Re-analyzing adjusted text")
		recheck, err := s.svc.Analyze(ctx, adjusted, s.policy)
		if err != nil {
			return pipeline.StageResult{}, err
		}
		if !recheck.Passed {
			return pipeline.StageResult{}, services.Wrap(services.ErrValidation, "qa", "analyze",
				"scene text failed review after adjustment", nil)
		}
		result.Passed = true
		result.Adjusted = true
		result.Scores = recheck.Scores
		result.Flagged = report.Flagged
		result.Text = adjusted
	}

	payload, err := pipeline.MarshalPayload(result)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	summary := "content review passed"
	if result.Adjusted {
		summary = "content review passed after adjustment"
	}
	progress(1, "Review complete")
	return pipeline.StageResult{Payload: payload, Summary: summary}, nil
}
