// Package ai holds the image analysis and video generation backends.
package ai

import (
	"context"

	"github.com/character-lab/backend/internal/config"
	"github.com/character-lab/backend/internal/logging"
)

// ImageAnalysis is the quality report of a reference image.
type ImageAnalysis struct {
	QualityScore    float64            `json:"quality_score"`
	Recommendations []string           `json:"recommendations"`
	Features        map[string]float64 `json:"features,omitempty"`
}

// Analyzer scores uploaded reference images.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, path, mimeType string) (*ImageAnalysis, error)
}

// NewAnalyzer returns the remote analyzer when an endpoint is configured and
// the local stub otherwise. Either way failures degrade to a zero score.
func NewAnalyzer(cfg config.AIConfig) Analyzer {
	if cfg.Endpoint == "" {
		return WithFallback(Stub{})
	}
	logging.Info().Str("endpoint", cfg.Endpoint).Msg("using remote image analyzer")
	return WithFallback(NewRemoteAnalyzer(cfg))
}

// WithFallback wraps a so that errors yield a failed analysis instead.
func WithFallback(a Analyzer) Analyzer {
	return fallback{next: a}
}

type fallback struct {
	next Analyzer
}

func (f fallback) AnalyzeImage(ctx context.Context, path, mimeType string) (*ImageAnalysis, error) {
	res, err := f.next.AnalyzeImage(ctx, path, mimeType)
	if err != nil {
		logging.Error().Err(err).Str("path", path).Msg("image analysis failed")
		return &ImageAnalysis{
			QualityScore:    0,
			Recommendations: []string{"Analysis failed"},
			Features:        map[string]float64{},
		}, nil
	}
	return res, nil
}

// Stub returns a fixed analysis.
type Stub struct{}

// AnalyzeImage implements Analyzer.
func (Stub) AnalyzeImage(ctx context.Context, path, mimeType string) (*ImageAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &ImageAnalysis{
		QualityScore: 0.85,
		Recommendations: []string{
			"Image clarity is good",
			"Consider adding more angles",
			"Lighting conditions are adequate",
		},
		Features: map[string]float64{
			"brightness": 0.7,
			"contrast":   0.8,
			"sharpness":  0.9,
		},
	}, nil
}
