package ai

import (
	"context"
	"fmt"
	"time"
)

// GenerationRequest describes a video to render.
type GenerationRequest struct {
	TaskID      string
	CharacterID string
	Script      string
	Duration    int
	Style       string
	Quality     string
}

// GenerationResult is a rendered video.
type GenerationResult struct {
	VideoURL     string
	ThumbnailURL string
	Title        string
}

// ReportFunc receives intermediate progress in [0, 100).
type ReportFunc func(progress int, message string)

// Generator renders videos.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest, report ReportFunc) (*GenerationResult, error)
}

type generationStep struct {
	progress int
	message  string
}

var generationSteps = []generationStep{
	{10, "Analyzing script"},
	{30, "Preparing character model"},
	{50, "Generating frames"},
	{70, "Rendering scenes"},
	{90, "Encoding video"},
}

// StubGenerator walks through fixed generation steps, waiting StepDelay
// between them.
type StubGenerator struct {
	StepDelay time.Duration
}

// Generate implements Generator.
func (g StubGenerator) Generate(ctx context.Context, req GenerationRequest, report ReportFunc) (*GenerationResult, error) {
	for _, step := range generationSteps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.StepDelay):
		}
		if report != nil {
			report(step.progress, step.message)
		}
	}

	title := req.Script
	if len(title) > 50 {
		title = title[:50]
	}
	return &GenerationResult{
		VideoURL:     fmt.Sprintf("/videos/%s.mp4", req.TaskID),
		ThumbnailURL: fmt.Sprintf("/videos/%s.jpg", req.TaskID),
		Title:        title,
	}, nil
}
