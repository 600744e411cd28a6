package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"

	"github.com/character-lab/backend/internal/config"
)

// RemoteAnalyzer calls an HTTP analysis service:
// POST {endpoint}/analyze/image with the image as multipart "file".
type RemoteAnalyzer struct {
	http *resty.Client
}

// NewRemoteAnalyzer creates a RemoteAnalyzer from cfg.
func NewRemoteAnalyzer(cfg config.AIConfig) *RemoteAnalyzer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Endpoint, "/")).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Retry on 429 (Too Many Requests) and 5xx server errors
			return r.StatusCode() == 429 || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &RemoteAnalyzer{http: client}
}

// AnalyzeImage implements Analyzer.
func (a *RemoteAnalyzer) AnalyzeImage(ctx context.Context, path, mimeType string) (*ImageAnalysis, error) {
	var result ImageAnalysis
	resp, err := a.http.R().
		SetContext(ctx).
		SetFile("file", path).
		SetFormData(map[string]string{"mime_type": mimeType}).
		SetResult(&result).
		Post("/analyze/image")
	if err != nil {
		return nil, fmt.Errorf("failed to call analyzer: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("analyzer returned %s", resp.Status())
	}
	if result.Recommendations == nil {
		result.Recommendations = []string{}
	}
	return &result, nil
}
