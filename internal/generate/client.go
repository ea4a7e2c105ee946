// Package generate calls the external video generation service.
//
// Generation is an opaque synchronous exchange: a topic plus the channel's
// language/voice/format parameters go in, an artifact path comes back. The
// service renders the clip on shared storage; clipcast never inspects how.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const defaultBaseURL = "http://localhost:8080"

// Request are the per-channel generation parameters.
type Request struct {
	TaskID           string `json:"task_id"`
	Topic            string `json:"video_subject"`
	Language         string `json:"video_language"`
	Voice            string `json:"voice_name"`
	Aspect           string `json:"video_aspect"`
	ClipDuration     int    `json:"video_clip_duration"`
	ParagraphCount   int    `json:"paragraph_number"`
	SubtitleEnabled  bool   `json:"subtitle_enabled"`
	SubtitlePosition string `json:"subtitle_position"`
}

// Response is the generation outcome.
type Response struct {
	ArtifactPath string `json:"artifact_path"`
	Script       string `json:"script,omitempty"`
}

// Client talks to the generation service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config for the generation client. Timeout covers the whole synchronous
// render; generation of a short clip routinely takes minutes.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Minute
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// NewTaskID returns a fresh generation task id.
func NewTaskID() string { return uuid.NewString() }

// Generate renders one clip. Blocks until the service finishes or fails.
func (c *Client) Generate(ctx context.Context, req Request) (Response, error) {
	if req.TaskID == "" {
		req.TaskID = NewTaskID()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/videos", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Detail != "" {
			return Response{}, fmt.Errorf("generation service error (status %d): %s", resp.StatusCode, errResp.Detail)
		}
		return Response{}, fmt.Errorf("generation service error: status %d", resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode generation response: %w", err)
	}
	if out.ArtifactPath == "" {
		return Response{}, fmt.Errorf("generation service returned no artifact")
	}
	return out, nil
}
