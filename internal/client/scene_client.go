package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/reena96/bmax-adgenie-563362/internal/config"
)

// SceneGenerator produces one visual scene clip and returns the locator
// of its stored copy.
type SceneGenerator interface {
	GenerateScene(ctx context.Context, req *SceneRequest) (string, error)
	IsConfigured() bool
}

// SceneRequest describes one scene generation call. ContinuityRefs are
// locators of up to two immediately preceding scene outputs, passed to
// the provider to keep lighting and subject consistent across the ad.
type SceneRequest struct {
	JobID           string
	Index           int
	Prompt          string
	DurationSeconds float64
	ContinuityRefs  []string
}

// SceneClient implements SceneGenerator against the external visual
// generation provider: submit, poll until terminal, fetch, store.
type SceneClient struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	storage      StorageClient
	pollInterval time.Duration
	maxWait      time.Duration
}

type sceneSubmitRequest struct {
	Prompt          string   `json:"prompt"`
	DurationSeconds float64  `json:"duration_seconds"`
	ContinuityURLs  []string `json:"continuity_urls,omitempty"`
}

type sceneTaskResponse struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	VideoURL string `json:"video_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewSceneClient creates a scene generation client.
func NewSceneClient(cfg *config.ProviderConfig, gen *config.GenerationConfig, storage StorageClient) *SceneClient {
	return &SceneClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		storage:      storage,
		pollInterval: time.Duration(gen.PollIntervalSeconds) * time.Second,
		maxWait:      time.Duration(gen.SceneTimeoutSeconds) * time.Second,
	}
}

// IsConfigured returns true if the client has valid configuration.
func (c *SceneClient) IsConfigured() bool {
	return c.apiKey != ""
}

// GenerateScene runs the full submit/poll/fetch cycle for one scene and
// returns the locator of the stored clip.
func (c *SceneClient) GenerateScene(ctx context.Context, req *SceneRequest) (string, error) {
	refs := make([]string, 0, len(req.ContinuityRefs))
	for _, ref := range req.ContinuityRefs {
		refs = append(refs, c.storage.GetPublicURL(ref))
	}

	submitted, err := c.submit(ctx, &sceneSubmitRequest{
		Prompt:          req.Prompt,
		DurationSeconds: req.DurationSeconds,
		ContinuityURLs:  refs,
	})
	if err != nil {
		return "", err
	}

	result, err := c.poll(ctx, submitted.TaskID)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("jobs/%s/scenes/%03d.mp4", req.JobID, req.Index)
	return fetchToStore(ctx, c.httpClient, c.storage, result.VideoURL, key, "video/mp4")
}

func (c *SceneClient) submit(ctx context.Context, body *sceneSubmitRequest) (*sceneTaskResponse, error) {
	var result sceneTaskResponse
	if err := c.post(ctx, "/v1/scenes/generate", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// poll checks the provider on a fixed interval until the task reaches a
// terminal state or the overall deadline passes.
func (c *SceneClient) poll(ctx context.Context, taskID string) (*sceneTaskResponse, error) {
	deadline := time.Now().Add(c.maxWait)
	attempt := 0

	for time.Now().Before(deadline) {
		attempt++
		var result sceneTaskResponse
		if err := c.get(ctx, "/v1/scenes/status/"+taskID, &result); err != nil {
			// A flaky poll is not a verdict on the task; keep polling
			// until the deadline settles it.
			log.Printf("[Scene API] Poll #%d (task=%s) — transient error: %v", attempt, taskID, err)
		} else {
			log.Printf("[Scene API] Poll #%d (task=%s) — status: %s", attempt, taskID, result.Status)

			switch result.Status {
			case "completed", "success":
				return &result, nil
			case "failed", "error":
				reason := result.Error
				if reason == "" {
					reason = result.Status
				}
				return nil, &ProviderRejectedError{Provider: "scene", Handle: taskID, Reason: reason}
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}

	return nil, &ProviderTimeoutError{Provider: "scene", Handle: taskID, Waited: c.maxWait}
}

func (c *SceneClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.doRequest(req, result)
}

func (c *SceneClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.doRequest(req, result)
}

func (c *SceneClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("scene API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
