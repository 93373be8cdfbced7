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
	"github.com/reena96/bmax-adgenie-563362/internal/model"
)

// AudioGenerator produces one audio layer (voiceover, background music
// or sound effects) and returns the locator of its stored copy.
type AudioGenerator interface {
	GenerateAudio(ctx context.Context, req *AudioRequest) (string, error)
	IsConfigured(kind model.AudioKind) bool
}

// AudioRequest describes one audio generation call.
type AudioRequest struct {
	JobID  string
	Kind   model.AudioKind
	Prompt string
}

// AudioClient implements AudioGenerator over the three per-kind
// provider endpoints. The submit/poll/fetch behavior is identical
// across kinds; only the endpoint and key differ.
type AudioClient struct {
	httpClient   *http.Client
	providers    map[model.AudioKind]config.ProviderConfig
	storage      StorageClient
	pollInterval time.Duration
	maxWait      time.Duration
}

type audioSubmitRequest struct {
	Prompt string `json:"prompt"`
}

type audioTaskResponse struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	AudioURL string `json:"audio_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewAudioClient creates an audio generation client over the voice,
// music and sfx provider endpoints.
func NewAudioClient(voice, music, sfx *config.ProviderConfig, gen *config.GenerationConfig, storage StorageClient) *AudioClient {
	return &AudioClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		providers: map[model.AudioKind]config.ProviderConfig{
			model.AudioKindVoice: *voice,
			model.AudioKindMusic: *music,
			model.AudioKindSFX:   *sfx,
		},
		storage:      storage,
		pollInterval: time.Duration(gen.PollIntervalSeconds) * time.Second,
		maxWait:      time.Duration(gen.AudioTimeoutSeconds) * time.Second,
	}
}

// IsConfigured returns true if the provider for kind has an API key.
func (c *AudioClient) IsConfigured(kind model.AudioKind) bool {
	return c.providers[kind].APIKey != ""
}

// GenerateAudio runs the full submit/poll/fetch cycle for one audio
// layer and returns the locator of the stored file.
func (c *AudioClient) GenerateAudio(ctx context.Context, req *AudioRequest) (string, error) {
	provider := c.providers[req.Kind]

	submitted, err := c.submit(ctx, &provider, req.Kind, &audioSubmitRequest{Prompt: req.Prompt})
	if err != nil {
		return "", err
	}

	result, err := c.poll(ctx, &provider, req.Kind, submitted.TaskID)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("jobs/%s/audio/%s.mp3", req.JobID, req.Kind)
	return fetchToStore(ctx, c.httpClient, c.storage, result.AudioURL, key, "audio/mpeg")
}

func (c *AudioClient) submit(ctx context.Context, provider *config.ProviderConfig, kind model.AudioKind, body *audioSubmitRequest) (*audioTaskResponse, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.BaseURL+"/v1/audio/generate", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var result audioTaskResponse
	if err := c.doRequest(req, provider, kind, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *AudioClient) poll(ctx context.Context, provider *config.ProviderConfig, kind model.AudioKind, taskID string) (*audioTaskResponse, error) {
	deadline := time.Now().Add(c.maxWait)
	attempt := 0

	for time.Now().Before(deadline) {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.BaseURL+"/v1/audio/status/"+taskID, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		var result audioTaskResponse
		if err := c.doRequest(req, provider, kind, &result); err != nil {
			// A flaky poll is not a verdict on the task; keep polling
			// until the deadline settles it.
			log.Printf("[Audio API/%s] Poll #%d (task=%s) — transient error: %v", kind, attempt, taskID, err)
		} else {
			log.Printf("[Audio API/%s] Poll #%d (task=%s) — status: %s", kind, attempt, taskID, result.Status)

			switch result.Status {
			case "completed", "success":
				return &result, nil
			case "failed", "error":
				reason := result.Error
				if reason == "" {
					reason = result.Status
				}
				return nil, &ProviderRejectedError{Provider: string(kind), Handle: taskID, Reason: reason}
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}

	return nil, &ProviderTimeoutError{Provider: string(kind), Handle: taskID, Waited: c.maxWait}
}

func (c *AudioClient) doRequest(req *http.Request, provider *config.ProviderConfig, kind model.AudioKind, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+provider.APIKey)

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
		return fmt.Errorf("%s API error (status %d): %s", kind, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
