package model

import "time"

// GenerationStartRequest is the approved-script submission that opens a
// generation job. Scenes are ordered; scene prompts and durations come
// from the upstream script flow, already approved by the user.
type GenerationStartRequest struct {
	ScriptID      string         `json:"scriptId" validate:"required,uuid"`
	Storyline     string         `json:"storyline" validate:"required"`
	Scenes        []SceneInput   `json:"scenes" validate:"required,min=1,max=5,dive"`
	VoiceoverText string         `json:"voiceoverText" validate:"required"`
	MusicPrompt   string         `json:"musicPrompt,omitempty"`
	SFXPrompt     string         `json:"sfxPrompt,omitempty"`
	Overlays      []OverlayInput `json:"overlays" validate:"omitempty,dive"`
}

// SceneInput is one scene of the approved script.
type SceneInput struct {
	DurationSeconds float64 `json:"durationSeconds" validate:"required,gt=0,lte=30"`
	VisualPrompt    string  `json:"visualPrompt" validate:"required"`
	Narration       string  `json:"narration,omitempty"`
}

// OverlayInput schedules a brand/reference image over the final video.
type OverlayInput struct {
	ImageLocator    string         `json:"imageLocator" validate:"required"`
	StartSeconds    float64        `json:"startSeconds" validate:"min=0"`
	DurationSeconds float64        `json:"durationSeconds" validate:"required,gt=0"`
	Anchor          AnchorPosition `json:"anchor" validate:"required,oneof=top_left top_right bottom_left bottom_right center"`
	TargetWidth     int            `json:"targetWidth" validate:"required,gt=0"`
}

// GenerationStartResponse acknowledges a queued job.
type GenerationStartResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// GenerationStatusResponse is the polling projection. ResultLocator is
// present only for completed jobs, ErrorMessage only for failed ones.
type GenerationStatusResponse struct {
	JobID         string     `json:"jobId"`
	Status        JobStatus  `json:"status"`
	Progress      int        `json:"progress"`
	CurrentStep   string     `json:"currentStep,omitempty"`
	ResultLocator string     `json:"resultLocator,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// GenerationResultResponse describes the finished artifact.
type GenerationResultResponse struct {
	JobID           string    `json:"jobId"`
	VideoURL        string    `json:"videoUrl"`
	DurationSeconds float64   `json:"durationSeconds"`
	CompletedAt     time.Time `json:"completedAt"`
}

// GenerationCancelResponse acknowledges a cancellation.
type GenerationCancelResponse struct {
	Success bool      `json:"success"`
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
}
