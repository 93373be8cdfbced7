package model

import "time"

// GenerationJob is the full record for one ad-video request. It is
// owned by the orchestrator and stored as a JSON blob in the job store;
// everything the worker and the status endpoint need lives here.
type GenerationJob struct {
	ID            string          `json:"id"`
	ScriptID      string          `json:"scriptId"`
	State         JobState        `json:"state"`
	Progress      int             `json:"progress"`
	CurrentStep   string          `json:"currentStep,omitempty"`
	Scenes        []SceneTask     `json:"scenes"`
	Audio         []AudioTask     `json:"audio"`
	Spec          CompositionSpec `json:"spec"`
	ResultLocator string          `json:"resultLocator,omitempty"`
	ResultSeconds float64         `json:"resultSeconds,omitempty"`
	Error         *string         `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`

	// Version is the optimistic concurrency token. The store rejects a
	// Save whose Version does not match the stored record, so the API's
	// cancel writer and the worker cannot silently overwrite each other.
	Version int64 `json:"version"`
}

// TotalSteps is the denominator for progress: every scene, every
// selected audio task, plus the composition step.
func (j *GenerationJob) TotalSteps() int {
	return len(j.Scenes) + len(j.Audio) + 1
}

// CompletedSteps counts tasks that reached a terminal successful state.
func (j *GenerationJob) CompletedSteps() int {
	n := 0
	for _, s := range j.Scenes {
		if s.Status == TaskStatusSucceeded {
			n++
		}
	}
	for _, a := range j.Audio {
		if a.Status == TaskStatusSucceeded {
			n++
		}
	}
	if j.State == JobStateCompleted {
		n++
	}
	return n
}

// SceneTask is one visual segment. Index is 1-based and ordering is
// significant: scene i may not start before scene i-1 succeeded.
type SceneTask struct {
	Index           int        `json:"index"`
	DurationSeconds float64    `json:"durationSeconds"`
	Prompt          string     `json:"prompt"`
	ContinuityRefs  []string   `json:"continuityRefs,omitempty"`
	Status          TaskStatus `json:"status"`
	OutputLocator   string     `json:"outputLocator,omitempty"`
	ProviderHandle  string     `json:"providerHandle,omitempty"`
	RetryCount      int        `json:"retryCount"`
}

// AudioTask is one audio layer. Voice is mandatory; music and sfx are
// present only when the submission carries a prompt for them.
type AudioTask struct {
	Kind           AudioKind  `json:"kind"`
	Prompt         string     `json:"prompt"`
	Status         TaskStatus `json:"status"`
	OutputLocator  string     `json:"outputLocator,omitempty"`
	ProviderHandle string     `json:"providerHandle,omitempty"`
	RetryCount     int        `json:"retryCount"`
}

// CompositionSpec is the declarative input to the compositor: timing,
// overlays, audio mix levels and encoding parameters.
type CompositionSpec struct {
	SceneDurations   []float64      `json:"sceneDurations"`
	Overlays         []OverlaySpec  `json:"overlays,omitempty"`
	MixLevels        MixLevels      `json:"mixLevels"`
	CrossfadeSeconds float64        `json:"crossfadeSeconds"`
	Encoding         EncodingParams `json:"encoding"`
}

// OverlaySpec composites a static reference image onto the stitched
// video inside the window [Start, Start+Duration).
type OverlaySpec struct {
	ImageLocator    string         `json:"imageLocator"`
	StartSeconds    float64        `json:"startSeconds"`
	DurationSeconds float64        `json:"durationSeconds"`
	Anchor          AnchorPosition `json:"anchor"`
	TargetWidth     int            `json:"targetWidth"`
}

// MixLevels holds the fixed relative volume per audio layer.
type MixLevels struct {
	Voice float64 `json:"voice"`
	Music float64 `json:"music"`
	SFX   float64 `json:"sfx"`
}

// Level returns the mix level for a kind.
func (m MixLevels) Level(kind AudioKind) float64 {
	switch kind {
	case AudioKindVoice:
		return m.Voice
	case AudioKindMusic:
		return m.Music
	default:
		return m.SFX
	}
}

// DefaultMixLevels are the product-fixed relative levels.
func DefaultMixLevels() MixLevels {
	return MixLevels{Voice: 1.0, Music: 0.3, SFX: 0.5}
}

// EncodingParams describe the output file.
type EncodingParams struct {
	Codec  string `json:"codec"`
	CRF    int    `json:"crf"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps"`
}
