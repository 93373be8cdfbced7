package model

// JobState is the orchestrator state machine for a generation job.
// Transitions are one-directional:
// pending → generating_scenes → generating_audio → compositing → completed
// with any non-terminal state allowed to move to failed.
type JobState string

const (
	JobStatePending          JobState = "pending"
	JobStateGeneratingScenes JobState = "generating_scenes"
	JobStateGeneratingAudio  JobState = "generating_audio"
	JobStateCompositing      JobState = "compositing"
	JobStateCompleted        JobState = "completed"
	JobStateFailed           JobState = "failed"
)

// Terminal reports whether a job in this state accepts no further mutation.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// JobStatus is the external projection of JobState consumed by the
// polling caller. All intermediate states collapse to "processing".
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// StatusOf projects a machine state to the external status enum.
func StatusOf(state JobState) JobStatus {
	switch state {
	case JobStatePending:
		return JobStatusPending
	case JobStateCompleted:
		return JobStatusCompleted
	case JobStateFailed:
		return JobStatusFailed
	default:
		return JobStatusProcessing
	}
}

// TaskStatus tracks one scene or audio task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
)

// AudioKind selects one of the three audio generation providers.
type AudioKind string

const (
	AudioKindVoice AudioKind = "voice"
	AudioKindMusic AudioKind = "music"
	AudioKindSFX   AudioKind = "sfx"
)

// AudioKindOrder is the fixed processing order for audio tasks. The
// order is not significant to correctness but keeps progress reporting
// reproducible across runs.
var AudioKindOrder = []AudioKind{AudioKindVoice, AudioKindMusic, AudioKindSFX}

// AnchorPosition places an overlay relative to the video frame.
type AnchorPosition string

const (
	AnchorTopLeft     AnchorPosition = "top_left"
	AnchorTopRight    AnchorPosition = "top_right"
	AnchorBottomLeft  AnchorPosition = "bottom_left"
	AnchorBottomRight AnchorPosition = "bottom_right"
	AnchorCenter      AnchorPosition = "center"
)

var ValidAnchors = []AnchorPosition{
	AnchorTopLeft, AnchorTopRight, AnchorBottomLeft, AnchorBottomRight, AnchorCenter,
}
