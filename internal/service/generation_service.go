package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/reena96/bmax-adgenie-563362/internal/config"
	"github.com/reena96/bmax-adgenie-563362/internal/model"
	"github.com/reena96/bmax-adgenie-563362/internal/store"
)

const TaskTypeGeneration = "generation:process"

// ErrJobTerminal is returned by mutators when the job already reached a
// terminal state. Transitions are one-directional; a canceled or failed
// job silently discards any late results from in-flight provider calls.
var ErrJobTerminal = errors.New("job already terminal")

// ErrJobNotCompleted is returned by GetResult for unfinished jobs.
var ErrJobNotCompleted = errors.New("job not completed")

// TaskEnqueuer is the slice of asynq.Client the service needs.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// GenerationService owns GenerationJob records: it creates and enqueues
// jobs, projects their state for the polling caller, and applies the
// worker's step-by-step mutations under the one-directional transition
// rule.
type GenerationService struct {
	store    store.JobStore
	enqueuer TaskEnqueuer
	gen      *config.GenerationConfig
}

func NewGenerationService(jobStore store.JobStore, enqueuer TaskEnqueuer, gen *config.GenerationConfig) *GenerationService {
	return &GenerationService{
		store:    jobStore,
		enqueuer: enqueuer,
		gen:      gen,
	}
}

type taskPayload struct {
	JobID string `json:"jobId"`
}

// Submit creates a job from an approved script and queues it for the
// worker. Scene order follows the script; audio tasks are voice plus
// whichever optional kinds the submission selected.
func (s *GenerationService) Submit(ctx context.Context, req *model.GenerationStartRequest) (*model.GenerationStartResponse, error) {
	jobID := uuid.New().String()
	now := time.Now()

	scenes := make([]model.SceneTask, 0, len(req.Scenes))
	durations := make([]float64, 0, len(req.Scenes))
	for i, in := range req.Scenes {
		scenes = append(scenes, model.SceneTask{
			Index:           i + 1,
			DurationSeconds: in.DurationSeconds,
			Prompt:          in.VisualPrompt,
			Status:          model.TaskStatusPending,
		})
		durations = append(durations, in.DurationSeconds)
	}

	audio := []model.AudioTask{{
		Kind:   model.AudioKindVoice,
		Prompt: req.VoiceoverText,
		Status: model.TaskStatusPending,
	}}
	if req.MusicPrompt != "" {
		audio = append(audio, model.AudioTask{Kind: model.AudioKindMusic, Prompt: req.MusicPrompt, Status: model.TaskStatusPending})
	}
	if req.SFXPrompt != "" {
		audio = append(audio, model.AudioTask{Kind: model.AudioKindSFX, Prompt: req.SFXPrompt, Status: model.TaskStatusPending})
	}

	spec, err := s.buildSpec(req, durations)
	if err != nil {
		return nil, err
	}

	job := &model.GenerationJob{
		ID:        jobID,
		ScriptID:  req.ScriptID,
		State:     model.JobStatePending,
		Progress:  0,
		Scenes:    scenes,
		Audio:     audio,
		Spec:      spec,
		CreatedAt: now,
	}

	if err := s.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	data, err := json.Marshal(taskPayload{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}

	// MaxRetry 0: retries happen per step inside the worker with typed
	// bounds; there is no automatic whole-job retry.
	_, err = s.enqueuer.Enqueue(asynq.NewTask(TaskTypeGeneration, data),
		asynq.Queue("generation"),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		// Best effort; a record that survives the delete ages out at
		// the store TTL.
		_ = s.store.Delete(ctx, jobID)
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.GenerationStartResponse{
		JobID:     jobID,
		Status:    model.StatusOf(job.State),
		CreatedAt: now,
	}, nil
}

// buildSpec derives the composition spec from the submission and the
// configured defaults, rejecting overlays that cannot fit the nominal
// timeline up front.
func (s *GenerationService) buildSpec(req *model.GenerationStartRequest, durations []float64) (model.CompositionSpec, error) {
	fade := s.gen.CrossfadeSeconds
	var nominal float64
	for _, d := range durations {
		nominal += d
	}
	nominal -= float64(len(durations)-1) * fade

	overlays := make([]model.OverlaySpec, 0, len(req.Overlays))
	for i, in := range req.Overlays {
		if in.StartSeconds+in.DurationSeconds > nominal {
			return model.CompositionSpec{}, fmt.Errorf("overlay %d extends past the video end", i)
		}
		overlays = append(overlays, model.OverlaySpec{
			ImageLocator:    in.ImageLocator,
			StartSeconds:    in.StartSeconds,
			DurationSeconds: in.DurationSeconds,
			Anchor:          in.Anchor,
			TargetWidth:     in.TargetWidth,
		})
	}

	return model.CompositionSpec{
		SceneDurations:   durations,
		Overlays:         overlays,
		MixLevels:        model.MixLevels{Voice: s.gen.VoiceLevel, Music: s.gen.MusicLevel, SFX: s.gen.SFXLevel},
		CrossfadeSeconds: fade,
		Encoding: model.EncodingParams{
			Codec:  s.gen.Codec,
			CRF:    s.gen.CRF,
			Width:  s.gen.Width,
			Height: s.gen.Height,
			FPS:    s.gen.FPS,
		},
	}, nil
}

// Job returns the raw job record (worker-facing).
func (s *GenerationService) Job(ctx context.Context, jobID string) (*model.GenerationJob, error) {
	return s.store.Get(ctx, jobID)
}

// GetStatus is the read-only polling projection. It never reaches any
// provider; it only reads the already-persisted record.
func (s *GenerationService) GetStatus(ctx context.Context, jobID string) (*model.GenerationStatusResponse, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	resp := &model.GenerationStatusResponse{
		JobID:       job.ID,
		Status:      model.StatusOf(job.State),
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
	if job.State == model.JobStateCompleted {
		resp.ResultLocator = job.ResultLocator
	}
	if job.State == model.JobStateFailed && job.Error != nil {
		resp.ErrorMessage = *job.Error
	}
	return resp, nil
}

// GetResult returns the finished artifact reference.
func (s *GenerationService) GetResult(ctx context.Context, jobID string) (*model.GenerationResultResponse, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != model.JobStateCompleted {
		return nil, ErrJobNotCompleted
	}

	completed := job.CreatedAt
	if job.CompletedAt != nil {
		completed = *job.CompletedAt
	}
	return &model.GenerationResultResponse{
		JobID:           job.ID,
		VideoURL:        job.ResultLocator,
		DurationSeconds: job.ResultSeconds,
		CompletedAt:     completed,
	}, nil
}

// Cancel marks a job failed with a cancellation reason. In-flight
// provider calls are not force-aborted; the worker notices the terminal
// state at its next mutation and discards their results.
func (s *GenerationService) Cancel(ctx context.Context, jobID string) (*model.GenerationCancelResponse, error) {
	job, err := s.mutate(ctx, jobID, func(job *model.GenerationJob) error {
		reason := "Generation canceled by user"
		now := time.Now()
		job.State = model.JobStateFailed
		job.Error = &reason
		job.CurrentStep = ""
		job.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &model.GenerationCancelResponse{
		Success: true,
		JobID:   jobID,
		Status:  model.StatusOf(job.State),
	}, nil
}

// mutate loads, guards, applies and saves. All job mutations funnel
// through here so a terminal job can never be resurrected: the save is
// a compare-and-set on the record version, and a conflicting write in
// the load/save window forces a re-read that hits the terminal guard.
func (s *GenerationService) mutate(ctx context.Context, jobID string, fn func(*model.GenerationJob) error) (*model.GenerationJob, error) {
	for {
		job, err := s.store.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.State.Terminal() {
			return nil, ErrJobTerminal
		}
		if err := fn(job); err != nil {
			return nil, err
		}

		err = s.store.Save(ctx, job)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return job, nil
	}
}

// Transition advances the state machine and sets the step label.
func (s *GenerationService) Transition(ctx context.Context, jobID string, state model.JobState, step string) (*model.GenerationJob, error) {
	return s.mutate(ctx, jobID, func(job *model.GenerationJob) error {
		if state == model.JobStateGeneratingScenes && job.StartedAt == nil {
			now := time.Now()
			job.StartedAt = &now
		}
		job.State = state
		job.CurrentStep = step
		return nil
	})
}

// MarkSceneRunning records the continuity refs and running status of
// one scene task before the provider call goes out.
func (s *GenerationService) MarkSceneRunning(ctx context.Context, jobID string, index int, refs []string, step string) (*model.GenerationJob, error) {
	return s.mutate(ctx, jobID, func(job *model.GenerationJob) error {
		t, err := sceneTask(job, index)
		if err != nil {
			return err
		}
		t.Status = model.TaskStatusRunning
		t.ContinuityRefs = refs
		job.CurrentStep = step
		return nil
	})
}

// RecordSceneRetry bumps the retry counter after a retriable failure.
func (s *GenerationService) RecordSceneRetry(ctx context.Context, jobID string, index int) error {
	_, err := s.mutate(ctx, jobID, func(job *model.GenerationJob) error {
		t, err := sceneTask(job, index)
		if err != nil {
			return err
		}
		t.RetryCount++
		return nil
	})
	return err
}

// CompleteSceneTask records a scene's output and advances progress.
func (s *GenerationService) CompleteSceneTask(ctx context.Context, jobID string, index int, locator string) (*model.GenerationJob, error) {
	return s.mutate(ctx, jobID, func(job *model.GenerationJob) error {
		t, err := sceneTask(job, index)
		if err != nil {
			return err
		}
		t.Status = model.TaskStatusSucceeded
		t.OutputLocator = locator
		advanceProgress(job)
		return nil
	})
}

// MarkAudioRunning flags one audio task as in flight.
func (s *GenerationService) MarkAudioRunning(ctx context.Context, jobID string, kind model.AudioKind, step string) (*model.GenerationJob, error) {
	return s.mutate(ctx, jobID, func(job *model.GenerationJob) error {
		t, err := audioTask(job, kind)
		if err != nil {
			return err
		}
		t.Status = model.TaskStatusRunning
		job.CurrentStep = step
		return nil
	})
}

// RecordAudioRetry bumps the retry counter after a retriable failure.
func (s *GenerationService) RecordAudioRetry(ctx context.Context, jobID string, kind model.AudioKind) error {
	_, err := s.mutate(ctx, jobID, func(job *model.GenerationJob) error {
		t, err := audioTask(job, kind)
		if err != nil {
			return err
		}
		t.RetryCount++
		return nil
	})
	return err
}

// CompleteAudioTask records an audio layer's output and advances
// progress.
func (s *GenerationService) CompleteAudioTask(ctx context.Context, jobID string, kind model.AudioKind, locator string) (*model.GenerationJob, error) {
	return s.mutate(ctx, jobID, func(job *model.GenerationJob) error {
		t, err := audioTask(job, kind)
		if err != nil {
			return err
		}
		t.Status = model.TaskStatusSucceeded
		t.OutputLocator = locator
		advanceProgress(job)
		return nil
	})
}

// CompleteJob records the final artifact. Progress reaches exactly 100
// here and nowhere else.
func (s *GenerationService) CompleteJob(ctx context.Context, jobID, resultLocator string, seconds float64) (*model.GenerationJob, error) {
	return s.mutate(ctx, jobID, func(job *model.GenerationJob) error {
		now := time.Now()
		job.State = model.JobStateCompleted
		job.Progress = 100
		job.CurrentStep = ""
		job.ResultLocator = resultLocator
		job.ResultSeconds = seconds
		job.CompletedAt = &now
		return nil
	})
}

// FailJob records a stage-qualified failure summary.
func (s *GenerationService) FailJob(ctx context.Context, jobID, message string) error {
	_, err := s.mutate(ctx, jobID, func(job *model.GenerationJob) error {
		now := time.Now()
		job.State = model.JobStateFailed
		job.Error = &message
		job.CurrentStep = ""
		job.CompletedAt = &now
		return nil
	})
	if errors.Is(err, ErrJobTerminal) {
		return nil
	}
	return err
}

func sceneTask(job *model.GenerationJob, index int) (*model.SceneTask, error) {
	for i := range job.Scenes {
		if job.Scenes[i].Index == index {
			return &job.Scenes[i], nil
		}
	}
	return nil, fmt.Errorf("scene %d not found in job %s", index, job.ID)
}

func audioTask(job *model.GenerationJob, kind model.AudioKind) (*model.AudioTask, error) {
	for i := range job.Audio {
		if job.Audio[i].Kind == kind {
			return &job.Audio[i], nil
		}
	}
	return nil, fmt.Errorf("audio task %s not found in job %s", kind, job.ID)
}

// advanceProgress recomputes completedSteps/totalSteps*100. Only
// forward movement is applied, keeping progress monotonic even if a
// stale record were replayed.
func advanceProgress(job *model.GenerationJob) {
	p := job.CompletedSteps() * 100 / job.TotalSteps()
	if p > job.Progress {
		job.Progress = p
	}
}
