package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/reena96/bmax-adgenie-563362/internal/client"
	"github.com/reena96/bmax-adgenie-563362/internal/compose"
	"github.com/reena96/bmax-adgenie-563362/internal/config"
	"github.com/reena96/bmax-adgenie-563362/internal/model"
	"github.com/reena96/bmax-adgenie-563362/internal/service"
	"github.com/reena96/bmax-adgenie-563362/internal/websocket"
)

// continuityWindow is how many preceding scene outputs are passed to
// the visual provider as continuity references.
const continuityWindow = 2

// GenerationWorker drives one generation job end to end: scenes in
// script order, then audio layers, then the final composition. Every
// state change goes through the service so a canceled job stops at the
// next step boundary.
type GenerationWorker struct {
	service  *service.GenerationService
	scenes   client.SceneGenerator
	audio    client.AudioGenerator
	composer compose.Composer
	storage  client.StorageClient
	hub      *websocket.Hub
	gen      *config.GenerationConfig
}

// NewGenerationWorker creates a new generation worker
func NewGenerationWorker(svc *service.GenerationService, scenes client.SceneGenerator, audio client.AudioGenerator, composer compose.Composer, storage client.StorageClient, hub *websocket.Hub, gen *config.GenerationConfig) *GenerationWorker {
	return &GenerationWorker{
		service:  svc,
		scenes:   scenes,
		audio:    audio,
		composer: composer,
		storage:  storage,
		hub:      hub,
		gen:      gen,
	}
}

// ProcessTask handles one queued generation job.
func (w *GenerationWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	jobID := payload.JobID
	log.Printf("Starting generation job: %s", jobID)

	job, err := w.service.Job(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.State != model.JobStatePending {
		// Canceled before pickup, or a duplicate delivery.
		log.Printf("Generation job %s not pending (state %s), skipping", jobID, job.State)
		return nil
	}

	job, err = w.generateScenes(ctx, job)
	if err != nil {
		return w.finish(jobID, err)
	}

	job, err = w.generateAudio(ctx, job)
	if err != nil {
		return w.finish(jobID, err)
	}

	if err := w.composite(ctx, job); err != nil {
		return w.finish(jobID, err)
	}

	log.Printf("Generation job %s completed", jobID)
	return nil
}

// finish maps a terminal-guard error (cancellation racing the worker)
// to a clean drop; anything else propagates as the task result.
func (w *GenerationWorker) finish(jobID string, err error) error {
	if errors.Is(err, service.ErrJobTerminal) {
		log.Printf("Generation job %s already terminal, discarding in-flight work", jobID)
		return nil
	}
	return err
}

// generateScenes runs the scene tasks strictly in script order so each
// scene can reference the outputs just before it.
func (w *GenerationWorker) generateScenes(ctx context.Context, job *model.GenerationJob) (*model.GenerationJob, error) {
	total := len(job.Scenes)
	job, err := w.service.Transition(ctx, job.ID, model.JobStateGeneratingScenes, sceneStep(1, total))
	if err != nil {
		return nil, err
	}
	w.broadcastProgress(job)

	for i := range job.Scenes {
		scene := job.Scenes[i]
		refs := continuityRefs(job, scene.Index)

		job, err = w.service.MarkSceneRunning(ctx, job.ID, scene.Index, refs, sceneStep(scene.Index, total))
		if err != nil {
			return nil, err
		}
		w.broadcastProgress(job)

		locator, genErr := w.generateScene(ctx, job, &scene, refs)
		if genErr != nil {
			msg := fmt.Sprintf("Scene %d generation failed: %v", scene.Index, genErr)
			w.failJob(ctx, job.ID, msg)
			return nil, genErr
		}

		job, err = w.service.CompleteSceneTask(ctx, job.ID, scene.Index, locator)
		if err != nil {
			return nil, err
		}
		w.broadcastProgress(job)
	}

	return job, nil
}

// generateScene calls the visual provider with a bounded retry on
// retriable failures, or synthesizes a placeholder clip when no
// provider is configured.
func (w *GenerationWorker) generateScene(ctx context.Context, job *model.GenerationJob, scene *model.SceneTask, refs []string) (string, error) {
	if !w.scenes.IsConfigured() {
		return w.composer.PlaceholderScene(ctx, job.ID, scene.Index, scene.DurationSeconds)
	}

	req := &client.SceneRequest{
		JobID:           job.ID,
		Index:           scene.Index,
		Prompt:          scene.Prompt,
		DurationSeconds: scene.DurationSeconds,
		ContinuityRefs:  refs,
	}

	var lastErr error
	for attempt := 0; attempt <= w.gen.MaxSceneRetries; attempt++ {
		if attempt > 0 {
			if err := w.service.RecordSceneRetry(ctx, job.ID, scene.Index); err != nil {
				return "", err
			}
			log.Printf("Retrying scene %d of job %s (attempt %d)", scene.Index, job.ID, attempt+1)
		}

		locator, err := w.scenes.GenerateScene(ctx, req)
		if err == nil {
			return locator, nil
		}
		lastErr = err
		if !client.IsRetriable(err) {
			return "", err
		}
	}
	return "", lastErr
}

// generateAudio runs the selected audio tasks in fixed order: voice,
// then music, then sound effects.
func (w *GenerationWorker) generateAudio(ctx context.Context, job *model.GenerationJob) (*model.GenerationJob, error) {
	job, err := w.service.Transition(ctx, job.ID, model.JobStateGeneratingAudio, audioStep(model.AudioKindVoice))
	if err != nil {
		return nil, err
	}
	w.broadcastProgress(job)

	for _, kind := range model.AudioKindOrder {
		task := findAudio(job, kind)
		if task == nil {
			continue
		}

		job, err = w.service.MarkAudioRunning(ctx, job.ID, kind, audioStep(kind))
		if err != nil {
			return nil, err
		}
		w.broadcastProgress(job)

		locator, genErr := w.generateAudioTask(ctx, job, task)
		if genErr != nil {
			msg := fmt.Sprintf("%s generation failed: %v", audioLabel(kind), genErr)
			w.failJob(ctx, job.ID, msg)
			return nil, genErr
		}

		job, err = w.service.CompleteAudioTask(ctx, job.ID, kind, locator)
		if err != nil {
			return nil, err
		}
		w.broadcastProgress(job)
	}

	return job, nil
}

func (w *GenerationWorker) generateAudioTask(ctx context.Context, job *model.GenerationJob, task *model.AudioTask) (string, error) {
	if !w.audio.IsConfigured(task.Kind) {
		return w.composer.PlaceholderAudio(ctx, job.ID, task.Kind, nominalDuration(job.Spec))
	}

	req := &client.AudioRequest{
		JobID:  job.ID,
		Kind:   task.Kind,
		Prompt: task.Prompt,
	}

	var lastErr error
	for attempt := 0; attempt <= w.gen.MaxAudioRetries; attempt++ {
		if attempt > 0 {
			if err := w.service.RecordAudioRetry(ctx, job.ID, task.Kind); err != nil {
				return "", err
			}
			log.Printf("Retrying %s audio of job %s (attempt %d)", task.Kind, job.ID, attempt+1)
		}

		locator, err := w.audio.GenerateAudio(ctx, req)
		if err == nil {
			return locator, nil
		}
		lastErr = err
		if !client.IsRetriable(err) {
			return "", err
		}
	}
	return "", lastErr
}

// composite runs the final composition and completes the job.
func (w *GenerationWorker) composite(ctx context.Context, job *model.GenerationJob) error {
	job, err := w.service.Transition(ctx, job.ID, model.JobStateCompositing, "Finalizing")
	if err != nil {
		return err
	}
	w.broadcastProgress(job)

	sceneLocators := make([]string, len(job.Scenes))
	for i, s := range job.Scenes {
		sceneLocators[i] = s.OutputLocator
	}
	audioLocators := make(map[model.AudioKind]string, len(job.Audio))
	for _, a := range job.Audio {
		audioLocators[a.Kind] = a.OutputLocator
	}

	key, duration, err := w.composer.Compose(ctx, job.ID, sceneLocators, audioLocators, job.Spec)
	if err != nil {
		w.failJob(ctx, job.ID, fmt.Sprintf("Composition failed: %v", err))
		return err
	}

	url := w.storage.GetPublicURL(key)

	job, err = w.service.CompleteJob(ctx, job.ID, url, duration)
	if err != nil {
		return err
	}

	w.hub.BroadcastComplete(job.ID, &model.GenerationResultResponse{
		JobID:           job.ID,
		VideoURL:        job.ResultLocator,
		DurationSeconds: job.ResultSeconds,
		CompletedAt:     *job.CompletedAt,
	})
	return nil
}

func (w *GenerationWorker) failJob(ctx context.Context, jobID, msg string) {
	if err := w.service.FailJob(ctx, jobID, msg); err != nil {
		log.Printf("Failed to fail job %s: %v", jobID, err)
		return
	}
	w.hub.BroadcastError(jobID, "GENERATION_FAILED", msg)
}

func (w *GenerationWorker) broadcastProgress(job *model.GenerationJob) {
	w.hub.BroadcastProgress(job.ID, job.Progress, model.StatusOf(job.State), job.CurrentStep)
}

// continuityRefs collects the outputs of up to two scenes immediately
// before the given one. Earlier scenes always run first, so these are
// already uploaded when the call goes out.
func continuityRefs(job *model.GenerationJob, index int) []string {
	var refs []string
	for i := range job.Scenes {
		s := job.Scenes[i]
		if s.Index >= index || s.Status != model.TaskStatusSucceeded {
			continue
		}
		if index-s.Index <= continuityWindow {
			refs = append(refs, s.OutputLocator)
		}
	}
	return refs
}

func findAudio(job *model.GenerationJob, kind model.AudioKind) *model.AudioTask {
	for i := range job.Audio {
		if job.Audio[i].Kind == kind {
			return &job.Audio[i]
		}
	}
	return nil
}

// nominalDuration is the planned final length before actual clip
// durations are known, used to size synthesized audio.
func nominalDuration(spec model.CompositionSpec) float64 {
	var total float64
	for _, d := range spec.SceneDurations {
		total += d
	}
	if n := len(spec.SceneDurations); n > 1 {
		total -= float64(n-1) * spec.CrossfadeSeconds
	}
	return total
}

func sceneStep(index, total int) string {
	return fmt.Sprintf("Generating scene %d of %d", index, total)
}

func audioStep(kind model.AudioKind) string {
	switch kind {
	case model.AudioKindVoice:
		return "Creating voiceover"
	case model.AudioKindMusic:
		return "Composing background music"
	default:
		return "Adding sound effects"
	}
}

func audioLabel(kind model.AudioKind) string {
	switch kind {
	case model.AudioKindVoice:
		return "Voiceover"
	case model.AudioKindMusic:
		return "Music"
	default:
		return "Sound effect"
	}
}
