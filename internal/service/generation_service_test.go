package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/reena96/bmax-adgenie-563362/internal/config"
	"github.com/reena96/bmax-adgenie-563362/internal/model"
	"github.com/reena96/bmax-adgenie-563362/internal/store"
)

// fakeEnqueuer records enqueued tasks instead of talking to Redis.
type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: uuid.New().String(), Queue: "generation"}, nil
}

// hookStore wraps a JobStore so a test can interleave a concurrent
// write into a mutation's load/save window and observe deletes.
type hookStore struct {
	store.JobStore
	onGet   func()
	saved   []string
	deleted []string
}

func (s *hookStore) Get(ctx context.Context, jobID string) (*model.GenerationJob, error) {
	job, err := s.JobStore.Get(ctx, jobID)
	if hook := s.onGet; hook != nil {
		s.onGet = nil
		hook()
	}
	return job, err
}

func (s *hookStore) Save(ctx context.Context, job *model.GenerationJob) error {
	s.saved = append(s.saved, job.ID)
	return s.JobStore.Save(ctx, job)
}

func (s *hookStore) Delete(ctx context.Context, jobID string) error {
	s.deleted = append(s.deleted, jobID)
	return s.JobStore.Delete(ctx, jobID)
}

func testGenConfig() *config.GenerationConfig {
	return &config.GenerationConfig{
		PollIntervalSeconds: 1,
		SceneTimeoutSeconds: 10,
		AudioTimeoutSeconds: 10,
		MaxSceneRetries:     2,
		MaxAudioRetries:     2,
		CrossfadeSeconds:    1.0,
		VoiceLevel:          1.0,
		MusicLevel:          0.3,
		SFXLevel:            0.5,
		Codec:               "libx264",
		CRF:                 22,
		Width:               1920,
		Height:              1080,
		FPS:                 30,
	}
}

func testService(t *testing.T) (*GenerationService, *store.MemoryStore, *fakeEnqueuer) {
	t.Helper()
	st := store.NewMemoryStore()
	enq := &fakeEnqueuer{}
	return NewGenerationService(st, enq, testGenConfig()), st, enq
}

func validStartRequest() *model.GenerationStartRequest {
	return &model.GenerationStartRequest{
		ScriptID:      uuid.New().String(),
		Storyline:     "A runner laces up before dawn",
		VoiceoverText: "Start your day before it starts you.",
		MusicPrompt:   "uplifting electronic",
		Scenes: []model.SceneInput{
			{DurationSeconds: 5, VisualPrompt: "city street at dawn"},
			{DurationSeconds: 10, VisualPrompt: "runner stretching"},
			{DurationSeconds: 15, VisualPrompt: "running over a bridge"},
		},
	}
}

func TestSubmit_CreatesPendingJob(t *testing.T) {
	svc, st, enq := testService(t)
	ctx := context.Background()

	resp, err := svc.Submit(ctx, validStartRequest())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if resp.JobID == "" {
		t.Fatal("expected a job ID")
	}
	if resp.Status != model.JobStatusPending {
		t.Errorf("expected status pending, got %s", resp.Status)
	}

	job, err := st.Get(ctx, resp.JobID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if job.State != model.JobStatePending {
		t.Errorf("expected state pending, got %s", job.State)
	}
	if len(job.Scenes) != 3 {
		t.Errorf("expected 3 scene tasks, got %d", len(job.Scenes))
	}
	for i, s := range job.Scenes {
		if s.Index != i+1 {
			t.Errorf("scene %d has index %d", i, s.Index)
		}
		if s.Status != model.TaskStatusPending {
			t.Errorf("scene %d not pending: %s", s.Index, s.Status)
		}
	}

	// Voice always, music selected by prompt, no sfx prompt given.
	if len(job.Audio) != 2 {
		t.Fatalf("expected 2 audio tasks, got %d", len(job.Audio))
	}
	if job.Audio[0].Kind != model.AudioKindVoice || job.Audio[1].Kind != model.AudioKindMusic {
		t.Errorf("unexpected audio kinds: %v, %v", job.Audio[0].Kind, job.Audio[1].Kind)
	}

	if job.TotalSteps() != 6 {
		t.Errorf("expected 6 total steps, got %d", job.TotalSteps())
	}

	if len(enq.tasks) != 1 {
		t.Fatalf("expected 1 enqueued task, got %d", len(enq.tasks))
	}
	if enq.tasks[0].Type() != TaskTypeGeneration {
		t.Errorf("unexpected task type %s", enq.tasks[0].Type())
	}
	var payload struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(enq.tasks[0].Payload(), &payload); err != nil {
		t.Fatalf("bad task payload: %v", err)
	}
	if payload.JobID != resp.JobID {
		t.Errorf("task payload references %s, expected %s", payload.JobID, resp.JobID)
	}
}

func TestSubmit_SpecFromConfigDefaults(t *testing.T) {
	svc, st, _ := testService(t)
	ctx := context.Background()

	resp, err := svc.Submit(ctx, validStartRequest())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	job, _ := st.Get(ctx, resp.JobID)
	if job.Spec.CrossfadeSeconds != 1.0 {
		t.Errorf("expected crossfade 1.0, got %v", job.Spec.CrossfadeSeconds)
	}
	if job.Spec.MixLevels.Music != 0.3 {
		t.Errorf("expected music level 0.3, got %v", job.Spec.MixLevels.Music)
	}
	if job.Spec.Encoding.Codec != "libx264" || job.Spec.Encoding.Width != 1920 {
		t.Errorf("unexpected encoding params: %+v", job.Spec.Encoding)
	}
	if len(job.Spec.SceneDurations) != 3 || job.Spec.SceneDurations[2] != 15 {
		t.Errorf("unexpected scene durations: %v", job.Spec.SceneDurations)
	}
}

func TestSubmit_RejectsOverlayPastEnd(t *testing.T) {
	svc, _, enq := testService(t)

	req := validStartRequest()
	// Nominal total is 5+10+15 - 2*1 = 28 seconds.
	req.Overlays = []model.OverlayInput{
		{ImageLocator: "jobs/x/logo.png", StartSeconds: 25, DurationSeconds: 10, Anchor: model.AnchorCenter, TargetWidth: 320},
	}

	if _, err := svc.Submit(context.Background(), req); err == nil {
		t.Fatal("expected error for overlay past the video end")
	}
	if len(enq.tasks) != 0 {
		t.Error("no task should be enqueued for a rejected submission")
	}
}

func TestSubmit_EnqueueFailure(t *testing.T) {
	st := &hookStore{JobStore: store.NewMemoryStore()}
	enq := &fakeEnqueuer{err: errors.New("redis down")}
	svc := NewGenerationService(st, enq, testGenConfig())
	ctx := context.Background()

	if _, err := svc.Submit(ctx, validStartRequest()); err == nil {
		t.Fatal("expected error when enqueue fails")
	}

	// The saved record must not linger with no task to drive it.
	if len(st.saved) != 1 {
		t.Fatalf("expected 1 save, got %d", len(st.saved))
	}
	if len(st.deleted) != 1 || st.deleted[0] != st.saved[0] {
		t.Fatalf("expected the saved job to be deleted, saved=%v deleted=%v", st.saved, st.deleted)
	}
	if _, err := st.Get(ctx, st.saved[0]); !errors.Is(err, store.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound for the orphaned job, got %v", err)
	}
}

func TestGetStatus_Projection(t *testing.T) {
	svc, st, _ := testService(t)
	ctx := context.Background()

	resp, _ := svc.Submit(ctx, validStartRequest())

	status, err := svc.GetStatus(ctx, resp.JobID)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.Status != model.JobStatusPending {
		t.Errorf("expected pending, got %s", status.Status)
	}
	if status.Progress != 0 {
		t.Errorf("expected progress 0, got %d", status.Progress)
	}
	if status.ResultLocator != "" || status.ErrorMessage != "" {
		t.Error("pending job must not expose result or error")
	}

	// Move through the worker path and re-project.
	if _, err := svc.Transition(ctx, resp.JobID, model.JobStateGeneratingScenes, "Generating scene 1 of 3"); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	status, _ = svc.GetStatus(ctx, resp.JobID)
	if status.Status != model.JobStatusProcessing {
		t.Errorf("expected processing, got %s", status.Status)
	}
	if status.CurrentStep != "Generating scene 1 of 3" {
		t.Errorf("unexpected step %q", status.CurrentStep)
	}
	if status.StartedAt == nil {
		t.Error("expected startedAt once generation began")
	}

	job, _ := st.Get(ctx, resp.JobID)
	if job.State != model.JobStateGeneratingScenes {
		t.Errorf("state not persisted: %s", job.State)
	}
}

func TestGetStatus_NotFound(t *testing.T) {
	svc, _, _ := testService(t)

	_, err := svc.GetStatus(context.Background(), uuid.New().String())
	if !errors.Is(err, store.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestProgress_MonotonicThroughSteps(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	resp, _ := svc.Submit(ctx, validStartRequest())
	jobID := resp.JobID

	last := 0
	check := func(job *model.GenerationJob) {
		if job.Progress < last {
			t.Errorf("progress went backwards: %d -> %d", last, job.Progress)
		}
		last = job.Progress
	}

	job, err := svc.Transition(ctx, jobID, model.JobStateGeneratingScenes, "Generating scene 1 of 3")
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	check(job)

	for i := 1; i <= 3; i++ {
		job, err = svc.CompleteSceneTask(ctx, jobID, i, fmt.Sprintf("jobs/x/scenes/%03d.mp4", i))
		if err != nil {
			t.Fatalf("CompleteSceneTask %d failed: %v", i, err)
		}
		check(job)
	}
	// 3 of 6 steps done.
	if job.Progress != 50 {
		t.Errorf("expected progress 50 after scenes, got %d", job.Progress)
	}

	job, _ = svc.Transition(ctx, jobID, model.JobStateGeneratingAudio, "Creating voiceover")
	check(job)
	job, err = svc.CompleteAudioTask(ctx, jobID, model.AudioKindVoice, "jobs/x/audio/voice.mp3")
	if err != nil {
		t.Fatalf("CompleteAudioTask failed: %v", err)
	}
	check(job)
	job, _ = svc.CompleteAudioTask(ctx, jobID, model.AudioKindMusic, "jobs/x/audio/music.mp3")
	check(job)

	job, _ = svc.Transition(ctx, jobID, model.JobStateCompositing, "Finalizing")
	check(job)
	if job.Progress >= 100 {
		t.Errorf("progress must stay below 100 before completion, got %d", job.Progress)
	}

	job, err = svc.CompleteJob(ctx, jobID, "https://cdn.example.com/jobs/x/final.mp4", 28.02)
	if err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	check(job)
	if job.Progress != 100 {
		t.Errorf("expected progress 100 on completion, got %d", job.Progress)
	}
	if job.CompletedAt == nil {
		t.Error("expected completedAt on completion")
	}
}

func TestGetResult_OnlyWhenCompleted(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	resp, _ := svc.Submit(ctx, validStartRequest())

	if _, err := svc.GetResult(ctx, resp.JobID); !errors.Is(err, ErrJobNotCompleted) {
		t.Fatalf("expected ErrJobNotCompleted, got %v", err)
	}

	if _, err := svc.Transition(ctx, resp.JobID, model.JobStateCompositing, "Finalizing"); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if _, err := svc.CompleteJob(ctx, resp.JobID, "https://cdn.example.com/final.mp4", 28.0); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	result, err := svc.GetResult(ctx, resp.JobID)
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if result.VideoURL != "https://cdn.example.com/final.mp4" {
		t.Errorf("unexpected video URL %q", result.VideoURL)
	}
	if result.DurationSeconds != 28.0 {
		t.Errorf("unexpected duration %v", result.DurationSeconds)
	}
}

func TestCancel_PendingJob(t *testing.T) {
	svc, st, _ := testService(t)
	ctx := context.Background()

	resp, _ := svc.Submit(ctx, validStartRequest())

	cancelResp, err := svc.Cancel(ctx, resp.JobID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if !cancelResp.Success {
		t.Error("expected success")
	}
	if cancelResp.Status != model.JobStatusFailed {
		t.Errorf("expected failed status, got %s", cancelResp.Status)
	}

	job, _ := st.Get(ctx, resp.JobID)
	if job.Error == nil || *job.Error != "Generation canceled by user" {
		t.Errorf("unexpected error message: %v", job.Error)
	}
}

func TestCancel_TerminalJob(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	resp, _ := svc.Submit(ctx, validStartRequest())
	if _, err := svc.Cancel(ctx, resp.JobID); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}

	if _, err := svc.Cancel(ctx, resp.JobID); !errors.Is(err, ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal on second cancel, got %v", err)
	}
}

func TestMutatorsGuardTerminalState(t *testing.T) {
	svc, st, _ := testService(t)
	ctx := context.Background()

	resp, _ := svc.Submit(ctx, validStartRequest())
	jobID := resp.JobID

	if _, err := svc.Cancel(ctx, jobID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	// A provider result arriving after cancellation must be discarded.
	if _, err := svc.CompleteSceneTask(ctx, jobID, 1, "jobs/x/scenes/001.mp4"); !errors.Is(err, ErrJobTerminal) {
		t.Errorf("expected ErrJobTerminal from CompleteSceneTask, got %v", err)
	}
	if _, err := svc.Transition(ctx, jobID, model.JobStateGeneratingAudio, "Creating voiceover"); !errors.Is(err, ErrJobTerminal) {
		t.Errorf("expected ErrJobTerminal from Transition, got %v", err)
	}
	if _, err := svc.CompleteJob(ctx, jobID, "u", 1); !errors.Is(err, ErrJobTerminal) {
		t.Errorf("expected ErrJobTerminal from CompleteJob, got %v", err)
	}

	// FailJob on a terminal job is a no-op, not an error.
	if err := svc.FailJob(ctx, jobID, "late failure"); err != nil {
		t.Errorf("FailJob on terminal job should be a no-op, got %v", err)
	}

	job, _ := st.Get(ctx, jobID)
	if job.Scenes[0].OutputLocator != "" {
		t.Error("late scene result must not be recorded")
	}
	if *job.Error != "Generation canceled by user" {
		t.Errorf("cancellation reason overwritten: %q", *job.Error)
	}
}

func TestCancel_DuringSceneCompletionWins(t *testing.T) {
	mem := store.NewMemoryStore()
	st := &hookStore{JobStore: mem}
	svc := NewGenerationService(st, &fakeEnqueuer{}, testGenConfig())
	ctx := context.Background()

	resp, err := svc.Submit(ctx, validStartRequest())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	jobID := resp.JobID
	if _, err := svc.Transition(ctx, jobID, model.JobStateGeneratingScenes, "Generating scene 1 of 3"); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	// The cancel lands after CompleteSceneTask loaded the record but
	// before it saves. The stale save must lose, not overwrite.
	st.onGet = func() {
		if _, err := svc.Cancel(ctx, jobID); err != nil {
			t.Fatalf("Cancel failed: %v", err)
		}
	}

	if _, err := svc.CompleteSceneTask(ctx, jobID, 1, "jobs/x/scenes/001.mp4"); !errors.Is(err, ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal from the raced completion, got %v", err)
	}

	job, _ := mem.Get(ctx, jobID)
	if job.State != model.JobStateFailed {
		t.Errorf("expected failed state after cancel, got %s", job.State)
	}
	if job.Error == nil || *job.Error != "Generation canceled by user" {
		t.Errorf("cancellation reason lost: %v", job.Error)
	}
	if job.Scenes[0].OutputLocator != "" {
		t.Error("raced scene result must not be recorded")
	}
}

func TestRecordSceneRetry(t *testing.T) {
	svc, st, _ := testService(t)
	ctx := context.Background()

	resp, _ := svc.Submit(ctx, validStartRequest())

	if err := svc.RecordSceneRetry(ctx, resp.JobID, 2); err != nil {
		t.Fatalf("RecordSceneRetry failed: %v", err)
	}
	if err := svc.RecordSceneRetry(ctx, resp.JobID, 2); err != nil {
		t.Fatalf("RecordSceneRetry failed: %v", err)
	}

	job, _ := st.Get(ctx, resp.JobID)
	if job.Scenes[1].RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", job.Scenes[1].RetryCount)
	}
	if job.Scenes[0].RetryCount != 0 {
		t.Errorf("retry recorded on wrong scene")
	}
}
