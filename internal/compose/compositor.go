package compose

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/reena96/bmax-adgenie-563362/internal/client"
	"github.com/reena96/bmax-adgenie-563362/internal/config"
	"github.com/reena96/bmax-adgenie-563362/internal/model"
)

// Composer turns generated assets plus a composition spec into the one
// finished video. Implementations must be deterministic in timing:
// identical inputs and spec yield an output of identical total duration.
type Composer interface {
	Compose(ctx context.Context, jobID string, sceneLocators []string, audioLocators map[model.AudioKind]string, spec model.CompositionSpec) (string, float64, error)
	PlaceholderScene(ctx context.Context, jobID string, index int, seconds float64) (string, error)
	PlaceholderAudio(ctx context.Context, jobID string, kind model.AudioKind, seconds float64) (string, error)
}

// Compositor implements Composer over a scoped working directory and an
// ffmpeg runner. Each composition owns its directory exclusively and
// releases it on every exit path.
type Compositor struct {
	storage client.StorageClient
	runner  *Runner
	workDir string
	gen     *config.GenerationConfig
}

func NewCompositor(storage client.StorageClient, runner *Runner, gen *config.GenerationConfig) *Compositor {
	return &Compositor{
		storage: storage,
		runner:  runner,
		workDir: gen.WorkDir,
		gen:     gen,
	}
}

// Compose fetches all referenced assets, builds and validates the
// timeline from their actual durations, runs the encode, uploads the
// result and returns its locator plus the final duration.
func (c *Compositor) Compose(ctx context.Context, jobID string, sceneLocators []string, audioLocators map[model.AudioKind]string, spec model.CompositionSpec) (string, float64, error) {
	dir, err := os.MkdirTemp(c.workDir, "compose-"+jobID+"-")
	if err != nil {
		return "", 0, &CompositionError{Stage: "workdir", Err: err}
	}
	defer os.RemoveAll(dir)

	scenePaths := make([]string, 0, len(sceneLocators))
	for i, locator := range sceneLocators {
		path := filepath.Join(dir, fmt.Sprintf("scene_%03d.mp4", i+1))
		if err := c.fetch(ctx, locator, path); err != nil {
			return "", 0, err
		}
		scenePaths = append(scenePaths, path)
	}

	overlayPaths := make([]string, 0, len(spec.Overlays))
	for i, ov := range spec.Overlays {
		path := filepath.Join(dir, fmt.Sprintf("overlay_%02d.png", i))
		if err := c.fetch(ctx, ov.ImageLocator, path); err != nil {
			return "", 0, err
		}
		overlayPaths = append(overlayPaths, path)
	}

	var present []model.AudioKind
	var audioPaths []string
	for _, kind := range model.AudioKindOrder {
		locator, ok := audioLocators[kind]
		if !ok {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("audio_%s.mp3", kind))
		if err := c.fetch(ctx, locator, path); err != nil {
			return "", 0, err
		}
		present = append(present, kind)
		audioPaths = append(audioPaths, path)
	}

	// Offsets come from the clips ffmpeg will actually see, not from the
	// requested durations, so cumulative drift cannot creep in.
	durations := make([]float64, 0, len(scenePaths))
	for _, path := range scenePaths {
		dur, err := c.runner.ProbeDuration(ctx, path)
		if err != nil {
			return "", 0, err
		}
		durations = append(durations, dur)
	}

	timeline, err := BuildTimeline(durations, present, spec)
	if err != nil {
		return "", 0, err
	}

	outPath := filepath.Join(dir, "final.mp4")
	args, err := BuildArgs(timeline, scenePaths, overlayPaths, audioPaths, outPath)
	if err != nil {
		return "", 0, err
	}

	log.Printf("[compose] job=%s scenes=%d overlays=%d audio=%d total=%.3fs",
		jobID, len(scenePaths), len(overlayPaths), len(audioPaths), timeline.TotalDuration)

	if err := c.runner.Run(ctx, args); err != nil {
		return "", 0, err
	}

	// Verify before anything is marked available.
	finalDur, err := c.runner.ProbeDuration(ctx, outPath)
	if err != nil {
		return "", 0, err
	}

	out, err := os.Open(outPath)
	if err != nil {
		return "", 0, &CompositionError{Stage: "upload", Err: err}
	}
	defer out.Close()

	key := fmt.Sprintf("jobs/%s/final.mp4", jobID)
	if _, err := c.storage.Upload(ctx, key, out, "video/mp4"); err != nil {
		return "", 0, &CompositionError{Stage: "upload", Err: err}
	}

	return key, finalDur, nil
}

// fetch downloads one stored asset with a small retry budget; a missing
// or unreadable input is fatal for the composition.
func (c *Compositor) fetch(ctx context.Context, locator, path string) error {
	const attempts = 3

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}

		f, err := os.Create(path)
		if err != nil {
			return &CompositionError{Stage: "fetch", Err: err}
		}
		err = c.storage.Download(ctx, locator, f)
		f.Close()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return &CompositionError{Stage: "fetch", Err: fmt.Errorf("asset %s: %w", locator, lastErr)}
}

// PlaceholderScene synthesizes and stores a development stand-in clip
// for one scene when the visual provider is not configured.
func (c *Compositor) PlaceholderScene(ctx context.Context, jobID string, index int, seconds float64) (string, error) {
	dir, err := os.MkdirTemp(c.workDir, "placeholder-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "scene.mp4")
	if err := c.runner.SynthesizeClip(ctx, path, seconds, c.gen.Width, c.gen.Height, c.gen.FPS); err != nil {
		return "", err
	}

	key := fmt.Sprintf("jobs/%s/scenes/%03d.mp4", jobID, index)
	return key, c.uploadFile(ctx, path, key, "video/mp4")
}

// PlaceholderAudio synthesizes and stores a development stand-in track
// for one audio kind when its provider is not configured.
func (c *Compositor) PlaceholderAudio(ctx context.Context, jobID string, kind model.AudioKind, seconds float64) (string, error) {
	dir, err := os.MkdirTemp(c.workDir, "placeholder-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	// Distinct tones per layer make mix levels audible in dev output.
	freq := map[model.AudioKind]int{
		model.AudioKindVoice: 440,
		model.AudioKindMusic: 220,
		model.AudioKindSFX:   880,
	}[kind]

	path := filepath.Join(dir, "audio.mp3")
	if err := c.runner.SynthesizeTone(ctx, path, seconds, freq); err != nil {
		return "", err
	}

	key := fmt.Sprintf("jobs/%s/audio/%s.mp3", jobID, kind)
	return key, c.uploadFile(ctx, path, key, "audio/mpeg")
}

func (c *Compositor) uploadFile(ctx context.Context, path, key, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = c.storage.Upload(ctx, key, f, contentType)
	return err
}
