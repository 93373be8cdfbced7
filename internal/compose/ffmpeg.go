package compose

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/reena96/bmax-adgenie-563362/internal/model"
)

// overlayEdgePadding is the fixed pixel inset from the frame edge for
// corner-anchored overlays.
const overlayEdgePadding = 24

// BuildArgs serializes a validated timeline into a single ffmpeg
// invocation. Input order is scenes, then overlay images, then audio
// files; audioPaths must follow the timeline's mix channel order.
func BuildArgs(t *Timeline, scenePaths, overlayPaths, audioPaths []string, outPath string) ([]string, error) {
	if len(scenePaths) != len(t.Segments) {
		return nil, &CompositionError{Stage: "serialize", Err: fmt.Errorf("have %d scene files for %d segments", len(scenePaths), len(t.Segments))}
	}
	if len(overlayPaths) != len(t.Overlays) {
		return nil, &CompositionError{Stage: "serialize", Err: fmt.Errorf("have %d overlay files for %d overlays", len(overlayPaths), len(t.Overlays))}
	}
	if len(audioPaths) != len(t.Mix) {
		return nil, &CompositionError{Stage: "serialize", Err: fmt.Errorf("have %d audio files for %d mix channels", len(audioPaths), len(t.Mix))}
	}

	args := []string{"-y"}
	for _, p := range scenePaths {
		args = append(args, "-i", p)
	}
	for _, p := range overlayPaths {
		args = append(args, "-i", p)
	}
	for _, p := range audioPaths {
		args = append(args, "-i", p)
	}

	var filters []string

	// Normalize every scene to the output geometry so xfade inputs match.
	enc := t.Encoding
	for i := range t.Segments {
		filters = append(filters, fmt.Sprintf(
			"[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d[s%d]",
			i, enc.Width, enc.Height, enc.Width, enc.Height, enc.FPS, i,
		))
	}

	cur := "[s0]"
	switch {
	case len(t.Crossfades) > 0:
		for k, xf := range t.Crossfades {
			out := fmt.Sprintf("[x%d]", k)
			filters = append(filters, fmt.Sprintf(
				"%s[s%d]xfade=transition=fade:duration=%s:offset=%s%s",
				cur, k+1, ffFloat(xf.Duration), ffFloat(xf.Offset), out,
			))
			cur = out
		}
	case len(t.Segments) > 1:
		// Zero crossfade degrades to a plain concat.
		var inputs strings.Builder
		for i := range t.Segments {
			inputs.WriteString(fmt.Sprintf("[s%d]", i))
		}
		filters = append(filters, fmt.Sprintf("%sconcat=n=%d:v=1:a=0[xc]", inputs.String(), len(t.Segments)))
		cur = "[xc]"
	}

	for j, ov := range t.Overlays {
		scaled := fmt.Sprintf("[o%d]", j)
		filters = append(filters, fmt.Sprintf("[%d:v]scale=%d:-1%s", len(t.Segments)+j, ov.TargetWidth, scaled))

		out := fmt.Sprintf("[v%d]", j)
		x, y := anchorExprs(ov.Anchor)
		filters = append(filters, fmt.Sprintf(
			"%s%soverlay=x=%s:y=%s:enable='between(t,%s,%s)'%s",
			cur, scaled, x, y, ffFloat(ov.Start), ffFloat(ov.End), out,
		))
		cur = out
	}

	filters = append(filters, cur+"format=yuv420p[vout]")

	// Audio: fixed per-layer levels, mixed, then padded/trimmed to the
	// exact video duration.
	audioBase := len(t.Segments) + len(t.Overlays)
	var mixInputs strings.Builder
	for c, ch := range t.Mix {
		filters = append(filters, fmt.Sprintf("[%d:a]volume=%s[a%d]", audioBase+c, ffFloat(ch.Level), c))
		mixInputs.WriteString(fmt.Sprintf("[a%d]", c))
	}
	if len(t.Mix) > 1 {
		filters = append(filters, fmt.Sprintf(
			"%samix=inputs=%d:duration=longest:normalize=0,apad,atrim=0:%s[aout]",
			mixInputs.String(), len(t.Mix), ffFloat(t.TotalDuration),
		))
	} else {
		filters = append(filters, fmt.Sprintf("[a0]apad,atrim=0:%s[aout]", ffFloat(t.TotalDuration)))
	}

	args = append(args,
		"-filter_complex", strings.Join(filters, ";"),
		"-map", "[vout]",
		"-map", "[aout]",
		"-c:v", enc.Codec,
		"-preset", "fast",
		"-crf", strconv.Itoa(enc.CRF),
		"-c:a", "aac",
		"-b:a", "192k",
		"-movflags", "+faststart",
		outPath,
	)
	return args, nil
}

func anchorExprs(anchor model.AnchorPosition) (string, string) {
	pad := strconv.Itoa(overlayEdgePadding)
	switch anchor {
	case model.AnchorTopLeft:
		return pad, pad
	case model.AnchorTopRight:
		return "main_w-overlay_w-" + pad, pad
	case model.AnchorBottomLeft:
		return pad, "main_h-overlay_h-" + pad
	case model.AnchorBottomRight:
		return "main_w-overlay_w-" + pad, "main_h-overlay_h-" + pad
	default: // center
		return "(main_w-overlay_w)/2", "(main_h-overlay_h)/2"
	}
}

// ffFloat formats seconds/levels the way ffmpeg filter args expect.
func ffFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// Runner shells out to the ffmpeg/ffprobe binaries.
type Runner struct {
	FFmpegBin  string
	FFprobeBin string
}

func NewRunner(ffmpegBin, ffprobeBin string) *Runner {
	return &Runner{FFmpegBin: ffmpegBin, FFprobeBin: ffprobeBin}
}

// Run executes one ffmpeg invocation, surfacing stderr on failure.
func (r *Runner) Run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, r.FFmpegBin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &CompositionError{Stage: "encode", Err: fmt.Errorf("%w: %s", err, tail(stderr.String(), 512))}
	}
	return nil
}

// ProbeDuration returns the container duration of a media file in
// seconds.
func (r *Runner) ProbeDuration(ctx context.Context, path string) (float64, error) {
	out, err := exec.CommandContext(ctx, r.FFprobeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, &CompositionError{Stage: "probe", Err: fmt.Errorf("ffprobe %s: %w", path, err)}
	}

	var dur float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%f", &dur); err != nil {
		return 0, &CompositionError{Stage: "probe", Err: fmt.Errorf("ffprobe %s: %w", path, err)}
	}
	return dur, nil
}

// SynthesizeClip writes a solid-color placeholder scene clip, used when
// the scene provider is not configured.
func (r *Runner) SynthesizeClip(ctx context.Context, path string, seconds float64, width, height, fps int) error {
	return r.Run(ctx, []string{
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=0x202535:s=%dx%d:d=%s:r=%d", width, height, ffFloat(seconds), fps),
		"-c:v", "libx264",
		"-preset", "fast",
		"-pix_fmt", "yuv420p",
		path,
	})
}

// SynthesizeTone writes a quiet sine-tone placeholder audio file, used
// when an audio provider is not configured.
func (r *Runner) SynthesizeTone(ctx context.Context, path string, seconds float64, freq int) error {
	return r.Run(ctx, []string{
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("sine=frequency=%d:duration=%s", freq, ffFloat(seconds)),
		"-filter:a", "volume=0.2",
		"-c:a", "libmp3lame",
		"-q:a", "4",
		path,
	})
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
