package compose

import (
	"strings"
	"testing"

	"github.com/reena96/bmax-adgenie-563362/internal/model"
)

func buildTestTimeline(t *testing.T, durations []float64, present []model.AudioKind, spec model.CompositionSpec) *Timeline {
	t.Helper()
	tl, err := BuildTimeline(durations, present, spec)
	if err != nil {
		t.Fatalf("BuildTimeline failed: %v", err)
	}
	return tl
}

func filterGraph(t *testing.T, args []string) string {
	t.Helper()
	for i, a := range args {
		if a == "-filter_complex" && i+1 < len(args) {
			return args[i+1]
		}
	}
	t.Fatal("no -filter_complex in args")
	return ""
}

func TestBuildArgs_CrossfadeChain(t *testing.T) {
	tl := buildTestTimeline(t, []float64{5, 10, 15}, voiceOnly(), specWith(1))

	args, err := BuildArgs(tl,
		[]string{"s0.mp4", "s1.mp4", "s2.mp4"},
		nil,
		[]string{"voice.mp3"},
		"out.mp4",
	)
	if err != nil {
		t.Fatalf("BuildArgs failed: %v", err)
	}

	graph := filterGraph(t, args)
	if !strings.Contains(graph, "xfade=transition=fade:duration=1.000:offset=4.000") {
		t.Errorf("missing first xfade at offset 4: %s", graph)
	}
	if !strings.Contains(graph, "xfade=transition=fade:duration=1.000:offset=13.000") {
		t.Errorf("missing second xfade at offset 13: %s", graph)
	}
	if !strings.Contains(graph, "format=yuv420p[vout]") {
		t.Errorf("missing pixel format normalization: %s", graph)
	}
	if !strings.Contains(graph, "apad,atrim=0:28.000[aout]") {
		t.Errorf("audio not trimmed to video duration: %s", graph)
	}
}

func TestBuildArgs_ZeroFadeUsesConcat(t *testing.T) {
	tl := buildTestTimeline(t, []float64{5, 10}, voiceOnly(), specWith(0))

	args, err := BuildArgs(tl, []string{"s0.mp4", "s1.mp4"}, nil, []string{"voice.mp3"}, "out.mp4")
	if err != nil {
		t.Fatalf("BuildArgs failed: %v", err)
	}

	graph := filterGraph(t, args)
	if strings.Contains(graph, "xfade") {
		t.Errorf("unexpected xfade at fade 0: %s", graph)
	}
	if !strings.Contains(graph, "concat=n=2:v=1:a=0") {
		t.Errorf("expected concat chain: %s", graph)
	}
}

func TestBuildArgs_AudioMix(t *testing.T) {
	present := []model.AudioKind{model.AudioKindVoice, model.AudioKindMusic, model.AudioKindSFX}
	tl := buildTestTimeline(t, []float64{10, 10}, present, specWith(1))

	args, err := BuildArgs(tl,
		[]string{"s0.mp4", "s1.mp4"},
		nil,
		[]string{"voice.mp3", "music.mp3", "sfx.mp3"},
		"out.mp4",
	)
	if err != nil {
		t.Fatalf("BuildArgs failed: %v", err)
	}

	graph := filterGraph(t, args)
	// Audio inputs start after the two scene inputs.
	if !strings.Contains(graph, "[2:a]volume=1.000[a0]") {
		t.Errorf("missing voice channel at full level: %s", graph)
	}
	if !strings.Contains(graph, "[3:a]volume=0.300[a1]") {
		t.Errorf("missing music channel at 0.3: %s", graph)
	}
	if !strings.Contains(graph, "[4:a]volume=0.500[a2]") {
		t.Errorf("missing sfx channel at 0.5: %s", graph)
	}
	if !strings.Contains(graph, "amix=inputs=3:duration=longest:normalize=0") {
		t.Errorf("missing amix stage: %s", graph)
	}
}

func TestBuildArgs_OverlayPlacement(t *testing.T) {
	spec := specWith(0)
	spec.Overlays = []model.OverlaySpec{
		{ImageLocator: "logo.png", StartSeconds: 1, DurationSeconds: 3, Anchor: model.AnchorBottomRight, TargetWidth: 320},
	}
	tl := buildTestTimeline(t, []float64{10}, voiceOnly(), spec)

	args, err := BuildArgs(tl, []string{"s0.mp4"}, []string{"logo.png"}, []string{"voice.mp3"}, "out.mp4")
	if err != nil {
		t.Fatalf("BuildArgs failed: %v", err)
	}

	graph := filterGraph(t, args)
	if !strings.Contains(graph, "[1:v]scale=320:-1[o0]") {
		t.Errorf("overlay not scaled by width: %s", graph)
	}
	if !strings.Contains(graph, "overlay=x=main_w-overlay_w-24:y=main_h-overlay_h-24") {
		t.Errorf("bottom-right anchor not padded from the edge: %s", graph)
	}
	if !strings.Contains(graph, "enable='between(t,1.000,4.000)'") {
		t.Errorf("overlay window not limited in time: %s", graph)
	}
}

func TestBuildArgs_EncodingFlags(t *testing.T) {
	tl := buildTestTimeline(t, []float64{10}, voiceOnly(), specWith(0))

	args, err := BuildArgs(tl, []string{"s0.mp4"}, nil, []string{"voice.mp3"}, "out.mp4")
	if err != nil {
		t.Fatalf("BuildArgs failed: %v", err)
	}

	joined := strings.Join(args, " ")
	for _, want := range []string{"-c:v libx264", "-crf 22", "-c:a aac", "-b:a 192k", "-movflags +faststart"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in args: %s", want, joined)
		}
	}
	if args[len(args)-1] != "out.mp4" {
		t.Errorf("expected output path last, got %q", args[len(args)-1])
	}
}

func TestBuildArgs_CountMismatch(t *testing.T) {
	tl := buildTestTimeline(t, []float64{5, 10}, voiceOnly(), specWith(1))

	if _, err := BuildArgs(tl, []string{"s0.mp4"}, nil, []string{"voice.mp3"}, "out.mp4"); err == nil {
		t.Fatal("expected error for scene file count mismatch")
	}
	if _, err := BuildArgs(tl, []string{"s0.mp4", "s1.mp4"}, nil, nil, "out.mp4"); err == nil {
		t.Fatal("expected error for audio file count mismatch")
	}
}

func TestAnchorExprs(t *testing.T) {
	cases := []struct {
		anchor model.AnchorPosition
		x, y   string
	}{
		{model.AnchorTopLeft, "24", "24"},
		{model.AnchorTopRight, "main_w-overlay_w-24", "24"},
		{model.AnchorBottomLeft, "24", "main_h-overlay_h-24"},
		{model.AnchorBottomRight, "main_w-overlay_w-24", "main_h-overlay_h-24"},
		{model.AnchorCenter, "(main_w-overlay_w)/2", "(main_h-overlay_h)/2"},
	}
	for _, tc := range cases {
		x, y := anchorExprs(tc.anchor)
		if x != tc.x || y != tc.y {
			t.Errorf("%s: expected (%s,%s), got (%s,%s)", tc.anchor, tc.x, tc.y, x, y)
		}
	}
}
