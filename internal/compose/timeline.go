package compose

import (
	"fmt"

	"github.com/reena96/bmax-adgenie-563362/internal/model"
)

// CompositionError is fatal and never retried: a malformed timeline or
// an encoding failure indicates a spec-construction or programming
// error, not a transient external condition.
type CompositionError struct {
	Stage string
	Err   error
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("composition failed at %s: %v", e.Stage, e.Err)
}

func (e *CompositionError) Unwrap() error { return e.Err }

// Timeline is the validated intermediate representation of one
// composition: an ordered list of typed operations that is built purely
// from durations and the composition spec, then serialized to the
// target engine's syntax. Keeping the timing logic here isolates it
// from ffmpeg's invocation details.
type Timeline struct {
	Segments      []Segment
	Crossfades    []Crossfade
	Overlays      []OverlayWindow
	Mix           []MixChannel
	TotalDuration float64
	Encoding      model.EncodingParams
}

// Segment is one scene clip on the video track.
type Segment struct {
	Index    int // 1-based scene index
	Duration float64
}

// Crossfade is a timed overlap between two adjacent segments. Offset is
// measured on the stitched track, so the i-th fade starts fade seconds
// before the cumulative end of segment i.
type Crossfade struct {
	Offset   float64
	Duration float64
}

// OverlayWindow shows one reference image during [Start, End).
type OverlayWindow struct {
	Source      int // index into the overlay image list
	Start       float64
	End         float64
	TargetWidth int
	Anchor      model.AnchorPosition
}

// MixChannel is one audio layer at its fixed relative level.
type MixChannel struct {
	Kind  model.AudioKind
	Level float64
}

// BuildTimeline computes the full composition timeline from the actual
// (probed) scene durations and the spec. Offsets accumulate from actual
// durations, not nominal ones, to avoid drift across scenes.
func BuildTimeline(durations []float64, present []model.AudioKind, spec model.CompositionSpec) (*Timeline, error) {
	if len(durations) == 0 {
		return nil, &CompositionError{Stage: "timeline", Err: fmt.Errorf("no scenes")}
	}
	for i, d := range durations {
		if d <= 0 {
			return nil, &CompositionError{Stage: "timeline", Err: fmt.Errorf("scene %d has non-positive duration %.3f", i+1, d)}
		}
	}

	fade := spec.CrossfadeSeconds
	if fade < 0 {
		return nil, &CompositionError{Stage: "timeline", Err: fmt.Errorf("negative crossfade %.3f", fade)}
	}
	if len(durations) > 1 && fade > 0 {
		for i, d := range durations {
			if d <= fade {
				return nil, &CompositionError{Stage: "timeline", Err: fmt.Errorf("scene %d duration %.3f not longer than crossfade %.3f", i+1, d, fade)}
			}
		}
	}

	t := &Timeline{Encoding: spec.Encoding}

	var total float64
	for i, d := range durations {
		t.Segments = append(t.Segments, Segment{Index: i + 1, Duration: d})
		total += d
	}

	// N segments overlap pairwise for fade seconds each, so the stitched
	// track is shorter than the plain sum by (N-1)*fade.
	if fade > 0 {
		var cum float64
		for i := 0; i < len(durations)-1; i++ {
			cum += durations[i]
			t.Crossfades = append(t.Crossfades, Crossfade{
				Offset:   cum - float64(i+1)*fade,
				Duration: fade,
			})
		}
		total -= float64(len(durations)-1) * fade
	}
	t.TotalDuration = total

	for i, ov := range spec.Overlays {
		end := ov.StartSeconds + ov.DurationSeconds
		if ov.StartSeconds < 0 || ov.DurationSeconds <= 0 || end > total {
			return nil, &CompositionError{
				Stage: "timeline",
				Err:   fmt.Errorf("overlay %d window [%.3f,%.3f) outside video duration %.3f", i, ov.StartSeconds, end, total),
			}
		}
		if ov.TargetWidth <= 0 {
			return nil, &CompositionError{Stage: "timeline", Err: fmt.Errorf("overlay %d has non-positive width", i)}
		}
		valid := false
		for _, a := range model.ValidAnchors {
			if ov.Anchor == a {
				valid = true
				break
			}
		}
		if !valid {
			return nil, &CompositionError{Stage: "timeline", Err: fmt.Errorf("overlay %d has unknown anchor %q", i, ov.Anchor)}
		}
		t.Overlays = append(t.Overlays, OverlayWindow{
			Source:      i,
			Start:       ov.StartSeconds,
			End:         end,
			TargetWidth: ov.TargetWidth,
			Anchor:      ov.Anchor,
		})
	}

	hasVoice := false
	for _, kind := range present {
		if kind == model.AudioKindVoice {
			hasVoice = true
		}
		t.Mix = append(t.Mix, MixChannel{Kind: kind, Level: spec.MixLevels.Level(kind)})
	}
	if !hasVoice {
		return nil, &CompositionError{Stage: "timeline", Err: fmt.Errorf("voice track is required")}
	}

	return t, nil
}
