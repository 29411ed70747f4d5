// Package ffmpegrender is a render backend that realizes the editorial
// timeline as an output media file by shelling out to ffmpeg: one
// stream-copy cut per clip, then a concat pass when more than one clip
// survives. Effects are validated against a static table of the kinds
// ffmpeg filtering could realize; their per-frame metadata rides along
// in the timeline for a downstream filter pass.
package ffmpegrender

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/vantapoint/ovi/internal/metaform"
	"github.com/vantapoint/ovi/internal/ovierr"
	"github.com/vantapoint/ovi/internal/timeline"
	"github.com/vantapoint/ovi/plugin"
)

var _ plugin.Render = (*Render)(nil)

// effectForms maps the effect kinds this backend understands to the
// detection shape each consumes.
var effectForms = map[string]metaform.MetaForm{
	"marker": metaform.Any,
	"blur":   metaform.Rect,
	"crop":   metaform.Rect,
}

// effectAttrs lists the attribute keys each effect kind may carry,
// beyond the mandatory "name".
var effectAttrs = map[string]map[string]bool{
	"marker": {"color": true, "thickness": true},
	"blur":   {"strength": true},
	"crop":   {},
}

// Render implements plugin.Render via the ffmpeg binary.
type Render struct {
	path   string
	ffmpeg string

	// run executes one command; swapped out by tests.
	run func(name string, args ...string) error
}

// New returns a Render that invokes "ffmpeg" from PATH.
func New() *Render {
	r := &Render{ffmpeg: "ffmpeg"}
	r.run = func(name string, args ...string) error {
		cmd := exec.Command(name, args...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s: %w: %s", name, err, lastLine(out))
		}
		return nil
	}
	return r
}

func (r *Render) Name() string { return "FFmpegRender" }

// SetAttrs applies the frozen attribute map: "path" is the output file,
// "ffmpeg" overrides the binary location.
func (r *Render) SetAttrs(attrs map[string]string) {
	if v, ok := attrs["path"]; ok {
		r.path = v
	}
	if v, ok := attrs["ffmpeg"]; ok {
		r.ffmpeg = v
	}
}

// ValidateEffectAttrs checks an effect's declared kind and attribute
// keys against the supported table.
func (r *Render) ValidateEffectAttrs(attrs map[string]string) error {
	name := attrs["name"]
	if name == "" {
		return ovierr.New(ovierr.NotSupportedEffectAttr, "ffmpegrender: effect info has no name")
	}
	allowed, ok := effectAttrs[name]
	if !ok {
		return ovierr.New(ovierr.NotSupportedEffect, fmt.Sprintf("ffmpegrender: unknown effect %q", name))
	}
	for k := range attrs {
		if k == "name" {
			continue
		}
		if !allowed[k] {
			return ovierr.New(ovierr.NotSupportedEffectAttr,
				fmt.Sprintf("ffmpegrender: effect %q does not accept attribute %q", name, k))
		}
	}
	return nil
}

// EffectMetaForm reports the detection shape an effect kind consumes,
// or None for kinds this backend cannot realize.
func (r *Render) EffectMetaForm(effectName string) metaform.MetaForm {
	form, ok := effectForms[effectName]
	if !ok {
		return metaform.None
	}
	return form
}

// Render cuts each clip out of the source and concatenates the pieces
// into the configured output path. Intermediate files live in a
// temporary directory so a mid-run failure leaves no partial output.
func (r *Render) Render(tl *timeline.Timeline) error {
	if r.path == "" {
		return ovierr.New(ovierr.InvalidParameter, "ffmpegrender: output path is empty")
	}

	clips, err := collectClips(tl)
	if err != nil {
		return err
	}
	if len(clips) == 0 {
		return ovierr.New(ovierr.InvalidOperation, "ffmpegrender: timeline has no clips")
	}

	workDir, err := os.MkdirTemp(filepath.Dir(r.path), ".ffmpegrender-*")
	if err != nil {
		return fmt.Errorf("ffmpegrender: %w", err)
	}
	defer os.RemoveAll(workDir)

	parts := make([]string, len(clips))
	for i, c := range clips {
		parts[i] = filepath.Join(workDir, fmt.Sprintf("part_%03d.mp4", i+1))
		if err := r.run(r.ffmpeg, cutArgs(c, parts[i])...); err != nil {
			return fmt.Errorf("ffmpegrender: cut %d: %w", i+1, err)
		}
	}

	if len(parts) == 1 {
		if err := os.Rename(parts[0], r.path); err != nil {
			return fmt.Errorf("ffmpegrender: %w", err)
		}
		return nil
	}

	if err := r.run(r.ffmpeg, concatArgs(parts, r.path)...); err != nil {
		os.Remove(r.path)
		return fmt.Errorf("ffmpegrender: concat: %w", err)
	}
	return nil
}

// cutSpec is one clip resolved to source seconds.
type cutSpec struct {
	input string
	start float64
	end   float64
}

func collectClips(tl *timeline.Timeline) ([]cutSpec, error) {
	var out []cutSpec
	for _, track := range tl.Tracks() {
		for _, clipID := range track.Clips {
			clip, ok := tl.Clip(clipID)
			if !ok {
				return nil, fmt.Errorf("ffmpegrender: dangling clip id %d", clipID)
			}
			media, ok := tl.MediaRef(clip.Media)
			if !ok {
				return nil, fmt.Errorf("ffmpegrender: dangling media ref %d", clip.Media)
			}
			if media.Framerate <= 0 {
				return nil, fmt.Errorf("ffmpegrender: media %q has no framerate", media.Path)
			}
			start := float64(clip.Range.Start) / media.Framerate
			end := float64(clip.Range.Start+clip.Range.Duration) / media.Framerate
			out = append(out, cutSpec{input: media.Path, start: start, end: end})
		}
	}
	return out, nil
}

func cutArgs(c cutSpec, output string) []string {
	return []string{
		"-y",
		"-ss", timeString(c.start),
		"-to", timeString(c.end),
		"-i", c.input,
		"-c", "copy",
		output,
	}
}

func concatArgs(parts []string, output string) []string {
	args := []string{"-y"}
	for _, p := range parts {
		args = append(args, "-i", p)
	}
	filter := ""
	for i := range parts {
		filter += fmt.Sprintf("[%d:v] [%d:a] ", i, i)
	}
	filter += fmt.Sprintf("concat=n=%d:v=1:a=1 [vv] [aa]", len(parts))
	args = append(args,
		"-filter_complex", filter,
		"-map", "[vv]",
		"-map", "[aa]",
		output,
	)
	return args
}

// timeString formats seconds as HH:MM:SS.mmm for ffmpeg -ss/-to.
func timeString(seconds float64) string {
	ms := int(seconds * 1000)
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func lastLine(out []byte) []byte {
	end := len(out)
	for end > 0 && (out[end-1] == '\n' || out[end-1] == '\r') {
		end--
	}
	start := end
	for start > 0 && out[start-1] != '\n' {
		start--
	}
	return out[start:end]
}
