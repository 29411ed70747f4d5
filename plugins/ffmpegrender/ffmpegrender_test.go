package ffmpegrender

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/vantapoint/ovi/internal/metaform"
	"github.com/vantapoint/ovi/internal/timeline"
)

func TestValidateEffectAttrs(t *testing.T) {
	t.Parallel()
	r := New()
	tests := []struct {
		name  string
		attrs map[string]string
		ok    bool
	}{
		{"marker with styling", map[string]string{"name": "marker", "color": "red", "thickness": "2"}, true},
		{"blur", map[string]string{"name": "blur", "strength": "5"}, true},
		{"unknown effect", map[string]string{"name": "sparkle"}, false},
		{"unknown attribute", map[string]string{"name": "blur", "color": "red"}, false},
		{"no name", map[string]string{"color": "red"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := r.ValidateEffectAttrs(tc.attrs)
			if (err == nil) != tc.ok {
				t.Errorf("err = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestEffectMetaForm(t *testing.T) {
	t.Parallel()
	r := New()
	if got := r.EffectMetaForm("blur"); got != metaform.Rect {
		t.Errorf("blur form = %v, want rect", got)
	}
	if got := r.EffectMetaForm("marker"); got != metaform.Any {
		t.Errorf("marker form = %v, want any", got)
	}
	if got := r.EffectMetaForm("sparkle"); got != metaform.None {
		t.Errorf("unknown form = %v, want none", got)
	}
}

func TestCutAndConcatArgs(t *testing.T) {
	t.Parallel()
	args := cutArgs(cutSpec{input: "/media/in.ts", start: 1.5, end: 63.25}, "part_001.mp4")
	want := []string{"-y", "-ss", "00:00:01.500", "-to", "00:01:03.250", "-i", "/media/in.ts", "-c", "copy", "part_001.mp4"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("cutArgs = %v", args)
	}

	cargs := concatArgs([]string{"a.mp4", "b.mp4"}, "out.mp4")
	joined := strings.Join(cargs, " ")
	if !strings.Contains(joined, "concat=n=2:v=1:a=1") {
		t.Errorf("concat filter missing: %s", joined)
	}
	if cargs[len(cargs)-1] != "out.mp4" {
		t.Errorf("output not last: %v", cargs)
	}
}

func TestRenderInvokesCutPerClip(t *testing.T) {
	t.Parallel()
	tl := timeline.New()
	media := tl.AddMediaRef("/media/in.ts", 30, 600)
	if _, err := tl.AddTrack("Track-001", timeline.MediaVideo); err != nil {
		t.Fatalf("AddTrack: %v", err)
	}
	for _, r := range []timeline.Range{{Start: 0, Duration: 60}, {Start: 300, Duration: 30}} {
		if _, _, err := tl.AppendClip("Track-001", media, r, nil); err != nil {
			t.Fatalf("AppendClip: %v", err)
		}
	}

	out := filepath.Join(t.TempDir(), "out.mp4")
	r := New()
	r.SetAttrs(map[string]string{"path": out})

	var calls [][]string
	r.run = func(name string, args ...string) error {
		calls = append(calls, append([]string{name}, args...))
		return nil
	}

	if err := r.Render(tl); err != nil {
		t.Fatalf("Render: %v", err)
	}
	// Two cuts plus one concat.
	if len(calls) != 3 {
		t.Fatalf("got %d ffmpeg invocations, want 3", len(calls))
	}
	if !strings.Contains(strings.Join(calls[2], " "), "concat=n=2") {
		t.Errorf("last call is not the concat: %v", calls[2])
	}
}

func TestRenderEmptyTimeline(t *testing.T) {
	t.Parallel()
	tl := timeline.New()
	r := New()
	r.SetAttrs(map[string]string{"path": filepath.Join(t.TempDir(), "out.mp4")})
	r.run = func(string, ...string) error { return nil }
	if err := r.Render(tl); err == nil {
		t.Error("expected error for clipless timeline")
	}
}
