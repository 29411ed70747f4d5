package otiorender

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/vantapoint/ovi/internal/timeline"
)

func buildTimeline(t *testing.T) *timeline.Timeline {
	t.Helper()
	tl := timeline.New()
	media := tl.AddMediaRef("/media/in.ts", 30, 300)
	if _, err := tl.AddTrack("Track-001", timeline.MediaVideo); err != nil {
		t.Fatalf("AddTrack: %v", err)
	}
	_, effects, err := tl.AppendClip("Track-001", media, timeline.Range{Start: 10, Duration: 50}, []string{"marker.1"})
	if err != nil {
		t.Fatalf("AppendClip: %v", err)
	}
	if err := tl.EffectAddFrame(effects[0], 12, []map[string]any{{"x": 1.0, "y": 2.0, "w": 3.0, "h": 4.0}}); err != nil {
		t.Fatalf("EffectAddFrame: %v", err)
	}
	return tl
}

func TestRenderWritesDocument(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out.otio")

	r := New()
	r.SetAttrs(map[string]string{"path": path})
	if err := r.Render(buildTimeline(t)); err != nil {
		t.Fatalf("Render: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var doc jsonTimeline
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc.Schema != "Timeline.1" {
		t.Errorf("schema = %q", doc.Schema)
	}
	if len(doc.Tracks.Children) != 1 {
		t.Fatalf("got %d tracks, want 1", len(doc.Tracks.Children))
	}
	track := doc.Tracks.Children[0]
	if track.Kind != "Video" {
		t.Errorf("track kind = %q", track.Kind)
	}
	if len(track.Children) != 1 {
		t.Fatalf("got %d clips, want 1", len(track.Children))
	}
	clip := track.Children[0]
	if clip.SourceRange.StartTime.Value != 10 || clip.SourceRange.Duration.Value != 50 {
		t.Errorf("source range = %+v", clip.SourceRange)
	}
	if clip.MediaReference.TargetURL != "/media/in.ts" {
		t.Errorf("target url = %q", clip.MediaReference.TargetURL)
	}
	if len(clip.Effects) != 1 || clip.Effects[0].Name != "marker.1" {
		t.Fatalf("effects = %+v", clip.Effects)
	}
	if _, ok := clip.Effects[0].Metadata["12"]; !ok {
		t.Error("per-frame metadata for frame 12 missing")
	}
}

func TestRenderRequiresPath(t *testing.T) {
	t.Parallel()
	r := New()
	if err := r.Render(buildTimeline(t)); err == nil {
		t.Error("expected error with no output path")
	}
}

func TestValidateEffectAttrs(t *testing.T) {
	t.Parallel()
	r := New()
	if err := r.ValidateEffectAttrs(map[string]string{"name": "marker"}); err != nil {
		t.Errorf("named effect rejected: %v", err)
	}
	if err := r.ValidateEffectAttrs(map[string]string{"color": "red"}); err == nil {
		t.Error("nameless effect accepted")
	}
}
