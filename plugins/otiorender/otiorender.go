// Package otiorender is a render backend that serializes the editorial
// timeline to an OpenTimelineIO-style JSON document instead of producing
// media. It accepts any effect and any detection shape, which makes it
// the natural backend for inspecting what an expression decided.
package otiorender

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vantapoint/ovi/internal/metaform"
	"github.com/vantapoint/ovi/internal/ovierr"
	"github.com/vantapoint/ovi/internal/timeline"
	"github.com/vantapoint/ovi/plugin"
)

var _ plugin.Render = (*Render)(nil)

// Render implements plugin.Render. The "path" attribute names the output
// JSON file.
type Render struct {
	path string
}

// New returns an unconfigured Render; the session sets its path
// attribute before invoking it.
func New() *Render {
	return &Render{}
}

func (r *Render) Name() string { return "OTIORender" }

// SetAttrs applies the frozen attribute map.
func (r *Render) SetAttrs(attrs map[string]string) {
	if v, ok := attrs["path"]; ok {
		r.path = v
	}
}

// ValidateEffectAttrs accepts any effect that declares a name.
func (r *Render) ValidateEffectAttrs(attrs map[string]string) error {
	if attrs["name"] == "" {
		return fmt.Errorf("otiorender: effect info has no name")
	}
	return nil
}

// EffectMetaForm accepts every detection shape for every effect.
func (r *Render) EffectMetaForm(string) metaform.MetaForm { return metaform.Any }

// rationalTime and timeRange mirror OTIO's RationalTime/TimeRange JSON.
type rationalTime struct {
	Schema string  `json:"OTIO_SCHEMA"`
	Rate   float64 `json:"rate"`
	Value  float64 `json:"value"`
}

type timeRange struct {
	Schema    string       `json:"OTIO_SCHEMA"`
	Duration  rationalTime `json:"duration"`
	StartTime rationalTime `json:"start_time"`
}

type jsonEffect struct {
	Schema     string         `json:"OTIO_SCHEMA"`
	Name       string         `json:"name"`
	EffectName string         `json:"effect_name"`
	Metadata   map[string]any `json:"metadata"`
}

type jsonMediaRef struct {
	Schema         string    `json:"OTIO_SCHEMA"`
	TargetURL      string    `json:"target_url"`
	AvailableRange timeRange `json:"available_range"`
}

type jsonClip struct {
	Schema         string       `json:"OTIO_SCHEMA"`
	Name           string       `json:"name"`
	SourceRange    timeRange    `json:"source_range"`
	MediaReference jsonMediaRef `json:"media_reference"`
	Effects        []jsonEffect `json:"effects"`
}

type jsonTrack struct {
	Schema   string     `json:"OTIO_SCHEMA"`
	Name     string     `json:"name"`
	Kind     string     `json:"kind"`
	Children []jsonClip `json:"children"`
}

type jsonTimeline struct {
	Schema string `json:"OTIO_SCHEMA"`
	Name   string `json:"name"`
	Tracks struct {
		Schema   string      `json:"OTIO_SCHEMA"`
		Children []jsonTrack `json:"children"`
	} `json:"tracks"`
}

// Render serializes tl to the configured path. The file is written to a
// temporary sibling and renamed into place so a failure never leaves a
// partial document behind.
func (r *Render) Render(tl *timeline.Timeline) error {
	if r.path == "" {
		return ovierr.New(ovierr.InvalidParameter, "otiorender: output path is empty")
	}

	doc, err := build(tl)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("otiorender: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".otio-*")
	if err != nil {
		return fmt.Errorf("otiorender: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("otiorender: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("otiorender: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("otiorender: %w", err)
	}
	return nil
}

func build(tl *timeline.Timeline) (*jsonTimeline, error) {
	doc := &jsonTimeline{Schema: "Timeline.1", Name: "ovi"}
	doc.Tracks.Schema = "Stack.1"

	for _, track := range tl.Tracks() {
		jt := jsonTrack{Schema: "Track.1", Name: track.Name, Kind: kindOf(track.Type)}
		for _, clipID := range track.Clips {
			clip, ok := tl.Clip(clipID)
			if !ok {
				return nil, fmt.Errorf("otiorender: dangling clip id %d", clipID)
			}
			media, ok := tl.MediaRef(clip.Media)
			if !ok {
				return nil, fmt.Errorf("otiorender: dangling media ref %d", clip.Media)
			}

			jc := jsonClip{
				Schema: "Clip.1",
				Name:   fmt.Sprintf("clip-%d", clip.ID),
				SourceRange: newRange(media.Framerate,
					float64(clip.Range.Start), float64(clip.Range.Duration)),
				MediaReference: jsonMediaRef{
					Schema:         "ExternalReference.1",
					TargetURL:      media.Path,
					AvailableRange: newRange(media.Framerate, 0, float64(media.TotalFrame)),
				},
			}

			for _, effectID := range clip.EffectIDs {
				effect, ok := tl.Effect(effectID)
				if !ok {
					return nil, fmt.Errorf("otiorender: dangling effect id %d", effectID)
				}
				meta := make(map[string]any, len(effect.Metadata))
				for frameNum, items := range effect.Metadata {
					meta[strconv.Itoa(frameNum)] = items
				}
				jc.Effects = append(jc.Effects, jsonEffect{
					Schema:     "Effect.1",
					Name:       effect.PluginUID,
					EffectName: effect.PluginUID,
					Metadata:   meta,
				})
			}
			jt.Children = append(jt.Children, jc)
		}
		doc.Tracks.Children = append(doc.Tracks.Children, jt)
	}
	return doc, nil
}

func newRange(rate, start, duration float64) timeRange {
	return timeRange{
		Schema:    "TimeRange.1",
		Duration:  rationalTime{Schema: "RationalTime.1", Rate: rate, Value: duration},
		StartTime: rationalTime{Schema: "RationalTime.1", Rate: rate, Value: start},
	}
}

func kindOf(t timeline.MediaType) string {
	if t == timeline.MediaAudio {
		return "Audio"
	}
	return "Video"
}
