// Package timeline implements the arena-indexed editorial document a
// RenderTask assembles and a render backend consumes: one media
// reference, one track of clips spanning contiguous ranges, and
// per-clip effects carrying per-frame detection metadata.
//
// The graph is flattened into an arena rather than cross-linked with
// pointers: every object gets a stable id and lives in an owned slice
// indexed by that id, cross-references are ids, and a traversal for
// serialization is a straight walk of the slices. No retainer cycles,
// nothing for a render backend to chase.
package timeline

import "fmt"

// MediaRefID, TrackID, ClipID, and EffectID index into a Timeline's
// owned slices. Ids are assigned from zero in append order, so the zero
// value names the first object of its kind.
type MediaRefID int
type TrackID int
type ClipID int
type EffectID int

// MediaType mirrors frame.MediaType without importing internal/frame,
// keeping this package dependency-free for render backends that only
// need the document shape.
type MediaType int

const (
	MediaNone MediaType = iota
	MediaVideo
	MediaAudio
)

// MediaRef is a reference to source media: a path, its framerate, and
// its total frame count.
type MediaRef struct {
	ID         MediaRefID
	Path       string
	Framerate  float64
	TotalFrame int
}

// Range is a contiguous, half-open span of frames: [Start, Start+Duration).
type Range struct {
	Start    int
	Duration int
}

// Effect is a declarative annotation attached to a Clip: which effect
// plugin uid produced it, and the per-frame detection metadata recorded
// against that uid while the range was being accumulated. Metadata is
// keyed by absolute frame number so a render backend can reconstruct
// per-frame overlays without re-running detection.
type Effect struct {
	ID       EffectID
	PluginUID string
	Metadata map[int][]map[string]any
}

// Clip spans Range of MediaRef on a Track, carrying zero or more
// Effects.
type Clip struct {
	ID        ClipID
	Track     TrackID
	Media     MediaRefID
	Range     Range
	EffectIDs []EffectID
}

// Track is an ordered sequence of Clips of one MediaType.
type Track struct {
	ID    TrackID
	Name  string
	Type  MediaType
	Clips []ClipID
}

// Timeline is the complete editorial document: an arena of MediaRefs,
// Tracks, Clips, and Effects, plus a name index so AppendClip can
// resolve tracks by name.
type Timeline struct {
	mediaRefs []MediaRef
	tracks    []Track
	clips     []Clip
	effects   []Effect

	trackByName map[string]TrackID
}

// New returns an empty Timeline.
func New() *Timeline {
	return &Timeline{trackByName: make(map[string]TrackID)}
}

// AddMediaRef appends a new MediaRef and returns its id.
func (t *Timeline) AddMediaRef(path string, framerate float64, totalFrame int) MediaRefID {
	id := MediaRefID(len(t.mediaRefs))
	t.mediaRefs = append(t.mediaRefs, MediaRef{ID: id, Path: path, Framerate: framerate, TotalFrame: totalFrame})
	return id
}

// AddTrack appends a new, empty Track of the given name and type and
// returns its id. Names must be unique; a duplicate name is an error
// since AppendClip resolves tracks by name.
func (t *Timeline) AddTrack(name string, typ MediaType) (TrackID, error) {
	if _, exists := t.trackByName[name]; exists {
		return 0, fmt.Errorf("timeline: track %q already exists", name)
	}
	id := TrackID(len(t.tracks))
	t.tracks = append(t.tracks, Track{ID: id, Name: name, Type: typ})
	t.trackByName[name] = id
	return id, nil
}

// AppendClip appends a clip spanning r of media on the track named
// trackName, with the given effect plugin uids (each becoming an empty
// Effect the caller then populates via EffectAddFrame). Returns the new
// clip's id and the ids of the effects created for it, in the order
// effectUIDs was given.
func (t *Timeline) AppendClip(trackName string, media MediaRefID, r Range, effectUIDs []string) (ClipID, []EffectID, error) {
	trackID, ok := t.trackByName[trackName]
	if !ok {
		return 0, nil, fmt.Errorf("timeline: no track %q", trackName)
	}
	if int(media) < 0 || int(media) >= len(t.mediaRefs) {
		return 0, nil, fmt.Errorf("timeline: invalid media ref %d", media)
	}

	effectIDs := make([]EffectID, 0, len(effectUIDs))
	for _, uid := range effectUIDs {
		eid := EffectID(len(t.effects))
		t.effects = append(t.effects, Effect{ID: eid, PluginUID: uid, Metadata: make(map[int][]map[string]any)})
		effectIDs = append(effectIDs, eid)
	}

	clipID := ClipID(len(t.clips))
	t.clips = append(t.clips, Clip{
		ID:        clipID,
		Track:     trackID,
		Media:     media,
		Range:     r,
		EffectIDs: effectIDs,
	})
	t.tracks[trackID].Clips = append(t.tracks[trackID].Clips, clipID)
	return clipID, effectIDs, nil
}

// EffectAddFrame records one frame's detection items (already converted
// to generic maps by the caller) against an Effect's per-frame metadata.
func (t *Timeline) EffectAddFrame(id EffectID, frameNumber int, items []map[string]any) error {
	if int(id) < 0 || int(id) >= len(t.effects) {
		return fmt.Errorf("timeline: invalid effect %d", id)
	}
	t.effects[id].Metadata[frameNumber] = items
	return nil
}

// MediaRef returns the MediaRef for id.
func (t *Timeline) MediaRef(id MediaRefID) (MediaRef, bool) {
	if int(id) < 0 || int(id) >= len(t.mediaRefs) {
		return MediaRef{}, false
	}
	return t.mediaRefs[id], true
}

// Tracks returns every Track in the timeline, in append order.
func (t *Timeline) Tracks() []Track {
	out := make([]Track, len(t.tracks))
	copy(out, t.tracks)
	return out
}

// Clip returns the Clip for id.
func (t *Timeline) Clip(id ClipID) (Clip, bool) {
	if int(id) < 0 || int(id) >= len(t.clips) {
		return Clip{}, false
	}
	return t.clips[id], true
}

// Effect returns the Effect for id.
func (t *Timeline) Effect(id EffectID) (Effect, bool) {
	if int(id) < 0 || int(id) >= len(t.effects) {
		return Effect{}, false
	}
	return t.effects[id], true
}
