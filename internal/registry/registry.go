// Package registry tracks loaded plugin handles by uid and exposes the
// lookup, attribute, and conformance-validation surface the logic
// analyzer, data flow worker, and session rely on. A Session owns its
// own Registry instance; nothing here is process-global, which keeps
// two sessions in one process from seeing each other's plugins.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/vantapoint/ovi/internal/metaform"
)

// Type classifies a loaded plugin's role in the pipeline.
type Type int

const (
	TypeNone Type = iota
	TypeVideoDetect
	TypeVideoEffect
	TypeAudioDetect
	TypeAudioEffect
	TypeRender
)

func (t Type) String() string {
	switch t {
	case TypeVideoDetect:
		return "video-detect"
	case TypeVideoEffect:
		return "video-effect"
	case TypeAudioDetect:
		return "audio-detect"
	case TypeAudioEffect:
		return "audio-effect"
	case TypeRender:
		return "render"
	default:
		return "none"
	}
}

// IsEffect reports whether t is an effect plugin type (declarative,
// never invoked by the data flow worker during analysis).
func (t Type) IsEffect() bool { return t == TypeVideoEffect || t == TypeAudioEffect }

// MetaForm is re-exported from internal/metaform for callers that only
// import registry.
type MetaForm = metaform.MetaForm

const (
	MetaNone    = metaform.None
	MetaAny     = metaform.Any
	MetaDouble  = metaform.Double
	MetaString  = metaform.String
	MetaRect    = metaform.Rect
	MetaRectTag = metaform.RectTag
)

// Behavior is the opaque plugin implementation a Handle wraps. Concrete
// plugins implement the subset of Process/Effect/Render they need; the
// data flow worker and render task type-assert to the interface their
// call site requires.
type Behavior interface {
	// Name returns a human-readable plugin implementation name, used in
	// log lines and error messages.
	Name() string
}

// Handle is a loaded plugin: its identity, classification, and behavior.
// Uniqueness is `name + "." + seq`, assigned at registration time.
// Attrs are mutated only while the owning Session is Idle, and copied
// into the Behavior once at Session.Start via ApplyAttrsToAll.
type Handle struct {
	UID       string
	Type      Type
	Formats   []int
	Meta      MetaForm
	Attrs     map[string]string
	Behavior  Behavior
}

// Registry owns a set of loaded plugin Handles, keyed by uid.
type Registry struct {
	log *slog.Logger

	mu      sync.RWMutex
	plugins map[string]*Handle
	seq     int
}

// New creates an empty Registry. If log is nil, slog.Default() is used.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:     log.With("component", "registry"),
		plugins: make(map[string]*Handle),
	}
}

// Register loads a new plugin instance under the given name, assigning it
// a fresh uid, and returns the uid.
func (r *Registry) Register(name string, typ Type, formats []int, meta MetaForm, behavior Behavior) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	uid := fmt.Sprintf("%s.%d", name, r.seq)
	r.plugins[uid] = &Handle{
		UID:      uid,
		Type:     typ,
		Formats:  formats,
		Meta:     meta,
		Attrs:    make(map[string]string),
		Behavior: behavior,
	}
	r.log.Debug("plugin registered", "uid", uid, "type", typ)
	return uid
}

// Exists reports whether uid names a registered plugin.
func (r *Registry) Exists(uid string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plugins[uid]
	return ok
}

// Find returns the Handle for uid, or an error if it is not registered.
func (r *Registry) Find(uid string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.plugins[uid]
	if !ok {
		return nil, fmt.Errorf("registry: no plugin %q", uid)
	}
	return h, nil
}

// SetAttrs merges attrs into uid's attribute map. Callers (Session) are
// responsible for rejecting this call outside the Idle state.
func (r *Registry) SetAttrs(uid string, attrs map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.plugins[uid]
	if !ok {
		return fmt.Errorf("registry: no plugin %q", uid)
	}
	for k, v := range attrs {
		h.Attrs[k] = v
	}
	return nil
}

// Validate rejects plugins that require a stream the media does not have.
func (r *Registry) Validate(hasVideo, hasAudio bool) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for uid, h := range r.plugins {
		if !hasVideo && (h.Type == TypeVideoDetect || h.Type == TypeVideoEffect) {
			return fmt.Errorf("registry: %s requires a video stream but media has none", uid)
		}
		if !hasAudio && (h.Type == TypeAudioDetect || h.Type == TypeAudioEffect) {
			return fmt.Errorf("registry: %s requires an audio stream but media has none", uid)
		}
	}
	return nil
}

// RenderBehavior is the subset of a render plugin's Behavior the registry
// needs to validate effect attribute maps at Session.Start.
type RenderBehavior interface {
	Behavior
	ValidateEffectAttrs(attrs map[string]string) error
	EffectMetaForm(effectName string) MetaForm
}

// ValidateAttrs delegates each effect plugin's attribute map to the
// render backend named by renderUID for conformance checking.
func (r *Registry) ValidateAttrs(renderUID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	renderHandle, ok := r.plugins[renderUID]
	if !ok {
		return fmt.Errorf("registry: no render plugin %q", renderUID)
	}
	renderObj, ok := renderHandle.Behavior.(RenderBehavior)
	if !ok {
		return fmt.Errorf("registry: %q is not a render backend", renderUID)
	}

	for uid, h := range r.plugins {
		if !h.Type.IsEffect() {
			continue
		}
		if len(h.Attrs) == 0 {
			return fmt.Errorf("registry: no effect info for %q", uid)
		}
		if err := renderObj.ValidateEffectAttrs(h.Attrs); err != nil {
			return fmt.Errorf("registry: effect attrs for %q: %w", uid, err)
		}
	}
	return nil
}

// AttrSetter is implemented by a plugin Behavior that accepts its frozen
// attribute map at Session.Start.
type AttrSetter interface {
	SetAttrs(map[string]string)
}

// ApplyAttrs pushes uid's current attribute map into its Behavior. Used
// by the render task for attributes that only become known after
// Session.Start froze the rest (the output path).
func (r *Registry) ApplyAttrs(uid string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.plugins[uid]
	if !ok {
		return fmt.Errorf("registry: no plugin %q", uid)
	}
	if setter, ok := h.Behavior.(AttrSetter); ok {
		setter.SetAttrs(h.Attrs)
	}
	return nil
}

// ApplyAttrsToAll pushes each plugin's attribute map into its Behavior.
// Called once, at Session.Start, after ValidateAttrs succeeds.
func (r *Registry) ApplyAttrsToAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.plugins {
		if len(h.Attrs) == 0 {
			continue
		}
		if setter, ok := h.Behavior.(AttrSetter); ok {
			setter.SetAttrs(h.Attrs)
		}
	}
}

// MetaFormOf returns the MetaForm a uid produces/accepts. For a render
// plugin, effectName selects which of its accepted effect kinds to
// report; effectName is ignored for all other plugin types.
func (r *Registry) MetaFormOf(uid, effectName string) MetaForm {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.plugins[uid]
	if !ok {
		return MetaNone
	}
	if h.Type == TypeRender {
		if renderObj, ok := h.Behavior.(RenderBehavior); ok {
			return renderObj.EffectMetaForm(effectName)
		}
		return MetaNone
	}
	return h.Meta
}

// TypeOf returns uid's plugin Type, or TypeNone if uid is not registered.
func (r *Registry) TypeOf(uid string) Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.plugins[uid]
	if !ok {
		return TypeNone
	}
	return h.Type
}

// Name returns uid's Behavior.Name(), used by the logic analyzer to map
// an effect uid to the effect-kind name a render backend recognizes.
func (r *Registry) Name(uid string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.plugins[uid]
	if !ok {
		return "", false
	}
	return h.Behavior.Name(), true
}

// Attr returns a single attribute value for uid.
func (r *Registry) Attr(uid, key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.plugins[uid]
	if !ok {
		return "", false
	}
	v, ok := h.Attrs[key]
	return v, ok
}

// Summary is a self-description of a registered plugin, used by ForEach
// and the control server's plugin listing.
type Summary struct {
	UID  string
	Name string
	Type Type
}

// ForEach invokes fn for every registered plugin, sorted by uid for
// deterministic iteration, stopping early if fn returns false.
func (r *Registry) ForEach(fn func(Summary) bool) {
	r.mu.RLock()
	uids := make([]string, 0, len(r.plugins))
	for uid := range r.plugins {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	snapshots := make([]Summary, 0, len(uids))
	for _, uid := range uids {
		h := r.plugins[uid]
		snapshots = append(snapshots, Summary{UID: uid, Name: h.Behavior.Name(), Type: h.Type})
	}
	r.mu.RUnlock()

	for _, s := range snapshots {
		if !fn(s) {
			return
		}
	}
}

// AttrForEach invokes fn for every attribute key/value pair on uid.
func (r *Registry) AttrForEach(uid string, fn func(key, value string) bool) {
	r.mu.RLock()
	h, ok := r.plugins[uid]
	var pairs map[string]string
	if ok {
		pairs = make(map[string]string, len(h.Attrs))
		for k, v := range h.Attrs {
			pairs[k] = v
		}
	}
	r.mu.RUnlock()

	for k, v := range pairs {
		if !fn(k, v) {
			return
		}
	}
}
