// Package session implements the Session state machine: the single
// entry point a caller configures, starts, and tears down. It owns the
// plugin registry, the compiled expression, the data-flow worker, and
// the render task, and is the only place callbacks (error, progress,
// stateChanged) fire from.
package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/vantapoint/ovi/internal/accumulate"
	"github.com/vantapoint/ovi/internal/avsync"
	"github.com/vantapoint/ovi/internal/flow"
	"github.com/vantapoint/ovi/internal/logic"
	"github.com/vantapoint/ovi/internal/ovierr"
	"github.com/vantapoint/ovi/internal/perf"
	"github.com/vantapoint/ovi/internal/registry"
	"github.com/vantapoint/ovi/internal/render"
	"github.com/vantapoint/ovi/internal/timeline"
)

// State is the Session's coarse lifecycle state.
type State int

const (
	Idle State = iota
	Analysis
	Render
)

func (s State) String() string {
	switch s {
	case Analysis:
		return "analysis"
	case Render:
		return "render"
	default:
		return "idle"
	}
}

// MediaInfo describes the streams an Extractor found in the source
// media, used to validate plugin requirements and size the timeline.
type MediaInfo struct {
	HasVideo         bool
	HasAudio         bool
	VideoFramerate   float64
	VideoTotalFrames int
	AudioFramerate   float64
	AudioTotalFrames int
}

// Extractor is the media-reading contract a Session drives. It composes
// avsync.Extractor (the synchronizer's view) with a MediaInfo call used
// once, at Start, to validate plugin requirements and size the timeline.
type Extractor interface {
	avsync.Extractor
	MediaInfo() MediaInfo
}

// ExtractorFactory builds an Extractor for a media path, called once at
// Start. It should return an *ovierr.Error with NoSuchFile,
// PermissionDenied, or NotSupportedMedia on failure.
type ExtractorFactory func(mediaPath string) (Extractor, error)

// Renderer is the render backend plugin's Render behavior, consulted
// only during the RENDER state.
type Renderer interface {
	Render(tl *timeline.Timeline) error
}

// Session is not safe for concurrent configuration calls from multiple
// goroutines; the caller thread alone is expected to perform
// configuration and lifecycle calls, per the concurrency model.
type Session struct {
	log *slog.Logger

	mu    sync.Mutex
	state State

	registry  *registry.Registry
	analyzer  *logic.Analyzer
	tokens    []string

	mediaPath  string
	outputPath string
	renderUID  string
	skipFrames int

	newExtractor ExtractorFactory

	onError        func(error)
	onProgress     func(frameNum, total int)
	onStateChanged func(State)

	worker  *flow.Worker
	acc     *accumulate.Accumulator
	timer   *perf.Timer
	stopped bool
}

// New creates an Idle Session. reg is the caller's plugin registry;
// newExtractor builds an Extractor for the configured media path at
// Start.
func New(log *slog.Logger, reg *registry.Registry, newExtractor ExtractorFactory) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		log:          log.With("component", "session"),
		registry:     reg,
		newExtractor: newExtractor,
		timer:        perf.New(log),
	}
}

// State returns the Session's current state. Legal in any state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnError, OnProgress, and OnStateChanged register the Session's user
// callbacks. Legal only in Idle.
func (s *Session) OnError(cb func(error)) error {
	return s.configure(func() { s.onError = cb })
}

func (s *Session) OnProgress(cb func(frameNum, total int)) error {
	return s.configure(func() { s.onProgress = cb })
}

func (s *Session) OnStateChanged(cb func(State)) error {
	return s.configure(func() { s.onStateChanged = cb })
}

// SetMediaPath sets the input media path. Legal only in Idle.
func (s *Session) SetMediaPath(path string) error {
	return s.configure(func() { s.mediaPath = path })
}

// SetOutputPath sets the render output path. Legal only in Idle.
func (s *Session) SetOutputPath(path string) error {
	return s.configure(func() { s.outputPath = path })
}

// SetRender names the uid of the registered render backend plugin.
// Legal only in Idle.
func (s *Session) SetRender(uid string) error {
	return s.configure(func() { s.renderUID = uid })
}

// SetSkipVideoFrames sets how many extra video frames the worker fetches
// and discards (keeping only the last) per outer iteration. Legal only
// in Idle.
func (s *Session) SetSkipVideoFrames(n int) error {
	return s.configure(func() { s.skipFrames = n })
}

// AddPlugin registers a new plugin instance and returns its uid. Legal
// only in Idle.
func (s *Session) AddPlugin(name string, typ registry.Type, formats []int, meta registry.MetaForm, behavior registry.Behavior) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return "", ovierr.New(ovierr.InvalidState, "AddPlugin is only legal in Idle")
	}
	return s.registry.Register(name, typ, formats, meta, behavior), nil
}

// SetPluginAttrs merges attrs into uid's attribute map. Legal only in
// Idle; attrs are frozen into each plugin's behavior at Start.
func (s *Session) SetPluginAttrs(uid string, attrs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return ovierr.New(ovierr.InvalidState, "SetPluginAttrs is only legal in Idle")
	}
	if err := s.registry.SetAttrs(uid, attrs); err != nil {
		return ovierr.Wrap(ovierr.InvalidParameter, err)
	}
	return nil
}

// RegisterExpression validates and compiles a token stream into the
// logic analyzer. Legal only in Idle.
func (s *Session) RegisterExpression(tokens []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return ovierr.New(ovierr.InvalidState, "RegisterExpression is only legal in Idle")
	}
	a, err := logic.Compile(tokens, s.registry)
	if err != nil {
		return ovierr.Wrap(ovierr.InvalidParameter, err)
	}
	s.analyzer = a
	s.tokens = tokens
	return nil
}

// configure runs fn while holding the lock, after checking the Session
// is Idle; used by the single-field setters above.
func (s *Session) configure(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return ovierr.New(ovierr.InvalidState, "configuration methods are only legal in Idle")
	}
	fn()
	return nil
}

// Start validates configuration, builds the extractor, and spawns the
// DataFlow worker. Validation order: link check, extractor build,
// stream requirements, effect attrs, attr freeze.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle {
		return ovierr.New(ovierr.InvalidState, "Start is only legal in Idle")
	}
	if s.analyzer == nil {
		return ovierr.New(ovierr.InvalidParameter, "no expression registered")
	}
	if s.renderUID == "" {
		return ovierr.New(ovierr.InvalidParameter, "no render backend set")
	}
	if s.outputPath == "" {
		return ovierr.New(ovierr.InvalidParameter, "no output path set")
	}
	if s.mediaPath == "" {
		return ovierr.New(ovierr.InvalidParameter, "no media path set")
	}

	if err := s.analyzer.ValidateLink(s.renderUID, s.registry); err != nil {
		return err
	}

	ext, err := s.newExtractor(s.mediaPath)
	if err != nil {
		return err
	}
	info := ext.MediaInfo()

	if err := s.registry.Validate(info.HasVideo, info.HasAudio); err != nil {
		return ovierr.Wrap(ovierr.NotSupportedMedia, err)
	}
	if err := s.registry.ValidateAttrs(s.renderUID); err != nil {
		return ovierr.Wrap(ovierr.NotSupportedEffectAttr, err)
	}
	s.registry.ApplyAttrsToAll()

	s.acc = accumulate.New()
	sync := avsync.New(ext)

	framerate := info.VideoFramerate
	totalFrames := info.VideoTotalFrames
	if !info.HasVideo {
		framerate = info.AudioFramerate
		totalFrames = info.AudioTotalFrames
	}

	s.worker = flow.New(s.log, sync, s.analyzer, s.registry, s.acc, s.skipFrames, totalFrames, s.progressCb)

	// state flips synchronously so Start's caller observes Analysis on
	// return, but the stateChanged callback itself fires from the worker
	// goroutine — user callbacks never run on the caller's thread.
	s.state = Analysis
	s.stopped = false
	s.timer.Start("analysis")

	go s.runAnalysis(info, framerate, totalFrames)
	return nil
}

// Stop requests the worker to exit. Legal only in Analysis.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Analysis {
		return ovierr.New(ovierr.InvalidState, "Stop is only legal in Analysis")
	}
	s.stopped = true
	s.worker.Stop()
	return nil
}

// Destroy is idempotent: in Analysis it behaves like Stop; in Render it
// lets the render task finish; it never raises an error.
func (s *Session) Destroy() {
	s.mu.Lock()
	state := s.state
	worker := s.worker
	s.mu.Unlock()

	if state == Analysis && worker != nil {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		worker.Stop()
	}
	// Render completes asynchronously on its own goroutine; Destroy does
	// not block waiting for it, matching "never throws from the
	// destructor path" — a caller wanting to block until idle should
	// watch OnStateChanged.
}

func (s *Session) progressCb(frameNum, total int) {
	s.mu.Lock()
	cb := s.onProgress
	s.mu.Unlock()
	if cb != nil {
		cb(frameNum, total)
	}
}

// transition updates the state and fires onStateChanged from outside
// the lock. Only the worker and render goroutines call it; the
// Idle->Analysis flip happens synchronously in Start, with the callback
// deferred to the worker goroutine so user callbacks never run on the
// caller's thread.
func (s *Session) transition(st State) {
	s.mu.Lock()
	s.state = st
	cb := s.onStateChanged
	s.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

// fail reports err through the user error callback, then returns to
// Idle: exactly one error callback and one stateChanged(Idle) per
// failure path.
func (s *Session) fail(err error) {
	s.mu.Lock()
	cb := s.onError
	s.mu.Unlock()
	if cb != nil {
		cb(err)
	}
	s.transition(Idle)
}

// runAnalysis drives the worker to completion, then either launches the
// render task (on success) or reports the error and returns to Idle.
func (s *Session) runAnalysis(info MediaInfo, framerate float64, totalFrames int) {
	s.mu.Lock()
	cb := s.onStateChanged
	s.mu.Unlock()
	if cb != nil {
		cb(Analysis)
	}

	err := s.worker.Run()
	s.timer.Stop("analysis")

	if err != nil {
		s.fail(err)
		return
	}

	s.mu.Lock()
	stopped := s.stopped
	task := &render.Task{
		MediaPath:   s.mediaPath,
		Framerate:   framerate,
		TotalFrames: totalFrames,
		PrimaryType: timeline.MediaVideo,
		Registry:    s.registry,
		Raw:         s.acc.Raw(),
		RenderUID:   s.renderUID,
		OutputPath:  s.outputPath,
	}
	renderUID := s.renderUID
	s.mu.Unlock()

	if stopped {
		// Clean cancel: the worker's last error code was None, so this is
		// a non-error transition back to Idle with no render stage.
		s.transition(Idle)
		return
	}
	if !info.HasVideo {
		task.PrimaryType = timeline.MediaAudio
	}

	s.transition(Render)
	s.timer.Start("render")
	go s.runRender(task, renderUID)
}

func (s *Session) runRender(task *render.Task, renderUID string) {
	h, err := s.registry.Find(renderUID)
	if err != nil {
		s.finishRender(fmt.Errorf("session: render backend: %w", err))
		return
	}
	renderer, ok := h.Behavior.(Renderer)
	if !ok {
		s.finishRender(fmt.Errorf("session: %q does not implement Render", renderUID))
		return
	}
	s.finishRender(task.Run(renderer))
}

func (s *Session) finishRender(err error) {
	s.timer.Stop("render")
	if err != nil {
		s.fail(err)
		return
	}
	s.transition(Idle)
}

