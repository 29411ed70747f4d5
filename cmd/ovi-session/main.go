// Command ovi-session runs one analysis+render pass over a media file:
// it registers the built-in plugins named by the expression, compiles
// the expression, starts a session, and waits for the render to finish.
//
//	ovi-session -media in.ts -expr "audiolevel | ~ sceneboundary : marker" \
//	    -render otio -out out.otio
//
// Media paths starting with srt:// are pulled live over SRT instead of
// read from disk. The optional -control flag starts an HTTP/3 status
// server alongside the session.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vantapoint/ovi/extractor/srtpull"
	"github.com/vantapoint/ovi/extractor/tsfile"
	"github.com/vantapoint/ovi/internal/certs"
	"github.com/vantapoint/ovi/internal/control"
	"github.com/vantapoint/ovi/internal/registry"
	"github.com/vantapoint/ovi/internal/session"
	"github.com/vantapoint/ovi/plugins/audiolevel"
	"github.com/vantapoint/ovi/plugins/captiondetect"
	"github.com/vantapoint/ovi/plugins/ffmpegrender"
	"github.com/vantapoint/ovi/plugins/marker"
	"github.com/vantapoint/ovi/plugins/otiorender"
	"github.com/vantapoint/ovi/plugins/sceneboundary"
)

var version = "dev"

// attrFlags collects repeated -attr name:key=value assignments.
type attrFlags map[string]map[string]string

func (a attrFlags) String() string { return fmt.Sprintf("%v", map[string]map[string]string(a)) }

func (a attrFlags) Set(v string) error {
	name, kv, ok := strings.Cut(v, ":")
	if !ok {
		return fmt.Errorf("want name:key=value, got %q", v)
	}
	key, value, ok := strings.Cut(kv, "=")
	if !ok {
		return fmt.Errorf("want name:key=value, got %q", v)
	}
	if a[name] == nil {
		a[name] = make(map[string]string)
	}
	a[name][key] = value
	return nil
}

func main() {
	mediaPath := flag.String("media", "", "input media path or srt:// address")
	expr := flag.String("expr", "", "plugin-link expression over built-in plugin names")
	renderName := flag.String("render", "otio", "render backend: otio or ffmpeg")
	outPath := flag.String("out", "", "output path")
	skip := flag.Int("skip", 0, "extra video frames to skip per analyzed frame")
	controlAddr := flag.String("control", "", "optional HTTP/3 control server address, e.g. :4444")
	attrs := attrFlags{}
	flag.Var(attrs, "attr", "plugin attribute, name:key=value (repeatable)")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *mediaPath == "" || *expr == "" || *outPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	slog.Info("ovi-session starting", "version", version, "media", *mediaPath, "render", *renderName)

	if err := run(*mediaPath, *expr, *renderName, *outPath, *skip, *controlAddr, attrs); err != nil {
		slog.Error("session failed", "error", err)
		os.Exit(1)
	}
}

func run(mediaPath, expr, renderName, outPath string, skip int, controlAddr string, attrs attrFlags) error {
	reg := registry.New(nil)

	factory := session.ExtractorFactory(tsfile.Factory)
	if strings.HasPrefix(mediaPath, "srt://") {
		addr := strings.TrimPrefix(mediaPath, "srt://")
		factory = func(string) (session.Extractor, error) {
			return srtpull.Dial(addr, srtpull.Options{HasAudio: true})
		}
	}

	sess := session.New(nil, reg, factory)

	renderUID, err := registerRender(sess, renderName)
	if err != nil {
		return err
	}

	tokens, err := registerExpression(sess, reg, expr, attrs)
	if err != nil {
		return err
	}

	st := &status{sess: sess, reg: reg}

	done := make(chan error, 1)
	var once sync.Once
	finish := func(err error) { once.Do(func() { done <- err }) }

	var sawAnalysis bool
	if err := sess.OnStateChanged(func(s session.State) {
		slog.Info("state changed", "state", s)
		if s == session.Analysis {
			sawAnalysis = true
		}
		if s == session.Idle && sawAnalysis {
			finish(nil)
		}
	}); err != nil {
		return err
	}
	if err := sess.OnError(func(err error) { finish(err) }); err != nil {
		return err
	}
	if err := sess.OnProgress(func(frameNum, total int) {
		p := fmt.Sprintf("%d/%d", frameNum, total)
		st.setProgress(p)
		slog.Debug("progress", "frames", p)
	}); err != nil {
		return err
	}

	if err := sess.SetMediaPath(mediaPath); err != nil {
		return err
	}
	if err := sess.SetOutputPath(outPath); err != nil {
		return err
	}
	if err := sess.SetRender(renderUID); err != nil {
		return err
	}
	if err := sess.SetSkipVideoFrames(skip); err != nil {
		return err
	}
	if err := sess.RegisterExpression(tokens); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, stopping", "signal", sig)
		if err := sess.Stop(); err != nil {
			slog.Debug("stop", "error", err)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	if controlAddr != "" {
		cert, err := certs.Generate(14 * 24 * time.Hour)
		if err != nil {
			return fmt.Errorf("generate cert: %w", err)
		}
		slog.Info("certificate generated", "fingerprint", cert.FingerprintBase64())
		srv, err := control.NewServer(nil, control.Config{Addr: controlAddr, Cert: cert, Status: st})
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Start(ctx) })
	}

	if err := sess.Start(); err != nil {
		cancel()
		g.Wait()
		return err
	}

	var sessErr error
	select {
	case sessErr = <-done:
	case <-ctx.Done():
		sessErr = ctx.Err()
	}
	cancel()
	if err := g.Wait(); err != nil {
		slog.Error("control server error", "error", err)
	}
	if sessErr != nil {
		return sessErr
	}

	slog.Info("session complete", "output", outPath)
	return nil
}

// registerRender registers the named render backend and returns its uid.
func registerRender(sess *session.Session, name string) (string, error) {
	switch name {
	case "otio":
		return sess.AddPlugin("OTIORender", registry.TypeRender, nil, registry.MetaNone, otiorender.New())
	case "ffmpeg":
		return sess.AddPlugin("FFmpegRender", registry.TypeRender, nil, registry.MetaNone, ffmpegrender.New())
	default:
		return "", fmt.Errorf("unknown render backend %q", name)
	}
}

// registerExpression registers every built-in plugin the expression
// names (once per name) and returns the token stream rewritten from
// names to uids.
func registerExpression(sess *session.Session, reg *registry.Registry, expr string, attrs attrFlags) ([]string, error) {
	raw := strings.Fields(expr)
	uids := make(map[string]string)

	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		switch tok {
		case "&", "|", ":", "~":
			out = append(out, tok)
			continue
		}
		uid, ok := uids[tok]
		if !ok {
			var err error
			uid, err = registerBuiltin(sess, tok, attrs[tok])
			if err != nil {
				return nil, err
			}
			uids[tok] = uid
		}
		out = append(out, uid)
	}
	return out, nil
}

func registerBuiltin(sess *session.Session, name string, attrs map[string]string) (string, error) {
	var (
		uid string
		err error
	)
	switch name {
	case "audiolevel":
		p := audiolevel.New()
		uid, err = sess.AddPlugin("AudioLevel", registry.TypeAudioDetect, p.AcceptedFormats(), p.MetaForm(), p)
	case "captiondetect":
		p := captiondetect.New()
		uid, err = sess.AddPlugin("CaptionDetect", registry.TypeVideoDetect, p.AcceptedFormats(), p.MetaForm(), p)
	case "sceneboundary":
		p := sceneboundary.New()
		uid, err = sess.AddPlugin("SceneBoundary", registry.TypeVideoDetect, p.AcceptedFormats(), p.MetaForm(), p)
	case "marker":
		p := marker.New()
		uid, err = sess.AddPlugin("Marker", registry.TypeVideoEffect, nil, registry.MetaAny, p)
		if err == nil {
			err = sess.SetPluginAttrs(uid, p.EffectInfo())
		}
	default:
		return "", fmt.Errorf("unknown plugin %q in expression", name)
	}
	if err != nil {
		return "", err
	}
	if len(attrs) > 0 {
		if err := sess.SetPluginAttrs(uid, attrs); err != nil {
			return "", err
		}
	}
	return uid, nil
}

// status adapts the session to the control server's Status interface.
type status struct {
	sess *session.Session
	reg  *registry.Registry

	mu       sync.Mutex
	progress string
}

func (s *status) setProgress(p string) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
}

func (s *status) StateString() string { return s.sess.State().String() }

func (s *status) ProgressString() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *status) Plugins() []registry.Summary {
	var out []registry.Summary
	s.reg.ForEach(func(p registry.Summary) bool {
		out = append(out, p)
		return true
	})
	return out
}

func (s *status) Stop() error { return s.sess.Stop() }
