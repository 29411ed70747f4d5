// Package srtpull is a reference Extractor that pulls a live MPEG-TS
// stream from a remote SRT listener in caller mode and feeds it through
// the transport-stream demuxer. A live source cannot be pre-scanned, so
// the caller supplies the nominal framerate; total frame counts stay
// zero and progress reporting is frame-count only.
package srtpull

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/vantapoint/ovi/extractor/tspack"
	"github.com/vantapoint/ovi/internal/ovierr"
	"github.com/vantapoint/ovi/internal/session"
)

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

const dialTimeout = 10 * time.Second

// Options configure a pull. Framerate defaults to 30 when zero;
// StreamID defaults to "live/" + the bare address.
type Options struct {
	StreamID  string
	Framerate float64
	HasAudio  bool
}

// Extractor streams from one SRT connection. It satisfies
// session.Extractor. Close interrupts a blocked read; the stream then
// reports end-of-stream rather than an error.
type Extractor struct {
	*tspack.Source
	conn   *srtgo.Conn
	closed atomic.Bool
}

// Dial connects to an SRT listener at address and returns an Extractor
// over the pulled stream. The dial itself is bounded by a timeout so a
// dead address fails fast instead of hanging Session.Start.
func Dial(address string, opts Options) (*Extractor, error) {
	if address == "" {
		return nil, ovierr.New(ovierr.InvalidParameter, "srtpull: address is required")
	}

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	if opts.StreamID != "" {
		cfg.StreamID = opts.StreamID
	} else {
		cfg.StreamID = "live/" + address
	}

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(address, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	var conn *srtgo.Conn
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, ovierr.Wrap(ovierr.NotSupportedMedia, fmt.Errorf("srtpull: dial %s: %w", address, res.err))
		}
		conn = res.conn
	case <-timer.C:
		// Drain the dial result in the background and close any leaked
		// connection.
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ovierr.Wrap(ovierr.NotSupportedMedia, fmt.Errorf("srtpull: dial %s timed out after %s", address, dialTimeout))
	}

	framerate := opts.Framerate
	if framerate <= 0 {
		framerate = 30
	}
	e := &Extractor{conn: conn}
	e.Source = tspack.NewSource(&connReader{e: e}, session.MediaInfo{
		HasVideo:       true,
		HasAudio:       opts.HasAudio,
		VideoFramerate: framerate,
		AudioFramerate: framerate,
	})
	return e, nil
}

// Close tears the connection down. A concurrent read unblocks and the
// demuxer sees a clean end of stream.
func (e *Extractor) Close() error {
	e.closed.Store(true)
	return e.conn.Close()
}

// connReader adapts the SRT connection to io.Reader, translating the
// read failure after a deliberate Close into EOF so stopping a live
// session is a clean abort, not a pipeline error.
type connReader struct {
	e *Extractor
}

func (r *connReader) Read(p []byte) (int, error) {
	n, err := r.e.conn.Read(p)
	if err != nil && r.e.closed.Load() {
		return n, io.EOF
	}
	return n, err
}
