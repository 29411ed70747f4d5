// Package tsfile is a reference Extractor over a local MPEG-TS file. It
// pre-scans the file once to learn the stream layout, frame counts, and
// framerates, then re-reads it frame by frame during analysis. No video
// or audio decoding happens; frames carry compressed payloads.
package tsfile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/vantapoint/ovi/extractor/tspack"
	"github.com/vantapoint/ovi/internal/ovierr"
	"github.com/vantapoint/ovi/internal/session"
	"github.com/vantapoint/ovi/internal/tsdemux"
)

// Extractor reads one TS file. It satisfies session.Extractor.
type Extractor struct {
	*tspack.Source
	f *os.File
}

// Open pre-scans path and returns an Extractor positioned at the first
// frame. Error codes follow the session taxonomy: NoSuchFile,
// PermissionDenied, or NotSupportedMedia.
func Open(path string) (*Extractor, error) {
	info, err := scan(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, openErr(path, err)
	}
	return &Extractor{Source: tspack.NewSource(f, info), f: f}, nil
}

// Factory is the session.ExtractorFactory for TS files.
func Factory(mediaPath string) (session.Extractor, error) {
	return Open(mediaPath)
}

// Close releases the underlying file.
func (e *Extractor) Close() error { return e.f.Close() }

func openErr(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ovierr.Wrap(ovierr.NoSuchFile, fmt.Errorf("tsfile: %w", err))
	case errors.Is(err, fs.ErrPermission):
		return ovierr.Wrap(ovierr.PermissionDenied, fmt.Errorf("tsfile: %w", err))
	default:
		return ovierr.Wrap(ovierr.NotSupportedMedia, fmt.Errorf("tsfile: open %s: %w", path, err))
	}
}

// scan demuxes the whole file once, counting frames per stream and
// deriving framerates from first/last presentation timestamps.
func scan(path string) (session.MediaInfo, error) {
	var info session.MediaInfo

	f, err := os.Open(path)
	if err != nil {
		return info, openErr(path, err)
	}
	defer f.Close()

	d := tsdemux.New(f)
	var (
		vCount, aCount             int
		vFirst, vLast, aFirst, aLast int64 = -1, -1, -1, -1
	)
	for {
		u, err := d.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return info, ovierr.Wrap(ovierr.NotSupportedMedia, fmt.Errorf("tsfile: scan %s: %w", path, err))
		}
		switch u.Kind {
		case tsdemux.KindVideo:
			vCount++
			if u.PTS != tsdemux.NoPTS {
				if vFirst < 0 {
					vFirst = u.PTS
				}
				vLast = u.PTS
			}
		case tsdemux.KindAudio:
			aCount++
			if u.PTS != tsdemux.NoPTS {
				if aFirst < 0 {
					aFirst = u.PTS
				}
				aLast = u.PTS
			}
		}
	}

	if vCount == 0 && aCount == 0 {
		return info, ovierr.New(ovierr.NotSupportedMedia,
			fmt.Sprintf("tsfile: %s carries no video or audio stream", path))
	}

	info.HasVideo = vCount > 0
	info.HasAudio = aCount > 0
	info.VideoTotalFrames = vCount
	info.AudioTotalFrames = aCount
	info.VideoFramerate = rate(vCount, vFirst, vLast)
	info.AudioFramerate = rate(aCount, aFirst, aLast)
	return info, nil
}

// rate estimates frames per second over the span of observed timestamps,
// falling back to a nominal 30 when the span is degenerate.
func rate(count int, first, last int64) float64 {
	if count < 2 || first < 0 || last <= first {
		if count > 0 {
			return 30
		}
		return 0
	}
	seconds := float64(last-first) / 90000.0
	return float64(count-1) / seconds
}
