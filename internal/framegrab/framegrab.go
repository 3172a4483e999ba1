// Package framegrab extracts a single still frame from a video so that
// screen recordings and clips can be used as queries.
package framegrab

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	ffprobe "gopkg.in/vansante/go-ffprobe.v2"
)

// DefaultProbeTimeout bounds how long ffprobe may take on one file.
const DefaultProbeTimeout = 10 * time.Second

// Grabber grabs the frame at Position (a fraction of the clip's duration).
type Grabber struct {
	Position     float64
	ProbeTimeout time.Duration
}

func New(position float64) *Grabber {
	return &Grabber{Position: position, ProbeTimeout: DefaultProbeTimeout}
}

// Grab implements matcher.FrameGrabber.
func (g *Grabber) Grab(ctx context.Context, path string) (image.Image, error) {
	timeout := g.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := ffprobe.ProbeURL(probeCtx, path)
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", path, err)
	}
	stream := data.FirstVideoStream()
	if stream == nil {
		return nil, errors.New("no video stream found")
	}

	duration := 0.0
	if data.Format != nil {
		duration = data.Format.DurationSeconds
	}
	seek := SeekPosition(duration, g.Position)

	var out, stderr bytes.Buffer
	err = ffmpeg.Input(path, ffmpeg.KwArgs{"ss": fmt.Sprintf("%.3f", seek)}).
		Output("pipe:", ffmpeg.KwArgs{"vframes": 1, "format": "image2", "vcodec": "png"}).
		WithOutput(&out, &stderr).
		Run()
	if err != nil {
		return nil, fmt.Errorf("decoding frame at %.3fs: %w: %s", seek, err, lastLine(stderr.String()))
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no frame at %.3fs", seek)
	}

	frame, err := imaging.Decode(&out)
	if err != nil {
		return nil, fmt.Errorf("decoding grabbed frame: %w", err)
	}
	return frame, nil
}

// SeekPosition converts a fractional position into a timestamp in seconds
// that stays inside a clip of the given duration. Unknown durations seek to 0.
func SeekPosition(duration, position float64) float64 {
	if duration <= 0 {
		return 0
	}
	position = min(max(position, 0), 1)
	// the very last timestamp often has no decodable frame
	const tail = 0.05
	return min(duration*position, max(duration-tail, 0))
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
