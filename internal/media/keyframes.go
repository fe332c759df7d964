package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"
)

// FrameSampler gives random access to a video's frames.
type FrameSampler interface {
	Duration() (time.Duration, bool)
	FrameAt(t time.Duration) image.Image
}

// Keyframe is a thumbnail captured at a point in a clip.
type Keyframe struct {
	At    time.Duration
	Image *image.NRGBA
	JPEG  []byte
}

const (
	DefaultKeyframeCount = 4
	keyframeOffset       = time.Second
	keyframeScale        = 4
)

var ErrNoFrames = errors.New("no frames to sample")

// ExtractKeyframes samples count frames at i*duration/count plus one second,
// clamped to the clip, and encodes quarter-size JPEG thumbnails.
func ExtractKeyframes(src FrameSampler, count int) ([]Keyframe, error) {
	if count <= 0 {
		count = DefaultKeyframeCount
	}
	duration, ok := src.Duration()
	if !ok {
		duration = 0
	}
	interval := duration / time.Duration(count)

	out := make([]Keyframe, 0, count)
	for i := 0; i < count; i++ {
		at := time.Duration(i)*interval + keyframeOffset
		if duration > 0 && at >= duration {
			at = duration - time.Millisecond
		}
		if at < 0 {
			at = 0
		}
		frame := src.FrameAt(at)
		if frame == nil {
			return nil, fmt.Errorf("keyframe %d at %s: %w", i, at, ErrNoFrames)
		}
		thumb := thumbnail(frame)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 92}); err != nil {
			return nil, fmt.Errorf("encode keyframe %d: %w", i, err)
		}
		out = append(out, Keyframe{At: at, Image: thumb, JPEG: buf.Bytes()})
	}
	return out, nil
}

func thumbnail(src image.Image) *image.NRGBA {
	b := src.Bounds()
	w := max(1, b.Dx()/keyframeScale)
	h := max(1, b.Dy()/keyframeScale)
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Rect, src, b, draw.Src, nil)
	return dst
}
