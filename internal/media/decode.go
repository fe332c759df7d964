package media

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"golang.org/x/image/draw"
)

// gifDefaultDelay applies to frames with a zero delay, as browsers do.
const gifDefaultDelay = 100 * time.Millisecond

// decodeWAV returns the clip downmixed to mono float samples.
func decodeWAV(data []byte) ([]float32, float64, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		if err := dec.Err(); err != nil {
			return nil, 0, fmt.Errorf("%w: wav: %v", ErrUnsupportedMedia, err)
		}
		return nil, 0, fmt.Errorf("%w: invalid wav file", ErrUnsupportedMedia)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: wav pcm: %v", ErrUnsupportedMedia, err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 || buf.Format.SampleRate <= 0 {
		return nil, 0, fmt.Errorf("%w: wav format", ErrUnsupportedMedia)
	}
	return downmix(buf, int(dec.BitDepth)), float64(buf.Format.SampleRate), nil
}

func downmix(buf *audio.IntBuffer, bitDepth int) []float32 {
	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	out := make([]float32, frames)

	// 8-bit wav is unsigned
	var offset float64
	full := float64(audio.IntMaxSignedValue(bitDepth))
	if bitDepth == 8 {
		offset = 128
		full = 128
	}

	for i := range out {
		sum := 0.0
		base := i * channels
		for ch := 0; ch < channels; ch++ {
			sum += float64(buf.Data[base+ch]) - offset
		}
		out[i] = float32(sum / float64(channels) / full)
	}
	return out
}

func decodeVideo(ctype string, data []byte) ([]videoFrame, time.Duration, error) {
	if ctype == "image/gif" {
		return decodeGIF(data)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrUnsupportedMedia, ctype, err)
	}
	return []videoFrame{{img: toNRGBA(img)}}, 0, nil
}

// decodeGIF composites every frame onto a full-size canvas, honouring the
// disposal method of the previous frame.
func decodeGIF(data []byte) ([]videoFrame, time.Duration, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: gif: %v", ErrUnsupportedMedia, err)
	}
	if len(g.Image) == 0 {
		return nil, 0, fmt.Errorf("%w: gif has no frames", ErrUnsupportedMedia)
	}

	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		bounds = g.Image[0].Bounds()
		for _, frame := range g.Image[1:] {
			bounds = bounds.Union(frame.Bounds())
		}
	}

	canvas := image.NewNRGBA(bounds)
	frames := make([]videoFrame, 0, len(g.Image))
	var at time.Duration
	for i, frame := range g.Image {
		var disposal byte
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		var previous *image.NRGBA
		if disposal == gif.DisposalPrevious {
			previous = cloneNRGBA(canvas)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		frames = append(frames, videoFrame{img: cloneNRGBA(canvas), start: at})

		delay := gifDefaultDelay
		if i < len(g.Delay) && g.Delay[i] > 0 {
			delay = time.Duration(g.Delay[i]) * 10 * time.Millisecond
		}
		at += delay

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = previous
		}
	}
	return frames, at, nil
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Rect, img, b.Min, draw.Src)
	return out
}

func cloneNRGBA(img *image.NRGBA) *image.NRGBA {
	out := &image.NRGBA{
		Pix:    make([]uint8, len(img.Pix)),
		Stride: img.Stride,
		Rect:   img.Rect,
	}
	copy(out.Pix, img.Pix)
	return out
}
