//go:build sdl

package render

import (
	"fmt"
	"image"
	"unsafe"

	"github.com/veandco/go-sdl2/sdl"
)

// Window presents canvases in an SDL window.
type Window struct {
	title    string
	window   *sdl.Window
	renderer *sdl.Renderer
	texture  *sdl.Texture
	width    int
	height   int
	status   string
}

// NewWindow opens a width x height window.
func NewWindow(title string, width, height int) (*Window, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrEmptyCanvas, width, height)
	}
	if err := sdl.InitSubSystem(sdl.INIT_VIDEO); err != nil {
		return nil, fmt.Errorf("sdl init: %w", err)
	}
	w := &Window{title: title}
	window, err := sdl.CreateWindow(
		title,
		sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED,
		int32(width), int32(height),
		sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE,
	)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("sdl window: %w", err)
	}
	w.window = window
	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED|sdl.RENDERER_PRESENTVSYNC)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("sdl renderer: %w", err)
	}
	w.renderer = renderer
	return w, nil
}

func (w *Window) ensureTexture(width, height int) error {
	if w.texture != nil && w.width == width && w.height == height {
		return nil
	}
	if w.texture != nil {
		w.texture.Destroy()
		w.texture = nil
	}
	tex, err := w.renderer.CreateTexture(
		sdl.PIXELFORMAT_ABGR8888,
		sdl.TEXTUREACCESS_STREAMING,
		int32(width), int32(height),
	)
	if err != nil {
		return err
	}
	// keyed pixels show the cleared background
	_ = tex.SetBlendMode(sdl.BLENDMODE_BLEND)
	_ = w.renderer.SetLogicalSize(int32(width), int32(height))
	w.texture = tex
	w.width = width
	w.height = height
	return nil
}

// Present uploads img and drains pending window events. A window close
// request returns ErrRendererQuit.
func (w *Window) Present(img *image.NRGBA, status string) error {
	if img == nil || img.Rect.Empty() {
		return ErrEmptyCanvas
	}
	if err := w.ensureTexture(img.Rect.Dx(), img.Rect.Dy()); err != nil {
		return err
	}
	if status != "" && status != w.status {
		w.window.SetTitle(w.title + " | " + status)
		w.status = status
	}
	if err := w.texture.Update(nil, unsafe.Pointer(&img.Pix[0]), img.Stride); err != nil {
		return err
	}
	_ = w.renderer.SetDrawColor(0, 0, 0, 255)
	if err := w.renderer.Clear(); err != nil {
		return err
	}
	if err := w.renderer.Copy(w.texture, nil, nil); err != nil {
		return err
	}
	w.renderer.Present()
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch event.(type) {
		case *sdl.QuitEvent:
			return ErrRendererQuit
		}
	}
	return nil
}

// Close destroys every SDL resource. Safe to call more than once.
func (w *Window) Close() error {
	if w.texture != nil {
		w.texture.Destroy()
		w.texture = nil
	}
	if w.renderer != nil {
		w.renderer.Destroy()
		w.renderer = nil
	}
	if w.window != nil {
		w.window.Destroy()
		w.window = nil
		sdl.QuitSubSystem(sdl.INIT_VIDEO)
	}
	return nil
}

func SupportsSDL() bool { return true }
