//go:build !sdl

package render

import (
	"errors"
	"image"
)

var errNoSDL = errors.New("SDL backend not enabled; rebuild with -tags sdl")

type Window struct{}

func NewWindow(title string, width, height int) (*Window, error) {
	return nil, errNoSDL
}

func (w *Window) Present(img *image.NRGBA, status string) error { return ErrRendererQuit }

func (w *Window) Close() error { return nil }

func SupportsSDL() bool { return false }
