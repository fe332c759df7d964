package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// AcquirerConfig wires an Acquirer.
type AcquirerConfig struct {
	// Microphone is nil on hosts without capture support.
	Microphone Microphone
	// Clock drives file playback positions; time.Now when nil.
	Clock func() time.Time
	Log   zerolog.Logger
}

// Acquirer opens media sources and keeps at most one of them active.
type Acquirer struct {
	mic    Microphone
	now    func() time.Time
	log    zerolog.Logger
	active Source
}

// NewAcquirer creates an Acquirer with no active source.
func NewAcquirer(cfg AcquirerConfig) *Acquirer {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Acquirer{mic: cfg.Microphone, now: now, log: cfg.Log}
}

// Active returns the active source, or nil.
func (a *Acquirer) Active() Source { return a.active }

// OpenFile reads r and starts decoding it in the background. Content that is
// not a recognised container fails immediately with ErrUnsupportedMedia and
// leaves the active source untouched; a decode failure is reported later by
// the source's Err once Loaded is closed.
func (a *Acquirer) OpenFile(name string, r io.Reader) (Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrUnsupportedMedia, name)
	}
	kind, ctype, err := sniff(data)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	a.closeActive()

	var src Source
	switch kind {
	case FileAudio:
		src = openAudioFile(name, data, a.now)
	default:
		src = openVideoFile(name, ctype, data, a.now)
	}
	a.active = src
	a.log.Debug().Str("name", name).Str("kind", kind.String()).Str("type", ctype).Msg("file source opened")
	return src, nil
}

// OpenMicrophone closes the active source and opens the capture device.
// Failures leave no source active and no device handle open.
func (a *Acquirer) OpenMicrophone(ctx context.Context) (Source, error) {
	a.closeActive()
	if a.mic == nil {
		return nil, fmt.Errorf("open microphone: %w", ErrDeviceUnavailable)
	}
	capture, err := a.mic.Open(ctx)
	if err != nil {
		if !errors.Is(err, ErrPermissionDenied) && !errors.Is(err, ErrDeviceUnavailable) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return nil, fmt.Errorf("open microphone: %w", err)
	}
	src := newLiveSource(capture, a.now)
	a.active = src
	a.log.Debug().Str("device", src.Name()).Msg("microphone source opened")
	return src, nil
}

// Close releases src. Closing an already closed source is a no-op.
func (a *Acquirer) Close(src Source) error {
	if src == nil {
		return nil
	}
	if a.active == src {
		a.active = nil
	}
	if src.Closed() {
		return nil
	}
	if err := src.Close(); err != nil {
		return fmt.Errorf("close %s: %w", src.Kind(), err)
	}
	return nil
}

func (a *Acquirer) closeActive() {
	if a.active == nil {
		return
	}
	prev := a.active
	if err := a.Close(prev); err != nil {
		a.log.Warn().Err(err).Str("source", prev.Name()).Msg("closing previous source")
	}
}
