package media

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

const defaultBufferSize = 4096

var (
	initOnce sync.Once
	termOnce sync.Once
	initErr  error
)

// Initialize wraps portaudio.Initialize with sync.Once so multiple callers are safe.
func Initialize() error {
	initOnce.Do(func() {
		initErr = portaudio.Initialize()
	})
	return initErr
}

// Terminate balances Initialize.
func Terminate() {
	if initErr != nil {
		return
	}
	termOnce.Do(func() {
		_ = portaudio.Terminate()
	})
}

// PortAudioMicrophone opens input streams through PortAudio.
type PortAudioMicrophone struct {
	DeviceName string
	BufferSize int
	Channels   int
	Log        zerolog.Logger
}

// Open initializes PortAudio on first use and starts an input stream.
func (m *PortAudioMicrophone) Open(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := Initialize(); err != nil {
		return nil, classifyCaptureError(fmt.Errorf("initialize portaudio: %w", err))
	}
	c, err := newPortAudioCapture(m.DeviceName, m.BufferSize, m.Channels)
	if err != nil {
		return nil, classifyCaptureError(err)
	}
	m.Log.Info().
		Str("device", c.DeviceName()).
		Float64("sample_rate", c.SampleRate()).
		Int("channels", c.channels).
		Msg("microphone stream started")
	return c, nil
}

// portAudioCapture wraps a PortAudio input stream and keeps the latest samples
// in a ring the render loop reads from.
type portAudioCapture struct {
	stream     *portaudio.Stream
	sampleRate float64
	channels   int
	device     *portaudio.DeviceInfo
	ring       *sampleRing
}

func newPortAudioCapture(deviceName string, bufferSize, channels int) (*portAudioCapture, error) {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if channels <= 0 {
		channels = 1
	}

	device, err := findDevice(deviceName)
	if err != nil {
		return nil, err
	}
	if device.MaxInputChannels < channels {
		channels = device.MaxInputChannels
	}

	c := &portAudioCapture{
		sampleRate: device.DefaultSampleRate,
		channels:   channels,
		device:     device,
		ring:       newSampleRing(bufferSize),
	}

	framesPerBuffer := bufferSize / channels / 4
	if framesPerBuffer < 64 {
		framesPerBuffer = portaudio.FramesPerBufferUnspecified
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      c.sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}, c.process)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	c.stream = stream

	if err := c.stream.Start(); err != nil {
		_ = c.stream.Close()
		return nil, fmt.Errorf("start stream: %w", err)
	}
	return c, nil
}

func (c *portAudioCapture) SampleRate() float64 { return c.sampleRate }

func (c *portAudioCapture) DeviceName() string {
	if c.device == nil {
		return "microphone"
	}
	return c.device.Name
}

func (c *portAudioCapture) ReadLatest(dst []float32) int { return c.ring.ReadLatest(dst) }

// Close stops and closes the stream, releasing the device.
func (c *portAudioCapture) Close() error {
	if c.stream == nil {
		return nil
	}
	stream := c.stream
	c.stream = nil
	if err := stream.Stop(); err != nil && !errors.Is(err, portaudio.StreamIsStopped) {
		_ = stream.Close()
		return err
	}
	return stream.Close()
}

func (c *portAudioCapture) process(in []float32) {
	c.ring.Write(in, c.channels)
}

// classifyCaptureError maps PortAudio failures onto the acquisition errors.
func classifyCaptureError(err error) error {
	if err == nil {
		return nil
	}
	var hostErr portaudio.UnanticipatedHostError
	if errors.As(err, &hostErr) {
		text := strings.ToLower(hostErr.Text)
		if strings.Contains(text, "permission") || strings.Contains(text, "denied") || hostErr.Code == -13 {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}
	switch {
	case errors.Is(err, portaudio.NoDefaultInputDevice),
		errors.Is(err, portaudio.InvalidDevice),
		errors.Is(err, portaudio.DeviceUnavailable),
		errors.Is(err, portaudio.HostApiNotFound),
		errors.Is(err, errNoInputDevice):
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "permission denied") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}

var errNoInputDevice = errors.New("no suitable audio input device found")

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	if name != "" {
		return findDeviceByName(name)
	}

	if dev, err := portaudio.DefaultInputDevice(); err == nil && dev != nil && dev.MaxInputChannels > 0 {
		return dev, nil
	}

	if host, err := portaudio.DefaultHostApi(); err == nil {
		if host != nil && host.DefaultInputDevice != nil && host.DefaultInputDevice.MaxInputChannels > 0 {
			return host.DefaultInputDevice, nil
		}
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	if candidate := pickBestDevice(devices); candidate != nil {
		return candidate, nil
	}
	return nil, errNoInputDevice
}

func findDeviceByName(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	name = strings.ToLower(name)
	for _, device := range devices {
		if device.MaxInputChannels == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(device.Name), name) {
			return device, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", errNoInputDevice, name)
}

type scoredDevice struct {
	name      string
	index     int
	inputs    int
	isDefault bool
}

// pickBestDevice prefers the default input, then anything that looks like a
// real microphone over monitor or loopback devices.
func pickBestDevice(devices []*portaudio.DeviceInfo) *portaudio.DeviceInfo {
	defaultInputIndex := -1
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultInputIndex = def.Index
	}

	candidates := make([]scoredDevice, 0, len(devices))
	byIndex := make(map[int]*portaudio.DeviceInfo, len(devices))
	for _, d := range devices {
		if d == nil || d.MaxInputChannels <= 0 {
			continue
		}
		byIndex[d.Index] = d
		candidates = append(candidates, scoredDevice{
			name:      d.Name,
			index:     d.Index,
			inputs:    d.MaxInputChannels,
			isDefault: d.Index == defaultInputIndex,
		})
	}
	best, ok := rankDevices(candidates)
	if !ok {
		return nil
	}
	return byIndex[best.index]
}

func rankDevices(candidates []scoredDevice) (scoredDevice, bool) {
	if len(candidates) == 0 {
		return scoredDevice{}, false
	}
	score := func(d scoredDevice) int {
		s := d.inputs
		if d.isDefault {
			s += 50
		}
		lower := strings.ToLower(d.name)
		for _, kw := range []string{"mic", "input", "capture"} {
			if strings.Contains(lower, kw) {
				s += 20
				break
			}
		}
		for _, kw := range []string{"monitor", "loopback", "stereo mix", "what u hear"} {
			if strings.Contains(lower, kw) {
				s -= 30
				break
			}
		}
		if strings.Contains(lower, "default") {
			s += 10
		}
		return s
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := score(candidates[i]), score(candidates[j])
		if si == sj {
			return strings.ToLower(candidates[i].name) < strings.ToLower(candidates[j].name)
		}
		return si > sj
	})
	return candidates[0], true
}
