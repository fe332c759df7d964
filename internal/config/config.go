// Package config loads scopekit settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/guidoenr/scopekit/internal/analyzer"
	"github.com/guidoenr/scopekit/internal/chroma"
	"github.com/guidoenr/scopekit/internal/params"
	"github.com/guidoenr/scopekit/internal/render"
	"gopkg.in/yaml.v3"
)

// DefaultPath is searched when no config file is named.
const DefaultPath = "scopekit.yaml"

// Config is the full runtime configuration.
type Config struct {
	LogLevel string        `yaml:"log_level"` // debug, info, warn, error
	LogFile  string        `yaml:"log_file"`  // JSON log destination while the terminal draws frames
	Profile  string        `yaml:"profile"`   // CSV frame-timing output, empty to disable
	Audio    AudioConfig   `yaml:"audio"`
	Display  DisplayConfig `yaml:"display"`
	Chroma   ChromaConfig  `yaml:"chroma"`
	Web      WebConfig     `yaml:"web"`
	GenAI    GenAIConfig   `yaml:"genai"`

	// Overrides lists the environment variables that changed the loaded values.
	Overrides []string `yaml:"-"`
}

// AudioConfig covers capture and analysis.
type AudioConfig struct {
	Device      string  `yaml:"device"`      // input device name, empty for auto-detect
	BufferSize  int     `yaml:"buffer_size"` // frames per PortAudio buffer
	Channels    int     `yaml:"channels"`
	FFTSize     int     `yaml:"fft_size"`
	Smoothing   float64 `yaml:"smoothing"`
	MinDecibels float64 `yaml:"min_decibels"`
	MaxDecibels float64 `yaml:"max_decibels"`
}

// DisplayConfig covers the render loop and its sinks.
type DisplayConfig struct {
	FPS        float64 `yaml:"fps"`
	Backend    string  `yaml:"backend"` // terminal, sdl or none
	Width      int     `yaml:"width"`   // canvas pixels for sdl and web output
	Height     int     `yaml:"height"`
	Mode       string  `yaml:"mode"`
	Theme      string  `yaml:"theme"`
	Zoom       float64 `yaml:"zoom"`
	ANSI       bool    `yaml:"ansi"`
	Palette    string  `yaml:"palette"`
	ShowStatus bool    `yaml:"show_status"`
}

// ChromaConfig is the key color and tolerance.
type ChromaConfig struct {
	Key       string  `yaml:"key"`
	Tolerance float64 `yaml:"tolerance"`
}

// WebConfig configures the browser view.
type WebConfig struct {
	Addr          string        `yaml:"addr"`
	FrameInterval time.Duration `yaml:"frame_interval"` // minimum gap between frames pushed to a client
}

// GenAIConfig configures the chat-completion client.
type GenAIConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Audio: AudioConfig{
			BufferSize:  1024,
			Channels:    2,
			FFTSize:     analyzer.DefaultFFTSize,
			Smoothing:   analyzer.DefaultSmoothing,
			MinDecibels: analyzer.DefaultMinDecibels,
			MaxDecibels: analyzer.DefaultMaxDecibels,
		},
		Display: DisplayConfig{
			FPS:        60,
			Backend:    "terminal",
			Width:      800,
			Height:     300,
			Mode:       string(params.ModeBars),
			Theme:      "cyberpunk",
			Zoom:       1,
			ANSI:       true,
			Palette:    "default",
			ShowStatus: true,
		},
		Chroma: ChromaConfig{
			Key:       "#00ff00",
			Tolerance: chroma.DefaultTolerance,
		},
		Web: WebConfig{
			Addr:          "127.0.0.1:8080",
			FrameInterval: 33 * time.Millisecond,
		},
		GenAI: GenAIConfig{
			Endpoint:    "https://api.deepseek.com/chat/completions",
			Model:       "deepseek-chat",
			Temperature: 1.3,
			Timeout:     60 * time.Second,
		},
	}
}

// Load reads path over the defaults. An empty path tries DefaultPath and
// falls back to the defaults when it does not exist. Environment overrides
// are applied last, then the result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks every field against the ranges the pipeline accepts.
func (c *Config) Validate() error {
	var errs []error
	if _, err := analyzer.New(c.AnalyzerConfig()); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels must be 1 or 2, got %d", c.Audio.Channels))
	}
	if c.Display.FPS <= 0 || c.Display.FPS > 240 {
		errs = append(errs, fmt.Errorf("display.fps must be in (0, 240], got %v", c.Display.FPS))
	}
	switch c.Display.Backend {
	case "terminal", "none":
	case "sdl":
		if !render.SupportsSDL() {
			errs = append(errs, errors.New("display.backend sdl requires a build with -tags sdl"))
		}
	default:
		errs = append(errs, fmt.Errorf("display.backend must be terminal, sdl or none, got %q", c.Display.Backend))
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		errs = append(errs, fmt.Errorf("display size must be positive, got %dx%d", c.Display.Width, c.Display.Height))
	}
	if _, err := params.ParseMode(c.Display.Mode); err != nil {
		errs = append(errs, fmt.Errorf("display.mode: %w", err))
	}
	if !slices.Contains(render.PaletteNames(), c.Display.Palette) {
		errs = append(errs, fmt.Errorf("display.palette must be one of %v, got %q", render.PaletteNames(), c.Display.Palette))
	}
	if _, err := render.LookupTheme(c.Display.Theme); err != nil {
		errs = append(errs, fmt.Errorf("display.theme: %w", err))
	}
	if _, err := c.ChromaSettings(); err != nil {
		errs = append(errs, fmt.Errorf("chroma: %w", err))
	}
	if c.Web.FrameInterval < 0 {
		errs = append(errs, errors.New("web.frame_interval must not be negative"))
	}
	if c.GenAI.Timeout <= 0 {
		errs = append(errs, errors.New("genai.timeout must be positive"))
	}
	return errors.Join(errs...)
}

// AnalyzerConfig converts the audio section.
func (c *Config) AnalyzerConfig() analyzer.Config {
	return analyzer.Config{
		FFTSize:     c.Audio.FFTSize,
		Smoothing:   c.Audio.Smoothing,
		MinDecibels: c.Audio.MinDecibels,
		MaxDecibels: c.Audio.MaxDecibels,
	}
}

// ChromaSettings parses the chroma section.
func (c *Config) ChromaSettings() (chroma.Settings, error) {
	key, err := chroma.ParseHexColor(c.Chroma.Key)
	if err != nil {
		return chroma.Settings{}, err
	}
	s := chroma.Settings{Key: key, Tolerance: c.Chroma.Tolerance}
	return s, s.Validate()
}

// Settings builds the initial live settings. Call after Validate.
func (c *Config) Settings() params.Settings {
	s := params.Defaults()
	if mode, err := params.ParseMode(c.Display.Mode); err == nil {
		s.Render.Mode = mode
	}
	if t, err := render.LookupTheme(c.Display.Theme); err == nil {
		s.Render.Theme = t.Name
	}
	s.Render.Zoom = params.ClampZoom(c.Display.Zoom)
	s.Smoothing = c.Audio.Smoothing
	if cs, err := c.ChromaSettings(); err == nil {
		s.Chroma = cs
	}
	return s
}

// FrameInterval is the render loop period.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.Display.FPS)
}

func (c *Config) applyEnvOverrides() {
	// SCOPEKIT_LOG_LEVEL
	if val, ok := os.LookupEnv("SCOPEKIT_LOG_LEVEL"); ok && val != "" {
		c.LogLevel = val
		c.noteOverride("SCOPEKIT_LOG_LEVEL")
	}
	// SCOPEKIT_DEVICE
	if val, ok := os.LookupEnv("SCOPEKIT_DEVICE"); ok {
		c.Audio.Device = val
		c.noteOverride("SCOPEKIT_DEVICE")
	}
	// SCOPEKIT_FPS
	if val, ok := os.LookupEnv("SCOPEKIT_FPS"); ok {
		if fps, err := strconv.ParseFloat(val, 64); err == nil {
			c.Display.FPS = fps
			c.noteOverride("SCOPEKIT_FPS")
		}
	}
	// SCOPEKIT_BACKEND
	if val, ok := os.LookupEnv("SCOPEKIT_BACKEND"); ok && val != "" {
		c.Display.Backend = strings.ToLower(val)
		c.noteOverride("SCOPEKIT_BACKEND")
	}
	// SCOPEKIT_WEB_ADDR
	if val, ok := os.LookupEnv("SCOPEKIT_WEB_ADDR"); ok && val != "" {
		c.Web.Addr = val
		c.noteOverride("SCOPEKIT_WEB_ADDR")
	}

	// DEEPSEEK_API_KEY wins over the generic API_KEY.
	for _, name := range []string{"API_KEY", "DEEPSEEK_API_KEY"} {
		if val, ok := os.LookupEnv(name); ok && val != "" {
			c.GenAI.APIKey = val
			c.noteOverride(name)
		}
	}
}

func (c *Config) noteOverride(name string) {
	c.Overrides = append(c.Overrides, name)
}
