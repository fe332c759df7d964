package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/guidoenr/scopekit/internal/config"
	"github.com/guidoenr/scopekit/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var version = "dev"

// options is shared by every subcommand. cfg and log are ready once the
// root PersistentPreRunE has run.
type options struct {
	configPath string
	logLevel   string
	device     string
	backend    string
	fps        float64
	mode       string
	theme      string

	cfg    *config.Config
	log    zerolog.Logger
	closer io.Closer
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &options{}

	root := &cobra.Command{
		Use:           "scopekit",
		Short:         "Real-time audio spectrum analyzer and chroma-key video viewer",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if o.closer != nil {
				return o.closer.Close()
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&o.configPath, "config", "c", "", "Config file (default ./scopekit.yaml when present)")
	flags.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error, off")
	flags.StringVarP(&o.device, "device", "d", "", "Audio input device name (substring match)")
	flags.StringVar(&o.backend, "backend", "", "Display backend: terminal, sdl or none")
	flags.Float64Var(&o.fps, "fps", 0, "Target frames per second")
	flags.StringVar(&o.mode, "mode", "", "Visualization mode: bars or waveform")
	flags.StringVar(&o.theme, "theme", "", "Color theme: cyberpunk, retro or midnight")

	root.AddCommand(
		newSpectrumCmd(o),
		newChromaCmd(o),
		newServeCmd(o),
		newKeyframesCmd(o),
		newDevicesCmd(o),
		newSynthCmd(o),
		newAICmd(o),
	)
	return root
}

// setup loads the config file, applies flags over it and builds the logger.
func (o *options) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("device") {
		cfg.Audio.Device = o.device
	}
	if flags.Changed("backend") {
		cfg.Display.Backend = o.backend
	}
	if flags.Changed("fps") {
		cfg.Display.FPS = o.fps
	}
	if flags.Changed("mode") {
		cfg.Display.Mode = o.mode
	}
	if flags.Changed("theme") {
		cfg.Display.Theme = o.theme
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cfg.LogFile != "" {
		o.log, o.closer, err = logging.NewFile(cfg.LogLevel, cfg.LogFile)
	} else {
		o.log, err = logging.New(cfg.LogLevel, os.Stderr)
	}
	if err != nil {
		return err
	}
	if len(cfg.Overrides) > 0 {
		o.log.Debug().Strs("env", cfg.Overrides).Msg("environment overrides applied")
	}
	o.cfg = cfg
	return nil
}
