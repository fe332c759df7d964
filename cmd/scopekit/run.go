package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/guidoenr/scopekit/internal/app"
	"github.com/guidoenr/scopekit/internal/chroma"
	"github.com/guidoenr/scopekit/internal/logging"
	"github.com/guidoenr/scopekit/internal/media"
	"github.com/guidoenr/scopekit/internal/pipeline"
	"github.com/guidoenr/scopekit/internal/web"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

type runOptions struct {
	web      bool
	keyboard bool
	// open loads the initial source; nil leaves the pipeline idle.
	open func(ctx context.Context, a *app.App) error
}

func newSpectrumCmd(o *options) *cobra.Command {
	ro := &runOptions{keyboard: true}
	cmd := &cobra.Command{
		Use:   "spectrum [audio-file]",
		Short: "Visualize an audio file, or the microphone when no file is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				path := args[0]
				ro.open = func(_ context.Context, a *app.App) error { return a.OpenPath(path) }
			} else {
				ro.open = func(ctx context.Context, a *app.App) error { return a.StartMicrophone(ctx) }
			}
			return o.run(cmd.Context(), ro)
		},
	}
	cmd.Flags().BoolVar(&ro.web, "web", false, "Also serve the browser view")
	cmd.Flags().BoolVar(&ro.keyboard, "keys", true, "Enable keyboard controls")
	return cmd
}

func newChromaCmd(o *options) *cobra.Command {
	ro := &runOptions{keyboard: true}
	var key string
	var tolerance float64
	cmd := &cobra.Command{
		Use:   "chroma <video-file>",
		Short: "Play a video with the key color made transparent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("key") {
				o.cfg.Chroma.Key = key
			}
			if cmd.Flags().Changed("tolerance") {
				o.cfg.Chroma.Tolerance = tolerance
			}
			if _, err := o.cfg.ChromaSettings(); err != nil {
				return err
			}
			path := args[0]
			ro.open = func(_ context.Context, a *app.App) error { return a.OpenPath(path) }
			return o.run(cmd.Context(), ro)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Key color as #rrggbb")
	cmd.Flags().Float64Var(&tolerance, "tolerance", chroma.DefaultTolerance, "Key distance tolerance")
	cmd.Flags().BoolVar(&ro.web, "web", false, "Also serve the browser view")
	cmd.Flags().BoolVar(&ro.keyboard, "keys", true, "Enable keyboard controls")
	return cmd
}

func newServeCmd(o *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve [media-file]",
		Short: "Serve the browser view without a local display",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				o.cfg.Web.Addr = addr
			}
			if !cmd.Flags().Changed("backend") {
				o.cfg.Display.Backend = "none"
			}
			ro := &runOptions{web: true}
			if len(args) == 1 {
				path := args[0]
				ro.open = func(_ context.Context, a *app.App) error { return a.OpenPath(path) }
			}
			return o.run(cmd.Context(), ro)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}

// run builds the app, loads the initial source and drives it until the
// context ends or the user quits.
func (o *options) run(ctx context.Context, ro *runOptions) error {
	cfg := o.cfg
	mic := &media.PortAudioMicrophone{
		DeviceName: cfg.Audio.Device,
		BufferSize: cfg.Audio.BufferSize,
		Channels:   cfg.Audio.Channels,
		Log:        logging.Component(o.log, "portaudio"),
	}
	defer media.Terminate()

	var server *web.Server
	var sinks []pipeline.FrameSink
	if ro.web {
		server = web.NewServer(web.Config{
			FrameInterval: cfg.Web.FrameInterval,
			Log:           logging.Component(o.log, "web"),
		})
		sinks = append(sinks, server)
	}

	interactive := cfg.Display.Backend == "terminal" && term.IsTerminal(int(os.Stdin.Fd()))
	a, err := app.New(app.Config{
		Runtime:    *cfg,
		Microphone: mic,
		Out:        os.Stdout,
		Keyboard:   ro.keyboard && interactive,
		Sinks:      sinks,
		Log:        logging.Component(o.log, "app"),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			o.log.Warn().Err(err).Msg("cleanup")
		}
	}()

	if ro.open != nil {
		if err := ro.open(ctx, a); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()
	g.Go(func() error {
		// quitting the app ends the web server too
		defer stop()
		err := a.Run(runCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if server != nil {
		server.SetController(a)
		g.Go(func() error {
			return server.ListenAndServe(runCtx, cfg.Web.Addr)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("runtime error: %w", err)
	}
	return nil
}
