package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/guidoenr/scopekit/internal/logging"
	"github.com/guidoenr/scopekit/internal/media"
	"github.com/spf13/cobra"
)

func newKeyframesCmd(o *options) *cobra.Command {
	var count int
	var outDir string
	cmd := &cobra.Command{
		Use:   "keyframes <video-file>",
		Short: "Save evenly spaced JPEG thumbnails of a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.keyframes(cmd.Context(), args[0], count, outDir)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", media.DefaultKeyframeCount, "Number of keyframes")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory")
	return cmd
}

func (o *options) keyframes(ctx context.Context, path string, count int, outDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	acq := media.NewAcquirer(media.AcquirerConfig{Log: logging.Component(o.log, "media")})
	src, err := acq.OpenFile(filepath.Base(path), bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer acq.Close(src)

	select {
	case <-src.Loaded():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := src.Err(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	sampler, ok := src.(media.FrameSampler)
	if !ok {
		return fmt.Errorf("%s is %s, not a video: %w", path, src.Kind(), media.ErrUnsupportedMedia)
	}

	frames, err := media.ExtractKeyframes(sampler, count)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	stem := filepath.Base(path)
	stem = stem[:len(stem)-len(filepath.Ext(stem))]
	for i, kf := range frames {
		name := filepath.Join(outDir, fmt.Sprintf("%s-keyframe-%02d.jpg", stem, i+1))
		if err := os.WriteFile(name, kf.JPEG, 0o644); err != nil {
			return err
		}
		b := kf.Image.Bounds()
		fmt.Printf("%s  at %-8s %dx%d\n", name, kf.At.Truncate(time.Millisecond), b.Dx(), b.Dy())
	}
	return nil
}

func newDevicesCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := media.Initialize(); err != nil {
				return fmt.Errorf("failed to initialize PortAudio: %w", err)
			}
			defer media.Terminate()

			devices, err := media.ListDevices()
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}
			fmt.Printf("\n=== Audio Input Devices ===\n\n")
			for _, dev := range devices {
				if dev.MaxInput == 0 {
					continue
				}
				markers := ""
				if dev.IsDefaultInput {
					markers += " (default)"
				}
				fmt.Printf("- %s [%s]%s\n    inputs:%d outputs:%d sample:%.0f Hz\n",
					dev.Name, dev.HostAPI, markers, dev.MaxInput, dev.MaxOutput, dev.DefaultSampleHz)
			}
			if dev, err := media.AutoDetectDevice(); err == nil {
				fmt.Printf("\nAuto-detected input: %s (%.0f Hz, %d channels)\n", dev.Name, dev.DefaultSampleHz, dev.MaxInput)
			} else {
				o.log.Warn().Err(err).Msg("no input device detected")
			}
			return nil
		},
	}
}

func newSynthCmd(o *options) *cobra.Command {
	cfg := media.SynthConfig{}
	cmd := &cobra.Command{
		Use:   "synth <out.wav>",
		Short: "Write a synthetic test clip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := media.WriteSyntheticWAV(f, cfg); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			o.log.Info().Str("path", args[0]).Dur("duration", cfg.Duration).Int("sample_rate", cfg.SampleRate).Msg("clip written")
			return nil
		},
	}
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 5*time.Second, "Clip length")
	cmd.Flags().IntVar(&cfg.SampleRate, "rate", 44_100, "Sample rate in Hz")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 1, "Noise seed")
	return cmd
}
