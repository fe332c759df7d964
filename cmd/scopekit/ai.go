package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/guidoenr/scopekit/internal/genai"
	"github.com/guidoenr/scopekit/internal/logging"
	"github.com/spf13/cobra"
)

func newAICmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ai",
		Short: "Media helpers backed by a chat-completion model",
	}

	var notes string
	summary := &cobra.Command{
		Use:   "summary <title>",
		Short: "Summarize a video from its title and notes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.printAI(cmd.Context(), func(ctx context.Context, c *genai.Client) (string, error) {
				return c.VideoSummary(ctx, strings.Join(args, " "), notes)
			})
		},
	}
	summary.Flags().StringVar(&notes, "notes", "", "Free-form notes about the video")

	var fileType string
	ffmpeg := &cobra.Command{
		Use:   "ffmpeg <operation>",
		Short: "Suggest an ffmpeg command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.printAI(cmd.Context(), func(ctx context.Context, c *genai.Client) (string, error) {
				return c.FFmpegCommand(ctx, strings.Join(args, " "), fileType)
			})
		},
	}
	ffmpeg.Flags().StringVar(&fileType, "type", "video", "Input type: video, audio or image")

	text := &cobra.Command{
		Use:   "text <action> <text>",
		Short: "Rewrite text: summarize, translate_en, translate_zh, polish or fix_grammar",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := genai.ParseTextAction(args[0])
			if err != nil {
				return err
			}
			return o.printAI(cmd.Context(), func(ctx context.Context, c *genai.Client) (string, error) {
				return c.ProcessText(ctx, strings.Join(args[1:], " "), action)
			})
		},
	}

	regex := &cobra.Command{
		Use:   "regex <description>",
		Short: "Generate a regular expression",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.printAI(cmd.Context(), func(ctx context.Context, c *genai.Client) (string, error) {
				r, err := c.GenerateRegex(ctx, strings.Join(args, " "))
				if err != nil {
					return "", err
				}
				out, err := json.MarshalIndent(r, "", "  ")
				return string(out), err
			})
		},
	}

	ask := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the assistant a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.printAI(cmd.Context(), func(ctx context.Context, c *genai.Client) (string, error) {
				return c.Ask(ctx, strings.Join(args, " "))
			})
		},
	}

	var fileInfo string
	advice := &cobra.Command{
		Use:   "advice <task>",
		Short: "Get audio processing advice",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.printAI(cmd.Context(), func(ctx context.Context, c *genai.Client) (string, error) {
				return c.AudioAdvice(ctx, strings.Join(args, " "), fileInfo)
			})
		},
	}
	advice.Flags().StringVar(&fileInfo, "file", "", "Description of the input file")

	cmd.AddCommand(summary, ffmpeg, text, regex, ask, advice)
	return cmd
}

func (o *options) genaiClient() *genai.Client {
	g := o.cfg.GenAI
	return genai.NewClient(genai.Config{
		Endpoint:    g.Endpoint,
		Model:       g.Model,
		APIKey:      g.APIKey,
		Temperature: g.Temperature,
		Timeout:     g.Timeout,
		Log:         logging.Component(o.log, "genai"),
	})
}

func (o *options) printAI(ctx context.Context, fn func(context.Context, *genai.Client) (string, error)) error {
	out, err := fn(ctx, o.genaiClient())
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, out)
	return nil
}
