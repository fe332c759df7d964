package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// FallbackFFmpegCommand is returned when the model answers with nothing.
const FallbackFFmpegCommand = "ffmpeg -i input.mp4 output.mp4"

const defaultSystemPrompt = "You are a helpful assistant."

// TextAction selects a ProcessText rewrite.
type TextAction string

const (
	ActionSummarize   TextAction = "summarize"
	ActionTranslateEN TextAction = "translate_en"
	ActionTranslateZH TextAction = "translate_zh"
	ActionPolish      TextAction = "polish"
	ActionFixGrammar  TextAction = "fix_grammar"
)

var textActionPrompts = map[TextAction]string{
	ActionSummarize:   "Summarize the following text concisely, keeping the key points:",
	ActionTranslateEN: "Translate the following text into natural, fluent English:",
	ActionTranslateZH: "Translate the following text into natural, fluent Simplified Chinese:",
	ActionPolish:      "Polish the following text so it reads more professionally and fluently:",
	ActionFixGrammar:  "Fix the spelling and grammar in the following text without changing its meaning:",
}

// TextActions lists the accepted ProcessText actions.
func TextActions() []TextAction {
	return []TextAction{ActionSummarize, ActionTranslateEN, ActionTranslateZH, ActionPolish, ActionFixGrammar}
}

// ParseTextAction validates an action name.
func ParseTextAction(s string) (TextAction, error) {
	a := TextAction(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := textActionPrompts[a]; !ok {
		return "", fmt.Errorf("unknown text action %q", s)
	}
	return a, nil
}

// Regex is the structured answer of GenerateRegex.
type Regex struct {
	Regex       string `json:"regex"`
	Flags       string `json:"flags"`
	Explanation string `json:"explanation"`
}

func (c *Client) ask(ctx context.Context, system, user string) (string, error) {
	return c.Complete(ctx, []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, false)
}

// VideoSummary drafts a summary, highlights and three tags for a video.
func (c *Client) VideoSummary(ctx context.Context, title, notes string) (string, error) {
	prompt := fmt.Sprintf(`Video title: %s
Notes: %s

Write a short summary of this video in Chinese, list its key highlights,
and suggest 3 tags.`, title, notes)
	return c.ask(ctx, defaultSystemPrompt, prompt)
}

// FFmpegCommand asks for a single ffmpeg command line performing operation
// on a file of the given type.
func (c *Client) FFmpegCommand(ctx context.Context, operation, fileType string) (string, error) {
	prompt := fmt.Sprintf(`Give me the FFmpeg command to %s for a %s file.
Reply with the raw command only, no markdown and no explanation.
Use input.%s as the input file name.`, operation, fileType, extensionFor(fileType))
	out, err := c.ask(ctx, "You are an expert in FFmpeg.", prompt)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(strings.Trim(strings.TrimSpace(out), "`"))
	if out == "" {
		return FallbackFFmpegCommand, nil
	}
	return out, nil
}

func extensionFor(fileType string) string {
	switch strings.ToLower(fileType) {
	case "audio":
		return "mp3"
	case "image":
		return "png"
	default:
		return "mp4"
	}
}

// ProcessText rewrites text according to action.
func (c *Client) ProcessText(ctx context.Context, text string, action TextAction) (string, error) {
	instruction, ok := textActionPrompts[action]
	if !ok {
		return "", fmt.Errorf("unknown text action %q", action)
	}
	return c.ask(ctx, defaultSystemPrompt, instruction+"\n\n"+text)
}

// GenerateRegex asks for a regular expression matching description. The
// model answers in JSON mode.
func (c *Client) GenerateRegex(ctx context.Context, description string) (Regex, error) {
	prompt := fmt.Sprintf(`Write a regular expression for: %s
Return a JSON object with the fields "regex" (without slashes), "flags"
and "explanation".`, description)
	out, err := c.Complete(ctx, []Message{
		{Role: "system", Content: "You are a regular expression expert. Output JSON only."},
		{Role: "user", Content: prompt},
	}, true)
	if err != nil {
		return Regex{}, err
	}
	var r Regex
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		return Regex{}, fmt.Errorf("%w: regex answer is not JSON: %v", ErrGenerationFailed, err)
	}
	return r, nil
}

// Ask is a free-form question to a general assistant.
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	return c.ask(ctx, "You are a friendly everyday assistant. Answer clearly and practically.", question)
}

// AudioAdvice asks for processing advice for an audio task.
func (c *Client) AudioAdvice(ctx context.Context, task, fileInfo string) (string, error) {
	prompt := fmt.Sprintf("Task: %s\nFile: %s\n\nSuggest concrete processing steps and settings.", task, fileInfo)
	return c.ask(ctx, "You are a professional audio engineer.", prompt)
}

// TextToSpeech is not offered by chat-completion models.
func (c *Client) TextToSpeech(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("text to speech: %w", ErrUnsupported)
}

// AnalyzeImage is not offered by text-only models.
func (c *Client) AnalyzeImage(context.Context, []byte, string) (string, error) {
	return "", fmt.Errorf("image analysis: %w", ErrUnsupported)
}
