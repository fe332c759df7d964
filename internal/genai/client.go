// Package genai is a small client for an OpenAI-compatible chat-completion
// endpoint, plus the prompt helpers built on it.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultEndpoint    = "https://api.deepseek.com/chat/completions"
	DefaultModel       = "deepseek-chat"
	DefaultTemperature = 1.3
	defaultTimeout     = 60 * time.Second

	// error bodies are only read this far
	maxErrorBody = 4 << 10
)

var (
	// ErrGenerationFailed wraps every failure: missing key, transport errors,
	// non-2xx statuses and malformed responses.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrUnsupported is returned for capabilities the text model lacks.
	ErrUnsupported = errors.New("not supported by the chat-completion model")
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Config configures a Client. Zero fields take the package defaults.
type Config struct {
	Endpoint    string
	Model       string
	APIKey      string
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
	Log         zerolog.Logger
}

// Client sends chat-completion requests.
type Client struct {
	endpoint    string
	model       string
	apiKey      string
	temperature float64
	httpClient  *http.Client
	log         zerolog.Logger
}

// NewClient creates a Client. A missing API key is only reported when a
// request is made.
func NewClient(cfg Config) *Client {
	c := &Client{
		endpoint:    cfg.Endpoint,
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		httpClient:  cfg.HTTPClient,
		log:         cfg.Log,
	}
	if c.endpoint == "" {
		c.endpoint = DefaultEndpoint
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.temperature == 0 {
		c.temperature = DefaultTemperature
	}
	if c.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	return c
}

// Complete sends messages and returns the first choice's content. With
// jsonMode the model is asked for a JSON object.
func (c *Client) Complete(ctx context.Context, messages []Message, jsonMode bool) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: API key missing", ErrGenerationFailed)
	}

	body := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Stream:      false,
		Temperature: c.temperature,
	}
	if jsonMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrGenerationFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Bool("json", jsonMode).
		Msg("chat completion")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s", ErrGenerationFailed, describeError(resp))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: failed to parse response: %v", ErrGenerationFailed, err)
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return out.Choices[0].Message.Content, nil
}

func describeError(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var e errorResponse
	if json.Unmarshal(data, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return fmt.Sprintf("API error: %d %s", resp.StatusCode, strings.TrimSpace(http.StatusText(resp.StatusCode)))
}
