package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"dlevel-stack/shared/config"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Availability of the on-device model.
type Availability string

const (
	Unavailable  Availability = "unavailable"
	Downloadable Availability = "downloadable"
	Downloading  Availability = "downloading"
	Available    Availability = "available"
)

// NormalizeAvailability maps the legacy state names onto the current ones.
// Unknown names are returned unchanged.
func NormalizeAvailability(s string) Availability {
	switch s {
	case "no":
		return Unavailable
	case "after-download":
		return Downloadable
	case "readily":
		return Available
	}
	return Availability(s)
}

// LocalModel talks to an OpenAI compatible endpoint running next to the
// panel, such as Ollama.
type LocalModel struct {
	client *openai.Client
	model  string
}

func NewLocalModel(cfg config.LocalModelConfig) *LocalModel {
	return &LocalModel{
		client: openai.NewClient(
			option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"),
			option.WithAPIKey(cfg.APIKey),
			option.WithMaxRetries(0),
		),
		model: cfg.Model,
	}
}

// Availability probes the endpoint for the configured model. A model the
// server does not know yet is downloadable; an unreachable server means the
// model is unavailable.
func (m *LocalModel) Availability(ctx context.Context) (Availability, error) {
	_, err := m.client.Models.Get(ctx, m.model)
	if err == nil {
		return Available, nil
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return Downloadable, nil
	}
	if ctx.Err() != nil {
		return Unavailable, ctx.Err()
	}
	slog.Debug("local model probe failed", slog.String("model", m.model), slog.Any("error", err))
	return Unavailable, nil
}

// Create opens a prompt session holding its own conversation.
func (m *LocalModel) Create(_ context.Context) (*LocalSession, error) {
	return &LocalSession{model: m}, nil
}

type LocalSession struct {
	model     *LocalModel
	history   []openai.ChatCompletionMessageParamUnion
	destroyed bool
}

// Prompt sends one user turn and returns the model's reply.
func (s *LocalSession) Prompt(ctx context.Context, prompt string) (string, error) {
	if s.destroyed {
		return "", fmt.Errorf("session destroyed")
	}

	s.history = append(s.history, openai.UserMessage(prompt))
	completion, err := s.model.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F(s.history),
		Model:    openai.F(openai.ChatModel(s.model.model)),
	})
	if err != nil {
		return "", fmt.Errorf("local model prompt failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", nil
	}

	reply := completion.Choices[0].Message.Content
	s.history = append(s.history, openai.AssistantMessage(reply))
	return strings.TrimRight(reply, "\n"), nil
}

func (s *LocalSession) Destroy() {
	s.destroyed = true
	s.history = nil
}
