// Package assist drafts suggested agent replies from a session
// transcript. It is an optional convenience on top of the chat core;
// the suggestion is only ever shown to the agent, never sent on its
// own.
package assist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/mirelon-dev/halodesk/internal/model/chat"
)

// ErrNoSuggestion is returned when the model produced no usable reply.
var ErrNoSuggestion = errors.New("no suggestion available")

const systemPrompt = `You are a support agent assistant. Given a customer
support chat transcript, draft the next reply the human agent could send.
Be concise, polite and concrete. Reply with the draft text only.`

// Config holds the model settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Enabled reports whether an API key was provided.
func (c Config) Enabled() bool { return c.APIKey != "" }

// Service calls the model for reply suggestions.
type Service struct {
	client *openai.Client
	model  string
	log    *slog.Logger
}

// New builds the assist service from config.
func New(cfg Config, log *slog.Logger) *Service {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Service{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		log:    log,
	}
}

// SuggestReply drafts the agent's next message for the given
// transcript.
func (s *Service) SuggestReply(ctx context.Context, sess chat.Session, msgs []chat.Message) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: buildPrompt(sess, msgs),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoSuggestion
	}

	suggestion := strings.TrimSpace(resp.Choices[0].Message.Content)
	if suggestion == "" {
		return "", ErrNoSuggestion
	}
	s.log.Debug("suggestion drafted", slog.String("session", sess.ID))
	return suggestion, nil
}

// buildPrompt maps the transcript onto chat-completion roles: the
// customer side becomes the user, earlier agent replies the assistant.
func buildPrompt(sess chat.Session, msgs []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+2)
	out = append(out, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	out = append(out, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: "Customer name: " + sess.Participant.DisplayName(),
	})

	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		if m.SenderKind == chat.SenderAgent {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Body,
		})
	}
	return out
}
