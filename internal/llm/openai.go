package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tomibot/ragserver/internal/log"
	"github.com/tomibot/ragserver/internal/vectorindex"
)

const requestTimeout = 60 * time.Second

// OpenAIConfig configures the chat model client. BaseURL overrides the
// API endpoint, mainly for tests and proxies.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAI implements Responder on the OpenAI chat completions API.
// Safe for concurrent use.
type OpenAI struct {
	client *openai.Client
	model  string
	logger log.Logger
}

// NewOpenAI creates a responder for the given model. logger may be nil.
func NewOpenAI(cfg OpenAIConfig, logger log.Logger) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger,
	}
}

// Respond builds the conversation from the request and returns the
// model's answer.
func (o *OpenAI) Respond(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemContent(req.SystemPrompt),
	})
	for _, turn := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userContent(req.Query, req.Context),
	})

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvocation, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: response contains no choices", ErrInvocation)
	}

	answer := resp.Choices[0].Message.Content
	o.logger.Debug("answer generated", "model", o.model, "history_turns", len(req.History), "context_chunks", len(req.Context))
	return answer, nil
}

func systemContent(custom string) string {
	if custom == "" {
		return BaseInstruction
	}
	return custom + "\n\n" + BaseInstruction
}

// userContent joins the retrieved chunk texts under the question. Full
// chunk text is preferred when the payload carries it; the preview is the
// fallback.
func userContent(query string, matches []vectorindex.Match) string {
	var parts []string
	for _, m := range matches {
		if text := matchText(m); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Question: %s\n\nContext:\n(no documents matched)", query)
	}
	return fmt.Sprintf("Question: %s\n\nContext:\n%s", query, strings.Join(parts, "\n\n"))
}

func matchText(m vectorindex.Match) string {
	if text, ok := m.Payload["text"].(string); ok && text != "" {
		return text
	}
	if preview, ok := m.Payload["text_preview"].(string); ok {
		return preview
	}
	return ""
}
