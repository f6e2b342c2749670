// Package ai implements the patient-simulation and supervisor-briefing
// collaborator over an OpenAI-compatible chat completions API. Both calls
// always resolve to displayable text: API failures are logged and degrade to
// fixed fallback strings so the conversation flow is never visibly broken.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/psychebridge/psychebridge/internal/model"
)

// Fallback texts returned when the model call fails or comes back empty.
// The patient fallback stays in character so the session does not break.
const (
	fallbackPatientError = "I'm sorry, I'm feeling a bit overwhelmed and can't talk right now."
	fallbackPatientEmpty = "I'm not sure how to respond to that right now..."
	fallbackBriefing     = "No briefing available."
)

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new collaborator client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping verifies the endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// PatientReply generates the simulated patient's next message. The persona
// steers the system prompt; history is the transcript before the new message.
func (c *Client) PatientReply(ctx context.Context, persona string, history []model.Interaction, message string) string {
	chatMsgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: buildPatientSystemPrompt(persona)},
	}
	for _, in := range history {
		role := openai.ChatMessageRoleUser
		if in.Role == model.RolePatient {
			role = openai.ChatMessageRoleAssistant
		}
		chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{
			Role:    role,
			Content: in.Content,
		})
	}
	chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMsgs,
		Temperature: 0.8,
		TopP:        0.9,
	})
	if err != nil {
		slog.Error("patient reply call failed", "error", err)
		return fallbackPatientError
	}
	if len(resp.Choices) == 0 {
		slog.Warn("patient reply returned no choices")
		return fallbackPatientEmpty
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return fallbackPatientEmpty
	}
	return text
}

// SupervisorBriefing summarizes a transcript for the reviewing staff member.
func (c *Client) SupervisorBriefing(ctx context.Context, transcript []model.Interaction) string {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: buildBriefingPrompt(transcript)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		slog.Error("briefing call failed", "error", err)
		return fallbackBriefing
	}
	if len(resp.Choices) == 0 {
		slog.Warn("briefing returned no choices")
		return fallbackBriefing
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return fallbackBriefing
	}
	return text
}
