package openai

import (
	"context"
	"strings"

	apperrors "github.com/shipslog/backend/internal/errors"
)

const defaultSummaryInstructions = "Summarize this log entry in 2-3 sentences. Preserve factual details: times, positions, conditions, and events."

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Summarize condenses the transcript via the chat endpoint. Long input is
// truncated at a word boundary to fit the model's context window.
func (c *Client) Summarize(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", apperrors.EmptyInput("transcript")
	}

	instructions := c.summaryInstructions
	if instructions == "" {
		instructions = defaultSummaryInstructions
	}

	var result chatResponse
	err := c.postJSON(ctx, "summary", "/chat/completions", chatRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: instructions},
			{Role: "user", Content: TruncateForModel(transcript)},
		},
	}, &result)
	if err != nil {
		return "", err
	}

	if len(result.Choices) == 0 {
		return "", apperrors.SummaryError("chat response contained no choices")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}
