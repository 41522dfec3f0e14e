package openai

import (
	"context"
	"strings"

	apperrors "github.com/shipslog/backend/internal/errors"
)

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for the text. Input longer than the
// model's context window is truncated at a word boundary first. Empty input
// is a validation failure and is never sent over the wire.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.EmptyInput("text")
	}

	var result embeddingResponse
	err := c.postJSON(ctx, "embedding", "/embeddings", embeddingRequest{
		Model: c.embeddingModel,
		Input: TruncateForModel(text),
	}, &result)
	if err != nil {
		return nil, err
	}

	if len(result.Data) == 0 {
		return nil, apperrors.EmbeddingError("embedding response contained no data")
	}
	return result.Data[0].Embedding, nil
}
