package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	apperrors "github.com/shipslog/backend/internal/errors"
)

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe sends the audio file to the speech-to-text endpoint and returns
// the transcript. The file is read up front so the request body can be
// rebuilt if the inner retry envelope replays it.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperrors.FileNotFound(path)
		}
		return "", fmt.Errorf("failed to read audio file: %w", err)
	}
	if len(audio) == 0 {
		return "", apperrors.EmptyInput("audio file")
	}

	filename := filepath.Base(path)
	var result transcriptionResponse
	err = c.doRequest(ctx, "transcription", func() (*http.Request, error) {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)

		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			return nil, fmt.Errorf("failed to build multipart body: %w", err)
		}
		if _, err := io.Copy(part, bytes.NewReader(audio)); err != nil {
			return nil, fmt.Errorf("failed to write audio to multipart body: %w", err)
		}
		if err := writer.WriteField("model", c.whisperModel); err != nil {
			return nil, err
		}
		if c.transcribePrompt != "" {
			if err := writer.WriteField("prompt", c.transcribePrompt); err != nil {
				return nil, err
			}
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}

		req, err := http.NewRequest(http.MethodPost, c.baseURL+"/audio/transcriptions", body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req, nil
	}, &result)
	if err != nil {
		return "", err
	}

	return result.Text, nil
}
