package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/shipslog/backend/internal/errors"
	"github.com/shipslog/backend/internal/logger"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"

	// Short inner retry envelope for blips mid-request. The task scheduler
	// owns the real retry budget; this only smooths over momentary failures
	// so one hiccup does not cost a full backoff cycle.
	innerRetryWindow = 15 * time.Second
)

// Config holds client settings. Zero-value model fields take defaults.
type Config struct {
	APIKey         string
	BaseURL        string
	WhisperModel   string
	EmbeddingModel string
	ChatModel      string

	// TranscribePrompt primes the transcription model with domain
	// vocabulary so nautical terms survive noisy recordings.
	TranscribePrompt string

	// SummaryInstructions steers the summarization chat call.
	SummaryInstructions string

	HTTPClient *http.Client
}

// Client talks to the OpenAI REST API.
type Client struct {
	apiKey              string
	baseURL             string
	whisperModel        string
	embeddingModel      string
	chatModel           string
	transcribePrompt    string
	summaryInstructions string
	httpClient          *http.Client
	log                 *logger.Logger
}

func NewClient(config *Config) (*Client, error) {
	if config == nil || config.APIKey == "" {
		return nil, apperrors.New(apperrors.CodeValidationError, "openai API key is required", apperrors.CategoryClient, http.StatusBadRequest)
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	whisperModel := config.WhisperModel
	if whisperModel == "" {
		whisperModel = "whisper-1"
	}
	embeddingModel := config.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-small"
	}
	chatModel := config.ChatModel
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}

	return &Client{
		apiKey:              config.APIKey,
		baseURL:             baseURL,
		whisperModel:        whisperModel,
		embeddingModel:      embeddingModel,
		chatModel:           chatModel,
		transcribePrompt:    config.TranscribePrompt,
		summaryInstructions: config.SummaryInstructions,
		httpClient:          httpClient,
		log:                 logger.Default().WithComponent("openai"),
	}, nil
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// classifyResponse turns a non-2xx response into an AppError whose category
// drives scheduler behavior: client errors fail fast, external errors retry.
func classifyResponse(service string, status int, body []byte) error {
	var apiErr apiErrorBody
	msg := fmt.Sprintf("%s request failed with status %d", service, status)
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		msg = fmt.Sprintf("%s: %s", service, apiErr.Error.Message)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return apperrors.RateLimited(service).WithDetails(map[string]any{"response": msg})
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return apperrors.ExternalTimeout(service).WithDetails(map[string]any{"response": msg})
	case status >= 500:
		return serviceError(service, msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return apperrors.New(apperrors.CodeInvalidRequest, msg, apperrors.CategoryClient, http.StatusBadRequest)
	default:
		return apperrors.New(apperrors.CodeInternalError, msg, apperrors.CategoryServer, http.StatusBadGateway)
	}
}

func serviceError(service, msg string) *apperrors.AppError {
	switch service {
	case "transcription":
		return apperrors.TranscriptionError(msg)
	case "embedding":
		return apperrors.EmbeddingError(msg)
	case "summary":
		return apperrors.SummaryError(msg)
	default:
		return apperrors.New(apperrors.CodeInternalError, msg, apperrors.CategoryExternal, http.StatusBadGateway)
	}
}

// doRequest executes the request inside a short exponential-backoff envelope
// and decodes the JSON response into out. Client-category errors abort the
// envelope immediately.
func (c *Client) doRequest(ctx context.Context, service string, build func() (*http.Request, error), out interface{}) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = innerRetryWindow

	var lastErr error
	op := func() error {
		req, err := build()
		if err != nil {
			lastErr = err
			return backoff.Permanent(err)
		}
		req = req.WithContext(ctx)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				lastErr = apperrors.ExternalTimeout(service).WithCause(ctx.Err())
				return backoff.Permanent(lastErr)
			}
			lastErr = serviceError(service, fmt.Sprintf("%s request failed: %v", service, err)).WithCause(err)
			return lastErr
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			lastErr = fmt.Errorf("failed to read %s response: %w", service, err)
			return lastErr
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = classifyResponse(service, resp.StatusCode, body)
			var appErr *apperrors.AppError
			if errors.As(lastErr, &appErr) && appErr.Category == apperrors.CategoryClient {
				return backoff.Permanent(lastErr)
			}
			return lastErr
		}

		if err := json.Unmarshal(body, out); err != nil {
			lastErr = fmt.Errorf("failed to decode %s response: %w", service, err)
			return lastErr
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return lastErr
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, service, path string, payload, out interface{}) error {
	return c.doRequest(ctx, service, func() (*http.Request, error) {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s request: %w", service, err)
		}
		req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, out)
}
