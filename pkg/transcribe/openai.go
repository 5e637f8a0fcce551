package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig configures an OpenAI-compatible transcription client.
type OpenAIConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint, for self-hosted servers that
	// speak the OpenAI audio API.
	BaseURL  string
	Model    string
	Language string
	Timeout  time.Duration
}

// OpenAI transcribes through the audio/transcriptions endpoint.
type OpenAI struct {
	client   openai.Client
	model    openai.AudioModel
	language string
}

// NewOpenAI creates an OpenAI client. The model defaults to whisper-1.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	model := openai.AudioModel(cfg.Model)
	if model == "" {
		model = openai.AudioModelWhisper1
	}
	return &OpenAI{
		client:   openai.NewClient(opts...),
		model:    model,
		language: cfg.Language,
	}
}

// Transcribe uploads audio and returns the transcription text.
func (o *OpenAI) Transcribe(ctx context.Context, audio Audio) (string, error) {
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio.Data), "command.wav", EncodingWAV),
		Model: o.model,
	}
	if o.language != "" {
		params.Language = openai.String(o.language)
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", wrapStatus("openai", apiErr.StatusCode, apiErr.Message)
		}
		return "", wrapTransport(ctx, "openai", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
