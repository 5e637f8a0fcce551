package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when GeminiConfig.Model is empty.
const DefaultGeminiModel = "gemini-2.0-flash"

const geminiPrompt = "Transcribe the speech in this audio verbatim. " +
	"Reply with the transcription only. Reply with an empty message if there is no speech."

// GeminiConfig configures a Gemini transcription client.
type GeminiConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
}

// Gemini transcribes by sending the WAV inline to GenerateContent.
type Gemini struct {
	client *genai.Client
	model  string
	prompt string
}

// NewGemini creates a Gemini client.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("transcribe: gemini: create client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	prompt := geminiPrompt
	if cfg.Language != "" {
		prompt += " The expected language is " + cfg.Language + "."
	}
	return &Gemini{client: client, model: model, prompt: prompt}, nil
}

// Transcribe returns the model's transcription of audio.
func (g *Gemini) Transcribe(ctx context.Context, audio Audio) (string, error) {
	mime := audio.Encoding
	if mime == "" {
		mime = EncodingWAV
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(audio.Data, mime),
			genai.NewPartFromText(g.prompt),
		}, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", wrapStatus("gemini", apiErr.Code, apiErr.Message)
		}
		return "", wrapTransport(ctx, "gemini", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}
