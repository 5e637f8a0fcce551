package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"
	"time"
)

// DefaultWhisperTimeout bounds one whisper-docker request.
const DefaultWhisperTimeout = 60 * time.Second

// DefaultWhisperURL is where the whisper-docker container listens.
const DefaultWhisperURL = "http://localhost:9999"

// WhisperLanguages are the languages the whisper-docker service accepts.
var WhisperLanguages = []string{"en", "it"}

// Whisper is a client for the whisper-docker HTTP service. It POSTs the
// WAV as the multipart field "file" to {url}/audio.
type Whisper struct {
	url      string
	language string
	client   *http.Client
}

// WhisperOption configures a Whisper client.
type WhisperOption func(*Whisper)

// WithLanguage sets the language hint. Languages outside
// WhisperLanguages fall back to "en".
func WithLanguage(lang string) WhisperOption {
	return func(w *Whisper) {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if !slices.Contains(WhisperLanguages, lang) {
			slog.Warn("unsupported whisper language, using en", "language", lang)
			lang = "en"
		}
		w.language = lang
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) WhisperOption {
	return func(w *Whisper) {
		if d > 0 {
			w.client.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) WhisperOption {
	return func(w *Whisper) {
		w.client = c
	}
}

// NewWhisper creates a client for the service at baseURL, for example
// "http://localhost:9999".
func NewWhisper(baseURL string, opts ...WhisperOption) (*Whisper, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("transcribe: whisper: empty url")
	}
	w := &Whisper{
		url:      strings.TrimRight(baseURL, "/"),
		language: "en",
		client:   &http.Client{Timeout: DefaultWhisperTimeout},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Language returns the language hint sent with each request.
func (w *Whisper) Language() string { return w.language }

type whisperResponse struct {
	Success       bool   `json:"success"`
	Transcription string `json:"transcription"`
	Error         string `json:"error"`
}

// Transcribe uploads audio and returns the transcription.
func (w *Whisper) Transcribe(ctx context.Context, audio Audio) (string, error) {
	if audio.Encoding != "" && audio.Encoding != EncodingWAV {
		return "", fmt.Errorf("%w: whisper: unsupported encoding %q", ErrGateway, audio.Encoding)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "command.wav")
	if err != nil {
		return "", fmt.Errorf("transcribe: whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio.Data); err != nil {
		return "", fmt.Errorf("transcribe: whisper: write wav data: %w", err)
	}
	if err := mw.WriteField("language", w.language); err != nil {
		return "", fmt.Errorf("transcribe: whisper: write language field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("transcribe: whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url+"/audio", &body)
	if err != nil {
		return "", fmt.Errorf("transcribe: whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return "", wrapTransport(ctx, "whisper", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", wrapTransport(ctx, "whisper", err)
	}

	var result whisperResponse
	jsonErr := json.Unmarshal(data, &result)
	if resp.StatusCode != http.StatusOK {
		return "", wrapStatus("whisper", resp.StatusCode, result.Error)
	}
	if jsonErr != nil {
		return "", fmt.Errorf("%w: whisper: parse response: %w", ErrGateway, jsonErr)
	}
	if !result.Success {
		return "", fmt.Errorf("%w: whisper: %s", ErrGateway, result.Error)
	}
	return strings.TrimSpace(result.Transcription), nil
}
