// Package transcribe hands captured commands to a speech-to-text service.
//
// A [Gateway] turns one WAV-encoded command into text. Implementations
// exist for the whisper-docker HTTP service ([Whisper]), the OpenAI
// audio API ([OpenAI]) and Gemini ([Gemini]); [Breaker] wraps any of
// them with a circuit breaker.
//
// Every failure wraps [ErrGateway]. Timeouts additionally wrap
// [ErrTimeout] and connection or capacity failures wrap
// [ErrUnavailable], so callers can classify with errors.Is.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrGateway is the root of every transcription failure.
	ErrGateway = errors.New("transcribe: gateway error")

	// ErrTimeout is returned when the service does not answer in time.
	ErrTimeout = fmt.Errorf("%w: timeout", ErrGateway)

	// ErrUnavailable is returned when the service cannot be reached or
	// is overloaded.
	ErrUnavailable = fmt.Errorf("%w: service unavailable", ErrGateway)

	// ErrCircuitOpen is returned by Breaker while it rejects calls.
	ErrCircuitOpen = fmt.Errorf("%w: circuit open", ErrUnavailable)
)

// EncodingWAV is 16-bit little-endian PCM in a RIFF/WAVE container.
const EncodingWAV = "audio/wav"

// Audio is one command submitted for transcription.
type Audio struct {
	Data       []byte
	SampleRate int
	Encoding   string
}

// Gateway transcribes audio.
type Gateway interface {
	Transcribe(ctx context.Context, audio Audio) (string, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, audio Audio) (string, error)

// Transcribe calls f.
func (f GatewayFunc) Transcribe(ctx context.Context, audio Audio) (string, error) {
	return f(ctx, audio)
}

// Kinds accepted by configuration.
const (
	KindWhisper = "whisper"
	KindOpenAI  = "openai"
	KindGemini  = "gemini"
	KindNone    = "none"
)

// Kinds lists the known gateway kinds.
func Kinds() []string {
	return []string{KindWhisper, KindOpenAI, KindGemini, KindNone}
}

// Classify reports the category of err: "timeout", "unavailable",
// "circuit_open", "error", or "ok" for nil. It is used as a metric
// attribute and log field.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// wrapTransport classifies an error returned by an HTTP round trip.
func wrapTransport(ctx context.Context, name string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %s: %w", ErrTimeout, name, err)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return fmt.Errorf("%w: %s: %w", ErrGateway, name, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, name, err)
	}
}

// wrapStatus classifies a non-success HTTP status.
func wrapStatus(name string, code int, detail string) error {
	base := ErrGateway
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		base = ErrTimeout
	case code == http.StatusTooManyRequests || code >= 500:
		base = ErrUnavailable
	}
	if detail == "" {
		return fmt.Errorf("%w: %s: HTTP %d", base, name, code)
	}
	return fmt.Errorf("%w: %s: HTTP %d: %s", base, name, code, detail)
}
