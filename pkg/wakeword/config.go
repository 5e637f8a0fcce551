package wakeword

import (
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/wakeword/pkg/audio/capture"
	"github.com/haivivi/wakeword/pkg/audio/pcm"
	"github.com/haivivi/wakeword/pkg/model"
	"github.com/haivivi/wakeword/pkg/recorder"
	"github.com/haivivi/wakeword/pkg/transcribe"
	"github.com/haivivi/wakeword/pkg/trigger"
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("wakeword: invalid config")

// Capture backends.
const (
	CapturePortAudio = "portaudio"
	CaptureMiniaudio = "miniaudio"
	CaptureFile      = "file"
)

// Archive kinds.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveS3    = "s3"
)

// Config is the complete runtime configuration. It is built once at
// startup, validated, and then only read.
//
// Durations are float seconds so the YAML keys read naturally
// (cooldown_seconds: 2.0); the accessor methods convert them.
type Config struct {
	Threshold              float64 `yaml:"threshold" json:"threshold" jsonschema:"minimum score counted as qualifying (0-1)"`
	TriggerLevel           int     `yaml:"trigger_level" json:"trigger_level" jsonschema:"consecutive qualifying windows required to fire a wake event"`
	CooldownSeconds        float64 `yaml:"cooldown_seconds" json:"cooldown_seconds" jsonschema:"dead time after a wake event and after each command"`
	SilenceThreshold       float64 `yaml:"silence_threshold" json:"silence_threshold" jsonschema:"RMS energy below which audio counts as silent"`
	SilenceDurationSeconds float64 `yaml:"silence_duration_seconds" json:"silence_duration_seconds" jsonschema:"consecutive silence that ends a command"`
	MinDurationSeconds     float64 `yaml:"min_duration_seconds" json:"min_duration_seconds" jsonschema:"shortest command that may end on silence"`
	MaxDurationSeconds     float64 `yaml:"max_duration_seconds" json:"max_duration_seconds" jsonschema:"hard ceiling on command length"`
	EnergyWindowSeconds    float64 `yaml:"energy_window_seconds" json:"energy_window_seconds" jsonschema:"block length for silence detection; 0 measures whole frames"`
	FrameDurationSeconds   float64 `yaml:"frame_duration_seconds" json:"frame_duration_seconds" jsonschema:"capture chunk and detection window length"`

	CaptureRate             int     `yaml:"capture_rate" json:"capture_rate" jsonschema:"native capture rate in Hz"`
	ModelRate               int     `yaml:"model_rate" json:"model_rate" jsonschema:"rate the model expects in Hz"`
	Channels                int     `yaml:"channels" json:"channels" jsonschema:"capture channels, downmixed to mono"`
	DeviceIndex             int     `yaml:"device_index" json:"device_index" jsonschema:"capture device index; -1 selects the default device"`
	CaptureBackend          string  `yaml:"capture_backend" json:"capture_backend" jsonschema:"portaudio, miniaudio or file"`
	Input                   string  `yaml:"input,omitempty" json:"input,omitempty" jsonschema:"WAV file replayed by the file backend"`
	Realtime                bool    `yaml:"realtime,omitempty" json:"realtime,omitempty" jsonschema:"pace file replay at real time"`
	ReconnectAttempts       int     `yaml:"reconnect_attempts" json:"reconnect_attempts" jsonschema:"device reopen attempts after an error"`
	ReconnectBackoffSeconds float64 `yaml:"reconnect_backoff_seconds" json:"reconnect_backoff_seconds" jsonschema:"first reconnect delay, doubled per attempt"`
	QueueCapacity           int     `yaml:"queue_capacity" json:"queue_capacity" jsonschema:"frames buffered between capture and detection"`

	Model   ModelConfig   `yaml:"model" json:"model"`
	Gateway GatewayConfig `yaml:"gateway" json:"gateway"`
	Archive ArchiveConfig `yaml:"archive" json:"archive"`
	Journal JournalConfig `yaml:"journal" json:"journal"`

	Listen string `yaml:"listen,omitempty" json:"listen,omitempty" jsonschema:"HTTP address for /metrics and /events; empty disables"`
}

// ModelConfig selects the model artifact and backend.
type ModelConfig struct {
	Path    string `yaml:"path" json:"path" jsonschema:"artifact manifest path"`
	Backend string `yaml:"backend" json:"backend" jsonschema:"native, onnx or ncnn"`
}

// GatewayConfig configures the transcription gateway.
type GatewayConfig struct {
	Kind           string        `yaml:"kind" json:"kind" jsonschema:"whisper, openai, gemini or none"`
	URL            string        `yaml:"url,omitempty" json:"url,omitempty" jsonschema:"service or API base URL; whisper defaults to http://localhost:9999"`
	TimeoutSeconds float64       `yaml:"timeout_seconds" json:"timeout_seconds"`
	Language       string        `yaml:"language,omitempty" json:"language,omitempty"`
	APIKey         string        `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Model          string        `yaml:"model,omitempty" json:"model,omitempty"`
	Breaker        BreakerConfig `yaml:"breaker" json:"breaker"`
}

// BreakerConfig configures the gateway circuit breaker.
type BreakerConfig struct {
	MaxFailures         int     `yaml:"max_failures" json:"max_failures"`
	ResetTimeoutSeconds float64 `yaml:"reset_timeout_seconds" json:"reset_timeout_seconds"`
}

// ArchiveConfig configures where finalized commands are stored.
type ArchiveConfig struct {
	Kind     string `yaml:"kind" json:"kind" jsonschema:"none, local or s3"`
	Dir      string `yaml:"dir,omitempty" json:"dir,omitempty"`
	Bucket   string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix   string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Region   string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// JournalConfig configures the event journal.
type JournalConfig struct {
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty" jsonschema:"badger directory; empty disables the journal"`
}

// DefaultConfig returns the built-in defaults. The model path is relative
// to the user's ~/.wakeword directory and is resolved by the CLI.
func DefaultConfig() Config {
	return Config{
		Threshold:               0.98,
		TriggerLevel:            1,
		CooldownSeconds:         2,
		SilenceThreshold:        0.01,
		SilenceDurationSeconds:  2,
		MinDurationSeconds:      0.5,
		MaxDurationSeconds:      10,
		EnergyWindowSeconds:     recorder.DefaultEnergyWindow.Seconds(),
		FrameDurationSeconds:    1.5,
		CaptureRate:             48000,
		ModelRate:               16000,
		Channels:                1,
		DeviceIndex:             capture.DefaultDevice,
		CaptureBackend:          CapturePortAudio,
		ReconnectAttempts:       3,
		ReconnectBackoffSeconds: 0.5,
		QueueCapacity:           8,
		Model: ModelConfig{
			Path:    "models/wakeword.yaml",
			Backend: model.BackendNative,
		},
		Gateway: GatewayConfig{
			Kind:           transcribe.KindWhisper,
			TimeoutSeconds: transcribe.DefaultWhisperTimeout.Seconds(),
			Language:       "en",
			Breaker: BreakerConfig{
				MaxFailures:         3,
				ResetTimeoutSeconds: 30,
			},
		},
		Archive: ArchiveConfig{Kind: ArchiveNone},
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// Cooldown returns cooldown_seconds.
func (c Config) Cooldown() time.Duration { return seconds(c.CooldownSeconds) }

// SilenceDuration returns silence_duration_seconds.
func (c Config) SilenceDuration() time.Duration { return seconds(c.SilenceDurationSeconds) }

// MinDuration returns min_duration_seconds.
func (c Config) MinDuration() time.Duration { return seconds(c.MinDurationSeconds) }

// MaxDuration returns max_duration_seconds.
func (c Config) MaxDuration() time.Duration { return seconds(c.MaxDurationSeconds) }

// FrameDuration returns frame_duration_seconds, the frame length D.
func (c Config) FrameDuration() time.Duration { return seconds(c.FrameDurationSeconds) }

// GatewayTimeout returns gateway.timeout_seconds.
func (c Config) GatewayTimeout() time.Duration { return seconds(c.Gateway.TimeoutSeconds) }

// TriggerConfig derives the trigger state machine parameters.
func (c Config) TriggerConfig() trigger.Config {
	return trigger.Config{
		Threshold: c.Threshold,
		Level:     c.TriggerLevel,
		Cooldown:  c.Cooldown(),
	}
}

// RecorderConfig derives the command recorder parameters.
func (c Config) RecorderConfig() recorder.Config {
	return recorder.Config{
		SilenceThreshold: c.SilenceThreshold,
		SilenceDuration:  c.SilenceDuration(),
		MinDuration:      c.MinDuration(),
		MaxDuration:      c.MaxDuration(),
		Cooldown:         c.Cooldown(),
		EnergyWindow:     seconds(c.EnergyWindowSeconds),
	}
}

// CaptureConfig derives the audio source parameters.
func (c Config) CaptureConfig() capture.Config {
	return capture.Config{
		DeviceIndex:       c.DeviceIndex,
		SampleRate:        c.CaptureRate,
		Channels:          c.Channels,
		FrameDuration:     c.FrameDuration(),
		ReconnectAttempts: c.ReconnectAttempts,
		ReconnectBackoff:  seconds(c.ReconnectBackoffSeconds),
	}
}

// BreakerConfig derives the gateway circuit breaker parameters.
func (c Config) BreakerConfig() transcribe.BreakerConfig {
	return transcribe.BreakerConfig{
		MaxFailures:  c.Gateway.Breaker.MaxFailures,
		ResetTimeout: seconds(c.Gateway.Breaker.ResetTimeoutSeconds),
	}
}

func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, fmt.Sprintf(format, args...))
}

// Validate checks every field and reports all problems at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, field, format string, args ...any) {
		if !ok {
			errs = append(errs, invalid(field, format, args...))
		}
	}

	check(c.Threshold >= 0 && c.Threshold <= 1, "threshold", "%v not in [0, 1]", c.Threshold)
	check(c.TriggerLevel >= 1, "trigger_level", "%d must be at least 1", c.TriggerLevel)
	check(c.CooldownSeconds >= 0, "cooldown_seconds", "%v must not be negative", c.CooldownSeconds)
	check(c.SilenceThreshold >= 0, "silence_threshold", "%v must not be negative", c.SilenceThreshold)
	check(c.SilenceDurationSeconds > 0, "silence_duration_seconds", "%v must be positive", c.SilenceDurationSeconds)
	check(c.MinDurationSeconds >= 0, "min_duration_seconds", "%v must not be negative", c.MinDurationSeconds)
	check(c.MaxDurationSeconds > c.MinDurationSeconds, "max_duration_seconds",
		"%v must exceed min_duration_seconds %v", c.MaxDurationSeconds, c.MinDurationSeconds)
	check(c.MaxDurationSeconds >= c.SilenceDurationSeconds, "max_duration_seconds",
		"%v must be at least silence_duration_seconds %v", c.MaxDurationSeconds, c.SilenceDurationSeconds)
	check(c.EnergyWindowSeconds >= 0, "energy_window_seconds", "%v must not be negative", c.EnergyWindowSeconds)
	check(c.FrameDurationSeconds > 0, "frame_duration_seconds", "%v must be positive", c.FrameDurationSeconds)
	check(c.CaptureRate > 0, "capture_rate", "%d must be positive", c.CaptureRate)
	check(c.ModelRate > 0, "model_rate", "%d must be positive", c.ModelRate)
	check(c.Channels >= 1, "channels", "%d must be at least 1", c.Channels)
	check(c.QueueCapacity >= 1, "queue_capacity", "%d must be at least 1", c.QueueCapacity)
	check(c.ReconnectAttempts >= 0, "reconnect_attempts", "%d must not be negative", c.ReconnectAttempts)
	check(c.ReconnectBackoffSeconds >= 0, "reconnect_backoff_seconds", "%v must not be negative", c.ReconnectBackoffSeconds)
	check(slices.Contains([]string{CapturePortAudio, CaptureMiniaudio, CaptureFile}, c.CaptureBackend),
		"capture_backend", "unknown backend %q", c.CaptureBackend)
	check(c.CaptureBackend != CaptureFile || c.Input != "", "input", "required by the file capture backend")
	check(slices.Contains([]string{model.BackendNative, model.BackendONNX, model.BackendNCNN}, c.Model.Backend),
		"model.backend", "unknown backend %q", c.Model.Backend)
	check(c.Model.Path != "", "model.path", "must not be empty")
	check(slices.Contains(transcribe.Kinds(), c.Gateway.Kind), "gateway.kind", "unknown kind %q", c.Gateway.Kind)
	check(c.Gateway.TimeoutSeconds >= 0, "gateway.timeout_seconds", "%v must not be negative", c.Gateway.TimeoutSeconds)
	check(c.Gateway.Breaker.MaxFailures >= 0, "gateway.breaker.max_failures", "%d must not be negative", c.Gateway.Breaker.MaxFailures)
	check(slices.Contains([]string{ArchiveNone, ArchiveLocal, ArchiveS3}, c.Archive.Kind),
		"archive.kind", "unknown kind %q", c.Archive.Kind)
	check(c.Archive.Kind != ArchiveLocal || c.Archive.Dir != "", "archive.dir", "required by the local archive")
	check(c.Archive.Kind != ArchiveS3 || c.Archive.Bucket != "", "archive.bucket", "required by the s3 archive")

	if c.FrameDurationSeconds > 0 && c.CaptureRate > 0 {
		check(pcm.Mono(c.CaptureRate).SamplesInDuration(c.FrameDuration()) > 0, "frame_duration_seconds",
			"%v holds no samples at %d Hz", c.FrameDurationSeconds, c.CaptureRate)
	}
	return errors.Join(errs...)
}

// ParseConfig reads YAML on top of DefaultConfig. Unknown keys are errors.
// The result is validated.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.Strict()); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads the YAML file at path. A missing file yields the
// defaults when missingOK is set.
func LoadConfig(path string, missingOK bool) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if missingOK && errors.Is(err, os.ErrNotExist) {
			cfg := DefaultConfig()
			return cfg, cfg.Validate()
		}
		return Config{}, fmt.Errorf("wakeword: read config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Marshal returns c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
