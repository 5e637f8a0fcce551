// Package wavfile reads and writes 16-bit PCM WAV and replays WAV files
// as capture devices.
package wavfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/youpy/go-wav"

	"github.com/haivivi/wakeword/pkg/audio/pcm"
)

// ErrUnsupported is returned for WAV data that is not 16-bit integer PCM.
var ErrUnsupported = errors.New("wavfile: unsupported format")

// Encode returns a WAV file holding samples. Multi-channel samples are
// interleaved.
func Encode(samples []float32, format pcm.Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, samples, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write writes samples to w as a WAV file.
func Write(w io.Writer, samples []float32, format pcm.Format) error {
	if err := format.Validate(); err != nil {
		return fmt.Errorf("wavfile: %w", err)
	}
	if len(samples)%format.Channels != 0 {
		return fmt.Errorf("wavfile: %d samples do not fill %d channels", len(samples), format.Channels)
	}
	frames := len(samples) / format.Channels
	ww := wav.NewWriter(w, uint32(frames), uint16(format.Channels), uint32(format.SampleRate), uint16(format.Depth()))
	if _, err := ww.Write(pcm.ToBytes(samples)); err != nil {
		return fmt.Errorf("wavfile: write data: %w", err)
	}
	return nil
}

// WriteFile writes samples to path as a WAV file.
func WriteFile(path string, samples []float32, format pcm.Format) error {
	data, err := Encode(samples, format)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Audio is decoded WAV content.
type Audio struct {
	// Samples are interleaved when Format.Channels > 1.
	Samples []float32
	Format  pcm.Format
}

// Frames returns the number of samples per channel.
func (a Audio) Frames() int {
	if a.Format.Channels <= 0 {
		return 0
	}
	return len(a.Samples) / a.Format.Channels
}

// Mono returns the audio downmixed to one channel.
func (a Audio) Mono() Audio {
	return Audio{
		Samples: pcm.Downmix(a.Samples, a.Format.Channels),
		Format:  pcm.Mono(a.Format.SampleRate),
	}
}

// Decode parses a WAV file.
func Decode(data []byte) (Audio, error) {
	r := wav.NewReader(bytes.NewReader(data))
	f, err := r.Format()
	if err != nil {
		return Audio{}, fmt.Errorf("wavfile: read format: %w", err)
	}
	if f.AudioFormat != wav.AudioFormatPCM || f.BitsPerSample != 16 {
		return Audio{}, fmt.Errorf("%w: format=%d bits=%d", ErrUnsupported, f.AudioFormat, f.BitsPerSample)
	}
	format := pcm.Format{SampleRate: int(f.SampleRate), Channels: int(f.NumChannels)}
	if err := format.Validate(); err != nil {
		return Audio{}, fmt.Errorf("wavfile: %w", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return Audio{}, fmt.Errorf("wavfile: read data: %w", err)
	}
	samples := pcm.FromBytes(raw)
	samples = samples[:len(samples)-len(samples)%format.Channels]
	return Audio{Samples: samples, Format: format}, nil
}

// ReadFile decodes the WAV file at path.
func ReadFile(path string) (Audio, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Audio{}, fmt.Errorf("wavfile: %w", err)
	}
	return Decode(data)
}
