package wavfile

import (
	"errors"
	"io"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/haivivi/wakeword/pkg/audio/capture"
	"github.com/haivivi/wakeword/pkg/audio/pcm"
)

func TestEncodeDecode(t *testing.T) {
	format := pcm.Mono(16000)
	tone := pcm.Tone(format, 440, 0.5, 100*time.Millisecond)

	data, err := Encode(tone.Samples, format)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(data), 44+len(tone.Samples)*2; got != want {
		t.Errorf("encoded %d bytes, want %d", got, want)
	}

	a, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if a.Format != format {
		t.Errorf("format = %v, want %v", a.Format, format)
	}
	if len(a.Samples) != len(tone.Samples) {
		t.Fatalf("decoded %d samples, want %d", len(a.Samples), len(tone.Samples))
	}
	for i := range a.Samples {
		if math.Abs(float64(a.Samples[i]-tone.Samples[i])) > 1.0/16384 {
			t.Fatalf("sample %d = %v, want %v", i, a.Samples[i], tone.Samples[i])
		}
	}
}

func TestEncodeStereo(t *testing.T) {
	format := pcm.Format{SampleRate: 8000, Channels: 2}
	samples := []float32{0.5, -0.5, 0.25, -0.25}
	data, err := Encode(samples, format)
	if err != nil {
		t.Fatal(err)
	}
	a, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if a.Frames() != 2 {
		t.Errorf("frames = %d, want 2", a.Frames())
	}
	mono := a.Mono()
	if mono.Format.Channels != 1 || len(mono.Samples) != 2 {
		t.Fatalf("mono = %v with %d samples", mono.Format, len(mono.Samples))
	}
	if math.Abs(float64(mono.Samples[0])) > 1e-3 {
		t.Errorf("mono[0] = %v, want 0", mono.Samples[0])
	}

	if _, err := Encode([]float32{1, 2, 3}, format); err == nil {
		t.Error("odd sample count for stereo: expected error")
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode([]byte("not a wav file")); err == nil {
		t.Error("garbage: expected error")
	}
	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("missing file: expected error")
	}
}

func TestWriteReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmd.wav")
	format := pcm.Mono(16000)
	silence := pcm.Silence(format, 50*time.Millisecond)
	if err := WriteFile(path, silence.Samples, format); err != nil {
		t.Fatal(err)
	}
	a, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if a.Frames() != 800 {
		t.Errorf("frames = %d, want 800", a.Frames())
	}
}

func TestDeviceReads(t *testing.T) {
	a := Audio{Samples: make([]float32, 25), Format: pcm.Mono(1000)}
	a.Samples[0] = 0.5
	spec := capture.DeviceSpec{SampleRate: 1000, Channels: 1, FramesPerRead: 10}
	dev, err := NewDevice(a, spec, false)
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()

	buf := make([]int16, 10)
	var reads []int
	for {
		n, err := dev.Read(buf)
		reads = append(reads, n)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if len(reads) == 1 && buf[0] != 16384 {
			t.Errorf("first sample = %d, want 16384", buf[0])
		}
	}
	if len(reads) != 3 || reads[0] != 10 || reads[1] != 10 || reads[2] != 5 {
		t.Errorf("reads = %v, want [10 10 5]", reads)
	}
}

func TestDeviceAdaptsFormat(t *testing.T) {
	a := Audio{Samples: make([]float32, 1600), Format: pcm.Mono(16000)}
	spec := capture.DeviceSpec{SampleRate: 48000, Channels: 2, FramesPerRead: 4800}
	dev, err := NewDevice(a, spec, false)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]int16, 4800*2)
	n, err := dev.Read(buf)
	if n != 4800*2 || err != nil {
		t.Errorf("Read = %d, %v; want %d, nil", n, err, 4800*2)
	}
	if n, err := dev.Read(buf); n != 0 || !errors.Is(err, io.EOF) {
		t.Errorf("second Read = %d, %v; want 0, EOF", n, err)
	}
}

func TestDeviceRealtime(t *testing.T) {
	a := Audio{Samples: make([]float32, 40), Format: pcm.Mono(1000)}
	spec := capture.DeviceSpec{SampleRate: 1000, Channels: 1, FramesPerRead: 20}
	dev, err := NewDevice(a, spec, true)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	buf := make([]int16, 20)
	dev.Read(buf)
	dev.Read(buf)
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Errorf("two 20ms reads took %v, want about 40ms", elapsed)
	}
}

func TestDeviceClose(t *testing.T) {
	a := Audio{Samples: make([]float32, 10000), Format: pcm.Mono(1000)}
	dev, err := NewDevice(a, capture.DeviceSpec{SampleRate: 1000, Channels: 1}, true)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := dev.Read(make([]int16, 5000))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	dev.Close()
	select {
	case err := <-done:
		if !errors.Is(err, capture.ErrClosed) {
			t.Errorf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not return after Close")
	}
}
