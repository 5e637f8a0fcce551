package wakeword

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventKind names a pipeline event.
type EventKind string

const (
	EventWake         EventKind = "wake"
	EventCommand      EventKind = "command"
	EventTranscript   EventKind = "transcript"
	EventDrop         EventKind = "drop"
	EventTimeout      EventKind = "timeout"
	EventGatewayError EventKind = "gateway_error"
)

// EventKinds lists every kind.
func EventKinds() []EventKind {
	return []EventKind{EventWake, EventCommand, EventTranscript, EventDrop, EventTimeout, EventGatewayError}
}

// Event is one observable pipeline occurrence. Only the fields relevant
// to the kind are set.
type Event struct {
	ID   string    `msgpack:"id" json:"id"`
	Kind EventKind `msgpack:"kind" json:"kind"`
	Time time.Time `msgpack:"time" json:"time"`

	// StreamTime is the audio position the event refers to.
	StreamTime time.Duration `msgpack:"stream_time" json:"stream_time_ns"`

	// Wake.
	Score float64 `msgpack:"score,omitempty" json:"score,omitempty"`
	Count int     `msgpack:"count,omitempty" json:"count,omitempty"`

	// Command, transcript and gateway_error share the command ID.
	CommandID  string        `msgpack:"command_id,omitempty" json:"command_id,omitempty"`
	Duration   time.Duration `msgpack:"duration,omitempty" json:"duration_ns,omitempty"`
	Reason     string        `msgpack:"reason,omitempty" json:"reason,omitempty"`
	SampleRate int           `msgpack:"sample_rate,omitempty" json:"sample_rate,omitempty"`
	ArchiveKey string        `msgpack:"archive_key,omitempty" json:"archive_key,omitempty"`

	// Transcript.
	Text string `msgpack:"text,omitempty" json:"text,omitempty"`

	// Gateway error classification and message.
	Status string `msgpack:"status,omitempty" json:"status,omitempty"`
	Error  string `msgpack:"error,omitempty" json:"error,omitempty"`

	// Drop: total frames dropped so far.
	Dropped uint64 `msgpack:"dropped,omitempty" json:"dropped,omitempty"`
}

func newEvent(kind EventKind, streamTime time.Duration) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Time:       time.Now().UTC(),
		StreamTime: streamTime,
	}
}

// Sink receives pipeline events in order from a single goroutine. A
// slow sink delays later events but never the detection loop.
type Sink interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// HandleEvent calls f.
func (f SinkFunc) HandleEvent(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Archiver stores the audio of a finalized command and returns its key.
type Archiver interface {
	Archive(ctx context.Context, id string, at time.Time, wav []byte) (string, error)
}
