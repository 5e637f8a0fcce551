// Package archive stores the audio of finalized voice commands.
//
// Every command is written once as a 16-bit PCM WAV under
// commands/YYYY/MM/DD/<id>.wav, dated in UTC. [Local] writes to a
// directory and [S3] to a bucket; both satisfy [wakeword.Archiver].
package archive

import (
	"context"
	"errors"
	"path"
	"time"
)

// ErrNotFound is returned by Read for a key that was never archived.
var ErrNotFound = errors.New("archive: not found")

// Store writes and reads archived commands.
// Implementations must be safe for concurrent use.
type Store interface {
	// Archive writes wav under the key for id and at, and returns the key.
	Archive(ctx context.Context, id string, at time.Time, wav []byte) (string, error)

	// Read returns the WAV stored under key.
	Read(ctx context.Context, key string) ([]byte, error)
}

// CommandKey returns the forward-slash key of a command.
func CommandKey(id string, at time.Time) string {
	at = at.UTC()
	return path.Join("commands", at.Format("2006"), at.Format("01"), at.Format("02"), id+".wav")
}
