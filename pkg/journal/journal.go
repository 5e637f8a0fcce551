// Package journal persists pipeline events in BadgerDB.
//
// Each event is one msgpack record keyed event:<unix-nanos>:<id>, with the
// nanoseconds zero-padded so key order is time order. A Journal is a
// [wakeword.Sink]; add it to the pipeline's sinks to record every event.
package journal

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/wakeword/pkg/wakeword"
)

const keyPrefix = "event:"

// Options configures a Journal.
type Options struct {
	// Dir is the badger directory. Required unless InMemory is set.
	Dir string

	// InMemory keeps everything in memory. Tests use it.
	InMemory bool

	// Logger receives badger's warnings and errors. Nil uses slog.Default().
	Logger *slog.Logger
}

// Journal is an append-only event log.
type Journal struct {
	db *badger.DB
}

var _ wakeword.Sink = (*Journal)(nil)

// Open opens or creates a journal.
func Open(opts Options) (*Journal, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("journal: Options.Dir is required for on-disk mode")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{logger.With("component", "badger")})
	if opts.InMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return &Journal{db: db}, nil
}

// Key returns the storage key of ev.
func Key(ev wakeword.Event) []byte {
	return fmt.Appendf(nil, "%s%020d:%s", keyPrefix, ev.Time.UnixNano(), ev.ID)
}

func seekKey(t time.Time) []byte {
	if t.IsZero() {
		return []byte(keyPrefix)
	}
	return fmt.Appendf(nil, "%s%020d", keyPrefix, t.UnixNano())
}

// HandleEvent appends ev.
func (j *Journal) HandleEvent(ctx context.Context, ev wakeword.Event) error {
	return j.Append(ctx, ev)
}

// Append stores ev. An event without an ID or time is rejected.
func (j *Journal) Append(_ context.Context, ev wakeword.Event) error {
	if ev.ID == "" || ev.Time.IsZero() {
		return fmt.Errorf("journal: append: event needs an ID and a time")
	}
	val, err := msgpack.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("journal: encode %s: %w", ev.ID, err)
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(Key(ev), val)
	})
}

// Filter selects events for List. The zero Filter selects everything.
type Filter struct {
	// Kinds keeps only these kinds. Empty keeps all.
	Kinds []wakeword.EventKind
	// Since and Until bound the event time; zero values are open.
	Since time.Time
	Until time.Time
	// Limit stops after this many events. 0 means no limit.
	Limit int
}

func (f Filter) match(ev wakeword.Event) bool {
	return len(f.Kinds) == 0 || slices.Contains(f.Kinds, ev.Kind)
}

// List yields matching events oldest first.
func (j *Journal) List(_ context.Context, f Filter) iter.Seq2[wakeword.Event, error] {
	return func(yield func(wakeword.Event, error) bool) {
		n := 0
		err := j.db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.IteratorOptions{
				PrefetchValues: true,
				PrefetchSize:   100,
				Prefix:         []byte(keyPrefix),
			})
			defer it.Close()

			var until []byte
			if !f.Until.IsZero() {
				until = seekKey(f.Until)
			}
			for it.Seek(seekKey(f.Since)); it.ValidForPrefix([]byte(keyPrefix)); it.Next() {
				item := it.Item()
				if until != nil && string(item.Key()) >= string(until) {
					return nil
				}
				var ev wakeword.Event
				err := item.Value(func(val []byte) error {
					return msgpack.Unmarshal(val, &ev)
				})
				if err != nil {
					if !yield(wakeword.Event{}, fmt.Errorf("journal: decode %s: %w", item.Key(), err)) {
						return nil
					}
					continue
				}
				if !f.match(ev) {
					continue
				}
				if !yield(ev, nil) {
					return nil
				}
				n++
				if f.Limit > 0 && n >= f.Limit {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield(wakeword.Event{}, fmt.Errorf("journal: list: %w", err))
		}
	}
}

// Prune deletes every event older than before and returns how many were
// removed.
func (j *Journal) Prune(_ context.Context, before time.Time) (int, error) {
	var keys [][]byte
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		limit := string(seekKey(before))
		for it.Seek([]byte(keyPrefix)); it.ValidForPrefix([]byte(keyPrefix)); it.Next() {
			k := it.Item().KeyCopy(nil)
			if string(k) >= limit {
				break
			}
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}

	wb := j.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("journal: prune: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return len(keys), nil
}

// Size returns the on-disk size of the LSM tree plus value log, as last
// sampled by badger. It is 0 in memory mode.
func (j *Journal) Size() int64 {
	lsm, vlog := j.db.Size()
	return lsm + vlog
}

// Close flushes and closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// ParseKey splits a journal key into its time and event ID.
func ParseKey(key []byte) (time.Time, string, error) {
	rest, ok := strings.CutPrefix(string(key), keyPrefix)
	if !ok {
		return time.Time{}, "", fmt.Errorf("journal: bad key %q", key)
	}
	ns, id, ok := strings.Cut(rest, ":")
	if !ok {
		return time.Time{}, "", fmt.Errorf("journal: bad key %q", key)
	}
	n, err := strconv.ParseInt(ns, 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("journal: bad key %q: %w", key, err)
	}
	return time.Unix(0, n).UTC(), id, nil
}

// badgerLogger bridges badger's printf logger to slog, dropping debug and
// info chatter.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (l badgerLogger) Warningf(f string, v ...any) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (badgerLogger) Infof(string, ...any)  {}
func (badgerLogger) Debugf(string, ...any) {}
