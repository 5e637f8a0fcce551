package journal

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/haivivi/wakeword/pkg/wakeword"
)

func newJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(Options{InMemory: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

var base = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func event(id string, kind wakeword.EventKind, offset time.Duration) wakeword.Event {
	return wakeword.Event{ID: id, Kind: kind, Time: base.Add(offset), StreamTime: offset}
}

func collect(t *testing.T, j *Journal, f Filter) []wakeword.Event {
	t.Helper()
	var out []wakeword.Event
	for ev, err := range j.List(context.Background(), f) {
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func ids(evs []wakeword.Event) []string {
	var out []string
	for _, ev := range evs {
		out = append(out, ev.ID)
	}
	return out
}

func seed(t *testing.T, j *Journal) {
	t.Helper()
	ctx := context.Background()
	evs := []wakeword.Event{
		event("c", wakeword.EventTranscript, 3*time.Second),
		event("a", wakeword.EventWake, time.Second),
		event("b", wakeword.EventCommand, 2*time.Second),
		event("d", wakeword.EventDrop, 4*time.Second),
		event("e", wakeword.EventWake, 5*time.Second),
	}
	for _, ev := range evs {
		if err := j.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("HandleEvent(%s): %v", ev.ID, err)
		}
	}
}

func TestJournalRoundTrip(t *testing.T) {
	j := newJournal(t)
	ev := wakeword.Event{
		ID:         "7f1c",
		Kind:       wakeword.EventCommand,
		Time:       base,
		StreamTime: 12 * time.Second,
		CommandID:  "cmd-1",
		Duration:   2500 * time.Millisecond,
		Reason:     "silence",
		SampleRate: 48000,
		ArchiveKey: "commands/2025/03/14/cmd-1.wav",
	}
	if err := j.Append(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	got := collect(t, j, Filter{})
	if len(got) != 1 {
		t.Fatalf("got %d events", len(got))
	}
	if !got[0].Time.Equal(ev.Time) {
		t.Errorf("time = %v, want %v", got[0].Time, ev.Time)
	}
	got[0].Time = ev.Time
	if got[0] != ev {
		t.Errorf("round trip:\n got %+v\nwant %+v", got[0], ev)
	}
}

func TestJournalOrderAndFilter(t *testing.T) {
	j := newJournal(t)
	seed(t, j)

	tests := []struct {
		name string
		f    Filter
		want string
	}{
		{"all", Filter{}, "[a b c d e]"},
		{"kind", Filter{Kinds: []wakeword.EventKind{wakeword.EventWake}}, "[a e]"},
		{"kinds", Filter{Kinds: []wakeword.EventKind{wakeword.EventCommand, wakeword.EventTranscript}}, "[b c]"},
		{"since", Filter{Since: base.Add(3 * time.Second)}, "[c d e]"},
		{"until", Filter{Until: base.Add(3 * time.Second)}, "[a b]"},
		{"window", Filter{Since: base.Add(2 * time.Second), Until: base.Add(5 * time.Second)}, "[b c d]"},
		{"limit", Filter{Limit: 2}, "[a b]"},
		{"kind and limit", Filter{Kinds: []wakeword.EventKind{wakeword.EventWake}, Limit: 1}, "[a]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(collect(t, j, tt.f))
			if s := "[" + join(got) + "]"; s != tt.want {
				t.Errorf("ids = %s, want %s", s, tt.want)
			}
		})
	}
}

func join(s []string) string {
	var b bytes.Buffer
	for i, v := range s {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(v)
	}
	return b.String()
}

func TestJournalListEarlyBreak(t *testing.T) {
	j := newJournal(t)
	seed(t, j)
	n := 0
	for _, err := range j.List(context.Background(), Filter{}) {
		if err != nil {
			t.Fatal(err)
		}
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("n = %d", n)
	}
}

func TestJournalPrune(t *testing.T) {
	j := newJournal(t)
	seed(t, j)
	n, err := j.Prune(context.Background(), base.Add(3*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("pruned %d, want 2", n)
	}
	if got := join(ids(collect(t, j, Filter{}))); got != "c d e" {
		t.Errorf("remaining = %s", got)
	}
}

func TestJournalAppendRejectsIncomplete(t *testing.T) {
	j := newJournal(t)
	if err := j.Append(context.Background(), wakeword.Event{Kind: wakeword.EventWake}); err == nil {
		t.Error("expected error for event without ID")
	}
}

func TestKeyOrder(t *testing.T) {
	early := Key(wakeword.Event{ID: "z", Time: time.Unix(9, 0)})
	late := Key(wakeword.Event{ID: "a", Time: time.Unix(10, 0)})
	if bytes.Compare(early, late) >= 0 {
		t.Errorf("%s sorts after %s", early, late)
	}

	at, id, err := ParseKey(late)
	if err != nil {
		t.Fatal(err)
	}
	if !at.Equal(time.Unix(10, 0)) || id != "a" {
		t.Errorf("ParseKey = %v %q", at, id)
	}
	for _, bad := range []string{"wake:1:a", "event:xyz:a", "event:123"} {
		if _, _, err := ParseKey([]byte(bad)); err == nil {
			t.Errorf("ParseKey(%q) accepted", bad)
		}
	}
}

func TestOpenRequiresDir(t *testing.T) {
	if _, err := Open(Options{}); err == nil {
		t.Error("expected error without Dir")
	}
	j, err := Open(Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestJournalSize(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	seed(t, j)
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	// Close flushes the memtable to an SST, which reopen counts.
	j, err = Open(Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	if got := j.Size(); got <= 0 {
		t.Errorf("Size() = %d after reopen, want > 0", got)
	}
}
