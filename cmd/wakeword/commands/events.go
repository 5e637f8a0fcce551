package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/haivivi/wakeword/pkg/cli"
	"github.com/haivivi/wakeword/pkg/journal"
	"github.com/haivivi/wakeword/pkg/wakeword"
)

var (
	eventKinds  []string
	eventSince  time.Duration
	eventLimit  int
	eventQuery  string
	pruneBefore time.Duration
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Query the event journal",
	Long: `List events recorded by run in the journal (journal.dir), oldest first.

A jq expression given with --query is applied to every event; each
result is printed as one JSON line.

Examples:
  wakeword events --since 1h
  wakeword events --kind transcript --query .text
  wakeword events --kind wake --query 'select(.score > 0.99) | .time'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := eventFilter()
		if err != nil {
			return err
		}
		var query *gojq.Query
		if eventQuery != "" {
			if query, err = gojq.Parse(eventQuery); err != nil {
				return fmt.Errorf("invalid jq expression %q: %w", eventQuery, err)
			}
		}

		j, err := openJournal()
		if err != nil {
			return err
		}
		defer j.Close()

		var events []wakeword.Event
		for ev, err := range j.List(cmd.Context(), f) {
			if err != nil {
				return err
			}
			events = append(events, ev)
		}
		if query != nil {
			return runQuery(cmd, query, events)
		}
		return output(cmd, events, eventTable(events))
	},
}

var eventsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old events from the journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneBefore <= 0 {
			return errors.New("--older-than must be positive")
		}
		j, err := openJournal()
		if err != nil {
			return err
		}
		defer j.Close()
		n, err := j.Prune(cmd.Context(), time.Now().Add(-pruneBefore))
		if err != nil {
			return err
		}
		printLine(cmd, fmt.Sprintf("pruned %d events, journal size %s", n, cli.FormatBytes(j.Size())))
		return nil
	},
}

func openJournal() (*journal.Journal, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Journal.Dir == "" {
		return nil, errors.New("journal is disabled; set journal.dir in the config file")
	}
	return journal.Open(journal.Options{Dir: cfg.Journal.Dir})
}

func eventFilter() (journal.Filter, error) {
	f := journal.Filter{Limit: eventLimit}
	for _, k := range eventKinds {
		kind := wakeword.EventKind(k)
		if !slices.Contains(wakeword.EventKinds(), kind) {
			return f, fmt.Errorf("unknown event kind %q (known: %v)", k, wakeword.EventKinds())
		}
		f.Kinds = append(f.Kinds, kind)
	}
	if eventSince > 0 {
		f.Since = time.Now().Add(-eventSince)
	}
	return f, nil
}

// runQuery applies query to each event in its JSON form.
func runQuery(cmd *cobra.Command, query *gojq.Query, events []wakeword.Event) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, ev := range events {
		input, err := toJQInput(ev)
		if err != nil {
			return err
		}
		iter := query.RunWithContext(cmd.Context(), input)
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, ok := v.(error); ok {
				return fmt.Errorf("jq: %w", err)
			}
			if err := enc.Encode(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// toJQInput converts ev to the map form gojq operates on.
func toJQInput(ev wakeword.Event) (any, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func eventTable(events []wakeword.Event) *cli.Table {
	t := &cli.Table{Styles: styles(), Headers: []string{"TIME", "KIND", "STREAM", "DETAIL"}}
	for _, ev := range events {
		t.Rows = append(t.Rows, []string{
			ev.Time.Local().Format(time.DateTime),
			string(ev.Kind),
			cli.FormatDuration(ev.StreamTime),
			eventDetail(ev),
		})
	}
	return t
}

func eventDetail(ev wakeword.Event) string {
	switch ev.Kind {
	case wakeword.EventWake:
		return fmt.Sprintf("score=%.4f count=%d", ev.Score, ev.Count)
	case wakeword.EventCommand:
		d := fmt.Sprintf("%s reason=%s", cli.FormatDuration(ev.Duration), ev.Reason)
		if ev.ArchiveKey != "" {
			d += " " + ev.ArchiveKey
		}
		return d
	case wakeword.EventTranscript:
		return fmt.Sprintf("%q", ev.Text)
	case wakeword.EventGatewayError:
		return ev.Status + ": " + ev.Error
	case wakeword.EventDrop:
		return fmt.Sprintf("dropped=%d", ev.Dropped)
	default:
		return ""
	}
}

func init() {
	eventsCmd.Flags().StringSliceVar(&eventKinds, "kind", nil, "only these event kinds (repeatable)")
	eventsCmd.Flags().DurationVar(&eventSince, "since", 0, "only events newer than this, e.g. 1h")
	eventsCmd.Flags().IntVar(&eventLimit, "limit", 0, "stop after this many events")
	eventsCmd.Flags().StringVarP(&eventQuery, "query", "q", "", "jq expression applied to each event")
	eventsPruneCmd.Flags().DurationVar(&pruneBefore, "older-than", 7*24*time.Hour, "delete events older than this")

	eventsCmd.AddCommand(eventsPruneCmd)
	rootCmd.AddCommand(eventsCmd)
}
