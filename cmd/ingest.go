package main

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/event-ingest/internal/model"
)

var ingestSource string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|->",
	Short: "Append scraped events to the staging buffer",
	Long:  "Reads a JSON array or newline-delimited JSON of raw events from a file (or stdin with -) and appends them to the staging buffer. Events are not validated here.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var r io.Reader = os.Stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return eris.Wrap(err, "ingest: open input")
			}
			defer f.Close() //nolint:errcheck
			r = f
		}

		events, skipped, err := decodeRawEvents(r)
		if err != nil {
			return err
		}
		applySource(events, ingestSource)

		env, err := initLocal(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ids, err := env.Local.Append(ctx, events)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		zap.L().Info("ingest complete",
			zap.Int("staged", len(ids)),
			zap.Int("skipped", skipped),
			zap.String("input", args[0]),
		)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "set the source of every event that has none")
	rootCmd.AddCommand(ingestCmd)
}

// decodeRawEvents accepts either a JSON array of events or one JSON object per
// line. Records are decoded one at a time: an element that is not a JSON
// object is skipped and counted, the rest are staged for validation at sync.
func decodeRawEvents(r io.Reader) ([]model.RawEvent, int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, eris.Wrap(err, "ingest: read input")
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, 0, nil
	}

	log := zap.L().With(zap.String("component", "ingest"))
	var (
		events  []model.RawEvent
		skipped int
	)

	if trimmed[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, 0, eris.Wrap(err, "ingest: decode json array")
		}
		for i, rec := range records {
			ev, err := decodeRawEvent(rec)
			if err != nil {
				log.Warn("ingest: skipping record", zap.Int("index", i), zap.Error(err))
				skipped++
				continue
			}
			events = append(events, ev)
		}
		return events, skipped, nil
	}

	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		ev, err := decodeRawEvent(text)
		if err != nil {
			log.Warn("ingest: skipping line", zap.Int("line", line), zap.Error(err))
			skipped++
			continue
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, 0, eris.Wrap(err, "ingest: scan input")
	}
	return events, skipped, nil
}

// decodeRawEvent decodes one record. A field holding the wrong JSON type is
// left empty so the required-field check reports it.
func decodeRawEvent(rec []byte) (model.RawEvent, error) {
	rec = bytes.TrimSpace(rec)
	if len(rec) == 0 || rec[0] != '{' {
		return model.RawEvent{}, eris.New("ingest: record is not a JSON object")
	}

	var ev model.RawEvent
	if err := json.Unmarshal(rec, &ev); err == nil {
		return ev, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rec, &fields); err != nil {
		return model.RawEvent{}, eris.Wrap(err, "ingest: decode record")
	}
	ev = model.RawEvent{
		Title:       stringField(fields, "title"),
		Date:        stringField(fields, "date"),
		Time:        stringField(fields, "time"),
		Location:    stringField(fields, "location"),
		Link:        stringField(fields, "link"),
		Description: stringField(fields, "description"),
		Source:      stringField(fields, "source"),
	}
	if raw, ok := fields["price"]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		price := append(model.Price(nil), raw...)
		ev.Price = &price
	}
	return ev, nil
}

func stringField(fields map[string]json.RawMessage, key string) string {
	var s string
	if raw, ok := fields[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// applySource fills in a missing source. Existing sources are kept.
func applySource(events []model.RawEvent, source string) {
	if source == "" {
		return
	}
	for i := range events {
		if strings.TrimSpace(events[i].Source) == "" {
			events[i].Source = source
		}
	}
}
