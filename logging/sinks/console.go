package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"vtt/client/logging"
)

// ConsoleSink renders one line per event:
//
//	INFO  movement.committed token:t1 room=table {"from":...} player=alice
type ConsoleSink struct {
	logger *log.Logger
}

func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{logger: log.New(w, "", log.LstdFlags)}
}

func (s *ConsoleSink) Write(event logging.Event) error {
	if s.logger == nil {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %s %s", strings.ToUpper(event.Severity.String()), event.Type, formatEntity(event.Actor))
	if event.Room != "" {
		b.WriteString(" room=")
		b.WriteString(event.Room)
	}
	if len(event.Targets) > 0 {
		parts := make([]string, 0, len(event.Targets))
		for _, target := range event.Targets {
			parts = append(parts, formatEntity(target))
		}
		b.WriteString(" targets=")
		b.WriteString(strings.Join(parts, ","))
	}
	if event.Payload != nil {
		b.WriteByte(' ')
		b.WriteString(formatValue(event.Payload))
	}
	writeExtras(&b, event.Extra)
	s.logger.Print(b.String())
	return nil
}

func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

func formatEntity(ref logging.EntityRef) string {
	switch {
	case ref.ID == "":
		return string(ref.Kind)
	case ref.Kind == "":
		return ref.ID
	default:
		return string(ref.Kind) + ":" + ref.ID
	}
}

func formatValue(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}

// writeExtras appends extras in key order so lines diff cleanly.
func writeExtras(b *strings.Builder, extra map[string]any) {
	if len(extra) == 0 {
		return
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%v", k, extra[k])
	}
}
