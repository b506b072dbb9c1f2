package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

var csvHeader = []string{"occurred_at", "type", "outcome", "actor_id", "tenant_id", "resource", "action", "entity", "record_id", "detail"}

// WriteCSV encodes events as CSV with a header row.
func WriteCSV(w io.Writer, events []Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("audit: write csv header: %w", err)
	}
	for _, ev := range events {
		detail := ""
		if len(ev.Detail) > 0 {
			raw, err := json.Marshal(ev.Detail)
			if err != nil {
				return fmt.Errorf("audit: encode detail: %w", err)
			}
			detail = string(raw)
		}
		record := []string{
			ev.OccurredAt.UTC().Format(time.RFC3339),
			string(ev.Type),
			string(ev.Outcome),
			ev.ActorID,
			ev.TenantID,
			ev.Resource,
			ev.Action,
			ev.Entity,
			ev.RecordID,
			detail,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("audit: write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
