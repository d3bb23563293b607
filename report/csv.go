package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/yuuki/netstimtest/harness"
)

var csvHeader = []string{"status", "response_time_ms", "sent_command", "received_response"}

// WriteCSV writes the per-command export rows, in execution order, after a
// header line.
func WriteCSV(w io.Writer, rows []harness.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for i, row := range rows {
		record := []string{
			row.Status,
			strconv.FormatFloat(row.ResponseTimeMs, 'f', 3, 64),
			row.Sent,
			row.Received,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}
