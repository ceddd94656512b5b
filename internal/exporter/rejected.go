package exporter

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mdetl/internal/extract"
	"mdetl/internal/validate"
)

var rejectedHeaders = []string{
	"run_id", "entity", "source", "identity", "timestamp", "reasons", "flags",
}

// RejectedWriter exports the rejected partition of a run to one CSV per
// run for audit.
type RejectedWriter struct {
	csv *CSVWriter
}

// NewRejectedWriter creates the audit exporter rooted at baseDir.
func NewRejectedWriter(baseDir string, logger *slog.Logger) *RejectedWriter {
	return &RejectedWriter{csv: NewCSVWriter(baseDir, logger)}
}

// Export writes rejections for one run and returns the file path.
func (w *RejectedWriter) Export(runID string, entity extract.EntityType, rejections []validate.Rejection) (string, error) {
	rows := make([][]string, 0, len(rejections))
	for _, rej := range rejections {
		rec := rej.Record
		ts := ""
		if !rec.Timestamp.IsZero() {
			ts = rec.Timestamp.Format(time.RFC3339)
		}
		rows = append(rows, []string{
			runID,
			string(entity),
			rec.Source,
			rec.Key(),
			ts,
			strings.Join(rej.Reasons, "; "),
			strings.Join(rec.Flags, "; "),
		})
	}

	relPath := fmt.Sprintf("rejected/%s_%s.csv", entity, runID)
	return w.csv.WriteCSV(relPath, WriteOptions{
		Headers:   rejectedHeaders,
		Records:   rows,
		BOMPrefix: true,
	})
}
