package ingest

import (
	"fmt"
	"strings"
	"time"
)

// ItemFailure records one skipped document or chunk. Position is 0 for a
// whole document.
type ItemFailure struct {
	Title    string `json:"title"`
	Position int    `json:"position,omitempty"`
	Reason   string `json:"reason"`
	Err      error  `json:"-"`
}

// Report summarizes one ingestion run.
type Report struct {
	Collection       string        `json:"collection"`
	CollectionStatus string        `json:"collection_status,omitempty"`
	Documents        int           `json:"documents"`
	Chunks           int           `json:"chunks"`
	PointsWritten    int           `json:"points_written"`
	DocumentsSkipped int           `json:"documents_skipped"`
	ChunksFailed     int           `json:"chunks_failed"`
	Duplicates       int           `json:"duplicates,omitempty"`
	Failures         []ItemFailure `json:"failures,omitempty"`
	Duration         time.Duration `json:"duration_ns"`
}

// Summary renders the report for people.
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "collection %q: %d documents, %d chunks, %d points written",
		r.Collection, r.Documents, r.Chunks, r.PointsWritten)
	if r.DocumentsSkipped > 0 {
		fmt.Fprintf(&b, ", %d documents skipped", r.DocumentsSkipped)
	}
	if r.ChunksFailed > 0 {
		fmt.Fprintf(&b, ", %d chunks failed", r.ChunksFailed)
	}
	if r.Duplicates > 0 {
		fmt.Fprintf(&b, ", %d duplicate chunks merged", r.Duplicates)
	}
	for _, f := range r.Failures {
		if f.Position > 0 {
			fmt.Fprintf(&b, "\n  - %s #%d: %s", f.Title, f.Position, f.Reason)
		} else {
			fmt.Fprintf(&b, "\n  - %s: %s", f.Title, f.Reason)
		}
	}
	return b.String()
}

// UpsertError means the final batch write failed; Count points were lost.
type UpsertError struct {
	Count int
	Err   error
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("ingest: upsert %d points: %v", e.Count, e.Err)
}

func (e *UpsertError) Unwrap() error { return e.Err }
