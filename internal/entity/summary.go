package entity

import "time"

// RunSummary is the write-once result of a whole batch run.
type RunSummary struct {
	RunID           string
	Scanned         int
	Rejected        int
	Succeeded       int
	Failed          int
	Skipped         int
	Elapsed         time.Duration
	SpreadsheetPath string
	ReportPath      string
	// Partial is set when the run was interrupted before the queue
	// drained; everything flushed up to that point is still durable.
	Partial bool
}

// Terminal returns the number of terminal results the run produced.
func (s RunSummary) Terminal() int {
	return s.Succeeded + s.Failed
}
