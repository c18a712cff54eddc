package entity

import "time"

// ImageTask is one unit of work: a single source image awaiting table
// recognition. Tasks are created by the scanner and consumed exactly once
// by a dispatcher worker.
type ImageTask struct {
	// SourcePath is the absolute path of the image on disk.
	SourcePath string
	// Identifier is the path relative to the scan root. Duplicate
	// basenames across subfolders stay distinct through it.
	Identifier string
	SizeBytes  int64
	Format     string
}

// TableRow is one ordered row of cell text as returned by the
// recognition service.
type TableRow []string

// RecognitionResult is the outcome of recognizing one image: either an
// ordered sequence of table rows or a classified failure. Exactly one of
// Rows / Failure is meaningful, discriminated by OK.
type RecognitionResult struct {
	OK      bool
	Rows    []TableRow
	Failure *FailureRecord
}

// Success builds a successful result preserving service row order.
func Success(rows []TableRow) RecognitionResult {
	return RecognitionResult{OK: true, Rows: rows}
}

// Fail builds a failed result.
func Fail(reason, message string, retryable bool) RecognitionResult {
	return RecognitionResult{OK: false, Failure: &FailureRecord{
		Reason:    reason,
		Message:   message,
		Retryable: retryable,
	}}
}

// FailureRecord describes a recognition failure for one image.
type FailureRecord struct {
	Identifier string
	Reason     string
	Message    string
	// Retryable reports whether the failure class was transient. A
	// terminal record with Retryable=true means the retry budget ran out.
	Retryable bool
}

// TaskResult is a terminal, will-not-be-retried outcome for one task.
type TaskResult struct {
	Identifier string
	Result     RecognitionResult
	Attempts   int
	Elapsed    time.Duration
}
