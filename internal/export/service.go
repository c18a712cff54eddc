package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/lss53/tencent-table-ocr-batch/internal/checkpoint"
	"github.com/lss53/tencent-table-ocr-batch/internal/common"
)

// Service assembles the final run artifacts from checkpointed results:
// one consolidated spreadsheet and a failure report.
type Service struct {
	outputDir string
	logger    *slog.Logger
}

// Artifacts holds the paths of the files the aggregation produced.
type Artifacts struct {
	SpreadsheetPath string
	ReportPath      string
	Succeeded       int
	Failed          int
}

func NewService(outputDir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{outputDir: outputDir, logger: logger}
}

// WriteArtifacts writes the consolidated spreadsheet and the failure
// report for one run. Records arrive deduplicated and ordered by
// identifier from the checkpoint store; within a group the rows keep the
// order the recognition service returned them in.
func (s *Service) WriteArtifacts(ctx context.Context, records []checkpoint.Record, baseName string) (Artifacts, error) {
	start := time.Now()
	stamp := time.Now().Format("20060102_150405")

	var out Artifacts
	out.SpreadsheetPath = filepath.Join(s.outputDir, fmt.Sprintf("%s_%s.xlsx", baseName, stamp))
	out.ReportPath = filepath.Join(s.outputDir, fmt.Sprintf("%s_failures_%s.txt", baseName, stamp))

	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return out, common.PersistenceError("create output dir", err)
	}

	f := excelize.NewFile()
	const sheet = "Tables"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return out, common.PersistenceError("create sheet", err)
		}
	}
	if index, _ := f.GetSheetIndex("Sheet1"); index != -1 {
		_ = f.DeleteSheet("Sheet1")
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	write := func(row, col int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}

	write(1, 1, "Source Image")
	rowCursor := 2

	var failures []checkpoint.Record
	for _, rec := range records {
		if rec.Status != checkpoint.StatusOK {
			failures = append(failures, rec)
			out.Failed++
			continue
		}
		out.Succeeded++
		// one row group per image; column A carries the identifier on
		// every row of the group so groups survive sorting in a viewer
		for _, tableRow := range rec.Rows {
			write(rowCursor, 1, rec.Identifier)
			for i, cell := range tableRow {
				write(rowCursor, i+2, cell)
			}
			rowCursor++
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 40)
	_ = f.SetColWidth(sheet, "B", "J", 18)

	if err := f.SaveAs(out.SpreadsheetPath); err != nil {
		return out, common.PersistenceError("write spreadsheet", err)
	}

	if err := s.writeFailureReport(out.ReportPath, failures); err != nil {
		return out, err
	}

	s.logger.Info("export.artifacts.ok",
		"spreadsheet", out.SpreadsheetPath,
		"report", out.ReportPath,
		"groups", out.Succeeded,
		"failures", out.Failed,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, ctx.Err()
}

func (s *Service) writeFailureReport(path string, failures []checkpoint.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return common.PersistenceError("create failure report", err)
	}
	defer func() { _ = f.Close() }()

	fmt.Fprintf(f, "Failed images: %d\n", len(failures))
	fmt.Fprintln(f, "==================================================")
	for i, rec := range failures {
		retried := "no"
		if rec.Retried {
			retried = "yes"
		}
		fmt.Fprintf(f, "%d. %s: %s - %s (retried: %s)\n", i+1, rec.Identifier, rec.Reason, rec.Message, retried)
	}
	return nil
}
