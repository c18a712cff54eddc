package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/lss53/tencent-table-ocr-batch/constants"
	"github.com/lss53/tencent-table-ocr-batch/internal/checkpoint"
	"github.com/lss53/tencent-table-ocr-batch/internal/entity"
)

func TestWriteArtifacts(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, nil)

	records := []checkpoint.Record{
		{Identifier: "a.png", Status: checkpoint.StatusOK, Rows: []entity.TableRow{{"h1", "h2"}, {"v1", "v2"}}},
		{Identifier: "b.png", Status: checkpoint.StatusFailed, Reason: constants.ReasonTooLarge, Message: "image is 4.00 MB, limit is 3.00 MB"},
		{Identifier: "c.png", Status: checkpoint.StatusOK, Rows: []entity.TableRow{{"only"}}},
	}

	artifacts, err := svc.WriteArtifacts(context.Background(), records, "scans")
	require.NoError(t, err)
	assert.Equal(t, 2, artifacts.Succeeded)
	assert.Equal(t, 1, artifacts.Failed)

	f, err := excelize.OpenFile(artifacts.SpreadsheetPath)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows("Tables")
	require.NoError(t, err)
	// header + two rows for a.png + one row for c.png
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"a.png", "h1", "h2"}, rows[1])
	assert.Equal(t, []string{"a.png", "v1", "v2"}, rows[2])
	assert.Equal(t, []string{"c.png", "only"}, rows[3])

	report, err := os.ReadFile(artifacts.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(report), "Failed images: 1")
	assert.Contains(t, string(report), "b.png: TooLarge")
	assert.Contains(t, string(report), "retried: no")
}

func TestWriteArtifactsAllSucceededMeansEmptyReport(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, nil)

	records := []checkpoint.Record{
		{Identifier: "a.png", Status: checkpoint.StatusOK, Rows: []entity.TableRow{{"x"}}},
	}
	artifacts, err := svc.WriteArtifacts(context.Background(), records, "scans")
	require.NoError(t, err)

	report, err := os.ReadFile(artifacts.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(report), "Failed images: 0")
}

func TestWriteArtifactsNamesCarryBaseAndTimestamp(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, nil)

	artifacts, err := svc.WriteArtifacts(context.Background(), nil, "invoices")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(artifacts.SpreadsheetPath) || filepath.Dir(artifacts.SpreadsheetPath) == dir)
	assert.Contains(t, filepath.Base(artifacts.SpreadsheetPath), "invoices_")
	assert.Contains(t, filepath.Base(artifacts.ReportPath), "invoices_failures_")
}
