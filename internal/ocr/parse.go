package ocr

import (
	"strings"

	"github.com/lss53/tencent-table-ocr-batch/internal/entity"
)

// rowsFromDetections converts the service's cell grid into ordered rows of
// cell text, preserving service row and column order. When several tables
// are detected the densest one is used; the service reports caption blocks
// as separate small detections.
func rowsFromDetections(detections []tableDetection) []entity.TableRow {
	var best *tableDetection
	for i := range detections {
		if best == nil || len(detections[i].Cells) > len(best.Cells) {
			best = &detections[i]
		}
	}
	if best == nil || len(best.Cells) == 0 {
		return nil
	}

	maxRow, maxCol := 0, 0
	for _, c := range best.Cells {
		if c.RowBr > maxRow {
			maxRow = c.RowBr
		}
		if c.ColBr > maxCol {
			maxCol = c.ColBr
		}
	}
	if maxRow <= 0 || maxCol <= 0 {
		return nil
	}

	grid := make([]entity.TableRow, maxRow)
	for r := range grid {
		grid[r] = make(entity.TableRow, maxCol)
	}
	// Merged spans contribute their text at the top-left position only.
	for _, c := range best.Cells {
		if c.RowTl < 0 || c.RowTl >= maxRow || c.ColTl < 0 || c.ColTl >= maxCol {
			continue
		}
		grid[c.RowTl][c.ColTl] = strings.ReplaceAll(c.Text, "\n", "")
	}
	return grid
}
