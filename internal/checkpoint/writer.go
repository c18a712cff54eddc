package checkpoint

import (
	"context"
	"log/slog"

	"github.com/lss53/tencent-table-ocr-batch/internal/entity"
)

// Totals aggregates what a Writer run persisted.
type Totals struct {
	Succeeded   int
	Failed      int
	Checkpoints int
}

// Writer is the single consumer of the results intake channel. Workers
// produce concurrently; the writer alone mutates the accumulation buffer
// and flushes it every batchSize results and once more when the intake
// closes. An interruption therefore loses at most batchSize-1 results.
type Writer struct {
	store     *Store
	batchSize int
	logger    *slog.Logger
}

func NewWriter(store *Store, batchSize int, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Writer{store: store, batchSize: batchSize, logger: logger}
}

// Run consumes intake until it is closed and returns the persisted totals.
// Flushes run on a non-cancelable context: an operator interrupt must not
// be able to abort the final flush midway. A store error is fatal for the
// run; the previous checkpoint stays intact.
func (w *Writer) Run(ctx context.Context, intake <-chan entity.TaskResult) (Totals, error) {
	var totals Totals
	flushCtx := context.WithoutCancel(ctx)
	buffer := make([]entity.TaskResult, 0, w.batchSize)

	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		if _, err := w.store.SaveCheckpoint(flushCtx, buffer); err != nil {
			return err
		}
		totals.Checkpoints++
		buffer = buffer[:0]
		return nil
	}

	for result := range intake {
		if result.Result.OK {
			totals.Succeeded++
		} else {
			totals.Failed++
		}
		buffer = append(buffer, result)
		if len(buffer) >= w.batchSize {
			if err := flush(); err != nil {
				return totals, err
			}
		}
	}
	if err := flush(); err != nil {
		return totals, err
	}

	w.logger.Info("checkpoint.writer.done",
		"succeeded", totals.Succeeded,
		"failed", totals.Failed,
		"checkpoints", totals.Checkpoints,
	)
	return totals, nil
}
