package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lss53/tencent-table-ocr-batch/internal/checkpoint"
	"github.com/lss53/tencent-table-ocr-batch/internal/entity"
	"github.com/lss53/tencent-table-ocr-batch/internal/export"
	"github.com/lss53/tencent-table-ocr-batch/internal/scanner"
)

// Pipeline wires scanner -> dispatcher -> checkpoint writer -> aggregator
// for one batch run. All cross-component traffic is message passing: the
// task queue feeds the workers and a single intake channel feeds the one
// goroutine allowed to touch the checkpoint buffer.
type Pipeline struct {
	scanner    *scanner.Scanner
	dispatcher *Dispatcher
	store      *checkpoint.Store
	writer     *checkpoint.Writer
	exporter   *export.Service
	logger     *slog.Logger

	baseName string
	resume   bool
}

func New(
	sc *scanner.Scanner,
	d *Dispatcher,
	store *checkpoint.Store,
	writer *checkpoint.Writer,
	exporter *export.Service,
	baseName string,
	resume bool,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		scanner:    sc,
		dispatcher: d,
		store:      store,
		writer:     writer,
		exporter:   exporter,
		logger:     logger,
		baseName:   baseName,
		resume:     resume,
	}
}

// Run executes the whole batch. Every scanned-or-rejected image reaches a
// terminal result unless the run is interrupted; the summary reconciles
// the counts either way. Only configuration and persistence problems
// return an error.
func (p *Pipeline) Run(ctx context.Context) (entity.RunSummary, error) {
	runID := uuid.New().String()
	start := time.Now()
	summary := entity.RunSummary{RunID: runID}

	p.logger.Info("run.start", "run_id", runID)

	tasks, rejected, stats, err := p.scanner.Scan()
	if err != nil {
		return summary, err
	}
	summary.Scanned = int(stats.Accepted)
	summary.Rejected = int(stats.Rejected)

	if p.resume {
		done, err := p.store.CompletedIdentifiers(ctx)
		if err != nil {
			return summary, err
		}
		if len(done) > 0 {
			kept := tasks[:0]
			for _, t := range tasks {
				if _, ok := done[t.Identifier]; ok {
					summary.Skipped++
					continue
				}
				kept = append(kept, t)
			}
			tasks = kept
			keptRejects := rejected[:0]
			for _, r := range rejected {
				if _, ok := done[r.Identifier]; ok {
					summary.Skipped++
					continue
				}
				keptRejects = append(keptRejects, r)
			}
			rejected = keptRejects
			p.logger.Info("run.resume", "run_id", runID, "already_completed", summary.Skipped)
		}
	}

	intake := make(chan entity.TaskResult, p.dispatcher.queueSize)

	// dispatchCtx lets a dead writer unblock the producers: once the
	// writer stops consuming intake, nothing may keep sending into it.
	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	defer cancelDispatch()

	writerDone := make(chan struct{})
	var totals checkpoint.Totals
	var writerErr error
	go func() {
		defer close(writerDone)
		totals, writerErr = p.writer.Run(ctx, intake)
		if writerErr != nil {
			cancelDispatch()
		}
	}()

	// filter rejects never reach a worker but still need terminal results
	for _, r := range rejected {
		rec := r
		select {
		case intake <- entity.TaskResult{
			Identifier: rec.Identifier,
			Result:     entity.RecognitionResult{Failure: &rec},
		}:
		case <-dispatchCtx.Done():
		}
	}

	_, dispatchErr := p.dispatcher.Run(dispatchCtx, tasks, intake)
	close(intake)
	<-writerDone

	if writerErr != nil {
		return summary, writerErr
	}

	summary.Succeeded = totals.Succeeded
	summary.Failed = totals.Failed
	summary.Partial = ctx.Err() != nil || dispatchErr != nil

	if dispatchErr != nil {
		p.logger.Error("run.aborted", "run_id", runID, "error", dispatchErr)
		summary.Elapsed = time.Since(start)
		return summary, dispatchErr
	}

	records, err := p.store.LoadAll(context.WithoutCancel(ctx))
	if err != nil {
		return summary, err
	}
	artifacts, err := p.exporter.WriteArtifacts(context.WithoutCancel(ctx), records, p.baseName)
	if err != nil {
		return summary, err
	}
	summary.SpreadsheetPath = artifacts.SpreadsheetPath
	summary.ReportPath = artifacts.ReportPath
	summary.Elapsed = time.Since(start)

	p.logger.Info("run.done",
		"run_id", runID,
		"scanned", summary.Scanned,
		"rejected", summary.Rejected,
		"skipped", summary.Skipped,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"partial", summary.Partial,
		"elapsed_ms", summary.Elapsed.Milliseconds(),
	)
	return summary, nil
}
