package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lss53/tencent-table-ocr-batch/constants"
	"github.com/lss53/tencent-table-ocr-batch/internal/common"
	"github.com/lss53/tencent-table-ocr-batch/internal/entity"
	"github.com/lss53/tencent-table-ocr-batch/internal/metrics"
	"github.com/lss53/tencent-table-ocr-batch/internal/ocr"
	"github.com/lss53/tencent-table-ocr-batch/internal/resilience"
)

// Recognizer is the remote table recognition capability as the dispatcher
// sees it: one call, one attempt.
type Recognizer interface {
	Recognize(ctx context.Context, task entity.ImageTask) ([]entity.TableRow, error)
}

// Dispatcher owns a fixed-size pool of workers pulling image tasks from a
// shared queue, running each through the resilience executor and pushing
// exactly one terminal result per task onto the intake channel. On
// cancellation it stops feeding the queue and lets in-flight tasks finish.
type Dispatcher struct {
	recognizer Recognizer
	exec       *resilience.Executor
	logger     *slog.Logger
	workers    int
	queueSize  int
	metrics    *metrics.WorkerMetrics
}

type Option func(*Dispatcher)

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

func WithMetrics(m *metrics.WorkerMetrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func NewDispatcher(recognizer Recognizer, exec *resilience.Executor, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		recognizer: recognizer,
		exec:       exec,
		logger:     logger,
		workers:    2,
		queueSize:  64,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run feeds tasks to the worker pool and blocks until every dispatched
// task has emitted a terminal result. It returns the number of terminal
// results emitted; a non-nil error means the run must abort (credential
// failure reported by the service).
func (d *Dispatcher) Run(ctx context.Context, tasks []entity.ImageTask, intake chan<- entity.TaskResult) (int, error) {
	queue := make(chan entity.ImageTask)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var fatalOnce sync.Once
	var fatalErr error
	abort := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			cancel()
		})
	}

	go func() {
		defer close(queue)
		for _, task := range tasks {
			select {
			case <-runCtx.Done():
				return
			case queue <- task:
			}
		}
	}()

	var emitted sync.WaitGroup
	var terminal atomic.Int64

	for i := 0; i < d.workers; i++ {
		emitted.Add(1)
		go func(workerID int) {
			defer emitted.Done()
			d.logger.Info("dispatch.worker.start", "worker_id", workerID)
			for task := range queue {
				result, err := d.process(runCtx, task)
				if err != nil {
					abort(err)
					return
				}
				if result == nil {
					// canceled mid-task before any attempt landed
					return
				}
				select {
				case intake <- *result:
					terminal.Add(1)
				case <-runCtx.Done():
					// the intake consumer may be gone; never block the pool
					return
				}
			}
			d.logger.Info("dispatch.worker.stop", "worker_id", workerID)
		}(i + 1)
	}
	emitted.Wait()

	return int(terminal.Load()), fatalErr
}

// process turns one task into a terminal result. A nil result with a nil
// error means the context was canceled before the task reached a terminal
// state; the caller counts it as unresolved.
func (d *Dispatcher) process(ctx context.Context, task entity.ImageTask) (*entity.TaskResult, error) {
	start := time.Now()
	if d.metrics != nil {
		d.metrics.StartTask()
	}

	var rows []entity.TableRow
	attempts, err := d.exec.Execute(ctx, "ocr.recognize", func(ctx context.Context) error {
		r, err := d.recognizer.Recognize(ctx, task)
		if err == nil {
			rows = r
		}
		return err
	}, classifyRecognition)

	elapsed := time.Since(start)
	result := d.terminalResult(task, rows, attempts, elapsed, err)
	if d.metrics != nil {
		status := metrics.StatusSuccess
		if result == nil || !result.Result.OK {
			status = metrics.StatusFailure
		}
		d.metrics.FinishTask(status, elapsed)
	}

	if result != nil {
		if result.Result.OK {
			d.logger.Info("dispatch.task.ok",
				"identifier", task.Identifier,
				"rows", len(result.Result.Rows),
				"attempts", attempts,
				"elapsed_ms", elapsed.Milliseconds(),
			)
		} else {
			d.logger.Warn("dispatch.task.failed",
				"identifier", task.Identifier,
				"reason", result.Result.Failure.Reason,
				"attempts", attempts,
				"elapsed_ms", elapsed.Milliseconds(),
				"error", result.Result.Failure.Message,
			)
		}
		return result, nil
	}

	var recErr *ocr.RecognitionError
	if errors.As(err, &recErr) && recErr.Fatal {
		return nil, common.NewAppError("AUTH_ERROR", recErr.Message, common.ErrConfiguration)
	}
	// context cancellation: leave the task unresolved
	return nil, nil
}

func (d *Dispatcher) terminalResult(task entity.ImageTask, rows []entity.TableRow, attempts int, elapsed time.Duration, err error) *entity.TaskResult {
	tr := &entity.TaskResult{
		Identifier: task.Identifier,
		Attempts:   attempts,
		Elapsed:    elapsed,
	}
	switch {
	case err == nil:
		tr.Result = entity.Success(rows)
	case resilience.IsCircuitOpen(err):
		tr.Result = entity.Fail(constants.ReasonServiceError, "recognition endpoint unavailable (circuit open)", true)
	default:
		var recErr *ocr.RecognitionError
		if errors.As(err, &recErr) {
			if recErr.Fatal {
				return nil
			}
			tr.Result = entity.Fail(recErr.Reason, recErr.Message, recErr.Retryable)
		} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		} else {
			tr.Result = entity.Fail(constants.ReasonServiceError, err.Error(), false)
		}
	}
	if tr.Result.Failure != nil {
		tr.Result.Failure.Identifier = task.Identifier
	}
	return tr
}

// classifyRecognition drives retry and breaker decisions: only transient
// classes retry, and permanent image problems must not trip the breaker.
func classifyRecognition(err error) resilience.ErrorClassification {
	var recErr *ocr.RecognitionError
	if errors.As(err, &recErr) {
		return resilience.ErrorClassification{
			Retryable:     recErr.Retryable,
			RecordFailure: recErr.Retryable || recErr.Fatal,
		}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
