package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lss53/tencent-table-ocr-batch/constants"
	"github.com/lss53/tencent-table-ocr-batch/internal/common"
	"github.com/lss53/tencent-table-ocr-batch/internal/entity"
	"github.com/lss53/tencent-table-ocr-batch/internal/ocr"
	"github.com/lss53/tencent-table-ocr-batch/internal/resilience"
)

// fakeRecognizer scripts per-identifier outcomes and records call counts.
type fakeRecognizer struct {
	mu      sync.Mutex
	calls   map[string]int
	outcome func(task entity.ImageTask, call int) ([]entity.TableRow, error)
}

func newFakeRecognizer(outcome func(task entity.ImageTask, call int) ([]entity.TableRow, error)) *fakeRecognizer {
	return &fakeRecognizer{calls: map[string]int{}, outcome: outcome}
}

func (f *fakeRecognizer) Recognize(_ context.Context, task entity.ImageTask) ([]entity.TableRow, error) {
	f.mu.Lock()
	f.calls[task.Identifier]++
	call := f.calls[task.Identifier]
	f.mu.Unlock()
	return f.outcome(task, call)
}

func (f *fakeRecognizer) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func testExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}, nil)
}

func makeTasks(n int) []entity.ImageTask {
	tasks := make([]entity.ImageTask, n)
	for i := range tasks {
		id := fmt.Sprintf("img_%02d.png", i)
		tasks[i] = entity.ImageTask{SourcePath: "/in/" + id, Identifier: id, Format: "png"}
	}
	return tasks
}

func collect(intake chan entity.TaskResult) (<-chan []entity.TaskResult, func()) {
	out := make(chan []entity.TaskResult, 1)
	go func() {
		var results []entity.TaskResult
		for r := range intake {
			results = append(results, r)
		}
		out <- results
	}()
	return out, func() { close(intake) }
}

func TestDispatcherEveryTaskReachesTerminalResult(t *testing.T) {
	rec := newFakeRecognizer(func(task entity.ImageTask, _ int) ([]entity.TableRow, error) {
		return []entity.TableRow{{task.Identifier}}, nil
	})
	d := NewDispatcher(rec, testExecutor(), nil, WithWorkers(4))

	intake := make(chan entity.TaskResult, 64)
	results, closeIntake := collect(intake)

	tasks := makeTasks(25)
	n, err := d.Run(context.Background(), tasks, intake)
	closeIntake()
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	got := <-results
	require.Len(t, got, 25)
	seen := map[string]bool{}
	for _, r := range got {
		assert.True(t, r.Result.OK)
		seen[r.Identifier] = true
	}
	assert.Len(t, seen, 25)
}

func TestDispatcherRetriesUpToBudgetThenOneTerminalFailure(t *testing.T) {
	rec := newFakeRecognizer(func(entity.ImageTask, int) ([]entity.TableRow, error) {
		return nil, &ocr.RecognitionError{
			Code: "InternalError", Reason: constants.ReasonServiceError,
			Message: "try later", Retryable: true,
		}
	})
	d := NewDispatcher(rec, testExecutor(), nil, WithWorkers(1))

	intake := make(chan entity.TaskResult, 4)
	results, closeIntake := collect(intake)

	n, err := d.Run(context.Background(), makeTasks(1), intake)
	closeIntake()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, rec.callCount("img_00.png"))

	got := <-results
	require.Len(t, got, 1)
	assert.False(t, got[0].Result.OK)
	assert.Equal(t, 3, got[0].Attempts)
	assert.True(t, got[0].Result.Failure.Retryable)
}

func TestDispatcherPermanentFailureIsNotRetried(t *testing.T) {
	rec := newFakeRecognizer(func(entity.ImageTask, int) ([]entity.TableRow, error) {
		return nil, &ocr.RecognitionError{
			Code: "FailedOperation.OcrFailed.NoTable", Reason: constants.ReasonNoTable,
			Message: "no table",
		}
	})
	d := NewDispatcher(rec, testExecutor(), nil, WithWorkers(1))

	intake := make(chan entity.TaskResult, 4)
	results, closeIntake := collect(intake)

	_, err := d.Run(context.Background(), makeTasks(1), intake)
	closeIntake()
	require.NoError(t, err)
	assert.Equal(t, 1, rec.callCount("img_00.png"))

	got := <-results
	require.Len(t, got, 1)
	assert.Equal(t, constants.ReasonNoTable, got[0].Result.Failure.Reason)
	assert.Equal(t, "img_00.png", got[0].Result.Failure.Identifier)
}

func TestDispatcherAuthFailureAbortsRun(t *testing.T) {
	rec := newFakeRecognizer(func(entity.ImageTask, int) ([]entity.TableRow, error) {
		return nil, &ocr.RecognitionError{
			Code: "AuthFailure.SignatureFailure", Reason: constants.ReasonServiceError,
			Message: "bad credential", Fatal: true,
		}
	})
	d := NewDispatcher(rec, testExecutor(), nil, WithWorkers(2))

	intake := make(chan entity.TaskResult, 64)
	_, closeIntake := collect(intake)

	_, err := d.Run(context.Background(), makeTasks(10), intake)
	closeIntake()
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrConfiguration))
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	var current, peak atomic.Int64
	rec := newFakeRecognizer(func(task entity.ImageTask, _ int) ([]entity.TableRow, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return []entity.TableRow{{task.Identifier}}, nil
	})
	d := NewDispatcher(rec, testExecutor(), nil, WithWorkers(2))

	intake := make(chan entity.TaskResult, 64)
	_, closeIntake := collect(intake)

	_, err := d.Run(context.Background(), makeTasks(12), intake)
	closeIntake()
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestDispatcherStopsPullingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{}, 64)
	rec := newFakeRecognizer(func(task entity.ImageTask, _ int) ([]entity.TableRow, error) {
		started <- struct{}{}
		time.Sleep(10 * time.Millisecond)
		return []entity.TableRow{{task.Identifier}}, nil
	})
	d := NewDispatcher(rec, testExecutor(), nil, WithWorkers(2))

	intake := make(chan entity.TaskResult, 64)
	results, closeIntake := collect(intake)

	go func() {
		<-started
		cancel()
	}()

	n, err := d.Run(ctx, makeTasks(50), intake)
	closeIntake()
	require.NoError(t, err)

	got := <-results
	assert.Equal(t, n, len(got))
	// in-flight tasks finish, queued ones are abandoned
	assert.Less(t, len(got), 50)
}
