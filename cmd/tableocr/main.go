package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lss53/tencent-table-ocr-batch/internal/checkpoint"
	"github.com/lss53/tencent-table-ocr-batch/internal/common"
	"github.com/lss53/tencent-table-ocr-batch/internal/export"
	"github.com/lss53/tencent-table-ocr-batch/internal/metrics"
	"github.com/lss53/tencent-table-ocr-batch/internal/ocr"
	"github.com/lss53/tencent-table-ocr-batch/internal/pipeline"
	"github.com/lss53/tencent-table-ocr-batch/internal/resilience"
	"github.com/lss53/tencent-table-ocr-batch/internal/scanner"
)

const (
	exitOK     = 0
	exitFatal  = 1
	exitConfig = 2
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg := common.LoadConfig()

	var (
		dir       = flag.String("dir", cfg.Input.Dir, "image folder to process (required)")
		outDir    = flag.String("out-dir", cfg.Output.Dir, "folder for the spreadsheet and failure report (required)")
		logDir    = flag.String("log-dir", cfg.Output.LogDir, "folder for the run log file (optional)")
		workers   = flag.Int("workers", cfg.Pipeline.Workers, "concurrent recognition workers")
		batchSize = flag.Int("batch-size", cfg.Pipeline.BatchSize, "results per checkpoint flush")
		region    = flag.String("region", cfg.OCR.Region, "recognition service region")
		noResume  = flag.Bool("no-resume", false, "ignore checkpoints from a previous interrupted run")
	)
	flag.Parse()

	cfg.Input.Dir = *dir
	cfg.Output.Dir = *outDir
	cfg.Output.LogDir = *logDir
	cfg.Pipeline.Workers = *workers
	cfg.Pipeline.BatchSize = *batchSize
	cfg.OCR.Region = *region
	if *noResume {
		cfg.Pipeline.Resume = false
	}

	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		return exitConfig
	}

	logger, logCloser, err := common.NewRunLogger(cfg.Output.LogDir, cfg.LogLevel)
	if err != nil {
		printError("Error: %v\n", err)
		return exitConfig
	}
	if logCloser != nil {
		defer func() { _ = logCloser.Close() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		printError("Error: create output dir: %v\n", err)
		return exitConfig
	}

	baseName := filepath.Base(filepath.Clean(cfg.Input.Dir))
	if baseName == "" || baseName == "." || baseName == string(filepath.Separator) {
		baseName = "table_ocr_result"
	}

	store, err := checkpoint.Open(ctx, filepath.Join(cfg.Output.Dir, baseName+".progress.db"), logger)
	if err != nil {
		logger.Error("failed to open checkpoint store", "error", err)
		return exitFatal
	}
	defer func() { _ = store.Close() }()

	var workerMetrics *metrics.WorkerMetrics
	if cfg.Metrics.Addr != "" {
		workerMetrics = metrics.NewWorkerMetrics()
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", workerMetrics.Handler())
			logger.Info("metrics.listen", "addr", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Warn("metrics.listen_error", "error", err)
			}
		}()
	}

	client := ocr.NewClient(ocr.Config{
		Endpoint:       cfg.OCR.Endpoint,
		Region:         cfg.OCR.Region,
		SecretID:       cfg.OCR.SecretID,
		SecretKey:      cfg.OCR.SecretKey,
		RequestTimeout: cfg.OCR.RequestTimeout,
	}, logger)

	exec := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    cfg.Retry.MaxAttempts,
		RetryInitialBackoff: cfg.Retry.InitialBackoff,
		RetryMaxBackoff:     cfg.Retry.MaxBackoff,
		RetryMultiplier:     cfg.Retry.Multiplier,
		RequestsPerSecond:   cfg.OCR.RequestsPerSecond,
		BreakerEnabled:      true,
	}, logger)

	dispatcher := pipeline.NewDispatcher(client, exec, logger,
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithQueueSize(cfg.Pipeline.QueueSize),
		pipeline.WithMetrics(workerMetrics),
	)

	p := pipeline.New(
		scanner.New(cfg.Input.Dir, cfg.Input.MaxImageBytes, cfg.Input.SkipHidden, logger),
		dispatcher,
		store,
		checkpoint.NewWriter(store, cfg.Pipeline.BatchSize, logger),
		export.NewService(cfg.Output.Dir, logger),
		baseName,
		cfg.Pipeline.Resume,
		logger,
	)

	summary, err := p.Run(ctx)
	if err != nil {
		logger.Error("run failed", "error", err)
		if errors.Is(err, common.ErrConfiguration) {
			printError("Error: %v\n", err)
			return exitConfig
		}
		return exitFatal
	}

	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Images scanned: %d (rejected: %d, resumed-skip: %d)\n", summary.Scanned, summary.Rejected, summary.Skipped)
	fmt.Printf("- Succeeded: %d\n", summary.Succeeded)
	fmt.Printf("- Failed: %d\n", summary.Failed)
	if summary.Partial {
		fmt.Printf("- Run was interrupted; progress is checkpointed and a re-run will resume\n")
	}
	fmt.Printf("- Elapsed: %s\n", summary.Elapsed.Round(time.Millisecond))
	fmt.Printf("- Spreadsheet: %s\n", summary.SpreadsheetPath)
	fmt.Printf("- Failure report: %s\n", summary.ReportPath)
	return exitOK
}
