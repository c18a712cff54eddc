package scanner

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lss53/tencent-table-ocr-batch/constants"
	"github.com/lss53/tencent-table-ocr-batch/internal/common"
	"github.com/lss53/tencent-table-ocr-batch/internal/entity"
)

// Scanner enumerates candidate images under a root folder. Scanning is
// idempotent: the same tree yields the same tasks in the same
// (lexicographic) order, which filepath.WalkDir guarantees.
type Scanner struct {
	root          string
	maxImageBytes int64
	skipHidden    bool
	logger        *slog.Logger
}

// ScanStats aggregates one scan pass.
type ScanStats struct {
	Walked   uint32
	Accepted uint32
	Rejected uint32
	Skipped  uint32
}

func New(root string, maxImageBytes int64, skipHidden bool, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if maxImageBytes <= 0 {
		maxImageBytes = constants.MaxImageSize
	}
	return &Scanner{
		root:          root,
		maxImageBytes: maxImageBytes,
		skipHidden:    skipHidden,
		logger:        logger,
	}
}

// Scan walks the root and returns the accepted tasks plus the rejects that
// must still reach the failure report (oversized files). Files with other
// extensions are skipped silently, matching the service's accepted-format
// set. A missing or non-directory root is a configuration error.
func (s *Scanner) Scan() ([]entity.ImageTask, []entity.FailureRecord, ScanStats, error) {
	var (
		tasks    []entity.ImageTask
		rejected []entity.FailureRecord
		stats    ScanStats
	)

	root, err := filepath.Abs(s.root)
	if err != nil {
		return nil, nil, stats, common.ConfigError(fmt.Sprintf("resolve image dir %q: %v", s.root, err))
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, stats, common.ConfigError(fmt.Sprintf("image dir %q does not exist", root))
	}
	if !info.IsDir() {
		return nil, nil, stats, common.ConfigError(fmt.Sprintf("image dir %q is not a directory", root))
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		stats.Walked++
		if walkErr != nil {
			s.logger.Warn("scan.entry_error", "path", path, "error", walkErr)
			return nil // continue walking
		}
		if s.skipHidden && isHidden(path) && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		ext := constants.NormalizeExt(filepath.Ext(path))
		if _, ok := constants.AllowedExtensions[ext]; !ok {
			stats.Skipped++
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = filepath.Base(path)
		}
		rel = filepath.ToSlash(rel)

		fi, statErr := d.Info()
		if statErr != nil {
			stats.Rejected++
			rejected = append(rejected, entity.FailureRecord{
				Identifier: rel,
				Reason:     constants.ReasonReadError,
				Message:    statErr.Error(),
			})
			return nil
		}
		if fi.Size() > s.maxImageBytes {
			stats.Rejected++
			rejected = append(rejected, entity.FailureRecord{
				Identifier: rel,
				Reason:     constants.ReasonTooLarge,
				Message:    fmt.Sprintf("image is %.2f MB, limit is %.2f MB", mb(fi.Size()), mb(s.maxImageBytes)),
			})
			s.logger.Warn("scan.too_large", "identifier", rel, "size_bytes", fi.Size())
			return nil
		}

		stats.Accepted++
		tasks = append(tasks, entity.ImageTask{
			SourcePath: path,
			Identifier: rel,
			SizeBytes:  fi.Size(),
			Format:     ext,
		})
		return nil
	})
	if err != nil {
		return nil, nil, stats, fmt.Errorf("walk %s: %w", root, err)
	}

	s.logger.Info("scan.done",
		"root", root,
		"accepted", stats.Accepted,
		"rejected", stats.Rejected,
		"skipped", stats.Skipped,
	)
	return tasks, rejected, stats, nil
}

func isHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".")
}

func mb(n int64) float64 {
	return float64(n) / 1024 / 1024
}
