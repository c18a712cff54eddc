package scanner

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lss53/tencent-table-ocr-batch/constants"
	"github.com/lss53/tencent-table-ocr-batch/internal/common"
)

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xAB}, size), 0o644))
	return path
}

func TestScanAcceptsSupportedFormats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.png", 10)
	writeFile(t, dir, "a.jpg", 10)
	writeFile(t, dir, "c.tiff", 10)
	writeFile(t, dir, "notes.txt", 10)
	writeFile(t, dir, "doc.pdf", 10)

	tasks, rejected, stats, err := New(dir, 0, true, nil).Scan()
	require.NoError(t, err)
	assert.Empty(t, rejected)
	assert.EqualValues(t, 3, stats.Accepted)
	assert.EqualValues(t, 2, stats.Skipped)

	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.Identifier)
	}
	// lexicographic by path
	assert.Equal(t, []string{"a.jpg", "b.png", "c.tiff"}, ids)
}

func TestScanIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sub/one.png", 10)
	writeFile(t, dir, "sub/two.png", 10)
	writeFile(t, dir, "zero.jpeg", 10)

	s := New(dir, 0, true, nil)
	first, _, _, err := s.Scan()
	require.NoError(t, err)
	second, _, _, err := s.Scan()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestScanRejectsOversizedAsTooLarge(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "big.png", 2048)
	writeFile(t, dir, "small.png", 16)

	tasks, rejected, stats, err := New(dir, 1024, true, nil).Scan()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "small.png", tasks[0].Identifier)

	require.Len(t, rejected, 1)
	assert.Equal(t, "big.png", rejected[0].Identifier)
	assert.Equal(t, constants.ReasonTooLarge, rejected[0].Reason)
	assert.False(t, rejected[0].Retryable)
	assert.EqualValues(t, 1, stats.Rejected)
}

func TestScanTracksDuplicateBasenamesByRelativePath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "jan/table.png", 10)
	writeFile(t, dir, "feb/table.png", 10)

	tasks, _, _, err := New(dir, 0, true, nil).Scan()
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "feb/table.png", tasks[0].Identifier)
	assert.Equal(t, "jan/table.png", tasks[1].Identifier)
}

func TestScanSkipsHidden(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".hidden/table.png", 10)
	writeFile(t, dir, ".thumb.png", 10)
	writeFile(t, dir, "visible.png", 10)

	tasks, _, stats, err := New(dir, 0, true, nil).Scan()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "visible.png", tasks[0].Identifier)
	assert.EqualValues(t, 1, stats.Accepted)
}

func TestScanMissingRootIsConfigurationError(t *testing.T) {
	_, _, _, err := New(filepath.Join(t.TempDir(), "nope"), 0, true, nil).Scan()
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrConfiguration))
}

func TestScanFileRootIsConfigurationError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "file.png", 10)
	_, _, _, err := New(path, 0, true, nil).Scan()
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrConfiguration))
}
