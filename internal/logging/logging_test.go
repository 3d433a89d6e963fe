package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"spcbench-backend-go/internal/config"
)

func TestDailyFileRotatesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "app-2020-01-01.log")
	require.NoError(t, os.WriteFile(stale, []byte("old\n"), 0o644))
	unrelated := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(unrelated, []byte("keep\n"), 0o644))

	day := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)
	d, err := NewDailyFile(dir, 3)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() }) //nolint:errcheck
	d.now = func() time.Time { return day }
	require.NoError(t, d.rotate(day.Format("2006-01-02")))

	_, err = d.Write([]byte("first\n"))
	require.NoError(t, err)

	day = day.Add(2 * time.Minute)
	_, err = d.Write([]byte("second\n"))
	require.NoError(t, err)
	require.NoError(t, d.Sync())

	first, err := os.ReadFile(filepath.Join(dir, "app-2026-03-10.log"))
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(first))
	second, err := os.ReadFile(filepath.Join(dir, "app-2026-03-11.log"))
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(second))

	assert.NoFileExists(t, stale)
	assert.FileExists(t, unrelated)
}

func TestInitReplacesGlobalLogger(t *testing.T) {
	dir := t.TempDir()
	cleanup, err := Init(config.LogConfig{Level: "debug", Format: "json", Dir: dir, RetentionDays: 2})
	require.NoError(t, err)

	zap.L().Info("hello", zap.String("component", "test"))
	cleanup()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	content, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(content), `"component":"test"`)
}

func TestInitRejectsBadLevel(t *testing.T) {
	_, err := Init(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
