package logfiles

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewest(t *testing.T) {
	t.Run("MissingDirectory", func(t *testing.T) {
		newest, err := Newest(filepath.Join(t.TempDir(), "nope"))
		require.NoError(t, err)
		assert.Empty(t, newest)
	})

	t.Run("EmptyDirectory", func(t *testing.T) {
		newest, err := Newest(t.TempDir())
		require.NoError(t, err)
		assert.Empty(t, newest)
	})

	t.Run("PicksLatestDate", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{
			"master_service_20250601.log",
			"master_service_20250603.log",
			"master_service_20250602.log",
			"unrelated.log",
		} {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x\n"), 0o644))
		}

		newest, err := Newest(dir)
		require.NoError(t, err)
		assert.Equal(t, "master_service_20250603.log", filepath.Base(newest))
	})
}

func TestTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master_service_20250601.log")
	content := strings.Join([]string{
		"2025-06-01T10:00:00.000+0000 INFO starting services",
		"2025-06-01T10:00:01.000+0000 WARN web_server slow to respond",
		"2025-06-01T10:00:02.000+0000 ERROR discord_bot health check failed",
		"2025-06-01T10:00:03.000+0000 INFO discord_bot restarted",
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Run("LastN", func(t *testing.T) {
		lines, err := Tail(path, 2, "")
		require.NoError(t, err)
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], "health check failed")
		assert.Contains(t, lines[1], "restarted")
	})

	t.Run("MoreThanAvailable", func(t *testing.T) {
		lines, err := Tail(path, 100, "")
		require.NoError(t, err)
		assert.Len(t, lines, 4)
	})

	t.Run("LevelFilter", func(t *testing.T) {
		lines, err := Tail(path, 50, "info")
		require.NoError(t, err)
		require.Len(t, lines, 2)
		for _, line := range lines {
			assert.Contains(t, line, "INFO")
		}
	})

	t.Run("LevelDoesNotMatchMessageText", func(t *testing.T) {
		lines, err := Tail(path, 50, "ERROR")
		require.NoError(t, err)
		require.Len(t, lines, 1)
		assert.Contains(t, lines[0], "discord_bot health check failed")
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Tail(filepath.Join(t.TempDir(), "nope.log"), 10, "")
		assert.Error(t, err)
	})
}
