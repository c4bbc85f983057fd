package logfiles

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dbsbm/svcmaster/pkg/errors"
)

// FilePattern matches the daily manager log files.
const FilePattern = "master_service_*.log"

// Newest returns the path of the most recent log file in dir, or an
// empty string when the directory is missing or holds no log files.
func Newest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, FilePattern))
	if err != nil {
		return "", errors.NewIOError("failed to scan log directory", err).WithContext("dir", dir)
	}
	if len(matches) == 0 {
		return "", nil
	}

	// File names embed the date, so lexical order is chronological.
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// Tail returns the last n lines of the file, optionally keeping only
// lines that carry the given log level.
func Tail(path string, n int, level string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.NewIOError("failed to open log file", err).WithContext("path", path)
	}
	defer file.Close()

	levelToken := strings.ToUpper(strings.TrimSpace(level))

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if levelToken != "" && !hasLevel(line, levelToken) {
			continue
		}
		lines = append(lines, line)
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewIOError("failed to read log file", err).WithContext("path", path)
	}
	return lines, nil
}

// hasLevel checks for the level as a whole token, so "INFO" does not
// match message text containing the word in another case.
func hasLevel(line, level string) bool {
	for _, field := range strings.Fields(line) {
		if field == level {
			return true
		}
	}
	return false
}

// Follow streams lines appended to the file into w until the context is
// cancelled. It starts from the current end of file.
func Follow(ctx context.Context, path string, w io.Writer) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.NewIOError("failed to open log file", err).WithContext("path", path)
	}
	defer file.Close()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return errors.NewIOError("failed to seek log file", err).WithContext("path", path)
	}

	reader := bufio.NewReader(file)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				if _, werr := io.WriteString(w, line); werr != nil {
					return werr
				}
			}
			if err != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
