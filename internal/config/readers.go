package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxReleaseFileLines bounds how much of a release file is parsed.
const maxReleaseFileLines = 64

// ReadLines reads a config-style line file: whitespace is trimmed, comments
// (anything after #) are stripped, and blank lines are skipped. At most
// maxLines lines are returned; maxLines <= 0 reads the whole file.
func ReadLines(path string, maxLines int) ([]string, error) {
	in, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = in.Close()
	}()

	var lines []string

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if comment := strings.IndexByte(line, '#'); comment >= 0 {
			line = line[:comment]
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		lines = append(lines, line)
		if maxLines > 0 && len(lines) == maxLines {
			break
		}
	}

	if err = scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return lines, nil
}

// ReadKeyValueFile parses an os-release style KEY=VALUE file. Values may be
// double quoted; lines without a key are skipped.
func ReadKeyValueFile(path string) (map[string]string, error) {
	lines, err := ReadLines(path, maxReleaseFileLines)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(lines))

	for _, line := range lines {
		key, value, found := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			continue
		}

		values[key] = strings.Trim(strings.TrimSpace(value), `"`)
	}

	return values, nil
}
