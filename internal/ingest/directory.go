// Package ingest finds documents on the local filesystem for submission.
package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/ocr-jobs/constants"
)

type DirStats struct {
	Scanned uint32
	Matched uint32
	Failed  uint32
}

// FileError is a path the walk could not read.
type FileError struct {
	Path string
	Err  error
}

// Discover walks root and returns every file with a supported extension in
// walk order. Hidden files and directories are skipped when skipHidden is set.
// Unreadable entries are reported and the walk continues.
func Discover(root string, skipHidden bool) ([]string, []FileError, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, nil, DirStats{}, errors.New("root path is required")
	}

	var (
		paths  []string
		failed []FileError
		stats  DirStats
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		stats.Scanned++
		if walkErr != nil {
			failed = append(failed, FileError{Path: path, Err: walkErr})
			stats.Failed++
			return nil // continue walking
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !Supported(path) {
			return nil
		}
		stats.Matched++
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return paths, failed, stats, fmt.Errorf("walk: %w", err)
	}
	return paths, failed, stats, nil
}

// ContentType guesses the content type of path from its extension.
func ContentType(path string) (string, bool) {
	ct, ok := constants.ExtContentTypes[constants.NormalizeExt(filepath.Ext(path))]
	return ct, ok
}

// Supported reports whether path has an extension the service accepts.
func Supported(path string) bool {
	_, ok := ContentType(path)
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
