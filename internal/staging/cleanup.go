package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"tubemux/internal/logging"
)

// CleanResult contains the outcome of an orphan cleanup.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// Owned reports whether name looks like a file tubemux writes: scratch and
// output files named after an item id, and bundles named bundle-<id>.zip
// (optionally with a .partial suffix).
func Owned(name string) bool {
	name = strings.TrimSuffix(name, ".partial")
	if rest, ok := strings.CutPrefix(name, "bundle-"); ok {
		name = rest
	}
	id, _, _ := strings.Cut(name, ".")
	return uuid.Validate(id) == nil
}

// CleanOrphaned removes tubemux-owned files left in dirs by a previous
// process. Item state is not persisted across restarts, so nothing found at
// startup can be delivered again. Files that do not match Owned are kept.
func CleanOrphaned(ctx context.Context, dirs []string, logger *slog.Logger) CleanResult {
	result := CleanResult{}
	for _, dir := range dirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				result.Errors = append(result.Errors, CleanupError{Path: dir, Error: err})
			}
			continue
		}
		for _, entry := range entries {
			if ctx.Err() != nil {
				return result
			}
			if !entry.Type().IsRegular() || !Owned(entry.Name()) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
				if logger != nil {
					logger.Warn("failed to remove orphaned file",
						logging.String("path", path),
						logging.Error(err),
						logging.String(logging.FieldEventType, "orphan_cleanup_failed"),
						logging.String(logging.FieldErrorHint, "check directory permissions"),
					)
				}
				continue
			}
			result.Removed = append(result.Removed, path)
		}
	}
	if logger != nil && len(result.Removed) > 0 {
		logger.Info("removed orphaned files",
			logging.Int("count", len(result.Removed)),
			logging.String(logging.FieldEventType, "orphan_cleanup"),
		)
	}
	return result
}
