package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"tubemux/internal/fileutil"
	"tubemux/internal/logging"
	"tubemux/internal/services"
)

// Entry is one file to place in the archive.
type Entry struct {
	SourcePath string
	Name       string
}

// Writer assembles archives.
type Writer struct {
	logger *slog.Logger
}

// NewWriter constructs a Writer.
func NewWriter(logger *slog.Logger) *Writer {
	return &Writer{logger: logging.NewComponentLogger(logger, "archive")}
}

// Create writes entries into a new zip under dir and returns its path. Media
// is already compressed, so entries are stored rather than deflated. With
// no entries nothing is written and ErrNoCompletedItems is returned.
func (w *Writer) Create(ctx context.Context, dir string, entries []Entry) (path string, err error) {
	if len(entries) == 0 {
		return "", services.Wrap(services.ErrNoCompletedItems, "archive", "create", "no completed items to bundle", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransfer, "archive", "create", "create bundle dir", err)
	}

	path = filepath.Join(dir, "bundle-"+uuid.NewString()+".zip")
	partial := path + ".partial"
	file, err := os.Create(partial)
	if err != nil {
		return "", services.Wrap(services.ErrTransfer, "archive", "create", "create bundle file", err)
	}
	defer func() {
		if err != nil {
			_ = file.Close()
			_ = fileutil.RemoveAll(partial, path)
		}
	}()

	zw := zip.NewWriter(file)
	for _, entry := range entries {
		if err = ctx.Err(); err != nil {
			return "", err
		}
		if err = addEntry(zw, entry); err != nil {
			return "", err
		}
	}
	if err = zw.Close(); err != nil {
		return "", services.Wrap(services.ErrTransfer, "archive", "finalize", "write zip directory", err)
	}
	if err = file.Close(); err != nil {
		return "", services.Wrap(services.ErrTransfer, "archive", "finalize", "flush bundle file", err)
	}
	if err = os.Rename(partial, path); err != nil {
		return "", services.Wrap(services.ErrTransfer, "archive", "finalize", "publish bundle file", err)
	}
	w.logger.Info("bundle created",
		logging.String(logging.FieldEventType, "bundle_created"),
		logging.String("path", path),
		logging.Int("entries", len(entries)),
	)
	return path, nil
}

func addEntry(zw *zip.Writer, entry Entry) error {
	src, err := os.Open(entry.SourcePath)
	if err != nil {
		return services.Wrap(services.ErrArtifactMissing, "archive", "add entry", fmt.Sprintf("open %s", entry.Name), err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return services.Wrap(services.ErrArtifactMissing, "archive", "add entry", fmt.Sprintf("stat %s", entry.Name), err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return services.Wrap(services.ErrTransfer, "archive", "add entry", "build header", err)
	}
	header.Name = entry.Name
	header.Method = zip.Store

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return services.Wrap(services.ErrTransfer, "archive", "add entry", "write header", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return services.Wrap(services.ErrTransfer, "archive", "add entry", fmt.Sprintf("copy %s", entry.Name), err)
	}
	return nil
}
