package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type fetchFunc func(w io.Writer) (name string, size int64, err error)

// saveDownload streams an artifact into a temporary file next to its
// destination and renames it into place once the transfer completed. output
// may name a file, an existing directory, or be empty for the working
// directory; directories receive the server-suggested file name.
func saveDownload(cmd *cobra.Command, output string, fallbackName string, fetch fetchFunc) error {
	output = strings.TrimSpace(output)
	dir := "."
	target := ""
	if output != "" {
		if info, err := os.Stat(output); err == nil && info.IsDir() {
			dir = output
		} else {
			dir = filepath.Dir(output)
			target = output
		}
	}

	tmp, err := os.CreateTemp(dir, ".tubemux-*.partial")
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	name, size, fetchErr := fetch(tmp)
	if closeErr := tmp.Close(); fetchErr == nil && closeErr != nil {
		fetchErr = fmt.Errorf("close download file: %w", closeErr)
	}
	if fetchErr != nil {
		return fetchErr
	}

	if target == "" {
		name = filepath.Base(strings.TrimSpace(name))
		if name == "" || name == "." || name == string(filepath.Separator) {
			name = fallbackName
		}
		target = filepath.Join(dir, name)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("save %s: %w", target, err)
	}
	committed = true
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", target, humanize.IBytes(uint64(max(size, 0))))
	return nil
}
