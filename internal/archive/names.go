package archive

import (
	"fmt"
	"path/filepath"
	"strings"

	"tubemux/internal/job"
	"tubemux/internal/textutil"
)

// EntryName derives a unique in-archive file name from a title. used tracks
// names already taken and is updated.
func EntryName(title, id, ext string, used map[string]struct{}) string {
	base := textutil.SafeTitle(title)
	if base == "" {
		base = "video-" + id
	}
	ext = strings.TrimPrefix(ext, ".")
	name := withExt(base, ext)
	for n := 2; ; n++ {
		if _, taken := used[strings.ToLower(name)]; !taken {
			break
		}
		name = withExt(fmt.Sprintf("%s (%d)", base, n), ext)
	}
	used[strings.ToLower(name)] = struct{}{}
	return name
}

func withExt(base, ext string) string {
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// EntriesFor selects completed items with an artifact and names them in
// submission order.
func EntriesFor(items []job.Snapshot) []Entry {
	used := make(map[string]struct{}, len(items))
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if item.Stage != job.StageCompleted || item.OutputPath == "" {
			continue
		}
		entries = append(entries, Entry{
			SourcePath: item.OutputPath,
			Name:       EntryName(item.Title(), item.ID, filepath.Ext(item.OutputPath), used),
		})
	}
	return entries
}
