// Package scan enumerates corpus files for ingestion.
package scan

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// sha1PrefixBytes bounds how much of a file the change-detection digest
// reads. 64 MiB is enough to detect content changes in corpus files.
const sha1PrefixBytes = 64 << 20

// IngestItem identifies one corpus file discovered by a scan.
type IngestItem struct {
	Path     string  // canonical absolute path
	DocID    string  // stable id, sha1 of the absolute path
	Modality string  // "text"; "image" is reserved
	MTime    float64 // modification time, seconds since epoch
	SHA1     string  // hex digest of a bounded content prefix
}

// Options control scanning behaviour.
type Options struct {
	// Exts is the extension allow-list (".txt" style, any case).
	// Empty means allow everything.
	Exts []string

	// FollowSymlinks admits symlinked files. Off by default.
	FollowSymlinks bool

	// MaxFileSizeMB rejects files larger than this. Zero means no cap.
	MaxFileSizeMB int
}

// List expands the glob patterns and returns the matching corpus files,
// deduplicated by canonical absolute path and sorted by path. Recursive
// ** patterns are supported. Per-entry errors (permissions, races with
// deletion) are logged and skipped so a scan never aborts on one file.
func List(patterns []string, opts Options) ([]IngestItem, error) {
	allow := normalizeExts(opts.Exts)
	maxBytes := int64(opts.MaxFileSizeMB) << 20

	seen := make(map[string]struct{})
	var items []IngestItem

	for _, pattern := range patterns {
		pattern = expandPath(pattern)
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("expanding pattern %q: %w", pattern, err)
		}
		for _, match := range matches {
			item, ok := examine(match, allow, maxBytes, opts.FollowSymlinks)
			if !ok {
				continue
			}
			if _, dup := seen[item.Path]; dup {
				continue
			}
			seen[item.Path] = struct{}{}
			items = append(items, item)
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items, nil
}

// examine applies the per-file filters and builds the IngestItem.
func examine(path string, allow map[string]struct{}, maxBytes int64, followSymlinks bool) (IngestItem, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		slog.Warn("scan: resolving path", "path", path, "error", err)
		return IngestItem{}, false
	}

	lst, err := os.Lstat(abs)
	if err != nil {
		slog.Warn("scan: stat failed", "path", abs, "error", err)
		return IngestItem{}, false
	}
	if lst.Mode()&os.ModeSymlink != 0 {
		if !followSymlinks {
			return IngestItem{}, false
		}
		if lst, err = os.Stat(abs); err != nil {
			slog.Warn("scan: resolving symlink", "path", abs, "error", err)
			return IngestItem{}, false
		}
	}
	if !lst.Mode().IsRegular() {
		return IngestItem{}, false
	}

	if len(allow) > 0 {
		ext := strings.ToLower(filepath.Ext(abs))
		if _, ok := allow[ext]; !ok {
			return IngestItem{}, false
		}
	}
	if maxBytes > 0 && lst.Size() > maxBytes {
		slog.Warn("scan: file exceeds size cap", "path", abs, "size", lst.Size())
		return IngestItem{}, false
	}

	digest, err := FileSHA1(abs)
	if err != nil {
		slog.Warn("scan: hashing failed", "path", abs, "error", err)
		return IngestItem{}, false
	}

	return IngestItem{
		Path:     abs,
		DocID:    StableDocID(abs),
		Modality: "text",
		MTime:    float64(lst.ModTime().UnixNano()) / 1e9,
		SHA1:     digest,
	}, true
}

// StableDocID derives the document id from the absolute path. Two scans
// of the same path always produce the same id.
func StableDocID(absPath string) string {
	sum := sha1.Sum([]byte(absPath))
	return hex.EncodeToString(sum[:])
}

// FileSHA1 returns the hex SHA-1 digest of up to the first 64 MiB of
// the file.
func FileSHA1(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, io.LimitReader(f, sha1PrefixBytes)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// normalizeExts lowercases extensions and ensures the leading dot.
func normalizeExts(exts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[e] = struct{}{}
	}
	return out
}

// expandPath substitutes a leading ~ and any environment variables.
func expandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return os.ExpandEnv(p)
}
