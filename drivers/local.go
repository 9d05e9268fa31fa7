package drivers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Local resolves paths on the local filesystem.
type Local struct{}

func NewLocal() *Local { return &Local{} }

func (l *Local) Name() string { return "local" }

// Matches claims file:// URLs, absolute paths and, on Windows, drive-letter
// paths. Environment variables and ~ are expanded before the check.
func (l *Local) Matches(path string) bool {
	path = strings.TrimSpace(path)
	if path == "" {
		return false
	}
	if strings.HasPrefix(path, "file://") {
		return true
	}
	path = expand(path)
	if runtime.GOOS == "windows" && len(path) >= 2 && isDriveLetter(path[0]) && path[1] == ':' {
		return true
	}
	return filepath.IsAbs(path)
}

// Lookup scans the directory and splits entries into files and dirs. Details
// carries the resolved absolute path (used by the directory watcher) and
// per-file size/modification data.
func (l *Local) Lookup(_ context.Context, path string) (Listing, error) {
	path = expand(strings.TrimPrefix(strings.TrimSpace(path), "file://"))

	abs, err := filepath.Abs(path)
	if err != nil {
		return Listing{}, fmt.Errorf("resolve %q: %w", path, err)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return Listing{}, fmt.Errorf("scan %q: %w", abs, err)
	}

	listing := Listing{
		Files:   []string{},
		Dirs:    []string{},
		Details: map[string]any{"path": abs},
	}
	for _, entry := range entries {
		if entry.IsDir() {
			listing.Dirs = append(listing.Dirs, entry.Name())
			continue
		}
		listing.Files = append(listing.Files, entry.Name())
		if info, err := entry.Info(); err == nil {
			listing.Details[entry.Name()] = map[string]any{
				"size":     info.Size(),
				"modified": info.ModTime(),
			}
		}
	}
	return listing, nil
}

// LocalPath returns the absolute directory a listing refers to, when the
// listing came from the local driver.
func LocalPath(listing Listing) (string, bool) {
	p, ok := listing.Details["path"].(string)
	return p, ok
}

func expand(path string) string {
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}

func isDriveLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
