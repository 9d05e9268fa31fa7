// Package tasks provides the built-in task handlers shipped with the
// backend: bulk file copy and delete with per-file progress, plus a sleep
// handler useful for exercising the pipeline.
package tasks

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/filebro/backend/core"
)

// Register binds every built-in handler into r.
func Register(r *core.HandlerRegistry) error {
	for name, h := range map[string]core.Handler{
		"copy_files":   CopyFiles,
		"delete_files": DeleteFiles,
		"sleep":        Sleep,
	} {
		if err := r.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}

// CopyFiles copies kwargs["files"] into kwargs["destination"], reporting one
// progress step per file. Returns the number of files copied.
func CopyFiles(ctx context.Context, call core.Call, progress *core.Reporter) (any, error) {
	files, err := stringList(call.Kwargs["files"])
	if err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}
	dest, ok := call.Kwargs["destination"].(string)
	if !ok || dest == "" {
		return nil, fmt.Errorf("destination must be a non-empty string")
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}

	total := len(files)
	for i, src := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := copyFile(src, filepath.Join(dest, filepath.Base(src))); err != nil {
			return nil, fmt.Errorf("copy %q: %w", src, err)
		}
		progress.Report(float64(i+1)/float64(total), src)
	}
	return total, nil
}

// DeleteFiles removes kwargs["files"] one by one, reporting per-file
// progress. Returns the number of files deleted.
func DeleteFiles(ctx context.Context, call core.Call, progress *core.Reporter) (any, error) {
	files, err := stringList(call.Kwargs["files"])
	if err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}

	total := len(files)
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("delete %q: %w", path, err)
		}
		progress.Report(float64(i+1)/float64(total), path)
	}
	return total, nil
}

// Sleep waits kwargs["seconds"] in ten progress steps, honoring
// cancellation. It exists for demos and integration tests.
func Sleep(ctx context.Context, call core.Call, progress *core.Reporter) (any, error) {
	seconds, ok := toFloat(call.Kwargs["seconds"])
	if !ok || seconds < 0 {
		return nil, fmt.Errorf("seconds must be a non-negative number")
	}

	const steps = 10
	step := time.Duration(seconds * float64(time.Second) / steps)
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(step):
		}
		progress.Report(float64(i)/steps, "sleeping")
	}
	return seconds, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// stringList accepts both []string and the []any produced by JSON decoding.
func stringList(v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected list of strings, got %T", v)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
