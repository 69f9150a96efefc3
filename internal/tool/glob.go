package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const maxGlobResults = 100

// ignoredDirs are directories skipped during glob and search walks.
var ignoredDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	".svn":         true,
	".hg":          true,
	"vendor":       true,
	"__pycache__":  true,
	".cache":       true,
	"dist":         true,
	"build":        true,
}

// GlobTool finds files matching a glob pattern. Supports ** for recursive
// matching; results are sorted by modification time, newest first.
type GlobTool struct{}

func (t *GlobTool) Name() string        { return "glob" }
func (t *GlobTool) Description() string { return "Find files matching a glob pattern" }
func (t *GlobTool) ReadOnly() bool      { return true }

func (t *GlobTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"pattern": stringProp("Glob pattern to match files (e.g., '**/*.go', 'src/**/*.ts')"),
		"path":    stringProp("Base directory to search in. Default is the current directory."),
	}, "pattern")
}

func (t *GlobTool) Execute(ctx context.Context, params map[string]any, cwd string) (string, error) {
	pattern, _ := params["pattern"].(string)
	if pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}

	basePath := cwd
	if p, ok := params["path"].(string); ok && p != "" {
		basePath = resolvePath(p, cwd)
	}
	if _, err := os.Stat(basePath); err != nil {
		return "", fmt.Errorf("path not accessible: %w", err)
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo

	err := filepath.WalkDir(basePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.IsDir() {
			if ignoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		relPath, err := filepath.Rel(basePath, path)
		if err != nil {
			return nil
		}
		matched, err := doublestar.Match(pattern, relPath)
		if err != nil || !matched {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, fileInfo{path: relPath, modTime: info.ModTime()})
		return nil
	})
	if err != nil && err != context.Canceled {
		return "", fmt.Errorf("glob error: %w", err)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})

	truncated := false
	if len(files) > maxGlobResults {
		files = files[:maxGlobResults]
		truncated = true
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	out := strings.Join(paths, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (showing first %d matches)", maxGlobResults)
	}
	if out == "" {
		out = "No files matched."
	}
	return out, nil
}
