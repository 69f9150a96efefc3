package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	defaultReadLimit = 2000
	maxResultBytes   = 30000
)

// ReadFileTool reads file contents.
type ReadFileTool struct{}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a text file" }
func (t *ReadFileTool) ReadOnly() bool      { return true }

func (t *ReadFileTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path":   stringProp("The path to the file to read (absolute or relative to current directory)"),
		"offset": integerProp("Line number to start reading from (1-based). Default is 1."),
		"limit":  integerProp("Maximum number of lines to read. Default is 2000."),
	}, "path")
}

func (t *ReadFileTool) Execute(ctx context.Context, params map[string]any, cwd string) (string, error) {
	path, _ := params["path"].(string)
	path = resolvePath(path, cwd)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	offset := 1
	if v, ok := params["offset"].(float64); ok && v > 0 {
		offset = int(v)
	}
	limit := defaultReadLimit
	if v, ok := params["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	lines := strings.Split(string(data), "\n")
	if offset > len(lines) {
		return "", fmt.Errorf("offset %d past end of file (%d lines)", offset, len(lines))
	}
	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}
	out := strings.Join(lines[offset-1:end], "\n")
	return truncate(out), nil
}

// ListDirectoryTool lists directory entries.
type ListDirectoryTool struct{}

func (t *ListDirectoryTool) Name() string        { return "list_directory" }
func (t *ListDirectoryTool) Description() string { return "List the entries of a directory" }
func (t *ListDirectoryTool) ReadOnly() bool      { return true }

func (t *ListDirectoryTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path": stringProp("Directory to list. Default is the current directory."),
	})
}

func (t *ListDirectoryTool) Execute(ctx context.Context, params map[string]any, cwd string) (string, error) {
	path := cwd
	if p, ok := params["path"].(string); ok && p != "" {
		path = resolvePath(p, cwd)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", path, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

// resolvePath makes a path absolute relative to cwd.
func resolvePath(path, cwd string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cwd, path)
}

// truncate caps tool output so a single result cannot flood the context
// window.
func truncate(s string) string {
	if len(s) <= maxResultBytes {
		return s
	}
	return s[:maxResultBytes] + "\n... (output truncated)"
}
