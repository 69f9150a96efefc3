package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileTool writes content to a file, creating parent directories.
type WriteFileTool struct{}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file, overwriting if present" }
func (t *WriteFileTool) ReadOnly() bool      { return false }

func (t *WriteFileTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path":    stringProp("The path to the file to write"),
		"content": stringProp("The content to write"),
	}, "path", "content")
}

func (t *WriteFileTool) Execute(ctx context.Context, params map[string]any, cwd string) (string, error) {
	path, _ := params["path"].(string)
	content, _ := params["content"].(string)
	path = resolvePath(path, cwd)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}

// CreateDirectoryTool creates a directory and any missing parents.
type CreateDirectoryTool struct{}

func (t *CreateDirectoryTool) Name() string        { return "create_directory" }
func (t *CreateDirectoryTool) Description() string { return "Create a directory, including parents" }
func (t *CreateDirectoryTool) ReadOnly() bool      { return false }

func (t *CreateDirectoryTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path": stringProp("The directory path to create"),
	}, "path")
}

func (t *CreateDirectoryTool) Execute(ctx context.Context, params map[string]any, cwd string) (string, error) {
	path, _ := params["path"].(string)
	path = resolvePath(path, cwd)

	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	return "Created " + path, nil
}

// DeleteFileTool removes a single file.
type DeleteFileTool struct{}

func (t *DeleteFileTool) Name() string        { return "delete_file" }
func (t *DeleteFileTool) Description() string { return "Delete a file" }
func (t *DeleteFileTool) ReadOnly() bool      { return false }

func (t *DeleteFileTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path": stringProp("The path of the file to delete"),
	}, "path")
}

func (t *DeleteFileTool) Execute(ctx context.Context, params map[string]any, cwd string) (string, error) {
	path, _ := params["path"].(string)
	path = resolvePath(path, cwd)

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory, not a file", path)
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return "Deleted " + path, nil
}
