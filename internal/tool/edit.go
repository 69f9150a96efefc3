package tool

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EditFileTool performs exact text replacement in a file. The old text must
// match exactly once; ambiguous matches are rejected so an edit can never
// land in the wrong place.
type EditFileTool struct{}

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Edit a file by exact text replacement. old_text must appear exactly once unless replace_all is true."
}
func (t *EditFileTool) ReadOnly() bool { return false }

func (t *EditFileTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path":     stringProp("The path to the file to edit"),
		"old_text": stringProp("The exact text to replace. Must be unique in the file unless replace_all is true."),
		"new_text": stringProp("The replacement text. Can be empty to delete old_text."),
		"replace_all": map[string]any{
			"type":        "boolean",
			"description": "If true, replace all occurrences. Default is false.",
		},
	}, "path", "old_text", "new_text")
}

func (t *EditFileTool) Execute(ctx context.Context, params map[string]any, cwd string) (string, error) {
	path, _ := params["path"].(string)
	oldText, _ := params["old_text"].(string)
	newText, _ := params["new_text"].(string)
	replaceAll, _ := params["replace_all"].(bool)
	path = resolvePath(path, cwd)

	if oldText == "" {
		return "", fmt.Errorf("old_text must not be empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	content := string(data)

	count := strings.Count(content, oldText)
	switch {
	case count == 0:
		return "", fmt.Errorf("old_text not found in %s", path)
	case count > 1 && !replaceAll:
		return "", fmt.Errorf("old_text appears %d times in %s; make it unique or set replace_all", count, path)
	}

	var updated string
	replaced := 1
	if replaceAll {
		updated = strings.ReplaceAll(content, oldText, newText)
		replaced = count
	} else {
		updated = strings.Replace(content, oldText, newText, 1)
	}

	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return fmt.Sprintf("Edited %s (%d replacement(s))", path, replaced), nil
}
