package tool

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const maxSearchResults = 200

// SearchInFilesTool searches file contents recursively with a regular
// expression, reporting matching lines with file paths and line numbers.
type SearchInFilesTool struct{}

func (t *SearchInFilesTool) Name() string        { return "search_in_files" }
func (t *SearchInFilesTool) Description() string { return "Search file contents with a regular expression" }
func (t *SearchInFilesTool) ReadOnly() bool      { return true }

func (t *SearchInFilesTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"pattern": stringProp("Regular expression pattern to search for"),
		"path":    stringProp("File or directory to search in. Default is the current directory."),
		"include": stringProp("File glob to include (e.g., '*.go', '**/*.py')"),
	}, "pattern")
}

func (t *SearchInFilesTool) Execute(ctx context.Context, params map[string]any, cwd string) (string, error) {
	pattern, _ := params["pattern"].(string)
	if pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}

	basePath := cwd
	if p, ok := params["path"].(string); ok && p != "" {
		basePath = resolvePath(p, cwd)
	}
	include, _ := params["include"].(string)

	var sb strings.Builder
	matches := 0

	err = filepath.WalkDir(basePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
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
		if include != "" {
			matched, err := doublestar.Match(include, relPath)
			if err != nil || !matched {
				// Also try matching against the basename for simple patterns
				// like "*.go".
				if base, _ := doublestar.Match(include, filepath.Base(relPath)); !base {
					return nil
				}
			}
		}

		n, scanErr := scanFile(re, path, relPath, &sb, maxSearchResults-matches)
		if scanErr != nil {
			return nil // unreadable or binary, skip
		}
		matches += n
		if matches >= maxSearchResults {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil && err != context.Canceled {
		return "", fmt.Errorf("search error: %w", err)
	}

	if matches == 0 {
		return "No matches found.", nil
	}
	out := strings.TrimSuffix(sb.String(), "\n")
	if matches >= maxSearchResults {
		out += fmt.Sprintf("\n... (stopped at %d matches)", maxSearchResults)
	}
	return truncate(out), nil
}

// scanFile appends up to limit matching lines from one file.
func scanFile(re *regexp.Regexp, path, relPath string, sb *strings.Builder, limit int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	matches := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.ContainsRune(line, 0) {
			return matches, nil // binary file
		}
		if !re.MatchString(line) {
			continue
		}
		fmt.Fprintf(sb, "%s:%d: %s\n", relPath, lineNo, line)
		matches++
		if matches >= limit {
			break
		}
	}
	return matches, scanner.Err()
}
