package security

import (
	"fmt"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// UnifiedDiff renders a unified diff between old and new file content for the
// approval prompt. A new file yields a diff against empty content.
func UnifiedDiff(filePath, oldContent, newContent string) string {
	edits := myers.ComputeEdits(span.URIFromPath(filePath), oldContent, newContent)
	return fmt.Sprint(gotextdiff.ToUnified(filePath, filePath, oldContent, edits))
}
