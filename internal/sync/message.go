package sync

import (
	"fmt"
	"strings"

	"github.com/schaermu/gitsyncd/internal/git"
)

// CommitMessage summarizes changes as
//
//	Update N files
//
//	- Added: path
//	- Deleted: path
func CommitMessage(changes []git.FileChange) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Update %d files\n\n", len(changes))
	for i, c := range changes {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", action(c.Type), c.Path)
	}
	return b.String()
}

func action(t git.ChangeType) string {
	switch t {
	case git.Added:
		return "Added"
	case git.Modified:
		return "Modified"
	case git.Deleted:
		return "Deleted"
	case git.Renamed:
		return "Renamed"
	default:
		return "Updated"
	}
}

// changedPaths returns every path a commit of changes must stage, including
// the old side of renames
func changedPaths(changes []git.FileChange) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, c := range changes {
		for _, p := range c.Paths() {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	return paths
}
