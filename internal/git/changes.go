package git

import (
	"fmt"
	"strings"
)

// ChangeType classifies a working tree change as reported by git
type ChangeType string

const (
	Added    ChangeType = "A"
	Modified ChangeType = "M"
	Deleted  ChangeType = "D"
	Renamed  ChangeType = "R"
	Unknown  ChangeType = "X"
)

// FileChange is one path reported by a working tree diff
type FileChange struct {
	Path    string
	Type    ChangeType
	OldPath string // set for renames
}

// Paths returns every path that must be staged to record the change
func (fc FileChange) Paths() []string {
	if fc.OldPath != "" && fc.OldPath != fc.Path {
		return []string{fc.OldPath, fc.Path}
	}
	return []string{fc.Path}
}

// changeTypeFromStatus maps a name-status letter (with optional score) to a ChangeType
func changeTypeFromStatus(status string) ChangeType {
	if status == "" {
		return Unknown
	}
	switch ChangeType(status[:1]) {
	case Added:
		return Added
	case Modified:
		return Modified
	case Deleted:
		return Deleted
	case Renamed:
		return Renamed
	default:
		// T (type change), C (copy), U (unmerged) and anything newer
		return Unknown
	}
}

// ParseNameStatus parses the NUL separated output of `git diff --name-status -z`.
// Renames and copies carry two paths, the source first. An unmerged path is
// also listed with its work tree status; only that entry is kept.
func ParseNameStatus(out string) ([]FileChange, error) {
	fields := strings.Split(out, "\x00")
	// output ends with a NUL, drop the trailing empty field
	if n := len(fields); n > 0 && fields[n-1] == "" {
		fields = fields[:n-1]
	}

	var changes []FileChange
	var unmergedAt []bool
	seen := make(map[string]bool)
	for i := 0; i < len(fields); {
		status := fields[i]
		i++
		if status == "" {
			continue
		}

		if i >= len(fields) {
			return nil, fmt.Errorf("malformed name-status output: status %q without path", status)
		}

		change := FileChange{Type: changeTypeFromStatus(status)}
		switch status[0] {
		case 'R', 'C':
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("malformed name-status output: %q without destination", status)
			}
			change.OldPath = fields[i]
			change.Path = fields[i+1]
			i += 2
		default:
			change.Path = fields[i]
			i++
		}
		if status[0] != 'U' {
			seen[change.Path] = true
		}
		changes = append(changes, change)
		unmergedAt = append(unmergedAt, status[0] == 'U')
	}

	kept := changes[:0]
	for i, c := range changes {
		if unmergedAt[i] && seen[c.Path] {
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return nil, nil
	}
	return kept, nil
}
