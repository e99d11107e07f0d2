package git

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotRepository is returned when a directory is not a git working tree.
var ErrNotRepository = errors.New("not a git repository")

// ChangeKind classifies a path-level change between two revisions
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Deleted
	Renamed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// Change is one entry of a revision diff. OldPath is only set for renames.
type Change struct {
	Kind    ChangeKind
	Path    string
	OldPath string
}

// History reads revision information from a local working tree
type History interface {
	// CurrentRevision returns the commit hash of HEAD
	CurrentRevision(ctx context.Context, dir string) (string, error)
	// ListFiles returns every tracked path, relative to dir, slash-separated
	ListFiles(ctx context.Context, dir string) ([]string, error)
	// Diff lists the changes between the from revision and HEAD
	Diff(ctx context.Context, dir, from string) ([]Change, error)
}

// parseNameStatus parses the NUL-separated output of
// "git diff --name-status -z". Copies are reported as additions of the
// destination path; type changes and unmerged entries as modifications.
func parseNameStatus(out string) ([]Change, error) {
	fields := strings.Split(out, "\x00")
	if n := len(fields); n > 0 && fields[n-1] == "" {
		fields = fields[:n-1]
	}

	var changes []Change
	for i := 0; i < len(fields); {
		status := fields[i]
		i++
		if status == "" {
			return nil, fmt.Errorf("malformed diff output: empty status at field %d", i-1)
		}

		switch status[0] {
		case 'R', 'C':
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("malformed diff output: %s entry missing paths", status)
			}
			oldPath, newPath := fields[i], fields[i+1]
			i += 2
			if status[0] == 'R' {
				changes = append(changes, Change{Kind: Renamed, Path: newPath, OldPath: oldPath})
			} else {
				changes = append(changes, Change{Kind: Added, Path: newPath})
			}
		default:
			if i >= len(fields) {
				return nil, fmt.Errorf("malformed diff output: %s entry missing path", status)
			}
			path := fields[i]
			i++
			switch status[0] {
			case 'A':
				changes = append(changes, Change{Kind: Added, Path: path})
			case 'D':
				changes = append(changes, Change{Kind: Deleted, Path: path})
			default:
				changes = append(changes, Change{Kind: Modified, Path: path})
			}
		}
	}

	return changes, nil
}

// splitNUL splits NUL-terminated output into its non-empty fields
func splitNUL(out string) []string {
	var result []string
	for _, f := range strings.Split(out, "\x00") {
		if f != "" {
			result = append(result, f)
		}
	}
	return result
}
