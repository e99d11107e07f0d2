package sync

import (
	"context"
	"fmt"
	"sort"

	"github.com/tekku-taro/lolipop-deploy-tool/internal/exclude"
	"github.com/tekku-taro/lolipop-deploy-tool/internal/git"
)

// PathSet is a set of slash-separated paths relative to an app root
type PathSet map[string]struct{}

// NewPathSet creates a set holding paths
func NewPathSet(paths ...string) PathSet {
	s := make(PathSet, len(paths))
	s.Add(paths...)
	return s
}

// Add inserts paths into the set
func (s PathSet) Add(paths ...string) {
	for _, p := range paths {
		s[p] = struct{}{}
	}
}

// Remove drops p from the set
func (s PathSet) Remove(p string) {
	delete(s, p)
}

// Has reports whether p is in the set
func (s PathSet) Has(p string) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the members in lexical order
func (s PathSet) Sorted() []string {
	result := make([]string, 0, len(s))
	for p := range s {
		result = append(result, p)
	}
	sort.Strings(result)
	return result
}

// ChangeSet holds the paths to upload and to delete remotely
type ChangeSet struct {
	Upload PathSet
	Delete PathSet
}

// NewChangeSet creates an empty change set
func NewChangeSet() ChangeSet {
	return ChangeSet{Upload: NewPathSet(), Delete: NewPathSet()}
}

// RevisionLookupError reports a history query that could not complete
type RevisionLookupError struct {
	Dir string
	Op  string
	Err error
}

func (e *RevisionLookupError) Error() string {
	return fmt.Sprintf("revision lookup %s in %s: %v", e.Op, e.Dir, e.Err)
}

func (e *RevisionLookupError) Unwrap() error {
	return e.Err
}

// Resolution is the outcome of resolving one working tree
type Resolution struct {
	// Revision is the current HEAD commit
	Revision string
	// UpToDate is set when the baseline equals Revision and no full run
	// was requested; Changes is empty and the diff was never computed
	UpToDate bool
	// Full is set when Changes lists every tracked file
	Full    bool
	Changes ChangeSet
}

// Resolver derives change sets from version-control history
type Resolver struct {
	history git.History
	filter  *exclude.Matcher
}

// NewResolver creates a resolver that filters every path through filter
func NewResolver(history git.History, filter *exclude.Matcher) *Resolver {
	return &Resolver{history: history, filter: filter}
}

// Resolve computes the change set of the tree at root since baseline. An
// empty baseline or force lists every tracked file for upload and deletes
// nothing. Renames resolve to a deletion of the old path and an upload of
// the new one.
func (r *Resolver) Resolve(ctx context.Context, root, baseline string, force bool) (*Resolution, error) {
	revision, err := r.history.CurrentRevision(ctx, root)
	if err != nil {
		return nil, &RevisionLookupError{Dir: root, Op: "current revision", Err: err}
	}

	res := &Resolution{Revision: revision, Changes: NewChangeSet()}

	if baseline != "" && baseline == revision && !force {
		res.UpToDate = true
		return res, nil
	}

	if baseline == "" || force {
		files, err := r.history.ListFiles(ctx, root)
		if err != nil {
			return nil, &RevisionLookupError{Dir: root, Op: "list files", Err: err}
		}
		res.Full = true
		res.Changes.Upload.Add(r.filter.Filter(files)...)
		return res, nil
	}

	changes, err := r.history.Diff(ctx, root, baseline)
	if err != nil {
		return nil, &RevisionLookupError{Dir: root, Op: "diff " + baseline, Err: err}
	}

	var uploads, deletes []string
	for _, c := range changes {
		switch c.Kind {
		case git.Deleted:
			deletes = append(deletes, c.Path)
		case git.Renamed:
			deletes = append(deletes, c.OldPath)
			uploads = append(uploads, c.Path)
		default:
			uploads = append(uploads, c.Path)
		}
	}

	res.Changes.Upload.Add(r.filter.Filter(uploads)...)
	for _, p := range r.filter.Filter(deletes) {
		// the upload replaces the remote file, so deleting it first is redundant
		if !res.Changes.Upload.Has(p) {
			res.Changes.Delete.Add(p)
		}
	}
	return res, nil
}
