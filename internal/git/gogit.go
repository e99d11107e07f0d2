package git

import (
	"context"
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// GoGitClient implements History in-process with go-git, without
// requiring a git binary on the deploying machine.
type GoGitClient struct{}

// NewGoGitClient creates a History backed by go-git
func NewGoGitClient() *GoGitClient {
	return &GoGitClient{}
}

// CurrentRevision returns the commit hash HEAD points to
func (c *GoGitClient) CurrentRevision(_ context.Context, dir string) (string, error) {
	repo, err := c.open(dir)
	if err != nil {
		return "", err
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// ListFiles returns all paths tracked in the index
func (c *GoGitClient) ListFiles(_ context.Context, dir string) ([]string, error) {
	repo, err := c.open(dir)
	if err != nil {
		return nil, err
	}

	idx, err := repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	files := make([]string, 0, len(idx.Entries))
	for _, entry := range idx.Entries {
		files = append(files, entry.Name)
	}
	return files, nil
}

// Diff lists the path-level changes between from and HEAD, with rename detection
func (c *GoGitClient) Diff(ctx context.Context, dir, from string) ([]Change, error) {
	repo, err := c.open(dir)
	if err != nil {
		return nil, err
	}

	fromTree, err := treeForRevision(repo, from)
	if err != nil {
		return nil, err
	}
	headTree, err := treeForRevision(repo, "HEAD")
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTreeWithOptions(ctx, fromTree, headTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to compute changes: %w", err)
	}

	result := make([]Change, 0, len(changes))
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return nil, fmt.Errorf("failed to classify change: %w", err)
		}

		switch action {
		case merkletrie.Insert:
			result = append(result, Change{Kind: Added, Path: ch.To.Name})
		case merkletrie.Delete:
			result = append(result, Change{Kind: Deleted, Path: ch.From.Name})
		case merkletrie.Modify:
			if ch.From.Name != ch.To.Name {
				result = append(result, Change{Kind: Renamed, Path: ch.To.Name, OldPath: ch.From.Name})
			} else {
				result = append(result, Change{Kind: Modified, Path: ch.To.Name})
			}
		}
	}
	return result, nil
}

func (c *GoGitClient) open(dir string) (*gogit.Repository, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNotRepository)
		}
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return repo, nil
}

// treeForRevision resolves a revision and returns its tree
func treeForRevision(repo *gogit.Repository, rev string) (*object.Tree, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve revision %q: %w", rev, err)
	}

	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit object for %q: %w", rev, err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree for %q: %w", rev, err)
	}
	return tree, nil
}
