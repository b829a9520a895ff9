// Package checkout materializes a git repository into a run's workspace for
// checkout steps.
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

var shaRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// Checkout clones url into dest at ref and returns the resolved commit sha.
// ref may be empty (default branch), a branch name, or a full 40-hex commit
// sha; sha checkouts clone the default branch first, then detach.
func Checkout(ctx context.Context, dest, url, ref string) (string, error) {
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("clear checkout target: %w", err)
	}

	opts := &git.CloneOptions{URL: url}
	isSHA := shaRe.MatchString(ref)
	if ref != "" && !isSHA {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
		opts.SingleBranch = true
	}

	repo, err := git.PlainCloneContext(ctx, dest, false, opts)
	if err != nil {
		return "", fmt.Errorf("clone %s: %w", url, err)
	}

	if isSHA {
		wt, err := repo.Worktree()
		if err != nil {
			return "", fmt.Errorf("open worktree: %w", err)
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(ref)}); err != nil {
			return "", fmt.Errorf("checkout %s: %w", ref, err)
		}
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	commit := head.Hash().String()
	slog.Debug("checked out repository", "url", url, "ref", ref, "commit", commit[:8], "dest", dest)
	return commit, nil
}
