package ghapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"patchwork-bot/internal/metrics"

	"github.com/google/go-github/v84/github"
)

// CreateFixCommit builds a multi-file commit from content blobs and advances
// the branch ref, fast-forward only. Steps are strictly ordered:
//
//  1. resolve the branch tip commit SHA via its ref
//  2. create a content blob per file
//  3. create a tree layering the blobs over the tip commit's tree
//     (a sparse overlay; unlisted files are untouched)
//  4. create a commit whose sole parent is the tip
//  5. update the branch ref to the new commit
//
// Steps 2-4 create immutable objects that are harmless if abandoned; only
// step 5 changes the branch. A non-fast-forward failure at step 5 surfaces as
// ErrNonFastForward and is never retried here: the plan must be rebuilt
// against the new tip.
func (c *Client) CreateFixCommit(ctx context.Context, owner, repo, branch string, files map[string]string, message string) (string, error) {
	if len(files) == 0 {
		return "", errors.New("no files to commit")
	}

	ref, _, err := c.gh.Git.GetRef(ctx, owner, repo, "heads/"+branch)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return "", ErrBranchNotFound
		}
		return "", wrapErr(err)
	}
	tipSHA := ref.GetObject().GetSHA()

	tipCommit, _, err := c.gh.Git.GetCommit(ctx, owner, repo, tipSHA)
	if err != nil {
		return "", wrapErr(err)
	}
	baseTree := tipCommit.GetTree().GetSHA()

	// Deterministic blob creation order keeps retries and logs stable.
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]*github.TreeEntry, 0, len(files))
	for _, name := range names {
		blob, _, err := c.gh.Git.CreateBlob(ctx, owner, repo, github.Blob{
			Content:  github.Ptr(files[name]),
			Encoding: github.Ptr("utf-8"),
		})
		if err != nil {
			return "", fmt.Errorf("create blob for %s: %w", name, wrapErr(err))
		}
		entries = append(entries, &github.TreeEntry{
			Path: github.Ptr(name),
			Mode: github.Ptr("100644"),
			Type: github.Ptr("blob"),
			SHA:  blob.SHA,
		})
	}

	tree, _, err := c.gh.Git.CreateTree(ctx, owner, repo, baseTree, entries)
	if err != nil {
		return "", fmt.Errorf("create tree: %w", wrapErr(err))
	}

	commit, _, err := c.gh.Git.CreateCommit(ctx, owner, repo, github.Commit{
		Message: github.Ptr(message),
		Tree:    tree,
		Parents: []*github.Commit{{SHA: github.Ptr(tipSHA)}},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("create commit: %w", wrapErr(err))
	}

	_, _, err = c.gh.Git.UpdateRef(ctx, owner, repo, "heads/"+branch, github.UpdateRef{
		SHA:   commit.GetSHA(),
		Force: github.Ptr(false),
	})
	if err != nil {
		switch statusCode(err) {
		case http.StatusUnprocessableEntity, http.StatusConflict:
			// Branch moved between step 1 and step 5. The created objects
			// stay unreferenced server-side; nothing to roll back.
			metrics.CommitPushes.WithLabelValues("conflict").Inc()
			return "", ErrNonFastForward
		case http.StatusForbidden:
			metrics.CommitPushes.WithLabelValues("forbidden").Inc()
			return "", ErrForbidden
		default:
			metrics.CommitPushes.WithLabelValues("error").Inc()
			return "", fmt.Errorf("update ref: %w", wrapErr(err))
		}
	}

	metrics.CommitPushes.WithLabelValues("success").Inc()
	slog.Info("fix commit pushed",
		"repo", owner+"/"+repo,
		"branch", branch,
		"files", len(files),
		"commit", commit.GetSHA())
	return commit.GetSHA(), nil
}
