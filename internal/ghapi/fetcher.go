package ghapi

import (
	"context"
	"log/slog"
	"strings"

	"patchwork-bot/internal/domain"
	"patchwork-bot/internal/metrics"

	"github.com/google/go-github/v84/github"
)

// FetchPullRequest retrieves a point-in-time snapshot of a PR: metadata, the
// changed-file listing, and the full content of every non-removed file at the
// head commit. Full content gives the reviewer whole-file context instead of
// just the changed hunk.
//
// Per-file content failures are non-fatal: the file is kept with empty content
// and a logged warning, so one unreadable file never aborts the snapshot.
func (c *Client) FetchPullRequest(ctx context.Context, owner, repo string, number int) (*domain.PullRequestSnapshot, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, wrapErr(err)
	}

	snap := &domain.PullRequestSnapshot{
		RepoFullName: owner + "/" + repo,
		Owner:        owner,
		Repo:         repo,
		Number:       number,
		Title:        pr.GetTitle(),
		Body:         pr.GetBody(),
		Author:       pr.GetUser().GetLogin(),
		BaseBranch:   pr.GetBase().GetRef(),
		HeadBranch:   pr.GetHead().GetRef(),
		HeadSHA:      pr.GetHead().GetSHA(),
		State:        pr.GetState(),
	}

	changed, err := c.listFiles(ctx, owner, repo, number)
	if err != nil {
		return nil, wrapErr(err)
	}

	for _, f := range changed {
		fc := domain.FileChange{
			Filename:  f.GetFilename(),
			Status:    f.GetStatus(),
			Patch:     f.GetPatch(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
		}

		if fc.Status != domain.FileStatusRemoved {
			content, err := c.fileContent(ctx, owner, repo, fc.Filename, snap.HeadSHA)
			if err != nil {
				slog.Warn("fetch file content failed",
					"file", fc.Filename,
					"ref", snap.HeadSHA,
					"error", err)
				metrics.FileReviewFailures.WithLabelValues("content").Inc()
			}
			fc.Content = content
		}

		snap.Files = append(snap.Files, fc)
	}

	return snap, nil
}

// listFiles pages through the PR's changed-file listing.
func (c *Client) listFiles(ctx context.Context, owner, repo string, number int) ([]*github.CommitFile, error) {
	var all []*github.CommitFile
	opts := &github.ListOptions{PerPage: 100}
	for {
		files, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, files...)
		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// fileContent fetches one file's full content addressed at a commit SHA.
func (c *Client) fileContent(ctx context.Context, owner, repo, path, ref string) (string, error) {
	fc, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, path,
		&github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return "", err
	}
	if fc == nil {
		// Path resolved to a directory; nothing reviewable.
		return "", nil
	}
	content, err := fc.GetContent()
	if err != nil {
		return "", err
	}
	return content, nil
}

// SplitFullName splits "owner/repo" into its parts.
func SplitFullName(fullName string) (owner, repo string, ok bool) {
	owner, repo, ok = strings.Cut(fullName, "/")
	return owner, repo, ok && owner != "" && repo != ""
}
