package ghapi

import (
	"context"

	"patchwork-bot/internal/metrics"

	"github.com/google/go-github/v84/github"
)

// PostIssueComment posts a PR-level comment. Pull requests share the issue
// comment API, which needs no branch access.
func (c *Client) PostIssueComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
		Body: github.Ptr(body),
	})
	if err != nil {
		metrics.CommentPostFailures.WithLabelValues("api_error").Inc()
		return wrapErr(err)
	}
	return nil
}
