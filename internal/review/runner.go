package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"patchwork-bot/internal/config"
	"patchwork-bot/internal/domain"
	"patchwork-bot/internal/ghapi"
	"patchwork-bot/internal/metrics"
	"patchwork-bot/internal/storage"

	"golang.org/x/sync/errgroup"
)

// PlatformClient is the slice of the hosting-platform API the runner needs.
// ghapi.Client satisfies it; tests substitute fakes.
type PlatformClient interface {
	FetchPullRequest(ctx context.Context, owner, repo string, number int) (*domain.PullRequestSnapshot, error)
	CreateFixCommit(ctx context.Context, owner, repo, branch string, files map[string]string, message string) (string, error)
	PostIssueComment(ctx context.Context, owner, repo string, number int, body string) error
}

// ClientFactory mints a platform client scoped to one installation. The token
// manager sits behind this seam.
type ClientFactory func(ctx context.Context, installationID int64) (PlatformClient, error)

// TokenInvalidator drops a cached installation credential after the platform
// rejects it, so the next task exchanges a fresh one. ghauth.TokenManager
// satisfies it.
type TokenInvalidator interface {
	Invalidate(installationID int64)
}

// Runner executes review and autofix tasks against a PR snapshot.
type Runner struct {
	factory  ClientFactory
	reviewer Reviewer
	repo     storage.Repository
	auth     TokenInvalidator
	cfg      config.ReviewConfig
}

func NewRunner(factory ClientFactory, reviewer Reviewer, repo storage.Repository, auth TokenInvalidator, cfg config.ReviewConfig) *Runner {
	return &Runner{factory: factory, reviewer: reviewer, repo: repo, auth: auth, cfg: cfg}
}

// Run executes one task end to end and records its outcome. It never panics
// outward and always returns a result, failed or otherwise.
func (r *Runner) Run(ctx context.Context, task domain.Task) *domain.TaskResult {
	start := time.Now()

	result, headSHA := r.run(ctx, task)

	elapsed := time.Since(start)
	metrics.TasksTotal.WithLabelValues(string(task.Action), result.Status).Inc()
	metrics.TaskDuration.WithLabelValues(string(task.Action), result.Status).Observe(elapsed.Seconds())

	slog.Info("task finished",
		"action", task.Action,
		"repo", task.RepoFullName,
		"pr", task.Number,
		"status", result.Status,
		"duration_ms", elapsed.Milliseconds())

	r.saveRecord(task, result, headSHA, elapsed)
	return result
}

func (r *Runner) run(ctx context.Context, task domain.Task) (*domain.TaskResult, string) {
	result := &domain.TaskResult{Action: task.Action}

	client, err := r.factory(ctx, task.InstallationID)
	if err != nil {
		result.Status = domain.TaskStatusFailed
		result.Message = fmt.Sprintf("platform client: %v", err)
		return result, ""
	}

	snap, err := client.FetchPullRequest(ctx, task.Owner, task.Repo, task.Number)
	if err != nil {
		r.noteAuthFailure(task.InstallationID, err)
		result.Status = domain.TaskStatusFailed
		result.Message = fmt.Sprintf("fetch pull request: %v", err)
		return result, ""
	}

	// The open check happens once, against the snapshot. A PR that closes
	// mid-task is caught later by the fast-forward-only ref update.
	if !snap.IsOpen() {
		result.Status = domain.TaskStatusPRClosed
		result.Message = fmt.Sprintf("pull request is %s", snap.State)
		return result, snap.HeadSHA
	}

	switch task.Action {
	case domain.ActionAutofix:
		return r.runAutofix(ctx, client, task, snap, result), snap.HeadSHA
	default:
		return r.runReview(ctx, client, task, snap, result), snap.HeadSHA
	}
}

// runReview reviews every reviewable file concurrently and posts one
// aggregated PR comment.
func (r *Runner) runReview(ctx context.Context, client PlatformClient, task domain.Task, snap *domain.PullRequestSnapshot, result *domain.TaskResult) *domain.TaskResult {
	files := reviewableFiles(snap)
	if len(files) == 0 {
		result.Status = domain.TaskStatusOK
		result.Message = "no reviewable files"
		return result
	}

	outcomes := r.reviewFiles(ctx, files)
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		result.FilesReviewed++
		result.IssuesFound += o.Counts.Total()
	}

	if result.FilesReviewed == 0 {
		result.Status = domain.TaskStatusFailed
		result.Message = "all file reviews failed"
		return result
	}

	body := FormatReviewComment(snap, compactOutcomes(outcomes))
	if err := client.PostIssueComment(ctx, task.Owner, task.Repo, task.Number, body); err != nil {
		r.noteAuthFailure(task.InstallationID, err)
		result.Status = domain.TaskStatusFailed
		result.Message = fmt.Sprintf("post comment: %v", err)
		return result
	}
	result.CommentPosted = true
	result.Status = domain.TaskStatusOK
	return result
}

// runAutofix reviews all files, rewrites the ones with critical or
// high-severity findings, and pushes a single commit to the head branch.
func (r *Runner) runAutofix(ctx context.Context, client PlatformClient, task domain.Task, snap *domain.PullRequestSnapshot, result *domain.TaskResult) *domain.TaskResult {
	// One autofix commit per head commit. Repeat requests for the same SHA
	// are dropped instead of stacking commits.
	dedupKey := fmt.Sprintf("autofix:%s#%d@%s", task.RepoFullName, task.Number, snap.HeadSHA)
	first, err := r.repo.MarkSeen(ctx, dedupKey)
	if err != nil {
		slog.Warn("autofix dedup check failed, proceeding", "key", dedupKey, "error", err)
	} else if !first {
		result.Status = domain.TaskStatusDuplicate
		result.Message = "autofix already attempted for this head commit"
		return result
	}

	files := reviewableFiles(snap)
	if len(files) == 0 {
		result.Status = domain.TaskStatusOK
		result.Message = "no reviewable files"
		return result
	}

	outcomes := r.reviewFiles(ctx, files)

	fixes := make(map[string]string)
	var fixedNames []string
	issuesResolved := 0

	for i, o := range outcomes {
		if o == nil {
			continue
		}
		result.FilesReviewed++
		result.IssuesFound += o.Counts.Total()
		if !o.Counts.NeedsFix() {
			continue
		}

		f := files[i]
		lang := domain.DetectLanguage(f.Filename, r.cfg.FallbackLanguage)
		rewritten, err := r.reviewer.Rewrite(ctx, f.Content, lang)
		if err != nil {
			slog.Warn("rewrite failed", "file", f.Filename, "error", err)
			metrics.FileReviewFailures.WithLabelValues("rewrite").Inc()
			continue
		}
		// A rewrite that only shuffles whitespace is a no-op, not a fix.
		if strings.TrimSpace(rewritten) == "" ||
			strings.TrimSpace(rewritten) == strings.TrimSpace(f.Content) {
			slog.Debug("rewrite produced no change", "file", f.Filename)
			continue
		}

		fixes[f.Filename] = rewritten
		fixedNames = append(fixedNames, f.Filename)
		issuesResolved += o.Counts.Critical + o.Counts.High
	}

	if len(fixes) == 0 {
		result.Status = domain.TaskStatusOK
		result.Message = "no fixes needed"
		return result
	}

	message := fmt.Sprintf("🤖 Auto-fix: Resolved %d issues", issuesResolved)
	sha, err := client.CreateFixCommit(ctx, task.Owner, task.Repo, snap.HeadBranch, fixes, message)
	if err != nil {
		r.noteAuthFailure(task.InstallationID, err)
		result.Status = domain.TaskStatusFailed
		switch {
		case errors.Is(err, ghapi.ErrNonFastForward):
			result.Message = "branch moved since snapshot, commit not pushed"
		case errors.Is(err, ghapi.ErrBranchNotFound):
			result.Message = "head branch no longer exists"
		case errors.Is(err, ghapi.ErrForbidden):
			result.Message = "push to head branch forbidden"
		default:
			result.Message = fmt.Sprintf("create commit: %v", err)
		}
		return result
	}

	result.FilesFixed = len(fixes)
	result.CommitSHA = sha

	body := FormatAutofixComment(fixedNames, issuesResolved, sha)
	if err := client.PostIssueComment(ctx, task.Owner, task.Repo, task.Number, body); err != nil {
		// The commit landed; a lost comment is logged, not fatal.
		r.noteAuthFailure(task.InstallationID, err)
		slog.Warn("autofix comment failed", "repo", task.RepoFullName, "pr", task.Number, "error", err)
	} else {
		result.CommentPosted = true
	}

	result.Status = domain.TaskStatusOK
	return result
}

// reviewFiles fans out per-file reviews with a bounded concurrency limit.
// The returned slice is parallel to files; a nil entry marks a failed review.
func (r *Runner) reviewFiles(ctx context.Context, files []domain.FileChange) []*Outcome {
	outcomes := make([]*Outcome, len(files))

	g, gctx := errgroup.WithContext(ctx)
	limit := r.cfg.MaxConcurrentFiles
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, f := range files {
		g.Go(func() error {
			lang := domain.DetectLanguage(f.Filename, r.cfg.FallbackLanguage)
			o, err := r.reviewer.Review(gctx, f.Content, lang, r.cfg.FocusAreas)
			if err != nil {
				slog.Warn("file review failed", "file", f.Filename, "error", err)
				metrics.FileReviewFailures.WithLabelValues("review").Inc()
				return nil
			}
			o.Filename = f.Filename
			outcomes[i] = o
			return nil
		})
	}
	g.Wait()

	return outcomes
}

// noteAuthFailure invalidates the installation's cached token when a platform
// call came back 401, so the next task exchanges a fresh credential instead of
// replaying the rejected one.
func (r *Runner) noteAuthFailure(installationID int64, err error) {
	if r.auth == nil || !ghapi.IsAuthFailure(err) {
		return
	}
	slog.Warn("installation token rejected, invalidating",
		"installation_id", installationID)
	r.auth.Invalidate(installationID)
}

// reviewableFiles keeps files with content to analyze: removed files and files
// whose content could not be fetched have nothing to review.
func reviewableFiles(snap *domain.PullRequestSnapshot) []domain.FileChange {
	var out []domain.FileChange
	for _, f := range snap.Files {
		if f.Status == domain.FileStatusRemoved || f.Content == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

func compactOutcomes(outcomes []*Outcome) []*Outcome {
	var out []*Outcome
	for _, o := range outcomes {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (r *Runner) saveRecord(task domain.Task, result *domain.TaskResult, headSHA string, elapsed time.Duration) {
	id := task.DeliveryID
	if id == "" {
		id = fmt.Sprintf("%d", time.Now().UnixNano())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record := &storage.TaskRecord{
		ID:           fmt.Sprintf("%s-%s", id, task.Action),
		RepoFullName: task.RepoFullName,
		Number:       task.Number,
		Action:       task.Action,
		HeadSHA:      headSHA,
		Result:       result,
		CreatedAt:    time.Now().UTC(),
		DurationMs:   elapsed.Milliseconds(),
		Status:       result.Status,
	}
	if err := r.repo.SaveTask(ctx, record); err != nil {
		slog.Warn("save task record failed", "id", record.ID, "error", err)
	}
}
