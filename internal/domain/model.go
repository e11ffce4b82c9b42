package domain

// File change statuses as reported by the hosting platform's diff listing.
const (
	FileStatusAdded    = "added"
	FileStatusModified = "modified"
	FileStatusRemoved  = "removed"
)

// FileChange is a single changed file within a pull request snapshot.
// Content is empty when the file was removed or its content could not be fetched.
type FileChange struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Content   string `json:"content"`
	Patch     string `json:"patch"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// PullRequestSnapshot is a point-in-time view of a pull request tied to HeadSHA.
// It is immutable once fetched; current state requires a fresh snapshot.
type PullRequestSnapshot struct {
	RepoFullName string       `json:"repo_full_name"`
	Owner        string       `json:"owner"`
	Repo         string       `json:"repo"`
	Number       int          `json:"number"`
	Title        string       `json:"title"`
	Body         string       `json:"body"`
	Author       string       `json:"author"`
	BaseBranch   string       `json:"base_branch"`
	HeadBranch   string       `json:"head_branch"`
	HeadSHA      string       `json:"head_sha"`
	State        string       `json:"state"`
	Files        []FileChange `json:"files"`
}

// IsOpen reports whether the PR was open at snapshot time.
func (s *PullRequestSnapshot) IsOpen() bool {
	return s.State == "open"
}

// TaskAction identifies the kind of work dispatched for a PR event.
type TaskAction string

const (
	ActionReview  TaskAction = "review"
	ActionAutofix TaskAction = "autofix"
)

// Task is a unit of background work routed from a verified webhook delivery.
type Task struct {
	Action         TaskAction
	Owner          string
	Repo           string
	RepoFullName   string
	Number         int
	InstallationID int64
	Trigger        string // webhook action that produced this task (opened, synchronize, comment, ...)
	DeliveryID     string
}

// Task result statuses.
const (
	TaskStatusOK        = "ok"
	TaskStatusPRClosed  = "pr_closed"
	TaskStatusDuplicate = "duplicate"
	TaskStatusFailed    = "failed"
)

// TaskResult is the structured outcome of a review or autofix task.
type TaskResult struct {
	Action        TaskAction `json:"action"`
	Status        string     `json:"status"`
	FilesReviewed int        `json:"files_reviewed"`
	FilesFixed    int        `json:"files_fixed"`
	IssuesFound   int        `json:"issues_found"`
	CommitSHA     string     `json:"commit_sha,omitempty"`
	CommentPosted bool       `json:"comment_posted"`
	Message       string     `json:"message,omitempty"`
}
