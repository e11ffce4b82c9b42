package ghapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v84/github"
)

// Sentinel errors for the platform error taxonomy. None of these are retried
// automatically; state may have changed, so the caller decides.
var (
	// ErrNotFound indicates the repository or pull request does not exist.
	ErrNotFound = errors.New("repository or pull request not found")

	// ErrBranchNotFound indicates the target branch ref is gone, typically
	// because the PR was merged or its branch deleted.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrForbidden indicates the installation token lacks write permission.
	ErrForbidden = errors.New("insufficient permissions")

	// ErrNonFastForward indicates the branch tip moved between plan start and
	// ref update. The caller must rebuild the plan against the new tip.
	ErrNonFastForward = errors.New("branch tip moved, ref update rejected")
)

// PlatformError carries the upstream status and message for failures that do
// not map to a sentinel.
type PlatformError struct {
	StatusCode int
	Message    string
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform api error (status %d): %s", e.StatusCode, e.Message)
}

// statusCode extracts the HTTP status from a go-github error, or 0.
func statusCode(err error) int {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode
	}
	return 0
}

// wrapErr converts a go-github error into the taxonomy above.
func wrapErr(err error) error {
	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) || ghErr.Response == nil {
		return &PlatformError{Message: err.Error()}
	}

	switch ghErr.Response.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusForbidden:
		return ErrForbidden
	default:
		return &PlatformError{
			StatusCode: ghErr.Response.StatusCode,
			Message:    ghErr.Message,
		}
	}
}

// IsAuthFailure reports whether an error looks like an expired or revoked
// installation token, so the caller can invalidate its cached token. It sees
// both raw go-github errors and the wrapped taxonomy.
func IsAuthFailure(err error) bool {
	if statusCode(err) == http.StatusUnauthorized {
		return true
	}
	var pErr *PlatformError
	return errors.As(err, &pErr) && pErr.StatusCode == http.StatusUnauthorized
}
