package review

import (
	"context"
	"fmt"
)

// SeverityCounts buckets the issues a reviewer found in one file.
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Total returns the sum across all buckets.
func (c SeverityCounts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low
}

// NeedsFix reports whether the autofix policy applies: only critical or
// high-severity findings warrant a rewrite.
func (c SeverityCounts) NeedsFix() bool {
	return c.Critical+c.High > 0
}

// Outcome is the immutable per-file result of a review pass.
type Outcome struct {
	Filename string         `json:"filename"`
	Counts   SeverityCounts `json:"counts"`
	Summary  string         `json:"summary"`
	RawText  string         `json:"raw_text"`
}

// Reviewer is the external review/rewrite collaborator. The engine treats the
// narrative text and rewritten content as opaque strings.
type Reviewer interface {
	// Review analyzes one file's content and returns severity-bucketed counts
	// plus the narrative review text.
	Review(ctx context.Context, content, language string, focusAreas []string) (*Outcome, error)

	// Rewrite produces a fixed version of the content. The result is accepted
	// only if it meaningfully differs from the input.
	Rewrite(ctx context.Context, content, language string) (string, error)
}

// RetryableError marks a transient collaborator failure (rate limit, upstream
// 5xx, timeout) that may be retried.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}
